package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-antar/internal/lock"
)

func newLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}, mr
}

func TestWithLockSerialises(t *testing.T) {
	locker, _ := newLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})
	key := lock.Key("coupon", "42")

	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = locker.WithLock(ctx, key, time.Second, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
	}()
	<-firstDone
	go func() {
		defer wg.Done()
		_ = locker.WithLock(ctx, key, time.Second, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
	}()
	close(releaseFirst)
	wg.Wait()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestWithLockTimeout(t *testing.T) {
	locker, mr := newLocker(t)
	locker.MaxWait = 20 * time.Millisecond
	key := lock.Key("coupon", "7")
	require.NoError(t, mr.Set(key, "someone-else"))

	err := locker.WithLock(context.Background(), key, time.Second, func(context.Context) error {
		t.Fatal("must not run without the lock")
		return nil
	})
	require.True(t, errors.Is(err, lock.ErrTimeout))
	got, _ := mr.Get(key)
	require.Equal(t, "someone-else", got, "foreign lock must be left untouched")
}

func TestWithLockReleasesOnError(t *testing.T) {
	locker, mr := newLocker(t)
	key := lock.Key("promotion", "1")
	boom := errors.New("boom")
	err := locker.WithLock(context.Background(), key, time.Second, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists(key))
}

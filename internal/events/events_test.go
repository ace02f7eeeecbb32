package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-antar/internal/common"
	"github.com/noah-isme/backend-antar/internal/events"
)

type memStore struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *memStore) Insert(_ context.Context, ev events.Event) (events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return ev, nil
}

func (s *memStore) ListByAggregate(_ context.Context, aggregateID string, limit int) ([]events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, ev := range s.events {
		if ev.AggregateID == aggregateID && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

type captureNotifier struct {
	events []events.Event
	err    error
}

func (*captureNotifier) Name() string { return "capture" }

func (c *captureNotifier) Notify(_ context.Context, ev events.Event) error {
	c.events = append(c.events, ev)
	return c.err
}

func TestEmitPersistsAndNotifies(t *testing.T) {
	store := &memStore{}
	notifier := &captureNotifier{}
	bus := &events.Bus{Store: store, Notifiers: []events.Notifier{notifier, nil}}

	ev, err := bus.Emit(context.Background(), events.TopicOrderCreated, "order-1", map[string]any{"total": "12.00"})
	require.NoError(t, err)
	require.Equal(t, "order-1", ev.AggregateID)
	require.JSONEq(t, `{"total":"12.00"}`, string(ev.Payload))
	require.Len(t, store.events, 1)
	require.Len(t, notifier.events, 1)
	require.Equal(t, ev.ID, notifier.events[0].ID)
}

func TestEmitValidation(t *testing.T) {
	bus := &events.Bus{Store: &memStore{}}
	_, err := bus.Emit(context.Background(), " ", "order-1", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicOrderCreated, "", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicOrderCreated, "order-1", "{not json")
	require.Error(t, err)

	ev, err := bus.Emit(context.Background(), events.TopicOrderCreated, "order-1", nil)
	require.NoError(t, err)
	require.Equal(t, "{}", string(ev.Payload))
}

func TestEmitReturnsEventWhenNotifierFails(t *testing.T) {
	bus := &events.Bus{Store: &memStore{}, Notifiers: []events.Notifier{&captureNotifier{err: errors.New("down")}}}
	ev, err := bus.Emit(context.Background(), events.TopicOrderStatusChanged, "order-1", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "capture")
	require.NotEmpty(t, ev.ID)
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaNotifierKeysByAggregate(t *testing.T) {
	w := &fakeWriter{}
	bus := &events.Bus{Store: &memStore{}, Notifiers: []events.Notifier{events.KafkaNotifier{Writer: w}}}
	ev, err := bus.Emit(context.Background(), events.TopicOrderCreated, "order-9", map[string]string{"status": "pending"})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	require.Equal(t, "order-9", string(w.msgs[0].Key))
	require.Equal(t, "topic", w.msgs[0].Headers[0].Key)
	require.Equal(t, events.TopicOrderCreated, string(w.msgs[0].Headers[0].Value))

	var decoded events.Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	require.Equal(t, ev.ID, decoded.ID)
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisStreamDeliversLiveEvents(t *testing.T) {
	rdb := newRedis(t)
	stream := events.Stream{R: rdb, Logger: zerolog.Nop()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, closeFn, err := stream.Subscribe(ctx, "order-1")
	require.NoError(t, err)
	defer closeFn()

	bus := &events.Bus{Store: &memStore{}, Notifiers: []events.Notifier{events.RedisNotifier{R: rdb}}}
	_, err = bus.Emit(ctx, events.TopicOrderStatusChanged, "order-2", nil)
	require.NoError(t, err)
	sent, err := bus.Emit(ctx, events.TopicOrderStatusChanged, "order-1", map[string]string{"to": "confirmed"})
	require.NoError(t, err)

	select {
	case got := <-ch:
		require.Equal(t, sent.ID, got.ID)
		require.Equal(t, "order-1", got.AggregateID)
	case <-ctx.Done():
		t.Fatal("event not delivered")
	}

	closeFn()
	select {
	case _, open := <-ch:
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}
}

func TestWSHandlerReplaysAndStreams(t *testing.T) {
	rdb := newRedis(t)
	store := &memStore{}
	bus := &events.Bus{Store: store, Notifiers: []events.Notifier{events.RedisNotifier{R: rdb}}}
	past, err := bus.Emit(context.Background(), events.TopicOrderCreated, "order-1", nil)
	require.NoError(t, err)

	h := events.WSHandler{
		Stream:  events.Stream{R: rdb, Logger: zerolog.Nop()},
		History: store,
		Authorize: func(_ context.Context, id string) error {
			if id == "forbidden" {
				return common.Forbidden("not yours")
			}
			return nil
		},
		Logger: zerolog.Nop(),
	}
	r := chi.NewRouter()
	r.Get("/orders/{id}/events", h.ServeHTTP)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/orders/forbidden/events")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/orders/order-1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first events.Event
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, past.ID, first.ID)

	live, err := bus.Emit(context.Background(), events.TopicOrderStatusChanged, "order-1", map[string]string{"to": "confirmed"})
	require.NoError(t, err)
	var second events.Event
	require.NoError(t, conn.ReadJSON(&second))
	require.Equal(t, live.ID, second.ID)
	require.Equal(t, events.TopicOrderStatusChanged, second.Topic)
}

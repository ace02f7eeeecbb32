package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-antar/internal/db"
)

// Event is a persisted domain event.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// Store defines the persistence operations required by the event bus.
type Store interface {
	Insert(ctx context.Context, ev Event) (Event, error)
	ListByAggregate(ctx context.Context, aggregateID string, limit int) ([]Event, error)
}

// NewStore returns a Store writing to the domain_events table through q.
func NewStore(q db.Querier) Store {
	return &pgStore{q: q}
}

type pgStore struct {
	q db.Querier
}

func (s *pgStore) Insert(ctx context.Context, ev Event) (Event, error) {
	err := s.q.QueryRow(ctx, `INSERT INTO domain_events (id, topic, aggregate_id, payload)
VALUES ($1, $2, $3, $4)
RETURNING occurred_at`, ev.ID, ev.Topic, ev.AggregateID, []byte(ev.Payload)).Scan(&ev.OccurredAt)
	return ev, err
}

func (s *pgStore) ListByAggregate(ctx context.Context, aggregateID string, limit int) ([]Event, error) {
	rows, err := s.q.Query(ctx, `SELECT id, topic, aggregate_id, payload, occurred_at
FROM domain_events WHERE aggregate_id = $1
ORDER BY occurred_at, id LIMIT $2`, aggregateID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			ev      Event
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &payload, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}

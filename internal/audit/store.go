package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one recorded administrative action.
type Entry struct {
	ID           int64           `json:"id"`
	ActorKind    ActorKind       `json:"actorKind"`
	ActorUserID  *string         `json:"actorUserId,omitempty"`
	ActorRole    *string         `json:"actorRole,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resourceType"`
	ResourceID   *string         `json:"resourceId,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Route        *string         `json:"route,omitempty"`
	Status       int             `json:"status"`
	IP           *string         `json:"ip,omitempty"`
	UserAgent    *string         `json:"userAgent,omitempty"`
	RequestID    *string         `json:"requestId,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// ListFilter narrows audit log listings.
type ListFilter struct {
	ResourceType string
	ResourceID   string
	Limit        int
	Offset       int
}

// Store defines the database operations required for auditing.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	List(ctx context.Context, f ListFilter) ([]Entry, error)
}

func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (s *pgStore) Insert(ctx context.Context, e Entry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		metadata = e.Metadata
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO audit_logs (actor_kind, actor_user_id, actor_role, action, resource_type,
resource_id, method, path, route, status, ip, user_agent, request_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		string(e.ActorKind), e.ActorUserID, e.ActorRole, e.Action, e.ResourceType, e.ResourceID, e.Method, e.Path,
		e.Route, e.Status, e.IP, e.UserAgent, e.RequestID, metadata)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *pgStore) List(ctx context.Context, f ListFilter) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, actor_kind, actor_user_id, actor_role, action, resource_type, resource_id,
method, path, route, status, ip, user_agent, request_id, metadata, created_at
FROM audit_logs
WHERE ($1 = '' OR resource_type = $1) AND ($2 = '' OR resource_id = $2)
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4`, f.ResourceType, f.ResourceID, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			kind string
			meta []byte
		)
		if err := rows.Scan(&e.ID, &kind, &e.ActorUserID, &e.ActorRole, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.Method, &e.Path, &e.Route, &e.Status, &e.IP, &e.UserAgent, &e.RequestID, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		e.ActorKind = ActorKind(kind)
		if len(meta) > 0 {
			e.Metadata = meta
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

package events

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-antar/internal/common"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Subscriber is satisfied by Stream.
type Subscriber interface {
	Subscribe(ctx context.Context, aggregateID string) (<-chan Event, func(), error)
}

// WSHandler streams an aggregate's events over a WebSocket. Past events are
// replayed first, then live ones are pushed until either side hangs up.
type WSHandler struct {
	Stream  Subscriber
	History Store
	// Authorize decides whether the caller may watch aggregateID.
	Authorize func(ctx context.Context, aggregateID string) error
	Param     string
	Upgrader  websocket.Upgrader
	Logger    zerolog.Logger
}

func (h WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	param := h.Param
	if param == "" {
		param = "id"
	}
	aggregateID := chi.URLParam(r, param)
	if h.Authorize != nil {
		if err := h.Authorize(r.Context(), aggregateID); err != nil {
			common.WriteError(w, err)
			return
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	live, closeLive, err := h.Stream.Subscribe(ctx, aggregateID)
	if err != nil {
		common.WriteError(w, common.Unavailable("STREAM_UNAVAILABLE", "event stream unavailable", err))
		return
	}
	defer closeLive()

	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	if h.History != nil {
		past, err := h.History.ListByAggregate(ctx, aggregateID, 100)
		if err != nil {
			h.Logger.Warn().Err(err).Str("aggregate_id", aggregateID).Msg("load event history")
		}
		for _, ev := range past {
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		}
	}

	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-live:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

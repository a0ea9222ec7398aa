package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/logger"
)

const (
	realtimeBuffer       = 64
	realtimeWriteTimeout = 5 * time.Second
)

// Realtime streams change events for one table over a websocket. A client
// that falls behind by more than the buffer is disconnected.
func (h *Handler) Realtime(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if err := backend.CheckTable(table); err != nil {
		writeError(w, err)
		return
	}

	opts := &websocket.AcceptOptions{}
	if len(h.cfg.CorsOrigins) == 0 {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = h.cfg.CorsOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	events := make(chan backend.Change, realtimeBuffer)
	overflow := make(chan struct{})
	var overflowed bool

	unsubscribe := h.distributor.Subscribe(table, func(c backend.Change) {
		if overflowed {
			return
		}
		select {
		case events <- c:
		default:
			overflowed = true
			close(overflow)
		}
	})
	defer unsubscribe()

	// The client never sends; CloseRead notices when it goes away.
	ctx := conn.CloseRead(r.Context())
	logger.Log.Debug("Realtime client subscribed", zap.String("table", table))

	for {
		select {
		case <-ctx.Done():
			return
		case <-overflow:
			conn.Close(websocket.StatusPolicyViolation, "client too slow")
			return
		case c := <-events:
			wctx, cancel := context.WithTimeout(ctx, realtimeWriteTimeout)
			err := wsjson.Write(wctx, conn, c)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

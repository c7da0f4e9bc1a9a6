package http

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/couchcryptid/seismic-feed-service/internal/domain"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
	liveBuffer     = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// liveSnapshot is pushed on connect and whenever a store change alters the result set.
type liveSnapshot struct {
	Type   string               `json:"type"`
	Reason string               `json:"reason"`
	Count  int                  `json:"count"`
	Quakes []domain.StoredQuake `json:"quakes"`
}

// handleLive serves a websocket that keeps the client's query result current.
// It takes the same query parameters as GET /api/quakes.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if _, _, err := s.listQuery(query); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	changes := s.deps.Store.Changes(liveBuffer)
	defer changes.Close()

	gone := make(chan struct{})
	go readUntilClosed(conn, gone)

	ctx := r.Context()
	ping := time.NewTicker(livePingPeriod)
	defer ping.Stop()

	var current []int64
	push := func(reason string) bool {
		quakes, err := s.liveQuery(ctx, query)
		if err != nil {
			s.logger.Error("live query failed", "error", err)
			return false
		}
		ids := lo.Map(quakes, func(q domain.StoredQuake, _ int) int64 { return q.ID })
		if current != nil && slices.Equal(ids, current) {
			return true
		}
		current = ids

		_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
		return conn.WriteJSON(liveSnapshot{Type: "snapshot", Reason: reason, Count: len(quakes), Quakes: quakes}) == nil
	}

	if !push("initial") {
		return
	}
	s.logger.Debug("live subscriber connected", "query", query.Encode())

	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case change, ok := <-changes.C:
			if !ok || !push(string(change.Kind)) {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) liveQuery(ctx context.Context, query url.Values) ([]domain.StoredQuake, error) {
	f, order, err := s.listQuery(query)
	if err != nil {
		return nil, err
	}
	return s.deps.Store.Query(ctx, f, order)
}

// readUntilClosed drains client frames so pongs and close frames are processed.
func readUntilClosed(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

// Package admin serves a small read-only HTTP API over the relay's state.
package admin

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/xiangqi-relay/internal/archive"
	"github.com/park285/xiangqi-relay/internal/match"
	"github.com/park285/xiangqi-relay/internal/obslog"
	"github.com/park285/xiangqi-relay/internal/outbox"
	"github.com/park285/xiangqi-relay/internal/protocol"
)

// Stats is the /stats body.
type Stats struct {
	Sessions          int          `json:"sessions"`
	Sockets           int          `json:"sockets"`
	PendingReconnects int          `json:"pendingReconnects"`
	PendingAcks       int          `json:"pendingAcks"`
	Rooms             match.Stats  `json:"rooms"`
	Outbox            outbox.Stats `json:"outbox"`
	UptimeSeconds     int64        `json:"uptimeSeconds"`
}

// Backend is what the API reads from.
type Backend interface {
	Stats() Stats
	OpenRooms() []protocol.RoomView
	SearchRooms(query string) []protocol.RoomView
	RecentResults(ctx context.Context, limit int) ([]archive.Result, error)
}

type Server struct {
	addr    string
	backend Backend
	srv     *fasthttp.Server
}

func NewServer(addr string, b Backend) *Server {
	s := &Server{addr: addr, backend: b}
	s.srv = &fasthttp.Server{
		Handler:      s.Handle,
		Name:         "xiangqi-relay-admin",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until Shutdown.
func (s *Server) ListenAndServe() error {
	obslog.L().Info("admin_listen", zap.String("addr", s.addr))
	return s.srv.ListenAndServe(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.ShutdownWithContext(ctx) }

// Handle routes one request.
func (s *Server) Handle(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() {
		writeError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
		return
	}
	switch path := strings.TrimRight(string(ctx.Path()), "/"); path {
	case "/healthz":
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
	case "/stats":
		writeJSON(ctx, fasthttp.StatusOK, s.backend.Stats())
	case "/rooms":
		writeJSON(ctx, fasthttp.StatusOK, protocol.RoomList{Rooms: nonNil(s.backend.OpenRooms())})
	case "/rooms/search":
		q := strings.TrimSpace(string(ctx.QueryArgs().Peek("q")))
		if q == "" {
			writeError(ctx, fasthttp.StatusBadRequest, "query parameter q is required")
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, protocol.RoomList{Rooms: nonNil(s.backend.SearchRooms(q))})
	case "/results":
		limit := 0
		if raw := string(ctx.QueryArgs().Peek("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(ctx, fasthttp.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			limit = n
		}
		results, err := s.backend.RecentResults(ctx, limit)
		if err != nil {
			obslog.L().Error("admin_results_error", zap.Error(err))
			writeError(ctx, fasthttp.StatusServiceUnavailable, "results unavailable")
			return
		}
		if results == nil {
			results = []archive.Result{}
		}
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{"results": results})
	default:
		writeError(ctx, fasthttp.StatusNotFound, "not found")
	}
}

func nonNil(v []protocol.RoomView) []protocol.RoomView {
	if v == nil {
		return []protocol.RoomView{}
	}
	return v
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		obslog.L().Error("admin_encode_error", zap.Error(err))
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(b)
}

func writeError(ctx *fasthttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

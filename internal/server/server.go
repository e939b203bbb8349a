// Package server wires the session, room and transport components into the
// websocket relay.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-relay/internal/admin"
	"github.com/park285/xiangqi-relay/internal/archive"
	"github.com/park285/xiangqi-relay/internal/config"
	"github.com/park285/xiangqi-relay/internal/dispatch"
	"github.com/park285/xiangqi-relay/internal/heartbeat"
	"github.com/park285/xiangqi-relay/internal/match"
	"github.com/park285/xiangqi-relay/internal/msgcat"
	"github.com/park285/xiangqi-relay/internal/obslog"
	"github.com/park285/xiangqi-relay/internal/outbox"
	"github.com/park285/xiangqi-relay/internal/protocol"
	"github.com/park285/xiangqi-relay/internal/reconnect"
	"github.com/park285/xiangqi-relay/internal/session"
	"github.com/park285/xiangqi-relay/internal/transport"
)

type Server struct {
	cfg *config.AppConfig
	cat *msgcat.Catalog
	now func() time.Time

	sessions *session.Registry
	rooms    *match.Registry
	queue    *outbox.Queue
	broker   *reconnect.Broker
	hub      *transport.Hub
	beat     *heartbeat.Supervisor
	disp     *dispatch.Dispatcher
	oracle   match.Oracle
	archive  archive.Recorder

	started time.Time
	httpSrv *http.Server

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type Option func(*Server)

// WithOracle replaces the move validator.
func WithOracle(o match.Oracle) Option { return func(s *Server) { s.oracle = o } }

func WithArchive(r archive.Recorder) Option { return func(s *Server) { s.archive = r } }

func WithCatalog(c *msgcat.Catalog) Option { return func(s *Server) { s.cat = c } }

// WithClock drives every component's clock; used by tests.
func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

func New(cfg *config.AppConfig, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		now:     time.Now,
		oracle:  match.RulesOracle{},
		archive: archive.Nop{},
		disp:    dispatch.New(),
		stopCh:  make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.cat == nil {
		s.cat = msgcat.MustDefault()
	}
	s.started = s.now()

	s.sessions = session.NewRegistry(session.WithClock(s.now))
	s.rooms = match.NewRegistry(match.WithClock(s.now))
	s.queue = outbox.New(cfg.QueueMaxRetries, cfg.QueueTTL, outbox.WithClock(s.now))
	s.broker = reconnect.NewBroker(cfg.ReconnectGrace, reconnect.WithClock(s.now))
	s.hub = transport.NewHub(s.rooms, s.queue,
		transport.WithWriteTimeout(cfg.WriteTimeout),
		transport.WithOrigins(cfg.AllowedOrigins),
		transport.OnMessage(s.onMessage),
		transport.OnDetach(s.dropSession),
	)
	s.beat = heartbeat.New(s.sessions, s.hub, cfg.HeartbeatInterval, cfg.HeartbeatTimeout,
		heartbeat.WithClock(s.now),
		heartbeat.OnTimeout(func(sess session.Session) { s.dropSession(sess.ID) }),
	)
	s.registerHandlers()
	return s
}

// Handler serves the websocket endpoint at cfg.WSPath.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.WSPath, s.hub)
	return mux
}

// Start launches the heartbeat supervisor and the maintenance loop.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.beat.Start()
	s.wg.Add(1)
	go s.maintenanceLoop()
	obslog.L().Info("server_start",
		zap.Duration("heartbeat_interval", s.cfg.HeartbeatInterval),
		zap.Duration("heartbeat_timeout", s.cfg.HeartbeatTimeout),
		zap.Duration("reconnect_grace", s.cfg.ReconnectGrace),
	)
}

// ListenAndServe starts background work and serves HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.Start()
	s.mu.Lock()
	s.httpSrv = &http.Server{Addr: s.cfg.ListenAddr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	srv := s.httpSrv
	s.mu.Unlock()
	obslog.L().Info("ws_listen", zap.String("addr", s.cfg.ListenAddr), zap.String("path", s.cfg.WSPath))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops tickers, closes sockets and the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.beat.Stop()
	s.wg.Wait()

	s.mu.Lock()
	srv := s.httpSrv
	s.running = false
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.hub.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	obslog.L().Info("server_stop")
	return errors.Join(errs...)
}

// onMessage is the hub's per-frame callback. Failures go back to the sender
// as an error frame.
func (s *Server) onMessage(ctx context.Context, p *transport.Peer, raw []byte) {
	typ, err := s.disp.RouteRaw(ctx, raw, p)
	if err == nil {
		return
	}
	pe := protocol.AsError(err)
	if pe.Code == protocol.InternalServerError {
		obslog.L().Error("handler_internal_error", zap.String("type", typ), zap.String("session_id", p.SessionID()), zap.Error(err))
	}
	if sendErr := p.Send(ctx, pe.Frame(s.cat)); sendErr != nil {
		obslog.L().Warn("error_frame_send_failed", zap.String("peer_id", p.ID()), zap.Error(sendErr))
	}
}

// dropSession runs when a session's socket goes away or times out. The
// session keeps its seat for the grace window.
func (s *Server) dropSession(sessionID string) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}
	s.sessions.SetStatus(sessionID, session.StatusDisconnected)
	s.beat.Forget(sessionID)
	roomID, _ := s.rooms.RoomOf(sessionID)
	s.broker.Remember(sessionID, sess.DisplayName, roomID)
	obslog.L().Info("session_drop", zap.String("session_id", sessionID), zap.String("room_id", roomID))

	if roomID == "" {
		return
	}
	if room, changed := s.rooms.SetSeatConnected(roomID, sessionID, false); changed {
		s.hub.Multicast(roomID, protocol.MustNew(protocol.TypeRoomUpdated, roomPayload(room)))
	}
}

func (s *Server) maintenanceLoop() {
	defer s.wg.Done()
	every := s.cfg.SweepInterval
	if every <= 0 {
		every = 30 * time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			s.Sweep()
		}
	}
}

// Sweep expires pending reconnections and stale queued messages. Expired
// sessions give up their seat and are forgotten.
func (s *Server) Sweep() {
	for _, p := range s.broker.SweepExpired() {
		if s.hub.Connected(p.SessionID) {
			continue
		}
		if roomID, ok := s.rooms.RoomOf(p.SessionID); ok {
			s.vacate(context.Background(), roomID, p.SessionID)
		}
		s.sessions.Remove(p.SessionID)
		s.queue.Clear(p.SessionID)
		s.beat.Forget(p.SessionID)
		obslog.L().Info("session_expire", zap.String("session_id", p.SessionID), zap.String("display_name", p.DisplayName))
	}
	s.queue.CleanupExpired()
}

// Stats implements admin.Backend.
func (s *Server) Stats() admin.Stats {
	return admin.Stats{
		Sessions:          s.sessions.Count(),
		Sockets:           s.hub.Count(),
		PendingReconnects: s.broker.Len(),
		PendingAcks:       s.beat.Pending(),
		Rooms:             s.rooms.Stats(),
		Outbox:            s.queue.Stats(),
		UptimeSeconds:     int64(s.now().Sub(s.started) / time.Second),
	}
}

func (s *Server) OpenRooms() []protocol.RoomView { return roomViews(s.rooms.ListOpen()) }

func (s *Server) SearchRooms(q string) []protocol.RoomView { return roomViews(s.rooms.Search(q)) }

func (s *Server) RecentResults(ctx context.Context, limit int) ([]archive.Result, error) {
	return s.archive.Recent(ctx, limit)
}

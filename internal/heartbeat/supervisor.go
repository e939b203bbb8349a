package heartbeat

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-relay/internal/obslog"
	"github.com/park285/xiangqi-relay/internal/protocol"
	"github.com/park285/xiangqi-relay/internal/session"
)

// Transport is the slice of the hub the supervisor needs.
type Transport interface {
	Unicast(sessionID string, msg protocol.Envelope)
	CloseSession(sessionID, reason string) bool
}

// Supervisor probes connected sessions on one ticker and scans for timeouts
// on another (timeout/2), so probe cadence and failure detection stay apart.
type Supervisor struct {
	reg      *session.Registry
	tr       Transport
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	onTimeout func(session.Session)

	mu      sync.Mutex
	running bool
	pending map[string]int64 // session id -> probe timestamp (ms)
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type Option func(*Supervisor)

func WithClock(now func() time.Time) Option { return func(s *Supervisor) { s.now = now } }

// OnTimeout registers a hook run after a session is declared timed out.
func OnTimeout(f func(session.Session)) Option { return func(s *Supervisor) { s.onTimeout = f } }

func New(reg *session.Registry, tr Transport, interval, timeout time.Duration, opts ...Option) *Supervisor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &Supervisor{
		reg:      reg,
		tr:       tr,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
		pending:  make(map[string]int64),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start is idempotent.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	check := s.timeout / 2
	if check <= 0 {
		check = s.timeout
	}
	s.wg.Add(2)
	go s.loop(s.interval, s.ProbeOnce)
	go s.loop(check, s.CheckOnce)
	obslog.L().Info("heartbeat_start", zap.Duration("interval", s.interval), zap.Duration("timeout", s.timeout))
}

// Stop cancels both tickers and clears pending acks.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.pending = make(map[string]int64)
	s.mu.Unlock()
	obslog.L().Info("heartbeat_stop")
}

func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Supervisor) loop(every time.Duration, tick func()) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			tick()
		}
	}
}

// ProbeOnce sends one heartbeat to every connected session.
func (s *Supervisor) ProbeOnce() {
	ts := s.now().UnixMilli()
	targets := s.reg.ListByStatus(session.StatusConnected)
	s.mu.Lock()
	for _, sess := range targets {
		s.pending[sess.ID] = ts
	}
	s.mu.Unlock()

	msg := protocol.MustNew(protocol.TypeHeartbeat, protocol.HeartbeatData{Timestamp: ts})
	for _, sess := range targets {
		s.tr.Unicast(sess.ID, msg)
	}
}

// CheckOnce marks connected sessions silent for longer than the timeout as
// disconnected and closes their transport.
func (s *Supervisor) CheckOnce() {
	for _, sess := range s.reg.ListTimedOut(s.timeout) {
		if sess.Status != session.StatusConnected {
			continue
		}
		// liveness may have moved since the scan
		if !s.reg.ExpireIfStale(sess.ID, s.timeout) {
			continue
		}
		s.mu.Lock()
		delete(s.pending, sess.ID)
		s.mu.Unlock()

		obslog.L().Warn("heartbeat_timeout", zap.String("session_id", sess.ID), zap.Time("last_liveness", sess.LastLivenessAt))
		s.tr.CloseSession(sess.ID, "heartbeat timeout")
		if s.onTimeout != nil {
			sess.Status = session.StatusDisconnected
			s.onTimeout(sess)
		}
	}
}

// HandleAck clears the pending probe and refreshes liveness. It never
// changes status; a session marked disconnected stays so until it reconnects.
func (s *Supervisor) HandleAck(sessionID string, ts int64) bool {
	s.mu.Lock()
	_, ok := s.pending[sessionID]
	if ok {
		delete(s.pending, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		obslog.L().Debug("heartbeat_ack_ignored", zap.String("session_id", sessionID), zap.Int64("ts", ts))
		return false
	}
	return s.reg.TouchLiveness(sessionID)
}

// Forget drops any pending probe for a session that is going away.
func (s *Supervisor) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.pending, sessionID)
	s.mu.Unlock()
}

func (s *Supervisor) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

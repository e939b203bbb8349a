package reconnect

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-relay/internal/obslog"
)

// Pending records a session whose transport dropped.
type Pending struct {
	SessionID         string
	DisplayName       string
	RoomID            string
	LastSeenAt        time.Time
	ReconnectAttempts int
}

// Broker matches a returning display name to its last disconnected session
// while the grace window is open.
type Broker struct {
	mu     sync.Mutex
	byID   map[string]*Pending
	byName map[string]string // normalized name -> most recent session id
	grace  time.Duration
	now    func() time.Time
}

type Option func(*Broker)

func WithClock(now func() time.Time) Option { return func(b *Broker) { b.now = now } }

func NewBroker(grace time.Duration, opts ...Option) *Broker {
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	b := &Broker{byID: make(map[string]*Pending), byName: make(map[string]string), grace: grace, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

func nameKey(s string) string { return strings.TrimSpace(s) }

// Remember stores or refreshes the record for sessionID.
func (b *Broker) Remember(sessionID, displayName, roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.byID[sessionID]
	if !ok {
		p = &Pending{SessionID: sessionID}
		b.byID[sessionID] = p
	} else if p.DisplayName != displayName && b.byName[nameKey(p.DisplayName)] == sessionID {
		delete(b.byName, nameKey(p.DisplayName))
	}
	p.DisplayName = displayName
	p.RoomID = roomID
	p.LastSeenAt = b.now()
	b.byName[nameKey(displayName)] = sessionID
	obslog.L().Info("reconnect_remember", zap.String("session_id", sessionID), zap.String("name", displayName), zap.String("room_id", roomID))
}

// TryRecover consumes the record for displayName. Only one caller can get a
// given record; an expired record is purged and recovery fails.
func (b *Broker) TryRecover(displayName string) (Pending, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.byName[nameKey(displayName)]
	if !ok {
		return Pending{}, false
	}
	p := b.byID[id]
	if p == nil {
		delete(b.byName, nameKey(displayName))
		return Pending{}, false
	}
	if b.expired(p) {
		b.drop(p)
		obslog.L().Info("reconnect_expired", zap.String("session_id", id), zap.String("name", displayName))
		return Pending{}, false
	}
	p.ReconnectAttempts++
	out := *p
	b.drop(p)
	obslog.L().Info("reconnect_recovered", zap.String("session_id", id), zap.String("room_id", out.RoomID), zap.Int("attempts", out.ReconnectAttempts))
	return out, true
}

// Forget drops the record for sessionID, if any.
func (b *Broker) Forget(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p := b.byID[sessionID]; p != nil {
		b.drop(p)
	}
}

// SweepExpired purges and returns every record past the grace window.
func (b *Broker) SweepExpired() []Pending {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Pending
	for _, p := range b.byID {
		if b.expired(p) {
			out = append(out, *p)
			b.drop(p)
		}
	}
	if len(out) > 0 {
		obslog.L().Info("reconnect_sweep", zap.Int("expired", len(out)))
	}
	return out
}

func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byID)
}

func (b *Broker) expired(p *Pending) bool { return b.now().Sub(p.LastSeenAt) > b.grace }

func (b *Broker) drop(p *Pending) {
	delete(b.byID, p.SessionID)
	if b.byName[nameKey(p.DisplayName)] == p.SessionID {
		delete(b.byName, nameKey(p.DisplayName))
	}
}

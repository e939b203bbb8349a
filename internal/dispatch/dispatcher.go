package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-relay/internal/obslog"
	"github.com/park285/xiangqi-relay/internal/protocol"
	"github.com/park285/xiangqi-relay/internal/transport"
)

// Handler processes one validated envelope from peer.
type Handler func(ctx context.Context, env protocol.Envelope, peer *transport.Peer) error

// Dispatcher routes envelopes by type.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register installs h for typ. A later registration replaces the earlier one.
func (d *Dispatcher) Register(typ string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[typ]; ok {
		obslog.L().Warn("dispatch_handler_replaced", zap.String("type", typ))
	}
	d.handlers[typ] = h
}

// Types lists registered message types.
func (d *Dispatcher) Types() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		out = append(out, t)
	}
	return out
}

// Route validates env and runs its handler. The caller turns a returned
// error into an error frame.
func (d *Dispatcher) Route(ctx context.Context, env protocol.Envelope, peer *transport.Peer) error {
	if err := protocol.Validate(env); err != nil {
		return err
	}
	d.mu.RLock()
	h, ok := d.handlers[env.Type]
	d.mu.RUnlock()
	if !ok {
		return protocol.Unknown(env.Type)
	}
	if err := h(ctx, env, peer); err != nil {
		obslog.L().Info("dispatch_handler_error",
			zap.String("type", env.Type),
			zap.String("session_id", sessionOf(peer)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// RouteRaw decodes a raw frame and routes it.
func (d *Dispatcher) RouteRaw(ctx context.Context, raw []byte, peer *transport.Peer) (string, error) {
	env, err := protocol.Decode(raw)
	if err != nil {
		return "", err
	}
	return env.Type, d.Route(ctx, env, peer)
}

func sessionOf(p *transport.Peer) string {
	if p == nil {
		return ""
	}
	return p.SessionID()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/park285/xiangqi-relay/internal/client"
	"github.com/park285/xiangqi-relay/internal/protocol"
)

type playOptions struct {
	url   string
	name  string
	room  string
	wait  time.Duration
	moves []scriptedMove
}

// session wraps a client with a frame channel the script can wait on.
type session struct {
	c      *client.Client
	frames chan protocol.Envelope
	wait   time.Duration
}

func (s *session) await(ctx context.Context, match func(protocol.Envelope) (bool, error)) (protocol.Envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, s.wait)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return protocol.Envelope{}, ctx.Err()
		case env := <-s.frames:
			if env.Type == protocol.TypeError {
				var p protocol.ErrorPayload
				_ = protocol.DecodeData(env, &p)
				return env, fmt.Errorf("%s: %s", p.Code, p.Message)
			}
			ok, err := match(env)
			if err != nil || ok {
				return env, err
			}
		}
	}
}

func ofType(typ string) func(protocol.Envelope) (bool, error) {
	return func(env protocol.Envelope) (bool, error) { return env.Type == typ, nil }
}

func play(ctx context.Context, out io.Writer, o playOptions) error {
	s := &session{
		c:      client.New(o.url),
		frames: make(chan protocol.Envelope, 64),
		wait:   o.wait,
	}
	s.c.OnMessage(func(env protocol.Envelope) {
		select {
		case s.frames <- env:
		default:
		}
	})
	s.c.OnStateChange(func(st client.State) { fmt.Fprintf(out, "connection: %s\n", st) })
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.c.Close(cctx)
	}()

	if err := s.c.Connect(ctx); err != nil {
		return err
	}
	if err := s.c.Send(protocol.TypeConnect, protocol.ConnectData{PlayerName: o.name}); err != nil {
		return err
	}
	if _, err := s.await(ctx, ofType(protocol.TypeConnectAck)); err != nil {
		return err
	}
	fmt.Fprintf(out, "player %s (%s)\n", o.name, s.c.PlayerID())

	var err error
	if o.room == "" {
		err = s.c.Send(protocol.TypeCreateRoom, protocol.CreateRoomData{PlayerName: o.name})
	} else {
		err = s.c.Send(protocol.TypeJoinRoom, protocol.JoinRoomData{RoomID: o.room, PlayerName: o.name})
	}
	if err != nil {
		return err
	}
	env, err := s.await(ctx, func(env protocol.Envelope) (bool, error) {
		return env.Type == protocol.TypeRoomCreated || env.Type == protocol.TypeRoomJoined, nil
	})
	if err != nil {
		return err
	}
	var rp protocol.RoomPayload
	if err := protocol.DecodeData(env, &rp); err != nil {
		return err
	}
	color := colorOf(rp.Room, s.c.PlayerID())
	fmt.Fprintf(out, "room %s as %s\n", rp.RoomID, color)

	for _, mv := range o.moves {
		if err := s.awaitTurn(ctx, color); err != nil {
			return err
		}
		if err := s.c.Move(rp.RoomID, mv.from, mv.to); err != nil {
			return err
		}
		env, err := s.await(ctx, ofType(protocol.TypeMoveAck))
		if err != nil {
			return err
		}
		var ack protocol.MoveAck
		if err := protocol.DecodeData(env, &ack); err != nil {
			return err
		}
		if !ack.Success {
			return fmt.Errorf("move (%d,%d)->(%d,%d) refused: %s", mv.from.X, mv.from.Y, mv.to.X, mv.to.Y, ack.Error)
		}
		g := s.c.Game()
		fmt.Fprintf(out, "moved (%d,%d)->(%d,%d)\n%s", mv.from.X, mv.from.Y, mv.to.X, mv.to.Y, renderGame(g))
		if g.Status != "playing" {
			return nil
		}
	}
	return nil
}

var errMatchOver = errors.New("match is over")

// awaitTurn blocks until the shown game is in progress with color to move.
func (s *session) awaitTurn(ctx context.Context, color string) error {
	ready := func() (bool, error) {
		g := s.c.Game()
		if g.Status != "" && g.Status != "playing" {
			return false, errMatchOver
		}
		return g.Status == "playing" && g.CurrentPlayer == color, nil
	}
	if ok, err := ready(); ok || err != nil {
		return err
	}
	_, err := s.await(ctx, func(env protocol.Envelope) (bool, error) {
		if env.Type == protocol.TypeMatchEnded {
			return false, errMatchOver
		}
		if env.Type != protocol.TypeGameState {
			return false, nil
		}
		return ready()
	})
	return err
}

func colorOf(r protocol.RoomView, playerID string) string {
	for _, p := range r.Players {
		if p.ID == playerID {
			return p.Color
		}
	}
	return ""
}

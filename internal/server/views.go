package server

import (
	"github.com/park285/xiangqi-relay/internal/match"
	"github.com/park285/xiangqi-relay/internal/protocol"
	"github.com/park285/xiangqi-relay/internal/rules"
)

func roomView(r match.Room) protocol.RoomView {
	v := protocol.RoomView{
		ID:          r.ID,
		CreatorID:   r.CreatorID,
		CreatorName: r.CreatorName,
		PlayerCount: r.PlayerCount(),
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt.UnixMilli(),
		UpdatedAt:   r.UpdatedAt.UnixMilli(),
		Players:     make([]protocol.PlayerView, 0, 2),
	}
	for _, s := range []struct {
		color rules.Color
		seat  *match.Seat
	}{{rules.Red, r.Red}, {rules.Black, r.Black}} {
		if s.seat == nil {
			continue
		}
		v.Players = append(v.Players, protocol.PlayerView{
			Color:       string(s.color),
			ID:          s.seat.SessionID,
			Name:        s.seat.DisplayName,
			IsConnected: s.seat.Connected,
		})
	}
	return v
}

func roomViews(rs []match.Room) []protocol.RoomView {
	out := make([]protocol.RoomView, 0, len(rs))
	for _, r := range rs {
		out = append(out, roomView(r))
	}
	return out
}

func roomPayload(r match.Room) protocol.RoomPayload {
	return protocol.RoomPayload{RoomID: r.ID, Room: roomView(r)}
}

func square(p *protocol.Position) rules.Square { return rules.Square{X: p.X, Y: p.Y} }

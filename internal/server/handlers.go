package server

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-relay/internal/archive"
	"github.com/park285/xiangqi-relay/internal/obslog"
	"github.com/park285/xiangqi-relay/internal/protocol"
	"github.com/park285/xiangqi-relay/internal/reconnect"
	"github.com/park285/xiangqi-relay/internal/rules"
	"github.com/park285/xiangqi-relay/internal/session"
	"github.com/park285/xiangqi-relay/internal/transport"
)

func (s *Server) registerHandlers() {
	s.disp.Register(protocol.TypeConnect, s.handleConnect)
	s.disp.Register(protocol.TypeCreateRoom, s.handleCreateRoom)
	s.disp.Register(protocol.TypeJoinRoom, s.handleJoinRoom)
	s.disp.Register(protocol.TypeLeaveRoom, s.handleLeaveRoom)
	s.disp.Register(protocol.TypeRoomList, s.handleRoomList)
	s.disp.Register(protocol.TypeSearchRooms, s.handleSearchRooms)
	s.disp.Register(protocol.TypeMove, s.handleMove)
	s.disp.Register(protocol.TypeHeartbeat, s.handleHeartbeat)
	s.disp.Register(protocol.TypeHeartbeatAck, s.handleHeartbeatAck)
}

// reply writes directly to the requesting socket. Transport failures are
// logged only.
func (s *Server) reply(ctx context.Context, p *transport.Peer, typ string, data any) {
	if err := p.Send(ctx, protocol.MustNew(typ, data)); err != nil {
		obslog.L().Warn("reply_failed", zap.String("type", typ), zap.String("peer_id", p.ID()), zap.Error(err))
	}
}

// sessionOf returns the live session bound to p.
func (s *Server) sessionOf(p *transport.Peer) (session.Session, error) {
	id := p.SessionID()
	if id == "" {
		return session.Session{}, errNoSession
	}
	sess, ok := s.sessions.Get(id)
	if !ok {
		return session.Session{}, errNoSession
	}
	return sess, nil
}

func (s *Server) handleConnect(ctx context.Context, env protocol.Envelope, p *transport.Peer) error {
	var d protocol.ConnectData
	if err := protocol.DecodeData(env, &d); err != nil {
		return err
	}
	name, err := protocol.ValidatePlayerName(d.PlayerName, s.cfg.MaxNameLength)
	if err != nil {
		return err
	}
	if sess, err := s.sessionOf(p); err == nil {
		roomID, _ := s.rooms.RoomOf(sess.ID)
		s.reply(ctx, p, protocol.TypeConnectAck, protocol.ConnectAck{PlayerID: sess.ID, RoomID: roomID})
		return nil
	}
	if pend, ok := s.broker.TryRecover(name); ok {
		if s.sessions.Exists(pend.SessionID) {
			s.resume(ctx, p, pend)
			return nil
		}
		obslog.L().Info("reconnect_stale", zap.String("session_id", pend.SessionID))
	}

	id := s.sessions.Open(name)
	s.hub.Bind(id, p)
	obslog.L().Info("session_open", zap.String("session_id", id), zap.String("display_name", name), zap.String("peer_id", p.ID()))
	s.reply(ctx, p, protocol.TypeConnectAck, protocol.ConnectAck{PlayerID: id})
	return nil
}

// resume re-attaches a returning player to the identity and seat they held.
func (s *Server) resume(ctx context.Context, p *transport.Peer, pend reconnect.Pending) {
	id := pend.SessionID
	s.sessions.SetStatus(id, session.StatusReconnecting)
	s.hub.Bind(id, p)

	roomID, seated := s.rooms.RoomOf(id)
	s.reply(ctx, p, protocol.TypeConnectAck, protocol.ConnectAck{PlayerID: id, Reconnected: true, RoomID: roomID})
	replayed := s.hub.Replay(id)
	if !s.sessions.Resume(id) {
		// removed or dropped while replaying
		obslog.L().Info("session_resume_aborted", zap.String("session_id", id))
		return
	}
	obslog.L().Info("session_resume",
		zap.String("session_id", id),
		zap.String("room_id", roomID),
		zap.Int("attempt", pend.ReconnectAttempts),
		zap.Int("replayed", replayed),
	)
	if !seated {
		return
	}
	room, changed := s.rooms.SetSeatConnected(roomID, id, true)
	if room.Match != nil {
		s.reply(ctx, p, protocol.TypeGameState, room.Match.Snapshot())
	}
	if changed {
		s.hub.Multicast(roomID, protocol.MustNew(protocol.TypeRoomUpdated, roomPayload(room)))
	}
}

func (s *Server) handleCreateRoom(ctx context.Context, env protocol.Envelope, p *transport.Peer) error {
	sess, err := s.sessionOf(p)
	if err != nil {
		return err
	}
	var d protocol.CreateRoomData
	if err := protocol.DecodeData(env, &d); err != nil {
		return err
	}
	name, err := s.nameOr(d.PlayerName, sess)
	if err != nil {
		return err
	}
	if _, busy := s.rooms.RoomOf(sess.ID); busy {
		return &protocol.Error{Code: protocol.RoomNotAvailable, Reason: "already in a room"}
	}

	created := s.rooms.Create(sess.ID, name)
	room, err := s.rooms.TryJoin(created.ID, sess.ID, name)
	if err != nil {
		s.rooms.Discard(created.ID)
		return joinError(err)
	}
	s.reply(ctx, p, protocol.TypeRoomCreated, roomPayload(room))
	return nil
}

func (s *Server) handleJoinRoom(ctx context.Context, env protocol.Envelope, p *transport.Peer) error {
	sess, err := s.sessionOf(p)
	if err != nil {
		return err
	}
	var d protocol.JoinRoomData
	if err := protocol.DecodeData(env, &d); err != nil {
		return err
	}
	roomID := strings.TrimSpace(d.RoomID)
	if roomID == "" {
		return protocol.Formatf("roomId is required")
	}
	name, err := s.nameOr(d.PlayerName, sess)
	if err != nil {
		return err
	}
	room, err := s.rooms.TryJoin(roomID, sess.ID, name)
	if err != nil {
		return joinError(err)
	}
	s.reply(ctx, p, protocol.TypeRoomJoined, roomPayload(room))
	s.hub.Multicast(roomID, protocol.MustNew(protocol.TypeRoomUpdated, roomPayload(room)))
	if room.Match != nil {
		s.hub.DeliverRoom(roomID, protocol.MustNew(protocol.TypeGameState, room.Match.Snapshot()))
	}
	return nil
}

func (s *Server) handleLeaveRoom(ctx context.Context, env protocol.Envelope, p *transport.Peer) error {
	sess, err := s.sessionOf(p)
	if err != nil {
		return err
	}
	var d protocol.LeaveRoomData
	if err := protocol.DecodeData(env, &d); err != nil {
		return err
	}
	roomID := strings.TrimSpace(d.RoomID)
	if roomID == "" {
		roomID, _ = s.rooms.RoomOf(sess.ID)
	}
	if _, ok := s.rooms.Get(roomID); !ok {
		return &protocol.Error{Code: protocol.RoomNotFound}
	}
	if !s.vacate(ctx, roomID, sess.ID) {
		return &protocol.Error{Code: protocol.PlayerNotFound}
	}
	s.reply(ctx, p, protocol.TypeRoomLeft, protocol.RoomLeft{RoomID: roomID})
	return nil
}

// vacate removes sessionID from roomID, ending and archiving a match in
// progress, and tells whoever remains.
func (s *Server) vacate(ctx context.Context, roomID, sessionID string) bool {
	res := s.rooms.Leave(roomID, sessionID)
	if !res.Left {
		return false
	}
	obslog.L().Info("room_leave", zap.String("room_id", roomID), zap.String("session_id", sessionID), zap.Bool("purged", res.Purged))
	if res.Purged {
		return true
	}

	if res.Abandoned {
		final := *res.Room.Match
		result := archive.FromState(roomID, final, archive.StatusAbandoned, s.now())
		result.Winner = string(res.Color.Opponent())
		if res.Color == rules.Red {
			result.WinnerID = final.Black.ID
		} else {
			result.WinnerID = final.Red.ID
		}
		s.hub.DeliverRoom(roomID, protocol.MustNew(protocol.TypeMatchEnded, protocol.MatchFinished{
			RoomID: roomID,
			Status: archive.StatusAbandoned,
			Winner: result.Winner,
		}))
		s.record(ctx, result)
	}
	s.hub.Multicast(roomID, protocol.MustNew(protocol.TypeRoomUpdated, roomPayload(res.Room)))
	return true
}

func (s *Server) handleRoomList(ctx context.Context, _ protocol.Envelope, p *transport.Peer) error {
	if _, err := s.sessionOf(p); err != nil {
		return err
	}
	s.reply(ctx, p, protocol.TypeRoomList, protocol.RoomList{Rooms: s.OpenRooms()})
	return nil
}

func (s *Server) handleSearchRooms(ctx context.Context, env protocol.Envelope, p *transport.Peer) error {
	if _, err := s.sessionOf(p); err != nil {
		return err
	}
	var d protocol.SearchRoomsData
	if err := protocol.DecodeData(env, &d); err != nil {
		return err
	}
	s.reply(ctx, p, protocol.TypeRoomList, protocol.RoomList{Rooms: s.SearchRooms(d.Query)})
	return nil
}

func (s *Server) handleMove(ctx context.Context, env protocol.Envelope, p *transport.Peer) error {
	sess, err := s.sessionOf(p)
	if err != nil {
		return err
	}
	var d protocol.MoveData
	if err := protocol.DecodeData(env, &d); err != nil {
		return err
	}
	roomID := strings.TrimSpace(d.RoomID)
	if roomID == "" || d.From == nil || d.To == nil {
		return protocol.Formatf("move needs roomId, from and to")
	}

	st, err := s.rooms.ApplyMove(roomID, sess.ID, square(d.From), square(d.To), s.oracle)
	if err != nil {
		pe := moveError(err)
		if !ackable(pe) {
			return pe
		}
		obslog.L().Info("move_rejected", zap.String("room_id", roomID), zap.String("session_id", sess.ID), zap.String("code", string(pe.Code)), zap.String("reason", pe.Reason))
		s.reply(ctx, p, protocol.TypeMoveAck, protocol.MoveAck{Success: false, Error: pe.Payload(s.cat).Message})
		return nil
	}

	snap := st.Snapshot()
	s.reply(ctx, p, protocol.TypeMoveAck, protocol.MoveAck{Success: true, GameState: &snap})
	s.hub.DeliverRoom(roomID, protocol.MustNew(protocol.TypeGameState, snap))
	obslog.L().Info("move_applied", zap.String("room_id", roomID), zap.String("session_id", sess.ID), zap.String("move", archive.Notation(square(d.From), square(d.To))), zap.Int("move_count", snap.MoveCount))

	if st.Over() {
		s.hub.DeliverRoom(roomID, protocol.MustNew(protocol.TypeMatchEnded, protocol.MatchFinished{
			RoomID: roomID,
			Status: string(st.Status),
			Winner: string(st.Winner),
		}))
		s.record(ctx, archive.FromState(roomID, st, "", st.LastMoveAt))
	}
	return nil
}

func (s *Server) handleHeartbeat(ctx context.Context, env protocol.Envelope, p *transport.Peer) error {
	sess, err := s.sessionOf(p)
	if err != nil {
		return err
	}
	var d protocol.HeartbeatData
	if err := protocol.DecodeData(env, &d); err != nil {
		return err
	}
	s.sessions.TouchLiveness(sess.ID)
	s.rooms.TouchSeat(sess.ID)
	s.reply(ctx, p, protocol.TypeHeartbeatAck, protocol.HeartbeatData{Timestamp: d.Timestamp})
	return nil
}

func (s *Server) handleHeartbeatAck(_ context.Context, env protocol.Envelope, p *transport.Peer) error {
	sess, err := s.sessionOf(p)
	if err != nil {
		return err
	}
	var d protocol.HeartbeatData
	if err := protocol.DecodeData(env, &d); err != nil {
		return err
	}
	if s.beat.HandleAck(sess.ID, d.Timestamp) {
		s.rooms.TouchSeat(sess.ID)
	}
	return nil
}

// nameOr validates an optional name, falling back to the session's.
func (s *Server) nameOr(name string, sess session.Session) (string, error) {
	if strings.TrimSpace(name) == "" {
		return sess.DisplayName, nil
	}
	return protocol.ValidatePlayerName(name, s.cfg.MaxNameLength)
}

// record archives r without blocking the caller on failure.
func (s *Server) record(ctx context.Context, r archive.Result) {
	if err := s.archive.Record(context.WithoutCancel(ctx), r); err != nil {
		obslog.L().Error("archive_record_error", zap.String("room_id", r.RoomID), zap.Error(err))
		return
	}
	obslog.L().Info("archive_record", zap.String("room_id", r.RoomID), zap.String("status", r.Status), zap.String("winner_id", r.WinnerID))
}

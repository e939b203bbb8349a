package match

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/xiangqi-relay/internal/obslog"
	"github.com/park285/xiangqi-relay/internal/rules"
)

// Registry owns every room and the session → room index. Each public method
// runs under one lock, so a seat check and the seat write cannot interleave
// with another join.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	seated map[string]string // session id -> room id
	now    func() time.Time
	newID  func() string
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

func WithIDGenerator(f func() string) Option { return func(r *Registry) { r.newID = f } }

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:  make(map[string]*Room),
		seated: make(map[string]string),
		now:    time.Now,
		newID:  func() string { return "xq-" + uuid.NewString()[:8] },
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Create allocates a waiting room with both seats empty. The creator is not
// seated; callers join them explicitly.
func (r *Registry) Create(creatorID, creatorName string) Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.newID()
	for r.rooms[id] != nil {
		id = r.newID()
	}
	now := r.now()
	room := &Room{
		ID:          id,
		CreatorID:   creatorID,
		CreatorName: creatorName,
		Status:      RoomWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.rooms[id] = room
	obslog.L().Info("room_create", zap.String("room_id", id), zap.String("creator_id", creatorID))
	return room.clone()
}

func (r *Registry) Get(roomID string) (Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	return room.clone(), true
}

// Join seats sessionID and reports success.
func (r *Registry) Join(roomID, sessionID, displayName string) bool {
	_, err := r.TryJoin(roomID, sessionID, displayName)
	return err == nil
}

// TryJoin is Join with the reason for a refusal. The first occupant takes red,
// the next black; filling the second seat starts the match in the same step.
func (r *Registry) TryJoin(roomID, sessionID, displayName string) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	if room.PlayerCount() >= 2 {
		return Room{}, ErrRoomFull
	}
	if room.Status != RoomWaiting {
		return Room{}, ErrFinished
	}
	if _, busy := r.seated[sessionID]; busy {
		return Room{}, ErrAlreadySeated
	}

	now := r.now()
	seat := &Seat{SessionID: sessionID, DisplayName: displayName, Connected: true, LastHeartbeatAt: now}
	color := rules.Red
	if room.Red == nil {
		room.Red = seat
	} else {
		room.Black = seat
		color = rules.Black
	}
	r.seated[sessionID] = roomID
	room.UpdatedAt = now

	if room.Red != nil && room.Black != nil {
		st := NewState(
			PlayerRef{ID: room.Red.SessionID, Name: room.Red.DisplayName},
			PlayerRef{ID: room.Black.SessionID, Name: room.Black.DisplayName},
			now,
		)
		room.Match = &st
		room.Status = RoomPlaying
		obslog.L().Info("room_start", zap.String("room_id", roomID), zap.String("red_id", room.Red.SessionID), zap.String("black_id", room.Black.SessionID))
	}
	obslog.L().Info("room_join", zap.String("room_id", roomID), zap.String("session_id", sessionID), zap.String("color", string(color)))
	return room.clone(), nil
}

// LeaveResult describes what Leave did.
type LeaveResult struct {
	Room   Room // state after leaving; zero when purged
	Left   bool // the session held a seat
	Purged bool // the room was destroyed

	// Abandoned is set when the leave ended a match in progress. Color is the
	// leaver's seat and Room.Match the final position.
	Abandoned bool
	Color     rules.Color
}

// Leave vacates sessionID's seat. An emptied room is purged together with its
// index entries. Leaving a match in progress ends it.
func (r *Registry) Leave(roomID, sessionID string) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return LeaveResult{}
	}
	var color rules.Color
	switch {
	case room.Red != nil && room.Red.SessionID == sessionID:
		room.Red, color = nil, rules.Red
	case room.Black != nil && room.Black.SessionID == sessionID:
		room.Black, color = nil, rules.Black
	default:
		return LeaveResult{Room: room.clone()}
	}
	delete(r.seated, sessionID)
	room.UpdatedAt = r.now()

	if room.PlayerCount() == 0 {
		delete(r.rooms, roomID)
		obslog.L().Info("room_destroy", zap.String("room_id", roomID))
		return LeaveResult{Left: true, Purged: true}
	}
	abandoned := room.Status == RoomPlaying && room.Match != nil
	if room.Status == RoomPlaying {
		room.Status = RoomFinished
		obslog.L().Info("room_abandon", zap.String("room_id", roomID), zap.String("session_id", sessionID))
	}
	return LeaveResult{Room: room.clone(), Left: true, Abandoned: abandoned, Color: color}
}

// Discard removes a room nobody sits in, e.g. when seating its creator failed.
func (r *Registry) Discard(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok || room.PlayerCount() > 0 {
		return false
	}
	delete(r.rooms, roomID)
	return true
}

// RoomOf returns the room sessionID is seated in.
func (r *Registry) RoomOf(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.seated[sessionID]
	return id, ok
}

// Members returns the session ids currently seated in roomID.
func (r *Registry) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return room.Members()
}

// SetSeatConnected flips a seat's connected flag and reports whether it changed.
func (r *Registry) SetSeatConnected(roomID, sessionID string, connected bool) (Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	_, seat := room.SeatOf(sessionID)
	if seat == nil || seat.Connected == connected {
		return room.clone(), false
	}
	seat.Connected = connected
	now := r.now()
	if connected {
		seat.LastHeartbeatAt = now
	}
	room.UpdatedAt = now
	return room.clone(), true
}

// TouchSeat records a heartbeat on the seat held by sessionID.
func (r *Registry) TouchSeat(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms[r.seated[sessionID]]
	if room == nil {
		return
	}
	if _, seat := room.SeatOf(sessionID); seat != nil {
		seat.LastHeartbeatAt = r.now()
	}
}

// ApplyMove validates and plays a move. Every check, including the oracle,
// runs before the room is touched.
func (r *Registry) ApplyMove(roomID, sessionID string, from, to rules.Square, oracle Oracle) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return State{}, ErrRoomNotFound
	}
	color, seat := room.SeatOf(sessionID)
	if seat == nil {
		return State{}, ErrNotSeated
	}
	switch {
	case room.Status == RoomFinished:
		return State{}, ErrFinished
	case room.Status != RoomPlaying || room.Match == nil:
		return State{}, ErrNotStarted
	case room.Match.Over():
		return State{}, ErrFinished
	}
	if room.Match.Turn != color {
		return State{}, ErrNotYourTurn
	}
	if !from.Valid() || !to.Valid() {
		return State{}, ErrOutOfBounds
	}
	if from == to {
		return State{}, ErrSameSquare
	}

	mv := Move{From: from, To: to, PlayerID: sessionID, At: r.now()}
	v := oracle.Validate(*room.Match, mv, sessionID)
	if !v.Legal {
		return State{}, &IllegalMoveError{Reason: v.Reason}
	}
	next := room.Match.Apply(mv, v)
	room.Match = &next
	room.UpdatedAt = mv.At
	if next.Over() {
		room.Status = RoomFinished
		obslog.L().Info("room_finish", zap.String("room_id", roomID), zap.String("status", string(next.Status)), zap.String("winner", string(next.Winner)))
	}
	return next, nil
}

// ListOpen returns waiting rooms with a free seat, oldest first.
func (r *Registry) ListOpen() []Room {
	return r.collect(func(room *Room) bool {
		return room.Status == RoomWaiting && room.PlayerCount() < 2
	})
}

// Search matches query case-insensitively against room id or creator name.
func (r *Registry) Search(query string) []Room {
	q := strings.ToLower(strings.TrimSpace(query))
	return r.collect(func(room *Room) bool {
		return strings.Contains(strings.ToLower(room.ID), q) || strings.Contains(strings.ToLower(room.CreatorName), q)
	})
}

func (r *Registry) collect(keep func(*Room) bool) []Room {
	r.mu.RLock()
	out := make([]Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		if keep(room) {
			out = append(out, room.clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{Rooms: len(r.rooms), Seated: len(r.seated)}
	for _, room := range r.rooms {
		switch room.Status {
		case RoomWaiting:
			s.Waiting++
		case RoomPlaying:
			s.Playing++
		case RoomFinished:
			s.Finished++
		}
	}
	return s
}

package protocol

import "encoding/json"

// Message types on the wire.
const (
	TypeConnect      = "connect"
	TypeConnectAck   = "connect_ack"
	TypeCreateRoom   = "create_room"
	TypeRoomCreated  = "room_created"
	TypeJoinRoom     = "join_room"
	TypeRoomJoined   = "room_joined"
	TypeRoomUpdated  = "room_updated"
	TypeLeaveRoom    = "leave_room"
	TypeRoomLeft     = "room_left"
	TypeRoomList     = "room_list"
	TypeSearchRooms  = "search_rooms"
	TypeMove         = "move"
	TypeMoveAck      = "move_ack"
	TypeGameState    = "game_state"
	TypeMatchEnded   = "match_finished"
	TypeHeartbeat    = "heartbeat"
	TypeHeartbeatAck = "heartbeat_ack"
	TypeError        = "error"
)

// Envelope is the {type, data} frame. Data stays raw until a handler decodes it.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type ConnectData struct {
	PlayerName string `json:"playerName"`
}

type ConnectAck struct {
	PlayerID    string `json:"playerId"`
	Reconnected bool   `json:"reconnected,omitempty"`
	RoomID      string `json:"roomId,omitempty"`
}

type CreateRoomData struct {
	PlayerName string `json:"playerName"`
}

type JoinRoomData struct {
	RoomID     string `json:"roomId"`
	PlayerName string `json:"playerName"`
}

type LeaveRoomData struct {
	RoomID string `json:"roomId"`
}

type SearchRoomsData struct {
	Query string `json:"query"`
}

type MoveData struct {
	RoomID string    `json:"roomId"`
	From   *Position `json:"from"`
	To     *Position `json:"to"`
}

type MoveAck struct {
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	GameState *GameSnapshot `json:"gameState,omitempty"`
}

// GameSnapshot is the game_state payload.
type GameSnapshot struct {
	Board         string `json:"board"`
	CurrentPlayer string `json:"currentPlayer"`
	MoveCount     int    `json:"moveCount"`
	Status        string `json:"status"`
}

type HeartbeatData struct {
	Timestamp int64 `json:"timestamp"`
}

type PlayerView struct {
	Color       string `json:"color"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsConnected bool   `json:"isConnected"`
}

// RoomView is the serialized room; times are unix milliseconds.
type RoomView struct {
	ID          string       `json:"id"`
	CreatorID   string       `json:"creatorId"`
	CreatorName string       `json:"creatorName"`
	PlayerCount int          `json:"playerCount"`
	Status      string       `json:"status"`
	CreatedAt   int64        `json:"createdAt"`
	UpdatedAt   int64        `json:"updatedAt"`
	Players     []PlayerView `json:"players"`
}

type RoomPayload struct {
	RoomID string   `json:"roomId"`
	Room   RoomView `json:"room"`
}

type RoomList struct {
	Rooms []RoomView `json:"rooms"`
}

type RoomLeft struct {
	RoomID string `json:"roomId"`
}

type MatchFinished struct {
	RoomID string `json:"roomId"`
	Status string `json:"status"`
	Winner string `json:"winner,omitempty"`
}

type ErrorPayload struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

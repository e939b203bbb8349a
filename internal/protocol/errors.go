package protocol

import (
	"errors"
	"fmt"

	"github.com/park285/xiangqi-relay/internal/msgcat"
)

// Code is the error code carried in error frames.
type Code string

const (
	ConnectionFailed     Code = "CONNECTION_FAILED"
	ConnectionTimeout    Code = "CONNECTION_TIMEOUT"
	ReconnectionFailed   Code = "RECONNECTION_FAILED"
	RoomNotFound         Code = "ROOM_NOT_FOUND"
	RoomFull             Code = "ROOM_FULL"
	RoomNotAvailable     Code = "ROOM_NOT_AVAILABLE"
	InvalidMove          Code = "INVALID_MOVE"
	NotYourTurn          Code = "NOT_YOUR_TURN"
	GameNotStarted       Code = "GAME_NOT_STARTED"
	GameAlreadyFinished  Code = "GAME_ALREADY_FINISHED"
	PlayerNotFound       Code = "PLAYER_NOT_FOUND"
	InvalidPlayerName    Code = "INVALID_PLAYER_NAME"
	InvalidMessageFormat Code = "INVALID_MESSAGE_FORMAT"
	UnknownMessageType   Code = "UNKNOWN_MESSAGE_TYPE"
	InternalServerError  Code = "INTERNAL_SERVER_ERROR"
)

// Error is a failure that is reported to the sender as an error frame.
type Error struct {
	Code        Code
	Reason      string // free-form detail, e.g. why a move was rejected
	MessageType string // offending type for UNKNOWN_MESSAGE_TYPE
	Limit       int    // name length bound for INVALID_PLAYER_NAME
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	}
	if e.MessageType != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.MessageType)
	}
	return string(e.Code)
}

// Errorf returns an *Error with a formatted reason.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Formatf is Errorf(InvalidMessageFormat, ...).
func Formatf(format string, args ...any) *Error {
	return Errorf(InvalidMessageFormat, format, args...)
}

// Unknown reports an unregistered message type.
func Unknown(typ string) *Error { return &Error{Code: UnknownMessageType, MessageType: typ} }

// AsError extracts an *Error; anything else becomes INTERNAL_SERVER_ERROR so
// internals never reach the wire.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Code: InternalServerError}
}

type catalogVars struct {
	Reason string
	Type   string
	Max    int
}

// Payload renders the error frame body. Internal errors never carry a reason.
func (e *Error) Payload(cat *msgcat.Catalog) ErrorPayload {
	vars := catalogVars{Reason: e.Reason, Type: e.MessageType, Max: e.Limit}
	if e.Code == InternalServerError {
		vars = catalogVars{}
	}
	return ErrorPayload{Code: e.Code, Message: cat.Text("errors."+string(e.Code), vars, string(e.Code))}
}

// Frame builds the outbound error envelope.
func (e *Error) Frame(cat *msgcat.Catalog) Envelope {
	return MustNew(TypeError, e.Payload(cat))
}

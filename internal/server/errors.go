package server

import (
	"errors"

	"github.com/park285/xiangqi-relay/internal/match"
	"github.com/park285/xiangqi-relay/internal/protocol"
)

var errNoSession = &protocol.Error{Code: protocol.PlayerNotFound, Reason: "connect first"}

// joinError maps seating refusals to wire codes.
func joinError(err error) error {
	switch {
	case errors.Is(err, match.ErrRoomNotFound):
		return &protocol.Error{Code: protocol.RoomNotFound}
	case errors.Is(err, match.ErrRoomFull):
		return &protocol.Error{Code: protocol.RoomFull}
	case errors.Is(err, match.ErrAlreadySeated), errors.Is(err, match.ErrFinished):
		return &protocol.Error{Code: protocol.RoomNotAvailable}
	}
	return err
}

// moveError maps move refusals to wire codes.
func moveError(err error) *protocol.Error {
	var illegal *match.IllegalMoveError
	switch {
	case errors.As(err, &illegal):
		return &protocol.Error{Code: protocol.InvalidMove, Reason: illegal.Reason}
	case errors.Is(err, match.ErrRoomNotFound):
		return &protocol.Error{Code: protocol.RoomNotFound}
	case errors.Is(err, match.ErrNotSeated):
		return &protocol.Error{Code: protocol.PlayerNotFound}
	case errors.Is(err, match.ErrNotStarted):
		return &protocol.Error{Code: protocol.GameNotStarted}
	case errors.Is(err, match.ErrFinished):
		return &protocol.Error{Code: protocol.GameAlreadyFinished}
	case errors.Is(err, match.ErrNotYourTurn):
		return &protocol.Error{Code: protocol.NotYourTurn}
	case errors.Is(err, match.ErrOutOfBounds):
		return &protocol.Error{Code: protocol.InvalidMove, Reason: "position out of bounds"}
	case errors.Is(err, match.ErrSameSquare):
		return &protocol.Error{Code: protocol.InvalidMove, Reason: "source and destination are the same"}
	}
	return protocol.AsError(err)
}

// ackable reports whether a move refusal is answered with move_ack rather
// than an error frame. Refusals about the room or seat itself are errors.
func ackable(pe *protocol.Error) bool {
	switch pe.Code {
	case protocol.RoomNotFound, protocol.PlayerNotFound, protocol.InternalServerError:
		return false
	}
	return true
}

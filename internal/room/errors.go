package room

import "errors"

var (
	ErrNotConnected  = errors.New("not connected to a room")
	ErrUnknownPeer   = errors.New("unknown peer")
	ErrDuplicatePeer = errors.New("duplicate peer id")
	ErrInvalidState  = errors.New("invalid state for operation")
)

// Denial reasons reported in JoinResult.
const (
	ReasonAlreadyConnected = "already connected"
	ReasonCancelled        = "join cancelled"
	ReasonSignalingLost    = "signaling connection lost"
	ReasonLeft             = "left"
)

package signaling

import "errors"

var ErrLinkClosed = errors.New("signaling link closed")

// Link is a duplex, ordered message channel to the relay. Messages sent on a
// Link arrive in send order; Incoming is closed when the link goes down.
type Link interface {
	Send(msg *Message) error
	Incoming() <-chan *Message
	Close() error
}

//go:generate mockgen -destination=mocks/mock_link.go -package=mocks github.com/BioHazard786/roomlink/internal/signaling Link

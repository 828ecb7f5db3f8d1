// Package signalingtest provides an in-memory signaling.Link pair for tests.
package signalingtest

import (
	"sync"

	"github.com/BioHazard786/roomlink/internal/signaling"
)

const pipeBuffer = 256

type pipe struct {
	mu     sync.Mutex
	closed bool
	ab, ba chan *signaling.Message
}

// End is one side of a Pipe.
type End struct {
	p   *pipe
	in  chan *signaling.Message
	out chan *signaling.Message
}

// Pipe returns two connected Links. Closing either end closes both.
func Pipe() (*End, *End) {
	p := &pipe{
		ab: make(chan *signaling.Message, pipeBuffer),
		ba: make(chan *signaling.Message, pipeBuffer),
	}
	return &End{p: p, in: p.ba, out: p.ab}, &End{p: p, in: p.ab, out: p.ba}
}

func (e *End) Send(msg *signaling.Message) error {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if e.p.closed {
		return signaling.ErrLinkClosed
	}
	e.out <- msg
	return nil
}

func (e *End) Incoming() <-chan *signaling.Message {
	return e.in
}

func (e *End) Close() error {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if !e.p.closed {
		e.p.closed = true
		close(e.p.ab)
		close(e.p.ba)
	}
	return nil
}

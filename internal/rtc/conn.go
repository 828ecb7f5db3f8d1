// Package rtc wraps the peer-to-peer transport behind a small interface so the
// room controller can drive handshakes without knowing about ICE or SDP.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrChannelNotOpen = errors.New("data channel not open")

// Signal types.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

// State is the transport readiness of one Conn.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Signal is one handshake message relayed between the two ends of a Conn.
type Signal struct {
	Type      string          `json:"type"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Stats is a best-effort snapshot of a Conn's counters.
type Stats struct {
	PeerID           string
	State            State
	BytesSent        uint64
	BytesReceived    uint64
	MessagesSent     uint32
	MessagesReceived uint32
	RoundTripTime    time.Duration
	Timestamp        time.Time
}

// Add accumulates counters from o; the round trip time keeps the larger value.
func (s Stats) Add(o Stats) Stats {
	s.BytesSent += o.BytesSent
	s.BytesReceived += o.BytesReceived
	s.MessagesSent += o.MessagesSent
	s.MessagesReceived += o.MessagesReceived
	s.RoundTripTime = max(s.RoundTripTime, o.RoundTripTime)
	if o.Timestamp.After(s.Timestamp) {
		s.Timestamp = o.Timestamp
	}
	return s
}

// Handlers receive a Conn's events. They are called from transport
// goroutines and must not block.
type Handlers struct {
	OnSignal  func(Signal)
	OnState   func(State)
	OnMessage func([]byte)
}

// Factory builds Conns. Prepare runs once before the first NewConn and is
// where local media and codecs are set up.
type Factory interface {
	Prepare(ctx context.Context) error
	NewConn(localID, remoteID string, h Handlers) (Conn, error)
}

// Conn is one peer-to-peer transport with an ordered, reliable data channel.
type Conn interface {
	// Start makes this end the offerer.
	Start() error
	HandleSignal(s Signal) error
	Send(data []byte) error
	IsOpen() bool
	BufferedAmount() uint64
	// OnBufferedAmountLow registers f to run whenever the send buffer drains
	// below threshold.
	OnBufferedAmountLow(threshold uint64, f func())
	Stats() Stats
	// Close releases the transport. It is idempotent and does not report
	// the closing through OnState.
	Close() error
}

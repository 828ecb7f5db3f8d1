package room

import (
	"time"

	"github.com/BioHazard786/roomlink/internal/rtc"
)

// SessionState is the handshake state of the transport to one peer.
type SessionState int

const (
	SessionNew SessionState = iota
	SessionNegotiating
	SessionActive
	SessionClosed
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionNew:
		return "new"
	case SessionNegotiating:
		return "negotiating"
	case SessionActive:
		return "active"
	case SessionClosed:
		return "closed"
	case SessionFailed:
		return "failed"
	}
	return "unknown"
}

// peerSession wraps the transport to one peer. Fields are guarded by the
// controller lock; gen tells callbacks of a replaced transport apart from
// the current one.
type peerSession struct {
	peerID string
	gen    uint64
	conn   rtc.Conn
	state  SessionState
	timer  *time.Timer
	// held is set while the remote keeps us on its waiting list; no
	// negotiation timer runs until its offer arrives.
	held bool

	// Local view of the remote's mute flags.
	audioMuted bool
	videoMuted bool

	stats rtc.Stats
}

// advance applies a transport state to the handshake state and reports
// whether it changed.
func (s *peerSession) advance(st rtc.State) bool {
	prev := s.state
	switch st {
	case rtc.StateConnecting:
		if s.state == SessionNew {
			s.state = SessionNegotiating
		}
	case rtc.StateOpen:
		if s.state == SessionNew || s.state == SessionNegotiating {
			s.state = SessionActive
		}
	case rtc.StateClosed:
		s.state = SessionClosed
	case rtc.StateFailed:
		if s.state != SessionClosed {
			s.state = SessionFailed
		}
	}
	if s.state == SessionActive || s.state == SessionClosed || s.state == SessionFailed {
		s.stopTimer()
	}
	return s.state != prev
}

func (s *peerSession) negotiating() bool {
	return s.state == SessionNew || s.state == SessionNegotiating
}

func (s *peerSession) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

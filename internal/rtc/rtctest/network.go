// Package rtctest provides an in-memory rtc.Factory for tests. Conns built
// by factories that share a Network connect to each other as soon as an
// offer and its answer have been exchanged.
package rtctest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BioHazard786/roomlink/internal/rtc"
)

const inboxSize = 4096

type key struct{ local, remote string }

// Network links the Conns of every Factory built from it.
type Network struct {
	mu    sync.Mutex
	conns map[key]*Conn
}

func NewNetwork() *Network {
	return &Network{conns: make(map[key]*Conn)}
}

// Factory returns a new factory attached to n.
func (n *Network) Factory() *Factory {
	return &Factory{n: n}
}

// Conn returns the live Conn local built towards remote.
func (n *Network) Conn(local, remote string) (*Conn, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.conns[key{local, remote}]
	return c, ok
}

// Fail moves the Conn local built towards remote to StateFailed, as if ICE
// gave up.
func (n *Network) Fail(local, remote string) {
	if c, ok := n.Conn(local, remote); ok {
		c.setState(rtc.StateFailed)
	}
}

// Factory is an rtc.Factory over a Network.
type Factory struct {
	n        *Network
	prepared atomic.Int32

	// PrepareErr, when set, is returned from Prepare.
	PrepareErr error
	// Silent conns answer offers but never open, to exercise negotiation
	// timeouts.
	Silent bool
}

func (f *Factory) Prepare(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.prepared.Add(1)
	return f.PrepareErr
}

// Prepared reports how many times Prepare ran.
func (f *Factory) Prepared() int {
	return int(f.prepared.Load())
}

func (f *Factory) NewConn(localID, remoteID string, h rtc.Handlers) (rtc.Conn, error) {
	if localID == "" || remoteID == "" {
		return nil, fmt.Errorf("new conn: empty peer id")
	}
	c := &Conn{
		n:      f.n,
		silent: f.Silent,
		local:  localID,
		remote: remoteID,
		h:      h,
		inbox:  make(chan func(), inboxSize),
		done:   make(chan struct{}),
	}
	go c.loop()

	f.n.mu.Lock()
	f.n.conns[key{localID, remoteID}] = c
	f.n.mu.Unlock()
	return c, nil
}

// Conn is an in-memory rtc.Conn. Handlers run in order on one goroutine
// per Conn.
type Conn struct {
	n             *Network
	silent        bool
	local, remote string
	h             rtc.Handlers
	inbox         chan func()
	done          chan struct{}

	mu     sync.Mutex
	state  rtc.State
	closed bool
	peer   *Conn
	stats  rtc.Stats
}

func (c *Conn) loop() {
	for {
		select {
		case f := <-c.inbox:
			f()
		case <-c.done:
			return
		}
	}
}

func (c *Conn) post(f func()) {
	select {
	case c.inbox <- f:
	case <-c.done:
	}
}

func (c *Conn) Start() error {
	c.setState(rtc.StateConnecting)
	c.signal(rtc.Signal{Type: rtc.SignalOffer, SDP: fmt.Sprintf("offer %s>%s", c.local, c.remote)})
	return nil
}

func (c *Conn) HandleSignal(s rtc.Signal) error {
	switch s.Type {
	case rtc.SignalOffer:
		c.setState(rtc.StateConnecting)
		if !c.silent {
			c.signal(rtc.Signal{Type: rtc.SignalAnswer, SDP: fmt.Sprintf("answer %s>%s", c.local, c.remote)})
		}
		return nil
	case rtc.SignalAnswer:
		peer, ok := c.n.Conn(c.remote, c.local)
		if !ok {
			return fmt.Errorf("answer from %s: no conn", c.remote)
		}
		c.link(peer)
		return nil
	case rtc.SignalCandidate:
		return nil
	}
	return fmt.Errorf("unexpected signal type %q", s.Type)
}

func (c *Conn) link(peer *Conn) {
	c.mu.Lock()
	c.peer = peer
	c.mu.Unlock()
	peer.mu.Lock()
	peer.peer = c
	peer.mu.Unlock()

	c.setState(rtc.StateOpen)
	peer.setState(rtc.StateOpen)
}

func (c *Conn) signal(s rtc.Signal) {
	if c.h.OnSignal != nil {
		c.post(func() { c.h.OnSignal(s) })
	}
}

func (c *Conn) setState(s rtc.State) {
	c.mu.Lock()
	if c.closed || c.state == s || c.state == rtc.StateClosed || (c.state == rtc.StateFailed && s != rtc.StateClosed) {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	if c.h.OnState != nil {
		c.post(func() { c.h.OnState(s) })
	}
}

func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	if c.closed || c.state != rtc.StateOpen || c.peer == nil {
		c.mu.Unlock()
		return rtc.ErrChannelNotOpen
	}
	peer := c.peer
	c.stats.BytesSent += uint64(len(data))
	c.stats.MessagesSent++
	c.mu.Unlock()

	buf := append([]byte(nil), data...)
	peer.deliver(buf)
	return nil
}

func (c *Conn) deliver(data []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stats.BytesReceived += uint64(len(data))
	c.stats.MessagesReceived++
	c.mu.Unlock()

	if c.h.OnMessage != nil {
		c.post(func() { c.h.OnMessage(data) })
	}
}

func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.state == rtc.StateOpen
}

func (c *Conn) BufferedAmount() uint64 { return 0 }

func (c *Conn) OnBufferedAmountLow(uint64, func()) {}

func (c *Conn) Stats() rtc.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.PeerID = c.remote
	s.State = c.state
	s.RoundTripTime = time.Millisecond
	s.Timestamp = time.Now()
	return s
}

// Close tears down this end; a linked peer sees StateClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = rtc.StateClosed
	peer := c.peer
	c.mu.Unlock()
	close(c.done)

	c.n.mu.Lock()
	if c.n.conns[key{c.local, c.remote}] == c {
		delete(c.n.conns, key{c.local, c.remote})
	}
	c.n.mu.Unlock()

	if peer != nil {
		peer.setState(rtc.StateClosed)
	}
	return nil
}

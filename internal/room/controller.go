// Package room is the session controller: it joins a room through the
// relay, keeps the peer registry, drives one transport per peer and
// delivers every event to the registered handlers in order.
//
// Controller state is mutated under one lock and events are queued under
// that same lock, so observers see events in the order the state changed.
// Handlers run on a single dispatcher goroutine and may call back into the
// Controller.
package room

import (
	"context"
	"sync"
	"time"

	"github.com/BioHazard786/roomlink/internal/config"
	"github.com/BioHazard786/roomlink/internal/filetransfer"
	"github.com/BioHazard786/roomlink/internal/observer"
	"github.com/BioHazard786/roomlink/internal/rtc"
	"github.com/BioHazard786/roomlink/internal/signaling"
	"github.com/BioHazard786/roomlink/internal/value"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// State is the controller's membership state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// signalTimeout bounds the wait for the relay's answer to join_room.
const signalTimeout = 30 * time.Second

// Dialer opens the signaling link to serverURL.
type Dialer func(ctx context.Context, serverURL string) (signaling.Link, error)

type Option func(*Controller)

// WithLogger sets the controller's logger. The default discards.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Controller) { c.dial = d }
}

// WithClientType tags this client in join requests.
func WithClientType(t string) Option {
	return func(c *Controller) { c.clientType = t }
}

type roomInfo struct {
	id        string
	locked    bool
	recording bool
	maxPeers  int
	createdAt time.Time
}

type Controller struct {
	serverURL  string
	session    config.Session
	factory    rtc.Factory
	dial       Dialer
	clientType string
	log        zerolog.Logger
	events     *observer.Dispatcher

	lifecycleH observer.Slot[LifecycleHandler]
	peerH      observer.Slot[PeerHandler]
	mediaH     observer.Slot[MediaHandler]
	messageH   observer.Slot[MessageHandler]
	transferH  observer.Slot[TransferHandler]
	statsH     observer.Slot[StatsHandler]

	mu          sync.Mutex
	state       State
	cancelJoin  context.CancelFunc
	leaving     bool
	pendingDone []func()
	link        signaling.Link
	readDone    chan struct{}
	room        roomInfo
	selfID      string
	userInfo    value.Value
	localMedia  Media
	registry    *Registry
	sessions    map[string]*peerSession
	waiting     []signaling.PeerInfo
	gen         uint64
	engine      *filetransfer.Engine
	stopStats   context.CancelFunc
	statsLoop   conc.WaitGroup
}

// New builds an idle controller for the relay at cfg.ServerURL.
func New(cfg *config.Config, factory rtc.Factory, opts ...Option) *Controller {
	c := &Controller{
		serverURL:  cfg.ServerURL,
		session:    cfg.Session,
		factory:    factory,
		clientType: "cli",
		log:        zerolog.Nop(),
		events:     observer.NewDispatcher(),
		registry:   NewRegistry(),
		sessions:   make(map[string]*peerSession),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("module", "room").Logger()
	if c.dial == nil {
		c.dial = func(ctx context.Context, serverURL string) (signaling.Link, error) {
			return signaling.Dial(ctx, serverURL, c.log)
		}
	}
	c.localMedia = Media{
		HasAudio:    c.session.SendAudio,
		AudioStereo: c.session.SendAudio && c.session.AudioCodec == config.CodecOpus,
		HasVideo:    c.session.SendVideo,
	}
	return c
}

// Close stops event delivery once queued events have run. Call it after
// Leave has completed.
func (c *Controller) Close() {
	c.events.Close()
	<-c.events.Done()
}

func (c *Controller) SetLifecycleHandler(h LifecycleHandler) *observer.Handle {
	return c.lifecycleH.Set(h)
}

func (c *Controller) SetPeerHandler(h PeerHandler) *observer.Handle {
	return c.peerH.Set(h)
}

func (c *Controller) SetMediaHandler(h MediaHandler) *observer.Handle {
	return c.mediaH.Set(h)
}

func (c *Controller) SetMessageHandler(h MessageHandler) *observer.Handle {
	return c.messageH.Set(h)
}

func (c *Controller) SetTransferHandler(h TransferHandler) *observer.Handle {
	return c.transferH.Set(h)
}

func (c *Controller) SetStatsHandler(h StatsHandler) *observer.Handle {
	return c.statsH.Set(h)
}

// Events are posted with the handler looked up at delivery time.

func (c *Controller) emitLifecycle(f func(LifecycleHandler)) {
	c.events.Post(func() {
		if h, ok := c.lifecycleH.Get(); ok {
			f(h)
		}
	})
}

func (c *Controller) emitPeer(f func(PeerHandler)) {
	c.events.Post(func() {
		if h, ok := c.peerH.Get(); ok {
			f(h)
		}
	})
}

func (c *Controller) emitMedia(f func(MediaHandler)) {
	c.events.Post(func() {
		if h, ok := c.mediaH.Get(); ok {
			f(h)
		}
	})
}

func (c *Controller) emitMessage(f func(MessageHandler)) {
	c.events.Post(func() {
		if h, ok := c.messageH.Get(); ok {
			f(h)
		}
	})
}

func (c *Controller) emitTransfer(f func(TransferHandler)) {
	c.events.Post(func() {
		if h, ok := c.transferH.Get(); ok {
			f(h)
		}
	})
}

func (c *Controller) emitStats(f func(StatsHandler)) {
	c.events.Post(func() {
		if h, ok := c.statsH.Get(); ok {
			f(h)
		}
	})
}

func (c *Controller) warnLocked(msg string) {
	c.log.Warn().Msg(msg)
	c.emitLifecycle(func(h LifecycleHandler) { h.OnWarning(msg) })
}

// State returns the membership state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room.id
}

func (c *Controller) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

func (c *Controller) IsLocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room.locked
}

func (c *Controller) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room.recording
}

// Peers returns a snapshot of the registry in arrival order.
func (c *Controller) Peers() []Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.All()
}

// SessionState reports the transport state for peerID.
func (c *Controller) SessionState(peerID string) (SessionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return 0, ErrNotConnected
	}
	s, ok := c.sessions[peerID]
	if !ok {
		return 0, ErrUnknownPeer
	}
	return s.state, nil
}

// checkPeerLocked validates the controller state and, when peerID is set,
// that it names an admitted peer.
func (c *Controller) checkPeerLocked(peerID string) error {
	if c.state != StateConnected {
		return ErrNotConnected
	}
	if peerID != "" && !c.registry.Has(peerID) {
		return ErrUnknownPeer
	}
	return nil
}

// later collects work that must run after the controller lock is released,
// such as starting or closing transports whose callbacks take the lock.
type later []func()

func (l *later) add(f func()) { *l = append(*l, f) }

// run takes a pointer so that "defer todo.run()" sees work added after the
// defer statement.
func (l *later) run() {
	for _, f := range *l {
		f()
	}
}

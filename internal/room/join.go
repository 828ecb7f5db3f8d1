package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BioHazard786/roomlink/internal/credentials"
	"github.com/BioHazard786/roomlink/internal/filetransfer"
	"github.com/BioHazard786/roomlink/internal/signaling"
	"github.com/BioHazard786/roomlink/internal/value"
	"github.com/sourcegraph/conc/pool"
)

// Join connects to the room named by src. A denial is reported in the
// result's Reason with a nil error; errors are reserved for failures to
// reach or talk to the relay. Either way OnConnected reports the outcome.
func (c *Controller) Join(ctx context.Context, src credentials.Source, userInfo value.Value) (JoinResult, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return JoinResult{Reason: ReasonAlreadyConnected}, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c.state = StateConnecting
	c.cancelJoin = cancel
	c.leaving = false
	c.userInfo = userInfo
	c.mu.Unlock()

	link, joined, reason, err := c.connect(ctx, src)
	if reason == "" && err == nil {
		return c.enter(ctx, link, joined)
	}

	if link != nil {
		link.Close()
	}
	if reason == "" {
		reason = err.Error()
	}
	c.failJoin(reason)
	return JoinResult{Reason: reason}, err
}

// connect resolves the credential, dials the relay and waits for its
// verdict on join_room.
func (c *Controller) connect(ctx context.Context, src credentials.Source) (signaling.Link, signaling.JoinedPayload, string, error) {
	var joined signaling.JoinedPayload

	p := pool.NewWithResults[credentials.Ticket]().WithErrors().WithContext(ctx)
	p.Go(func(context.Context) (credentials.Ticket, error) {
		return src.Resolve(c.serverURL)
	})
	tickets, err := p.Wait()
	if err != nil {
		if ctx.Err() != nil {
			return nil, joined, ReasonCancelled, ctx.Err()
		}
		return nil, joined, "", fmt.Errorf("resolve credentials: %w", err)
	}
	ticket := tickets[0]

	link, err := c.dial(ctx, ticket.ServerURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, joined, ReasonCancelled, ctx.Err()
		}
		return nil, joined, "", fmt.Errorf("connect to relay: %w", err)
	}

	msg, err := signaling.NewMessage(signaling.MessageTypeJoinRoom, signaling.JoinPayload{
		Room:       ticket.Room,
		Credential: ticket.Credential,
		Start:      credentials.FormatStart(ticket.Start),
		Duration:   ticket.Duration,
		RoomSize:   c.session.RoomCapacity(),
		ClientType: c.clientType,
	})
	if err != nil {
		return link, joined, "", err
	}
	if err := link.Send(msg); err != nil {
		return link, joined, "", fmt.Errorf("send join: %w", err)
	}

	timeout := time.NewTimer(signalTimeout)
	defer timeout.Stop()
	for {
		select {
		case <-ctx.Done():
			return link, joined, ReasonCancelled, ctx.Err()
		case <-timeout.C:
			return link, joined, "", errors.New("timed out waiting for the relay")
		case msg, ok := <-link.Incoming():
			if !ok {
				return link, joined, "", errors.New("relay closed the connection")
			}
			switch msg.Type {
			case signaling.MessageTypeJoined:
				if err := msg.Decode(&joined); err != nil {
					return link, joined, "", err
				}
				return link, joined, "", nil
			case signaling.MessageTypeJoinDenied:
				var d signaling.DenialPayload
				if err := msg.Decode(&d); err != nil {
					return link, joined, "", err
				}
				c.log.Info().Str("room", ticket.Room).Str("reason", d.Reason).Msg("join denied")
				return link, joined, d.Reason, nil
			case signaling.MessageTypeError:
				var e signaling.ErrorPayload
				if err := msg.Decode(&e); err != nil {
					return link, joined, "", err
				}
				return link, joined, "", fmt.Errorf("relay error: %s", e.Error)
			default:
				c.log.Debug().Str("type", msg.Type).Msg("ignoring message before join")
			}
		}
	}
}

// enter runs the media bootstrap, announces presence and moves to
// Connected with the relay's member list.
func (c *Controller) enter(ctx context.Context, link signaling.Link, joined signaling.JoinedPayload) (JoinResult, error) {
	fail := func(reason string, err error) (JoinResult, error) {
		c.sendLeave(link)
		link.Close()
		c.failJoin(reason)
		return JoinResult{Reason: reason}, err
	}

	if err := c.factory.Prepare(ctx); err != nil {
		if ctx.Err() != nil {
			return fail(ReasonCancelled, ctx.Err())
		}
		return fail("media bootstrap failed: "+err.Error(), fmt.Errorf("prepare media: %w", err))
	}

	c.mu.Lock()
	info := c.userInfo
	media := c.localMedia
	c.mu.Unlock()
	encoded, err := encodeUserInfo(info)
	if err != nil {
		return fail(err.Error(), err)
	}
	msg, err := signaling.NewMessage(signaling.MessageTypeEnter, signaling.EnterPayload{UserInfo: encoded, Media: media})
	if err != nil {
		return fail(err.Error(), err)
	}
	if err := link.Send(msg); err != nil {
		return fail(ReasonSignalingLost, fmt.Errorf("send enter: %w", err))
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return fail(ReasonCancelled, ctx.Err())
	}

	c.state = StateConnected
	c.cancelJoin()
	c.cancelJoin = nil
	c.link = link
	c.selfID = joined.SelfID
	c.room = roomInfo{
		id:        joined.RoomID,
		locked:    joined.Locked,
		recording: joined.Recording,
		maxPeers:  joined.MaxPeers,
		createdAt: joined.CreatedAt,
	}
	c.registry = NewRegistry()
	c.sessions = make(map[string]*peerSession)
	c.waiting = nil
	c.engine = filetransfer.New(transferChannels{c}, transferEvents{c}, filetransfer.Options{
		OutputDir: c.session.DownloadDir,
		Timeout:   c.session.TransferTimeoutDuration(),
		Logger:    c.log,
	})

	res := JoinResult{OK: true, RoomID: joined.RoomID, SelfID: joined.SelfID}
	c.emitLifecycle(func(h LifecycleHandler) { h.OnConnected(res) })
	c.log.Info().Str("room", joined.RoomID).Str("self", joined.SelfID).Msg("joined room")

	c.readDone = make(chan struct{})
	go c.readPump(link, c.readDone)
	c.startStatsLocked()
	c.mu.Unlock()
	return res, nil
}

// failJoin returns to Idle after a failed or cancelled join and runs any
// Leave completions that arrived meanwhile.
func (c *Controller) failJoin(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelJoin != nil {
		c.cancelJoin()
		c.cancelJoin = nil
	}
	c.state = StateIdle
	c.leaving = false
	res := JoinResult{Reason: reason}
	c.emitLifecycle(func(h LifecycleHandler) { h.OnConnected(res) })
	for _, f := range c.pendingDone {
		c.events.Post(f)
	}
	c.pendingDone = nil
}

// Leave disconnects from the room. onDone runs once on the event
// goroutine after every transport is closed. Calling Leave while idle or
// already disconnecting does nothing.
func (c *Controller) Leave(onDone func()) {
	if onDone == nil {
		onDone = func() {}
	}

	c.mu.Lock()
	switch c.state {
	case StateConnecting:
		if !c.leaving {
			c.leaving = true
			c.pendingDone = append(c.pendingDone, onDone)
			c.cancelJoin()
		}
		c.mu.Unlock()
		return
	case StateConnected:
		c.state = StateDisconnecting
		c.mu.Unlock()
		c.teardown(onDone, false, ReasonLeft)
	default:
		c.mu.Unlock()
	}
}

// teardown releases everything a connected controller holds. The caller
// has already moved the state to Disconnecting.
func (c *Controller) teardown(onDone func(), fromReader bool, reason string) {
	c.mu.Lock()
	engine := c.engine
	stopStats := c.stopStats
	link := c.link
	readDone := c.readDone
	c.stopStats = nil
	c.mu.Unlock()

	engine.Close()
	if stopStats != nil {
		stopStats()
	}
	c.statsLoop.Wait()

	var todo later
	c.mu.Lock()
	for _, p := range c.registry.All() {
		if s, ok := c.sessions[p.ID]; ok {
			s.stopTimer()
			if s.conn != nil {
				todo.add(func() { s.conn.Close() })
			}
		}
	}
	c.sessions = make(map[string]*peerSession)
	c.registry = NewRegistry()
	c.waiting = nil
	c.mu.Unlock()
	todo.run()

	c.sendLeave(link)
	link.Close()
	if !fromReader {
		<-readDone
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
	c.link = nil
	c.engine = nil
	c.room = roomInfo{}
	c.selfID = ""
	c.log.Info().Str("reason", reason).Msg("left room")
	c.emitLifecycle(func(h LifecycleHandler) { h.OnDisconnected(reason) })
	if onDone != nil {
		c.events.Post(onDone)
	}
}

func (c *Controller) sendLeave(link signaling.Link) {
	msg, err := signaling.NewMessage(signaling.MessageTypeLeave, nil)
	if err != nil {
		c.log.Error().Err(err).Msg("encode leave")
		return
	}
	if err := link.Send(msg); err != nil && !errors.Is(err, signaling.ErrLinkClosed) {
		c.log.Debug().Err(err).Msg("leave not sent")
	}
}

func (c *Controller) readPump(link signaling.Link, done chan struct{}) {
	defer close(done)
	for msg := range link.Incoming() {
		c.handleSignaling(msg)
	}

	c.mu.Lock()
	if c.link != link || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnecting
	c.mu.Unlock()
	c.teardown(nil, true, ReasonSignalingLost)
}

func encodeUserInfo(v value.Value) ([]byte, error) {
	if v.IsZero() {
		return nil, nil
	}
	data, err := value.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode user info: %w", err)
	}
	return data, nil
}

func decodeUserInfo(data []byte) value.Value {
	v, err := value.Unmarshal(data)
	if err != nil {
		return value.Value{}
	}
	return v
}

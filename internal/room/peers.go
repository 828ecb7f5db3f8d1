package room

import (
	"errors"
	"fmt"
	"time"

	"github.com/BioHazard786/roomlink/internal/filetransfer"
	"github.com/BioHazard786/roomlink/internal/protocol"
	"github.com/BioHazard786/roomlink/internal/rtc"
	"github.com/BioHazard786/roomlink/internal/signaling"
)

const (
	reasonConnFailed         = "connection failed"
	reasonNegotiationTimeout = "negotiation timed out"
)

// handleSignaling applies one relay message. It runs on the read pump.
func (c *Controller) handleSignaling(msg *signaling.Message) {
	var todo later
	defer todo.run()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return
	}

	var err error
	switch msg.Type {
	case signaling.MessageTypePeers:
		// Members present before our enter offer to us.
		var p signaling.PeersPayload
		if err = msg.Decode(&p); err == nil {
			for _, info := range p.Peers {
				c.admitLocked(info, false, &todo)
			}
		}

	case signaling.MessageTypePeerJoined:
		var p signaling.PeerInfo
		if err = msg.Decode(&p); err == nil {
			c.admitLocked(p, true, &todo)
		}

	case signaling.MessageTypePeerLeft:
		var p signaling.PeerLeftPayload
		if err = msg.Decode(&p); err == nil {
			reason := p.Reason
			if reason == "" {
				reason = ReasonLeft
			}
			c.peerLeftLocked(p.ID, reason, &todo)
		}

	case signaling.MessageTypeSignal:
		var p signaling.SignalPayload
		if err = msg.Decode(&p); err == nil {
			c.signalLocked(msg.From, p, &todo)
		}

	case signaling.MessageTypeCustom:
		var p signaling.CustomPayload
		if err = msg.Decode(&p); err == nil {
			v := decodeUserInfo(p.Data)
			from, public := msg.From, p.Public
			c.emitMessage(func(h MessageHandler) { h.OnCustomMessage(from, v, public) })
		}

	case signaling.MessageTypeMedia:
		var p Media
		if err = msg.Decode(&p); err == nil && msg.From != c.selfID {
			c.mediaLocked(msg.From, p)
		}

	case signaling.MessageTypeUserInfo:
		var p signaling.UserInfoPayload
		if err = msg.Decode(&p); err == nil {
			if peer, ok := c.registry.Get(msg.From); ok {
				peer.UserInfo = decodeUserInfo(p.Data)
				c.registry.Update(peer)
				info := peer.UserInfo
				c.emitPeer(func(h PeerHandler) { h.OnUserInfo(peer.ID, info) })
			}
		}

	case signaling.MessageTypeLock:
		var p signaling.LockPayload
		if err = msg.Decode(&p); err == nil && p.Locked != c.room.locked {
			c.room.locked = p.Locked
			from := msg.From
			c.emitLifecycle(func(h LifecycleHandler) { h.OnLockChanged(p.Locked, from) })
		}

	case signaling.MessageTypeRecording:
		var p signaling.RecordingPayload
		if err = msg.Decode(&p); err == nil && p.Active != c.room.recording {
			c.room.recording = p.Active
			c.emitLifecycle(func(h LifecycleHandler) { h.OnRecordingChanged(p.Active) })
		}

	case signaling.MessageTypeError:
		var p signaling.ErrorPayload
		if err = msg.Decode(&p); err == nil {
			c.warnLocked("relay: " + p.Error)
		}

	default:
		c.log.Debug().Str("type", msg.Type).Msg("unhandled signaling message")
	}

	if err != nil {
		c.log.Warn().Err(err).Str("from", msg.From).Msg("malformed signaling message")
	}
}

// admitLocked registers a peer and builds its session. initiator makes
// this end send the offer.
func (c *Controller) admitLocked(info signaling.PeerInfo, initiator bool, todo *later) {
	if info.ID == "" || info.ID == c.selfID {
		return
	}
	if c.registry.Has(info.ID) {
		c.warnLocked(fmt.Sprintf("peer %s is already in the room", info.ID))
		return
	}
	if limit := c.session.MaxPeerCount; limit > 0 && c.registry.Len() >= limit {
		for _, w := range c.waiting {
			if w.ID == info.ID {
				return
			}
		}
		c.waiting = append(c.waiting, info)
		c.warnLocked(fmt.Sprintf("peer limit of %d reached, %s is waiting", limit, info.ID))
		link, id := c.link, info.ID
		todo.add(func() { c.sendSignal(link, id, signaling.SignalPayload{Type: signaling.SignalHold}) })
		return
	}

	p := Peer{
		ID:       info.ID,
		UserInfo: decodeUserInfo(info.UserInfo),
		Media:    info.Media,
		JoinedAt: time.Now(),
	}
	if err := c.registry.Add(p); err != nil {
		c.warnLocked(err.Error())
		return
	}
	c.log.Info().Str("peer", p.ID).Bool("initiator", initiator).Msg("peer joined")
	c.emitPeer(func(h PeerHandler) { h.OnPeerJoined(p) })
	c.newSessionLocked(p.ID, initiator, todo)
}

// newSessionLocked builds a transport towards peerID, replacing any
// previous one.
func (c *Controller) newSessionLocked(peerID string, initiator bool, todo *later) {
	if old, ok := c.sessions[peerID]; ok {
		old.stopTimer()
		if old.conn != nil {
			conn := old.conn
			todo.add(func() { conn.Close() })
		}
	}

	c.gen++
	gen := c.gen
	s := &peerSession{peerID: peerID, gen: gen, state: SessionNew}
	c.sessions[peerID] = s

	conn, err := c.factory.NewConn(c.selfID, peerID, rtc.Handlers{
		OnSignal:  func(sig rtc.Signal) { c.onConnSignal(peerID, gen, sig) },
		OnState:   func(st rtc.State) { c.onConnState(peerID, gen, st) },
		OnMessage: func(data []byte) { c.onConnMessage(peerID, gen, data) },
	})
	if err != nil {
		s.state = SessionFailed
		c.warnLocked(fmt.Sprintf("transport to %s: %v", peerID, err))
		return
	}
	s.conn = conn
	c.armLocked(s)

	if initiator {
		todo.add(func() {
			if err := conn.Start(); err != nil {
				c.log.Error().Err(err).Str("peer", peerID).Msg("start negotiation")
				c.onConnState(peerID, gen, rtc.StateFailed)
			}
		})
	}
}

// armLocked (re)starts the negotiation timer of s.
func (c *Controller) armLocked(s *peerSession) {
	s.stopTimer()
	peerID, gen := s.peerID, s.gen
	s.timer = time.AfterFunc(c.session.NegotiationTimeout, func() { c.onNegotiationTimeout(peerID, gen) })
}

// removePeerLocked drops a peer and its session, then admits the oldest
// waiting peer if a slot opened.
func (c *Controller) removePeerLocked(peerID, reason string, todo *later) {
	if s, ok := c.sessions[peerID]; ok {
		delete(c.sessions, peerID)
		s.stopTimer()
		if s.conn != nil {
			conn := s.conn
			todo.add(func() { conn.Close() })
		}
	}
	if !c.registry.Remove(peerID) {
		return
	}
	c.engine.PeerGone(peerID, filetransfer.ReasonDisconnected)
	c.log.Info().Str("peer", peerID).Str("reason", reason).Msg("peer left")
	c.emitPeer(func(h PeerHandler) { h.OnPeerLeft(peerID, reason) })
	c.promoteLocked(todo)
}

func (c *Controller) peerLeftLocked(peerID, reason string, todo *later) {
	for i, w := range c.waiting {
		if w.ID == peerID {
			c.waiting = append(c.waiting[:i], c.waiting[i+1:]...)
			return
		}
	}
	c.removePeerLocked(peerID, reason, todo)
}

func (c *Controller) promoteLocked(todo *later) {
	for len(c.waiting) > 0 {
		if limit := c.session.MaxPeerCount; limit > 0 && c.registry.Len() >= limit {
			return
		}
		next := c.waiting[0]
		c.waiting = c.waiting[1:]
		c.admitLocked(next, true, todo)
	}
}

// signalLocked routes a handshake message to the session it belongs to.
// A restart replaces the session; the remote offers on the new one.
func (c *Controller) signalLocked(from string, p signaling.SignalPayload, todo *later) {
	s, ok := c.sessions[from]
	if !ok {
		c.log.Debug().Str("from", from).Str("signal", p.Type).Msg("signal for unknown peer")
		return
	}

	switch p.Type {
	case signaling.SignalRestart:
		c.log.Info().Str("peer", from).Msg("remote restarted the connection")
		c.engine.PeerGone(from, filetransfer.ReasonChannel)
		c.newSessionLocked(from, false, todo)
		return

	case signaling.SignalHold:
		// Drop any offer in flight and wait for the remote to admit us.
		c.log.Info().Str("peer", from).Msg("waiting for a slot at peer")
		c.newSessionLocked(from, false, todo)
		if ns := c.sessions[from]; ns.conn != nil {
			ns.stopTimer()
			ns.held = true
		}
		return
	}

	if s.conn == nil {
		return
	}
	if s.held {
		s.held = false
		c.armLocked(s)
	}
	conn := s.conn
	sig := rtc.Signal{Type: p.Type, SDP: p.SDP, Candidate: p.Candidate}
	todo.add(func() {
		if err := conn.HandleSignal(sig); err != nil {
			c.log.Warn().Err(err).Str("peer", from).Str("signal", sig.Type).Msg("handle signal")
		}
	})
}

func (c *Controller) mediaLocked(peerID string, m Media) {
	peer, ok := c.registry.Get(peerID)
	if !ok {
		return
	}
	prev := peer.Media
	peer.Media = m
	c.registry.Update(peer)

	if s, ok := c.sessions[peerID]; ok {
		s.audioMuted = m.AudioMuted
		s.videoMuted = m.VideoMuted
	}
	if prev.AudioMuted != m.AudioMuted {
		c.emitMedia(func(h MediaHandler) { h.OnAudioToggled(peerID, m.AudioMuted) })
	}
	if prev.VideoMuted != m.VideoMuted {
		c.emitMedia(func(h MediaHandler) { h.OnVideoToggled(peerID, m.VideoMuted) })
	}
	if prev.VideoWidth != m.VideoWidth || prev.VideoHeight != m.VideoHeight || prev.FrameRate != m.FrameRate {
		r := Resolution{Width: m.VideoWidth, Height: m.VideoHeight, FrameRate: m.FrameRate}
		c.emitMedia(func(h MediaHandler) { h.OnVideoSizeChanged(peerID, r) })
	}
}

// current returns the live session for peerID when gen still names it.
func (c *Controller) currentLocked(peerID string, gen uint64) (*peerSession, bool) {
	if c.state != StateConnected {
		return nil, false
	}
	s, ok := c.sessions[peerID]
	if !ok || s.gen != gen {
		return nil, false
	}
	return s, true
}

func (c *Controller) onConnSignal(peerID string, gen uint64, sig rtc.Signal) {
	c.mu.Lock()
	_, ok := c.currentLocked(peerID, gen)
	link := c.link
	c.mu.Unlock()
	if !ok {
		return
	}
	c.sendSignal(link, peerID, signaling.SignalPayload{Type: sig.Type, SDP: sig.SDP, Candidate: sig.Candidate})
}

func (c *Controller) sendSignal(link signaling.Link, peerID string, p signaling.SignalPayload) {
	msg, err := signaling.NewMessage(signaling.MessageTypeSignal, p)
	if err != nil {
		c.log.Error().Err(err).Msg("encode signal")
		return
	}
	msg.To = peerID
	if err := link.Send(msg); err != nil && !errors.Is(err, signaling.ErrLinkClosed) {
		c.log.Warn().Err(err).Str("peer", peerID).Msg("send signal")
	}
}

func (c *Controller) onConnState(peerID string, gen uint64, st rtc.State) {
	var todo later
	defer todo.run()

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.currentLocked(peerID, gen)
	if !ok || !s.advance(st) {
		return
	}
	c.log.Debug().Str("peer", peerID).Stringer("session", s.state).Msg("session state")

	switch s.state {
	case SessionFailed:
		c.removePeerLocked(peerID, reasonConnFailed, &todo)
	case SessionClosed:
		// The relay's peer_left removes the peer; a refresh may follow.
		c.engine.PeerGone(peerID, filetransfer.ReasonChannel)
	}
}

func (c *Controller) onNegotiationTimeout(peerID string, gen uint64) {
	var todo later
	defer todo.run()

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.currentLocked(peerID, gen)
	if !ok || !s.negotiating() {
		return
	}
	s.state = SessionFailed
	c.warnLocked(fmt.Sprintf("negotiation with %s timed out", peerID))
	c.removePeerLocked(peerID, reasonNegotiationTimeout, &todo)
}

// onConnMessage handles one data-channel frame. Frames from a peer arrive
// in order on that peer's transport goroutine.
func (c *Controller) onConnMessage(peerID string, gen uint64, data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		c.log.Warn().Err(err).Str("peer", peerID).Msg("bad data channel frame")
		return
	}

	c.mu.Lock()
	s, ok := c.currentLocked(peerID, gen)
	if !ok {
		c.mu.Unlock()
		return
	}
	engine := c.engine
	conn := s.conn

	switch msg.Type {
	case protocol.MessageTypeDC:
		var p protocol.DCPayload
		if err := msg.DecodePayload(&p); err != nil {
			c.mu.Unlock()
			c.log.Warn().Err(err).Str("peer", peerID).Msg("decode dc message")
			return
		}
		c.emitMessage(func(h MessageHandler) { h.OnDCMessage(peerID, p.Data, p.Public) })
		c.mu.Unlock()
		return

	case protocol.MessageTypeBinary:
		var b []byte
		if err := msg.DecodePayload(&b); err != nil {
			c.mu.Unlock()
			c.log.Warn().Err(err).Str("peer", peerID).Msg("decode binary")
			return
		}
		b = protocol.Truncate(b)
		c.emitMessage(func(h MessageHandler) { h.OnBinaryData(peerID, b) })
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// The engine looks channels up through the controller, so it runs
	// without the lock.
	if !c.session.FileTransfer {
		if msg.Type == protocol.MessageTypeFileRequest {
			refuseTransfer(conn, msg)
		}
		return
	}
	if err := engine.HandleFrame(peerID, msg); err != nil {
		c.log.Warn().Err(err).Str("peer", peerID).Msg("file transfer frame")
	}
}

func refuseTransfer(conn rtc.Conn, msg protocol.Message) {
	var p protocol.FileRequestPayload
	if msg.DecodePayload(&p) != nil {
		return
	}
	data, err := protocol.Encode(protocol.MessageTypeFileCancel, protocol.FileCancelPayload{
		FileName: p.FileName,
		Reason:   filetransfer.ReasonCancelled,
		Explicit: true,
	})
	if err == nil {
		conn.Send(data)
	}
}

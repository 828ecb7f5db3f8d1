package room

import (
	"errors"
	"fmt"

	"github.com/BioHazard786/roomlink/internal/filetransfer"
	"github.com/BioHazard786/roomlink/internal/signaling"
	"github.com/BioHazard786/roomlink/internal/value"
)

// MuteAudio sets the local audio mute flag and tells the room. Remote
// peers see OnAudioToggled; this controller's own handlers do not.
func (c *Controller) MuteAudio(muted bool) error {
	return c.updateMedia(func(m *Media) bool {
		if m.AudioMuted == muted {
			return false
		}
		m.AudioMuted = muted
		return true
	})
}

// MuteVideo is MuteAudio for video.
func (c *Controller) MuteVideo(muted bool) error {
	return c.updateMedia(func(m *Media) bool {
		if m.VideoMuted == muted {
			return false
		}
		m.VideoMuted = muted
		return true
	})
}

// SetVideoDimensions announces the local video size. Local stats handlers
// get OnResolutionChanged.
func (c *Controller) SetVideoDimensions(r Resolution) error {
	if r.Width < 0 || r.Height < 0 || r.FrameRate < 0 {
		return fmt.Errorf("video dimensions %dx%d@%g: %w", r.Width, r.Height, r.FrameRate, ErrInvalidState)
	}
	return c.updateMedia(func(m *Media) bool {
		if m.VideoWidth == r.Width && m.VideoHeight == r.Height && m.FrameRate == r.FrameRate {
			return false
		}
		m.VideoWidth, m.VideoHeight, m.FrameRate = r.Width, r.Height, r.FrameRate
		c.emitStats(func(h StatsHandler) { h.OnResolutionChanged(r) })
		return true
	})
}

// LocalMedia returns the local media snapshot.
func (c *Controller) LocalMedia() Media {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localMedia
}

// updateMedia applies f to the local media snapshot and broadcasts it when
// f reports a change.
func (c *Controller) updateMedia(f func(*Media) bool) error {
	c.mu.Lock()
	if err := c.checkPeerLocked(""); err != nil {
		c.mu.Unlock()
		return err
	}
	if !f(&c.localMedia) {
		c.mu.Unlock()
		return nil
	}
	media := c.localMedia
	link := c.link
	c.mu.Unlock()

	return c.broadcast(link, signaling.MessageTypeMedia, media)
}

// SetUserInfo replaces the local user info and broadcasts it.
func (c *Controller) SetUserInfo(v value.Value) error {
	data, err := encodeUserInfo(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if err := c.checkPeerLocked(""); err != nil {
		c.mu.Unlock()
		return err
	}
	c.userInfo = v
	link := c.link
	c.mu.Unlock()

	return c.broadcast(link, signaling.MessageTypeUserInfo, signaling.UserInfoPayload{Data: data})
}

// UserInfo returns the cached user info of peerID, or the local user info
// when peerID is empty.
func (c *Controller) UserInfo(peerID string) (value.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if peerID == "" {
		return c.userInfo, nil
	}
	p, ok := c.registry.Get(peerID)
	if !ok {
		return value.Value{}, ErrUnknownPeer
	}
	return p.UserInfo, nil
}

// Lock stops the relay from admitting new peers. Existing peers stay.
func (c *Controller) Lock() error {
	return c.setLocked(true)
}

func (c *Controller) Unlock() error {
	return c.setLocked(false)
}

func (c *Controller) setLocked(locked bool) error {
	c.mu.Lock()
	if err := c.checkPeerLocked(""); err != nil {
		c.mu.Unlock()
		return err
	}
	link := c.link
	if c.room.locked != locked {
		c.room.locked = locked
		self := c.selfID
		c.emitLifecycle(func(h LifecycleHandler) { h.OnLockChanged(locked, self) })
	}
	c.mu.Unlock()

	return c.broadcast(link, signaling.MessageTypeLock, signaling.LockPayload{Locked: locked})
}

func (c *Controller) StartRecording() error {
	return c.setRecording(true)
}

func (c *Controller) StopRecording() error {
	return c.setRecording(false)
}

func (c *Controller) setRecording(active bool) error {
	c.mu.Lock()
	if err := c.checkPeerLocked(""); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.room.recording == active {
		c.mu.Unlock()
		return fmt.Errorf("recording already %t: %w", active, ErrInvalidState)
	}
	c.room.recording = active
	link := c.link
	c.emitLifecycle(func(h LifecycleHandler) { h.OnRecordingChanged(active) })
	c.mu.Unlock()

	return c.broadcast(link, signaling.MessageTypeRecording, signaling.RecordingPayload{Active: active})
}

// RefreshConnection rebuilds the transport to peerID, or to every peer
// when peerID is empty. Peer records and user info are kept. The remote
// is told to restart and waits for this end's offer.
func (c *Controller) RefreshConnection(peerID string) error {
	var todo later

	c.mu.Lock()
	if err := c.checkPeerLocked(peerID); err != nil {
		c.mu.Unlock()
		return err
	}
	ids := []string{peerID}
	if peerID == "" {
		ids = ids[:0]
		for _, p := range c.registry.All() {
			ids = append(ids, p.ID)
		}
	}
	link := c.link
	refreshed := ids[:0]
	for _, id := range ids {
		if s, ok := c.sessions[id]; ok && s.held {
			// the remote offers when it admits us
			continue
		}
		refreshed = append(refreshed, id)
		c.log.Info().Str("peer", id).Msg("refreshing connection")
		c.engine.PeerGone(id, filetransfer.ReasonChannel)
		c.newSessionLocked(id, true, &todo)
	}
	c.mu.Unlock()

	// The restart must reach the remote before the new offer.
	for _, id := range refreshed {
		c.sendSignal(link, id, signaling.SignalPayload{Type: signaling.SignalRestart})
	}
	todo.run()
	return nil
}

func (c *Controller) broadcast(link signaling.Link, t string, payload any) error {
	msg, err := signaling.NewMessage(t, payload)
	if err != nil {
		return err
	}
	if err := link.Send(msg); err != nil {
		if errors.Is(err, signaling.ErrLinkClosed) {
			return ErrNotConnected
		}
		return fmt.Errorf("send %s: %w", t, err)
	}
	return nil
}

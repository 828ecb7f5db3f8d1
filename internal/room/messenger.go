package room

import (
	"fmt"

	"github.com/BioHazard786/roomlink/internal/protocol"
	"github.com/BioHazard786/roomlink/internal/rtc"
	"github.com/BioHazard786/roomlink/internal/signaling"
	"github.com/BioHazard786/roomlink/internal/value"
)

// SendCustomMessage relays v through the signaling server to peerID, or
// to every peer with an active session when peerID is empty. Delivery is
// best effort.
func (c *Controller) SendCustomMessage(v value.Value, peerID string) error {
	data, err := value.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode custom message: %w", err)
	}

	c.mu.Lock()
	if err := c.checkPeerLocked(peerID); err != nil {
		c.mu.Unlock()
		return err
	}
	link := c.link
	targets := []string{peerID}
	public := peerID == ""
	if public {
		targets = c.activePeersLocked()
	}
	c.mu.Unlock()

	for _, id := range targets {
		msg, err := signaling.NewMessage(signaling.MessageTypeCustom, signaling.CustomPayload{Data: data, Public: public})
		if err != nil {
			return err
		}
		msg.To = id
		if err := link.Send(msg); err != nil {
			return fmt.Errorf("send custom message: %w", err)
		}
	}
	return nil
}

// SendDCMessage sends v over the data channel of peerID, or of every peer
// when peerID is empty. It reports true only if every targeted channel
// took the message; a closed channel makes it false while the remaining
// sends still go out.
func (c *Controller) SendDCMessage(v value.Value, peerID string) (bool, error) {
	data, err := protocol.Encode(protocol.MessageTypeDC, protocol.DCPayload{Data: v, Public: peerID == ""})
	if err != nil {
		return false, err
	}
	conns, err := c.targets(peerID)
	if err != nil {
		return false, err
	}
	if len(conns) == 0 {
		return false, nil
	}

	ok := true
	for id, conn := range conns {
		if conn == nil || !conn.IsOpen() {
			ok = false
			continue
		}
		if err := conn.Send(data); err != nil {
			c.log.Debug().Err(err).Str("peer", id).Msg("dc message not sent")
			ok = false
		}
	}
	return ok, nil
}

// SendBinaryData sends data over the data channel. Payloads longer than
// protocol.MaxBinarySize are truncated to that length.
func (c *Controller) SendBinaryData(data []byte, peerID string) error {
	frame, err := protocol.Encode(protocol.MessageTypeBinary, protocol.Truncate(data))
	if err != nil {
		return err
	}
	conns, err := c.targets(peerID)
	if err != nil {
		return err
	}

	var firstErr error
	for id, conn := range conns {
		if conn == nil {
			continue
		}
		if err := conn.Send(frame); err != nil {
			c.log.Debug().Err(err).Str("peer", id).Msg("binary data not sent")
			if firstErr == nil {
				firstErr = fmt.Errorf("send binary to %s: %w", id, err)
			}
		}
	}
	return firstErr
}

// targets maps each addressed peer to its transport. A nil Conn means the
// peer has no usable transport.
func (c *Controller) targets(peerID string) (map[string]rtc.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkPeerLocked(peerID); err != nil {
		return nil, err
	}

	ids := []string{peerID}
	if peerID == "" {
		ids = ids[:0]
		for _, p := range c.registry.All() {
			ids = append(ids, p.ID)
		}
	}
	out := make(map[string]rtc.Conn, len(ids))
	for _, id := range ids {
		var conn rtc.Conn
		if s, ok := c.sessions[id]; ok {
			conn = s.conn
		}
		out[id] = conn
	}
	return out, nil
}

// activePeersLocked lists peers with an active session in arrival order.
func (c *Controller) activePeersLocked() []string {
	var ids []string
	for _, p := range c.registry.All() {
		if s, ok := c.sessions[p.ID]; ok && s.state == SessionActive {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

package relay

import (
	"github.com/BioHazard786/roomlink/internal/signaling"
	"github.com/rs/zerolog"
)

// Client is one connected peer as the hub sees it. Fields other than link
// are owned by the hub goroutine.
type Client struct {
	ID         string
	RoomID     string
	ClientType string

	link     signaling.Link
	entered  bool
	userInfo []byte
	media    signaling.MediaProperties
}

type inbound struct {
	client *Client
	msg    *signaling.Message
}

// readPump forwards the client's messages to the hub and unregisters the
// client when its link goes down.
func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()

	for msg := range c.link.Incoming() {
		select {
		case h.inbound <- inbound{client: c, msg: msg}:
		case <-h.done:
			return
		}
	}
}

// send queues msg for the client. A failed send closes the link; the read
// pump then unregisters it.
func (c *Client) send(msg *signaling.Message, log zerolog.Logger) {
	if err := c.link.Send(msg); err != nil {
		log.Debug().Err(err).Str("peer", c.ID).Str("type", msg.Type).Msg("send failed")
		c.link.Close()
	}
}

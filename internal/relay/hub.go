// Package relay is the signaling server: it admits peers to rooms and
// forwards their messages to each other.
package relay

import (
	"context"
	"time"

	"github.com/BioHazard786/roomlink/internal/config"
	"github.com/BioHazard786/roomlink/internal/credentials"
	"github.com/BioHazard786/roomlink/internal/signaling"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Denial reasons sent in join_denied.
const (
	DenyInvalidCredential = "invalid credential"
	DenyExpired           = "credential expired"
	DenyLocked            = "room locked"
	DenyFull              = "room full"
	DenyMissingRoom       = "room name required"
)

// Hub is the central brain of the signaling server. It owns every room
// and client and is only touched from the Run goroutine.
type Hub struct {
	cfg config.Server
	log zerolog.Logger
	now func() time.Time

	rooms   map[string]*Room
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	done       chan struct{}
}

func NewHub(cfg config.Server, logger zerolog.Logger) *Hub {
	return &Hub{
		cfg:        cfg,
		log:        logger.With().Str("module", "relay").Logger(),
		now:        time.Now,
		rooms:      make(map[string]*Room),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		done:       make(chan struct{}),
	}
}

// Attach hands a signaling link to the hub. It returns false once the hub
// has stopped.
func (h *Hub) Attach(link signaling.Link) bool {
	c := &Client{ID: uuid.NewString(), link: link}
	select {
	case h.register <- c:
	case <-h.done:
		link.Close()
		return false
	}
	go c.readPump(h)
	return true
}

// Run processes hub events until ctx is cancelled, then closes every link.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			c.link.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			peersConnected.Inc()
			h.log.Debug().Str("peer", c.ID).Msg("client registered")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; !ok {
				continue
			}
			delete(h.clients, c)
			peersConnected.Dec()
			h.leave(c, "disconnected")
			c.link.Close()
			h.log.Debug().Str("peer", c.ID).Msg("client unregistered")

		case in := <-h.inbound:
			h.handle(in.client, in.msg)
		}
	}
}

func (h *Hub) handle(c *Client, msg *signaling.Message) {
	switch msg.Type {
	case signaling.MessageTypeJoinRoom:
		var p signaling.JoinPayload
		if err := msg.Decode(&p); err != nil {
			h.sendError(c, err.Error())
			return
		}
		h.join(c, p)

	case signaling.MessageTypeEnter:
		var p signaling.EnterPayload
		if err := msg.Decode(&p); err != nil {
			h.sendError(c, err.Error())
			return
		}
		h.enter(c, p)

	case signaling.MessageTypeLeave:
		h.leave(c, "left")

	case signaling.MessageTypeSignal, signaling.MessageTypeCustom:
		room := h.roomOf(c)
		if room == nil {
			return
		}
		msg.From, msg.RoomID = c.ID, room.ID
		if msg.To == "" {
			if msg.Type == signaling.MessageTypeSignal {
				h.sendError(c, "signal requires a target")
				return
			}
			h.broadcast(room, c, msg)
			return
		}
		target := room.member(msg.To)
		if target == nil || !target.entered {
			h.log.Debug().Str("from", c.ID).Str("to", msg.To).Str("type", msg.Type).Msg("target not in room")
			return
		}
		messagesRelayed.WithLabelValues(msg.Type).Inc()
		target.send(msg, h.log)

	case signaling.MessageTypeMedia:
		room := h.roomOf(c)
		if room == nil {
			return
		}
		if err := msg.Decode(&c.media); err != nil {
			h.sendError(c, err.Error())
			return
		}
		h.forward(room, c, msg)

	case signaling.MessageTypeUserInfo:
		room := h.roomOf(c)
		if room == nil {
			return
		}
		var p signaling.UserInfoPayload
		if err := msg.Decode(&p); err != nil {
			h.sendError(c, err.Error())
			return
		}
		c.userInfo = p.Data
		h.forward(room, c, msg)

	case signaling.MessageTypeLock:
		room := h.roomOf(c)
		if room == nil {
			return
		}
		var p signaling.LockPayload
		if err := msg.Decode(&p); err != nil {
			h.sendError(c, err.Error())
			return
		}
		room.Locked = p.Locked
		h.log.Info().Str("room", room.ID).Bool("locked", p.Locked).Str("by", c.ID).Msg("room lock changed")
		h.forward(room, c, msg)

	case signaling.MessageTypeRecording:
		room := h.roomOf(c)
		if room == nil {
			return
		}
		var p signaling.RecordingPayload
		if err := msg.Decode(&p); err != nil {
			h.sendError(c, err.Error())
			return
		}
		room.Recording = p.Active
		h.forward(room, c, msg)

	default:
		h.log.Debug().Str("type", msg.Type).Str("peer", c.ID).Msg("unknown message type")
	}
}

func (h *Hub) join(c *Client, p signaling.JoinPayload) {
	if c.RoomID != "" {
		h.sendError(c, "already in a room")
		return
	}
	if p.Room == "" {
		h.deny(c, p.Room, DenyMissingRoom)
		return
	}
	if reason := h.checkCredential(p); reason != "" {
		h.deny(c, p.Room, reason)
		return
	}

	room, ok := h.rooms[p.Room]
	if !ok {
		capacity := h.cfg.MaxRoomPeers
		if p.RoomSize > 0 && p.RoomSize < capacity {
			capacity = p.RoomSize
		}
		room = &Room{ID: p.Room, MaxPeers: capacity, CreatedAt: h.now().UTC()}
		h.rooms[p.Room] = room
		roomsActive.Inc()
		h.log.Info().Str("room", room.ID).Int("capacity", capacity).Msg("room created")
	}
	if room.Locked {
		h.deny(c, p.Room, DenyLocked)
		return
	}
	if room.full() {
		h.deny(c, p.Room, DenyFull)
		return
	}

	room.add(c)
	c.RoomID = room.ID
	c.ClientType = p.ClientType
	h.log.Info().Str("room", room.ID).Str("peer", c.ID).Str("client_type", c.ClientType).Msg("peer joined")

	msg, ok := h.newMessage(signaling.MessageTypeJoined, signaling.JoinedPayload{
		SelfID:    c.ID,
		RoomID:    room.ID,
		Locked:    room.Locked,
		Recording: room.Recording,
		MaxPeers:  room.MaxPeers,
		CreatedAt: room.CreatedAt,
	})
	if ok {
		c.send(msg, h.log)
	}
}

// checkCredential returns a denial reason, or "" when the ticket is
// acceptable. Without a configured secret every ticket is accepted.
func (h *Hub) checkCredential(p signaling.JoinPayload) string {
	if h.cfg.Secret == "" {
		return ""
	}
	start, err := time.Parse(time.RFC3339, p.Start)
	if err != nil || p.Credential == "" || p.Duration <= 0 {
		return DenyInvalidCredential
	}
	t := credentials.Ticket{Room: p.Room, Credential: p.Credential, Start: start, Duration: p.Duration}
	if !credentials.Verify(t, h.cfg.Secret) {
		return DenyInvalidCredential
	}
	if err := t.Check(h.now()); err != nil {
		return DenyExpired
	}
	return ""
}

func (h *Hub) enter(c *Client, p signaling.EnterPayload) {
	room := h.rooms[c.RoomID]
	if room == nil || c.entered {
		return
	}
	c.entered = true
	c.userInfo = p.UserInfo
	c.media = p.Media

	others := room.entered(c)
	present := make([]signaling.PeerInfo, 0, len(others))
	for _, m := range others {
		present = append(present, m.info())
	}
	if reply, ok := h.newMessage(signaling.MessageTypePeers, signaling.PeersPayload{Peers: present}); ok {
		c.send(reply, h.log)
	}

	announce, ok := h.newMessage(signaling.MessageTypePeerJoined, c.info())
	if !ok {
		return
	}
	announce.RoomID = room.ID
	for _, m := range others {
		m.send(announce, h.log)
	}
}

// leave removes c from its room and tells the remaining members.
func (h *Hub) leave(c *Client, reason string) {
	room := h.rooms[c.RoomID]
	c.RoomID = ""
	wasEntered := c.entered
	c.entered = false
	if room == nil || !room.remove(c) {
		return
	}

	if wasEntered {
		if msg, ok := h.newMessage(signaling.MessageTypePeerLeft, signaling.PeerLeftPayload{ID: c.ID, Reason: reason}); ok {
			msg.RoomID = room.ID
			for _, m := range room.members {
				m.send(msg, h.log)
			}
		}
	}
	h.log.Info().Str("room", room.ID).Str("peer", c.ID).Str("reason", reason).Msg("peer left")

	if len(room.members) == 0 {
		delete(h.rooms, room.ID)
		roomsActive.Dec()
		h.log.Info().Str("room", room.ID).Msg("room deleted")
	}
}

// forward sends msg to every entered member except the sender.
func (h *Hub) forward(room *Room, from *Client, msg *signaling.Message) {
	msg.From, msg.RoomID = from.ID, room.ID
	h.broadcast(room, from, msg)
}

func (h *Hub) broadcast(room *Room, from *Client, msg *signaling.Message) {
	messagesRelayed.WithLabelValues(msg.Type).Inc()
	for _, m := range room.entered(from) {
		m.send(msg, h.log)
	}
}

func (h *Hub) roomOf(c *Client) *Room {
	if !c.entered {
		h.sendError(c, "you must join a room first")
		return nil
	}
	return h.rooms[c.RoomID]
}

func (h *Hub) deny(c *Client, room, reason string) {
	joinDenials.WithLabelValues(reason).Inc()
	h.log.Info().Str("room", room).Str("peer", c.ID).Str("reason", reason).Msg("join denied")
	if msg, ok := h.newMessage(signaling.MessageTypeJoinDenied, signaling.DenialPayload{Reason: reason}); ok {
		c.send(msg, h.log)
	}
}

func (h *Hub) sendError(c *Client, text string) {
	if msg, ok := h.newMessage(signaling.MessageTypeError, signaling.ErrorPayload{Error: text}); ok {
		c.send(msg, h.log)
	}
}

// newMessage builds an outgoing frame. An encode failure is logged and the
// frame is skipped.
func (h *Hub) newMessage(t string, payload any) (*signaling.Message, bool) {
	msg, err := signaling.NewMessage(t, payload)
	if err != nil {
		h.log.Error().Err(err).Str("type", t).Msg("encode message")
		return nil, false
	}
	return msg, true
}

func (c *Client) info() signaling.PeerInfo {
	return signaling.PeerInfo{ID: c.ID, UserInfo: c.userInfo, Media: c.media}
}

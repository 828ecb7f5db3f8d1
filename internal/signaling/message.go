package signaling

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the JSON frame exchanged with the relay.
type Message struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id,omitempty"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants.
const (
	// client -> relay
	MessageTypeJoinRoom = "join_room"
	MessageTypeEnter    = "enter"
	MessageTypeLeave    = "leave"

	// client -> relay -> client
	MessageTypeSignal    = "signal"
	MessageTypeCustom    = "custom"
	MessageTypeMedia     = "media"
	MessageTypeUserInfo  = "user_info"
	MessageTypeLock      = "room_lock"
	MessageTypeRecording = "recording"

	// relay -> client
	MessageTypeJoined     = "joined"
	MessageTypeJoinDenied = "join_denied"
	MessageTypePeers      = "peers"
	MessageTypePeerJoined = "peer_joined"
	MessageTypePeerLeft   = "peer_left"
	MessageTypeError      = "error"
)

// Signal types carried in SignalPayload.Type.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
	SignalRestart   = "restart"
	// SignalHold tells a peer it was put on the sender's waiting list. The
	// sender offers once it admits the peer.
	SignalHold = "hold"
)

// JoinPayload asks the relay for admission to a room.
type JoinPayload struct {
	Room       string  `json:"room"`
	Credential string  `json:"credential,omitempty"`
	Start      string  `json:"start,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
	RoomSize   int     `json:"room_size,omitempty"`
	ClientType string  `json:"client_type,omitempty"`
}

// EnterPayload announces a joined peer once its local media is ready.
type EnterPayload struct {
	UserInfo []byte          `json:"user_info,omitempty"`
	Media    MediaProperties `json:"media"`
}

// JoinedPayload is the relay's acceptance.
type JoinedPayload struct {
	SelfID    string    `json:"self_id"`
	RoomID    string    `json:"room_id"`
	Locked    bool      `json:"locked"`
	Recording bool      `json:"recording"`
	MaxPeers  int       `json:"max_peers"`
	CreatedAt time.Time `json:"created_at"`
}

// PeersPayload answers enter with the members already present. The
// entering peer waits for their offers.
type PeersPayload struct {
	Peers []PeerInfo `json:"peers"`
}

type DenialPayload struct {
	Reason string `json:"reason"`
}

// PeerInfo describes a room member as the relay knows it.
type PeerInfo struct {
	ID       string          `json:"id"`
	UserInfo []byte          `json:"user_info,omitempty"`
	Media    MediaProperties `json:"media"`
}

type PeerLeftPayload struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

// SignalPayload carries an SDP or a trickled ICE candidate.
type SignalPayload struct {
	Type      string          `json:"type"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// CustomPayload is an application message relayed through the server.
// Data is a msgpack-encoded value.Value.
type CustomPayload struct {
	Data   []byte `json:"data"`
	Public bool   `json:"public"`
}

// MediaProperties is a peer's media capability snapshot.
type MediaProperties struct {
	HasAudio    bool    `json:"has_audio"`
	AudioStereo bool    `json:"audio_stereo"`
	AudioMuted  bool    `json:"audio_muted"`
	HasVideo    bool    `json:"has_video"`
	VideoMuted  bool    `json:"video_muted"`
	VideoWidth  int     `json:"video_width,omitempty"`
	VideoHeight int     `json:"video_height,omitempty"`
	FrameRate   float64 `json:"frame_rate,omitempty"`
}

type UserInfoPayload struct {
	Data []byte `json:"data,omitempty"`
}

type LockPayload struct {
	Locked bool `json:"locked"`
}

type RecordingPayload struct {
	Active bool `json:"active"`
}

// ErrorPayload represents error messages from server.
type ErrorPayload struct {
	Error string `json:"error"`
}

// NewMessage builds a frame of type t with payload encoded as JSON.
func NewMessage(t string, payload any) (*Message, error) {
	msg := &Message{Type: t}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	msg.Payload = raw
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("decode %s payload: empty", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

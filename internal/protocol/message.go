// Package protocol defines the msgpack frames exchanged over a peer's data
// channel: application messages, binary blobs and the file-transfer family.
package protocol

import (
	"fmt"

	"github.com/BioHazard786/roomlink/internal/value"
	"github.com/vmihailenco/msgpack/v5"
)

// MaxBinarySize is the largest binary payload delivered per call. Longer
// payloads are truncated to this length, never rejected.
const MaxBinarySize = 65456

// MaxChunkSize bounds the file bytes in one chunk frame so the encoded
// frame, envelope included, stays under MaxBinarySize.
const MaxChunkSize = MaxBinarySize - 512

const (
	MessageTypeDC           = "dc_message"
	MessageTypeBinary       = "binary"
	MessageTypeFileRequest  = "file_request"
	MessageTypeFileResponse = "file_response"
	MessageTypeChunk        = "chunk"
	MessageTypeFileDone     = "file_done"
	MessageTypeFileCancel   = "file_cancel"
)

// Message represents all data channel frames.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// DCPayload is an application message sent over the data channel.
type DCPayload struct {
	Data   value.Value `msgpack:"data"`
	Public bool        `msgpack:"public"`
}

// FileRequestPayload offers a file to the receiver.
type FileRequestPayload struct {
	FileName  string `msgpack:"fileName"`
	Size      uint64 `msgpack:"size"`
	MimeType  string `msgpack:"mimeType"`
	AssetType int    `msgpack:"assetType"`
	Public    bool   `msgpack:"public"`
}

// FileResponsePayload is the receiver's accept or reject.
type FileResponsePayload struct {
	FileName string `msgpack:"fileName"`
	Accept   bool   `msgpack:"accept"`
}

// ChunkPayload represents a file chunk
type ChunkPayload struct {
	FileName string `msgpack:"fileName"`
	Offset   uint64 `msgpack:"offset"`
	Bytes    []byte `msgpack:"bytes"`
	Final    bool   `msgpack:"final"`
}

// FileDonePayload acknowledges the final chunk.
type FileDonePayload struct {
	FileName string `msgpack:"fileName"`
}

// FileCancelPayload ends a transfer from either side.
type FileCancelPayload struct {
	FileName string `msgpack:"fileName"`
	Reason   string `msgpack:"reason"`
	Explicit bool   `msgpack:"explicit"`
}

// DecodePayload decodes the message payload into the provided struct
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// NewMessage creates a new Message with the given type and payload
func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Type:    t,
		Payload: b,
	}, nil
}

// Encode builds the wire bytes for a frame of type t.
func Encode(t string, payload any) ([]byte, error) {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return nil, fmt.Errorf("create %s message: %w", t, err)
	}
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s message: %w", t, err)
	}
	return data, nil
}

// Parse decodes a frame received on the data channel.
func Parse(data []byte) (Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("parse message: %w", err)
	}
	return msg, nil
}

// Truncate applies the binary ceiling.
func Truncate(data []byte) []byte {
	if len(data) > MaxBinarySize {
		return data[:MaxBinarySize]
	}
	return data
}

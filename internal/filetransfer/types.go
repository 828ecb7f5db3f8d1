package filetransfer

import (
	"time"

	"github.com/rs/zerolog"
)

// AssetType tags what a transferred file is for.
type AssetType int

const (
	AssetFile AssetType = iota + 1
	AssetMusic
	AssetPhoto
)

func (a AssetType) String() string {
	switch a {
	case AssetFile:
		return "file"
	case AssetMusic:
		return "music"
	case AssetPhoto:
		return "photo"
	}
	return "unknown"
}

// ParseAssetType is the inverse of String; unknown names map to AssetFile.
func ParseAssetType(s string) AssetType {
	switch s {
	case "music":
		return AssetMusic
	case "photo":
		return AssetPhoto
	}
	return AssetFile
}

type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleSender {
		return "sender"
	}
	return "receiver"
}

type State int

const (
	StateRequested State = iota
	StatePermitted
	StateRejected
	StateInProgress
	StateCompleted
	StateCancelled
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StatePermitted:
		return "permitted"
	case StateRejected:
		return "rejected"
	case StateInProgress:
		return "in progress"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateDropped:
		return "dropped"
	}
	return "unknown"
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateCompleted || s == StateCancelled || s == StateDropped
}

// Drop reasons carried in drop events and cancel frames.
const (
	ReasonCancelled    = "cancelled"
	ReasonTimeout      = "timeout"
	ReasonBusy         = "busy"
	ReasonChannel      = "channel closed"
	ReasonDisconnected = "disconnected"
	ReasonWriteFailed  = "write failed"
	ReasonReadFailed   = "read failed"
	ReasonInvalidName  = "invalid file name"
)

// Request describes an incoming file offer.
type Request struct {
	FileName  string
	Size      uint64
	MimeType  string
	AssetType AssetType
	Public    bool
}

// Info is a snapshot of one transfer session.
type Info struct {
	PeerID   string
	FileName string
	Role     Role
	State    State
	Size     uint64
	Done     uint64
	Path     string
}

// Options configure an Engine.
type Options struct {
	// OutputDir receives accepted files. Defaults to the working directory.
	OutputDir string
	// Timeout bounds inactivity per transfer. Defaults to 60s.
	Timeout time.Duration
	Logger  zerolog.Logger
}

const DefaultTimeout = 60 * time.Second

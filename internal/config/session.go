package config

import (
	"fmt"
	"time"
)

const (
	TransportAny = ""
	TransportTCP = "tcp"
	TransportUDP = "udp"

	CodecOpus = "opus"
	CodecG722 = "g722"

	RoomSmall      = "small"
	RoomMedium     = "medium"
	RoomLarge      = "large"
	RoomExtraLarge = "xlarge"
)

var roomCapacity = map[string]int{
	RoomSmall:      4,
	RoomMedium:     8,
	RoomLarge:      16,
	RoomExtraLarge: 32,
}

// Session holds the per-connection options a room controller runs with.
type Session struct {
	SendAudio    bool `mapstructure:"send_audio"`
	ReceiveAudio bool `mapstructure:"receive_audio"`
	SendVideo    bool `mapstructure:"send_video"`
	ReceiveVideo bool `mapstructure:"receive_video"`

	DataChannel     bool `mapstructure:"data_channel"`
	FileTransfer    bool `mapstructure:"file_transfer"`
	TransferTimeout int  `mapstructure:"transfer_timeout"` // seconds

	// Bitrate caps in kbps; 0 means no cap.
	MaxAudioBitrate int `mapstructure:"max_audio_bitrate"`
	MaxVideoBitrate int `mapstructure:"max_video_bitrate"`
	MaxDataBitrate  int `mapstructure:"max_data_bitrate"`

	DisableSTUN bool   `mapstructure:"disable_stun"`
	DisableTURN bool   `mapstructure:"disable_turn"`
	DisableHost bool   `mapstructure:"disable_host"`
	Transport   string `mapstructure:"transport"`
	AudioCodec  string `mapstructure:"audio_codec"`
	RoomSize    string `mapstructure:"room_size"`

	AutoStats          bool          `mapstructure:"auto_stats"`
	StatsInterval      time.Duration `mapstructure:"stats_interval"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`

	MaxPeerCount int    `mapstructure:"max_peer_count"`
	DownloadDir  string `mapstructure:"download_dir"`
}

// DefaultSession is a data-only session with file transfer enabled.
func DefaultSession() Session {
	return Session{
		ReceiveAudio:       true,
		ReceiveVideo:       true,
		DataChannel:        true,
		FileTransfer:       true,
		TransferTimeout:    60,
		MaxVideoBitrate:    512,
		AudioCodec:         CodecOpus,
		RoomSize:           RoomSmall,
		StatsInterval:      5 * time.Second,
		NegotiationTimeout: 30 * time.Second,
		MaxPeerCount:       roomCapacity[RoomSmall] - 1,
		DownloadDir:        ".",
	}
}

func (s Session) Validate() error {
	switch s.Transport {
	case TransportAny, TransportTCP, TransportUDP:
	default:
		return fmt.Errorf("invalid transport %q: expected tcp or udp", s.Transport)
	}
	switch s.AudioCodec {
	case CodecOpus, CodecG722:
	default:
		return fmt.Errorf("invalid audio codec %q: expected opus or g722", s.AudioCodec)
	}
	if _, ok := roomCapacity[s.RoomSize]; !ok {
		return fmt.Errorf("invalid room size %q", s.RoomSize)
	}
	if s.FileTransfer && !s.DataChannel {
		return fmt.Errorf("file transfer requires the data channel")
	}
	if s.TransferTimeout <= 0 {
		return fmt.Errorf("transfer timeout must be positive")
	}
	if s.MaxPeerCount < 0 {
		return fmt.Errorf("max peer count must not be negative")
	}
	if s.MaxAudioBitrate < 0 || s.MaxVideoBitrate < 0 || s.MaxDataBitrate < 0 {
		return fmt.Errorf("bitrate caps must not be negative")
	}
	return nil
}

// RoomCapacity is the member limit the first joiner asks the relay for.
func (s Session) RoomCapacity() int {
	if n, ok := roomCapacity[s.RoomSize]; ok {
		return n
	}
	return roomCapacity[RoomSmall]
}

func (s Session) TransferTimeoutDuration() time.Duration {
	return time.Duration(s.TransferTimeout) * time.Second
}

// HasAudio reports whether any audio direction is negotiated.
func (s Session) HasAudio() bool { return s.SendAudio || s.ReceiveAudio }

// HasVideo reports whether any video direction is negotiated.
func (s Session) HasVideo() bool { return s.SendVideo || s.ReceiveVideo }

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultServerURL = "ws://localhost:8080/ws"
	DefaultSTUN      = "stun:stun.l.google.com:19302"

	envPrefix = "ROOMLINK"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the relay's websocket endpoint.
	ServerURL string `mapstructure:"server_url"`

	// ICE servers for WebRTC
	STUNServer string `mapstructure:"stun_server"`
	TURNServer string `mapstructure:"turn_server"`
	TURNUser   string `mapstructure:"turn_username"`
	TURNPass   string `mapstructure:"turn_password"`
	ForceRelay bool   `mapstructure:"force_relay"`

	LogLevel string `mapstructure:"log_level"`

	Session Session `mapstructure:"session"`
}

// Options carries CLI flag overrides. Empty fields are ignored.
type Options struct {
	ConfigFile string
	ServerURL  string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	LogLevel   string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (ROOMLINK_SERVER_URL, ROOMLINK_SESSION_MAX_PEER_COUNT, ...)
// 3. Config file, when Options.ConfigFile is set
// 4. Defaults - lowest priority
func Load(opts Options) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	}

	overrides := map[string]string{
		"server_url":    opts.ServerURL,
		"stun_server":   opts.STUNServer,
		"turn_server":   opts.TURNServer,
		"turn_username": opts.TURNUser,
		"turn_password": opts.TURNPass,
		"log_level":     opts.LogLevel,
	}
	for key, val := range overrides {
		if val != "" {
			v.Set(key, val)
		}
	}
	if opts.ForceRelay {
		v.Set("force_relay", true)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_url", DefaultServerURL)
	v.SetDefault("stun_server", DefaultSTUN)
	v.SetDefault("turn_server", "")
	v.SetDefault("turn_username", "")
	v.SetDefault("turn_password", "")
	v.SetDefault("force_relay", false)
	v.SetDefault("log_level", "")

	d := DefaultSession()
	v.SetDefault("session.send_audio", d.SendAudio)
	v.SetDefault("session.receive_audio", d.ReceiveAudio)
	v.SetDefault("session.send_video", d.SendVideo)
	v.SetDefault("session.receive_video", d.ReceiveVideo)
	v.SetDefault("session.data_channel", d.DataChannel)
	v.SetDefault("session.file_transfer", d.FileTransfer)
	v.SetDefault("session.transfer_timeout", d.TransferTimeout)
	v.SetDefault("session.max_audio_bitrate", d.MaxAudioBitrate)
	v.SetDefault("session.max_video_bitrate", d.MaxVideoBitrate)
	v.SetDefault("session.max_data_bitrate", d.MaxDataBitrate)
	v.SetDefault("session.disable_stun", d.DisableSTUN)
	v.SetDefault("session.disable_turn", d.DisableTURN)
	v.SetDefault("session.disable_host", d.DisableHost)
	v.SetDefault("session.transport", d.Transport)
	v.SetDefault("session.audio_codec", d.AudioCodec)
	v.SetDefault("session.room_size", d.RoomSize)
	v.SetDefault("session.auto_stats", d.AutoStats)
	v.SetDefault("session.stats_interval", d.StatsInterval)
	v.SetDefault("session.negotiation_timeout", d.NegotiationTimeout)
	v.SetDefault("session.max_peer_count", d.MaxPeerCount)
	v.SetDefault("session.download_dir", d.DownloadDir)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if c.ForceRelay && c.GetTURNServers() == nil {
		return errors.New("cannot force relay mode without TURN server configured")
	}
	return c.Session.Validate()
}

// GetSTUNServers returns STUN server URLs, or nil when STUN is disabled.
func (c *Config) GetSTUNServers() []string {
	if c.Session.DisableSTUN || c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.Session.DisableTURN || c.TURNServer == "" {
		return nil
	}

	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turn:"), "turns:")
	switch c.Session.Transport {
	case TransportUDP:
		return []string{fmt.Sprintf("turn:%s:3478?transport=udp", host)}
	case TransportTCP:
		return []string{
			fmt.Sprintf("turn:%s:3478?transport=tcp", host),
			fmt.Sprintf("turns:%s:5349?transport=tcp", host),
		}
	}
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

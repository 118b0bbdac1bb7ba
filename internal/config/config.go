package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.socially/config.toml.
// Zero values fall back to the defaults below; a missing file yields the
// default configuration unchanged.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	ServerURL      string `toml:"server_url"`

	// Remote call timeout in milliseconds. Every remote call is bounded;
	// timeouts degrade to the pending/retry path, they never hang a caller.
	RequestTimeoutMs int `toml:"request_timeout_ms"`

	// Poll periods in milliseconds, tuned per domain.
	MessagePollMs  int `toml:"message_poll_ms"`
	ChatListPollMs int `toml:"chat_list_poll_ms"`
	FeedPollMs     int `toml:"feed_poll_ms"`
	StoryPollMs    int `toml:"story_poll_ms"`
	PresencePollMs int `toml:"presence_poll_ms"`
	NetProbeMs     int `toml:"net_probe_ms"`

	// Presence heartbeat cadence and the silence window after which a peer
	// is inferred offline.
	HeartbeatMs   int `toml:"heartbeat_ms"`
	PresenceTTLMs int `toml:"presence_ttl_ms"`

	// Tolerance when matching a locally-created record to its server
	// counterpart by created-at timestamp. 0 means exact match: the client
	// stamps created_at once and the server echoes it back verbatim.
	DedupToleranceMs int `toml:"dedup_tolerance_ms"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerURL:        "http://localhost:8080/socially_api",
		RequestTimeoutMs: 10_000,
		MessagePollMs:    2_000,
		ChatListPollMs:   5_000,
		FeedPollMs:       15_000,
		StoryPollMs:      30_000,
		PresencePollMs:   1_000,
		NetProbeMs:       3_000,
		HeartbeatMs:      1_000,
		PresenceTTLMs:    30_000,
		DedupToleranceMs: 0,
	}
}

// Load reads config from the given path, filling unset fields with defaults.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.ServerURL == "" {
		c.ServerURL = d.ServerURL
	}
	if c.RequestTimeoutMs <= 0 {
		c.RequestTimeoutMs = d.RequestTimeoutMs
	}
	if c.MessagePollMs <= 0 {
		c.MessagePollMs = d.MessagePollMs
	}
	if c.ChatListPollMs <= 0 {
		c.ChatListPollMs = d.ChatListPollMs
	}
	if c.FeedPollMs <= 0 {
		c.FeedPollMs = d.FeedPollMs
	}
	if c.StoryPollMs <= 0 {
		c.StoryPollMs = d.StoryPollMs
	}
	if c.PresencePollMs <= 0 {
		c.PresencePollMs = d.PresencePollMs
	}
	if c.NetProbeMs <= 0 {
		c.NetProbeMs = d.NetProbeMs
	}
	if c.HeartbeatMs <= 0 {
		c.HeartbeatMs = d.HeartbeatMs
	}
	if c.PresenceTTLMs <= 0 {
		c.PresenceTTLMs = d.PresenceTTLMs
	}
	if c.DedupToleranceMs < 0 {
		c.DedupToleranceMs = 0
	}
}

// RequestTimeout returns the remote call timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// PresenceTTL returns the presence time-to-live as a duration.
func (c *Config) PresenceTTL() time.Duration {
	return time.Duration(c.PresenceTTLMs) * time.Millisecond
}

// Package config holds the session configuration: file loading, environment
// overrides, defaults and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Role represents which side of the negotiation this process plays.
type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// Mode governs what happens when the partner goes away.
type Mode string

const (
	ModePrivate           Mode = "private"
	ModePublicHost        Mode = "public-host"
	ModePublicParticipant Mode = "public-participant"
)

// Revolving reports whether losing the partner returns to a waiting state
// instead of ending the session.
func (m Mode) Revolving() bool { return m == ModePublicHost }

// ICEServer is one STUN/TURN entry.
type ICEServer struct {
	URLs       []string `yaml:"urls" validate:"required,min=1,dive,required"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

// Config stores every parameter a session needs. CLI flags override file values.
type Config struct {
	Session struct {
		ID          string `yaml:"id" validate:"required"`
		Role        Role   `yaml:"role" validate:"required,oneof=host participant"`
		Mode        Mode   `yaml:"mode" validate:"required,oneof=private public-host public-participant"`
		PeerID      string `yaml:"peer_id"`
		DisplayName string `yaml:"display_name" validate:"required"`
	} `yaml:"session"`

	Signaling struct {
		URL        string        `yaml:"url" validate:"required,url"`
		Retries    int           `yaml:"retries" validate:"gte=0,lte=5"`
		RetryDelay time.Duration `yaml:"retry_delay" validate:"gte=0"`
		Backoff    float64       `yaml:"backoff" validate:"gte=1"`
	} `yaml:"signaling"`

	WebRTC struct {
		ICEServers   []ICEServer   `yaml:"ice_servers" validate:"dive"`
		ChannelLabel string        `yaml:"channel_label" validate:"required"`
		PLIInterval  time.Duration `yaml:"pli_interval"`
	} `yaml:"webrtc"`

	Media struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"media"`

	Timer struct {
		Duration        time.Duration `yaml:"duration" validate:"gte=0"`
		ReminderMinutes int           `yaml:"reminder_minutes" validate:"gte=0"`
	} `yaml:"timer"`

	Whiteboard struct {
		Width  float64 `yaml:"width" validate:"gt=0"`
		Height float64 `yaml:"height" validate:"gt=0"`
	} `yaml:"whiteboard"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" validate:"required_if=Enabled true"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		// Gate makes participants wait for the host's admission verdict.
		Gate bool `yaml:"gate"`
	} `yaml:"redis"`

	Metrics struct {
		Address string `yaml:"address"`
	} `yaml:"metrics"`

	Debug bool `yaml:"debug"`
}

var validate = validator.New()

// ErrRoleMode is returned when the session mode does not match the role.
var ErrRoleMode = errors.New("session mode does not match role")

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	cfg.Signaling.Retries = 1
	cfg.Signaling.RetryDelay = time.Second
	cfg.Signaling.Backoff = 1
	setDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file over the defaults, then applies
// environment overrides. Keys present in the file win even when zero, so
// "retries: 0" disables retrying. It does not validate; call Validate after
// flags are merged.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvironmentOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

// Validate checks struct tags and the role/mode pairing.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Session.Mode {
	case ModePublicHost:
		if c.Session.Role != RoleHost {
			return fmt.Errorf("%w: %s requires role %s", ErrRoleMode, c.Session.Mode, RoleHost)
		}
	case ModePublicParticipant:
		if c.Session.Role != RoleParticipant {
			return fmt.Errorf("%w: %s requires role %s", ErrRoleMode, c.Session.Mode, RoleParticipant)
		}
	}

	return nil
}

// applyEnvironmentOverrides applies PAIRLINE_* environment overrides.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("PAIRLINE_SIGNALING_URL"); v != "" {
		cfg.Signaling.URL = v
	}
	if v := os.Getenv("PAIRLINE_SESSION_ID"); v != "" {
		cfg.Session.ID = v
	}
	if v := os.Getenv("PAIRLINE_DISPLAY_NAME"); v != "" {
		cfg.Session.DisplayName = v
	}
	if v := os.Getenv("PAIRLINE_REDIS_ADDR"); v != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PAIRLINE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PAIRLINE_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("PAIRLINE_METRICS_ADDRESS"); v != "" {
		cfg.Metrics.Address = v
	}
}

// setDefaults fills zero values that are never meaningful.
func setDefaults(cfg *Config) {
	if cfg.Session.Mode == "" {
		cfg.Session.Mode = ModePrivate
	}
	if cfg.Session.DisplayName == "" {
		cfg.Session.DisplayName = "anonymous"
	}
	if len(cfg.WebRTC.ICEServers) == 0 {
		cfg.WebRTC.ICEServers = []ICEServer{{URLs: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		}}}
	}
	if cfg.WebRTC.ChannelLabel == "" {
		cfg.WebRTC.ChannelLabel = "collab"
	}
	if cfg.WebRTC.PLIInterval == 0 {
		cfg.WebRTC.PLIInterval = 3 * time.Second
	}
	if cfg.Whiteboard.Width == 0 {
		cfg.Whiteboard.Width = 1280
	}
	if cfg.Whiteboard.Height == 0 {
		cfg.Whiteboard.Height = 720
	}
}

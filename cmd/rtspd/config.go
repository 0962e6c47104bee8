package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type config struct {
	RTSP    rtspConfig    `yaml:"rtsp"`
	Auth    authConfig    `yaml:"auth"`
	Audio   audioConfig   `yaml:"audio"`
	Streams []streamEntry `yaml:"streams"`
	Logging loggingConfig `yaml:"logging"`
}

type rtspConfig struct {
	Address        string `yaml:"address"`
	MaxStreams     int    `yaml:"max_streams"`
	MaxSessions    int    `yaml:"max_sessions"`
	SessionTimeout int    `yaml:"session_timeout"`
}

type authConfig struct {
	Enabled bool   `yaml:"enabled"`
	Method  string `yaml:"method"`
	Realm   string `yaml:"realm"`
	Users   []struct {
		User string `yaml:"user"`
		Pass string `yaml:"pass"`
	} `yaml:"users"`
}

type audioConfig struct {
	Enabled bool `yaml:"enabled"`
}

type streamEntry struct {
	VideoDevice string `yaml:"video_device"`
	AudioDevice string `yaml:"audio_device"`
}

type loggingConfig struct {
	Level string `yaml:"level"`
}

func loadConfig(path string) (*config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cnf config
	if err := yaml.Unmarshal(data, &cnf); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cnf.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cnf, nil
}

func (c *config) validate() error {
	if c.RTSP.Address == "" {
		c.RTSP.Address = ":8554"
	}
	if c.RTSP.MaxStreams < 0 {
		return fmt.Errorf("invalid max_streams: %d (must be non-negative)", c.RTSP.MaxStreams)
	}
	if c.RTSP.MaxSessions < 0 {
		return fmt.Errorf("invalid max_sessions: %d (must be non-negative)", c.RTSP.MaxSessions)
	}
	if c.RTSP.SessionTimeout < 0 {
		return fmt.Errorf("invalid session_timeout: %d (must be non-negative)", c.RTSP.SessionTimeout)
	}

	if c.Auth.Enabled {
		if len(c.Auth.Users) == 0 {
			return fmt.Errorf("auth is enabled but no users are configured")
		}
		switch c.Auth.Method {
		case "", "digest", "basic":
		default:
			return fmt.Errorf("invalid auth method: %s (must be basic or digest)", c.Auth.Method)
		}
	}

	if len(c.Streams) == 0 {
		return fmt.Errorf("no streams are configured")
	}
	for i, st := range c.Streams {
		if st.VideoDevice == "" {
			return fmt.Errorf("stream %d: video_device is required", i)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)",
			c.Logging.Level)
	}

	return nil
}

func (c *config) sessionTimeout() time.Duration {
	return time.Duration(c.RTSP.SessionTimeout) * time.Second
}

func (c *config) slogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

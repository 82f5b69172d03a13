// Package config loads counter tuning parameters from a JSON file. Fields
// omitted from the file fall back to built-in defaults via the Get* accessors,
// so partial configs are safe to ship.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Defaults applied when a field is absent from the config file.
const (
	DefaultReferenceWidth     = 1300.0
	DefaultReferenceHeight    = 720.0
	DefaultHistoryCapacity    = 100
	DefaultTrackIdleTimeout   = 30 * time.Second
	DefaultCountsPushInterval = 2 * time.Second
	DefaultSubscriberBuffer   = 16
)

// Config holds tuning parameters for the occupancy counter. Pointer fields
// distinguish "not set" from zero values; the same JSON shape is accepted at
// startup and by the runtime config endpoint.
type Config struct {
	// Reference coordinate space all geometry is expressed in.
	ReferenceWidth  *float64 `json:"reference_width,omitempty"`
	ReferenceHeight *float64 `json:"reference_height,omitempty"`

	// Per zone/line bounded history size. Oldest entries are evicted first.
	HistoryCapacity *int `json:"history_capacity,omitempty"`

	// How long a track may go unseen before its crossing state is evicted.
	TrackIdleTimeout *string `json:"track_idle_timeout,omitempty"` // duration string like "30s"

	// Interval for the periodic update_counts broadcast.
	CountsPushInterval *string `json:"counts_push_interval,omitempty"` // duration string like "2s"

	// Buffered notification slots per subscriber before updates are skipped.
	SubscriberBuffer *int `json:"subscriber_buffer,omitempty"`

	// Cameras registered at startup. Operators can add more by defining
	// zones or lines on a new camera id.
	Cameras []string `json:"cameras,omitempty"`
}

// Empty returns a Config with all fields unset; every accessor falls back to
// its default.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The path must have a .json extension
// and the file must parse and validate.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that any set fields carry usable values.
func (c *Config) Validate() error {
	if c.ReferenceWidth != nil && *c.ReferenceWidth <= 0 {
		return fmt.Errorf("reference_width must be positive, got %g", *c.ReferenceWidth)
	}
	if c.ReferenceHeight != nil && *c.ReferenceHeight <= 0 {
		return fmt.Errorf("reference_height must be positive, got %g", *c.ReferenceHeight)
	}
	if c.HistoryCapacity != nil && *c.HistoryCapacity < 1 {
		return fmt.Errorf("history_capacity must be at least 1, got %d", *c.HistoryCapacity)
	}
	if c.SubscriberBuffer != nil && *c.SubscriberBuffer < 1 {
		return fmt.Errorf("subscriber_buffer must be at least 1, got %d", *c.SubscriberBuffer)
	}
	if c.TrackIdleTimeout != nil && *c.TrackIdleTimeout != "" {
		d, err := time.ParseDuration(*c.TrackIdleTimeout)
		if err != nil {
			return fmt.Errorf("invalid track_idle_timeout %q: %w", *c.TrackIdleTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("track_idle_timeout must be positive, got %q", *c.TrackIdleTimeout)
		}
	}
	if c.CountsPushInterval != nil && *c.CountsPushInterval != "" {
		d, err := time.ParseDuration(*c.CountsPushInterval)
		if err != nil {
			return fmt.Errorf("invalid counts_push_interval %q: %w", *c.CountsPushInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("counts_push_interval must be positive, got %q", *c.CountsPushInterval)
		}
	}
	return nil
}

// GetReferenceWidth returns the reference space width.
func (c *Config) GetReferenceWidth() float64 {
	if c.ReferenceWidth != nil {
		return *c.ReferenceWidth
	}
	return DefaultReferenceWidth
}

// GetReferenceHeight returns the reference space height.
func (c *Config) GetReferenceHeight() float64 {
	if c.ReferenceHeight != nil {
		return *c.ReferenceHeight
	}
	return DefaultReferenceHeight
}

// GetHistoryCapacity returns the per zone/line history capacity.
func (c *Config) GetHistoryCapacity() int {
	if c.HistoryCapacity != nil {
		return *c.HistoryCapacity
	}
	return DefaultHistoryCapacity
}

// GetTrackIdleTimeout returns the idle period after which a track's crossing
// state is evicted. Validate has already checked the duration parses.
func (c *Config) GetTrackIdleTimeout() time.Duration {
	if c.TrackIdleTimeout != nil && *c.TrackIdleTimeout != "" {
		if d, err := time.ParseDuration(*c.TrackIdleTimeout); err == nil {
			return d
		}
	}
	return DefaultTrackIdleTimeout
}

// GetCountsPushInterval returns the periodic counts broadcast interval.
func (c *Config) GetCountsPushInterval() time.Duration {
	if c.CountsPushInterval != nil && *c.CountsPushInterval != "" {
		if d, err := time.ParseDuration(*c.CountsPushInterval); err == nil {
			return d
		}
	}
	return DefaultCountsPushInterval
}

// GetSubscriberBuffer returns the per-subscriber notification buffer size.
func (c *Config) GetSubscriberBuffer() int {
	if c.SubscriberBuffer != nil {
		return *c.SubscriberBuffer
	}
	return DefaultSubscriberBuffer
}

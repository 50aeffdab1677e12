// Package bridge is the external-collaborator boundary of spec.md §6:
// it accepts a configuration record, wires a session.Session and a
// streamer.Streamer together with a WebSocket Hub, and exposes Start
// and Stop to whatever process (here cmd/bitalino-bridge) owns signal
// handling.
package bridge

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/biosignal/bitalino-bridge/pkg/driver"
)

// labelCount is the fixed number of named columns spec.md §6 defines:
// nSeq, I1, I2, O1, O2, A1..A6.
const labelCount = 11

// Config is the Bridge's configuration record (spec.md §6). Channels is
// 1-indexed at this boundary; resolve decrements each entry by one
// before it reaches pkg/session.
type Config struct {
	Device       string   `yaml:"device"`
	SamplingRate int      `yaml:"sampling_rate"`
	Channels     []int    `yaml:"channels"`
	Labels       []string `yaml:"labels"`
	Port         int      `yaml:"port"`

	// RedisAddr, if non-empty, republishes each encoded batch onto
	// RedisChannel in addition to the WebSocket broadcast (additive
	// plumbing behind the Sink interface; see pkg/bridge.Hub).
	RedisAddr    string `yaml:"redis_addr"`
	RedisPass    string `yaml:"redis_pass"`
	RedisDB      int    `yaml:"redis_db"`
	RedisChannel string `yaml:"redis_channel"`
}

// LoadConfig reads and parses a YAML configuration file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// resolved holds the values resolve derives from Config, ready to hand
// to driver/session/streamer.
type resolved struct {
	addr     driver.DeviceAddress
	rate     int
	channels []int // 0-indexed, pre-canonicalization
	labels   []string
	port     int
}

// resolve validates cfg and derives the values the rest of the Bridge
// needs: a parsed DeviceAddress, 0-indexed channels, and the subset of
// Labels that correspond to the selected columns (seq, four digitals,
// and the selected analogs in canonical/sorted order).
func (c Config) resolve() (resolved, error) {
	addr, err := driver.ParseDeviceAddress(c.Device)
	if err != nil {
		return resolved{}, err
	}
	if len(c.Labels) != labelCount {
		return resolved{}, fmt.Errorf("config: labels must have %d entries (nSeq,I1,I2,O1,O2,A1..A6), got %d", labelCount, len(c.Labels))
	}
	if len(c.Channels) == 0 {
		return resolved{}, fmt.Errorf("config: channels must be non-empty")
	}

	zeroIndexed := make([]int, len(c.Channels))
	for i, ch := range c.Channels {
		if ch < 1 || ch > 6 {
			return resolved{}, fmt.Errorf("config: channel %d out of range [1,6]: %w", ch, driver.ErrInvalidParameter)
		}
		zeroIndexed[i] = ch - 1
	}

	sorted := append([]int(nil), zeroIndexed...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}

	labels := make([]string, 0, 5+len(sorted))
	labels = append(labels, c.Labels[0], c.Labels[1], c.Labels[2], c.Labels[3], c.Labels[4])
	for i, ch := range sorted {
		if i > 0 && sorted[i-1] == ch {
			continue
		}
		labels = append(labels, c.Labels[5+ch])
	}

	return resolved{
		addr:     addr,
		rate:     c.SamplingRate,
		channels: zeroIndexed,
		labels:   labels,
		port:     c.Port,
	}, nil
}

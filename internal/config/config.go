// Package config implements the worker process's configuration: typed
// sections loaded from YAML via viper, with sane defaults and a
// mutex-guarded Manager for safe concurrent access and reload.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jinzhu/copier"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the complete worker process configuration.
type Config struct {
	API         APIConfig         `yaml:"api" mapstructure:"api" json:"api"`
	Log         LogConfig         `yaml:"log" mapstructure:"log" json:"log"`
	NetQueue    NetQueueConfig    `yaml:"netqueue" mapstructure:"netqueue" json:"netqueue"`
	Compression CompressionConfig `yaml:"compression" mapstructure:"compression" json:"compression"`
	BufferPool  BufferPoolConfig  `yaml:"buffer_pool" mapstructure:"buffer_pool" json:"buffer_pool"`
	SlotTable   SlotTableConfig   `yaml:"slot_table" mapstructure:"slot_table" json:"slot_table"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint" mapstructure:"checkpoint" json:"checkpoint"`
}

// APIConfig configures the operational HTTP surface.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Address string `yaml:"address" mapstructure:"address" json:"address"`
	Prefix  string `yaml:"prefix" mapstructure:"prefix" json:"prefix"`
}

// LogConfig mirrors the ambient logging configuration style, with
// rotation support.
type LogConfig struct {
	File       string `yaml:"file" mapstructure:"file" json:"file,omitempty"`
	Level      string `yaml:"level" mapstructure:"level" json:"level,omitempty"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size" json:"max_size,omitempty"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age" json:"max_age,omitempty"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups" json:"max_backups,omitempty"`
	Compress   bool   `yaml:"compress" mapstructure:"compress" json:"compress,omitempty"`
}

// NetQueueConfig configures the Partition Request Queue's connection
// handling.
type NetQueueConfig struct {
	Address                 string `yaml:"address" mapstructure:"address" json:"address"`
	InitialCredit           int32  `yaml:"initial_credit" mapstructure:"initial_credit" json:"initial_credit"`
	CancelledDedupeCacheLen int    `yaml:"cancelled_dedupe_cache_len" mapstructure:"cancelled_dedupe_cache_len" json:"cancelled_dedupe_cache_len"`
}

// CompressionConfig configures the optional Buffer Compressor
// collaborator (spec §6) applied to outgoing data BufferResponses.
// Events always bypass compression regardless of this setting.
type CompressionConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Level   int  `yaml:"level" mapstructure:"level" json:"level"`
}

// BufferPoolConfig configures the network-memory arena and per-pool
// required/requested/max bookkeeping.
type BufferPoolConfig struct {
	SegmentSizeBytes   int `yaml:"segment_size_bytes" mapstructure:"segment_size_bytes" json:"segment_size_bytes"`
	RequiredSegments   int `yaml:"required_segments" mapstructure:"required_segments" json:"required_segments"`
	MaxSegments        int `yaml:"max_segments" mapstructure:"max_segments" json:"max_segments"`
	ArenaRetryAttempts int `yaml:"arena_retry_attempts" mapstructure:"arena_retry_attempts" json:"arena_retry_attempts"`
}

// SlotTableConfig configures the Task Slot Table's static capacity and
// total resource budget.
type SlotTableConfig struct {
	NumStaticSlots      int     `yaml:"num_static_slots" mapstructure:"num_static_slots" json:"num_static_slots"`
	CPUShares           float64 `yaml:"cpu_shares" mapstructure:"cpu_shares" json:"cpu_shares"`
	TaskHeapMemoryBytes int64   `yaml:"task_heap_memory_bytes" mapstructure:"task_heap_memory_bytes" json:"task_heap_memory_bytes"`
	OffHeapMemoryBytes  int64   `yaml:"off_heap_memory_bytes" mapstructure:"off_heap_memory_bytes" json:"off_heap_memory_bytes"`
	ManagedMemoryBytes  int64   `yaml:"managed_memory_bytes" mapstructure:"managed_memory_bytes" json:"managed_memory_bytes"`
	NetworkMemoryBytes  int64   `yaml:"network_memory_bytes" mapstructure:"network_memory_bytes" json:"network_memory_bytes"`
	AllocationTimeoutMS int     `yaml:"allocation_timeout_ms" mapstructure:"allocation_timeout_ms" json:"allocation_timeout_ms"`
}

// CheckpointConfig configures the worker's default checkpoint alignment
// policy.
type CheckpointConfig struct {
	ExactlyOnce        bool `yaml:"exactly_once" mapstructure:"exactly_once" json:"exactly_once"`
	UnalignedEnabled   bool `yaml:"unaligned_enabled" mapstructure:"unaligned_enabled" json:"unaligned_enabled"`
	AlignmentTimeoutMS int  `yaml:"alignment_timeout_ms" mapstructure:"alignment_timeout_ms" json:"alignment_timeout_ms"`
}

// DeepCopy returns a deep copy of c using the copier library, matching
// the teacher's config-manager snapshot-on-update pattern.
func (c *Config) DeepCopy() *Config {
	if c == nil {
		return nil
	}
	out := &Config{}
	if err := copier.CopyWithOption(out, c, copier.Option{DeepCopy: true}); err != nil {
		shallow := *c
		return &shallow
	}
	return out
}

// Validate checks the configuration for internally-consistent values.
func (c *Config) Validate() error {
	if c.API.Enabled && c.API.Address == "" {
		return fmt.Errorf("api address cannot be empty when the api is enabled")
	}
	if c.NetQueue.Address == "" {
		return fmt.Errorf("netqueue address cannot be empty")
	}
	if c.NetQueue.InitialCredit <= 0 {
		return fmt.Errorf("netqueue initial_credit must be greater than 0")
	}
	if c.NetQueue.CancelledDedupeCacheLen <= 0 {
		return fmt.Errorf("netqueue cancelled_dedupe_cache_len must be greater than 0")
	}
	if c.BufferPool.SegmentSizeBytes <= 0 {
		return fmt.Errorf("buffer_pool segment_size_bytes must be greater than 0")
	}
	if c.BufferPool.RequiredSegments <= 0 {
		return fmt.Errorf("buffer_pool required_segments must be greater than 0")
	}
	if c.BufferPool.MaxSegments < c.BufferPool.RequiredSegments {
		return fmt.Errorf("buffer_pool max_segments must be >= required_segments")
	}
	if c.SlotTable.NumStaticSlots < 0 {
		return fmt.Errorf("slot_table num_static_slots must be non-negative")
	}
	if c.SlotTable.CPUShares <= 0 {
		return fmt.Errorf("slot_table cpu_shares must be greater than 0")
	}
	if c.Log.Level != "" {
		switch strings.ToLower(c.Log.Level) {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("log.level must be one of: debug, info, warn, error")
		}
	}
	if c.Log.MaxSize < 0 || c.Log.MaxAge < 0 || c.Log.MaxBackups < 0 {
		return fmt.Errorf("log rotation settings must be non-negative")
	}
	return nil
}

// DefaultConfig returns a Config populated with sane defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Enabled: true,
			Address: ":8081",
			Prefix:  "/v1",
		},
		Log: LogConfig{
			File:       "",
			Level:      "info",
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 10,
			Compress:   true,
		},
		NetQueue: NetQueueConfig{
			Address:                 ":7070",
			InitialCredit:           2,
			CancelledDedupeCacheLen: 256,
		},
		Compression: CompressionConfig{
			Enabled: true,
			Level:   0,
		},
		BufferPool: BufferPoolConfig{
			SegmentSizeBytes:   32 * 1024,
			RequiredSegments:   8,
			MaxSegments:        64,
			ArenaRetryAttempts: 5,
		},
		SlotTable: SlotTableConfig{
			NumStaticSlots:      4,
			CPUShares:           4,
			TaskHeapMemoryBytes: 512 << 20,
			OffHeapMemoryBytes:  256 << 20,
			ManagedMemoryBytes:  256 << 20,
			NetworkMemoryBytes:  128 << 20,
			AllocationTimeoutMS: 10_000,
		},
		Checkpoint: CheckpointConfig{
			ExactlyOnce:        true,
			UnalignedEnabled:   true,
			AlignmentTimeoutMS: 0,
		},
	}
}

// SaveToFile writes config as YAML to filename, creating its parent
// directory if needed.
func SaveToFile(config *Config, filename string) error {
	if filename == "" {
		return fmt.Errorf("no config file path provided")
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadConfig loads configuration from configFile and merges it over the
// defaults, creating a default file if none exists.
func LoadConfig(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	target := configFile
	if target == "" {
		target = "config.yaml"
	}
	v.SetConfigFile(target)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) || strings.Contains(err.Error(), "no such file") {
			if err := SaveToFile(cfg, target); err != nil {
				return nil, fmt.Errorf("failed to create default config file %s: %w", target, err)
			}
			v.SetConfigFile(target)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading newly created config file %s: %w", target, err)
			}
		} else {
			return nil, fmt.Errorf("error reading config file %s: %w", target, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Package bstorcfg holds the functional-options configuration surface
// consumed by the bidi core: chunk sizing, flush cadence, retry policy, and
// the CRC32C implementation selector.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package bstorcfg

import (
	"time"

	"github.com/googleapis/storage-bidi/cksum"
	"github.com/googleapis/storage-bidi/retry"
)

const (
	DefaultChunkSize       = 2 << 20 // 2MiB
	DefaultMaxElapsedRetry = 5 * time.Minute
)

// Config is built up via Option and handed to the root Client.
type Config struct {
	ChunkSize      int
	FlushInterval  uint64 // 0 disables interval flushing
	Policy         retry.Policy
	Crc32CImpl     cksum.Implementation
	MaxElapsedTime time.Duration
}

// Option mutates a Config under construction.
type Option func(*Config)

// New builds a Config with spec-mandated defaults (2MiB chunks, hardware
// CRC32C, 5-minute exponential-backoff retry ceiling), then applies opts.
func New(opts ...Option) (*Config, error) {
	cfg := &Config{
		ChunkSize:      DefaultChunkSize,
		Crc32CImpl:     cksum.Hardware,
		MaxElapsedTime: DefaultMaxElapsedRetry,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Policy == nil {
		cfg.Policy = retry.NewBackoffPolicy(cfg.MaxElapsedTime)
	}
	return cfg, nil
}

// WithChunkSize overrides the per-write-request chunk size.
func WithChunkSize(n int) Option {
	return func(c *Config) { c.ChunkSize = n }
}

// WithFlushInterval sets the byte interval between forced flushes.
func WithFlushInterval(n uint64) Option {
	return func(c *Config) { c.FlushInterval = n }
}

// WithRetryPolicy overrides the default exponential-backoff policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Config) { c.Policy = p }
}

// WithMaxElapsedRetryTime bounds the default BackoffPolicy's wall-clock
// retry budget. Ignored if WithRetryPolicy is also supplied.
func WithMaxElapsedRetryTime(d time.Duration) Option {
	return func(c *Config) { c.MaxElapsedTime = d }
}

// WithCRC32CImplementation overrides the checksum engine selector. Only
// Hardware is currently a legal value; soft fallback is rejected at
// cksum.NewEngine construction, never silently substituted.
func WithCRC32CImplementation(impl cksum.Implementation) Option {
	return func(c *Config) { c.Crc32CImpl = impl }
}

// Package cksum provides the CRC32C engine spec.md §4.6/§4.8 requires to be
// hardware-accelerated: construction fails fast with a configuration error
// rather than silently falling back to a software implementation that would
// quietly destroy throughput.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cksum

import (
	"hash"
	"io"

	"github.com/klauspost/cpuid/v2"
	"github.com/klauspost/crc32"

	"github.com/googleapis/storage-bidi/errs"
)

// Implementation enumerates the CRC32C backends this module will construct.
// Soft fallback is intentionally not a selectable value.
type Implementation int

const (
	// Hardware selects the klauspost/crc32 implementation, which uses
	// SSE4.2 (amd64) or the ARMv8 CRC32 extension when present.
	Hardware Implementation = iota
)

// Engine computes CRC32C (Castagnoli) checksums.
type Engine struct {
	table *crc32.Table
}

// NewEngine constructs a hardware-accelerated CRC32C engine. It returns
// *errs.ErrConfiguration if the current CPU has neither SSE4.2 nor the ARM64
// CRC32 extension, per spec.md's "hardware CRC32C is mandatory" rule.
func NewEngine(impl Implementation) (*Engine, error) {
	if impl != Hardware {
		return nil, errs.NewErrConfiguration("unsupported crc32c_implementation %d", impl)
	}
	if !hasHardwareSupport() {
		return nil, errs.NewErrConfiguration(
			"no hardware-accelerated CRC32C available on this CPU; " +
				"install a CPU with SSE4.2 (amd64) or the CRC32 extension (arm64) " +
				"rather than relying on a slow software fallback")
	}
	return &Engine{table: crc32.MakeTable(crc32.Castagnoli)}, nil
}

func hasHardwareSupport() bool {
	return cpuid.CPU.Supports(cpuid.SSE42) || cpuid.CPU.Supports(cpuid.CRC32)
}

// Sum returns the CRC32C of content.
func (e *Engine) Sum(content []byte) uint32 {
	return crc32.Checksum(content, e.table)
}

// Verify reports whether content's CRC32C equals want.
func (e *Engine) Verify(content []byte, want uint32) bool {
	return e.Sum(content) == want
}

// NewHash returns a streaming hash.Hash32 using this engine's table, for
// callers that want to checksum a content stream incrementally.
func (e *Engine) NewHash() hash.Hash32 {
	return crc32.New(e.table)
}

// SumReader consumes r to EOF and returns its CRC32C.
func (e *Engine) SumReader(r io.Reader) (uint32, error) {
	h := e.NewHash()
	if _, err := io.Copy(h, r); err != nil {
		return 0, err
	}
	return h.Sum32(), nil
}

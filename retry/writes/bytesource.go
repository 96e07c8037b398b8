/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package writes

import (
	"io"
)

// ByteSource is the capability the writes strategy needs from the caller's
// data source: sequential reads, a seek back to a durable offset on
// recovery, and a cheap EOF probe (spec.md §9's "peek-for-EOF" design note).
type ByteSource interface {
	Read(n int) ([]byte, error)
	Seek(offset uint64) error
	// Peek reports whether the source is exhausted without consuming
	// anything.
	Peek() (empty bool, err error)
}

// BufferSource is a ByteSource over an in-memory byte slice.
type BufferSource struct {
	data []byte
	pos  int
}

func NewBufferSource(data []byte) *BufferSource { return &BufferSource{data: data} }

func (b *BufferSource) Read(n int) ([]byte, error) {
	if b.pos >= len(b.data) {
		return nil, nil
	}
	end := b.pos + n
	if end > len(b.data) {
		end = len(b.data)
	}
	chunk := b.data[b.pos:end]
	b.pos = end
	return chunk, nil
}

func (b *BufferSource) Seek(offset uint64) error {
	if offset > uint64(len(b.data)) {
		return io.ErrUnexpectedEOF
	}
	b.pos = int(offset)
	return nil
}

func (b *BufferSource) Peek() (bool, error) { return b.pos >= len(b.data), nil }

// ReaderSource is a ByteSource over an io.ReadSeeker, for file-backed
// sources. Peek reads one byte ahead and seeks back, matching how the
// source's own peek(1) probe is described.
type ReaderSource struct {
	r io.ReadSeeker
}

func NewReaderSource(r io.ReadSeeker) *ReaderSource { return &ReaderSource{r: r} }

func (r *ReaderSource) Read(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(r.r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:read], nil
}

func (r *ReaderSource) Seek(offset uint64) error {
	_, err := r.r.Seek(int64(offset), io.SeekStart)
	return err
}

func (r *ReaderSource) Peek() (bool, error) {
	var one [1]byte
	n, err := r.r.Read(one[:])
	if err != nil && err != io.EOF {
		return false, err
	}
	if n == 0 {
		return true, nil
	}
	if _, serr := r.r.Seek(-1, io.SeekCurrent); serr != nil {
		return false, serr
	}
	return false, nil
}

var _ ByteSource = (*BufferSource)(nil)
var _ ByteSource = (*ReaderSource)(nil)

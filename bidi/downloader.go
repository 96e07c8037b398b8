/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package bidi

import (
	"bytes"
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/googleapis/storage-bidi/cksum"
	"github.com/googleapis/storage-bidi/errs"
	"github.com/googleapis/storage-bidi/storagepb"
)

const (
	// MaxRanges is the most ranges a single Download call will accept.
	MaxRanges = 1000
	// MaxRangesPerRequest bounds how many ReadRanges go in one outgoing
	// BidiReadObjectRequest.
	MaxRangesPerRequest = 100
)

// Range is one caller-requested half-open byte interval [Start, End) and
// the sink its content is written to, in order, as chunks arrive.
type Range struct {
	Start, End int64 // End <= Start means "to end of object"; see length().
	Buffer     io.Writer
}

// length returns the ReadRange wire length: 0 means "to end of object".
func (r Range) length() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return uint64(r.End - r.Start)
}

type downloadState struct {
	readID        uint32
	initialOffset uint64
	initialLength uint64
	buffer        io.Writer
	bytesWritten  uint64
	isComplete    bool
}

func (st *downloadState) nextExpectedOffset() uint64 {
	return st.initialOffset + st.bytesWritten
}

// RangeDownloader fans a caller's ranges out over one already-open
// ReadStream (C4). It does not own the stream's open/close lifecycle beyond
// the requests-done half-close it issues once every range is complete —
// callers (directly, or via the retry manager) open the stream first.
type RangeDownloader struct {
	stream *ReadStream
	cksum  *cksum.Engine
}

func NewRangeDownloader(stream *ReadStream, engine *cksum.Engine) *RangeDownloader {
	return &RangeDownloader{stream: stream, cksum: engine}
}

// DownloadFull downloads the whole object into a growable buffer, without
// requiring the caller to pre-size anything: a single (0, size) range sized
// off the stream's already-adopted Size().
func (d *RangeDownloader) DownloadFull(ctx context.Context) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	size := d.stream.Size()
	if size <= 0 {
		return buf, nil
	}
	err := d.DownloadRange(ctx, []Range{{Start: 0, End: size, Buffer: buf}})
	return buf, err
}

// DownloadRange sends all of ranges over the stream in batches of at most
// MaxRangesPerRequest, and consumes responses until every range is
// complete. A single range's integrity failure aborts the whole call.
func (d *RangeDownloader) DownloadRange(ctx context.Context, ranges []Range) error {
	if len(ranges) > MaxRanges {
		return errs.NewErrInvalidArgument("too many ranges: %d exceeds maximum of %d", len(ranges), MaxRanges)
	}
	if len(ranges) == 0 {
		return nil
	}

	states := make(map[uint32]*downloadState, len(ranges))
	requests := make([]storagepb.ReadRange, 0, len(ranges))
	for i, r := range ranges {
		readID := uint32(i)
		states[readID] = &downloadState{
			readID:        readID,
			initialOffset: uint64(r.Start),
			initialLength: r.length(),
			buffer:        r.Buffer,
		}
		requests = append(requests, storagepb.ReadRange{
			ReadID:     readID,
			ReadOffset: uint64(r.Start),
			ReadLength: r.length(),
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.sendBatches(gctx, requests) })
	g.Go(func() error { return d.recvUntilComplete(states) })
	if err := g.Wait(); err != nil {
		return err
	}

	return d.stream.RequestsDone()
}

func (d *RangeDownloader) sendBatches(ctx context.Context, requests []storagepb.ReadRange) error {
	for len(requests) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := MaxRangesPerRequest
		if n > len(requests) {
			n = len(requests)
		}
		if err := d.stream.Send(requests[:n]); err != nil {
			return err
		}
		requests = requests[n:]
	}
	return nil
}

func (d *RangeDownloader) recvUntilComplete(states map[uint32]*downloadState) error {
	remaining := len(states)
	for remaining > 0 {
		resp, done, err := d.stream.Recv()
		if err != nil {
			return err
		}
		if done {
			return nil // server closed early; caller's completeness check, if any, catches shortfall
		}
		for _, rd := range resp.ObjectDataRanges {
			becameComplete, err := d.applyChunk(states, rd)
			if err != nil {
				return err
			}
			if becameComplete {
				remaining--
			}
		}
	}
	return nil
}

func (d *RangeDownloader) applyChunk(states map[uint32]*downloadState, rd storagepb.ObjectRangeData) (becameComplete bool, err error) {
	st, ok := states[rd.ReadRange.ReadID]
	if !ok || st.isComplete {
		return false, nil
	}

	chunkOffset := rd.ReadRange.ReadOffset
	if chunkOffset != st.nextExpectedOffset() {
		return false, errs.NewErrDataCorruption(st.readID, chunkOffset,
			"offset mismatch: expected %d, got %d", st.nextExpectedOffset(), chunkOffset)
	}

	if !d.cksum.Verify(rd.ChecksummedData.Content, rd.ChecksummedData.Crc32C) {
		return false, errs.NewErrDataCorruption(st.readID, chunkOffset, "checksum mismatch")
	}

	if _, err := st.buffer.Write(rd.ChecksummedData.Content); err != nil {
		return false, err
	}
	st.bytesWritten += uint64(len(rd.ChecksummedData.Content))

	if rd.RangeEnd {
		st.isComplete = true
		if st.initialLength != 0 && st.bytesWritten != st.initialLength {
			return false, errs.NewErrDataCorruption(st.readID, st.nextExpectedOffset(),
				"byte count mismatch: expected %d, wrote %d", st.initialLength, st.bytesWritten)
		}
		return true, nil
	}
	return false, nil
}

// Package reads implements the reads resumption strategy (C6): smarter
// resumption that re-requests only the unwritten tail of each still-open
// range, validates offsets/CRC32C/byte-counts per chunk, and absorbs
// redirect routing tokens across retries.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package reads

import (
	"context"
	"io"
	"sort"

	"github.com/googleapis/storage-bidi/bidi"
	"github.com/googleapis/storage-bidi/cksum"
	"github.com/googleapis/storage-bidi/errs"
	"github.com/googleapis/storage-bidi/retry"
	"github.com/googleapis/storage-bidi/storagepb"
)

// RangeState is the per-read_id download state spec.md §3 describes,
// owned by this strategy across retries.
type RangeState struct {
	ReadID        uint32
	InitialOffset uint64
	InitialLength uint64 // 0 means "to end of object"
	Buffer        io.Writer
	BytesWritten  uint64
	IsComplete    bool
}

func (r *RangeState) nextExpectedOffset() uint64 { return r.InitialOffset + r.BytesWritten }

// State is the retry manager's application state for one multi-range read.
type State struct {
	Bucket, Object string
	Generation     int64
	ReadHandle     []byte
	RoutingToken   string

	ids    []uint32 // insertion order, stable read_id assignment
	ranges map[uint32]*RangeState
}

// NewState builds read state for the given ranges, assigning stable
// read_ids in input order.
func NewState(bucket, object string, generation int64, ranges []bidi.Range) (*State, error) {
	if len(ranges) > bidi.MaxRanges {
		return nil, errs.NewErrInvalidArgument("too many ranges: %d exceeds maximum of %d", len(ranges), bidi.MaxRanges)
	}
	st := &State{
		Bucket: bucket, Object: object, Generation: generation,
		ids:    make([]uint32, 0, len(ranges)),
		ranges: make(map[uint32]*RangeState, len(ranges)),
	}
	for i, r := range ranges {
		id := uint32(i)
		length := uint64(0)
		if r.End > r.Start {
			length = uint64(r.End - r.Start)
		}
		st.ids = append(st.ids, id)
		st.ranges[id] = &RangeState{
			ReadID:        id,
			InitialOffset: uint64(r.Start),
			InitialLength: length,
			Buffer:        r.Buffer,
		}
	}
	return st, nil
}

// Done reports whether every range has reached range_end.
func (s *State) Done() bool {
	for _, rs := range s.ranges {
		if !rs.IsComplete {
			return false
		}
	}
	return true
}

// Strategy implements retry.Strategy[State, storagepb.ReadRange, *storagepb.BidiReadObjectResponse].
type Strategy struct {
	cksum *cksum.Engine
}

func NewStrategy(engine *cksum.Engine) *Strategy { return &Strategy{cksum: engine} }

// GenerateRequests emits, for each not-yet-complete range, a ReadRange
// picking up exactly where the last successful write left off — the
// "smarter resumption" spec.md §4.6 requires: bytes already durable in the
// caller's buffer are never re-fetched.
func (s *Strategy) GenerateRequests(state *State) retry.RequestIter[storagepb.ReadRange] {
	reqs := make([]storagepb.ReadRange, 0, len(state.ids))
	for _, id := range state.ids {
		rs := state.ranges[id]
		if rs.IsComplete {
			continue
		}
		length := uint64(0)
		if rs.InitialLength != 0 {
			length = rs.InitialLength - rs.BytesWritten
		}
		reqs = append(reqs, storagepb.ReadRange{
			ReadID:     rs.ReadID,
			ReadOffset: rs.nextExpectedOffset(),
			ReadLength: length,
		})
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].ReadID < reqs[j].ReadID })
	return retry.NewSliceIter(reqs)
}

// UpdateStateFromResponse validates and applies every ObjectRangeData in
// resp, per spec.md §4.6 steps 1-5.
func (s *Strategy) UpdateStateFromResponse(resp *storagepb.BidiReadObjectResponse, state *State) error {
	for _, rd := range resp.ObjectDataRanges {
		rs, ok := state.ranges[rd.ReadRange.ReadID]
		if !ok || rs.IsComplete {
			continue
		}

		chunkOffset := rd.ReadRange.ReadOffset
		if chunkOffset != rs.nextExpectedOffset() {
			return errs.NewErrDataCorruption(rs.ReadID, chunkOffset, "Offset mismatch for read_id %d", rs.ReadID)
		}
		if !s.cksum.Verify(rd.ChecksummedData.Content, rd.ChecksummedData.Crc32C) {
			return errs.NewErrDataCorruption(rs.ReadID, chunkOffset, "Checksum mismatch for read_id %d", rs.ReadID)
		}
		if _, err := rs.Buffer.Write(rd.ChecksummedData.Content); err != nil {
			return err
		}
		rs.BytesWritten += uint64(len(rd.ChecksummedData.Content))

		if rd.RangeEnd {
			rs.IsComplete = true
			if rs.InitialLength != 0 && rs.BytesWritten != rs.InitialLength {
				return errs.NewErrDataCorruption(rs.ReadID, rs.nextExpectedOffset(), "Byte count mismatch for read_id %d", rs.ReadID)
			}
		}
	}
	if len(resp.ReadHandle) > 0 {
		state.ReadHandle = resp.ReadHandle
	}
	return nil
}

// RecoverStateOnFailure absorbs a redirect's routing token (and refreshed
// read handle, if any) into state. No buffer rewinding is needed: reads are
// append-only forward, so GenerateRequests simply resumes from
// bytes_written on the next attempt.
func (s *Strategy) RecoverStateOnFailure(err error, state *State) error {
	if redirect, ok := errs.AsRedirect(err); ok {
		state.RoutingToken = redirect.RoutingToken
		if len(redirect.ReadHandle) > 0 {
			state.ReadHandle = redirect.ReadHandle
		}
	}
	return nil
}

// Opener returns a retry.Opener that opens a fresh bidi.ReadStream per
// attempt (resuming via state.ReadHandle/RoutingToken when set) and pumps
// GenerateRequests's output onto it in batches of at most
// bidi.MaxRangesPerRequest.
func Opener(newStream func() *bidi.ReadStream) retry.Opener[State, storagepb.ReadRange, *storagepb.BidiReadObjectResponse] {
	return func(ctx context.Context, requests retry.RequestIter[storagepb.ReadRange], state *State) (retry.ResponseIter[*storagepb.BidiReadObjectResponse], error) {
		stream := newStream()
		stream.SetRoutingToken(state.RoutingToken)

		var err error
		if len(state.ReadHandle) > 0 {
			err = stream.OpenWithHandle(ctx, state.Bucket, state.Object, state.ReadHandle, state.RoutingToken)
		} else {
			err = stream.Open(ctx, state.Bucket, state.Object, state.Generation)
		}
		if err != nil {
			if redirect, ok := bidi.ExtractReadRedirect(err, stream.Trailer()); ok {
				return nil, redirect
			}
			return nil, err
		}
		state.ReadHandle = stream.ReadHandle()
		if state.Generation == 0 {
			state.Generation = stream.Generation()
		}

		pending := make([]storagepb.ReadRange, 0, bidi.MaxRangesPerRequest)
		flush := func() error {
			if len(pending) == 0 {
				return nil
			}
			err := stream.Send(pending)
			pending = pending[:0]
			return err
		}
		for {
			r, ok := requests.Next()
			if !ok {
				break
			}
			pending = append(pending, r)
			if len(pending) == bidi.MaxRangesPerRequest {
				if err := flush(); err != nil {
					return nil, err
				}
			}
		}
		if err := flush(); err != nil {
			return nil, err
		}

		return &responseIter{stream: stream}, nil
	}
}

type responseIter struct {
	stream *bidi.ReadStream
}

func (r *responseIter) Recv() (*storagepb.BidiReadObjectResponse, bool, error) {
	resp, done, err := r.stream.Recv()
	if err != nil {
		if redirect, ok := bidi.ExtractReadRedirect(err, r.stream.Trailer()); ok {
			return nil, false, redirect
		}
	}
	return resp, done, err
}

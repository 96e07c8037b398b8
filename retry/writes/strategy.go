// Package writes implements the writes resumption strategy (C7): a lazy
// request generator over a seekable ByteSource, state-lookup on retry,
// flush-interval bookkeeping, and unconditional rewind-to-durable-offset
// recovery.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package writes

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/googleapis/storage-bidi/bidi"
	"github.com/googleapis/storage-bidi/cksum"
	"github.com/googleapis/storage-bidi/errs"
	"github.com/googleapis/storage-bidi/retry"
	"github.com/googleapis/storage-bidi/storagepb"
)

// State is the retry manager's application state for one appendable write.
type State struct {
	Bucket, Object string
	Generation     int64

	ChunkSize     int
	FlushInterval uint64 // 0 means unset

	UserBuffer ByteSource

	PersistedSize       uint64
	BytesSent           uint64
	BytesSinceLastFlush uint64

	WriteHandle  []byte
	RoutingToken string
	IsFinalized  bool
}

// NewState builds write state for a fresh append over source, chunked at
// chunkSize bytes. flushInterval of 0 disables interval-triggered flushes.
func NewState(bucket, object string, generation int64, source ByteSource, chunkSize int, flushInterval uint64) (*State, error) {
	if chunkSize <= 0 {
		return nil, errs.NewErrInvalidArgument("chunk_size must be positive, got %d", chunkSize)
	}
	return &State{
		Bucket: bucket, Object: object, Generation: generation,
		ChunkSize: chunkSize, FlushInterval: flushInterval,
		UserBuffer: source,
	}, nil
}

// Strategy implements retry.Strategy[State, storagepb.BidiWriteObjectRequest, *storagepb.BidiWriteObjectResponse].
type Strategy struct {
	cksum *cksum.Engine
}

func NewStrategy(engine *cksum.Engine) *Strategy { return &Strategy{cksum: engine} }

// GenerateRequests builds the lazy request sequence spec.md §4.7 describes:
// an optional leading state-lookup, then data chunks until the source is
// exhausted or the write has already finalized, with the final chunk
// carrying both flush and state_lookup.
func (s *Strategy) GenerateRequests(state *State) retry.RequestIter[storagepb.BidiWriteObjectRequest] {
	// Defensive guard: BytesSent > PersistedSize never holds on a first attempt or right after RecoverStateOnFailure.
	needsLookup := state.RoutingToken != "" || state.BytesSent > state.PersistedSize
	finalized := state.IsFinalized
	done := false

	return retry.NewFuncIter(func() (storagepb.BidiWriteObjectRequest, bool) {
		if needsLookup {
			needsLookup = false
			return storagepb.BidiWriteObjectRequest{StateLookup: true}, true
		}
		if done || finalized {
			return storagepb.BidiWriteObjectRequest{}, false
		}

		chunk, err := state.UserBuffer.Read(state.ChunkSize)
		if err != nil || len(chunk) == 0 {
			done = true
			return storagepb.BidiWriteObjectRequest{}, false
		}

		isLast, peekErr := state.UserBuffer.Peek()
		if peekErr != nil {
			isLast = false
		}

		req := storagepb.BidiWriteObjectRequest{
			WriteOffset: state.BytesSent,
			ChecksummedData: &storagepb.ChecksummedData{
				Content: chunk,
				Crc32C:  s.cksum.Sum(chunk),
			},
		}
		state.BytesSent += uint64(len(chunk))
		state.BytesSinceLastFlush += uint64(len(chunk))

		if state.FlushInterval != 0 && state.BytesSinceLastFlush >= state.FlushInterval {
			req.Flush = true
			state.BytesSinceLastFlush = 0
		}
		if isLast {
			req.Flush = true
			req.StateLookup = true
			done = true
		}
		return req, true
	})
}

// UpdateStateFromResponse adopts persisted_size / write_handle / resource
// fields per spec.md §4.7's per-response update rules.
func (s *Strategy) UpdateStateFromResponse(resp *storagepb.BidiWriteObjectResponse, state *State) error {
	if resp.PersistedSize != nil {
		state.PersistedSize = uint64(*resp.PersistedSize)
	}
	if len(resp.WriteHandle) > 0 {
		state.WriteHandle = resp.WriteHandle
	}
	if resp.Resource != nil {
		state.PersistedSize = uint64(resp.Resource.Size)
		if resp.Resource.FinalizeTime != nil {
			state.IsFinalized = true
		}
	}
	return nil
}

// RecoverStateOnFailure adopts a redirect's routing token/write handle when
// present, then unconditionally rewinds local progress to the last
// server-acknowledged durable offset. Bytes beyond persisted_size are
// assumed lost, even with no redirect observed (spec.md §9's retained
// source behavior: a failure before any response still seeks to
// persisted_size, which is 0).
func (s *Strategy) RecoverStateOnFailure(err error, state *State) error {
	if redirect, ok := errs.AsRedirect(err); ok {
		if redirect.RoutingToken != "" {
			state.RoutingToken = redirect.RoutingToken
		}
		if len(redirect.WriteHandle) > 0 {
			state.WriteHandle = redirect.WriteHandle
		}
	}
	if serr := state.UserBuffer.Seek(state.PersistedSize); serr != nil {
		return serr
	}
	state.BytesSent = state.PersistedSize
	state.BytesSinceLastFlush = 0
	return nil
}

// Opener returns a retry.Opener that opens a fresh bidi.WriteStream per
// attempt: OpenCreate while no write handle has been adopted yet, OpenAppend
// (carrying the adopted write handle/routing token) once one has. Requests are
// pumped onto the stream from a background goroutine, concurrently with the
// manager's own recv loop over the returned responseIter — mirroring
// bidi.RangeDownloader's errgroup send/recv split (C4) — so a chunky append
// can't deadlock against gRPC flow control once nothing is draining
// responses to free window capacity.
func Opener(newStream func() *bidi.WriteStream) retry.Opener[State, storagepb.BidiWriteObjectRequest, *storagepb.BidiWriteObjectResponse] {
	return func(ctx context.Context, requests retry.RequestIter[storagepb.BidiWriteObjectRequest], state *State) (retry.ResponseIter[*storagepb.BidiWriteObjectResponse], error) {
		stream := newStream()
		stream.SetRoutingToken(state.RoutingToken)

		var err error
		if len(state.WriteHandle) == 0 {
			err = stream.OpenCreate(ctx, state.Bucket, state.Object)
		} else {
			err = stream.OpenAppend(ctx, state.Bucket, state.Object, state.Generation, state.WriteHandle, state.RoutingToken)
		}
		if err != nil {
			if redirect, ok := bidi.ExtractWriteRedirect(err, stream.Trailer()); ok {
				return nil, redirect
			}
			return nil, err
		}
		state.WriteHandle = stream.WriteHandle()
		if state.Generation == 0 {
			state.Generation = stream.Generation()
		}

		sendCtx, cancelSend := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(sendCtx)
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				req, ok := requests.Next()
				if !ok {
					return nil
				}
				if err := stream.Send(&req); err != nil {
					return err
				}
			}
		})

		return &responseIter{stream: stream, sendGroup: g, cancelSend: cancelSend}, nil
	}
}

type responseIter struct {
	stream     *bidi.WriteStream
	sendGroup  *errgroup.Group
	cancelSend context.CancelFunc
}

func (r *responseIter) Recv() (*storagepb.BidiWriteObjectResponse, bool, error) {
	resp, done, err := r.stream.Recv()
	if err != nil {
		if redirect, ok := bidi.ExtractWriteRedirect(err, r.stream.Trailer()); ok {
			err = redirect
		}
	}
	if done || err != nil {
		r.cancelSend()
		if sendErr := r.sendGroup.Wait(); sendErr != nil && err == nil {
			err = sendErr
		}
		return nil, done, err
	}
	return resp, done, err
}

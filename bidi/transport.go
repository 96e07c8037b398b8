// Package bidi implements the bidirectional-streaming core: the transport
// adapter (C1), per-object read/write streams (C2/C3), and the multi-range
// downloader (C4).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package bidi

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/googleapis/storage-bidi/cmn/debug"
	"github.com/googleapis/storage-bidi/errs"
)

// RawStream is the shape a generated bidi-streaming gRPC client call
// returns (e.g. Storage_BidiReadObjectClient): grpc.ClientStream plus typed
// Send/Recv. A real gapic client call already satisfies this; only a
// hand-rolled opener needs to implement it directly.
type RawStream[Req, Resp any] interface {
	grpc.ClientStream
	Send(*Req) error
	Recv() (*Resp, error)
}

// Opener starts one bidi call and returns its stream. This is what a
// generated client method (client.BidiReadObject, client.BidiWriteObject)
// looks like once bound to a context and call options.
type Opener[Req, Resp any] func(ctx context.Context) (RawStream[Req, Resp], error)

// transportAdapter wraps one RawStream with the socket-like send/recv/close
// contract spec.md §4.1 describes. It is single-consumer on both halves:
// concurrent send and recv from separate goroutines is fine, two concurrent
// recv calls is not (the caller, C2/C3, never does that).
type transportAdapter[Req, Resp any] struct {
	opener Opener[Req, Resp]
	stream RawStream[Req, Resp]
	cancel context.CancelFunc
}

func newTransportAdapter[Req, Resp any](opener Opener[Req, Resp]) *transportAdapter[Req, Resp] {
	return &transportAdapter[Req, Resp]{opener: opener}
}

// open starts the call and, if initial is non-nil, pre-loads it as the first
// outbound message before returning.
func (t *transportAdapter[Req, Resp]) open(ctx context.Context, md metadata.MD, initial *Req) error {
	if t.stream != nil {
		return errs.NewErrInvalidArgument("transport adapter already open")
	}

	ctx, cancel := context.WithCancel(ctx)
	if len(md) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, md)
	}
	stream, err := t.opener(ctx)
	if err != nil {
		cancel()
		return classify(err)
	}
	t.stream, t.cancel = stream, cancel

	if initial != nil {
		if err := t.send(initial); err != nil {
			t.close()
			return err
		}
	}
	return nil
}

// send enqueues one request. send(nil) half-closes the outbound side.
func (t *transportAdapter[Req, Resp]) send(req *Req) error {
	debug.Assert(t.stream != nil, "send on unopened transport")
	if req == nil {
		return classify(t.stream.CloseSend())
	}
	return classify(t.stream.Send(req))
}

// recv awaits the next inbound message. done=true,err=nil signals a clean
// inbound half-close (the terminal marker); a non-nil err is an abnormal
// termination and is never a terminal marker.
func (t *transportAdapter[Req, Resp]) recv() (resp *Resp, done bool, err error) {
	debug.Assert(t.stream != nil, "recv on unopened transport")
	resp, err = t.stream.Recv()
	if err == nil {
		return resp, false, nil
	}
	if errors.Is(err, io.EOF) {
		return nil, true, nil
	}
	return nil, false, classify(err)
}

// trailer exposes trailing metadata once the call has terminated, used to
// extract redirect error details (grpc-status-details-bin).
func (t *transportAdapter[Req, Resp]) trailer() metadata.MD {
	if t.stream == nil {
		return nil
	}
	return t.stream.Trailer()
}

// close cancels the underlying RPC if still active. Idempotent.
func (t *transportAdapter[Req, Resp]) close() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// classify maps a transport-level error onto this module's taxonomy so the
// retry policy's predicate can make a retry/no-retry call without knowing
// about gRPC status codes itself.
func classify(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable, codes.Internal, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return &ErrTransportRetriable{Cause: err, Code: st.Code()}
	case codes.InvalidArgument:
		return errs.NewErrInvalidArgument("%s", st.Message())
	default:
		return err
	}
}

// ErrTransportRetriable wraps a transport error the retry policy's
// predicate is expected to accept (spec.md §7: "Transport retriable").
type ErrTransportRetriable struct {
	Cause error
	Code  codes.Code
}

func (e *ErrTransportRetriable) Error() string { return e.Cause.Error() }
func (e *ErrTransportRetriable) Unwrap() error { return e.Cause }

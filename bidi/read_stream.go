/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package bidi

import (
	"context"
	"fmt"

	"google.golang.org/grpc/metadata"

	"github.com/googleapis/storage-bidi/cmn/debug"
	"github.com/googleapis/storage-bidi/errs"
	"github.com/googleapis/storage-bidi/storagepb"
)

// lifecycle is the small state machine spec.md §3 requires of C2/C3:
// CLOSED -> OPENING -> OPEN -> CLOSING -> CLOSED.
type lifecycle int

const (
	lcClosed lifecycle = iota
	lcOpening
	lcOpen
	lcClosing
)

// ReadStream owns one bidi read call for a single object (C2). It opens
// either with a (bucket, object, generation) spec or by resuming a
// previously issued read handle, and adopts the latest non-empty handle the
// server ever sends.
type ReadStream struct {
	transport *transportAdapter[storagepb.BidiReadObjectRequest, storagepb.BidiReadObjectResponse]

	bucket       string
	object       string
	readHandle   []byte
	routingToken string

	generation int64
	size       int64

	state lifecycle
}

// NewReadStream constructs a ReadStream bound to opener. Call Open to start
// the call with a fresh spec, or OpenWithHandle to resume.
func NewReadStream(opener Opener[storagepb.BidiReadObjectRequest, storagepb.BidiReadObjectResponse]) *ReadStream {
	return &ReadStream{transport: newTransportAdapter(opener)}
}

func (s *ReadStream) requestMetadata() metadata.MD {
	params := "bucket=" + storagepb.BucketResourceName(s.bucket)
	if s.routingToken != "" {
		params += ",routing_token=" + s.routingToken
	}
	return metadata.Pairs("x-goog-request-params", params)
}

// Open starts a fresh read of (bucket, object[, generation]).
func (s *ReadStream) Open(ctx context.Context, bucket, object string, generation int64) error {
	if s.state != lcClosed {
		return errs.NewErrInvalidArgument("ReadStream.Open called on a stream that is already open or opening")
	}
	s.state = lcOpening
	s.bucket, s.object = bucket, object

	initial := &storagepb.BidiReadObjectRequest{
		ReadObjectSpec: &storagepb.BidiReadObjectSpec{
			Bucket:       bucket,
			Object:       object,
			Generation:   generation,
			RoutingToken: s.routingToken,
		},
	}
	return s.openAndAdopt(ctx, initial)
}

// OpenWithHandle resumes a read using a previously issued handle, short-
// circuiting spec resolution on the server.
func (s *ReadStream) OpenWithHandle(ctx context.Context, bucket, object string, handle []byte, routingToken string) error {
	if s.state != lcClosed {
		return errs.NewErrInvalidArgument("ReadStream.OpenWithHandle called on a stream that is already open or opening")
	}
	s.state = lcOpening
	s.bucket, s.object, s.readHandle, s.routingToken = bucket, object, handle, routingToken

	initial := &storagepb.BidiReadObjectRequest{
		ReadObjectSpec: &storagepb.BidiReadObjectSpec{
			Bucket:       bucket,
			Object:       object,
			ReadHandle:   handle,
			RoutingToken: routingToken,
		},
	}
	return s.openAndAdopt(ctx, initial)
}

func (s *ReadStream) openAndAdopt(ctx context.Context, initial *storagepb.BidiReadObjectRequest) error {
	if err := s.transport.open(ctx, s.requestMetadata(), initial); err != nil {
		s.state = lcClosed
		return err
	}
	resp, done, err := s.transport.recv()
	if err != nil {
		s.state = lcClosed
		return err
	}
	if done {
		s.state = lcClosed
		return fmt.Errorf("bidi read: stream closed before first response")
	}
	s.adopt(resp)
	s.state = lcOpen
	return nil
}

func (s *ReadStream) adopt(resp *storagepb.BidiReadObjectResponse) {
	if resp.Metadata != nil {
		s.generation = resp.Metadata.Generation
		s.size = resp.Metadata.Size
	}
	if len(resp.ReadHandle) > 0 {
		s.readHandle = resp.ReadHandle
	}
}

// Send emits a batch of ReadRanges. Only legal while OPEN.
func (s *ReadStream) Send(ranges []storagepb.ReadRange) error {
	debug.Assert(s.state == lcOpen, "send on a ReadStream that is not open")
	return s.transport.send(&storagepb.BidiReadObjectRequest{ReadRanges: ranges})
}

// Recv returns the next response, adopting any refreshed read handle it
// carries. The latest non-empty handle always supersedes the previous one.
func (s *ReadStream) Recv() (*storagepb.BidiReadObjectResponse, bool, error) {
	debug.Assert(s.state == lcOpen, "recv on a ReadStream that is not open")
	resp, done, err := s.transport.recv()
	if err != nil || done {
		return resp, done, err
	}
	if len(resp.ReadHandle) > 0 {
		s.readHandle = resp.ReadHandle
	}
	return resp, false, nil
}

// RequestsDone half-closes the outbound half and awaits the terminal
// inbound marker.
func (s *ReadStream) RequestsDone() error {
	if s.state != lcOpen {
		return nil
	}
	s.state = lcClosing
	if err := s.transport.send(nil); err != nil {
		return err
	}
	for {
		_, done, err := s.transport.recv()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Close drains and releases the underlying transport. Idempotent.
func (s *ReadStream) Close() error {
	err := s.RequestsDone()
	s.transport.close()
	s.state = lcClosed
	return err
}

func (s *ReadStream) Generation() int64   { return s.generation }
func (s *ReadStream) Size() int64         { return s.size }
func (s *ReadStream) ReadHandle() []byte  { return s.readHandle }
func (s *ReadStream) IsOpen() bool        { return s.state == lcOpen }
func (s *ReadStream) RoutingToken() string { return s.routingToken }

// Trailer exposes trailing call metadata once the stream has terminated,
// used to extract a redirect error carried in grpc-status-details-bin.
func (s *ReadStream) Trailer() metadata.MD { return s.transport.trailer() }

// SetRoutingToken is used by the retry strategy to carry a redirect's
// routing token into the next open attempt of a new ReadStream instance.
func (s *ReadStream) SetRoutingToken(token string) { s.routingToken = token }

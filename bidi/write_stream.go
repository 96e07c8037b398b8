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

// WriteStream owns one bidi write call for a single appendable object (C3).
// It opens either by creating a new appendable object or by resuming an
// append onto an existing one, and drains trailing responses on Close.
type WriteStream struct {
	transport *transportAdapter[storagepb.BidiWriteObjectRequest, storagepb.BidiWriteObjectResponse]

	bucket, object string
	generation     int64
	writeHandle    []byte
	routingToken   string

	persistedSize int64
	isFinalized   bool

	state lifecycle
}

func NewWriteStream(opener Opener[storagepb.BidiWriteObjectRequest, storagepb.BidiWriteObjectResponse]) *WriteStream {
	return &WriteStream{transport: newTransportAdapter(opener)}
}

func (s *WriteStream) requestMetadata() metadata.MD {
	params := "bucket=" + storagepb.BucketResourceName(s.bucket)
	if s.routingToken != "" {
		params += ",routing_token=" + s.routingToken
	}
	return metadata.Pairs("x-goog-request-params", params)
}

// OpenCreate starts a brand-new appendable object.
func (s *WriteStream) OpenCreate(ctx context.Context, bucket, object string) error {
	if s.state != lcClosed {
		return errs.NewErrInvalidArgument("WriteStream.OpenCreate called on a stream that is already open or opening")
	}
	s.state = lcOpening
	s.bucket, s.object = bucket, object

	initial := &storagepb.BidiWriteObjectRequest{
		WriteObjectSpec: &storagepb.WriteObjectSpec{
			Resource:   storagepb.WriteObjectResource{Name: object, Bucket: bucket},
			Appendable: true,
		},
	}
	return s.openAndAdopt(ctx, initial)
}

// OpenAppend resumes an append onto an existing appendable object.
func (s *WriteStream) OpenAppend(ctx context.Context, bucket, object string, generation int64, handle []byte, routingToken string) error {
	if s.state != lcClosed {
		return errs.NewErrInvalidArgument("WriteStream.OpenAppend called on a stream that is already open or opening")
	}
	s.state = lcOpening
	s.bucket, s.object, s.generation, s.writeHandle, s.routingToken = bucket, object, generation, handle, routingToken

	initial := &storagepb.BidiWriteObjectRequest{
		AppendObjectSpec: &storagepb.AppendObjectSpec{
			Bucket:       bucket,
			Object:       object,
			Generation:   generation,
			WriteHandle:  handle,
			RoutingToken: routingToken,
		},
	}
	return s.openAndAdopt(ctx, initial)
}

func (s *WriteStream) openAndAdopt(ctx context.Context, initial *storagepb.BidiWriteObjectRequest) error {
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
		return fmt.Errorf("bidi write: stream closed before first response")
	}
	s.adopt(resp)
	s.state = lcOpen
	return nil
}

func (s *WriteStream) adopt(resp *storagepb.BidiWriteObjectResponse) {
	if resp.PersistedSize != nil {
		s.persistedSize = *resp.PersistedSize
	}
	if len(resp.WriteHandle) > 0 {
		s.writeHandle = resp.WriteHandle
	}
	if resp.Resource != nil {
		s.persistedSize = resp.Resource.Size
		if resp.Resource.FinalizeTime != nil {
			s.isFinalized = true
		}
	}
}

// Send emits one write request. Only legal while OPEN.
func (s *WriteStream) Send(req *storagepb.BidiWriteObjectRequest) error {
	debug.Assert(s.state == lcOpen, "send on a WriteStream that is not open")
	return s.transport.send(req)
}

// Recv returns the next response, adopting persisted size / handle /
// finalization state it carries.
func (s *WriteStream) Recv() (*storagepb.BidiWriteObjectResponse, bool, error) {
	debug.Assert(s.state == lcOpen, "recv on a WriteStream that is not open")
	resp, done, err := s.transport.recv()
	if err != nil || done {
		return resp, done, err
	}
	s.adopt(resp)
	return resp, false, nil
}

// Close half-closes the outbound side, then drains inbound responses: a
// response carrying only persisted_size is consumed (not treated as EOF)
// before a second recv is attempted; only an explicit terminal marker ends
// the drain.
func (s *WriteStream) Close() error {
	if s.state != lcOpen {
		s.transport.close()
		s.state = lcClosed
		return nil
	}
	s.state = lcClosing
	sendErr := s.transport.send(nil)

	var drainErr error
	for {
		resp, done, err := s.transport.recv()
		if err != nil {
			drainErr = err
			break
		}
		if done {
			break
		}
		s.adopt(resp)
		// A response without PersistedSize never signals EOF on its own;
		// the loop keeps draining until the transport reports done.
	}

	s.transport.close()
	s.state = lcClosed
	if sendErr != nil {
		return sendErr
	}
	return drainErr
}

func (s *WriteStream) PersistedSize() int64  { return s.persistedSize }
func (s *WriteStream) WriteHandle() []byte   { return s.writeHandle }
func (s *WriteStream) IsFinalized() bool     { return s.isFinalized }
func (s *WriteStream) Generation() int64     { return s.generation }
func (s *WriteStream) IsOpen() bool          { return s.state == lcOpen }
func (s *WriteStream) RoutingToken() string  { return s.routingToken }
func (s *WriteStream) SetRoutingToken(t string) { s.routingToken = t }

// Trailer exposes trailing call metadata once the stream has terminated,
// used to extract a redirect error carried in grpc-status-details-bin.
func (s *WriteStream) Trailer() metadata.MD { return s.transport.trailer() }

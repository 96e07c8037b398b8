/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package bidi

import (
	"context"
	"io"

	"google.golang.org/grpc/metadata"
)

// fakeStream is a minimal RawStream[Req, Resp] double: a queue of canned
// responses to Recv, and a slice recording everything sent.
type fakeStream[Req, Resp any] struct {
	sent      []*Req
	responses []*Resp
	recvErr   error // returned after responses are exhausted, instead of io.EOF
	trailer   metadata.MD
	closed    bool
}

func (f *fakeStream[Req, Resp]) Send(req *Req) error {
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeStream[Req, Resp]) Recv() (*Resp, error) {
	if len(f.responses) > 0 {
		resp := f.responses[0]
		f.responses = f.responses[1:]
		return resp, nil
	}
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	return nil, io.EOF
}

func (f *fakeStream[Req, Resp]) Header() (metadata.MD, error) { return nil, nil }
func (f *fakeStream[Req, Resp]) Trailer() metadata.MD         { return f.trailer }
func (f *fakeStream[Req, Resp]) CloseSend() error             { f.closed = true; return nil }
func (f *fakeStream[Req, Resp]) Context() context.Context     { return context.Background() }
func (f *fakeStream[Req, Resp]) SendMsg(any) error             { return nil }
func (f *fakeStream[Req, Resp]) RecvMsg(any) error             { return nil }

func fakeOpener[Req, Resp any](s *fakeStream[Req, Resp]) Opener[Req, Resp] {
	return func(context.Context) (RawStream[Req, Resp], error) { return s, nil }
}

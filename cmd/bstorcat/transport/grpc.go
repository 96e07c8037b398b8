// Package transport wires a real grpc.ClientConn to the generic bidi.Opener
// shape the core expects. It exists only for the CLI demo: a production
// caller would use a generated gapic client instead of a hand-rolled
// gob-over-grpc codec.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"bytes"
	"context"
	"encoding/gob"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/googleapis/storage-bidi/bidi"
	"github.com/googleapis/storage-bidi/storagepb"
)

const codecName = "bstor-gob"

// gobCodec is a placeholder wire codec for the demo CLI. Real callers rely
// on generated protobuf marshaling; this module's storagepb types are plain
// structs, so the demo needs something that round-trips them over grpc.
type gobCodec struct{}

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// Dial connects to target with the demo codec forced on every call.
func Dial(ctx context.Context, target string) (*grpc.ClientConn, error) {
	return grpc.DialContext(ctx, target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(gobCodec{})),
	)
}

// genericStream adapts a raw grpc.ClientStream to bidi.RawStream's typed
// Send/Recv, mirroring what protoc-gen-go-grpc generates for a real bidi
// method.
type genericStream[Req, Resp any] struct {
	grpc.ClientStream
}

func (g *genericStream[Req, Resp]) Send(req *Req) error { return g.ClientStream.SendMsg(req) }

func (g *genericStream[Req, Resp]) Recv() (*Resp, error) {
	resp := new(Resp)
	if err := g.ClientStream.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ReadOpener returns a bidi.Opener[...] that starts method on conn.
func ReadOpener(conn *grpc.ClientConn, method string) bidi.Opener[storagepb.BidiReadObjectRequest, storagepb.BidiReadObjectResponse] {
	return func(ctx context.Context) (bidi.RawStream[storagepb.BidiReadObjectRequest, storagepb.BidiReadObjectResponse], error) {
		desc := &grpc.StreamDesc{StreamName: method, ServerStreams: true, ClientStreams: true}
		cs, err := conn.NewStream(ctx, desc, method)
		if err != nil {
			return nil, err
		}
		return &genericStream[storagepb.BidiReadObjectRequest, storagepb.BidiReadObjectResponse]{ClientStream: cs}, nil
	}
}

// WriteOpener is ReadOpener's write-side counterpart.
func WriteOpener(conn *grpc.ClientConn, method string) bidi.Opener[storagepb.BidiWriteObjectRequest, storagepb.BidiWriteObjectResponse] {
	return func(ctx context.Context) (bidi.RawStream[storagepb.BidiWriteObjectRequest, storagepb.BidiWriteObjectResponse], error) {
		desc := &grpc.StreamDesc{StreamName: method, ServerStreams: true, ClientStreams: true}
		cs, err := conn.NewStream(ctx, desc, method)
		if err != nil {
			return nil, err
		}
		return &genericStream[storagepb.BidiWriteObjectRequest, storagepb.BidiWriteObjectResponse]{ClientStream: cs}, nil
	}
}

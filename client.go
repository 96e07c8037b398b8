// Package bstor is the public entry point: Client opens append-writers and
// multi-range readers backed by the bidi transport, retry engine, and
// resumption strategies in the bidi/, retry/, retry/reads, and
// retry/writes packages.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package bstor

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"

	"github.com/googleapis/storage-bidi/bidi"
	"github.com/googleapis/storage-bidi/bstorcfg"
	"github.com/googleapis/storage-bidi/cksum"
	"github.com/googleapis/storage-bidi/retry"
	"github.com/googleapis/storage-bidi/retry/reads"
	"github.com/googleapis/storage-bidi/retry/writes"
	"github.com/googleapis/storage-bidi/storagepb"
)

// Client is the root handle a caller constructs once per credential set.
// Acquisition/refresh of the credentials themselves is out of scope here;
// ClientOptions are recorded opaquely and are not passed on to the
// caller's Opener factories.
type Client struct {
	cfg     *bstorcfg.Config
	cksum   *cksum.Engine
	tracer  trace.Tracer
	opts    []option.ClientOption
	readFn  func() bidi.Opener[storagepb.BidiReadObjectRequest, storagepb.BidiReadObjectResponse]
	writeFn func() bidi.Opener[storagepb.BidiWriteObjectRequest, storagepb.BidiWriteObjectResponse]
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithTracer attaches an OpenTelemetry tracer; each attempt's stream open is
// wrapped in a span when set. The span ends when the opener returns, so
// response consumption and stream close are not covered. Nil (the default)
// disables tracing.
func WithTracer(t trace.Tracer) ClientOption {
	return func(c *Client) { c.tracer = t }
}

// WithGoogleAPIOptions records opaque google.golang.org/api ClientOptions
// (credentials, endpoint overrides) on the Client. The Client never
// interprets them, and the read/write opener factories, which take no
// arguments, do not receive them.
func WithGoogleAPIOptions(opts ...option.ClientOption) ClientOption {
	return func(c *Client) { c.opts = append(c.opts, opts...) }
}

// WithReadOpener supplies the factory for a raw bidi read transport, e.g. a
// gapic-generated Storage_BidiReadObjectClient opener bound to a grpc.ClientConn.
func WithReadOpener(fn func() bidi.Opener[storagepb.BidiReadObjectRequest, storagepb.BidiReadObjectResponse]) ClientOption {
	return func(c *Client) { c.readFn = fn }
}

// WithWriteOpener is WithReadOpener's write-side counterpart.
func WithWriteOpener(fn func() bidi.Opener[storagepb.BidiWriteObjectRequest, storagepb.BidiWriteObjectResponse]) ClientOption {
	return func(c *Client) { c.writeFn = fn }
}

// NewClient builds a Client from cfg and the given options. Fails fast if
// cfg requires hardware CRC32C and none is available.
func NewClient(cfg *bstorcfg.Config, opts ...ClientOption) (*Client, error) {
	engine, err := cksum.NewEngine(cfg.Crc32CImpl)
	if err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg, cksum: engine}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AppendWriter is the caller-facing handle for a resumable appendable
// write, returned by NewAppendWriter.
type AppendWriter struct {
	manager *retry.Manager[writes.State, storagepb.BidiWriteObjectRequest, *storagepb.BidiWriteObjectResponse]
	state   *writes.State
}

// NewAppendWriter starts a new appendable write of object in bucket, chunked
// per c.cfg.ChunkSize, flushing every c.cfg.FlushInterval bytes when set.
// The first attempt always creates the object, with write offsets counted
// from 0; it does not resume an existing appendable object.
func (c *Client) NewAppendWriter(bucket, object string, source writes.ByteSource) (*AppendWriter, error) {
	state, err := writes.NewState(bucket, object, 0, source, c.cfg.ChunkSize, c.cfg.FlushInterval)
	if err != nil {
		return nil, err
	}
	opener := writes.Opener(func() *bidi.WriteStream {
		return bidi.NewWriteStream(c.writeFn())
	})
	return &AppendWriter{
		state: state,
		manager: &retry.Manager[writes.State, storagepb.BidiWriteObjectRequest, *storagepb.BidiWriteObjectResponse]{
			Strategy: writes.NewStrategy(c.cksum),
			Open:     c.traced(opener, "bstor.AppendWrite"),
			Policy:   c.cfg.Policy,
		},
	}, nil
}

// Run drives the append to completion: every byte in the source is sent,
// flushed per policy, and the final chunk finalizes state-lookup.
func (w *AppendWriter) Run(ctx context.Context) error {
	return w.manager.Run(ctx, w.state)
}

func (w *AppendWriter) PersistedSize() uint64 { return w.state.PersistedSize }
func (w *AppendWriter) IsFinalized() bool     { return w.state.IsFinalized }

// MultiRangeReader is the caller-facing handle for a resumable concurrent
// multi-range read, returned by NewMultiRangeReader.
type MultiRangeReader struct {
	manager *retry.Manager[reads.State, storagepb.ReadRange, *storagepb.BidiReadObjectResponse]
	state   *reads.State
}

// NewMultiRangeReader opens a resumable multi-range read of object in
// bucket at the given generation (0 for latest), writing each range's
// content into its own Buffer.
func (c *Client) NewMultiRangeReader(bucket, object string, generation int64, ranges []bidi.Range) (*MultiRangeReader, error) {
	state, err := reads.NewState(bucket, object, generation, ranges)
	if err != nil {
		return nil, err
	}
	opener := reads.Opener(func() *bidi.ReadStream {
		return bidi.NewReadStream(c.readFn())
	})
	return &MultiRangeReader{
		state: state,
		manager: &retry.Manager[reads.State, storagepb.ReadRange, *storagepb.BidiReadObjectResponse]{
			Strategy: reads.NewStrategy(c.cksum),
			Open:     c.tracedRead(opener, "bstor.MultiRangeRead"),
			Policy:   c.cfg.Policy,
		},
	}, nil
}

// Run drives the multi-range read to completion: every range's buffer is
// filled or the call fails with a non-retriable error.
func (r *MultiRangeReader) Run(ctx context.Context) error {
	return r.manager.Run(ctx, r.state)
}

func (r *MultiRangeReader) Done() bool { return r.state.Done() }

func (c *Client) traced(
	open retry.Opener[writes.State, storagepb.BidiWriteObjectRequest, *storagepb.BidiWriteObjectResponse],
	spanName string,
) retry.Opener[writes.State, storagepb.BidiWriteObjectRequest, *storagepb.BidiWriteObjectResponse] {
	if c.tracer == nil {
		return open
	}
	return func(ctx context.Context, requests retry.RequestIter[storagepb.BidiWriteObjectRequest], state *writes.State) (retry.ResponseIter[*storagepb.BidiWriteObjectResponse], error) {
		ctx, span := c.tracer.Start(ctx, spanName)
		defer span.End()
		return open(ctx, requests, state)
	}
}

func (c *Client) tracedRead(
	open retry.Opener[reads.State, storagepb.ReadRange, *storagepb.BidiReadObjectResponse],
	spanName string,
) retry.Opener[reads.State, storagepb.ReadRange, *storagepb.BidiReadObjectResponse] {
	if c.tracer == nil {
		return open
	}
	return func(ctx context.Context, requests retry.RequestIter[storagepb.ReadRange], state *reads.State) (retry.ResponseIter[*storagepb.BidiReadObjectResponse], error) {
		ctx, span := c.tracer.Start(ctx, spanName)
		defer span.End()
		return open(ctx, requests, state)
	}
}

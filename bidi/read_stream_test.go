/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package bidi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/googleapis/storage-bidi/errs"
	"github.com/googleapis/storage-bidi/storagepb"
)

func TestReadStreamOpenAdoptsMetadataAndHandle(t *testing.T) {
	fs := &fakeStream[storagepb.BidiReadObjectRequest, storagepb.BidiReadObjectResponse]{
		responses: []*storagepb.BidiReadObjectResponse{
			{Metadata: &storagepb.ObjectMetadata{Generation: 7, Size: 400}, ReadHandle: []byte("h1")},
		},
	}
	s := NewReadStream(fakeOpener(fs))
	require.NoError(t, s.Open(context.Background(), "bkt", "obj", 0))
	require.True(t, s.IsOpen())
	require.EqualValues(t, 7, s.Generation())
	require.EqualValues(t, 400, s.Size())
	require.Equal(t, []byte("h1"), s.ReadHandle())
}

func TestReadStreamLatestNonEmptyHandleSupersedes(t *testing.T) {
	fs := &fakeStream[storagepb.BidiReadObjectRequest, storagepb.BidiReadObjectResponse]{
		responses: []*storagepb.BidiReadObjectResponse{
			{Metadata: &storagepb.ObjectMetadata{Size: 10}, ReadHandle: []byte("h1")},
			{ReadHandle: []byte("h2")},
			{}, // no handle: must not clobber h2
		},
	}
	s := NewReadStream(fakeOpener(fs))
	require.NoError(t, s.Open(context.Background(), "bkt", "obj", 0))

	_, _, err := s.Recv()
	require.NoError(t, err)
	require.Equal(t, []byte("h2"), s.ReadHandle())

	_, _, err = s.Recv()
	require.NoError(t, err)
	require.Equal(t, []byte("h2"), s.ReadHandle())
}

// TestReadStreamOpenTwiceReturnsError covers property 8: a second Open call
// on an already-open stream fails with a real error, regardless of build
// tags, instead of silently re-running the RPC.
func TestReadStreamOpenTwiceReturnsError(t *testing.T) {
	fs := &fakeStream[storagepb.BidiReadObjectRequest, storagepb.BidiReadObjectResponse]{
		responses: []*storagepb.BidiReadObjectResponse{
			{Metadata: &storagepb.ObjectMetadata{Size: 1}},
		},
	}
	s := NewReadStream(fakeOpener(fs))
	require.NoError(t, s.Open(context.Background(), "bkt", "obj", 0))

	err := s.Open(context.Background(), "bkt", "obj", 0)
	require.Error(t, err)
	require.True(t, errs.IsInvalidArgument(err))
	require.True(t, s.IsOpen(), "the first, already-open call must be left intact")
}

func TestReadStreamOpenWithHandleTwiceReturnsError(t *testing.T) {
	fs := &fakeStream[storagepb.BidiReadObjectRequest, storagepb.BidiReadObjectResponse]{
		responses: []*storagepb.BidiReadObjectResponse{
			{Metadata: &storagepb.ObjectMetadata{Size: 1}},
		},
	}
	s := NewReadStream(fakeOpener(fs))
	require.NoError(t, s.OpenWithHandle(context.Background(), "bkt", "obj", []byte("h1"), ""))

	err := s.OpenWithHandle(context.Background(), "bkt", "obj", []byte("h1"), "")
	require.Error(t, err)
	require.True(t, errs.IsInvalidArgument(err))
}

func TestReadStreamRequestsDoneDrainsUntilTerminalMarker(t *testing.T) {
	fs := &fakeStream[storagepb.BidiReadObjectRequest, storagepb.BidiReadObjectResponse]{
		responses: []*storagepb.BidiReadObjectResponse{{Metadata: &storagepb.ObjectMetadata{Size: 1}}},
	}
	s := NewReadStream(fakeOpener(fs))
	require.NoError(t, s.Open(context.Background(), "bkt", "obj", 0))
	require.NoError(t, s.RequestsDone())
	require.True(t, fs.closed)
	require.False(t, s.IsOpen())
}

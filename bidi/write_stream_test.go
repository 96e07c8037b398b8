/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package bidi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/googleapis/storage-bidi/errs"
	"github.com/googleapis/storage-bidi/storagepb"
)

func TestWriteStreamOpenCreateAdoptsHandle(t *testing.T) {
	fs := &fakeStream[storagepb.BidiWriteObjectRequest, storagepb.BidiWriteObjectResponse]{
		responses: []*storagepb.BidiWriteObjectResponse{
			{WriteHandle: []byte("wh1")},
		},
	}
	s := NewWriteStream(fakeOpener(fs))
	require.NoError(t, s.OpenCreate(context.Background(), "bkt", "obj"))
	require.True(t, s.IsOpen())
	require.Equal(t, []byte("wh1"), s.WriteHandle())
}

// TestWriteStreamCloseConsumesPersistedSizeOnlyResponse covers property 9:
// a post-half-close response carrying only persisted_size is consumed (not
// treated as EOF), and a second recv follows before the terminal marker.
func TestWriteStreamCloseConsumesPersistedSizeOnlyResponse(t *testing.T) {
	persisted := int64(512)
	fs := &fakeStream[storagepb.BidiWriteObjectRequest, storagepb.BidiWriteObjectResponse]{
		responses: []*storagepb.BidiWriteObjectResponse{
			{WriteHandle: []byte("wh1")},         // first response, consumed by OpenCreate
			{PersistedSize: &persisted},           // drain: must not be treated as EOF
			// next Recv() falls through to io.EOF -> terminal marker
		},
	}
	s := NewWriteStream(fakeOpener(fs))
	require.NoError(t, s.OpenCreate(context.Background(), "bkt", "obj"))

	require.NoError(t, s.Close())
	require.EqualValues(t, persisted, s.PersistedSize())
	require.True(t, fs.closed)
	require.False(t, s.IsOpen())
}

// TestWriteStreamCloseImmediateEOFDrainsOnce covers property 9's other half:
// an immediate terminal marker ends the drain after exactly one recv.
func TestWriteStreamCloseImmediateEOFDrainsOnce(t *testing.T) {
	fs := &fakeStream[storagepb.BidiWriteObjectRequest, storagepb.BidiWriteObjectResponse]{
		responses: []*storagepb.BidiWriteObjectResponse{
			{WriteHandle: []byte("wh1")},
		},
	}
	s := NewWriteStream(fakeOpener(fs))
	require.NoError(t, s.OpenCreate(context.Background(), "bkt", "obj"))
	require.NoError(t, s.Close())
}

// TestWriteStreamOpenCreateTwiceReturnsError covers property 8 on the write
// side: re-opening an already-open WriteStream fails with a real error
// rather than silently starting a second RPC.
func TestWriteStreamOpenCreateTwiceReturnsError(t *testing.T) {
	fs := &fakeStream[storagepb.BidiWriteObjectRequest, storagepb.BidiWriteObjectResponse]{
		responses: []*storagepb.BidiWriteObjectResponse{{WriteHandle: []byte("wh1")}},
	}
	s := NewWriteStream(fakeOpener(fs))
	require.NoError(t, s.OpenCreate(context.Background(), "bkt", "obj"))

	err := s.OpenCreate(context.Background(), "bkt", "obj")
	require.Error(t, err)
	require.True(t, errs.IsInvalidArgument(err))
	require.True(t, s.IsOpen(), "the first, already-open call must be left intact")
}

func TestWriteStreamOpenAppendTwiceReturnsError(t *testing.T) {
	fs := &fakeStream[storagepb.BidiWriteObjectRequest, storagepb.BidiWriteObjectResponse]{
		responses: []*storagepb.BidiWriteObjectResponse{{WriteHandle: []byte("wh1")}},
	}
	s := NewWriteStream(fakeOpener(fs))
	require.NoError(t, s.OpenAppend(context.Background(), "bkt", "obj", 0, []byte("wh1"), ""))

	err := s.OpenAppend(context.Background(), "bkt", "obj", 0, []byte("wh1"), "")
	require.Error(t, err)
	require.True(t, errs.IsInvalidArgument(err))
}

func TestWriteStreamFinalizeAdoptsResourceSizeAndFinalizeTime(t *testing.T) {
	finalizeTime := time.Unix(0, 0)
	fs := &fakeStream[storagepb.BidiWriteObjectRequest, storagepb.BidiWriteObjectResponse]{
		responses: []*storagepb.BidiWriteObjectResponse{
			{}, // first response for OpenCreate
			{Resource: &storagepb.ObjectResource{Size: 1024, FinalizeTime: &finalizeTime}},
		},
	}
	s := NewWriteStream(fakeOpener(fs))
	require.NoError(t, s.OpenCreate(context.Background(), "bkt", "obj"))
	require.False(t, s.IsFinalized())

	_, _, err := s.Recv()
	require.NoError(t, err)
	require.True(t, s.IsFinalized())
	require.EqualValues(t, 1024, s.PersistedSize())
}

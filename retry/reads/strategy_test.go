/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package reads

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/googleapis/storage-bidi/bidi"
	"github.com/googleapis/storage-bidi/cksum"
	"github.com/googleapis/storage-bidi/errs"
	"github.com/googleapis/storage-bidi/storagepb"
)

func newEngine(t *testing.T) *cksum.Engine {
	t.Helper()
	e, err := cksum.NewEngine(cksum.Hardware)
	if err != nil {
		t.Skip("no hardware CRC32C on this test runner")
	}
	return e
}

// TestGenerateRequestsResumesFromBytesWritten covers property 4: after a
// partial download of k bytes, the next generated request for that read_id
// starts at initial_offset+k with the remaining length.
func TestGenerateRequestsResumesFromBytesWritten(t *testing.T) {
	var buf bytes.Buffer
	state, err := NewState("bkt", "obj", 0, []bidi.Range{{Start: 0, End: 1000, Buffer: &buf}})
	require.NoError(t, err)
	state.ranges[0].BytesWritten = 400

	strategy := NewStrategy(newEngine(t))
	iter := strategy.GenerateRequests(state)
	req, ok := iter.Next()
	require.True(t, ok)
	require.EqualValues(t, 400, req.ReadOffset)
	require.EqualValues(t, 600, req.ReadLength)

	_, ok = iter.Next()
	require.False(t, ok)
}

func TestGenerateRequestsSkipsCompleteRanges(t *testing.T) {
	var a, b bytes.Buffer
	state, err := NewState("bkt", "obj", 0, []bidi.Range{
		{Start: 0, End: 100, Buffer: &a},
		{Start: 100, End: 200, Buffer: &b},
	})
	require.NoError(t, err)
	state.ranges[0].IsComplete = true

	strategy := NewStrategy(newEngine(t))
	iter := strategy.GenerateRequests(state)
	req, ok := iter.Next()
	require.True(t, ok)
	require.EqualValues(t, 1, req.ReadID)
	_, ok = iter.Next()
	require.False(t, ok)
}

func TestUpdateStateFromResponseOffsetMismatchIsDataCorruption(t *testing.T) {
	var buf bytes.Buffer
	state, err := NewState("bkt", "obj", 0, []bidi.Range{{Start: 0, End: 1000, Buffer: &buf}})
	require.NoError(t, err)

	engine := newEngine(t)
	strategy := NewStrategy(engine)
	content := bytes.Repeat([]byte{0x42}, 12)
	resp := &storagepb.BidiReadObjectResponse{
		ObjectDataRanges: []storagepb.ObjectRangeData{{
			ReadRange:       storagepb.ObjectRangeMetadata{ReadID: 0, ReadOffset: 512}, // expected 0
			ChecksummedData: storagepb.ChecksummedData{Content: content, Crc32C: engine.Sum(content)},
		}},
	}
	err = strategy.UpdateStateFromResponse(resp, state)
	require.Error(t, err)
	require.True(t, errs.IsDataCorruption(err))
	require.Equal(t, 0, buf.Len())
}

func TestUpdateStateFromResponseChecksumMismatchIsDataCorruption(t *testing.T) {
	var buf bytes.Buffer
	state, err := NewState("bkt", "obj", 0, []bidi.Range{{Start: 0, End: 1000, Buffer: &buf}})
	require.NoError(t, err)

	strategy := NewStrategy(newEngine(t))
	resp := &storagepb.BidiReadObjectResponse{
		ObjectDataRanges: []storagepb.ObjectRangeData{{
			ReadRange:       storagepb.ObjectRangeMetadata{ReadID: 0, ReadOffset: 0},
			ChecksummedData: storagepb.ChecksummedData{Content: []byte("hello"), Crc32C: 0xDEADBEEF},
		}},
	}
	err = strategy.UpdateStateFromResponse(resp, state)
	require.Error(t, err)
	require.True(t, errs.IsDataCorruption(err))
}

func TestUpdateStateFromResponseByteCountMismatchOnRangeEnd(t *testing.T) {
	var buf bytes.Buffer
	state, err := NewState("bkt", "obj", 0, []bidi.Range{{Start: 0, End: 1000, Buffer: &buf}})
	require.NoError(t, err)

	engine := newEngine(t)
	strategy := NewStrategy(engine)
	content := bytes.Repeat([]byte{0x01}, 10)
	resp := &storagepb.BidiReadObjectResponse{
		ObjectDataRanges: []storagepb.ObjectRangeData{{
			ReadRange:       storagepb.ObjectRangeMetadata{ReadID: 0, ReadOffset: 0},
			ChecksummedData: storagepb.ChecksummedData{Content: content, Crc32C: engine.Sum(content)},
			RangeEnd:        true, // only 10 of 1000 bytes, claiming completion
		}},
	}
	err = strategy.UpdateStateFromResponse(resp, state)
	require.Error(t, err)
	require.True(t, errs.IsDataCorruption(err))
}

// TestRecoverStateOnFailureAbsorbsRedirect covers property 6.
func TestRecoverStateOnFailureAbsorbsRedirect(t *testing.T) {
	var buf bytes.Buffer
	state, err := NewState("bkt", "obj", 0, []bidi.Range{{Start: 0, End: 100, Buffer: &buf}})
	require.NoError(t, err)

	strategy := NewStrategy(newEngine(t))
	redirectErr := &errs.ErrRedirect{RoutingToken: "T", ReadHandle: []byte("H")}
	require.NoError(t, strategy.RecoverStateOnFailure(redirectErr, state))
	require.Equal(t, "T", state.RoutingToken)
	require.Equal(t, []byte("H"), state.ReadHandle)
}

func TestNewStateRejectsTooManyRanges(t *testing.T) {
	ranges := make([]bidi.Range, bidi.MaxRanges+1)
	_, err := NewState("bkt", "obj", 0, ranges)
	require.Error(t, err)
	require.True(t, errs.IsInvalidArgument(err))
}

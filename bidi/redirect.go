/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package bidi

import (
	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/googleapis/storage-bidi/errs"
	"github.com/googleapis/storage-bidi/storagepb"
)

// ExtractReadRedirect implements spec.md §9's "single extraction utility":
// a redirect may arrive as the error itself, wrapped inside it, or
// serialized inside grpc-status-details-bin trailing metadata.
func ExtractReadRedirect(err error, trailer metadata.MD) (*errs.ErrRedirect, bool) {
	if r, ok := errs.AsRedirect(err); ok {
		return r, true
	}
	for _, detail := range statusDetails(err, trailer) {
		if detail.GetTypeUrl() != storagepb.ReadRedirectedTypeURL {
			continue
		}
		if decoded, derr := storagepb.UnmarshalBidiReadObjectRedirectedError(detail.GetValue()); derr == nil {
			return &errs.ErrRedirect{RoutingToken: decoded.RoutingToken, ReadHandle: decoded.ReadHandle}, true
		}
	}
	return nil, false
}

// ExtractWriteRedirect is ExtractReadRedirect's write-side counterpart.
func ExtractWriteRedirect(err error, trailer metadata.MD) (*errs.ErrRedirect, bool) {
	if r, ok := errs.AsRedirect(err); ok {
		return r, true
	}
	for _, detail := range statusDetails(err, trailer) {
		if detail.GetTypeUrl() != storagepb.WriteRedirectedTypeURL {
			continue
		}
		if decoded, derr := storagepb.UnmarshalBidiWriteObjectRedirectedError(detail.GetValue()); derr == nil {
			return &errs.ErrRedirect{RoutingToken: decoded.RoutingToken, WriteHandle: decoded.WriteHandle}, true
		}
	}
	return nil, false
}

// statusDetails prefers the details already parsed onto err's gRPC status;
// falls back to decoding the raw grpc-status-details-bin trailer, which is
// where some streaming failures only surface them.
func statusDetails(err error, trailer metadata.MD) []*anypb.Any {
	if st, ok := status.FromError(err); ok {
		if details := st.Proto().GetDetails(); len(details) > 0 {
			return details
		}
	}
	raw := trailer.Get("grpc-status-details-bin")
	if len(raw) == 0 {
		return nil
	}
	var sp spb.Status
	if err := proto.Unmarshal([]byte(raw[0]), &sp); err != nil {
		return nil
	}
	return sp.GetDetails()
}

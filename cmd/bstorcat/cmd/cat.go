/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	bstor "github.com/googleapis/storage-bidi"
	"github.com/googleapis/storage-bidi/bidi"
	"github.com/googleapis/storage-bidi/bstorcfg"
	"github.com/googleapis/storage-bidi/cmd/bstorcat/transport"
	"github.com/googleapis/storage-bidi/storagepb"
)

var (
	catEndpoint string
	catStart    int64
	catEnd      int64
)

var catCmd = &cobra.Command{
	Use:   "cat <bucket> <object>",
	Short: "download a byte range of an object to stdout",
	Args:  cobra.ExactArgs(2),
	RunE: func(c *cobra.Command, args []string) error {
		bucket, object := args[0], args[1]

		ctx := context.Background()
		conn, err := transport.Dial(ctx, catEndpoint)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		defer conn.Close()

		cfg, err := bstorcfg.New()
		if err != nil {
			return err
		}
		client, err := bstor.NewClient(cfg, bstor.WithReadOpener(func() bidi.Opener[storagepb.BidiReadObjectRequest, storagepb.BidiReadObjectResponse] {
			return transport.ReadOpener(conn, "/google.storage.v2.Storage/BidiReadObject")
		}))
		if err != nil {
			return err
		}

		reader, err := client.NewMultiRangeReader(bucket, object, 0, []bidi.Range{
			{Start: catStart, End: catEnd, Buffer: os.Stdout},
		})
		if err != nil {
			return err
		}
		return reader.Run(ctx)
	},
}

func init() {
	catCmd.Flags().StringVar(&catEndpoint, "endpoint", "storage.googleapis.com:443", "gRPC endpoint")
	catCmd.Flags().Int64Var(&catStart, "start", 0, "range start offset")
	catCmd.Flags().Int64Var(&catEnd, "end", 0, "range end offset (0 means to EOF)")
}

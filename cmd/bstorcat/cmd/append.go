/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	bstor "github.com/googleapis/storage-bidi"
	"github.com/googleapis/storage-bidi/bidi"
	"github.com/googleapis/storage-bidi/bstorcfg"
	"github.com/googleapis/storage-bidi/cmd/bstorcat/transport"
	"github.com/googleapis/storage-bidi/retry/writes"
	"github.com/googleapis/storage-bidi/storagepb"
)

var (
	appendEndpoint string
	appendChunk    int
	appendFlush    uint64
)

var appendCmd = &cobra.Command{
	Use:   "append <bucket> <object>",
	Short: "append-write stdin to an appendable object",
	Args:  cobra.ExactArgs(2),
	RunE: func(c *cobra.Command, args []string) error {
		bucket, object := args[0], args[1]

		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}

		ctx := context.Background()
		conn, err := transport.Dial(ctx, appendEndpoint)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		defer conn.Close()

		cfg, err := bstorcfg.New(
			bstorcfg.WithChunkSize(appendChunk),
			bstorcfg.WithFlushInterval(appendFlush),
		)
		if err != nil {
			return err
		}
		client, err := bstor.NewClient(cfg, bstor.WithWriteOpener(func() bidi.Opener[storagepb.BidiWriteObjectRequest, storagepb.BidiWriteObjectResponse] {
			return transport.WriteOpener(conn, "/google.storage.v2.Storage/BidiWriteObject")
		}))
		if err != nil {
			return err
		}

		writer, err := client.NewAppendWriter(bucket, object, writes.NewBufferSource(data))
		if err != nil {
			return err
		}
		if err := writer.Run(ctx); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "persisted %d bytes, finalized=%v\n", writer.PersistedSize(), writer.IsFinalized())
		return nil
	},
}

func init() {
	appendCmd.Flags().StringVar(&appendEndpoint, "endpoint", "storage.googleapis.com:443", "gRPC endpoint")
	appendCmd.Flags().IntVar(&appendChunk, "chunk-size", bstorcfg.DefaultChunkSize, "bytes per write request")
	appendCmd.Flags().Uint64Var(&appendFlush, "flush-interval", 0, "bytes between forced flushes (0 disables)")
}

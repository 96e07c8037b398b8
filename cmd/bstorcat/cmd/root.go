// Package cmd is a small Cobra command tree demonstrating the bidi core end
// to end: download a range of an object, or append-write one from stdin.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bstorcat",
	Short: "exercise the bidi streaming core against a bucket/object",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(appendCmd)
}

// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/shiqicao/warpy/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		// The assertion harness matches trap messages on stdout; keep the
		// human-facing copy on stderr.
		fmt.Println(err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shiqicao/warpy/internal/host"
	"github.com/shiqicao/warpy/internal/wasm"
	"github.com/shiqicao/warpy/internal/wat"
)

var dumpDisasm bool

var dumpCmd = &cobra.Command{
	Use:   "dump <module.wasm>",
	Short: "Decode a module and print its tables and control-flow maps",
	Long: `Decode a wasm binary and print the type, import, function and export
tables together with the block and branch maps built by the control-flow
pre-pass.

With --disasm, each native function body is also disassembled.

Examples:
  warpy dump ./contract.wasm
  warpy dump ./contract.wasm --disasm`,
	Args: cobra.ExactArgs(1),
	RunE: dumpExec,
}

func dumpExec(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading module: %w", err)
	}

	m, err := wasm.Load(data, host.New().Call)
	if err != nil {
		return err
	}

	heading := color.New(color.FgCyan, color.Bold)
	heading.Printf("module %s (%d bytes)\n", args[0], len(data))
	m.Dump(os.Stdout)

	if !dumpDisasm {
		return nil
	}

	for _, fn := range m.Functions() {
		if fn.Imported {
			continue
		}
		heading.Printf("fn %d [0x%x..0x%x]\n", fn.Index, fn.Start, fn.End)
		instructions, err := wat.Disassemble(data, fn.Start, fn.End)
		if err != nil {
			return err
		}
		fmt.Print(wat.Listing(instructions))
	}
	return nil
}

func init() {
	dumpCmd.Flags().BoolVar(&dumpDisasm, "disasm", false, "Disassemble each function body")
	rootCmd.AddCommand(dumpCmd)
}

// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shiqicao/warpy/internal/db"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent interpreter invocations",
	Long: `List the most recent invocations recorded in the local history store.

Recording is off by default; enable it with WARPY_HISTORY=true or
"history": true in the JSON config file.`,
	Args: cobra.NoArgs,
	RunE: historyExec,
}

func historyExec(cmd *cobra.Command, args []string) error {
	store, err := db.Open(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.RecentRuns(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no recorded invocations")
		return nil
	}

	red := color.New(color.FgRed)
	for _, r := range runs {
		call := r.Entry
		if len(r.Args) > 0 {
			call = fmt.Sprintf("%s(%s)", r.Entry, strings.Join(r.Args, ","))
		}
		fmt.Printf("%4d  %s  %s %s  %dms  ", r.ID,
			r.Timestamp.Format("2006-01-02 15:04:05"), r.ModulePath, call, r.DurationMS)
		if r.ErrorMsg != "" {
			red.Println(r.ErrorMsg)
		} else if r.Result != "" {
			fmt.Println(r.Result)
		} else {
			fmt.Println("ok")
		}
	}
	return nil
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum invocations to list")
	rootCmd.AddCommand(historyCmd)
}

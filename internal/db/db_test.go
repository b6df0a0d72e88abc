// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndListRuns(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SaveRun(&Run{
		ModulePath: "a.wasm",
		Entry:      "add",
		Args:       []string{"2", "3"},
		Result:     "0x5:i32",
		DurationMS: 3,
	}))
	require.NoError(t, store.SaveRun(&Run{
		ModulePath: "b.wasm",
		Entry:      "main",
		ErrorMsg:   "Unreachable: unreachable executed",
	}))

	runs, err := store.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first.
	assert.Equal(t, "b.wasm", runs[0].ModulePath)
	assert.Contains(t, runs[0].ErrorMsg, "Unreachable")
	assert.Equal(t, "a.wasm", runs[1].ModulePath)
	assert.Equal(t, []string{"2", "3"}, runs[1].Args)
	assert.Equal(t, "0x5:i32", runs[1].Result)
	assert.False(t, runs[1].Timestamp.IsZero())
}

func TestRecentRunsLimit(t *testing.T) {
	store := openTestStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.SaveRun(&Run{ModulePath: "m.wasm", Entry: "main"}))
	}
	runs, err := store.RecentRuns(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestEmptyStore(t *testing.T) {
	store := openTestStore(t)
	runs, err := store.RecentRuns(10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "companion.hjson")
	require.NoError(t, os.WriteFile(path, []byte(`{version: "1.0", server: {port: 3001}}`), 0644))

	var mu sync.Mutex
	var got *Config
	w, err := NewWatcher(path, 20*time.Millisecond, func(cfg *Config) {
		mu.Lock()
		got = cfg
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{version: "1.0", server: {port: 4000}}`), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil && got.Server.Port == 4000
	}, 2*time.Second, 25*time.Millisecond)
}

func TestWatcher_InvalidFileKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "companion.hjson")
	require.NoError(t, os.WriteFile(path, []byte(`{version: "1.0"}`), 0644))

	var mu sync.Mutex
	calls := 0
	w, err := NewWatcher(path, 20*time.Millisecond, func(cfg *Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()

	// Fails validation (bad permission mode), so the callback must not fire
	require.NoError(t, os.WriteFile(path, []byte(`{permissions: {mode: "bogus"}}`), 0644))

	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "companion.hjson")
	require.NoError(t, os.WriteFile(path, []byte(`{version: "1.0"}`), 0644))

	var mu sync.Mutex
	calls := 0
	w, err := NewWatcher(path, 20*time.Millisecond, func(cfg *Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644))

	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "companion.hjson")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))

	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

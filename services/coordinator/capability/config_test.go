// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package capability

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGuardFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guards.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadGuardOverrides(t *testing.T) {
	path := writeGuardFile(t, `
capabilities:
  analysis:
    breaker: true
    rate_limit: 30
    rate_window: 1m
    cache_ttl: 5m
  extract:
    exclusive: true
`)

	overrides, err := LoadGuardOverrides(path)
	require.NoError(t, err)
	require.Len(t, overrides, 2)

	analysis := overrides["analysis"]
	assert.True(t, analysis.Breaker)
	assert.Equal(t, 30, analysis.RateLimit)
	assert.Equal(t, time.Minute, analysis.RateWindow)
	assert.Equal(t, 5*time.Minute, analysis.CacheTTL)

	assert.True(t, overrides["extract"].Exclusive)
	assert.False(t, overrides["extract"].Breaker)
}

func TestLoadGuardOverrides_BadDuration(t *testing.T) {
	path := writeGuardFile(t, `
capabilities:
  analysis:
    rate_window: soon
`)
	_, err := LoadGuardOverrides(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_window")
}

func TestLoadGuardOverrides_MissingFile(t *testing.T) {
	_, err := LoadGuardOverrides(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestApplyGuardOverrides(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Registration{
		Name: "echo",
		Executor: ExecutorFunc(func(context.Context, map[string]any) (map[string]any, error) {
			return nil, nil
		}),
	}))

	err := r.ApplyGuardOverrides(map[string]GuardProfile{
		"echo": {RateLimit: 5, RateWindow: time.Minute},
	})
	require.NoError(t, err)

	reg, err := r.Resolve("echo")
	require.NoError(t, err)
	assert.Equal(t, 5, reg.Guards.RateLimit)
}

func TestApplyGuardOverrides_UnknownCapability(t *testing.T) {
	r := NewRegistry()
	err := r.ApplyGuardOverrides(map[string]GuardProfile{"ghost": {}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

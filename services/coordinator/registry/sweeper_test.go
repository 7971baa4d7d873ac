// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Kodiak/services/coordinator/datatypes"
)

func TestSweeper_CancelsStaleTasks(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := New(DefaultConfig(), nil, nil)
	r.now = func() time.Time { return clock }

	stale := r.Submit("rpc.call", "analysis", nil)
	clock = clock.Add(301 * time.Second)
	fresh := r.Submit("rpc.call", "analysis", nil)

	sweeper := NewTaskSweeper(r, DefaultSweeperConfig())
	result := sweeper.RunNow(context.Background())

	assert.Equal(t, 1, result.Cancelled)
	assert.Equal(t, 1, result.ActiveAfter)

	record, ok := r.Status(stale)
	require.True(t, ok, "swept task stays queryable in history")
	assert.Equal(t, datatypes.TaskCancelled, record.Status)
	assert.NotEmpty(t, record.Error)

	record, ok = r.Status(fresh)
	require.True(t, ok)
	assert.Equal(t, datatypes.TaskRunning, record.Status)
}

func TestSweeper_NoopWhenNothingStale(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)
	r.Submit("rpc.call", "echo", nil)

	sweeper := NewTaskSweeper(r, DefaultSweeperConfig())
	result := sweeper.RunNow(context.Background())

	assert.Equal(t, 0, result.Cancelled)
	assert.Equal(t, 1, result.ActiveAfter)
}

func TestSweeper_BackgroundLoopSweepsWithinOneInterval(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := New(DefaultConfig(), nil, nil)
	r.now = func() time.Time { return clock }

	taskID := r.Submit("rpc.call", "analysis", nil)
	clock = clock.Add(10 * time.Minute)

	sweeper := NewTaskSweeper(r, SweeperConfig{
		Interval:   20 * time.Millisecond,
		MaxTaskAge: 300 * time.Second,
	})
	require.NoError(t, sweeper.Start(context.Background()))
	defer func() { _ = sweeper.Stop() }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if record, ok := r.Status(taskID); ok && record.Status == datatypes.TaskCancelled {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("stale task was not cancelled within the sweep interval")
}

func TestSweeper_StartStopLifecycle(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)
	sweeper := NewTaskSweeper(r, SweeperConfig{Interval: time.Hour, MaxTaskAge: time.Hour})

	require.NoError(t, sweeper.Start(context.Background()))
	assert.Error(t, sweeper.Start(context.Background()), "double start must fail")
	require.NoError(t, sweeper.Stop())
	require.NoError(t, sweeper.Stop(), "stop is idempotent")

	// A stopped sweeper can be started again.
	require.NoError(t, sweeper.Start(context.Background()))
	require.NoError(t, sweeper.Stop())
}

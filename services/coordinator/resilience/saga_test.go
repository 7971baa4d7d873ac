// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/Kodiak/services/coordinator/store"
)

func newTestSaga(t *testing.T) *SagaOrchestrator {
	t.Helper()
	s, err := store.New(store.InMemoryConfig())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewSagaOrchestrator(s, nil)
}

func okStep(name string, out map[string]any) SagaStep {
	return SagaStep{
		Name:   name,
		Action: func(context.Context) (map[string]any, error) { return out, nil },
	}
}

func TestSaga_AllStepsCommit(t *testing.T) {
	o := newTestSaga(t)

	result, err := o.Execute(context.Background(), []SagaStep{
		okStep("reserve", map[string]any{"reservation": "r-1"}),
		okStep("charge", map[string]any{"charge": "c-1"}),
		okStep("notify", nil),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.SagaID == "" {
		t.Fatal("committed saga must carry an id")
	}
	if got := result.Results["reserve"]["reservation"]; got != "r-1" {
		t.Fatalf("reserve output = %v, want r-1", got)
	}
	if got := result.Results["charge"]["charge"]; got != "c-1" {
		t.Fatalf("charge output = %v, want c-1", got)
	}

	events, err := o.Events(context.Background(), result.SagaID)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	wantPhases := []string{
		PhaseStarted, PhaseCompleted,
		PhaseStarted, PhaseCompleted,
		PhaseStarted, PhaseCompleted,
	}
	if len(events) != len(wantPhases) {
		t.Fatalf("event count = %d, want %d", len(events), len(wantPhases))
	}
	for i, event := range events {
		if event.Phase != wantPhases[i] {
			t.Fatalf("event %d phase = %q, want %q", i, event.Phase, wantPhases[i])
		}
		if event.SagaID != result.SagaID {
			t.Fatalf("event %d saga id = %q, want %q", i, event.SagaID, result.SagaID)
		}
	}
}

func TestSaga_FailureCompensatesInReverseOrder(t *testing.T) {
	o := newTestSaga(t)

	var mu sync.Mutex
	var undone []string
	compensable := func(name string) SagaStep {
		return SagaStep{
			Name:   name,
			Action: func(context.Context) (map[string]any, error) { return nil, nil },
			Compensation: func(context.Context) error {
				mu.Lock()
				undone = append(undone, name)
				mu.Unlock()
				return nil
			},
		}
	}

	boom := errors.New("charge declined")
	_, err := o.Execute(context.Background(), []SagaStep{
		compensable("reserve"),
		compensable("allocate"),
		{
			Name:   "charge",
			Action: func(context.Context) (map[string]any, error) { return nil, boom },
		},
	})

	var sagaErr *SagaError
	if !errors.As(err, &sagaErr) {
		t.Fatalf("error = %v, want *SagaError", err)
	}
	if sagaErr.Step != "charge" {
		t.Fatalf("failing step = %q, want charge", sagaErr.Step)
	}
	if !errors.Is(err, boom) {
		t.Fatal("saga error must wrap the step's own error")
	}

	if len(undone) != 2 || undone[0] != "allocate" || undone[1] != "reserve" {
		t.Fatalf("compensation order = %v, want [allocate reserve]", undone)
	}

	events, err := o.Events(context.Background(), sagaErr.SagaID)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	var compensated []string
	for _, event := range events {
		if event.Phase == PhaseCompensated {
			compensated = append(compensated, event.Step)
		}
	}
	if len(compensated) != 2 || compensated[0] != "allocate" || compensated[1] != "reserve" {
		t.Fatalf("compensated events = %v, want [allocate reserve]", compensated)
	}
}

func TestSaga_StepTimeout(t *testing.T) {
	o := newTestSaga(t)

	var mu sync.Mutex
	undone := false
	_, err := o.Execute(context.Background(), []SagaStep{
		{
			Name:   "fast",
			Action: func(context.Context) (map[string]any, error) { return nil, nil },
			Compensation: func(context.Context) error {
				mu.Lock()
				undone = true
				mu.Unlock()
				return nil
			},
		},
		{
			Name: "slow",
			Action: func(ctx context.Context) (map[string]any, error) {
				select {
				case <-time.After(2 * time.Second):
					return nil, nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			},
			Timeout: 50 * time.Millisecond,
		},
	})

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	var sagaErr *SagaError
	if !errors.As(err, &sagaErr) || sagaErr.Step != "slow" {
		t.Fatalf("error must name the timed-out step, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !undone {
		t.Fatal("completed step must be compensated after a later timeout")
	}
}

func TestSaga_CompensationFailureIsRecorded(t *testing.T) {
	o := newTestSaga(t)

	boom := errors.New("release failed")
	fail := errors.New("downstream unavailable")
	_, err := o.Execute(context.Background(), []SagaStep{
		{
			Name:         "reserve",
			Action:       func(context.Context) (map[string]any, error) { return nil, nil },
			Compensation: func(context.Context) error { return boom },
		},
		{
			Name:   "charge",
			Action: func(context.Context) (map[string]any, error) { return nil, fail },
		},
	})

	var sagaErr *SagaError
	if !errors.As(err, &sagaErr) {
		t.Fatalf("error = %v, want *SagaError", err)
	}
	// The original failure wins even when a compensation also fails.
	if !errors.Is(err, fail) {
		t.Fatal("saga error must wrap the original step failure")
	}

	events, readErr := o.Events(context.Background(), sagaErr.SagaID)
	if readErr != nil {
		t.Fatalf("read events: %v", readErr)
	}
	found := false
	for _, event := range events {
		if event.Phase == PhaseCompensationFailed && event.Step == "reserve" {
			found = true
			if event.Error == "" {
				t.Fatal("compensation_failed event must carry the error text")
			}
		}
	}
	if !found {
		t.Fatal("event log must record the failed compensation")
	}
}

func TestSaga_RejectsInvalidDefinitions(t *testing.T) {
	o := newTestSaga(t)
	ctx := context.Background()

	if _, err := o.Execute(ctx, nil); err == nil {
		t.Fatal("empty saga must be rejected")
	}
	if _, err := o.Execute(ctx, []SagaStep{okStep("a", nil), okStep("a", nil)}); err == nil {
		t.Fatal("duplicate step names must be rejected")
	}
	if _, err := o.Execute(ctx, []SagaStep{{Name: "a"}}); err == nil {
		t.Fatal("step without action must be rejected")
	}
}

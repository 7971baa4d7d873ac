// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/Kodiak/services/coordinator/store"
)

const (
	sagaLogPrefix = "saga:"

	// defaultStepTimeout bounds a step whose definition carries none.
	defaultStepTimeout = 30 * time.Second

	// compensationTimeout bounds each rollback call. Compensation runs on
	// a fresh background context so a cancelled saga can still roll back.
	compensationTimeout = 30 * time.Second
)

// Saga event phases recorded in the append-only log.
const (
	PhaseStarted            = "started"
	PhaseCompleted          = "completed"
	PhaseCompensated        = "compensated"
	PhaseCompensationFailed = "compensation_failed"
)

// SagaStep is one compensable unit of work.
type SagaStep struct {
	// Name identifies the step; unique within one saga.
	Name string

	// Action performs the step's forward work.
	Action func(ctx context.Context) (map[string]any, error)

	// Compensation undoes a completed Action during rollback. Nil means
	// the step needs no undo.
	Compensation func(ctx context.Context) error

	// Timeout bounds Action; zero falls back to the orchestrator default.
	Timeout time.Duration
}

// SagaEvent is one entry in a saga's append-only event log.
type SagaEvent struct {
	SagaID    string    `json:"saga_id"`
	Step      string    `json:"step"`
	Phase     string    `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// SagaResult reports a fully committed saga.
type SagaResult struct {
	SagaID  string
	Results map[string]map[string]any
}

// SagaOrchestrator runs ordered compensable steps with rollback.
//
// # Description
//
// Steps execute in order. When one fails or times out, the compensations
// of every previously completed step run in reverse order, each on a fresh
// background context. Every transition is appended to the saga's event log
// in the shared store, so the trajectory of a saga survives the process.
//
// # Thread Safety
//
// Safe for concurrent use; each Execute call owns its saga state.
type SagaOrchestrator struct {
	store       store.SharedStore
	logger      *slog.Logger
	stepTimeout time.Duration
}

// NewSagaOrchestrator creates an orchestrator backed by the given store.
// A nil logger falls back to slog.Default().
func NewSagaOrchestrator(s store.SharedStore, logger *slog.Logger) *SagaOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SagaOrchestrator{
		store:       s,
		logger:      logger,
		stepTimeout: defaultStepTimeout,
	}
}

// Execute runs the steps in order, rolling back on the first failure.
//
// # Inputs
//
//   - ctx: Governs the forward path. Rollback runs on background contexts.
//   - steps: Ordered steps with unique names.
//
// # Outputs
//
//   - *SagaResult: Saga id plus per-step outputs when every step commits.
//   - error: A *SagaError naming the failing step after rollback; wraps
//     ErrTimeout when the step exceeded its deadline.
func (o *SagaOrchestrator) Execute(ctx context.Context, steps []SagaStep) (*SagaResult, error) {
	if len(steps) == 0 {
		return nil, errors.New("saga requires at least one step")
	}
	seen := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		if step.Name == "" {
			return nil, errors.New("saga step name must not be empty")
		}
		if step.Action == nil {
			return nil, fmt.Errorf("saga step %q has no action", step.Name)
		}
		if _, dup := seen[step.Name]; dup {
			return nil, fmt.Errorf("duplicate saga step name %q", step.Name)
		}
		seen[step.Name] = struct{}{}
	}

	sagaID := uuid.NewString()
	results := make(map[string]map[string]any, len(steps))
	var completed []SagaStep

	for _, step := range steps {
		o.appendEvent(sagaID, SagaEvent{Step: step.Name, Phase: PhaseStarted})

		output, err := o.runStep(ctx, step)
		if err != nil {
			o.logger.Warn("saga step failed, rolling back",
				"saga_id", sagaID, "step", step.Name, "error", err)
			o.compensate(sagaID, completed)
			return nil, &SagaError{SagaID: sagaID, Step: step.Name, Err: err}
		}

		o.appendEvent(sagaID, SagaEvent{Step: step.Name, Phase: PhaseCompleted})
		results[step.Name] = output
		completed = append(completed, step)
	}

	o.logger.Info("saga committed", "saga_id", sagaID, "steps", len(steps))
	return &SagaResult{SagaID: sagaID, Results: results}, nil
}

// Events reads back a saga's event log in append order.
func (o *SagaOrchestrator) Events(ctx context.Context, sagaID string) ([]SagaEvent, error) {
	raw, err := o.store.ReadLog(ctx, sagaLogPrefix+sagaID)
	if err != nil {
		return nil, fmt.Errorf("read saga log %q: %w", sagaID, err)
	}
	events := make([]SagaEvent, 0, len(raw))
	for _, entry := range raw {
		var event SagaEvent
		if err := json.Unmarshal(entry, &event); err != nil {
			return nil, fmt.Errorf("decode saga event for %q: %w", sagaID, err)
		}
		events = append(events, event)
	}
	return events, nil
}

// runStep executes one action, racing it against the step deadline.
func (o *SagaOrchestrator) runStep(ctx context.Context, step SagaStep) (map[string]any, error) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = o.stepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		output map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		output, err := step.Action(stepCtx)
		done <- outcome{output: output, err: err}
	}()

	select {
	case res := <-done:
		return res.output, res.err
	case <-stepCtx.Done():
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("step %q exceeded %v: %w", step.Name, timeout, ErrTimeout)
		}
		return nil, stepCtx.Err()
	}
}

// compensate undoes completed steps in reverse order. A failing
// compensation is logged and recorded; the sweep continues regardless.
func (o *SagaOrchestrator) compensate(sagaID string, completed []SagaStep) {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensation == nil {
			o.appendEvent(sagaID, SagaEvent{Step: step.Name, Phase: PhaseCompensated})
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), compensationTimeout)
		err := step.Compensation(ctx)
		cancel()

		if err != nil {
			o.logger.Error("saga compensation failed",
				"saga_id", sagaID, "step", step.Name, "error", err)
			o.appendEvent(sagaID, SagaEvent{
				Step:  step.Name,
				Phase: PhaseCompensationFailed,
				Error: err.Error(),
			})
			continue
		}
		o.appendEvent(sagaID, SagaEvent{Step: step.Name, Phase: PhaseCompensated})
	}
}

// appendEvent records one transition; log failures never abort the saga.
func (o *SagaOrchestrator) appendEvent(sagaID string, event SagaEvent) {
	event.SagaID = sagaID
	event.Timestamp = time.Now().UTC()
	entry, err := json.Marshal(event)
	if err != nil {
		o.logger.Error("encode saga event", "saga_id", sagaID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := o.store.Append(ctx, sagaLogPrefix+sagaID, entry); err != nil {
		o.logger.Error("append saga event",
			"saga_id", sagaID, "step", event.Step, "phase", event.Phase, "error", err)
	}
}

// Package runner implements the C7 top-level state machine: single-pass
// mode, loop mode, and PR-feedback mode, sequencing the C6 phases over
// one or more backends (§4.6).
package runner

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Phase is one of the runner's discrete states.
type Phase string

const (
	PhaseReview Phase = "review"
	PhaseParse  Phase = "parse"
	PhaseFix    Phase = "fix"
	PhaseTest   Phase = "test"
	PhaseCommit Phase = "commit"
	PhaseDone   Phase = "done"
	PhaseFailed Phase = "failed"
)

// validTransitions defines the allowed phase transitions, generalized
// from the teacher's agent-turn states (idle/streaming/tool_exec/...)
// to the runner's own review/parse/fix/test/commit/done/failed states.
//
// Grounded on internal/domain/service/state_machine.go's
// map-of-maps validTransitions pattern.
var validTransitions = map[Phase]map[Phase]bool{
	PhaseReview: {
		PhaseParse:  true,
		PhaseDone:   true,
		PhaseFailed: true,
	},
	PhaseParse: {
		PhaseFix:    true,
		PhaseTest:   true, // zero feedback items: skip straight to test
		PhaseDone:   true, // review-only mode stops here
		PhaseFailed: true,
	},
	PhaseFix: {
		PhaseTest:   true,
		PhaseFailed: true,
	},
	PhaseTest: {
		PhaseCommit: true,
		PhaseDone:   true,
		PhaseFailed: true,
	},
	PhaseCommit: {
		PhaseDone:   true,
		PhaseFailed: true,
	},
	// Terminal — no transitions out.
	PhaseDone:   {},
	PhaseFailed: {},
}

// StateMachine tracks the runner's current phase and enforces
// validTransitions. One instance per run (single-pass invocation or
// loop iteration).
type StateMachine struct {
	mu    sync.Mutex
	phase Phase
	log   *zap.Logger
}

// NewStateMachine starts in PhaseReview. Callers whose startAt skips
// review seed the first phase they actually run with Force, since
// validTransitions only describes the canonical forward path.
func NewStateMachine(logger *zap.Logger) *StateMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateMachine{phase: PhaseReview, log: logger}
}

// Phase returns the current phase.
func (sm *StateMachine) Phase() Phase {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.phase
}

// Transition moves to the named phase, or reports an error if that
// transition isn't in validTransitions from the current phase.
func (sm *StateMachine) Transition(to Phase) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	allowed, ok := validTransitions[sm.phase]
	if !ok || !allowed[to] {
		err := fmt.Errorf("invalid runner transition: %s -> %s", sm.phase, to)
		sm.log.Error("runner state machine violation", zap.String("from", string(sm.phase)), zap.String("to", string(to)))
		return err
	}
	sm.log.Debug("runner transition", zap.String("from", string(sm.phase)), zap.String("to", string(to)))
	sm.phase = to
	return nil
}

// Force sets the phase without validating the transition. The runner
// uses it to seed the machine when startAt skips the canonical entry
// phase and to move to Failed or Done from wherever the run stopped.
func (sm *StateMachine) Force(to Phase) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.phase = to
}

// IsTerminal reports whether the machine has reached Done or Failed.
func (sm *StateMachine) IsTerminal() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.phase == PhaseDone || sm.phase == PhaseFailed
}

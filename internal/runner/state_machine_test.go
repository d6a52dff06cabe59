package runner

import "testing"

func TestNewStateMachine(t *testing.T) {
	sm := NewStateMachine(nil)
	if sm.Phase() != PhaseReview {
		t.Fatalf("expected initial phase review, got %s", sm.Phase())
	}
	if sm.IsTerminal() {
		t.Fatal("new state machine should not be terminal")
	}
}

func TestTransition_ValidPaths(t *testing.T) {
	tests := []struct {
		name string
		path []Phase
	}{
		{"review -> parse -> fix -> test -> commit -> done", []Phase{PhaseParse, PhaseFix, PhaseTest, PhaseCommit, PhaseDone}},
		{"review -> parse -> test -> done (zero feedback items)", []Phase{PhaseParse, PhaseTest, PhaseDone}},
		{"review -> parse -> done (review-only)", []Phase{PhaseParse, PhaseDone}},
		{"review -> failed", []Phase{PhaseFailed}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sm := NewStateMachine(nil)
			for _, to := range tc.path {
				if err := sm.Transition(to); err != nil {
					t.Fatalf("unexpected error transitioning to %s: %v", to, err)
				}
			}
			if !sm.IsTerminal() {
				t.Fatalf("expected terminal phase after path, got %s", sm.Phase())
			}
		})
	}
}

func TestTransition_InvalidRejected(t *testing.T) {
	sm := NewStateMachine(nil)
	if err := sm.Transition(PhaseCommit); err == nil {
		t.Fatal("expected error skipping straight from review to commit")
	}
	if sm.Phase() != PhaseReview {
		t.Fatalf("phase should be unchanged after rejected transition, got %s", sm.Phase())
	}
}

func TestTransition_TerminalHasNoOutgoingEdges(t *testing.T) {
	sm := NewStateMachine(nil)
	if err := sm.Transition(PhaseFailed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sm.Transition(PhaseDone); err == nil {
		t.Fatal("expected error transitioning out of a terminal phase")
	}
}

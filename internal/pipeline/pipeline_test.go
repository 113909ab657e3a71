package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

// mockStep is a test helper that implements the Step interface.
type mockStep struct {
	name      string
	doFunc    func(ctx context.Context, s *Session) error
	callCount int
}

// Do implements Step.Do.
func (m *mockStep) Do(ctx context.Context, s *Session) error {
	m.callCount++
	if m.doFunc != nil {
		return m.doFunc(ctx, s)
	}
	return nil
}

// Name implements Step.Name.
func (m *mockStep) Name() string {
	return m.name
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestPipelineNew tests the Pipeline constructor.
func TestPipelineNew(t *testing.T) {
	t.Parallel()

	p := New()
	if p == nil {
		t.Fatal("expected non-nil pipeline")
	}
	if p.StepCount() != 0 {
		t.Errorf("expected 0 steps, got %d", p.StepCount())
	}
	if p.logger == nil {
		t.Error("expected a default logger")
	}
}

// TestPipelineAddStep tests adding steps to the pipeline.
func TestPipelineAddStep(t *testing.T) {
	t.Parallel()

	p := New()
	p.AddStep(&mockStep{name: "first"})
	p.AddSteps(&mockStep{name: "second"}, &mockStep{name: "third"})

	names := p.StepNames()
	expected := []string{"first", "second", "third"}
	if len(names) != len(expected) {
		t.Fatalf("got %d steps, expected %d", len(names), len(expected))
	}
	for i, name := range names {
		if name != expected[i] {
			t.Errorf("step %d: got %q, expected %q", i, name, expected[i])
		}
	}
}

// TestPipelineExecute tests pipeline execution.
func TestPipelineExecute(t *testing.T) {
	t.Parallel()

	t.Run("executes all steps in order", func(t *testing.T) {
		t.Parallel()

		var order []string
		record := func(name string) *mockStep {
			return &mockStep{name: name, doFunc: func(context.Context, *Session) error {
				order = append(order, name)
				return nil
			}}
		}

		p := New(WithLogger(discardLogger()))
		p.AddSteps(record("a"), record("b"), record("c"))

		if err := p.Execute(context.Background(), NewSession("id", "x.dmp", nil)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(order) != 3 || order[0] != "a" || order[2] != "c" {
			t.Errorf("execution order = %v", order)
		}
	})

	t.Run("stops on first error and fails the session", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		after := &mockStep{name: "after"}
		p := New(WithLogger(discardLogger()))
		p.AddSteps(
			&mockStep{name: "fails", doFunc: func(context.Context, *Session) error { return boom }},
			after,
		)

		s := NewSession("id", "x.dmp", nil)
		if err := p.Execute(context.Background(), s); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if after.callCount != 0 {
			t.Error("expected the pipeline to stop after the failing step")
		}
		if s.State() != StateFailed || !errors.Is(s.Err(), boom) {
			t.Errorf("state = %s, err = %v", s.State(), s.Err())
		}
	})

	t.Run("checks cancellation before each step", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		second := &mockStep{name: "second"}
		p := New(WithLogger(discardLogger()))
		p.AddSteps(
			&mockStep{name: "cancels", doFunc: func(context.Context, *Session) error {
				cancel()
				return nil
			}},
			second,
		)

		s := NewSession("id", "x.dmp", nil)
		if err := p.Execute(ctx, s); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if second.callCount != 0 {
			t.Error("expected the step after cancellation not to run")
		}
		if s.State() != StateFailed {
			t.Errorf("state = %s, expected failed", s.State())
		}
	})
}

// TestSessionAdvance tests the state machine transitions.
func TestSessionAdvance(t *testing.T) {
	t.Parallel()

	t.Run("in order", func(t *testing.T) {
		t.Parallel()

		s := NewSession("id", "x.dmp", nil)
		for _, st := range []State{StateHeaderRead, StateBugcheckAnalyzed, StateContextRead, StateModulesWalked, StateExported} {
			if err := s.advance(st); err != nil {
				t.Fatalf("advance(%s): %v", st, err)
			}
		}
		if s.State() != StateExported {
			t.Errorf("state = %s", s.State())
		}
	})

	t.Run("skipping a state", func(t *testing.T) {
		t.Parallel()

		s := NewSession("id", "x.dmp", nil)
		if err := s.advance(StateContextRead); !errors.Is(err, ErrOutOfOrder) {
			t.Errorf("expected ErrOutOfOrder, got %v", err)
		}
	})

	t.Run("after failure", func(t *testing.T) {
		t.Parallel()

		s := NewSession("id", "x.dmp", nil)
		s.fail(errors.New("first"))
		s.fail(errors.New("second"))
		if s.Err().Error() != "first" {
			t.Errorf("Err() = %v, expected the first error to be kept", s.Err())
		}
		if err := s.advance(StateHeaderRead); !errors.Is(err, ErrOutOfOrder) {
			t.Errorf("expected ErrOutOfOrder, got %v", err)
		}
	})
}

// TestStateString tests state names.
func TestStateString(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		state    State
		expected string
	}{
		{StateIdle, "idle"},
		{StateHeaderRead, "header_read"},
		{StateModulesWalked, "modules_walked"},
		{StateFailed, "failed"},
		{State(42), "state(42)"},
	}
	for _, tc := range testCases {
		if got := tc.state.String(); got != tc.expected {
			t.Errorf("State(%d).String() = %q, expected %q", int(tc.state), got, tc.expected)
		}
	}
}

// TestSessionNotes tests that notes are never nil, so parser_notes is
// always a JSON array.
func TestSessionNotes(t *testing.T) {
	t.Parallel()

	s := NewSession("id", "x.dmp", nil)
	if notes := s.Notes(); notes == nil || len(notes) != 0 {
		t.Errorf("Notes() = %#v, expected an empty slice", notes)
	}

	s.Note("first")
	notes := s.Notes()
	notes[0] = "changed"
	if got := s.Notes(); len(got) != 1 || got[0] != "first" {
		t.Errorf("Notes() = %v, expected a copy", got)
	}
}

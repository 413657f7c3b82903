package dialog

import "testing"

func TestCanTransitionToAllowedMoves(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateEarly, StateConfirmed, true},
		{StateEarly, StateTerminated, true},
		{StateEarly, StateTerminating, false},
		{StateConfirmed, StateTerminating, true},
		{StateConfirmed, StateTerminated, true},
		{StateConfirmed, StateEarly, false},
		{StateTerminating, StateTerminated, true},
		{StateTerminating, StateConfirmed, false},
		{StateTerminated, StateEarly, false},
		{StateTerminated, StateConfirmed, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.want {
			t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsTerminalOnlyTrueForTerminated(t *testing.T) {
	for _, s := range []State{StateEarly, StateConfirmed, StateTerminating} {
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true, want false", s)
		}
	}
	if !StateTerminated.IsTerminal() {
		t.Error("StateTerminated.IsTerminal() = false, want true")
	}
}

func TestTerminateReasonStringsAreDistinct(t *testing.T) {
	reasons := []TerminateReason{
		ReasonLocalBYE, ReasonRemoteBYE, ReasonCancel, ReasonTimeout, ReasonRejected, ReasonError,
	}
	seen := make(map[string]bool)
	for _, r := range reasons {
		s := r.String()
		if s == "" {
			t.Errorf("%v.String() is empty", r)
		}
		if seen[s] {
			t.Errorf("duplicate TerminateReason string %q", s)
		}
		seen[s] = true
	}
}

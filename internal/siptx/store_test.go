package siptx

import (
	"testing"

	"github.com/sipcore/agent/internal/timer"
)

func newInviteServerTx(w *timer.Wheel, branch string) *Transaction {
	return NewInviteServer(branch, "dest", DefaultTiming(), w, func(b []byte) error { return nil })
}

func TestStoreInsertFindRemove(t *testing.T) {
	s := NewStore()
	w := timer.New()
	tx := newInviteServerTx(w, "branch1")

	s.Insert(tx)
	got, ok := s.Find(tx.Key())
	if !ok || got != tx {
		t.Fatalf("Find() = (%v, %v), want (tx, true)", got, ok)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}

	s.Remove(tx)
	if _, ok := s.Find(tx.Key()); ok {
		t.Fatal("Find() ok = true after Remove")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d after Remove, want 0", s.Len())
	}
}

func TestStoreInsertTerminatesPriorOccupantOnKeyCollision(t *testing.T) {
	s := NewStore()
	w := timer.New()
	first := newInviteServerTx(w, "branch1")
	second := newInviteServerTx(w, "branch1")

	var terminatedFirst bool
	first.OnTerminated = func() { terminatedFirst = true }

	s.Insert(first)
	s.Insert(second)

	if !terminatedFirst {
		t.Fatal("Insert() did not terminate the prior occupant on key collision")
	}
	got, _ := s.Find(first.Key())
	if got != second {
		t.Fatal("Find() after collision does not return the newly inserted transaction")
	}
}

func TestStoreFindByBranchIgnoresMethodAndRole(t *testing.T) {
	s := NewStore()
	w := timer.New()
	tx := newInviteServerTx(w, "branch-shared")
	s.Insert(tx)

	got, ok := s.FindByBranch("branch-shared")
	if !ok || got != tx {
		t.Fatalf("FindByBranch() = (%v, %v), want (tx, true)", got, ok)
	}
	if _, ok := s.FindByBranch("no-such-branch"); ok {
		t.Fatal("FindByBranch() ok = true for unknown branch")
	}
}

func TestStoreSweepRemovesOnlyTerminated(t *testing.T) {
	s := NewStore()
	w := timer.New()
	live := newInviteServerTx(w, "branch-live")
	dead := newInviteServerTx(w, "branch-dead")
	dead.Terminate()

	s.Insert(live)
	s.Insert(dead)

	removed := s.Sweep()
	if removed != 1 {
		t.Fatalf("Sweep() removed = %d, want 1", removed)
	}
	if _, ok := s.Find(live.Key()); !ok {
		t.Fatal("Sweep() removed the live transaction")
	}
	if _, ok := s.Find(dead.Key()); ok {
		t.Fatal("Sweep() left the terminated transaction in the store")
	}
}

func TestStoreForEachVisitsEveryEntry(t *testing.T) {
	s := NewStore()
	w := timer.New()
	a := newInviteServerTx(w, "branch-a")
	b := newInviteServerTx(w, "branch-b")
	s.Insert(a)
	s.Insert(b)

	seen := make(map[*Transaction]bool)
	s.ForEach(func(tx *Transaction) { seen[tx] = true })

	if len(seen) != 2 || !seen[a] || !seen[b] {
		t.Fatalf("ForEach visited %v, want exactly {a, b}", seen)
	}
}

package dialog

import "testing"

func TestStoreFindEarlyThenPromote(t *testing.T) {
	s := NewStore()
	req := buildInvite(t, "call-store-1", "tag-local")
	d := NewOutboundEarly(req)
	s.Insert(d)

	if _, ok := s.FindEarly("call-store-1", "tag-local"); !ok {
		t.Fatal("FindEarly() ok = false, want true before remote tag is known")
	}
	if _, ok := s.Find(Key{CallID: "call-store-1", LocalTag: "tag-local", RemoteTag: "tag-remote"}); ok {
		t.Fatal("Find() with full key succeeded before promotion, want false")
	}

	s.PromoteRemoteTag(d, "tag-remote")

	if _, ok := s.FindEarly("call-store-1", "tag-local"); ok {
		t.Fatal("FindEarly() ok = true after promotion, want false (should be de-indexed)")
	}
	got, ok := s.Find(Key{CallID: "call-store-1", LocalTag: "tag-local", RemoteTag: "tag-remote"})
	if !ok || got != d {
		t.Fatalf("Find() after promotion = (%v, %v), want (d, true)", got, ok)
	}
}

func TestStoreFindByCallIDMatchesEarlyOrFull(t *testing.T) {
	s := NewStore()
	req := buildInvite(t, "call-store-2", "tag-local")
	d := NewOutboundEarly(req)
	s.Insert(d)

	got, ok := s.FindByCallID("call-store-2")
	if !ok || got != d {
		t.Fatalf("FindByCallID() on early dialog = (%v, %v), want (d, true)", got, ok)
	}

	s.PromoteRemoteTag(d, "tag-remote")
	got, ok = s.FindByCallID("call-store-2")
	if !ok || got != d {
		t.Fatalf("FindByCallID() after promotion = (%v, %v), want (d, true)", got, ok)
	}
}

func TestStoreRemoveClearsBothIndexes(t *testing.T) {
	s := NewStore()
	req := buildInvite(t, "call-store-3", "tag-local")
	d := NewOutboundEarly(req)
	s.Insert(d)
	s.Remove(d)

	if _, ok := s.FindEarly("call-store-3", "tag-local"); ok {
		t.Fatal("FindEarly() ok = true after Remove")
	}
	if _, ok := s.FindByCallID("call-store-3"); ok {
		t.Fatal("FindByCallID() ok = true after Remove")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d after Remove, want 0", s.Len())
	}
}

func TestStoreLenAndForEachDedupeAcrossIndexes(t *testing.T) {
	s := NewStore()
	early := NewOutboundEarly(buildInvite(t, "call-store-4", "tag-early"))
	s.Insert(early)

	confirmedInvite := buildInvite(t, "call-store-5", "tag-confirmed")
	confirmedResp := buildResponse(t, confirmedInvite, 200, "tag-remote-5")
	confirmed := NewOutbound(confirmedInvite, confirmedResp)
	s.Insert(confirmed)

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}

	seen := make(map[*Dialog]bool)
	s.ForEach(func(d *Dialog) { seen[d] = true })
	if len(seen) != 2 || !seen[early] || !seen[confirmed] {
		t.Fatalf("ForEach visited %d dialogs, want exactly early and confirmed", len(seen))
	}

	// Promoting must not cause the dialog to be counted twice even though it
	// briefly exists in both the early and full-key index during the call.
	s.PromoteRemoteTag(early, "tag-remote-4")
	if s.Len() != 2 {
		t.Fatalf("Len() after promote = %d, want 2", s.Len())
	}
}

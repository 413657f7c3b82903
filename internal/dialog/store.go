package dialog

import "sync"

// Key is the (Call-ID, local-tag, remote-tag) triple dialogs are indexed by.
// Early dialogs (no remote tag yet) are additionally reachable by Call-ID +
// local-tag alone until the remote tag is learned from the first reliable
// response, per §4.3.
type Key struct {
	CallID    string
	LocalTag  string
	RemoteTag string
}

func earlyKey(callID, localTag string) Key {
	return Key{CallID: callID, LocalTag: localTag}
}

// Store is the dialog half of the Dialog+Transaction store (component D).
// It never holds two dialogs under the same Key, and exposes O(1)
// insert/find/remove.
type Store struct {
	mu      sync.RWMutex
	byKey   map[Key]*Dialog
	byEarly map[Key]*Dialog // keyed by (CallID, LocalTag) while RemoteTag is unknown
}

// NewStore creates an empty dialog store.
func NewStore() *Store {
	return &Store{
		byKey:   make(map[Key]*Dialog),
		byEarly: make(map[Key]*Dialog),
	}
}

// Insert adds d to the store, indexing it both by its full key and, while
// early, by its (Call-ID, local-tag) pair.
func (s *Store) Insert(d *Dialog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := d.Key()
	s.byKey[k] = d
	if k.RemoteTag == "" {
		s.byEarly[earlyKey(k.CallID, k.LocalTag)] = d
	}
}

// PromoteRemoteTag re-indexes d once its remote tag becomes known (e.g. a
// tagged 1xx or the 200 OK to an outbound INVITE arrives), dropping the
// entries filed under its tagless key.
func (s *Store) PromoteRemoteTag(d *Dialog, remoteTag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldKey := d.Key()
	delete(s.byEarly, earlyKey(oldKey.CallID, oldKey.LocalTag))
	delete(s.byKey, oldKey)
	d.SetRemoteTag(remoteTag)
	s.byKey[d.Key()] = d
}

// Find looks up a dialog by its full key.
func (s *Store) Find(k Key) (*Dialog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byKey[k]
	return d, ok
}

// FindEarly looks up a dialog that has not yet learned its remote tag.
func (s *Store) FindEarly(callID, localTag string) (*Dialog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byEarly[earlyKey(callID, localTag)]
	return d, ok
}

// FindByCallID scans for any dialog matching a Call-ID, regardless of tags.
// Used when a BYE/CANCEL arrives and the exact remote tag of an
// in-progress early dialog is not yet confirmed.
func (s *Store) FindByCallID(callID string) (*Dialog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, d := range s.byKey {
		if k.CallID == callID {
			return d, true
		}
	}
	for k, d := range s.byEarly {
		if k.CallID == callID {
			return d, true
		}
	}
	return nil, false
}

// Remove deletes d from every index it appears under.
func (s *Store) Remove(d *Dialog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := d.Key()
	delete(s.byKey, k)
	delete(s.byEarly, earlyKey(k.CallID, k.LocalTag))
}

// Len reports the number of confirmed-or-early dialogs currently tracked.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[*Dialog]struct{}, len(s.byKey))
	for _, d := range s.byKey {
		seen[d] = struct{}{}
	}
	for _, d := range s.byEarly {
		seen[d] = struct{}{}
	}
	return len(seen)
}

// ForEach calls fn for every live dialog. fn must not mutate the store.
func (s *Store) ForEach(fn func(*Dialog)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[*Dialog]struct{}, len(s.byKey))
	for _, d := range s.byKey {
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			fn(d)
		}
	}
	for _, d := range s.byEarly {
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			fn(d)
		}
	}
}

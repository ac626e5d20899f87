package cluster

import (
	"sort"
	"sync"

	"github.com/kettlecord/shardctl/structs/protocol"
)

// SuccessionList is the thread-safe ordered list of workers: position 1 is
// the active coordinator, positions are contiguous 1..N after every
// mutation. A single mutex covers all operations.
type SuccessionList struct {
	mu      sync.Mutex
	entries []protocol.SuccessionEntry
}

// NewSuccessionList constructs an empty SuccessionList.
func NewSuccessionList() *SuccessionList {
	return &SuccessionList{}
}

// Add removes any existing entry for processID, appends it at the end, and
// returns its new position.
func (s *SuccessionList) Add(processID, url string, isOriginal bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(processID)

	s.entries = append(s.entries, protocol.SuccessionEntry{
		Position:              len(s.entries) + 1,
		ProcessID:             processID,
		URL:                   url,
		IsOriginalCoordinator: isOriginal,
	})

	return len(s.entries)
}

// Remove deletes processID's entry and compacts positions to 1..N-1.
func (s *SuccessionList) Remove(processID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(processID)
}

func (s *SuccessionList) removeLocked(processID string) {
	out := s.entries[:0]

	for _, e := range s.entries {
		if e.ProcessID != processID {
			out = append(out, e)
		}
	}

	s.entries = out
	s.renumberLocked()
}

func (s *SuccessionList) renumberLocked() {
	for i := range s.entries {
		s.entries[i].Position = i + 1
	}
}

// PositionOf returns processID's 1-based position, or -1 if absent.
func (s *SuccessionList) PositionOf(processID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.ProcessID == processID {
			return e.Position
		}
	}

	return -1
}

// NextCoordinator returns the entry at position 2, the first standby, or
// false if there is none.
func (s *SuccessionList) NextCoordinator() (protocol.SuccessionEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.Position == 2 {
			return e, true
		}
	}

	return protocol.SuccessionEntry{}, false
}

// Coordinator returns the entry at position 1, the active coordinator, or
// false if the list is empty.
func (s *SuccessionList) Coordinator() (protocol.SuccessionEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.Position == 1 {
			return e, true
		}
	}

	return protocol.SuccessionEntry{}, false
}

// LoadFrom replaces the list wholesale in ascending-position order, used
// during coordinator handoff and broadcast receipt.
func (s *SuccessionList) LoadFrom(entries []protocol.SuccessionEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append([]protocol.SuccessionEntry(nil), entries...)

	sort.Slice(s.entries, func(i, j int) bool { return s.entries[i].Position < s.entries[j].Position })

	s.renumberLocked()
}

// PromoteToFront moves processID's entry (or a newly-constructed one if
// absent) to position 1, renumbering everyone else after it. Used by a
// recovering original coordinator reclaiming its role.
func (s *SuccessionList) PromoteToFront(processID, url string, isOriginal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(processID)

	front := protocol.SuccessionEntry{ProcessID: processID, URL: url, IsOriginalCoordinator: isOriginal}
	s.entries = append([]protocol.SuccessionEntry{front}, s.entries...)

	s.renumberLocked()
}

// Snapshot returns a copy of the list in position order.
func (s *SuccessionList) Snapshot() []protocol.SuccessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]protocol.SuccessionEntry(nil), s.entries...)
}

// Len returns the number of entries.
func (s *SuccessionList) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

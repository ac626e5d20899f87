package cluster

import "testing"

func TestSuccessionAddRemoveRestoresList(t *testing.T) {
	s := NewSuccessionList()

	s.Add("c0", "http://c0", true)
	pos := s.Add("w1", "http://w1", false)

	if pos != 2 {
		t.Fatalf("expected position 2, got %d", pos)
	}

	s.Remove("w1")

	if s.Len() != 1 {
		t.Fatalf("expected 1 entry after remove, got %d", s.Len())
	}

	if p := s.PositionOf("c0"); p != 1 {
		t.Fatalf("expected c0 at position 1, got %d", p)
	}
}

func TestSuccessionPositionsCompact(t *testing.T) {
	s := NewSuccessionList()

	s.Add("a", "http://a", false)
	s.Add("b", "http://b", false)
	s.Add("c", "http://c", false)

	s.Remove("b")

	for i, e := range s.Snapshot() {
		if e.Position != i+1 {
			t.Fatalf("positions not compact: entry %d has position %d", i, e.Position)
		}
	}

	if p := s.PositionOf("c"); p != 2 {
		t.Fatalf("expected c renumbered to position 2, got %d", p)
	}
}

func TestSuccessionNextCoordinator(t *testing.T) {
	s := NewSuccessionList()

	s.Add("c0", "http://c0", true)

	if _, ok := s.NextCoordinator(); ok {
		t.Fatal("expected no standby with a single entry")
	}

	s.Add("w1", "http://w1", false)

	next, ok := s.NextCoordinator()
	if !ok || next.ProcessID != "w1" {
		t.Fatalf("expected w1 as next coordinator, got %+v ok=%v", next, ok)
	}
}

func TestSuccessionPromoteToFront(t *testing.T) {
	s := NewSuccessionList()

	s.Add("c0", "http://c0", true)
	s.Add("w1", "http://w1", false)
	s.Add("w2", "http://w2", false)

	s.Remove("c0") // simulate original coordinator dying

	if coord, _ := s.Coordinator(); coord.ProcessID != "w1" {
		t.Fatalf("expected w1 promoted by removal, got %s", coord.ProcessID)
	}

	s.PromoteToFront("c0", "http://c0", true)

	coord, ok := s.Coordinator()
	if !ok || coord.ProcessID != "c0" {
		t.Fatalf("expected c0 back at position 1 after resumption, got %+v", coord)
	}

	for i, e := range s.Snapshot() {
		if e.Position != i+1 {
			t.Fatalf("positions not compact after promote: %+v", e)
		}
	}
}

func TestSuccessionLoadFrom(t *testing.T) {
	s := NewSuccessionList()

	s.Add("a", "http://a", false)
	s.Add("b", "http://b", false)

	other := NewSuccessionList()
	other.LoadFrom(s.Snapshot())

	if other.PositionOf("a") != 1 || other.PositionOf("b") != 2 {
		t.Fatalf("expected loaded list to preserve positions, got a=%d b=%d",
			other.PositionOf("a"), other.PositionOf("b"))
	}
}

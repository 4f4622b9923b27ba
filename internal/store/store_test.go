package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jmerrifield20/hostscope/internal/dataset"
)

func newTestStore() (*Store, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return New(Config{Clock: clock}), clock
}

func input(label string) SaveInput {
	return SaveInput{Dataset: &dataset.Dataset{}, Source: SourceUpload, Label: label}
}

func TestStore_saveAndGet(t *testing.T) {
	s, clock := newTestStore()
	id := s.Save(input("scan.json"))

	e, ok := s.Get(id)
	if !ok {
		t.Fatal("expected entry")
	}
	if e.ID != id || e.Label != "scan.json" || e.Source != SourceUpload || !e.CreatedAt.Equal(clock.Now()) {
		t.Errorf("unexpected entry: %+v", e)
	}

	if _, ok := s.Get("missing"); ok {
		t.Error("unknown id should not be found")
	}
}

func TestStore_defaultSource(t *testing.T) {
	s, _ := newTestStore()
	id := s.Save(SaveInput{Dataset: &dataset.Dataset{}})
	if e, _ := s.Get(id); e.Source != SourceOther {
		t.Errorf("Source: got %q", e.Source)
	}
}

func TestStore_ttl(t *testing.T) {
	s, clock := newTestStore()
	id := s.Save(input("a"))

	clock.Advance(14 * time.Minute)
	if _, ok := s.Get(id); !ok {
		t.Fatal("entry should be retrievable at T+14m")
	}

	clock.Advance(2 * time.Minute)
	if _, ok := s.Get(id); ok {
		t.Fatal("entry should be expired at T+16m")
	}
	if s.Len() != 0 {
		t.Errorf("expired entry should be deleted on read, Len=%d", s.Len())
	}
}

func TestStore_savePrunesExpired(t *testing.T) {
	s, clock := newTestStore()
	s.Save(input("old-1"))
	s.Save(input("old-2"))

	clock.Advance(16 * time.Minute)
	s.Save(input("new"))

	if s.Len() != 1 {
		t.Errorf("Len: got %d, want 1", s.Len())
	}
}

func TestStore_capacityEvictsOldest(t *testing.T) {
	s, clock := newTestStore()

	ids := make([]string, 0, DefaultCapacity)
	for i := 0; i < DefaultCapacity; i++ {
		ids = append(ids, s.Save(input(fmt.Sprintf("d%d", i))))
		clock.Advance(time.Second)
	}
	if s.Len() != DefaultCapacity {
		t.Fatalf("Len: got %d", s.Len())
	}

	newest := s.Save(input("d24"))

	if s.Len() != DefaultCapacity {
		t.Errorf("Len after eviction: got %d", s.Len())
	}
	if _, ok := s.Get(ids[0]); ok {
		t.Error("oldest entry should be evicted")
	}
	for _, id := range append(ids[1:], newest) {
		if _, ok := s.Get(id); !ok {
			t.Errorf("entry %s should survive", id)
		}
	}
}

func TestStore_capacityTieBreaksOnInsertOrder(t *testing.T) {
	s := New(Config{Capacity: 2, Clock: clockwork.NewFakeClock()})
	first := s.Save(input("a"))
	second := s.Save(input("b"))
	s.Save(input("c"))

	if _, ok := s.Get(first); ok {
		t.Error("first insert should be evicted on a timestamp tie")
	}
	if _, ok := s.Get(second); !ok {
		t.Error("second insert should survive")
	}
}

func TestStore_deleteAndClear(t *testing.T) {
	s, _ := newTestStore()
	var sizes []int
	s.SetSizeRecorder(func(n int) { sizes = append(sizes, n) })

	a := s.Save(input("a"))
	s.Save(input("b"))
	s.Delete(a)
	if _, ok := s.Get(a); ok {
		t.Error("deleted entry still present")
	}
	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Len after Clear: got %d", s.Len())
	}

	want := []int{1, 2, 1, 0}
	if fmt.Sprint(sizes) != fmt.Sprint(want) {
		t.Errorf("recorded sizes: got %v, want %v", sizes, want)
	}
}

func TestStore_idsAreUnique(t *testing.T) {
	s, _ := newTestStore()
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id := s.Save(input("x"))
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

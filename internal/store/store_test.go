package store

import (
	"fmt"
	"sync"
	"testing"

	"boxdisplay/internal/model"
)

func TestNewStartsEmpty(t *testing.T) {
	s := New()
	snap := s.ReadAll()
	if len(snap) != len(model.Slots) {
		t.Fatalf("expected %d slots, got %d", len(model.Slots), len(snap))
	}
	for _, id := range model.Slots {
		if snap[id].Kind() != model.KindEmpty {
			t.Errorf("slot %d = %s, want empty", id, snap[id].Kind())
		}
	}
}

func TestMergeLeavesOtherSlotsUntouched(t *testing.T) {
	s := New()
	s.Seed(model.Snapshot{
		1: model.Occupied("one.txt", "Text (PLAIN)", 10),
		2: model.Empty(),
		3: model.Errored("timeout"),
		4: model.Occupied("four.png", "Image (PNG)", 2048),
	})
	before := s.ReadAll()

	s.Merge(2, model.Occupied("two.pdf", "PDF", 1536))
	after := s.ReadAll()

	for _, id := range []model.SlotID{1, 3, 4} {
		if after[id] != before[id] {
			t.Errorf("slot %d changed: before %+v after %+v", id, before[id], after[id])
		}
	}
	if after[2].Name != "two.pdf" {
		t.Fatalf("slot 2 not merged: %+v", after[2])
	}
}

func TestReadAllIsACopy(t *testing.T) {
	s := New()
	snap := s.ReadAll()
	snap[1] = model.Occupied("mutated", "x", 1)

	if got := s.ReadAll()[1]; got.Kind() != model.KindEmpty {
		t.Fatalf("store changed through copy: %+v", got)
	}
}

func TestConcurrentMergesDifferentSlots(t *testing.T) {
	s := New()
	const rounds = 200

	var wg sync.WaitGroup
	for _, id := range model.Slots {
		wg.Add(1)
		go func(id model.SlotID) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				s.Merge(id, model.Occupied(fmt.Sprintf("slot%d-%d", id, i), "x", uint64(i)))
				_ = s.ReadAll()
			}
		}(id)
	}
	wg.Wait()

	snap := s.ReadAll()
	for _, id := range model.Slots {
		want := fmt.Sprintf("slot%d-%d", id, rounds-1)
		if snap[id].Name != want {
			t.Errorf("slot %d name = %q, want %q", id, snap[id].Name, want)
		}
	}
	if v := s.Version(); v != uint64(rounds*len(model.Slots)) {
		t.Errorf("version = %d, want %d", v, rounds*len(model.Slots))
	}
}

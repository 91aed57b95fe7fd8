package state

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/types"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "state.json"), 2*time.Second)
}

func TestNextIDSequence(t *testing.T) {
	s := newStore(t)
	for want := 1; want <= 3; want++ {
		got, err := s.NextID(types.KindTask)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("allocation %d: got %d", want, got)
		}
	}
	// Other kinds have independent counters.
	got, err := s.NextID(types.KindEpic)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("epic counter leaked: %d", got)
	}
}

func TestNextIDMissingFileStartsAtOne(t *testing.T) {
	s := newStore(t)
	got, err := s.NextID(types.KindProduct)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("got %d", got)
	}
}

func TestNextIDConcurrent(t *testing.T) {
	s := newStore(t)
	const n = 20
	var wg sync.WaitGroup
	ids := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.NextID(types.KindTask)
			if err != nil {
				t.Error(err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int]bool{}
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate allocation %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("allocated %d ids, want %d", len(seen), n)
	}
}

func TestSetNext(t *testing.T) {
	s := newStore(t)
	if err := s.SetNext(types.KindStory, 42); err != nil {
		t.Fatal(err)
	}
	got, err := s.NextID(types.KindStory)
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Errorf("got %d", got)
	}
	if err := s.SetNext(types.KindStory, 0); !core.IsKind(err, core.KindInvalidInput) {
		t.Errorf("want invalid input, got %v", err)
	}
}

func TestInitRefusesOverwrite(t *testing.T) {
	s := newStore(t)
	if err := s.Init(false); err != nil {
		t.Fatal(err)
	}
	if err := s.Init(false); !core.IsAlreadyExists(err) {
		t.Errorf("want already-exists, got %v", err)
	}
	if err := s.Init(true); err != nil {
		t.Errorf("force init failed: %v", err)
	}
}

func TestKVRoundTrip(t *testing.T) {
	s := newStore(t)
	in := map[string]string{"key": "value"}
	if err := s.PutKV("meta", in); err != nil {
		t.Fatal(err)
	}
	var out map[string]string
	if err := s.GetKV("meta", &out); err != nil {
		t.Fatal(err)
	}
	if out["key"] != "value" {
		t.Errorf("got %v", out)
	}
	if err := s.GetKV("missing", &out); !core.IsNotFound(err) {
		t.Errorf("want not-found, got %v", err)
	}
}

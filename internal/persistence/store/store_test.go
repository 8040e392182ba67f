package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"farmhold/internal/stackloc"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "farmhold.db"), "save-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestClaimedIdentities_AppendOnlyAndIdempotent(t *testing.T) {
	s := openTest(t)
	for _, id := range []int64{2, 3, 2} {
		if err := s.AddClaimedIdentity(id); err != nil {
			t.Fatalf("add %d: %v", id, err)
		}
	}
	got, err := s.ClaimedIdentities()
	if err != nil {
		t.Fatalf("claimed: %v", err)
	}
	if len(got) != 2 || !got[2] || !got[3] {
		t.Fatalf("claimed set: %v", got)
	}
}

func TestKV_StrategyAndCeilingRoundtrip(t *testing.T) {
	s := openTest(t)
	if _, ok, err := s.ActiveStrategy(); err != nil || ok {
		t.Fatalf("fresh save should have no strategy, ok=%v err=%v", ok, err)
	}
	if err := s.SetActiveStrategy("stacked-homes"); err != nil {
		t.Fatalf("set strategy: %v", err)
	}
	if err := s.SetPlayerCeiling(12); err != nil {
		t.Fatalf("set ceiling: %v", err)
	}
	strat, ok, err := s.ActiveStrategy()
	if err != nil || !ok || strat != "stacked-homes" {
		t.Fatalf("strategy: %q ok=%v err=%v", strat, ok, err)
	}
	ceil, ok, err := s.PlayerCeiling()
	if err != nil || !ok || ceil != 12 {
		t.Fatalf("ceiling: %d ok=%v err=%v", ceil, ok, err)
	}
}

func TestStackOverride_RoundtripAndClear(t *testing.T) {
	s := openTest(t)
	if c, err := s.StackOverride(); err != nil || c != nil {
		t.Fatalf("fresh save should have no override, got %v err=%v", c, err)
	}
	if err := s.SetStackOverride(stackloc.Coord{X: 5, Y: 5}); err != nil {
		t.Fatalf("set override: %v", err)
	}
	c, err := s.StackOverride()
	if err != nil || c == nil || *c != (stackloc.Coord{X: 5, Y: 5}) {
		t.Fatalf("override: %v err=%v", c, err)
	}
	if err := s.ClearStackOverride(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if c, _ := s.StackOverride(); c != nil {
		t.Fatalf("override should be cleared, got %v", c)
	}
}

func TestIdentityTokens(t *testing.T) {
	s := openTest(t)
	id, err := s.AllocateIdentity("tok-a")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if id != 2 {
		t.Fatalf("first farmhand identity should be 2 (1 is the host), got %d", id)
	}
	got, ok, err := s.IdentityForToken("tok-a")
	if err != nil || !ok || got != id {
		t.Fatalf("token lookup: %d ok=%v err=%v", got, ok, err)
	}
	if _, ok, _ := s.IdentityForToken("tok-missing"); ok {
		t.Fatalf("unknown token should not resolve")
	}
	next, err := s.AllocateIdentity("tok-b")
	if err != nil || next != id+1 {
		t.Fatalf("allocation after %d: %d err=%v", id, next, err)
	}
}

func TestAllocateIdentity_ConcurrentHandshakesStayDistinct(t *testing.T) {
	s := openTest(t)
	const n = 8
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.AllocateIdentity(fmt.Sprintf("tok-%d", i))
			if err != nil {
				t.Errorf("allocate %d: %v", i, err)
				return
			}
			ids <- id
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		if id < 2 {
			t.Fatalf("identity %d collides with the host", id)
		}
		if seen[id] {
			t.Fatalf("identity %d allocated to two different tokens", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct identities, got %d", n, len(seen))
	}
}

func TestSaveScoping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "farmhold.db")
	a, err := Open(path, "save-a")
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer a.Close()
	if err := a.AddClaimedIdentity(2); err != nil {
		t.Fatalf("add: %v", err)
	}
	_ = a.Close()

	b, err := Open(path, "save-b")
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer b.Close()
	got, err := b.ClaimedIdentities()
	if err != nil {
		t.Fatalf("claimed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("saves must not share claimed sets, got %v", got)
	}
}

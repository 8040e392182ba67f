package homes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"

	"farmhold/internal/config"
	"farmhold/internal/pipeline"
	"farmhold/internal/protocol"
	"farmhold/internal/stackloc"
)

type fakeStore struct {
	claimed map[int64]bool
	addErr  error
	adds    int
}

func (s *fakeStore) ClaimedIdentities() (map[int64]bool, error) {
	out := make(map[int64]bool, len(s.claimed))
	for k, v := range s.claimed {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) AddClaimedIdentity(id int64) error {
	s.adds++
	if s.addErr != nil {
		return s.addErr
	}
	if s.claimed == nil {
		s.claimed = make(map[int64]bool)
	}
	s.claimed[id] = true
	return nil
}

type fakeWorld struct {
	homes    []Home
	buildErr []error // popped per BuildHome call
	markers  []stackloc.Marker
	warps    []int64
	notices  map[int64]int
	moves    map[string]stackloc.Coord
	nextID   int
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{notices: make(map[int64]int), moves: make(map[string]stackloc.Coord)}
}

func (w *fakeWorld) Homes() []Home { return append([]Home(nil), w.homes...) }

func (w *fakeWorld) BuildHome(at stackloc.Coord) (Home, error) {
	if len(w.buildErr) > 0 {
		err := w.buildErr[0]
		w.buildErr = w.buildErr[1:]
		if err != nil {
			return Home{}, err
		}
	}
	w.nextID++
	h := Home{ID: fmt.Sprintf("home-%d", w.nextID), Coord: at}
	w.homes = append(w.homes, h)
	return h, nil
}

func (w *fakeWorld) RelocateHome(id string, to stackloc.Coord) {
	w.moves[id] = to
	for i := range w.homes {
		if w.homes[i].ID == id {
			w.homes[i].Coord = to
		}
	}
}

func (w *fakeWorld) MapMarkers() []stackloc.Marker { return w.markers }

func (w *fakeWorld) WarpHome(identity int64) { w.warps = append(w.warps, identity) }

func (w *fakeWorld) SendPrivateNotice(identity int64, lines ...string) {
	w.notices[identity]++
}

func newTestPool(t *testing.T, cfg Config, store *fakeStore, world *fakeWorld) *Pool {
	t.Helper()
	if cfg.FarmLocation == "" {
		cfg.FarmLocation = "Farm"
	}
	p, err := New(cfg, store, world, log.New(io.Discard, "", 0), nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return p
}

func TestEnsureMinimumFreeHomes(t *testing.T) {
	cases := []struct {
		name       string
		existing   []Home
		claimed    map[int64]bool
		min        int
		wantHomes  int
		wantBuilds int
	}{
		{name: "from zero", min: 2, wantHomes: 2, wantBuilds: 2},
		{
			name:      "already at min",
			existing:  []Home{{ID: "a"}, {ID: "b"}},
			min:       2,
			wantHomes: 2,
		},
		{
			name:      "above min builds nothing",
			existing:  []Home{{ID: "a"}, {ID: "b"}, {ID: "c"}},
			min:       2,
			wantHomes: 3,
		},
		{
			name:       "claimed homes do not count as free",
			existing:   []Home{{ID: "a", Owner: 2}, {ID: "b"}},
			claimed:    map[int64]bool{2: true},
			min:        2,
			wantHomes:  3,
			wantBuilds: 1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			world := newFakeWorld()
			world.homes = tc.existing
			p := newTestPool(t, Config{Strategy: config.StrategyStackedHomes}, &fakeStore{claimed: tc.claimed}, world)
			p.EnsureMinimumFreeHomes(tc.min)
			if len(world.homes) != tc.wantHomes {
				t.Fatalf("homes after ensure: %d, want %d", len(world.homes), tc.wantHomes)
			}
			for _, h := range world.homes[len(tc.existing):] {
				if h.Coord != HiddenCoord {
					t.Fatalf("new home built at %+v, want hidden coordinate", h.Coord)
				}
			}
		})
	}
}

func TestEnsureMinimumFreeHomes_BuildFailureDoesNotAbortPass(t *testing.T) {
	world := newFakeWorld()
	world.buildErr = []error{errors.New("world rejected construction"), nil}
	p := newTestPool(t, Config{Strategy: config.StrategyStackedHomes}, &fakeStore{}, world)
	p.EnsureMinimumFreeHomes(2)
	if len(world.homes) != 1 {
		t.Fatalf("the pass should continue past a failed build, got %d homes", len(world.homes))
	}
	// Next trigger picks up the shortfall.
	p.EnsureMinimumFreeHomes(2)
	if len(world.homes) != 2 {
		t.Fatalf("replenishment retry should close the gap, got %d homes", len(world.homes))
	}
}

func TestOnIdentityJoined_IdempotentClaimStillReplenishes(t *testing.T) {
	world := newFakeWorld()
	store := &fakeStore{}
	p := newTestPool(t, Config{Strategy: config.StrategyStackedHomes, MinFreeHomes: 1}, store, world)

	p.OnIdentityJoined(2)
	if !p.Claimed(2) || !store.claimed[2] {
		t.Fatalf("claim should land in memory and in the store")
	}
	if store.adds != 1 {
		t.Fatalf("store adds: %d, want 1", store.adds)
	}

	world.homes = world.homes[:0] // drain the pool to prove replenishment re-runs
	p.OnIdentityJoined(2)
	if store.adds != 1 {
		t.Fatalf("repeat join must not re-persist, adds=%d", store.adds)
	}
	if len(world.homes) == 0 {
		t.Fatalf("repeat join must still trigger replenishment")
	}
}

func snapshotRaw(t *testing.T, snap protocol.LocationStateMsg) pipeline.Message {
	t.Helper()
	b, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	return pipeline.Message{Type: protocol.TypeLocationState, Raw: b}
}

func TestProjectHomeForRecipient_RewritesOwnHomeOnly(t *testing.T) {
	world := newFakeWorld()
	world.markers = []stackloc.Marker{{TileIndex: stackloc.MarkerTilePrimary, Order: 0, Pos: stackloc.Coord{X: 10, Y: 12}}}
	store := &fakeStore{claimed: map[int64]bool{2: true, 3: true}}
	p := newTestPool(t, Config{Strategy: config.StrategyStackedHomes}, store, world)

	pl := pipeline.New(log.New(io.Discard, "", 0))
	p.RegisterOutbound(pl)

	snap := protocol.LocationStateMsg{
		Type:     protocol.TypeLocationState,
		Location: "Farm",
		Buildings: []protocol.Building{
			{ID: "home-1", Kind: "cabin", Owner: 2, X: HiddenCoord.X, Y: HiddenCoord.Y},
			{ID: "home-2", Kind: "cabin", Owner: 3, X: HiddenCoord.X, Y: HiddenCoord.Y},
		},
	}

	out, deliver := pl.Dispatch(2, snapshotRaw(t, snap))
	if !deliver {
		t.Fatalf("snapshot must be delivered")
	}
	var got protocol.LocationStateMsg
	if err := json.Unmarshal(out.Raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Buildings[0].X != 10 || got.Buildings[0].Y != 12 {
		t.Fatalf("recipient's home should sit at the stack coordinate, got (%d,%d)", got.Buildings[0].X, got.Buildings[0].Y)
	}
	if got.Buildings[1].X != HiddenCoord.X || got.Buildings[1].Y != HiddenCoord.Y {
		t.Fatalf("other homes must not move, got (%d,%d)", got.Buildings[1].X, got.Buildings[1].Y)
	}
}

func TestProjectHomeForRecipient_OtherLocationsPassThrough(t *testing.T) {
	world := newFakeWorld()
	store := &fakeStore{claimed: map[int64]bool{2: true}}
	p := newTestPool(t, Config{Strategy: config.StrategyStackedHomes}, store, world)

	pl := pipeline.New(log.New(io.Discard, "", 0))
	p.RegisterOutbound(pl)

	snap := protocol.LocationStateMsg{
		Type:      protocol.TypeLocationState,
		Location:  "Town",
		Buildings: []protocol.Building{{ID: "shop", Owner: 2, X: 4, Y: 4}},
	}
	msg := snapshotRaw(t, snap)
	out, _ := pl.Dispatch(2, msg)
	if string(out.Raw) != string(msg.Raw) {
		t.Fatalf("non-farm snapshots must pass through unchanged")
	}
}

func TestProjectHomeForRecipient_DisabledStrategyPassesThrough(t *testing.T) {
	world := newFakeWorld()
	store := &fakeStore{claimed: map[int64]bool{2: true}}
	p := newTestPool(t, Config{Strategy: config.StrategyDisabled}, store, world)

	pl := pipeline.New(log.New(io.Discard, "", 0))
	p.RegisterOutbound(pl)

	snap := protocol.LocationStateMsg{
		Type:      protocol.TypeLocationState,
		Location:  "Farm",
		Buildings: []protocol.Building{{ID: "home-1", Owner: 2, X: 1, Y: 1}},
	}
	msg := snapshotRaw(t, snap)
	out, _ := pl.Dispatch(2, msg)
	if string(out.Raw) != string(msg.Raw) {
		t.Fatalf("disabled strategy must not rewrite anything")
	}
}

func TestSweepSharedInterior_FiresOncePerVisit(t *testing.T) {
	world := newFakeWorld()
	p := newTestPool(t, Config{
		Strategy:            config.StrategySharedInterior,
		SharedInterior:      "GrangeHall",
		SharedInteriorOwner: 2,
	}, &fakeStore{}, world)

	p.SweepSharedInterior([]int64{2, 3}) // 3 is an intruder
	if len(world.warps) != 1 || world.warps[0] != 3 {
		t.Fatalf("non-owner entering should be warped home once, got %v", world.warps)
	}
	if world.notices[3] != 1 {
		t.Fatalf("intruder should get one explanatory notice, got %d", world.notices[3])
	}

	// Still inside next tick: no repeat.
	p.SweepSharedInterior([]int64{2, 3})
	if len(world.warps) != 1 {
		t.Fatalf("reaction must fire once per visit, not once per tick")
	}

	// Leaves and re-enters: fires again.
	p.SweepSharedInterior([]int64{2})
	p.SweepSharedInterior([]int64{2, 3})
	if len(world.warps) != 2 {
		t.Fatalf("re-entry is a new visit, got %v", world.warps)
	}

	// The owner is never evicted.
	for _, id := range world.warps {
		if id == 2 {
			t.Fatalf("designated owner must not be warped out")
		}
	}
}

func TestApplyStartupPolicy_RelocatesToPool(t *testing.T) {
	world := newFakeWorld()
	world.homes = []Home{
		{ID: "home-1", Owner: 2, Coord: stackloc.Coord{X: 30, Y: 40}},
		{ID: "home-2", Coord: HiddenCoord},
	}
	p := newTestPool(t, Config{Strategy: config.StrategyStackedHomes}, &fakeStore{claimed: map[int64]bool{2: true}}, world)

	p.ApplyStartupPolicy(config.StrategyDisabled, config.HomePolicyRelocateToPool)
	if world.moves["home-1"] != HiddenCoord {
		t.Fatalf("real-coordinate home should relocate to the pool, moves=%v", world.moves)
	}
	if _, moved := world.moves["home-2"]; moved {
		t.Fatalf("homes already in the pool must not move")
	}
}

func TestApplyStartupPolicy_LeaveInPlace(t *testing.T) {
	world := newFakeWorld()
	world.homes = []Home{{ID: "home-1", Owner: 2, Coord: stackloc.Coord{X: 30, Y: 40}}}
	p := newTestPool(t, Config{Strategy: config.StrategyStackedHomes}, &fakeStore{}, world)
	p.ApplyStartupPolicy(config.StrategyStackedHomes, config.HomePolicyLeaveInPlace)
	if len(world.moves) != 0 {
		t.Fatalf("leave-in-place must not relocate, moves=%v", world.moves)
	}
}

package stackloc

import "testing"

func TestResolve_OverrideAlwaysWins(t *testing.T) {
	override := &Coord{X: 5, Y: 5}
	markers := []Marker{
		{TileIndex: MarkerTilePrimary, Order: 0, Pos: Coord{X: 10, Y: 12}},
	}
	got := Resolve(override, markers, Fallback)
	if got != (Coord{X: 5, Y: 5}) {
		t.Fatalf("override set: got %+v, want (5,5)", got)
	}
}

func TestResolve_LowestOrderMarker(t *testing.T) {
	markers := []Marker{
		{TileIndex: MarkerTileSecondary, Order: 3, Pos: Coord{X: 1, Y: 1}},
		{TileIndex: MarkerTilePrimary, Order: 0, Pos: Coord{X: 10, Y: 12}},
		{TileIndex: 99, Order: -5, Pos: Coord{X: 8, Y: 8}}, // not a reserved index
	}
	got := Resolve(nil, markers, Fallback)
	if got != (Coord{X: 10, Y: 12}) {
		t.Fatalf("got %+v, want the order-0 reserved marker at (10,12)", got)
	}
}

func TestResolve_FallbackWhenNothingSet(t *testing.T) {
	if got := Resolve(nil, nil, Fallback); got != Fallback {
		t.Fatalf("got %+v, want fallback %+v", got, Fallback)
	}
}

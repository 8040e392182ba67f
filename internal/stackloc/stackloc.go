// Package stackloc computes the single shared coordinate where stacked homes
// appear to their owners. Resolution is a pure function of its inputs, so it
// can be unit-tested without a running world.
package stackloc

// Reserved tile indices in the map annotation layer that mark a candidate
// stack location.
const (
	MarkerTilePrimary   = 71
	MarkerTileSecondary = 72
)

// Fallback is used when neither an override nor a map marker exists.
var Fallback = Coord{X: 59, Y: 13}

type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Marker is one annotation-layer tile found while scanning the shared map.
type Marker struct {
	TileIndex int
	Order     int
	Pos       Coord
}

// Resolve picks the stack coordinate: a persisted administrator override
// always wins; otherwise the lowest-Order reserved marker; otherwise fallback.
func Resolve(override *Coord, markers []Marker, fallback Coord) Coord {
	if override != nil {
		return *override
	}
	best := -1
	for i, m := range markers {
		if m.TileIndex != MarkerTilePrimary && m.TileIndex != MarkerTileSecondary {
			continue
		}
		if best < 0 || m.Order < markers[best].Order {
			best = i
		}
	}
	if best >= 0 {
		return markers[best].Pos
	}
	return fallback
}

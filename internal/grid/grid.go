// Package grid buckets satellites into a coarse uniform 3D grid at the
// reference epoch and enumerates neighboring-cell pairs, bounding the
// conjunction search to objects that are geometrically close instead of
// comparing all pairs.
package grid

import (
	"math"
	"sort"

	"github.com/orbit/conjwatch/internal/orbit"
)

// CellKey identifies one cell of the uniform grid.
type CellKey struct {
	X, Y, Z int
}

// Index maps occupied cells to the satellite names they contain.
type Index struct {
	cells    map[CellKey][]string
	cellSize float64
}

// Pair is an unordered candidate pair of satellite names. A and B are
// stored in lexical order so the pair identity is canonical.
type Pair struct {
	A, B string
}

// KeyFor computes the cell containing a position for the given cell size.
func KeyFor(p orbit.Position, cellSize float64) CellKey {
	return CellKey{
		X: int(math.Floor(p.X / cellSize)),
		Y: int(math.Floor(p.Y / cellSize)),
		Z: int(math.Floor(p.Z / cellSize)),
	}
}

// BuildIndex buckets every satellite's epoch-0 position into its cell.
func BuildIndex(epochPositions map[string]orbit.Position, cellSize float64) *Index {
	idx := &Index{
		cells:    make(map[CellKey][]string),
		cellSize: cellSize,
	}
	for name, pos := range epochPositions {
		key := KeyFor(pos, cellSize)
		idx.cells[key] = append(idx.cells[key], name)
	}
	return idx
}

// CellCount returns the number of occupied cells.
func (idx *Index) CellCount() int {
	return len(idx.cells)
}

// CandidatePairs enumerates, for every occupied cell, each pair of names
// across the 27-cell neighborhood (the cell itself included), deduplicated
// by unordered pair. Objects that start more than one cell apart but
// converge later in the horizon are missed; cell size must therefore
// exceed the per-step drift budget.
//
// Traversal order over cells is map order, but the returned pair set is
// deterministic for identical input positions; the slice is sorted so
// callers also see a stable order.
func (idx *Index) CandidatePairs() []Pair {
	seen := make(map[Pair]struct{})

	for key, names := range idx.cells {
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				for dz := -1; dz <= 1; dz++ {
					neighbor := CellKey{X: key.X + dx, Y: key.Y + dy, Z: key.Z + dz}
					others, ok := idx.cells[neighbor]
					if !ok {
						continue
					}
					for _, a := range names {
						for _, b := range others {
							if a == b {
								continue
							}
							p := canonical(a, b)
							seen[p] = struct{}{}
						}
					}
				}
			}
		}
	}

	pairs := make([]Pair, 0, len(seen))
	for p := range seen {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}

func canonical(a, b string) Pair {
	if a > b {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

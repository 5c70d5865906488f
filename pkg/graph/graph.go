// Package graph builds the directed neighbor graph over z-ordered slides
// and solves shortest paths over it. The graph is stored CSR-style: a
// prefix-sum index over nodes and a flat adjacency array, mirroring how the
// pathfinding grid in the rest of the corpus lays out its edge lists for
// cache-friendly traversal.
package graph

import (
	"math"
	"sort"

	"histostack/internal/models"
)

// NoPath is the reserved sentinel predecessor value for unreachable nodes.
const NoPath = -1

// Graph is a directed, weighted graph over slide indices (the same indices
// used by models.Slide / models.SortedIndex). Edge weights are initialized
// to +Inf and set later by the pairwise registrar.
type Graph struct {
	n       int
	indptr  []int
	indices []int
	weight  []float64
}

// Build constructs the neighbor graph from the z-sorted slide index: for
// each slide, it walks outward from its z-rank in both directions,
// inserting neighbors into that slide's neighbor set until at least one has
// been added in that direction AND the next candidate's z-gap would exceed
// zRange. The first candidate in each direction is always added, which
// guarantees slides at the extreme z-values still get a neighbor even when
// zRange is 0.
func Build(slides []models.Slide, sorted *models.SortedIndex, zRange float64) *Graph {
	n := sorted.Len()
	neighborSets := make([]map[int]struct{}, n)
	for i := 0; i < n; i++ {
		neighborSets[i] = make(map[int]struct{})
	}

	for i := 0; i < n; i++ {
		pos := sorted.RankOf(i)
		z := slides[i].Z

		added := 0
		for step := 1; pos+step < n; step++ {
			cand := sorted.At(pos + step)
			gap := math.Abs(slides[cand].Z - z)
			if added >= 1 && gap > zRange {
				break
			}
			neighborSets[i][cand] = struct{}{}
			added++
		}

		added = 0
		for step := 1; pos-step >= 0; step++ {
			cand := sorted.At(pos - step)
			gap := math.Abs(slides[cand].Z - z)
			if added >= 1 && gap > zRange {
				break
			}
			neighborSets[i][cand] = struct{}{}
			added++
		}
	}

	indptr := make([]int, n+1)
	var indices []int
	for i := 0; i < n; i++ {
		row := make([]int, 0, len(neighborSets[i]))
		for t := range neighborSets[i] {
			row = append(row, t)
		}
		sort.Ints(row)
		indptr[i] = len(indices)
		indices = append(indices, row...)
	}
	indptr[n] = len(indices)

	weight := make([]float64, len(indices))
	for i := range weight {
		weight[i] = math.Inf(1)
	}

	return &Graph{n: n, indptr: indptr, indices: indices, weight: weight}
}

// NumNodes returns the number of slides in the graph.
func (g *Graph) NumNodes() int { return g.n }

// Neighbors returns the out-neighbors of node s, in ascending index order.
func (g *Graph) Neighbors(s int) []int {
	return g.indices[g.indptr[s]:g.indptr[s+1]]
}

// EdgeSlot returns the flat adjacency index for the directed edge s->t, if
// it exists.
func (g *Graph) EdgeSlot(s, t int) (int, bool) {
	lo, hi := g.indptr[s], g.indptr[s+1]
	row := g.indices[lo:hi]
	pos := sort.SearchInts(row, t)
	if pos < len(row) && row[pos] == t {
		return lo + pos, true
	}
	return 0, false
}

// Weight returns the weight of edge slot, as returned by EdgeSlot.
func (g *Graph) Weight(slot int) float64 { return g.weight[slot] }

// SetWeight sets the weight of edge slot, as returned by EdgeSlot.
func (g *Graph) SetWeight(slot int, w float64) { g.weight[slot] = w }

// SetEdgeWeight sets the weight of the directed edge s->t, returning false
// if the edge does not exist.
func (g *Graph) SetEdgeWeight(s, t int, w float64) bool {
	slot, ok := g.EdgeSlot(s, t)
	if !ok {
		return false
	}
	g.weight[slot] = w
	return true
}

// Package models holds the small value types shared across the histostack
// orchestrator: slides and their z-ordering.
package models

import "sort"

// Slide represents a single 2D tissue section. Identity is UniqueID, which
// must be stable across runs. Slides are created once during manifest
// ingestion and never mutated afterward.
type Slide struct {
	// UniqueID is the slide's identity. Stable across runs.
	UniqueID string

	// Z is the slide's position along the stacking axis.
	Z float64

	// Path is the absolute path to the slide's source image.
	Path string
}

// SortedIndex is a total order on a slice of Slides by (Z, ordinal), with
// ties broken by ordinal so duplicate Z values are permitted.
type SortedIndex struct {
	slides []Slide
	// order[k] is the index into slides of the k-th slide in z-order.
	order []int
	// rank[i] is the position of slides[i] within order.
	rank []int
}

// NewSortedIndex builds the sorted index once, after the manifest is loaded.
func NewSortedIndex(slides []Slide) *SortedIndex {
	order := make([]int, len(slides))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if slides[ia].Z != slides[ib].Z {
			return slides[ia].Z < slides[ib].Z
		}
		return ia < ib
	})

	rank := make([]int, len(slides))
	for pos, idx := range order {
		rank[idx] = pos
	}

	return &SortedIndex{slides: slides, order: order, rank: rank}
}

// Len returns the number of slides.
func (s *SortedIndex) Len() int { return len(s.order) }

// At returns the slide index (into the original slice) at z-rank pos.
func (s *SortedIndex) At(pos int) int { return s.order[pos] }

// RankOf returns the z-rank of the slide at original index i.
func (s *SortedIndex) RankOf(i int) int { return s.rank[i] }

// Slide returns the Slide value for original index i.
func (s *SortedIndex) Slide(i int) Slide { return s.slides[i] }

// Next returns the original index immediately following i in z-order, and
// whether one exists.
func (s *SortedIndex) Next(i int) (int, bool) {
	pos := s.rank[i]
	if pos+1 >= len(s.order) {
		return 0, false
	}
	return s.order[pos+1], true
}

// Prev returns the original index immediately preceding i in z-order, and
// whether one exists.
func (s *SortedIndex) Prev(i int) (int, bool) {
	pos := s.rank[i]
	if pos == 0 {
		return 0, false
	}
	return s.order[pos-1], true
}

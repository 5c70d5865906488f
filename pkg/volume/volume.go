// Package volume implements the Volume Matcher: extracting a 2D reference
// slice from the 3D volume at each slide's z-position, registering the
// reconstructed block's accumulated-reslice image against it, and
// collapsing the resulting per-slide affines down to a single
// median-affine consensus transform.
package volume

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"histostack/internal/models"
	"histostack/pkg/engine"
	"histostack/pkg/project"
	"histostack/pkg/stackerr"
	"histostack/pkg/xform"
)

// Matcher drives the Volume Matcher stage for a fixed slide list and
// reference volume.
type Matcher struct {
	slides []models.Slide
	vol    engine.Volume
	eng    engine.Engine
	store  *project.Store
}

// NewMatcher returns a Matcher over slides against vol.
func NewMatcher(slides []models.Slide, vol engine.Volume, eng engine.Engine, store *project.Store) *Matcher {
	return &Matcher{slides: slides, vol: vol, eng: eng, store: store}
}

// MatchAll runs the per-slide volume match for every slide, then computes
// and persists the median-affine consensus, writing each slide's
// iteration-0 transform as Ma * M̄.
func (m *Matcher) MatchAll() error {
	perSlide := make([]*xform.Matrix3, len(m.slides))
	for i, s := range m.slides {
		ma, err := m.matchOne(s)
		if err != nil {
			return err
		}
		perSlide[i] = ma
	}

	medoid := medianAffineMedoid(perSlide)
	medianPath, err := m.store.PathForGlobal(project.IntentVolumeMedianAffine, "")
	if err != nil {
		return err
	}
	if err := xform.WriteAffine(medianPath, perSlide[medoid]); err != nil {
		return &stackerr.ProjectIOError{Path: medianPath, Err: err}
	}

	for _, s := range m.slides {
		accumPath, err := m.store.PathForSlice(s.UniqueID, project.IntentAccumAffine, -1)
		if err != nil {
			return err
		}
		accum, err := xform.ReadAffine(accumPath)
		if err != nil {
			return err
		}

		iter0 := accum.Compose(perSlide[medoid])
		iter0Path, err := m.store.PathForSlice(s.UniqueID, project.IntentIterAffine, 0)
		if err != nil {
			return err
		}
		if err := xform.WriteAffine(iter0Path, iter0); err != nil {
			return &stackerr.ProjectIOError{Path: iter0Path, Err: err}
		}
	}
	return nil
}

// matchOne extracts the volume slice at s's z-position, persists it, and
// registers the slide's accumulated-reslice image against it with full
// affine DOF and image-centers init. The slice persistence and the
// registration are skipped together, as a pair, only when both of their
// output files already exist.
func (m *Matcher) matchOne(s models.Slide) (*xform.Matrix3, error) {
	slidePath, err := m.store.PathForSlice(s.UniqueID, project.IntentVolumeSlide, -1)
	if err != nil {
		return nil, err
	}
	outPath, err := m.store.PathForSlice(s.UniqueID, project.IntentVolumeSlideAffine, -1)
	if err != nil {
		return nil, err
	}
	if m.store.CanSkip(slidePath) && m.store.CanSkip(outPath) {
		return xform.ReadAffine(outPath)
	}

	slice := m.vol.ExtractSlice(s.Z)
	gray, ok := slice.(*engine.GrayImage)
	if !ok {
		return nil, &stackerr.UnsupportedImageError{Slide: s.UniqueID, Type: fmt.Sprintf("%T", slice)}
	}
	if err := engine.SaveImage(slidePath, gray); err != nil {
		return nil, &stackerr.ProjectIOError{Path: slidePath, Err: err}
	}

	accumReslicePath, err := m.store.PathForSlice(s.UniqueID, project.IntentAccumReslice, -1)
	if err != nil {
		return nil, err
	}

	volName := "vol_fixed_" + s.UniqueID
	m.eng.AddCachedInput(volName, slice)

	// The moving image is the accumulated-reslice artifact the Chain
	// Composer already wrote to disk; no pre-transform is needed here
	// (unlike the iterative refiner, this is the first registration against
	// the volume).
	params := engine.AffineParams{
		Inputs:   []engine.ImagePairSpec{{Fixed: volName, Moving: accumReslicePath, Weight: 1}},
		DOF:      engine.DOFAffine,
		InitMode: engine.InitImageCenters,
		Output:   outPath,
	}
	if err := m.eng.RunAffine(params); err != nil {
		return nil, &stackerr.RegistrationError{Slide: s.UniqueID, Iteration: 0, Err: err}
	}

	return xform.ReadAffine(outPath)
}

// medianAffineMedoid returns the index of the affine minimizing the sum of
// entry-wise L1 distances to every other affine, ties broken by the lowest
// index.
func medianAffineMedoid(affines []*xform.Matrix3) int {
	n := len(affines)
	rowSums := make([]float64, n)
	for i := 0; i < n; i++ {
		dists := make([]float64, n)
		for j := 0; j < n; j++ {
			dists[j] = affines[i].L1Distance(affines[j])
		}
		rowSums[i] = stat.Mean(dists, nil) * float64(n)
	}

	best := 0
	for i := 1; i < n; i++ {
		if rowSums[i] < rowSums[best] {
			best = i
		}
	}
	return best
}

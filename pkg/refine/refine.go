// Package refine implements the Iterative Refiner: coordinate-descent
// refinement of each slide's transform against the reference volume slice
// and its immediate z-neighbors, over a fixed affine schedule followed by a
// deformable schedule.
package refine

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"histostack/internal/models"
	"histostack/pkg/engine"
	"histostack/pkg/project"
	"histostack/pkg/stackerr"
)

// Config carries the Iterative Refiner's parameters.
type Config struct {
	NAffine, NDeform int
	WVolume          float64
	Seed             int64

	// IFirst, ILast bound the restart range [1, NAffine+NDeform], inclusive.
	// Zero values mean "use the default full span".
	IFirst, ILast int
}

// Refiner drives the Iterative Refiner stage.
type Refiner struct {
	slides []models.Slide
	sorted *models.SortedIndex
	vol    engine.Volume
	eng    engine.Engine
	store  *project.Store
	cfg    Config
}

// NewRefiner returns a Refiner over slides/sorted against vol.
func NewRefiner(slides []models.Slide, sorted *models.SortedIndex, vol engine.Volume, eng engine.Engine, store *project.Store, cfg Config) (*Refiner, error) {
	last := cfg.NAffine + cfg.NDeform
	iFirst, iLast := cfg.IFirst, cfg.ILast
	if iFirst == 0 && iLast == 0 {
		iFirst, iLast = 1, last
	}
	if iFirst > iLast || iFirst == 0 || iLast > last {
		return nil, &stackerr.ArgumentError{Msg: fmt.Sprintf("restart range [%d, %d] is invalid for schedule [1, %d]", iFirst, iLast, last)}
	}
	cfg.IFirst, cfg.ILast = iFirst, iLast
	return &Refiner{slides: slides, sorted: sorted, vol: vol, eng: eng, store: store, cfg: cfg}, nil
}

// Run executes every iteration in the refiner's restart range.
func (r *Refiner) Run() error {
	rng := rand.New(rand.NewSource(r.seed()))
	for k := r.cfg.IFirst; k <= r.cfg.ILast; k++ {
		if err := r.runIteration(k, rng); err != nil {
			return err
		}
	}
	return nil
}

func (r *Refiner) seed() int64 {
	if r.cfg.Seed != 0 {
		return r.cfg.Seed
	}
	return time.Now().UnixNano()
}

func (r *Refiner) runIteration(k int, rng *rand.Rand) error {
	order := rng.Perm(len(r.slides))

	var totalVolumeMetric, totalNeighborMetric float64
	for _, idx := range order {
		s := r.slides[idx]

		outputPath, err := r.iterOutputPath(s.UniqueID, k)
		if err != nil {
			return err
		}
		if r.store.CanSkip(outputPath) {
			continue
		}

		volMetric, nbrMetric, err := r.refineOne(idx, k)
		if err != nil {
			if regErr, ok := err.(*stackerr.RegistrationError); ok {
				log.Printf("registration failed for slide %s at iteration %d: %v", s.UniqueID, k, regErr.Err)
				continue
			}
			return err
		}
		totalVolumeMetric += volMetric
		totalNeighborMetric += nbrMetric
	}

	log.Printf("iteration %d complete: total_volume_metric=%v total_neighbor_metric=%v", k, totalVolumeMetric, totalNeighborMetric)
	return nil
}

func (r *Refiner) iterOutputPath(sid string, k int) (string, error) {
	if k <= r.cfg.NAffine {
		return r.store.PathForSlice(sid, project.IntentIterAffine, k)
	}
	return r.store.PathForSlice(sid, project.IntentIterWarp, k)
}

func (r *Refiner) refineOne(idx, k int) (volMetric, nbrMetric float64, err error) {
	s := r.slides[idx]
	sliceImg := r.vol.ExtractSlice(s.Z)
	volName := "iter_vol_" + s.UniqueID
	r.eng.AddCachedInput(volName, sliceImg)

	inputs := []engine.ImagePairSpec{{Fixed: volName, Moving: s.Path, Weight: r.cfg.WVolume}}

	for _, nbrIdx := range r.immediateNeighbors(idx) {
		nbr := r.slides[nbrIdx]
		reslicedPath, rerr := r.resliceNeighbor(s, nbr, k)
		if rerr != nil {
			return 0, 0, rerr
		}
		inputs = append(inputs, engine.ImagePairSpec{Fixed: reslicedPath, Moving: s.Path, Weight: 1})
	}

	if k <= r.cfg.NAffine {
		volMetric, nbrMetric, err = r.runAffineStep(s, k, inputs)
	} else {
		volMetric, nbrMetric, err = r.runDeformableStep(s, k, inputs)
	}
	return volMetric, nbrMetric, err
}

// immediateNeighbors returns at most one slide strictly before idx and at
// most one strictly after, in z-order.
func (r *Refiner) immediateNeighbors(idx int) []int {
	var out []int
	if prev, ok := r.sorted.Prev(idx); ok {
		out = append(out, prev)
	}
	if next, ok := r.sorted.Next(idx); ok {
		out = append(out, next)
	}
	return out
}

// resliceNeighbor reslices nbr's raw image into the volume-slice reference
// frame of ref, using nbr's previous-iteration transform chain: a single
// affine if the previous iteration was still in the affine schedule, or a
// warp composed after the frozen affine otherwise.
func (r *Refiner) resliceNeighbor(ref, nbr models.Slide, k int) (string, error) {
	outPath, err := r.store.PathForIterNeighborReslice(ref.UniqueID, nbr.UniqueID, k)
	if err != nil {
		return "", err
	}

	spec := engine.ResliceSpec{Image: nbr.Path, Output: outPath}
	if k-1 <= r.cfg.NAffine {
		affinePath, aerr := r.store.PathForSlice(nbr.UniqueID, project.IntentIterAffine, k-1)
		if aerr != nil {
			return "", aerr
		}
		spec.Transform = affinePath
	} else {
		frozenPath, ferr := r.store.PathForSlice(nbr.UniqueID, project.IntentIterAffine, r.cfg.NAffine)
		if ferr != nil {
			return "", ferr
		}
		warpPath, werr := r.store.PathForSlice(nbr.UniqueID, project.IntentIterWarp, k-1)
		if werr != nil {
			return "", werr
		}
		spec.PreTransform = frozenPath
		spec.Transform = warpPath
	}

	params := engine.ResliceParams{
		RefImage: "iter_vol_" + ref.UniqueID,
		Images:   []engine.ResliceSpec{spec},
		Boundary: engine.BoundaryZeroFluxNeumann,
	}
	if err := r.eng.RunReslice(params); err != nil {
		return "", &stackerr.RegistrationError{Slide: nbr.UniqueID, Iteration: k, Err: err}
	}
	return outPath, nil
}

func (r *Refiner) runAffineStep(s models.Slide, k int, inputs []engine.ImagePairSpec) (float64, float64, error) {
	initPath, err := r.store.PathForSlice(s.UniqueID, project.IntentIterAffine, k-1)
	if err != nil {
		return 0, 0, err
	}
	outPath, err := r.store.PathForSlice(s.UniqueID, project.IntentIterAffine, k)
	if err != nil {
		return 0, 0, err
	}

	params := engine.AffineParams{
		Inputs:        inputs,
		DOF:           engine.DOFAffine,
		InitMode:      engine.InitFilename,
		InitTransform: initPath,
		Output:        outPath,
	}
	if err := r.eng.RunAffine(params); err != nil {
		return 0, 0, &stackerr.RegistrationError{Slide: s.UniqueID, Iteration: k, Err: err}
	}
	return r.persistMetric(s, k, inputs)
}

func (r *Refiner) runDeformableStep(s models.Slide, k int, inputs []engine.ImagePairSpec) (float64, float64, error) {
	frozenAffine, err := r.store.PathForSlice(s.UniqueID, project.IntentIterAffine, r.cfg.NAffine)
	if err != nil {
		return 0, 0, err
	}
	outPath, err := r.store.PathForSlice(s.UniqueID, project.IntentIterWarp, k)
	if err != nil {
		return 0, 0, err
	}

	params := engine.DeformableParams{
		Inputs:              inputs,
		Output:              outPath,
		MovingPreTransforms: []string{frozenAffine},
	}
	if err := r.eng.RunDeformable(params); err != nil {
		return 0, 0, &stackerr.RegistrationError{Slide: s.UniqueID, Iteration: k, Err: err}
	}
	return r.persistMetric(s, k, inputs)
}

func (r *Refiner) persistMetric(s models.Slide, k int, inputs []engine.ImagePairSpec) (float64, float64, error) {
	report := r.eng.LastMetricReport()
	var volMetric float64
	var nbrMetric float64
	if len(report.Components) > 0 {
		volMetric = report.Components[0]
	}
	if len(report.Components) > 1 {
		for _, c := range report.Components[1:] {
			nbrMetric += c
		}
	}

	metricPath, err := r.store.PathForSlice(s.UniqueID, project.IntentIterMetric, k)
	if err != nil {
		return 0, 0, err
	}
	if err := writeMetricReport(metricPath, report); err != nil {
		return 0, 0, err
	}
	return volMetric, nbrMetric, nil
}

// writeMetricReport dumps a metric report as one textual value per line:
// the total first, then each component, matching the project store's
// single-textual-representation-per-file convention.
func writeMetricReport(path string, report engine.MetricReport) error {
	var b strings.Builder
	b.WriteString(strconv.FormatFloat(report.Total, 'g', -1, 64))
	for _, c := range report.Components {
		b.WriteByte('\n')
		b.WriteString(strconv.FormatFloat(c, 'g', -1, 64))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return &stackerr.ProjectIOError{Path: path, Err: err}
	}
	return nil
}

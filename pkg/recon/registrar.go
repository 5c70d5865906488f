// Package recon implements the two orchestration stages that turn a
// weighted neighbor graph into a coherent 3D reconstructed block: the
// Pairwise Registrar, which fills in the graph's edge weights by driving
// the external engine over every neighbor pair, and the Root Selector &
// Chain Composer, which picks the spanning root and materializes each
// slide's accumulated transform.
package recon

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"histostack/internal/models"
	"histostack/pkg/cache"
	"histostack/pkg/engine"
	"histostack/pkg/graph"
	"histostack/pkg/project"
	"histostack/pkg/stackerr"
)

// RegistrarConfig carries the knobs the Pairwise Registrar needs from the
// engine/metric configuration.
type RegistrarConfig struct {
	MetricRadius     int
	MetricNormalizer float64
	ZEpsilon         float64
}

// Registrar drives the external engine over every directed neighbor edge,
// normalizing the reported metric and assigning the resulting edge weight.
type Registrar struct {
	slides []models.Slide
	cache  *cache.Cache
	eng    engine.Engine
	store  *project.Store
	cfg    RegistrarConfig
}

// NewRegistrar returns a Registrar over slides, using c to load images and
// eng to perform registrations, persisting through store.
func NewRegistrar(slides []models.Slide, c *cache.Cache, eng engine.Engine, store *project.Store, cfg RegistrarConfig) *Registrar {
	return &Registrar{slides: slides, cache: c, eng: eng, store: store, cfg: cfg}
}

// RegisterAll visits every directed edge in g, in order of s's z-rank, and
// fills in its weight.
//
// TODO: the edges touching a single slide s are independent of each other
// and could be dispatched across engine invocations concurrently; left
// serial here to match the orchestrator's single-threaded-at-the-slide-level
// scheduling model.
func (r *Registrar) RegisterAll(g *graph.Graph, sorted *models.SortedIndex) error {
	for pos := 0; pos < sorted.Len(); pos++ {
		s := sorted.At(pos)
		for _, t := range g.Neighbors(s) {
			if err := r.registerEdge(g, s, t); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registrar) registerEdge(g *graph.Graph, s, t int) error {
	sSlide, tSlide := r.slides[s], r.slides[t]

	affinePath, err := r.store.PathForSlicePair(sSlide.UniqueID, tSlide.UniqueID, project.IntentNeighborAffine)
	if err != nil {
		return err
	}
	metricPath, err := r.store.PathForSlicePair(sSlide.UniqueID, tSlide.UniqueID, project.IntentNeighborMetric)
	if err != nil {
		return err
	}

	var normalized float64
	if r.store.CanSkip(affinePath) && r.store.CanSkip(metricPath) {
		normalized, err = readMetricScalar(metricPath)
		if err != nil {
			return err
		}
	} else {
		normalized, err = r.runPairwiseRegistration(sSlide, tSlide, affinePath)
		if err != nil {
			return &stackerr.RegistrationError{Slide: tSlide.UniqueID, Iteration: 0, Err: err}
		}
		if err := writeMetricScalar(metricPath, normalized); err != nil {
			return err
		}
	}

	dz := math.Abs(sSlide.Z - tSlide.Z)
	weight := (1 - normalized) * math.Pow(1+r.cfg.ZEpsilon, dz)
	g.SetEdgeWeight(s, t, weight)
	return nil
}

func (r *Registrar) runPairwiseRegistration(fixed, moving models.Slide, outputPath string) (float64, error) {
	fixedImg, err := r.cache.Get(fixed.Path, "slide")
	if err != nil {
		return 0, err
	}
	movingImg, err := r.cache.Get(moving.Path, "slide")
	if err != nil {
		return 0, err
	}

	fixedName := "nbr_fixed_" + fixed.UniqueID
	movingName := "nbr_moving_" + moving.UniqueID
	r.eng.AddCachedInput(fixedName, fixedImg)
	r.eng.AddCachedInput(movingName, movingImg)

	params := engine.AffineParams{
		Inputs:       []engine.ImagePairSpec{{Fixed: fixedName, Moving: movingName, Weight: 1}},
		DOF:          engine.DOFRigid,
		InitMode:     engine.InitImageCenters,
		Output:       outputPath,
		MetricRadius: r.cfg.MetricRadius,
	}
	if err := r.eng.RunAffine(params); err != nil {
		return 0, err
	}

	report := r.eng.LastMetricReport()
	n := len(report.Components)
	if n == 0 {
		n = 1
	}
	return report.Total / (r.cfg.MetricNormalizer * float64(n)), nil
}

func writeMetricScalar(path string, v float64) error {
	text := strconv.FormatFloat(v, 'g', -1, 64)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return &stackerr.ProjectIOError{Path: path, Err: err}
	}
	return nil
}

func readMetricScalar(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, &stackerr.ProjectIOError{Path: path, Err: err}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return 0, fmt.Errorf("recon: malformed metric file %s: %w", path, err)
	}
	return v, nil
}

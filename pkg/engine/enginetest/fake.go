// Package enginetest provides a deterministic, in-memory fake of
// engine.Engine for use in orchestrator package tests. It performs no real
// image registration: it reports a configurable metric and, for RunAffine,
// either copies an init transform forward or writes the identity, which is
// enough to exercise the orchestrator's file-sequencing and bookkeeping
// logic without depending on real registration math.
package enginetest

import (
	"fmt"
	"os"
	"path/filepath"

	"histostack/pkg/engine"
	"histostack/pkg/xform"
)

// Fake is a test double for engine.Engine.
type Fake struct {
	// Metric is returned by LastMetricReport after every Run* call. Tests
	// may mutate it between calls to simulate changing registration quality.
	Metric engine.MetricReport

	// FailAffine, FailDeformable, FailReslice, when non-nil, are returned
	// verbatim by the corresponding Run* call instead of succeeding.
	FailAffine, FailDeformable, FailReslice error

	// AffineCalls and ResliceCalls record every invocation for assertions.
	AffineCalls     []engine.AffineParams
	DeformableCalls []engine.DeformableParams
	ResliceCalls    []engine.ResliceParams

	cachedInputs map[string]engine.Image
	threads      int
}

// New returns a Fake reporting a single-component metric of 1.0 until told
// otherwise.
func New() *Fake {
	return &Fake{
		Metric:       engine.MetricReport{Total: 1, Components: []float64{1}},
		cachedInputs: make(map[string]engine.Image),
	}
}

func (f *Fake) ConfigThreads(n int) { f.threads = n }

func (f *Fake) Threads() int { return f.threads }

func (f *Fake) AddCachedInput(name string, img engine.Image) {
	f.cachedInputs[name] = img
}

func (f *Fake) AddCachedOutput(name string, img engine.Image, allowReplace bool) {}

// RunAffine writes the init transform (or identity, if none was given) to
// params.Output, simulating a no-op registration.
func (f *Fake) RunAffine(params engine.AffineParams) error {
	f.AffineCalls = append(f.AffineCalls, params)
	if f.FailAffine != nil {
		return f.FailAffine
	}

	out := xform.Identity()
	if params.InitMode == engine.InitFilename && params.InitTransform != "" {
		m, err := xform.ReadAffine(params.InitTransform)
		if err != nil {
			return fmt.Errorf("fake engine: reading init transform: %w", err)
		}
		out = m
	}
	return xform.WriteAffine(params.Output, out)
}

// RunDeformable writes a small marker payload to params.Output, simulating
// a deformation field the orchestrator treats as opaque.
func (f *Fake) RunDeformable(params engine.DeformableParams) error {
	f.DeformableCalls = append(f.DeformableCalls, params)
	if f.FailDeformable != nil {
		return f.FailDeformable
	}
	return writeMarker(params.Output, "warp")
}

// RunReslice writes a small marker payload for each output, simulating a
// resliced image.
func (f *Fake) RunReslice(params engine.ResliceParams) error {
	f.ResliceCalls = append(f.ResliceCalls, params)
	if f.FailReslice != nil {
		return f.FailReslice
	}
	for _, spec := range params.Images {
		if err := writeMarker(spec.Output, "reslice"); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fake) LastMetricReport() engine.MetricReport { return f.Metric }

func (f *Fake) ReadAffine(path string) (*xform.Matrix3, error) { return xform.ReadAffine(path) }

func (f *Fake) WriteAffine(path string, m *xform.Matrix3) error { return xform.WriteAffine(path, m) }

func writeMarker(path, kind string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(kind), 0644)
}

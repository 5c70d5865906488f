// Package engine defines the contract the orchestrator drives but never
// implements: the 2D/3D image registration engine. Affine optimization,
// metric evaluation, deformable field solving, and reslicing are the engine's
// responsibility; this package only defines the shapes the orchestrator needs
// to call through.
package engine

import "histostack/pkg/xform"

// DOF is the degrees of freedom an affine registration is permitted.
type DOF int

const (
	DOFRigid DOF = iota
	DOFSimilarity
	DOFAffine
)

// InitMode selects how an affine registration's initial transform is
// determined.
type InitMode int

const (
	InitIdentity InitMode = iota
	InitImageCenters
	InitFilename
)

// BoundaryCondition selects how out-of-bounds samples are handled during
// padding or reslicing.
type BoundaryCondition int

const (
	BoundaryZero BoundaryCondition = iota
	BoundaryZeroFluxNeumann
)

// Image is the minimal shape the orchestrator needs from a 2D image,
// whether a loaded slide or an extracted volume slice. Concrete image I/O
// formats are out of scope; callers outside this package only ever pass
// Images through to the engine by cached name.
type Image interface {
	Bounds() (width, height int)
	At(x, y int) float64
}

// Volume is a 3D reference image the orchestrator samples slices from. The
// in-plane direction submatrix is the top-left 2x2 block of Direction().
type Volume interface {
	Dims() (width, height, depth int)
	Spacing() (sx, sy, sz float64)
	Origin() (ox, oy, oz float64)
	Direction() [3][3]float64
	// ExtractSlice samples a single-voxel-thick slice at physical z-position
	// z, with the in-plane origin/spacing/direction preserved, using a zero
	// deformation field and linear interpolation.
	ExtractSlice(z float64) Image
}

// ImagePairSpec names one fixed/moving image pair participating in a
// registration, each by cached name or by file path, together with its
// fixed-image weight.
type ImagePairSpec struct {
	Fixed, Moving string
	Weight        float64
}

// RigidSearchSpec configures an optional rigid pre-search phase.
type RigidSearchSpec struct {
	Iterations int
	Sigma      float64
}

// AffineParams carries everything RunAffine needs.
type AffineParams struct {
	Inputs              []ImagePairSpec
	DOF                 DOF
	InitMode            InitMode
	InitTransform       string
	Output              string
	MetricRadius        int
	RigidSearch         *RigidSearchSpec
	MovingPreTransforms []string
}

// DeformableParams carries everything RunDeformable needs.
type DeformableParams struct {
	Inputs              []ImagePairSpec
	Output              string
	MovingPreTransforms []string
}

// ResliceSpec names one image/transform/output triple within a reslice run.
// PreTransform, when set, is applied before Transform (for example, a frozen
// affine applied ahead of a later deformable field).
type ResliceSpec struct {
	Image, Transform, Output string
	PreTransform             string
}

// ResliceParams carries everything RunReslice needs.
type ResliceParams struct {
	RefImage string
	Images   []ResliceSpec
	Padding  int
	Boundary BoundaryCondition
}

// MetricReport is the engine's report of the last registration's quality:
// Total is the raw accumulator value, Components breaks it down by input
// image pair in the order the pairs were added to the registration.
type MetricReport struct {
	Total      float64
	Components []float64
}

// Engine is the external registration engine's contract. The orchestrator
// drives an Engine but never implements registration mathematics against it.
type Engine interface {
	// ConfigThreads sets the engine's internal thread count.
	ConfigThreads(n int)

	// AddCachedInput makes an in-memory image available to the next Run*
	// call under name, without requiring a round trip through disk.
	AddCachedInput(name string, img Image)

	// AddCachedOutput registers an in-memory destination for a Run* call's
	// output under name. If allowReplace is false, a name collision is an
	// error.
	AddCachedOutput(name string, img Image, allowReplace bool)

	// RunAffine performs an affine (including rigid/similarity) registration
	// and writes params.Output.
	RunAffine(params AffineParams) error

	// RunDeformable performs deformable registration and writes
	// params.Output.
	RunDeformable(params DeformableParams) error

	// RunReslice resamples params.Images into params.RefImage's frame.
	RunReslice(params ResliceParams) error

	// LastMetricReport returns the metric report for the most recent Run*
	// call.
	LastMetricReport() MetricReport

	// ReadAffine reads a persisted 3x3 affine transform.
	ReadAffine(path string) (*xform.Matrix3, error)

	// WriteAffine persists a 3x3 affine transform.
	WriteAffine(path string, m *xform.Matrix3) error
}

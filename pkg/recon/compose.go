package recon

import (
	"histostack/internal/models"
	"histostack/pkg/engine"
	"histostack/pkg/graph"
	"histostack/pkg/project"
	"histostack/pkg/stackerr"
	"histostack/pkg/xform"
)

// ChainComposer selects the reconstruction root and materializes every
// slide's accumulated transform back to it.
type ChainComposer struct {
	slides []models.Slide
	cache  interface {
		Get(path, typeTag string) (engine.Image, error)
	}
	eng   engine.Engine
	store *project.Store
}

// NewChainComposer returns a ChainComposer over slides.
func NewChainComposer(slides []models.Slide, c interface {
	Get(path, typeTag string) (engine.Image, error)
}, eng engine.Engine, store *project.Store) *ChainComposer {
	return &ChainComposer{slides: slides, cache: c, eng: eng, store: store}
}

// SelectRoot runs Dijkstra from every node, and returns the node minimizing
// the sum of distances to all other nodes, ties broken by lowest index.
func SelectRoot(g *graph.Graph) int {
	best := -1
	var bestTotal float64
	for i := 0; i < g.NumNodes(); i++ {
		res := g.Compute(i)
		var total float64
		for _, d := range res.Distance {
			total += d
		}
		if best == -1 || total < bestTotal {
			best = i
			bestTotal = total
		}
	}
	return best
}

// ComposeChains runs Dijkstra from root and, for every slide, walks
// predecessors back to root composing the per-edge transforms persisted by
// the Pairwise Registrar into an accumulated 3x3 matrix. It persists each
// slide's accumulated matrix and a resliced image referenced against a
// padded root image.
func (c *ChainComposer) ComposeChains(g *graph.Graph, root int) error {
	res := g.Compute(root)

	rootImg, err := c.cache.Get(c.slides[root].Path, "slide")
	if err != nil {
		return err
	}
	width, height := rootImg.Bounds()
	padding := max(width, height) / 4

	paddedName := "chain_root_padded_" + c.slides[root].UniqueID
	c.eng.AddCachedInput(paddedName, rootImg)

	for v := 0; v < g.NumNodes(); v++ {
		accum, err := c.accumulatedTransform(v, root, res.Predecessor)
		if err != nil {
			return err
		}

		accumPath, err := c.store.PathForSlice(c.slides[v].UniqueID, project.IntentAccumAffine, -1)
		if err != nil {
			return err
		}
		if err := xform.WriteAffine(accumPath, accum); err != nil {
			return &stackerr.ProjectIOError{Path: accumPath, Err: err}
		}

		reslicePath, err := c.store.PathForSlice(c.slides[v].UniqueID, project.IntentAccumReslice, -1)
		if err != nil {
			return err
		}
		if c.store.CanSkip(reslicePath) {
			continue
		}

		params := engine.ResliceParams{
			RefImage: paddedName,
			Images:   []engine.ResliceSpec{{Image: c.slides[v].Path, Transform: accumPath, Output: reslicePath}},
			Padding:  padding,
			Boundary: engine.BoundaryZeroFluxNeumann,
		}
		if err := c.eng.RunReslice(params); err != nil {
			return &stackerr.RegistrationError{Slide: c.slides[v].UniqueID, Iteration: 0, Err: err}
		}
	}
	return nil
}

// accumulatedTransform walks predecessors from v back to root, composing
// M_accum <- M_accum * M_step for each edge (pred(v) -> v) along the way.
func (c *ChainComposer) accumulatedTransform(v, root int, pred []int) (*xform.Matrix3, error) {
	if v == root {
		return xform.Identity(), nil
	}

	var chain []int
	cur := v
	for cur != root {
		p := pred[cur]
		if p == graph.NoPath {
			return nil, &stackerr.GraphDisconnected{Slide: c.slides[v].UniqueID}
		}
		chain = append(chain, cur)
		cur = p
	}

	// chain is v, pred(v), ..., child-of-root. Walk it starting at v, so the
	// first transform composed is the edge (pred(v) -> v), matching
	// M_accum <- M_accum * M_step.
	accum := xform.Identity()
	for i := 0; i < len(chain); i++ {
		node := chain[i]
		p := pred[node]
		stepPath, err := c.store.PathForSlicePair(c.slides[p].UniqueID, c.slides[node].UniqueID, project.IntentNeighborAffine)
		if err != nil {
			return nil, err
		}
		step, err := xform.ReadAffine(stepPath)
		if err != nil {
			return nil, &stackerr.ProjectIOError{Path: stepPath, Err: err}
		}
		accum = accum.Compose(step)
	}
	return accum, nil
}

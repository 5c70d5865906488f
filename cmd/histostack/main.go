// Command histostack drives the stack-alignment orchestrator: mutual
// co-registration of neighboring slides into a reconstructed block, rigid
// alignment of that block to a reference volume, and iterative per-slide
// affine/deformable refinement against the volume and in-plane neighbors.
//
// The external registration engine (affine optimizer, metric evaluation,
// deformable solver, reslicer) is not implemented by this module; it is an
// external collaborator satisfying pkg/engine.Engine. Until one is wired in
// at build time, this command runs against the deterministic fake in
// pkg/engine/enginetest, which exercises every file-sequencing and
// bookkeeping path without performing real registration.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"histostack/internal/models"
	"histostack/pkg/cache"
	"histostack/pkg/config"
	"histostack/pkg/engine"
	"histostack/pkg/engine/enginetest"
	"histostack/pkg/graph"
	"histostack/pkg/manifest"
	"histostack/pkg/project"
	"histostack/pkg/recon"
	"histostack/pkg/refine"
	"histostack/pkg/volume"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: histostack [-N] <init|recon|volmatch|voliter> [flags] <project-dir>")
}

func main() {
	// A -N given ahead of the subcommand is forwarded to the subcommand's
	// own flag set.
	rest := os.Args[1:]
	reuseFirst := len(rest) > 0 && rest[0] == "-N"
	if reuseFirst {
		rest = rest[1:]
	}
	if len(rest) < 2 {
		usage()
		os.Exit(1)
	}

	sub := rest[0]
	args := rest[1:]
	if reuseFirst {
		args = append([]string{"-N"}, args...)
	}

	var err error
	switch sub {
	case "init":
		err = cmdInit(args)
	case "recon":
		err = cmdRecon(args)
	case "volmatch":
		err = cmdVolmatch(args)
	case "voliter":
		err = cmdVoliter(args)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("histostack %s: %v", sub, err)
	}
}

// loadSlides opens the project's manifest and returns the parsed slide list
// together with its z-sorted index.
func loadSlides(store *project.Store) ([]models.Slide, *models.SortedIndex, error) {
	manifestPath, err := store.PathForGlobal(project.IntentManifest, "")
	if err != nil {
		return nil, nil, err
	}
	slides, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, nil, err
	}
	return slides, models.NewSortedIndex(slides), nil
}

func newEngine(cfg *config.Config) engine.Engine {
	eng := enginetest.New()
	eng.ConfigThreads(cfg.Engine.ThreadCount)
	return eng
}

func cmdInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	reuse := fs.Bool("N", false, "enable reuse/skip mode")
	manifestPath := fs.String("M", "", "path to the slide manifest")
	ext := fs.String("ext", "", "default image extension (overrides config default)")
	fs.Parse(args)

	projectDir := fs.Arg(0)
	if projectDir == "" || *manifestPath == "" {
		return fmt.Errorf("init requires -M <manifest> and a project directory")
	}

	cfg := config.DefaultConfig()
	if *ext != "" {
		cfg.Output.DefaultImageExt = *ext
	}
	store := project.New(projectDir, cfg.Output.DefaultImageExt, *reuse)

	if err := config.SaveConfigFile(store, cfg); err != nil {
		return err
	}

	dst, err := store.PathForGlobal(project.IntentManifest, "")
	if err != nil {
		return err
	}
	return copyFile(*manifestPath, dst)
}

func cmdRecon(args []string) error {
	fs := flag.NewFlagSet("recon", flag.ExitOnError)
	reuse := fs.Bool("N", false, "enable reuse/skip mode")
	fs.Parse(args)

	projectDir := fs.Arg(0)
	if projectDir == "" {
		return fmt.Errorf("recon requires a project directory")
	}

	cfg, store, err := loadProjectConfig(projectDir, *reuse)
	if err != nil {
		return err
	}

	slides, sorted, err := loadSlides(store)
	if err != nil {
		return err
	}

	g := graph.Build(slides, sorted, cfg.Graph.ZRange)

	eng := newEngine(cfg)
	c := cache.New(engineLoader, cfg.Cache.MaxImages, cfg.Cache.MaxBytes)

	registrar := recon.NewRegistrar(slides, c, eng, store, recon.RegistrarConfig{
		MetricRadius:     cfg.Engine.NCCRadius,
		MetricNormalizer: cfg.Engine.MetricNormalizer,
		ZEpsilon:         cfg.Graph.ZEpsilon,
	})
	if err := registrar.RegisterAll(g, sorted); err != nil {
		return err
	}

	root := recon.SelectRoot(g)
	composer := recon.NewChainComposer(slides, c, eng, store)
	return composer.ComposeChains(g, root)
}

func cmdVolmatch(args []string) error {
	fs := flag.NewFlagSet("volmatch", flag.ExitOnError)
	reuse := fs.Bool("N", false, "enable reuse/skip mode")
	volPath := fs.String("i", "", "path to the reference volume (engine-defined format)")
	fs.Parse(args)

	projectDir := fs.Arg(0)
	if projectDir == "" || *volPath == "" {
		return fmt.Errorf("volmatch requires -i <volume> and a project directory")
	}

	cfg, store, err := loadProjectConfig(projectDir, *reuse)
	if err != nil {
		return err
	}
	slides, _, err := loadSlides(store)
	if err != nil {
		return err
	}

	vol, err := loadReferenceVolume(*volPath)
	if err != nil {
		return err
	}

	eng := newEngine(cfg)
	matcher := volume.NewMatcher(slides, vol, eng, store)
	return matcher.MatchAll()
}

func cmdVoliter(args []string) error {
	fs := flag.NewFlagSet("voliter", flag.ExitOnError)
	reuse := fs.Bool("N", false, "enable reuse/skip mode")
	volPath := fs.String("i", "", "path to the reference volume (engine-defined format)")
	restart := fs.String("R", "", "restart range i_first:i_last (default: full schedule)")
	nAffine := fs.Int("na", 5, "number of affine iterations")
	nDeform := fs.Int("nd", 5, "number of deformable iterations")
	wVolume := fs.Float64("w", 4.0, "volume weight relative to each neighbor")
	fs.Parse(args)

	projectDir := fs.Arg(0)
	if projectDir == "" || *volPath == "" {
		return fmt.Errorf("voliter requires -i <volume> and a project directory")
	}

	cfg, store, err := loadProjectConfig(projectDir, *reuse)
	if err != nil {
		return err
	}
	slides, sorted, err := loadSlides(store)
	if err != nil {
		return err
	}

	vol, err := loadReferenceVolume(*volPath)
	if err != nil {
		return err
	}

	refCfg := refine.Config{NAffine: *nAffine, NDeform: *nDeform, WVolume: *wVolume, Seed: cfg.Refine.Seed}
	if *restart != "" {
		first, last, err := parseRestartRange(*restart)
		if err != nil {
			return err
		}
		refCfg.IFirst, refCfg.ILast = first, last
	}

	eng := newEngine(cfg)
	r, err := refine.NewRefiner(slides, sorted, vol, eng, store, refCfg)
	if err != nil {
		return err
	}
	return r.Run()
}

func loadProjectConfig(projectDir string, reuse bool) (*config.Config, *project.Store, error) {
	probe := project.New(projectDir, "png", reuse)
	cfg, err := config.LoadConfigFile(probe)
	if err != nil {
		return nil, nil, err
	}
	store := project.New(projectDir, cfg.Output.DefaultImageExt, reuse)
	return cfg, store, nil
}

func engineLoader(path string) (engine.Image, error) {
	return engine.LoadImage(path)
}

func parseRestartRange(spec string) (int, int, error) {
	var first, last int
	if _, err := fmt.Sscanf(spec, "%d:%d", &first, &last); err != nil {
		return 0, 0, fmt.Errorf("malformed restart range %q, expected i_first:i_last: %w", spec, err)
	}
	return first, last, nil
}

func copyFile(src, dst string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, b, 0644)
}

// loadReferenceVolume is a placeholder load path for the external 3D
// reference volume; the concrete format is engine-defined and out of scope,
// so this simply fails until a real engine binding supplies one.
func loadReferenceVolume(path string) (engine.Volume, error) {
	return nil, fmt.Errorf("loading reference volume %q: no reference-volume loader is wired in; provide one via a real engine binding", path)
}

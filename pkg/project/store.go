// Package project implements the durable, filesystem-backed layout the
// orchestrator reads and writes through: the manifest, per-neighbor-pair
// transforms and metrics, per-slide accumulated transforms, volume-match
// artifacts, and per-iteration refinement artifacts. A Store resolves a
// logical (intent, keys) tuple to a concrete path, creating parent
// directories lazily on resolution so callers never need to MkdirAll
// themselves.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"histostack/pkg/stackerr"
)

// Intent names one of the well-known file roles under a project root.
type Intent int

const (
	IntentManifest Intent = iota
	IntentConfigKey
	IntentNeighborAffine
	IntentNeighborMetric
	IntentAccumAffine
	IntentAccumReslice
	IntentVolumeMedianAffine
	IntentVolumeSlideAffine
	IntentVolumeSlide
	IntentIterAffine
	IntentIterWarp
	IntentIterMetric
)

// Store is a filesystem directory parameterized by a root path and a
// default image extension. It holds no in-memory state beyond those two
// values and the reuse flag; every resolution re-derives its path from root
// and ext.
type Store struct {
	root  string
	ext   string
	reuse bool
}

// New returns a Store rooted at root, using ext (without a leading dot) as
// the default image extension for intents that produce images. reuse
// enables CanSkip's skip behavior.
func New(root, ext string, reuse bool) *Store {
	return &Store{root: root, ext: strings.TrimPrefix(ext, "."), reuse: reuse}
}

func (s *Store) resolve(rel string) (string, error) {
	p := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", &stackerr.ProjectIOError{Path: p, Err: err}
	}
	return p, nil
}

// PathForGlobal resolves an intent that is not parameterized by a slide,
// such as the manifest or a config key. key is used only by IntentConfigKey.
func (s *Store) PathForGlobal(intent Intent, key string) (string, error) {
	switch intent {
	case IntentManifest:
		return s.resolve(filepath.Join("config", "manifest.txt"))
	case IntentConfigKey:
		return s.resolve(filepath.Join("config", "dict", key))
	case IntentVolumeMedianAffine:
		return s.resolve(filepath.Join("vol", "match", "affine_refvol_median.mat"))
	default:
		return "", fmt.Errorf("project: intent %v is not a global intent", intent)
	}
}

// PathForSlicePair resolves an intent keyed by an ordered (ref, mov) slide
// pair, such as a neighbor-pair affine or its metric report.
func (s *Store) PathForSlicePair(ref, mov string, intent Intent) (string, error) {
	switch intent {
	case IntentNeighborAffine:
		return s.resolve(filepath.Join("recon", "nbr", fmt.Sprintf("affine_ref_%s_mov_%s.mat", ref, mov)))
	case IntentNeighborMetric:
		return s.resolve(filepath.Join("recon", "nbr", fmt.Sprintf("affine_ref_%s_mov_%s_metric.txt", ref, mov)))
	default:
		return "", fmt.Errorf("project: intent %v is not a slice-pair intent", intent)
	}
}

// PathForSlice resolves an intent keyed by a single slide, optionally
// parameterized by an iteration index (iter < 0 means "no iteration",
// i.e. the accumulated-chain or volume-match artifacts).
func (s *Store) PathForSlice(sid string, intent Intent, iter int) (string, error) {
	switch intent {
	case IntentAccumAffine:
		return s.resolve(filepath.Join("recon", "accum", fmt.Sprintf("accum_affine_%s.mat", sid)))
	case IntentAccumReslice:
		return s.resolve(filepath.Join("recon", "accum", fmt.Sprintf("accum_affine_%s_reslice.%s", sid, s.ext)))
	case IntentVolumeSlideAffine:
		return s.resolve(filepath.Join("vol", "match", fmt.Sprintf("affine_refvol_mov_%s.mat", sid)))
	case IntentVolumeSlide:
		return s.resolve(filepath.Join("vol", "slides", fmt.Sprintf("vol_slide_%s.%s", sid, s.ext)))
	case IntentIterAffine:
		return s.resolve(filepath.Join(iterDir(iter), fmt.Sprintf("affine_refvol_mov_%s_iter%s.mat", sid, iterSuffix(iter))))
	case IntentIterWarp:
		return s.resolve(filepath.Join(iterDir(iter), fmt.Sprintf("warp_refvol_mov_%s_iter%s.%s", sid, iterSuffix(iter), s.ext)))
	case IntentIterMetric:
		return s.resolve(filepath.Join(iterDir(iter), fmt.Sprintf("metric_refvol_mov_%s_iter%s.txt", sid, iterSuffix(iter))))
	default:
		return "", fmt.Errorf("project: intent %v is not a per-slide intent", intent)
	}
}

// PathForIterNeighborReslice resolves the scratch path for a neighbor's raw
// image resliced into slide refSid's volume-slice reference frame during
// iteration iter. This intermediate artifact isn't part of the fixed
// directory layout's named intents; it lives alongside the rest of that
// iteration's outputs and is never read back across iterations.
func (s *Store) PathForIterNeighborReslice(refSid, neighborSid string, iter int) (string, error) {
	name := fmt.Sprintf("resliced_nbr_%s_for_%s_iter%s.%s", neighborSid, refSid, iterSuffix(iter), s.ext)
	return s.resolve(filepath.Join(iterDir(iter), name))
}

func iterSuffix(iter int) string {
	return fmt.Sprintf("%02d", iter)
}

func iterDir(iter int) string {
	return filepath.Join("vol", fmt.Sprintf("iter%02d", iter))
}

// SaveConfig writes value as the single textual content of the config key's
// file, with no additional framing.
func (s *Store) SaveConfig(key, value string) error {
	p, err := s.PathForGlobal(IntentConfigKey, key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, []byte(value), 0644); err != nil {
		return &stackerr.ProjectIOError{Path: p, Err: err}
	}
	return nil
}

// LoadConfig reads a config key's value, returning def if the key has
// never been saved.
func (s *Store) LoadConfig(key, def string) (string, error) {
	p, err := s.PathForGlobal(IntentConfigKey, key)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return def, nil
	}
	if err != nil {
		return "", &stackerr.ProjectIOError{Path: p, Err: err}
	}
	return string(b), nil
}

// SaveConfigInt and LoadConfigInt are convenience wrappers around
// SaveConfig/LoadConfig for integer-valued keys, such as the last
// completed iteration index.
func (s *Store) SaveConfigInt(key string, value int) error {
	return s.SaveConfig(key, strconv.Itoa(value))
}

func (s *Store) LoadConfigInt(key string, def int) (int, error) {
	raw, err := s.LoadConfig(key, strconv.Itoa(def))
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("project: config key %s is not an integer: %w", key, err)
	}
	return v, nil
}

// CanSkip reports whether reuse mode is enabled and path already exists.
func (s *Store) CanSkip(path string) bool {
	if !s.reuse {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Root returns the store's project root.
func (s *Store) Root() string { return s.root }

// Ext returns the store's default image extension.
func (s *Store) Ext() string { return s.ext }

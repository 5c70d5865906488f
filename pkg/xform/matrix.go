// Package xform implements the 3x3 homogeneous affine transforms the
// orchestrator passes between stages: the accumulated rigid transform from
// the reconstruction root, the per-slide volume-initial affine, the
// median-affine consensus, and each iteration's affine refinement.
package xform

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Matrix3 is a 3x3 homogeneous affine matrix in physical coordinates.
type Matrix3 struct {
	m *mat.Dense
}

// Identity returns the 3x3 identity transform.
func Identity() *Matrix3 {
	d := mat.NewDense(3, 3, nil)
	d.Set(0, 0, 1)
	d.Set(1, 1, 1)
	d.Set(2, 2, 1)
	return &Matrix3{m: d}
}

// NewMatrix3 builds a Matrix3 from nine entries in row-major order.
func NewMatrix3(entries [9]float64) *Matrix3 {
	d := mat.NewDense(3, 3, entries[:])
	return &Matrix3{m: d}
}

// At returns the entry at (row, col), both in [0, 3).
func (t *Matrix3) At(row, col int) float64 {
	return t.m.At(row, col)
}

// Compose returns t * other, matching the accumulation order the root chain
// composer uses: M_accum <- M_accum * M_step.
func (t *Matrix3) Compose(other *Matrix3) *Matrix3 {
	var out mat.Dense
	out.Mul(t.m, other.m)
	return &Matrix3{m: &out}
}

// L1Distance returns the entry-wise sum of absolute differences between t
// and other, used by the median-affine medoid computation.
func (t *Matrix3) L1Distance(other *Matrix3) float64 {
	var sum float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			sum += abs(t.m.At(r, c) - other.m.At(r, c))
		}
	}
	return sum
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// WriteAffine writes a Matrix3 to path in a plain whitespace-delimited
// row-major text format, mirroring the single-textual-representation
// convention the project store uses for config values.
func WriteAffine(path string, t *Matrix3) error {
	var b strings.Builder
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if c > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strconv.FormatFloat(t.m.At(r, c), 'g', -1, 64))
		}
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

// ReadAffine reads a Matrix3 previously written by WriteAffine.
func ReadAffine(path string) (*Matrix3, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries [9]float64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024), 1024*1024)
	scanner.Split(bufio.ScanWords)
	for i := 0; i < 9; i++ {
		if !scanner.Scan() {
			return nil, fmt.Errorf("truncated affine matrix file %s", path)
		}
		v, err := strconv.ParseFloat(scanner.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed affine matrix file %s: %w", path, err)
		}
		entries[i] = v
	}
	return NewMatrix3(entries), nil
}

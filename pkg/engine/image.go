package engine

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"math"
	"os"
)

// GrayImage is a minimal concrete Image: a dense grid of float64 samples in
// [0, 1], row-major. It is the only image representation this module needs
// to hand to the external engine by cached name; the engine's own image I/O
// formats are out of scope.
type GrayImage struct {
	Width, Height int
	Data          []float64
}

// NewGrayImage allocates a zeroed image of the given dimensions.
func NewGrayImage(width, height int) *GrayImage {
	return &GrayImage{Width: width, Height: height, Data: make([]float64, width*height)}
}

func (g *GrayImage) Bounds() (int, int) { return g.Width, g.Height }

func (g *GrayImage) At(x, y int) float64 {
	if x < 0 || x >= g.Width || y < 0 || y >= g.Height {
		return 0
	}
	return g.Data[y*g.Width+x]
}

func (g *GrayImage) Set(x, y int, v float64) {
	if x < 0 || x >= g.Width || y < 0 || y >= g.Height {
		return
	}
	g.Data[y*g.Width+x] = v
}

// ByteSize estimates the image's footprint for the cache's byte cap: one
// float64 per pixel.
func (g *GrayImage) ByteSize() int64 {
	return int64(len(g.Data)) * 8
}

// LoadImage reads a slide image from disk, converting it to grayscale
// [0, 1] samples. PNG and JPEG are supported via the standard library's
// registered image decoders.
func LoadImage(path string) (*GrayImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding image %s: %w", path, err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := NewGrayImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g2, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			lum := (0.299*float64(r) + 0.587*float64(g2) + 0.114*float64(b)) / 65535.0
			out.Set(x, y, lum)
		}
	}
	return out, nil
}

// SaveImage writes img to path as a JPEG at quality 90, whatever the
// path's extension.
func SaveImage(path string, img *GrayImage) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gray := image.NewGray(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			v := img.At(x, y)
			if v < 0 {
				v = 0
			}
			if v > 1 {
				v = 1
			}
			gray.SetGray(x, y, color.Gray{Y: uint8(v * 255)})
		}
	}
	return jpeg.Encode(f, gray, &jpeg.Options{Quality: 90})
}

// SimpleVolume is a concrete Volume: a dense, row-major (x fastest, then y,
// then z) grid of float64 samples with uniform spacing and an arbitrary 3x3
// direction matrix.
type SimpleVolume struct {
	Width, Height, Depth int
	Sx, Sy, Sz           float64
	Ox, Oy, Oz           float64
	Dir                  [3][3]float64
	Data                 []float64
}

// NewIdentitySimpleVolume builds a volume with identity direction and the
// given dimensions/spacing/origin, useful in tests.
func NewIdentitySimpleVolume(width, height, depth int, sx, sy, sz, oz float64) *SimpleVolume {
	return &SimpleVolume{
		Width: width, Height: height, Depth: depth,
		Sx: sx, Sy: sy, Sz: sz,
		Oz:  oz,
		Dir: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Data: make([]float64, width*height*depth),
	}
}

func (v *SimpleVolume) Dims() (int, int, int)                 { return v.Width, v.Height, v.Depth }
func (v *SimpleVolume) Spacing() (float64, float64, float64)  { return v.Sx, v.Sy, v.Sz }
func (v *SimpleVolume) Origin() (float64, float64, float64)   { return v.Ox, v.Oy, v.Oz }
func (v *SimpleVolume) Direction() [3][3]float64              { return v.Dir }

func (v *SimpleVolume) at(x, y, z int) float64 {
	if x < 0 || x >= v.Width || y < 0 || y >= v.Height || z < 0 || z >= v.Depth {
		return 0
	}
	return v.Data[z*v.Width*v.Height+y*v.Width+x]
}

// ExtractSlice samples a single in-plane slice at physical z-position z
// using linear interpolation between the two nearest voxel planes (a zero
// deformation field: no in-plane resampling is needed since origin, spacing,
// and direction are shared with the volume).
func (v *SimpleVolume) ExtractSlice(z float64) Image {
	out := NewGrayImage(v.Width, v.Height)
	if v.Sz == 0 {
		return out
	}

	voxelZ := (z - v.Oz) / v.Sz
	z0 := int(math.Floor(voxelZ))
	frac := voxelZ - float64(z0)

	for y := 0; y < v.Height; y++ {
		for x := 0; x < v.Width; x++ {
			lo := v.at(x, y, z0)
			hi := v.at(x, y, z0+1)
			out.Set(x, y, lo*(1-frac)+hi*frac)
		}
	}
	return out
}

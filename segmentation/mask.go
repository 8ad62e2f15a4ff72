// Package segmentation - Binary class masks and their decoding from model outputs.
package segmentation

import (
	"image"

	"golang.org/x/image/draw"
)

const (
	// Off is the intensity of a pixel outside the target class.
	Off uint8 = 0
	// On is the intensity of a pixel inside the target class.
	On uint8 = 255
)

// Mask is a single channel intensity grid, row-major.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewMask allocates a mask with every pixel Off.
func NewMask(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height),
	}
}

// Uniform allocates a mask with every pixel set to v.
func Uniform(width, height int, v uint8) *Mask {
	m := NewMask(width, height)
	for i := range m.Pix {
		m.Pix[i] = v
	}
	return m
}

// At returns the intensity at (x, y).
func (m *Mask) At(x, y int) uint8 {
	return m.Pix[y*m.Width+x]
}

// Set writes the intensity at (x, y).
func (m *Mask) Set(x, y int, v uint8) {
	m.Pix[y*m.Width+x] = v
}

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	pix := make([]uint8, len(m.Pix))
	copy(pix, m.Pix)
	return &Mask{Width: m.Width, Height: m.Height, Pix: pix}
}

// Equal reports whether two masks have the same size and pixels.
func (m *Mask) Equal(other *Mask) bool {
	if other == nil || m.Width != other.Width || m.Height != other.Height || len(m.Pix) != len(other.Pix) {
		return false
	}
	for i := range m.Pix {
		if m.Pix[i] != other.Pix[i] {
			return false
		}
	}
	return true
}

// Coverage returns the fraction of pixels at or above half intensity.
func (m *Mask) Coverage() float64 {
	if len(m.Pix) == 0 {
		return 0
	}
	n := 0
	for _, v := range m.Pix {
		if v >= 128 {
			n++
		}
	}
	return float64(n) / float64(len(m.Pix))
}

// Gray copies the mask into a grayscale image.
func (m *Mask) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+m.Width], m.Pix[y*m.Width:(y+1)*m.Width])
	}
	return img
}

// Scale resizes the mask with nearest neighbour sampling, keeping hard edges.
//
// Arguments:
//   - width: The target width.
//   - height: The target height.
//
// Returns:
//   - *Mask: A new mask, never sharing pixels with the receiver.
func (m *Mask) Scale(width, height int) *Mask {
	if width == m.Width && height == m.Height {
		return m.Clone()
	}

	dst := image.NewGray(image.Rect(0, 0, width, height))
	src := m.Gray()
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := NewMask(width, height)
	for y := 0; y < height; y++ {
		copy(out.Pix[y*width:(y+1)*width], dst.Pix[y*dst.Stride:y*dst.Stride+width])
	}
	return out
}

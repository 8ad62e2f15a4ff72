// Package images - Camera frames and pixel format conversion.
package images

import (
	"image"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// PixelFormat identifies the byte layout of a frame buffer.
type PixelFormat int

const (
	// PixelFormatRGBA is 4 bytes per pixel, R G B A.
	PixelFormatRGBA PixelFormat = iota
	// PixelFormatRGB is 3 bytes per pixel, R G B.
	PixelFormatRGB
	// PixelFormatBGRA is 4 bytes per pixel, B G R A.
	PixelFormatBGRA
	// PixelFormatBGR is 3 bytes per pixel, B G R. This is the native OpenCV layout.
	PixelFormatBGR
	// PixelFormatGray is 1 byte per pixel.
	PixelFormatGray
)

// BytesPerPixel returns the number of bytes a single pixel occupies.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatRGBA, PixelFormatBGRA:
		return 4
	case PixelFormatRGB, PixelFormatBGR:
		return 3
	case PixelFormatGray:
		return 1
	default:
		return 0
	}
}

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatRGBA:
		return "rgba"
	case PixelFormatRGB:
		return "rgb"
	case PixelFormatBGRA:
		return "bgra"
	case PixelFormatBGR:
		return "bgr"
	case PixelFormatGray:
		return "gray"
	default:
		return "unknown"
	}
}

// Frame is a single camera frame as delivered by a frame source.
type Frame struct {
	// Pix holds the pixel rows top to bottom.
	Pix []byte
	// Width and Height are the frame dimensions in pixels.
	Width  int
	Height int
	// Stride is the distance in bytes between rows. Zero means tightly packed.
	Stride int
	// Format describes the byte layout of Pix.
	Format PixelFormat
	// Timestamp increases monotonically per source. Zero marks an invalid frame.
	Timestamp int64
}

// RowStride returns the effective stride of the frame.
func (f Frame) RowStride() int {
	if f.Stride > 0 {
		return f.Stride
	}
	return f.Width * f.Format.BytesPerPixel()
}

// Validate checks that the buffer can hold the declared dimensions.
//
// Returns:
//   - error: An error describing the first problem found.
func (f Frame) Validate() error {
	if len(f.Pix) == 0 {
		return errors.New("empty pixel buffer")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return errors.Errorf("non-positive frame dimensions %dx%d", f.Width, f.Height)
	}
	bpp := f.Format.BytesPerPixel()
	if bpp == 0 {
		return errors.Errorf("unsupported pixel format %d", f.Format)
	}
	if f.RowStride() < f.Width*bpp {
		return errors.Errorf("stride %d too small for %d pixels of %s", f.RowStride(), f.Width, f.Format)
	}
	need := f.RowStride()*(f.Height-1) + f.Width*bpp
	if len(f.Pix) < need {
		return errors.Errorf("pixel buffer holds %d bytes, %dx%d %s needs %d", len(f.Pix), f.Width, f.Height, f.Format, need)
	}
	return nil
}

// RGBA converts the frame into a tightly packed RGBA image. RGBA frames with a
// packed stride are copied so the result never aliases the source buffer.
//
// Returns:
//   - *image.RGBA: The converted image.
//   - error: An error if the frame is malformed.
func (f Frame) RGBA() (*image.RGBA, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	stride := f.RowStride()
	bpp := f.Format.BytesPerPixel()

	for y := 0; y < f.Height; y++ {
		src := f.Pix[y*stride : y*stride+f.Width*bpp]
		row := dst.Pix[y*dst.Stride : y*dst.Stride+f.Width*4]

		switch f.Format {
		case PixelFormatRGBA:
			copy(row, src)
		case PixelFormatBGRA:
			for x := 0; x < f.Width; x++ {
				row[x*4+0] = src[x*4+2]
				row[x*4+1] = src[x*4+1]
				row[x*4+2] = src[x*4+0]
				row[x*4+3] = src[x*4+3]
			}
		case PixelFormatRGB:
			for x := 0; x < f.Width; x++ {
				row[x*4+0] = src[x*3+0]
				row[x*4+1] = src[x*3+1]
				row[x*4+2] = src[x*3+2]
				row[x*4+3] = 0xff
			}
		case PixelFormatBGR:
			for x := 0; x < f.Width; x++ {
				row[x*4+0] = src[x*3+2]
				row[x*4+1] = src[x*3+1]
				row[x*4+2] = src[x*3+0]
				row[x*4+3] = 0xff
			}
		case PixelFormatGray:
			for x := 0; x < f.Width; x++ {
				v := src[x]
				row[x*4+0] = v
				row[x*4+1] = v
				row[x*4+2] = v
				row[x*4+3] = 0xff
			}
		}
	}

	return dst, nil
}

// FromImage copies any image into an RGBA frame.
//
// Arguments:
//   - img: The source image.
//   - timestamp: The frame timestamp; must be non-zero for the frame to be processed.
//
// Returns:
//   - Frame: A tightly packed RGBA frame.
func FromImage(img image.Image, timestamp int64) Frame {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	return Frame{
		Pix:       rgba.Pix,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Stride:    rgba.Stride,
		Format:    PixelFormatRGBA,
		Timestamp: timestamp,
	}
}

// Uniform builds a frame where every pixel has the same RGB value.
func Uniform(width, height int, r, g, b uint8, timestamp int64) Frame {
	pix := make([]byte, width*height*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i+0] = r
		pix[i+1] = g
		pix[i+2] = b
		pix[i+3] = 0xff
	}
	return Frame{
		Pix:       pix,
		Width:     width,
		Height:    height,
		Format:    PixelFormatRGBA,
		Timestamp: timestamp,
	}
}

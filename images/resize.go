package images

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// Resize scales an RGBA image to width x height with bilinear interpolation.
// When the size already matches, a copy is returned.
//
// Arguments:
//   - img: The source image.
//   - width: The target width.
//   - height: The target height.
//
// Returns:
//   - *image.RGBA: The resized image, never aliasing img.
//   - error: An error if the target size is not positive.
func Resize(img *image.RGBA, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid resize target %dx%d", width, height)
	}

	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		out := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Copy(out, image.Point{}, img, b, draw.Src, nil)
		return out, nil
	}

	resized := resize.Resize(uint(width), uint(height), img, resize.Bilinear)
	if rgba, ok := resized.(*image.RGBA); ok {
		return rgba, nil
	}

	// nfnt returns RGBA for RGBA input; other image types are normalised here.
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(out, out.Bounds(), resized, resized.Bounds().Min, draw.Src)
	return out, nil
}

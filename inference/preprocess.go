package inference

import (
	"image"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-wallseg/images"
	"github.com/nvr-ai/go-wallseg/tensors"
)

// Encoder converts camera frames into model input tensors.
type Encoder struct {
	// Width and Height are the model input dimensions.
	Width  int
	Height int
	// Channels is 3 for RGB input or 1 for luminance input.
	Channels int
	// Layout is the input tensor layout.
	Layout tensors.Layout
	// Normalize scales pixel values into [0,1].
	Normalize bool
}

// EncodeFrame converts a frame of any supported pixel format into an input tensor.
//
// Arguments:
//   - frame: The camera frame.
//
// Returns:
//   - *tensors.Tensor: A newly allocated tensor owned by the caller.
//   - error: ErrEncoding if the frame is malformed.
func (e Encoder) EncodeFrame(frame images.Frame) (*tensors.Tensor, error) {
	rgba, err := frame.RGBA()
	if err != nil {
		return nil, errors.Wrap(ErrEncoding, err.Error())
	}
	return Encode(rgba.Pix, frame.Width, frame.Height, e.Width, e.Height, e.Channels, e.Layout, e.Normalize)
}

// Encode converts a tightly packed RGBA pixel buffer into a tensor of shape
// (1,H,W,C) or (1,C,H,W).
//
// The buffer is resized with bilinear interpolation when the source and target
// sizes differ. Three channels map to RGB; one channel holds (r+g+b)/3.
//
// Arguments:
//   - pix: The RGBA pixel buffer, 4 bytes per pixel, rows top to bottom.
//   - srcW, srcH: The source dimensions.
//   - dstW, dstH: The target tensor dimensions.
//   - channels: 1 or 3.
//   - layout: ChannelsLast or ChannelsFirst.
//   - normalize: Scale values into [0,1] instead of leaving them in [0,255].
//
// Returns:
//   - *tensors.Tensor: A newly allocated tensor owned by the caller.
//   - error: ErrEncoding if the input is malformed.
func Encode(
	pix []byte,
	srcW, srcH, dstW, dstH, channels int,
	layout tensors.Layout,
	normalize bool,
) (*tensors.Tensor, error) {
	if err := validateInput(pix, srcW, srcH, dstW, dstH, channels, layout); err != nil {
		return nil, errors.Wrap(err, "input validation failed")
	}

	src := &image.RGBA{
		Pix:    pix[:srcW*srcH*4],
		Stride: srcW * 4,
		Rect:   image.Rect(0, 0, srcW, srcH),
	}

	img := src
	if srcW != dstW || srcH != dstH {
		resized, err := images.Resize(src, dstW, dstH)
		if err != nil {
			return nil, errors.Wrap(ErrEncoding, err.Error())
		}
		img = resized
	}

	div := float32(1)
	if normalize {
		div = 255
	}

	data := make([]float32, dstW*dstH*channels)
	plane := dstW * dstH

	for y := 0; y < dstH; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+dstW*4]
		for x := 0; x < dstW; x++ {
			r := float32(row[x*4+0])
			g := float32(row[x*4+1])
			b := float32(row[x*4+2])

			if channels == 1 {
				data[y*dstW+x] = (r + g + b) / 3 / div
				continue
			}

			if layout == tensors.ChannelsFirst {
				i := y*dstW + x
				data[i] = r / div
				data[plane+i] = g / div
				data[2*plane+i] = b / div
			} else {
				i := (y*dstW + x) * 3
				data[i+0] = r / div
				data[i+1] = g / div
				data[i+2] = b / div
			}
		}
	}

	return tensors.New(tensors.ImageShape(dstH, dstW, channels, layout), layout, data)
}

func validateInput(pix []byte, srcW, srcH, dstW, dstH, channels int, layout tensors.Layout) error {
	if len(pix) == 0 {
		return errors.Wrap(ErrEncoding, "empty pixel buffer")
	}
	if srcW <= 0 || srcH <= 0 {
		return errors.Wrapf(ErrEncoding, "non-positive source dimensions %dx%d", srcW, srcH)
	}
	if dstW <= 0 || dstH <= 0 {
		return errors.Wrapf(ErrEncoding, "non-positive target dimensions %dx%d", dstW, dstH)
	}
	if len(pix) < srcW*srcH*4 {
		return errors.Wrapf(ErrEncoding, "pixel buffer holds %d bytes, %dx%d RGBA needs %d", len(pix), srcW, srcH, srcW*srcH*4)
	}
	if channels != 1 && channels != 3 {
		return errors.Wrapf(ErrEncoding, "unsupported channel count %d", channels)
	}
	if !layout.Concrete() {
		return errors.Wrapf(ErrEncoding, "unresolved layout %s", layout)
	}
	return nil
}

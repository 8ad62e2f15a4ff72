package segmentation

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-wallseg/tensors"
)

// Mode selects how class membership is decided per pixel.
type Mode int

const (
	// ModeThreshold sets a pixel when the target class activation is at or above the threshold.
	ModeThreshold Mode = iota
	// ModeArgmax sets a pixel when the target class has the highest activation.
	ModeArgmax
)

// ParseMode parses "threshold" or "argmax".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "threshold":
		return ModeThreshold, nil
	case "argmax":
		return ModeArgmax, nil
	default:
		return ModeThreshold, errors.Errorf("unknown decode mode %q", s)
	}
}

func (m Mode) String() string {
	if m == ModeArgmax {
		return "argmax"
	}
	return "threshold"
}

// MismatchError reports an output tensor that cannot be decoded, together with
// the factorization diagnosis of its element count.
type MismatchError struct {
	Reason    string
	Diagnosis tensors.Diagnosis
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", tensors.ErrShapeMismatch, e.Reason, e.Diagnosis)
}

// Is reports whether target is tensors.ErrShapeMismatch, or
// tensors.ErrFormatMismatch when the diagnosis found a non-divisible count.
func (e *MismatchError) Is(target error) bool {
	if target == tensors.ErrShapeMismatch {
		return true
	}
	return target == tensors.ErrFormatMismatch && e.Diagnosis.FormatMismatch
}

// Decoder turns output tensors into binary masks.
type Decoder struct {
	// Resolver produces diagnoses for undecodable outputs.
	Resolver *tensors.Resolver
	// ClassCount is the configured number of classes, used for diagnosis.
	ClassCount int
	// Mode selects thresholding or argmax.
	Mode Mode
}

// NewDecoder creates a threshold decoder.
func NewDecoder(resolver *tensors.Resolver, classCount int) *Decoder {
	if resolver == nil {
		resolver = tensors.NewResolver(1, 1)
	}
	return &Decoder{Resolver: resolver, ClassCount: classCount}
}

// Decode walks the first batch entry of t and marks every pixel of the target class.
//
// Multi-channel outputs are read at index y*W*C + x*C + c for channels-last and
// c*H*W + y*W + x for channels-first. A single channel output is treated as a
// class id map whose rounded value is compared with targetClassID.
//
// Arguments:
//   - t: The output tensor. The caller keeps ownership.
//   - shape: The resolved output shape.
//   - layout: The layout shape is expressed in.
//   - targetClassID: The class to extract.
//   - threshold: The activation at or above which a pixel is On.
//
// Returns:
//   - *Mask: A mask of the spatial size of shape.
//   - error: A *MismatchError matching tensors.ErrShapeMismatch when the shape is unusable.
func (d *Decoder) Decode(
	t *tensors.Tensor,
	shape tensors.Shape,
	layout tensors.Layout,
	targetClassID int,
	threshold float32,
) (*Mask, error) {
	if t == nil || t.Released() {
		return nil, errors.Wrap(tensors.ErrInvalidShape, "output tensor is not available")
	}
	data := t.Data()

	if len(shape) < 3 {
		return nil, d.mismatch(len(data), targetClassID, "shape %s has fewer than 3 dimensions", shape)
	}
	if shape.Size() != len(data) {
		return nil, d.mismatch(len(data), targetClassID, "shape %s holds %d elements, tensor has %d", shape, shape.Size(), len(data))
	}

	height, width, channels, err := shape.Spatial(layout)
	if err != nil {
		return nil, d.mismatch(len(data), targetClassID, "%v", err)
	}

	if targetClassID < 0 {
		return nil, d.mismatch(len(data), targetClassID, "target class %d is negative", targetClassID)
	}

	mask := NewMask(width, height)

	if channels == 1 {
		for i := range mask.Pix {
			if int(math32.Round(data[i])) == targetClassID {
				mask.Pix[i] = On
			} else {
				mask.Pix[i] = Off
			}
		}
		return mask, nil
	}

	if targetClassID >= channels {
		return nil, d.mismatch(len(data), targetClassID, "target class %d exceeds %d channels of %s", targetClassID, channels, shape)
	}

	if d.Mode == ModeArgmax {
		classes, err := tensors.Argmax(t, shape, layout)
		if err != nil {
			return nil, d.mismatch(len(data), targetClassID, "%v", err)
		}
		for i, c := range classes.Classes {
			if c == targetClassID {
				mask.Pix[i] = On
			} else {
				mask.Pix[i] = Off
			}
		}
		return mask, nil
	}

	plane := height * width
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var idx int
			if layout == tensors.ChannelsFirst {
				idx = targetClassID*plane + y*width + x
			} else {
				idx = y*width*channels + x*channels + targetClassID
			}
			if data[idx] >= threshold {
				mask.Pix[y*width+x] = On
			} else {
				mask.Pix[y*width+x] = Off
			}
		}
	}

	return mask, nil
}

func (d *Decoder) mismatch(elements, targetClassID int, format string, args ...interface{}) error {
	classes := d.ClassCount
	if classes <= 0 {
		classes = targetClassID + 1
	}
	return &MismatchError{
		Reason:    fmt.Sprintf(format, args...),
		Diagnosis: d.Resolver.DiagnoseShapeMismatch(elements, classes),
	}
}

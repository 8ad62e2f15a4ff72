package tensors

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ClassMap holds the winning class index of every pixel, row-major.
type ClassMap struct {
	Width   int
	Height  int
	Classes []int
}

// At returns the class at (x, y).
func (m *ClassMap) At(x, y int) int {
	return m.Classes[y*m.Width+x]
}

// Argmax reduces the class axis of the first batch entry to the index of the
// highest activation.
//
// Arguments:
//   - t: The output tensor.
//   - shape: The resolved shape of t.
//   - layout: The layout shape is expressed in.
//
// Returns:
//   - *ClassMap: The per-pixel winning class.
//   - error: ErrShapeMismatch if shape and tensor disagree.
func Argmax(t *Tensor, shape Shape, layout Layout) (*ClassMap, error) {
	height, width, channels, err := shape.Spatial(layout)
	if err != nil {
		return nil, errors.Wrap(ErrShapeMismatch, err.Error())
	}

	data := t.Data()
	if shape.Size() != len(data) {
		return nil, errors.Wrapf(
			ErrShapeMismatch,
			"shape %s holds %d elements, tensor has %d",
			shape, shape.Size(), len(data),
		)
	}

	pixels := height * width
	if channels == 1 {
		classes := make([]int, pixels)
		for i, v := range data[:pixels] {
			classes[i] = int(math32.Round(v))
		}
		return &ClassMap{Width: width, Height: height, Classes: classes}, nil
	}

	// Only the first batch entry is decoded.
	backing := make([]float32, pixels*channels)
	copy(backing, data[:pixels*channels])

	var dense *tensor.Dense
	axis := 2
	if layout == ChannelsFirst {
		dense = tensor.New(tensor.WithShape(channels, height, width), tensor.WithBacking(backing))
		axis = 0
	} else {
		dense = tensor.New(tensor.WithShape(height, width, channels), tensor.WithBacking(backing))
	}

	reduced, err := dense.Argmax(axis)
	if err != nil {
		return nil, errors.Wrap(err, "argmax")
	}

	var classes []int
	switch v := reduced.Data().(type) {
	case []int:
		classes = v
	case int:
		classes = []int{v}
	default:
		return nil, errors.Errorf("argmax returned unexpected %T", v)
	}
	if len(classes) != pixels {
		return nil, errors.Wrapf(ErrShapeMismatch, "argmax produced %d entries for %d pixels", len(classes), pixels)
	}

	return &ClassMap{Width: width, Height: height, Classes: classes}, nil
}

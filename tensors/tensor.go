package tensors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Shape is an ordered list of tensor dimensions.
type Shape []int

// Size returns the product of all dimensions, or 0 for an empty shape.
func (s Shape) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Valid reports whether the shape is non-empty and every dimension is positive.
func (s Shape) Valid() bool {
	if len(s) == 0 {
		return false
	}
	for _, d := range s {
		if d <= 0 {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Equal reports whether two shapes have identical dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Spatial extracts the height, width and channel count of an image shape.
//
// Four dimensional shapes are read as (1,H,W,C) or (1,C,H,W) depending on the
// layout. Three dimensional shapes with a leading 1 are a single channel class
// map (1,H,W); other three dimensional shapes are read as (H,W,C) or (C,H,W).
//
// Arguments:
//   - layout: The layout the shape is expressed in.
//
// Returns:
//   - height, width, channels: The spatial dimensions.
//   - error: ErrInvalidShape when the shape cannot be interpreted.
func (s Shape) Spatial(layout Layout) (height, width, channels int, err error) {
	if !s.Valid() {
		return 0, 0, 0, errors.Wrapf(ErrInvalidShape, "shape %s", s)
	}

	switch len(s) {
	case 4:
		if layout == ChannelsFirst {
			return s[2], s[3], s[1], nil
		}
		return s[1], s[2], s[3], nil
	case 3:
		if s[0] == 1 {
			return s[1], s[2], 1, nil
		}
		if layout == ChannelsFirst {
			return s[1], s[2], s[0], nil
		}
		return s[0], s[1], s[2], nil
	default:
		return 0, 0, 0, errors.Wrapf(ErrInvalidShape, "shape %s has %d dimensions, need 3 or 4", s, len(s))
	}
}

// ImageShape builds a batch-of-one image shape for the given layout.
func ImageShape(height, width, channels int, layout Layout) Shape {
	if layout == ChannelsFirst {
		return Shape{1, channels, height, width}
	}
	return Shape{1, height, width, channels}
}

// Info describes a named tensor declared by a model. Dynamic dimensions are
// reported as -1.
type Info struct {
	Name string
	Dims []int64
}

// Tensor is a dense float32 buffer with an explicit shape and layout.
//
// A tensor has exactly one owner at a time. The owner calls Release once the
// data has been consumed; releasing runs the optional release hook that frees
// any native memory backing the buffer.
type Tensor struct {
	shape    Shape
	layout   Layout
	data     []float32
	release  func()
	released bool
}

// New creates a tensor over data.
//
// Arguments:
//   - shape: The tensor dimensions; every dimension must be positive.
//   - layout: The dimension ordering of the tensor.
//   - data: The backing buffer; its length must equal the product of shape.
//
// Returns:
//   - *Tensor: The tensor.
//   - error: ErrInvalidShape if the shape and buffer disagree.
func New(shape Shape, layout Layout, data []float32) (*Tensor, error) {
	return NewWithRelease(shape, layout, data, nil)
}

// NewWithRelease creates a tensor whose Release also calls release.
func NewWithRelease(shape Shape, layout Layout, data []float32, release func()) (*Tensor, error) {
	if !shape.Valid() {
		return nil, errors.Wrapf(ErrInvalidShape, "shape %s", shape)
	}
	if shape.Size() != len(data) {
		return nil, errors.Wrapf(
			ErrInvalidShape,
			"shape %s holds %d elements, buffer has %d",
			shape, shape.Size(), len(data),
		)
	}
	return &Tensor{
		shape:   shape.Clone(),
		layout:  layout,
		data:    data,
		release: release,
	}, nil
}

// Zeros allocates a zero filled tensor.
func Zeros(shape Shape, layout Layout) (*Tensor, error) {
	if !shape.Valid() {
		return nil, errors.Wrapf(ErrInvalidShape, "shape %s", shape)
	}
	return New(shape, layout, make([]float32, shape.Size()))
}

// Shape returns a copy of the tensor dimensions.
func (t *Tensor) Shape() Shape {
	return t.shape.Clone()
}

// Layout returns the tensor layout.
func (t *Tensor) Layout() Layout {
	return t.layout
}

// Data returns the backing buffer, or nil once the tensor has been released.
func (t *Tensor) Data() []float32 {
	if t.released {
		return nil
	}
	return t.data
}

// Len returns the number of elements still held by the tensor.
func (t *Tensor) Len() int {
	return len(t.Data())
}

// Released reports whether Release has been called.
func (t *Tensor) Released() bool {
	return t.released
}

// Release disposes the tensor. Calling it more than once is a no-op.
func (t *Tensor) Release() {
	if t == nil || t.released {
		return
	}
	t.released = true
	t.data = nil
	if t.release != nil {
		t.release()
		t.release = nil
	}
}

// ReleaseAll releases every non-nil tensor.
func ReleaseAll(ts ...*Tensor) {
	for _, t := range ts {
		t.Release()
	}
}

// Package models - Model input/output geometry and its resolution from runtime metadata.
package models

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-wallseg/tensors"
)

// IOSpec describes how the pipeline talks to a loaded segmentation model.
type IOSpec struct {
	// InputName is the model input bound to the encoded frame.
	InputName string `json:"input_name" yaml:"input_name"`
	// OutputName is the model output holding the class activations.
	OutputName string `json:"output_name" yaml:"output_name"`
	// InputWidth and InputHeight are the tensor dimensions frames are resized to.
	InputWidth  int `json:"input_width"  yaml:"input_width"`
	InputHeight int `json:"input_height" yaml:"input_height"`
	// InputChannels is 3 for RGB or 1 for luminance.
	InputChannels int `json:"input_channels" yaml:"input_channels"`
	// ClassCount is the number of classes the model emits per pixel.
	ClassCount int `json:"class_count" yaml:"class_count"`
	// Layout is the input tensor layout.
	Layout tensors.Layout `json:"layout" yaml:"layout"`
	// OutputLayout overrides the layout used to decode outputs. LayoutAuto reuses Layout.
	OutputLayout tensors.Layout `json:"output_layout" yaml:"output_layout"`
	// OutputWidth and OutputHeight force the decoded spatial size of flat
	// outputs. Zero trusts the shape the runtime reports.
	OutputWidth  int `json:"output_width"  yaml:"output_width"`
	OutputHeight int `json:"output_height" yaml:"output_height"`
}

// Validate checks that the spec can drive the pipeline.
func (s IOSpec) Validate() error {
	if s.InputName == "" {
		return errors.New("input name is required")
	}
	if s.OutputName == "" {
		return errors.New("output name is required")
	}
	if s.InputWidth <= 0 || s.InputHeight <= 0 {
		return errors.Errorf("input size must be positive, got %dx%d", s.InputWidth, s.InputHeight)
	}
	if s.InputChannels != 1 && s.InputChannels != 3 {
		return errors.Errorf("input channels must be 1 or 3, got %d", s.InputChannels)
	}
	if s.ClassCount <= 0 {
		return errors.Errorf("class count must be positive, got %d", s.ClassCount)
	}
	if !s.Layout.Concrete() {
		return errors.Errorf("input layout must be nhwc or nchw, got %s", s.Layout)
	}
	if (s.OutputWidth > 0) != (s.OutputHeight > 0) {
		return errors.Errorf("output size must set both dimensions, got %dx%d", s.OutputWidth, s.OutputHeight)
	}
	return nil
}

// InputShape returns the shape of the encoded input tensor.
func (s IOSpec) InputShape() tensors.Shape {
	return tensors.ImageShape(s.InputHeight, s.InputWidth, s.InputChannels, s.Layout)
}

// DecodeLayout returns the layout outputs are decoded with.
func (s IOSpec) DecodeLayout() tensors.Layout {
	if s.OutputLayout.Concrete() {
		return s.OutputLayout
	}
	return s.Layout
}

// Resolver returns a shape resolver ranking candidates against the input aspect ratio.
func (s IOSpec) Resolver() *tensors.Resolver {
	return tensors.NewResolver(s.InputWidth, s.InputHeight)
}

// OutputShape returns the forced output shape, if any.
func (s IOSpec) OutputShape() (tensors.Shape, bool) {
	if s.OutputWidth <= 0 || s.OutputHeight <= 0 {
		return nil, false
	}
	return tensors.ImageShape(s.OutputHeight, s.OutputWidth, s.ClassCount, s.DecodeLayout()), true
}

// WithCandidate applies a diagnosed shape candidate as the output geometry.
//
// Arguments:
//   - c: The candidate, usually the primary suggestion of a diagnosis.
//
// Returns:
//   - IOSpec: A copy of the spec decoding outputs with the candidate's size, class count and layout.
func (s IOSpec) WithCandidate(c tensors.ShapeCandidate) IOSpec {
	s.OutputWidth = c.Width
	s.OutputHeight = c.Height
	s.OutputLayout = c.Layout
	s.ClassCount = c.ClassCount
	return s
}

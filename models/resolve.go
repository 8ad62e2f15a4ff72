package models

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-wallseg/inference"
	"github.com/nvr-ai/go-wallseg/tensors"
)

// inputNameHints are matched against declared inputs when no name is configured.
var inputNameHints = []string{"pixel_values", "image", "input"}

// Hints are the configured values that take precedence over runtime metadata.
// Zero values ask Resolve to infer the field.
type Hints struct {
	InputName     string
	OutputName    string
	InputWidth    int
	InputHeight   int
	InputChannels int
	ClassCount    int
	Layout        tensors.Layout
	OutputLayout  tensors.Layout
}

// DetectLayout guesses the layout of a four dimensional image tensor by
// checking which of dims[1] and dims[3] equals the channel count.
//
// The guess has no verification step. It defaults to channels-last when both
// or neither dimension matches, and reports that case as ambiguous.
//
// Arguments:
//   - dims: The declared dimensions; dynamic dimensions are negative.
//   - channels: The expected channel count.
//
// Returns:
//   - tensors.Layout: The detected layout.
//   - bool: True when the decision was a default rather than a match.
func DetectLayout(dims []int64, channels int) (tensors.Layout, bool) {
	if len(dims) != 4 || channels <= 0 {
		return tensors.ChannelsLast, true
	}

	last := dims[3] == int64(channels)
	first := dims[1] == int64(channels)

	switch {
	case last && !first:
		return tensors.ChannelsLast, false
	case first && !last:
		return tensors.ChannelsFirst, false
	default:
		return tensors.ChannelsLast, true
	}
}

// Resolve builds the IOSpec for a loaded model from its declared inputs and
// outputs, preferring explicit hints over anything inferred.
//
// Arguments:
//   - h: The configured hints.
//   - inputs: The declared model inputs.
//   - outputs: The declared model outputs.
//   - logger: Receives a warning whenever a value is guessed.
//
// Returns:
//   - IOSpec: The validated spec.
//   - error: An error if a required value can neither be read nor inferred.
func Resolve(h Hints, inputs, outputs []tensors.Info, logger logrus.FieldLogger) (IOSpec, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	in, err := selectInput(inputs, h.InputName)
	if err != nil {
		return IOSpec{}, err
	}

	outNames := make([]string, len(outputs))
	for i, o := range outputs {
		outNames[i] = o.Name
	}
	outName, heuristic, err := inference.ResolveOutputName(outNames, h.OutputName)
	if err != nil {
		return IOSpec{}, errors.Wrap(err, "select model output")
	}
	if heuristic != inference.HeuristicExact {
		logger.WithFields(logrus.Fields{
			"requested": h.OutputName,
			"resolved":  outName,
			"heuristic": heuristic,
		}).Info("model output selected by heuristic")
	}

	spec := IOSpec{
		InputName:     in.Name,
		OutputName:    outName,
		InputWidth:    h.InputWidth,
		InputHeight:   h.InputHeight,
		InputChannels: h.InputChannels,
		ClassCount:    h.ClassCount,
		Layout:        h.Layout,
		OutputLayout:  h.OutputLayout,
	}

	if spec.InputChannels == 0 {
		spec.InputChannels = 3
	}

	if !spec.Layout.Concrete() {
		layout, ambiguous := DetectLayout(in.Dims, spec.InputChannels)
		spec.Layout = layout
		entry := logger.WithFields(logrus.Fields{
			"input":  in.Name,
			"dims":   in.Dims,
			"layout": layout,
		})
		if ambiguous {
			entry.Warn("input layout is ambiguous, defaulting to nhwc; set the layout explicitly")
		} else {
			entry.Info("input layout detected from declared dimensions")
		}
	}

	if len(in.Dims) == 4 {
		height, width := declaredSpatial(in.Dims, spec.Layout)
		if spec.InputHeight == 0 && height > 0 {
			spec.InputHeight = height
		}
		if spec.InputWidth == 0 && width > 0 {
			spec.InputWidth = width
		}
	}

	if spec.ClassCount == 0 {
		for _, o := range outputs {
			if o.Name == outName && len(o.Dims) == 4 {
				c := o.Dims[3]
				if spec.DecodeLayout() == tensors.ChannelsFirst {
					c = o.Dims[1]
				}
				if c > 0 {
					spec.ClassCount = int(c)
				}
			}
		}
	}

	if err := spec.Validate(); err != nil {
		return IOSpec{}, errors.Wrap(err, "resolve model io")
	}
	return spec, nil
}

func declaredSpatial(dims []int64, layout tensors.Layout) (height, width int) {
	if layout == tensors.ChannelsFirst {
		return int(dims[2]), int(dims[3])
	}
	return int(dims[1]), int(dims[2])
}

func selectInput(inputs []tensors.Info, name string) (tensors.Info, error) {
	if len(inputs) == 0 {
		return tensors.Info{}, errors.New("model declares no inputs")
	}

	if name != "" {
		for _, in := range inputs {
			if in.Name == name {
				return in, nil
			}
		}
		return tensors.Info{}, errors.Errorf("model has no input %q", name)
	}

	for _, hint := range inputNameHints {
		for _, in := range inputs {
			if strings.Contains(strings.ToLower(in.Name), hint) {
				return in, nil
			}
		}
	}
	return inputs[0], nil
}

package tensors

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// aspectEpsilon is the tolerance under which two aspect distances count as a tie.
const aspectEpsilon = 1e-9

// ShapeCandidate is one plausible interpretation of a flat output buffer.
type ShapeCandidate struct {
	Width      int
	Height     int
	ClassCount int
	Layout     Layout
	// Distance is |Width/Height - target aspect|.
	Distance float64
}

// Shape returns the batch-of-one shape the candidate describes.
func (c ShapeCandidate) Shape() Shape {
	return ImageShape(c.Height, c.Width, c.ClassCount, c.Layout)
}

func (c ShapeCandidate) String() string {
	return fmt.Sprintf("%dx%dx%d %s", c.Width, c.Height, c.ClassCount, c.Layout)
}

// Diagnosis is the result of factoring a mismatched output buffer.
type Diagnosis struct {
	ElementCount   int
	ClassCount     int
	PixelCount     int
	TargetAspect   float64
	FormatMismatch bool
	// Candidates are ranked best first.
	Candidates []ShapeCandidate
}

// Primary returns the best ranked candidate.
func (d Diagnosis) Primary() (ShapeCandidate, bool) {
	if len(d.Candidates) == 0 {
		return ShapeCandidate{}, false
	}
	return d.Candidates[0], true
}

// Alternatives returns every candidate after the primary one.
func (d Diagnosis) Alternatives() []ShapeCandidate {
	if len(d.Candidates) < 2 {
		return nil
	}
	return d.Candidates[1:]
}

// Contains reports whether a (width, height) pair appears among the candidates.
func (d Diagnosis) Contains(width, height int) bool {
	for _, c := range d.Candidates {
		if c.Width == width && c.Height == height {
			return true
		}
	}
	return false
}

// Err returns ErrFormatMismatch for a non-divisible buffer and nil otherwise.
func (d Diagnosis) Err() error {
	if d.FormatMismatch {
		return errors.Wrapf(ErrFormatMismatch, "%d elements, %d classes", d.ElementCount, d.ClassCount)
	}
	return nil
}

func (d Diagnosis) String() string {
	if d.FormatMismatch {
		return fmt.Sprintf(
			"format mismatch: %d elements not divisible by %d classes",
			d.ElementCount, d.ClassCount,
		)
	}
	primary, ok := d.Primary()
	if !ok {
		return fmt.Sprintf("no candidates for %d pixels", d.PixelCount)
	}

	alts := d.Alternatives()
	limit := len(alts)
	if limit > 3 {
		limit = 3
	}
	names := make([]string, 0, limit)
	for _, c := range alts[:limit] {
		names = append(names, c.String())
	}
	return fmt.Sprintf(
		"%d pixels, suggest %s (alternatives: %s)",
		d.PixelCount, primary, strings.Join(names, ", "),
	)
}

// Resolver validates model output shapes and proposes repairs when they
// disagree with the configured model geometry.
type Resolver struct {
	// TargetAspect is the expected width/height ratio used to rank candidates.
	TargetAspect float64
}

// NewResolver creates a resolver ranking candidates against inputWidth/inputHeight.
// Non-positive dimensions fall back to a square aspect.
func NewResolver(inputWidth, inputHeight int) *Resolver {
	aspect := 1.0
	if inputWidth > 0 && inputHeight > 0 {
		aspect = float64(inputWidth) / float64(inputHeight)
	}
	return &Resolver{TargetAspect: aspect}
}

// ResolveOutputShape derives the shape to decode an output tensor with.
//
// A tensor that reports three or more dimensions keeps its shape; its channel
// axis is checked separately by MatchLayout. A flattened
// tensor is accepted when its length equals height*width*expectedClassCount of
// the input geometry, in which case a batch-of-one shape is synthesized in the
// given layout.
//
// Arguments:
//   - t: The output tensor.
//   - inputShape: The shape of the tensor that was fed to the model.
//   - expectedClassCount: The number of classes the model is configured to emit.
//   - layout: The layout inputShape is expressed in, also used for the synthesized shape.
//
// Returns:
//   - Shape: The resolved output shape.
//   - error: ErrInvalidShape if no shape can be derived.
func (r *Resolver) ResolveOutputShape(
	t *Tensor,
	inputShape Shape,
	expectedClassCount int,
	layout Layout,
) (Shape, error) {
	if t == nil || t.Released() {
		return nil, errors.Wrap(ErrInvalidShape, "output tensor is not available")
	}

	shape := t.Shape()
	if len(shape) >= 3 {
		return shape, nil
	}

	height, width, _, err := inputShape.Spatial(layout)
	if err != nil {
		return nil, errors.Wrap(err, "input shape")
	}
	if expectedClassCount <= 0 {
		return nil, errors.Wrapf(ErrInvalidShape, "expected class count %d", expectedClassCount)
	}

	if t.Len() != height*width*expectedClassCount {
		return nil, errors.Wrapf(
			ErrInvalidShape,
			"flat output of %d elements does not match %dx%dx%d",
			t.Len(), width, height, expectedClassCount,
		)
	}

	return ImageShape(height, width, expectedClassCount, layout), nil
}

// MatchLayout checks the channel axis of an output shape against the expected
// class count. The given layout is kept when its channel axis matches, otherwise
// the transposed layout is returned when that one matches instead. A single
// channel is a class id map and matches any class count.
//
// Arguments:
//   - shape: The resolved output shape.
//   - expectedClassCount: The number of classes the model is configured to emit.
//   - layout: The configured decode layout.
//
// Returns:
//   - Layout: The layout to decode shape with.
//   - bool: True when the layout differs from the configured one.
//   - error: ErrShapeMismatch when neither layout carries the expected channel count.
func (r *Resolver) MatchLayout(shape Shape, expectedClassCount int, layout Layout) (Layout, bool, error) {
	if expectedClassCount <= 1 || channelsMatch(shape, expectedClassCount, layout) {
		return layout, false, nil
	}

	other := layout.Transposed()
	if other != layout && channelsMatch(shape, expectedClassCount, other) {
		return other, true, nil
	}

	return layout, false, errors.Wrapf(
		ErrShapeMismatch,
		"shape %s has no %d channel axis in %s or %s",
		shape, expectedClassCount, layout, other,
	)
}

func channelsMatch(shape Shape, classCount int, layout Layout) bool {
	_, _, c, err := shape.Spatial(layout)
	return err == nil && (c == classCount || c == 1)
}

// DiagnoseShapeMismatch factors a flat element count into plausible
// (width, height, layout) combinations for classCount classes.
//
// Arguments:
//   - actualElementCount: The number of elements the model produced.
//   - classCount: The number of classes expected per pixel.
//
// Returns:
//   - Diagnosis: Ranked candidates, or FormatMismatch when the count is not divisible.
func (r *Resolver) DiagnoseShapeMismatch(actualElementCount, classCount int) Diagnosis {
	d := Diagnosis{
		ElementCount: actualElementCount,
		ClassCount:   classCount,
		TargetAspect: r.TargetAspect,
	}

	if classCount <= 0 || actualElementCount <= 0 || actualElementCount%classCount != 0 {
		d.FormatMismatch = true
		return d
	}

	pixels := actualElementCount / classCount
	d.PixelCount = pixels

	var candidates []ShapeCandidate
	for h := 1; h*h <= pixels; h++ {
		if pixels%h != 0 {
			continue
		}
		w := pixels / h
		candidates = appendBothLayouts(candidates, w, h, classCount)
		if w != h {
			candidates = appendBothLayouts(candidates, h, w, classCount)
		}
	}

	d.Candidates = RankCandidates(candidates, r.TargetAspect)
	return d
}

func appendBothLayouts(dst []ShapeCandidate, width, height, classCount int) []ShapeCandidate {
	return append(dst,
		ShapeCandidate{Width: width, Height: height, ClassCount: classCount, Layout: ChannelsLast},
		ShapeCandidate{Width: width, Height: height, ClassCount: classCount, Layout: ChannelsFirst},
	)
}

// RankCandidates sorts candidates by aspect distance to target. Equal distances
// are resolved in favour of the taller candidate, then channels-last first.
func RankCandidates(candidates []ShapeCandidate, target float64) []ShapeCandidate {
	out := make([]ShapeCandidate, len(candidates))
	copy(out, candidates)

	for i := range out {
		out[i].Distance = math.Abs(float64(out[i].Width)/float64(out[i].Height) - target)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if math.Abs(a.Distance-b.Distance) > aspectEpsilon {
			return a.Distance < b.Distance
		}
		if a.Height != b.Height {
			return a.Height > b.Height
		}
		return a.Layout == ChannelsLast && b.Layout != ChannelsLast
	})

	return out
}

package controller

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-wallseg/images"
	"github.com/nvr-ai/go-wallseg/inference"
	"github.com/nvr-ai/go-wallseg/inference/inferencetest"
	"github.com/nvr-ai/go-wallseg/models"
	"github.com/nvr-ai/go-wallseg/segmentation"
	"github.com/nvr-ai/go-wallseg/temporal"
	"github.com/nvr-ai/go-wallseg/tensors"
)

var imageDims = []int64{1, 8, 8, 3}

func testSpec() models.IOSpec {
	return models.IOSpec{
		InputName:     "pixel_values",
		OutputName:    "logits",
		InputWidth:    8,
		InputHeight:   8,
		InputChannels: 3,
		ClassCount:    3,
		Layout:        tensors.ChannelsLast,
	}
}

func newPipeline(t *testing.T, rt inference.Runtime, logger logrus.FieldLogger, stab *temporal.Stabilizer) *Pipeline {
	t.Helper()

	engine, err := inference.NewEngineBuilder().WithLogger(logger).WithRuntime(rt).Build()
	require.NoError(t, err)

	p, err := New(Options{
		Engine:     engine,
		Spec:       testSpec(),
		Threshold:  0.5,
		Stabilizer: stab,
		Logger:     logger,
	})
	require.NoError(t, err)
	return p
}

// Pure red, green and blue frames carry classes 0, 1 and 2 through the identity model.
func red(ts int64) images.Frame   { return images.Uniform(16, 12, 255, 0, 0, ts) }
func green(ts int64) images.Frame { return images.Uniform(16, 12, 0, 255, 0, ts) }

func TestRunRoundTrip(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rt := inferencetest.ImageModel("pixel_values", imageDims, "logits", imageDims, inferencetest.Identity("logits"))
	p := newPipeline(t, rt, logger, nil)
	defer p.Close()

	var emitted []*segmentation.Mask
	p.OnMaskReady(func(m *segmentation.Mask) { emitted = append(emitted, m) })

	mask, err := p.Run(context.Background(), red(1))
	require.NoError(t, err)
	assert.True(t, mask.Equal(segmentation.Uniform(8, 8, segmentation.On)), "class 0 covers a red frame")
	assert.Equal(t, Idle, p.State())

	require.NoError(t, p.SetTargetClass(1))
	mask, err = p.Run(context.Background(), red(2))
	require.NoError(t, err)
	assert.True(t, mask.Equal(segmentation.Uniform(8, 8, segmentation.Off)), "class 1 is absent from a red frame")

	require.Len(t, emitted, 2)
	assert.NotSame(t, mask, emitted[1], "listeners get a snapshot")
	assert.True(t, mask.Equal(emitted[1]))

	_, err = uuid.Parse(p.ID())
	assert.NoError(t, err, "pipelines carry a uuid")

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Accepted)
	assert.Equal(t, uint64(2), stats.Completed)
	assert.Zero(t, stats.Failed())

	assert.Error(t, p.SetTargetClass(3), "only 3 classes")
	assert.Error(t, p.SetTargetClass(-1))
}

func TestSingleFlight(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	rt := inferencetest.ImageModel("pixel_values", imageDims, "logits", imageDims, inferencetest.Identity("logits"))
	rt.Gate = make(chan struct{})
	rt.Started = make(chan struct{}, 1)
	p := newPipeline(t, rt, logger, nil)

	var ready atomic.Int32
	p.OnMaskReady(func(*segmentation.Mask) { ready.Add(1) })

	require.True(t, p.ProcessFrame(red(1)))
	<-rt.Started
	assert.True(t, p.State().InFlight())

	assert.False(t, p.ProcessFrame(red(2)), "second frame is dropped while the first is in flight")
	_, err := p.Run(context.Background(), red(3))
	assert.ErrorIs(t, err, inference.ErrSkipped)
	assert.ErrorIs(t, p.SetThreshold(0.2), ErrBusy)
	assert.ErrorIs(t, p.ResetTemporalState(), ErrBusy)

	var dropped int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.DebugLevel && e.Message == "frame dropped, pipeline busy" {
			dropped++
		}
	}
	assert.Equal(t, 2, dropped, "drops are logged at debug level")

	close(rt.Gate)
	require.NoError(t, p.Close())

	assert.Equal(t, int32(1), ready.Load(), "exactly one mask for one accepted frame")
	assert.Equal(t, 1, rt.Runs())

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Accepted)
	assert.Equal(t, uint64(2), stats.Skipped)
	assert.Equal(t, uint64(1), stats.Completed)
}

func TestInvalidFrame(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rt := inferencetest.ImageModel("pixel_values", imageDims, "logits", imageDims, inferencetest.Identity("logits"))
	p := newPipeline(t, rt, logger, nil)
	defer p.Close()

	_, err := p.Run(context.Background(), red(0))
	assert.ErrorIs(t, err, ErrInvalidFrame)
	assert.False(t, p.ProcessFrame(red(0)))
	assert.Zero(t, rt.Runs())
	assert.Equal(t, uint64(2), p.Stats().Invalid)
}

func TestEncodingFailureReturnsToIdle(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rt := inferencetest.ImageModel("pixel_values", imageDims, "logits", imageDims, inferencetest.Identity("logits"))
	p := newPipeline(t, rt, logger, nil)
	defer p.Close()

	bad := red(1)
	bad.Pix = bad.Pix[:10]

	_, err := p.Run(context.Background(), bad)
	assert.True(t, errors.Is(err, inference.ErrEncoding))
	assert.Equal(t, Idle, p.State())
	assert.Zero(t, rt.Runs())
	assert.Equal(t, uint64(1), p.Stats().EncodeFailures)

	_, err = p.Run(context.Background(), red(2))
	assert.NoError(t, err, "the next frame is processed normally")
}

func TestInferenceFailure(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rt := inferencetest.ImageModel("pixel_values", imageDims, "logits", imageDims, inferencetest.Failing(errors.New("device lost")))
	p := newPipeline(t, rt, logger, nil)
	defer p.Close()

	var failures []error
	p.OnError(func(err error) { failures = append(failures, err) })

	_, err := p.Run(context.Background(), red(1))
	assert.True(t, errors.Is(err, inference.ErrInferenceFailure))
	assert.Contains(t, err.Error(), "device lost")
	assert.Equal(t, Idle, p.State())
	require.Len(t, failures, 1)

	_, err = p.Run(context.Background(), red(2))
	assert.Error(t, err)
	assert.Equal(t, 2, rt.Runs(), "failures are not retried but later frames run")
	assert.Equal(t, uint64(2), p.Stats().InferenceFailures)
}

func TestShapeMismatchAndSuggestion(t *testing.T) {
	logger, _ := test.NewNullLogger()

	// A flat 4x4x3 output for an 8x8 input.
	data := make([]float32, 48)
	for i := 0; i < len(data); i += 3 {
		data[i] = 1
	}
	rt := inferencetest.ImageModel("pixel_values", imageDims, "logits", []int64{48},
		inferencetest.Constant("logits", tensors.Shape{48}, tensors.ChannelsLast, data))
	p := newPipeline(t, rt, logger, nil)
	defer p.Close()

	_, ok := p.LastDiagnosis()
	assert.False(t, ok)
	_, err := p.ApplySuggestion()
	assert.ErrorIs(t, err, ErrNoSuggestion)

	_, err = p.Run(context.Background(), red(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, tensors.ErrShapeMismatch))
	assert.Equal(t, uint64(1), p.Stats().ShapeFailures)

	d, ok := p.LastDiagnosis()
	require.True(t, ok)
	assert.False(t, d.FormatMismatch)
	assert.True(t, d.Contains(4, 4))

	spec, err := p.ApplySuggestion()
	require.NoError(t, err)
	assert.Equal(t, 4, spec.OutputWidth)
	assert.Equal(t, 4, spec.OutputHeight)
	_, ok = p.LastDiagnosis()
	assert.False(t, ok, "applying a suggestion consumes the diagnosis")

	mask, err := p.Run(context.Background(), red(2))
	require.NoError(t, err)
	assert.True(t, mask.Equal(segmentation.Uniform(4, 4, segmentation.On)))
}

func TestTransposedOutputDecodesInItsOwnLayout(t *testing.T) {
	logger, hook := test.NewNullLogger()
	rt := inferencetest.ImageModel("pixel_values", imageDims, "logits", []int64{1, 3, 8, 8},
		inferencetest.PerPixel("logits", 8, 8, tensors.ChannelsFirst, []float32{1, 0, 0}))
	p := newPipeline(t, rt, logger, nil)
	defer p.Close()

	for ts := int64(1); ts <= 2; ts++ {
		mask, err := p.Run(context.Background(), red(ts))
		require.NoError(t, err)
		assert.True(t, mask.Equal(segmentation.Uniform(8, 8, segmentation.On)), "class 0 on every pixel")
	}
	_, ok := p.LastDiagnosis()
	assert.False(t, ok, "a layout switch is not a shape failure")

	var warnings int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "output layout differs from configuration" {
			warnings++
			assert.Equal(t, "nchw", e.Data["detected"])
			assert.Equal(t, "nhwc", e.Data["configured"])
		}
	}
	assert.Equal(t, 1, warnings, "warned once per configuration")
}

func TestOutputWithoutClassAxisIsDiagnosed(t *testing.T) {
	logger, _ := test.NewNullLogger()
	scores := []float32{1, 0, 0, 0, 0, 0}
	rt := inferencetest.ImageModel("pixel_values", imageDims, "logits", []int64{1, 6, 8, 8},
		inferencetest.PerPixel("logits", 8, 8, tensors.ChannelsFirst, scores))
	p := newPipeline(t, rt, logger, nil)
	defer p.Close()

	_, err := p.Run(context.Background(), red(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, tensors.ErrShapeMismatch))
	assert.Equal(t, uint64(1), p.Stats().ShapeFailures)
	assert.Equal(t, Idle, p.State())

	d, ok := p.LastDiagnosis()
	require.True(t, ok)
	assert.False(t, d.FormatMismatch)
	assert.Equal(t, 128, d.PixelCount, "384 elements over 3 classes")

	_, err = p.ApplySuggestion()
	assert.NoError(t, err)
}

func TestFailedFramesReleaseTheirTensors(t *testing.T) {
	cases := []struct {
		name   string
		runErr error
		want   error
	}{
		{name: "decoding", want: tensors.ErrShapeMismatch},
		{name: "inference", runErr: errors.New("device lost"), want: inference.ErrInferenceFailure},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			logger, _ := test.NewNullLogger()

			var input, output *tensors.Tensor
			run := func(_ context.Context, inputs map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
				input = inputs["pixel_values"]
				out, err := tensors.New(tensors.Shape{7}, tensors.ChannelsLast, make([]float32, 7))
				if err != nil {
					return nil, err
				}
				output = out
				return map[string]*tensors.Tensor{"logits": out}, tc.runErr
			}
			rt := inferencetest.ImageModel("pixel_values", imageDims, "logits", []int64{7}, run)
			p := newPipeline(t, rt, logger, nil)
			defer p.Close()

			_, err := p.Run(context.Background(), red(1))
			assert.True(t, errors.Is(err, tc.want), "got %v", err)

			require.NotNil(t, input)
			require.NotNil(t, output)
			assert.True(t, input.Released(), "encoded input released")
			assert.True(t, output.Released(), "model output released")
			assert.Equal(t, Idle, p.State())
		})
	}
}

func TestListenersRunInFlight(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rt := inferencetest.ImageModel("pixel_values", imageDims, "logits", imageDims, inferencetest.Identity("logits"))
	p := newPipeline(t, rt, logger, nil)
	defer p.Close()

	var (
		seen     State
		adminErr error
	)
	p.OnMaskReady(func(*segmentation.Mask) {
		seen = p.State()
		adminErr = p.SetThreshold(0.1)
	})

	_, err := p.Run(context.Background(), red(1))
	require.NoError(t, err)
	assert.Equal(t, Stabilizing, seen)
	assert.ErrorIs(t, adminErr, ErrBusy)
	assert.NoError(t, p.SetThreshold(0.1), "admin calls succeed once the frame is done")
}

func TestStabilizedSequence(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rt := inferencetest.ImageModel("pixel_values", imageDims, "logits", imageDims, inferencetest.Identity("logits"))
	stab, err := temporal.New(temporal.DefaultConfig())
	require.NoError(t, err)
	p := newPipeline(t, rt, logger, stab)
	defer p.Close()

	mask, err := p.Run(context.Background(), red(1))
	require.NoError(t, err)
	assert.Equal(t, segmentation.On, mask.Pix[0])

	mask, err = p.Run(context.Background(), green(2))
	require.NoError(t, err)
	assert.InDelta(t, 102, int(mask.Pix[0]), 1, "a vanished class fades instead of flickering")

	require.NoError(t, p.ResetTemporalState())
	assert.False(t, stab.HasState())

	mask, err = p.Run(context.Background(), green(3))
	require.NoError(t, err)
	assert.Equal(t, segmentation.Off, mask.Pix[0], "after a reset the frame passes through")
}

func TestReconfigure(t *testing.T) {
	logger, _ := test.NewNullLogger()
	dims := []int64{1, 3, 4, 4}
	rt := inferencetest.ImageModel("pixel_values", dims, "logits", dims, inferencetest.Identity("logits"))
	p := newPipeline(t, rt, logger, nil)
	defer p.Close()

	spec := testSpec()
	spec.InputWidth, spec.InputHeight = 4, 4
	spec.Layout = tensors.ChannelsFirst
	require.NoError(t, p.Reconfigure(spec))

	current, err := p.Spec()
	require.NoError(t, err)
	assert.Equal(t, spec, current)

	require.NoError(t, p.SetTargetClass(1))
	mask, err := p.Run(context.Background(), green(1))
	require.NoError(t, err)
	assert.True(t, mask.Equal(segmentation.Uniform(4, 4, segmentation.On)))

	bad := spec
	bad.ClassCount = 1
	assert.Error(t, p.Reconfigure(bad), "target class 1 does not fit one class")
}

func TestClose(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rt := inferencetest.ImageModel("pixel_values", imageDims, "logits", imageDims, inferencetest.Identity("logits"))
	p := newPipeline(t, rt, logger, nil)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, Closed, p.State())
	assert.Equal(t, 1, rt.Closed(), "the engine releases the runtime once")

	assert.False(t, p.ProcessFrame(red(1)))
	_, err := p.Run(context.Background(), red(1))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, p.SetThreshold(0.1), ErrClosed)
}

func TestNewValidates(t *testing.T) {
	engine := inference.NewEngine(nil)

	_, err := New(Options{Spec: testSpec()})
	assert.Error(t, err, "engine is required")

	bad := testSpec()
	bad.InputName = ""
	_, err = New(Options{Engine: engine, Spec: bad})
	assert.Error(t, err)

	_, err = New(Options{Engine: engine, Spec: testSpec(), TargetClass: 3})
	assert.Error(t, err)
}

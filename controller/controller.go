// Package controller - Single-flight orchestration of the frame to mask pipeline.
package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-wallseg/images"
	"github.com/nvr-ai/go-wallseg/inference"
	"github.com/nvr-ai/go-wallseg/models"
	"github.com/nvr-ai/go-wallseg/profiler"
	"github.com/nvr-ai/go-wallseg/segmentation"
	"github.com/nvr-ai/go-wallseg/temporal"
	"github.com/nvr-ai/go-wallseg/tensors"
)

// Options configures a pipeline.
type Options struct {
	// Engine runs the model. The pipeline owns it and closes it on Close.
	Engine *inference.Engine
	// Spec describes the model input and output geometry.
	Spec models.IOSpec
	// TargetClass is the class extracted into the mask.
	TargetClass int
	// Threshold is the activation at or above which a pixel belongs to TargetClass.
	Threshold float32
	// Mode selects thresholding or argmax decoding.
	Mode segmentation.Mode
	// RawPixels leaves input values in [0,255] instead of normalizing them.
	RawPixels bool
	// Stabilizer smooths masks between frames. Nil disables smoothing.
	Stabilizer *temporal.Stabilizer
	// Logger receives pipeline logs. Defaults to the standard logrus logger.
	Logger logrus.FieldLogger
	// Profiler records stage timings. A private profiler is created when nil.
	Profiler *profiler.StageProfiler
}

// Pipeline runs camera frames through encoding, inference, decoding and
// stabilization, one frame at a time. Frames arriving while another frame is
// in flight are dropped.
type Pipeline struct {
	id     string
	state  atomic.Int32
	engine *inference.Engine
	logger logrus.FieldLogger
	prof   *profiler.StageProfiler
	stab   *temporal.Stabilizer
	stats  counters
	wg     sync.WaitGroup

	// Written only in the Configuring state.
	spec        models.IOSpec
	encoder     inference.Encoder
	decoder     *segmentation.Decoder
	targetClass int
	threshold   float32

	// Touched only by the goroutine holding the frame, reset by configure.
	layoutWarned bool

	diagMu        sync.Mutex
	lastDiagnosis *tensors.Diagnosis

	listenersMu sync.RWMutex
	onMask      []func(*segmentation.Mask)
	onError     []func(error)
}

// New creates an idle pipeline.
//
// Arguments:
//   - opts: The pipeline options.
//
// Returns:
//   - *Pipeline: The idle pipeline.
//   - error: An error if the options are incomplete or inconsistent.
func New(opts Options) (*Pipeline, error) {
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if err := opts.Spec.Validate(); err != nil {
		return nil, errors.Wrap(err, "model spec")
	}
	if err := checkTargetClass(opts.TargetClass, opts.Spec.ClassCount); err != nil {
		return nil, err
	}

	id := uuid.New().String()

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	prof := opts.Profiler
	if prof == nil {
		prof = profiler.New(profiler.Options{Logger: logger})
	}

	p := &Pipeline{
		id:          id,
		engine:      opts.Engine,
		logger:      logger.WithField("pipeline", id),
		prof:        prof,
		stab:        opts.Stabilizer,
		targetClass: opts.TargetClass,
		threshold:   opts.Threshold,
	}
	p.configure(opts.Spec, opts.Mode, !opts.RawPixels)

	p.logger.WithFields(logrus.Fields{
		"input":     opts.Spec.InputName,
		"output":    opts.Spec.OutputName,
		"size":      opts.Spec.InputShape().String(),
		"classes":   opts.Spec.ClassCount,
		"target":    opts.TargetClass,
		"threshold": opts.Threshold,
		"mode":      opts.Mode.String(),
	}).Info("pipeline ready")

	return p, nil
}

// configure rebuilds everything derived from the model spec.
func (p *Pipeline) configure(spec models.IOSpec, mode segmentation.Mode, normalize bool) {
	p.spec = spec
	p.encoder = inference.Encoder{
		Width:     spec.InputWidth,
		Height:    spec.InputHeight,
		Channels:  spec.InputChannels,
		Layout:    spec.Layout,
		Normalize: normalize,
	}
	p.decoder = segmentation.NewDecoder(spec.Resolver(), spec.ClassCount)
	p.decoder.Mode = mode
	p.layoutWarned = false
}

// ID returns the pipeline's instance id.
func (p *Pipeline) ID() string {
	return p.id
}

// State returns the current state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Stats returns a snapshot of the frame counters.
func (p *Pipeline) Stats() Stats {
	return p.stats.snapshot()
}

// Profiler returns the stage profiler.
func (p *Pipeline) Profiler() *profiler.StageProfiler {
	return p.prof
}

// OnMaskReady registers a listener called once per completed frame. Listeners
// run on the processing goroutine before the pipeline returns to Idle and must
// not modify the mask. Admin calls made from a listener return ErrBusy, and a
// listener must not call Close, which waits for the frame the listener belongs to.
func (p *Pipeline) OnMaskReady(fn func(*segmentation.Mask)) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	p.onMask = append(p.onMask, fn)
}

// OnError registers a listener called once per failed frame. It runs in flight
// like OnMaskReady listeners and has the same restrictions.
func (p *Pipeline) OnError(fn func(error)) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	p.onError = append(p.onError, fn)
}

// ProcessFrame submits a frame for asynchronous processing.
//
// Arguments:
//   - frame: The camera frame. Its pixels are read before processing ends and not retained.
//
// Returns:
//   - bool: True when the frame was accepted and processing started.
func (p *Pipeline) ProcessFrame(frame images.Frame) bool {
	session, err := p.acquire(context.Background(), frame)
	if err != nil {
		return false
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_, _ = p.process(context.Background(), session, frame)
	}()
	return true
}

// Run processes a frame synchronously.
//
// Arguments:
//   - ctx: Checked before the frame starts. A running inference is not interrupted.
//   - frame: The camera frame.
//
// Returns:
//   - *segmentation.Mask: The stabilized mask at the decoded output resolution.
//   - error: ErrSkipped, ErrInvalidFrame, ErrClosed, or the stage failure.
func (p *Pipeline) Run(ctx context.Context, frame images.Frame) (*segmentation.Mask, error) {
	session, err := p.acquire(ctx, frame)
	if err != nil {
		return nil, err
	}
	return p.process(ctx, session, frame)
}

// acquire moves the pipeline from Idle to Encoding and claims the engine.
func (p *Pipeline) acquire(ctx context.Context, frame images.Frame) (*inference.Session, error) {
	if p.State() == Closed {
		return nil, ErrClosed
	}
	if frame.Timestamp == 0 {
		p.stats.invalid.Add(1)
		p.logger.Debug("frame without timestamp ignored")
		return nil, ErrInvalidFrame
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !p.state.CompareAndSwap(int32(Idle), int32(Encoding)) {
		return nil, p.skip(frame, p.State())
	}

	session, err := p.engine.Begin()
	if err != nil {
		p.state.Store(int32(Idle))
		return nil, p.skip(frame, Inferring)
	}

	p.stats.accepted.Add(1)
	return session, nil
}

func (p *Pipeline) skip(frame images.Frame, state State) error {
	if state == Closed {
		return ErrClosed
	}
	p.stats.skipped.Add(1)
	p.logger.WithFields(logrus.Fields{
		"frame": frame.Timestamp,
		"state": state.String(),
	}).Debug("frame dropped, pipeline busy")
	return inference.ErrSkipped
}

// process runs every stage for an acquired frame and always returns to Idle.
func (p *Pipeline) process(ctx context.Context, session *inference.Session, frame images.Frame) (*segmentation.Mask, error) {
	defer p.state.Store(int32(Idle))
	defer session.End()
	defer p.prof.StartOperation("frame")()

	logger := p.logger.WithField("frame", frame.Timestamp)

	done := p.prof.StartOperation("encode")
	input, err := p.encoder.EncodeFrame(frame)
	done()
	if err != nil {
		return nil, p.fail(logger, Encoding, err)
	}
	defer tensors.ReleaseAll(input)

	p.state.Store(int32(Inferring))
	done = p.prof.StartOperation("infer")
	outputs, err := session.Execute(ctx, p.spec.InputName, input)
	done()
	tensors.ReleaseAll(input)
	if err != nil {
		return nil, p.fail(logger, Inferring, err)
	}
	defer outputs.Release()

	p.state.Store(int32(Decoding))
	done = p.prof.StartOperation("decode")
	mask, err := p.decode(logger, outputs)
	done()
	outputs.Release()
	if err != nil {
		return nil, p.fail(logger, Decoding, err)
	}

	p.state.Store(int32(Stabilizing))
	if p.stab != nil {
		done = p.prof.StartOperation("stabilize")
		p.stab.Stabilize(mask)
		done()
	}

	p.stats.completed.Add(1)
	p.prof.RecordMetric("coverage", mask.Coverage())
	logger.WithFields(logrus.Fields{
		"width":    mask.Width,
		"height":   mask.Height,
		"coverage": mask.Coverage(),
	}).Debug("mask ready")

	p.emitMask(mask)
	return mask, nil
}

// decode finds the configured output, settles its shape and layout and decodes it.
func (p *Pipeline) decode(logger logrus.FieldLogger, outputs *inference.Outputs) (*segmentation.Mask, error) {
	out, err := outputs.Lookup(p.spec.OutputName)
	if err != nil {
		return nil, errors.Wrapf(err, "output %q", p.spec.OutputName)
	}

	layout := p.spec.DecodeLayout()

	shape, forced := p.spec.OutputShape()
	if !forced {
		inputShape := tensors.ImageShape(p.spec.InputHeight, p.spec.InputWidth, p.spec.InputChannels, layout)
		shape, err = p.decoder.Resolver.ResolveOutputShape(out, inputShape, p.spec.ClassCount, layout)
		if err != nil {
			return nil, p.mismatch(out, err)
		}

		matched, transposed, err := p.decoder.Resolver.MatchLayout(shape, p.spec.ClassCount, layout)
		if err != nil {
			return nil, p.mismatch(out, err)
		}
		if transposed {
			if !p.layoutWarned {
				p.layoutWarned = true
				logger.WithFields(logrus.Fields{
					"shape":      shape.String(),
					"configured": layout.String(),
					"detected":   matched.String(),
				}).Warn("output layout differs from configuration")
			}
			layout = matched
		}
	}

	mask, err := p.decoder.Decode(out, shape, layout, p.targetClass, p.threshold)
	if err != nil {
		var mismatch *segmentation.MismatchError
		if errors.As(err, &mismatch) {
			p.recordDiagnosis(mismatch.Diagnosis)
		}
		return nil, err
	}
	return mask, nil
}

// mismatch wraps a shape failure with a diagnosis of out and records it.
func (p *Pipeline) mismatch(out *tensors.Tensor, cause error) error {
	err := &segmentation.MismatchError{
		Reason:    cause.Error(),
		Diagnosis: p.decoder.Resolver.DiagnoseShapeMismatch(out.Len(), p.spec.ClassCount),
	}
	p.recordDiagnosis(err.Diagnosis)
	return err
}

func (p *Pipeline) fail(logger logrus.FieldLogger, stage State, err error) error {
	p.stats.failure(err)

	entry := logger.WithField("stage", stage.String()).WithError(err)
	var mismatch *segmentation.MismatchError
	if errors.As(err, &mismatch) {
		if c, ok := mismatch.Diagnosis.Primary(); ok {
			entry = entry.WithField("suggestion", c.String())
		}
	}
	entry.Warn("frame failed")

	p.listenersMu.RLock()
	listeners := p.onError
	p.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(err)
	}
	return err
}

func (p *Pipeline) emitMask(mask *segmentation.Mask) {
	p.listenersMu.RLock()
	listeners := p.onMask
	p.listenersMu.RUnlock()
	if len(listeners) == 0 {
		return
	}

	snapshot := mask.Clone()
	for _, fn := range listeners {
		fn(snapshot)
	}
}

func (p *Pipeline) recordDiagnosis(d tensors.Diagnosis) {
	p.diagMu.Lock()
	defer p.diagMu.Unlock()
	p.lastDiagnosis = &d
}

// LastDiagnosis returns the diagnosis of the most recent shape failure.
func (p *Pipeline) LastDiagnosis() (tensors.Diagnosis, bool) {
	p.diagMu.Lock()
	defer p.diagMu.Unlock()
	if p.lastDiagnosis == nil {
		return tensors.Diagnosis{}, false
	}
	return *p.lastDiagnosis, true
}

// Spec returns the current model spec.
func (p *Pipeline) Spec() (models.IOSpec, error) {
	var spec models.IOSpec
	err := p.admin(func() error {
		spec = p.spec
		return nil
	})
	return spec, err
}

// SetTargetClass changes the class extracted into the mask.
func (p *Pipeline) SetTargetClass(classID int) error {
	return p.admin(func() error {
		if err := checkTargetClass(classID, p.spec.ClassCount); err != nil {
			return err
		}
		p.targetClass = classID
		return nil
	})
}

// SetThreshold changes the activation threshold.
func (p *Pipeline) SetThreshold(threshold float32) error {
	return p.admin(func() error {
		p.threshold = threshold
		return nil
	})
}

// ResetTemporalState discards the stabilizer's previous frame.
func (p *Pipeline) ResetTemporalState() error {
	return p.admin(func() error {
		if p.stab != nil {
			p.stab.Reset()
		}
		return nil
	})
}

// Reconfigure replaces the model spec. The stabilizer is reset because the
// output geometry may change.
//
// Arguments:
//   - spec: The new spec.
//
// Returns:
//   - error: ErrBusy when a frame is in flight, or a validation error.
func (p *Pipeline) Reconfigure(spec models.IOSpec) error {
	return p.admin(func() error {
		return p.reconfigure(spec)
	})
}

// ApplySuggestion reconfigures the output geometry with the primary candidate
// of the last shape diagnosis.
//
// Returns:
//   - models.IOSpec: The spec now in use.
//   - error: ErrNoSuggestion when no candidate is known, or ErrBusy.
func (p *Pipeline) ApplySuggestion() (models.IOSpec, error) {
	var applied models.IOSpec
	err := p.admin(func() error {
		d, ok := p.LastDiagnosis()
		if !ok {
			return ErrNoSuggestion
		}
		c, ok := d.Primary()
		if !ok {
			return errors.Wrap(ErrNoSuggestion, d.String())
		}

		applied = p.spec.WithCandidate(c)
		if err := p.reconfigure(applied); err != nil {
			return err
		}

		p.diagMu.Lock()
		p.lastDiagnosis = nil
		p.diagMu.Unlock()

		p.logger.WithField("candidate", c.String()).Info("applied shape suggestion")
		return nil
	})
	return applied, err
}

func (p *Pipeline) reconfigure(spec models.IOSpec) error {
	if err := spec.Validate(); err != nil {
		return errors.Wrap(err, "model spec")
	}
	if err := checkTargetClass(p.targetClass, spec.ClassCount); err != nil {
		return err
	}
	p.configure(spec, p.decoder.Mode, p.encoder.Normalize)
	if p.stab != nil {
		p.stab.Reset()
	}
	return nil
}

// admin runs fn in the Configuring state.
func (p *Pipeline) admin(fn func() error) error {
	if !p.state.CompareAndSwap(int32(Idle), int32(Configuring)) {
		if p.State() == Closed {
			return ErrClosed
		}
		return ErrBusy
	}
	defer p.state.Store(int32(Idle))
	return fn()
}

// Close waits for the frame in flight, then releases the engine and the
// stabilizer state. Calling it more than once is a no-op. It must not be called
// from a listener.
func (p *Pipeline) Close() error {
	for !p.state.CompareAndSwap(int32(Idle), int32(Closed)) {
		if p.State() == Closed {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	p.wg.Wait()

	if p.stab != nil {
		p.stab.Reset()
	}

	p.logger.WithFields(logrus.Fields{
		"accepted":  p.stats.accepted.Load(),
		"completed": p.stats.completed.Load(),
		"skipped":   p.stats.skipped.Load(),
	}).Info("pipeline closed")

	return p.engine.Close()
}

func checkTargetClass(classID, classCount int) error {
	if classID < 0 || classID >= classCount {
		return errors.Errorf("target class %d out of range for %d classes", classID, classCount)
	}
	return nil
}

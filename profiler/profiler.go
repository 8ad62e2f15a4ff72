// Package profiler - Per-stage timing and metric tracking with periodic reports.
package profiler

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// StageProfiler tracks operation durations and custom metric values and
// periodically logs a summary.
//
// It is safe for concurrent use. Samples are kept in a bounded window.
type StageProfiler struct {
	reportInterval time.Duration
	maxSamples     int
	logger         logrus.FieldLogger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	startTime time.Time
	running   bool

	metrics    map[string]*MetricTracker
	operations map[string]*TimeTracker
}

// MetricTracker tracks statistics for a custom metric.
type MetricTracker struct {
	values []float64
	sum    float64
	min    float64
	max    float64
	count  int64
}

// TimeTracker tracks operation timing statistics.
type TimeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// Options configures the profiler.
type Options struct {
	// ReportInterval specifies how often to log a summary (default: 10s).
	ReportInterval time.Duration
	// MaxSamples specifies the window kept per operation (default: 600).
	MaxSamples int
	// Logger receives the reports. Defaults to the standard logrus logger.
	Logger logrus.FieldLogger
}

// OperationStats is a snapshot of one operation's timings over the window.
type OperationStats struct {
	Name  string
	Count int64
	Avg   time.Duration
	Min   time.Duration
	Max   time.Duration
}

// MetricStats is a snapshot of one metric over the window.
type MetricStats struct {
	Name  string
	Count int64
	Avg   float64
	Min   float64
	Max   float64
}

// Snapshot holds the current statistics.
type Snapshot struct {
	Uptime     time.Duration
	Goroutines int
	Operations []OperationStats
	Metrics    []MetricStats
}

// New creates a profiler with the specified options.
//
// Arguments:
// - opts: Configuration options for the profiler
//
// Returns:
// - A profiler that is not yet reporting
func New(opts Options) *StageProfiler {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 10 * time.Second
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 600
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &StageProfiler{
		reportInterval: opts.ReportInterval,
		maxSamples:     opts.MaxSamples,
		logger:         opts.Logger,
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
		metrics:        make(map[string]*MetricTracker),
		operations:     make(map[string]*TimeTracker),
	}
}

// Start begins periodic reporting. Calling it twice is a no-op.
func (p *StageProfiler) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.ctx.Err() != nil {
		return
	}

	p.running = true
	p.startTime = time.Now()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				p.Report()
			}
		}
	}()
}

// Stop ends reporting and waits for the report goroutine to exit.
func (p *StageProfiler) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
func (p *StageProfiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.Observe(name, time.Since(start))
	}
}

// Observe records one duration for an operation.
func (p *StageProfiler) Observe(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.operations[name]
	if !exists {
		tracker = &TimeTracker{minTime: d, maxTime: d}
		p.operations[name] = tracker
	}

	tracker.durations = append(tracker.durations, d)
	tracker.totalTime += d
	if len(tracker.durations) > p.maxSamples {
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}
	tracker.count++

	if d < tracker.minTime {
		tracker.minTime = d
	}
	if d > tracker.maxTime {
		tracker.maxTime = d
	}
}

// RecordMetric records a custom metric value.
//
// Arguments:
// - name: The name of the metric
// - value: The metric value to record
func (p *StageProfiler) RecordMetric(name string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.metrics[name]
	if !exists {
		tracker = &MetricTracker{min: value, max: value}
		p.metrics[name] = tracker
	}

	tracker.values = append(tracker.values, value)
	tracker.sum += value
	if len(tracker.values) > p.maxSamples {
		tracker.sum -= tracker.values[0]
		tracker.values = tracker.values[1:]
	}
	tracker.count++

	if value < tracker.min {
		tracker.min = value
	}
	if value > tracker.max {
		tracker.max = value
	}
}

// Snapshot returns the current statistics, sorted by name.
func (p *StageProfiler) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Snapshot{
		Uptime:     time.Since(p.startTime),
		Goroutines: runtime.NumGoroutine(),
	}

	for name, t := range p.operations {
		if len(t.durations) == 0 {
			continue
		}
		s.Operations = append(s.Operations, OperationStats{
			Name:  name,
			Count: t.count,
			Avg:   t.totalTime / time.Duration(len(t.durations)),
			Min:   t.minTime,
			Max:   t.maxTime,
		})
	}
	sort.Slice(s.Operations, func(i, j int) bool { return s.Operations[i].Name < s.Operations[j].Name })

	for name, m := range p.metrics {
		if len(m.values) == 0 {
			continue
		}
		s.Metrics = append(s.Metrics, MetricStats{
			Name:  name,
			Count: m.count,
			Avg:   m.sum / float64(len(m.values)),
			Min:   m.min,
			Max:   m.max,
		})
	}
	sort.Slice(s.Metrics, func(i, j int) bool { return s.Metrics[i].Name < s.Metrics[j].Name })

	return s
}

// Report logs the current statistics at info level.
func (p *StageProfiler) Report() {
	s := p.Snapshot()

	p.logger.WithFields(logrus.Fields{
		"uptime":     s.Uptime.Truncate(time.Millisecond),
		"goroutines": s.Goroutines,
	}).Info("profiler report")

	for _, op := range s.Operations {
		p.logger.WithFields(logrus.Fields{
			"operation": op.Name,
			"count":     op.Count,
			"avg":       op.Avg.Truncate(time.Microsecond),
			"min":       op.Min.Truncate(time.Microsecond),
			"max":       op.Max.Truncate(time.Microsecond),
		}).Info("operation timing")
	}

	for _, m := range s.Metrics {
		p.logger.WithFields(logrus.Fields{
			"metric": m.Name,
			"count":  m.Count,
			"avg":    m.Avg,
			"min":    m.Min,
			"max":    m.Max,
		}).Info("metric")
	}
}

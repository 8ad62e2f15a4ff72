// Package temporal - Frame to frame smoothing of segmentation masks.
package temporal

import (
	"sync"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-wallseg/segmentation"
)

// Config holds the smoothing parameters.
type Config struct {
	// BaseFactor is the weight of the current frame where pixels change a lot.
	BaseFactor float32 `yaml:"base_factor"`
	// SnapThreshold clamps blended values within this distance of 0 or 1.
	SnapThreshold float32 `yaml:"snap_threshold"`
}

// DefaultConfig returns the default smoothing parameters.
func DefaultConfig() Config {
	return Config{
		BaseFactor:    0.6,
		SnapThreshold: 0.1,
	}
}

// Validate checks the parameter ranges.
func (c Config) Validate() error {
	if c.BaseFactor <= 0 || c.BaseFactor > 1 {
		return errors.Errorf("base factor %v out of range (0,1]", c.BaseFactor)
	}
	if c.SnapThreshold < 0 || c.SnapThreshold >= 0.5 {
		return errors.Errorf("snap threshold %v out of range [0,0.5)", c.SnapThreshold)
	}
	return nil
}

// Stabilizer blends each mask with the previous one using an adaptive
// exponential moving average, then snaps near-binary values to 0 or 1.
type Stabilizer struct {
	mu     sync.Mutex
	cfg    Config
	prev   []float32
	width  int
	height int
}

// New creates a stabilizer.
//
// Arguments:
//   - cfg: The smoothing parameters.
//
// Returns:
//   - *Stabilizer: A stabilizer without prior state.
//   - error: An error if cfg is out of range.
func New(cfg Config) (*Stabilizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Stabilizer{cfg: cfg}, nil
}

// Config returns the smoothing parameters.
func (s *Stabilizer) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Stabilize smooths mask in place against the previous frame and keeps the
// unquantized result as the new previous frame.
//
// The first mask, and any mask whose size differs from the previous one, is
// returned unchanged.
//
// Arguments:
//   - mask: The freshly decoded mask. It is modified in place.
//
// Returns:
//   - *segmentation.Mask: mask itself.
func (s *Stabilizer) Stabilize(mask *segmentation.Mask) *segmentation.Mask {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.prev == nil || s.width != mask.Width || s.height != mask.Height {
		s.store(mask)
		return mask
	}

	base := s.cfg.BaseFactor
	snap := s.cfg.SnapThreshold

	for i, p := range mask.Pix {
		cur := float32(p) / 255
		prev := s.prev[i]

		d := math32.Abs(cur - prev)
		factor := lerp(base, base*0.5, clamp(1-d*5, 0, 1))
		v := lerp(prev, cur, factor)

		if v < snap {
			v = 0
		} else if v > 1-snap {
			v = 1
		}

		s.prev[i] = v
		mask.Pix[i] = uint8(math32.Round(v * 255))
	}

	return mask
}

// Reset discards the previous frame.
func (s *Stabilizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prev = nil
	s.width, s.height = 0, 0
}

// HasState reports whether a previous frame is held.
func (s *Stabilizer) HasState() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prev != nil
}

func (s *Stabilizer) store(mask *segmentation.Mask) {
	if cap(s.prev) >= len(mask.Pix) {
		s.prev = s.prev[:len(mask.Pix)]
	} else {
		s.prev = make([]float32, len(mask.Pix))
	}
	for i, p := range mask.Pix {
		s.prev[i] = float32(p) / 255
	}
	s.width, s.height = mask.Width, mask.Height
}

func lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

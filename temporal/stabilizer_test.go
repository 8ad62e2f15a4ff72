package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-wallseg/segmentation"
)

func newStabilizer(t *testing.T, cfg Config) *Stabilizer {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cases := []Config{
		{BaseFactor: 0, SnapThreshold: 0.1},
		{BaseFactor: 1.2, SnapThreshold: 0.1},
		{BaseFactor: 0.5, SnapThreshold: -0.1},
		{BaseFactor: 0.5, SnapThreshold: 0.5},
	}
	for _, cfg := range cases {
		_, err := New(cfg)
		assert.Error(t, err, "%+v", cfg)
	}
}

func TestFirstFrameIsUnchanged(t *testing.T) {
	s := newStabilizer(t, DefaultConfig())
	assert.False(t, s.HasState())

	m := segmentation.NewMask(3, 2)
	m.Set(1, 1, segmentation.On)
	want := m.Clone()

	got := s.Stabilize(m)
	assert.Same(t, m, got)
	assert.True(t, want.Equal(got))
	assert.True(t, s.HasState())
}

func TestFixedPoint(t *testing.T) {
	s := newStabilizer(t, DefaultConfig())

	m := segmentation.NewMask(4, 4)
	for x := 0; x < 4; x++ {
		m.Set(x, 0, segmentation.On)
	}
	want := m.Clone()

	s.Stabilize(m.Clone())
	for i := 0; i < 5; i++ {
		assert.True(t, want.Equal(s.Stabilize(m.Clone())), "an unchanging mask stays put")
	}
}

func TestConvergesTowardsCurrent(t *testing.T) {
	s := newStabilizer(t, DefaultConfig())

	s.Stabilize(segmentation.Uniform(1, 1, segmentation.Off))

	got := s.Stabilize(segmentation.Uniform(1, 1, segmentation.On))
	assert.InDelta(t, 153, int(got.Pix[0]), 1, "large change blends at the base factor")

	got = s.Stabilize(segmentation.Uniform(1, 1, segmentation.On))
	assert.InDelta(t, 214, int(got.Pix[0]), 1)

	got = s.Stabilize(segmentation.Uniform(1, 1, segmentation.On))
	assert.Equal(t, segmentation.On, got.Pix[0], "values near full scale snap")
}

func TestSnapToZero(t *testing.T) {
	s := newStabilizer(t, Config{BaseFactor: 0.6, SnapThreshold: 0.45})

	s.Stabilize(segmentation.Uniform(2, 2, segmentation.On))
	got := s.Stabilize(segmentation.Uniform(2, 2, segmentation.Off))
	assert.True(t, got.Equal(segmentation.Uniform(2, 2, segmentation.Off)), "0.4 is below the snap threshold")
}

func TestResetRestoresFirstCallBehaviour(t *testing.T) {
	s := newStabilizer(t, DefaultConfig())

	s.Stabilize(segmentation.Uniform(2, 2, segmentation.Off))
	s.Reset()
	assert.False(t, s.HasState())

	got := s.Stabilize(segmentation.Uniform(2, 2, segmentation.On))
	assert.True(t, got.Equal(segmentation.Uniform(2, 2, segmentation.On)))
}

func TestSizeChangeResets(t *testing.T) {
	s := newStabilizer(t, DefaultConfig())

	s.Stabilize(segmentation.Uniform(2, 2, segmentation.Off))
	got := s.Stabilize(segmentation.Uniform(3, 2, segmentation.On))
	assert.True(t, got.Equal(segmentation.Uniform(3, 2, segmentation.On)))
}

func TestDeterministic(t *testing.T) {
	frames := []*segmentation.Mask{
		segmentation.Uniform(3, 3, segmentation.Off),
		segmentation.Uniform(3, 3, segmentation.On),
		segmentation.Uniform(3, 3, 100),
		segmentation.Uniform(3, 3, segmentation.On),
	}
	frames[2].Set(1, 1, 0)

	run := func() []uint8 {
		s := newStabilizer(t, DefaultConfig())
		var out []uint8
		for _, f := range frames {
			out = append(out, s.Stabilize(f.Clone()).Pix...)
		}
		return out
	}

	assert.Equal(t, run(), run())
}

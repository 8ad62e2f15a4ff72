package segmentation

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-wallseg/images"
	"github.com/nvr-ai/go-wallseg/inference"
	"github.com/nvr-ai/go-wallseg/tensors"
)

// perPixel builds a 4x4 output with the same class scores at every pixel.
func perPixel(t *testing.T, layout tensors.Layout, scores ...float32) *tensors.Tensor {
	t.Helper()
	const h, w = 4, 4
	c := len(scores)
	data := make([]float32, h*w*c)
	for p := 0; p < h*w; p++ {
		for k, s := range scores {
			if layout == tensors.ChannelsFirst {
				data[k*h*w+p] = s
			} else {
				data[p*c+k] = s
			}
		}
	}
	out, err := tensors.New(tensors.ImageShape(h, w, c, layout), layout, data)
	require.NoError(t, err)
	return out
}

func TestDecodeTwoClassScenario(t *testing.T) {
	d := NewDecoder(tensors.NewResolver(4, 4), 2)

	for _, layout := range []tensors.Layout{tensors.ChannelsLast, tensors.ChannelsFirst} {
		off := perPixel(t, layout, 0.9, 0.1)
		mask, err := d.Decode(off, off.Shape(), layout, 1, 0.5)
		require.NoError(t, err)
		assert.True(t, mask.Equal(Uniform(4, 4, Off)), "%s: class 1 at 0.1 is off everywhere", layout)

		on := perPixel(t, layout, 0.1, 0.9)
		mask, err = d.Decode(on, on.Shape(), layout, 1, 0.5)
		require.NoError(t, err)
		assert.True(t, mask.Equal(Uniform(4, 4, On)), "%s: class 1 at 0.9 is on everywhere", layout)
	}
}

func TestDecodeThresholdIsInclusive(t *testing.T) {
	d := NewDecoder(nil, 2)
	out := perPixel(t, tensors.ChannelsLast, 0.5, 0.5)
	mask, err := d.Decode(out, out.Shape(), tensors.ChannelsLast, 0, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1.0, mask.Coverage())
}

func TestDecodeIndexMath(t *testing.T) {
	d := NewDecoder(nil, 2)

	// 2x2, 2 classes; class 1 set only at (1,0) and (0,1).
	nhwc, err := tensors.New(tensors.Shape{1, 2, 2, 2}, tensors.ChannelsLast, []float32{
		1, 0, 0, 1,
		0, 1, 1, 0,
	})
	require.NoError(t, err)
	mask, err := d.Decode(nhwc, nhwc.Shape(), tensors.ChannelsLast, 1, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []uint8{Off, On, On, Off}, mask.Pix)

	nchw, err := tensors.New(tensors.Shape{1, 2, 2, 2}, tensors.ChannelsFirst, []float32{
		1, 0, 0, 1, // class 0 plane
		0, 1, 1, 0, // class 1 plane
	})
	require.NoError(t, err)
	mask, err = d.Decode(nchw, nchw.Shape(), tensors.ChannelsFirst, 1, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []uint8{Off, On, On, Off}, mask.Pix)
}

func TestDecodeClassIDMap(t *testing.T) {
	d := NewDecoder(nil, 150)
	ids, err := tensors.New(tensors.Shape{1, 2, 2}, tensors.ChannelsLast, []float32{0, 3, 2.6, 0.2})
	require.NoError(t, err)

	mask, err := d.Decode(ids, ids.Shape(), tensors.ChannelsLast, 3, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 2, mask.Width)
	assert.Equal(t, 2, mask.Height)
	assert.Equal(t, []uint8{Off, On, On, Off}, mask.Pix, "values are rounded before comparison")
}

func TestDecodeArgmaxMode(t *testing.T) {
	d := NewDecoder(nil, 3)
	d.Mode = ModeArgmax

	out := perPixel(t, tensors.ChannelsFirst, 0.2, 0.3, 0.25)
	mask, err := d.Decode(out, out.Shape(), tensors.ChannelsFirst, 1, 0.99)
	require.NoError(t, err)
	assert.True(t, mask.Equal(Uniform(4, 4, On)), "argmax ignores the threshold")

	mask, err = d.Decode(out, out.Shape(), tensors.ChannelsFirst, 2, 0)
	require.NoError(t, err)
	assert.True(t, mask.Equal(Uniform(4, 4, Off)))
}

func TestDecodeShapeMismatch(t *testing.T) {
	d := NewDecoder(tensors.NewResolver(4, 4), 2)

	flat, err := tensors.New(tensors.Shape{32}, tensors.ChannelsLast, make([]float32, 32))
	require.NoError(t, err)
	_, err = d.Decode(flat, flat.Shape(), tensors.ChannelsLast, 1, 0.5)
	require.True(t, errors.Is(err, tensors.ErrShapeMismatch), "fewer than 3 dims")

	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.True(t, mismatch.Diagnosis.Contains(4, 4), "diagnosis proposes the real geometry")

	out := perPixel(t, tensors.ChannelsLast, 0.1, 0.9)
	_, err = d.Decode(out, out.Shape(), tensors.ChannelsLast, 2, 0.5)
	assert.True(t, errors.Is(err, tensors.ErrShapeMismatch), "target class beyond channels")

	_, err = d.Decode(out, tensors.Shape{1, 4, 4, 3}, tensors.ChannelsLast, 1, 0.5)
	assert.True(t, errors.Is(err, tensors.ErrShapeMismatch), "shape disagrees with buffer")

	d103 := NewDecoder(tensors.NewResolver(60, 40), 103)
	odd, err := tensors.New(tensors.Shape{7200}, tensors.ChannelsLast, make([]float32, 7200))
	require.NoError(t, err)
	_, err = d103.Decode(odd, odd.Shape(), tensors.ChannelsLast, 0, 0.5)
	assert.True(t, errors.Is(err, tensors.ErrFormatMismatch), "7200 elements cannot hold 103 classes")
	require.True(t, errors.As(err, &mismatch))
	assert.Empty(t, mismatch.Diagnosis.Candidates)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	// Pure red, green and blue frames stand for classes 0, 1 and 2.
	colors := [][3]uint8{{255, 0, 0}, {0, 255, 0}, {0, 0, 255}}
	d := NewDecoder(tensors.NewResolver(8, 8), 3)

	for _, layout := range []tensors.Layout{tensors.ChannelsLast, tensors.ChannelsFirst} {
		for k, c := range colors {
			f := images.Uniform(16, 12, c[0], c[1], c[2], 1)
			encoded, err := inference.Encode(f.Pix, f.Width, f.Height, 8, 8, 3, layout, true)
			require.NoError(t, err)

			mask, err := d.Decode(encoded, encoded.Shape(), layout, k, 0.5)
			require.NoError(t, err)
			assert.True(t, mask.Equal(Uniform(8, 8, On)), "%s class %d decodes fully on", layout, k)

			if k+1 < len(colors) {
				mask, err = d.Decode(encoded, encoded.Shape(), layout, k+1, 0.5)
				require.NoError(t, err)
				assert.True(t, mask.Equal(Uniform(8, 8, Off)), "%s class %d decodes fully off", layout, k+1)
			}
		}
	}
}

func TestMaskScaleAndGray(t *testing.T) {
	m := NewMask(2, 2)
	m.Set(1, 0, On)

	big := m.Scale(4, 4)
	assert.Equal(t, 4, big.Width)
	assert.Equal(t, On, big.At(3, 0))
	assert.Equal(t, On, big.At(2, 1))
	assert.Equal(t, Off, big.At(0, 3))
	assert.Equal(t, 0.25, big.Coverage())

	same := m.Scale(2, 2)
	same.Set(0, 0, On)
	assert.Equal(t, Off, m.At(0, 0), "scaling never shares pixels")

	g := m.Gray()
	assert.Equal(t, On, g.GrayAt(1, 0).Y)
}

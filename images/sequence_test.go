package images

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, dir, name string) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, getTestImage()))
}

func TestLoadSequence(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "frame-10.png")
	writePNG(t, dir, "frame-2.png")
	writePNG(t, dir, "frame-0001.png")
	writePNG(t, dir, "cover.png")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes-3.txt"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub-4.png"), 0o700))

	files, err := LoadSequence(dir)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, 1, files[0].Index)
	assert.Equal(t, 2, files[1].Index)
	assert.Equal(t, 10, files[2].Index)

	frame, err := files[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, 100, frame.Width)
	assert.Equal(t, int64(2), frame.Timestamp)
	assert.Equal(t, PixelFormatRGBA, frame.Format)
	assert.Equal(t, uint8(255), frame.Pix[0])
	assert.NoError(t, frame.Validate())
}

func TestLoadSequenceMissingDir(t *testing.T) {
	_, err := LoadSequence(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestTrailingNumber(t *testing.T) {
	n, ok := trailingNumber("frame-0042")
	assert.True(t, ok)
	assert.Equal(t, 42, n)

	_, ok = trailingNumber("cover")
	assert.False(t, ok)
}

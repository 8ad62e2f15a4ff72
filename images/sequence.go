package images

import (
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/webp" // register decoder
)

// SequenceFile is one image of a numbered frame sequence on disk.
type SequenceFile struct {
	// Path is the path to the image file.
	Path string
	// Index is the frame number parsed from the file name.
	Index int
}

// LoadSequence lists the image files of a directory ordered by frame number.
//
// File names end with the frame number, optionally behind a prefix, such as
// frame-0001.png or 000042.jpg. Files without a number are skipped.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []SequenceFile: The files ordered by frame number.
// - error: Error if the directory cannot be read.
func LoadSequence(dir string) ([]SequenceFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read sequence %s", dir)
	}

	var files []SequenceFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		switch ext {
		case ".jpg", ".jpeg", ".png", ".bmp", ".webp":
		default:
			continue
		}

		index, ok := trailingNumber(strings.TrimSuffix(name, filepath.Ext(name)))
		if !ok {
			continue
		}
		files = append(files, SequenceFile{Path: filepath.Join(dir, name), Index: index})
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Index < files[j].Index
	})

	return files, nil
}

// Decode reads the file into a frame. The timestamp is Index+1 so the first
// frame of a sequence is never mistaken for an invalid one.
func (s SequenceFile) Decode() (Frame, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "open %s", s.Path)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "decode %s", s.Path)
	}
	return FromImage(img, int64(s.Index)+1), nil
}

func trailingNumber(name string) (int, bool) {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	if i == len(name) {
		return 0, false
	}
	n, err := strconv.Atoi(name[i:])
	if err != nil {
		return 0, false
	}
	return n, true
}

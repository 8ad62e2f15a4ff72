// Package tensors - Dense float32 tensors, layouts and output shape resolution.
package tensors

import (
	"strings"

	"github.com/pkg/errors"
)

// Layout is the dimension ordering of an image tensor.
type Layout int

const (
	// LayoutAuto asks the model loader to detect the layout from declared dimensions.
	// It is only valid as a configuration value.
	LayoutAuto Layout = iota
	// ChannelsLast orders dimensions as (batch, height, width, channels), also known as NHWC.
	ChannelsLast
	// ChannelsFirst orders dimensions as (batch, channels, height, width), also known as NCHW.
	ChannelsFirst
)

// String returns the canonical name of the layout.
func (l Layout) String() string {
	switch l {
	case ChannelsLast:
		return "nhwc"
	case ChannelsFirst:
		return "nchw"
	case LayoutAuto:
		return "auto"
	default:
		return "unknown"
	}
}

// Concrete reports whether the layout names an actual memory ordering.
func (l Layout) Concrete() bool {
	return l == ChannelsLast || l == ChannelsFirst
}

// Transposed returns the other concrete layout. LayoutAuto is returned unchanged.
func (l Layout) Transposed() Layout {
	switch l {
	case ChannelsLast:
		return ChannelsFirst
	case ChannelsFirst:
		return ChannelsLast
	default:
		return l
	}
}

// ParseLayout parses a layout name.
//
// Arguments:
//   - s: One of "auto", "nhwc", "channels_last", "nchw", "channels_first" (case-insensitive).
//
// Returns:
//   - Layout: The parsed layout.
//   - error: An error if the name is not recognised.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return LayoutAuto, nil
	case "nhwc", "channels_last", "channelslast":
		return ChannelsLast, nil
	case "nchw", "channels_first", "channelsfirst":
		return ChannelsFirst, nil
	default:
		return LayoutAuto, errors.Errorf("unknown tensor layout %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Layout) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Layout) UnmarshalText(text []byte) error {
	parsed, err := ParseLayout(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidMode = errors.New("invalid frame size mode")

// FrameSizeMode is the frame duration of the source stream in milliseconds.
// Only Mode20ms and Mode30ms are legal.
type FrameSizeMode int

const (
	Mode20ms FrameSizeMode = 20
	Mode30ms FrameSizeMode = 30
)

// Modes lists the supported frame size modes.
var Modes = []FrameSizeMode{Mode20ms, Mode30ms}

func (m FrameSizeMode) String() string {
	return strconv.Itoa(int(m)) + "ms"
}

// Validate returns ErrInvalidMode for anything outside Modes.
func (m FrameSizeMode) Validate() error {
	if slices.Contains(Modes, m) {
		return nil
	}
	return fmt.Errorf("%w: %d", ErrInvalidMode, int(m))
}

// Duration is the length of one frame.
func (m FrameSizeMode) Duration() time.Duration {
	return time.Duration(m) * time.Millisecond
}

// Samples returns the number of samples per channel in one frame at sampleRate.
func (m FrameSizeMode) Samples(sampleRate int) int {
	return sampleRate * int(m) / 1000
}

// ParseMode accepts "20", "30", "20ms" and "30ms".
func ParseMode(s string) (FrameSizeMode, error) {
	s = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(s)), "ms")
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	m := FrameSizeMode(v)
	if err := m.Validate(); err != nil {
		return 0, err
	}
	return m, nil
}

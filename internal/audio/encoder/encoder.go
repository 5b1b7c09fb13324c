package encoder

import (
	"errors"
	"fmt"
)

var (
	ErrFrameSize   = errors.New("frame length does not match encoder frame size")
	ErrEncoderNil  = errors.New("encoder is nil")
	ErrEncoderDone = errors.New("encoder already flushed")
	// ErrInit means the codec could not be opened with the requested
	// parameters. A backend that only finds out after it has started (an
	// external process exiting before any output) reports it from Encode or
	// Flush.
	ErrInit = errors.New("codec initialisation failed")
	// ErrBackendMissing means the codec implementation is not installed.
	ErrBackendMissing = errors.New("codec backend not installed")
)

// Encoder turns fixed size frames of 16-bit mono samples into compressed
// chunks.
//
// Encode may return an empty chunk when the codec is buffering internally.
// Once input has ended the caller calls Flush until it returns an empty
// chunk; Encode must not be called after the first Flush.
type Encoder interface {
	Encode(frame []int16) ([]byte, error)
	Flush() ([]byte, error)
	// FrameSamples is the exact frame length Encode accepts.
	FrameSamples() int
	SampleRate() int
	Close() error
}

func checkFrame(frame []int16, want int) error {
	if len(frame) != want {
		return fmt.Errorf("%w: got %d samples, want %d", ErrFrameSize, len(frame), want)
	}
	return nil
}

// Package pipeline drives a frame oriented transcode: decode source frames,
// re-frame the linear samples for the target encoder, pad the tail with
// silence, drain the encoder and collect its output.
package pipeline

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/joelsemar/django-webservice-tools/internal/audio/config"
	"github.com/joelsemar/django-webservice-tools/internal/audio/convert"
	"github.com/joelsemar/django-webservice-tools/internal/audio/decoder"
	"github.com/joelsemar/django-webservice-tools/internal/audio/encoder"
)

var (
	ErrCodecsNil      = errors.New("codecs cannot be nil")
	ErrEncoderNil     = errors.New("encoder cannot be nil")
	ErrTruncatedFrame = errors.New("input ends inside an encoded frame")
	ErrPartialSample  = errors.New("input is not a whole number of samples")
	ErrNoProgress     = errors.New("codec made no progress")
	ErrSessionClosed  = errors.New("session closed")
)

// DefaultExpansionFactor sizes the output buffer when Options leaves it unset.
const DefaultExpansionFactor = 2.0

// maxFlushCalls bounds the drain loop against an encoder that never reports
// empty.
const maxFlushCalls = 1 << 20

// Codecs opens the codec instances of one session. NewDecoder returns a nil
// Decoder when the input is already linear PCM.
type Codecs interface {
	NewDecoder(mode config.FrameSizeMode) (decoder.Decoder, error)
	NewEncoder(mode config.FrameSizeMode) (encoder.Encoder, error)
}

type Options struct {
	Codecs Codecs

	// InputFormat is the layout of raw input when there is no decoder.
	// Decoded samples are always s16le.
	InputFormat convert.SampleFormat

	// SizeHint is the expected input length, used with ExpansionFactor to
	// size the output buffer up front.
	SizeHint        int
	ExpansionFactor float64
	// MaxOutputBytes fails the session with outbuf.ErrAllocation once output
	// would pass it. Zero means unbounded.
	MaxOutputBytes int

	// ID tags log lines and chunks; empty is fine.
	ID       string
	Logger   *zerolog.Logger
	Sink     ChunkSink
	Observer Observer

	pad func(buf []byte, n, frameLen int, f convert.SampleFormat) []byte
}

// Transcode runs a whole input through one session and returns the
// concatenated encoder output.
func Transcode(mode config.FrameSizeMode, input []byte, opts Options) ([]byte, error) {
	if opts.SizeHint == 0 {
		opts.SizeHint = len(input)
	}
	s, err := NewSession(mode, opts)
	if err != nil {
		return nil, err
	}
	if _, err := s.Write(input); err != nil {
		return nil, err
	}
	return s.Finish()
}

package decoder

import (
	"errors"
	"fmt"
	"io"

	"github.com/joelsemar/django-webservice-tools/internal/audio/convert"
)

var (
	// ErrShortFrame means encoded holds less than one complete frame. The
	// caller keeps the bytes and retries once more input has arrived.
	ErrShortFrame = errors.New("incomplete encoded frame")
	ErrBadFrame   = errors.New("malformed encoded frame")
)

// Decoder turns one source frame into a fixed block of 16-bit samples.
type Decoder interface {
	// DecodeFrame decodes the frame at the start of encoded and reports how
	// many bytes it occupied. The returned samples are only valid until the
	// next call.
	DecodeFrame(encoded []byte) (samples []int16, consumed int, err error)
	FrameSamples() int
	SampleRate() int
	Close() error
}

// Backend is a raw codec. It decodes to float samples on the int16 scale and
// does not clamp; FrameDecoder does that.
type Backend interface {
	// FrameBytes reports the length of the frame starting at encoded, as
	// declared by the format itself.
	FrameBytes(encoded []byte) (int, error)
	// Decode fills block (FrameSamples long) from exactly one frame.
	Decode(block []float32, frame []byte) error
	FrameSamples() int
	SampleRate() int
}

// FrameDecoder adapts a Backend to Decoder, saturating every sample into
// [convert.MinSample, convert.MaxSample].
type FrameDecoder struct {
	backend Backend
	block   []float32
	out     []int16
}

func NewFrameDecoder(b Backend) *FrameDecoder {
	return &FrameDecoder{
		backend: b,
		block:   make([]float32, b.FrameSamples()),
		out:     make([]int16, b.FrameSamples()),
	}
}

func (d *FrameDecoder) DecodeFrame(encoded []byte) ([]int16, int, error) {
	n, err := d.backend.FrameBytes(encoded)
	if err != nil {
		return nil, 0, err
	}
	if n <= 0 {
		return nil, 0, fmt.Errorf("%w: frame length %d", ErrBadFrame, n)
	}
	if n > len(encoded) {
		return nil, 0, ErrShortFrame
	}
	if err := d.backend.Decode(d.block, encoded[:n]); err != nil {
		return nil, 0, err
	}
	d.out = convert.ClampSamples(d.out, d.block)
	return d.out, n, nil
}

func (d *FrameDecoder) FrameSamples() int { return d.backend.FrameSamples() }

func (d *FrameDecoder) SampleRate() int { return d.backend.SampleRate() }

// Close releases the backend if it holds resources.
func (d *FrameDecoder) Close() error {
	if c, ok := d.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

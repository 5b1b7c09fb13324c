//go:build opus

package decoder

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// maxOpusPacketMs is the longest duration a single opus packet may carry.
const maxOpusPacketMs = 120

// OpusDecoder reads opus packets framed with a 2 byte big-endian length
// prefix. Every packet must decode to exactly one frame.
type OpusDecoder struct {
	dec          *opus.Decoder
	sampleRate   int
	frameSamples int
	pcm          []float32
}

func NewOpusDecoder(sampleRate, frameSamples int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, err
	}
	return &OpusDecoder{
		dec:          dec,
		sampleRate:   sampleRate,
		frameSamples: frameSamples,
		pcm:          make([]float32, sampleRate*maxOpusPacketMs/1000),
	}, nil
}

func (d *OpusDecoder) FrameBytes(encoded []byte) (int, error) {
	if len(encoded) < 2 {
		return 0, ErrShortFrame
	}
	n := int(binary.BigEndian.Uint16(encoded))
	if n == 0 {
		return 0, fmt.Errorf("%w: empty opus packet", ErrBadFrame)
	}
	return 2 + n, nil
}

// Decode scales libopus float output back to the int16 range. Overshoot past
// full scale is left for the caller to saturate.
func (d *OpusDecoder) Decode(block []float32, frame []byte) error {
	n, err := d.dec.DecodeFloat32(frame[2:], d.pcm)
	if err != nil {
		return err
	}
	if n != d.frameSamples {
		return fmt.Errorf("%w: opus packet holds %d samples, expected %d", ErrBadFrame, n, d.frameSamples)
	}
	for i, v := range d.pcm[:n] {
		block[i] = v * 32768
	}
	return nil
}

func (d *OpusDecoder) FrameSamples() int { return d.frameSamples }

func (d *OpusDecoder) SampleRate() int { return d.sampleRate }

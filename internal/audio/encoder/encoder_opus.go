//go:build opus

package encoder

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/joelsemar/django-webservice-tools/internal/audio/convert"

	"gopkg.in/hraban/opus.v2"
)

// Допустимые frame sizes для 48kHz (мс): 2.5ms=120, 5ms=240, 10ms=480, 20ms=960, 40ms=1920, 60ms=2880
var ErrInvalidFrameSize = errors.New("invalid opus frame size for given sampleRate")

const maxOpusPacket = 4000

// OpusEncoder emits one opus packet per frame, each preceded by its length as
// a 2 byte big-endian integer.
type OpusEncoder struct {
	enc          *opus.Encoder
	sampleRate   int
	frameSamples int
	dtx          bool
	flushed      bool
	packet       []byte
}

// NewOpusEncoder creates a mono VoIP encoder. bitrate <= 0 keeps the libopus default.
func NewOpusEncoder(sampleRate, frameSamples, bitrate int) (*OpusEncoder, error) {
	if !convert.IsFrameSizeValid(sampleRate, frameSamples) {
		return nil, fmt.Errorf("%w: %d samples at %d Hz", ErrInvalidFrameSize, frameSamples, sampleRate)
	}
	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	if bitrate > 0 {
		if err := enc.SetBitrate(bitrate); err != nil {
			return nil, fmt.Errorf("failed to set bitrate: %w", err)
		}
	}
	return &OpusEncoder{
		enc:          enc,
		sampleRate:   sampleRate,
		frameSamples: frameSamples,
		packet:       make([]byte, maxOpusPacket),
	}, nil
}

// SetDTX enables discontinuous transmission. Packets libopus marks as
// no-voice are dropped.
func (e *OpusEncoder) SetDTX(on bool) error {
	if err := e.enc.SetDTX(on); err != nil {
		return fmt.Errorf("failed to enable DTX: %w", err)
	}
	e.dtx = on
	return nil
}

func (e *OpusEncoder) Encode(frame []int16) ([]byte, error) {
	if e.flushed {
		return nil, ErrEncoderDone
	}
	if err := checkFrame(frame, e.frameSamples); err != nil {
		return nil, err
	}
	n, err := e.enc.Encode(frame, e.packet)
	if err != nil {
		return nil, err
	}
	if e.dtx && n < 3 {
		// very small packet, likely DTX/no voice
		return nil, nil
	}
	out := make([]byte, 2, 2+n)
	binary.BigEndian.PutUint16(out, uint16(n))
	return append(out, e.packet[:n]...), nil
}

// Flush returns nothing; every packet is emitted by the Encode call that
// produced it.
func (e *OpusEncoder) Flush() ([]byte, error) {
	e.flushed = true
	return nil, nil
}

func (e *OpusEncoder) FrameSamples() int { return e.frameSamples }

func (e *OpusEncoder) SampleRate() int { return e.sampleRate }

func (e *OpusEncoder) Close() error { return nil }

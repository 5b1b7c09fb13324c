//go:build samplerate

// Package resample adapts an encoder running at one sample rate to frames
// arriving at another.
package resample

import (
	"fmt"

	"github.com/dh1tw/gosamplerate"

	"github.com/joelsemar/django-webservice-tools/internal/audio/convert"
	"github.com/joelsemar/django-webservice-tools/internal/audio/encoder"
)

// Quality levels map to libsamplerate converter types.
const (
	QualityBest   = gosamplerate.SRC_SINC_BEST_QUALITY
	QualityMedium = gosamplerate.SRC_SINC_MEDIUM_QUALITY
	QualityFast   = gosamplerate.SRC_SINC_FASTEST
	QualityLinear = gosamplerate.SRC_LINEAR
)

// Resampler is an encoder.Encoder taking frames at fromRate and feeding the
// wrapped encoder full frames at its own rate. The most recent input frame is
// held back so it can be submitted as end of input when flushing; together
// with the converter's filter history this means output trails input.
type Resampler struct {
	inner        encoder.Encoder
	src          gosamplerate.Src
	ratio        float64
	fromRate     int
	frameSamples int

	held    []float32
	hasHeld bool
	pending []float32
	frame   []int16

	tailDone bool
	closed   bool
}

// New wraps inner. One inner frame must correspond to a whole number of
// samples at fromRate.
func New(inner encoder.Encoder, fromRate int, quality int) (*Resampler, error) {
	if inner == nil {
		return nil, encoder.ErrEncoderNil
	}
	toRate := inner.SampleRate()
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("resample: invalid rates %d -> %d", fromRate, toRate)
	}
	innerFrame := inner.FrameSamples()
	if innerFrame*fromRate%toRate != 0 {
		return nil, fmt.Errorf("resample: %d samples at %d Hz is not a whole frame at %d Hz", innerFrame, toRate, fromRate)
	}
	frameSamples := innerFrame * fromRate / toRate
	ratio := float64(toRate) / float64(fromRate)

	bufLen := 4 * max(frameSamples, innerFrame)
	src, err := gosamplerate.New(quality, 1, bufLen)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	return &Resampler{
		inner:        inner,
		src:          src,
		ratio:        ratio,
		fromRate:     fromRate,
		frameSamples: frameSamples,
		held:         make([]float32, frameSamples),
		frame:        make([]int16, innerFrame),
	}, nil
}

func (r *Resampler) Encode(frame []int16) ([]byte, error) {
	if len(frame) != r.frameSamples {
		return nil, fmt.Errorf("%w: got %d samples, want %d", encoder.ErrFrameSize, len(frame), r.frameSamples)
	}
	var chunk []byte
	if r.hasHeld {
		if err := r.process(false); err != nil {
			return nil, err
		}
		var err error
		if chunk, err = r.drainFrames(); err != nil {
			return nil, err
		}
	}
	for i, v := range frame {
		r.held[i] = float32(v) / 32768
	}
	r.hasHeld = true
	return chunk, nil
}

// process runs the held frame through the converter.
func (r *Resampler) process(last bool) error {
	out, err := r.src.Process(r.held, r.ratio, last)
	if err != nil {
		return fmt.Errorf("resample: %w", err)
	}
	r.hasHeld = false
	r.pending = append(r.pending, out...)
	return nil
}

// drainFrames encodes every complete inner frame in pending.
func (r *Resampler) drainFrames() ([]byte, error) {
	var chunk []byte
	n := len(r.frame)
	for len(r.pending) >= n {
		for i, v := range r.pending[:n] {
			r.frame[i] = convert.ClampSample(v * 32768)
		}
		r.pending = r.pending[n:]
		c, err := r.inner.Encode(r.frame)
		if err != nil {
			return nil, err
		}
		chunk = append(chunk, c...)
	}
	return chunk, nil
}

// Flush first pushes the converter's tail through the inner encoder,
// padding the last inner frame with silence, and then drains the inner
// encoder.
func (r *Resampler) Flush() ([]byte, error) {
	if !r.tailDone {
		r.tailDone = true
		if r.hasHeld {
			if err := r.process(true); err != nil {
				return nil, err
			}
		}
		if pad := convert.PadLength(len(r.pending), len(r.frame)); pad > 0 {
			r.pending = append(r.pending, make([]float32, pad)...)
		}
		chunk, err := r.drainFrames()
		if err != nil {
			return nil, err
		}
		if len(chunk) > 0 {
			return chunk, nil
		}
	}
	return r.inner.Flush()
}

func (r *Resampler) FrameSamples() int { return r.frameSamples }

func (r *Resampler) SampleRate() int { return r.fromRate }

// Close frees the converter and closes the inner encoder.
func (r *Resampler) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if err := gosamplerate.Delete(r.src); err != nil {
		_ = r.inner.Close()
		return fmt.Errorf("resample: %w", err)
	}
	return r.inner.Close()
}

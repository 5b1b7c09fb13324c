package encoder

import "github.com/joelsemar/django-webservice-tools/internal/audio/convert"

// LinearEncoder writes frames as raw PCM in a fixed sample format.
type LinearEncoder struct {
	format       convert.SampleFormat
	frameSamples int
	sampleRate   int
	flushed      bool
}

func NewLinearEncoder(format convert.SampleFormat, sampleRate, frameSamples int) *LinearEncoder {
	return &LinearEncoder{format: format, sampleRate: sampleRate, frameSamples: frameSamples}
}

func (e *LinearEncoder) Encode(frame []int16) ([]byte, error) {
	if e.flushed {
		return nil, ErrEncoderDone
	}
	if err := checkFrame(frame, e.frameSamples); err != nil {
		return nil, err
	}
	return e.format.Encode(make([]byte, 0, len(frame)*e.format.Width()), frame), nil
}

func (e *LinearEncoder) Flush() ([]byte, error) {
	e.flushed = true
	return nil, nil
}

func (e *LinearEncoder) FrameSamples() int { return e.frameSamples }

func (e *LinearEncoder) SampleRate() int { return e.sampleRate }

func (e *LinearEncoder) Close() error { return nil }

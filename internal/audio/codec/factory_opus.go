//go:build opus

package codec

import (
	"fmt"

	"github.com/joelsemar/django-webservice-tools/internal/audio/decoder"
	"github.com/joelsemar/django-webservice-tools/internal/audio/encoder"
)

func newOpusDecoder(sampleRate, frameSamples int) (decoder.Backend, error) {
	dec, err := decoder.NewOpusDecoder(sampleRate, frameSamples)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodecInit, err)
	}
	return dec, nil
}

func newOpusEncoder(sampleRate, frameSamples, bitrate int, dtx bool) (encoder.Encoder, error) {
	enc, err := encoder.NewOpusEncoder(sampleRate, frameSamples, bitrate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodecInit, err)
	}
	if dtx {
		if err := enc.SetDTX(true); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCodecInit, err)
		}
	}
	return enc, nil
}

//go:build !opus

package codec

import (
	"fmt"

	"github.com/joelsemar/django-webservice-tools/internal/audio/decoder"
	"github.com/joelsemar/django-webservice-tools/internal/audio/encoder"
)

// В версии без opus доступны только G.711, L16 и ffmpeg

func newOpusDecoder(sampleRate, frameSamples int) (decoder.Backend, error) {
	return nil, fmt.Errorf("%w: opus codec requires the opus build tag", ErrDecoderUnavailable)
}

func newOpusEncoder(sampleRate, frameSamples, bitrate int, dtx bool) (encoder.Encoder, error) {
	return nil, fmt.Errorf("%w: opus codec requires the opus build tag", ErrEncoderUnavailable)
}

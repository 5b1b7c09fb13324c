//go:build !samplerate

package codec

import (
	"fmt"

	"github.com/joelsemar/django-webservice-tools/internal/audio/encoder"
)

func newResampler(enc encoder.Encoder, fromRate int) (encoder.Encoder, error) {
	return nil, fmt.Errorf("%w: %d Hz output requires the samplerate build tag", ErrEncoderUnavailable, enc.SampleRate())
}

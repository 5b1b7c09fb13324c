//go:build samplerate

package codec

import (
	"fmt"

	"github.com/joelsemar/django-webservice-tools/internal/audio/encoder"
	"github.com/joelsemar/django-webservice-tools/internal/audio/resample"
)

func newResampler(enc encoder.Encoder, fromRate int) (encoder.Encoder, error) {
	r, err := resample.New(enc, fromRate, resample.QualityMedium)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodecInit, err)
	}
	return r, nil
}

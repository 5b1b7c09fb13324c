package encoder

import "math"

const (
	muBias = 0x84
	muClip = 32635

	// EnergyThreshold is the RMS level below which a frame counts as silence
	// when DTX is enabled.
	EnergyThreshold = 500
)

var alawSegEnd = [8]int32{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}

// G711Encoder compands frames to one byte per sample.
type G711Encoder struct {
	frameSamples int
	compress     func(int16) byte
	dtx          bool
	flushed      bool
}

func NewPCMUEncoder(frameSamples int) *G711Encoder {
	return &G711Encoder{frameSamples: frameSamples, compress: Linear16ToMuLaw}
}

func NewPCMAEncoder(frameSamples int) *G711Encoder {
	return &G711Encoder{frameSamples: frameSamples, compress: Linear16ToALaw}
}

// SetDTX drops frames that look like silence instead of encoding them.
func (e *G711Encoder) SetDTX(on bool) {
	e.dtx = on
}

func (e *G711Encoder) Encode(frame []int16) ([]byte, error) {
	if e.flushed {
		return nil, ErrEncoderDone
	}
	if err := checkFrame(frame, e.frameSamples); err != nil {
		return nil, err
	}
	if e.dtx && isSilence(frame) {
		return nil, nil
	}
	out := make([]byte, len(frame))
	for i, s := range frame {
		out[i] = e.compress(s)
	}
	return out, nil
}

// Flush returns nothing; G.711 has no lookahead.
func (e *G711Encoder) Flush() ([]byte, error) {
	e.flushed = true
	return nil, nil
}

func (e *G711Encoder) FrameSamples() int { return e.frameSamples }

func (e *G711Encoder) SampleRate() int { return 8000 }

func (e *G711Encoder) Close() error { return nil }

func Linear16ToMuLaw(sample int16) byte {
	s := int32(sample)
	sign := byte(0)
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > muClip {
		s = muClip
	}
	s += muBias
	exponent := uint8(7)
	mask := int32(0x4000)
	for (s&mask) == 0 && exponent > 0 {
		mask >>= 1
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F
	return ^(sign | (exponent << 4) | mantissa)
}

func Linear16ToALaw(sample int16) byte {
	pcm := int32(sample) >> 3
	mask := byte(0xD5)
	if pcm < 0 {
		mask = 0x55
		pcm = -pcm - 1
	}
	seg := 0
	for seg < len(alawSegEnd) && pcm > alawSegEnd[seg] {
		seg++
	}
	if seg >= len(alawSegEnd) {
		return 0x7F ^ mask
	}
	aval := byte(seg) << 4
	if seg < 2 {
		aval |= byte(pcm>>1) & 0x0F
	} else {
		aval |= byte(pcm>>seg) & 0x0F
	}
	return aval ^ mask
}

// Simple silence detection based on RMS energy and zero-crossing rate
func isSilence(frame []int16) bool {
	if len(frame) == 0 {
		return true
	}
	var sumSquares float64
	for _, sample := range frame {
		sumSquares += float64(sample) * float64(sample)
	}
	rms := math.Sqrt(sumSquares / float64(len(frame)))

	if rms < EnergyThreshold {
		return true
	}

	var zeroCrossings int
	for i := 1; i < len(frame); i++ {
		if (frame[i-1] >= 0 && frame[i] < 0) || (frame[i-1] < 0 && frame[i] >= 0) {
			zeroCrossings++
		}
	}
	zcr := float64(zeroCrossings) / float64(len(frame))

	return zcr < 0.1
}

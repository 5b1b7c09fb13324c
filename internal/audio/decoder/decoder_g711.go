package decoder

// Mu-law decode (G.711 PCMU)
const muBias = 0x84

// G711Decoder decodes fixed size G.711 frames, one byte per sample.
type G711Decoder struct {
	frameSamples int
	sampleRate   int
	expand       func(byte) int16
}

// NewPCMUDecoder returns a mu-law backend with frames of frameSamples bytes.
func NewPCMUDecoder(sampleRate, frameSamples int) *G711Decoder {
	return &G711Decoder{frameSamples: frameSamples, sampleRate: sampleRate, expand: MuLawToLinear16}
}

// NewPCMADecoder returns an a-law backend with frames of frameSamples bytes.
func NewPCMADecoder(sampleRate, frameSamples int) *G711Decoder {
	return &G711Decoder{frameSamples: frameSamples, sampleRate: sampleRate, expand: ALawToLinear16}
}

func (d *G711Decoder) FrameBytes(encoded []byte) (int, error) {
	return d.frameSamples, nil
}

func (d *G711Decoder) Decode(block []float32, frame []byte) error {
	for i, b := range frame {
		block[i] = float32(d.expand(b))
	}
	return nil
}

func (d *G711Decoder) FrameSamples() int { return d.frameSamples }

func (d *G711Decoder) SampleRate() int { return d.sampleRate }

func MuLawToLinear16(mu byte) int16 {
	mu = ^mu
	sign := mu & 0x80
	exponent := (mu >> 4) & 0x07
	mantissa := mu & 0x0F
	segmentEnd := int16(0x84) << exponent
	step := int16(1) << (exponent + 3)
	value := segmentEnd + (int16(mantissa) * step)
	value -= muBias
	if sign != 0 {
		return -value
	}
	return value
}

// ALawToLinear16 expands one a-law code (G.711 PCMA).
func ALawToLinear16(a byte) int16 {
	a ^= 0x55
	t := int16(a&0x0F) << 4
	seg := (a & 0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return t
	}
	return -t
}

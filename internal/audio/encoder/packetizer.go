package encoder

// Packetizer groups the output of several frames into one chunk. It holds
// encoded bytes back until framesPerChunk frames have been encoded, so short
// streams only produce output when flushed.
type Packetizer struct {
	inner          Encoder
	framesPerChunk int
	frames         int
	pending        []byte
	drained        bool
}

func NewPacketizer(inner Encoder, framesPerChunk int) (*Packetizer, error) {
	if inner == nil {
		return nil, ErrEncoderNil
	}
	if framesPerChunk < 1 {
		framesPerChunk = 1
	}
	return &Packetizer{inner: inner, framesPerChunk: framesPerChunk}, nil
}

func (p *Packetizer) Encode(frame []int16) ([]byte, error) {
	chunk, err := p.inner.Encode(frame)
	if err != nil {
		return nil, err
	}
	p.pending = append(p.pending, chunk...)
	p.frames++
	if p.frames < p.framesPerChunk {
		return nil, nil
	}
	p.frames = 0
	out := p.pending
	p.pending = nil
	return out, nil
}

// Flush drains the inner encoder into the held bytes and returns them as one
// chunk. The next call returns an empty chunk.
func (p *Packetizer) Flush() ([]byte, error) {
	for !p.drained {
		chunk, err := p.inner.Flush()
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			p.drained = true
			break
		}
		p.pending = append(p.pending, chunk...)
	}
	out := p.pending
	p.pending = nil
	return out, nil
}

func (p *Packetizer) FrameSamples() int { return p.inner.FrameSamples() }

func (p *Packetizer) SampleRate() int { return p.inner.SampleRate() }

func (p *Packetizer) Close() error { return p.inner.Close() }

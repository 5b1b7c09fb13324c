package pipeline

import (
	"bytes"
	"errors"
	"testing"

	"github.com/joelsemar/django-webservice-tools/internal/audio/config"
	"github.com/joelsemar/django-webservice-tools/internal/audio/convert"
	"github.com/joelsemar/django-webservice-tools/internal/audio/decoder"
	"github.com/joelsemar/django-webservice-tools/internal/audio/encoder"
	"github.com/joelsemar/django-webservice-tools/internal/audio/outbuf"
)

// stubEncoder records every frame it sees. Encode returns chunk(i) for the
// i-th call; Flush returns flushChunks non-empty chunks and then empty ones.
type stubEncoder struct {
	frameLen    int
	chunk       func(i int) []byte
	flushChunks int
	encodeErr   error

	frames     [][]int16
	flushCalls int
	closed     int
}

func (e *stubEncoder) Encode(frame []int16) ([]byte, error) {
	if e.encodeErr != nil {
		return nil, e.encodeErr
	}
	if len(frame) != e.frameLen {
		return nil, encoder.ErrFrameSize
	}
	e.frames = append(e.frames, append([]int16(nil), frame...))
	if e.chunk == nil {
		return nil, nil
	}
	return e.chunk(len(e.frames) - 1), nil
}

func (e *stubEncoder) Flush() ([]byte, error) {
	e.flushCalls++
	if e.flushCalls <= e.flushChunks {
		return []byte{0xF0, byte(e.flushCalls)}, nil
	}
	return nil, nil
}

func (e *stubEncoder) FrameSamples() int { return e.frameLen }
func (e *stubEncoder) SampleRate() int   { return 8000 }
func (e *stubEncoder) Close() error      { e.closed++; return nil }

// stubCodecs hands out fixed instances and counts opens.
type stubCodecs struct {
	dec    decoder.Decoder
	enc    encoder.Encoder
	encErr error

	decoderOpens int
	encoderOpens int
}

func (c *stubCodecs) NewDecoder(config.FrameSizeMode) (decoder.Decoder, error) {
	c.decoderOpens++
	return c.dec, nil
}

func (c *stubCodecs) NewEncoder(config.FrameSizeMode) (encoder.Encoder, error) {
	c.encoderOpens++
	if c.encErr != nil {
		return nil, c.encErr
	}
	return c.enc, nil
}

// closeCounter wraps a decoder to count Close calls.
type closeCounter struct {
	decoder.Decoder
	closed int
}

func (c *closeCounter) Close() error { c.closed++; return c.Decoder.Close() }

func frameIndexChunk(i int) []byte { return []byte{byte(i)} }

// constantFrames returns n frames of frameLen s16le samples, frame i holding
// the value 1000*(i+1).
func constantFrames(n, frameLen int) []byte {
	var out []byte
	for i := 0; i < n; i++ {
		frame := make([]int16, frameLen)
		for j := range frame {
			frame[j] = int16(1000 * (i + 1))
		}
		out = convert.AppendInt16(out, frame)
	}
	return out
}

func TestTranscodeEndToEnd(t *testing.T) {
	enc := &stubEncoder{frameLen: 160, chunk: frameIndexChunk}
	codecs := &stubCodecs{enc: enc}

	out, err := Transcode(config.Mode20ms, constantFrames(3, 160), Options{Codecs: codecs})
	if err != nil {
		t.Fatalf("Transcode failed: %v", err)
	}
	if !bytes.Equal(out, []byte{0x00, 0x01, 0x02}) {
		t.Errorf("expected [0 1 2], got %v", out)
	}
	if len(enc.frames) != 3 {
		t.Fatalf("expected 3 frames encoded, got %d", len(enc.frames))
	}
	for i, frame := range enc.frames {
		if frame[0] != int16(1000*(i+1)) || frame[159] != int16(1000*(i+1)) {
			t.Errorf("frame %d carries wrong samples: %d..%d", i, frame[0], frame[159])
		}
	}
	if enc.flushCalls != 1 {
		t.Errorf("expected a single flush call, got %d", enc.flushCalls)
	}
	if enc.closed != 1 {
		t.Errorf("encoder closed %d times", enc.closed)
	}
}

func TestExactFramingNeverPads(t *testing.T) {
	for _, k := range []int{0, 1, 2, 5} {
		enc := &stubEncoder{frameLen: 160, chunk: frameIndexChunk}
		padCalls := 0
		opts := Options{
			Codecs: &stubCodecs{enc: enc},
			pad: func(buf []byte, n, frameLen int, f convert.SampleFormat) []byte {
				padCalls++
				return convert.PadFrame(buf, n, frameLen, f)
			},
		}
		out, err := Transcode(config.Mode20ms, constantFrames(k, 160), opts)
		if err != nil {
			t.Fatalf("k=%d: %v", k, err)
		}
		if padCalls != 0 {
			t.Errorf("k=%d: padder called %d times", k, padCalls)
		}
		if len(out) != k || len(enc.frames) != k {
			t.Errorf("k=%d: expected %d frames and bytes, got %d frames %d bytes", k, k, len(enc.frames), len(out))
		}
	}
}

func TestTailPadding(t *testing.T) {
	tests := []struct {
		format  convert.SampleFormat
		silence byte
	}{
		{convert.FormatS16LE, 0x00},
		{convert.FormatS16BE, 0x00},
		{convert.FormatU8, 0x80},
		{convert.FormatF32LE, 0x00},
	}
	const k, r = 2, 37
	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			w := tt.format.Width()
			tail := make([]int16, r)
			for i := range tail {
				tail[i] = int16((i + 1) * 256)
			}
			input := tt.format.Encode(nil, make([]int16, k*160))
			input = tt.format.Encode(input, tail)

			enc := &stubEncoder{frameLen: 160, chunk: frameIndexChunk}
			var padded []byte
			opts := Options{
				Codecs:      &stubCodecs{enc: enc},
				InputFormat: tt.format,
				pad: func(buf []byte, n, frameLen int, f convert.SampleFormat) []byte {
					padded = convert.PadFrame(buf, n, frameLen, f)
					return padded
				},
			}
			s, err := NewSession(config.Mode20ms, opts)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := s.Write(input); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Finish(); err != nil {
				t.Fatal(err)
			}

			if len(padded) != 160*w {
				t.Fatalf("padded frame is %d bytes, want %d", len(padded), 160*w)
			}
			if !bytes.Equal(padded[:r*w], input[k*160*w:]) {
				t.Error("padded frame does not start with the true tail")
			}
			for i, b := range padded[r*w:] {
				if b != tt.silence {
					t.Fatalf("pad byte %d = 0x%02X, want 0x%02X", i, b, tt.silence)
				}
			}

			if len(enc.frames) != k+1 {
				t.Fatalf("expected %d frames, got %d", k+1, len(enc.frames))
			}
			last := enc.frames[k]
			if len(last) != 160 {
				t.Fatalf("last frame has %d samples", len(last))
			}
			for i := 0; i < r; i++ {
				if last[i] != tail[i] {
					t.Fatalf("tail sample %d = %d, want %d", i, last[i], tail[i])
				}
			}
			for i := r; i < 160; i++ {
				if last[i] != 0 {
					t.Fatalf("pad sample %d = %d, want silence", i, last[i])
				}
			}
			if got := s.Stats().PaddedSamples; got != 160-r {
				t.Errorf("PaddedSamples = %d, want %d", got, 160-r)
			}
		})
	}
}

// rangeBackend decodes every 2 byte frame to values outside the int16 range.
type rangeBackend struct{}

func (rangeBackend) FrameBytes([]byte) (int, error) { return 2, nil }
func (rangeBackend) FrameSamples() int              { return 4 }
func (rangeBackend) SampleRate() int                { return 8000 }

func (rangeBackend) Decode(block []float32, frame []byte) error {
	copy(block, []float32{70000, -70000, 32768, -32769})
	return nil
}

func TestDecodedSamplesSaturate(t *testing.T) {
	enc := &stubEncoder{frameLen: 8}
	codecs := &stubCodecs{dec: decoder.NewFrameDecoder(rangeBackend{}), enc: enc}

	if _, err := Transcode(config.Mode20ms, make([]byte, 4), Options{Codecs: codecs}); err != nil {
		t.Fatal(err)
	}
	if len(enc.frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(enc.frames))
	}
	want := []int16{32767, -32768, 32767, -32768, 32767, -32768, 32767, -32768}
	for i, v := range enc.frames[0] {
		if v != want[i] {
			t.Errorf("sample %d = %d, want %d", i, v, want[i])
		}
	}
}

func TestFlushTermination(t *testing.T) {
	enc := &stubEncoder{frameLen: 160, chunk: frameIndexChunk, flushChunks: 3}
	var chunks []Chunk
	sink := ChunkSinkFunc(func(c Chunk) error {
		c.Data = append([]byte(nil), c.Data...)
		chunks = append(chunks, c)
		return nil
	})

	out, err := Transcode(config.Mode20ms, constantFrames(2, 160), Options{
		Codecs: &stubCodecs{enc: enc},
		Sink:   sink,
	})
	if err != nil {
		t.Fatal(err)
	}
	if enc.flushCalls != 4 {
		t.Errorf("expected 4 flush calls, got %d", enc.flushCalls)
	}
	want := []byte{0x00, 0x01, 0xF0, 0x01, 0xF0, 0x02, 0xF0, 0x03}
	if !bytes.Equal(out, want) {
		t.Errorf("output = %v, want %v", out, want)
	}
	if len(chunks) != 5 {
		t.Fatalf("sink got %d chunks, want 5", len(chunks))
	}
	for i, c := range chunks {
		if c.Flush != (i >= 2) {
			t.Errorf("chunk %d: Flush = %v", i, c.Flush)
		}
	}
	if chunks[4].Frame != 2 {
		t.Errorf("last flush chunk index = %d, want 2", chunks[4].Frame)
	}
}

func TestByteAccounting(t *testing.T) {
	sizes := []int{0, 3, 1, 0, 7, 2, 0, 0, 5}
	enc := &stubEncoder{
		frameLen:    160,
		chunk:       func(i int) []byte { return bytes.Repeat([]byte{byte(i)}, sizes[i]) },
		flushChunks: 2,
	}
	s, err := NewSession(config.Mode20ms, Options{
		Codecs:   &stubCodecs{enc: enc},
		SizeHint: 1 << 16,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write(constantFrames(len(sizes), 160)); err != nil {
		t.Fatal(err)
	}
	out, err := s.Finish()
	if err != nil {
		t.Fatal(err)
	}

	want := 2 * 2 // flush chunks
	for _, n := range sizes {
		want += n
	}
	if len(out) != want {
		t.Errorf("output length %d, want %d", len(out), want)
	}
	if cap(out) != len(out) {
		t.Errorf("output exposes spare capacity: len %d cap %d", len(out), cap(out))
	}
	st := s.Stats()
	if st.OutputBytes != want || st.Chunks != 5+2 {
		t.Errorf("stats: %d bytes in %d chunks", st.OutputBytes, st.Chunks)
	}
	if st.ConsumedBytes != st.InputBytes {
		t.Errorf("consumed %d of %d input bytes", st.ConsumedBytes, st.InputBytes)
	}
	if s.State() != StateDone {
		t.Errorf("state = %s, want done", s.State())
	}
}

func TestInvalidModeOpensNothing(t *testing.T) {
	for _, mode := range []config.FrameSizeMode{0, 10, 25, 40, -20} {
		codecs := &stubCodecs{enc: &stubEncoder{frameLen: 160}}
		out, err := Transcode(mode, constantFrames(1, 160), Options{Codecs: codecs})
		if !errors.Is(err, config.ErrInvalidMode) {
			t.Errorf("mode %d: expected ErrInvalidMode, got %v", mode, err)
		}
		if out != nil {
			t.Errorf("mode %d: got output on failure", mode)
		}
		if codecs.decoderOpens != 0 || codecs.encoderOpens != 0 {
			t.Errorf("mode %d: opened %d decoders and %d encoders", mode, codecs.decoderOpens, codecs.encoderOpens)
		}
	}
}

func TestIncrementalWriteMatchesWholeInput(t *testing.T) {
	input := make([]byte, 160*7)
	for i := range input {
		input[i] = byte(i * 7)
	}
	run := func(pieces int) ([]byte, *stubEncoder) {
		enc := &stubEncoder{frameLen: 240, chunk: func(i int) []byte {
			return convert.AppendInt16(nil, []int16{int16(i)})
		}}
		codecs := &stubCodecs{
			dec: decoder.NewFrameDecoder(decoder.NewPCMUDecoder(8000, 160)),
			enc: enc,
		}
		s, err := NewSession(config.Mode20ms, Options{Codecs: codecs})
		if err != nil {
			t.Fatal(err)
		}
		rest := input
		for len(rest) > 0 {
			n := min(pieces, len(rest))
			if _, err := s.Write(rest[:n]); err != nil {
				t.Fatal(err)
			}
			rest = rest[n:]
		}
		out, err := s.Finish()
		if err != nil {
			t.Fatal(err)
		}
		return out, enc
	}

	whole, wholeEnc := run(len(input))
	split, splitEnc := run(7)
	if !bytes.Equal(whole, split) {
		t.Errorf("split writes produced different output")
	}
	// 7 frames of 160 samples re-framed into 240: 4 full frames plus a padded tail
	if len(wholeEnc.frames) != 5 || len(splitEnc.frames) != 5 {
		t.Fatalf("expected 5 encoder frames, got %d and %d", len(wholeEnc.frames), len(splitEnc.frames))
	}
	for i := range wholeEnc.frames {
		for j := range wholeEnc.frames[i] {
			if wholeEnc.frames[i][j] != splitEnc.frames[i][j] {
				t.Fatalf("frame %d sample %d differs", i, j)
			}
		}
	}
	if got := wholeEnc.frames[0][0]; got != decoder.MuLawToLinear16(input[0]) {
		t.Errorf("first sample %d, want %d", got, decoder.MuLawToLinear16(input[0]))
	}
}

func TestTruncatedFrame(t *testing.T) {
	enc := &stubEncoder{frameLen: 160, chunk: frameIndexChunk}
	dec := &closeCounter{Decoder: decoder.NewFrameDecoder(decoder.NewPCMUDecoder(8000, 160))}
	s, err := NewSession(config.Mode20ms, Options{Codecs: &stubCodecs{dec: dec, enc: enc}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write(make([]byte, 160+100)); err != nil {
		t.Fatal(err)
	}
	out, err := s.Finish()
	if !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("expected ErrTruncatedFrame, got %v", err)
	}
	if out != nil {
		t.Error("failed session returned output")
	}
	if s.State() != StateError {
		t.Errorf("state = %s, want error", s.State())
	}
	if dec.closed != 1 || enc.closed != 1 {
		t.Errorf("codecs not released: decoder %d, encoder %d", dec.closed, enc.closed)
	}
	if _, err := s.Write([]byte{1}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed after failure, got %v", err)
	}
}

func TestPartialSample(t *testing.T) {
	enc := &stubEncoder{frameLen: 160}
	_, err := Transcode(config.Mode30ms, make([]byte, 321), Options{Codecs: &stubCodecs{enc: enc}})
	if !errors.Is(err, ErrPartialSample) {
		t.Fatalf("expected ErrPartialSample, got %v", err)
	}
	if enc.closed != 1 {
		t.Error("encoder not released")
	}
}

// stuckDecoder reports a frame without consuming anything.
type stuckDecoder struct{}

func (stuckDecoder) DecodeFrame([]byte) ([]int16, int, error) { return make([]int16, 160), 0, nil }
func (stuckDecoder) FrameSamples() int                        { return 160 }
func (stuckDecoder) SampleRate() int                          { return 8000 }
func (stuckDecoder) Close() error                             { return nil }

func TestDecoderWithoutProgress(t *testing.T) {
	enc := &stubEncoder{frameLen: 160}
	_, err := Transcode(config.Mode20ms, make([]byte, 10), Options{
		Codecs: &stubCodecs{dec: stuckDecoder{}, enc: enc},
	})
	if !errors.Is(err, ErrNoProgress) {
		t.Fatalf("expected ErrNoProgress, got %v", err)
	}
}

func TestEncoderOpenFailureReleasesDecoder(t *testing.T) {
	initErr := errors.New("bad parameters")
	dec := &closeCounter{Decoder: decoder.NewFrameDecoder(decoder.NewPCMUDecoder(8000, 160))}
	_, err := NewSession(config.Mode20ms, Options{Codecs: &stubCodecs{dec: dec, encErr: initErr}})
	if !errors.Is(err, initErr) {
		t.Fatalf("expected init error, got %v", err)
	}
	if dec.closed != 1 {
		t.Errorf("decoder closed %d times, want 1", dec.closed)
	}
}

func TestOutputLimit(t *testing.T) {
	enc := &stubEncoder{frameLen: 160, chunk: frameIndexChunk}
	out, err := Transcode(config.Mode20ms, constantFrames(3, 160), Options{
		Codecs:         &stubCodecs{enc: enc},
		MaxOutputBytes: 2,
	})
	if !errors.Is(err, outbuf.ErrAllocation) {
		t.Fatalf("expected ErrAllocation, got %v", err)
	}
	if out != nil {
		t.Error("partial output returned")
	}
}

func TestEncodeErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	enc := &stubEncoder{frameLen: 160, encodeErr: boom}
	s, err := NewSession(config.Mode20ms, Options{Codecs: &stubCodecs{enc: enc}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write(constantFrames(1, 160)); !errors.Is(err, boom) {
		t.Fatalf("expected encode error, got %v", err)
	}
	if _, err := s.Finish(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("Err() = %v", s.Err())
	}
}

type countingObserver struct {
	started  int
	finished int
	rejected int
	errs     []error
}

func (o *countingObserver) SessionStarted() { o.started++ }

func (o *countingObserver) SessionFinished(_ Stats, err error) {
	o.finished++
	o.errs = append(o.errs, err)
}

func (o *countingObserver) SessionRejected(err error) {
	o.rejected++
	o.errs = append(o.errs, err)
}

func TestObserverAndClose(t *testing.T) {
	obs := &countingObserver{}
	enc := &stubEncoder{frameLen: 160}
	s, err := NewSession(config.Mode20ms, Options{Codecs: &stubCodecs{enc: enc}, Observer: obs})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if enc.closed != 1 {
		t.Errorf("encoder closed %d times", enc.closed)
	}
	if obs.started != 1 || obs.finished != 1 || !errors.Is(obs.errs[0], ErrSessionClosed) {
		t.Errorf("observer saw %d starts, %d finishes, %v", obs.started, obs.finished, obs.errs)
	}

	_, _ = Transcode(config.FrameSizeMode(7), nil, Options{Codecs: &stubCodecs{}, Observer: obs})
	if obs.rejected != 1 || obs.finished != 1 || !errors.Is(obs.errs[1], config.ErrInvalidMode) {
		t.Errorf("invalid mode not reported: %v", obs.errs)
	}
}

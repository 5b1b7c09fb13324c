package pipeline

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/joelsemar/django-webservice-tools/internal/audio/config"
	"github.com/joelsemar/django-webservice-tools/internal/audio/convert"
	"github.com/joelsemar/django-webservice-tools/internal/audio/decoder"
	"github.com/joelsemar/django-webservice-tools/internal/audio/encoder"
	"github.com/joelsemar/django-webservice-tools/internal/audio/outbuf"
)

// Session is one transcode from first input byte to final output. It owns
// its codec instances and output buffer and is not safe for concurrent use.
//
// Input may arrive in any number of Write calls; partial encoded frames and
// partial sample frames are kept until the next call. Finish pads the tail,
// drains the encoder and returns the output.
type Session struct {
	id    string
	mode  config.FrameSizeMode
	opts  Options
	log   zerolog.Logger
	state State
	err   error

	dec decoder.Decoder
	enc encoder.Encoder

	format   convert.SampleFormat
	frameLen int

	encoded []byte // undecoded input
	pcm     []byte // linear samples in format, less than one frame between calls
	frame   []int16
	out     *outbuf.Buffer

	stats Stats
}

// NewSession validates mode and opens the codecs. An invalid mode is
// reported before any codec is opened or buffer allocated.
func NewSession(mode config.FrameSizeMode, opts Options) (*Session, error) {
	if err := mode.Validate(); err != nil {
		notifyFailed(opts.Observer, err)
		return nil, err
	}
	if opts.Codecs == nil {
		notifyFailed(opts.Observer, ErrCodecsNil)
		return nil, ErrCodecsNil
	}

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("session", opts.ID).Logger()
	}

	dec, err := opts.Codecs.NewDecoder(mode)
	if err != nil {
		err = fmt.Errorf("open decoder: %w", err)
		notifyFailed(opts.Observer, err)
		return nil, err
	}
	enc, err := opts.Codecs.NewEncoder(mode)
	if err == nil && enc == nil {
		err = ErrEncoderNil
	}
	if err != nil {
		if dec != nil {
			_ = dec.Close()
		}
		err = fmt.Errorf("open encoder: %w", err)
		notifyFailed(opts.Observer, err)
		return nil, err
	}

	if opts.pad == nil {
		opts.pad = convert.PadFrame
	}
	factor := opts.ExpansionFactor
	if factor <= 0 {
		factor = DefaultExpansionFactor
	}

	s := &Session{
		id:       opts.ID,
		mode:     mode,
		opts:     opts,
		log:      log,
		dec:      dec,
		enc:      enc,
		format:   opts.InputFormat,
		frameLen: enc.FrameSamples(),
		frame:    make([]int16, enc.FrameSamples()),
		out:      outbuf.New(opts.SizeHint, factor, opts.MaxOutputBytes),
		state:    StateStreaming,
	}
	if dec != nil {
		s.format = convert.FormatS16LE
	}
	if opts.Observer != nil {
		opts.Observer.SessionStarted()
	}
	s.log.Debug().
		Str("mode", mode.String()).
		Bool("decode", dec != nil).
		Str("format", s.format.String()).
		Int("frame_samples", s.frameLen).
		Msg("session started")
	return s, nil
}

func notifyFailed(o Observer, err error) {
	if o != nil {
		o.SessionRejected(err)
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return s.state }

func (s *Session) Stats() Stats { return s.stats }

// Err is the error that moved the session to StateError.
func (s *Session) Err() error { return s.err }

// Write feeds more input. Every complete frame is decoded and every complete
// sample frame is encoded before Write returns. On error the session is
// aborted and all output discarded.
func (s *Session) Write(p []byte) (int, error) {
	if s.state != StateStreaming {
		return 0, s.closedErr()
	}
	s.stats.InputBytes += int64(len(p))

	if s.dec != nil {
		if err := s.decode(p); err != nil {
			return 0, s.fail(err)
		}
	} else {
		s.pcm = append(s.pcm, p...)
		s.stats.ConsumedBytes += int64(len(p))
	}

	if err := s.encodeFrames(); err != nil {
		return 0, s.fail(err)
	}
	return len(p), nil
}

// decode consumes every complete encoded frame. Each step advances by the
// length the decoder reports for that frame.
func (s *Session) decode(p []byte) error {
	s.encoded = append(s.encoded, p...)
	off := 0
	for off < len(s.encoded) {
		samples, n, err := s.dec.DecodeFrame(s.encoded[off:])
		if errors.Is(err, decoder.ErrShortFrame) {
			break
		}
		if err != nil {
			return fmt.Errorf("decode frame %d at offset %d: %w", s.stats.FramesDecoded, s.stats.ConsumedBytes, err)
		}
		if n <= 0 || n > len(s.encoded)-off {
			return fmt.Errorf("%w: decoder consumed %d of %d bytes", ErrNoProgress, n, len(s.encoded)-off)
		}
		off += n
		s.stats.ConsumedBytes += int64(n)
		s.stats.FramesDecoded++
		s.pcm = convert.AppendInt16(s.pcm, samples)
	}
	s.encoded = s.encoded[:copy(s.encoded, s.encoded[off:])]
	return nil
}

// encodeFrames dispatches every full frame in pcm and keeps the remainder.
func (s *Session) encodeFrames() error {
	frameBytes := s.frameLen * s.format.Width()
	off := 0
	for len(s.pcm)-off >= frameBytes {
		if err := s.encode(s.pcm[off : off+frameBytes]); err != nil {
			return err
		}
		off += frameBytes
	}
	s.pcm = s.pcm[:copy(s.pcm, s.pcm[off:])]
	return nil
}

func (s *Session) encode(raw []byte) error {
	s.frame = s.format.Decode(s.frame, raw)
	chunk, err := s.enc.Encode(s.frame)
	if err != nil {
		return fmt.Errorf("encode frame %d: %w", s.stats.FramesEncoded, err)
	}
	idx := s.stats.FramesEncoded
	s.stats.FramesEncoded++
	return s.emit(chunk, idx, false)
}

func (s *Session) emit(chunk []byte, idx int, flush bool) error {
	if len(chunk) == 0 {
		return nil
	}
	if err := s.out.Append(chunk); err != nil {
		return err
	}
	s.stats.Chunks++
	s.stats.OutputBytes += len(chunk)
	if s.opts.Sink != nil {
		c := Chunk{SessionID: s.id, Data: chunk, Frame: idx, Flush: flush}
		if err := s.opts.Sink.WriteChunk(c); err != nil {
			return fmt.Errorf("chunk sink: %w", err)
		}
	}
	return nil
}

// Finish ends the input. The short tail, if any, is padded to a full frame
// with silence and encoded; then the encoder is flushed until it returns an
// empty chunk. The result is exactly the bytes the encoder produced.
func (s *Session) Finish() ([]byte, error) {
	if s.state != StateStreaming {
		return nil, s.closedErr()
	}
	if len(s.encoded) > 0 {
		return nil, s.fail(fmt.Errorf("%w: %d bytes left", ErrTruncatedFrame, len(s.encoded)))
	}
	w := s.format.Width()
	if len(s.pcm)%w != 0 {
		return nil, s.fail(fmt.Errorf("%w: %d trailing bytes", ErrPartialSample, len(s.pcm)%w))
	}
	if n := len(s.pcm) / w; n > 0 {
		padded := s.opts.pad(s.pcm, n, s.frameLen, s.format)
		s.stats.PaddedSamples += s.frameLen - n
		if err := s.encode(padded); err != nil {
			return nil, s.fail(err)
		}
		s.pcm = s.pcm[:0]
	}

	s.state = StateDraining
	for {
		if s.stats.FlushCalls >= maxFlushCalls {
			return nil, s.fail(fmt.Errorf("%w: encoder still flushing after %d calls", ErrNoProgress, s.stats.FlushCalls))
		}
		chunk, err := s.enc.Flush()
		idx := s.stats.FlushCalls
		s.stats.FlushCalls++
		if err != nil {
			return nil, s.fail(fmt.Errorf("flush: %w", err))
		}
		if len(chunk) == 0 {
			break
		}
		if err := s.emit(chunk, idx, true); err != nil {
			return nil, s.fail(err)
		}
	}

	s.state = StateDone
	if err := s.release(); err != nil {
		s.log.Warn().Err(err).Msg("codec close failed")
	}
	out := s.out.Bytes()
	s.log.Debug().
		Str("state", s.state.String()).
		Int("frames", s.stats.FramesEncoded).
		Int("bytes", len(out)).
		Int("padded", s.stats.PaddedSamples).
		Int("flush_calls", s.stats.FlushCalls).
		Msg("session finished")
	if s.opts.Observer != nil {
		s.opts.Observer.SessionFinished(s.stats, nil)
	}
	return out, nil
}

// Close abandons the session and releases its codecs. It does nothing once
// the session is done or failed.
func (s *Session) Close() error {
	if s.state == StateDone || s.state == StateError {
		return nil
	}
	s.state = StateError
	s.err = ErrSessionClosed
	s.out = nil
	if s.opts.Observer != nil {
		s.opts.Observer.SessionFinished(s.stats, ErrSessionClosed)
	}
	return s.release()
}

// fail aborts the session: codecs are released and output is dropped.
func (s *Session) fail(err error) error {
	s.state = StateError
	s.err = err
	s.out = nil
	if cerr := s.release(); cerr != nil {
		s.log.Warn().Err(cerr).Msg("codec close failed")
	}
	s.log.Debug().
		Err(err).
		Int64("consumed", s.stats.ConsumedBytes).
		Int("frames", s.stats.FramesEncoded).
		Msg("session failed")
	if s.opts.Observer != nil {
		s.opts.Observer.SessionFinished(s.stats, err)
	}
	return err
}

func (s *Session) closedErr() error {
	if s.err != nil && !errors.Is(s.err, ErrSessionClosed) {
		return fmt.Errorf("%w: %s: %w", ErrSessionClosed, s.state, s.err)
	}
	return fmt.Errorf("%w: %s", ErrSessionClosed, s.state)
}

func (s *Session) release() error {
	var errs []error
	if s.dec != nil {
		errs = append(errs, s.dec.Close())
		s.dec = nil
	}
	if s.enc != nil {
		errs = append(errs, s.enc.Close())
		s.enc = nil
	}
	return errors.Join(errs...)
}

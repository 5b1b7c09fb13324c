package codec

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/joelsemar/django-webservice-tools/internal/audio/config"
	"github.com/joelsemar/django-webservice-tools/internal/audio/convert"
	"github.com/joelsemar/django-webservice-tools/internal/audio/decoder"
	"github.com/joelsemar/django-webservice-tools/internal/audio/encoder"
)

var (
	ErrEncoderUnavailable = errors.New("encoder unavailable")
	ErrDecoderUnavailable = errors.New("decoder unavailable")
	ErrCodecInit          = encoder.ErrInit
)

// Options selects the codecs on both sides of a transcode.
type Options struct {
	From string // source codec; "raw" or "l16" means linear PCM with no decoder
	To   string

	// OutputFormat is the sample layout written by the raw/l16 encoder.
	OutputFormat convert.SampleFormat

	// OpusSampleRate is the rate the opus encoder runs at. Anything other
	// than 8000 needs the samplerate build.
	OpusSampleRate int
	OpusBitrate    int
	MP3Bitrate     string
	FFmpegPath     string
	DTX            bool
	// FramesPerChunk > 1 groups encoder output with a Packetizer.
	FramesPerChunk int
}

// Factory opens codec instances for transcode sessions.
type Factory struct {
	opts Options
	log  zerolog.Logger
}

func NewFactory(opts Options, log zerolog.Logger) *Factory {
	if opts.OpusSampleRate == 0 {
		opts.OpusSampleRate = config.SampleRatePCM
	}
	return &Factory{opts: opts, log: log}
}

func (f *Factory) Options() Options { return f.opts }

// NewDecoder opens the source decoder for frames of the given mode. It returns
// a nil Decoder when the source is already linear PCM.
func (f *Factory) NewDecoder(mode config.FrameSizeMode) (decoder.Decoder, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	cfg, err := config.Lookup(f.opts.From)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoderUnavailable, err)
	}
	frame := mode.Samples(int(cfg.SampleRate))

	var backend decoder.Backend
	switch cfg.Type {
	case config.AudioCodecL16:
		return nil, nil
	case config.AudioCodecPCMU:
		backend = decoder.NewPCMUDecoder(int(cfg.SampleRate), frame)
	case config.AudioCodecPCMA:
		backend = decoder.NewPCMADecoder(int(cfg.SampleRate), frame)
	case config.AudioCodecOpus:
		backend, err = newOpusDecoder(int(cfg.SampleRate), frame)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrDecoderUnavailable, cfg.Type)
	}
	f.log.Debug().
		Str("codec", cfg.Type.String()).
		Str("mode", mode.String()).
		Int("frame_samples", frame).
		Msg("decoder opened")
	return decoder.NewFrameDecoder(backend), nil
}

// NewEncoder opens the target encoder. G.711 and linear output use the
// session's frame duration; other codecs use their own native frame.
func (f *Factory) NewEncoder(mode config.FrameSizeMode) (encoder.Encoder, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	cfg, err := config.Lookup(f.opts.To)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoderUnavailable, err)
	}

	frame := mode.Samples(config.SampleRatePCM)
	var enc encoder.Encoder
	switch cfg.Type {
	case config.AudioCodecPCMU:
		g := encoder.NewPCMUEncoder(frame)
		g.SetDTX(f.opts.DTX)
		enc = g
	case config.AudioCodecPCMA:
		g := encoder.NewPCMAEncoder(frame)
		g.SetDTX(f.opts.DTX)
		enc = g
	case config.AudioCodecL16:
		enc = encoder.NewLinearEncoder(f.opts.OutputFormat, config.SampleRatePCM, frame)
	case config.AudioCodecOpus:
		enc, err = f.newOpus(cfg.WithSampleRate(uint32(f.opts.OpusSampleRate)))
	case config.AudioCodecMP3:
		enc, err = f.newMP3(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrEncoderUnavailable, cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if f.opts.FramesPerChunk > 1 {
		p, err := encoder.NewPacketizer(enc, f.opts.FramesPerChunk)
		if err != nil {
			_ = enc.Close()
			return nil, fmt.Errorf("%w: %w", ErrCodecInit, err)
		}
		enc = p
	}
	f.log.Debug().
		Str("codec", cfg.Type.String()).
		Int("frame_samples", enc.FrameSamples()).
		Int("frames_per_chunk", f.opts.FramesPerChunk).
		Msg("encoder opened")
	return enc, nil
}

func (f *Factory) newOpus(cfg config.AudioConfig) (encoder.Encoder, error) {
	enc, err := newOpusEncoder(int(cfg.SampleRate), cfg.FrameSamples, f.opts.OpusBitrate, f.opts.DTX)
	if err != nil {
		return nil, err
	}
	if cfg.SampleRate == config.SampleRatePCM {
		return enc, nil
	}
	r, err := newResampler(enc, config.SampleRatePCM)
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	return r, nil
}

func (f *Factory) newMP3(cfg config.AudioConfig) (encoder.Encoder, error) {
	opts := encoder.MP3Options()
	opts.SampleRate = int(cfg.SampleRate)
	opts.FrameSamples = cfg.FrameSamples
	if f.opts.FFmpegPath != "" {
		opts.Path = f.opts.FFmpegPath
	}
	if f.opts.MP3Bitrate != "" {
		opts.Bitrate = f.opts.MP3Bitrate
	}
	enc, err := encoder.NewFFmpegEncoder(opts)
	switch {
	case err == nil:
		return enc, nil
	case errors.Is(err, encoder.ErrBackendMissing):
		return nil, fmt.Errorf("%w: %w", ErrEncoderUnavailable, err)
	case errors.Is(err, ErrCodecInit):
		return nil, err
	}
	return nil, fmt.Errorf("%w: %w", ErrCodecInit, err)
}

// Command transcode converts audio files offline, one session per file.
//
//	transcode -from pcmu -to opus -mode 20 -o out/ call1.ulaw call2.ulaw
//
// WAV input is read as linear PCM. Opus output is written as Ogg, 16-bit
// linear output as WAV; everything else is written as the bare stream.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/joelsemar/django-webservice-tools/internal/audio/codec"
	audioconfig "github.com/joelsemar/django-webservice-tools/internal/audio/config"
	"github.com/joelsemar/django-webservice-tools/internal/audio/convert"
	"github.com/joelsemar/django-webservice-tools/internal/audio/pipeline"
	"github.com/joelsemar/django-webservice-tools/internal/container"
	"github.com/joelsemar/django-webservice-tools/pkg/config"
	"github.com/joelsemar/django-webservice-tools/pkg/logger"
	"github.com/joelsemar/django-webservice-tools/pkg/system"
)

type job struct {
	tc     config.TranscodeConfig
	outDir string
	log    zerolog.Logger
}

func main() {
	cfg := config.Default()
	configPath := flag.String("config", "", "path to YAML config file")
	from := flag.String("from", "", "source codec (pcmu, pcma, opus, raw, l16)")
	to := flag.String("to", "", "target codec (pcmu, pcma, opus, l16, mp3)")
	mode := flag.String("mode", "", "frame duration: 20 or 30 ms")
	inFormat := flag.String("in-format", "", "sample format of raw input")
	outFormat := flag.String("out-format", "", "sample format of l16 output")
	outDir := flag.String("o", ".", "output directory")
	jobs := flag.Int("j", runtime.NumCPU(), "files transcoded in parallel")
	logLevel := flag.String("log-level", "", "debug, info, warn or error")
	flag.Parse()

	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		cfg = loaded
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	l := logger.InitLogger(cfg.LogLevel, nil)

	tc := cfg.Transcode
	override(&tc.From, *from)
	override(&tc.To, *to)
	override(&tc.InputFormat, *inFormat)
	override(&tc.OutputFormat, *outFormat)
	if *mode != "" {
		m, err := audioconfig.ParseMode(*mode)
		if err != nil {
			l.Fatal().Err(err).Msg("bad -mode")
		}
		tc.Mode = int(m)
	}
	if err := tc.Validate(); err != nil {
		l.Fatal().Err(err).Msg("bad options")
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		l.Fatal().Err(err).Msg("create output directory")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(*jobs, 1))
	failed := make([]bool, flag.NArg())
	for i, path := range flag.Args() {
		j := job{tc: tc, outDir: *outDir, log: l.With().Str("file", path).Logger()}
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := j.run(path); err != nil {
				j.log.Error().Err(err).Msg("transcode failed")
				failed[i] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		l.Error().Err(err).Msg("interrupted")
		os.Exit(1)
	}
	for _, f := range failed {
		if f {
			os.Exit(1)
		}
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (j job) run(path string) (err error) {
	input, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tc := j.tc
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		pcm, err := container.ReadWAV(bytes.NewReader(input))
		if err != nil {
			return err
		}
		if pcm.SampleRate != audioconfig.SampleRatePCM {
			return fmt.Errorf("wav sample rate %d, want %d", pcm.SampleRate, audioconfig.SampleRatePCM)
		}
		input = pcm.Bytes()
		tc.From = string(audioconfig.AudioCodecRaw)
		tc.InputFormat = convert.FormatS16LE.String()
	}

	codecOpts, err := tc.CodecOptions()
	if err != nil {
		return err
	}
	inFormat, err := convert.ParseSampleFormat(tc.InputFormat)
	if err != nil {
		return err
	}
	target, err := audioconfig.Lookup(tc.To)
	if err != nil {
		return err
	}

	id := system.NewSessionID()
	log := j.log.With().Str("session", id).Logger()
	opts := pipeline.Options{
		Codecs:          codec.NewFactory(codecOpts, log),
		InputFormat:     inFormat,
		SizeHint:        len(input),
		ExpansionFactor: tc.ExpansionFactor,
		MaxOutputBytes:  tc.MaxOutputBytes,
		ID:              id,
		Logger:          &j.log,
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out, err := os.Create(filepath.Join(j.outDir, base+extension(target, codecOpts.OutputFormat)))
	if err != nil {
		return err
	}
	defer func() {
		out.Close()
		if err != nil {
			os.Remove(out.Name())
		}
	}()

	var mux io.Closer
	var w io.Writer = out
	switch {
	case target.Type == audioconfig.AudioCodecOpus:
		ogg, err := container.NewOggWriter(out, uint32(codecOpts.OpusSampleRate), audioconfig.Mode20ms.Duration())
		if err != nil {
			return err
		}
		opts.Sink = ogg
		mux, w = ogg, nil
	case target.Type == audioconfig.AudioCodecL16 && codecOpts.OutputFormat == convert.FormatS16LE:
		wav := container.NewWAVWriter(out, int(target.SampleRate))
		mux, w = wav, wav
	}

	encoded, err := pipeline.Transcode(tc.FrameMode(), input, opts)
	if err != nil {
		return err
	}
	if w != nil {
		if _, err := w.Write(encoded); err != nil {
			return err
		}
	}
	if mux != nil {
		if err := mux.Close(); err != nil {
			return err
		}
	}
	log.Info().
		Int("in_bytes", len(input)).
		Int("out_bytes", len(encoded)).
		Str("output", out.Name()).
		Msg("transcoded")
	return nil
}

func extension(target audioconfig.AudioConfig, f convert.SampleFormat) string {
	switch target.Type {
	case audioconfig.AudioCodecOpus:
		return ".ogg"
	case audioconfig.AudioCodecPCMU:
		return ".ulaw"
	case audioconfig.AudioCodecPCMA:
		return ".alaw"
	case audioconfig.AudioCodecMP3:
		return ".mp3"
	case audioconfig.AudioCodecL16:
		if f == convert.FormatS16LE {
			return ".wav"
		}
		return "." + f.String()
	}
	return ".bin"
}

package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joelsemar/django-webservice-tools/internal/audio/convert"
)

const (
	ffmpegReadSize     = 4096
	ffmpegProbeTimeout = 10 * time.Second
)

// verified holds command lines that have already encoded a test frame.
var verified sync.Map

// FFmpegOptions configures an ffmpeg subprocess encoder. The process reads
// s16le mono at SampleRate on stdin and writes the muxed stream to stdout.
type FFmpegOptions struct {
	Path         string // ffmpeg binary, "ffmpeg" when empty
	Format       string // output muxer, e.g. "mp3"
	Codec        string // e.g. "libmp3lame"
	Bitrate      string // e.g. "32k"
	SampleRate   int
	FrameSamples int
	ExtraArgs    []string
}

// MP3Options returns options for 8 kHz mono MP3.
func MP3Options() FFmpegOptions {
	return FFmpegOptions{
		Path:         "ffmpeg",
		Format:       "mp3",
		Codec:        "libmp3lame",
		Bitrate:      "32k",
		SampleRate:   8000,
		FrameSamples: 1152,
	}
}

func (o FFmpegOptions) args() []string {
	args := []string{
		"-nostdin",
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(o.SampleRate),
		"-ac", "1",
		"-i", "pipe:0",
	}
	if o.Codec != "" {
		args = append(args, "-c:a", o.Codec)
	}
	if o.Bitrate != "" {
		args = append(args, "-b:a", o.Bitrate)
	}
	args = append(args, o.ExtraArgs...)
	return append(args, "-f", o.Format, "pipe:1")
}

// FFmpegEncoder pipes frames through an ffmpeg process. The encoder inside
// ffmpeg keeps a lookahead, so output trails input and most of the tail only
// appears once stdin is closed by Flush.
type FFmpegEncoder struct {
	opts   FFmpegOptions
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *syncBuffer
	cancel context.CancelFunc
	pcm    []byte

	mu       sync.Mutex
	pending  []byte
	produced int
	eof      bool
	readErr  error
	notify   chan struct{}

	flushing bool
	waited   bool
	waitErr  error
}

// syncBuffer collects stderr. os/exec writes it from its own goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}

// NewFFmpegEncoder starts ffmpeg. A binary that cannot be found is reported
// as ErrBackendMissing. Before the first start of a given command line, one
// frame of silence is encoded in a separate run; if ffmpeg rejects the codec
// or its parameters the error is ErrInit.
func NewFFmpegEncoder(opts FFmpegOptions) (*FFmpegEncoder, error) {
	if opts.Path == "" {
		opts.Path = "ffmpeg"
	}
	if opts.Format == "" {
		return nil, errors.New("ffmpeg output format is required")
	}
	if opts.SampleRate <= 0 || opts.FrameSamples <= 0 {
		return nil, fmt.Errorf("ffmpeg: invalid framing %d samples at %d Hz", opts.FrameSamples, opts.SampleRate)
	}
	bin, err := exec.LookPath(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg lookup: %w", ErrBackendMissing, err)
	}
	if err := probe(bin, opts); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, bin, opts.args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg start: %w (stderr: %s)", err, stderr.String())
	}

	e := &FFmpegEncoder{
		opts:   opts,
		cmd:    cmd,
		stdin:  stdin,
		stderr: stderr,
		cancel: cancel,
		pcm:    make([]byte, 0, opts.FrameSamples*2),
		notify: make(chan struct{}, 1),
	}
	go e.readLoop(stdout)
	return e, nil
}

// probe encodes one frame of silence with the same arguments and checks that
// ffmpeg exits cleanly.
func probe(bin string, opts FFmpegOptions) error {
	args := opts.args()
	key := strings.Join(append([]string{bin}, args...), "\x00")
	if _, ok := verified.Load(key); ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), ffmpegProbeTimeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = bytes.NewReader(make([]byte, opts.FrameSamples*2))
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: ffmpeg %s: %w (stderr: %s)", ErrInit, opts.Codec, err, bytes.TrimSpace(stderr.Bytes()))
	}
	verified.Store(key, struct{}{})
	return nil
}

func (e *FFmpegEncoder) readLoop(r io.Reader) {
	buf := make([]byte, ffmpegReadSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			e.mu.Lock()
			e.pending = append(e.pending, buf[:n]...)
			e.mu.Unlock()
			e.signal()
		}
		if err != nil {
			e.mu.Lock()
			e.eof = true
			if err != io.EOF {
				e.readErr = err
			}
			e.mu.Unlock()
			e.signal()
			return
		}
	}
}

func (e *FFmpegEncoder) signal() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// take returns everything read so far.
func (e *FFmpegEncoder) take() (chunk []byte, eof bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	chunk, e.pending = e.pending, nil
	e.produced += len(chunk)
	return chunk, e.eof, e.readErr
}

// Encode writes one frame to ffmpeg and returns whatever output is already
// available, which is often nothing.
func (e *FFmpegEncoder) Encode(frame []int16) ([]byte, error) {
	if e.flushing {
		return nil, ErrEncoderDone
	}
	if err := checkFrame(frame, e.opts.FrameSamples); err != nil {
		return nil, err
	}
	e.pcm = convert.AppendInt16(e.pcm[:0], frame)
	if _, err := e.stdin.Write(e.pcm); err != nil {
		// the process has gone; its exit status says why
		if werr := e.exited(); werr != nil {
			return nil, werr
		}
		return nil, fmt.Errorf("ffmpeg write: %w", err)
	}
	chunk, _, err := e.take()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg read: %w", err)
	}
	return chunk, nil
}

// Flush closes ffmpeg's stdin on the first call and then returns buffered
// output, one read batch per call, until the process has exited. The final
// call returns an empty chunk.
func (e *FFmpegEncoder) Flush() ([]byte, error) {
	if !e.flushing {
		e.flushing = true
		if err := e.stdin.Close(); err != nil {
			return nil, fmt.Errorf("ffmpeg close stdin: %w", err)
		}
	}
	for {
		chunk, eof, err := e.take()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg read: %w", err)
		}
		if len(chunk) > 0 {
			return chunk, nil
		}
		if eof {
			return nil, e.wait()
		}
		<-e.notify
	}
}

// exited waits for stdout to close and then reaps the process. Pending
// output is kept.
func (e *FFmpegEncoder) exited() error {
	for {
		e.mu.Lock()
		eof := e.eof
		e.mu.Unlock()
		if eof {
			return e.wait()
		}
		<-e.notify
	}
}

// wait reaps the process. It must only run once stdout has reached EOF. A
// failure before any output was produced is ErrInit: ffmpeg could not set
// up the encoder.
func (e *FFmpegEncoder) wait() error {
	if e.waited {
		return e.waitErr
	}
	e.waited = true
	if err := e.cmd.Wait(); err != nil {
		e.mu.Lock()
		produced := e.produced + len(e.pending)
		e.mu.Unlock()
		if produced == 0 {
			e.waitErr = fmt.Errorf("%w: ffmpeg exit: %w (stderr: %s)", ErrInit, err, e.stderr.String())
		} else {
			e.waitErr = fmt.Errorf("ffmpeg exit: %w (stderr: %s)", err, e.stderr.String())
		}
	}
	e.cancel()
	return e.waitErr
}

func (e *FFmpegEncoder) FrameSamples() int { return e.opts.FrameSamples }

func (e *FFmpegEncoder) SampleRate() int { return e.opts.SampleRate }

// Close stops ffmpeg if it is still running. It is safe to call after Flush.
func (e *FFmpegEncoder) Close() error {
	if e.waited {
		return nil
	}
	e.waited = true
	if !e.flushing {
		_ = e.stdin.Close()
	}
	e.cancel()
	_ = e.cmd.Wait()
	return nil
}

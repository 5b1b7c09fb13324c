// Package container wraps transcoder input and output in file formats: WAV
// for linear PCM and Ogg for opus packets.
package container

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/joelsemar/django-webservice-tools/internal/audio/convert"
)

const wavFormatPCM = 1

var ErrNotWAV = errors.New("not a WAV file")

// PCM is a mono 16-bit stream read from a WAV file.
type PCM struct {
	SampleRate int
	Samples    []int16
}

// ReadWAV decodes a 16-bit PCM WAV file. Multi-channel files are rejected.
func ReadWAV(r io.ReadSeeker) (*PCM, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, ErrNotWAV
	}
	if d.NumChans != 1 {
		return nil, fmt.Errorf("%w: %d channels, want mono", ErrNotWAV, d.NumChans)
	}
	if d.BitDepth != 16 {
		return nil, fmt.Errorf("%w: %d bit samples, want 16", ErrNotWAV, d.BitDepth)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return &PCM{SampleRate: int(d.SampleRate), Samples: samples}, nil
}

// Bytes returns the samples as s16le, the layout raw transcoder input expects.
func (p *PCM) Bytes() []byte {
	return convert.Int16ToBytes(p.Samples)
}

// WAVWriter writes mono 16-bit PCM. Samples arrive as s16le bytes, in any
// split; Close writes the header sizes.
type WAVWriter struct {
	enc     *wav.Encoder
	buf     *audio.IntBuffer
	partial []byte
}

func NewWAVWriter(w io.WriteSeeker, sampleRate int) *WAVWriter {
	return &WAVWriter{
		enc: wav.NewEncoder(w, sampleRate, 16, 1, wavFormatPCM),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
			SourceBitDepth: 16,
		},
	}
}

func (w *WAVWriter) Write(p []byte) (int, error) {
	data := p
	if len(w.partial) > 0 {
		data = append(w.partial, p...)
		w.partial = nil
	}
	whole := len(data) &^ 1
	if whole < len(data) {
		w.partial = []byte{data[whole]}
	}
	if whole == 0 {
		return len(p), nil
	}
	w.buf.Data = w.buf.Data[:0]
	for _, v := range convert.BytesToInt16(data[:whole]) {
		w.buf.Data = append(w.buf.Data, int(v))
	}
	if err := w.enc.Write(w.buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WAVWriter) Close() error {
	if len(w.partial) > 0 {
		return fmt.Errorf("wav: %d trailing byte", len(w.partial))
	}
	return w.enc.Close()
}

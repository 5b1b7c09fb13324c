package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/joelsemar/django-webservice-tools/internal/audio/pipeline"
)

// opusClockRate is the RTP clock of opus at any sample rate.
const opusClockRate = 48000

var ErrBadPacket = errors.New("malformed length-prefixed packet")

// OggWriter muxes length-prefixed opus packets into an Ogg stream. It is a
// pipeline.ChunkSink so a session can stream into it directly.
type OggWriter struct {
	ogg       *oggwriter.OggWriter
	increment uint32
	seq       uint16
	ts        uint32
	packets   int
}

// NewOggWriter starts an Ogg/Opus stream on w. frame is the opus frame
// length and sets the granule step per packet.
func NewOggWriter(w io.Writer, sampleRate uint32, frame time.Duration) (*OggWriter, error) {
	ogg, err := oggwriter.NewWith(w, sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("ogg header: %w", err)
	}
	return &OggWriter{
		ogg:       ogg,
		increment: uint32(opusClockRate * frame / time.Second),
	}, nil
}

// WriteChunk splits the chunk into packets and writes one Ogg page each.
func (o *OggWriter) WriteChunk(c pipeline.Chunk) error {
	return o.WritePackets(c.Data)
}

// WritePackets writes every packet in data. Each packet is prefixed by its
// length as a 2-byte big-endian integer.
func (o *OggWriter) WritePackets(data []byte) error {
	for len(data) > 0 {
		if len(data) < 2 {
			return fmt.Errorf("%w: %d byte header", ErrBadPacket, len(data))
		}
		n := int(binary.BigEndian.Uint16(data))
		if n == 0 || len(data)-2 < n {
			return fmt.Errorf("%w: length %d with %d bytes left", ErrBadPacket, n, len(data)-2)
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				SequenceNumber: o.seq,
				Timestamp:      o.ts,
			},
			Payload: data[2 : 2+n],
		}
		if err := o.ogg.WriteRTP(pkt); err != nil {
			return err
		}
		o.seq++
		o.ts += o.increment
		o.packets++
		data = data[2+n:]
	}
	return nil
}

func (o *OggWriter) Packets() int { return o.packets }

func (o *OggWriter) Close() error { return o.ogg.Close() }

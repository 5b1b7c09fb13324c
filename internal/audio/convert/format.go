package convert

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// SampleFormat is the layout of raw linear PCM handed to the transcoder.
type SampleFormat int

const (
	FormatS16LE SampleFormat = iota
	FormatS16BE
	FormatU8
	FormatF32LE
)

func (f SampleFormat) String() string {
	switch f {
	case FormatS16LE:
		return "s16le"
	case FormatS16BE:
		return "s16be"
	case FormatU8:
		return "u8"
	case FormatF32LE:
		return "f32le"
	}
	return fmt.Sprintf("SampleFormat(%d)", int(f))
}

// ParseSampleFormat accepts the names returned by String.
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "s16le", "s16":
		return FormatS16LE, nil
	case "s16be":
		return FormatS16BE, nil
	case "u8":
		return FormatU8, nil
	case "f32le", "f32":
		return FormatF32LE, nil
	}
	return 0, fmt.Errorf("unknown sample format %q", s)
}

// Width is the size of one sample in bytes.
func (f SampleFormat) Width() int {
	switch f {
	case FormatU8:
		return 1
	case FormatF32LE:
		return 4
	}
	return 2
}

// Silence is the byte pattern of one zero-amplitude sample. Unsigned formats
// are offset binary, so their zero is the midpoint code, not 0x00.
func (f SampleFormat) Silence() []byte {
	if f == FormatU8 {
		return []byte{0x80}
	}
	return make([]byte, f.Width())
}

// Decode converts raw samples in f into int16 and returns dst[:n] where n is
// the number of whole samples in src. Float input is scaled to the int16 range
// and clamped.
func (f SampleFormat) Decode(dst []int16, src []byte) []int16 {
	n := len(src) / f.Width()
	if cap(dst) < n {
		dst = make([]int16, n)
	}
	dst = dst[:n]
	switch f {
	case FormatS16LE:
		for i := range dst {
			dst[i] = int16(binary.LittleEndian.Uint16(src[i*2:]))
		}
	case FormatS16BE:
		for i := range dst {
			dst[i] = int16(binary.BigEndian.Uint16(src[i*2:]))
		}
	case FormatU8:
		for i := range dst {
			dst[i] = (int16(src[i]) - 0x80) << 8
		}
	case FormatF32LE:
		for i := range dst {
			v := math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
			dst[i] = ClampSample(v * 32768)
		}
	}
	return dst
}

// Encode appends src to dst in format f. It is the inverse of Decode up to
// the precision of f.
func (f SampleFormat) Encode(dst []byte, src []int16) []byte {
	switch f {
	case FormatS16LE:
		return AppendInt16(dst, src)
	case FormatS16BE:
		for _, v := range src {
			dst = binary.BigEndian.AppendUint16(dst, uint16(v))
		}
	case FormatU8:
		for _, v := range src {
			dst = append(dst, byte(v>>8)^0x80)
		}
	case FormatF32LE:
		for _, v := range src {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(v)/32768))
		}
	}
	return dst
}

package convert

import (
	"encoding/binary"
	"math"
)

const (
	MinSample = math.MinInt16
	MaxSample = math.MaxInt16
)

// ClampSample saturates v into [MinSample, MaxSample] and truncates toward
// zero. Out of range values never wrap.
func ClampSample(v float32) int16 {
	if math.IsNaN(float64(v)) {
		return 0
	}
	if v < MinSample {
		return MinSample
	}
	if v > MaxSample {
		return MaxSample
	}
	return int16(v)
}

// ClampSamples writes the clamped values of src into dst and returns dst[:len(src)].
func ClampSamples(dst []int16, src []float32) []int16 {
	if cap(dst) < len(src) {
		dst = make([]int16, len(src))
	}
	dst = dst[:len(src)]
	for i, v := range src {
		dst[i] = ClampSample(v)
	}
	return dst
}

// Int16ToBytes convert int16 sample to byte (Little Endian)
func Int16ToBytes(src []int16) []byte {
	dst := make([]byte, len(src)*2)
	for i, v := range src {
		binary.LittleEndian.PutUint16(dst[i*2:i*2+2], uint16(v))
	}
	return dst
}

// AppendInt16 appends src to dst as s16le bytes.
func AppendInt16(dst []byte, src []int16) []byte {
	for _, v := range src {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(v))
	}
	return dst
}

// BytesToInt16 converts s16le bytes to samples. A trailing odd byte is ignored.
func BytesToInt16(src []byte) []int16 {
	dst := make([]int16, len(src)/2)
	for i := range dst {
		dst[i] = int16(binary.LittleEndian.Uint16(src[i*2:]))
	}
	return dst
}

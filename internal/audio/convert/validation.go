package convert

import "slices"

// FrameSizes returns the frame sizes (samples per channel) an Opus style codec
// accepts at sampleRate: 2.5, 5, 10, 20, 40 and 60 ms.
func FrameSizes(sampleRate int) []int {
	ms25 := sampleRate / 400
	return []int{ms25, ms25 * 2, ms25 * 4, ms25 * 8, ms25 * 16, ms25 * 24}
}

func IsFrameSizeValid(sampleRate, frameSize int) bool {
	switch sampleRate {
	case 8000, 12000, 16000, 24000, 48000:
		return slices.Contains(FrameSizes(sampleRate), frameSize)
	}
	return false
}

package config

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

type AudioConfigType string

func (ac AudioConfigType) String() string {
	return string(ac)
}

const (
	// hand-off format between the decode and encode stages
	SampleRatePCM   = 8000
	FrameSamplesPCM = 160 // samples 20 ms at 8kHz
	ChannelsPCM     = 1

	SampleRateOpus   = 48000
	FrameSamplesOpus = 960 // samples 20 ms at 48kHz

	// one mp3 frame worth of samples per encoder write
	FrameSamplesMP3 = 1152

	AudioCodecRaw  AudioConfigType = "raw" // no decoding stage, linear PCM in
	AudioCodecPCMU AudioConfigType = "pcmu"
	AudioCodecPCMA AudioConfigType = "pcma"
	AudioCodecL16  AudioConfigType = "l16"
	AudioCodecOpus AudioConfigType = "opus"
	AudioCodecMP3  AudioConfigType = "mp3"

	MimeTypeL16 = "audio/L16"
	MimeTypeMP3 = "audio/mpeg"
)

// AudioConfig describes one side of a transcode: the codec and the framing it
// expects.
type AudioConfig struct {
	SampleRate   uint32
	FrameSamples int
	Channels     uint16
	Type         AudioConfigType
	MimeType     string
	PayloadType  uint8
}

// FrameBytes is the size of one frame of 16-bit linear samples.
func (ac AudioConfig) FrameBytes() int {
	return ac.FrameSamples * int(ac.Channels) * 2
}

// NewPCMUConfig creates AudioConfig for PCMU/G.711 mu-law
func NewPCMUConfig() AudioConfig {
	return AudioConfig{
		SampleRate:   SampleRatePCM,
		FrameSamples: FrameSamplesPCM,
		Channels:     ChannelsPCM,
		Type:         AudioCodecPCMU,
		MimeType:     webrtc.MimeTypePCMU,
		PayloadType:  0,
	}
}

// NewPCMAConfig creates AudioConfig for PCMA/G.711 a-law
func NewPCMAConfig() AudioConfig {
	return AudioConfig{
		SampleRate:   SampleRatePCM,
		FrameSamples: FrameSamplesPCM,
		Channels:     ChannelsPCM,
		Type:         AudioCodecPCMA,
		MimeType:     webrtc.MimeTypePCMA,
		PayloadType:  8,
	}
}

// NewL16Config creates AudioConfig for linear 16-bit PCM
func NewL16Config() AudioConfig {
	return AudioConfig{
		SampleRate:   SampleRatePCM,
		FrameSamples: FrameSamplesPCM,
		Channels:     ChannelsPCM,
		Type:         AudioCodecL16,
		MimeType:     MimeTypeL16,
		PayloadType:  11,
	}
}

// NewOpusConfig creates AudioConfig for Opus. Narrowband by default so no rate
// conversion is needed after decoding; see WithSampleRate.
func NewOpusConfig() AudioConfig {
	return AudioConfig{
		SampleRate:   SampleRatePCM,
		FrameSamples: FrameSamplesPCM,
		Channels:     ChannelsPCM,
		Type:         AudioCodecOpus,
		MimeType:     webrtc.MimeTypeOpus,
		PayloadType:  111,
	}
}

// NewMP3Config creates AudioConfig for MP3 produced by ffmpeg
func NewMP3Config() AudioConfig {
	return AudioConfig{
		SampleRate:   SampleRatePCM,
		FrameSamples: FrameSamplesMP3,
		Channels:     ChannelsPCM,
		Type:         AudioCodecMP3,
		MimeType:     MimeTypeMP3,
		PayloadType:  14,
	}
}

// WithSampleRate returns a copy running at rate, keeping the frame duration.
func (ac AudioConfig) WithSampleRate(rate uint32) AudioConfig {
	if rate == 0 || rate == ac.SampleRate {
		return ac
	}
	ac.FrameSamples = int(uint64(ac.FrameSamples) * uint64(rate) / uint64(ac.SampleRate))
	ac.SampleRate = rate
	return ac
}

// Lookup returns the default AudioConfig for a codec name.
func Lookup(name string) (AudioConfig, error) {
	switch AudioConfigType(strings.ToLower(strings.TrimSpace(name))) {
	case AudioCodecPCMU:
		return NewPCMUConfig(), nil
	case AudioCodecPCMA:
		return NewPCMAConfig(), nil
	case AudioCodecL16, AudioCodecRaw:
		return NewL16Config(), nil
	case AudioCodecOpus:
		return NewOpusConfig(), nil
	case AudioCodecMP3:
		return NewMP3Config(), nil
	}
	return AudioConfig{}, fmt.Errorf("unknown codec type %q", name)
}

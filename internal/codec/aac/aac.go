package aac

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// SamplesPerFrame is the number of PCM samples carried by one AAC-LC frame.
const SamplesPerFrame = 1024

// IsADTS reports whether data starts with an ADTS syncword.
func IsADTS(data []byte) bool {
	return len(data) >= 7 && data[0] == 0xFF && (data[1]&0xF6) == 0xF0
}

// StripADTSHeader removes the ADTS header if present and returns the raw AAC payload.
// If no ADTS header is detected, returns the original data.
func StripADTSHeader(data []byte) []byte {
	if !IsADTS(data) {
		return data
	}
	headerLen := 7
	if (data[1] & 0x01) == 0 { // CRC present => 2 extra bytes
		headerLen = 9
	}
	if len(data) > headerLen {
		return data[headerLen:]
	}
	return data
}

// FrameLength returns the full length of the ADTS frame starting at data,
// header included.
func FrameLength(header []byte) (int, error) {
	if !IsADTS(header) {
		return 0, fmt.Errorf("missing ADTS syncword")
	}
	l := int(header[3]&0x03)<<11 | int(header[4])<<3 | int(header[5])>>5
	if l < 7 {
		return 0, fmt.Errorf("invalid ADTS frame length %d", l)
	}
	return l, nil
}

// ConfigFor resolves the AudioSpecificConfig of a track: extra, when
// present, is decoded; otherwise an AAC-LC config is derived from the
// track parameters.
func ConfigFor(extra []byte, sampleRate, channelCount int) (mpeg4audio.AudioSpecificConfig, error) {
	var conf mpeg4audio.AudioSpecificConfig
	if len(extra) > 0 {
		if err := conf.Unmarshal(extra); err != nil {
			return conf, fmt.Errorf("failed to parse AudioSpecificConfig: %w", err)
		}
		return conf, nil
	}
	if sampleRate <= 0 || channelCount <= 0 {
		return conf, fmt.Errorf("cannot derive AudioSpecificConfig from %d Hz, %d channels", sampleRate, channelCount)
	}
	conf = mpeg4audio.AudioSpecificConfig{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   sampleRate,
		ChannelCount: channelCount,
	}
	return conf, nil
}

// MarshalConfig encodes an AudioSpecificConfig.
func MarshalConfig(conf mpeg4audio.AudioSpecificConfig) ([]byte, error) {
	b, err := conf.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal AudioSpecificConfig: %w", err)
	}
	return b, nil
}

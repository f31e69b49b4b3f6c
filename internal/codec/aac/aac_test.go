package aac

import (
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAACFrame = []byte{
	0x12, 0x10, 0x56, 0xe5, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

func adtsFrame(t *testing.T, au []byte) []byte {
	t.Helper()
	pkts := mpeg4audio.ADTSPackets{{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   44100,
		ChannelCount: 2,
		AU:           au,
	}}
	b, err := pkts.Marshal()
	require.NoError(t, err)
	return b
}

func TestADTSHeader(t *testing.T) {
	frame := adtsFrame(t, testAACFrame)

	tests := []struct {
		name     string
		data     []byte
		isADTS   bool
		stripped []byte
	}{
		{"adts frame", frame, true, testAACFrame},
		{"raw frame", testAACFrame, false, testAACFrame},
		{"short", []byte{0xFF, 0xF1}, false, []byte{0xFF, 0xF1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.isADTS, IsADTS(tt.data))
			assert.Equal(t, tt.stripped, StripADTSHeader(tt.data))
		})
	}
}

func TestFrameLength(t *testing.T) {
	frame := adtsFrame(t, testAACFrame)

	n, err := FrameLength(frame)
	require.NoError(t, err)
	assert.Equal(t, len(frame), n)

	_, err = FrameLength(testAACFrame)
	assert.Error(t, err)
}

func TestConfigFor(t *testing.T) {
	derived, err := ConfigFor(nil, 48000, 2)
	require.NoError(t, err)
	assert.Equal(t, mpeg4audio.ObjectTypeAACLC, derived.Type)
	assert.Equal(t, 48000, derived.SampleRate)
	assert.Equal(t, 2, derived.ChannelCount)

	raw, err := MarshalConfig(derived)
	require.NoError(t, err)

	parsed, err := ConfigFor(raw, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, derived.SampleRate, parsed.SampleRate)
	assert.Equal(t, derived.ChannelCount, parsed.ChannelCount)

	_, err = ConfigFor(nil, 0, 2)
	assert.Error(t, err)
	_, err = ConfigFor([]byte{0xFF}, 44100, 2)
	assert.Error(t, err)
}

package av

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildVideoDescriptor(t *testing.T) {
	tests := []struct {
		name     string
		width    int
		height   int
		codec    CodecID
		wantCode Code
	}{
		{"h264", 1280, 720, CodecH264, CodeOK},
		{"h265", 1920, 1080, CodecH265, CodeOK},
		{"zero width", 0, 720, CodecH264, CodeInvalidArgument},
		{"negative height", 1280, -1, CodecH264, CodeInvalidArgument},
		{"audio codec", 1280, 720, CodecAAC, CodeCodecUnsupported},
		{"unknown codec", 1280, 720, CodecUnknown, CodeCodecUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := BuildVideoDescriptor(tt.width, tt.height, "", tt.codec, nil)
			if tt.wantCode != CodeOK {
				require.Error(t, err)
				assert.Nil(t, d)
				assert.Equal(t, tt.wantCode, CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, KindVideo, d.Kind())
			assert.Equal(t, tt.codec, d.Codec())
			assert.Equal(t, tt.width, d.Width())
			assert.Equal(t, tt.height, d.Height())
			assert.Equal(t, PixelFormatYUV420P, d.PixelFormat())
			assert.False(t, d.HasExtraConfig())
			assert.False(t, d.TimeBase().Valid())
		})
	}
}

func TestBuildAudioDescriptor(t *testing.T) {
	tests := []struct {
		name     string
		rate     int
		channels int
		codec    CodecID
		wantCode Code
	}{
		{"aac mono", 44100, 1, CodecAAC, CodeOK},
		{"opus stereo", 48000, 2, CodecOpus, CodeOK},
		{"mp3", 44100, 2, CodecMP3, CodeOK},
		{"zero rate", 0, 1, CodecAAC, CodeInvalidArgument},
		{"zero channels", 44100, 0, CodecAAC, CodeInvalidArgument},
		{"video codec", 44100, 1, CodecH264, CodeCodecUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := BuildAudioDescriptor(tt.rate, tt.channels, "", tt.codec, nil)
			if tt.wantCode != CodeOK {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, KindAudio, d.Kind())
			assert.Equal(t, tt.rate, d.SampleRate())
			assert.Equal(t, tt.channels, d.ChannelCount())
			assert.Equal(t, SampleFormatS16, d.SampleFormat())
		})
	}
}

func TestDescriptorExtraConfigIsCopied(t *testing.T) {
	extra := []byte{0x12, 0x10}
	d, err := BuildAudioDescriptor(44100, 1, SampleFormatFLTP, CodecAAC, extra)
	require.NoError(t, err)

	extra[0] = 0xFF
	assert.Equal(t, []byte{0x12, 0x10}, d.ExtraConfig())

	got := d.ExtraConfig()
	got[1] = 0xFF
	assert.Equal(t, []byte{0x12, 0x10}, d.ExtraConfig())
}

func TestDescriptorDerivedCopies(t *testing.T) {
	d, err := BuildVideoDescriptor(640, 480, PixelFormatNV12, CodecH265, []byte{1, 2, 3})
	require.NoError(t, err)

	p := d.AsPassthrough()
	assert.True(t, p.Passthrough())
	assert.False(t, d.Passthrough())

	tb := Rational{Num: 1, Den: 1000}
	withTB := d.WithTimeBase(tb)
	assert.Equal(t, tb, withTB.TimeBase())
	assert.False(t, d.TimeBase().Valid())
	assert.Equal(t, d.ExtraConfig(), withTB.ExtraConfig())
}

func TestErrorCodes(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeIO, "write trailer", cause)

	assert.Equal(t, CodeIO, CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "i/o error")
	assert.Equal(t, CodeOK, CodeOf(nil))
	assert.Equal(t, CodeIO, CodeOf(errors.New("foreign")))
	assert.Equal(t, "non monotonically increasing dts", CodeNonMonotonicDTS.String())
}

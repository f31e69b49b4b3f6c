package mux

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
)

func TestNewDescriptorBuilderUnknownFormat(t *testing.T) {
	b, err := NewDescriptorBuilder("avi")
	require.Error(t, err)
	assert.Nil(t, b)
	assert.True(t, errors.Is(err, ErrConfig))
	assert.Equal(t, av.CodeUnknownFormat, CodeOf(err))
}

func TestDescriptorBuilderVideo(t *testing.T) {
	tests := []struct {
		name            string
		format          string
		passthrough     bool
		codec           av.CodecID
		width, height   int
		code            av.Code
		wantPassthrough bool
	}{
		{"flv h264", "flv", false, av.CodecH264, 1920, 1080, av.CodeOK, false},
		{"flv h265 rejected", "flv", false, av.CodecH265, 1920, 1080, av.CodeCodecUnsupported, false},
		{"flv h265 passthrough", "flv", true, av.CodecH265, 1920, 1080, av.CodeOK, true},
		{"mp4 h265 rejected even with passthrough", "mp4", true, av.CodecH265, 1920, 1080, av.CodeCodecUnsupported, false},
		{"hls h265", "hls", false, av.CodecH265, 1280, 720, av.CodeOK, false},
		{"zero width", "flv", false, av.CodecH264, 0, 1080, av.CodeInvalidArgument, false},
		{"audio codec as video", "flv", false, av.CodecAAC, 1920, 1080, av.CodeCodecUnsupported, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewDescriptorBuilder(tt.format)
			require.NoError(t, err)
			b.AllowPassthrough = tt.passthrough

			d, err := b.BuildVideoDescriptor(tt.width, tt.height, av.PixelFormatYUV420P, tt.codec, nil)
			if tt.code != av.CodeOK {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrConfig))
				assert.Equal(t, tt.code, CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.codec, d.Codec())
			assert.Equal(t, tt.wantPassthrough, d.Passthrough())
			assert.Equal(t, tt.width, d.Width())
		})
	}
}

func TestDescriptorBuilderAudio(t *testing.T) {
	tests := []struct {
		name       string
		format     string
		codec      av.CodecID
		sampleRate int
		channels   int
		code       av.Code
	}{
		{"flv aac", "flv", av.CodecAAC, 44100, 2, av.CodeOK},
		{"mp4 opus", "mp4", av.CodecOpus, 48000, 2, av.CodeOK},
		{"flv opus", "flv", av.CodecOpus, 48000, 2, av.CodeCodecUnsupported},
		{"zero channels", "flv", av.CodecAAC, 44100, 0, av.CodeInvalidArgument},
		{"zero sample rate", "mkv", av.CodecAAC, 0, 2, av.CodeInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewDescriptorBuilder(tt.format)
			require.NoError(t, err)

			d, err := b.BuildAudioDescriptor(tt.sampleRate, tt.channels, av.SampleFormatS16, tt.codec, []byte{0x12, 0x10})
			if tt.code != av.CodeOK {
				assert.Equal(t, tt.code, CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.channels, d.ChannelCount())
			assert.Equal(t, []byte{0x12, 0x10}, d.ExtraConfig())
		})
	}
}

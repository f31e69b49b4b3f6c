package mux

import (
	"github.com/babelcloud/gbox/packages/avmux/internal/av"
	"github.com/babelcloud/gbox/packages/avmux/internal/container"
)

// DescriptorBuilder builds stream descriptors for a target output format.
type DescriptorBuilder struct {
	format *container.Format

	// AllowPassthrough makes codecs the format can only carry opaquely
	// produce a passthrough descriptor instead of a CodecUnsupported error.
	AllowPassthrough bool
}

// NewDescriptorBuilder returns a builder for the named format.
func NewDescriptorBuilder(formatName string) (*DescriptorBuilder, error) {
	f, err := container.Lookup(formatName)
	if err != nil {
		return nil, newError(ErrConfig, "descriptor builder", err)
	}
	return &DescriptorBuilder{format: f}, nil
}

// Format returns the target format.
func (b *DescriptorBuilder) Format() *container.Format {
	return b.format
}

// BuildVideoDescriptor validates video parameters and the codec against the
// target format. extraConfig is copied; it may be empty.
func (b *DescriptorBuilder) BuildVideoDescriptor(width, height int, pixelFormat av.PixelFormat, codec av.CodecID, extraConfig []byte) (*av.StreamDescriptor, error) {
	d, err := av.BuildVideoDescriptor(width, height, pixelFormat, codec, extraConfig)
	if err != nil {
		return nil, newError(ErrConfig, "build video descriptor", err)
	}
	return b.check(d)
}

// BuildAudioDescriptor validates audio parameters and the codec against the
// target format. extraConfig is copied; it may be empty.
func (b *DescriptorBuilder) BuildAudioDescriptor(sampleRate, channelCount int, sampleFormat av.SampleFormat, codec av.CodecID, extraConfig []byte) (*av.StreamDescriptor, error) {
	d, err := av.BuildAudioDescriptor(sampleRate, channelCount, sampleFormat, codec, extraConfig)
	if err != nil {
		return nil, newError(ErrConfig, "build audio descriptor", err)
	}
	return b.check(d)
}

func (b *DescriptorBuilder) check(d *av.StreamDescriptor) (*av.StreamDescriptor, error) {
	if b.format.Supports(d.Codec(), false) {
		return d, nil
	}
	if b.AllowPassthrough && b.format.Supports(d.Codec(), true) {
		return d.AsPassthrough(), nil
	}
	return nil, newErrorf(ErrConfig, "build descriptor", av.CodeCodecUnsupported,
		"%s cannot be stored in %s", d.Codec(), b.format.Name)
}

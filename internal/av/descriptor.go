package av

// StreamDescriptor describes one media track. Descriptors are immutable once
// built: extra configuration is copied on creation and on every read.
type StreamDescriptor struct {
	kind        Kind
	codec       CodecID
	passthrough bool
	timeBase    Rational

	width       int
	height      int
	pixelFormat PixelFormat

	sampleRate   int
	channelCount int
	sampleFormat SampleFormat

	extra []byte
}

// BuildVideoDescriptor validates video codec parameters and returns a
// descriptor. extraConfig (SPS/PPS as avcC or Annex-B) may be empty.
func BuildVideoDescriptor(width, height int, pixelFormat PixelFormat, codec CodecID, extraConfig []byte) (*StreamDescriptor, error) {
	const op = "build video descriptor"
	if width <= 0 || height <= 0 {
		return nil, Errorf(CodeInvalidArgument, op, "dimensions %dx%d", width, height)
	}
	if codec.Kind() != KindVideo {
		return nil, Errorf(CodeCodecUnsupported, op, "%s is not a video codec", codec)
	}
	if pixelFormat == "" {
		pixelFormat = PixelFormatYUV420P
	}
	return &StreamDescriptor{
		kind:        KindVideo,
		codec:       codec,
		width:       width,
		height:      height,
		pixelFormat: pixelFormat,
		extra:       cloneBytes(extraConfig),
	}, nil
}

// BuildAudioDescriptor validates audio codec parameters and returns a
// descriptor. extraConfig (an AudioSpecificConfig for AAC) may be empty.
func BuildAudioDescriptor(sampleRate, channelCount int, sampleFormat SampleFormat, codec CodecID, extraConfig []byte) (*StreamDescriptor, error) {
	const op = "build audio descriptor"
	if sampleRate <= 0 {
		return nil, Errorf(CodeInvalidArgument, op, "sample rate %d", sampleRate)
	}
	if channelCount <= 0 {
		return nil, Errorf(CodeInvalidArgument, op, "channel count %d", channelCount)
	}
	if codec.Kind() != KindAudio {
		return nil, Errorf(CodeCodecUnsupported, op, "%s is not an audio codec", codec)
	}
	if sampleFormat == "" {
		sampleFormat = SampleFormatS16
	}
	return &StreamDescriptor{
		kind:         KindAudio,
		codec:        codec,
		sampleRate:   sampleRate,
		channelCount: channelCount,
		sampleFormat: sampleFormat,
		extra:        cloneBytes(extraConfig),
	}, nil
}

// AsPassthrough returns a copy marked as a passthrough track: the container
// accepts its payloads verbatim even when it cannot resolve the codec.
func (d *StreamDescriptor) AsPassthrough() *StreamDescriptor {
	c := *d
	c.extra = cloneBytes(d.extra)
	c.passthrough = true
	return &c
}

// WithTimeBase returns a copy bound to the time base a container assigned.
func (d *StreamDescriptor) WithTimeBase(tb Rational) *StreamDescriptor {
	c := *d
	c.extra = cloneBytes(d.extra)
	c.timeBase = tb
	return &c
}

func (d *StreamDescriptor) Kind() Kind                 { return d.kind }
func (d *StreamDescriptor) Codec() CodecID             { return d.codec }
func (d *StreamDescriptor) Passthrough() bool          { return d.passthrough }
func (d *StreamDescriptor) TimeBase() Rational         { return d.timeBase }
func (d *StreamDescriptor) Width() int                 { return d.width }
func (d *StreamDescriptor) Height() int                { return d.height }
func (d *StreamDescriptor) PixelFormat() PixelFormat   { return d.pixelFormat }
func (d *StreamDescriptor) SampleRate() int            { return d.sampleRate }
func (d *StreamDescriptor) ChannelCount() int          { return d.channelCount }
func (d *StreamDescriptor) SampleFormat() SampleFormat { return d.sampleFormat }

// ExtraConfig returns a copy of the out-of-band codec configuration.
func (d *StreamDescriptor) ExtraConfig() []byte {
	return cloneBytes(d.extra)
}

// HasExtraConfig reports whether out-of-band configuration was supplied.
func (d *StreamDescriptor) HasExtraConfig() bool {
	return len(d.extra) > 0
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

package av

// Kind identifies the media type of a track.
type Kind int

const (
	KindUnknown Kind = iota
	KindVideo
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// CodecID identifies the compressed payload carried by a track.
type CodecID int

const (
	CodecUnknown CodecID = iota
	CodecH264
	CodecH265
	CodecAAC
	CodecOpus
	CodecMP3
)

func (c CodecID) String() string {
	switch c {
	case CodecH264:
		return "H264"
	case CodecH265:
		return "H265"
	case CodecAAC:
		return "AAC"
	case CodecOpus:
		return "Opus"
	case CodecMP3:
		return "MP3"
	default:
		return "Unknown"
	}
}

// Kind returns the media type the codec belongs to.
func (c CodecID) Kind() Kind {
	switch c {
	case CodecH264, CodecH265:
		return KindVideo
	case CodecAAC, CodecOpus, CodecMP3:
		return KindAudio
	default:
		return KindUnknown
	}
}

// ParseCodecID maps a codec name as used on the command line to a CodecID.
func ParseCodecID(name string) CodecID {
	switch name {
	case "h264", "H264", "avc":
		return CodecH264
	case "h265", "H265", "hevc":
		return CodecH265
	case "aac", "AAC":
		return CodecAAC
	case "opus", "Opus":
		return CodecOpus
	case "mp3", "MP3":
		return CodecMP3
	default:
		return CodecUnknown
	}
}

// PixelFormat describes the raw picture layout the encoder was fed with.
// It is informational only; payloads are already compressed.
type PixelFormat string

const (
	PixelFormatYUV420P PixelFormat = "yuv420p"
	PixelFormatNV12    PixelFormat = "nv12"
)

// SampleFormat describes the raw sample layout the audio encoder was fed with.
type SampleFormat string

const (
	SampleFormatS16  SampleFormat = "s16"
	SampleFormatFLTP SampleFormat = "fltp"
)

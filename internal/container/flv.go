package container

import (
	"bytes"
	"fmt"

	"github.com/ossrs/go-oryx-lib/flv"
	"github.com/yutopp/go-amf0"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
	"github.com/babelcloud/gbox/packages/avmux/internal/codec/aac"
	"github.com/babelcloud/gbox/packages/avmux/internal/codec/h264"
)

// FLV tag body constants.
const (
	flvCodecAVC  = 7
	flvCodecHEVC = 12

	flvFrameKey   = 1
	flvFrameInter = 2

	flvPacketSequenceHeader = 0
	flvPacketNALU           = 1

	flvSoundMP3 = 2
	flvSoundAAC = 10
)

var flvTimeBase = av.Rational{Num: 1, Den: 1000}

var flvFormat = &Format{
	Name:              "flv",
	LongName:          "FLV (Flash Video)",
	Extensions:        []string{"flv"},
	Flags:             FlagGlobalHeader,
	Codecs:            []av.CodecID{av.CodecH264, av.CodecAAC, av.CodecMP3},
	PassthroughCodecs: []av.CodecID{av.CodecH265},
	newMuxer:          newFLVMuxer,
}

type flvMuxer struct {
	out *Output
	m   flv.Muxer

	videoConfigSent bool
	audioConfigSent bool
	warnedNoConfig  bool
}

func newFLVMuxer(o *Output) muxer {
	return &flvMuxer{out: o}
}

func (m *flvMuxer) writeHeader() error {
	for _, st := range m.out.Streams {
		st.TimeBase = flvTimeBase
	}
	video := m.out.stream(av.KindVideo)
	audio := m.out.stream(av.KindAudio)

	fm, err := flv.NewMuxer(m.out.writer())
	if err != nil {
		return fmt.Errorf("failed to create flv muxer: %w", err)
	}
	m.m = fm
	if err := fm.WriteHeader(audio != nil, video != nil); err != nil {
		return fmt.Errorf("failed to write flv header: %w", err)
	}

	meta, err := flvMetadata(video, audio)
	if err != nil {
		return err
	}
	if err := fm.WriteTag(flv.TagTypeScriptData, 0, meta); err != nil {
		return fmt.Errorf("failed to write onMetaData: %w", err)
	}

	if video != nil && video.Desc.HasExtraConfig() {
		if err := m.writeVideoConfig(video.Desc.Codec(), video.Desc.ExtraConfig(), 0); err != nil {
			return err
		}
	}
	if audio != nil && audio.Desc.Codec() == av.CodecAAC {
		if err := m.writeAudioConfig(audio.Desc, 0); err != nil {
			return err
		}
	}
	return nil
}

// flvMetadata encodes the onMetaData script tag body.
func flvMetadata(video, audio *Stream) ([]byte, error) {
	props := amf0.ECMAArray{
		"duration": float64(0),
		"filesize": float64(0),
		"encoder":  "avmux",
	}
	if video != nil {
		props["width"] = float64(video.Desc.Width())
		props["height"] = float64(video.Desc.Height())
		if video.Desc.Codec() == av.CodecH265 {
			props["videocodecid"] = float64(flvCodecHEVC)
		} else {
			props["videocodecid"] = float64(flvCodecAVC)
		}
	}
	if audio != nil {
		props["audiosamplerate"] = float64(audio.Desc.SampleRate())
		props["audiosamplesize"] = float64(16)
		props["stereo"] = audio.Desc.ChannelCount() > 1
		if audio.Desc.Codec() == av.CodecMP3 {
			props["audiocodecid"] = float64(flvSoundMP3)
		} else {
			props["audiocodecid"] = float64(flvSoundAAC)
		}
	}

	var buf bytes.Buffer
	enc := amf0.NewEncoder(&buf)
	if err := enc.Encode("onMetaData"); err != nil {
		return nil, fmt.Errorf("failed to encode metadata name: %w", err)
	}
	if err := enc.Encode(props); err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return buf.Bytes(), nil
}

func (m *flvMuxer) writeVideoConfig(codec av.CodecID, extra []byte, ts uint32) error {
	record := extra
	codecID := byte(flvCodecHEVC)
	if codec == av.CodecH264 {
		codecID = flvCodecAVC
		sps, pps, err := h264.ParseExtraConfig(extra)
		if err != nil {
			return err
		}
		if record, err = h264.BuildAvcc(sps, pps); err != nil {
			return err
		}
	}
	body := flvVideoTag(codecID, flvFrameKey, flvPacketSequenceHeader, 0, record)
	if err := m.m.WriteTag(flv.TagTypeVideo, ts, body); err != nil {
		return fmt.Errorf("failed to write video sequence header: %w", err)
	}
	m.videoConfigSent = true
	return nil
}

func (m *flvMuxer) writeAudioConfig(d *av.StreamDescriptor, ts uint32) error {
	conf, err := aac.ConfigFor(d.ExtraConfig(), d.SampleRate(), d.ChannelCount())
	if err != nil {
		return err
	}
	asc, err := aac.MarshalConfig(conf)
	if err != nil {
		return err
	}
	body := flvAudioTag(flvSoundAAC, d, flvPacketSequenceHeader, asc)
	if err := m.m.WriteTag(flv.TagTypeAudio, ts, body); err != nil {
		return fmt.Errorf("failed to write audio sequence header: %w", err)
	}
	m.audioConfigSent = true
	return nil
}

func (m *flvMuxer) writePacket(st *Stream, pkt *av.Packet) error {
	ts := uint32(pkt.DTS)
	switch st.Desc.Codec() {
	case av.CodecH264:
		nalus, err := h264.SplitAccessUnit(pkt.Data)
		if err != nil {
			return av.Wrap(av.CodeInvalidData, "flv video", err)
		}
		if !m.videoConfigSent {
			if sps, pps := h264.ParameterSets(nalus); sps != nil && pps != nil {
				record, err := h264.BuildAvcc(sps, pps)
				if err != nil {
					return av.Wrap(av.CodeInvalidData, "flv video", err)
				}
				if err := m.writeVideoConfig(av.CodecH264, record, ts); err != nil {
					return err
				}
			} else if !m.warnedNoConfig {
				m.warnedNoConfig = true
				m.out.logger.Warn("No SPS/PPS available yet, writing video without sequence header", "dts", pkt.DTS)
			}
		}
		frames := h264.StripParameterSets(nalus)
		if len(frames) == 0 {
			return nil
		}
		body := flvVideoTag(flvCodecAVC, flvFrameType(pkt.Keyframe), flvPacketNALU, int32(pkt.PTS-pkt.DTS), h264.MarshalAVCC(frames))
		return m.m.WriteTag(flv.TagTypeVideo, ts, body)

	case av.CodecH265:
		payload := pkt.Data
		if h264.HasStartCode(payload) {
			nalus, err := h264.SplitAccessUnit(payload)
			if err != nil {
				return av.Wrap(av.CodeInvalidData, "flv video", err)
			}
			payload = h264.MarshalAVCC(nalus)
		}
		body := flvVideoTag(flvCodecHEVC, flvFrameType(pkt.Keyframe), flvPacketNALU, int32(pkt.PTS-pkt.DTS), payload)
		return m.m.WriteTag(flv.TagTypeVideo, ts, body)

	case av.CodecAAC:
		if !m.audioConfigSent {
			if err := m.writeAudioConfig(st.Desc, ts); err != nil {
				return err
			}
		}
		body := flvAudioTag(flvSoundAAC, st.Desc, flvPacketNALU, aac.StripADTSHeader(pkt.Data))
		return m.m.WriteTag(flv.TagTypeAudio, ts, body)

	case av.CodecMP3:
		body := flvAudioTag(flvSoundMP3, st.Desc, -1, pkt.Data)
		return m.m.WriteTag(flv.TagTypeAudio, ts, body)
	}
	return av.Errorf(av.CodeCodecUnsupported, "flv", "%s", st.Desc.Codec())
}

func (m *flvMuxer) writeTrailer() error {
	if m.m == nil {
		return nil
	}
	return m.m.Close()
}

func flvFrameType(key bool) byte {
	if key {
		return flvFrameKey
	}
	return flvFrameInter
}

// flvVideoTag builds an AVC/HEVC video tag body: frame type and codec id,
// packet type, 24-bit composition time, payload.
func flvVideoTag(codecID, frameType, packetType byte, cts int32, payload []byte) []byte {
	out := make([]byte, 0, 5+len(payload))
	out = append(out,
		frameType<<4|codecID,
		packetType,
		byte(cts>>16), byte(cts>>8), byte(cts),
	)
	return append(out, payload...)
}

// flvAudioTag builds an audio tag body. packetType < 0 omits the AAC packet
// type byte.
func flvAudioTag(soundFormat byte, d *av.StreamDescriptor, packetType int, payload []byte) []byte {
	rate := byte(3)
	size := byte(1)
	stereo := byte(1)
	if soundFormat != flvSoundAAC {
		switch {
		case d.SampleRate() <= 5512:
			rate = 0
		case d.SampleRate() <= 11025:
			rate = 1
		case d.SampleRate() <= 22050:
			rate = 2
		}
		if d.ChannelCount() < 2 {
			stereo = 0
		}
	}
	out := make([]byte, 0, 2+len(payload))
	out = append(out, soundFormat<<4|rate<<2|size<<1|stereo)
	if packetType >= 0 {
		out = append(out, byte(packetType))
	}
	return append(out, payload...)
}

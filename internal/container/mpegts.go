package container

import (
	"context"
	"fmt"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
	"github.com/babelcloud/gbox/packages/avmux/internal/codec/aac"
	"github.com/babelcloud/gbox/packages/avmux/internal/codec/h264"
)

var tsTimeBase = av.Rational{Num: 1, Den: 90000}

const (
	tsVideoPID = 256
	tsAudioPID = 257

	pesStreamIDVideo = 224
	pesStreamIDAudio = 192
)

var mpegtsFormat = &Format{
	Name:       "mpegts",
	LongName:   "MPEG-TS (MPEG-2 Transport Stream)",
	Extensions: []string{"ts", "m2t", "mts"},
	Codecs:     []av.CodecID{av.CodecH264, av.CodecH265, av.CodecAAC, av.CodecMP3},
	newMuxer:   newTSMuxer,
}

type tsMuxer struct {
	out *Output
	mux *astits.Muxer

	pids     map[int]uint16
	pcrPID   uint16
	sps, pps []byte
	asc      *mpeg4audio.AudioSpecificConfig
}

func newTSMuxer(o *Output) muxer {
	return &tsMuxer{out: o, pids: make(map[int]uint16)}
}

func (m *tsMuxer) writeHeader() error {
	m.mux = astits.NewMuxer(context.Background(), m.out.writer())
	var pcrPID uint16
	for _, st := range m.out.Streams {
		st.TimeBase = tsTimeBase
		es, err := m.elementaryStream(st)
		if err != nil {
			return err
		}
		if err := m.mux.AddElementaryStream(es); err != nil {
			return fmt.Errorf("failed to add elementary stream: %w", err)
		}
		m.pids[st.Index] = es.ElementaryPID
		if pcrPID == 0 || st.Desc.Kind() == av.KindVideo {
			pcrPID = es.ElementaryPID
		}
	}
	m.pcrPID = pcrPID
	m.mux.SetPCRPID(pcrPID)
	if _, err := m.mux.WriteTables(); err != nil {
		return fmt.Errorf("failed to write PAT/PMT: %w", err)
	}
	return nil
}

func (m *tsMuxer) elementaryStream(st *Stream) (astits.PMTElementaryStream, error) {
	d := st.Desc
	switch d.Codec() {
	case av.CodecH264:
		if d.HasExtraConfig() {
			sps, pps, err := h264.ParseExtraConfig(d.ExtraConfig())
			if err != nil {
				return astits.PMTElementaryStream{}, err
			}
			m.sps, m.pps = sps, pps
		}
		return astits.PMTElementaryStream{ElementaryPID: tsVideoPID, StreamType: astits.StreamTypeH264Video}, nil
	case av.CodecH265:
		return astits.PMTElementaryStream{ElementaryPID: tsVideoPID, StreamType: astits.StreamTypeH265Video}, nil
	case av.CodecAAC:
		conf, err := aac.ConfigFor(d.ExtraConfig(), d.SampleRate(), d.ChannelCount())
		if err != nil {
			return astits.PMTElementaryStream{}, err
		}
		m.asc = &conf
		return astits.PMTElementaryStream{ElementaryPID: tsAudioPID, StreamType: astits.StreamTypeAACAudio}, nil
	case av.CodecMP3:
		return astits.PMTElementaryStream{ElementaryPID: tsAudioPID, StreamType: astits.StreamTypeMPEG1Audio}, nil
	}
	return astits.PMTElementaryStream{}, av.Errorf(av.CodeCodecUnsupported, "mpegts", "%s", d.Codec())
}

func (m *tsMuxer) writePacket(st *Stream, pkt *av.Packet) error {
	pid := m.pids[st.Index]
	var (
		payload  []byte
		streamID uint8
		err      error
	)
	switch st.Desc.Kind() {
	case av.KindVideo:
		streamID = pesStreamIDVideo
		if payload, err = m.videoPayload(st, pkt); err != nil {
			return err
		}
	default:
		streamID = pesStreamIDAudio
		if payload, err = m.audioPayload(st, pkt); err != nil {
			return err
		}
	}

	header := &astits.PESHeader{
		StreamID: streamID,
		OptionalHeader: &astits.PESOptionalHeader{
			MarkerBits:             2,
			DataAlignmentIndicator: true,
		},
	}
	if pkt.DTS != pkt.PTS {
		header.OptionalHeader.PTSDTSIndicator = astits.PTSDTSIndicatorBothPresent
		header.OptionalHeader.PTS = &astits.ClockReference{Base: pkt.PTS}
		header.OptionalHeader.DTS = &astits.ClockReference{Base: pkt.DTS}
	} else {
		header.OptionalHeader.PTSDTSIndicator = astits.PTSDTSIndicatorOnlyPTS
		header.OptionalHeader.PTS = &astits.ClockReference{Base: pkt.PTS}
	}
	// Audio PES packets carry an explicit length; video uses the unbounded form.
	if streamID == pesStreamIDAudio && len(payload)+8 <= 0xFFFF {
		header.PacketLength = uint16(len(payload) + 8)
	}

	data := &astits.MuxerData{
		PID: pid,
		PES: &astits.PESData{Header: header, Data: payload},
	}
	random := pkt.Keyframe || st.Desc.Kind() == av.KindAudio
	if pid == m.pcrPID {
		// astits only marks the PCR PID; the clock itself rides on every PES
		// of that PID and never runs ahead of its DTS.
		data.AdaptationField = &astits.PacketAdaptationField{
			RandomAccessIndicator: random,
			HasPCR:                true,
			PCR:                   &astits.ClockReference{Base: pkt.DTS},
		}
	} else if random {
		data.AdaptationField = &astits.PacketAdaptationField{RandomAccessIndicator: true}
	}
	if _, err := m.mux.WriteData(data); err != nil {
		return fmt.Errorf("failed to write PES: %w", err)
	}
	return nil
}

// videoPayload returns the access unit in Annex-B form, with parameter sets
// prepended to keyframes that lack them.
func (m *tsMuxer) videoPayload(st *Stream, pkt *av.Packet) ([]byte, error) {
	nalus, err := h264.SplitAccessUnit(pkt.Data)
	if err != nil {
		return nil, av.Wrap(av.CodeInvalidData, "mpegts video", err)
	}
	if st.Desc.Codec() != av.CodecH264 {
		return h264.MarshalAnnexB(nalus), nil
	}
	if sps, pps := h264.ParameterSets(nalus); sps != nil && pps != nil {
		m.sps = append([]byte(nil), sps...)
		m.pps = append([]byte(nil), pps...)
		return h264.MarshalAnnexB(nalus), nil
	}
	if pkt.Keyframe && m.sps != nil && m.pps != nil {
		nalus = append([][]byte{m.sps, m.pps}, nalus...)
	}
	return h264.MarshalAnnexB(nalus), nil
}

// audioPayload wraps raw AAC frames in ADTS. MP3 frames pass unchanged.
func (m *tsMuxer) audioPayload(st *Stream, pkt *av.Packet) ([]byte, error) {
	if st.Desc.Codec() != av.CodecAAC || aac.IsADTS(pkt.Data) {
		return pkt.Data, nil
	}
	pkts := mpeg4audio.ADTSPackets{
		{
			Type:         m.asc.Type,
			SampleRate:   m.asc.SampleRate,
			ChannelCount: m.asc.ChannelCount,
			AU:           pkt.Data,
		},
	}
	enc, err := pkts.Marshal()
	if err != nil {
		return nil, av.Wrap(av.CodeInvalidData, "mpegts audio", err)
	}
	return enc, nil
}

func (m *tsMuxer) writeTrailer() error {
	return nil
}

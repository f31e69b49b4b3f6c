package container

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
	"github.com/babelcloud/gbox/packages/avmux/internal/codec/aac"
	"github.com/babelcloud/gbox/packages/avmux/internal/codec/h264"
)

var mp4Format = &Format{
	Name:       "mp4",
	LongName:   "Fragmented MP4",
	Extensions: []string{"mp4", "m4s"},
	Flags:      FlagGlobalHeader,
	Codecs:     []av.CodecID{av.CodecH264, av.CodecAAC, av.CodecOpus},
	newMuxer:   newFMP4Muxer,
}

// fmp4Track buffers the samples of the fragment being built. A sample's
// duration is only known once its successor arrives.
type fmp4Track struct {
	id        int
	st        *Stream
	codec     mp4.Codec
	timeScale uint32

	pending    *fmp4.Sample
	pendingDTS int64
	baseDTS    int64
	samples    []*fmp4.Sample
	lastDur    uint32
	sampleNum  uint32
}

type fmp4Muxer struct {
	out            *Output
	tracks         []*fmp4Track
	byIndex        map[int]*fmp4Track
	initSent       bool
	sequenceNumber uint32
}

func newFMP4Muxer(o *Output) muxer {
	return &fmp4Muxer{out: o, byIndex: make(map[int]*fmp4Track), sequenceNumber: 1}
}

func (m *fmp4Muxer) writeHeader() error {
	for i, st := range m.out.Streams {
		t := &fmp4Track{id: i + 1, st: st}
		switch st.Desc.Codec() {
		case av.CodecH264:
			t.timeScale = 90000
			if st.Desc.HasExtraConfig() {
				sps, pps, err := h264.ParseExtraConfig(st.Desc.ExtraConfig())
				if err != nil {
					return err
				}
				t.codec = &mp4.CodecH264{
					SPS: append([]byte(nil), sps...),
					PPS: append([]byte(nil), pps...),
				}
			}
		case av.CodecAAC:
			conf, err := aac.ConfigFor(st.Desc.ExtraConfig(), st.Desc.SampleRate(), st.Desc.ChannelCount())
			if err != nil {
				return err
			}
			t.timeScale = uint32(conf.SampleRate)
			t.codec = &mp4.CodecMPEG4Audio{Config: conf}
		case av.CodecOpus:
			t.timeScale = 48000
			t.codec = &mp4.CodecOpus{ChannelCount: st.Desc.ChannelCount()}
		default:
			return av.Errorf(av.CodeCodecUnsupported, "mp4", "%s", st.Desc.Codec())
		}
		st.TimeBase = av.Rational{Num: 1, Den: int64(t.timeScale)}
		m.tracks = append(m.tracks, t)
		m.byIndex[st.Index] = t
	}
	return m.maybeWriteInit()
}

// maybeWriteInit emits the init segment once every track has its codec
// configuration. H.264 tracks without extradata learn it from the first
// keyframe carrying SPS/PPS.
func (m *fmp4Muxer) maybeWriteInit() error {
	if m.initSent {
		return nil
	}
	init := &fmp4.Init{}
	for _, t := range m.tracks {
		if t.codec == nil {
			return nil
		}
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        t.id,
			TimeScale: t.timeScale,
			Codec:     t.codec,
		})
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return fmt.Errorf("failed to marshal init segment: %w", err)
	}
	initBytes := buf.Bytes()
	if _, err := m.out.writer().Write(initBytes); err != nil {
		return fmt.Errorf("failed to write init segment: %w", err)
	}
	m.initSent = true
	m.out.logger.Info("fMP4 init segment written", "size", len(initBytes))
	return nil
}

func (m *fmp4Muxer) writePacket(st *Stream, pkt *av.Packet) error {
	t := m.byIndex[st.Index]

	var payload []byte
	switch st.Desc.Codec() {
	case av.CodecH264:
		nalus, err := h264.SplitAccessUnit(pkt.Data)
		if err != nil {
			return av.Wrap(av.CodeInvalidData, "mp4 video", err)
		}
		if t.codec == nil {
			sps, pps := h264.ParameterSets(nalus)
			if sps == nil || pps == nil {
				m.out.logger.Debug("Dropping video before SPS/PPS", "dts", pkt.DTS)
				return nil
			}
			t.codec = &mp4.CodecH264{
				SPS: append([]byte(nil), sps...),
				PPS: append([]byte(nil), pps...),
			}
			if err := m.maybeWriteInit(); err != nil {
				return err
			}
		}
		frames := h264.StripParameterSets(nalus)
		if len(frames) == 0 {
			return nil
		}
		payload = h264.MarshalAVCC(frames)
	case av.CodecAAC:
		payload = append([]byte(nil), aac.StripADTSHeader(pkt.Data)...)
	default:
		// Samples are held until the next packet; the caller owns Data.
		payload = append([]byte(nil), pkt.Data...)
	}

	if t.pending != nil {
		dur := pkt.DTS - t.pendingDTS
		if dur <= 0 {
			dur = 1
		}
		t.pending.Duration = uint32(dur)
		t.lastDur = t.pending.Duration
		if len(t.samples) == 0 {
			t.baseDTS = t.pendingDTS
		}
		t.samples = append(t.samples, t.pending)
		t.pending = nil
	}
	// A video keyframe starts a new fragment.
	if st.Desc.Kind() == av.KindVideo && pkt.Keyframe {
		if err := m.flushFragment(false); err != nil {
			return err
		}
	}
	t.pending = &fmp4.Sample{
		IsNonSyncSample: st.Desc.Kind() == av.KindVideo && !pkt.Keyframe,
		PTSOffset:       int32(pkt.PTS - pkt.DTS),
		Payload:         payload,
	}
	t.pendingDTS = pkt.DTS
	t.sampleNum++
	return nil
}

// flushFragment writes the completed samples of every track as one part.
// On the final flush pending samples are included with their predecessor's
// duration. Nothing is written before the init segment.
func (m *fmp4Muxer) flushFragment(final bool) error {
	if !m.initSent {
		return nil
	}
	part := &fmp4.Part{SequenceNumber: m.sequenceNumber}
	for _, t := range m.tracks {
		if final && t.pending != nil {
			if len(t.samples) == 0 {
				t.baseDTS = t.pendingDTS
			}
			t.pending.Duration = t.lastDur
			if t.pending.Duration == 0 {
				t.pending.Duration = defaultSampleDuration(t)
			}
			t.samples = append(t.samples, t.pending)
			t.pending = nil
		}
		if len(t.samples) == 0 {
			continue
		}
		part.Tracks = append(part.Tracks, &fmp4.PartTrack{
			ID:       t.id,
			BaseTime: uint64(t.baseDTS),
			Samples:  t.samples,
		})
		t.samples = nil
	}
	if len(part.Tracks) == 0 {
		return nil
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return fmt.Errorf("failed to marshal fragment: %w", err)
	}
	if _, err := m.out.writer().Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write fragment: %w", err)
	}
	m.out.logger.Debug("fMP4 fragment written", "sequence", m.sequenceNumber, "size", len(buf.Bytes()))
	m.sequenceNumber++
	return nil
}

func defaultSampleDuration(t *fmp4Track) uint32 {
	if t.st.Desc.Kind() == av.KindVideo {
		return t.timeScale / 30
	}
	if _, ok := t.codec.(*mp4.CodecMPEG4Audio); ok {
		return aac.SamplesPerFrame
	}
	return t.timeScale / 50
}

func (m *fmp4Muxer) writeTrailer() error {
	if err := m.flushFragment(true); err != nil {
		return err
	}
	for _, t := range m.tracks {
		m.out.logger.Info("fMP4 track closed", "track", t.id, "samples", t.sampleNum)
	}
	return nil
}

package container

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
	"github.com/babelcloud/gbox/packages/avmux/internal/codec/aac"
	"github.com/babelcloud/gbox/packages/avmux/internal/codec/h264"
)

var mkvTimeBase = av.Rational{Num: 1, Den: 1000}

const mkvCloseTimeout = 5 * time.Second

var matroskaFormat = &Format{
	Name:       "matroska",
	LongName:   "Matroska",
	Extensions: []string{"mkv"},
	Flags:      FlagGlobalHeader,
	Codecs:     []av.CodecID{av.CodecH264, av.CodecH265, av.CodecAAC, av.CodecOpus, av.CodecMP3},
	newMuxer:   newMatroskaMuxer,
}

var matroskaEBMLHeader = &webm.EBMLHeader{
	EBMLVersion:        1,
	EBMLReadVersion:    1,
	EBMLMaxIDLength:    4,
	EBMLMaxSizeLength:  8,
	DocType:            "matroska",
	DocTypeVersion:     4,
	DocTypeReadVersion: 2,
}

var mkvCodecIDs = map[av.CodecID]string{
	av.CodecH264: "V_MPEG4/ISO/AVC",
	av.CodecH265: "V_MPEGH/ISO/HEVC",
	av.CodecAAC:  "A_AAC",
	av.CodecOpus: "A_OPUS",
	av.CodecMP3:  "A_MPEG/L3",
}

// mkvSink hands the block writer's output to the container destination and
// reports when the writer has released it.
type mkvSink struct {
	w    io.Writer
	once sync.Once
	done chan struct{}
}

func (s *mkvSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *mkvSink) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type queuedPacket struct {
	st  *Stream
	pkt *av.Packet
}

type matroskaMuxer struct {
	out     *Output
	sink    *mkvSink
	writers map[int]webm.BlockWriteCloser
	fatal   chan error

	// H.264 without extradata delays the header until SPS/PPS show up.
	avcc    []byte
	pending []queuedPacket
}

func newMatroskaMuxer(o *Output) muxer {
	return &matroskaMuxer{out: o, fatal: make(chan error, 1)}
}

func (m *matroskaMuxer) writeHeader() error {
	for _, st := range m.out.Streams {
		st.TimeBase = mkvTimeBase
	}
	video := m.out.stream(av.KindVideo)
	if video != nil && video.Desc.Codec() == av.CodecH264 {
		if !video.Desc.HasExtraConfig() {
			m.out.logger.Info("Deferring Matroska header until SPS/PPS are received")
			return nil
		}
		sps, pps, err := h264.ParseExtraConfig(video.Desc.ExtraConfig())
		if err != nil {
			return err
		}
		if m.avcc, err = h264.BuildAvcc(sps, pps); err != nil {
			return err
		}
	}
	return m.initialize()
}

func (m *matroskaMuxer) initialize() error {
	entries := make([]webm.TrackEntry, 0, len(m.out.Streams))
	for _, st := range m.out.Streams {
		entry, err := m.trackEntry(st)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}

	m.sink = &mkvSink{w: m.out.writer(), done: make(chan struct{})}
	ws, err := webm.NewSimpleBlockWriter(m.sink, entries,
		mkvcore.WithEBMLHeader(matroskaEBMLHeader),
		mkvcore.WithOnFatalHandler(func(err error) {
			m.out.logger.Error("Matroska writer failed", "error", err)
			select {
			case m.fatal <- err:
			default:
			}
		}))
	if err != nil {
		return fmt.Errorf("failed to create matroska writer: %w", err)
	}
	m.writers = make(map[int]webm.BlockWriteCloser, len(ws))
	for i, st := range m.out.Streams {
		m.writers[st.Index] = ws[i]
	}
	m.out.logger.Info("Matroska container initialized", "tracks", len(entries))
	return nil
}

func (m *matroskaMuxer) trackEntry(st *Stream) (webm.TrackEntry, error) {
	d := st.Desc
	codecID, ok := mkvCodecIDs[d.Codec()]
	if !ok {
		return webm.TrackEntry{}, av.Errorf(av.CodeCodecUnsupported, "matroska", "%s", d.Codec())
	}
	entry := webm.TrackEntry{
		Name:        d.Kind().String(),
		TrackNumber: uint64(st.Index + 1),
		TrackUID:    uint64(st.Index + 1),
		CodecID:     codecID,
	}
	switch d.Kind() {
	case av.KindVideo:
		entry.TrackType = 1
		entry.Video = &webm.Video{
			PixelWidth:  uint64(d.Width()),
			PixelHeight: uint64(d.Height()),
		}
		if d.Codec() == av.CodecH264 {
			entry.CodecPrivate = m.avcc
		} else {
			entry.CodecPrivate = d.ExtraConfig()
		}
	case av.KindAudio:
		entry.TrackType = 2
		entry.Audio = &webm.Audio{
			SamplingFrequency: float64(d.SampleRate()),
			Channels:          uint64(d.ChannelCount()),
		}
		switch d.Codec() {
		case av.CodecAAC:
			conf, err := aac.ConfigFor(d.ExtraConfig(), d.SampleRate(), d.ChannelCount())
			if err != nil {
				return entry, err
			}
			if entry.CodecPrivate, err = aac.MarshalConfig(conf); err != nil {
				return entry, err
			}
		default:
			entry.CodecPrivate = d.ExtraConfig()
		}
	}
	return entry, nil
}

func (m *matroskaMuxer) writePacket(st *Stream, pkt *av.Packet) error {
	select {
	case err := <-m.fatal:
		return err
	default:
	}

	var payload []byte
	switch st.Desc.Codec() {
	case av.CodecH264, av.CodecH265:
		nalus, err := h264.SplitAccessUnit(pkt.Data)
		if err != nil {
			return av.Wrap(av.CodeInvalidData, "matroska video", err)
		}
		if m.writers == nil && st.Desc.Codec() == av.CodecH264 {
			sps, pps := h264.ParameterSets(nalus)
			if sps == nil || pps == nil {
				m.out.logger.Debug("Dropping video before SPS/PPS", "dts", pkt.DTS)
				return nil
			}
			if m.avcc, err = h264.BuildAvcc(sps, pps); err != nil {
				return av.Wrap(av.CodeInvalidData, "matroska video", err)
			}
			if err := m.initialize(); err != nil {
				return err
			}
			if err := m.drainPending(); err != nil {
				return err
			}
		}
		if st.Desc.Codec() == av.CodecH264 {
			nalus = h264.StripParameterSets(nalus)
		}
		if len(nalus) == 0 {
			return nil
		}
		payload = h264.MarshalAVCC(nalus)
	case av.CodecAAC:
		payload = append([]byte(nil), aac.StripADTSHeader(pkt.Data)...)
	default:
		payload = append([]byte(nil), pkt.Data...)
	}

	// The block writer encodes on its own goroutine, so payload must not
	// alias pkt.Data past this call.
	if m.writers == nil {
		q := *pkt
		q.Data = payload
		m.pending = append(m.pending, queuedPacket{st: st, pkt: &q})
		return nil
	}
	return m.writeBlock(st, pkt.Keyframe || st.Desc.Kind() == av.KindAudio, pkt.DTS, payload)
}

func (m *matroskaMuxer) drainPending() error {
	pending := m.pending
	m.pending = nil
	for _, q := range pending {
		if err := m.writeBlock(q.st, true, q.pkt.DTS, q.pkt.Data); err != nil {
			return err
		}
	}
	return nil
}

func (m *matroskaMuxer) writeBlock(st *Stream, keyframe bool, ts int64, payload []byte) error {
	if _, err := m.writers[st.Index].Write(keyframe, ts, payload); err != nil {
		return fmt.Errorf("failed to write block: %w", err)
	}
	return nil
}

func (m *matroskaMuxer) writeTrailer() error {
	if m.writers == nil {
		if len(m.pending) > 0 {
			m.out.logger.Warn("Matroska header never written, discarding packets", "count", len(m.pending))
		}
		return nil
	}
	return m.closeWriters()
}

// closeWriters closes every track writer and waits for the block writer to
// release the destination.
func (m *matroskaMuxer) closeWriters() error {
	writers := m.writers
	m.writers = nil
	for idx, w := range writers {
		if err := w.Close(); err != nil {
			m.out.logger.Warn("Track writer close error", "track", idx, "error", err)
		}
	}
	select {
	case <-m.sink.done:
		return nil
	case err := <-m.fatal:
		return err
	case <-time.After(mkvCloseTimeout):
		return fmt.Errorf("timed out waiting for matroska writer to finish")
	}
}

func (m *matroskaMuxer) close() error {
	if m.writers == nil {
		return nil
	}
	return m.closeWriters()
}

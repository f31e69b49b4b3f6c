package container

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
	"github.com/babelcloud/gbox/packages/avmux/internal/codec/aac"
	"github.com/babelcloud/gbox/packages/avmux/internal/codec/h264"
)

var hlsFormat = &Format{
	Name:       "hls",
	LongName:   "Apple HTTP Live Streaming",
	Extensions: []string{"m3u8"},
	Flags:      FlagNoFile,
	Codecs:     []av.CodecID{av.CodecH264, av.CodecH265, av.CodecAAC, av.CodecMP3},
	newMuxer:   newHLSMuxer,
}

type hlsSegment struct {
	uri      string
	startDTS int64
	lastDTS  int64
	f        *os.File
	b        *bufio.Writer
	w        *mpegts.Writer
	tracks   map[int]*mpegts.Track
}

type hlsMuxer struct {
	out *Output

	dir      string
	baseName string
	sps, pps []byte

	seq       int
	cur       *hlsSegment
	lastDelta int64
	segments  []*playlist.MediaSegment
}

func newHLSMuxer(o *Output) muxer {
	base := filepath.Base(o.Path)
	return &hlsMuxer{
		out:      o,
		dir:      filepath.Dir(o.Path),
		baseName: strings.TrimSuffix(base, filepath.Ext(base)),
	}
}

func (m *hlsMuxer) writeHeader() error {
	for _, st := range m.out.Streams {
		st.TimeBase = tsTimeBase
		if st.Desc.Codec() == av.CodecH264 && st.Desc.HasExtraConfig() {
			sps, pps, err := h264.ParseExtraConfig(st.Desc.ExtraConfig())
			if err != nil {
				return err
			}
			m.sps, m.pps = sps, pps
		}
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create playlist directory: %w", err)
	}
	// An empty live playlist is published up front so readers find it.
	return m.writePlaylist(false)
}

func (m *hlsMuxer) mpegtsTrack(d *av.StreamDescriptor) (*mpegts.Track, error) {
	switch d.Codec() {
	case av.CodecH264:
		return &mpegts.Track{Codec: &mpegts.CodecH264{}}, nil
	case av.CodecH265:
		return &mpegts.Track{Codec: &mpegts.CodecH265{}}, nil
	case av.CodecAAC:
		conf, err := aac.ConfigFor(d.ExtraConfig(), d.SampleRate(), d.ChannelCount())
		if err != nil {
			return nil, err
		}
		return &mpegts.Track{Codec: &mpegts.CodecMPEG4Audio{Config: conf}}, nil
	case av.CodecMP3:
		return &mpegts.Track{Codec: &mpegts.CodecMPEG1Audio{}}, nil
	}
	return nil, av.Errorf(av.CodeCodecUnsupported, "hls", "%s", d.Codec())
}

func (m *hlsMuxer) startSegment(dts int64) error {
	uri := fmt.Sprintf("%s%d.ts", m.baseName, m.seq)
	f, err := os.Create(filepath.Join(m.dir, uri))
	if err != nil {
		return fmt.Errorf("failed to create segment: %w", err)
	}
	seg := &hlsSegment{
		uri:      uri,
		startDTS: dts,
		lastDTS:  dts,
		f:        f,
		b:        bufio.NewWriter(f),
		tracks:   make(map[int]*mpegts.Track),
	}
	tracks := make([]*mpegts.Track, 0, len(m.out.Streams))
	for _, st := range m.out.Streams {
		t, err := m.mpegtsTrack(st.Desc)
		if err != nil {
			f.Close()
			return err
		}
		seg.tracks[st.Index] = t
		tracks = append(tracks, t)
	}
	seg.w = &mpegts.Writer{W: seg.b, Tracks: tracks}
	if err := seg.w.Initialize(); err != nil {
		f.Close()
		return fmt.Errorf("failed to initialize segment writer: %w", err)
	}
	m.cur = seg
	m.seq++
	m.out.logger.Debug("HLS segment opened", "uri", uri, "dts", dts)
	return nil
}

// finishSegment closes the open segment and appends it to the playlist with
// the given end timestamp.
func (m *hlsMuxer) finishSegment(endDTS int64) error {
	seg := m.cur
	m.cur = nil
	if err := seg.b.Flush(); err != nil {
		seg.f.Close()
		return fmt.Errorf("failed to flush segment: %w", err)
	}
	if err := seg.f.Close(); err != nil {
		return fmt.Errorf("failed to close segment: %w", err)
	}
	ticks := endDTS - seg.startDTS
	if ticks <= 0 {
		ticks = 1
	}
	dur := time.Duration(av.Rescale(ticks, tsTimeBase, av.Rational{Num: 1, Den: int64(time.Second)}))
	m.segments = append(m.segments, &playlist.MediaSegment{
		Duration: dur,
		URI:      seg.uri,
	})
	m.out.logger.Info("HLS segment completed", "uri", seg.uri, "duration", dur)
	return nil
}

func (m *hlsMuxer) shouldCut(st *Stream, pkt *av.Packet) bool {
	if m.cur == nil {
		return false
	}
	target := int64(m.out.Options.HLSTime / time.Second * 90000)
	if pkt.DTS-m.cur.startDTS < target {
		return false
	}
	if m.out.stream(av.KindVideo) != nil {
		return st.Desc.Kind() == av.KindVideo && pkt.Keyframe
	}
	return true
}

func (m *hlsMuxer) writePacket(st *Stream, pkt *av.Packet) error {
	if m.shouldCut(st, pkt) {
		if err := m.finishSegment(pkt.DTS); err != nil {
			return err
		}
		if err := m.writePlaylist(false); err != nil {
			return err
		}
	}
	if m.cur == nil {
		if err := m.startSegment(pkt.DTS); err != nil {
			return err
		}
	}
	seg := m.cur
	track := seg.tracks[st.Index]

	var err error
	switch st.Desc.Codec() {
	case av.CodecH264, av.CodecH265:
		var nalus [][]byte
		if nalus, err = h264.SplitAccessUnit(pkt.Data); err != nil {
			return av.Wrap(av.CodeInvalidData, "hls video", err)
		}
		if st.Desc.Codec() == av.CodecH264 {
			if sps, pps := h264.ParameterSets(nalus); sps != nil && pps != nil {
				m.sps = append([]byte(nil), sps...)
				m.pps = append([]byte(nil), pps...)
			} else if pkt.Keyframe && m.sps != nil {
				nalus = append([][]byte{m.sps, m.pps}, nalus...)
			}
			err = seg.w.WriteH264(track, pkt.PTS, pkt.DTS, nalus)
		} else {
			err = seg.w.WriteH265(track, pkt.PTS, pkt.DTS, nalus)
		}
	case av.CodecAAC:
		err = seg.w.WriteMPEG4Audio(track, pkt.PTS, [][]byte{aac.StripADTSHeader(pkt.Data)})
	case av.CodecMP3:
		err = seg.w.WriteMPEG1Audio(track, pkt.PTS, [][]byte{pkt.Data})
	}
	if err != nil {
		return fmt.Errorf("failed to write segment data: %w", err)
	}
	if pkt.DTS > seg.lastDTS {
		m.lastDelta = pkt.DTS - seg.lastDTS
		seg.lastDTS = pkt.DTS
	}
	return nil
}

func (m *hlsMuxer) writeTrailer() error {
	if m.cur != nil {
		if err := m.finishSegment(m.cur.lastDTS + m.lastDelta); err != nil {
			return err
		}
	}
	return m.writePlaylist(true)
}

func (m *hlsMuxer) writePlaylist(ended bool) error {
	target := int(math.Ceil(m.out.Options.HLSTime.Seconds()))
	for _, s := range m.segments {
		if d := int(math.Ceil(s.Duration.Seconds())); d > target {
			target = d
		}
	}
	pl := &playlist.Media{
		Version:        3,
		TargetDuration: target,
		MediaSequence:  0,
		Segments:       m.segments,
		Endlist:        ended,
	}
	byts, err := pl.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal playlist: %w", err)
	}
	tmp := m.out.Path + ".tmp"
	if err := os.WriteFile(tmp, byts, 0o644); err != nil {
		return fmt.Errorf("failed to write playlist: %w", err)
	}
	if err := os.Rename(tmp, m.out.Path); err != nil {
		return fmt.Errorf("failed to publish playlist: %w", err)
	}
	return nil
}

func (m *hlsMuxer) close() error {
	if m.cur == nil {
		return nil
	}
	seg := m.cur
	m.cur = nil
	seg.b.Flush() //nolint:errcheck
	return seg.f.Close()
}

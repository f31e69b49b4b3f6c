package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
)

var tsStreamTypes = map[astits.StreamType]struct {
	kind  av.Kind
	codec string
}{
	astits.StreamTypeH264Video:  {av.KindVideo, "h264"},
	astits.StreamTypeH265Video:  {av.KindVideo, "h265"},
	astits.StreamTypeAACAudio:   {av.KindAudio, "aac"},
	astits.StreamTypeMPEG1Audio: {av.KindAudio, "mp3"},
}

// TS lists the PES packets of an MPEG-TS stream.
func TS(ctx context.Context, r io.Reader) (*Result, error) {
	res := &Result{Format: "mpegts"}
	if err := readTS(ctx, r, res); err != nil {
		return nil, err
	}
	return res, nil
}

func readTS(ctx context.Context, r io.Reader, res *Result) error {
	dmx := astits.NewDemuxer(ctx, r)
	for {
		d, err := dmx.NextData()
		if errors.Is(err, astits.ErrNoMorePackets) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to demux: %w", err)
		}

		if d.PMT != nil {
			for _, es := range d.PMT.ElementaryStreams {
				if res.track(int(es.ElementaryPID)) != nil {
					continue
				}
				st, ok := tsStreamTypes[es.StreamType]
				if !ok {
					continue
				}
				res.Tracks = append(res.Tracks, Track{
					ID:       int(es.ElementaryPID),
					Kind:     st.kind,
					Codec:    st.codec,
					TimeBase: av.Rational{Num: 1, Den: 90000},
				})
			}
		}

		if d.PES == nil || d.PES.Header == nil || d.PES.Header.OptionalHeader == nil {
			continue
		}
		t := res.track(int(d.PID))
		if t == nil {
			continue
		}
		oh := d.PES.Header.OptionalHeader
		pkt := Packet{Track: t.ID, Kind: t.Kind, Size: len(d.PES.Data)}
		if oh.PTS != nil {
			pkt.PTS = oh.PTS.Base
			pkt.DTS = oh.PTS.Base
		}
		if oh.DTS != nil {
			pkt.DTS = oh.DTS.Base
		}
		if d.FirstPacket != nil && d.FirstPacket.AdaptationField != nil {
			af := d.FirstPacket.AdaptationField
			pkt.Keyframe = af.RandomAccessIndicator
			if af.HasPCR && af.PCR != nil {
				pkt.HasPCR = true
				pkt.PCR = af.PCR.Base
			}
		}
		res.Packets = append(res.Packets, pkt)
	}
}

// HLS reads a media playlist and probes every segment it lists.
func HLS(ctx context.Context, path string) (*Result, error) {
	byts, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playlist: %w", err)
	}
	pl, err := playlist.Unmarshal(byts)
	if err != nil {
		return nil, fmt.Errorf("failed to parse playlist: %w", err)
	}
	media, ok := pl.(*playlist.Media)
	if !ok {
		return nil, fmt.Errorf("%s is not a media playlist", path)
	}

	res := &Result{Format: "hls", Ended: media.Endlist}
	dir := filepath.Dir(path)
	for _, seg := range media.Segments {
		res.Segments = append(res.Segments, Segment{URI: seg.URI, Duration: seg.Duration})
		if err := readSegment(ctx, filepath.Join(dir, seg.URI), res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func readSegment(ctx context.Context, path string, res *Result) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open segment: %w", err)
	}
	defer f.Close()
	return readTS(ctx, f, res)
}

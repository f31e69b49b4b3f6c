package probe

import (
	"fmt"
	"io"

	"github.com/at-wat/ebml-go"
	"github.com/at-wat/ebml-go/webm"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
)

var mkvCodecNames = map[string]string{
	"V_MPEG4/ISO/AVC":  "h264",
	"V_MPEGH/ISO/HEVC": "h265",
	"A_AAC":            "aac",
	"A_OPUS":           "opus",
	"A_MPEG/L3":        "mp3",
}

// Matroska lists the SimpleBlocks of a Matroska or WebM file. Timestamps are
// in milliseconds.
func Matroska(r io.Reader) (*Result, error) {
	var doc struct {
		Header  webm.EBMLHeader `ebml:"EBML"`
		Segment webm.Segment    `ebml:"Segment"`
	}
	if err := ebml.Unmarshal(r, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse matroska: %w", err)
	}

	res := &Result{Format: doc.Header.DocType}
	for _, e := range doc.Segment.Tracks.TrackEntry {
		t := Track{
			ID:       int(e.TrackNumber),
			Codec:    mkvCodecNames[e.CodecID],
			TimeBase: av.Rational{Num: 1, Den: 1000},
		}
		switch e.TrackType {
		case 1:
			t.Kind = av.KindVideo
		case 2:
			t.Kind = av.KindAudio
		}
		res.Tracks = append(res.Tracks, t)
	}

	for _, c := range doc.Segment.Cluster {
		for _, b := range c.SimpleBlock {
			t := res.track(int(b.TrackNumber))
			if t == nil {
				continue
			}
			var payload []byte
			for _, d := range b.Data {
				payload = append(payload, d...)
			}
			ts := int64(c.Timecode) + int64(b.Timecode)
			res.Packets = append(res.Packets, Packet{
				Track:    t.ID,
				Kind:     t.Kind,
				PTS:      ts,
				DTS:      ts,
				Keyframe: b.Keyframe,
				Size:     len(payload),
				Payload:  payload,
			})
		}
	}
	return res, nil
}

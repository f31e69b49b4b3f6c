package probe

import (
	"fmt"
	"io"
	"sort"

	gomp4 "github.com/abema/go-mp4"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
)

const (
	trunFlagSampleDuration = 0x000100
	trunFlagSampleSize     = 0x000200
	trunFlagSampleFlags    = 0x000400
	trunFlagFirstFlags     = 0x000004

	sampleFlagNonSync = 0x00010000
)

var boxTypeOpus = gomp4.StrToBoxType("Opus")

var sampleEntryCodecs = map[gomp4.BoxType]string{
	gomp4.BoxTypeAvc1(): "h264",
	gomp4.BoxTypeMp4a(): "aac",
	boxTypeOpus:         "opus",
}

// MP4 lists the samples of a fragmented MP4 file. Samples are reported in
// fragment order; within a fragment they are ordered by decode
// time across tracks.
func MP4(r io.ReadSeeker) (*Result, error) {
	res := &Result{Format: "mp4"}

	var (
		cur      *Track
		fragment []Packet
		trafID   int
		baseTime int64
		defDur   uint32
		defFlags uint32
		ticks    = make(map[int]int64)
	)
	flush := func() {
		sort.SliceStable(fragment, func(i, j int) bool {
			return av.Compare(fragment[i].DTS, res.track(fragment[i].Track).TimeBase,
				fragment[j].DTS, res.track(fragment[j].Track).TimeBase) < 0
		})
		res.Packets = append(res.Packets, fragment...)
		fragment = nil
	}

	_, err := gomp4.ReadBoxStructure(r, func(h *gomp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type {
		case gomp4.BoxTypeTrak():
			res.Tracks = append(res.Tracks, Track{})
			cur = &res.Tracks[len(res.Tracks)-1]
			return h.Expand()
		case gomp4.BoxTypeMoof():
			flush()
			return h.Expand()
		case gomp4.BoxTypeMoov(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(),
			gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeTraf():
			return h.Expand()
		case gomp4.BoxTypeAvc1(), gomp4.BoxTypeMp4a(), boxTypeOpus:
			if cur != nil {
				cur.Codec = sampleEntryCodecs[h.BoxInfo.Type]
			}
		case gomp4.BoxTypeTkhd(), gomp4.BoxTypeMdhd(), gomp4.BoxTypeHdlr(),
			gomp4.BoxTypeTfhd(), gomp4.BoxTypeTfdt(), gomp4.BoxTypeTrun():
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			switch b := box.(type) {
			case *gomp4.Tkhd:
				cur.ID = int(b.TrackID)
			case *gomp4.Mdhd:
				cur.TimeBase = av.Rational{Num: 1, Den: int64(b.Timescale)}
			case *gomp4.Hdlr:
				switch string(b.HandlerType[:]) {
				case "vide":
					cur.Kind = av.KindVideo
				case "soun":
					cur.Kind = av.KindAudio
				}
			case *gomp4.Tfhd:
				trafID = int(b.TrackID)
				defDur = b.DefaultSampleDuration
				defFlags = b.DefaultSampleFlags
				baseTime = ticks[trafID]
			case *gomp4.Tfdt:
				baseTime = int64(b.GetBaseMediaDecodeTime())
			case *gomp4.Trun:
				t := res.track(trafID)
				if t == nil {
					return nil, fmt.Errorf("trun for unknown track %d", trafID)
				}
				dts := baseTime
				for i, e := range b.Entries {
					dur := defDur
					if b.CheckFlag(trunFlagSampleDuration) {
						dur = e.SampleDuration
					}
					flags := defFlags
					if b.CheckFlag(trunFlagSampleFlags) {
						flags = e.SampleFlags
					} else if i == 0 && b.CheckFlag(trunFlagFirstFlags) {
						flags = b.FirstSampleFlags
					}
					size := 0
					if b.CheckFlag(trunFlagSampleSize) {
						size = int(e.SampleSize)
					}
					fragment = append(fragment, Packet{
						Track:    t.ID,
						Kind:     t.Kind,
						DTS:      dts,
						PTS:      dts + b.GetSampleCompositionTimeOffset(i),
						Keyframe: flags&sampleFlagNonSync == 0,
						Size:     size,
					})
					dts += int64(dur)
				}
				baseTime = dts
				ticks[trafID] = dts
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read mp4 boxes: %w", err)
	}
	flush()
	return res, nil
}

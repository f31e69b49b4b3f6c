package mux

import (
	"fmt"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
)

// TimestampState holds a track's anchor: the first raw timestamp accepted
// for it. Once set it does not change until Reset.
type TimestampState struct {
	firstRawPts int64
	set         bool
}

// Anchor returns the anchor and whether it has been set.
func (s *TimestampState) Anchor() (int64, bool) {
	return s.firstRawPts, s.set
}

// Reset clears the anchor.
func (s *TimestampState) Reset() {
	s.firstRawPts = 0
	s.set = false
}

type normTrack struct {
	kind     av.Kind
	timeBase av.Rational
	channels int64
	state    TimestampState
}

// scale converts a raw timestamp to the track's source unit. Audio clocks
// count per channel.
func (t *normTrack) scale(raw int64) int64 {
	if t.kind == av.KindAudio && t.channels > 1 {
		return raw / t.channels
	}
	return raw
}

// TimebaseNormalizer maps raw encoder timestamps of independently clocked
// tracks onto zero-based timelines in each track's container time base.
type TimebaseNormalizer struct {
	source av.Rational
	tracks map[av.Kind]*normTrack
}

// NewTimebaseNormalizer returns a normalizer reading timestamps in the
// source time base. An invalid source falls back to microseconds.
func NewTimebaseNormalizer(source av.Rational) *TimebaseNormalizer {
	if !source.Valid() {
		source = av.Universal
	}
	return &TimebaseNormalizer{
		source: source,
		tracks: make(map[av.Kind]*normTrack),
	}
}

// AddTrack registers a track with its destination time base. channelCount
// is only used for audio; values below one are treated as one.
func (n *TimebaseNormalizer) AddTrack(kind av.Kind, timeBase av.Rational, channelCount int) error {
	if !timeBase.Valid() {
		return fmt.Errorf("invalid time base %s for %s track", timeBase, kind)
	}
	if channelCount < 1 {
		channelCount = 1
	}
	n.tracks[kind] = &normTrack{
		kind:     kind,
		timeBase: timeBase,
		channels: int64(channelCount),
	}
	return nil
}

// Normalize returns rawPts relative to the track anchor, rescaled into the
// track's time base. The first call for a track sets the anchor, except for
// a video timestamp of zero, which is indistinguishable from an unset clock
// and yields ErrSkipPacket while the anchor is unset. Unknown tracks also
// yield ErrSkipPacket.
//
// Ordering is not enforced here: out-of-order input produces out-of-order
// output, which the container rejects.
func (n *TimebaseNormalizer) Normalize(kind av.Kind, rawPts int64) (int64, error) {
	t, ok := n.tracks[kind]
	if !ok {
		return 0, ErrSkipPacket
	}
	pts := t.scale(rawPts)
	if !t.state.set {
		if kind == av.KindVideo && rawPts == 0 {
			return 0, ErrSkipPacket
		}
		t.state.firstRawPts = pts
		t.state.set = true
	}
	return av.Rescale(pts-t.state.firstRawPts, n.source, t.timeBase), nil
}

// State returns a copy of the track's timestamp state.
func (n *TimebaseNormalizer) State(kind av.Kind) (TimestampState, bool) {
	t, ok := n.tracks[kind]
	if !ok {
		return TimestampState{}, false
	}
	return t.state, true
}

// TimeBase returns the destination time base of a track.
func (n *TimebaseNormalizer) TimeBase(kind av.Kind) (av.Rational, bool) {
	t, ok := n.tracks[kind]
	if !ok {
		return av.Rational{}, false
	}
	return t.timeBase, true
}

// Reset clears every anchor. Registered tracks are kept.
func (n *TimebaseNormalizer) Reset() {
	for _, t := range n.tracks {
		t.state.Reset()
	}
}

// Package probe reads back container files and lists their tracks and
// packets. It is used by the probe command and by tests to verify writer
// output.
package probe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
)

// Track is one elementary stream found in a container.
type Track struct {
	ID       int
	Kind     av.Kind
	Codec    string
	TimeBase av.Rational
}

// Packet is one media packet in container order. Timestamps are in the
// owning track's time base.
type Packet struct {
	Track    int
	Kind     av.Kind
	PTS      int64
	DTS      int64
	Keyframe bool
	Size     int
	// PCR is the program clock base carried with the packet, when HasPCR.
	HasPCR bool
	PCR    int64
	// Payload is kept by readers that decode whole blocks (Matroska).
	Payload []byte
}

// Segment is one HLS media segment.
type Segment struct {
	URI      string
	Duration time.Duration
}

// Result summarizes a probed container.
type Result struct {
	Format   string
	Tracks   []Track
	Packets  []Packet
	Metadata map[string]interface{}
	// Configs counts out-of-band codec configuration records, such as FLV
	// sequence headers.
	Configs  int
	Segments []Segment
	Ended    bool
}

// Count returns the number of packets of the given kind.
func (r *Result) Count(kind av.Kind) int {
	n := 0
	for _, p := range r.Packets {
		if p.Kind == kind {
			n++
		}
	}
	return n
}

// Timestamps returns the DTS values of packets of the given kind, in order.
func (r *Result) Timestamps(kind av.Kind) []int64 {
	var out []int64
	for _, p := range r.Packets {
		if p.Kind == kind {
			out = append(out, p.DTS)
		}
	}
	return out
}

// Kinds returns the kind sequence of all packets in container order.
func (r *Result) Kinds() []av.Kind {
	out := make([]av.Kind, len(r.Packets))
	for i, p := range r.Packets {
		out[i] = p.Kind
	}
	return out
}

func (r *Result) track(id int) *Track {
	for i := range r.Tracks {
		if r.Tracks[i].ID == id {
			return &r.Tracks[i]
		}
	}
	return nil
}

// File probes the container at path, choosing the reader by extension.
func File(ctx context.Context, path string) (*Result, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "m3u8" {
		return HLS(ctx, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	switch ext {
	case "flv":
		return FLV(f)
	case "ts", "m2t", "mts":
		return TS(ctx, f)
	case "mp4", "m4s":
		return MP4(f)
	case "mkv", "webm":
		return Matroska(f)
	}
	return nil, fmt.Errorf("unrecognized container extension %q", ext)
}

// Package source reads encoded elementary streams from files and yields
// timestamped access units, standing in for a live encoder.
package source

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
	"github.com/babelcloud/gbox/packages/avmux/internal/codec/h264"
)

const maxNALUSize = 16 << 20

// Frame is one access unit with its presentation time in microseconds.
type Frame struct {
	Data     []byte
	PTS      int64
	Keyframe bool
}

// H264Reader splits an Annex-B byte stream into access units. Frames are
// timed from a constant frame rate.
type H264Reader struct {
	sc        *bufio.Scanner
	frameDur  av.Rational
	au        [][]byte
	held      []byte
	frames    int64
	sps, pps  []byte
	exhausted bool
}

// NewH264Reader reads Annex-B H.264 from r at fps frames per second.
func NewH264Reader(r io.Reader, fps av.Rational) (*H264Reader, error) {
	if !fps.Valid() || fps.Num <= 0 {
		return nil, fmt.Errorf("invalid frame rate %s", fps)
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxNALUSize)
	sc.Split(scanNALU)
	return &H264Reader{
		sc:       sc,
		frameDur: av.Rational{Num: fps.Den, Den: fps.Num},
	}, nil
}

// ParameterSets returns the most recent SPS and PPS seen in the stream.
func (r *H264Reader) ParameterSets() (sps, pps []byte) {
	return r.sps, r.pps
}

// Next returns the next access unit, or io.EOF.
func (r *H264Reader) Next() (*Frame, error) {
	for {
		nalu, err := r.nextNALU()
		if err == io.EOF {
			if len(r.au) == 0 {
				return nil, io.EOF
			}
			return r.emit(), nil
		}
		if err != nil {
			return nil, err
		}
		if r.startsAccessUnit(nalu) {
			r.held = nalu
			return r.emit(), nil
		}
		r.push(nalu)
	}
}

func (r *H264Reader) nextNALU() ([]byte, error) {
	if r.held != nil {
		nalu := r.held
		r.held = nil
		r.push(nalu)
		return r.nextNALU()
	}
	if r.exhausted {
		return nil, io.EOF
	}
	for r.sc.Scan() {
		if b := r.sc.Bytes(); len(b) > 0 {
			return append([]byte(nil), b...), nil
		}
	}
	r.exhausted = true
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read h264 stream: %w", err)
	}
	return nil, io.EOF
}

func (r *H264Reader) push(nalu []byte) {
	switch h264.NALUType(nalu) {
	case mch264.NALUTypeSPS:
		r.sps = nalu
	case mch264.NALUTypePPS:
		r.pps = nalu
	}
	r.au = append(r.au, nalu)
}

// startsAccessUnit reports whether nalu opens a new access unit, which is
// only possible once the current one holds a slice.
func (r *H264Reader) startsAccessUnit(nalu []byte) bool {
	hasVCL := false
	for _, n := range r.au {
		if h264.IsVCL(n) {
			hasVCL = true
			break
		}
	}
	if !hasVCL {
		return false
	}
	switch h264.NALUType(nalu) {
	case mch264.NALUTypeAccessUnitDelimiter, mch264.NALUTypeSPS, mch264.NALUTypePPS, mch264.NALUTypeSEI:
		return true
	case mch264.NALUTypeNonIDR, mch264.NALUTypeIDR:
		// first_mb_in_slice == 0 is coded as a single set bit.
		return len(nalu) > 1 && nalu[1]&0x80 != 0
	}
	return false
}

func (r *H264Reader) emit() *Frame {
	f := &Frame{
		Data:     h264.MarshalAnnexB(r.au),
		PTS:      av.Rescale(r.frames, r.frameDur, av.Universal),
		Keyframe: h264.IsKeyFrame(r.au),
	}
	r.frames++
	r.au = nil
	return f
}

// scanNALU is a bufio.SplitFunc yielding NAL units without start codes.
func scanNALU(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, h264.StartCode3)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	start += len(h264.StartCode3)
	end := bytes.Index(data[start:], h264.StartCode3)
	if end < 0 {
		if !atEOF {
			return 0, nil, nil
		}
		return len(data), bytes.TrimRight(data[start:], "\x00"), nil
	}
	end += start
	return end, bytes.TrimRight(data[start:end], "\x00"), nil
}

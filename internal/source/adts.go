package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
	"github.com/babelcloud/gbox/packages/avmux/internal/codec/aac"
)

// ADTSReader reads AAC frames from an ADTS stream. Each frame is timed from
// its sample position.
type ADTSReader struct {
	br     *bufio.Reader
	conf   *mpeg4audio.AudioSpecificConfig
	frames int64
	raw    bool
}

// NewADTSReader reads ADTS from r. With raw set, frames are returned
// without their ADTS header.
func NewADTSReader(r io.Reader, raw bool) *ADTSReader {
	return &ADTSReader{br: bufio.NewReaderSize(r, 8192), raw: raw}
}

// Config returns the stream parameters, reading ahead to the first frame if
// needed.
func (r *ADTSReader) Config() (mpeg4audio.AudioSpecificConfig, error) {
	if r.conf != nil {
		return *r.conf, nil
	}
	hdr, err := r.br.Peek(9)
	if err != nil && len(hdr) < 7 {
		return mpeg4audio.AudioSpecificConfig{}, fmt.Errorf("failed to read ADTS header: %w", err)
	}
	n, err := aac.FrameLength(hdr)
	if err != nil {
		return mpeg4audio.AudioSpecificConfig{}, err
	}
	frame, err := r.br.Peek(n)
	if err != nil {
		return mpeg4audio.AudioSpecificConfig{}, fmt.Errorf("failed to read ADTS frame: %w", err)
	}
	if _, err := r.parse(frame); err != nil {
		return mpeg4audio.AudioSpecificConfig{}, err
	}
	return *r.conf, nil
}

// Next returns the next frame, or io.EOF.
func (r *ADTSReader) Next() (*Frame, error) {
	hdr, err := r.br.Peek(7)
	if len(hdr) == 0 && errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("truncated ADTS header: %w", err)
	}
	n, err := aac.FrameLength(hdr)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r.br, frame); err != nil {
		return nil, fmt.Errorf("truncated ADTS frame: %w", err)
	}
	au, err := r.parse(frame)
	if err != nil {
		return nil, err
	}
	f := &Frame{
		Data: frame,
		PTS:  av.Rescale(r.frames*aac.SamplesPerFrame, av.Rational{Num: 1, Den: int64(r.conf.SampleRate)}, av.Universal),
	}
	if r.raw {
		f.Data = au
	}
	r.frames++
	return f, nil
}

func (r *ADTSReader) parse(frame []byte) ([]byte, error) {
	var pkts mpeg4audio.ADTSPackets
	if err := pkts.Unmarshal(frame); err != nil {
		return nil, fmt.Errorf("failed to parse ADTS frame: %w", err)
	}
	if len(pkts) == 0 {
		return nil, fmt.Errorf("empty ADTS frame")
	}
	p := pkts[0]
	if r.conf == nil {
		r.conf = &mpeg4audio.AudioSpecificConfig{
			Type:         p.Type,
			SampleRate:   p.SampleRate,
			ChannelCount: p.ChannelCount,
		}
	}
	return p.AU, nil
}

package source

import (
	"bytes"
	"io"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
	"github.com/babelcloud/gbox/packages/avmux/internal/codec/h264"
)

var testSPS = []byte{
	0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
	0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
	0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
	0x20,
}

var testPPS = []byte{0x68, 0xce, 0x38, 0x80}

var testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x10}

var testPFrame = []byte{0x41, 0x9a, 0x24, 0x8c, 0x09}

var testAACFrame = []byte{
	0x21, 0x10, 0x56, 0xe5, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

func readAll(t *testing.T, r *H264Reader) []*Frame {
	t.Helper()
	var frames []*Frame
	for {
		f, err := r.Next()
		if err == io.EOF {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
}

func TestH264Reader(t *testing.T) {
	gop := [][][]byte{
		{testSPS, testPPS, testIDR},
		{testPFrame},
		{testPFrame},
		{testSPS, testPPS, testIDR},
	}
	var stream []byte
	for _, au := range gop {
		stream = append(stream, h264.MarshalAnnexB(au)...)
	}

	r, err := NewH264Reader(bytes.NewReader(stream), av.Rational{Num: 25, Den: 1})
	require.NoError(t, err)
	frames := readAll(t, r)

	require.Len(t, frames, len(gop))
	tests := []struct {
		pts int64
		key bool
	}{
		{0, true},
		{40000, false},
		{80000, false},
		{120000, true},
	}
	for i, tt := range tests {
		assert.Equal(t, tt.pts, frames[i].PTS, "frame %d pts", i)
		assert.Equal(t, tt.key, frames[i].Keyframe, "frame %d keyframe", i)
		assert.Equal(t, h264.MarshalAnnexB(gop[i]), frames[i].Data, "frame %d data", i)
	}

	sps, pps := r.ParameterSets()
	assert.Equal(t, testSPS, sps)
	assert.Equal(t, testPPS, pps)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestH264ReaderShortStartCodes(t *testing.T) {
	var stream []byte
	for _, nalu := range [][]byte{testSPS, testPPS, testIDR, testPFrame} {
		stream = append(stream, h264.StartCode3...)
		stream = append(stream, nalu...)
	}

	r, err := NewH264Reader(bytes.NewReader(stream), av.Rational{Num: 30000, Den: 1001})
	require.NoError(t, err)
	frames := readAll(t, r)

	require.Len(t, frames, 2)
	assert.True(t, frames[0].Keyframe)
	assert.Equal(t, int64(33367), frames[1].PTS)
	assert.Equal(t, h264.MarshalAnnexB([][]byte{testPFrame}), frames[1].Data)
}

func TestH264ReaderInvalid(t *testing.T) {
	tests := []struct {
		name string
		fps  av.Rational
	}{
		{"zero", av.Rational{Num: 0, Den: 1}},
		{"negative", av.Rational{Num: -25, Den: 1}},
		{"zero denominator", av.Rational{Num: 25, Den: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewH264Reader(bytes.NewReader(nil), tt.fps)
			assert.Error(t, err)
		})
	}

	r, err := NewH264Reader(bytes.NewReader(nil), av.Rational{Num: 25, Den: 1})
	require.NoError(t, err)
	_, err = r.Next()
	assert.Equal(t, io.EOF, err, "empty stream")
}

func adtsStream(t *testing.T, frames int) []byte {
	t.Helper()
	pkts := make(mpeg4audio.ADTSPackets, frames)
	for i := range pkts {
		pkts[i] = &mpeg4audio.ADTSPacket{
			Type:         mpeg4audio.ObjectTypeAACLC,
			SampleRate:   44100,
			ChannelCount: 2,
			AU:           testAACFrame,
		}
	}
	b, err := pkts.Marshal()
	require.NoError(t, err)
	return b
}

func TestADTSReader(t *testing.T) {
	tests := []struct {
		name string
		raw  bool
	}{
		{"raw", true},
		{"adts", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := adtsStream(t, 3)
			frameLen := len(stream) / 3
			r := NewADTSReader(bytes.NewReader(stream), tt.raw)

			conf, err := r.Config()
			require.NoError(t, err)
			assert.Equal(t, mpeg4audio.ObjectTypeAACLC, conf.Type)
			assert.Equal(t, 44100, conf.SampleRate)
			assert.Equal(t, 2, conf.ChannelCount)

			for i, pts := range []int64{0, 23220, 46440} {
				f, err := r.Next()
				require.NoError(t, err)
				assert.Equal(t, pts, f.PTS, "frame %d", i)
				if tt.raw {
					assert.Equal(t, testAACFrame, f.Data)
				} else {
					assert.Equal(t, stream[i*frameLen:(i+1)*frameLen], f.Data)
				}
			}
			_, err = r.Next()
			assert.Equal(t, io.EOF, err)
		})
	}
}

func TestADTSReaderTruncated(t *testing.T) {
	stream := adtsStream(t, 2)
	r := NewADTSReader(bytes.NewReader(stream[:len(stream)-3]), true)

	_, err := r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestADTSReaderGarbage(t *testing.T) {
	r := NewADTSReader(bytes.NewReader([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}), true)
	_, err := r.Config()
	assert.Error(t, err)
}

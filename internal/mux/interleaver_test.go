package mux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
)

func pkt(stream int, dts int64) *av.Packet {
	return &av.Packet{StreamIndex: stream, PTS: dts, DTS: dts, Data: []byte{byte(stream), byte(dts)}}
}

func order(pkts []*av.Packet) [][2]int64 {
	out := make([][2]int64, len(pkts))
	for i, p := range pkts {
		out[i] = [2]int64{int64(p.StreamIndex), p.DTS}
	}
	return out
}

func TestInterleaverWaitsForAllStreams(t *testing.T) {
	il := NewInterleaver([]av.Rational{flvTimeBase, flvTimeBase}, 0)

	assert.Empty(t, il.Push(pkt(0, 0)))
	assert.Empty(t, il.Push(pkt(0, 33)))
	assert.Equal(t, 2, il.Len())

	out := il.Push(pkt(1, 10))
	assert.Equal(t, [][2]int64{{0, 0}, {1, 10}}, order(out))
	assert.Equal(t, 1, il.Len())

	out = il.Push(pkt(1, 40))
	assert.Equal(t, [][2]int64{{0, 33}}, order(out))

	assert.Equal(t, [][2]int64{{1, 40}}, order(il.Flush()))
	assert.Equal(t, 0, il.Len())
}

func TestInterleaverOrdersAcrossTimeBases(t *testing.T) {
	// video in ms, audio in 1/44100
	il := NewInterleaver([]av.Rational{flvTimeBase, aac44kHzBase}, 0)

	var out []*av.Packet
	out = append(out, il.Push(pkt(0, 0))...)
	out = append(out, il.Push(pkt(0, 33))...)
	out = append(out, il.Push(pkt(1, 0))...)
	out = append(out, il.Push(pkt(1, 1024))...) // 23.2ms
	out = append(out, il.Push(pkt(1, 2048))...) // 46.4ms
	out = append(out, il.Push(pkt(0, 66))...)
	out = append(out, il.Flush()...)

	assert.Equal(t, [][2]int64{{0, 0}, {1, 0}, {1, 1024}, {0, 33}, {1, 2048}, {0, 66}}, order(out))
}

func TestInterleaverTieGoesToLowerIndex(t *testing.T) {
	il := NewInterleaver([]av.Rational{tsTimeBase, flvTimeBase}, 0)

	il.Push(pkt(1, 3))
	out := il.Push(pkt(0, 270))
	require.Len(t, out, 1)
	assert.Equal(t, 0, out[0].StreamIndex)
}

func TestInterleaverOrdersSubMicrosecondGaps(t *testing.T) {
	il := NewInterleaver([]av.Rational{tsTimeBase, aac44kHzBase}, 0)

	// 47/90000 s is 522.22us and 23/44100 s is 521.54us.
	il.Push(pkt(0, 47))
	out := il.Push(pkt(1, 23))
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].StreamIndex)
}

func TestInterleaverMaxDelta(t *testing.T) {
	tests := []struct {
		name     string
		maxDelta int64
		wantOut  int
	}{
		{"unbounded waits", 0, 0},
		{"span within delta", 2_000_000, 0},
		{"span beyond delta", 500_000, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			il := NewInterleaver([]av.Rational{flvTimeBase, flvTimeBase}, tt.maxDelta)
			il.Push(pkt(0, 0))
			out := il.Push(pkt(0, 1000))
			assert.Len(t, out, tt.wantOut)
			if tt.wantOut > 0 {
				assert.Equal(t, int64(0), out[0].DTS)
			}
		})
	}
}

func TestInterleaverCopiesPayload(t *testing.T) {
	il := NewInterleaver([]av.Rational{flvTimeBase, flvTimeBase}, 0)

	buf := []byte{1, 2, 3}
	il.Push(&av.Packet{StreamIndex: 0, PTS: 0, DTS: 0, Data: buf})
	buf[0] = 9

	out := il.Flush()
	require.Len(t, out, 1)
	assert.Equal(t, []byte{1, 2, 3}, out[0].Data)
}

func TestInterleaverSingleStreamPassesThrough(t *testing.T) {
	il := NewInterleaver([]av.Rational{flvTimeBase}, DefaultMaxInterleaveDelta)

	out := il.Push(pkt(0, 5))
	assert.Equal(t, [][2]int64{{0, 5}}, order(out))
	assert.Equal(t, 0, il.Len())
}

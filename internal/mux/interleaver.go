package mux

import (
	"sort"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
)

// DefaultMaxInterleaveDelta is the buffering limit in microseconds applied
// when none is configured.
const DefaultMaxInterleaveDelta int64 = 10_000_000

// Interleaver orders packets of several streams by DTS before they reach the
// container. A packet is released once every stream has a packet buffered,
// or when the buffered span exceeds the max interleave delta.
type Interleaver struct {
	timeBases []av.Rational
	maxDelta  int64
	buf       []*av.Packet
	counts    []int
}

// NewInterleaver returns an interleaver for streams with the given time
// bases, indexed by stream index. maxDelta is in microseconds; zero waits for
// every stream without limit.
func NewInterleaver(timeBases []av.Rational, maxDelta int64) *Interleaver {
	tbs := make([]av.Rational, len(timeBases))
	copy(tbs, timeBases)
	return &Interleaver{
		timeBases: tbs,
		maxDelta:  maxDelta,
		counts:    make([]int, len(timeBases)),
	}
}

// Len returns the number of buffered packets.
func (il *Interleaver) Len() int {
	return len(il.buf)
}

// before reports whether a must be written ahead of b. Ties go to the lower
// stream index.
func (il *Interleaver) before(a, b *av.Packet) bool {
	c := av.Compare(a.DTS, il.timeBases[a.StreamIndex], b.DTS, il.timeBases[b.StreamIndex])
	if c == 0 {
		return a.StreamIndex < b.StreamIndex
	}
	return c < 0
}

// Push buffers a copy of pkt and returns the packets now ready to be
// written, in order.
func (il *Interleaver) Push(pkt *av.Packet) []*av.Packet {
	p := pkt.Clone()
	if p.DTS == av.NoPTS {
		p.DTS = p.PTS
	}
	i := sort.Search(len(il.buf), func(i int) bool { return il.before(p, il.buf[i]) })
	il.buf = append(il.buf, nil)
	copy(il.buf[i+1:], il.buf[i:])
	il.buf[i] = p
	il.counts[p.StreamIndex]++

	var out []*av.Packet
	for il.ready() {
		out = append(out, il.pop())
	}
	return out
}

// Flush returns every buffered packet in order and empties the buffer.
func (il *Interleaver) Flush() []*av.Packet {
	out := il.buf
	il.buf = nil
	for i := range il.counts {
		il.counts[i] = 0
	}
	return out
}

func (il *Interleaver) ready() bool {
	if len(il.buf) == 0 {
		return false
	}
	waiting := 0
	for _, n := range il.counts {
		if n > 0 {
			waiting++
		}
	}
	if waiting == len(il.counts) {
		return true
	}
	if il.maxDelta <= 0 {
		return false
	}
	first := il.buf[0]
	lo := av.Rescale(first.DTS, il.timeBases[first.StreamIndex], av.Universal)
	var hi int64
	for _, p := range il.buf {
		if ts := av.Rescale(p.DTS, il.timeBases[p.StreamIndex], av.Universal); ts > hi {
			hi = ts
		}
	}
	return hi-lo > il.maxDelta
}

func (il *Interleaver) pop() *av.Packet {
	p := il.buf[0]
	il.buf[0] = nil
	il.buf = il.buf[1:]
	il.counts[p.StreamIndex]--
	return p
}

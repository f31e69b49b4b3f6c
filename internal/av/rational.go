package av

import (
	"fmt"
	"math"
	"math/bits"
)

// NoPTS marks a timestamp that has not been assigned.
const NoPTS int64 = math.MinInt64

// Rational is a time base expressed as Num/Den seconds.
type Rational struct {
	Num int64
	Den int64
}

// Universal is the encoder clock: microseconds.
var Universal = Rational{Num: 1, Den: 1_000_000}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Valid reports whether r can be used as a time base.
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// Rescale converts a from time base bq to time base cq, rounding to the
// nearest value with halfway cases away from zero.
func Rescale(a int64, bq, cq Rational) int64 {
	if a == NoPTS {
		return NoPTS
	}
	b := bq.Num * cq.Den
	c := cq.Num * bq.Den
	return rescaleRnd(a, b, c)
}

// rescaleRnd computes a*b/c with 128-bit intermediates.
func rescaleRnd(a, b, c int64) int64 {
	if c <= 0 || b < 0 {
		return NoPTS
	}
	if a < 0 {
		if a == math.MinInt64 {
			return NoPTS
		}
		return -rescaleRnd(-a, b, c)
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	var carry uint64
	lo, carry = bits.Add64(lo, uint64(c/2), 0)
	hi += carry
	if hi >= uint64(c) {
		return math.MaxInt64
	}
	q, _ := bits.Div64(hi, lo, uint64(c))
	if q > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(q)
}

// Compare orders a in time base aq against b in time base bq without
// rounding either side. It returns -1, 0 or 1.
func Compare(a int64, aq Rational, b int64, bq Rational) int {
	x := mul128(a, aq.Num*bq.Den)
	y := mul128(b, bq.Num*aq.Den)
	return x.cmp(y)
}

// int128 is a sign and magnitude product.
type int128 struct {
	neg    bool
	hi, lo uint64
}

func mul128(a, b int64) int128 {
	neg := (a < 0) != (b < 0)
	hi, lo := bits.Mul64(abs64(a), abs64(b))
	if hi == 0 && lo == 0 {
		neg = false
	}
	return int128{neg: neg, hi: hi, lo: lo}
}

func abs64(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}

func (x int128) cmp(y int128) int {
	if x.neg != y.neg {
		if x.neg {
			return -1
		}
		return 1
	}
	m := 0
	switch {
	case x.hi < y.hi, x.hi == y.hi && x.lo < y.lo:
		m = -1
	case x.hi > y.hi, x.hi == y.hi && x.lo > y.lo:
		m = 1
	}
	if x.neg {
		return -m
	}
	return m
}

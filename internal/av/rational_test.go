package av

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRescale(t *testing.T) {
	ms := Rational{Num: 1, Den: 1000}
	khz90 := Rational{Num: 1, Den: 90000}

	tests := []struct {
		name string
		a    int64
		from Rational
		to   Rational
		want int64
	}{
		{"zero", 0, Universal, ms, 0},
		{"us to ms exact", 3000, Universal, ms, 3},
		{"us to ms rounds down", 2048, Universal, ms, 2},
		{"us to ms half rounds up", 1500, Universal, ms, 2},
		{"us to ms half negative rounds away", -1500, Universal, ms, -2},
		{"us to 90k", 3000, Universal, khz90, 270},
		{"us to 90k fractional", 33333, Universal, khz90, 3000},
		{"ms to us", 40, ms, Universal, 40000},
		{"us to sample rate", 23220, Universal, Rational{Num: 1, Den: 44100}, 1024},
		{"large values do not overflow", 1 << 50, Universal, khz90, 101330991615836},
		{"no pts passes through", NoPTS, Universal, ms, NoPTS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Rescale(tt.a, tt.from, tt.to))
		})
	}
}

func TestRescaleSaturates(t *testing.T) {
	got := Rescale(math.MaxInt64/2, Rational{Num: 1, Den: 1}, Universal)
	assert.Equal(t, int64(math.MaxInt64), got)
}

func TestRescaleMonotonic(t *testing.T) {
	targets := []Rational{{1, 1000}, {1, 90000}, {1, 44100}, {1, 48000}, {1, 22050}}
	for _, tb := range targets {
		t.Run(tb.String(), func(t *testing.T) {
			prev := Rescale(0, Universal, tb)
			for us := int64(1); us < 200000; us += 7 {
				cur := Rescale(us, Universal, tb)
				assert.GreaterOrEqual(t, cur, prev, "rescale of %d went backwards", us)
				prev = cur
			}
		})
	}
}

func TestRationalValid(t *testing.T) {
	tests := []struct {
		r    Rational
		want bool
	}{
		{Rational{1, 1000}, true},
		{Rational{0, 1000}, false},
		{Rational{1, 0}, false},
		{Rational{-1, 90000}, false},
	}
	for _, tt := range tests {
		t.Run(tt.r.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.Valid())
		})
	}
}

func TestCompare(t *testing.T) {
	ms := Rational{Num: 1, Den: 1000}
	khz90 := Rational{Num: 1, Den: 90000}
	khz44 := Rational{Num: 1, Den: 44100}

	tests := []struct {
		name     string
		a        int64
		aq       Rational
		b        int64
		bq       Rational
		expected int
	}{
		{"equal across bases", 3, ms, 270, khz90, 0},
		{"earlier", 2, ms, 270, khz90, -1},
		{"later", 4, ms, 270, khz90, 1},
		{"sub-microsecond apart", 47, khz90, 23, khz44, 1},
		{"sub-microsecond apart reversed", 23, khz44, 47, khz90, -1},
		{"negative equal", -3, ms, -270, khz90, 0},
		{"negative order", -3, ms, -269, khz90, -1},
		{"sign decides", -1, khz90, 0, ms, -1},
		{"zero both", 0, khz44, 0, khz90, 0},
		{"large values", 1 << 50, khz90, 1 << 50, khz44, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Compare(tt.a, tt.aq, tt.b, tt.bq))
		})
	}
}

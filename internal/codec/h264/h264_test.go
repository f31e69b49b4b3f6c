package h264

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 1920x1080 baseline SPS
var testSPS = []byte{
	0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
	0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
	0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
	0x20,
}

var testPPS = []byte{0x68, 0xce, 0x38, 0x80}

var testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x10}

var testPFrame = []byte{0x41, 0x9a, 0x24, 0x8c, 0x09}

func TestSplitAccessUnit(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    [][]byte
		wantErr bool
	}{
		{
			name: "annex-b 4-byte start codes",
			data: MarshalAnnexB([][]byte{testSPS, testPPS, testIDR}),
			want: [][]byte{testSPS, testPPS, testIDR},
		},
		{
			name: "annex-b 3-byte start code",
			data: append([]byte{0x00, 0x00, 0x01}, testPFrame...),
			want: [][]byte{testPFrame},
		},
		{
			name: "avcc",
			data: MarshalAVCC([][]byte{testIDR, testPFrame}),
			want: [][]byte{testIDR, testPFrame},
		},
		{
			name:    "empty",
			data:    nil,
			wantErr: true,
		},
		{
			name:    "truncated avcc",
			data:    []byte{0x00, 0x00, 0x00, 0x09, 0x65},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitAccessUnit(tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAccessUnitInspection(t *testing.T) {
	key := [][]byte{testSPS, testPPS, testIDR}
	inter := [][]byte{testPFrame}

	assert.True(t, IsKeyFrame(key))
	assert.False(t, IsKeyFrame(inter))

	sps, pps := ParameterSets(key)
	assert.Equal(t, testSPS, sps)
	assert.Equal(t, testPPS, pps)

	sps, pps = ParameterSets(inter)
	assert.Nil(t, sps)
	assert.Nil(t, pps)

	aud := []byte{0x09, 0xf0}
	assert.Equal(t, [][]byte{testIDR}, StripParameterSets([][]byte{aud, testSPS, testPPS, testIDR}))

	assert.True(t, IsVCL(testIDR))
	assert.True(t, IsVCL(testPFrame))
	assert.False(t, IsVCL(testSPS))
	assert.False(t, IsVCL(nil))
}

func TestDimensions(t *testing.T) {
	w, h, err := Dimensions(testSPS)
	require.NoError(t, err)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	_, _, err = Dimensions([]byte{0x67})
	assert.Error(t, err)
}

func TestAvccRecord(t *testing.T) {
	avcc, err := BuildAvcc(testSPS, testPPS)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), avcc[0])
	assert.Equal(t, testSPS[1], avcc[1])
	assert.Equal(t, testSPS[3], avcc[3])

	sps, pps, ok := ParseAvccForSpsPps(avcc)
	require.True(t, ok)
	assert.Equal(t, testSPS, sps)
	assert.Equal(t, testPPS, pps)

	_, err = BuildAvcc(testSPS[:2], testPPS)
	assert.Error(t, err)
	_, err = BuildAvcc(testSPS, nil)
	assert.Error(t, err)
}

func TestParseExtraConfig(t *testing.T) {
	avcc, err := BuildAvcc(testSPS, testPPS)
	require.NoError(t, err)

	tests := []struct {
		name    string
		extra   []byte
		wantErr bool
	}{
		{"avcc record", avcc, false},
		{"annex-b parameter sets", MarshalAnnexB([][]byte{testSPS, testPPS}), false},
		{"empty", nil, true},
		{"annex-b without pps", MarshalAnnexB([][]byte{testSPS}), true},
		{"truncated avcc", avcc[:8], true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sps, pps, err := ParseExtraConfig(tt.extra)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testSPS, sps)
			assert.Equal(t, testPPS, pps)
		})
	}
}

package h264

import (
	"bytes"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

var (
	// Standard Annex-B start codes
	StartCode3 = []byte{0x00, 0x00, 0x01}
	StartCode4 = []byte{0x00, 0x00, 0x00, 0x01}
)

// NALUType returns the type of a NAL unit without start code.
func NALUType(nalu []byte) h264.NALUType {
	if len(nalu) == 0 {
		return 0
	}
	return h264.NALUType(nalu[0] & 0x1F)
}

// HasStartCode checks if data begins with a start code
func HasStartCode(data []byte) bool {
	return bytes.HasPrefix(data, StartCode4) || bytes.HasPrefix(data, StartCode3)
}

// SplitAccessUnit splits an access unit into NAL units. Annex-B input is
// detected by its leading start code, anything else is read as AVCC with
// 4-byte length prefixes.
func SplitAccessUnit(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty access unit")
	}
	if HasStartCode(data) {
		var annexB h264.AnnexB
		if err := annexB.Unmarshal(data); err != nil {
			return nil, fmt.Errorf("failed to parse Annex-B: %w", err)
		}
		return annexB, nil
	}
	nalus, err := UnmarshalAVCC(data)
	if err != nil {
		return nil, err
	}
	return nalus, nil
}

// IsKeyFrame checks if the access unit contains an IDR NAL unit
func IsKeyFrame(nalus [][]byte) bool {
	for _, nalu := range nalus {
		if NALUType(nalu) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}

// ParameterSets returns the first SPS and PPS found in the access unit.
func ParameterSets(nalus [][]byte) (sps, pps []byte) {
	for _, nalu := range nalus {
		switch NALUType(nalu) {
		case h264.NALUTypeSPS:
			if sps == nil {
				sps = nalu
			}
		case h264.NALUTypePPS:
			if pps == nil {
				pps = nalu
			}
		}
	}
	return sps, pps
}

// StripParameterSets drops SPS, PPS and AUD units, which containers carry
// out of band.
func StripParameterSets(nalus [][]byte) [][]byte {
	out := make([][]byte, 0, len(nalus))
	for _, nalu := range nalus {
		switch NALUType(nalu) {
		case h264.NALUTypeSPS, h264.NALUTypePPS, h264.NALUTypeAccessUnitDelimiter:
			continue
		}
		out = append(out, nalu)
	}
	return out
}

// IsVCL reports whether the NAL unit carries slice data.
func IsVCL(nalu []byte) bool {
	t := NALUType(nalu)
	return t >= h264.NALUTypeNonIDR && t <= h264.NALUTypeIDR
}

// Dimensions decodes the picture size from an SPS NAL unit.
func Dimensions(sps []byte) (width, height int, err error) {
	var s h264.SPS
	if err := s.Unmarshal(sps); err != nil {
		return 0, 0, fmt.Errorf("failed to parse SPS: %w", err)
	}
	return s.Width(), s.Height(), nil
}

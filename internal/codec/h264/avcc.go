package h264

import (
	"encoding/binary"
	"fmt"
)

// MarshalAVCC joins NAL units with 4-byte big-endian length prefixes.
func MarshalAVCC(nalus [][]byte) []byte {
	n := 0
	for _, nalu := range nalus {
		n += 4 + len(nalu)
	}
	out := make([]byte, 0, n)
	for _, nalu := range nalus {
		out = binary.BigEndian.AppendUint32(out, uint32(len(nalu)))
		out = append(out, nalu...)
	}
	return out
}

// UnmarshalAVCC splits length-prefixed NAL units.
func UnmarshalAVCC(data []byte) ([][]byte, error) {
	var nalus [][]byte
	offset := 0
	for offset < len(data) {
		if offset+4 > len(data) {
			return nil, fmt.Errorf("truncated length prefix at %d", offset)
		}
		length := int(binary.BigEndian.Uint32(data[offset:]))
		offset += 4
		if length == 0 || offset+length > len(data) {
			return nil, fmt.Errorf("invalid length prefix: %d", length)
		}
		nalus = append(nalus, data[offset:offset+length])
		offset += length
	}
	return nalus, nil
}

// MarshalAnnexB joins NAL units with 4-byte start codes.
func MarshalAnnexB(nalus [][]byte) []byte {
	n := 0
	for _, nalu := range nalus {
		n += 4 + len(nalu)
	}
	out := make([]byte, 0, n)
	for _, nalu := range nalus {
		out = append(out, StartCode4...)
		out = append(out, nalu...)
	}
	return out
}

// ParseAvccForSpsPps extracts SPS/PPS from avcC box payload
func ParseAvccForSpsPps(avcc []byte) (sps, pps []byte, ok bool) {
	if len(avcc) < 7 || avcc[0] != 0x01 {
		return nil, nil, false
	}
	// avcC layout: version(1)=1, profile(1), compatibility(1), level(1), lengthSizeMinusOne(2 bits), reserved(3 bits), numOfSPS(3 bits), then SPS (2 bytes len + data)... then numOfPPS(1), PPS...
	i := 5
	numSps := int(avcc[i] & 0x1F)
	i++
	for n := 0; n < numSps && i+2 <= len(avcc); n++ {
		l := int(avcc[i])<<8 | int(avcc[i+1])
		i += 2
		if i+l > len(avcc) {
			return nil, nil, false
		}
		if l > 0 && sps == nil {
			sps = append([]byte{}, avcc[i:i+l]...)
		}
		i += l
	}
	if i >= len(avcc) {
		return sps, nil, false
	}

	numPps := int(avcc[i])
	i++
	for n := 0; n < numPps && i+2 <= len(avcc); n++ {
		l := int(avcc[i])<<8 | int(avcc[i+1])
		i += 2
		if i+l > len(avcc) {
			return sps, pps, sps != nil && pps != nil
		}
		if l > 0 && pps == nil {
			pps = append([]byte{}, avcc[i:i+l]...)
		}
		i += l
	}

	return sps, pps, sps != nil && pps != nil
}

// BuildAvcc serializes an AVCDecoderConfigurationRecord holding one SPS and
// one PPS, with 4-byte NAL length fields.
func BuildAvcc(sps, pps []byte) ([]byte, error) {
	if len(sps) < 4 {
		return nil, fmt.Errorf("SPS too short: %d bytes", len(sps))
	}
	if len(pps) == 0 {
		return nil, fmt.Errorf("missing PPS")
	}
	out := make([]byte, 0, 11+len(sps)+len(pps))
	out = append(out,
		0x01,   // version
		sps[1], // profile
		sps[2], // compatibility
		sps[3], // level
		0xFF,   // reserved + lengthSizeMinusOne=3
		0xE1,   // reserved + numOfSPS=1
	)
	out = binary.BigEndian.AppendUint16(out, uint16(len(sps)))
	out = append(out, sps...)
	out = append(out, 0x01)
	out = binary.BigEndian.AppendUint16(out, uint16(len(pps)))
	out = append(out, pps...)
	return out, nil
}

// ParseExtraConfig reads SPS/PPS from codec configuration given either as
// an avcC record or as Annex-B parameter sets.
func ParseExtraConfig(extra []byte) (sps, pps []byte, err error) {
	if len(extra) == 0 {
		return nil, nil, fmt.Errorf("no codec configuration")
	}
	if extra[0] == 0x01 {
		if s, p, ok := ParseAvccForSpsPps(extra); ok {
			return s, p, nil
		}
		return nil, nil, fmt.Errorf("malformed avcC record")
	}
	nalus, err := SplitAccessUnit(extra)
	if err != nil {
		return nil, nil, err
	}
	sps, pps = ParameterSets(nalus)
	if sps == nil || pps == nil {
		return nil, nil, fmt.Errorf("codec configuration lacks SPS or PPS")
	}
	return sps, pps, nil
}

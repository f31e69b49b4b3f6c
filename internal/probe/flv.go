package probe

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ossrs/go-oryx-lib/flv"
	"github.com/yutopp/go-amf0"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
)

var flvCodecNames = map[byte]string{
	2:  "mp3",
	7:  "h264",
	10: "aac",
	12: "h265",
}

// FLV lists the tags of an FLV stream.
func FLV(r io.Reader) (*Result, error) {
	br := bufio.NewReader(r)
	d, err := flv.NewDemuxer(br)
	if err != nil {
		return nil, fmt.Errorf("failed to create flv demuxer: %w", err)
	}
	defer d.Close()

	_, hasVideo, hasAudio, err := d.ReadHeader()
	if err != nil {
		return nil, fmt.Errorf("failed to read flv header: %w", err)
	}
	res := &Result{Format: "flv"}
	tb := av.Rational{Num: 1, Den: 1000}
	if hasVideo {
		res.Tracks = append(res.Tracks, Track{ID: 0, Kind: av.KindVideo, TimeBase: tb})
	}
	if hasAudio {
		res.Tracks = append(res.Tracks, Track{ID: 1, Kind: av.KindAudio, TimeBase: tb})
	}

	for {
		if _, err := br.Peek(1); errors.Is(err, io.EOF) {
			break
		}
		tagType, tagSize, timestamp, err := d.ReadTagHeader()
		if err != nil {
			return nil, fmt.Errorf("failed to read tag header: %w", err)
		}
		tag, err := d.ReadTag(tagSize)
		if err != nil {
			return nil, fmt.Errorf("failed to read tag: %w", err)
		}
		if len(tag) == 0 {
			continue
		}

		switch tagType {
		case flv.TagTypeScriptData:
			meta, err := decodeScriptData(tag)
			if err != nil {
				return nil, err
			}
			res.Metadata = meta
		case flv.TagTypeVideo:
			codecID := tag[0] & 0x0F
			setCodec(res, 0, flvCodecNames[codecID])
			pkt := Packet{Track: 0, Kind: av.KindVideo, DTS: int64(timestamp), PTS: int64(timestamp), Keyframe: tag[0]>>4 == 1}
			if codecID == 7 || codecID == 12 {
				if len(tag) < 5 {
					return nil, fmt.Errorf("short video tag at %d", timestamp)
				}
				if tag[1] == 0 {
					res.Configs++
					continue
				}
				cts := int32(uint32(tag[2])<<16|uint32(tag[3])<<8|uint32(tag[4])) << 8 >> 8
				pkt.PTS += int64(cts)
				pkt.Size = len(tag) - 5
			} else {
				pkt.Size = len(tag) - 1
			}
			res.Packets = append(res.Packets, pkt)
		case flv.TagTypeAudio:
			format := tag[0] >> 4
			setCodec(res, 1, flvCodecNames[format])
			pkt := Packet{Track: 1, Kind: av.KindAudio, DTS: int64(timestamp), PTS: int64(timestamp), Keyframe: true}
			if format == 10 {
				if len(tag) < 2 {
					return nil, fmt.Errorf("short audio tag at %d", timestamp)
				}
				if tag[1] == 0 {
					res.Configs++
					continue
				}
				pkt.Size = len(tag) - 2
			} else {
				pkt.Size = len(tag) - 1
			}
			res.Packets = append(res.Packets, pkt)
		}
	}
	return res, nil
}

func setCodec(res *Result, id int, name string) {
	if t := res.track(id); t != nil && t.Codec == "" {
		t.Codec = name
	}
}

// decodeScriptData reads an onMetaData script tag body.
func decodeScriptData(tag []byte) (map[string]interface{}, error) {
	dec := amf0.NewDecoder(bytes.NewReader(tag))
	var name string
	if err := dec.Decode(&name); err != nil {
		return nil, fmt.Errorf("failed to decode script name: %w", err)
	}
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	switch m := v.(type) {
	case amf0.ECMAArray:
		return map[string]interface{}(m), nil
	case map[string]interface{}:
		return m, nil
	}
	return nil, fmt.Errorf("unexpected %s payload %T", name, v)
}

package av

// Packet is a compressed access unit addressed to a container stream.
// Timestamps are in the stream's time base.
type Packet struct {
	StreamIndex int
	PTS         int64
	DTS         int64
	Keyframe    bool
	Data        []byte
}

// Clone returns a packet owning a private copy of the payload.
func (p *Packet) Clone() *Packet {
	c := *p
	c.Data = cloneBytes(p.Data)
	return &c
}

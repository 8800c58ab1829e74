package protocol

import "sync"

// Header is the sequencing header leading every notification fragment.
//
//	total = (b1 & 0x0f) << 8 | b2
//	index = b0 << 4 | (b1 & 0xf0) >> 4
type Header struct {
	Total uint16
	Index uint16
}

// ParseHeader reads the sequencing header of a fragment. Missing header
// bytes of a short fragment read as zero.
func ParseHeader(frag []byte) Header {
	var b [3]byte
	copy(b[:], frag)
	return Header{
		Total: uint16(b[1]&0x0f)<<8 | uint16(b[2]),
		Index: uint16(b[0])<<4 | uint16(b[1]&0xf0)>>4,
	}
}

// Last reports whether the fragment is the final one of its message.
func (h Header) Last() bool {
	return h.Total == h.Index
}

// Reassembler joins notification fragments into logical messages,
// keeping one buffer per channel. Header bytes are kept in the output.
type Reassembler struct {
	mu      sync.Mutex
	buffers map[string][]byte
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{buffers: make(map[string][]byte)}
}

// Push appends frag to the buffer for channel. When frag is the final
// fragment it returns the complete message and true, and the channel buffer
// is emptied. Empty fragments are ignored.
func (r *Reassembler) Push(channel string, frag []byte) ([]byte, bool) {
	if len(frag) == 0 {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := append(r.buffers[channel], frag...)
	if !ParseHeader(frag).Last() {
		r.buffers[channel] = buf
		return nil, false
	}
	delete(r.buffers, channel)
	return buf, true
}

// Pending returns the number of buffered bytes for channel.
func (r *Reassembler) Pending(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers[channel])
}

// Reset drops all partially received messages.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buffers)
}

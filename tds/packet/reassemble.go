package packet

// Reassembler concatenates the payloads of a logical message: a run of
// packets of one type, ending at the first packet with the EOM bit set,
// with no interleaving from another message. It is fed bytes as they
// arrive off the wire and yields the reassembled payload once a message
// is complete.
type Reassembler struct {
	buf     []byte
	payload []byte
	msgType Type
	started bool
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Feed appends freshly-read bytes to the internal buffer.
func (r *Reassembler) Feed(data []byte) {
	r.buf = append(r.buf, data...)
}

// TryComplete attempts to parse as many whole packets as are currently
// buffered, accumulating their payloads. It returns the completed
// message payload and its type once an EOM packet has been consumed;
// otherwise ok is false and the caller should Feed more data.
func (r *Reassembler) TryComplete() (payload []byte, typ Type, ok bool, err error) {
	for {
		pkt, consumed, perr := Parse(r.buf)
		if perr == ErrNeedMoreData {
			return nil, 0, false, nil
		}
		if perr != nil {
			return nil, 0, false, perr
		}

		if !r.started {
			r.msgType = pkt.Header.Type
			r.started = true
		}

		r.payload = append(r.payload, pkt.Payload...)
		r.buf = r.buf[consumed:]

		if pkt.Header.IsLastPacket() {
			out := r.payload
			t := r.msgType
			r.payload = nil
			r.started = false
			return out, t, true, nil
		}
	}
}

// Reset discards any partially-assembled message and unread bytes.
func (r *Reassembler) Reset() {
	r.buf = nil
	r.payload = nil
	r.started = false
}

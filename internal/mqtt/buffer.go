package mqtt

// bufferedMsg is a serialized message waiting for a connection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer holds the newest messages while disconnected, dropping the
// oldest once full. Callers synchronize.
type ringBuffer struct {
	msgs    []bufferedMsg
	start   int // oldest message
	count   int
	dropped int // since last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{msgs: make([]bufferedMsg, capacity)}
}

func (r *ringBuffer) push(m bufferedMsg) {
	size := len(r.msgs)
	if size == 0 {
		r.dropped++
		return
	}
	if r.count == size {
		r.msgs[r.start] = m
		r.start = (r.start + 1) % size
		r.dropped++
		return
	}
	r.msgs[(r.start+r.count)%size] = m
	r.count++
}

// drain returns the buffered messages oldest first and how many were
// dropped to make room, then empties the buffer.
func (r *ringBuffer) drain() ([]bufferedMsg, int) {
	dropped := r.dropped
	r.dropped = 0
	if r.count == 0 {
		return nil, dropped
	}

	out := make([]bufferedMsg, r.count)
	for i := range out {
		out[i] = r.msgs[(r.start+i)%len(r.msgs)]
		r.msgs[(r.start+i)%len(r.msgs)] = bufferedMsg{}
	}
	r.start = 0
	r.count = 0
	return out, dropped
}

func (r *ringBuffer) len() int {
	return r.count
}

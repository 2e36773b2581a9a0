package ble

// chunkPayload splits an encoded command into ordered pieces of at most
// maxBytes each for sequential control-point writes. Returns nil for an
// empty payload.
func chunkPayload(payload []byte, maxBytes int) [][]byte {
	if len(payload) == 0 {
		return nil
	}
	if maxBytes <= 0 || len(payload) <= maxBytes {
		return [][]byte{payload}
	}
	chunks := make([][]byte, 0, (len(payload)+maxBytes-1)/maxBytes)
	for len(payload) > maxBytes {
		chunks = append(chunks, payload[:maxBytes])
		payload = payload[maxBytes:]
	}
	return append(chunks, payload)
}

// fragmentBuffer accumulates data-out notification chunks for one
// in-flight response. Contents are only handed to the decoder as a
// whole; partial buffers never escape the engine.
type fragmentBuffer struct {
	chunks [][]byte
	size   int
}

func (b *fragmentBuffer) Append(chunk []byte) {
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)
}

// Bytes returns the reassembled payload in arrival order.
func (b *fragmentBuffer) Bytes() []byte {
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

func (b *fragmentBuffer) Len() int { return b.size }

func (b *fragmentBuffer) Reset() {
	b.chunks = nil
	b.size = 0
}

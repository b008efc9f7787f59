package stt

// dropOldestBuffer is a bounded FIFO of audio chunks used while the STT
// upstream connection is down. When a push would exceed the byte budget the
// oldest chunks are discarded first (spec.md §4.4, §7 "reconnection buffer
// overflow").
type dropOldestBuffer struct {
	chunks    [][]byte
	totalLen  int
	maxBytes  int
}

func newDropOldestBuffer(maxBytes int) *dropOldestBuffer {
	if maxBytes <= 0 {
		maxBytes = 64000 // ~2s of 16kHz mono PCM
	}
	return &dropOldestBuffer{maxBytes: maxBytes}
}

// push appends chunk, evicting the oldest chunks until the buffer fits
// within maxBytes. Returns true if anything was dropped.
func (b *dropOldestBuffer) push(chunk []byte) bool {
	if len(chunk) == 0 {
		return false
	}
	b.chunks = append(b.chunks, chunk)
	b.totalLen += len(chunk)

	dropped := false
	for b.totalLen > b.maxBytes && len(b.chunks) > 0 {
		b.totalLen -= len(b.chunks[0])
		b.chunks = b.chunks[1:]
		dropped = true
	}
	return dropped
}

// drain returns all buffered chunks in order and empties the buffer.
func (b *dropOldestBuffer) drain() [][]byte {
	chunks := b.chunks
	b.chunks = nil
	b.totalLen = 0
	return chunks
}

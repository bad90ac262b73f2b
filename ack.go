package easyboot

import (
	"bytes"
	"sync"
)

// AckMatcher scans an inbound byte stream for the fixed ack pattern and
// invokes its callback once per complete match. The pattern may arrive
// split across any number of Feed calls; state persists between calls.
// One matcher serves exactly one upload attempt.
type AckMatcher struct {
	mu    sync.Mutex
	buf   []byte
	onAck func()
}

// NewAckMatcher creates a matcher that calls onAck for every complete
// ack pattern observed in the fed stream.
func NewAckMatcher(onAck func()) *AckMatcher {
	return &AckMatcher{onAck: onAck}
}

// Feed appends chunk to the matcher's buffer and emits one callback per
// ack pattern found, consuming each match and everything before it.
// Two back-to-back patterns in a single chunk emit two callbacks.
func (m *AckMatcher) Feed(chunk []byte) {
	m.mu.Lock()
	m.buf = append(m.buf, chunk...)
	var hits int
	for {
		idx := bytes.Index(m.buf, AckPattern)
		if idx < 0 {
			break
		}
		m.buf = m.buf[idx+len(AckPattern):]
		hits++
	}
	// Anything older than a partial pattern suffix can never match.
	if keep := len(AckPattern) - 1; len(m.buf) > keep {
		m.buf = append(m.buf[:0:0], m.buf[len(m.buf)-keep:]...)
	}
	m.mu.Unlock()

	for i := 0; i < hits; i++ {
		m.onAck()
	}
}

// Reset discards any buffered bytes.
func (m *AckMatcher) Reset() {
	m.mu.Lock()
	m.buf = nil
	m.mu.Unlock()
}

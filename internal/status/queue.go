// Package status carries short human-readable status lines from the BLE
// session to whatever renders them.
package status

import (
	"sync"
	"unicode/utf8"
)

// MaxLineBytes is the longest line the display can hold.
const MaxLineBytes = 40

// DefaultCapacity is the queue depth used when none is configured.
const DefaultCapacity = 40

// Queue is a bounded, ordered, multi-producer single-consumer queue of
// status lines. Producers never block.
type Queue struct {
	ch chan string

	mu     sync.RWMutex
	closed bool
}

// NewQueue creates a queue holding up to capacity lines.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan string, capacity)}
}

// Post enqueues line, truncated to MaxLineBytes. It returns false when the
// queue is full or closed and the line was dropped.
func (q *Queue) Post(line string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- Truncate(line, MaxLineBytes):
		return true
	default:
		return false
	}
}

// Lines returns the consumer end of the queue. It is closed by Close.
func (q *Queue) Lines() <-chan string {
	return q.ch
}

// Len returns the number of lines waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting lines. Lines already queued can still be received.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Truncate shortens s to at most maxBytes without splitting a UTF-8 character.
func Truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	if maxBytes <= 0 {
		return ""
	}
	cut := maxBytes
	// Walk back until we're at the start of a rune.
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

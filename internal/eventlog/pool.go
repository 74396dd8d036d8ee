package eventlog

import "sync"

// TextPool holds log-entry text off the message path: Message is a fixed-layout
// record with no string field and no field may carry a pointer across a ring
// (internal/message's doc comment), so a log call stashes its formatted text here and
// hands the event logger only a sequence number to retrieve it by. Grounded on
// original_source/TISM_EventLogger.c's malloc'd buffer, replacing the raw pointer
// with a sequence number and a mutex-guarded map. The two cores calling LogEvent
// concurrently is exactly the race the original's comment ("we're not completely
// thread-safe") warns about; this pool is.
type TextPool struct {
	mu      sync.Mutex
	next    uint32
	entries map[uint32]string
}

// NewTextPool returns an empty pool.
func NewTextPool() *TextPool {
	return &TextPool{entries: make(map[uint32]string)}
}

// Store truncates text to maxLen and returns the sequence number assigned to it.
func (p *TextPool) Store(text string, maxLen int) uint32 {
	if maxLen > 0 && len(text) > maxLen {
		text = text[:maxLen]
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	seq := p.next
	p.next++ // wraps at 2^32; entries are always drained well before that matters
	p.entries[seq] = text
	return seq
}

// Take removes and returns the text stored under seq.
func (p *TextPool) Take(seq uint32) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	text, ok := p.entries[seq]
	delete(p.entries, seq)
	return text, ok
}

package app

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/lhaverkamp/kurento-webrtc/internal/core"
)

// CandidateBuffer queues network candidates that arrive before the
// session's pipeline endpoint exists. Entries are strictly FIFO and the
// whole entry is deleted, not just emptied, once drained or once the
// session's call terminates, so stale candidates never leak into a new
// call.
type CandidateBuffer struct {
	mu     sync.Mutex
	queues map[core.SessionID][]webrtc.ICECandidateInit
}

func NewCandidateBuffer() *CandidateBuffer {
	return &CandidateBuffer{queues: make(map[core.SessionID][]webrtc.ICECandidateInit)}
}

func (b *CandidateBuffer) Enqueue(id core.SessionID, c webrtc.ICECandidateInit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[id] = append(b.queues[id], c)
}

// Take removes and returns the session's queue in arrival order.
func (b *CandidateBuffer) Take(id core.SessionID) []webrtc.ICECandidateInit {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[id]
	delete(b.queues, id)
	return q
}

// Clear deletes the entry entirely. Safe on an absent id.
func (b *CandidateBuffer) Clear(id core.SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, id)
}

func (b *CandidateBuffer) Len(id core.SessionID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[id])
}

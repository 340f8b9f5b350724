package session

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// CandidateBuffer holds remote ICE candidates that arrived before the remote
// description. Candidates are kept in arrival order.
type CandidateBuffer struct {
	pending []webrtc.ICECandidateInit
}

// Enqueue appends c.
func (b *CandidateBuffer) Enqueue(c webrtc.ICECandidateInit) {
	b.pending = append(b.pending, c)
}

// Len returns the number of buffered candidates.
func (b *CandidateBuffer) Len() int {
	return len(b.pending)
}

// Drain applies every buffered candidate in FIFO order and empties the
// buffer. A failing candidate does not stop the rest; the individual
// failures are returned joined.
func (b *CandidateBuffer) Drain(apply func(webrtc.ICECandidateInit) error) (applied int, err error) {
	pending := b.pending
	b.pending = nil

	var errs []error
	for i, c := range pending {
		if e := apply(c); e != nil {
			errs = append(errs, fmt.Errorf("candidate %d: %w", i, e))
			continue
		}
		applied++
	}
	return applied, errors.Join(errs...)
}

// Reset discards every buffered candidate.
func (b *CandidateBuffer) Reset() {
	b.pending = nil
}

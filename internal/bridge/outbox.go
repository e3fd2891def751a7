package bridge

import (
	"sync"

	"github.com/openhire/interview-gateway/internal/frame"
)

// losslessLimit caps how many pending lossless frames OfferLossless will
// hold before skipping. PushLossless has no cap.
const losslessLimit = 64

// outbox buffers one relay direction's pending writes. Frames leave in
// the order they arrived, whatever their kind. Text, control and error
// frames are lossless; media frames are bounded, and when the media lane
// is full the oldest pending frame of the incoming frame's kind is
// discarded and replaced: freshness matters more than completeness for
// live media.
type outbox struct {
	mu          sync.Mutex
	mediaLimit  int
	entries     []outboxEntry
	mediaLen    int
	losslessLen int

	// ready carries at most one pending signal; the writer drains the
	// outbox fully on each wake-up.
	ready chan struct{}

	// onDrop is invoked outside the hot path lock for each discarded
	// media frame.
	onDrop func(frame.Frame)
}

type outboxEntry struct {
	f     frame.Frame
	media bool
}

func newOutbox(mediaLimit int, onDrop func(frame.Frame)) *outbox {
	if mediaLimit <= 0 {
		mediaLimit = 8
	}
	return &outbox{
		mediaLimit: mediaLimit,
		ready:      make(chan struct{}, 1),
		onDrop:     onDrop,
	}
}

// PushLossless enqueues a text, control or error frame. Never dropped.
func (o *outbox) PushLossless(f frame.Frame) {
	o.mu.Lock()
	o.entries = append(o.entries, outboxEntry{f: f})
	o.losslessLen++
	o.mu.Unlock()
	o.signal()
}

// OfferLossless enqueues f unless the lossless lane is at its cap. Used
// for keepalives, which may be skipped under backpressure.
func (o *outbox) OfferLossless(f frame.Frame) {
	o.mu.Lock()
	if o.losslessLen >= losslessLimit {
		o.mu.Unlock()
		return
	}
	o.entries = append(o.entries, outboxEntry{f: f})
	o.losslessLen++
	o.mu.Unlock()
	o.signal()
}

// PushMedia enqueues a media frame, evicting the oldest pending media
// frame of the same kind when the media lane is at its bound. If no
// same-kind frame is pending, the oldest media frame overall is evicted
// instead. Lossless frames are never eviction candidates.
func (o *outbox) PushMedia(f frame.Frame) {
	var dropped *frame.Frame

	o.mu.Lock()
	if o.mediaLen >= o.mediaLimit {
		idx := -1
		for i, e := range o.entries {
			if e.media && e.f.Kind == f.Kind {
				idx = i
				break
			}
		}
		if idx < 0 {
			for i, e := range o.entries {
				if e.media {
					idx = i
					break
				}
			}
		}
		d := o.entries[idx].f
		dropped = &d
		o.entries = append(o.entries[:idx], o.entries[idx+1:]...)
		o.mediaLen--
	}
	o.entries = append(o.entries, outboxEntry{f: f, media: true})
	o.mediaLen++
	o.mu.Unlock()

	if dropped != nil && o.onDrop != nil {
		o.onDrop(*dropped)
	}
	o.signal()
}

// Pop removes and returns the oldest pending frame from either lane.
func (o *outbox) Pop() (frame.Frame, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.entries) == 0 {
		return frame.Frame{}, false
	}
	e := o.entries[0]
	o.entries = o.entries[1:]
	if e.media {
		o.mediaLen--
	} else {
		o.losslessLen--
	}
	return e.f, true
}

// PendingLossless reports how many lossless frames are still queued.
func (o *outbox) PendingLossless() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.losslessLen
}

// PendingMedia reports how many media frames are still queued.
func (o *outbox) PendingMedia() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mediaLen
}

// DiscardMedia drops every pending media frame, keeping lossless frames
// in order. Called when the bridge starts closing; in-flight media is
// never drained.
func (o *outbox) DiscardMedia() {
	o.mu.Lock()
	kept := o.entries[:0]
	for _, e := range o.entries {
		if !e.media {
			kept = append(kept, e)
		}
	}
	o.entries = kept
	o.mediaLen = 0
	o.mu.Unlock()
}

func (o *outbox) signal() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}

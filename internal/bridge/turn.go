package bridge

import (
	"strings"
	"time"

	"github.com/openhire/interview-gateway/internal/frame"
	"github.com/openhire/interview-gateway/internal/store"
)

// observation is one conversational frame tagged with the role that produced
// it and the instant the bridge saw it. Both relay directions feed a single
// collector channel, so observations arrive in bridge order.
type observation struct {
	role store.Role
	f    frame.Frame
	at   time.Time
}

// Turn is one assembled conversational contribution by a single role, built
// from consecutive same-role frames. Turns, not individual chunks, are the
// unit handed to persistence.
type Turn struct {
	Role       store.Role
	Text       string
	MediaKind  string
	PCM        []byte
	FrameCount int
	ObservedAt time.Time
}

// turnAssembler accumulates consecutive same-role frames into a Turn.
// A turn closes on role change (Observe returns the finished turn) or when
// the caller decides the silence interval elapsed (Flush).
type turnAssembler struct {
	cur *Turn

	textParts []string
	lastAt    time.Time
}

// Observe folds a frame into the pending turn. When the role changes, the
// previous turn is returned finished and a new one is opened.
func (a *turnAssembler) Observe(ob observation) *Turn {
	var finished *Turn
	if a.cur != nil && a.cur.Role != ob.role {
		finished = a.finish()
	}
	if a.cur == nil {
		a.cur = &Turn{Role: ob.role, MediaKind: "text", ObservedAt: ob.at}
	}

	switch ob.f.Kind {
	case frame.KindText:
		a.textParts = append(a.textParts, ob.f.Content)
	case frame.KindAudio:
		a.cur.PCM = append(a.cur.PCM, ob.f.Payload...)
		if a.cur.MediaKind == "text" && len(a.textParts) == 0 {
			a.cur.MediaKind = "audio"
		}
	case frame.KindVideo:
		if len(a.textParts) == 0 && len(a.cur.PCM) == 0 {
			a.cur.MediaKind = "video"
		}
	}
	a.cur.FrameCount++
	a.lastAt = ob.at
	return finished
}

// Flush closes the pending turn, if any. The caller invokes it when the
// turn-boundary silence interval elapses or the bridge is draining.
func (a *turnAssembler) Flush() *Turn {
	return a.finish()
}

// IdleSince reports the time of the last observed frame, or zero when no
// turn is pending.
func (a *turnAssembler) IdleSince() time.Time {
	if a.cur == nil {
		return time.Time{}
	}
	return a.lastAt
}

func (a *turnAssembler) finish() *Turn {
	if a.cur == nil {
		return nil
	}
	t := a.cur
	t.Text = strings.Join(a.textParts, "\n")
	if t.Text != "" {
		t.MediaKind = "text"
	}
	a.cur = nil
	a.textParts = nil
	return t
}

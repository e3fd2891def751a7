package bridge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openhire/interview-gateway/internal/frame"
)

func audioFrame(i int) frame.Frame {
	return frame.Frame{Kind: frame.KindAudio, Payload: []byte{byte(i)}, Seq: int64(i)}
}

func videoFrame(i int) frame.Frame {
	return frame.Frame{Kind: frame.KindVideo, Payload: []byte{byte(i)}, Seq: int64(i)}
}

func drainOutbox(o *outbox) []frame.Frame {
	var out []frame.Frame
	for {
		f, ok := o.Pop()
		if !ok {
			return out
		}
		out = append(out, f)
	}
}

func TestOutboxPushPop(t *testing.T) {
	o := newOutbox(4, nil)

	for i := 0; i < 3; i++ {
		o.PushMedia(audioFrame(i))
	}
	require.Equal(t, 3, o.PendingMedia())

	for i := 0; i < 3; i++ {
		f, ok := o.Pop()
		require.True(t, ok)
		require.Equal(t, int64(i), f.Seq)
	}
	_, ok := o.Pop()
	require.False(t, ok)
}

func TestOutboxPreservesReceiptOrderAcrossKinds(t *testing.T) {
	o := newOutbox(8, nil)

	o.PushMedia(audioFrame(1))
	o.PushMedia(audioFrame(2))
	o.PushLossless(frame.Text("between"))
	o.PushMedia(audioFrame(3))

	got := drainOutbox(o)
	require.Len(t, got, 4)
	require.Equal(t, frame.KindAudio, got[0].Kind)
	require.Equal(t, frame.KindAudio, got[1].Kind)
	require.Equal(t, frame.KindText, got[2].Kind)
	require.Equal(t, "between", got[2].Content)
	require.Equal(t, frame.KindAudio, got[3].Kind)
	require.Equal(t, int64(3), got[3].Seq)
}

func TestOutboxDropsOldestSameKind(t *testing.T) {
	var dropped []frame.Frame
	o := newOutbox(3, func(f frame.Frame) { dropped = append(dropped, f) })

	o.PushMedia(audioFrame(0))
	o.PushMedia(videoFrame(1))
	o.PushMedia(audioFrame(2))
	o.PushMedia(audioFrame(3))

	require.Len(t, dropped, 1)
	require.Equal(t, int64(0), dropped[0].Seq)

	// The video frame survived even though it is older than the evicted
	// audio chunk.
	var seqs []int64
	for _, f := range drainOutbox(o) {
		seqs = append(seqs, f.Seq)
	}
	require.Equal(t, []int64{1, 2, 3}, seqs)
}

func TestOutboxDropsOldestMediaOverallWhenNoKindMatch(t *testing.T) {
	var dropped []frame.Frame
	o := newOutbox(2, func(f frame.Frame) { dropped = append(dropped, f) })

	o.PushMedia(audioFrame(0))
	o.PushMedia(audioFrame(1))
	o.PushMedia(videoFrame(2))

	require.Len(t, dropped, 1)
	require.Equal(t, int64(0), dropped[0].Seq)
	require.Equal(t, 2, o.PendingMedia())
}

func TestOutboxEvictionNeverTouchesLossless(t *testing.T) {
	var dropped []frame.Frame
	o := newOutbox(2, func(f frame.Frame) { dropped = append(dropped, f) })

	o.PushLossless(frame.Text("first words"))
	o.PushMedia(audioFrame(1))
	o.PushMedia(audioFrame(2))
	o.PushMedia(audioFrame(3))

	// The text frame is older than every media frame, yet eviction picked
	// the oldest audio chunk.
	require.Len(t, dropped, 1)
	require.Equal(t, int64(1), dropped[0].Seq)

	got := drainOutbox(o)
	require.Len(t, got, 3)
	require.Equal(t, frame.KindText, got[0].Kind)
	require.Equal(t, int64(2), got[1].Seq)
	require.Equal(t, int64(3), got[2].Seq)
}

func TestOutboxReadySignalCoalesces(t *testing.T) {
	o := newOutbox(8, nil)
	for i := 0; i < 5; i++ {
		o.PushMedia(audioFrame(i))
	}

	// A single signal is enough; the consumer drains the outbox.
	<-o.ready
	require.Len(t, drainOutbox(o), 5)

	select {
	case <-o.ready:
		t.Fatal("spurious ready signal after drain")
	default:
	}
}

func TestOutboxDiscardMediaKeepsLossless(t *testing.T) {
	o := newOutbox(8, func(f frame.Frame) {
		t.Fatalf("discard must not report drops, got %v", f)
	})
	o.PushMedia(videoFrame(0))
	o.PushLossless(frame.Text("still pending"))
	o.PushMedia(videoFrame(1))
	o.PushLossless(frame.Text("also pending"))

	o.DiscardMedia()
	require.Zero(t, o.PendingMedia())
	require.Equal(t, 2, o.PendingLossless())

	got := drainOutbox(o)
	require.Len(t, got, 2)
	require.Equal(t, "still pending", got[0].Content)
	require.Equal(t, "also pending", got[1].Content)
}

func TestOutboxOfferDropsAtLosslessCap(t *testing.T) {
	o := newOutbox(8, nil)
	for i := 0; i < losslessLimit; i++ {
		o.PushLossless(frame.Text("queued"))
	}
	o.OfferLossless(frame.Control(frame.ControlKeepalive))
	require.Equal(t, losslessLimit, o.PendingLossless())

	// Blocking sends still get through past the cap.
	o.PushLossless(frame.Text("must arrive"))
	require.Equal(t, losslessLimit+1, o.PendingLossless())
}

func TestOutboxConcurrentProducers(t *testing.T) {
	o := newOutbox(64, nil)
	done := make(chan struct{})
	for p := 0; p < 4; p++ {
		go func(p int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 16; i++ {
				o.PushMedia(frame.Frame{Kind: frame.KindAudio, Payload: fmt.Appendf(nil, "%d-%d", p, i)})
			}
		}(p)
	}
	for p := 0; p < 4; p++ {
		<-done
	}
	require.Equal(t, 64, o.PendingMedia())
}

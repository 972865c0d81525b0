package relay

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/omnara-ai/omnara/internal/frame"
)

type fakeUpstream struct {
	mu     sync.Mutex
	frames []frame.Frame
	closed bool
}

func (f *fakeUpstream) WriteFrame(t frame.Type, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := make([]byte, len(payload))
	copy(p, payload)
	f.frames = append(f.frames, frame.Frame{Type: t, Payload: p})
	return nil
}

func (f *fakeUpstream) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeUpstream) sent() []frame.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]frame.Frame(nil), f.frames...)
}

func (f *fakeUpstream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func historyTotal(s *Session) int {
	total := 0
	for _, c := range s.History() {
		total += len(c)
	}
	return total
}

func TestAppendOutputTrimsHistory(t *testing.T) {
	s := newSession("o", "s1", "h", 100)

	for i := 0; i < 20; i++ {
		s.AppendOutput(bytes.Repeat([]byte{byte('a' + i%26)}, 10))
		if got := historyTotal(s); got > 100 {
			t.Fatalf("history total %d exceeds limit after append %d", got, i)
		}
	}
	if got := historyTotal(s); got != 100 {
		t.Errorf("history total = %d, want 100", got)
	}

	// Oldest chunks were dropped: the first remaining chunk is not 'a's.
	hist := s.History()
	if bytes.Equal(hist[0], bytes.Repeat([]byte{'a'}, 10)) {
		t.Error("oldest chunk was not trimmed")
	}
}

func TestAppendOutputOversizedChunk(t *testing.T) {
	s := newSession("o", "s1", "h", 100)
	s.AppendOutput([]byte("small"))

	big := bytes.Repeat([]byte{'x'}, 500)
	s.AppendOutput(big)

	hist := s.History()
	if len(hist) != 1 {
		t.Fatalf("history has %d chunks, want 1", len(hist))
	}
	if !bytes.Equal(hist[0], big) {
		t.Error("surviving chunk is not the oversized one")
	}
}

func TestAppendOutputEmptyIsNoop(t *testing.T) {
	s := newSession("o", "s1", "h", 100)
	s.AppendOutput(nil)
	s.AppendOutput([]byte{})
	if len(s.History()) != 0 {
		t.Error("empty append stored a chunk")
	}
}

func TestAppendOutputCopiesChunk(t *testing.T) {
	s := newSession("o", "s1", "h", 100)
	data := []byte("original")
	s.AppendOutput(data)
	data[0] = 'X'
	if !bytes.Equal(s.History()[0], []byte("original")) {
		t.Error("history chunk aliases caller buffer")
	}
}

func TestEndIdempotent(t *testing.T) {
	s := newSession("o", "s1", "h", 100)
	up := &fakeUpstream{}
	s.AttachUpstream(up)

	s.End()
	if s.Active() {
		t.Error("active after End")
	}
	info := s.Info()
	if info.EndedAt == nil {
		t.Error("EndedAt not stamped")
	}
	if !up.isClosed() {
		t.Error("upstream not closed on End")
	}

	first := *info.EndedAt
	time.Sleep(10 * time.Millisecond)
	s.End()
	if got := *s.Info().EndedAt; got != first {
		t.Errorf("second End moved EndedAt: %s → %s", first, got)
	}
}

func TestAppendAfterEndAccepted(t *testing.T) {
	s := newSession("o", "s1", "h", 100)
	s.End()
	s.AppendOutput([]byte("late flush"))
	if len(s.History()) != 1 {
		t.Error("late append not stored")
	}
	if s.Active() {
		t.Error("late append revived the session")
	}
}

func TestResurrectPreservesHistory(t *testing.T) {
	s := newSession("o", "s1", "h1", 100)
	s.AppendOutput([]byte("before"))
	stale := &fakeUpstream{}
	s.AttachUpstream(stale)
	s.End()

	s.resurrect("h2")
	if !s.Active() {
		t.Error("not active after resurrect")
	}
	if s.Info().EndedAt != nil {
		t.Error("EndedAt not cleared")
	}
	if len(s.History()) != 1 {
		t.Error("history not preserved")
	}
	if !s.matchesHash("h2") || s.matchesHash("h1") {
		t.Error("api key hash not overwritten")
	}
}

func TestAttachUpstreamReplacesPrior(t *testing.T) {
	s := newSession("o", "s1", "h", 100)
	first := &fakeUpstream{}
	second := &fakeUpstream{}

	s.AttachUpstream(first)
	s.AttachUpstream(second)
	if !first.isClosed() {
		t.Error("prior upstream not closed on replace")
	}

	// Detach of the stale handle must not drop the replacement.
	s.DetachUpstream(first)
	s.ForwardInput([]byte("x"))
	if len(second.sent()) != 1 {
		t.Error("replacement upstream lost after stale detach")
	}
}

func TestForwardInputNoUpstream(t *testing.T) {
	s := newSession("o", "s1", "h", 100)
	s.ForwardInput([]byte("typing into the void")) // must not panic
}

func TestForwardInput(t *testing.T) {
	s := newSession("o", "s1", "h", 100)
	up := &fakeUpstream{}
	s.AttachUpstream(up)

	s.ForwardInput([]byte("ls\n"))
	sent := up.sent()
	if len(sent) != 1 || sent[0].Type != frame.Input || !bytes.Equal(sent[0].Payload, []byte("ls\n")) {
		t.Errorf("sent = %+v", sent)
	}
}

func TestRequestResize(t *testing.T) {
	s := newSession("o", "s1", "h", 100)
	up := &fakeUpstream{}
	s.AttachUpstream(up)

	// Same as current size: no frame.
	s.RequestResize(defaultCols, defaultRows)
	if len(up.sent()) != 0 {
		t.Fatal("no-op resize sent a frame")
	}

	// Zero values fall back to current: still a no-op.
	s.RequestResize(0, 0)
	s.RequestResize(defaultCols, 0)
	if len(up.sent()) != 0 {
		t.Fatal("zero-value resize sent a frame")
	}

	s.RequestResize(120, 30)
	sent := up.sent()
	if len(sent) != 1 || sent[0].Type != frame.Resize {
		t.Fatalf("sent = %+v", sent)
	}
	rows, cols, err := frame.ParseResize(sent[0].Payload)
	if err != nil || rows != 30 || cols != 120 {
		t.Errorf("resize payload rows=%d cols=%d err=%v", rows, cols, err)
	}
	if c, r := s.Size(); c != 120 || r != 30 {
		t.Errorf("recorded size = %dx%d, want 120x30", c, r)
	}

	// Partial request reuses the current value for the missing axis.
	s.RequestResize(0, 40)
	if c, r := s.Size(); c != 120 || r != 40 {
		t.Errorf("recorded size = %dx%d, want 120x40", c, r)
	}
}

func TestJoinSeedsResizeThenHistoryThenLive(t *testing.T) {
	s := newSession("o", "s1", "h", 1<<20)
	s.UpdateSize(120, 30)
	s.AppendOutput([]byte("first"))
	s.AppendOutput([]byte("second"))

	v := newViewer(nil)
	s.Join(v)
	s.AppendOutput([]byte("live"))

	batch := v.take()
	if len(batch) != 4 {
		t.Fatalf("queued %d messages, want 4", len(batch))
	}
	if !batch[0].text || !bytes.Contains(batch[0].data, []byte(`"resize"`)) {
		t.Errorf("message 0 = %q, want resize JSON", batch[0].data)
	}
	wantPayloads := [][]byte{[]byte("first"), []byte("second"), []byte("live")}
	for i, want := range wantPayloads {
		m := batch[i+1]
		if m.text {
			t.Fatalf("message %d is text", i+1)
		}
		var sc frame.Scanner
		sc.Feed(m.data)
		f, ok, err := sc.Next()
		if err != nil || !ok || f.Type != frame.Output || !bytes.Equal(f.Payload, want) {
			t.Errorf("message %d = %v %q, want OUTPUT %q", i+1, f.Type, f.Payload, want)
		}
	}
}

func TestUpdateSizeBroadcasts(t *testing.T) {
	s := newSession("o", "s1", "h", 100)
	v := newViewer(nil)
	s.Join(v)
	v.take() // discard join seed

	s.UpdateSize(132, 43)
	batch := v.take()
	if len(batch) != 1 || !batch[0].text {
		t.Fatalf("batch = %+v", batch)
	}
	if !bytes.Contains(batch[0].data, []byte(`"cols":132`)) || !bytes.Contains(batch[0].data, []byte(`"rows":43`)) {
		t.Errorf("resize event = %s", batch[0].data)
	}
}

func TestEndBroadcastsSessionEnded(t *testing.T) {
	s := newSession("o", "s1", "h", 100)
	v := newViewer(nil)
	s.Join(v)
	v.take()

	s.End()
	batch := v.take()
	if len(batch) != 1 || !bytes.Contains(batch[0].data, []byte(`"session_ended"`)) {
		t.Fatalf("batch = %+v", batch)
	}
}

func TestSlowViewerDroppedOthersUnaffected(t *testing.T) {
	s := newSession("o", "s1", "h", 1<<30)
	healthy := newViewer(nil)
	slow := newViewer(nil)
	s.Join(healthy)
	s.Join(slow)
	healthy.take()
	slow.take()

	// Saturate the slow viewer's queue bound; the healthy viewer drains.
	chunk := bytes.Repeat([]byte{'x'}, 10*1024)
	for i := 0; i < 1000; i++ {
		s.AppendOutput(chunk)
		healthy.take()
	}

	slow.mu.Lock()
	dropped := slow.dropped
	slow.mu.Unlock()
	if !dropped {
		t.Error("slow viewer was not dropped")
	}

	s.mu.Lock()
	_, slowStill := s.viewers[slow]
	_, healthyStill := s.viewers[healthy]
	s.mu.Unlock()
	if slowStill {
		t.Error("dropped viewer still registered")
	}
	if !healthyStill {
		t.Error("healthy viewer was removed")
	}

	// Ingestion kept going the whole time.
	s.AppendOutput([]byte("tail"))
	batch := healthy.take()
	if len(batch) != 1 {
		t.Fatalf("healthy viewer missed the tail: %d messages", len(batch))
	}
}

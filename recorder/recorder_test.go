package recorder

import (
	"path/filepath"
	"testing"
	"time"
)

func openTemp(t *testing.T) *Recorder {
	t.Helper()
	r, err := New(filepath.Join(t.TempDir(), "frames.db"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecordAndFetch(t *testing.T) {
	r := openTemp(t)

	r.RecordFrame("s1", "out", "Page.navigate", 9101, `{"id":9101,"method":"Page.navigate"}`)
	r.RecordFrame("s1", "in", "Page.navigate", 9101, `{"id":9101,"result":{}}`)
	r.RecordFrame("s2", "out", "session.new", 1, `{"id":1,"method":"session.new"}`)

	frames, err := r.Frames("s1", 10)
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames for s1, got %d", len(frames))
	}
	if frames[0].Direction != "out" || frames[1].Direction != "in" {
		t.Errorf("Expected out then in, got %s then %s", frames[0].Direction, frames[1].Direction)
	}
	if frames[0].CommandID != 9101 {
		t.Errorf("Expected command id 9101, got %d", frames[0].CommandID)
	}

	frames, err = r.Frames("s2", 10)
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}
	if len(frames) != 1 {
		t.Errorf("Expected 1 frame for s2, got %d", len(frames))
	}
}

func TestPrune(t *testing.T) {
	r := openTemp(t)

	for i := 0; i < 10; i++ {
		r.RecordFrame("s1", "out", "Runtime.evaluate", 9400+i, "{}")
	}

	if err := r.Prune(3); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}

	frames, err := r.Frames("s1", 100)
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}
	if len(frames) != 3 {
		t.Errorf("Expected 3 frames after prune, got %d", len(frames))
	}
	if len(frames) > 0 && frames[0].CommandID != 9407 {
		t.Errorf("Expected oldest survivor 9407, got %d", frames[0].CommandID)
	}
}

func TestSubscribe(t *testing.T) {
	r := openTemp(t)

	sub := r.Subscribe()
	defer r.Unsubscribe(sub)

	r.RecordFrame("s1", "in", "Page.frameStoppedLoading", 0, `{"method":"Page.frameStoppedLoading"}`)

	select {
	case f := <-sub:
		if f.Method != "Page.frameStoppedLoading" {
			t.Errorf("Expected event method, got %s", f.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected a published frame")
	}
}

func TestUnsubscribeCloses(t *testing.T) {
	r := openTemp(t)

	sub := r.Subscribe()
	r.Unsubscribe(sub)

	if _, ok := <-sub; ok {
		t.Error("Expected channel closed after unsubscribe")
	}

	// Recording after unsubscribe must not panic on the closed channel.
	r.RecordFrame("s1", "out", "Page.enable", 9100, "{}")
}

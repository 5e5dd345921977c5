package session

import (
	"strconv"
	"sync"
	"testing"
)

func TestTrackerUpdate(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	if got := tr.Current(); got != "" {
		t.Fatalf("expected empty session, got %q", got)
	}

	tr.Update("S1")
	if got := tr.Current(); got != "S1" {
		t.Fatalf("expected S1, got %q", got)
	}

	tr.Update("S2")
	if got := tr.Current(); got != "S2" {
		t.Fatalf("expected S2, got %q", got)
	}
}

func TestTrackerIgnoresEmptyUpdate(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Update("S1")
	tr.Update("")
	if got := tr.Current(); got != "S1" {
		t.Fatalf("empty update must not clear session, got %q", got)
	}
}

func TestTrackerReset(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Update("S1")
	tr.Reset()
	if got := tr.Current(); got != "" {
		t.Fatalf("expected empty session after reset, got %q", got)
	}
}

func TestTranscriptAppendOrder(t *testing.T) {
	t.Parallel()

	tr := NewTranscript()
	tr.Append(OriginUser, "hello")
	tr.Append(OriginAssistant, "hi there")

	entries := tr.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Origin != OriginUser || entries[0].Text != "hello" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[0].Seq >= entries[1].Seq {
		t.Fatalf("sequence numbers must increase: %d then %d", entries[0].Seq, entries[1].Seq)
	}
}

func TestTranscriptSnapshotIsolation(t *testing.T) {
	t.Parallel()

	tr := NewTranscript()
	tr.Append(OriginUser, "hello")
	snap := tr.Entries()
	snap[0].Text = "mutated"
	if tr.Entries()[0].Text != "hello" {
		t.Fatal("snapshot mutation must not affect the transcript")
	}
}

func TestTranscriptConcurrentAppend(t *testing.T) {
	t.Parallel()

	tr := NewTranscript()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Append(OriginUser, strconv.Itoa(n))
			}
		}(i)
	}
	wg.Wait()

	entries := tr.Entries()
	if len(entries) != 1000 {
		t.Fatalf("expected 1000 entries, got %d", len(entries))
	}
	seen := make(map[int64]bool, len(entries))
	for _, e := range entries {
		if seen[e.Seq] {
			t.Fatalf("duplicate sequence number %d", e.Seq)
		}
		seen[e.Seq] = true
	}
}

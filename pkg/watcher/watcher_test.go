package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type recordingIngester struct {
	ingested chan string
}

func (r *recordingIngester) Ingest(path string) error {
	r.ingested <- path
	return nil
}

func TestWatcherIngestsNewFileAfterDebounce(t *testing.T) {
	dir := t.TempDir()
	ing := &recordingIngester{ingested: make(chan string, 4)}

	w, err := New(dir, ing)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	path := filepath.Join(dir, "song.mp3")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-ing.ingested:
		if got != path {
			t.Fatalf("ingested %q, want %q", got, path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for debounced ingest")
	}
}

func TestWatcherSkipsIgnoredAndEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	ing := &recordingIngester{ingested: make(chan string, 4)}

	w, err := New(dir, ing)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(filepath.Join(dir, "song.mp3.tmp"), []byte("partial"), 0644); err != nil {
		t.Fatalf("write ignored: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "empty.bin"), nil, 0644); err != nil {
		t.Fatalf("write empty: %v", err)
	}

	select {
	case got := <-ing.ingested:
		t.Fatalf("did not expect an ingest, got %q", got)
	case <-time.After(1500 * time.Millisecond):
		// Debounce window plus margin elapsed with nothing ingested, as expected.
	}
}

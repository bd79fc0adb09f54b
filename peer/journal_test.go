package peer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestJournalRecordStartThenFinish(t *testing.T) {
	dir := t.TempDir()
	if err := ensureMetadataDir(dir); err != nil {
		t.Fatalf("prep dir: %v", err)
	}
	j, err := OpenJournal(dir)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	defer j.Close()

	j.RecordStart("task-1", "movie.mp4")
	rec, ok := j.get("task-1")
	if !ok || rec.Status != "running" || rec.FileName != "movie.mp4" {
		t.Fatalf("unexpected record after RecordStart: %+v ok=%v", rec, ok)
	}

	j.RecordFinish("task-1", "movie.mp4", "complete", nil)
	rec, ok = j.get("task-1")
	if !ok || rec.Status != "complete" || rec.Error != "" {
		t.Fatalf("unexpected record after RecordFinish: %+v ok=%v", rec, ok)
	}
	if rec.StartedAt.IsZero() {
		t.Fatal("expected StartedAt to be preserved from RecordStart")
	}
}

func TestJournalRecordFinishCarriesError(t *testing.T) {
	dir := t.TempDir()
	if err := ensureMetadataDir(dir); err != nil {
		t.Fatalf("prep dir: %v", err)
	}
	j, err := OpenJournal(dir)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	defer j.Close()

	j.RecordFinish("task-2", "book.pdf", "failed", errors.New("no owner advertises chunk 3"))
	rec, ok := j.get("task-2")
	if !ok || rec.Status != "failed" || rec.Error == "" {
		t.Fatalf("unexpected record: %+v ok=%v", rec, ok)
	}
}

func TestJournalHistoryListsAllTasks(t *testing.T) {
	dir := t.TempDir()
	if err := ensureMetadataDir(dir); err != nil {
		t.Fatalf("prep dir: %v", err)
	}
	j, err := OpenJournal(dir)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	defer j.Close()

	j.RecordStart("task-a", "a.bin")
	j.RecordStart("task-b", "b.bin")

	history := j.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
}

// ensureMetadataDir mirrors what chunkstore.New does to its metadata
// subdirectory, since OpenJournal expects <sharedDir>/metadata to exist.
func ensureMetadataDir(sharedDir string) error {
	return os.MkdirAll(filepath.Join(sharedDir, "metadata"), 0755)
}

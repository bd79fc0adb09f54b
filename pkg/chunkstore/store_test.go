package chunkstore

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestIngestChunksLocallyOwnedFile(t *testing.T) {
	// Ingest is called on a file that already sits in the shared folder
	// (the watcher's normal flow), so the original stays put; Ingest
	// only needs to chunk it and record metadata, not reconstruct it.
	dir := t.TempDir()

	data := make([]byte, ChunkSize*2+100)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := writeTempFile(t, dir, "big.bin", data)

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Ingest(path); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	m, ok := s.Metadata("big.bin")
	if !ok {
		t.Fatal("expected metadata after ingest")
	}
	if m.TotalChunks != 3 {
		t.Fatalf("expected 3 chunks, got %d", m.TotalChunks)
	}
	if !s.IsComplete("big.bin") {
		t.Fatal("expected file complete immediately after ingest")
	}

	for i := uint32(0); i < m.TotalChunks; i++ {
		chunk, ok := s.LoadChunk("big.bin", i)
		if !ok {
			t.Fatalf("missing chunk %d after ingest", i)
		}
		want := data[uint64(i)*ChunkSize : uint64(i)*ChunkSize+ChunkLength(m.FileSize, m.TotalChunks, i)]
		if len(chunk) != len(want) {
			t.Fatalf("chunk %d length mismatch: got %d want %d", i, len(chunk), len(want))
		}
	}

	// The original file, already in the shared folder, must be untouched.
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read original file: %v", err)
	}
	if len(got) != len(data) {
		t.Fatalf("original file size changed: got %d want %d", len(got), len(data))
	}
}

func TestSaveChunkTriggersReconstructOnce(t *testing.T) {
	dir := t.TempDir()
	src := t.TempDir()

	data := make([]byte, ChunkSize+1)
	path := writeTempFile(t, src, "two.bin", data)

	seed, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := seed.Ingest(path); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	m, _ := seed.Metadata("two.bin")

	receiverDir := t.TempDir()
	receiver, err := New(receiverDir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := writeMetadataFile(receiver.metaPath("two.bin"), m); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}
	receiver.mu.Lock()
	receiver.metadata["two.bin"] = m
	receiver.stems[Sanitize("two.bin")] = "two.bin"
	receiver.available["two.bin"] = make(map[uint32]struct{})
	receiver.mu.Unlock()

	for i := uint32(0); i < m.TotalChunks; i++ {
		chunk, ok := seed.LoadChunk("two.bin", i)
		if !ok {
			t.Fatalf("seed missing chunk %d", i)
		}
		if err := receiver.SaveChunk("two.bin", i, chunk); err != nil {
			t.Fatalf("SaveChunk(%d): %v", i, err)
		}
	}

	if !receiver.IsComplete("two.bin") {
		t.Fatal("expected receiver to report complete")
	}
	if _, err := os.Stat(filepath.Join(receiverDir, "two.bin")); err != nil {
		t.Fatalf("expected reconstructed file: %v", err)
	}

	// Re-running Reconstruct once the final file exists must be a no-op success.
	if err := receiver.Reconstruct("two.bin"); err != nil {
		t.Fatalf("idempotent Reconstruct failed: %v", err)
	}
}

func TestChunkLengthBoundary(t *testing.T) {
	// A file whose size is an exact multiple of ChunkSize: the "last"
	// chunk formula would compute 0, which must fall back to ChunkSize.
	fileSize := uint64(ChunkSize * 2)
	total := TotalChunksFor(fileSize)
	if total != 2 {
		t.Fatalf("expected 2 total chunks, got %d", total)
	}
	if got := ChunkLength(fileSize, total, 1); got != ChunkSize {
		t.Fatalf("expected last chunk length %d, got %d", ChunkSize, got)
	}
}

func TestReconstructFailsOnHashMismatch(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m := &FileMetadata{FileName: "bad.bin", FileSize: 10, TotalChunks: 1, FileHash: "0000"}
	s.mu.Lock()
	s.metadata["bad.bin"] = m
	s.stems[Sanitize("bad.bin")] = "bad.bin"
	s.mu.Unlock()
	if err := s.SaveChunk("bad.bin", 0, []byte("0123456789")); err == nil {
		t.Fatal("expected reconstruction to fail on hash mismatch")
	}
	if _, err := os.Stat(filepath.Join(dir, "bad.bin")); err == nil {
		t.Fatal("corrupted file must not be materialized")
	}
	if _, err := os.Stat(filepath.Join(dir, "bad.bin.tmp")); err == nil {
		t.Fatal("tmp file must be cleaned up on failure")
	}
}

func TestIngestRejectsSanitizedCollision(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pathA := writeTempFile(t, dir, "report?.txt", []byte("hello world"))
	if err := s.Ingest(pathA); err != nil {
		t.Fatalf("Ingest first file: %v", err)
	}

	pathB := writeTempFile(t, dir, "report!.txt", []byte("goodbye world, longer content"))
	if err := s.Ingest(pathB); err == nil {
		t.Fatal("expected sanitized-name collision to be rejected")
	}
}

func TestDeleteRemovesChunksAndMetadata(t *testing.T) {
	dir := t.TempDir()
	src := t.TempDir()
	path := writeTempFile(t, src, "gone.bin", []byte("some bytes to chunk and delete"))

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Ingest(path); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := s.Delete("gone.bin"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.HasChunk("gone.bin", 0) {
		t.Fatal("expected chunk availability cleared after delete")
	}
	if _, err := os.Stat(s.metaPath("gone.bin")); !os.IsNotExist(err) {
		t.Fatal("expected metadata file removed")
	}
	if _, err := os.Stat(s.chunkPath("gone.bin", 0)); !os.IsNotExist(err) {
		t.Fatal("expected chunk file removed")
	}
}

func TestNewRebuildsStateFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "restart.bin", make([]byte, ChunkSize+42))

	s1, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s1.Ingest(path); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	s2, err := New(dir)
	if err != nil {
		t.Fatalf("re-open New: %v", err)
	}
	if !s2.IsComplete("restart.bin") {
		t.Fatal("expected rebuilt store to report file complete")
	}
	if len(s2.Available("restart.bin")) != 2 {
		t.Fatalf("expected 2 available chunks after rebuild, got %d", len(s2.Available("restart.bin")))
	}
}

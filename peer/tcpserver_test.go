package peer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/relaymesh/filemesh/pkg/chunkstore"
)

func startTestTCPServer(t *testing.T, store *chunkstore.Store) *TCPServer {
	t.Helper()
	s := NewTCPServer("127.0.0.1:0", "Peer_test", store)
	go s.ListenAndServe()
	for i := 0; i < 100 && s.ln == nil; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if s.ln == nil {
		t.Fatal("server never bound a listener")
	}
	t.Cleanup(s.Stop)
	return s
}

func TestTCPServerGetChunkAndFileInfoRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := chunkstore.New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	content := make([]byte, chunkstore.ChunkSize+1234)
	for i := range content {
		content[i] = byte(i)
	}
	path := filepath.Join(dir, "movie.mp4")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := store.Ingest(path); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	s := startTestTCPServer(t, store)
	addr := s.ln.Addr().String()
	client := NewTCPClient(addr)

	info, err := client.FileInfo("movie.mp4")
	if err != nil {
		t.Fatalf("FileInfo: %v", err)
	}
	if info.Size != uint64(len(content)) || info.TotalChunks != 2 || !info.Complete {
		t.Fatalf("unexpected FileInfo result: %+v", info)
	}

	chunk0, err := client.GetChunk("movie.mp4", 0)
	if err != nil {
		t.Fatalf("GetChunk(0): %v", err)
	}
	if len(chunk0.Data) != chunkstore.ChunkSize {
		t.Fatalf("chunk 0 wrong size: %d", len(chunk0.Data))
	}
	for i, b := range chunk0.Data {
		if b != content[i] {
			t.Fatalf("chunk 0 byte %d mismatch", i)
		}
	}

	chunk1, err := client.GetChunk("movie.mp4", 1)
	if err != nil {
		t.Fatalf("GetChunk(1): %v", err)
	}
	if len(chunk1.Data) != 1234 {
		t.Fatalf("chunk 1 wrong size: %d", len(chunk1.Data))
	}

	if _, err := client.GetChunk("movie.mp4", 5); err == nil {
		t.Fatal("expected error for out-of-range chunk index")
	}

	files, err := client.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 || files[0].FileName != "movie.mp4" {
		t.Fatalf("unexpected ListFiles result: %+v", files)
	}

	ping, err := client.Ping()
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if ping.PeerName != "Peer_test" {
		t.Fatalf("unexpected Ping result: %+v", ping)
	}

	stats, err := client.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.PeerName != "Peer_test" || stats.Files != 1 {
		t.Fatalf("unexpected Stats result: %+v", stats)
	}
}

func TestTCPServerFileNotFound(t *testing.T) {
	dir := t.TempDir()
	store, err := chunkstore.New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s := startTestTCPServer(t, store)
	client := NewTCPClient(s.ln.Addr().String())

	if _, err := client.FileInfo("nope.bin"); err == nil {
		t.Fatal("expected error for unknown file")
	}
	if _, err := client.GetChunk("nope.bin", 0); err == nil {
		t.Fatal("expected error for unknown file")
	}
}

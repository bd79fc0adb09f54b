package peer

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/relaymesh/filemesh/pkg/chunkstore"
	"github.com/relaymesh/filemesh/pkg/protocol"
)

func TestDownloaderFetchesFromSingleSeeder(t *testing.T) {
	seederDir := t.TempDir()
	seederStore, err := chunkstore.New(seederDir)
	if err != nil {
		t.Fatalf("seeder New: %v", err)
	}

	content := make([]byte, chunkstore.ChunkSize+777)
	for i := range content {
		content[i] = byte(i % 251)
	}
	srcPath := filepath.Join(seederDir, "book.pdf")
	if err := os.WriteFile(srcPath, content, 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := seederStore.Ingest(srcPath); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	seederTCP := startTestTCPServer(t, seederStore)
	seederAddr := seederTCP.ln.Addr().String()
	host, port, err := net.SplitHostPort(seederAddr)
	if err != nil {
		t.Fatalf("split seeder addr: %v", err)
	}
	if host == "" || host == "::" {
		host = "127.0.0.1"
	}

	fileSet := protocol.FileChunkSets{"book.pdf": {0: {}, 1: {}}}
	seederRecord := protocol.PeerRecord{
		PeerID: protocol.CanonicalPeerID(host, port),
		Files:  fileSet,
	}

	receiverDir := t.TempDir()
	receiverStore, err := chunkstore.New(receiverDir)
	if err != nil {
		t.Fatalf("receiver New: %v", err)
	}

	tc := &TrackerClient{lastPeers: []protocol.PeerRecord{seederRecord}}
	d := NewDownloader(receiverStore, tc)

	task, err := d.Start("book.pdf")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	var status DownloadStatus
	var taskErr error
	for time.Now().Before(deadline) {
		status, taskErr = task.Status()
		if status == StatusComplete || status == StatusFailed {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if status != StatusComplete {
		t.Fatalf("expected StatusComplete, got %v (err=%v)", status, taskErr)
	}
	if !receiverStore.IsComplete("book.pdf") {
		t.Fatal("expected receiver store to report the file complete")
	}

	got, err := os.ReadFile(filepath.Join(receiverDir, "book.pdf"))
	if err != nil {
		t.Fatalf("read reconstructed file: %v", err)
	}
	if len(got) != len(content) {
		t.Fatalf("reconstructed size mismatch: got %d want %d", len(got), len(content))
	}
	for i := range content {
		if got[i] != content[i] {
			t.Fatalf("reconstructed byte %d mismatch", i)
		}
	}
}

func TestDownloaderFailsWithNoKnownOwner(t *testing.T) {
	receiverDir := t.TempDir()
	receiverStore, err := chunkstore.New(receiverDir)
	if err != nil {
		t.Fatalf("receiver New: %v", err)
	}

	tc := &TrackerClient{}
	d := NewDownloader(receiverStore, tc)

	task, err := d.Start("ghost.iso")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var status DownloadStatus
	for time.Now().Before(deadline) {
		status, _ = task.Status()
		if status == StatusComplete || status == StatusFailed {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if status != StatusFailed {
		t.Fatalf("expected StatusFailed, got %v", status)
	}
}

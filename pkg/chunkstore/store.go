// Package chunkstore implements the peer-side content store: chunked
// on-disk layout, metadata persistence, integrity-checked reconstruction,
// and partial-file rendering, per spec §3/§4.3.
package chunkstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relaymesh/filemesh/pkg/logger"
)

// Store owns the three on-disk directories under the shared folder and
// the in-memory indices mirroring them: metadata and availability sets.
// Every operation in spec §4.3 is a method here; callers (the TCP server,
// the download coordinator, the watcher-driven ingester) never touch the
// filesystem directly, per spec §9.
type Store struct {
	sharedDir string
	chunksDir string
	metaDir   string

	mu        sync.RWMutex
	metadata  map[string]*FileMetadata      // fileName -> metadata
	available map[string]map[uint32]struct{} // fileName -> chunk indices present
	stems     map[string]string             // sanitized stem -> fileName, for collision detection
}

// New creates a Store rooted at sharedDir, lazily creating chunks/ and
// metadata/, then loading existing state from disk: metadata files first,
// then a chunk-directory scan to rebuild availability sets, per spec
// §4.3's "Metadata persistence" paragraph.
func New(sharedDir string) (*Store, error) {
	chunksDir := filepath.Join(sharedDir, "chunks")
	metaDir := filepath.Join(sharedDir, "metadata")
	for _, dir := range []string{sharedDir, chunksDir, metaDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	s := &Store{
		sharedDir: sharedDir,
		chunksDir: chunksDir,
		metaDir:   metaDir,
		metadata:  make(map[string]*FileMetadata),
		available: make(map[string]map[uint32]struct{}),
		stems:     make(map[string]string),
	}

	if err := s.loadMetadata(); err != nil {
		return nil, err
	}
	if err := s.scanChunks(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadMetadata() error {
	entries, err := os.ReadDir(s.metaDir)
	if err != nil {
		return fmt.Errorf("scan metadata dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta") {
			continue
		}
		path := filepath.Join(s.metaDir, entry.Name())
		m, err := readMetadataFile(path)
		if err != nil {
			logger.Sugar.Errorf("[ChunkStore] failed to load metadata %s: %v", path, err)
			continue
		}
		s.metadata[m.FileName] = m
		s.stems[Sanitize(m.FileName)] = m.FileName
		if _, ok := s.available[m.FileName]; !ok {
			s.available[m.FileName] = make(map[uint32]struct{})
		}
	}
	return nil
}

var chunkFileRe = regexp.MustCompile(`^(.*)_(\d+)\.chunks$`)

func (s *Store) scanChunks() error {
	entries, err := os.ReadDir(s.chunksDir)
	if err != nil {
		return fmt.Errorf("scan chunks dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := chunkFileRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		stem, idxStr := m[1], m[2]
		fileName, ok := s.stems[stem]
		if !ok {
			// Chunk file with no matching metadata; orphaned, ignore.
			continue
		}
		idx, err := strconv.ParseUint(idxStr, 10, 32)
		if err != nil {
			continue
		}
		if s.available[fileName] == nil {
			s.available[fileName] = make(map[uint32]struct{})
		}
		s.available[fileName][uint32(idx)] = struct{}{}
	}
	return nil
}

func (s *Store) chunkPath(fileName string, index uint32) string {
	return filepath.Join(s.chunksDir, fmt.Sprintf("%s_%d.chunks", Sanitize(fileName), index))
}

func (s *Store) metaPath(fileName string) string {
	return filepath.Join(s.metaDir, Sanitize(fileName)+".meta")
}

// checkSanitizedCollision enforces the Open Question decision from
// SPEC_FULL.md §5: a new file_name whose sanitized stem collides with a
// different, already-known file_name is rejected outright.
func (s *Store) checkSanitizedCollision(fileName string) error {
	stem := Sanitize(fileName)
	if existing, ok := s.stems[stem]; ok && existing != fileName {
		return fmt.Errorf("sanitized name %q collides with existing file %q", stem, existing)
	}
	return nil
}

// HashFile computes the hex-encoded SHA-256 of r's contents.
func HashFile(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Ingest is called when the watcher reports a regular, non-empty,
// non-ignored file whose size differs from any existing metadata (spec
// §3, §4.3). It chunks the file, hashes it, writes chunk files, persists
// metadata, and marks every chunk available.
func (s *Store) Ingest(path string) error {
	fileName := filepath.Base(path)
	if IsIgnoredName(fileName) {
		return fmt.Errorf("refusing to ingest %s: ignored file name", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() || info.Size() == 0 {
		return fmt.Errorf("refusing to ingest %s: not a non-empty regular file", path)
	}

	s.mu.RLock()
	existing := s.metadata[fileName]
	s.mu.RUnlock()
	if existing != nil && existing.FileSize == uint64(info.Size()) {
		logger.Sugar.Infof("[ChunkStore] skipping ingest of %s: size unchanged (%d bytes)", fileName, info.Size())
		return nil
	}

	s.mu.Lock()
	if err := s.checkSanitizedCollision(fileName); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fileSize := uint64(info.Size())
	totalChunks := TotalChunksFor(fileSize)
	hasher := sha256.New()
	buf := make([]byte, ChunkSize)

	for index := uint32(0); index < totalChunks; index++ {
		want := int(ChunkLength(fileSize, totalChunks, index))
		n, err := io.ReadFull(f, buf[:want])
		if err != nil {
			return fmt.Errorf("read chunk %d of %s: %w", index, fileName, err)
		}
		chunk := buf[:n]
		hasher.Write(chunk)
		if err := os.WriteFile(s.chunkPath(fileName, index), chunk, 0644); err != nil {
			return fmt.Errorf("write chunk %d of %s: %w", index, fileName, err)
		}
	}

	m := &FileMetadata{
		FileName:    fileName,
		FileSize:    fileSize,
		TotalChunks: totalChunks,
		FileHash:    hex.EncodeToString(hasher.Sum(nil)),
		CreatedAt:   time.Now().UnixMilli(),
	}
	if err := writeMetadataFile(s.metaPath(fileName), m); err != nil {
		return fmt.Errorf("persist metadata for %s: %w", fileName, err)
	}

	s.mu.Lock()
	s.metadata[fileName] = m
	s.stems[Sanitize(fileName)] = fileName
	set := make(map[uint32]struct{}, totalChunks)
	for i := uint32(0); i < totalChunks; i++ {
		set[i] = struct{}{}
	}
	s.available[fileName] = set
	s.mu.Unlock()

	logger.Sugar.Infof("[ChunkStore] ingested %s: %d bytes, %d chunks, hash=%s", fileName, fileSize, totalChunks, m.FileHash)
	return nil
}

// SaveChunk writes or overwrites one chunk, adds it to the availability
// set, and triggers reconstruction if the file is now complete. The chunk
// is written to a temporary file and renamed into place, so concurrent
// writes to the same (file, index) are last-writer-wins and a concurrent
// LoadChunk never sees a torn chunk.
func (s *Store) SaveChunk(fileName string, index uint32, data []byte) error {
	tmp, err := os.CreateTemp(s.chunksDir, Sanitize(fileName)+"_*.tmp")
	if err != nil {
		return fmt.Errorf("write chunk %d of %s: %w", index, fileName, err)
	}
	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), s.chunkPath(fileName, index))
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write chunk %d of %s: %w", index, fileName, err)
	}

	s.mu.Lock()
	set, ok := s.available[fileName]
	if !ok {
		set = make(map[uint32]struct{})
		s.available[fileName] = set
	}
	set[index] = struct{}{}
	s.stems[Sanitize(fileName)] = fileName
	meta := s.metadata[fileName]
	complete := meta != nil && uint32(len(set)) >= meta.TotalChunks
	s.mu.Unlock()

	if complete {
		if err := s.Reconstruct(fileName); err != nil {
			logger.Sugar.Errorf("[ChunkStore] reconstruction failed for %s: %v", fileName, err)
			return err
		}
	}
	return nil
}

// LoadChunk reads one chunk from disk, returning ok=false on any I/O
// error (including "does not exist").
func (s *Store) LoadChunk(fileName string, index uint32) ([]byte, bool) {
	data, err := os.ReadFile(s.chunkPath(fileName, index))
	if err != nil {
		return nil, false
	}
	return data, true
}

// HasChunk reports whether chunk `index` of fileName is present.
func (s *Store) HasChunk(fileName string, index uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.available[fileName][index]
	return ok
}

// Available returns the sorted set of chunk indices present for fileName.
func (s *Store) Available(fileName string) []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.available[fileName]
	out := make([]uint32, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AllFiles returns every known file name mapped to its available chunk
// indices, sorted.
func (s *Store) AllFiles() map[string][]uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]uint32, len(s.available))
	for name, set := range s.available {
		indices := make([]uint32, 0, len(set))
		for idx := range set {
			indices = append(indices, idx)
		}
		sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
		out[name] = indices
	}
	return out
}

// Metadata returns the known FileMetadata for fileName, if any.
func (s *Store) Metadata(fileName string) (*FileMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metadata[fileName]
	return m, ok
}

// IsComplete reports whether every chunk of fileName is present.
func (s *Store) IsComplete(fileName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.metadata[fileName]
	if m == nil {
		return false
	}
	return uint32(len(s.available[fileName])) >= m.TotalChunks
}

// Reconstruct writes chunks 0..N-1 into <file>.tmp, hashes it, and if the
// hash matches file_hash atomically renames it into the shared folder as
// <file>. If <file> already exists in the shared folder, Reconstruct is a
// no-op success (spec §4.3, idempotence per spec §8).
func (s *Store) Reconstruct(fileName string) error {
	finalPath := filepath.Join(s.sharedDir, fileName)
	if _, err := os.Stat(finalPath); err == nil {
		return nil
	}

	s.mu.RLock()
	m := s.metadata[fileName]
	s.mu.RUnlock()
	if m == nil {
		return fmt.Errorf("no metadata for %s", fileName)
	}

	tmpPath := finalPath + ".tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmpPath, err)
	}

	hasher := sha256.New()
	writeErr := func() error {
		defer tmp.Close()
		for i := uint32(0); i < m.TotalChunks; i++ {
			data, ok := s.LoadChunk(fileName, i)
			if !ok {
				return fmt.Errorf("missing chunk %d of %s", i, fileName)
			}
			if _, err := tmp.Write(data); err != nil {
				return err
			}
			hasher.Write(data)
		}
		return nil
	}()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("assemble %s: %w", fileName, writeErr)
	}

	gotHash := hex.EncodeToString(hasher.Sum(nil))
	if gotHash != m.FileHash {
		os.Remove(tmpPath)
		return fmt.Errorf("hash mismatch reconstructing %s: expected %s got %s", fileName, m.FileHash, gotHash)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", tmpPath, err)
	}
	logger.Sugar.Infof("[ChunkStore] reconstructed %s (%d bytes)", fileName, m.FileSize)
	return nil
}

// Delete removes every chunk file for fileName plus its metadata file.
func (s *Store) Delete(fileName string) error {
	s.mu.Lock()
	m := s.metadata[fileName]
	delete(s.metadata, fileName)
	delete(s.available, fileName)
	delete(s.stems, Sanitize(fileName))
	s.mu.Unlock()

	if m != nil {
		for i := uint32(0); i < m.TotalChunks; i++ {
			os.Remove(s.chunkPath(fileName, i))
		}
	} else {
		// Best effort: glob for any stragglers matching the sanitized stem.
		matches, _ := filepath.Glob(filepath.Join(s.chunksDir, Sanitize(fileName)+"_*.chunks"))
		for _, match := range matches {
			os.Remove(match)
		}
	}
	if err := os.Remove(s.metaPath(fileName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove metadata for %s: %w", fileName, err)
	}
	return nil
}

// SharedDir returns the root shared directory this store manages.
func (s *Store) SharedDir() string {
	return s.sharedDir
}

// EnsureMetadata records metadata for a file this store is receiving from
// the network but has never seen locally before: the download coordinator
// calls this once it has learned a file's structure from a remote peer,
// so SaveChunk has a TotalChunks to compare against and WritePartial has
// something to report against. It is a no-op if metadata already exists.
func (s *Store) EnsureMetadata(fileName string, fileSize uint64, totalChunks uint32, fileHash string, createdAt int64) error {
	s.mu.Lock()
	if _, exists := s.metadata[fileName]; exists {
		s.mu.Unlock()
		return nil
	}
	if err := s.checkSanitizedCollision(fileName); err != nil {
		s.mu.Unlock()
		return err
	}
	m := &FileMetadata{FileName: fileName, FileSize: fileSize, TotalChunks: totalChunks, FileHash: fileHash, CreatedAt: createdAt}
	s.metadata[fileName] = m
	s.stems[Sanitize(fileName)] = fileName
	if _, ok := s.available[fileName]; !ok {
		s.available[fileName] = make(map[uint32]struct{})
	}
	s.mu.Unlock()
	return writeMetadataFile(s.metaPath(fileName), m)
}

// WritePartial renders a best-effort <file>.partial with missing chunks
// zero-filled, plus a <file>.partial.info sidecar, per spec §4.3.
func (s *Store) WritePartial(fileName string) error {
	s.mu.RLock()
	m := s.metadata[fileName]
	s.mu.RUnlock()
	if m == nil {
		return fmt.Errorf("no metadata for %s", fileName)
	}

	partialPath := filepath.Join(s.sharedDir, fileName+".partial")
	f, err := os.Create(partialPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", partialPath, err)
	}
	defer f.Close()

	var missing []uint32
	available := 0
	for i := uint32(0); i < m.TotalChunks; i++ {
		length := ChunkLength(m.FileSize, m.TotalChunks, i)
		data, ok := s.LoadChunk(fileName, i)
		if ok {
			if _, err := f.Write(data); err != nil {
				return fmt.Errorf("write chunk %d into partial: %w", i, err)
			}
			available++
			continue
		}
		missing = append(missing, i)
		if _, err := f.Write(make([]byte, length)); err != nil {
			return fmt.Errorf("zero-fill chunk %d into partial: %w", i, err)
		}
	}

	return writePartialInfo(partialPath+".info", m, available, missing)
}

func writePartialInfo(path string, m *FileMetadata, available int, missing []uint32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	pct := float64(0)
	if m.TotalChunks > 0 {
		pct = float64(available) / float64(m.TotalChunks) * 100
	}

	fmt.Fprintf(f, "fileSize=%d\n", m.FileSize)
	fmt.Fprintf(f, "totalChunks=%d\n", m.TotalChunks)
	fmt.Fprintf(f, "availableChunks=%d\n", available)
	fmt.Fprintf(f, "percentComplete=%.2f\n", pct)
	fmt.Fprintf(f, "fileHash=%s\n", m.FileHash)
	fmt.Fprint(f, "missingChunks=")
	for i, idx := range missing {
		if i > 0 {
			fmt.Fprint(f, ",")
		}
		fmt.Fprintf(f, "%d", idx)
	}
	fmt.Fprintln(f)
	return nil
}

package chunkstore

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FileMetadata is the peer-side record for one known file, spec §3.
type FileMetadata struct {
	FileName    string
	FileSize    uint64
	TotalChunks uint32
	FileHash    string
	CreatedAt   int64 // ms
}

// ChunkSize is the fixed chunk size mandated by spec §3: 1 MiB.
const ChunkSize = 1 << 20 // 1,048,576 bytes

// TotalChunksFor computes total_chunks = ceil(file_size / ChunkSize).
func TotalChunksFor(fileSize uint64) uint32 {
	if fileSize == 0 {
		return 0
	}
	return uint32((fileSize + ChunkSize - 1) / ChunkSize)
}

// ChunkLength returns the expected byte length of chunk `index` of a file
// with the given size and total chunk count: ChunkSize for every chunk but
// the last, whose length is file_size - ChunkSize*(total-1).
func ChunkLength(fileSize uint64, totalChunks uint32, index uint32) uint64 {
	if index == totalChunks-1 {
		last := fileSize - ChunkSize*uint64(totalChunks-1)
		if last == 0 {
			return ChunkSize
		}
		return last
	}
	return ChunkSize
}

// writeMetadataFile persists a FileMetadata as a key=value text file, spec
// §4.3.
func writeMetadataFile(path string, m *FileMetadata) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "fileName=%s\n", m.FileName)
	fmt.Fprintf(w, "fileSize=%d\n", m.FileSize)
	fmt.Fprintf(w, "totalChunks=%d\n", m.TotalChunks)
	fmt.Fprintf(w, "fileHash=%s\n", m.FileHash)
	fmt.Fprintf(w, "createdAt=%d\n", m.CreatedAt)
	return w.Flush()
}

// readMetadataFile loads a FileMetadata previously written by
// writeMetadataFile.
func readMetadataFile(path string) (*FileMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := &FileMetadata{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "fileName":
			m.FileName = value
		case "fileSize":
			v, err := strconv.ParseUint(value, 10, 64)
			if err == nil {
				m.FileSize = v
			}
		case "totalChunks":
			v, err := strconv.ParseUint(value, 10, 32)
			if err == nil {
				m.TotalChunks = uint32(v)
			}
		case "fileHash":
			m.FileHash = value
		case "createdAt":
			v, err := strconv.ParseInt(value, 10, 64)
			if err == nil {
				m.CreatedAt = v
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if m.FileName == "" {
		return nil, fmt.Errorf("metadata file %s missing fileName", path)
	}
	return m, nil
}

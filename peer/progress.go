package peer

import (
	"sync"
	"time"
)

// ChunkState represents the current state of a chunk download.
type ChunkState int

const (
	ChunkPending ChunkState = iota
	ChunkDownloading
	ChunkCompleted
	ChunkFailed
)

// String returns a string representation of the chunk state.
func (s ChunkState) String() string {
	switch s {
	case ChunkPending:
		return "pending"
	case ChunkDownloading:
		return "downloading"
	case ChunkCompleted:
		return "completed"
	case ChunkFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Icon returns an icon representation of the chunk state.
func (s ChunkState) Icon() string {
	switch s {
	case ChunkPending:
		return "⏳"
	case ChunkDownloading:
		return "↓"
	case ChunkCompleted:
		return "✓"
	case ChunkFailed:
		return "✗"
	default:
		return "?"
	}
}

// ChunkProgress tracks the progress of a single chunk.
type ChunkProgress struct {
	Index      uint32
	State      ChunkState
	PeerAddr   string
	BytesDone  uint64
	BytesTotal uint64
	StartTime  time.Time
	EndTime    time.Time
}

// IsComplete reports whether the chunk finished successfully.
func (cp *ChunkProgress) IsComplete() bool {
	return cp.State == ChunkCompleted
}

// DownloadTracker tracks the progress of a single download task, spec
// §5's "concurrent download coordinator": one file, fetched chunk by
// chunk from whichever peers advertise it.
type DownloadTracker struct {
	mu              sync.RWMutex
	TaskID          string
	FileName        string
	FileSize        uint64
	TotalChunks     uint32
	Chunks          map[uint32]*ChunkProgress // index -> progress
	ActivePeers     map[string]int            // peerAddr -> active chunk count
	StartTime       time.Time
	EndTime         time.Time
	BytesDownloaded uint64

	lastBytes    uint64
	lastTime     time.Time
	currentSpeed float64 // bytes/sec

	failedChunks  uint32
	retryCount    uint32
	completedSize uint64
}

// NewDownloadTracker creates a new download tracker for one task.
func NewDownloadTracker(taskID, fileName string, fileSize uint64, totalChunks uint32) *DownloadTracker {
	return &DownloadTracker{
		TaskID:      taskID,
		FileName:    fileName,
		FileSize:    fileSize,
		TotalChunks: totalChunks,
		Chunks:      make(map[uint32]*ChunkProgress),
		ActivePeers: make(map[string]int),
		StartTime:   time.Now(),
		lastTime:    time.Now(),
	}
}

// InitChunks initializes all chunk states with their sizes.
func (dt *DownloadTracker) InitChunks(chunkSizes map[uint32]uint64) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	for index, size := range chunkSizes {
		dt.Chunks[index] = &ChunkProgress{
			Index:      index,
			State:      ChunkPending,
			BytesTotal: size,
		}
	}
}

// StartChunk marks a chunk as being downloaded.
func (dt *DownloadTracker) StartChunk(index uint32, peerAddr string) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if chunk, exists := dt.Chunks[index]; exists {
		chunk.State = ChunkDownloading
		chunk.PeerAddr = peerAddr
		chunk.StartTime = time.Now()
	}
	dt.ActivePeers[peerAddr]++
}

// CompleteChunk marks a chunk as completed.
func (dt *DownloadTracker) CompleteChunk(index uint32) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	chunk, exists := dt.Chunks[index]
	if !exists {
		return
	}
	wasDownloading := chunk.State == ChunkDownloading
	chunk.State = ChunkCompleted

	remainingBytes := chunk.BytesTotal - chunk.BytesDone
	if remainingBytes > 0 {
		dt.BytesDownloaded += remainingBytes
	}
	chunk.BytesDone = chunk.BytesTotal
	chunk.EndTime = time.Now()
	dt.completedSize += chunk.BytesTotal

	if wasDownloading {
		dt.ActivePeers[chunk.PeerAddr]--
		if dt.ActivePeers[chunk.PeerAddr] <= 0 {
			delete(dt.ActivePeers, chunk.PeerAddr)
		}
	}
}

// FailChunk marks a chunk as failed.
func (dt *DownloadTracker) FailChunk(index uint32) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	chunk, exists := dt.Chunks[index]
	if !exists {
		return
	}
	wasDownloading := chunk.State == ChunkDownloading
	chunk.State = ChunkFailed
	chunk.BytesDone = 0
	chunk.EndTime = time.Now()

	if wasDownloading {
		dt.ActivePeers[chunk.PeerAddr]--
		if dt.ActivePeers[chunk.PeerAddr] <= 0 {
			delete(dt.ActivePeers, chunk.PeerAddr)
		}
	}
	dt.failedChunks++
}

// RetryChunk marks a failed chunk as pending for retry.
func (dt *DownloadTracker) RetryChunk(index uint32) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if chunk, exists := dt.Chunks[index]; exists && chunk.State == ChunkFailed {
		chunk.State = ChunkPending
		dt.BytesDownloaded -= chunk.BytesDone
		chunk.BytesDone = 0
		chunk.StartTime = time.Time{}
		chunk.EndTime = time.Time{}
	}
	dt.retryCount++
}

// UpdateSpeed recalculates the current transfer speed, at most twice a
// second.
func (dt *DownloadTracker) UpdateSpeed() float64 {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(dt.lastTime).Seconds()

	if elapsed >= 0.5 {
		bytesDiff := dt.BytesDownloaded - dt.lastBytes
		if elapsed > 0 {
			dt.currentSpeed = float64(bytesDiff) / elapsed
		}
		dt.lastBytes = dt.BytesDownloaded
		dt.lastTime = now
	}

	return dt.currentSpeed
}

// GetProgress returns completed count, total count, speed (bytes/s),
// active peer count, and failed count.
func (dt *DownloadTracker) GetProgress() (completed, total uint32, speed float64, peerCount int, failed uint32) {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	for _, chunk := range dt.Chunks {
		if chunk.State == ChunkCompleted {
			completed++
		}
	}
	return completed, dt.TotalChunks, dt.currentSpeed, len(dt.ActivePeers), dt.failedChunks
}

// GetETA returns the estimated time remaining.
func (dt *DownloadTracker) GetETA() time.Duration {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	remainingBytes := int64(dt.FileSize - dt.BytesDownloaded)
	if dt.currentSpeed <= 0 || remainingBytes <= 0 {
		return 0
	}
	return time.Duration(remainingBytes/int64(dt.currentSpeed)) * time.Second
}

// GetBytesDownloaded returns the total bytes downloaded so far.
func (dt *DownloadTracker) GetBytesDownloaded() uint64 {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return dt.BytesDownloaded
}

// GetFileSize returns the total file size.
func (dt *DownloadTracker) GetFileSize() uint64 {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return dt.FileSize
}

// IsComplete reports whether every chunk finished successfully.
func (dt *DownloadTracker) IsComplete() bool {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	if len(dt.Chunks) == 0 {
		return false
	}
	for _, chunk := range dt.Chunks {
		if chunk.State != ChunkCompleted {
			return false
		}
	}
	return true
}

// MarkComplete records the download's end time.
func (dt *DownloadTracker) MarkComplete() {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.EndTime = time.Now()
}

// GetElapsedTime returns the elapsed time since the download started.
func (dt *DownloadTracker) GetElapsedTime() time.Duration {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	if !dt.EndTime.IsZero() {
		return dt.EndTime.Sub(dt.StartTime)
	}
	return time.Since(dt.StartTime)
}

// GetPendingChunks returns the indices of chunks not yet started or
// retried after failure.
func (dt *DownloadTracker) GetPendingChunks() []uint32 {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	pending := make([]uint32, 0)
	for index, chunk := range dt.Chunks {
		if chunk.State == ChunkPending {
			pending = append(pending, index)
		}
	}
	return pending
}

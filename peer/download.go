package peer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/filemesh/pkg/chunkstore"
	"github.com/relaymesh/filemesh/pkg/logger"
)

const (
	// fetchersPerTask bounds the number of chunk fetches in flight for a
	// single download, spec §5.
	fetchersPerTask = 3
	// maxConcurrentTasks bounds how many files this peer downloads at
	// once.
	maxConcurrentTasks = 3
	chunkRetries       = 3
	// chunkRetryBackoff is the linear backoff unit for chunk fetch
	// retries, per spec §4.6(3c): attempt * 1s.
	chunkRetryBackoff = 1 * time.Second
	taskDeadline       = 5 * time.Minute
)

// DownloadStatus is the lifecycle state of one DownloadTask.
type DownloadStatus int

const (
	StatusPending DownloadStatus = iota
	StatusRunning
	StatusComplete
	StatusFailed
	StatusCanceled
)

func (s DownloadStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// DownloadTask is one file being fetched from the swarm.
type DownloadTask struct {
	ID       string
	FileName string
	Tracker  *DownloadTracker

	mu     sync.Mutex
	status DownloadStatus
	err    error
	cancel chan struct{}
}

// Status returns the task's current lifecycle state and, if failed, its
// error.
func (t *DownloadTask) Status() (DownloadStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.err
}

func (t *DownloadTask) setStatus(s DownloadStatus, err error) {
	t.mu.Lock()
	t.status = s
	t.err = err
	t.mu.Unlock()
}

// Cancel requests cooperative cancellation of the task.
func (t *DownloadTask) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusRunning || t.status == StatusPending {
		select {
		case <-t.cancel:
		default:
			close(t.cancel)
		}
	}
}

// Downloader coordinates concurrent multi-peer downloads into a
// chunkstore.Store, per spec §5.
type Downloader struct {
	store   *chunkstore.Store
	tracker *TrackerClient
	journal *Journal

	mu    sync.Mutex
	tasks map[string]*DownloadTask
	sem   chan struct{}
}

// NewDownloader creates a coordinator writing into store and discovering
// peers through tracker.
func NewDownloader(store *chunkstore.Store, tracker *TrackerClient) *Downloader {
	return &Downloader{
		store:   store,
		tracker: tracker,
		tasks:   make(map[string]*DownloadTask),
		sem:     make(chan struct{}, maxConcurrentTasks),
	}
}

// SetJournal attaches a Journal for recording task lifecycle history.
// Optional: a nil journal simply means history isn't persisted.
func (d *Downloader) SetJournal(j *Journal) {
	d.journal = j
}

// Tasks returns a snapshot of every known task.
func (d *Downloader) Tasks() []*DownloadTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*DownloadTask, 0, len(d.tasks))
	for _, t := range d.tasks {
		out = append(out, t)
	}
	return out
}

// Start begins downloading fileName in the background and returns its
// task immediately; callers poll Status or read Tracker for progress.
func (d *Downloader) Start(fileName string) (*DownloadTask, error) {
	task := &DownloadTask{
		ID:       uuid.NewString(),
		FileName: fileName,
		status:   StatusPending,
		cancel:   make(chan struct{}),
	}

	d.mu.Lock()
	d.tasks[task.ID] = task
	d.mu.Unlock()

	go d.run(task)
	return task, nil
}

func (d *Downloader) run(task *DownloadTask) {
	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-task.cancel:
		task.setStatus(StatusCanceled, nil)
		return
	}

	if d.journal != nil {
		d.journal.RecordStart(task.ID, task.FileName)
	}

	task.setStatus(StatusRunning, nil)
	err := d.download(task)
	if err != nil {
		select {
		case <-task.cancel:
			task.setStatus(StatusCanceled, nil)
			if d.journal != nil {
				d.journal.RecordFinish(task.ID, task.FileName, StatusCanceled.String(), nil)
			}
		default:
			task.setStatus(StatusFailed, err)
			logger.Sugar.Errorf("[Downloader] task %s (%s) failed: %v", task.ID, task.FileName, err)
			if d.journal != nil {
				d.journal.RecordFinish(task.ID, task.FileName, StatusFailed.String(), err)
			}
		}
		return
	}
	task.setStatus(StatusComplete, nil)
	logger.Sugar.Infof("[Downloader] task %s (%s) completed", task.ID, task.FileName)
	if d.journal != nil {
		d.journal.RecordFinish(task.ID, task.FileName, StatusComplete.String(), nil)
	}
}

// download discovers which peers own fileName's chunks, computes what's
// still needed, and fetches it with a bounded pool of fetchers, per spec
// §5's coordinator description.
func (d *Downloader) download(task *DownloadTask) error {
	structure, owners, err := d.discoverStructure(task.FileName)
	if err != nil {
		return fmt.Errorf("discover structure of %s: %w", task.FileName, err)
	}
	if err := d.store.EnsureMetadata(task.FileName, structure.FileSize, structure.TotalChunks, structure.FileHash, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("record metadata for %s: %w", task.FileName, err)
	}

	have := d.store.Available(task.FileName)
	haveSet := make(map[uint32]struct{}, len(have))
	for _, idx := range have {
		haveSet[idx] = struct{}{}
	}

	needed := make([]uint32, 0, structure.TotalChunks)
	for i := uint32(0); i < structure.TotalChunks; i++ {
		if _, ok := haveSet[i]; !ok {
			needed = append(needed, i)
		}
	}
	if len(needed) == 0 {
		return d.store.Reconstruct(task.FileName)
	}
	rand.Shuffle(len(needed), func(i, j int) { needed[i], needed[j] = needed[j], needed[i] })

	chunkSizes := make(map[uint32]uint64, structure.TotalChunks)
	for i := uint32(0); i < structure.TotalChunks; i++ {
		chunkSizes[i] = chunkstore.ChunkLength(structure.FileSize, structure.TotalChunks, i)
	}
	task.Tracker = NewDownloadTracker(task.ID, task.FileName, structure.FileSize, structure.TotalChunks)
	task.Tracker.InitChunks(chunkSizes)
	for _, idx := range have {
		task.Tracker.StartChunk(idx, "local")
		task.Tracker.CompleteChunk(idx)
	}

	// ctx bounds the whole fetch pool: every fetcher selects on ctx.Done()
	// so the 5-minute deadline (spec §4.6 step 4 / §5) stops all of them,
	// not just whichever fetcher happens to be polling when the timer
	// fires.
	ctx, cancel := context.WithTimeout(context.Background(), taskDeadline)
	defer cancel()

	jobs := make(chan uint32, len(needed))
	for _, idx := range needed {
		jobs <- idx
	}
	close(jobs)

	var wg sync.WaitGroup
	var failures int32
	for w := 0; w < fetchersPerTask; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-task.cancel:
					return
				case <-ctx.Done():
					return
				case idx, ok := <-jobs:
					if !ok {
						return
					}
					if err := d.fetchChunk(ctx, task, structure, owners, idx); err != nil {
						atomic.AddInt32(&failures, 1)
						logger.Sugar.Errorf("[Downloader] chunk %d of %s permanently failed: %v", idx, task.FileName, err)
					}
				}
			}
		}()
	}
	wg.Wait()

	select {
	case <-task.cancel:
		return fmt.Errorf("canceled")
	default:
	}

	if ctx.Err() != nil {
		logger.Sugar.Warnf("[Downloader] %s hit its %s deadline before every chunk finished", task.FileName, taskDeadline)
		return d.writePartial(task, structure)
	}

	if failures > 0 {
		return d.writePartial(task, structure)
	}

	task.Tracker.MarkComplete()
	return d.store.Reconstruct(task.FileName)
}

// fileStructure is what the coordinator learns about a target file
// before fetching begins: its size, chunk count and hash, from whichever
// peer answers FILE_INFO first.
type fileStructure struct {
	FileSize    uint64
	TotalChunks uint32
	FileHash    string
}

// discoverStructure asks the tracker who has fileName, then asks each
// candidate for FILE_INFO until one answers, also returning the map of
// chunk index -> candidate peer addresses to try.
func (d *Downloader) discoverStructure(fileName string) (*fileStructure, map[uint32][]string, error) {
	peers := d.tracker.KnownPeers()
	owners := make(map[uint32][]string)
	var structure *fileStructure

	for _, p := range peers {
		indices, ok := p.Files[fileName]
		if !ok || len(indices) == 0 {
			continue
		}
		addr := p.PeerID.Addr()
		for idx := range indices {
			owners[idx] = append(owners[idx], addr)
		}
		if structure == nil {
			info, err := NewTCPClient(addr).FileInfo(fileName)
			if err == nil {
				structure = &fileStructure{FileSize: info.Size, TotalChunks: info.TotalChunks, FileHash: info.Hash}
			}
		}
	}
	if structure == nil {
		return nil, nil, fmt.Errorf("no peer advertises %s", fileName)
	}
	return structure, owners, nil
}

// fetchChunk shuffles idx's candidate owners uniformly (spec §4.6's
// "peer selection policy is randomized uniformly from candidates") and
// tries each one in turn, retrying a given candidate up to chunkRetries
// times with linear backoff before moving to the next, per spec
// §4.6(3b-3c).
func (d *Downloader) fetchChunk(ctx context.Context, task *DownloadTask, structure *fileStructure, owners map[uint32][]string, idx uint32) error {
	candidates := append([]string(nil), owners[idx]...)
	if len(candidates) == 0 {
		return fmt.Errorf("no owner advertises chunk %d", idx)
	}
	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

	var lastErr error
	for _, addr := range candidates {
		for attempt := 1; attempt <= chunkRetries; attempt++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			task.Tracker.StartChunk(idx, addr)

			result, err := NewTCPClient(addr).GetChunk(task.FileName, idx)
			if err != nil {
				lastErr = err
				task.Tracker.FailChunk(idx)
				logger.Sugar.Warnf("[Downloader] chunk %d of %s from %s failed (attempt %d/%d): %v", idx, task.FileName, addr, attempt, chunkRetries, err)
				if attempt < chunkRetries {
					time.Sleep(time.Duration(attempt) * chunkRetryBackoff)
				}
				task.Tracker.RetryChunk(idx)
				continue
			}
			if err := d.store.SaveChunk(task.FileName, idx, result.Data); err != nil {
				lastErr = err
				task.Tracker.FailChunk(idx)
				continue
			}
			task.Tracker.CompleteChunk(idx)
			return nil
		}
	}
	return fmt.Errorf("exhausted retries for chunk %d across %d candidates: %w", idx, len(candidates), lastErr)
}

// writePartial renders whatever chunks succeeded into a best-effort
// <file>.partial plus a sidecar describing what's missing, per spec
// §4.3's partial-file fallback. It always returns an error, so the task
// ends as failed: either the partial write's error or one reporting how
// many chunks were fetched.
func (d *Downloader) writePartial(task *DownloadTask, structure *fileStructure) error {
	have := d.store.Available(task.FileName)
	logger.Sugar.Warnf("[Downloader] %s incomplete: %d/%d chunks fetched, writing partial", task.FileName, len(have), structure.TotalChunks)
	if err := d.store.WritePartial(task.FileName); err != nil {
		return err
	}
	return fmt.Errorf("incomplete: %d/%d chunks fetched, partial file written", len(have), structure.TotalChunks)
}

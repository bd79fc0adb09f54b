// Package watcher watches a peer's shared directory for new or changed
// files and hands each one to the chunk store, per spec §4.3. Grounded on
// the debounced fsnotify loop used elsewhere in the retrieval pack for
// directory synchronization.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/relaymesh/filemesh/pkg/chunkstore"
	"github.com/relaymesh/filemesh/pkg/logger"
)

// debounceInterval absorbs the burst of Create+Write events most editors
// and copy tools emit while a file is still being written, before the
// content is stable enough to hash.
const debounceInterval = 500 * time.Millisecond

// Ingester is the subset of *chunkstore.Store the watcher depends on.
type Ingester interface {
	Ingest(path string) error
}

// Watcher monitors a single flat directory (the peer's shared folder) and
// calls Ingest on every file that stabilizes there.
type Watcher struct {
	root     string
	fsw      *fsnotify.Watcher
	store    Ingester
	debounce time.Duration
}

// New creates a Watcher rooted at dir, backed by store.
func New(dir string, store Ingester) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		root:     dir,
		fsw:      fsw,
		store:    store,
		debounce: debounceInterval,
	}, nil
}

// Run blocks, dispatching debounced ingests until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	pending := make(map[string]*time.Timer)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Sugar.Errorf("[Watcher] fsnotify error: %v", err)
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if chunkstore.IsIgnoredPath(ev.Name) {
				continue
			}
			path := ev.Name
			if timer, ok := pending[path]; ok {
				timer.Stop()
			}
			pending[path] = time.AfterFunc(w.debounce, func() {
				w.ingest(path)
			})
		}
	}
}

func (w *Watcher) ingest(path string) {
	info, err := os.Stat(path)
	if err != nil {
		// File vanished (rename/delete race) before the debounce fired.
		return
	}
	if info.IsDir() || info.Size() == 0 {
		return
	}
	if err := w.store.Ingest(path); err != nil {
		logger.Sugar.Errorf("[Watcher] ingest %s failed: %v", filepath.Base(path), err)
	}
}

package peer

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/relaymesh/filemesh/pkg/logger"
)

var downloadsBucket = []byte("downloads")

// journalRecord is the persisted view of one download task; History reads
// back every record, including those written before a process restart.
// The shell's `downloads` command does not read the journal: it lists
// only the tasks of the running process. The journal is purely
// supplemental bookkeeping: chunkstore's on-disk metadata and chunk files
// remain the source of truth for what content a peer actually holds.
type journalRecord struct {
	TaskID    string    `json:"taskId"`
	FileName  string    `json:"fileName"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Error     string    `json:"error,omitempty"`
}

// Journal is a small bbolt-backed log of download attempts.
type Journal struct {
	db *bbolt.DB
}

// OpenJournal opens (creating if necessary) the journal database at
// <sharedDir>/metadata/journal.db; the metadata directory must exist.
func OpenJournal(sharedDir string) (*Journal, error) {
	path := filepath.Join(sharedDir, "metadata", "journal.db")
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal db at %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(downloadsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create downloads bucket: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying database file.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RecordStart appends a new in-progress entry for a task.
func (j *Journal) RecordStart(taskID, fileName string) {
	j.put(journalRecord{TaskID: taskID, FileName: fileName, Status: "running", StartedAt: time.Now(), UpdatedAt: time.Now()})
}

// RecordFinish updates a task's terminal state.
func (j *Journal) RecordFinish(taskID, fileName, status string, taskErr error) {
	rec := journalRecord{TaskID: taskID, FileName: fileName, Status: status, UpdatedAt: time.Now()}
	if existing, ok := j.get(taskID); ok {
		rec.StartedAt = existing.StartedAt
	} else {
		rec.StartedAt = rec.UpdatedAt
	}
	if taskErr != nil {
		rec.Error = taskErr.Error()
	}
	j.put(rec)
}

func (j *Journal) put(rec journalRecord) {
	if j == nil || j.db == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		logger.Sugar.Errorf("[Journal] marshal record for %s failed: %v", rec.TaskID, err)
		return
	}
	err = j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(downloadsBucket).Put([]byte(rec.TaskID), data)
	})
	if err != nil {
		logger.Sugar.Errorf("[Journal] write record for %s failed: %v", rec.TaskID, err)
	}
}

func (j *Journal) get(taskID string) (journalRecord, bool) {
	var rec journalRecord
	if j == nil || j.db == nil {
		return rec, false
	}
	found := false
	j.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(downloadsBucket).Get([]byte(taskID))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &rec); err == nil {
			found = true
		}
		return nil
	})
	return rec, found
}

// History returns every recorded download attempt, most recent status
// snapshot per task.
func (j *Journal) History() []journalRecord {
	var out []journalRecord
	if j == nil || j.db == nil {
		return out
	}
	j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(downloadsBucket).ForEach(func(k, v []byte) error {
			var rec journalRecord
			if err := json.Unmarshal(v, &rec); err == nil {
				out = append(out, rec)
			}
			return nil
		})
	})
	return out
}

package tracker

import (
	"sync"
	"time"

	"github.com/relaymesh/filemesh/pkg/protocol"
)

// staleTimeout is the interval after which a peer that has not sent any
// REGISTER/UPDATE/HEARTBEAT is dropped by the sweeper.
const staleTimeout = 120 * time.Second

// sweepInterval is how often the sweeper walks the directory looking for
// stale entries.
const sweepInterval = 60 * time.Second

// entry is one peer's directory record. lastSeen and files are guarded by
// Directory.mu; a per-entry lock is unnecessary at tracker scale and would
// only complicate the sweep.
type entry struct {
	peerID   protocol.PeerID
	lastSeen time.Time
	files    protocol.FileChunkSets
}

// Directory is the tracker's in-memory peer table: the whole of its
// state, spec §4.1. It never touches disk — a fresh tracker starts empty.
type Directory struct {
	mu      sync.RWMutex
	entries map[protocol.PeerID]*entry
}

// NewDirectory creates an empty peer directory.
func NewDirectory() *Directory {
	return &Directory{entries: make(map[protocol.PeerID]*entry)}
}

// Register inserts or replaces a peer's full record: REGISTER always
// resets files to exactly what the client claims, per spec §4.1.
func (d *Directory) Register(id protocol.PeerID, files protocol.FileChunkSets) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[id] = &entry{peerID: id, lastSeen: time.Now(), files: files}
}

// Update replaces a peer's file set with the parsed set, creating the
// record if the peer is unknown (spec §4.1's UPDATE tolerates an UPDATE
// arriving before any REGISTER). An empty files_info clears the peer's
// file set, per spec §8.
func (d *Directory) Update(id protocol.PeerID, files protocol.FileChunkSets) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[id]
	if !ok {
		d.entries[id] = &entry{peerID: id, lastSeen: time.Now(), files: files}
		return
	}
	e.files = files
	e.lastSeen = time.Now()
}

// Heartbeat refreshes a peer's last-seen time without touching its files.
// Per spec §4.1, HEARTBEAT for an unknown peer is a no-op: it does not
// create a record.
func (d *Directory) Heartbeat(id protocol.PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[id]
	if !ok {
		return
	}
	e.lastSeen = time.Now()
}

// Unregister removes a peer immediately, without waiting for the sweeper.
func (d *Directory) Unregister(id protocol.PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, id)
}

// PeersExcluding returns every peer's current record except requester,
// per spec §4.1's "PEERS_LIST never includes the requester" invariant.
func (d *Directory) PeersExcluding(requester protocol.PeerID) []protocol.PeerRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]protocol.PeerRecord, 0, len(d.entries))
	for id, e := range d.entries {
		if id == requester {
			continue
		}
		out = append(out, protocol.PeerRecord{
			PeerID:   e.peerID,
			LastSeen: uint64(e.lastSeen.UnixMilli()),
			Files:    e.files,
		})
	}
	return out
}

// Len reports the number of known peers, for STATS/status surfaces.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Sweep removes every peer whose last-seen time exceeds staleTimeout and
// returns their IDs, for logging by the caller.
func (d *Directory) Sweep(now time.Time) []protocol.PeerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	var dropped []protocol.PeerID
	for id, e := range d.entries {
		if now.Sub(e.lastSeen) > staleTimeout {
			dropped = append(dropped, id)
			delete(d.entries, id)
		}
	}
	return dropped
}

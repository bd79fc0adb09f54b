package monitor

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/relaymesh/filemesh/pkg/logger"
)

// Metrics holds performance metrics for the peer's TCP chunk server;
// TotalRequests is also counted by the tracker.
type Metrics struct {
	// Total bytes transferred out over GET_CHUNK
	TransferBytes int64
	// Number of chunk transfers completed
	TransferCount int64
	// Server start time
	ServerStart time.Time
	// Current transfer start time (last one recorded)
	TransferStart time.Time

	// ActiveConnections is the current number of accepted TCP connections
	// still being served.
	ActiveConnections int64
	// TotalRequests counts every request handled, success or error: TCP
	// request lines on a peer, UDP datagrams on the tracker.
	TotalRequests int64
	// SuccessfulTransfers counts GET_CHUNK requests answered with SUCCESS.
	SuccessfulTransfers int64
}

// Global metrics instance, shared by the chunk server and the STATS handler.
var Global = &Metrics{
	ServerStart: time.Now(),
}

// LogPeriodic logs runtime metrics at the specified interval and never
// returns. Neither the tracker nor the peer command starts it.
func LogPeriodic(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		elapsed := time.Since(Global.ServerStart).Seconds()
		var throughput float64
		if elapsed > 0 {
			throughput = float64(atomic.LoadInt64(&Global.TransferBytes)) / elapsed / 1024 / 1024
		}

		count := atomic.LoadInt64(&Global.TransferCount)

		logger.Sugar.Infof("[Metrics] Goroutines=%d | HeapAlloc=%dMB | HeapSys=%dMB | Throughput=%.2fMB/s | Transfers=%d",
			runtime.NumGoroutine(),
			m.HeapAlloc/1024/1024,
			m.HeapSys/1024/1024,
			throughput,
			count,
		)
	}
}

// StartTransfer records the start of a transfer
func StartTransfer() {
	Global.TransferStart = time.Now()
}

// RecordTransfer records a completed transfer
func RecordTransfer(bytes int64) {
	atomic.AddInt64(&Global.TransferBytes, bytes)
	atomic.AddInt64(&Global.TransferCount, 1)
	atomic.AddInt64(&Global.SuccessfulTransfers, 1)

	duration := time.Since(Global.TransferStart).Seconds()
	var speed float64
	if duration > 0 {
		speed = float64(bytes) / duration / 1024 / 1024
	}

	logger.Sugar.Infof("[Transfer] Size=%dMB | Duration=%.2fs | Speed=%.2fMB/s",
		bytes/1024/1024, duration, speed)
}

// ConnectionOpened marks the start of a served TCP connection.
func ConnectionOpened() {
	atomic.AddInt64(&Global.ActiveConnections, 1)
}

// ConnectionClosed marks the end of a served TCP connection.
func ConnectionClosed() {
	atomic.AddInt64(&Global.ActiveConnections, -1)
}

// RecordRequest counts one handled request, success or error: a TCP
// request line on a peer or a UDP datagram on the tracker.
func RecordRequest() {
	atomic.AddInt64(&Global.TotalRequests, 1)
}

// Snapshot is a point-in-time read of the counters used by STATS.
type Snapshot struct {
	ActiveConnections   uint32
	TotalRequests       uint32
	SuccessfulTransfers uint32
	TransferBytes       uint64
	UptimeMillis        uint64
}

// Snap returns a consistent-enough snapshot of the global counters for the
// STATS TCP command. Individual fields are read atomically; the snapshot as
// a whole is not a transaction, matching the tracker directory's
// full-iteration semantics in spec §5.
func Snap() Snapshot {
	return Snapshot{
		ActiveConnections:   uint32(atomic.LoadInt64(&Global.ActiveConnections)),
		TotalRequests:       uint32(atomic.LoadInt64(&Global.TotalRequests)),
		SuccessfulTransfers: uint32(atomic.LoadInt64(&Global.SuccessfulTransfers)),
		TransferBytes:       uint64(atomic.LoadInt64(&Global.TransferBytes)),
		UptimeMillis:        uint64(time.Since(Global.ServerStart).Milliseconds()),
	}
}

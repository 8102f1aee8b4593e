package bcache

import (
	"fmt"
	"io"
	"sync/atomic"
)

// Stats holds the per-device counters the original implementation reports
// through bcache_print_stats: cache hit/miss counts, read-ahead activity,
// and the transfer/block/error counts for both the read and write paths.
type Stats struct {
	ReadHits           atomic.Uint64 // Read() calls satisfied from a cached buffer
	ReadMisses         atomic.Uint64 // Read() calls that required a transfer
	ReadAheadTransfers atomic.Uint64 // transfers issued by the read-ahead task
	ReadAheadPeeks     atomic.Uint64 // read-ahead buffers that were later hit
	ReadBlocks         atomic.Uint64 // blocks transferred in by misses and read-ahead
	ReadErrors         atomic.Uint64 // failed read transfers
	WriteTransfers     atomic.Uint64 // swapout transfer requests issued
	WriteBlocks        atomic.Uint64 // blocks transferred out by swapout
	WriteErrors        atomic.Uint64 // failed write transfers
}

// NewStats returns a zeroed Stats block.
func NewStats() *Stats {
	return &Stats{}
}

// StatsSnapshot is a point-in-time copy of Stats, safe to read without
// racing further updates.
type StatsSnapshot struct {
	ReadHits           uint64
	ReadMisses         uint64
	ReadAheadTransfers uint64
	ReadAheadPeeks     uint64
	ReadBlocks         uint64
	ReadErrors         uint64
	WriteTransfers     uint64
	WriteBlocks        uint64
	WriteErrors        uint64
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		ReadHits:           s.ReadHits.Load(),
		ReadMisses:         s.ReadMisses.Load(),
		ReadAheadTransfers: s.ReadAheadTransfers.Load(),
		ReadAheadPeeks:     s.ReadAheadPeeks.Load(),
		ReadBlocks:         s.ReadBlocks.Load(),
		ReadErrors:         s.ReadErrors.Load(),
		WriteTransfers:     s.WriteTransfers.Load(),
		WriteBlocks:        s.WriteBlocks.Load(),
		WriteErrors:        s.WriteErrors.Load(),
	}
}

// Reset zeros every counter. Intended for tests and for the
// RESET_DEV_STATS ioctl.
func (s *Stats) Reset() {
	s.ReadHits.Store(0)
	s.ReadMisses.Store(0)
	s.ReadAheadTransfers.Store(0)
	s.ReadAheadPeeks.Store(0)
	s.ReadBlocks.Store(0)
	s.ReadErrors.Store(0)
	s.WriteTransfers.Store(0)
	s.WriteBlocks.Store(0)
	s.WriteErrors.Store(0)
}

// WriteTo renders the counters in the original's print_stats layout, one
// "name: value" pair per line.
func (s *Stats) WriteTo(w io.Writer) (int64, error) {
	snap := s.Snapshot()
	lines := []struct {
		name  string
		value uint64
	}{
		{"read_hits", snap.ReadHits},
		{"read_misses", snap.ReadMisses},
		{"read_ahead_transfers", snap.ReadAheadTransfers},
		{"read_ahead_peeks", snap.ReadAheadPeeks},
		{"read_blocks", snap.ReadBlocks},
		{"read_errors", snap.ReadErrors},
		{"write_transfers", snap.WriteTransfers},
		{"write_blocks", snap.WriteBlocks},
		{"write_errors", snap.WriteErrors},
	}
	var total int64
	for _, l := range lines {
		n, err := fmt.Fprintf(w, "%s: %d\n", l.name, l.value)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// recordReadHit accounts for a Read() satisfied without a transfer.
func (s *Stats) recordReadHit() {
	s.ReadHits.Add(1)
}

// recordReadMiss accounts for a transfer triggered by Read().
func (s *Stats) recordReadMiss(blocks uint64, err error) {
	s.ReadMisses.Add(1)
	s.ReadBlocks.Add(blocks)
	if err != nil {
		s.ReadErrors.Add(1)
	}
}

// recordReadAhead accounts for a transfer issued by the read-ahead task.
func (s *Stats) recordReadAhead(blocks uint64, err error) {
	s.ReadAheadTransfers.Add(1)
	s.ReadBlocks.Add(blocks)
	if err != nil {
		s.ReadErrors.Add(1)
	}
}

// recordReadAheadPeek accounts for a later Read() hitting a buffer the
// read-ahead task had already populated.
func (s *Stats) recordReadAheadPeek() {
	s.ReadAheadPeeks.Add(1)
}

// recordWrite accounts for a swapout transfer covering the given number
// of blocks.
func (s *Stats) recordWrite(blocks uint64, err error) {
	s.WriteTransfers.Add(1)
	s.WriteBlocks.Add(blocks)
	if err != nil {
		s.WriteErrors.Add(1)
	}
}

// Observer allows pluggable metrics collection, independent of the
// built-in Stats implementation. A cache's Config may be given an
// Observer to forward counters into an external system (e.g. Prometheus)
// alongside the in-process Stats.
type Observer interface {
	ObserveReadHit()
	ObserveReadMiss(blocks uint64, err error)
	ObserveReadAhead(blocks uint64, err error)
	ObserveReadAheadPeek()
	ObserveWrite(blocks uint64, err error)
}

// NoOpObserver discards every observation. It is the default Observer
// when a Config does not supply one.
type NoOpObserver struct{}

func (NoOpObserver) ObserveReadHit()                      {}
func (NoOpObserver) ObserveReadMiss(uint64, error)        {}
func (NoOpObserver) ObserveReadAhead(uint64, error)       {}
func (NoOpObserver) ObserveReadAheadPeek()                {}
func (NoOpObserver) ObserveWrite(uint64, error)           {}

// StatsObserver implements Observer on top of a Stats block, letting
// callers install the built-in counters through the same Observer seam
// used by external collectors.
type StatsObserver struct {
	stats *Stats
}

// NewStatsObserver returns an Observer that records into stats.
func NewStatsObserver(stats *Stats) *StatsObserver {
	return &StatsObserver{stats: stats}
}

func (o *StatsObserver) ObserveReadHit() { o.stats.recordReadHit() }

func (o *StatsObserver) ObserveReadMiss(blocks uint64, err error) {
	o.stats.recordReadMiss(blocks, err)
}

func (o *StatsObserver) ObserveReadAhead(blocks uint64, err error) {
	o.stats.recordReadAhead(blocks, err)
}

func (o *StatsObserver) ObserveReadAheadPeek() { o.stats.recordReadAheadPeek() }

func (o *StatsObserver) ObserveWrite(blocks uint64, err error) {
	o.stats.recordWrite(blocks, err)
}

var _ Observer = (*StatsObserver)(nil)
var _ Observer = NoOpObserver{}

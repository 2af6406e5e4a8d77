// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package telemetry periodically samples the aggregate counter slot
// and derives rate metrics from it, the way original_source's
// TelemetryCollector.collect_stats does (src/daemon/src/telemetry.rs),
// ported to the sampler/ticker idiom the teacher uses in
// internal/ebpf/stats/collector.go.
package telemetry

import (
	"context"
	"sync"
	"time"

	"grimm.is/xdpfw/internal/classifier"
)

// minInterval mirrors original_source's 0.1s floor on collect_stats:
// a sample request that arrives before this much time has passed
// since the last sample is a no-op.
const minInterval = 100 * time.Millisecond

// Snapshot is a point-in-time read of the aggregate counters plus the
// rates derived from the previous sample (spec.md §4.3).
type Snapshot struct {
	TotalPackets  uint64
	TotalBytes    uint64
	PacketsPerSec uint64
	Mbps          float64
	LastUpdate    uint64 // epoch seconds
}

// AggregateReader is the one thing the sampler needs from the rest of
// the daemon: a way to read the current aggregate counters.
type AggregateReader interface {
	Aggregate() classifier.AggregateCounters
}

// Sampler periodically reads an AggregateReader and publishes a
// Snapshot, computing packets/sec and Mbps via saturating subtraction
// against the prior sample so a counter reset never produces a
// negative rate.
type Sampler struct {
	reader   AggregateReader
	interval time.Duration
	now      func() time.Time

	mu           sync.RWMutex
	snapshot     Snapshot
	prevPackets  uint64
	prevBytes    uint64
	lastSampleAt time.Time
}

// NewSampler creates a Sampler with the given period (spec.md §4.3
// defaults this to 1s; pass 0 to use that default).
func NewSampler(reader AggregateReader, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sampler{
		reader:   reader,
		interval: interval,
		now:      time.Now,
	}
}

// Run samples on a ticker until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sample()
		}
	}
}

// Sample takes one reading, skipping it if less than minInterval has
// elapsed since the last successful sample.
func (s *Sampler) Sample() {
	now := s.now()

	s.mu.Lock()
	if !s.lastSampleAt.IsZero() && now.Sub(s.lastSampleAt) < minInterval {
		s.mu.Unlock()
		return
	}
	elapsed := s.interval.Seconds()
	if !s.lastSampleAt.IsZero() {
		elapsed = now.Sub(s.lastSampleAt).Seconds()
	}
	s.mu.Unlock()

	agg := s.reader.Aggregate()

	s.mu.Lock()
	defer s.mu.Unlock()

	packetsDiff := saturatingSub(agg.Packets, s.prevPackets)
	bytesDiff := saturatingSub(agg.Bytes, s.prevBytes)

	s.snapshot = Snapshot{
		TotalPackets:  agg.Packets,
		TotalBytes:    agg.Bytes,
		PacketsPerSec: uint64(float64(packetsDiff) / elapsed),
		Mbps:          (float64(bytesDiff) * 8.0 / elapsed) / 1_000_000.0,
		LastUpdate:    uint64(now.Unix()),
	}
	s.prevPackets = agg.Packets
	s.prevBytes = agg.Bytes
	s.lastSampleAt = now
}

// Snapshot returns the most recently published reading.
func (s *Sampler) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

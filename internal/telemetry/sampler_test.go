// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/xdpfw/internal/classifier"
)

type fakeReader struct {
	agg classifier.AggregateCounters
}

func (f *fakeReader) Aggregate() classifier.AggregateCounters { return f.agg }

func TestSamplerFirstSampleUsesConfiguredInterval(t *testing.T) {
	reader := &fakeReader{agg: classifier.AggregateCounters{Packets: 1000, Bytes: 125_000}}
	s := NewSampler(reader, time.Second)

	base := time.Unix(1000, 0)
	s.now = func() time.Time { return base }

	s.Sample()
	snap := s.Snapshot()
	assert.Equal(t, uint64(1000), snap.TotalPackets)
	assert.Equal(t, uint64(1000), snap.PacketsPerSec) // 1000 pkt / 1s interval
	assert.InDelta(t, 1.0, snap.Mbps, 0.001)           // 125000 bytes * 8 / 1e6
}

func TestSamplerZeroDeltaBetweenSamples(t *testing.T) {
	// Scenario 6: two samples with no new traffic report a zero rate,
	// not a stale or negative one.
	reader := &fakeReader{agg: classifier.AggregateCounters{Packets: 500, Bytes: 50_000}}
	s := NewSampler(reader, time.Second)

	t0 := time.Unix(2000, 0)
	s.now = func() time.Time { return t0 }
	s.Sample()

	s.now = func() time.Time { return t0.Add(time.Second) }
	s.Sample()

	snap := s.Snapshot()
	assert.Equal(t, uint64(0), snap.PacketsPerSec)
	assert.Equal(t, 0.0, snap.Mbps)
	assert.Equal(t, uint64(500), snap.TotalPackets)
}

func TestSamplerSkipsWhenBelowMinInterval(t *testing.T) {
	reader := &fakeReader{agg: classifier.AggregateCounters{Packets: 10}}
	s := NewSampler(reader, time.Second)

	t0 := time.Unix(3000, 0)
	s.now = func() time.Time { return t0 }
	s.Sample()
	first := s.Snapshot()

	reader.agg.Packets = 999999
	s.now = func() time.Time { return t0.Add(10 * time.Millisecond) }
	s.Sample()

	second := s.Snapshot()
	assert.Equal(t, first, second, "a sample under minInterval must be a no-op")
}

func TestSamplerHandlesCounterResetWithoutNegativeRate(t *testing.T) {
	reader := &fakeReader{agg: classifier.AggregateCounters{Packets: 10000, Bytes: 1_000_000}}
	s := NewSampler(reader, time.Second)

	t0 := time.Unix(4000, 0)
	s.now = func() time.Time { return t0 }
	s.Sample()

	// Simulate the daemon having been restarted: the aggregate counter
	// starts over from a lower value than the previous sample saw.
	reader.agg = classifier.AggregateCounters{Packets: 5, Bytes: 500}
	s.now = func() time.Time { return t0.Add(time.Second) }
	s.Sample()

	snap := s.Snapshot()
	assert.Equal(t, uint64(0), snap.PacketsPerSec)
	assert.Equal(t, 0.0, snap.Mbps)
}

func TestSamplerDefaultIntervalWhenNonPositive(t *testing.T) {
	s := NewSampler(&fakeReader{}, 0)
	require.Equal(t, time.Second, s.interval)
}

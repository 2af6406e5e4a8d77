// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mapmgr

import (
	"net/netip"
	"sync"

	"github.com/gaissmai/bart"

	"grimm.is/xdpfw/internal/classifier"
)

// SimBackend is an in-memory stand-in for the three kernel maps, used
// by cmd/xdpsim and by tests that don't require a real Linux kernel.
// Longest-prefix-match lookups are delegated to gaissmai/bart's
// Table, the same balanced multibit trie the teacher's go.mod already
// carries as an indirect dependency — a real kernel LPM trie does the
// equivalent lookup in hardware-assisted constant time, which is
// exactly why spec.md keeps the classifier contract separate from any
// particular backend.
type SimBackend struct {
	mu        sync.RWMutex
	filter    map[[classifier.KeySize]byte][]byte
	lpm       bart.Table[[classifier.KeySize]byte] // prefix -> filter_rules key
	redirect  map[uint32][]byte
	statsSlot []byte
}

// NewSimBackend creates an empty simulation backend.
func NewSimBackend() *SimBackend {
	return &SimBackend{
		filter:   make(map[[classifier.KeySize]byte][]byte),
		redirect: make(map[uint32][]byte),
	}
}

// prefixFromKey renders a filter_rules key as the netip.Prefix bart
// indexes on.
func prefixFromKey(key [classifier.KeySize]byte) (netip.Prefix, error) {
	addr, prefixLen, err := classifier.DecodeKey(key[:])
	if err != nil {
		return netip.Prefix{}, err
	}
	octets := [4]byte{byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr)}
	return netip.PrefixFrom(netip.AddrFrom4(octets), int(prefixLen)), nil
}

func (b *SimBackend) FilterUpdate(key [classifier.KeySize]byte, value []byte) error {
	pfx, err := prefixFromKey(key)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	b.filter[key] = cp
	b.lpm.Insert(pfx, key)
	return nil
}

func (b *SimBackend) FilterLookup(key [classifier.KeySize]byte) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.filter[key]
	return v, ok, nil
}

func (b *SimBackend) FilterDelete(key [classifier.KeySize]byte) error {
	pfx, err := prefixFromKey(key)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.filter, key)
	b.lpm.Delete(pfx)
	return nil
}

func (b *SimBackend) FilterLPM(addr uint32) ([]byte, [classifier.KeySize]byte, bool, error) {
	octets := [4]byte{byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr)}
	ip := netip.AddrFrom4(octets)

	b.mu.RLock()
	defer b.mu.RUnlock()

	key, ok := b.lpm.Lookup(ip)
	if !ok {
		return nil, [classifier.KeySize]byte{}, false, nil
	}
	v, ok := b.filter[key]
	if !ok {
		return nil, [classifier.KeySize]byte{}, false, nil
	}
	return v, key, true, nil
}

func (b *SimBackend) RedirectUpdate(ifindex uint32, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	b.redirect[ifindex] = cp
	return nil
}

func (b *SimBackend) RedirectLookup(ifindex uint32) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.redirect[ifindex]
	return v, ok, nil
}

func (b *SimBackend) StatsLookup() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.statsSlot, nil
}

// BumpStats is the simulation-only equivalent of the classifier's
// counter increment (spec.md §4.1 steps 1/8). Real kernel maps are
// updated by the classifier itself; the simulation backend needs an
// explicit hook since there is no real program running. See
// cmd/xdpsim, which calls this after every classifier.Classify result
// whose CountAggregate is set.
func (b *SimBackend) BumpStats(packets, bytesLen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var cur classifier.AggregateCounters
	if b.statsSlot != nil {
		cur = classifier.DecodeAggregateOrZero(b.statsSlot)
	}
	cur.Packets += packets
	cur.Bytes += bytesLen
	enc := classifier.EncodeAggregate(cur)
	b.statsSlot = enc[:]
}

// BumpRuleCounters is the simulation-only equivalent of a classifier
// updating a matched rule's trailing 24 counter bytes in place.
func (b *SimBackend) BumpRuleCounters(key [classifier.KeySize]byte, packets, bytesLen, lastMatched uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.filter[key]
	if !ok || len(v) < classifier.RuleValueSize {
		return
	}
	counters := classifier.DecodeCountersOrZero(v[classifier.RuleValueSize-24:])
	counters.Packets += packets
	counters.Bytes += bytesLen
	counters.LastMatched = lastMatched

	out := make([]byte, classifier.RuleValueSize)
	copy(out, v[:classifier.RuleValueSize-24])
	putCounters(out[classifier.RuleValueSize-24:], counters)
	b.filter[key] = out
}

func putCounters(buf []byte, c classifier.Counters) {
	enc := classifier.EncodeAggregate(classifier.AggregateCounters{Packets: c.Packets, Bytes: c.Bytes})
	copy(buf[0:16], enc[:])
	putUint64(buf[16:24], c.LastMatched)
}

func putUint64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

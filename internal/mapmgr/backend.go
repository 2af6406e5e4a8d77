// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package mapmgr is the sole user-space writer of the classifier's
// three kernel maps (spec.md §4.2). It owns the authoritative rule
// list, translates Rule values into the classifier's byte layout, and
// reads back per-rule and aggregate counters, tolerating torn reads
// from the concurrently-writing classifier.
package mapmgr

import "grimm.is/xdpfw/internal/classifier"

// Backend is the map I/O surface mapmgr.Manager needs. It is
// implemented once against real cilium/ebpf maps (linux_backend.go,
// build-tagged linux) and once as an in-memory simulation
// (sim_backend.go) for tests and cmd/xdpsim — grounded on the
// teacher's internal/ebpf/interfaces.Map split between a real
// and a simulated provider.
type Backend interface {
	// FilterUpdate installs value at the LPM key (prefix_len, addr).
	FilterUpdate(key [classifier.KeySize]byte, value []byte) error
	// FilterLookup reads back the raw value at an exact key. ok is
	// false when the key is absent; err is only set on a genuine I/O
	// failure, never for "not found".
	FilterLookup(key [classifier.KeySize]byte) (value []byte, ok bool, err error)
	// FilterDelete removes the exact key.
	FilterDelete(key [classifier.KeySize]byte) error
	// FilterLPM performs the longest-prefix-match lookup a packet's
	// classify path performs against the source IPv4 address.
	FilterLPM(addr uint32) (value []byte, matchedKey [classifier.KeySize]byte, ok bool, err error)

	// RedirectUpdate is idempotent: re-inserting an ifindex with the
	// same or a different ifname simply overwrites the prior entry.
	RedirectUpdate(ifindex uint32, value []byte) error
	RedirectLookup(ifindex uint32) (value []byte, ok bool, err error)

	// StatsLookup reads the single aggregate counter slot (key 0).
	StatsLookup() (value []byte, err error)
}

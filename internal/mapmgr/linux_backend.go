// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package mapmgr

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"

	"grimm.is/xdpfw/internal/classifier"
)

// LinuxBackend talks to the three real kernel maps via cilium/ebpf.
// Grounded on the teacher's internal/ebpf/loader/map.go and
// internal/ebpf/maps/manager.go, which wrap *ebpf.Map the same way.
type LinuxBackend struct {
	filterRules *ebpf.Map // BPF_MAP_TYPE_LPM_TRIE
	redirectMap *ebpf.Map // BPF_MAP_TYPE_HASH
	statsMap    *ebpf.Map // BPF_MAP_TYPE_ARRAY
}

// NewLinuxBackend wraps the three named maps out of a loaded collection.
func NewLinuxBackend(filterRules, redirectMap, statsMap *ebpf.Map) *LinuxBackend {
	return &LinuxBackend{filterRules: filterRules, redirectMap: redirectMap, statsMap: statsMap}
}

func (b *LinuxBackend) FilterUpdate(key [classifier.KeySize]byte, value []byte) error {
	if err := b.filterRules.Update(key[:], value, ebpf.UpdateAny); err != nil {
		return fmt.Errorf("filter_rules update: %w", err)
	}
	return nil
}

func (b *LinuxBackend) FilterLookup(key [classifier.KeySize]byte) ([]byte, bool, error) {
	value := make([]byte, classifier.RuleValueSize)
	err := b.filterRules.Lookup(key[:], &value)
	if err != nil {
		if isNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("filter_rules lookup: %w", err)
	}
	return value, true, nil
}

func (b *LinuxBackend) FilterDelete(key [classifier.KeySize]byte) error {
	if err := b.filterRules.Delete(key[:]); err != nil {
		if isNotExist(err) {
			return nil
		}
		return fmt.Errorf("filter_rules delete: %w", err)
	}
	return nil
}

// FilterLPM is not used on the real backend: the classifier program
// itself performs the longest-prefix-match lookup in-kernel at line
// rate. User space only ever addresses filter_rules by exact rule
// key (see Add/Delete/List in manager.go).
func (b *LinuxBackend) FilterLPM(addr uint32) ([]byte, [classifier.KeySize]byte, bool, error) {
	return nil, [classifier.KeySize]byte{}, false, fmt.Errorf("mapmgr: FilterLPM unsupported on the real kernel backend")
}

func (b *LinuxBackend) RedirectUpdate(ifindex uint32, value []byte) error {
	key := ifindex
	if err := b.redirectMap.Update(&key, value, ebpf.UpdateAny); err != nil {
		return fmt.Errorf("redirect_map update: %w", err)
	}
	return nil
}

func (b *LinuxBackend) RedirectLookup(ifindex uint32) ([]byte, bool, error) {
	value := make([]byte, classifier.RedirectEntrySize)
	key := ifindex
	err := b.redirectMap.Lookup(&key, &value)
	if err != nil {
		if isNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redirect_map lookup: %w", err)
	}
	return value, true, nil
}

func (b *LinuxBackend) StatsLookup() ([]byte, error) {
	value := make([]byte, 16)
	key := uint32(0)
	if err := b.statsMap.Lookup(&key, &value); err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stats_map lookup: %w", err)
	}
	return value, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, ebpf.ErrKeyNotExist)
}

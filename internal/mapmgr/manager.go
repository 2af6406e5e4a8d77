// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mapmgr

import (
	"fmt"
	"sync"

	xferrors "grimm.is/xdpfw/internal/errors"

	"grimm.is/xdpfw/internal/classifier"
)

// ruleRecord is the manager's authoritative copy of a rule, kept in
// insertion order. The kernel maps hold a derived view, per spec.md
// §4.2's "maintains an in-memory rule list as the authoritative
// source."
type ruleRecord struct {
	rule *classifier.Rule
	key  [classifier.KeySize]byte // (prefix_len=0, addr=0) when SrcCIDR is nil ("any")
}

// Manager is the sole writer of filter_rules, redirect_map, and
// stats_map from user space (spec.md §4.2).
type Manager struct {
	mu      sync.Mutex
	backend Backend

	rules      []*ruleRecord
	labelIndex map[string]int // label -> index into rules

	// limiter backs the software classify path (cmd/xdpsim); the real
	// kernel backend ignores it.
	limiter *classifier.RateLimiter
}

// NewManager creates a Manager bound to a Backend.
func NewManager(backend Backend) *Manager {
	return &Manager{
		backend:    backend,
		labelIndex: make(map[string]int),
		limiter:    classifier.NewRateLimiter(),
	}
}

// AddRuleParams mirrors the AddRule wire request (spec.md §6), already
// parsed into Go types by the control server.
type AddRuleParams struct {
	SrcCIDR         *classifier.CIDR
	DstCIDR         *classifier.CIDR
	SrcPortMin      uint16
	SrcPortMax      uint16
	DstPortMin      uint16
	DstPortMax      uint16
	Protocol        classifier.Protocol
	TCPFlags        uint8
	Action          classifier.Action
	RedirectIfindex uint32
	Priority        uint32
	RateLimit       uint32
	Expire          uint32
	Label           string
	CreationTime    uint64
}

// Add installs a new rule. It fails with KindDuplicateLabel if the
// label already exists, and with KindMapWriteFailed (rolling back any
// partial writes) on map I/O failure.
func (m *Manager) Add(p AddRuleParams) error {
	if p.Label == "" {
		return xferrors.New(xferrors.KindParse, "label must not be empty")
	}
	if p.Action == classifier.ActionRedirect && p.RedirectIfindex == 0 {
		return xferrors.Errorf(xferrors.KindParse, "action=redirect requires a non-zero redirect interface")
	}
	if p.SrcPortMin > p.SrcPortMax || p.DstPortMin > p.DstPortMax {
		return xferrors.Errorf(xferrors.KindParse, "port range min must not exceed max")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.labelIndex[p.Label]; exists {
		return xferrors.Errorf(xferrors.KindDuplicateLabel, "rule label %q already exists", p.Label)
	}

	rule := &classifier.Rule{
		Label:           p.Label,
		SrcCIDR:         p.SrcCIDR,
		DstCIDR:         p.DstCIDR,
		SrcPortMin:      p.SrcPortMin,
		SrcPortMax:      p.SrcPortMax,
		DstPortMin:      p.DstPortMin,
		DstPortMax:      p.DstPortMax,
		Protocol:        p.Protocol,
		TCPFlags:        p.TCPFlags,
		Action:          p.Action,
		RedirectIfindex: p.RedirectIfindex,
		Priority:        p.Priority,
		RateLimit:       p.RateLimit,
		Expire:          p.Expire,
		CreationTime:    p.CreationTime,
	}

	rec := &ruleRecord{rule: rule}

	// An absent src_cidr means "any" (spec.md §3): install it at the
	// same (prefix_len=0, addr=0) key ParseCIDR("0.0.0.0/0") would
	// produce, so the LPM lookup can still return it for every source
	// address. A rule is always installed into filter_rules.
	var srcAddr uint32
	var srcPrefix uint8
	if p.SrcCIDR != nil {
		srcAddr, srcPrefix = p.SrcCIDR.Addr, p.SrcCIDR.Prefix
	}
	rec.key = classifier.EncodeKey(srcAddr, srcPrefix)

	value := classifier.EncodeRuleValue(rule)
	if err := m.backend.FilterUpdate(rec.key, value[:]); err != nil {
		return xferrors.Wrapf(err, xferrors.KindMapWriteFailed, "installing rule %q", p.Label)
	}

	if p.Action == classifier.ActionRedirect && p.RedirectIfindex != 0 {
		entry := classifier.RedirectEntry{Ifindex: p.RedirectIfindex, Ifname: fmt.Sprintf("if%d", p.RedirectIfindex)}
		value := classifier.EncodeRedirectEntry(entry)
		if err := m.backend.RedirectUpdate(p.RedirectIfindex, value[:]); err != nil {
			// Roll back the filter_rules write made above.
			_ = m.backend.FilterDelete(rec.key)
			return xferrors.Wrapf(err, xferrors.KindMapWriteFailed, "installing redirect entry for rule %q", p.Label)
		}
	}

	m.labelIndex[p.Label] = len(m.rules)
	m.rules = append(m.rules, rec)
	return nil
}

// Delete removes the rule with the given label. It does not remove
// any redirect_map entry the rule referenced — other rules may share
// the same ifindex (spec.md §4.2).
func (m *Manager) Delete(label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.labelIndex[label]
	if !ok {
		return xferrors.Errorf(xferrors.KindNotFound, "rule %q not found", label)
	}

	rec := m.rules[idx]
	if err := m.backend.FilterDelete(rec.key); err != nil {
		return xferrors.Wrapf(err, xferrors.KindMapWriteFailed, "deleting rule %q", label)
	}

	m.rules = append(m.rules[:idx], m.rules[idx+1:]...)
	delete(m.labelIndex, label)
	for l, i := range m.labelIndex {
		if i > idx {
			m.labelIndex[l] = i - 1
		}
	}
	m.limiter.Forget(label)
	return nil
}

// RuleSummary is a read-only snapshot of a rule as reported to
// ListRules, with fields pre-formatted the way spec.md §8's example
// scenarios show them (e.g. src_ip="10.0.0.0/8", protocol="tcp").
type RuleSummary struct {
	Label      string
	SrcIP      string // "" when SrcCIDR is nil ("any")
	DstIP      string
	SrcPort    string
	DstPort    string
	Protocol   string
	TCPFlags   string // "" when unset
	Action     string
	RedirectIf string // "" unless action=redirect
	Priority   uint32
	RateLimit  uint32
	Expire     uint32
	Stats      classifier.Counters
}

// List returns rule summaries ordered by insertion. When includeStats
// is true, each summary's counters are read back from the matching
// filter_rules entry; a missing or short read yields zeroed stats,
// never an error (spec.md §4.2, §9).
func (m *Manager) List(includeStats bool) []RuleSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RuleSummary, 0, len(m.rules))
	for _, rec := range m.rules {
		s := summarize(rec.rule)
		if includeStats {
			if value, ok, err := m.backend.FilterLookup(rec.key); err == nil && ok {
				s.Stats = classifier.DecodeCountersOrZero(tail24(value))
			}
		}
		out = append(out, s)
	}
	return out
}

func tail24(value []byte) []byte {
	if len(value) < 24 {
		return nil
	}
	return value[len(value)-24:]
}

func summarize(r *classifier.Rule) RuleSummary {
	s := RuleSummary{
		Label:     r.Label,
		SrcPort:   classifier.FormatPortRange(r.SrcPortMin, r.SrcPortMax),
		DstPort:   classifier.FormatPortRange(r.DstPortMin, r.DstPortMax),
		Protocol:  r.Protocol.String(),
		Action:    r.Action.String(),
		Priority:  r.Priority,
		RateLimit: r.RateLimit,
		Expire:    r.Expire,
	}
	if r.SrcCIDR != nil {
		s.SrcIP = r.SrcCIDR.String()
	}
	if r.DstCIDR != nil {
		s.DstIP = r.DstCIDR.String()
	}
	if r.TCPFlags != 0 {
		s.TCPFlags = classifier.FormatTCPFlags(r.TCPFlags)
	}
	if r.Action == classifier.ActionRedirect && r.RedirectIfindex != 0 {
		s.RedirectIf = fmt.Sprintf("if%d", r.RedirectIfindex)
	}
	return s
}

// Aggregate reads the global (packets, bytes) counter slot. A
// missing/short read yields (0, 0), never an error.
func (m *Manager) Aggregate() classifier.AggregateCounters {
	m.mu.Lock()
	backend := m.backend
	m.mu.Unlock()

	value, err := backend.StatsLookup()
	if err != nil {
		return classifier.AggregateCounters{}
	}
	return classifier.DecodeAggregateOrZero(value)
}

// MatchRuleLookup adapts the manager's authoritative rule list plus
// the backend's LPM storage into classifier.LPMLookupFunc, for use by
// cmd/xdpsim's software classify path. It is the one place CreationTime
// and DstCIDR (not part of the wire rule value) are reattached to a
// matched key.
func (m *Manager) MatchRuleLookup(addr uint32) (*classifier.MatchRule, bool) {
	value, key, ok, err := m.backend.FilterLPM(addr)
	if err != nil || !ok {
		return nil, false
	}

	priority, action, protocol, srcMin, srcMax, dstMin, dstMax, flags,
		redirectIfindex, rateLimit, expire, label, _, decErr := classifier.DecodeRuleValue(value)
	if decErr != nil {
		return nil, false
	}

	m.mu.Lock()
	var dstCIDR *classifier.CIDR
	var creationTime uint64
	if idx, ok := m.labelIndex[label]; ok {
		rec := m.rules[idx]
		if rec.key == key {
			dstCIDR = rec.rule.DstCIDR
			creationTime = rec.rule.CreationTime
		}
	}
	m.mu.Unlock()

	return &classifier.MatchRule{
		Label:           label,
		Priority:        priority,
		Action:          action,
		Protocol:        protocol,
		SrcPortMin:      srcMin,
		SrcPortMax:      srcMax,
		DstPortMin:      dstMin,
		DstPortMax:      dstMax,
		TCPFlags:        flags,
		RedirectIfindex: redirectIfindex,
		RateLimit:       rateLimit,
		Expire:          expire,
		CreationTime:    creationTime,
		DstCIDR:         dstCIDR,
	}, true
}

// RedirectLookup adapts the backend's redirect_map for
// classifier.RedirectLookupFunc.
func (m *Manager) RedirectLookup(ifindex uint32) (classifier.RedirectEntry, bool) {
	value, ok, err := m.backend.RedirectLookup(ifindex)
	if err != nil || !ok {
		return classifier.RedirectEntry{}, false
	}
	entry, err := classifier.DecodeRedirectEntry(value)
	if err != nil {
		return classifier.RedirectEntry{}, false
	}
	return entry, true
}

// RateLimiter exposes the manager's per-rule limiter for the
// simulation classify path.
func (m *Manager) RateLimiter() *classifier.RateLimiter {
	return m.limiter
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mapmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xferrors "grimm.is/xdpfw/internal/errors"

	"grimm.is/xdpfw/internal/classifier"
)

func mustCIDR(t *testing.T, s string) *classifier.CIDR {
	t.Helper()
	c, err := classifier.ParseCIDR(s)
	require.NoError(t, err)
	return &c
}

// Scenario 1: add, list, delete round-trip.
func TestManagerAddListDeleteRoundTrip(t *testing.T) {
	m := NewManager(NewSimBackend())

	err := m.Add(AddRuleParams{
		Label:      "web",
		SrcCIDR:    mustCIDR(t, "10.0.0.0/8"),
		DstPortMin: 80, DstPortMax: 80,
		Protocol: classifier.ProtoTCP,
		Action:   classifier.ActionDrop,
	})
	require.NoError(t, err)

	rules := m.List(false)
	require.Len(t, rules, 1)
	assert.Equal(t, "web", rules[0].Label)
	assert.Equal(t, "10.0.0.0/8", rules[0].SrcIP)
	assert.Equal(t, "drop", rules[0].Action)

	require.NoError(t, m.Delete("web"))
	assert.Empty(t, m.List(false))
}

// Scenario 2: duplicate label is rejected.
func TestManagerAddRejectsDuplicateLabel(t *testing.T) {
	m := NewManager(NewSimBackend())
	params := AddRuleParams{Label: "dup", Action: classifier.ActionPass}

	require.NoError(t, m.Add(params))
	err := m.Add(params)
	require.Error(t, err)
	assert.Equal(t, xferrors.KindDuplicateLabel, xferrors.GetKind(err))
}

// Scenario 4: redirect action requires a non-zero ifindex.
func TestManagerAddRejectsRedirectWithoutIfindex(t *testing.T) {
	m := NewManager(NewSimBackend())
	err := m.Add(AddRuleParams{Label: "redir", Action: classifier.ActionRedirect})
	require.Error(t, err)
	assert.Equal(t, xferrors.KindParse, xferrors.GetKind(err))
}

func TestManagerAddRejectsEmptyLabel(t *testing.T) {
	m := NewManager(NewSimBackend())
	err := m.Add(AddRuleParams{Action: classifier.ActionPass})
	require.Error(t, err)
	assert.Equal(t, xferrors.KindParse, xferrors.GetKind(err))
}

func TestManagerAddRejectsInvertedPortRange(t *testing.T) {
	m := NewManager(NewSimBackend())
	err := m.Add(AddRuleParams{Label: "bad-ports", Action: classifier.ActionPass, SrcPortMin: 100, SrcPortMax: 50})
	require.Error(t, err)
	assert.Equal(t, xferrors.KindParse, xferrors.GetKind(err))
}

func TestManagerDeleteNotFound(t *testing.T) {
	m := NewManager(NewSimBackend())
	err := m.Delete("missing")
	require.Error(t, err)
	assert.Equal(t, xferrors.KindNotFound, xferrors.GetKind(err))
}

func TestManagerDeleteDoesNotTouchRedirectMap(t *testing.T) {
	backend := NewSimBackend()
	m := NewManager(backend)

	require.NoError(t, m.Add(AddRuleParams{
		Label: "r1", SrcCIDR: mustCIDR(t, "10.0.0.0/8"),
		Action: classifier.ActionRedirect, RedirectIfindex: 4,
	}))
	require.NoError(t, m.Delete("r1"))

	_, ok, err := backend.RedirectLookup(4)
	require.NoError(t, err)
	assert.True(t, ok, "redirect_map entry must survive rule deletion")
}

func TestManagerAddRollsBackFilterWriteOnRedirectFailure(t *testing.T) {
	backend := &failingRedirectBackend{SimBackend: NewSimBackend()}
	m := NewManager(backend)

	err := m.Add(AddRuleParams{
		Label: "r1", SrcCIDR: mustCIDR(t, "10.0.0.0/8"),
		Action: classifier.ActionRedirect, RedirectIfindex: 4,
	})
	require.Error(t, err)

	_, ok, lookupErr := backend.FilterLookup(classifier.EncodeKey(mustCIDR(t, "10.0.0.0/8").Addr, 8))
	require.NoError(t, lookupErr)
	assert.False(t, ok, "filter_rules write must be rolled back")
}

type failingRedirectBackend struct {
	*SimBackend
}

func (b *failingRedirectBackend) RedirectUpdate(ifindex uint32, value []byte) error {
	return assertError{}
}

type assertError struct{}

func (assertError) Error() string { return "simulated redirect update failure" }

func TestManagerListIncludesStatsWhenRequested(t *testing.T) {
	backend := NewSimBackend()
	m := NewManager(backend)

	require.NoError(t, m.Add(AddRuleParams{
		Label: "counted", SrcCIDR: mustCIDR(t, "10.0.0.0/8"), Action: classifier.ActionCount,
	}))

	key := classifier.EncodeKey(mustCIDR(t, "10.0.0.0/8").Addr, 8)
	backend.BumpRuleCounters(key, 5, 500, 42)

	rules := m.List(true)
	require.Len(t, rules, 1)
	assert.Equal(t, uint64(5), rules[0].Stats.Packets)
	assert.Equal(t, uint64(500), rules[0].Stats.Bytes)
}

func TestManagerAggregateZeroOnNoTraffic(t *testing.T) {
	m := NewManager(NewSimBackend())
	assert.Zero(t, m.Aggregate())
}

// A rule with no src_ip means "any" (spec.md §3) and must still be
// installed into filter_rules at the (prefix_len=0, addr=0) key so it
// is reachable by the LPM lookup for every source address.
func TestManagerAddWithoutSrcCIDRIsMatchable(t *testing.T) {
	m := NewManager(NewSimBackend())

	require.NoError(t, m.Add(AddRuleParams{
		Label:    "catch-all",
		Action:   classifier.ActionDrop,
		Protocol: classifier.ProtoAny,
	}))

	rules := m.List(false)
	require.Len(t, rules, 1)
	assert.Equal(t, "", rules[0].SrcIP)

	for _, addr := range []string{"10.1.2.3/32", "192.168.0.1/32", "1.1.1.1/32"} {
		rule, ok := m.MatchRuleLookup(mustCIDR(t, addr).Addr)
		require.True(t, ok, "expected %s to match the any-source rule", addr)
		assert.Equal(t, "catch-all", rule.Label)
	}
}

func TestManagerMatchRuleLookupReattachesCreationTimeAndDstCIDR(t *testing.T) {
	backend := NewSimBackend()
	m := NewManager(backend)

	require.NoError(t, m.Add(AddRuleParams{
		Label:        "r1",
		SrcCIDR:      mustCIDR(t, "10.0.0.0/8"),
		DstCIDR:      mustCIDR(t, "8.8.8.8/32"),
		Action:       classifier.ActionPass,
		CreationTime: 12345,
	}))

	addr := mustCIDR(t, "10.1.2.3/32").Addr
	rule, ok := m.MatchRuleLookup(addr)
	require.True(t, ok)
	assert.Equal(t, "r1", rule.Label)
	assert.Equal(t, uint64(12345), rule.CreationTime)
	require.NotNil(t, rule.DstCIDR)
	assert.Equal(t, "8.8.8.8", rule.DstCIDR.String())
}

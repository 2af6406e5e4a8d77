// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRuleValueRoundTrip(t *testing.T) {
	r := &Rule{
		Label:           "web",
		SrcPortMin:      0,
		SrcPortMax:      65535,
		DstPortMin:      80,
		DstPortMax:      80,
		Protocol:        ProtoTCP,
		TCPFlags:        TCPFlagSYN,
		Action:          ActionDrop,
		RedirectIfindex: 0,
		Priority:        10,
		RateLimit:       1000,
		Expire:          0,
	}

	encoded := EncodeRuleValue(r)
	require.Len(t, encoded, RuleValueSize)

	priority, action, protocol, srcMin, srcMax, dstMin, dstMax, flags,
		redirectIfindex, rateLimit, expire, label, counters, err := DecodeRuleValue(encoded[:])
	require.NoError(t, err)

	assert.Equal(t, r.Priority, priority)
	assert.Equal(t, r.Action, action)
	assert.Equal(t, r.Protocol, protocol)
	assert.Equal(t, r.SrcPortMin, srcMin)
	assert.Equal(t, r.SrcPortMax, srcMax)
	assert.Equal(t, r.DstPortMin, dstMin)
	assert.Equal(t, r.DstPortMax, dstMax)
	assert.Equal(t, r.TCPFlags, flags)
	assert.Equal(t, r.RedirectIfindex, redirectIfindex)
	assert.Equal(t, r.RateLimit, rateLimit)
	assert.Equal(t, r.Expire, expire)
	assert.Equal(t, r.Label, label)
	assert.Zero(t, counters)
}

func TestEncodeRuleValueTruncatesLongLabel(t *testing.T) {
	r := &Rule{Label: "this-label-is-definitely-longer-than-31-bytes-total"}
	encoded := EncodeRuleValue(r)

	_, _, _, _, _, _, _, _, _, _, _, label, _, err := DecodeRuleValue(encoded[:])
	require.NoError(t, err)
	assert.LessOrEqual(t, len(label), 31)
	assert.True(t, len(r.Label) > len(label))
}

func TestDecodeRuleValueShortBufferErrors(t *testing.T) {
	_, _, _, _, _, _, _, _, _, _, _, _, _, err := DecodeRuleValue(make([]byte, 10))
	assert.Error(t, err)
}

func TestDecodeCountersOrZeroToleratesShortInput(t *testing.T) {
	assert.Zero(t, DecodeCountersOrZero(nil))
	assert.Zero(t, DecodeCountersOrZero(make([]byte, 5)))
}

func TestDecodeAggregateOrZeroToleratesShortInput(t *testing.T) {
	assert.Zero(t, DecodeAggregateOrZero(nil))
}

func TestEncodeKeyMasksAddressBeyondPrefix(t *testing.T) {
	// 10.1.2.3 masked to /8 must equal 10.0.0.0.
	addr := uint32(10)<<24 | uint32(1)<<16 | uint32(2)<<8 | uint32(3)
	key := EncodeKey(addr, 8)

	wantAddr := uint32(10) << 24
	gotAddr, prefix, err := DecodeKey(key[:])
	require.NoError(t, err)
	assert.Equal(t, uint8(8), prefix)
	assert.Equal(t, wantAddr, gotAddr)
}

func TestEncodeKeyPrefixZeroMasksEverything(t *testing.T) {
	key := EncodeKey(0xFFFFFFFF, 0)
	addr, _, err := DecodeKey(key[:])
	require.NoError(t, err)
	assert.Equal(t, uint32(0), addr)
}

func TestRedirectEntryRoundTrip(t *testing.T) {
	e := RedirectEntry{Ifindex: 4, Ifname: "eth0"}
	encoded := EncodeRedirectEntry(e)
	decoded, err := DecodeRedirectEntry(encoded[:])
	require.NoError(t, err)
	assert.Equal(t, e, decoded)
}

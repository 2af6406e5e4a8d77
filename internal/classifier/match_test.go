// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package classifier

import (
	"net"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTCPFrame(t *testing.T, srcIP, dstIP string, srcPort, dstPort uint16, syn, ack bool) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(srcIP).To4(),
		DstIP:    net.ParseIP(dstIP).To4(),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		SYN:     syn,
		ACK:     ack,
		Window:  1024,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp))
	return buf.Bytes()
}

func ipToUint32(t *testing.T, s string) uint32 {
	t.Helper()
	ip := net.ParseIP(s).To4()
	require.NotNil(t, ip)
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func TestClassifyNonIPv4CountsAggregateButPasses(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeARP,
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth))

	result := Classify(buf.Bytes(), 0, func(uint32) (*MatchRule, bool) { return nil, false }, nil, nil)
	assert.True(t, result.CountAggregate)
	assert.Equal(t, ActionPass, result.Verdict)
}

func TestClassifyNoLPMMatchPasses(t *testing.T) {
	data := buildTCPFrame(t, "192.168.1.1", "10.0.0.1", 1234, 80, true, false)
	result := Classify(data, 0, func(uint32) (*MatchRule, bool) { return nil, false }, nil, nil)
	assert.False(t, result.CountAggregate)
	assert.Equal(t, ActionPass, result.Verdict)
}

func TestClassifyLongestPrefixTieBreak(t *testing.T) {
	// Scenario 3: "wide" covers 10.0.0.0/8, "narrow" covers 10.1.0.0/16.
	// A packet from 10.1.2.3 must only ever be handed "narrow" by the
	// lookup function (the LPM trie itself guarantees this; here we
	// assert Classify surfaces whichever rule the lookup returns).
	narrow := &MatchRule{Label: "narrow", Action: ActionCount, Protocol: ProtoAny, SrcPortMin: 0, SrcPortMax: 65535, DstPortMin: 0, DstPortMax: 65535}
	lpm := func(addr uint32) (*MatchRule, bool) {
		want := ipToUint32(t, "10.1.2.3")
		if addr == want {
			return narrow, true
		}
		return nil, false
	}

	data := buildTCPFrame(t, "10.1.2.3", "8.8.8.8", 1111, 53, false, false)
	result := Classify(data, 0, lpm, nil, NewRateLimiter())
	assert.True(t, result.Matched)
	assert.Equal(t, "narrow", result.RuleLabel)
}

func TestClassifyTCPFlagsSubsetMatch(t *testing.T) {
	// Scenario 5: rule with tcp_flags=SYN matches SYN and SYN+ACK, not ACK-only.
	rule := &MatchRule{
		Label: "syn-rule", Action: ActionDrop, Protocol: ProtoAny, TCPFlags: TCPFlagSYN,
		SrcPortMin: 0, SrcPortMax: 65535, DstPortMin: 0, DstPortMax: 65535,
	}
	lpm := func(uint32) (*MatchRule, bool) { return rule, true }

	synOnly := buildTCPFrame(t, "10.0.0.1", "10.0.0.2", 1000, 2000, true, false)
	result := Classify(synOnly, 0, lpm, nil, NewRateLimiter())
	assert.True(t, result.Matched)

	synAck := buildTCPFrame(t, "10.0.0.1", "10.0.0.2", 1000, 2000, true, true)
	result = Classify(synAck, 0, lpm, nil, NewRateLimiter())
	assert.True(t, result.Matched)

	ackOnly := buildTCPFrame(t, "10.0.0.1", "10.0.0.2", 1000, 2000, false, true)
	result = Classify(ackOnly, 0, lpm, nil, NewRateLimiter())
	assert.False(t, result.Matched)
	assert.Equal(t, ActionPass, result.Verdict)
}

func TestClassifyRedirectFallsBackToDropWithoutEntry(t *testing.T) {
	rule := &MatchRule{
		Label: "redir", Action: ActionRedirect, Protocol: ProtoAny, RedirectIfindex: 4,
		SrcPortMin: 0, SrcPortMax: 65535, DstPortMin: 0, DstPortMax: 65535,
	}
	lpm := func(uint32) (*MatchRule, bool) { return rule, true }
	redirect := func(uint32) (RedirectEntry, bool) { return RedirectEntry{}, false }

	data := buildTCPFrame(t, "10.0.0.1", "10.0.0.2", 1000, 2000, false, false)
	result := Classify(data, 0, lpm, redirect, NewRateLimiter())
	assert.Equal(t, ActionDrop, result.Verdict)
}

func TestClassifyRedirectResolvesIfindex(t *testing.T) {
	rule := &MatchRule{
		Label: "redir", Action: ActionRedirect, Protocol: ProtoAny, RedirectIfindex: 4,
		SrcPortMin: 0, SrcPortMax: 65535, DstPortMin: 0, DstPortMax: 65535,
	}
	lpm := func(uint32) (*MatchRule, bool) { return rule, true }
	redirect := func(ifindex uint32) (RedirectEntry, bool) {
		return RedirectEntry{Ifindex: ifindex, Ifname: "eth4"}, true
	}

	data := buildTCPFrame(t, "10.0.0.1", "10.0.0.2", 1000, 2000, false, false)
	result := Classify(data, 0, lpm, redirect, NewRateLimiter())
	assert.Equal(t, ActionRedirect, result.Verdict)
	assert.Equal(t, uint32(4), result.RedirectIfindex)
}

func TestClassifyExpiredRulePasses(t *testing.T) {
	rule := &MatchRule{
		Label: "expiring", Action: ActionDrop, Protocol: ProtoAny, Expire: 10, CreationTime: 100,
		SrcPortMin: 0, SrcPortMax: 65535, DstPortMin: 0, DstPortMax: 65535,
	}
	lpm := func(uint32) (*MatchRule, bool) { return rule, true }

	data := buildTCPFrame(t, "10.0.0.1", "10.0.0.2", 1000, 2000, false, false)
	result := Classify(data, 111, lpm, nil, NewRateLimiter())
	assert.Equal(t, ActionPass, result.Verdict)
	assert.False(t, result.Matched)
}

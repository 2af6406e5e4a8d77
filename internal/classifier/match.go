// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package classifier

import (
	"encoding/binary"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// Frame holds the packet fields the match algorithm needs, decoded
// once per packet by ParseFrame.
type Frame struct {
	EtherType uint16
	SrcIP     uint32 // host byte order
	DstIP     uint32
	Protocol  Protocol
	SrcPort   uint16
	DstPort   uint16
	TCPFlags  uint8
	Len       int // on-wire frame length, for byte counters
}

// ParseFrame decodes an Ethernet frame per spec.md §4.1 steps 1-2. ok
// is false when the frame should immediately verdict PASS: a non-IPv4
// ethertype (step 1, but note this case still counts toward the
// aggregate — see Classify) or a truncated IPv4 header (step 2, which
// does not count).
//
// nonIPv4 distinguishes the two PASS-without-a-match cases so Classify
// can apply step 1's aggregate-counter bump only when it applies.
func ParseFrame(data []byte) (frame *Frame, ok bool, nonIPv4 bool) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return nil, false, true
	}
	eth := ethLayer.(*layers.Ethernet)
	if eth.EthernetType != layers.EthernetTypeIPv4 {
		return nil, false, true
	}

	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		// Ethertype claimed IPv4 but the header didn't parse — truncated.
		return nil, false, false
	}
	ip := ipLayer.(*layers.IPv4)
	if len(ip.Contents)+len(ip.Payload) < int(ip.IHL)*4 {
		return nil, false, false
	}

	f := &Frame{
		EtherType: uint16(layers.EthernetTypeIPv4),
		SrcIP:     binary.BigEndian.Uint32(ip.SrcIP.To4()),
		DstIP:     binary.BigEndian.Uint32(ip.DstIP.To4()),
		Protocol:  Protocol(ip.Protocol),
		Len:       len(data),
	}

	switch {
	case ip.Protocol == layers.IPProtocolTCP:
		if tcpLayer := pkt.Layer(layers.LayerTypeTCP); tcpLayer != nil {
			tcp := tcpLayer.(*layers.TCP)
			f.SrcPort = uint16(tcp.SrcPort)
			f.DstPort = uint16(tcp.DstPort)
			f.TCPFlags = tcpFlagsOf(tcp)
		}
	case ip.Protocol == layers.IPProtocolUDP:
		if udpLayer := pkt.Layer(layers.LayerTypeUDP); udpLayer != nil {
			udp := udpLayer.(*layers.UDP)
			f.SrcPort = uint16(udp.SrcPort)
			f.DstPort = uint16(udp.DstPort)
		}
	}

	return f, true, false
}

func tcpFlagsOf(tcp *layers.TCP) uint8 {
	var flags uint8
	if tcp.FIN {
		flags |= TCPFlagFIN
	}
	if tcp.SYN {
		flags |= TCPFlagSYN
	}
	if tcp.RST {
		flags |= TCPFlagRST
	}
	if tcp.PSH {
		flags |= TCPFlagPSH
	}
	if tcp.ACK {
		flags |= TCPFlagACK
	}
	if tcp.URG {
		flags |= TCPFlagURG
	}
	return flags
}

// MatchRule is the subset of a Rule the per-packet algorithm needs,
// as returned by an LPM lookup. CreationTime is carried alongside the
// wire-format fields purely as match-time bookkeeping — it is not
// part of the fixed classifier map value layout (spec.md §3), which
// only the map manager's authoritative rule list is required to keep.
type MatchRule struct {
	Label           string
	Priority        uint32
	Action          Action
	Protocol        Protocol
	SrcPortMin      uint16
	SrcPortMax      uint16
	DstPortMin      uint16
	DstPortMax      uint16
	TCPFlags        uint8
	RedirectIfindex uint32
	RateLimit       uint32
	Expire          uint32
	CreationTime    uint64
	DstCIDR         *CIDR // external predicate, see SPEC_FULL.md §9
}

// LPMLookupFunc performs the longest-prefix-match lookup of step 3-4
// against the packet's source IPv4 address.
type LPMLookupFunc func(srcIP uint32) (*MatchRule, bool)

// RedirectLookupFunc resolves an ifindex via redirect_map (step 9).
type RedirectLookupFunc func(ifindex uint32) (RedirectEntry, bool)

// Result is the outcome of classifying one frame.
type Result struct {
	// CountAggregate reports whether the aggregate counter slot
	// should be bumped for this frame: true for non-IPv4 frames
	// (step 1) and for accepted frames (step 8); false for every
	// other PASS path, exactly as spec.md §4.1 specifies.
	CountAggregate bool
	FrameLen       int

	Matched         bool
	RuleLabel       string
	Verdict         Action
	RedirectIfindex uint32 // only meaningful when Verdict == ActionRedirect
}

// Classify runs the deterministic per-packet algorithm of spec.md
// §4.1 against a single frame. now is the current epoch-second clock,
// used for expiry (step 5) and rate limiting (step 7).
func Classify(data []byte, now uint64, lpm LPMLookupFunc, redirect RedirectLookupFunc, limiter *RateLimiter) Result {
	frame, ok, nonIPv4 := ParseFrame(data)
	if !ok {
		// Step 1: non-IPv4 ethertype counts toward the aggregate.
		// Step 2: truncated IPv4 header does not.
		return Result{CountAggregate: nonIPv4, FrameLen: len(data), Verdict: ActionPass}
	}

	// Step 3-4: LPM lookup on source IPv4; no match -> PASS.
	rule, found := lpm(frame.SrcIP)
	if !found {
		return Result{FrameLen: frame.Len, Verdict: ActionPass}
	}

	// Step 5: additional predicates.
	if rule.DstCIDR != nil && maskAddr(frame.DstIP, rule.DstCIDR.Prefix) != rule.DstCIDR.Mask() {
		return Result{FrameLen: frame.Len, Verdict: ActionPass}
	}
	if rule.Protocol != ProtoAny && rule.Protocol != frame.Protocol {
		return Result{FrameLen: frame.Len, Verdict: ActionPass}
	}
	if frame.Protocol == ProtoTCP || frame.Protocol == ProtoUDP {
		if !inRange(frame.DstPort, rule.DstPortMin, rule.DstPortMax) {
			return Result{FrameLen: frame.Len, Verdict: ActionPass}
		}
	}
	if !inRange(frame.SrcPort, rule.SrcPortMin, rule.SrcPortMax) {
		return Result{FrameLen: frame.Len, Verdict: ActionPass}
	}
	if rule.TCPFlags != 0 && (frame.TCPFlags&rule.TCPFlags) != rule.TCPFlags {
		return Result{FrameLen: frame.Len, Verdict: ActionPass}
	}
	if rule.Expire != 0 && now-rule.CreationTime >= uint64(rule.Expire) {
		return Result{FrameLen: frame.Len, Verdict: ActionPass}
	}

	// Step 7: rate limit.
	if limiter != nil && !limiter.Allow(rule.Label, now, rule.RateLimit) {
		return Result{FrameLen: frame.Len, Verdict: ActionPass}
	}

	// Step 8: accept.
	result := Result{
		CountAggregate: true,
		FrameLen:       frame.Len,
		Matched:        true,
		RuleLabel:      rule.Label,
		Verdict:        rule.Action,
	}

	// Step 9: dispatch.
	if rule.Action == ActionRedirect {
		if redirect != nil {
			if entry, ok := redirect(rule.RedirectIfindex); ok {
				result.RedirectIfindex = entry.Ifindex
				return result
			}
		}
		result.Verdict = ActionDrop
	}
	return result
}

func inRange(v, min, max uint16) bool {
	return v >= min && v <= max
}

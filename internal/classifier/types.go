// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package classifier defines the binary contract between user space
// and the XDP classifier: rule keys, rule values, redirect entries,
// the aggregate counter slot, and the per-packet match algorithm the
// classifier is required to perform. It is deliberately free of any
// real kernel or cgo dependency — the map manager (internal/mapmgr)
// and the simulation binary (cmd/xdpsim) are the only consumers of
// the reference match algorithm in match.go.
package classifier

import "net"

// Protocol is the IP protocol number a rule matches on.
type Protocol uint8

const (
	ProtoICMP Protocol = 1
	ProtoTCP  Protocol = 6
	ProtoUDP  Protocol = 17
	ProtoAny  Protocol = 255
)

func (p Protocol) String() string {
	switch p {
	case ProtoICMP:
		return "icmp"
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoAny:
		return "any"
	default:
		return "unknown"
	}
}

// Action is the disposition a matched rule applies.
type Action uint8

const (
	ActionPass     Action = 1
	ActionDrop     Action = 2
	ActionRedirect Action = 3
	ActionCount    Action = 4
)

func (a Action) String() string {
	switch a {
	case ActionPass:
		return "pass"
	case ActionDrop:
		return "drop"
	case ActionRedirect:
		return "redirect"
	case ActionCount:
		return "count"
	default:
		return "unknown"
	}
}

// XDPMode is the attach mode requested for the classifier program,
// carried on the Attach wire request (spec.md §6).
type XDPMode uint8

const (
	XDPModeDriver  XDPMode = 0
	XDPModeGeneric XDPMode = 1
	XDPModeOffload XDPMode = 2
)

func (m XDPMode) String() string {
	switch m {
	case XDPModeDriver:
		return "driver"
	case XDPModeGeneric:
		return "generic"
	case XDPModeOffload:
		return "offload"
	default:
		return "unknown"
	}
}

// TCP flag bits, as they appear on the wire (§6).
const (
	TCPFlagFIN uint8 = 0x01
	TCPFlagSYN uint8 = 0x02
	TCPFlagRST uint8 = 0x04
	TCPFlagPSH uint8 = 0x08
	TCPFlagACK uint8 = 0x10
	TCPFlagURG uint8 = 0x20
)

// RedirectIfindexInspect is a reserved, non-routable ifindex value used
// by rules that want deferred packets teed to the sandbox host instead
// of actually redirected to a NIC (see SPEC_FULL.md §4.4 / §9 — the
// resolution of the "sandbox rate cost" open question). It is never a
// real Linux ifindex (those are small positive integers starting at 1
// for loopback and rarely exceed a few thousand on any real host).
const RedirectIfindexInspect uint32 = 0xFFFFFFFF

// CIDR is an IPv4 address plus prefix length. The address is stored
// host-order (easiest to reason about and mask in Go); wire/map
// encoding converts to the little-endian layout spec.md mandates.
type CIDR struct {
	Addr   uint32 // host byte order
	Prefix uint8  // 0..32
}

// Mask returns addr with bits beyond the CIDR's prefix cleared.
func (c CIDR) Mask() uint32 {
	return maskAddr(c.Addr, c.Prefix)
}

func maskAddr(addr uint32, prefix uint8) uint32 {
	if prefix >= 32 {
		return addr
	}
	if prefix == 0 {
		return 0
	}
	return addr &^ (uint32(0xFFFFFFFF) >> prefix)
}

// String renders the CIDR in a.b.c.d or a.b.c.d/p form, omitting /32.
func (c CIDR) String() string {
	ip := net.IPv4(byte(c.Addr>>24), byte(c.Addr>>16), byte(c.Addr>>8), byte(c.Addr))
	if c.Prefix == 32 {
		return ip.String()
	}
	return ip.String() + "/" + itoa(int(c.Prefix))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [4]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Counters are the three advisory fields the classifier owns and the
// map manager/telemetry sampler read. They are "monotonic-advisory,
// not authoritative for billing" per spec.md §4.2.
type Counters struct {
	Packets     uint64
	Bytes       uint64
	LastMatched uint64 // epoch seconds
}

// Rule is the atomic unit of policy (spec.md §3).
type Rule struct {
	Label           string
	SrcCIDR         *CIDR // nil = any
	DstCIDR         *CIDR // nil = any; matched as an external predicate, see SPEC_FULL.md §9
	SrcPortMin      uint16
	SrcPortMax      uint16
	DstPortMin      uint16
	DstPortMax      uint16
	Protocol        Protocol
	TCPFlags        uint8
	Action          Action
	RedirectIfindex uint32
	Priority        uint32
	RateLimit       uint32 // packets/sec, 0 = unlimited
	Expire          uint32 // seconds from creation, 0 = never
	CreationTime    uint64 // epoch seconds, set on insertion
	Counters        Counters
}

// RedirectEntry is the value type of redirect_map (spec.md §3).
type RedirectEntry struct {
	Ifindex uint32
	Ifname  string // at most 15 bytes + NUL on the wire
}

// AggregateCounters is the value at key 0 of stats_map.
type AggregateCounters struct {
	Packets uint64
	Bytes   uint64
}

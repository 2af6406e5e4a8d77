// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package classifier

import (
	"encoding/binary"
	"fmt"
)

// RuleValueSize is the fixed byte size of an encoded rule value
// (spec.md §3): priority(4) action(1) protocol(1) src_port_min(2)
// src_port_max(2) dst_port_min(2) dst_port_max(2) tcp_flags(1)
// redirect_ifindex(4) rate_limit(4) expire(4) label(32) counters(24).
const RuleValueSize = 4 + 1 + 1 + 2 + 2 + 2 + 2 + 1 + 4 + 4 + 4 + 32 + 24

// LabelFieldSize is the on-wire label field width. spec.md caps labels
// at 31 ASCII bytes plus a trailing NUL, for 32 bytes total.
const LabelFieldSize = 32

// RedirectEntrySize is the fixed byte size of a redirect_map value:
// ifindex(4) + ifname(16).
const RedirectEntrySize = 4 + 16

// KeySize is the fixed byte size of a filter_rules key: prefix_len(4) + addr(4).
const KeySize = 8

// EncodeKey renders the filter_rules LPM key: prefix_len:u32 | addr:u32,
// little-endian, with addr pre-masked to the prefix length (spec.md §3
// invariant: "the implementation must mask them before comparison").
func EncodeKey(addr uint32, prefixLen uint8) [KeySize]byte {
	var buf [KeySize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(prefixLen))
	binary.LittleEndian.PutUint32(buf[4:8], maskAddr(addr, prefixLen))
	return buf
}

// DecodeKey parses a filter_rules key back into (addr, prefixLen).
func DecodeKey(buf []byte) (addr uint32, prefixLen uint8, err error) {
	if len(buf) < KeySize {
		return 0, 0, fmt.Errorf("classifier: short key (%d bytes)", len(buf))
	}
	prefixLen = uint8(binary.LittleEndian.Uint32(buf[0:4]))
	addr = binary.LittleEndian.Uint32(buf[4:8])
	return addr, prefixLen, nil
}

// EncodeRuleValue renders a Rule into the fixed 83-byte classifier
// layout. The trailing 24 counter bytes are written as zero: they are
// "written exclusively by the classifier" (spec.md §3) and any
// non-zero counters on r are ignored by the encoder.
func EncodeRuleValue(r *Rule) [RuleValueSize]byte {
	var buf [RuleValueSize]byte
	off := 0

	binary.LittleEndian.PutUint32(buf[off:], r.Priority)
	off += 4
	buf[off] = byte(r.Action)
	off++
	buf[off] = byte(r.Protocol)
	off++
	binary.LittleEndian.PutUint16(buf[off:], r.SrcPortMin)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], r.SrcPortMax)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], r.DstPortMin)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], r.DstPortMax)
	off += 2
	buf[off] = r.TCPFlags
	off++
	binary.LittleEndian.PutUint32(buf[off:], r.RedirectIfindex)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], r.RateLimit)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], r.Expire)
	off += 4

	label := []byte(r.Label)
	if len(label) > LabelFieldSize-1 {
		label = label[:LabelFieldSize-1]
	}
	copy(buf[off:off+LabelFieldSize], label)
	off += LabelFieldSize

	// counters: left zero, off += 24 implicit (end of buf)
	_ = off

	return buf
}

// DecodeRuleValue parses a rule value, including the trailing counter
// bytes. It requires the full RuleValueSize and returns an error for
// shorter input; it is used on the simulation path, which always
// round-trips whole values. Callers that only need the counters of a
// possibly short read use DecodeCountersOrZero instead.
func DecodeRuleValue(buf []byte) (priority uint32, action Action, protocol Protocol,
	srcPortMin, srcPortMax, dstPortMin, dstPortMax uint16, tcpFlags uint8,
	redirectIfindex, rateLimit, expire uint32, label string, counters Counters, err error) {

	if len(buf) < RuleValueSize {
		err = fmt.Errorf("classifier: short rule value (%d bytes, want %d)", len(buf), RuleValueSize)
		return
	}

	off := 0
	priority = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	action = Action(buf[off])
	off++
	protocol = Protocol(buf[off])
	off++
	srcPortMin = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	srcPortMax = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	dstPortMin = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	dstPortMax = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	tcpFlags = buf[off]
	off++
	redirectIfindex = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	rateLimit = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	expire = binary.LittleEndian.Uint32(buf[off:])
	off += 4

	labelBytes := buf[off : off+LabelFieldSize]
	off += LabelFieldSize
	label = cStringFrom(labelBytes)

	counters = DecodeCountersOrZero(buf[off : off+24])
	return
}

// DecodeCountersOrZero parses the trailing 24-byte counter region of a
// rule value. Short or malformed input yields zeroed counters rather
// than an error — the kernel may not have populated the slot yet
// (spec.md §4.2), and torn reads from a concurrently-writing
// classifier are tolerated, never surfaced (spec.md §9).
func DecodeCountersOrZero(buf []byte) Counters {
	if len(buf) < 24 {
		return Counters{}
	}
	return Counters{
		Packets:     binary.LittleEndian.Uint64(buf[0:8]),
		Bytes:       binary.LittleEndian.Uint64(buf[8:16]),
		LastMatched: binary.LittleEndian.Uint64(buf[16:24]),
	}
}

// EncodeAggregate renders the stats_map slot-0 value.
func EncodeAggregate(c AggregateCounters) [16]byte {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], c.Packets)
	binary.LittleEndian.PutUint64(buf[8:16], c.Bytes)
	return buf
}

// DecodeAggregateOrZero parses the stats_map slot-0 value, treating a
// short/missing read as (0, 0) per spec.md §4.2.
func DecodeAggregateOrZero(buf []byte) AggregateCounters {
	if len(buf) < 16 {
		return AggregateCounters{}
	}
	return AggregateCounters{
		Packets: binary.LittleEndian.Uint64(buf[0:8]),
		Bytes:   binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// EncodeRedirectEntry renders a RedirectEntry: ifindex:u32 | ifname:[u8;16].
func EncodeRedirectEntry(e RedirectEntry) [RedirectEntrySize]byte {
	var buf [RedirectEntrySize]byte
	binary.LittleEndian.PutUint32(buf[0:4], e.Ifindex)
	name := []byte(e.Ifname)
	if len(name) > 15 {
		name = name[:15]
	}
	copy(buf[4:4+16], name)
	return buf
}

// DecodeRedirectEntry parses a redirect_map value.
func DecodeRedirectEntry(buf []byte) (RedirectEntry, error) {
	if len(buf) < RedirectEntrySize {
		return RedirectEntry{}, fmt.Errorf("classifier: short redirect entry (%d bytes)", len(buf))
	}
	return RedirectEntry{
		Ifindex: binary.LittleEndian.Uint32(buf[0:4]),
		Ifname:  cStringFrom(buf[4 : 4+16]),
	}, nil
}

func cStringFrom(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

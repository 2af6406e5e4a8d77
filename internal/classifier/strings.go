// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package classifier

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParseCIDR parses "a.b.c.d" or "a.b.c.d/p" (omitted /p means /32),
// per spec.md §6's CIDR encoding.
func ParseCIDR(s string) (CIDR, error) {
	addrPart, prefixPart, hasPrefix := strings.Cut(s, "/")

	ip := net.ParseIP(strings.TrimSpace(addrPart))
	if ip == nil {
		return CIDR{}, fmt.Errorf("invalid IPv4 address: %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return CIDR{}, fmt.Errorf("not an IPv4 address: %q", s)
	}

	prefix := uint8(32)
	if hasPrefix {
		n, err := strconv.Atoi(strings.TrimSpace(prefixPart))
		if err != nil || n < 0 || n > 32 {
			return CIDR{}, fmt.Errorf("invalid prefix length: %q", s)
		}
		prefix = uint8(n)
	}

	addr := uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
	return CIDR{Addr: maskAddr(addr, prefix), Prefix: prefix}, nil
}

// ParsePortRange parses "N" or "N1-N2" into (min, max), rejecting
// min > max.
func ParsePortRange(s string) (uint16, uint16, error) {
	before, after, ok := strings.Cut(s, "-")
	if !ok {
		n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid port: %q", s)
		}
		return uint16(n), uint16(n), nil
	}

	min, err := strconv.ParseUint(strings.TrimSpace(before), 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port range: %q", s)
	}
	max, err := strconv.ParseUint(strings.TrimSpace(after), 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port range: %q", s)
	}
	if min > max {
		return 0, 0, fmt.Errorf("invalid port range (min > max): %q", s)
	}
	return uint16(min), uint16(max), nil
}

// FormatPortRange renders a port range the way ListRules reports it:
// "any" for the full 0-65535 span, a bare number for an exact port,
// otherwise "min-max".
func FormatPortRange(min, max uint16) string {
	if min == 0 && max == 65535 {
		return "any"
	}
	if min == max {
		return strconv.Itoa(int(min))
	}
	return fmt.Sprintf("%d-%d", min, max)
}

// ParseProtocol maps a protocol name to its wire value (spec.md §6).
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "icmp":
		return ProtoICMP, nil
	case "tcp":
		return ProtoTCP, nil
	case "udp":
		return ProtoUDP, nil
	case "any", "":
		return ProtoAny, nil
	default:
		return 0, fmt.Errorf("unknown protocol: %q", s)
	}
}

// ParseAction maps an action name to its wire value (spec.md §6).
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pass":
		return ActionPass, nil
	case "drop":
		return ActionDrop, nil
	case "redirect":
		return ActionRedirect, nil
	case "count":
		return ActionCount, nil
	default:
		return 0, fmt.Errorf("unknown action: %q", s)
	}
}

// ParseXDPMode maps an Attach request's mode string to its wire value
// (spec.md §6); an empty string defaults to driver mode.
func ParseXDPMode(s string) (XDPMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "driver", "":
		return XDPModeDriver, nil
	case "generic":
		return XDPModeGeneric, nil
	case "offload":
		return XDPModeOffload, nil
	default:
		return 0, fmt.Errorf("unknown xdp mode: %q", s)
	}
}

var tcpFlagNames = []struct {
	bit  uint8
	name string
}{
	{TCPFlagFIN, "FIN"},
	{TCPFlagSYN, "SYN"},
	{TCPFlagRST, "RST"},
	{TCPFlagPSH, "PSH"},
	{TCPFlagACK, "ACK"},
	{TCPFlagURG, "URG"},
}

// ParseTCPFlags parses a comma-separated subset of
// FIN,SYN,RST,PSH,ACK,URG (spec.md §6).
func ParseTCPFlags(s string) (uint8, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	var flags uint8
	for _, part := range strings.Split(s, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		found := false
		for _, f := range tcpFlagNames {
			if f.name == part {
				flags |= f.bit
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown TCP flag: %q", part)
		}
	}
	return flags, nil
}

// FormatTCPFlags renders a flag mask back to comma-separated names.
func FormatTCPFlags(flags uint8) string {
	if flags == 0 {
		return ""
	}
	var names []string
	for _, f := range tcpFlagNames {
		if flags&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, ",")
}

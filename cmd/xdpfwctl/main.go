// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command xdpfwctl is a thin client for xdpfwd's control protocol: one
// subcommand, one request/response round trip, matching the shape of
// the teacher's own CLI front-ends over its control plane.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"grimm.is/xdpfw/internal/ctlserver"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7654", "xdpfwd control address")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	req, err := buildRequest(args[0], args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	resp, err := roundTrip(*addr, req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	printResponse(resp)
	if resp.Kind == ctlserver.KindError {
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: xdpfwctl [-addr host:port] <command> [args...]

commands:
  attach -interface=IFACE [-mode=driver|generic|offload] [-force]
  detach
  add-rule -label=L [-src-ip=CIDR] [-dst-ip=CIDR] [-src-port=N|N-M] [-dst-port=N|N-M]
           [-protocol=tcp|udp|icmp|any] [-tcp-flags=SYN,ACK] [-action=pass|drop|redirect|count]
           [-redirect-if=ifN] [-priority=N] [-rate-limit=N] [-expire=N]
  delete-rule -label=L
  list-rules [-stats]
  stats
  load-wasm -name=N -file=PATH
  unload-wasm -name=N
  list-wasm
  wasm-stats -name=N`)
}

func buildRequest(cmd string, rest []string) (*ctlserver.Request, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	switch cmd {
	case "attach":
		iface := fs.String("interface", "", "interface name")
		mode := fs.String("mode", "driver", "xdp mode")
		force := fs.Bool("force", false, "force replace existing program")
		if err := fs.Parse(rest); err != nil {
			return nil, err
		}
		if *iface == "" {
			return nil, fmt.Errorf("-interface is required")
		}
		return &ctlserver.Request{Op: ctlserver.OpAttach, Interface: *iface, Mode: *mode, Force: *force}, nil

	case "detach":
		return &ctlserver.Request{Op: ctlserver.OpDetach}, nil

	case "add-rule":
		label := fs.String("label", "", "rule label")
		srcIP := fs.String("src-ip", "", "source CIDR")
		dstIP := fs.String("dst-ip", "", "destination CIDR")
		srcPort := fs.String("src-port", "", "source port or range")
		dstPort := fs.String("dst-port", "", "destination port or range")
		protocol := fs.String("protocol", "any", "protocol")
		tcpFlags := fs.String("tcp-flags", "", "comma-separated TCP flags")
		action := fs.String("action", "", "action")
		redirectIf := fs.String("redirect-if", "", "redirect interface (ifN)")
		priority := fs.Uint("priority", 0, "priority")
		rateLimit := fs.Uint("rate-limit", 0, "rate limit (packets/sec)")
		expire := fs.Uint("expire", 0, "expire (seconds, 0=never)")
		if err := fs.Parse(rest); err != nil {
			return nil, err
		}
		if *label == "" || *action == "" {
			return nil, fmt.Errorf("-label and -action are required")
		}
		req := &ctlserver.Request{
			Op:         ctlserver.OpAddRule,
			Label:      *label,
			SrcIP:      *srcIP,
			DstIP:      *dstIP,
			Protocol:   *protocol,
			TCPFlags:   *tcpFlags,
			Action:     *action,
			RedirectIf: *redirectIf,
			Priority:   uint32(*priority),
			RateLimit:  uint32(*rateLimit),
			Expire:     uint32(*expire),
		}
		if *srcPort != "" {
			min, max, err := parsePortFlag(*srcPort)
			if err != nil {
				return nil, fmt.Errorf("-src-port: %w", err)
			}
			req.SrcPortMin, req.SrcPortMax = min, max
		}
		if *dstPort != "" {
			min, max, err := parsePortFlag(*dstPort)
			if err != nil {
				return nil, fmt.Errorf("-dst-port: %w", err)
			}
			req.DstPortMin, req.DstPortMax = min, max
		}
		return req, nil

	case "delete-rule":
		label := fs.String("label", "", "rule label")
		if err := fs.Parse(rest); err != nil {
			return nil, err
		}
		if *label == "" {
			return nil, fmt.Errorf("-label is required")
		}
		return &ctlserver.Request{Op: ctlserver.OpDeleteRule, Label: *label}, nil

	case "list-rules":
		stats := fs.Bool("stats", false, "include per-rule counters")
		if err := fs.Parse(rest); err != nil {
			return nil, err
		}
		return &ctlserver.Request{Op: ctlserver.OpListRules, IncludeStats: *stats}, nil

	case "stats":
		return &ctlserver.Request{Op: ctlserver.OpGetStats}, nil

	case "load-wasm":
		name := fs.String("name", "", "module name")
		file := fs.String("file", "", "path to .wasm file")
		if err := fs.Parse(rest); err != nil {
			return nil, err
		}
		if *name == "" || *file == "" {
			return nil, fmt.Errorf("-name and -file are required")
		}
		return &ctlserver.Request{Op: ctlserver.OpLoadWasmModule, Name: *name, FilePath: *file}, nil

	case "unload-wasm":
		name := fs.String("name", "", "module name")
		if err := fs.Parse(rest); err != nil {
			return nil, err
		}
		if *name == "" {
			return nil, fmt.Errorf("-name is required")
		}
		return &ctlserver.Request{Op: ctlserver.OpUnloadWasmModule, Name: *name}, nil

	case "list-wasm":
		return &ctlserver.Request{Op: ctlserver.OpListWasmModules}, nil

	case "wasm-stats":
		name := fs.String("name", "", "module name")
		if err := fs.Parse(rest); err != nil {
			return nil, err
		}
		if *name == "" {
			return nil, fmt.Errorf("-name is required")
		}
		return &ctlserver.Request{Op: ctlserver.OpWasmModuleStats, Name: *name}, nil

	default:
		return nil, fmt.Errorf("unknown command %q", cmd)
	}
}

func parsePortFlag(s string) (uint16, uint16, error) {
	before, after, ok := strings.Cut(s, "-")
	if !ok {
		n, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return 0, 0, err
		}
		return uint16(n), uint16(n), nil
	}
	min, err := strconv.ParseUint(before, 10, 16)
	if err != nil {
		return 0, 0, err
	}
	max, err := strconv.ParseUint(after, 10, 16)
	if err != nil {
		return 0, 0, err
	}
	return uint16(min), uint16(max), nil
}

func roundTrip(addr string, req *ctlserver.Request) (*ctlserver.Response, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	if err := ctlserver.WriteFrame(conn, body); err != nil {
		return nil, err
	}

	respBody, err := ctlserver.ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	var resp ctlserver.Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}

func printResponse(resp *ctlserver.Response) {
	switch resp.Kind {
	case ctlserver.KindSuccess:
		fmt.Println(resp.Message)
	case ctlserver.KindError:
		fmt.Fprintln(os.Stderr, "error:", resp.Message)
	case ctlserver.KindRules:
		for _, r := range resp.Rules {
			fmt.Printf("%-16s src=%-18s dst=%-18s sport=%-8s dport=%-8s proto=%-5s action=%-8s packets=%d bytes=%d\n",
				r.Label, orAny(r.SrcIP), orAny(r.DstIP), r.SrcPort, r.DstPort, r.Protocol, r.Action, r.Packets, r.Bytes)
		}
	case ctlserver.KindStats:
		s := resp.Stats
		fmt.Printf("packets=%d bytes=%d pps=%d mbps=%.2f last_update=%d\n",
			s.TotalPackets, s.TotalBytes, s.PacketsPerSec, s.Mbps, s.LastUpdate)
	case ctlserver.KindWasmModules:
		for _, m := range resp.WasmModules {
			fmt.Printf("%-16s state=%-12s processed=%d blocked=%d avg_us=%.2f\n",
				m.Name, m.State, m.Processed, m.Blocked, m.AvgProcessing)
		}
	case ctlserver.KindWasmModuleStats:
		m := resp.WasmModuleStats
		fmt.Printf("%-16s state=%-12s processed=%d blocked=%d avg_us=%.2f\n",
			m.Name, m.State, m.Processed, m.Blocked, m.AvgProcessing)
	default:
		fmt.Printf("%+v\n", resp)
	}
}

func orAny(s string) string {
	if s == "" {
		return "any"
	}
	return s
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command xdpsim replays a pcap file through the reference classify
// algorithm against an in-memory rule set, without touching any real
// kernel map. Grounded on the teacher's cmd/flywall-sim/replay.go
// (pcap replay via gopacket) and internal/kernel/provider_sim.go
// (software classifier standing in for the kernel program).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gopacket/gopacket/pcap"

	"grimm.is/xdpfw/internal/classifier"
	"grimm.is/xdpfw/internal/mapmgr"
	"grimm.is/xdpfw/internal/sandbox"
)

func main() {
	pcapPath := flag.String("pcap", "", "path to a pcap file to replay")
	rulesPath := flag.String("rules", "", "path to a rules file (one rule per line, see -help)")
	wasmPath := flag.String("wasm", "", "optional .wasm module inspecting packets redirected to if4294967295 (the inspect-tee convention)")
	verbose := flag.Bool("v", false, "print the verdict for every frame")
	flag.Parse()

	if *pcapPath == "" {
		fmt.Fprintln(os.Stderr, "usage: xdpsim -pcap FILE [-rules FILE] [-wasm FILE] [-v]")
		os.Exit(2)
	}

	backend := mapmgr.NewSimBackend()
	manager := mapmgr.NewManager(backend)

	if *rulesPath != "" {
		if err := loadRules(manager, *rulesPath); err != nil {
			fmt.Fprintln(os.Stderr, "loading rules:", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()
	sbox := sandbox.NewHost(func(moduleID, msg string) {
		fmt.Fprintf(os.Stderr, "wasm[%s]: %s\n", moduleID, msg)
	})
	defer sbox.Close(ctx)

	if *wasmPath != "" {
		data, err := os.ReadFile(*wasmPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "reading wasm module:", err)
			os.Exit(1)
		}
		if err := sbox.Load(ctx, "inspector", data); err != nil {
			fmt.Fprintln(os.Stderr, "loading wasm module:", err)
			os.Exit(1)
		}
	}

	handle, err := pcap.OpenOffline(*pcapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "opening pcap:", err)
		os.Exit(1)
	}
	defer handle.Close()

	now := uint64(time.Now().Unix())
	limiter := manager.RateLimiter()

	var passed, dropped, redirected, counted, inspected, inspectBlocked uint64
	for {
		data, _, err := handle.ReadPacketData()
		if err != nil {
			break
		}

		result := classifier.Classify(data, now, manager.MatchRuleLookup, manager.RedirectLookup, limiter)
		if result.CountAggregate {
			backend.BumpStats(1, uint64(result.FrameLen))
		}

		// SPEC_FULL.md §4.4/§9's inspect-tee convention: a redirect to
		// the reserved ifindex hands the frame to the sandbox host
		// instead of a real NIC. A block verdict turns the frame into a
		// drop; anything else (including no loaded module) passes it.
		if result.Verdict == classifier.ActionRedirect && result.RedirectIfindex == classifier.RedirectIfindexInspect {
			inspected++
			if blocked, _ := sbox.Inspect(ctx, data); blocked {
				inspectBlocked++
				result.Verdict = classifier.ActionDrop
			} else {
				result.Verdict = classifier.ActionPass
			}
		}

		switch result.Verdict {
		case classifier.ActionPass:
			passed++
		case classifier.ActionDrop:
			dropped++
		case classifier.ActionRedirect:
			redirected++
		case classifier.ActionCount:
			counted++
		}

		if *verbose {
			fmt.Printf("len=%d matched=%v rule=%q verdict=%s\n", result.FrameLen, result.Matched, result.RuleLabel, result.Verdict)
		}
	}

	fmt.Printf("pass=%d drop=%d redirect=%d count=%d\n", passed, dropped, redirected, counted)
	if inspected > 0 {
		fmt.Printf("inspected=%d inspect_blocked=%d\n", inspected, inspectBlocked)
	}
	agg := manager.Aggregate()
	fmt.Printf("aggregate: packets=%d bytes=%d\n", agg.Packets, agg.Bytes)
}

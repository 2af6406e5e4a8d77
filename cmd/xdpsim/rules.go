// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"grimm.is/xdpfw/internal/classifier"
	"grimm.is/xdpfw/internal/mapmgr"
)

// loadRules parses a simple line-oriented rule file:
//
//	label src_cidr dst_cidr src_port dst_port protocol action redirect_if priority rate_limit expire
//
// "-" means "any"/zero for the CIDR, port, redirect_if, priority,
// rate_limit and expire fields; label, protocol and action are always
// taken as written (protocol accepts "any"). This is a fixture format for
// xdpsim only, not part of the wire protocol.
func loadRules(manager *mapmgr.Manager, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	now := uint64(time.Now().Unix())
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 11 {
			return fmt.Errorf("line %d: expected 11 fields, got %d", lineNo, len(fields))
		}

		params, err := parseRuleLine(fields, now)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := manager.Add(params); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	return scanner.Err()
}

func parseRuleLine(f []string, now uint64) (mapmgr.AddRuleParams, error) {
	label, srcCIDRStr, dstCIDRStr, srcPortStr, dstPortStr, protoStr, actionStr, redirectStr, priorityStr, rateStr, expireStr :=
		f[0], f[1], f[2], f[3], f[4], f[5], f[6], f[7], f[8], f[9], f[10]

	var params mapmgr.AddRuleParams
	params.Label = label
	params.CreationTime = now

	if srcCIDRStr != "-" {
		c, err := classifier.ParseCIDR(srcCIDRStr)
		if err != nil {
			return params, fmt.Errorf("src_cidr: %w", err)
		}
		params.SrcCIDR = &c
	}
	if dstCIDRStr != "-" {
		c, err := classifier.ParseCIDR(dstCIDRStr)
		if err != nil {
			return params, fmt.Errorf("dst_cidr: %w", err)
		}
		params.DstCIDR = &c
	}

	if srcPortStr == "-" {
		params.SrcPortMax = 65535
	} else {
		min, max, err := classifier.ParsePortRange(srcPortStr)
		if err != nil {
			return params, fmt.Errorf("src_port: %w", err)
		}
		params.SrcPortMin, params.SrcPortMax = min, max
	}
	if dstPortStr == "-" {
		params.DstPortMax = 65535
	} else {
		min, max, err := classifier.ParsePortRange(dstPortStr)
		if err != nil {
			return params, fmt.Errorf("dst_port: %w", err)
		}
		params.DstPortMin, params.DstPortMax = min, max
	}

	protocol, err := classifier.ParseProtocol(protoStr)
	if err != nil {
		return params, fmt.Errorf("protocol: %w", err)
	}
	params.Protocol = protocol

	action, err := classifier.ParseAction(actionStr)
	if err != nil {
		return params, fmt.Errorf("action: %w", err)
	}
	params.Action = action

	if redirectStr != "-" {
		n, err := strconv.ParseUint(strings.TrimPrefix(redirectStr, "if"), 10, 32)
		if err != nil {
			return params, fmt.Errorf("redirect_if: %w", err)
		}
		params.RedirectIfindex = uint32(n)
	}

	if priorityStr != "-" {
		n, err := strconv.ParseUint(priorityStr, 10, 32)
		if err != nil {
			return params, fmt.Errorf("priority: %w", err)
		}
		params.Priority = uint32(n)
	}
	if rateStr != "-" {
		n, err := strconv.ParseUint(rateStr, 10, 32)
		if err != nil {
			return params, fmt.Errorf("rate_limit: %w", err)
		}
		params.RateLimit = uint32(n)
	}
	if expireStr != "-" {
		n, err := strconv.ParseUint(expireStr, 10, 32)
		if err != nil {
			return params, fmt.Errorf("expire: %w", err)
		}
		params.Expire = uint32(n)
	}

	return params, nil
}

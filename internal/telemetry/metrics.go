// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics mirrors the naming and registration style of the teacher's
// internal/ebpf/metrics.Metrics, rescoped from its feature/hook
// breakdown to the counters and rules this daemon actually tracks.
type Metrics struct {
	// PacketsTotal/BytesTotal are gauges, not counters: their value
	// comes from the classifier's own cumulative counter slot, which
	// this process only ever reads, never increments directly.
	PacketsTotal  prometheus.Gauge
	BytesTotal    prometheus.Gauge
	PacketsPerSec prometheus.Gauge
	Mbps          prometheus.Gauge

	// RulesActive, RuleMatches, and the WASM gauges below are also
	// read-only republications, not locally-incremented counters: the
	// manager and sandbox host already hold the authoritative totals
	// (mapmgr.Manager.List's per-rule classifier.Counters, and
	// sandbox.Host.List's per-module Processed/Blocked), so these are
	// Gauges set from those totals on the same cadence as Update,
	// rather than Counters this package would have to increment itself.
	RulesActive prometheus.Gauge

	RuleMatches *prometheus.GaugeVec // label="<rule label>"

	WasmPacketsInspected prometheus.Gauge
	WasmPacketsBlocked   prometheus.Gauge
}

// NewMetrics builds an unregistered Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		PacketsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xdpfw_packets_total",
			Help: "Total number of packets observed by the classifier.",
		}),
		BytesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xdpfw_bytes_total",
			Help: "Total number of bytes observed by the classifier.",
		}),
		PacketsPerSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xdpfw_packets_per_second",
			Help: "Packets/sec derived from the most recent telemetry sample.",
		}),
		Mbps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xdpfw_throughput_mbps",
			Help: "Megabits/sec derived from the most recent telemetry sample.",
		}),
		RulesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xdpfw_rules_active",
			Help: "Number of rules currently installed.",
		}),
		RuleMatches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "xdpfw_rule_matches_total",
			Help: "Total packets matched per rule label, as reported by the rule's own counter slot.",
		}, []string{"label"}),
		WasmPacketsInspected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xdpfw_wasm_packets_inspected_total",
			Help: "Total packets teed to the WASM sandbox for inspection, summed across loaded modules.",
		}),
		WasmPacketsBlocked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xdpfw_wasm_packets_blocked_total",
			Help: "Total packets the WASM sandbox blocked, summed across loaded modules.",
		}),
	}
}

// MustRegister registers every collector on reg, panicking on a
// duplicate registration the way the teacher's metrics setup does at
// startup.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.PacketsTotal,
		m.BytesTotal,
		m.PacketsPerSec,
		m.Mbps,
		m.RulesActive,
		m.RuleMatches,
		m.WasmPacketsInspected,
		m.WasmPacketsBlocked,
	)
}

// Update publishes a Snapshot onto the throughput gauges.
func (m *Metrics) Update(s Snapshot) {
	m.PacketsTotal.Set(float64(s.TotalPackets))
	m.BytesTotal.Set(float64(s.TotalBytes))
	m.PacketsPerSec.Set(float64(s.PacketsPerSec))
	m.Mbps.Set(s.Mbps)
}

// RuleSnapshot carries just the fields UpdateRules publishes, so this
// package doesn't need to import mapmgr's rule types.
type RuleSnapshot struct {
	Label   string
	Packets uint64
}

// UpdateRules sets RulesActive and one RuleMatches gauge per rule
// label, from the manager's authoritative rule list (mapmgr.Manager.
// List(true)). It resets RuleMatches first so a deleted rule's label
// doesn't linger in /metrics at its last-seen value forever.
func (m *Metrics) UpdateRules(rules []RuleSnapshot) {
	m.RulesActive.Set(float64(len(rules)))
	m.RuleMatches.Reset()
	for _, r := range rules {
		m.RuleMatches.WithLabelValues(r.Label).Set(float64(r.Packets))
	}
}

// UpdateWasm sets the WASM sandbox gauges from the sum of every loaded
// module's Processed/Blocked counters (sandbox.Host.List).
func (m *Metrics) UpdateWasm(totalProcessed, totalBlocked uint64) {
	m.WasmPacketsInspected.Set(float64(totalProcessed))
	m.WasmPacketsBlocked.Set(float64(totalBlocked))
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ctlserver implements the length-prefixed JSON control
// protocol (spec.md §5, §6) that xdpfwctl speaks to xdpfwd, grounded
// on original_source's ApiServer/process_request
// (src/daemon/src/server.rs) and the teacher's own TCP accept-loop
// shape in internal/ctlplane/server.go.
package ctlserver

// Request is the tagged union of every control-plane operation,
// discriminated by Op. Only the fields relevant to Op are populated;
// this mirrors the externally-tagged enum original_source's
// ApiRequest serializes to with serde_json, adapted to Go's lack of
// sum types via a single struct plus an Op discriminator.
type Request struct {
	Op string `json:"op"`

	// Attach / Detach
	Interface string `json:"interface,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Force     bool   `json:"force,omitempty"`

	// AddRule
	SrcIP           string `json:"src_ip,omitempty"`
	DstIP           string `json:"dst_ip,omitempty"`
	SrcPortMin      uint16 `json:"src_port_min,omitempty"`
	SrcPortMax      uint16 `json:"src_port_max,omitempty"`
	DstPortMin      uint16 `json:"dst_port_min,omitempty"`
	DstPortMax      uint16 `json:"dst_port_max,omitempty"`
	Protocol        string `json:"protocol,omitempty"`
	TCPFlags        string `json:"tcp_flags,omitempty"`
	Action          string `json:"action,omitempty"`
	RedirectIf      string `json:"redirect_if,omitempty"`
	Priority        uint32 `json:"priority,omitempty"`
	RateLimit       uint32 `json:"rate_limit,omitempty"`
	Expire          uint32 `json:"expire,omitempty"`
	Label           string `json:"label,omitempty"`

	// ListRules
	IncludeStats bool `json:"include_stats,omitempty"`

	// LoadWasmModule / UnloadWasmModule / WasmModuleStats
	Name     string `json:"name,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// Request op names (spec.md §6).
const (
	OpAttach           = "attach"
	OpDetach           = "detach"
	OpAddRule          = "add_rule"
	OpDeleteRule       = "delete_rule"
	OpListRules        = "list_rules"
	OpGetStats         = "get_stats"
	OpLoadWasmModule   = "load_wasm_module"
	OpUnloadWasmModule = "unload_wasm_module"
	OpListWasmModules  = "list_wasm_modules"
	OpWasmModuleStats  = "wasm_module_stats"
)

// Response is the tagged union of every response variant.
type Response struct {
	Kind string `json:"kind"`

	// Success / Error
	Message string `json:"message,omitempty"`

	// Rules
	Rules []RuleJSON `json:"rules,omitempty"`

	// Stats
	Stats *StatsJSON `json:"stats,omitempty"`

	// WasmModules
	WasmModules []WasmModuleJSON `json:"wasm_modules,omitempty"`

	// WasmModuleStats
	WasmModuleStats *WasmModuleJSON `json:"wasm_module_stats,omitempty"`
}

// Response kind names.
const (
	KindSuccess         = "success"
	KindError           = "error"
	KindRules           = "rules"
	KindStats           = "stats"
	KindWasmModules     = "wasm_modules"
	KindWasmModuleStats = "wasm_module_stats"
)

// RuleJSON is the wire form of a mapmgr.RuleSummary.
type RuleJSON struct {
	Label      string `json:"label"`
	SrcIP      string `json:"src_ip,omitempty"`
	DstIP      string `json:"dst_ip,omitempty"`
	SrcPort    string `json:"src_port"`
	DstPort    string `json:"dst_port"`
	Protocol   string `json:"protocol"`
	TCPFlags   string `json:"tcp_flags,omitempty"`
	Action     string `json:"action"`
	RedirectIf string `json:"redirect_if,omitempty"`
	Priority   uint32 `json:"priority"`
	RateLimit  uint32 `json:"rate_limit"`
	Expire     uint32 `json:"expire"`
	Packets    uint64 `json:"packets,omitempty"`
	Bytes      uint64 `json:"bytes,omitempty"`
	LastMatch  uint64 `json:"last_matched,omitempty"`
}

// StatsJSON is the wire form of a telemetry.Snapshot.
type StatsJSON struct {
	TotalPackets  uint64  `json:"total_packets"`
	TotalBytes    uint64  `json:"total_bytes"`
	PacketsPerSec uint64  `json:"packets_per_sec"`
	Mbps          float64 `json:"mbps"`
	LastUpdate    uint64  `json:"last_update"`
}

// WasmModuleJSON is the wire form of a sandbox.ModuleSummary.
type WasmModuleJSON struct {
	Name          string  `json:"name"`
	State         string  `json:"state"`
	Processed     uint64  `json:"processed_packets"`
	Blocked       uint64  `json:"blocked_packets"`
	AvgProcessing float64 `json:"avg_processing_time_us"`
}

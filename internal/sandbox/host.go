// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sandbox

import (
	"context"
	"sync"

	xferrors "grimm.is/xdpfw/internal/errors"
)

// Host manages the set of loaded inspectors and fans a packet out to
// all of them in insertion order, mirroring WasmManager.inspect_packet
// in original_source: the first module to report a block wins, and a
// module that isn't Loaded/Running is skipped rather than erroring.
type Host struct {
	mu      sync.Mutex
	modules []*Module
	byID    map[string]int
	logf    func(moduleID, message string)
}

// NewHost creates an empty sandbox host. logf receives every message
// a guest module logs via env.log, tagged with the module's ID; pass
// nil to discard guest log output.
func NewHost(logf func(moduleID, message string)) *Host {
	return &Host{
		byID: make(map[string]int),
		logf: logf,
	}
}

// Load compiles and instantiates a WASM module under id. Duplicate IDs
// are rejected the same way mapmgr rejects duplicate rule labels.
func (h *Host) Load(ctx context.Context, id string, wasmBytes []byte) error {
	h.mu.Lock()
	if _, exists := h.byID[id]; exists {
		h.mu.Unlock()
		return xferrors.Errorf(xferrors.KindDuplicateLabel, "wasm module %q already loaded", id)
	}
	h.mu.Unlock()

	logf := func(string) {}
	if h.logf != nil {
		logf = func(msg string) { h.logf(id, msg) }
	}

	mod, err := LoadModule(ctx, id, wasmBytes, logf)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.byID[id]; exists {
		_ = mod.Close(ctx)
		return xferrors.Errorf(xferrors.KindDuplicateLabel, "wasm module %q already loaded", id)
	}
	h.byID[id] = len(h.modules)
	h.modules = append(h.modules, mod)
	return nil
}

// Unload removes and closes a loaded module.
func (h *Host) Unload(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx, ok := h.byID[id]
	if !ok {
		return xferrors.Errorf(xferrors.KindNotFound, "wasm module %q not found", id)
	}

	mod := h.modules[idx]
	h.modules = append(h.modules[:idx], h.modules[idx+1:]...)
	delete(h.byID, id)
	for label, i := range h.byID {
		if i > idx {
			h.byID[label] = i - 1
		}
	}

	return mod.Close(ctx)
}

// Inspect runs every loaded module over packet, in insertion order,
// stopping at the first one that reports a block. A module's own
// invocation error is logged via h.logf (spec.md §7: WasmInvokeError
// "is logged per-packet") and treated as a permit for that module
// specifically; the scan continues to the next module.
func (h *Host) Inspect(ctx context.Context, packet []byte) (blocked bool, blockedBy string) {
	h.mu.Lock()
	modules := make([]*Module, len(h.modules))
	copy(modules, h.modules)
	h.mu.Unlock()

	for _, mod := range modules {
		state := mod.State()
		if state != StateLoaded && state != StateRunning {
			continue
		}
		ok, err := mod.Inspect(ctx, packet)
		if err != nil {
			if h.logf != nil {
				h.logf(mod.ID(), "inspect error, treated as permit: "+err.Error())
			}
			continue
		}
		if ok {
			return true, mod.ID()
		}
	}
	return false, ""
}

// ModuleSummary is a read-only snapshot of a loaded module's state and
// counters, as reported by ListWasmModules and WasmModuleStats.
type ModuleSummary struct {
	ID              string
	State           string
	Processed       uint64
	Blocked         uint64
	AvgProcessingUs float64
}

// List returns a summary per loaded module, in insertion order.
func (h *Host) List() []ModuleSummary {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ModuleSummary, 0, len(h.modules))
	for _, mod := range h.modules {
		processed, blocked := mod.Stats()
		out = append(out, ModuleSummary{
			ID:              mod.ID(),
			State:           mod.State().String(),
			Processed:       processed,
			Blocked:         blocked,
			AvgProcessingUs: mod.AvgProcessingTimeUs(),
		})
	}
	return out
}

// Close unloads and closes every module.
func (h *Host) Close(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, mod := range h.modules {
		_ = mod.Close(ctx)
	}
	h.modules = nil
	h.byID = make(map[string]int)
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package sandbox hosts WebAssembly packet inspectors using
// tetratelabs/wazero, the way original_source's WasmInspector/
// WasmManager (src/daemon/src/wasm.rs) host them with wasmtime. wazero
// is a real dependency of the retrieved example pack (see
// other_examples/manifests/moby-moby/go.mod) and is the idiomatic Go
// embeddable WASM runtime — no cgo, no system libwasmtime.
package sandbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	xferrors "grimm.is/xdpfw/internal/errors"
)

// State is a module's lifecycle state (spec.md §4.4).
type State int

const (
	StateInitialized State = iota
	StateLoaded
	StateRunning
	StatePaused
	StateError
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateLoaded:
		return "loaded"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// fixedAllocOffset is the address inspect_packet writes packet bytes
// to when a module exports no allocate function, matching
// original_source's hardcoded fallback.
const fixedAllocOffset = 1024

// Module is one loaded WASM packet inspector.
type Module struct {
	id    string
	state atomic.Int32 // State

	runtime  wazero.Runtime
	module   api.Module
	inspect  api.Function
	allocate api.Function // nil if the module doesn't export one

	processedPackets  atomic.Uint64
	blockedPackets    atomic.Uint64
	totalProcessingUs atomic.Uint64 // sum of per-invocation wall time, for avg_processing_time_us

	mu sync.Mutex // serializes calls into the single wazero module instance
}

// hostLog is the "env.log(ptr, len) -> i32" function exposed to every
// module, mirroring original_source's log_func: reads a UTF-8 message
// out of guest memory and writes it to the daemon's own logger.
func hostLog(logf func(string)) func(ctx context.Context, mod api.Module, ptr, length uint32) int32 {
	return func(ctx context.Context, mod api.Module, ptr, length uint32) int32 {
		data, ok := mod.Memory().Read(ptr, length)
		if !ok {
			return -1
		}
		logf(string(data))
		return 0
	}
}

// LoadModule compiles and instantiates a WASM binary, wiring the "env"
// host module. logf receives every message the guest logs via
// env.log.
func LoadModule(ctx context.Context, id string, wasmBytes []byte, logf func(string)) (*Module, error) {
	if logf == nil {
		logf = func(string) {}
	}

	rt := wazero.NewRuntime(ctx)

	envBuilder := rt.NewHostModuleBuilder("env")
	envBuilder.NewFunctionBuilder().
		WithFunc(hostLog(logf)).
		Export("log")
	if _, err := envBuilder.Instantiate(ctx); err != nil {
		rt.Close(ctx)
		return nil, xferrors.Wrapf(err, xferrors.KindWasmLoad, "instantiating env host module for %q", id)
	}

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		rt.Close(ctx)
		return nil, xferrors.Wrapf(err, xferrors.KindWasmLoad, "compiling module %q", id)
	}

	instance, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(id))
	if err != nil {
		rt.Close(ctx)
		return nil, xferrors.Wrapf(err, xferrors.KindWasmLoad, "instantiating module %q", id)
	}

	inspect := instance.ExportedFunction("inspect_packet")
	if inspect == nil {
		rt.Close(ctx)
		return nil, xferrors.Errorf(xferrors.KindWasmMissingExport, "module %q does not export inspect_packet", id)
	}

	m := &Module{
		id:       id,
		runtime:  rt,
		module:   instance,
		inspect:  inspect,
		allocate: instance.ExportedFunction("allocate"), // nil is fine, checked at call time
	}
	m.state.Store(int32(StateLoaded))
	return m, nil
}

// ID returns the module's identifier.
func (m *Module) ID() string { return m.id }

// State returns the module's current lifecycle state.
func (m *Module) State() State { return State(m.state.Load()) }

// Pause marks the module as not eligible for inspection without
// unloading it (spec.md §4.4's Paused state).
func (m *Module) Pause() { m.state.Store(int32(StatePaused)) }

// Resume returns a Paused module to Running.
func (m *Module) Resume() { m.state.Store(int32(StateRunning)) }

// Stats returns (processed, blocked) packet counts.
func (m *Module) Stats() (processed, blocked uint64) {
	return m.processedPackets.Load(), m.blockedPackets.Load()
}

// AvgProcessingTimeUs returns the mean wall-clock time of every
// inspect_packet invocation so far, in microseconds. It is zero until
// the first successful invocation (spec.md §6's
// WasmModuleStats.avg_processing_time_us).
func (m *Module) AvgProcessingTimeUs() float64 {
	processed := m.processedPackets.Load()
	if processed == 0 {
		return 0
	}
	return float64(m.totalProcessingUs.Load()) / float64(processed)
}

// Close releases the module's wazero runtime.
func (m *Module) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

// Inspect writes packet into guest memory and calls inspect_packet,
// returning true when the module wants the packet blocked. A runtime
// error marks the module Error and is treated as permit — a
// misbehaving inspector must never become a denial-of-service vector
// for traffic it was only supposed to observe (spec.md §4.4).
func (m *Module) Inspect(ctx context.Context, packet []byte) (blocked bool, err error) {
	state := m.State()
	if state != StateLoaded && state != StateRunning {
		return false, xferrors.Errorf(xferrors.KindWasmInvoke, "module %q is %s, not loaded/running", m.id, state)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ptr, err := m.allocGuestBuffer(ctx, uint32(len(packet)))
	if err != nil {
		m.state.Store(int32(StateError))
		return false, xferrors.Wrapf(err, xferrors.KindWasmInvoke, "allocating guest buffer in %q", m.id)
	}

	if !m.module.Memory().Write(ptr, packet) {
		m.state.Store(int32(StateError))
		return false, xferrors.Errorf(xferrors.KindWasmInvoke, "writing packet data into %q memory", m.id)
	}

	start := time.Now()
	results, err := m.inspect.Call(ctx, uint64(ptr), uint64(len(packet)))
	elapsedUs := uint64(time.Since(start).Microseconds())
	if err != nil {
		m.state.Store(int32(StateError))
		return false, xferrors.Wrapf(err, xferrors.KindWasmInvoke, "calling inspect_packet on %q", m.id)
	}

	m.processedPackets.Add(1)
	m.totalProcessingUs.Add(elapsedUs)
	switch int32(results[0]) {
	case 0:
		blocked = false
	case 1:
		blocked = true
	default:
		// Any other return value is treated as permit, per spec,
		// with an error logged by the caller.
		blocked = false
		err = xferrors.Errorf(xferrors.KindWasmInvoke, "module %q returned invalid verdict %d, treating as permit", m.id, int32(results[0]))
	}
	if blocked {
		m.blockedPackets.Add(1)
	}
	return blocked, err
}

// allocGuestBuffer calls the module's exported allocate(size) if
// present, otherwise falls back to the fixed offset original_source
// uses when no allocator is exported.
func (m *Module) allocGuestBuffer(ctx context.Context, size uint32) (uint32, error) {
	if m.allocate == nil {
		return fixedAllocOffset, nil
	}
	results, err := m.allocate.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("allocate(%d): %w", size, err)
	}
	return uint32(results[0]), nil
}

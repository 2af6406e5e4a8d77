// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xferrors "grimm.is/xdpfw/internal/errors"
)

func TestHostLoadRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	h := NewHost(nil)

	require.NoError(t, h.Load(ctx, "mod1", minimalInspectModule))
	defer h.Close(ctx)

	err := h.Load(ctx, "mod1", minimalInspectModule)
	require.Error(t, err)
	assert.Equal(t, xferrors.KindDuplicateLabel, xferrors.GetKind(err))
}

func TestHostLoadRejectsMissingExport(t *testing.T) {
	ctx := context.Background()
	h := NewHost(nil)

	err := h.Load(ctx, "bad", moduleWithoutInspectExport)
	require.Error(t, err)
	assert.Equal(t, xferrors.KindWasmMissingExport, xferrors.GetKind(err))

	// A failed load must not leave a partial entry behind.
	assert.Empty(t, h.List())
}

func TestHostUnloadNotFound(t *testing.T) {
	ctx := context.Background()
	h := NewHost(nil)
	err := h.Unload(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, xferrors.KindNotFound, xferrors.GetKind(err))
}

func TestHostListOrderAndUnload(t *testing.T) {
	ctx := context.Background()
	h := NewHost(nil)

	require.NoError(t, h.Load(ctx, "a", minimalInspectModule))
	require.NoError(t, h.Load(ctx, "b", minimalInspectModule))
	defer h.Close(ctx)

	summaries := h.List()
	require.Len(t, summaries, 2)
	assert.Equal(t, "a", summaries[0].ID)
	assert.Equal(t, "b", summaries[1].ID)
	assert.Equal(t, "loaded", summaries[0].State)

	require.NoError(t, h.Unload(ctx, "a"))
	summaries = h.List()
	require.Len(t, summaries, 1)
	assert.Equal(t, "b", summaries[0].ID)
}

func TestHostCloseClearsAllModules(t *testing.T) {
	ctx := context.Background()
	h := NewHost(nil)
	require.NoError(t, h.Load(ctx, "a", minimalInspectModule))

	h.Close(ctx)
	assert.Empty(t, h.List())

	// A fresh Load after Close must succeed, not collide with cleared state.
	require.NoError(t, h.Load(ctx, "a", minimalInspectModule))
	h.Close(ctx)
}

// TestHostInspectBlockShortCircuitsLaterModules exercises the core
// fan-in semantic (spec.md §4.4): modules run in insertion order, and
// the first BLOCK verdict wins without invoking the modules after it.
func TestHostInspectBlockShortCircuitsLaterModules(t *testing.T) {
	ctx := context.Background()
	h := NewHost(nil)

	require.NoError(t, h.Load(ctx, "permit", memoryPermitModule))
	require.NoError(t, h.Load(ctx, "block", memoryBlockModule))
	require.NoError(t, h.Load(ctx, "never-runs", memoryBlockModule))
	defer h.Close(ctx)

	blocked, by := h.Inspect(ctx, []byte{1, 2, 3, 4})
	assert.True(t, blocked)
	assert.Equal(t, "block", by)

	summaries := h.List()
	require.Len(t, summaries, 3)
	assert.Equal(t, uint64(1), summaries[0].Processed) // "permit" ran and let it through
	assert.Equal(t, uint64(0), summaries[0].Blocked)
	assert.Equal(t, uint64(1), summaries[1].Processed) // "block" ran and set the verdict
	assert.Equal(t, uint64(1), summaries[1].Blocked)
	assert.Equal(t, uint64(0), summaries[2].Processed) // "never-runs" was short-circuited
	assert.Equal(t, uint64(0), summaries[2].Blocked)
}

// TestHostInspectAllPermitRunsEveryModule proves the non-short-circuit
// side of the same ordering: with no BLOCK verdict, every module runs.
func TestHostInspectAllPermitRunsEveryModule(t *testing.T) {
	ctx := context.Background()
	h := NewHost(nil)

	require.NoError(t, h.Load(ctx, "a", memoryPermitModule))
	require.NoError(t, h.Load(ctx, "b", memoryPermitModule))
	defer h.Close(ctx)

	blocked, by := h.Inspect(ctx, []byte{9})
	assert.False(t, blocked)
	assert.Equal(t, "", by)

	summaries := h.List()
	require.Len(t, summaries, 2)
	assert.Equal(t, uint64(1), summaries[0].Processed)
	assert.Equal(t, uint64(1), summaries[1].Processed)
}

func TestHostInspectSkipsPausedModules(t *testing.T) {
	ctx := context.Background()
	h := NewHost(nil)
	require.NoError(t, h.Load(ctx, "a", minimalInspectModule))
	defer h.Close(ctx)

	h.mu.Lock()
	h.modules[0].Pause()
	h.mu.Unlock()

	blocked, by := h.Inspect(ctx, nil)
	assert.False(t, blocked)
	assert.Equal(t, "", by)
}

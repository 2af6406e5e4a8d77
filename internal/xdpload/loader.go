// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

// Package xdpload attaches and detaches a pre-built classifier program
// to a network interface via cilium/ebpf, the way the teacher's
// internal/ebpf/loader.Loader wraps ebpf.CollectionSpec/link.AttachXDP.
// It never ships or compiles a C source file itself: the classifier
// stays "pure specification; no executable state" — callers supply a
// *ebpf.CollectionSpec built elsewhere (spec.md §4.1, §4.5).
package xdpload

import (
	"fmt"
	"net"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"grimm.is/xdpfw/internal/classifier"
	xferrors "grimm.is/xdpfw/internal/errors"
)

// Map names expected on the supplied collection, matching
// original_source's bpf.rs map accessors (filter_rules, redirect_map,
// stats_map) and program name (xdp_filter_func).
const (
	MapFilterRules = "filter_rules"
	MapRedirect    = "redirect_map"
	MapStats       = "stats_map"
	ProgClassifier = "xdp_filter_func"
)

// State is the attach/detach state machine of spec.md §4.5.
type State int

const (
	StateDetached State = iota
	StateAttached
)

// Loader owns a loaded eBPF collection and its XDP attachment.
type Loader struct {
	mu sync.Mutex

	collection *ebpf.Collection
	link       link.Link
	iface      string
	mode       classifier.XDPMode
	state      State

	FilterRules *ebpf.Map
	RedirectMap *ebpf.Map
	StatsMap    *ebpf.Map
}

// NewLoader loads spec into the kernel (verification happens here) but
// does not attach it to any interface yet.
func NewLoader(spec *ebpf.CollectionSpec) (*Loader, error) {
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, xferrors.Wrap(err, xferrors.KindAttach, "loading classifier collection")
	}

	l := &Loader{collection: coll, state: StateDetached}

	l.FilterRules = coll.Maps[MapFilterRules]
	l.RedirectMap = coll.Maps[MapRedirect]
	l.StatsMap = coll.Maps[MapStats]
	if l.FilterRules == nil || l.RedirectMap == nil || l.StatsMap == nil {
		coll.Close()
		return nil, xferrors.Errorf(xferrors.KindAttach,
			"collection is missing one of the required maps (%s, %s, %s)",
			MapFilterRules, MapRedirect, MapStats)
	}
	if coll.Programs[ProgClassifier] == nil {
		coll.Close()
		return nil, xferrors.Errorf(xferrors.KindAttach, "collection is missing program %q", ProgClassifier)
	}

	return l, nil
}

// xdpAttachFlags translates the wire-level mode into the
// cilium/ebpf/link flag that actually selects driver, generic (SKB),
// or offload attachment. A NIC without native XDP support can only
// attach in generic mode, so this is functionally observable, not
// just a label (spec.md §4.5).
func xdpAttachFlags(mode classifier.XDPMode) link.XDPAttachFlags {
	switch mode {
	case classifier.XDPModeGeneric:
		return link.XDPGenericMode
	case classifier.XDPModeOffload:
		return link.XDPOffloadMode
	default:
		return link.XDPDriverMode
	}
}

// Attach links the classifier program to ifaceName in the requested
// mode. Re-attaching to the same interface in the same mode while
// already attached is a no-op; attaching to a different interface, or
// switching mode on the same one, while attached is an error unless
// force is set (spec.md §4.5).
//
// When force moves the attachment to a different interface, the new
// attach is made before the old link is torn down, so a failed new
// attach never leaves the daemon with no XDP program anywhere. A mode
// switch on the same interface has no such option — the kernel allows
// only one XDP program per interface — so the old link is closed
// first and a failed re-attach leaves that interface unprotected.
func (l *Loader) Attach(ifaceName string, mode classifier.XDPMode, force bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateAttached {
		if l.iface == ifaceName && l.mode == mode {
			return nil
		}
		if !force {
			return xferrors.Errorf(xferrors.KindAttach,
				"already attached to %q in %s mode; force required to attach to %q in %s mode",
				l.iface, l.mode, ifaceName, mode)
		}
	}

	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return xferrors.Wrapf(err, xferrors.KindAttach, "resolving interface %q", ifaceName)
	}

	oldLink, oldIface := l.link, l.iface
	sameInterface := l.state == StateAttached && oldIface == ifaceName
	if sameInterface {
		if err := oldLink.Close(); err != nil {
			return xferrors.Wrapf(err, xferrors.KindAttach, "detaching %q before mode change", oldIface)
		}
		oldLink = nil
	}

	lnk, err := link.AttachXDP(link.XDPOptions{
		Program:   l.collection.Programs[ProgClassifier],
		Interface: iface.Index,
		Flags:     xdpAttachFlags(mode),
	})
	if err != nil {
		return xferrors.Wrapf(err, xferrors.KindAttach, "attaching XDP program to %q in %s mode", ifaceName, mode)
	}

	if oldLink != nil {
		_ = oldLink.Close()
	}

	l.link = lnk
	l.iface = ifaceName
	l.mode = mode
	l.state = StateAttached
	return nil
}

// Detach unlinks the classifier program. Detaching while already
// detached is an error (spec.md §4.5's explicit no-op-vs-error table).
func (l *Loader) Detach() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateDetached {
		return xferrors.New(xferrors.KindDetach, "not attached to any interface")
	}

	if err := l.link.Close(); err != nil {
		return xferrors.Wrap(err, xferrors.KindDetach, "detaching XDP program")
	}

	l.link = nil
	l.iface = ""
	l.state = StateDetached
	return nil
}

// Status reports the current attach state and, if attached, the
// interface name.
func (l *Loader) Status() (State, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.iface
}

// Close detaches if necessary and releases the collection's maps and
// programs.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	if l.state == StateAttached {
		if cerr := l.link.Close(); cerr != nil {
			err = fmt.Errorf("closing XDP link: %w", cerr)
		}
		l.link = nil
		l.state = StateDetached
	}
	l.collection.Close()
	return err
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ctlserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"grimm.is/xdpfw/internal/classifier"
	xferrors "grimm.is/xdpfw/internal/errors"
	"grimm.is/xdpfw/internal/mapmgr"
	"grimm.is/xdpfw/internal/sandbox"
	"grimm.is/xdpfw/internal/telemetry"
)

// AttachDetacher is the XDP attach/detach surface the server needs.
// It is satisfied by *xdpload.Loader; the interface exists so
// ctlserver (and its tests) never need the linux build tag xdpload
// carries — the same seam the teacher draws between internal/ctlplane
// and internal/ebpf/interfaces.
type AttachDetacher interface {
	Attach(iface string, mode classifier.XDPMode, force bool) error
	Detach() error
}

// WasmLoader abstracts loading a compiled module's bytes from a path,
// decoupling the server from any particular filesystem layout.
type WasmLoader func(path string) ([]byte, error)

// Server handles each accepted connection on its own goroutine: it
// reads a single length-prefixed request, dispatches it, and writes a
// single length-prefixed response, per spec.md §5: "one request per
// connection."
type Server struct {
	listener net.Listener
	logger   *slog.Logger

	attach   AttachDetacher
	manager  *mapmgr.Manager
	sampler  *telemetry.Sampler
	sandbox  *sandbox.Host
	loadWasm WasmLoader

	wg sync.WaitGroup
}

// NewServer wires the four subsystems a control request can reach.
func NewServer(attach AttachDetacher, manager *mapmgr.Manager, sampler *telemetry.Sampler, sbox *sandbox.Host, loadWasm WasmLoader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		attach:   attach,
		manager:  manager,
		sampler:  sampler,
		sandbox:  sbox,
		loadWasm: loadWasm,
		logger:   logger,
	}
}

// Serve accepts connections on addr until ctx is cancelled, handling
// each synchronously on its own goroutine (one request, then close).
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return xferrors.Wrapf(err, xferrors.KindProtocol, "listening on %s", addr)
	}
	s.listener = ln
	s.logger.Info("control server listening", "addr", addr)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(30 * time.Second))

	req, err := readRequest(conn)
	if err != nil {
		s.logger.Warn("reading request", "error", err)
		return
	}

	resp := s.dispatch(req)
	if err := writeResponse(conn, resp); err != nil {
		s.logger.Warn("writing response", "error", err)
	}
}

func (s *Server) dispatch(req *Request) *Response {
	switch req.Op {
	case OpAttach:
		return s.handleAttach(req)
	case OpDetach:
		return s.handleDetach()
	case OpAddRule:
		return s.handleAddRule(req)
	case OpDeleteRule:
		return s.handleDeleteRule(req)
	case OpListRules:
		return s.handleListRules(req)
	case OpGetStats:
		return s.handleGetStats()
	case OpLoadWasmModule:
		return s.handleLoadWasmModule(req)
	case OpUnloadWasmModule:
		return s.handleUnloadWasmModule(req)
	case OpListWasmModules:
		return s.handleListWasmModules()
	case OpWasmModuleStats:
		return s.handleWasmModuleStats(req)
	default:
		return errorResponse("unknown operation %q", req.Op)
	}
}

func successResponse(format string, args ...any) *Response {
	return &Response{Kind: KindSuccess, Message: fmt.Sprintf(format, args...)}
}

func errorResponse(format string, args ...any) *Response {
	return &Response{Kind: KindError, Message: fmt.Sprintf(format, args...)}
}

// parseIfindex accepts the "if<N>" convention original_source's
// redirect_if field uses (server.rs: ifname.starts_with("if")).
func parseIfindex(s string) (uint32, error) {
	s = strings.TrimPrefix(s, "if")
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("expected \"if<N>\", got %q", s)
	}
	return uint32(n), nil
}

func (s *Server) handleAttach(req *Request) *Response {
	if s.attach == nil {
		return errorResponse("no XDP loader configured")
	}
	if req.Interface == "" {
		return errorResponse("attach requires an interface")
	}
	mode, err := classifier.ParseXDPMode(req.Mode)
	if err != nil {
		return errorResponse("invalid mode: %v", err)
	}
	if err := s.attach.Attach(req.Interface, mode, req.Force); err != nil {
		return errorResponse("attach failed: %v", err)
	}
	return successResponse("XDP program attached to %s in %s mode", req.Interface, mode)
}

func (s *Server) handleDetach() *Response {
	if s.attach == nil {
		return errorResponse("no XDP loader configured")
	}
	if err := s.attach.Detach(); err != nil {
		return errorResponse("detach failed: %v", err)
	}
	return successResponse("XDP program detached")
}

func (s *Server) handleAddRule(req *Request) *Response {
	var srcCIDR, dstCIDR *classifier.CIDR
	if req.SrcIP != "" {
		c, err := classifier.ParseCIDR(req.SrcIP)
		if err != nil {
			return errorResponse("invalid src_ip: %v", err)
		}
		srcCIDR = &c
	}
	if req.DstIP != "" {
		c, err := classifier.ParseCIDR(req.DstIP)
		if err != nil {
			return errorResponse("invalid dst_ip: %v", err)
		}
		dstCIDR = &c
	}

	protocol, err := classifier.ParseProtocol(req.Protocol)
	if err != nil {
		return errorResponse("invalid protocol: %v", err)
	}
	action, err := classifier.ParseAction(req.Action)
	if err != nil {
		return errorResponse("invalid action: %v", err)
	}
	flags, err := classifier.ParseTCPFlags(req.TCPFlags)
	if err != nil {
		return errorResponse("invalid tcp_flags: %v", err)
	}

	var redirectIfindex uint32
	if req.RedirectIf != "" {
		n, err := parseIfindex(req.RedirectIf)
		if err != nil {
			return errorResponse("invalid redirect_if: %v", err)
		}
		redirectIfindex = n
	}

	srcMax, dstMax := req.SrcPortMax, req.DstPortMax
	if srcMax == 0 {
		srcMax = 65535
	}
	if dstMax == 0 {
		dstMax = 65535
	}

	err = s.manager.Add(mapmgr.AddRuleParams{
		SrcCIDR:         srcCIDR,
		DstCIDR:         dstCIDR,
		SrcPortMin:      req.SrcPortMin,
		SrcPortMax:      srcMax,
		DstPortMin:      req.DstPortMin,
		DstPortMax:      dstMax,
		Protocol:        protocol,
		TCPFlags:        flags,
		Action:          action,
		RedirectIfindex: redirectIfindex,
		Priority:        req.Priority,
		RateLimit:       req.RateLimit,
		Expire:          req.Expire,
		Label:           req.Label,
		CreationTime:    uint64(time.Now().Unix()),
	})
	if err != nil {
		return errorResponse("%v", err)
	}
	return successResponse("rule %q added", req.Label)
}

func (s *Server) handleDeleteRule(req *Request) *Response {
	if err := s.manager.Delete(req.Label); err != nil {
		return errorResponse("%v", err)
	}
	return successResponse("rule %q deleted", req.Label)
}

func (s *Server) handleListRules(req *Request) *Response {
	summaries := s.manager.List(req.IncludeStats)
	rules := make([]RuleJSON, 0, len(summaries))
	for _, r := range summaries {
		rules = append(rules, RuleJSON{
			Label:      r.Label,
			SrcIP:      r.SrcIP,
			DstIP:      r.DstIP,
			SrcPort:    r.SrcPort,
			DstPort:    r.DstPort,
			Protocol:   r.Protocol,
			TCPFlags:   r.TCPFlags,
			Action:     r.Action,
			RedirectIf: r.RedirectIf,
			Priority:   r.Priority,
			RateLimit:  r.RateLimit,
			Expire:     r.Expire,
			Packets:    r.Stats.Packets,
			Bytes:      r.Stats.Bytes,
			LastMatch:  r.Stats.LastMatched,
		})
	}
	return &Response{Kind: KindRules, Rules: rules}
}

func (s *Server) handleGetStats() *Response {
	snap := s.sampler.Snapshot()
	return &Response{Kind: KindStats, Stats: &StatsJSON{
		TotalPackets:  snap.TotalPackets,
		TotalBytes:    snap.TotalBytes,
		PacketsPerSec: snap.PacketsPerSec,
		Mbps:          snap.Mbps,
		LastUpdate:    snap.LastUpdate,
	}}
}

func (s *Server) handleLoadWasmModule(req *Request) *Response {
	if s.sandbox == nil {
		return errorResponse("no sandbox host configured")
	}
	if s.loadWasm == nil {
		return errorResponse("no wasm file loader configured")
	}
	bytes, err := s.loadWasm(req.FilePath)
	if err != nil {
		return errorResponse("reading %s: %v", req.FilePath, err)
	}
	if err := s.sandbox.Load(context.Background(), req.Name, bytes); err != nil {
		return errorResponse("%v", err)
	}
	return successResponse("wasm module %q loaded", req.Name)
}

func (s *Server) handleUnloadWasmModule(req *Request) *Response {
	if s.sandbox == nil {
		return errorResponse("no sandbox host configured")
	}
	if err := s.sandbox.Unload(context.Background(), req.Name); err != nil {
		return errorResponse("%v", err)
	}
	return successResponse("wasm module %q unloaded", req.Name)
}

func (s *Server) handleListWasmModules() *Response {
	if s.sandbox == nil {
		return &Response{Kind: KindWasmModules}
	}
	summaries := s.sandbox.List()
	modules := make([]WasmModuleJSON, 0, len(summaries))
	for _, m := range summaries {
		modules = append(modules, WasmModuleJSON{
			Name:          m.ID,
			State:         m.State,
			Processed:     m.Processed,
			Blocked:       m.Blocked,
			AvgProcessing: m.AvgProcessingUs,
		})
	}
	return &Response{Kind: KindWasmModules, WasmModules: modules}
}

func (s *Server) handleWasmModuleStats(req *Request) *Response {
	if s.sandbox == nil {
		return errorResponse("no sandbox host configured")
	}
	for _, m := range s.sandbox.List() {
		if m.ID == req.Name {
			return &Response{Kind: KindWasmModuleStats, WasmModuleStats: &WasmModuleJSON{
				Name:          m.ID,
				State:         m.State,
				Processed:     m.Processed,
				Blocked:       m.Blocked,
				AvgProcessing: m.AvgProcessingUs,
			}}
		}
	}
	return errorResponse("wasm module %q not found", req.Name)
}

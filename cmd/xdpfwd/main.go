// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

// Command xdpfwd is the packet-filtering daemon: it loads a
// pre-built classifier object, optionally attaches it to an
// interface, serves the control protocol, samples telemetry, and
// hosts WASM packet inspectors. Wiring follows the teacher's
// cmd/flywall daemon entry point shape (signal-driven context,
// ordered shutdown), generalized to this daemon's components.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cilium/ebpf"
	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/xdpfw/internal/classifier"
	"grimm.is/xdpfw/internal/ctlserver"
	"grimm.is/xdpfw/internal/mapmgr"
	"grimm.is/xdpfw/internal/sandbox"
	"grimm.is/xdpfw/internal/telemetry"
	"grimm.is/xdpfw/internal/xdpload"
	"grimm.is/xdpfw/internal/xflog"
)

func main() {
	objPath := flag.String("obj", "", "path to the compiled classifier ELF object")
	iface := flag.String("interface", "", "network interface to attach to at startup (optional)")
	mode := flag.String("mode", "driver", "xdp attach mode: driver, generic, or offload")
	ctlAddr := flag.String("ctl-addr", "127.0.0.1:7654", "control protocol listen address")
	metricsAddr := flag.String("metrics-addr", "127.0.0.1:9322", "Prometheus /metrics listen address")
	sampleInterval := flag.Duration("sample-interval", time.Second, "telemetry sample interval")
	flag.Parse()

	logger := xflog.New(slog.LevelInfo)

	if *objPath == "" {
		logger.Error("-obj is required: xdpfwd never compiles or ships classifier source, it only loads one")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *objPath, *iface, *mode, *ctlAddr, *metricsAddr, *sampleInterval); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, objPath, iface, xdpMode, ctlAddr, metricsAddr string, sampleInterval time.Duration) error {
	spec, err := ebpf.LoadCollectionSpec(objPath)
	if err != nil {
		return err
	}

	loader, err := xdpload.NewLoader(spec)
	if err != nil {
		return err
	}
	defer loader.Close()

	if iface != "" {
		mode, err := classifier.ParseXDPMode(xdpMode)
		if err != nil {
			return err
		}
		if err := loader.Attach(iface, mode, false); err != nil {
			return err
		}
		logger.Info("attached", "interface", iface, "mode", mode)
	}

	backend := mapmgr.NewLinuxBackend(loader.FilterRules, loader.RedirectMap, loader.StatsMap)
	manager := mapmgr.NewManager(backend)

	sampler := telemetry.NewSampler(manager, sampleInterval)
	sampleCtx, cancelSample := context.WithCancel(ctx)
	go sampler.Run(sampleCtx)

	sandboxLogger := xflog.WithComponent(logger, "sandbox")
	sbox := sandbox.NewHost(func(moduleID, msg string) {
		sandboxLogger.Info("wasm log", "module", moduleID, "message", msg)
	})
	defer sbox.Close(ctx)

	metrics := telemetry.NewMetrics()
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	go pushMetricsLoop(sampleCtx, sampler, metrics, manager, sbox, sampleInterval)

	metricsLogger := xflog.WithComponent(logger, "metrics")
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: telemetry.NewMetricsRouter(reg)}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			metricsLogger.Error("metrics server", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	srv := ctlserver.NewServer(loader, manager, sampler, sbox, os.ReadFile, xflog.WithComponent(logger, "ctlserver"))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ctx, ctlAddr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		cancelSample()
		return err
	}

	// Ordered teardown (SPEC_FULL.md §9): stop accepting connections
	// (ctx cancellation already triggered the listener close inside
	// Serve), cancel the sampler, then detach and release maps.
	<-serveErr
	cancelSample()

	if state, _ := loader.Status(); state == xdpload.StateAttached {
		if err := loader.Detach(); err != nil {
			logger.Warn("detach on shutdown", "error", err)
		}
	}
	return nil
}

// pushMetricsLoop republishes the sampler's latest snapshot, the
// manager's per-rule match counts, and the sandbox's aggregate
// inspected/blocked totals onto the Prometheus gauges, at the same
// cadence telemetry samples.
func pushMetricsLoop(ctx context.Context, sampler *telemetry.Sampler, metrics *telemetry.Metrics, manager *mapmgr.Manager, sbox *sandbox.Host, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.Update(sampler.Snapshot())

			rules := manager.List(true)
			snapshots := make([]telemetry.RuleSnapshot, len(rules))
			for i, r := range rules {
				snapshots[i] = telemetry.RuleSnapshot{Label: r.Label, Packets: r.Stats.Packets}
			}
			metrics.UpdateRules(snapshots)

			var processed, blocked uint64
			for _, m := range sbox.List() {
				processed += m.Processed
				blocked += m.Blocked
			}
			metrics.UpdateWasm(processed, blocked)
		}
	}
}

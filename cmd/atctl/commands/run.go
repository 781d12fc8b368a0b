package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/atcortex/atengine/internal/config"
	"github.com/atcortex/atengine/internal/diagnostics"
	"github.com/atcortex/atengine/internal/discovery"
	"github.com/atcortex/atengine/internal/engine"
	"github.com/atcortex/atengine/internal/logging"
	"github.com/atcortex/atengine/internal/metrics"
	"github.com/atcortex/atengine/internal/transport"
	"github.com/atcortex/atengine/internal/transport/loopback"
	"github.com/atcortex/atengine/internal/transport/netbridge"
	"github.com/atcortex/atengine/internal/transport/serial"
	"github.com/atcortex/atengine/internal/transport/sshbridge"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start the engine and serve diagnostics until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEngine(cfgFile, "")
	},
}

type engineStatusSource struct {
	e *engine.Engine
}

func (s engineStatusSource) PortStatuses() []diagnostics.PortStatus {
	out := make([]diagnostics.PortStatus, s.e.PortCount())
	for i := range out {
		out[i] = diagnostics.PortStatus{
			Port:       i,
			Busy:       s.e.PortBusy(i),
			QueueDepth: s.e.PortQueueDepth(i),
			QueueCap:   s.e.PortQueueCap(i),
			LastError:  s.e.PortLastError(i),
		}
	}
	return out
}

func (s engineStatusSource) PortStatus(id int) (diagnostics.PortStatus, bool) {
	if id < 0 || id >= s.e.PortCount() {
		return diagnostics.PortStatus{}, false
	}
	return diagnostics.PortStatus{
		Port:       id,
		Busy:       s.e.PortBusy(id),
		QueueDepth: s.e.PortQueueDepth(id),
		QueueCap:   s.e.PortQueueCap(id),
		LastError:  s.e.PortLastError(id),
	}, true
}

// setupLogger parses cfg's log level/format, installs the process-wide
// default logger, and returns it.
func setupLogger(cfg config.Config) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	logger := logging.New(level, format, os.Stderr)
	logging.SetDefault(logger)
	return logger, nil
}

// buildEngine wires one transport.Single per configured port into a
// Multiplexer and constructs the Engine over it. Shared by run, send, and
// serve-diagnostics so each subcommand sees identical port semantics.
func buildEngine(cfg config.Config, logger logging.Logger, observer engine.Observer) (*engine.Engine, error) {
	backends := make([]transport.Single, len(cfg.Ports))
	portConfigs := make([]engine.PortConfig, len(cfg.Ports))
	for i, p := range cfg.Ports {
		backend, err := buildBackend(p, logger)
		if err != nil {
			return nil, fmt.Errorf("port %q: %w", p.Name, err)
		}
		backends[i] = backend
		portConfigs[i] = engine.PortConfig{
			MaxQueue:         p.MaxQueue,
			MaxCmdLen:        p.MaxCmdLen,
			MaxRespLen:       p.MaxRespLen,
			MaxLineLen:       p.MaxLineLen,
			MaxURCHandlers:   p.MaxURCHandlers,
			DefaultTimeoutMS: p.DefaultTimeoutMS,
			EchoIgnore:       p.EchoIgnore,
		}
	}
	return engine.New(transport.NewMultiplexer(backends...), portConfigs, logger, observer)
}

// runEngine runs the engine until ctx/interrupt, serving diagnostics when
// cfg.Diag.Enabled or forceDiagAddr is non-empty (forceDiagAddr overrides
// cfg.Diag.Addr and forces the server on regardless of cfg.Diag.Enabled).
func runEngine(configPath, forceDiagAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := setupLogger(cfg)
	if err != nil {
		return err
	}

	// The diagnostics server's /metrics endpoint serves the default
	// registry, so the collector registers there.
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	eng, err := buildEngine(cfg, logger, collector)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	diagEnabled := cfg.Diag.Enabled
	diagAddr := cfg.Diag.Addr
	if forceDiagAddr != "" {
		diagEnabled = true
		diagAddr = forceDiagAddr
	}
	if diagEnabled {
		diagServer := diagnostics.New(diagAddr, engineStatusSource{e: eng}, logger)
		go diagServer.Start(ctx)
	}

	var advertiser *discovery.Advertiser
	if cfg.Discovery.Enabled {
		advertiser, err = discovery.Advertise(cfg.Discovery.ServiceName, "_atbridge._tcp", cfg.Discovery.Domain, 0, nil)
		if err != nil {
			logger.Warn("discovery advertise failed", logging.Field{Key: "error", Value: err})
		}
	}
	if advertiser != nil {
		defer advertiser.Shutdown()
	}

	interval := time.Second / time.Duration(cfg.PollHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("engine started", logging.Field{Key: "ports", Value: len(cfg.Ports)})
	for {
		select {
		case <-ctx.Done():
			logger.Info("engine shutting down")
			return nil
		case <-ticker.C:
			eng.Poll()
		}
	}
}

func buildBackend(p config.PortSpec, logger logging.Logger) (transport.Single, error) {
	switch p.Transport {
	case "loopback":
		return loopback.New(1), nil
	case "serial":
		return serial.New(p.Target, serial.Options{BaudRate: p.BaudRate}), nil
	case "netbridge":
		return netbridge.New(p.Target, 5*time.Second, logger), nil
	case "sshbridge":
		host, port, err := net.SplitHostPort(p.Target)
		if err != nil {
			return nil, fmt.Errorf("sshbridge target %q: %w", p.Target, err)
		}
		portNum, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("sshbridge target %q: invalid port: %w", p.Target, err)
		}
		return sshbridge.New(sshbridge.Config{
			Host:          host,
			Port:          portNum,
			User:          p.SSHUser,
			Password:      p.SSHPassword,
			KeyPath:       p.SSHKeyPath,
			RemoteCommand: p.SSHRemoteCommand,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", p.Transport)
	}
}

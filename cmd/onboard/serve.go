package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/onboard/pkg/api"
	"github.com/cuemby/onboard/pkg/bigip"
	"github.com/cuemby/onboard/pkg/config"
	"github.com/cuemby/onboard/pkg/dns"
	"github.com/cuemby/onboard/pkg/events"
	"github.com/cuemby/onboard/pkg/health"
	"github.com/cuemby/onboard/pkg/log"
	"github.com/cuemby/onboard/pkg/metrics"
	"github.com/cuemby/onboard/pkg/onboard"
	"github.com/cuemby/onboard/pkg/security"
	"github.com/cuemby/onboard/pkg/storage"
	"github.com/cuemby/onboard/pkg/task"
	"github.com/cuemby/onboard/pkg/types"
)

// taskDrainTimeout bounds how long shutdown waits for running tasks
const taskDrainTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the onboarding agent",
	Long: `Start the REST agent. Declarations are accepted on
POST /declarative-onboarding and tasks are kept in the data directory so
that an onboarding interrupted by a device reboot or license revocation
resumes on the next start.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("address", "", "Listen address (overrides server.address)")
	serveCmd.Flags().String("data-dir", "", "Data directory (overrides data_dir)")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
}

func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := config.New(cfgFile)
	if err != nil {
		return nil, err
	}
	for key, flag := range map[string]string{
		"server.address": "address",
		"data_dir":       "data-dir",
		"log.level":      "log-level",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	return config.FromViper(v)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(cfg.LogConfig())
	metrics.SetVersion(Version)
	logger := log.WithComponent("agent")

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	backend, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentStorage, false, err.Error())
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer backend.Close()
	metrics.UpdateComponent(metrics.ComponentStorage, true, "")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go watchEvents(sub)
	defer broker.Unsubscribe(sub)

	tasks, err := task.NewStore(backend, broker)
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	collector := metrics.NewCollector(tasks)
	collector.Start()
	defer collector.Stop()

	resolver, err := dns.NewResolver(cfg.DNSConfig())
	if err != nil {
		return fmt.Errorf("failed to create resolver: %w", err)
	}

	secrets, err := security.NewSecretsManagerFromFile(cfg.KeyPath())
	if err != nil {
		return fmt.Errorf("failed to load secrets key: %w", err)
	}

	connector := bigip.Dialer{Defaults: cfg.DeviceOptions()}
	monitor := health.NewMonitor(cfg.HealthConfig(), deviceCheckers(cfg, connector)...)
	monitor.Start()
	defer monitor.Stop()

	orch := onboard.New(onboard.Options{
		Tasks:      tasks,
		Connector:  connector,
		Resolver:   resolver,
		Secrets:    secrets,
		Broker:     broker,
		Timing:     cfg.HandlerTiming(),
		RebootPoll: cfg.RebootPoll(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := orch.Resume(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to resume interrupted task")
	}

	var cert *tls.Certificate
	if cfg.Server.TLS {
		cert, err = security.EnsureServerCertificate(cfg.CertDir(), certHosts())
		if err != nil {
			return fmt.Errorf("failed to load server certificate: %w", err)
		}
	}

	server := api.NewServer(orch, tasks, Version).WithCORS(cfg.Server.CORSOrigins)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Address, cert); err != nil {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()

	logger.Info().
		Str("address", cfg.Server.Address).
		Str("data_dir", cfg.DataDir).
		Bool("tls", cert != nil).
		Msg("Agent is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		logger.Info().Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("API server stopped")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("API server shutdown failed")
	}
	cancel()

	drainCtx, stopDrain := context.WithTimeout(context.Background(), taskDrainTimeout)
	defer stopDrain()
	if err := orch.Shutdown(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("Cancelled tasks still running at shutdown")
	}

	logger.Info().Msg("Shutdown complete")
	return runErr
}

// watchEvents logs task transitions and counts them by status
func watchEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for ev := range sub {
		if ev.Type == events.EventTaskStatus || ev.Type == events.EventTaskCreated {
			metrics.TasksTotal.WithLabelValues(string(ev.Status)).Inc()
		}
		logger.Debug().
			Str("type", string(ev.Type)).
			Str("task_id", ev.TaskID).
			Str("status", string(ev.Status)).
			Int("code", ev.Code).
			Msg(ev.Message)
	}
}

// deviceCheckers checks the configured device's management port and, once
// credentials are configured, its REST status
func deviceCheckers(cfg *config.Config, connector bigip.Connector) []health.Checker {
	checkers := []health.Checker{
		health.NewTCPChecker(cfg.Device.Host, cfg.Device.Port),
	}
	if cfg.Device.Username != "" {
		checkers = append(checkers, health.NewDeviceChecker(connector, types.Target{}))
	}
	return checkers
}

func certHosts() []string {
	hosts := []string{"localhost", "127.0.0.1"}
	if name, err := os.Hostname(); err == nil && name != "" {
		hosts = append(hosts, name)
	}
	return hosts
}

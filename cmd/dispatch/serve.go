package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"designer-dispatch/internal/events"
	"designer-dispatch/internal/logging"
	"designer-dispatch/internal/metrics"
	"designer-dispatch/internal/notify"
	"designer-dispatch/internal/sweeper"
	"designer-dispatch/internal/web"
)

const collectorInterval = 5 * time.Second

func runServe(args []string) error {
	cmd, err := newCommand("serve", args)
	if err != nil {
		return err
	}
	seedPath := cmd.fs.String("seed", "", "YAML fixture of designers, availability and companies to load at start")
	if err := cmd.parse(); err != nil {
		return err
	}
	cfg := cmd.cfg

	logger := logging.Init(cfg.InstanceID, cfg.LogLevel)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	startMemoryLogger(ctx, logger, memoryLogIntervalFromEnv(logger))

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()
	if err := b.migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if *seedPath != "" {
		counts, err := seedFile(ctx, b, *seedPath)
		if err != nil {
			return err
		}
		logger.Info("Loaded seed fixture", "path", *seedPath, "designers", counts.Designers,
			"windows", counts.Windows, "companies", counts.Companies, "packages", counts.Packages)
	}

	broker := events.NewBroker(200)
	sinks := []notify.Sink{notify.BrokerSink{Publisher: broker}}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := notify.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer kafka.Close()
		sinks = append(sinks, kafka)
		logger.Info("Publishing notifications to Kafka", "brokers", strings.Join(cfg.Kafka.Brokers, ","), "topic", cfg.Kafka.Topic)
	}
	dispatcher := notify.NewDispatcher(cfg.NotifyBuffer, logger, sinks...)
	defer dispatcher.Close()

	engine, err := newEngine(cfg, b, dispatcher, logger)
	if err != nil {
		return err
	}
	sw, err := sweeper.New(engine, cfg.Sweep.Schedule, cfg.Sweep.BatchSize, logger)
	if err != nil {
		return err
	}

	if cfg.Ops.Addr != "" {
		if cfg.Ops.AuthToken == "" && !isLoopbackAddr(cfg.Ops.Addr) {
			logger.Warn("Ops endpoint has no auth; bind to localhost or set ops.auth_token", "addr", cfg.Ops.Addr)
		}
		server := web.NewServer(b, web.Options{
			Addr:       cfg.Ops.Addr,
			Token:      cfg.Ops.AuthToken,
			AuthLimit:  cfg.Ops.AuthLimit,
			AuthWindow: cfg.Ops.AuthWindow,
			Events:     broker,
			Logger:     logger,
		})
		go func() {
			if err := server.Start(ctx); err != nil {
				logger.Error("Ops server error", "error", err)
				cancel()
			}
		}()
		metrics.StartCollector(ctx, b, collectorInterval, logger)
	}

	logger.Info("Dispatch engine started",
		"store", cfg.Store,
		"confirmation_timeout", cfg.ConfirmationTimeout(),
		"concurrency_cap", cfg.DesignerConcurrencyCap,
		"sweep_schedule", cfg.Sweep.Schedule)
	if err := sw.Start(ctx); err != nil {
		return err
	}
	logger.Info("Dispatch engine stopped", "dropped_notifications", dispatcher.Dropped(), "failed_notifications", dispatcher.Failed())
	return nil
}

func runSweep(args []string) error {
	cmd, err := newCommand("sweep", args)
	if err != nil {
		return err
	}
	once := cmd.fs.Bool("once", false, "Run a single pass and exit")
	if err := cmd.parse(); err != nil {
		return err
	}
	cfg := cmd.cfg

	logger := logging.Init(cfg.InstanceID, cfg.LogLevel)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	engine, err := newEngine(cfg, b, notify.Nop{}, logger)
	if err != nil {
		return err
	}
	sw, err := sweeper.New(engine, cfg.Sweep.Schedule, cfg.Sweep.BatchSize, logger)
	if err != nil {
		return err
	}
	if !*once {
		return sw.Start(ctx)
	}
	pass, err := sw.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Sweep complete: expired %d, reoffered %d, offered %d, unplaced %d (%v)\n",
		pass.Expired, pass.Reoffered, pass.Offered, pass.Unplaced, pass.Duration.Round(time.Millisecond))
	return nil
}

func runMigrate(args []string) error {
	cmd, err := newCommand("migrate", args)
	if err != nil {
		return err
	}
	if err := cmd.parse(); err != nil {
		return err
	}
	ctx := context.Background()
	b, err := openBackend(ctx, cmd.cfg)
	if err != nil {
		return err
	}
	defer b.close()
	if err := b.migrate(ctx); err != nil {
		return err
	}
	fmt.Println("Schema is up to date.")
	return nil
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

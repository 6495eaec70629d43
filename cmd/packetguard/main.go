package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/oarkflow/log"

	"github.com/oarkflow/packetguard"
)

func main() {
	configPath := flag.String("config", "configs/service.yaml", "path to the service configuration file")
	flag.Parse()

	cfg, err := packetguard.LoadServiceConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load service config: %v\n", err)
		os.Exit(1)
	}
	logger := packetguard.NewLogger(cfg.LogLevel, cfg.PrettyLog)

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("packetguard exited with error")
		os.Exit(1)
	}
}

func run(cfg packetguard.ServiceConfig, logger *log.Logger) error {
	detectorCfg, err := packetguard.LoadDetectorConfig(cfg.ConfigDir)
	if err != nil {
		return fmt.Errorf("load detector config: %w", err)
	}
	if err := packetguard.NewDefaultConfigValidator().Validate(&detectorCfg); err != nil {
		return fmt.Errorf("invalid detector config: %w", err)
	}

	source, err := packetguard.NewSQLitePacketSource(cfg.Database)
	if err != nil {
		return fmt.Errorf("open packet database: %w", err)
	}
	defer source.Close()

	metrics := packetguard.NewInMemoryMetricsCollector()
	profiler := packetguard.NewTrafficProfiler(cfg.WindowDuration(), 0)
	telemetry := packetguard.NewTelemetryStore(cfg.HistoryTTLDuration())

	var runner packetguard.CommandRunner
	if cfg.DryRun {
		logger.Info().Msg("dry-run enabled, mitigation commands will be recorded, not executed")
		runner = packetguard.NewDryRunCommandRunner(logger)
	} else {
		runner = packetguard.NewExecCommandRunner(0)
	}
	defense := packetguard.NewDefenseMechanism(runner, runtime.GOOS, logger, metrics)

	limiter := packetguard.NewTokenBucketRateLimiter(30, time.Minute)
	notifications := packetguard.NewNotificationRegistry(limiter, logger)
	notifications.Register(packetguard.NewLogSender(logger))
	if cfg.WebhookURL != "" {
		notifications.Register(packetguard.NewWebhookSender(cfg.WebhookURL, 10*time.Second))
	}
	if cfg.SlackWebhookURL != "" {
		notifications.Register(packetguard.NewSlackSender(cfg.SlackWebhookURL, 10*time.Second))
	}

	broadcast := func(ok bool, message string, det *packetguard.Detection) {
		notifications.Broadcast(packetguard.Notification{
			Success:   ok,
			Message:   message,
			Detection: det,
			Timestamp: time.Now(),
		})
	}
	minSeverity := packetguard.Severity(cfg.AutoDefendMinSeverity)
	callback := func(ok bool, message string, det *packetguard.Detection) {
		broadcast(ok, message, det)
		if !cfg.AutoDefend || !ok || det == nil {
			return
		}
		if det.Severity.Rank() < minSeverity.Rank() {
			return
		}
		defense.StartDefense(det, broadcast)
	}

	recognizer := packetguard.NewAttackRecognizer(source, packetguard.NewDetectors(detectorCfg), packetguard.RecognizerOptions{
		PollInterval: cfg.PollIntervalDuration(),
		Window:       cfg.WindowDuration(),
		HistoryTTL:   cfg.HistoryTTLDuration(),
		ErrorBackoff: cfg.ErrorBackoffDuration(),
		Logger:       logger,
		Metrics:      metrics,
		Profiler:     profiler,
		Telemetry:    telemetry,
	})
	recognizer.StartDetection(callback)

	watcher, err := packetguard.NewConfigWatcher(cfg.ConfigDir, recognizer, logger)
	if err != nil {
		logger.Warn().Err(err).Str("dir", cfg.ConfigDir).Msg("config watcher disabled")
		watcher = nil
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	app.Use(cors.New())
	registerRoutes(app, cfg, source, recognizer, defense, profiler, telemetry, metrics, limiter)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdown
		logger.Info().Msg("shutting down")
		recognizer.StopDetection()
		if watcher != nil {
			watcher.Stop()
		}
		// Active defenses are left in place: mitigations must outlive the
		// process that applied them.
		if err := app.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	logger.Info().Str("listen", cfg.Listen).Str("database", cfg.Database).Msg("packetguard started")
	return app.Listen(cfg.Listen)
}

func registerRoutes(
	app *fiber.App,
	cfg packetguard.ServiceConfig,
	source *packetguard.SQLitePacketSource,
	recognizer *packetguard.AttackRecognizer,
	defense *packetguard.DefenseMechanism,
	profiler *packetguard.TrafficProfiler,
	telemetry *packetguard.TelemetryStore,
	metrics *packetguard.InMemoryMetricsCollector,
	limiter *packetguard.TokenBucketRateLimiter,
) {
	app.Get("/health", func(c *fiber.Ctx) error {
		health := fiber.Map{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
			"services":  fiber.Map{},
		}
		services := health["services"].(fiber.Map)
		check := func(name string, err error) {
			if err != nil {
				health["status"] = "degraded"
				services[name] = fiber.Map{"status": "error", "error": err.Error()}
				return
			}
			services[name] = fiber.Map{"status": "ok"}
		}
		check("packet_source", source.HealthCheck())
		check("metrics", metrics.HealthCheck())
		check("rate_limiter", limiter.HealthCheck())

		statusCode := fiber.StatusOK
		if health["status"] == "degraded" {
			statusCode = fiber.StatusServiceUnavailable
		}
		return c.Status(statusCode).JSON(health)
	})

	app.Get("/api/status", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"running":         recognizer.Running(),
			"active_defenses": len(defense.ActiveDefenses()),
			"history":         recognizer.HistorySummary(),
			"time":            time.Now().Format(time.RFC3339),
		})
	})

	app.Get("/api/attacks", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"attacks": recognizer.AttackHistory()})
	})

	app.Get("/api/attacks/summary", func(c *fiber.Ctx) error {
		return c.JSON(recognizer.HistorySummary())
	})

	app.Get("/api/defenses", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"defenses": defense.ActiveDefenses()})
	})

	app.Post("/api/defenses/:attackID", func(c *fiber.Ctx) error {
		attackID := c.Params("attackID")
		var target *packetguard.Detection
		for _, det := range recognizer.AttackHistory() {
			if det.AttackID() == attackID {
				d := det
				target = &d
				break
			}
		}
		if target == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no detection with that attack id in history"})
		}
		var message string
		started := defense.StartDefense(target, func(_ bool, m string, _ *packetguard.Detection) { message = m })
		status := fiber.StatusOK
		if !started {
			status = fiber.StatusInternalServerError
		}
		return c.Status(status).JSON(fiber.Map{"started": started, "message": message})
	})

	app.Post("/api/defenses/:attackID/stop", func(c *fiber.Ctx) error {
		attackID := c.Params("attackID")
		stopped := defense.StopDefense(attackID)
		status := fiber.StatusOK
		if !stopped {
			status = fiber.StatusInternalServerError
		}
		return c.Status(status).JSON(fiber.Map{"stopped": stopped})
	})

	app.Post("/api/defenses/stop-all", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"all_stopped": defense.StopAllDefenses()})
	})

	app.Post("/api/sessions", func(c *fiber.Ctx) error {
		id, err := source.StartSession()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"session_id": id})
	})

	app.Post("/api/sessions/:id/end", func(c *fiber.Ctx) error {
		if err := source.EndSession(c.Params("id")); err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "session ended"})
	})

	app.Post("/api/sessions/:id/packets", func(c *fiber.Ctx) error {
		var packets []packetguard.Packet
		if err := c.BodyParser(&packets); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid packet payload"})
		}
		if err := source.InsertPackets(c.Params("id"), packets); err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"stored": len(packets)})
	})

	app.Get("/api/profile/:ip", func(c *fiber.Ctx) error {
		return c.JSON(profiler.Snapshot(c.Params("ip"), time.Now()))
	})

	app.Get("/api/telemetry/:ip", func(c *fiber.Ctx) error {
		ip := c.Params("ip")
		snapshot := telemetry.Snapshot(ip)
		if snapshot == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no telemetry for address"})
		}
		return c.JSON(fiber.Map{"address": ip, "metrics": snapshot})
	})

	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
		return c.SendString(metrics.ExportPrometheus())
	})

	app.Post("/api/config/reload", func(c *fiber.Ctx) error {
		if err := packetguard.ReloadDetectorConfig(cfg.ConfigDir, recognizer); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "detector configuration reloaded"})
	})
}

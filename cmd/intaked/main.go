package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/legalmeet/intake/internal/api"
	"github.com/legalmeet/intake/internal/appointment"
	"github.com/legalmeet/intake/internal/classify"
	"github.com/legalmeet/intake/internal/config"
	"github.com/legalmeet/intake/internal/connector"
	"github.com/legalmeet/intake/internal/connector/telegram"
	"github.com/legalmeet/intake/internal/connector/webhook"
	"github.com/legalmeet/intake/internal/connector/whatsapp"
	"github.com/legalmeet/intake/internal/dedupe"
	"github.com/legalmeet/intake/internal/fulfillment"
	"github.com/legalmeet/intake/internal/ledger"
	"github.com/legalmeet/intake/internal/logbuf"
	"github.com/legalmeet/intake/internal/metrics"
	"github.com/legalmeet/intake/internal/orchestrator"
	"github.com/legalmeet/intake/internal/provider"
	"github.com/legalmeet/intake/internal/random"
	"github.com/legalmeet/intake/internal/scheduler"
	"github.com/legalmeet/intake/internal/session"
	"github.com/legalmeet/intake/internal/transcribe"
	"github.com/legalmeet/intake/pkg/protocol"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	configURL := flag.String("config-url", os.Getenv("INTAKE_CONFIG_URL"), "URL serving the config JSON")
	configToken := flag.String("config-token", os.Getenv("INTAKE_CONFIG_TOKEN"), "Bearer token for -config-url")
	deploymentID := flag.String("deployment-id", os.Getenv("INTAKE_DEPLOYMENT_ID"), "Deployment ID sent with -config-url")
	envFile := flag.String("env-file", ".env", "Dotenv file loaded before reading the environment")
	verbose := flag.Bool("v", false, "Verbose logging (overrides server.log_level)")
	flag.Parse()

	boot := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if err := config.LoadDotEnv(*envFile); err != nil {
		boot.Error("failed to load env file", "path", *envFile, "error", err)
		os.Exit(1)
	}

	var cfg *config.Config
	var err error
	switch {
	case *configPath != "":
		cfg, err = config.Load(*configPath)
	case *configURL != "":
		boot.Info("loading config from url", "url", *configURL, "deployment_id", *deploymentID)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		cfg, err = config.LoadFromURL(ctx, config.RemoteOptions{
			URL:          *configURL,
			Token:        *configToken,
			DeploymentID: *deploymentID,
		})
		cancel()
	default:
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		boot.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logBuf := logbuf.New(cfg.Server.LogBuffer)
	logger := newLogger(cfg.Server, *verbose, logBuf)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, logBuf); err != nil {
		logger.Error("intaked stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("intaked stopped")
}

func newLogger(cfg config.ServerConfig, verbose bool, buf *logbuf.Buffer) *slog.Logger {
	level, ok := logbuf.ParseLevel(cfg.LogLevel)
	if !ok {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var inner slog.Handler
	if cfg.LogFormat == "text" {
		inner = slog.NewTextHandler(os.Stdout, opts)
	} else {
		inner = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(logbuf.NewHandler(inner, buf, "content", "email"))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, logBuf *logbuf.Buffer) error {
	// 1. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 2. Storage
	store, err := openLedger(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	deduper, err := openDeduper(cfg.Dedupe)
	if err != nil {
		return err
	}
	defer deduper.Close()

	sessions := session.NewMemoryStore(session.WithLogger(logger))
	defer sessions.Close()
	metrics.RegisterSessionGauge(reg, sessions.Len)

	rnd := random.NewTimeSeeded()

	// 3. Language model
	prov, err := provider.New(provider.Config{
		Type:    cfg.Provider.Type,
		APIKey:  cfg.Provider.APIKey,
		BaseURL: cfg.Provider.BaseURL,
		Model:   cfg.Provider.Model,
	})
	if err != nil {
		return err
	}
	prov = provider.Instrument(prov, m)
	classifier := classify.New(prov, classify.Config{
		Model:           cfg.Provider.Model,
		ClassifyTimeout: cfg.Provider.ClassifyTimeout.Std(),
		ReplyTimeout:    cfg.Provider.ReplyTimeout.Std(),
	}, rnd, m, logger)

	// 4. Case registration and booking
	branding := fulfillment.Branding{
		PlatformURL:  cfg.Branding.PlatformURL,
		SupportEmail: cfg.Branding.SupportEmail,
		SupportPhone: cfg.Branding.SupportPhone,
	}
	fulfiller := fulfillment.NewService(store,
		fulfillment.WithRandom(rnd),
		fulfillment.WithBranding(branding),
		fulfillment.WithSequence(fulfillment.NewSequenceGenerator(0)),
		fulfillment.WithMetrics(m),
		fulfillment.WithLogger(logger),
	)
	booker := appointment.New(store, appointment.Config{
		DeclineClearDelay: cfg.Appointments.DeclineClearDelay.Std(),
		BookedClearDelay:  cfg.Appointments.BookedClearDelay.Std(),
		SupportEmail:      cfg.Branding.SupportEmail,
		SupportPhone:      cfg.Branding.SupportPhone,
	}, appointment.WithMetrics(m), appointment.WithLogger(logger))

	// 5. Connectors. The handler closes over orch, which is built once the
	// senders are known.
	var orch *orchestrator.Orchestrator
	handle := func(ctx context.Context, msg protocol.InboundMessage) error {
		return orch.HandleInbound(ctx, msg)
	}

	dispatcher := orchestrator.NewDispatcher(0, m, logger)
	gateway := newTranscriber(cfg.Transcription, m, logger)

	var connectors []connector.Connector
	var waHandler, hookHandler http.Handler

	if cfg.WhatsApp != nil {
		wa := whatsapp.New(whatsapp.Config{
			PhoneNumberID:  cfg.WhatsApp.PhoneNumberID,
			AccessToken:    cfg.WhatsApp.AccessToken,
			VerifyToken:    cfg.WhatsApp.VerifyToken,
			AppSecret:      cfg.WhatsApp.AppSecret,
			GraphURL:       cfg.WhatsApp.GraphURL,
			ProcessTimeout: cfg.WhatsApp.ProcessTimeout.Std(),
		}, handle, logger)
		dispatcher.Register(whatsapp.Channel, wa)
		connectors = append(connectors, wa)
		waHandler = wa
		if gateway != nil {
			gateway.RegisterFetcher(whatsapp.Channel, wa)
		}
	}

	if cfg.Telegram != nil {
		tg, err := telegram.New(telegram.Config{
			Token:          cfg.Telegram.Token,
			AllowFrom:      cfg.Telegram.AllowFrom,
			ProcessTimeout: cfg.Telegram.ProcessTimeout.Std(),
		}, handle, logger)
		if err != nil {
			return err
		}
		dispatcher.Register(telegram.Channel, tg)
		connectors = append(connectors, tg)
		if gateway != nil {
			gateway.RegisterFetcher(telegram.Channel, tg)
		}
	}

	if cfg.Webhook != nil {
		endpoints := make(map[string]webhook.EndpointConfig, len(cfg.Webhook.Endpoints))
		for name, ep := range cfg.Webhook.Endpoints {
			endpoints[name] = webhook.EndpointConfig{Secret: ep.Secret, BearerToken: ep.BearerToken}
		}
		hook := webhook.New(webhook.Config{Endpoints: endpoints}, handle, logger)
		dispatcher.Register(webhook.Channel, hook)
		hookHandler = hook
	}

	if len(dispatcher.Channels()) == 0 {
		logger.Warn("no channels configured; only the admin API is reachable")
	}

	deps := orchestrator.Deps{
		Sessions:   sessions,
		Classifier: classifier,
		Fulfiller:  fulfiller,
		Booker:     booker,
		Sender:     dispatcher,
		Deduper:    deduper,
		Random:     rnd,
		Metrics:    m,
		Logger:     logger,
	}
	if gateway != nil {
		deps.Transcriber = gateway
	}
	orch = orchestrator.New(deps, orchestrator.Config{
		FollowUpDelay:       cfg.Session.FollowUpDelay.Std(),
		TicketClearDelay:    cfg.Session.TicketClearDelay.Std(),
		DisableAppointments: !cfg.Appointments.IsEnabled(),
	})

	// 6. Housekeeping
	sched := scheduler.New(logger)
	if err := sched.RegisterSweeps(sessions, scheduler.SweepConfig{
		IdleSchedule:  cfg.Session.IdleSchedule,
		IdleTTL:       cfg.Session.IdleTTL.Std(),
		StuckSchedule: cfg.Session.StuckSchedule,
		StuckTTL:      cfg.Session.StuckTTL.Std(),
	}, m); err != nil {
		return err
	}

	// 7. Admin API
	srv := api.NewServer(api.Deps{
		Ledger:    store,
		Sessions:  sessions,
		Registrar: fulfiller,
		Logs:      logBuf,
		Jobs:      sched,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		WhatsApp:  waHandler,
		Webhook:   hookHandler,
	}, api.Config{
		Host:           cfg.API.Host,
		Port:           cfg.API.Port,
		Key:            cfg.API.Key,
		AllowedOrigins: cfg.API.AllowedOrigins,
	}, logger)

	logger.Info("intaked starting",
		"channels", strings.Join(dispatcher.Channels(), ","),
		"storage", cfg.Storage.Type,
		"dedupe", cfg.Dedupe.Type,
		"transcription", gateway != nil,
		"appointments", cfg.Appointments.IsEnabled(),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(ctx) })
	g.Go(func() error { return ignoreCanceled(sched.Start(ctx)) })
	for _, c := range connectors {
		g.Go(func() error {
			err := ignoreCanceled(safeRun(logger, c.Name(), func() error { return c.Start(ctx) }))
			if err != nil {
				return fmt.Errorf("%s connector: %w", c.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func openLedger(cfg config.StorageConfig) (ledger.Ledger, error) {
	if cfg.Type == "sqlite" {
		return ledger.NewSQLiteLedger(cfg.Path)
	}
	return ledger.NewMemoryLedger(), nil
}

func openDeduper(cfg config.DedupeConfig) (dedupe.Deduper, error) {
	if cfg.Type == "redis" {
		return dedupe.OpenRedis(cfg.RedisURL, cfg.TTL.Std())
	}
	return dedupe.NewMemory(cfg.TTL.Std()), nil
}

// newTranscriber returns nil when no transcription key is configured.
func newTranscriber(cfg config.TranscriptionConfig, m *metrics.Metrics, logger *slog.Logger) *transcribe.Gateway {
	if cfg.APIKey == "" {
		logger.Warn("transcription disabled: no api key")
		return nil
	}
	whisper := transcribe.NewWhisperClient(transcribe.WhisperConfig{
		URL:      cfg.URL,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		Language: cfg.Language,
	})
	return transcribe.NewGateway(transcribe.Config{
		FetchTimeout: cfg.FetchTimeout.Std(),
		Timeout:      cfg.Timeout.Std(),
		MaxBytes:     cfg.MaxBytes,
	}, whisper, &transcribe.HTTPFetcher{}, m, logger)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// safeRun runs fn with panic recovery.
func safeRun(logger *slog.Logger, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	return fn()
}

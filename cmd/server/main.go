package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/micro-ha/hue-monitor/internal/alerting"
	"github.com/micro-ha/hue-monitor/internal/clock"
	"github.com/micro-ha/hue-monitor/internal/config"
	"github.com/micro-ha/hue-monitor/internal/eventstream"
	"github.com/micro-ha/hue-monitor/internal/history"
	httpapi "github.com/micro-ha/hue-monitor/internal/http"
	"github.com/micro-ha/hue-monitor/internal/http/handlers"
	"github.com/micro-ha/hue-monitor/internal/hue"
	"github.com/micro-ha/hue-monitor/internal/logging"
	"github.com/micro-ha/hue-monitor/internal/metrics"
	"github.com/micro-ha/hue-monitor/internal/model"
	"github.com/micro-ha/hue-monitor/internal/notify"
	"github.com/micro-ha/hue-monitor/internal/poller"
	"github.com/micro-ha/hue-monitor/internal/realtime"
	"github.com/micro-ha/hue-monitor/internal/service"
	"github.com/micro-ha/hue-monitor/internal/state"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("hue-monitor", pflag.ContinueOnError)
	configDir := flags.String("config-dir", "", "directory holding settings.json and alerts.json")
	addr := flags.StringP("addr", "a", "", "HTTP listen address (default from settings web section)")
	interval := flags.IntP("interval", "i", 0, "polling interval in seconds")
	historyCategories := flags.String("log", "", "comma separated sensor categories to record, or all")
	logLevel := flags.String("log-level", "", "debug, info, warn or error")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := config.Load(config.Overrides{
		ConfigDir:    *configDir,
		HTTPAddr:     *addr,
		PollInterval: time.Duration(*interval) * time.Second,
		History:      *historyCategories,
		LogLevel:     *logLevel,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return 1
	}

	logger := logging.New(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DBDir(), 0o755); err != nil {
		logger.Error("failed to create db directory", "err", err)
		return 1
	}
	repo, err := history.New(ctx, cfg.DBPath, logging.Component(logger, "history"))
	if err != nil {
		logger.Error("failed to initialize history storage", "err", err)
		return 1
	}

	clk := clock.Real()
	store := state.New(clk, logging.Component(logger, "state"))

	rules := alerting.NewRuleSet(cfg.ConfigDir, logging.Component(logger, "alerts"))
	if _, err := rules.Refresh(); err != nil {
		logger.Warn("initial alert rules load failed", "path", rules.Path(), "err", err)
	}

	var sender notify.Sender
	pushover := notify.NewPushover(cfg.Pushover)
	if pushover.Enabled() {
		sender = pushover
	}
	dispatcher := notify.NewDispatcher(sender, store.Stats(), logging.Component(logger, "notify"))

	engine := alerting.NewEngine(rules, dispatcher, store.Stats(), clk, logging.Component(logger, "alerts"))
	hub := realtime.NewHub(store, logging.Component(logger, "realtime"))
	recorder := history.NewRecorder(repo, cfg.HistoryCategories, logging.Component(logger, "history"))

	deps := service.Deps{
		Store:           store,
		Rules:           rules,
		Engine:          engine,
		History:         repo,
		Clients:         hub,
		PushoverEnabled: pushover.Enabled(),
		Clock:           clk,
		Logger:          logging.Component(logger, "service"),
	}
	sources := metrics.Sources{Stats: store.Stats(), Clients: hub, History: recorder}

	var (
		devicePoller *poller.Poller
		consumer     *eventstream.Consumer
	)
	if cfg.Bridge.Configured() {
		client := hue.NewClient(cfg.Bridge)
		checkBridge(ctx, client, logger)

		devicePoller = poller.New(client, store, clk, cfg.PollInterval, logging.Component(logger, "poller"))
		devicePoller.OnFirstPoll(func(_ context.Context, sensors []model.Sensor) {
			if _, err := rules.AutoGenerate(sensors); err != nil {
				logger.Warn("could not generate alert rules", "err", err)
			}
		})
		consumer = eventstream.New(client, store, clk, logging.Component(logger, "eventstream"))

		deps.Lights = client
		deps.Poller = devicePoller
		deps.Stream = consumer
		sources.Stream = consumer
	} else {
		logger.Warn("bridge not configured; polling and event stream disabled",
			"settings", filepath.Join(cfg.ConfigDir, "settings.json"))
	}

	m := metrics.New(sources)
	engine.OnFire(func(rule model.AlertRule, _ model.Alert) {
		m.AlertFired(string(rule.Kind), rule.Priority.String())
	})
	store.Observe(engine)
	store.Observe(hub)
	store.Observe(recorder)
	rules.OnChange(hub.BroadcastRules)

	recorderCtx, stopRecorder := context.WithCancel(context.Background())
	recorderDone := make(chan struct{})
	go func() {
		defer close(recorderDone)
		recorder.Run(recorderCtx)
	}()

	var producers sync.WaitGroup
	producers.Add(1)
	go func() {
		defer producers.Done()
		rules.Watch(ctx, cfg.AlertsReloadInterval)
	}()
	if devicePoller != nil {
		producers.Add(2)
		go func() {
			defer producers.Done()
			devicePoller.Run(ctx)
		}()
		go func() {
			defer producers.Done()
			consumer.Run(ctx)
		}()
	}

	api := handlers.New(service.New(deps), cfg.Bridge, logger, cfg.FrontendDist)
	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(api, httpapi.Options{
			WebSocket:  hub.ServeWS,
			Metrics:    m.Handler(),
			Instrument: m.Middleware,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverCtx, stopServer := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpapi.RunServer(serverCtx, httpServer, logger)
	}()
	logger.Info("server starting",
		"addr", httpServer.Addr,
		"poll_interval", cfg.PollInterval.String(),
		"pushover", pushover.Enabled(),
		"history_categories", cfg.HistoryCategories,
	)

	exitCode := 0
	serverStopped := false
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		serverStopped = true
		if err != nil {
			logger.Error("server terminated with error", "err", err)
			exitCode = 1
		}
		stop()
	}

	// Producers first, then the HTTP surface, then in-flight pushes, then history.
	producers.Wait()
	stopServer()
	if !serverStopped {
		if err := <-serverErr; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server shutdown failed", "err", err)
			exitCode = 1
		}
	}
	hub.Close()

	dispatchCtx, cancelDispatch := context.WithTimeout(context.Background(), 10*time.Second)
	if err := dispatcher.Close(dispatchCtx); err != nil {
		logger.Warn("abandoned in-flight notifications", "err", err)
	}
	cancelDispatch()

	stopRecorder()
	<-recorderDone
	if err := repo.Close(); err != nil {
		logger.Warn("closing history storage failed", "err", err)
	}
	logger.Info("server stopped")
	return exitCode
}

// checkBridge logs whether the bridge answers; failures are not fatal.
func checkBridge(ctx context.Context, client *hue.Client, logger *slog.Logger) {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	name, err := client.BridgeName(checkCtx)
	if err != nil {
		logger.Warn("could not connect to hue bridge", "bridge", client.Config().Host, "err", err)
		return
	}
	logger.Info("connected to hue bridge", "bridge", name)
}

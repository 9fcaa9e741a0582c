// Command triggerd runs the trigger engine for one profile.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"apptrigger/internal/control"
	"apptrigger/internal/event"
	"apptrigger/internal/logging"
	"apptrigger/internal/metrics"
	"apptrigger/internal/profile"
	"apptrigger/internal/trigger"
)

var (
	configPath  string
	profileName string
	profileDir  string
	logLevel    string
	natsURL     string
	metricsAddr string
	noWatch     bool
)

var rootCmd = &cobra.Command{
	Use:   "triggerd",
	Short: "Run application triggers for a profile",
	Long: `triggerd loads a trigger profile and runs it: global hotkeys, process and port
watchers, and system events fire the profile's actions until the daemon is stopped.`,
	SilenceUsage: true,
	RunE:         runDaemon,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "triggerd.yaml", "Path to the daemon config file")
	rootCmd.Flags().StringVarP(&profileName, "profile", "p", "", "Profile to run (defaults to the last used profile)")
	rootCmd.Flags().StringVar(&profileDir, "profile-dir", "", "Directory holding profile files")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL for activations, system events and the profile bucket")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload the profile when it changes")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadDaemonConfig(cmd *cobra.Command) (Config, error) {
	cfg, err := LoadConfig(configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("profile") {
		cfg.Profile = profileName
	}
	if flags.Changed("profile-dir") {
		cfg.ProfileDir = profileDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("nats-url") {
		cfg.NATSURL = natsURL
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if noWatch {
		cfg.WatchProfile = false
	}
	return cfg, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadDaemonConfig(cmd)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return err
	}
	defer logging.Sync(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var collector metrics.Collector = metrics.Nop{}
	if cfg.MetricsAddr != "" {
		prom := metrics.NewPrometheus("apptrigger")
		collector = prom
		srv := serveMetrics(cfg.MetricsAddr, prom.Handler(), log)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var (
		nc    *nats.Conn
		sinks event.Sinks
	)
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("triggerd"))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Close()
		sinks = append(sinks, event.NewPublisher(nc, cfg.NATSSubject))
	}
	if cfg.NotifyDesktop {
		sinks = append(sinks, event.NewDesktopNotifier(cfg.NotifyOnlyFailures))
	}

	store, err := openStore(ctx, cfg, nc, log)
	if err != nil {
		return err
	}

	settings, err := profile.LoadSettings(cfg.SettingsPath)
	if err != nil {
		log.Warn("ignoring unreadable settings", logging.Err(err))
	}
	name := cfg.Profile
	if name == "" {
		name = settings.LastProfile
	}
	if name == "" {
		name = "default"
	}

	p, err := store.Load(ctx, name)
	if errors.Is(err, profile.ErrProfileNotFound) {
		log.Warn("profile not found, starting with no triggers", logging.F("profile", name))
		p = profile.New(name)
	} else if err != nil {
		return err
	}

	opts := []trigger.Option{
		trigger.WithLogger(log),
		trigger.WithMetrics(collector),
		trigger.WithMaxParallel(cfg.MaxParallel),
		trigger.WithDefaultPollInterval(cfg.DefaultPollInterval),
	}
	if len(sinks) > 0 {
		opts = append(opts, trigger.WithSink(sinks))
	}
	engine := trigger.NewEngine(opts...)
	defer engine.Close()

	if err := engine.ReplaceAll(p.Triggers); err != nil {
		log.Error("some triggers could not be started", logging.Err(err))
	}
	log.Info("profile loaded",
		logging.F("profile", p.Name),
		logging.F("version", p.Version),
		logging.F("triggers", engine.Len()),
		logging.F("keyboard_hook", engine.KeyboardHookActive()))

	if cfg.WatchProfile {
		stop, err := watchProfile(ctx, store, p.Name, engine, log)
		if err != nil {
			log.Warn("profile reload disabled", logging.Err(err))
		} else {
			defer stop()
		}
	}

	if nc != nil {
		src := event.NewSystemEventSource(nc, event.SourceConfig{Subject: cfg.SystemEventSubject}, func(name string) error {
			engine.RaiseSystemEvent(name)
			return nil
		}, log)
		if err := src.Start(ctx); err != nil {
			return fmt.Errorf("failed to subscribe to system events: %w", err)
		}
		defer src.Stop()

		svc, err := control.NewService(nc, engine, control.ServiceConfig{
			SubjectPrefix: cfg.ControlSubject,
			Profile:       func() string { return p.Name },
		}, log)
		if err != nil {
			return err
		}
		defer svc.Stop()
	}

	settings.LastProfile = p.Name
	if err := profile.SaveSettings(cfg.SettingsPath, settings); err != nil {
		log.Warn("failed to save settings", logging.Err(err))
	}

	if err := engine.Start(ctx); err != nil {
		return err
	}
	log.Info("trigger daemon started")
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func openStore(ctx context.Context, cfg Config, nc *nats.Conn, log logging.Logger) (profile.Store, error) {
	if cfg.NATSKVBucket == "" {
		return profile.NewFileStore(cfg.ProfileDir), nil
	}
	if nc == nil {
		return nil, fmt.Errorf("nats_kv_bucket requires nats_url")
	}
	store, err := profile.NewNATSStore(nc, cfg.NATSKVBucket, log)
	if err != nil {
		return nil, err
	}
	if err := store.LoadAll(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// watchProfile reloads the engine whenever the running profile changes in its store.
func watchProfile(ctx context.Context, store profile.Store, name string, engine *trigger.Engine, log logging.Logger) (func(), error) {
	reload := func(p *profile.Profile) {
		if err := engine.ReplaceAll(p.Triggers); err != nil {
			log.Error("profile reload failed", logging.F("profile", name), logging.Err(err))
			return
		}
		log.Info("profile reloaded", logging.F("profile", name), logging.F("triggers", engine.Len()))
	}

	switch s := store.(type) {
	case *profile.FileStore:
		w := profile.NewWatcher(s.Path(name), reload, profile.WithWatchLogger(log))
		if err := w.Start(); err != nil {
			return nil, err
		}
		return func() { _ = w.Stop() }, nil
	case *profile.NATSStore:
		watchCtx, cancel := context.WithCancel(ctx)
		err := s.Watch(watchCtx, func(changed string, p *profile.Profile) {
			if changed != name {
				return
			}
			if p == nil {
				log.Warn("running profile was deleted from the bucket", logging.F("profile", name))
				return
			}
			reload(p)
		})
		if err != nil {
			cancel()
			return nil, err
		}
		return cancel, nil
	}
	return nil, fmt.Errorf("store %T cannot be watched", store)
}

func serveMetrics(addr string, handler http.Handler, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", logging.Err(err))
		}
	}()
	log.Info("serving metrics", logging.F("addr", addr))
	return srv
}

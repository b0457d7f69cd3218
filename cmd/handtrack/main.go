package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/ayusman/handtrack/internal/app"
	"github.com/ayusman/handtrack/internal/config"
	"github.com/ayusman/handtrack/internal/detector"
	"github.com/ayusman/handtrack/internal/emitter"
	"github.com/ayusman/handtrack/internal/plugin"
	"github.com/ayusman/handtrack/internal/server"
	"github.com/ayusman/handtrack/internal/store"
	"github.com/ayusman/handtrack/internal/tray"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	withTray := flag.Bool("tray", false, "Show a system tray icon")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "handtrack: %v\n", err)
			os.Exit(2)
		}
	}

	setupLogging(cfg.Log)

	if err := run(cfg, *withTray); err != nil {
		log.Error().Err(err).Msg("handtrack failed")
		os.Exit(1)
	}
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func run(cfg *config.Config, withTray bool) error {
	log.Info().Int("workers", len(cfg.Workers)).Int("camera", cfg.Camera.Device).Msg("starting handtrack")

	if needsONNX(cfg) {
		if err := detector.InitRuntime(cfg.ONNX.LibraryPath); err != nil {
			return err
		}
		defer detector.DestroyRuntime()
	}

	models, err := buildModels(cfg, newDetector(cfg))
	if err != nil {
		return err
	}

	pipeline, err := newPipeline(cfg, newCamera(cfg), models)
	if err != nil {
		return err
	}

	var sinks []emitter.Sink

	var st *store.Store
	if cfg.Store.Path != "" {
		st, err = openStore(cfg.Store.Path)
		if err != nil {
			pipeline.Stop()
			return err
		}
		defer st.Close()

		pipeline.SetEnabled(st.Settings().GetBool(store.SettingEnabled, true))

		snapshot, _ := json.Marshal(cfg)
		sess, err := st.Sessions().Start(string(snapshot))
		if err != nil {
			pipeline.Stop()
			return fmt.Errorf("failed to start session: %w", err)
		}
		defer func() {
			if err := st.Sessions().End(sess.ID); err != nil {
				log.Warn().Err(err).Msg("failed to end session")
			}
		}()
		log.Info().Str("session", sess.ID).Str("path", cfg.Store.Path).Msg("persisting results")
		sinks = append(sinks, st.NewResultSink(sess.ID))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MQTT.Broker != "" {
		mq := emitter.NewMQTTSink(emitter.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Encoding: cfg.MQTT.Encoding,
			QoS:      cfg.MQTT.QoS,
		})
		if err := mq.Connect(ctx); err != nil {
			// The client keeps retrying in the background.
			log.Warn().Err(err).Msg("mqtt unavailable at startup")
		}
		defer mq.Close()
		sinks = append(sinks, mq)
	}

	var (
		manager    *plugin.Manager
		dispatcher *plugin.Dispatcher
	)
	if cfg.Plugins.Dir != "" {
		manager = plugin.NewManager(cfg.Plugins.Dir)
		if err := manager.Discover(); err != nil {
			log.Warn().Err(err).Str("dir", cfg.Plugins.Dir).Msg("plugin discovery failed")
		}
		log.Info().Int("plugins", len(manager.List())).Str("dir", cfg.Plugins.Dir).Msg("plugins discovered")
		dispatcher = plugin.NewDispatcher(manager, plugin.NewExecutor(cfg.Plugins.Timeout), cfg.Plugins.QueueSize)
		sinks = append(sinks, dispatcher)
	}

	setEnabled := func(enabled bool) {
		pipeline.SetEnabled(enabled)
		if st != nil {
			if err := st.Settings().SetBool(store.SettingEnabled, enabled); err != nil {
				log.Warn().Err(err).Msg("failed to persist enabled flag")
			}
		}
	}

	var httpSrv *http.Server
	if cfg.Server.Addr != "" {
		hub := server.NewHub()
		sinks = append(sinks, hub)

		webDir := findWebDir()
		if webDir != "" {
			log.Info().Str("dir", webDir).Msg("serving static files")
		}
		srv := server.New(server.Config{
			StaticDir:  webDir,
			View:       pipeline.View(),
			Controller: controller{pipeline, setEnabled},
			Store:      st,
			Hub:        hub,
			Plugins:    manager,
			StaleAfter: cfg.Server.StaleAfter,
		})
		httpSrv = srv.HTTPServer(cfg.Server.Addr)
		go func() {
			log.Info().Str("addr", cfg.Server.Addr).Msg("http server listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("http server failed")
			}
		}()
	}

	if err := pipeline.Start(ctx); err != nil {
		if httpSrv != nil {
			httpSrv.Close()
		}
		pipeline.Stop()
		return err
	}

	if dispatcher != nil {
		go dispatcher.Run(ctx)
	}
	if len(sinks) > 0 {
		go emitter.NewForwarder(pipeline.View(), cfg.Emitter.Interval, sinks...).Run(ctx)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if withTray {
		t := tray.New(pipeline.View(), cfg.Server.StaleAfter, pipeline.IsEnabled())
		t.OnToggle(setEnabled)
		if cfg.Server.Addr != "" {
			t.OnDashboard(func() { openBrowser(dashboardURL(cfg.Server.Addr)) })
		}
		go func() {
			select {
			case sig := <-sigChan:
				log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			case <-pipeline.Done():
			}
			t.Quit()
		}()
		// systray needs the main goroutine.
		t.Run()
	} else {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		case <-pipeline.Done():
			log.Warn().Msg("pipeline stopped on its own")
		}
	}

	log.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down gracefully")

	var errs []error
	if httpSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	cancel()
	if err := pipeline.Stop(); err != nil {
		errs = append(errs, err)
	}

	stats := pipeline.Stats()
	for name, ws := range stats.Workers {
		log.Info().Str("worker", name).
			Uint64("inferences", ws.Inferences).
			Uint64("extrapolations", ws.Extrapolations).
			Uint64("failures", ws.Failures).
			Msg("worker summary")
	}
	if dispatcher != nil {
		ds := dispatcher.Stats()
		log.Info().Uint64("executed", ds.Executed).Uint64("failed", ds.Failed).Uint64("dropped", ds.Dropped).Msg("plugin summary")
	}
	log.Info().Uint64("frames", stats.Source.Captured).Msg("handtrack stopped")

	return errors.Join(errs...)
}

// controller routes API toggles through the persisting setter.
type controller struct {
	*app.App
	set func(bool)
}

func (c controller) SetEnabled(enabled bool) { c.set(enabled) }

func openStore(path string) (*store.Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return store.New(path)
}

func dashboardURL(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/"
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("failed to open browser")
	}
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.handtrack/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".handtrack", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}

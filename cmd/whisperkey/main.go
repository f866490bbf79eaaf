// Command whisperkey is a push-to-talk dictation daemon: hold a global
// hotkey to record, release to transcribe locally and copy the text to the
// clipboard.
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
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/whisperkey/whisperkey/internal/capture"
	"github.com/whisperkey/whisperkey/internal/config"
	"github.com/whisperkey/whisperkey/internal/engine"
	"github.com/whisperkey/whisperkey/internal/health"
	"github.com/whisperkey/whisperkey/internal/hotkey"
	"github.com/whisperkey/whisperkey/internal/hotkey/xhk"
	"github.com/whisperkey/whisperkey/internal/observe"
	"github.com/whisperkey/whisperkey/internal/output"
	"github.com/whisperkey/whisperkey/internal/permission"
	"github.com/whisperkey/whisperkey/internal/pipeline"
	"github.com/whisperkey/whisperkey/internal/resilience"
)

const version = "0.3.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "whisperkey: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "whisperkey: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("whisperkey starting",
		"version", version,
		"config", *configPath,
		"hotkey", cfg.Hotkey.Key,
		"model_variant", cfg.Model.Variant,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Permissions ───────────────────────────────────────────────────────────
	// The optimistic authority reports granted; real denials surface when the
	// hotkey hook or audio stream is opened.
	auth := permission.Default()
	if err := auth.Request(ctx); err != nil {
		slog.Warn("permission request failed", "err", err)
	}
	slog.Debug("permission status",
		"input_monitoring", auth.InputMonitoring(),
		"microphone", auth.Microphone(),
	)

	// ── Components ────────────────────────────────────────────────────────────
	spec, err := keySpecFromConfig(cfg.Hotkey)
	if err != nil {
		slog.Error("invalid hotkey", "key", cfg.Hotkey.Key, "err", err)
		return 1
	}

	recorder := capture.NewRecorder(capture.NewDeviceSource(), capture.Config{
		Device:      cfg.Audio.Device,
		ChunkFrames: cfg.Audio.ChunkFrames,
	})

	eng := engine.New(engine.Config{
		ModelDir:    cfg.Model.Dir,
		Language:    cfg.Model.Language,
		CancelGrace: cfg.Model.CancelGrace(),
		Durations:   metrics,
	})
	defer eng.Close()

	var clip output.Clipboard
	if cfg.Output.ClipboardEnabled() {
		clip, err = output.NewSystemClipboard()
		if err != nil {
			slog.Warn("clipboard unavailable, transcriptions will only reach the paste command", "err", err)
		}
	}

	tray := output.NewTray()
	sink := output.NewSink(output.Config{
		Clipboard:     clip,
		PasteCommand:  output.ParsePasteCommand(cfg.Output.PasteCommand),
		View:          tray,
		Notifications: cfg.Output.NotificationsEnabled(),
	})

	pl := pipeline.New(pipeline.Config{
		Recorder: recorder,
		Engine:   eng,
		Sink:     sink,
		Metrics:  metrics,
		Variant:  cfg.Model.Variant,
	})
	pl.Start()
	defer pl.Stop()

	detector := hotkey.NewDetector(spec, cfg.Hotkey.Debounce(), pl, xhk.NewSource,
		hotkey.WithSupervisor(resilience.NewSupervisor(resilience.SupervisorConfig{
			Name: "hotkey-source",
		})),
	)
	if err := detector.Start(); err != nil {
		if errors.Is(err, hotkey.ErrPermissionDenied) {
			slog.Error("cannot register global hotkey, grant input monitoring permission and restart", "err", err)
		} else {
			slog.Error("cannot register global hotkey", "key", spec.String(), "err", err)
		}
		metrics.RecordHotkeyError(ctx)
		return 1
	}
	defer detector.Stop()

	// Warm the model so the first hold does not pay the load cost.
	go func() {
		if err := eng.Preload(ctx, cfg.Model.Variant); err != nil {
			slog.Warn("model preload failed", "variant", cfg.Model.Variant, "err", err)
			if hint := engine.RecoveryHint(err); hint != "" {
				slog.Info("recovery hint", "hint", hint)
			}
		}
	}()

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, newCfg *config.Config) {
		d := config.Diff(old, newCfg)
		if !d.Any() {
			return
		}
		applyConfigChange(d, detector, pl, eng, logLevel)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	}

	// ── Diagnostics endpoint ──────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		health.New(
			health.HotkeyRunning(detector.Running),
			health.ModelDirPresent(cfg.Model.Dir),
		).Register(mux)

		srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
		g.Go(func() error {
			slog.Info("diagnostics endpoint listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	printStartupSummary(cfg, spec)
	slog.Info("ready, hold the hotkey to dictate")

	// systray needs the main goroutine; the tray loop blocks until Quit is
	// chosen or the signal context ends.
	go func() {
		<-ctx.Done()
		output.StopTray()
	}()
	tray.Run(stop)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	stop()
	if watcher != nil {
		watcher.Stop()
	}
	if err := g.Wait(); err != nil {
		slog.Error("diagnostics endpoint error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// keySpecFromConfig resolves the configured trigger, preferring a raw key
// code over the named spec.
func keySpecFromConfig(hc config.HotkeyConfig) (hotkey.KeySpec, error) {
	if hc.KeyCode != 0 {
		return hotkey.FromCode(hc.KeyCode), nil
	}
	return hotkey.ParseKeySpec(hc.Key)
}

// applyConfigChange applies a hot-reloadable diff to the running components.
func applyConfigChange(d config.ConfigDiff, detector *hotkey.Detector, pl *pipeline.Pipeline, eng *engine.Engine, logLevel *slog.LevelVar) {
	if d.HotkeyChanged {
		spec, err := keySpecFromConfig(d.NewHotkey)
		if err != nil {
			slog.Error("ignoring hotkey change, new spec is invalid", "err", err)
		} else {
			detector.SetDebounce(d.NewHotkey.Debounce())
			if err := detector.Rebind(spec); err != nil {
				slog.Error("hotkey rebind failed, old binding lost", "key", spec.String(), "err", err)
				observe.DefaultMetrics().RecordHotkeyError(context.Background())
			} else {
				slog.Info("hotkey rebound", "key", spec.String(), "debounce", d.NewHotkey.Debounce())
			}
		}
	}
	if d.VariantChanged {
		pl.SetVariant(d.NewVariant)
		slog.Info("model variant changed", "variant", d.NewVariant)
		// Swap the resident model now rather than on the next hold. Preload
		// waits for any in-flight task, so do it off the watcher goroutine.
		go func() {
			if err := eng.Preload(context.Background(), d.NewVariant); err != nil {
				slog.Warn("preload of new variant failed, next transcription will retry",
					"variant", d.NewVariant, "err", err)
			}
		}()
	}
	if d.LanguageChanged {
		eng.SetLanguage(d.NewLanguage)
		slog.Info("transcription language changed", "language", d.NewLanguage)
	}
	if d.LogLevelChanged {
		logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, spec hotkey.KeySpec) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        whisperkey: ready to dictate   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Hotkey", spec.String())
	printRow("Debounce", cfg.Hotkey.Debounce().String())
	printRow("Model", cfg.Model.Variant)
	printRow("Language", orAuto(cfg.Model.Language))
	printRow("Clipboard", onOff(cfg.Output.ClipboardEnabled()))
	if cfg.Output.PasteCommand != "" {
		printRow("Paste cmd", cfg.Output.PasteCommand)
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Diagnostics", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(name, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s : %-19s ║\n", name, value)
}

func orAuto(s string) string {
	if s == "" {
		return "(auto)"
	}
	return s
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

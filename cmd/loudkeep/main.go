package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/petems/loudkeep/internal/app"
	"github.com/petems/loudkeep/internal/audio"
	"github.com/petems/loudkeep/internal/config"
	"github.com/petems/loudkeep/internal/logging"
	"github.com/petems/loudkeep/internal/observe"
	"github.com/petems/loudkeep/internal/permissions"
	"github.com/petems/loudkeep/internal/server"
	"github.com/petems/loudkeep/internal/session"
	"github.com/petems/loudkeep/internal/tray"
	"github.com/petems/loudkeep/internal/tui"
	"github.com/petems/loudkeep/internal/upload"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

// CLI defines the command-line interface
type CLI struct {
	Config      string `short:"c" type:"path" help:"Path to YAML config file (default: platform config dir)"`
	UI          string `default:"tui" enum:"tui,tray,headless" help:"Presentation: ${enum}"`
	Listen      string `help:"Serve the WebSocket control feed and /metrics on this address, e.g. 127.0.0.1:8765"`
	LogLevel    string `help:"Override the configured log level"`
	ListDevices bool   `help:"Print the usable input devices and exit"`
	Version     bool   `short:"v" help:"Show version information"`
}

func main() {
	cli := &CLI{}
	kong.Parse(cli,
		kong.Name("loudkeep"),
		kong.Description("Records audio in fixed segments and keeps only the loud ones"),
		kong.UsageOnError(),
	)

	if cli.Version {
		fmt.Printf("loudkeep %s (%s)\n", Version, Commit)
		return
	}

	if err := run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "loudkeep: %v\n", err)
		os.Exit(1)
	}
}

func run(cli *CLI) error {
	// Load config from XDG/Library/AppData
	cfg, cfgErr := config.Load(cli.Config)

	level := cfg.LogLevel
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	// The TUI owns the terminal, so logs go to the file only.
	log, logErr := logging.NewWithLevel(level, cli.UI != "tui")
	if logErr != nil {
		log.Warn().Err(logErr).Msg("File logging disabled")
	}
	if cfgErr != nil {
		log.Warn().Err(cfgErr).Str("path", cfg.Path()).Msg("Config unreadable, using defaults")
	}
	for _, p := range cfg.Problems {
		log.Warn().Str("path", cfg.Path()).Msg(p)
	}

	// macOS delivers silence until microphone access is approved
	if err := permissions.EnsureMicrophone(); err != nil {
		return fmt.Errorf("microphone access: %w", err)
	}

	host, err := audio.NewPortAudioHost()
	if err != nil {
		return fmt.Errorf("initialize audio: %w", err)
	}
	defer host.Close()

	if cli.ListDevices {
		return listDevices(host, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: Version})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()
	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	var (
		uploader *upload.Uploader
		uploads  session.Uploads
	)
	if cfg.S3.Enabled() {
		s3cfg := upload.Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		}
		uploader = upload.New(upload.NewClient(s3cfg), s3cfg, upload.Options{
			Reporter: metrics,
			Logger:   log,
		})
		uploads = uploader
	}

	application := app.New(app.Config{
		Host:    host,
		Config:  cfg,
		Logger:  log,
		Metrics: metrics,
		Uploads: uploads,
	})
	application.RefreshDevices()

	log.Info().
		Str("version", Version).
		Str("ui", cli.UI).
		Str("format", application.Format().String()).
		Float64("threshold_db", application.Threshold().DB).
		Msg("loudkeep starting...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// Uploads outlive the UI so the last kept segment still gets mirrored.
	uploadCtx, stopUploads := context.WithCancel(context.WithoutCancel(ctx))
	defer stopUploads()
	if uploader != nil {
		g.Go(func() error { return uploader.Run(uploadCtx) })
	}

	listen := cfg.Server.Listen
	if cli.Listen != "" {
		listen = cli.Listen
	}
	if listen != "" {
		srv := server.New(application, provider.Handler(), log)
		g.Go(func() error { return srv.Run(gctx, listen) })
	}

	var uiErr error
	switch cli.UI {
	case "tray":
		// systray must own the main thread
		ui := tray.New(application, Version, Commit, log, cancel)
		application.SetStatusUpdater(ui)
		uiErr = ui.Run(gctx)
	case "tui":
		updates, unsubscribe := application.Subscribe(16)
		uiErr = tui.Run(gctx, application, updates)
		unsubscribe()
	default:
		uiErr = runHeadless(gctx, application)
	}
	cancel()

	log.Info().Msg("Shutting down...")
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
	stopUploads()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if uiErr == nil {
		uiErr = application.Err()
	}
	return uiErr
}

// runHeadless records until ctx ends or the session stops by itself.
func runHeadless(ctx context.Context, application *app.App) error {
	if err := application.Start(); err != nil {
		return err
	}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !application.IsRecording() {
				return application.Err()
			}
		}
	}
}

func listDevices(host audio.Host, log zerolog.Logger) error {
	catalog := audio.NewCatalog(host, log)
	devices := catalog.Refresh()
	if len(devices) == 0 {
		return errors.New("no usable input devices")
	}
	for _, d := range devices {
		fmt.Printf("%3d  %-40s  %d ch  %d Hz\n", d.Index, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
	}
	return nil
}

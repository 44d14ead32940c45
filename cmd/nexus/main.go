package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/csheth/nexus/internal/analysis"
	"github.com/csheth/nexus/internal/config"
	"github.com/csheth/nexus/internal/document"
	"github.com/csheth/nexus/internal/export"
	"github.com/csheth/nexus/internal/health"
	"github.com/csheth/nexus/internal/history"
	"github.com/csheth/nexus/internal/remote"
	"github.com/csheth/nexus/internal/tui"
)

const startupTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (default: user config dir)")
	apiURL := flag.String("api-url", "", "analysis service base URL (overrides config and NEXUS_API_URL)")
	exportDir := flag.String("export-dir", "", "directory for exported study guides")
	logFile := flag.String("log-file", "", "write structured logs to this file")
	analyzeTimeout := flag.Duration("analyze-timeout", 0, "how long to wait for an analysis")
	noAltScreen := flag.Bool("no-alt-screen", false, "disable the alternate screen buffer")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("failed to load config:", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		fmt.Println("invalid environment:", err)
		os.Exit(1)
	}
	if *apiURL != "" {
		cfg.API.BaseURL = *apiURL
	}
	if *exportDir != "" {
		cfg.Export.Dir = *exportDir
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	if *analyzeTimeout > 0 {
		cfg.API.AnalyzeTimeout = *analyzeTimeout
	}
	if *noAltScreen {
		cfg.UI.AltScreen = false
	}
	if err := cfg.Validate(); err != nil {
		fmt.Println("invalid config:", err)
		os.Exit(1)
	}

	logger, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Println("failed to open log file:", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, logger); err != nil {
		logger.Error("nexus exited", "error", err)
		fmt.Println("program error:", err)
		closeLog()
		os.Exit(1)
	}
}

func newLogger(cfg config.Log) (*slog.Logger, func(), error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	if cfg.File == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}
	f, err := tea.LogToFile(cfg.File, "nexus")
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return logger, func() { _ = f.Close() }, nil
}

func run(cfg config.Config, logger *slog.Logger) error {
	client, err := remote.New(remote.Config{
		BaseURL:        cfg.API.BaseURL,
		Timeout:        cfg.API.Timeout,
		AnalyzeTimeout: cfg.API.AnalyzeTimeout,
		MaxBodyBytes:   cfg.API.MaxBodyBytes,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	controller := analysis.NewController(client, analysis.WithLogger(logger))
	controller.Subscribe(func(snap analysis.Snapshot) {
		logger.Debug("analysis state", "state", snap.State, "request", snap.RequestID)
	})
	cache := history.NewCache(client, logger)
	monitor := health.NewMonitor(client, logger)

	var (
		sink   export.Sink
		target string
		bucket *export.BucketSink
	)
	if b := cfg.Export.Bucket; b.Enabled() {
		bucket, err = export.NewBucketSink(export.BucketConfig{
			Endpoint:  b.Endpoint,
			AccessKey: b.AccessKey,
			SecretKey: b.SecretKey,
			Bucket:    b.Name,
			Region:    b.Region,
			Prefix:    b.Prefix,
			UseSSL:    b.UseSSL,
		})
		if err != nil {
			return err
		}
		sink, target = bucket, fmt.Sprintf("bucket %s at %s", b.Name, b.Endpoint)
	} else {
		dir := export.NewDirSink(cfg.Export.Dir)
		sink, target = dir, dir.Dir
	}
	exporter := export.NewHandler(client, sink, export.WithSuffix(cfg.Export.Suffix), export.WithLogger(logger))

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		state := monitor.Probe(gctx)
		logger.Info("startup probe", "url", client.BaseURL(), "state", state)
		return nil
	})
	if bucket != nil {
		g.Go(func() error {
			if err := bucket.EnsureBucket(gctx); err != nil {
				return fmt.Errorf("prepare export bucket: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	maxBytes := cfg.Document.MaxBytes
	opts := []tea.ProgramOption{tea.WithMouseCellMotion()}
	if cfg.UI.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	program := tea.NewProgram(
		tui.New(tui.Config{
			Controller: controller,
			History:    cache,
			Health:     monitor,
			Exporter:   exporter,
			LoadDocument: func(path string) (analysis.Document, error) {
				return document.Load(path, document.Options{MaxBytes: maxBytes})
			},
			ServiceURL:   client.BaseURL(),
			ExportTarget: target,
			Logger:       logger,
		}),
		opts...,
	)
	_, err = program.Run()
	controller.Abandon()
	return err
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZephyrCloudIO/zephyr-agent/internal/appconfig"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/assets"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/auth"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/clock"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/config"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/edge"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/errtype"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/hashlist"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/logging"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/metrics"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/session"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/strategy"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/ttlstore"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/upload"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	buildDir := flag.String("dir", "", "build output directory (overrides config)")
	workDir := flag.String("workdir", ".", "repository root for identity resolution")
	flag.Parse()

	if err := run(*configPath, *buildDir, *workDir); err != nil {
		slog.Error("deployment failed", "error", err, "code", errtype.Code(err))
		os.Exit(1)
	}
}

func run(configPath, buildDir, workDir string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if buildDir != "" {
		cfg.BuildDir = buildDir
	}
	logging.Setup(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		slog.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	metrics.Init("")
	if cfg.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(cfg.MetricsAddress); err != nil {
				slog.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	clk := clock.Real()
	store, err := ttlstore.New(cfg.CacheDir, clk)
	if err != nil {
		return fmt.Errorf("opening cache store: %w", err)
	}

	creds := auth.NewStore(auth.Config{
		TokenPath: cfg.TokenPath,
		AuthURL:   cfg.AuthURL,
		SocketURL: cfg.SocketURL,
	}, clk)

	client := edge.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout)
	configs := appconfig.New(client, creds, store, clk)
	hashes := hashlist.New(client, store)
	uploader := upload.New(client, configs, creds, clk)
	deployer := strategy.NewDeployer(uploader, client, creds, clk)

	sess, err := session.New(ctx, session.Params{
		Config:      cfg,
		API:         client,
		Configs:     configs,
		Hashes:      hashes,
		Deployer:    deployer,
		Credentials: creds,
		Clock:       clk,
		Environ:     os.Environ(),
		WorkDir:     workDir,
	})
	if err != nil {
		return err
	}
	slog.Info("session ready", "application_uid", sess.ApplicationUID())

	assetMap, err := assets.LoadDir(cfg.BuildDir)
	if err != nil {
		return fmt.Errorf("loading build output from %s: %w", cfg.BuildDir, err)
	}
	if len(assetMap) == 0 {
		return fmt.Errorf("no assets found in %s", cfg.BuildDir)
	}

	res, err := sess.UploadAssets(ctx, assetMap)
	if err != nil {
		return err
	}

	slog.Info("deployed",
		"url", res.VersionURL,
		"snapshot_id", res.SnapshotID,
		"build_id", res.BuildID)
	for _, u := range res.AllURLs {
		fmt.Println(u)
	}
	return nil
}

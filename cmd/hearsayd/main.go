package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonm3D/hearsay/internal/bus"
	"github.com/jonm3D/hearsay/internal/config"
	"github.com/jonm3D/hearsay/internal/eventstore"
	"github.com/jonm3D/hearsay/internal/llm"
	"github.com/jonm3D/hearsay/internal/natsserver"
	"github.com/jonm3D/hearsay/internal/presence"
	"github.com/jonm3D/hearsay/internal/protocol"
	"github.com/jonm3D/hearsay/internal/runtime"
	"github.com/jonm3D/hearsay/internal/service"
	"github.com/jonm3D/hearsay/internal/tts"
	"golang.org/x/sync/errgroup"
)

var version = "0.1.0-dev"

const pruneInterval = time.Hour

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "hearsay.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env", slog.String("error", err.Error()))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	rt := runtime.New(cfg, version, logger)

	embedded, err := natsserver.Start(cfg.Bus, logger)
	if err != nil {
		return err
	}
	defer embedded.Shutdown()
	if embedded != nil {
		cfg.Bus.Servers = []string{embedded.ClientURL()}
	}

	client, err := bus.Connect(ctx, cfg.Bus, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.EnsureStream(protocol.StreamNarration,
		[]string{protocol.SubjectParagraph, protocol.SubjectSegment, protocol.SubjectStatus},
		24*time.Hour); err != nil {
		logger.Warn("narration progress will not be retained", slog.String("error", err.Error()))
	}

	journal, err := eventstore.Open(ctx, cfg.Journal, logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	gen, err := llm.New(cfg.LLM)
	if err != nil {
		return err
	}
	synth, err := tts.New(cfg.TTS)
	if err != nil {
		return err
	}

	svc, err := service.New(ctx, cfg, client, gen, synth, logger, journal)
	if err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return err
	}

	nodes, err := presence.NewRegistry(ctx, cfg.Node, protocol.Backends{
		LLM:         cfg.LLM.Mode,
		TTS:         cfg.TTS.Mode,
		Voice:       cfg.TTS.Voice,
		Concurrency: cfg.Pipeline.Concurrency,
		MaxRuns:     cfg.Service.Concurrency,
	}, client, logger)
	if err != nil {
		return err
	}
	defer nodes.Close()

	rt.AddProbe("bus", client.Healthy)
	rt.AddProbe("narration", svc.Healthy)
	rt.AddProbe("presence", nodes.Healthy)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		svc.Close()
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := journal.Prune(gctx); err != nil {
					logger.Warn("journal prune failed", slog.String("error", err.Error()))
				}
			}
		}
	})
	return g.Wait()
}

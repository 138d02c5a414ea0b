package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/jonm3D/hearsay/internal/config"
	"github.com/jonm3D/hearsay/internal/eventstore"
	"github.com/jonm3D/hearsay/internal/llm"
	"github.com/jonm3D/hearsay/internal/narration"
	"github.com/jonm3D/hearsay/internal/output"
	"github.com/jonm3D/hearsay/internal/runtime"
	"github.com/jonm3D/hearsay/internal/tts"
)

var version = "0.1.0-dev"

func usage() {
	fmt.Fprintln(os.Stderr, "usage: hearsay <narrate|runs|checkpoint|version> [flags]")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	var err error
	switch os.Args[1] {
	case "narrate":
		err = runNarrate(os.Args[2:])
	case "runs":
		err = runList(os.Args[2:])
	case "checkpoint":
		err = runCheckpoint(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runNarrate(args []string) error {
	fs := flag.NewFlagSet("narrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	paperPath := fs.String("paper", "", "Path to the cleaned paper markdown (- for stdin)")
	title := fs.String("title", "", "Paper title (defaults to the first heading)")
	outDir := fs.String("out", "", "Output directory (defaults to output.directory)")
	noAudio := fs.Bool("no-audio", false, "Generate and save the script only")
	fs.Parse(args)

	if *paperPath == "" {
		return errors.New("-paper is required")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Telemetry.LogLevel)

	paper, err := readPaper(*paperPath)
	if err != nil {
		return err
	}
	if *title == "" {
		*title = guessTitle(paper, *paperPath)
	}
	if *outDir == "" {
		*outDir = cfg.Output.Directory
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stdout is reserved for the run summary.
	if cfg.Telemetry.TraceExporter == "" && cfg.Telemetry.OTLPEndpoint == "" {
		cfg.Telemetry.TraceExporter = "none"
	}
	shutdown, _, err := runtime.SetupTelemetry(cfg, version, logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer shutdown(context.WithoutCancel(ctx))

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
	opts, err := narration.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	opts.ScriptOnly = *noAudio

	fmt.Printf("Narrating %q\n", *title)
	coord := narration.New(gen, synth, opts, logger, journal)
	res, runErr := coord.Run(ctx, narration.Request{Title: *title, Paper: paper})
	if runErr != nil {
		return fmt.Errorf("run %s aborted after %d/%d paragraphs: %w",
			res.RunID, res.LastCompleted+1, res.Paragraphs, runErr)
	}

	sink := output.NewFileSink(filepath.Join(*outDir, output.Slug(*title)), logger)
	art, err := sink.Write(ctx, output.Narration{
		RunID:      res.RunID,
		Title:      res.Title,
		Script:     res.Script,
		PCM:        res.Audio,
		SampleRate: res.SampleRate,
		Channels:   res.Channels,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Script complete: %d paragraphs\n", res.Paragraphs)
	fmt.Printf("  script: %s\n", art.ScriptPath)
	if art.AudioPath != "" {
		fmt.Printf("  audio:  %s (%.1f minutes)\n", art.AudioPath, res.Duration.Minutes())
	}
	fmt.Printf("  run:    %s\n", res.RunID)
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	limit := fs.Int("limit", 20, "Maximum runs to list")
	fs.Parse(args)

	journal, err := openJournal(*configPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	runs, err := journal.ListRuns(context.Background(), *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATE\tDONE\tCREATED\tTITLE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
			r.ID, r.State, r.LastCompleted+1, r.Paragraphs, r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Title)
	}
	return tw.Flush()
}

func runCheckpoint(args []string) error {
	fs := flag.NewFlagSet("checkpoint", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	runID := fs.String("run", "", "Run ID")
	fs.Parse(args)

	if *runID == "" {
		return errors.New("-run is required")
	}
	journal, err := openJournal(*configPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	cp, err := journal.Checkpoint(context.Background(), *runID)
	if err != nil {
		return err
	}
	fmt.Printf("%s %q: %s, last completed paragraph %d of %d\n",
		cp.Run.ID, cp.Run.Title, cp.Run.State, cp.Run.LastCompleted, cp.Run.Paragraphs)
	if cp.Run.Error != "" {
		fmt.Printf("error: %s\n", cp.Run.Error)
	}
	for _, p := range cp.Remaining() {
		fmt.Printf("  [%d %s] %s\n", p.Seq, p.Status, preview(p.Text))
	}
	return nil
}

func openJournal(configPath string) (*eventstore.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return eventstore.Open(context.Background(), cfg.Journal, newLogger(cfg.Telemetry.LogLevel))
}

func readPaper(path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read paper: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", errors.New("paper is empty")
	}
	return string(data), nil
}

func guessTitle(paper, path string) string {
	for _, line := range strings.Split(paper, "\n") {
		if heading, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok && strings.TrimSpace(heading) != "" {
			return strings.TrimSpace(heading)
		}
	}
	if path == "-" {
		return "Untitled"
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) > 60 {
		return string(runes[:60]) + "..."
	}
	return text
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/archive"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/bus"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/config"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/eventstore"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/natsserver"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/pipeline"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/runtime"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/stt"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/tokenize"
)

type mode int

const (
	modeRun mode = iota
	modeTranscribe
	modeEvaluate
)

type runFlags struct {
	samples        string
	out            string
	models         []string
	file           string
	provider       string
	skipTranscribe bool
	noTimestamp    bool
	concurrency    int
}

func newRunCmd(a *app, m mode) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.apply(cmd, a.cfg, m, args)
			if err != nil {
				return err
			}
			return a.runPipeline(cmd, cfg, m)
		},
	}
	switch m {
	case modeRun:
		cmd.Use = "run"
		cmd.Short = "Transcribe every sample with every model and score the results"
		cmd.Args = cobra.NoArgs
	case modeTranscribe:
		cmd.Use = "transcribe"
		cmd.Short = "Transcribe samples without scoring"
		cmd.Args = cobra.NoArgs
	case modeEvaluate:
		cmd.Use = "evaluate [output-dir]"
		cmd.Short = "Score the cached transcripts of an earlier run"
		cmd.Long = `Score the transcripts stored in an output directory without calling
the recognizer. Without an argument the most recent run directory under
the configured output directory is used.`
		cmd.Args = cobra.MaximumNArgs(1)
	}

	flags := cmd.Flags()
	flags.StringVar(&f.samples, "samples", "", "samples directory (audio + *_ref.txt)")
	flags.StringVar(&f.out, "out", "", "output directory")
	flags.StringSliceVar(&f.models, "models", nil, "comma separated model ids")
	flags.StringVar(&f.file, "file", "", "process a single sample (name with or without extension)")
	flags.IntVarP(&f.concurrency, "concurrency", "j", 0, "units processed in parallel")
	if m != modeEvaluate {
		flags.StringVar(&f.provider, "provider", "", "stt provider: watson, google, exec, mock")
		flags.BoolVar(&f.noTimestamp, "no-timestamp", false, "write directly into the output directory")
	}
	if m == modeRun {
		flags.BoolVar(&f.skipTranscribe, "skip-transcribe", false, "reuse transcripts from the latest run in the output directory")
	}
	return cmd
}

// apply layers command line flags over the loaded configuration.
func (f runFlags) apply(cmd *cobra.Command, cfg config.Config, m mode, args []string) (config.Config, error) {
	changed := cmd.Flags().Changed
	if changed("samples") {
		cfg.SamplesDir = f.samples
	}
	if changed("out") {
		cfg.OutputDir = f.out
	}
	if changed("models") {
		cfg.Models = f.models
	}
	if changed("file") {
		cfg.File = f.file
	}
	if changed("provider") {
		cfg.Provider.Kind = f.provider
	}
	if changed("concurrency") {
		cfg.Concurrency = f.concurrency
	}
	if f.noTimestamp {
		cfg.TimestampDir = false
	}
	if f.skipTranscribe {
		cfg.ReuseTranscripts = true
	}

	switch m {
	case modeEvaluate:
		cfg.ReuseTranscripts = true
		if len(args) == 1 {
			cfg.OutputDir = args[0]
			break
		}
		dir, err := latestRunDir(cfg.OutputDir)
		if err != nil {
			return cfg, err
		}
		cfg.OutputDir = dir
	case modeRun:
		// Earlier runs wrote their transcripts into timestamped directories.
		if cfg.ReuseTranscripts {
			dir, err := latestRunDir(cfg.OutputDir)
			if err != nil {
				return cfg, err
			}
			cfg.OutputDir = dir
		}
	case modeTranscribe:
		cfg.ReuseTranscripts = false
	}
	return cfg, cfg.Validate()
}

// latestRunDir returns the newest timestamped run directory under dir, or
// dir itself when it has no subdirectories.
func latestRunDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read output dir: %w", err)
	}
	var runs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse("20060102_150405", e.Name()); err == nil {
			runs = append(runs, e.Name())
		}
	}
	if len(runs) == 0 {
		return dir, nil
	}
	sort.Strings(runs)
	return filepath.Join(dir, runs[len(runs)-1]), nil
}

func (a *app) runPipeline(cmd *cobra.Command, cfg config.Config, m mode) error {
	logger := a.logger
	if err := cfg.Preflight(); err != nil {
		return a.fail("preflight failed", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := runtime.SetupTelemetry(ctx, cfg, logger)
	if err != nil {
		return a.fail("failed to setup telemetry", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := tel.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("telemetry shutdown error", slog.String("error", serr.Error()))
		}
	}()

	store, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		return a.fail("failed to open event store", err)
	}
	defer store.Close()

	if bind := cfg.Telemetry.PrometheusBind; bind != "" {
		srv := runtime.NewServer(bind, store, tel.MetricsHandler(), logger)
		srvCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = srv.Serve(srvCtx)
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	observers := []pipeline.Observer{store}
	embedded, err := natsserver.Start(cfg.Bus, logger)
	if err != nil {
		return a.fail("failed to start embedded NATS", err)
	}
	defer embedded.Shutdown()
	if cfg.Bus.Enabled {
		client, err := bus.Connect(ctx, cfg.Bus, embedded.ClientURL(), logger)
		if err != nil {
			return a.fail("failed to connect to NATS", err)
		}
		defer client.Close()
		observers = append(observers, client)
	}

	var transcriber stt.Transcriber
	if !cfg.ReuseTranscripts {
		t, closeFn, err := stt.New(ctx, cfg.Provider, logger)
		if err != nil {
			return a.fail("failed to create transcriber", err)
		}
		defer func() {
			if cerr := closeFn(); cerr != nil {
				logger.Warn("transcriber close error", slog.String("error", cerr.Error()))
			}
		}()
		transcriber = t
	}

	opts := []pipeline.Option{pipeline.WithObservers(observers...)}
	var tok tokenize.Tokenizer
	if m == modeTranscribe {
		opts = append(opts, pipeline.WithTranscribeOnly())
	} else {
		if tok, err = tokenize.New(cfg.Tokenizer.Kind, cfg.Tokenizer.Mode); err != nil {
			return a.fail("failed to create tokenizer", err)
		}
	}

	res, runErr := pipeline.New(cfg, transcriber, tok, logger, opts...).Run(ctx)
	if res == nil {
		return a.fail("run failed", runErr)
	}
	printResult(a.out(cmd), res)

	archiver, err := archive.New(cfg.Archive, logger)
	if err != nil {
		logger.Warn("archive disabled", slog.String("error", err.Error()))
	} else if _, err := archiver.Upload(context.WithoutCancel(ctx), res.RunID, res.Dir); err != nil {
		logger.Warn("archive upload failed", slog.String("error", err.Error()))
	}

	if runErr != nil {
		return a.fail("run interrupted", runErr)
	}
	if res.Failed() {
		return errUnitsFailed
	}
	return nil
}

func printResult(w io.Writer, res *pipeline.Result) {
	fmt.Fprintf(w, "run %s -> %s\n", res.RunID, res.Dir)
	if len(res.Summaries) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MODEL\tSAMPLES\tS\tI\tD\tN\tWER\tCER")
		for _, s := range res.Summaries {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
				s.Model, s.Samples, s.Substitutions, s.Insertions, s.Deletions, s.ReferenceLength, s.WER, s.CER)
		}
		_ = tw.Flush()
	}
	if len(res.Failures) > 0 {
		fmt.Fprintf(w, "%d unit(s) failed:\n", len(res.Failures))
		for _, f := range res.Failures {
			fmt.Fprintf(w, "  %s %s [%s] %s\n", f.SampleID, f.Model, f.Stage, f.Reason)
		}
	}
}

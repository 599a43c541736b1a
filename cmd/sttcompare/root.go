package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/config"
)

// app carries the state shared by all subcommands.
type app struct {
	configPath string
	verbose    bool
	quiet      bool
	logFormat  string

	cfg    config.Config
	logger *slog.Logger
	stderr io.Writer
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "sttcompare",
		Short: "Compare speech-to-text models against reference transcripts",
		Long: `sttcompare transcribes a directory of audio samples with one or more
speech-to-text models, normalizes and tokenizes the transcripts and the
reference texts, and reports word and character error rates per model.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to YAML configuration file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose logging")
	root.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "suppress non-error output")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newRunCmd(a, modeRun),
		newRunCmd(a, modeTranscribe),
		newRunCmd(a, modeEvaluate),
		newServeCmd(a),
		newRunsCmd(a),
	)
	return root
}

func (a *app) setup(stderr io.Writer) error {
	a.stderr = stderr
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(stderr, cfg.Telemetry, a.logFormat, a.verbose, a.quiet)
	return nil
}

func newLogger(w io.Writer, cfg config.TelemetryConfig, format string, verbose, quiet bool) *slog.Logger {
	level := parseLevel(cfg.LogLevel)
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelError
	}
	if format == "" {
		format = cfg.LogFormat
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// fail logs a fatal error in the structured log before returning it.
func (a *app) fail(msg string, err error) error {
	if a.logger != nil {
		a.logger.Error(msg, slog.String("error", err.Error()))
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// out is the command output, discarded when -q is set.
func (a *app) out(cmd *cobra.Command) io.Writer {
	if a.quiet {
		return io.Discard
	}
	return cmd.OutOrStdout()
}

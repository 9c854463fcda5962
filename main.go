package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/inbox-to-sheets/cmd"
	"github.com/dhcgn/inbox-to-sheets/config"
	"github.com/dhcgn/inbox-to-sheets/credential"
	"github.com/dhcgn/inbox-to-sheets/gmail"
	"github.com/dhcgn/inbox-to-sheets/googleauth"
	"github.com/dhcgn/inbox-to-sheets/imap"
	"github.com/dhcgn/inbox-to-sheets/mbox"
	"github.com/dhcgn/inbox-to-sheets/progress"
	"github.com/dhcgn/inbox-to-sheets/runner"
	"github.com/dhcgn/inbox-to-sheets/sheets"
	"github.com/dhcgn/inbox-to-sheets/sqlitesink"
	"github.com/dhcgn/inbox-to-sheets/state"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanup := func() error { return nil }

	rootCmd := &cobra.Command{
		Use:          "inbox-to-sheets",
		Short:        "Copy unread mail into a spreadsheet, one row per message",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd, nil)
			if err != nil {
				return err
			}
			logger, closeLog, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			cleanup = closeLog
			slog.SetDefault(logger)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, keyringSecret)
			if err != nil {
				return err
			}

			logger := slog.Default()
			logger.Info("starting inbox-to-sheets", "source", cfg.Source, "sink", cfg.Sink, "sheet", cfg.SheetName, "dryRun", cfg.DryRun)

			return run(cmd.Context(), cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd.NewStateCmd(), cmd.NewAuthCmd(), cmd.NewCredentialCmd(nil))

	err := rootCmd.ExecuteContext(ctx)
	_ = cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func keyringSecret(user, host string) (string, error) {
	return credential.New(credential.DefaultFileDir).Get(credential.IMAPKey(user, host))
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var session *googleauth.Session
	if cfg.UsesGoogle() {
		var err error
		session, err = googleauth.NewSession(googleauth.Options{
			CredentialsFile: cfg.CredentialsFile,
			TokenFile:       cfg.TokenFile,
			Interactive:     true,
			Output:          os.Stderr,
		}, logger)
		if err != nil {
			return fmt.Errorf("googleauth.NewSession: %w", err)
		}
	}

	source, closeSource, err := newSource(cfg, session, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	sink, closeSink, err := newSink(cfg, session, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	store, err := state.NewFileStore(cfg.StateFile, logger)
	if err != nil {
		return fmt.Errorf("state.NewFileStore: %w", err)
	}

	bar := progress.New(cfg.Progress)
	r, err := runner.New(runner.Options{
		SheetName: cfg.SheetName,
		BatchSize: cfg.BatchSize,
		MaxRows:   cfg.MaxRows,
		DryRun:    cfg.DryRun,
	}, source, sink, store, logger, runner.WithObserver(bar))
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	started := time.Now()
	res, err := r.Run(ctx)
	bar.Stop()
	if cfg.Progress {
		progress.PrintSummary(os.Stdout, res.Summary, time.Since(started), cfg.DryRun)
	}
	return err
}

func newSource(cfg config.Config, session *googleauth.Session, logger *slog.Logger) (runner.MailSource, func(), error) {
	switch cfg.Source {
	case config.SourceGmail:
		src, err := gmail.NewSource(gmail.Options{Query: cfg.GmailQuery}, session.Client, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("gmail.NewSource: %w", err)
		}
		return src, func() {}, nil
	case config.SourceIMAP:
		src, err := imap.NewSource(imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Folder:             cfg.IMAPFolder,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("imap.NewSource: %w", err)
		}
		return src, func() { _ = src.Close() }, nil
	case config.SourceMbox:
		src, err := mbox.NewSource(mbox.Options{Path: cfg.MboxPath}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("mbox.NewSource: %w", err)
		}
		return src, func() { _ = src.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown source %q", cfg.Source)
}

func newSink(cfg config.Config, session *googleauth.Session, logger *slog.Logger) (runner.TableSink, func(), error) {
	switch cfg.Sink {
	case config.SinkSheets:
		sink, err := sheets.NewSink(sheets.Options{SpreadsheetID: cfg.SpreadsheetID}, session.Client, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("sheets.NewSink: %w", err)
		}
		return sink, func() {}, nil
	case config.SinkSQLite:
		sink, err := sqlitesink.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlitesink.Open: %w", err)
		}
		return sink, func() { _ = sink.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown sink %q", cfg.Sink)
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	// The progress bar owns the terminal; only warnings and errors get through.
	if cfg.Progress && level.Level() < slog.LevelWarn {
		level.Set(slog.LevelWarn)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("inbox-to-sheets-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler), cleanup, nil
}

// Package main is the entry point of tradelog, which downloads the Trade
// Republic timeline and exports it as a Portfolio Performance CSV.
//
// Usage:
//
//	tradelog dl [-last-days N | -not-before YYYY-MM-DD] [-output PATH]
//	tradelog export [-input PATH] [-output PATH] [-lang auto] [-sort]
//	tradelog backup
//	tradelog serve
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradelog/internal/config"
	"github.com/aristath/tradelog/internal/di"
	"github.com/aristath/tradelog/internal/export"
	"github.com/aristath/tradelog/internal/locale"
	"github.com/aristath/tradelog/internal/scheduler"
	"github.com/aristath/tradelog/internal/server"
	"github.com/aristath/tradelog/internal/services"
	"github.com/aristath/tradelog/internal/timeline"
	"github.com/aristath/tradelog/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "dl", "download":
		err = runDownload(ctx, cfg, args, log)
	case "export":
		err = runExport(cfg, args, log)
	case "backup":
		err = runBackup(ctx, cfg, log)
	case "serve":
		err = runServe(ctx, cfg, log)
	case "help", "-h", "--help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Error().Err(err).Str("command", cmd).Msg("Command failed")
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: tradelog <command> [flags]

Commands:
  dl       download the account timeline to a JSON file
  export   convert a downloaded timeline to a CSV of account transactions
  backup   check the archive and write a snapshot of it
  serve    run scheduled syncs, maintenance and the status API

Export languages: %s

Run "tradelog <command> -h" for the flags of a command.
`, strings.Join(languageCodes(), " "))
}

func languageCodes() []string {
	codes := []string{locale.Auto}
	for _, l := range locale.Supported() {
		codes = append(codes, string(l))
	}
	return codes
}

func runDownload(ctx context.Context, cfg *config.Config, args []string, log zerolog.Logger) error {
	fs := flag.NewFlagSet("dl", flag.ContinueOnError)
	lastDays := fs.Int("last-days", cfg.Collect.LastDays, "only collect the last N days (0 for the whole history)")
	notBefore := fs.String("not-before", "", "only collect records after this date (YYYY-MM-DD); overrides -last-days")
	output := fs.String("output", cfg.TimelinePath(), "timeline JSON file to write")
	timeout := fs.Duration("timeout", cfg.Collect.Timeout, "give up collecting after this long (0 for no limit)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *lastDays < 0 {
		return fmt.Errorf("-last-days must not be negative")
	}

	var notBeforeTime time.Time
	if *notBefore != "" {
		t, err := timeline.ParseTimestamp(*notBefore)
		if err != nil {
			return fmt.Errorf("invalid -not-before: %w", err)
		}
		notBeforeTime = t
	}
	if cfg.Broker.SessionToken == "" {
		log.Warn().Msg("TR_SESSION_TOKEN is not set, the broker will likely reject the subscription")
	}

	cfg.Collect.Timeout = *timeout
	container, _, err := di.Wire(ctx, cfg, nil, log)
	if err != nil {
		return err
	}
	defer container.Close()

	result, err := container.DownloadService.Run(ctx, services.DownloadOptions{
		Cutoff:     services.Cutoff(time.Now(), *lastDays, notBeforeTime),
		OutputPath: *output,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Wrote %d records to %s\n", result.Written, result.OutputPath)
	return nil
}

func runExport(cfg *config.Config, args []string, log zerolog.Logger) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	input := fs.String("input", cfg.TimelinePath(), "timeline JSON file to read")
	output := fs.String("output", cfg.ExportPath(), "CSV file to write")
	lang := fs.String("lang", cfg.Export.Language, "export language: "+strings.Join(languageCodes(), ", "))
	sortByDate := fs.Bool("sort", cfg.Export.Sort, "sort transactions by date")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := export.NewExporter(log).Export(export.Options{
		InputPath:  *input,
		OutputPath: *output,
		Language:   *lang,
		Sort:       *sortByDate,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Wrote %d transactions (%s) to %s\n", result.Lines, result.Language, *output)
	return nil
}

func runBackup(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	container, jobs, err := di.Wire(ctx, cfg, nil, log)
	if err != nil {
		return err
	}
	defer container.Close()

	backup, err := jobs.Maintenance.RunContext(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Wrote snapshot %s (%s)\n", backup.Path, backup.Checksum)
	return nil
}

func runServe(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	container, jobs, err := di.Wire(ctx, cfg, nil, log)
	if err != nil {
		return err
	}
	defer container.Close()

	sched := scheduler.New(log)
	if cfg.SyncSchedule != "" {
		if err := sched.AddJob(cfg.SyncSchedule, jobs.Sync); err != nil {
			return err
		}
	} else {
		log.Info().Msg("SYNC_SCHEDULE not set, syncs only run on request")
	}
	if cfg.Backup.Schedule != "" {
		if err := sched.AddJob(cfg.Backup.Schedule, jobs.Maintenance); err != nil {
			return err
		}
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:      log,
		Port:     cfg.Port,
		DataDir:  cfg.DataDir,
		CSVPath:  cfg.ExportPath(),
		Language: cfg.Export.Language,
		Runs:     container.ArchiveRepo,
		Sync:     jobs.Sync,
		Backups:  container.BackupService,
	})

	log.Info().Int("port", cfg.Port).Msg("Starting server")
	return serve(ctx, srv, log)
}

// httpServer is the part of server.Server that serve drives
type httpServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// serve runs srv until it stops on its own or ctx is cancelled
func serve(ctx context.Context, srv httpServer, log zerolog.Logger) error {
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if !ok {
			log.Info().Msg("Server stopped")
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server stopped")
	return nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradelog/internal/archive"
	"github.com/aristath/tradelog/internal/clients/traderepublic"
	"github.com/aristath/tradelog/internal/timeline"
)

// TimelineSource is a timeline.Source that holds a connection
type TimelineSource interface {
	timeline.Source
	Close() error
}

// SourceFactory opens a new source for one download
type SourceFactory func(ctx context.Context) (TimelineSource, error)

// TradeRepublicSource returns a factory dialing the Trade Republic websocket
func TradeRepublicSource(cfg traderepublic.Config, log zerolog.Logger) SourceFactory {
	return func(ctx context.Context) (TimelineSource, error) {
		client, err := traderepublic.Dial(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// RunArchive records download runs and their records
type RunArchive interface {
	StartRun(cutoff time.Time) (*archive.Run, error)
	FinishRun(run *archive.Run, stats timeline.Stats, records int, runErr error) error
	Upsert(runID string, txs []timeline.RawTransaction) (int, error)
}

// DownloadOptions describes one download
type DownloadOptions struct {
	Cutoff     time.Time // zero for the whole history
	OutputPath string
}

// DownloadResult summarizes a finished download
type DownloadResult struct {
	RunID      string         `json:"run_id,omitempty"`
	Stats      timeline.Stats `json:"stats"`
	Written    int            `json:"written"`
	Archived   int            `json:"archived"`
	OutputPath string         `json:"output_path"`
}

// DownloadService collects the timeline and writes it to a JSON file
type DownloadService struct {
	open    SourceFactory
	archive RunArchive // optional
	timeout time.Duration
	log     zerolog.Logger
}

// NewDownloadService creates a download service. archive may be nil; a zero
// timeout leaves collection bounded only by ctx.
func NewDownloadService(open SourceFactory, archive RunArchive, timeout time.Duration, log zerolog.Logger) *DownloadService {
	return &DownloadService{
		open:    open,
		archive: archive,
		timeout: timeout,
		log:     log.With().Str("service", "download").Logger(),
	}
}

// Cutoff derives the collection cutoff. notBefore wins over lastDays; with
// neither set the whole history is collected.
func Cutoff(now time.Time, lastDays int, notBefore time.Time) time.Time {
	if !notBefore.IsZero() {
		return notBefore
	}
	if lastDays > 0 {
		return now.AddDate(0, 0, -lastDays)
	}
	return time.Time{}
}

// Run collects records newer than opts.Cutoff and writes them to
// opts.OutputPath. Nothing is written when collection fails.
func (s *DownloadService) Run(ctx context.Context, opts DownloadOptions) (*DownloadResult, error) {
	result := &DownloadResult{OutputPath: opts.OutputPath}
	run := s.startRun(opts.Cutoff)
	if run != nil {
		result.RunID = run.ID
	}

	records, stats, err := s.collect(ctx, opts.Cutoff)
	result.Stats = stats
	if err != nil {
		s.finishRun(run, stats, 0, err)
		return result, err
	}

	if err := timeline.WriteFile(opts.OutputPath, records); err != nil {
		err = fmt.Errorf("failed to write %s: %w", opts.OutputPath, err)
		s.finishRun(run, stats, 0, err)
		return result, err
	}
	result.Written = len(records)

	if run != nil {
		archived, err := s.archive.Upsert(run.ID, records)
		if err != nil {
			s.log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to archive records")
		}
		result.Archived = archived
	}
	s.finishRun(run, stats, len(records), nil)

	s.log.Info().
		Int("records", result.Written).
		Int("pages", stats.Pages).
		Str("output", opts.OutputPath).
		Msg("Timeline downloaded")
	return result, nil
}

func (s *DownloadService) collect(ctx context.Context, cutoff time.Time) ([]timeline.RawTransaction, timeline.Stats, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	src, err := s.open(ctx)
	if err != nil {
		return nil, timeline.Stats{}, fmt.Errorf("failed to open timeline source: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			s.log.Debug().Err(err).Msg("Error closing timeline source")
		}
	}()

	collector := timeline.NewCollector(src, cutoff, s.log)
	if err := collector.Collect(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("collection timed out after %s: %w", s.timeout, err)
		}
		return nil, collector.Stats(), err
	}
	return collector.Finalize(), collector.Stats(), nil
}

func (s *DownloadService) startRun(cutoff time.Time) *archive.Run {
	if s.archive == nil {
		return nil
	}
	run, err := s.archive.StartRun(cutoff)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to record run start, continuing without archive")
		return nil
	}
	return run
}

func (s *DownloadService) finishRun(run *archive.Run, stats timeline.Stats, records int, runErr error) {
	if run == nil {
		return
	}
	if err := s.archive.FinishRun(run, stats, records, runErr); err != nil {
		s.log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to record run outcome")
	}
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradelog/internal/export"
	"github.com/aristath/tradelog/internal/services"
)

// ErrSyncRunning is returned when a sync is requested while one is running
var ErrSyncRunning = errors.New("sync already running")

// Downloader collects the timeline into a file
type Downloader interface {
	Run(ctx context.Context, opts services.DownloadOptions) (*services.DownloadResult, error)
}

// Exporter turns the timeline file into a CSV file
type Exporter interface {
	Export(opts export.Options) (*export.Result, error)
}

// Uploader pushes a file to remote storage
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// SyncStatus describes the most recent sync
type SyncStatus struct {
	Running    bool                     `json:"running"`
	StartedAt  *time.Time               `json:"started_at,omitempty"`
	FinishedAt *time.Time               `json:"finished_at,omitempty"`
	Error      string                   `json:"error,omitempty"`
	Download   *services.DownloadResult `json:"download,omitempty"`
	Export     *export.Result           `json:"export,omitempty"`
	UploadKey  string                   `json:"upload_key,omitempty"`
}

// SyncJobConfig holds configuration for the sync job
type SyncJobConfig struct {
	Log        zerolog.Logger
	Downloader Downloader
	Exporter   Exporter
	Uploader   Uploader // optional
	LastDays   int
	Timeline   string // JSON path
	CSV        string // export path
	Language   string
	Sort       bool
	Now        func() time.Time
}

// SyncJob downloads the timeline, exports it and optionally uploads the CSV.
// A run that starts while another is in progress is skipped.
type SyncJob struct {
	log        zerolog.Logger
	downloader Downloader
	exporter   Exporter
	uploader   Uploader
	lastDays   int
	timeline   string
	csv        string
	language   string
	sort       bool
	now        func() time.Time

	running sync.Mutex

	mu     sync.RWMutex
	status SyncStatus
}

// NewSyncJob creates a new sync job
func NewSyncJob(cfg SyncJobConfig) *SyncJob {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SyncJob{
		log:        cfg.Log.With().Str("job", "sync").Logger(),
		downloader: cfg.Downloader,
		exporter:   cfg.Exporter,
		uploader:   cfg.Uploader,
		lastDays:   cfg.LastDays,
		timeline:   cfg.Timeline,
		csv:        cfg.CSV,
		language:   cfg.Language,
		sort:       cfg.Sort,
		now:        cfg.Now,
	}
}

// Name returns the job name
func (j *SyncJob) Name() string {
	return "sync"
}

// Run executes one sync; overlapping runs are skipped without error
func (j *SyncJob) Run() error {
	err := j.RunContext(context.Background())
	if errors.Is(err, ErrSyncRunning) {
		j.log.Warn().Msg("Sync already running, skipping this cycle")
		return nil
	}
	return err
}

// RunContext executes one sync, returning ErrSyncRunning if one is in progress
func (j *SyncJob) RunContext(ctx context.Context) error {
	if !j.running.TryLock() {
		return ErrSyncRunning
	}
	defer j.running.Unlock()

	started := j.now()
	j.setStatus(func(s *SyncStatus) {
		*s = SyncStatus{Running: true, StartedAt: &started}
	})
	j.log.Info().Msg("Starting sync")

	err := j.sync(ctx)

	finished := j.now()
	j.setStatus(func(s *SyncStatus) {
		s.Running = false
		s.FinishedAt = &finished
		if err != nil {
			s.Error = err.Error()
		}
	})

	if err != nil {
		return err
	}
	j.log.Info().Dur("duration", finished.Sub(started)).Msg("Sync completed successfully")
	return nil
}

func (j *SyncJob) sync(ctx context.Context) error {
	// Step 1: download (critical)
	download, err := j.downloader.Run(ctx, services.DownloadOptions{
		Cutoff:     services.Cutoff(j.now(), j.lastDays, time.Time{}),
		OutputPath: j.timeline,
	})
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	j.setStatus(func(s *SyncStatus) { s.Download = download })

	// Step 2: export (critical)
	result, err := j.exporter.Export(export.Options{
		InputPath:  j.timeline,
		OutputPath: j.csv,
		Language:   j.language,
		Sort:       j.sort,
	})
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	j.setStatus(func(s *SyncStatus) { s.Export = result })

	// Step 3: upload (non-critical)
	if j.uploader == nil {
		return nil
	}
	key, err := j.uploader.Upload(ctx, j.csv)
	if err != nil {
		j.log.Warn().Err(err).Msg("Upload failed, export kept locally")
		return nil
	}
	j.setStatus(func(s *SyncStatus) { s.UploadKey = key })
	return nil
}

// Status returns a snapshot of the most recent sync
func (j *SyncJob) Status() SyncStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

func (j *SyncJob) setStatus(fn func(*SyncStatus)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.status)
}

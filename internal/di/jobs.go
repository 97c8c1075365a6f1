package di

import (
	"github.com/rs/zerolog"

	"github.com/aristath/tradelog/internal/config"
	"github.com/aristath/tradelog/internal/reliability"
	"github.com/aristath/tradelog/internal/scheduler"
)

// RegisterJobs creates the background jobs
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) *JobInstances {
	sync := scheduler.NewSyncJob(scheduler.SyncJobConfig{
		Log:        log,
		Downloader: container.DownloadService,
		Exporter:   container.Exporter,
		Uploader:   container.Uploader,
		LastDays:   cfg.Collect.LastDays,
		Timeline:   cfg.TimelinePath(),
		CSV:        cfg.ExportPath(),
		Language:   cfg.Export.Language,
		Sort:       cfg.Export.Sort,
	})

	maintenance := reliability.NewMaintenanceJob(container.ArchiveDB, container.BackupService, cfg.Backup.RetentionDays, log)

	return &JobInstances{Sync: sync, Maintenance: maintenance}
}

package di

import (
	"github.com/aristath/tradelog/internal/archive"
	"github.com/aristath/tradelog/internal/database"
	"github.com/aristath/tradelog/internal/export"
	"github.com/aristath/tradelog/internal/reliability"
	"github.com/aristath/tradelog/internal/scheduler"
	"github.com/aristath/tradelog/internal/services"
	"github.com/aristath/tradelog/internal/upload"
)

// Container holds all application dependencies
type Container struct {
	ArchiveDB *database.DB

	ArchiveRepo *archive.Repository

	DownloadService *services.DownloadService
	Exporter        *export.Exporter
	Uploader        upload.Uploader // nil when upload is disabled
	BackupService   *reliability.BackupService
}

// JobInstances holds the scheduled jobs
type JobInstances struct {
	Sync        *scheduler.SyncJob
	Maintenance *reliability.MaintenanceJob
}

// Close releases the container's resources
func (c *Container) Close() error {
	if c.ArchiveDB != nil {
		return c.ArchiveDB.Close()
	}
	return nil
}

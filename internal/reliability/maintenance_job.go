package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradelog/internal/database"
)

// MaintenanceJob checks the archive, truncates its WAL, snapshots it and
// rotates old snapshots
type MaintenanceJob struct {
	db            *database.DB
	backups       *BackupService
	retentionDays int
	timeout       time.Duration
	log           zerolog.Logger
}

// NewMaintenanceJob creates a new maintenance job
func NewMaintenanceJob(db *database.DB, backups *BackupService, retentionDays int, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		db:            db,
		backups:       backups,
		retentionDays: retentionDays,
		timeout:       10 * time.Minute,
		log:           log.With().Str("job", "archive_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "archive_maintenance"
}

// Run executes the maintenance job
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	_, err := j.RunContext(ctx)
	return err
}

// RunContext executes the maintenance job and returns the new snapshot
func (j *MaintenanceJob) RunContext(ctx context.Context) (*Backup, error) {
	j.log.Info().Msg("Starting archive maintenance")
	startTime := time.Now()

	// Step 1: integrity check (critical, never snapshot a corrupt archive)
	if err := j.db.HealthCheck(ctx); err != nil {
		j.log.Error().Err(err).Msg("Archive failed health check")
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	// Step 2: WAL checkpoint
	if _, err := j.db.Conn().ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	// Step 3: snapshot (critical)
	backup, err := j.backups.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("backup failed: %w", err)
	}

	// Step 4: rotation
	if _, err := j.backups.Rotate(j.retentionDays); err != nil {
		j.log.Warn().Err(err).Msg("Snapshot rotation failed")
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("snapshot", backup.Path).
		Msg("Archive maintenance completed successfully")

	return backup, nil
}

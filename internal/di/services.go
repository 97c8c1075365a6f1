package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/tradelog/internal/archive"
	"github.com/aristath/tradelog/internal/clients/traderepublic"
	"github.com/aristath/tradelog/internal/config"
	"github.com/aristath/tradelog/internal/export"
	"github.com/aristath/tradelog/internal/reliability"
	"github.com/aristath/tradelog/internal/services"
	"github.com/aristath/tradelog/internal/upload"
)

// InitializeServices creates repositories and services on top of the databases.
// source may be nil to use the Trade Republic websocket.
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, source services.SourceFactory, log zerolog.Logger) error {
	container.ArchiveRepo = archive.NewRepository(container.ArchiveDB.Conn(), log)

	if source == nil {
		source = services.TradeRepublicSource(traderepublic.Config{
			URL:          cfg.Broker.URL,
			SessionToken: cfg.Broker.SessionToken,
			Locale:       cfg.Broker.Locale,
		}, log)
	}
	container.DownloadService = services.NewDownloadService(source, container.ArchiveRepo, cfg.Collect.Timeout, log)
	container.Exporter = export.NewExporter(log)

	if cfg.Upload.Enabled() {
		uploader, err := upload.NewS3Uploader(ctx, upload.Config{
			Bucket:          cfg.Upload.Bucket,
			Prefix:          cfg.Upload.Prefix,
			Region:          cfg.Upload.Region,
			Endpoint:        cfg.Upload.Endpoint,
			AccessKeyID:     cfg.Upload.AccessKeyID,
			SecretAccessKey: cfg.Upload.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to initialize uploader: %w", err)
		}
		container.Uploader = uploader
		log.Info().Str("bucket", cfg.Upload.Bucket).Msg("Upload enabled")
	}

	var backupUploader reliability.Uploader
	if container.Uploader != nil {
		backupUploader = container.Uploader
	}
	container.BackupService = reliability.NewBackupService(container.ArchiveDB, cfg.BackupDir(), backupUploader, log)

	return nil
}

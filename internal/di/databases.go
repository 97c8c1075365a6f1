package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/tradelog/internal/config"
	"github.com/aristath/tradelog/internal/database"
)

// InitializeDatabases opens and migrates the archive database
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	archiveDB, err := database.New(database.Config{
		Path:    cfg.ArchivePath(),
		Profile: database.ProfileArchive,
		Name:    "archive",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize archive database: %w", err)
	}

	if err := archiveDB.Migrate(); err != nil {
		archiveDB.Close()
		return nil, fmt.Errorf("failed to migrate archive database: %w", err)
	}

	log.Debug().Str("path", archiveDB.Path()).Msg("Archive database ready")
	return &Container{ArchiveDB: archiveDB}, nil
}

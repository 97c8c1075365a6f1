// Package reliability keeps the archive healthy: integrity checks, WAL
// checkpoints and rotated snapshots.
package reliability

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradelog/internal/database"
)

const (
	backupPrefix    = "archive-"
	backupSuffix    = ".db"
	backupTimestamp = "2006-01-02-150405"

	// minBackupsToKeep survive rotation regardless of age
	minBackupsToKeep = 3
)

// Uploader pushes a file to remote storage
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Backup describes one archive snapshot
type Backup struct {
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum,omitempty"`
	Key       string    `json:"key,omitempty"` // remote object key when uploaded
}

// BackupService writes verified snapshots of the archive into a directory
type BackupService struct {
	db       *database.DB
	dir      string
	uploader Uploader
	log      zerolog.Logger
	now      func() time.Time
}

// NewBackupService creates a backup service. uploader may be nil.
func NewBackupService(db *database.DB, dir string, uploader Uploader, log zerolog.Logger) *BackupService {
	return &BackupService{
		db:       db,
		dir:      dir,
		uploader: uploader,
		log:      log.With().Str("service", "backup").Logger(),
		now:      time.Now,
	}
}

// Create snapshots the archive with VACUUM INTO and verifies the copy.
// Upload failures are logged; the local snapshot is kept.
func (s *BackupService) Create(ctx context.Context) (*Backup, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	created := s.now().UTC()
	path := filepath.Join(s.dir, backupPrefix+created.Format(backupTimestamp)+backupSuffix)

	// VACUUM INTO refuses to overwrite
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to replace %s: %w", path, err)
	}

	s.log.Debug().Str("path", path).Msg("Writing archive snapshot")
	if _, err := s.db.Conn().ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return nil, fmt.Errorf("failed to snapshot %s: %w", s.db.Name(), err)
	}

	if err := verifySnapshot(ctx, path); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	checksum, err := calculateChecksum(path)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}

	backup := &Backup{
		Path:      path,
		CreatedAt: created,
		SizeBytes: info.Size(),
		Checksum:  checksum,
	}

	if s.uploader != nil {
		key, err := s.uploader.Upload(ctx, path)
		if err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("Snapshot upload failed, kept locally")
		} else {
			backup.Key = key
		}
	}

	s.log.Info().
		Str("path", path).
		Int64("size_bytes", backup.SizeBytes).
		Str("checksum", checksum).
		Msg("Archive snapshot written")

	return backup, nil
}

// List returns the snapshots in the backup directory, newest first
func (s *BackupService) List() ([]Backup, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []Backup
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix)
		created, err := time.Parse(backupTimestamp, stamp)
		if err != nil {
			s.log.Debug().Str("file", name).Msg("Ignoring file with unparseable timestamp")
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Backup{
			Path:      filepath.Join(s.dir, name),
			CreatedAt: created,
			SizeBytes: info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// Rotate deletes snapshots older than retentionDays, always keeping the
// newest few. retentionDays of 0 keeps everything.
func (s *BackupService) Rotate(retentionDays int) (int, error) {
	if retentionDays == 0 {
		return 0, nil
	}

	backups, err := s.List()
	if err != nil {
		return 0, err
	}
	if len(backups) <= minBackupsToKeep {
		return 0, nil
	}

	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, backup := range backups[minBackupsToKeep:] {
		if !backup.CreatedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(backup.Path); err != nil {
			s.log.Error().Err(err).Str("path", backup.Path).Msg("Failed to delete old snapshot")
			continue
		}
		s.log.Info().Str("path", backup.Path).Time("created_at", backup.CreatedAt).Msg("Deleted old snapshot")
		deleted++
	}

	return deleted, nil
}

// verifySnapshot opens the copy and runs an integrity check
func verifySnapshot(ctx context.Context, path string) error {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer conn.Close()

	var result string
	if err := conn.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("snapshot integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("snapshot integrity check failed: %s", result)
	}
	return nil
}

// calculateChecksum calculates SHA256 checksum of a file
func calculateChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

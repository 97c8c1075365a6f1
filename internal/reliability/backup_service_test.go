package reliability

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradelog/internal/archive"
	"github.com/aristath/tradelog/internal/database"
	testingpkg "github.com/aristath/tradelog/internal/testing"
	"github.com/aristath/tradelog/internal/timeline"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func seededDB(t *testing.T) *database.DB {
	t.Helper()
	db := testingpkg.NewTestDB(t)
	repo := archive.NewRepository(db.Conn(), testLogger())

	run, err := repo.StartRun(time.Time{})
	require.NoError(t, err)
	_, err = repo.Upsert(run.ID, []timeline.RawTransaction{
		testingpkg.NewRecord(t, "a", testingpkg.Day(2022, 1, 1)),
		testingpkg.NewRecord(t, "b", testingpkg.Day(2022, 2, 1)),
	})
	require.NoError(t, err)
	return db
}

func newTestBackupService(t *testing.T, db *database.DB, uploader Uploader, now time.Time) *BackupService {
	s := NewBackupService(db, filepath.Join(t.TempDir(), "backups"), uploader, testLogger())
	s.now = func() time.Time { return now }
	return s
}

func TestBackupService_Create(t *testing.T) {
	db := seededDB(t)
	uploader := testingpkg.NewMockUploader()
	s := newTestBackupService(t, db, uploader, time.Date(2022, 3, 1, 2, 3, 4, 0, time.UTC))

	backup, err := s.Create(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "archive-2022-03-01-020304.db", filepath.Base(backup.Path))
	assert.Positive(t, backup.SizeBytes)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, backup.Checksum)
	assert.Equal(t, []string{backup.Path}, uploader.Uploaded())
	assert.Equal(t, "mock/"+backup.Path, backup.Key)

	snapshot, err := sql.Open("sqlite", backup.Path)
	require.NoError(t, err)
	defer snapshot.Close()

	var count int
	require.NoError(t, snapshot.QueryRow("SELECT COUNT(*) FROM timeline_transactions").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestBackupService_CreateReplacesSameSecond(t *testing.T) {
	s := newTestBackupService(t, seededDB(t), nil, time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC))

	first, err := s.Create(context.Background())
	require.NoError(t, err)
	second, err := s.Create(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Path, second.Path)
	backups, err := s.List()
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestBackupService_UploadFailureKeepsSnapshot(t *testing.T) {
	uploader := testingpkg.NewMockUploader()
	uploader.SetError(errors.New("bucket gone"))
	s := newTestBackupService(t, seededDB(t), uploader, time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC))

	backup, err := s.Create(context.Background())
	require.NoError(t, err)
	assert.Empty(t, backup.Key)
	assert.FileExists(t, backup.Path)
}

func TestBackupService_ListIgnoresForeignFiles(t *testing.T) {
	s := newTestBackupService(t, seededDB(t), nil, time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, os.MkdirAll(s.dir, 0755))
	for _, name := range []string{"notes.txt", "archive-yesterday.db", "archive-2022-01-01-000000.db", "archive-2022-02-01-000000.db"} {
		require.NoError(t, os.WriteFile(filepath.Join(s.dir, name), []byte("x"), 0644))
	}

	backups, err := s.List()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "archive-2022-02-01-000000.db", filepath.Base(backups[0].Path))
	assert.Equal(t, "archive-2022-01-01-000000.db", filepath.Base(backups[1].Path))
}

func TestBackupService_ListMissingDirectory(t *testing.T) {
	s := newTestBackupService(t, seededDB(t), nil, time.Now())
	backups, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestBackupService_Rotate(t *testing.T) {
	s := newTestBackupService(t, seededDB(t), nil, time.Date(2022, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, os.MkdirAll(s.dir, 0755))
	days := []int{1, 2, 3, 4, 5, 25, 30}
	for _, d := range days {
		name := "archive-" + time.Date(2022, 3, d, 0, 0, 0, 0, time.UTC).Format(backupTimestamp) + ".db"
		require.NoError(t, os.WriteFile(filepath.Join(s.dir, name), []byte("x"), 0644))
	}

	t.Run("zero retention keeps everything", func(t *testing.T) {
		deleted, err := s.Rotate(0)
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})

	t.Run("old snapshots beyond the newest three are deleted", func(t *testing.T) {
		deleted, err := s.Rotate(10)
		require.NoError(t, err)
		// Newest three are 30, 25 and 5; 1 through 4 are older than 21 March
		assert.Equal(t, 4, deleted)

		backups, err := s.List()
		require.NoError(t, err)
		assert.Len(t, backups, 3)
	})

	t.Run("the newest three survive any retention", func(t *testing.T) {
		deleted, err := s.Rotate(1)
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})
}

func TestMaintenanceJob_Run(t *testing.T) {
	db := seededDB(t)
	s := newTestBackupService(t, db, nil, time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC))
	job := NewMaintenanceJob(db, s, 30, testLogger())

	assert.Equal(t, "archive_maintenance", job.Name())
	require.NoError(t, job.Run())

	backups, err := s.List()
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestMaintenanceJob_ClosedDatabase(t *testing.T) {
	db := seededDB(t)
	s := newTestBackupService(t, db, nil, time.Now())
	job := NewMaintenanceJob(db, s, 30, testLogger())
	require.NoError(t, db.Close())

	_, err := job.RunContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
}

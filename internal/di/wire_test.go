package di

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradelog/internal/config"
	"github.com/aristath/tradelog/internal/services"
	testingpkg "github.com/aristath/tradelog/internal/testing"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		DataDir: t.TempDir(),
		Export:  config.ExportConfig{Language: "de", Sort: true},
		Collect: config.CollectConfig{Timeout: time.Minute},
	}
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)

	container, jobs, err := Wire(context.Background(), cfg, nil, log)
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.ArchiveRepo)
	assert.NotNil(t, container.DownloadService)
	assert.NotNil(t, container.Exporter)
	assert.Nil(t, container.Uploader)
	assert.NotNil(t, container.BackupService)
	assert.NotNil(t, jobs.Sync)
	assert.NotNil(t, jobs.Maintenance)
	assert.FileExists(t, cfg.ArchivePath())
}

func TestWire_SyncEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)

	src := testingpkg.NewMockSource(map[string]json.RawMessage{
		"": testingpkg.PageJSON("",
			testingpkg.RecordJSON("2", testingpkg.Day(2022, 3, 1)),
			testingpkg.RecordJSON("1", testingpkg.Day(2022, 2, 1)),
		),
	})
	factory := func(ctx context.Context) (services.TimelineSource, error) { return src, nil }

	container, jobs, err := Wire(context.Background(), cfg, factory, log)
	require.NoError(t, err)
	defer container.Close()

	require.NoError(t, jobs.Sync.Run())

	data, err := os.ReadFile(cfg.ExportPath())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Datum;Typ"))
	assert.True(t, strings.HasPrefix(lines[1], "2022-02-01;Einlage"))

	count, err := container.ArchiveRepo.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.FileExists(t, filepath.Join(cfg.DataDir, "all_events.json"))

	require.NoError(t, jobs.Maintenance.Run())
	backups, err := container.BackupService.List()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, cfg.BackupDir(), filepath.Dir(backups[0].Path))
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradelog/internal/archive"
	testingpkg "github.com/aristath/tradelog/internal/testing"
	"github.com/aristath/tradelog/internal/timeline"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func twoPages() map[string]json.RawMessage {
	return map[string]json.RawMessage{
		"": testingpkg.PageJSON("p2",
			testingpkg.RecordJSON("3", testingpkg.Day(2022, 3, 1)),
			testingpkg.RecordJSON("2", testingpkg.Day(2022, 2, 1)),
		),
		"p2": testingpkg.PageJSON("p3",
			testingpkg.RecordJSON("1", testingpkg.Day(2021, 12, 1)),
		),
	}
}

func factory(src *testingpkg.MockSource) SourceFactory {
	return func(ctx context.Context) (TimelineSource, error) {
		return src, nil
	}
}

func TestDownloadService_Run(t *testing.T) {
	src := testingpkg.NewMockSource(twoPages())
	repo := archive.NewRepository(testingpkg.NewTestDB(t).Conn(), testLogger())
	svc := NewDownloadService(factory(src), repo, time.Minute, testLogger())
	output := filepath.Join(t.TempDir(), "all_events.json")

	result, err := svc.Run(context.Background(), DownloadOptions{
		Cutoff:     testingpkg.Day(2022, 1, 1),
		OutputPath: output,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Written)
	assert.Equal(t, 2, result.Archived)
	assert.Equal(t, 2, result.Stats.Requests)
	assert.Equal(t, []string{"", "p2"}, src.Requests())
	assert.True(t, src.Closed())

	records, err := timeline.ReadFile(output)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "3", records[0].ID())
	assert.Equal(t, "2", records[1].ID())

	runs, err := repo.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, result.RunID, runs[0].ID)
	assert.Equal(t, 2, runs[0].Records)
	assert.True(t, runs[0].Succeeded())
}

func TestDownloadService_RunWithoutArchive(t *testing.T) {
	src := testingpkg.NewMockSource(twoPages())
	svc := NewDownloadService(factory(src), nil, 0, testLogger())
	output := filepath.Join(t.TempDir(), "all_events.json")

	result, err := svc.Run(context.Background(), DownloadOptions{OutputPath: output})
	require.NoError(t, err)

	// p3 is unknown to the mock and answers with an empty page
	assert.Equal(t, 3, result.Written)
	assert.Empty(t, result.RunID)
	assert.Equal(t, []string{"", "p2", "p3"}, src.Requests())
}

func TestDownloadService_CollectFailureWritesNothing(t *testing.T) {
	src := testingpkg.NewMockSource(twoPages())
	src.SetRecvError(errors.New("connection reset"))
	repo := archive.NewRepository(testingpkg.NewTestDB(t).Conn(), testLogger())
	svc := NewDownloadService(factory(src), repo, time.Minute, testLogger())
	output := filepath.Join(t.TempDir(), "all_events.json")

	_, err := svc.Run(context.Background(), DownloadOptions{OutputPath: output})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoFileExists(t, output)
	assert.True(t, src.Closed())

	runs, err := repo.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Contains(t, runs[0].Error, "connection reset")
}

func TestDownloadService_OpenFailure(t *testing.T) {
	dialErr := errors.New("dial refused")
	svc := NewDownloadService(func(ctx context.Context) (TimelineSource, error) {
		return nil, dialErr
	}, nil, time.Minute, testLogger())

	_, err := svc.Run(context.Background(), DownloadOptions{OutputPath: filepath.Join(t.TempDir(), "x.json")})
	assert.ErrorIs(t, err, dialErr)
}

func TestDownloadService_CancelledContext(t *testing.T) {
	src := testingpkg.NewMockSource(twoPages())
	svc := NewDownloadService(factory(src), nil, time.Minute, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Run(ctx, DownloadOptions{OutputPath: filepath.Join(t.TempDir(), "x.json")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCutoff(t *testing.T) {
	now := time.Date(2022, 3, 10, 12, 0, 0, 0, time.UTC)
	notBefore := testingpkg.Day(2022, 1, 1)

	assert.Equal(t, notBefore, Cutoff(now, 30, notBefore))
	assert.Equal(t, time.Date(2022, 2, 8, 12, 0, 0, 0, time.UTC), Cutoff(now, 30, time.Time{}))
	assert.True(t, Cutoff(now, 0, time.Time{}).IsZero())
}

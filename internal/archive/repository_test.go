package archive

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testingpkg "github.com/aristath/tradelog/internal/testing"
	"github.com/aristath/tradelog/internal/timeline"
)

func newTestRepository(t *testing.T) *Repository {
	db := testingpkg.NewTestDB(t)
	return NewRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled))
}

func TestRepository_RunLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	cutoff := testingpkg.Day(2022, 1, 1)

	run, err := repo.StartRun(cutoff)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Nil(t, run.FinishedAt)

	stats := timeline.Stats{Requests: 3, Pages: 3, Unmatched: 1, Buffered: 12}
	require.NoError(t, repo.FinishRun(run, stats, 10, nil))

	runs, err := repo.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got := runs[0]
	assert.Equal(t, run.ID, got.ID)
	assert.True(t, cutoff.Equal(got.Cutoff))
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, 3, got.Stats.Requests)
	assert.Equal(t, 1, got.Stats.Unmatched)
	assert.Equal(t, 10, got.Records)
	assert.True(t, got.Succeeded())

	last, err := repo.LastSuccessfulRun()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, run.ID, last.ID)
}

func TestRepository_FailedRun(t *testing.T) {
	repo := newTestRepository(t)

	run, err := repo.StartRun(time.Time{})
	require.NoError(t, err)
	require.NoError(t, repo.FinishRun(run, timeline.Stats{Requests: 1}, 0, errors.New("connection reset")))

	runs, err := repo.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "connection reset", runs[0].Error)
	assert.False(t, runs[0].Succeeded())
	assert.True(t, runs[0].Cutoff.IsZero())

	last, err := repo.LastSuccessfulRun()
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestRepository_FinishUnknownRun(t *testing.T) {
	repo := newTestRepository(t)
	err := repo.FinishRun(&Run{ID: "missing"}, timeline.Stats{}, 0, nil)
	assert.Error(t, err)
}

func TestRepository_ListRunsNewestFirst(t *testing.T) {
	repo := newTestRepository(t)
	clock := testingpkg.Day(2022, 6, 1)
	repo.now = func() time.Time { return clock }

	first, err := repo.StartRun(time.Time{})
	require.NoError(t, err)
	clock = clock.Add(time.Hour)
	second, err := repo.StartRun(time.Time{})
	require.NoError(t, err)

	runs, err := repo.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)

	runs, err = repo.ListRuns(1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRepository_UpsertIsIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	run, err := repo.StartRun(time.Time{})
	require.NoError(t, err)

	records := []timeline.RawTransaction{
		testingpkg.NewRecord(t, "a", testingpkg.Day(2022, 3, 1)),
		testingpkg.NewRecord(t, "b", testingpkg.Day(2022, 2, 1)),
	}

	n, err := repo.Upsert(run.ID, records)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = repo.Upsert(run.ID, records)
	require.NoError(t, err)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRepository_SinceRoundTripsVerbatim(t *testing.T) {
	repo := newTestRepository(t)
	run, err := repo.StartRun(time.Time{})
	require.NoError(t, err)

	records := []timeline.RawTransaction{
		testingpkg.NewRecord(t, "old", testingpkg.Day(2021, 12, 1)),
		testingpkg.NewRecord(t, "new", testingpkg.Day(2022, 3, 1)),
		testingpkg.NewRecord(t, "mid", testingpkg.Day(2022, 2, 1)),
	}
	_, err = repo.Upsert(run.ID, records)
	require.NoError(t, err)

	got, err := repo.Since(testingpkg.Day(2022, 1, 1))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID())
	assert.Equal(t, "mid", got[1].ID())
	assert.Equal(t, string(records[1].Raw()), string(got[0].Raw()))

	all, err := repo.Since(time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRepository_TimestampsOutsideNanosecondRange(t *testing.T) {
	repo := newTestRepository(t)
	run, err := repo.StartRun(time.Time{})
	require.NoError(t, err)

	second := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []timeline.RawTransaction{
		testingpkg.NewRecord(t, "ancient", testingpkg.Day(1500, 1, 1)),
		testingpkg.NewRecord(t, "early", second.Add(100*time.Millisecond)),
		testingpkg.NewRecord(t, "late", second.Add(200*time.Millisecond)),
		testingpkg.NewRecord(t, "future", testingpkg.Day(2300, 6, 1)),
	}
	_, err = repo.Upsert(run.ID, records)
	require.NoError(t, err)

	ids := func(txs []timeline.RawTransaction) []string {
		out := make([]string, 0, len(txs))
		for _, tx := range txs {
			out = append(out, tx.ID())
		}
		return out
	}

	all, err := repo.Since(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{"future", "late", "early", "ancient"}, ids(all))

	got, err := repo.Since(second.Add(150 * time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, []string{"future", "late"}, ids(got))

	got, err = repo.Since(testingpkg.Day(1600, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"future", "late", "early"}, ids(got))
}

func TestRepository_UpsertEmpty(t *testing.T) {
	repo := newTestRepository(t)
	n, err := repo.Upsert("whatever", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRecordID(t *testing.T) {
	withID := testingpkg.NewRecord(t, "abc", testingpkg.Day(2022, 1, 1))
	assert.Equal(t, "abc", RecordID(withID))

	noID, err := timeline.NewRawTransaction([]byte(`{"timestamp":"2022-01-01","title":"x"}`))
	require.NoError(t, err)
	same, err := timeline.NewRawTransaction([]byte(`{"timestamp":"2022-01-01","title":"x"}`))
	require.NoError(t, err)
	other, err := timeline.NewRawTransaction([]byte(`{"timestamp":"2022-01-01","title":"y"}`))
	require.NoError(t, err)

	assert.Len(t, RecordID(noID), 36)
	assert.Equal(t, RecordID(noID), RecordID(same))
	assert.NotEqual(t, RecordID(noID), RecordID(other))
}

package archive

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() Result {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Result{
		RoomID:     "xq-1",
		RedID:      "r",
		RedName:    "Alice",
		BlackID:    "b",
		BlackName:  "Bob",
		Status:     "checkmate",
		Winner:     "red",
		WinnerID:   "r",
		MoveCount:  2,
		Moves:      []string{"b2-e2", "h7-e7"},
		FinalBoard: "4k4/9/9/9/9/9/9/9/9/4K4",
		StartedAt:  start,
		EndedAt:    start.Add(90 * time.Second),
	}
}

func TestPostgresRecordUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStore(db)
	r := sampleResult()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO match_results")+".*ON CONFLICT \\(room_id\\) DO UPDATE").
		WithArgs(
			r.RoomID, r.RedID, r.RedName, r.BlackID, r.BlackName,
			r.Status, r.Winner, r.WinnerID, r.MoveCount, `["b2-e2","h7-e7"]`,
			r.FinalBoard, r.StartedAt, r.EndedAt, int64(90000),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Record(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecentScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStore(db)
	r := sampleResult()

	rows := sqlmock.NewRows(resultColumns).AddRow(
		r.RoomID, r.RedID, r.RedName, r.BlackID, r.BlackName,
		r.Status, r.Winner, r.WinnerID, r.MoveCount, []byte(`["b2-e2","h7-e7"]`),
		r.FinalBoard, r.StartedAt, r.EndedAt, int64(90000),
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM match_results ORDER BY ended_at DESC LIMIT 5")).
		WillReturnRows(rows)

	got, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r, got[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectExec("INSERT INTO match_results").WillReturnError(assert.AnError)

	err = NewPostgresStore(db).Record(context.Background(), sampleResult())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{
		"000001_match_results.up.sql",
		"000001_match_results.down.sql",
	}, names)
}

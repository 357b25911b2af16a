package multitable

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"sparkify/internal/schema"
	"sparkify/internal/storage"
	"sparkify/internal/storage/sqlite"
)

// Timestamps of 2018-11-01 and 2018-11-02 plays.
const (
	tsNov1 = int64(1541105830796)
	tsNov2 = int64(1541121934796)
)

func migratedSQLite(t *testing.T) (storage.Config, *sqlx.DB) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "sparkify.db")

	mg, err := schema.New(context.Background(), "sqlite", dsn, nil)
	require.NoError(t, err)
	require.NoError(t, mg.Up())
	require.NoError(t, mg.Close())

	db, err := sqlx.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.Config{Kind: "sqlite", DSN: dsn}, db
}

func count(t *testing.T, db *sqlx.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, query, args...))
	return n
}

func sampleFiles() map[string]string {
	return map[string]string{
		"/data/song_data/A/A/TRAAAAW.json": catalogLine("SOMZWCG12A8C13C480", "I Didn't Mean To", "ARD7TVE1187B99BFB1", "Casual", 218.93179, 0),
		"/data/song_data/A/B/TRAAABD.json": catalogLine("SOCIWDW12A8C13D406", "Soul Deep", "ARMJAGH1187FB546F3", "The Box Tops", 148.03546, 1969),
		"/data/log_data/2018/11/2018-11-02-events.json": strings.Join([]string{
			eventLine(tsNov2, "8", "free", "Soul Deep", "The Box Tops", 148.03546, "NextSong"),
			eventLine(tsNov2+1000, "8", "free", "", "", 0, "Home"),
			eventLine(tsNov2+2000, "", "free", "Soul Deep", "The Box Tops", 148.03546, "NextSong"),
			eventLine(tsNov2+3000, "10", "paid", "Not In Catalog", "Nobody", 201.5, "NextSong"),
		}, "\n"),
	}
}

func TestRunner_LoadsStarSchema(t *testing.T) {
	cfg, db := migratedSQLite(t)
	core, logs := observer.New(zap.InfoLevel)

	r := &Runner{Source: memSource(sampleFiles()), Logger: zap.New(core), NewRunID: func() string { return "run-1" }}
	sum, err := r.Run(context.Background(), Plan{Storage: cfg, CatalogRoot: "/data/song_data", EventRoot: "/data/log_data"})
	require.NoError(t, err)

	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, 3, sum.Found)
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 3, sum.Loaded)
	assert.True(t, sum.OK())
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, LookupStats{Hits: 1, Misses: 1}, sum.Lookups)

	assert.Equal(t, 2, count(t, db, `SELECT COUNT(*) FROM songs`))
	assert.Equal(t, 2, count(t, db, `SELECT COUNT(*) FROM artists`))
	assert.Equal(t, 2, count(t, db, `SELECT COUNT(*) FROM users`))
	assert.Equal(t, 2, count(t, db, `SELECT COUNT(*) FROM "time"`))
	assert.Equal(t, 2, count(t, db, `SELECT COUNT(*) FROM songplays`))
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM songplays WHERE song_id = 'SOCIWDW12A8C13D406' AND artist_id = 'ARMJAGH1187FB546F3'`))
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM songplays WHERE song_id IS NULL AND artist_id IS NULL`))
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM songplays WHERE (song_id IS NULL) <> (artist_id IS NULL)`))

	var tr struct {
		Hour    int `db:"hour"`
		Day     int `db:"day"`
		Week    int `db:"week"`
		Month   int `db:"month"`
		Year    int `db:"year"`
		Weekday int `db:"weekday"`
	}
	require.NoError(t, db.Get(&tr, `SELECT hour, day, week, month, year, weekday FROM "time" WHERE start_time = ?`, "2018-11-02T01:25:34.796Z"))
	assert.Equal(t, 1, tr.Hour)
	assert.Equal(t, 2, tr.Day)
	assert.Equal(t, 44, tr.Week)
	assert.Equal(t, 11, tr.Month)
	assert.Equal(t, 2018, tr.Year)
	assert.Equal(t, 4, tr.Weekday)

	// start_time keys are stored as text and must read back as the same instant.
	var timeKeys, playTimes []string
	require.NoError(t, db.Select(&timeKeys, `SELECT start_time FROM "time" ORDER BY start_time`))
	require.NoError(t, db.Select(&playTimes, `SELECT start_time FROM songplays ORDER BY songplay_id`))
	require.Equal(t, []string{"2018-11-02T01:25:34.796Z", "2018-11-02T01:25:37.796Z"}, timeKeys)
	want := []time.Time{time.UnixMilli(tsNov2).UTC(), time.UnixMilli(tsNov2 + 3000).UTC()}
	require.Len(t, playTimes, len(want))
	for i, raw := range playTimes {
		got, err := sqlite.ParseTime(raw)
		require.NoError(t, err)
		assert.True(t, got.Equal(want[i]), "songplay %d: got %s want %s", i, got, want[i])
		assert.Equal(t, timeKeys[i], got.Format(time.RFC3339Nano), "fact and dimension keys must match")
	}

	assert.Equal(t, 1, logs.FilterMessage("2 files found in /data/song_data").Len())
	assert.Equal(t, 1, logs.FilterMessage("1 files found in /data/log_data").Len())
	assert.Equal(t, 1, logs.FilterMessage("3/3 files processed").Len())
	for _, e := range logs.All() {
		assert.Equal(t, "run-1", e.ContextMap()["run_id"])
	}
}

func TestRunner_CatalogReloadIsIdempotent(t *testing.T) {
	cfg, db := migratedSQLite(t)
	plan := Plan{Storage: cfg, CatalogRoot: "/data/song_data", EventRoot: "/data/log_data"}

	first := sampleFiles()
	_, err := (&Runner{Source: memSource(first)}).Run(context.Background(), plan)
	require.NoError(t, err)

	// Same keys, different attributes: the first write must win.
	second := map[string]string{
		"/data/song_data/A/A/TRAAAAW.json": catalogLine("SOMZWCG12A8C13C480", "Renamed", "ARD7TVE1187B99BFB1", "Someone Else", 1, 2020),
		"/data/song_data/A/B/TRAAABD.json": first["/data/song_data/A/B/TRAAABD.json"],
	}
	src := memSource(second)
	require.NoError(t, src.FS.MkdirAll("/data/log_data", 0o755))
	sum, err := (&Runner{Source: src}).Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Empty(t, sum.Failed)

	assert.Equal(t, 2, count(t, db, `SELECT COUNT(*) FROM songs`))
	assert.Equal(t, 2, count(t, db, `SELECT COUNT(*) FROM artists`))

	var title, name string
	require.NoError(t, db.Get(&title, `SELECT title FROM songs WHERE song_id = 'SOMZWCG12A8C13C480'`))
	require.NoError(t, db.Get(&name, `SELECT name FROM artists WHERE artist_id = 'ARD7TVE1187B99BFB1'`))
	assert.Equal(t, "I Didn't Mean To", title)
	assert.Equal(t, "Casual", name)
}

func TestRunner_UserLevelLastWriteWinsAcrossFiles(t *testing.T) {
	cfg, db := migratedSQLite(t)

	files := map[string]string{
		"/data/log_data/2018-11-01-events.json": eventLine(tsNov1, "8", "free", "A", "B", 1, "NextSong"),
		"/data/log_data/2018-11-02-events.json": eventLine(tsNov2, "8", "paid", "A", "B", 1, "NextSong"),
	}
	fs := memSource(files)
	require.NoError(t, fs.FS.MkdirAll("/data/song_data", 0o755))

	sum, err := (&Runner{Source: fs}).Run(context.Background(), Plan{Storage: cfg, CatalogRoot: "/data/song_data", EventRoot: "/data/log_data"})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Loaded)

	var level string
	require.NoError(t, db.Get(&level, `SELECT level FROM users WHERE user_id = 8`))
	assert.Equal(t, "paid", level)

	var levels []string
	require.NoError(t, db.Select(&levels, `SELECT level FROM songplays ORDER BY start_time`))
	assert.Equal(t, []string{"free", "paid"}, levels, "songplays keep the level at play time")
}

func TestRunner_OneMalformedFileOfTenIsContained(t *testing.T) {
	cfg, db := migratedSQLite(t)

	files := map[string]string{}
	for i := 0; i < 10; i++ {
		body := eventLine(tsNov1+int64(i)*60_000, fmt.Sprint(100+i), "free", "A", "B", 1, "NextSong")
		if i == 6 {
			body += "\n{\"ts\": \n"
		}
		files[fmt.Sprintf("/data/log_data/events-%02d.json", i)] = body
	}
	fs := memSource(files)
	require.NoError(t, fs.FS.MkdirAll("/data/song_data", 0o755))

	sum, err := (&Runner{Source: fs}).Run(context.Background(), Plan{Storage: cfg, CatalogRoot: "/data/song_data", EventRoot: "/data/log_data"})
	require.NoError(t, err)

	assert.Equal(t, 10, sum.Processed)
	assert.Equal(t, 9, sum.Loaded)
	assert.Equal(t, []string{"/data/log_data/events-06.json"}, sum.FailedPaths())
	assert.Equal(t, StatusFailed, sum.Failed[0].Status)
	assert.Contains(t, sum.Failed[0].Reason, "line 2")
	assert.Equal(t, 9, count(t, db, `SELECT COUNT(*) FROM songplays`))
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM users WHERE user_id = 106`))
}

func TestRunner_ListErrorIsFatal(t *testing.T) {
	t.Parallel()

	r := &Runner{
		Source: memSource(nil),
		OpenRepository: func(context.Context, storage.Config) (storage.Repository, error) {
			t.Fatalf("repository must not be opened when discovery fails")
			return nil, nil
		},
	}
	_, err := r.Run(context.Background(), Plan{CatalogRoot: "/nope", EventRoot: "/nope2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list catalog files")
}

func TestRunner_OpenFailureLeavesEverythingPending(t *testing.T) {
	t.Parallel()

	r := &Runner{
		Source: memSource(sampleFiles()),
		OpenRepository: func(context.Context, storage.Config) (storage.Repository, error) {
			return nil, &storage.ConnectionError{Op: "connect", Err: errors.New("refused")}
		},
	}
	sum, err := r.Run(context.Background(), Plan{CatalogRoot: "/data/song_data", EventRoot: "/data/log_data"})
	require.Error(t, err)
	assert.True(t, storage.IsConnectionError(err))
	assert.Len(t, sum.Pending, 3)
	assert.False(t, sum.OK())
}

func TestRunner_ConnectionLossStopsRun(t *testing.T) {
	t.Parallel()

	calls := 0
	tx := &recordingTx{execErr: func(string, []any) error {
		calls++
		// The first catalog file has two statements; fail on the second file.
		if calls > 2 {
			return &storage.ConnectionError{Op: "exec", Err: errors.New("reset by peer")}
		}
		return nil
	}}
	repo := &fakeRepo{tx: tx}
	r := &Runner{
		Source:         memSource(sampleFiles()),
		OpenRepository: func(context.Context, storage.Config) (storage.Repository, error) { return repo, nil },
	}

	sum, err := r.Run(context.Background(), Plan{CatalogRoot: "/data/song_data", EventRoot: "/data/log_data"})
	require.Error(t, err)
	assert.True(t, storage.IsConnectionError(err))
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, []string{
		"/data/song_data/A/B/TRAAABD.json",
		"/data/log_data/2018/11/2018-11-02-events.json",
	}, sum.Pending)
	assert.Equal(t, 1, repo.closed)
}

func TestRunner_OnlyLoadsSelectedFilesCatalogFirst(t *testing.T) {
	t.Parallel()

	tx := &recordingTx{}
	repo := &fakeRepo{tx: tx}
	r := &Runner{
		Source:         memSource(sampleFiles()),
		OpenRepository: func(context.Context, storage.Config) (storage.Repository, error) { return repo, nil },
	}

	sum, err := r.Run(context.Background(), Plan{
		CatalogRoot: "/data/song_data",
		EventRoot:   "/data/log_data",
		Only: []string{
			"/data/log_data/2018/11/2018-11-02-events.json",
			"/data/song_data/A/A/../A/TRAAAAW.json",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Found)
	assert.Equal(t, 2, sum.Processed)

	tables := tx.tables()
	require.NotEmpty(t, tables)
	assert.Equal(t, "songs", tables[0])
	assert.Equal(t, "songplays", tables[len(tables)-1])
}

func TestRunner_OnlyRejectsUnknownPaths(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{tx: &recordingTx{}}
	r := &Runner{
		Source:         memSource(sampleFiles()),
		OpenRepository: func(context.Context, storage.Config) (storage.Repository, error) { return repo, nil },
	}

	_, err := r.Run(context.Background(), Plan{
		CatalogRoot: "/data/song_data",
		EventRoot:   "/data/log_data",
		Only:        []string{"/data/song_data/A/A/TRAAAAW.json", "/elsewhere/b.json", "/elsewhere/a.json"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/elsewhere/a.json, /elsewhere/b.json")
	assert.Zero(t, repo.begins)
}

package multitable

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkify/internal/parser/jsonl"
	"sparkify/internal/storage"
)

func TestEngine_EventFileWritesDimensionsBeforeFacts(t *testing.T) {
	t.Parallel()

	body := strings.Join([]string{
		eventLine(1541121934796, "8", "free", "Intro", "Casual", 218.93179, "NextSong"),
		eventLine(1541121934800, "", "free", "", "", 0, "Home"),
		eventLine(1541121934900, "10", "paid", "Unknown", "Nobody", 100, "NextSong"),
	}, "\n")
	src := memSource(map[string]string{"/log/a.json": body})
	tx := &recordingTx{lookup: catalogLookup}
	repo := &fakeRepo{tx: tx}

	eng := &Engine{Repo: repo, Source: src}
	res, err := eng.ProcessFile(context.Background(), CategoryEvent, "/log/a.json")
	require.NoError(t, err)

	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 3, res.Records)
	assert.Equal(t, LookupStats{Hits: 1, Misses: 1}, res.Lookups)
	assert.Equal(t, []string{"time", "time", "users", "users", "song_artist", "song_artist", "songplays", "songplays"}, tx.tables())
	assert.Equal(t, 1, tx.commits)
	assert.Zero(t, tx.rollbacks)
	assert.Equal(t, map[string]int{"time": 2, "users": 2, "songplays": 2}, res.Rows)
}

func TestEngine_MalformedFileIsSkippedWithoutTransaction(t *testing.T) {
	t.Parallel()

	body := eventLine(1541121934796, "8", "free", "A", "B", 1, "NextSong") + "\n{not json\n"
	src := memSource(map[string]string{"/log/bad.json": body})
	repo := &fakeRepo{tx: &recordingTx{}}

	res, err := (&Engine{Repo: repo, Source: src}).ProcessFile(context.Background(), CategoryEvent, "/log/bad.json")
	require.NoError(t, err, "a malformed file does not stop the run")
	assert.Equal(t, StatusFailed, res.Status)

	var me *jsonl.MalformedRecordError
	require.ErrorAs(t, res.Err, &me)
	assert.Equal(t, 2, me.Line)
	assert.Zero(t, repo.begins, "nothing is written for a malformed file")
}

func TestEngine_WriteErrorsCommitWithErrors(t *testing.T) {
	t.Parallel()

	src := memSource(map[string]string{"/song/a.json": catalogLine("S1", "Intro", "A1", "Casual", 1.5, 0)})
	tx := &recordingTx{execErr: func(q string, _ []any) error {
		if q == fakeStatements.InsertArtist {
			return errors.New("value too long")
		}
		return nil
	}}
	repo := &fakeRepo{tx: tx}

	res, err := (&Engine{Repo: repo, Source: src}).ProcessFile(context.Background(), CategoryCatalog, "/song/a.json")
	require.NoError(t, err)
	assert.Equal(t, StatusWithErrors, res.Status)
	assert.Equal(t, 1, tx.commits, "the rest of the file is kept")
	assert.Equal(t, map[string]int{"artists": 1}, res.Rejected)
	assert.Len(t, rejectedErrors(res.Err), 1)
}

func TestEngine_CommitFailureFailsFile(t *testing.T) {
	t.Parallel()

	src := memSource(map[string]string{"/song/a.json": catalogLine("S1", "Intro", "A1", "Casual", 1.5, 0)})
	tx := &recordingTx{commitErr: errors.New("serialization failure")}

	res, err := (&Engine{Repo: &fakeRepo{tx: tx}, Source: src}).ProcessFile(context.Background(), CategoryCatalog, "/song/a.json")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorContains(t, res.Err, "commit")
	assert.Equal(t, 1, tx.rollbacks)
}

func TestEngine_ConnectionErrorIsFatal(t *testing.T) {
	t.Parallel()

	src := memSource(map[string]string{"/song/a.json": catalogLine("S1", "Intro", "A1", "Casual", 1.5, 0)})

	t.Run("begin", func(t *testing.T) {
		repo := &fakeRepo{beginErr: &storage.ConnectionError{Op: "begin", Err: errors.New("refused")}}
		_, err := (&Engine{Repo: repo, Source: src}).ProcessFile(context.Background(), CategoryCatalog, "/song/a.json")
		assert.True(t, storage.IsConnectionError(err))
	})

	t.Run("exec", func(t *testing.T) {
		tx := &recordingTx{execErr: func(string, []any) error {
			return &storage.ConnectionError{Op: "exec", Err: errors.New("reset")}
		}}
		res, err := (&Engine{Repo: &fakeRepo{tx: tx}, Source: src}).ProcessFile(context.Background(), CategoryCatalog, "/song/a.json")
		assert.True(t, storage.IsConnectionError(err))
		assert.Equal(t, StatusFailed, res.Status)
		assert.Equal(t, 1, tx.rollbacks)
		assert.Zero(t, tx.commits)
	})
}

func TestEngine_UnreadableFileFails(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{tx: &recordingTx{}}
	res, err := (&Engine{Repo: repo, Source: memSource(nil)}).ProcessFile(context.Background(), CategoryEvent, "/missing.json")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Error(t, res.Err)
	assert.Zero(t, repo.begins)
}

// slowTx blocks every write until the context is done.
type slowTx struct{ recordingTx }

func (t *slowTx) Exec(ctx context.Context, query string, args ...any) error {
	<-ctx.Done()
	return ctx.Err()
}

type slowRepo struct{ fakeRepo }

func (r *slowRepo) Begin(ctx context.Context) (storage.Tx, error) {
	r.begins++
	return &slowTx{}, nil
}

func TestEngine_FileTimeoutFailsOnlyThatFile(t *testing.T) {
	t.Parallel()

	src := memSource(map[string]string{"/song/a.json": catalogLine("S1", "Intro", "A1", "Casual", 1.5, 0)})
	eng := &Engine{Repo: &slowRepo{}, Source: src, FileTimeout: 20 * time.Millisecond}

	res, err := eng.ProcessFile(context.Background(), CategoryCatalog, "/song/a.json")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

package multitable

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"sparkify/internal/source"
	"sparkify/internal/storage"
)

// fakeStatements are recognisable placeholders; the recording Tx never
// parses them.
var fakeStatements = storage.Statements{
	InsertSong:       "INSERT songs",
	InsertArtist:     "INSERT artists",
	InsertTime:       "INSERT time",
	UpsertUser:       "UPSERT users",
	InsertSongplay:   "INSERT songplays",
	SelectSongArtist: "SELECT song_artist",
}

type call struct {
	query string
	args  []any
}

// recordingTx records every statement in order. execErr and lookup let a test
// reject writes or answer lookups.
type recordingTx struct {
	mu    sync.Mutex
	calls []call

	execErr   func(query string, args []any) error
	lookup    func(args []any) (songID, artistID string, found bool, err error)
	commitErr error

	commits   int
	rollbacks int
}

func (t *recordingTx) Exec(ctx context.Context, query string, args ...any) error {
	t.mu.Lock()
	t.calls = append(t.calls, call{query: query, args: args})
	t.mu.Unlock()
	if t.execErr != nil {
		return t.execErr(query, args)
	}
	return nil
}

func (t *recordingTx) QueryOne(ctx context.Context, query string, args []any, dest ...any) (bool, error) {
	t.mu.Lock()
	t.calls = append(t.calls, call{query: query, args: args})
	t.mu.Unlock()
	if t.lookup == nil {
		return false, nil
	}
	songID, artistID, found, err := t.lookup(args)
	if err != nil || !found {
		return false, err
	}
	*(dest[0].(*string)) = songID
	*(dest[1].(*string)) = artistID
	return true, nil
}

func (t *recordingTx) Commit(ctx context.Context) error {
	t.commits++
	return t.commitErr
}

func (t *recordingTx) Rollback(ctx context.Context) error {
	t.rollbacks++
	return nil
}

// tables returns the table touched by each recorded call, in order.
func (t *recordingTx) tables() []string {
	out := make([]string, 0, len(t.calls))
	for _, c := range t.calls {
		out = append(out, c.query[strings.LastIndex(c.query, " ")+1:])
	}
	return out
}

type fakeRepo struct {
	tx       *recordingTx
	beginErr error
	begins   int
	closed   int
}

func (r *fakeRepo) Kind() string                   { return "fake" }
func (r *fakeRepo) Statements() storage.Statements { return fakeStatements }
func (r *fakeRepo) Close()                         { r.closed++ }

func (r *fakeRepo) Begin(ctx context.Context) (storage.Tx, error) {
	r.begins++
	if r.beginErr != nil {
		return nil, r.beginErr
	}
	return r.tx, nil
}

func memSource(files map[string]string) *source.Files {
	fs := afero.NewMemMapFs()
	for p, body := range files {
		if err := afero.WriteFile(fs, p, []byte(body), 0o644); err != nil {
			panic(err)
		}
	}
	return &source.Files{FS: fs}
}

func catalogLine(songID, title, artistID, artistName string, duration float64, year int) string {
	return fmt.Sprintf(`{"num_songs": 1, "artist_id": %q, "artist_latitude": null, "artist_longitude": null, "artist_location": "", "artist_name": %q, "song_id": %q, "title": %q, "duration": %v, "year": %d}`,
		artistID, artistName, songID, title, duration, year)
}

func eventLine(ts int64, userID, level, song, artist string, length float64, page string) string {
	return fmt.Sprintf(`{"artist": %q, "auth": "Logged In", "firstName": "Kaylee", "gender": "F", "itemInSession": 0, "lastName": "Summers", "length": %v, "level": %q, "location": "Phoenix-Mesa-Scottsdale, AZ", "method": "PUT", "page": %q, "registration": 1540344794796.0, "sessionId": 139, "song": %q, "status": 200, "ts": %d, "userAgent": "Mozilla/5.0", "userId": %q}`,
		artist, length, level, page, song, ts, userID)
}

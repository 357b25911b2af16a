package postgres

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"sparkify/internal/storage"
)

func statements() storage.Statements {
	return storage.Statements{
		InsertSong:       buildInsertSQL(storage.TableSongs, storage.SongColumns, []string{"song_id"}, false),
		InsertArtist:     buildInsertSQL(storage.TableArtists, storage.ArtistColumns, []string{"artist_id"}, false),
		InsertTime:       buildInsertSQL(storage.TableTime, storage.TimeColumns, []string{"start_time"}, false),
		UpsertUser:       buildInsertSQL(storage.TableUsers, storage.UserColumns, []string{"user_id"}, true),
		InsertSongplay:   buildInsertSQL(storage.TableSongplays, storage.SongplayColumns, nil, false),
		SelectSongArtist: buildLookupSQL(),
	}
}

// buildInsertSQL constructs a single-row INSERT for Postgres.
//
// With conflictColumns set the insert becomes idempotent:
//
//	ON CONFLICT (<conflictColumns...>) DO NOTHING
//
// and with update=true the remaining columns take the incoming values instead
// (last write wins):
//
//	ON CONFLICT (<conflictColumns...>) DO UPDATE SET c = EXCLUDED.c, ...
//
// It is pure and deterministic, so placeholder numbering and conflict handling
// are unit tested without a database.
func buildInsertSQL(table string, columns []string, conflictColumns []string, update bool) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fmt.Sprintf("$%d", i+1))
	}
	b.WriteString(")")

	if len(conflictColumns) == 0 {
		return b.String()
	}

	b.WriteString(" ON CONFLICT (")
	for i, c := range conflictColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(")")

	if !update {
		b.WriteString(" DO NOTHING")
		return b.String()
	}

	isKey := make(map[string]bool, len(conflictColumns))
	for _, c := range conflictColumns {
		isKey[c] = true
	}
	b.WriteString(" DO UPDATE SET ")
	first := true
	for _, c := range columns {
		if isKey[c] {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(pgIdent(c))
		b.WriteString(" = EXCLUDED.")
		b.WriteString(pgIdent(c))
	}
	return b.String()
}

// buildLookupSQL resolves (title, artist name, duration) to a song and artist
// key. Ties are broken by song_id so repeated runs resolve the same way.
func buildLookupSQL() string {
	return fmt.Sprintf(
		"SELECT s.%s, s.%s FROM %s s JOIN %s a ON a.%s = s.%s WHERE s.%s = $1 AND a.%s = $2 AND s.%s = $3 ORDER BY s.%s LIMIT 1",
		pgIdent("song_id"), pgIdent("artist_id"),
		pgIdent(storage.TableSongs), pgIdent(storage.TableArtists),
		pgIdent("artist_id"), pgIdent("artist_id"),
		pgIdent("title"), pgIdent("name"), pgIdent("duration"),
		pgIdent("song_id"),
	)
}

func pgIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

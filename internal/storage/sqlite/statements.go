package sqlite

import (
	"fmt"
	"strings"

	"sparkify/internal/storage"
)

func statements() storage.Statements {
	return storage.Statements{
		InsertSong:       buildInsertSQL("INSERT OR IGNORE", storage.TableSongs, storage.SongColumns),
		InsertArtist:     buildInsertSQL("INSERT OR IGNORE", storage.TableArtists, storage.ArtistColumns),
		InsertTime:       buildInsertSQL("INSERT OR IGNORE", storage.TableTime, storage.TimeColumns),
		UpsertUser:       buildUpsertSQL(storage.TableUsers, storage.UserColumns, "user_id"),
		InsertSongplay:   buildInsertSQL("INSERT", storage.TableSongplays, storage.SongplayColumns),
		SelectSongArtist: buildLookupSQL(),
	}
}

func buildInsertSQL(verb, table string, columns []string) string {
	var b strings.Builder
	b.WriteString(verb)
	b.WriteString(" INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES (")
	b.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "))
	b.WriteString(")")
	return b.String()
}

// buildUpsertSQL uses the SQLite UPSERT clause so a repeated key overwrites the
// non-key columns.
func buildUpsertSQL(table string, columns []string, key string) string {
	var b strings.Builder
	b.WriteString(buildInsertSQL("INSERT", table, columns))
	b.WriteString(" ON CONFLICT (")
	b.WriteString(sqlIdent(key))
	b.WriteString(") DO UPDATE SET ")
	first := true
	for _, c := range columns {
		if c == key {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(sqlIdent(c))
		b.WriteString(" = excluded.")
		b.WriteString(sqlIdent(c))
	}
	return b.String()
}

func buildLookupSQL() string {
	return fmt.Sprintf(
		"SELECT s.%s, s.%s FROM %s s JOIN %s a ON a.%s = s.%s WHERE s.%s = ? AND a.%s = ? AND s.%s = ? ORDER BY s.%s LIMIT 1",
		sqlIdent("song_id"), sqlIdent("artist_id"),
		sqlIdent(storage.TableSongs), sqlIdent(storage.TableArtists),
		sqlIdent("artist_id"), sqlIdent("artist_id"),
		sqlIdent("title"), sqlIdent("name"), sqlIdent("duration"),
		sqlIdent("song_id"),
	)
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

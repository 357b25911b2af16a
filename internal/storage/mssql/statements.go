package mssql

import (
	"fmt"
	"strings"

	"sparkify/internal/storage"
)

func statements() storage.Statements {
	return storage.Statements{
		InsertSong:       buildInsertIfAbsentSQL(storage.TableSongs, storage.SongColumns, "song_id"),
		InsertArtist:     buildInsertIfAbsentSQL(storage.TableArtists, storage.ArtistColumns, "artist_id"),
		InsertTime:       buildInsertIfAbsentSQL(storage.TableTime, storage.TimeColumns, "start_time"),
		UpsertUser:       buildMergeSQL(storage.TableUsers, storage.UserColumns, "user_id"),
		InsertSongplay:   buildInsertSQL(storage.TableSongplays, storage.SongplayColumns),
		SelectSongArtist: buildLookupSQL(),
	}
}

// placeholders returns "@p1, @p2, ..." for n columns, the positional form the
// go-mssqldb driver binds ordinal arguments to.
func placeholders(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("@p%d", i+1)
	}
	return out
}

func identList(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = mssqlIdent(c)
	}
	return strings.Join(parts, ", ")
}

func buildInsertSQL(table string, columns []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		mssqlTableIdent(table), identList(columns), strings.Join(placeholders(len(columns)), ", "))
}

// buildInsertIfAbsentSQL inserts a row only when key is not yet present.
//
// SQL Server has no ON CONFLICT; NOT EXISTS against the key column gives the
// same first-write-wins result. The key placeholder is reused in the subquery.
func buildInsertIfAbsentSQL(table string, columns []string, key string) string {
	ph := placeholders(len(columns))
	keyPH := ""
	for i, c := range columns {
		if c == key {
			keyPH = ph[i]
		}
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(identList(columns))
	b.WriteString(") SELECT ")
	b.WriteString(strings.Join(ph, ", "))
	b.WriteString(" WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" WITH (UPDLOCK, HOLDLOCK) WHERE ")
	b.WriteString(mssqlIdent(key))
	b.WriteString(" = ")
	b.WriteString(keyPH)
	b.WriteString(")")
	return b.String()
}

// buildMergeSQL upserts one row keyed by key; matched rows take every non-key
// column from the incoming values.
func buildMergeSQL(table string, columns []string, key string) string {
	ph := placeholders(len(columns))

	src := make([]string, len(columns))
	for i, c := range columns {
		src[i] = ph[i] + " AS " + mssqlIdent(c)
	}

	var sets []string
	for _, c := range columns {
		if c == key {
			continue
		}
		sets = append(sets, fmt.Sprintf("t.%s = s.%s", mssqlIdent(c), mssqlIdent(c)))
	}

	vals := make([]string, len(columns))
	for i, c := range columns {
		vals[i] = "s." + mssqlIdent(c)
	}

	var b strings.Builder
	b.WriteString("MERGE INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" WITH (HOLDLOCK) AS t USING (SELECT ")
	b.WriteString(strings.Join(src, ", "))
	b.WriteString(") AS s ON t.")
	b.WriteString(mssqlIdent(key))
	b.WriteString(" = s.")
	b.WriteString(mssqlIdent(key))
	b.WriteString(" WHEN MATCHED THEN UPDATE SET ")
	b.WriteString(strings.Join(sets, ", "))
	b.WriteString(" WHEN NOT MATCHED THEN INSERT (")
	b.WriteString(identList(columns))
	b.WriteString(") VALUES (")
	b.WriteString(strings.Join(vals, ", "))
	b.WriteString(");")
	return b.String()
}

func buildLookupSQL() string {
	return fmt.Sprintf(
		"SELECT TOP 1 s.%s, s.%s FROM %s s JOIN %s a ON a.%s = s.%s WHERE s.%s = @p1 AND a.%s = @p2 AND s.%s = @p3 ORDER BY s.%s",
		mssqlIdent("song_id"), mssqlIdent("artist_id"),
		mssqlTableIdent(storage.TableSongs), mssqlTableIdent(storage.TableArtists),
		mssqlIdent("artist_id"), mssqlIdent("artist_id"),
		mssqlIdent("title"), mssqlIdent("name"), mssqlIdent("duration"),
		mssqlIdent("song_id"),
	)
}

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
// Unqualified names are placed in dbo.
//
// Example:
//
//	"time" -> [dbo].[time]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) == 1 {
		parts = []string{"dbo", parts[0]}
	}
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

package storage

import (
	"fmt"
	"sort"
	"strings"
)

// Warehouse table names.
const (
	TableSongs     = "songs"
	TableArtists   = "artists"
	TableUsers     = "users"
	TableTime      = "time"
	TableSongplays = "songplays"
)

// Column lists in the order the loader binds arguments. Backends build their
// statements from these so placeholder numbering always lines up with the
// loader's argument order.
var (
	SongColumns     = []string{"song_id", "title", "artist_id", "year", "duration"}
	ArtistColumns   = []string{"artist_id", "name", "location", "latitude", "longitude"}
	UserColumns     = []string{"user_id", "first_name", "last_name", "gender", "level"}
	TimeColumns     = []string{"start_time", "hour", "day", "week", "month", "year", "weekday"}
	SongplayColumns = []string{"start_time", "user_id", "level", "song_id", "artist_id", "session_id", "location", "user_agent"}
)

// Statements is the dialect-specific SQL a backend hands to the loader.
//
// Argument order:
//   - InsertSong:       SongColumns
//   - InsertArtist:     ArtistColumns
//   - InsertTime:       TimeColumns
//   - UpsertUser:       UserColumns
//   - InsertSongplay:   SongplayColumns
//   - SelectSongArtist: title, artist name, duration; scans song_id, artist_id
type Statements struct {
	InsertSong       string
	InsertArtist     string
	InsertTime       string
	UpsertUser       string
	InsertSongplay   string
	SelectSongArtist string
}

// Validate reports every empty statement in one error.
func (s Statements) Validate() error {
	var missing []string
	for name, q := range map[string]string{
		"InsertSong":       s.InsertSong,
		"InsertArtist":     s.InsertArtist,
		"InsertTime":       s.InsertTime,
		"UpsertUser":       s.UpsertUser,
		"InsertSongplay":   s.InsertSongplay,
		"SelectSongArtist": s.SelectSongArtist,
	} {
		if strings.TrimSpace(q) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("storage: statements missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

package multitable

import (
	"time"

	"github.com/samber/lo"

	"sparkify/internal/records"
	"sparkify/internal/warehouse"
)

// CatalogRows are the dimension rows projected from one catalog file.
type CatalogRows struct {
	Songs   []warehouse.Song
	Artists []warehouse.Artist
}

// ExtractCatalog projects exactly one song and one artist per record, in
// source order. Duplicates are left to the warehouse's insert-if-absent
// statements.
func ExtractCatalog(recs []records.Catalog) CatalogRows {
	out := CatalogRows{
		Songs:   make([]warehouse.Song, 0, len(recs)),
		Artists: make([]warehouse.Artist, 0, len(recs)),
	}
	for _, r := range recs {
		out.Songs = append(out.Songs, warehouse.Song{
			SongID:   r.SongID,
			Title:    r.Title,
			ArtistID: r.ArtistID,
			Year:     r.Year,
			Duration: r.Duration,
		})
		out.Artists = append(out.Artists, warehouse.Artist{
			ArtistID:  r.ArtistID,
			Name:      r.ArtistName,
			Location:  r.ArtistLocation,
			Latitude:  r.ArtistLatitude,
			Longitude: r.ArtistLongitude,
		})
	}
	return out
}

// PendingPlay is a songplay whose song and artist ids are not resolved yet,
// together with the attributes the lookup matches on.
type PendingPlay struct {
	Play   warehouse.Songplay
	Title  string
	Artist string
	Length *float64
}

// EventRows are the rows derived from one event file.
type EventRows struct {
	// Times holds one row per distinct start_time, first occurrence first.
	Times []warehouse.TimeRow
	// Users holds one row per user_id, ordered by first appearance and
	// carrying the attributes of the user's last event in the file.
	Users []warehouse.User
	Plays []PendingPlay
	// Playbacks counts NextSong events, including skipped ones.
	Playbacks int
	// Skipped counts playback events dropped because they carry no user id.
	Skipped int
}

// ExtractEvents keeps NextSong events and derives the time, user and pending
// songplay rows from them.
func ExtractEvents(recs []records.Event) EventRows {
	plays := lo.Filter(recs, func(e records.Event, _ int) bool { return e.IsPlayback() })

	out := EventRows{Playbacks: len(plays)}
	seenTime := make(map[time.Time]struct{}, len(plays))
	userIdx := make(map[int64]int, len(plays))

	for _, ev := range plays {
		if ev.UserID == nil {
			out.Skipped++
			continue
		}
		uid := *ev.UserID

		tr := warehouse.NewTimeRow(ev.TS)
		if _, dup := seenTime[tr.StartTime]; !dup {
			seenTime[tr.StartTime] = struct{}{}
			out.Times = append(out.Times, tr)
		}

		u := warehouse.User{
			UserID:    uid,
			FirstName: ev.FirstName,
			LastName:  ev.LastName,
			Gender:    ev.Gender,
			Level:     warehouse.Level(ev.Level),
		}
		if i, ok := userIdx[uid]; ok {
			out.Users[i] = u
		} else {
			userIdx[uid] = len(out.Users)
			out.Users = append(out.Users, u)
		}

		out.Plays = append(out.Plays, PendingPlay{
			Play: warehouse.Songplay{
				StartTime: tr.StartTime,
				UserID:    uid,
				Level:     warehouse.Level(ev.Level),
				SessionID: ev.SessionID,
				Location:  ev.Location,
				UserAgent: ev.UserAgent,
			},
			Title:  ev.Song,
			Artist: ev.Artist,
			Length: ev.Length,
		})
	}
	return out
}

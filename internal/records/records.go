package records

import (
	"errors"
	"fmt"
)

// Fields is one decoded JSON object keyed by source field name.
type Fields map[string]any

// Catalog is one song-catalog record. Each catalog file describes one song
// and the artist who recorded it.
type Catalog struct {
	ArtistID        string
	ArtistLatitude  *float64
	ArtistLongitude *float64
	ArtistLocation  *string
	ArtistName      string
	SongID          string
	Title           string
	Duration        float64
	Year            int64
}

// Event is one user-activity log record. Only events whose Page is
// PlaybackPage describe a song play.
type Event struct {
	Artist    string
	FirstName string
	Gender    string
	LastName  string
	Length    *float64
	Level     string
	Location  string
	Page      string
	SessionID int64
	Song      string
	TS        int64
	UserAgent string
	// UserID is nil when the source carried an empty or missing userId,
	// which happens for logged-out sessions.
	UserID *int64
}

// PlaybackPage is the Page value of song-play events.
const PlaybackPage = "NextSong"

// IsPlayback reports whether e records a song being played.
func (e Event) IsPlayback() bool { return e.Page == PlaybackPage }

// fieldErr accumulates the first coercion failure with the field it came from.
type fieldErr struct{ err error }

func (fe *fieldErr) note(field string, err error) {
	if err != nil && fe.err == nil {
		fe.err = fmt.Errorf("field %q: %w", field, err)
	}
}

// CatalogFromFields builds a Catalog from a decoded object.
//
// Errors:
//   - song_id and artist_id must be present and non-empty.
//   - Any present field with the wrong shape (e.g. duration "abc").
func CatalogFromFields(f Fields) (Catalog, error) {
	var (
		c  Catalog
		fe fieldErr
		e  error
	)

	c.SongID, e = String(f["song_id"])
	fe.note("song_id", e)
	c.Title, e = String(f["title"])
	fe.note("title", e)
	c.ArtistID, e = String(f["artist_id"])
	fe.note("artist_id", e)
	c.ArtistName, e = String(f["artist_name"])
	fe.note("artist_name", e)
	c.ArtistLocation, e = OptionalString(f["artist_location"])
	fe.note("artist_location", e)
	c.ArtistLatitude, e = OptionalFloat64(f["artist_latitude"])
	fe.note("artist_latitude", e)
	c.ArtistLongitude, e = OptionalFloat64(f["artist_longitude"])
	fe.note("artist_longitude", e)
	c.Year, _, e = Int64(f["year"])
	fe.note("year", e)
	c.Duration, _, e = Float64(f["duration"])
	fe.note("duration", e)

	if fe.err != nil {
		return Catalog{}, fe.err
	}
	if c.SongID == "" {
		return Catalog{}, errors.New(`field "song_id": missing`)
	}
	if c.ArtistID == "" {
		return Catalog{}, errors.New(`field "artist_id": missing`)
	}
	return c, nil
}

// EventFromFields builds an Event from a decoded object.
//
// Errors:
//   - ts must be present; every event carries one.
//   - Any present field with the wrong shape (e.g. userId "abc").
func EventFromFields(f Fields) (Event, error) {
	var (
		ev Event
		fe fieldErr
		e  error
	)

	ev.Artist, e = String(f["artist"])
	fe.note("artist", e)
	ev.Song, e = String(f["song"])
	fe.note("song", e)
	ev.Length, e = OptionalFloat64(f["length"])
	fe.note("length", e)
	ev.FirstName, e = String(f["firstName"])
	fe.note("firstName", e)
	ev.LastName, e = String(f["lastName"])
	fe.note("lastName", e)
	ev.Gender, e = String(f["gender"])
	fe.note("gender", e)
	ev.Level, e = String(f["level"])
	fe.note("level", e)
	ev.Location, e = String(f["location"])
	fe.note("location", e)
	ev.UserAgent, e = String(f["userAgent"])
	fe.note("userAgent", e)
	ev.Page, e = String(f["page"])
	fe.note("page", e)
	ev.SessionID, _, e = Int64(f["sessionId"])
	fe.note("sessionId", e)

	uid, hasUID, e := Int64(f["userId"])
	fe.note("userId", e)
	if hasUID {
		ev.UserID = &uid
	}

	ts, hasTS, e := Int64(f["ts"])
	fe.note("ts", e)
	ev.TS = ts

	if fe.err != nil {
		return Event{}, fe.err
	}
	if !hasTS {
		return Event{}, errors.New(`field "ts": missing`)
	}
	return ev, nil
}

// Package warehouse defines the rows of the Sparkify star schema: the
// songplays fact table and the songs, artists, users and time dimensions.
package warehouse

import "time"

// Level is a user's subscription tier.
type Level string

const (
	LevelFree Level = "free"
	LevelPaid Level = "paid"
)

// Song is a row of the songs dimension, keyed by SongID.
type Song struct {
	SongID   string
	Title    string
	ArtistID string
	Year     int64
	Duration float64
}

// Artist is a row of the artists dimension, keyed by ArtistID. Location and
// coordinates are often unknown in the catalog and stay nil.
type Artist struct {
	ArtistID  string
	Name      string
	Location  *string
	Latitude  *float64
	Longitude *float64
}

// User is a row of the users dimension, keyed by UserID. The most recently
// loaded event for a user decides every attribute, including Level.
type User struct {
	UserID    int64
	FirstName string
	LastName  string
	Gender    string
	Level     Level
}

// TimeRow is a row of the time dimension, keyed by StartTime. Every field is
// derived from StartTime in UTC.
type TimeRow struct {
	StartTime time.Time
	Hour      int
	Day       int
	Week      int
	Month     int
	Year      int
	// Weekday counts from Monday = 0 to Sunday = 6.
	Weekday int
}

// NewTimeRow derives the time dimension row for an epoch-milliseconds
// timestamp. Week is the ISO-8601 week number.
func NewTimeRow(ms int64) TimeRow {
	t := time.UnixMilli(ms).UTC()
	_, week := t.ISOWeek()
	return TimeRow{
		StartTime: t,
		Hour:      t.Hour(),
		Day:       t.Day(),
		Week:      week,
		Month:     int(t.Month()),
		Year:      t.Year(),
		Weekday:   (int(t.Weekday()) + 6) % 7,
	}
}

// Songplay is a row of the songplays fact table. SongID and ArtistID are nil
// when the played song could not be matched to the catalog.
type Songplay struct {
	StartTime time.Time
	UserID    int64
	Level     Level
	SongID    *string
	ArtistID  *string
	SessionID int64
	Location  string
	UserAgent string
}

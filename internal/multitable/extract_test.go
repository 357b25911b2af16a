package multitable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkify/internal/records"
	"sparkify/internal/warehouse"
)

func i64(v int64) *int64 { return &v }
func f64(v float64) *float64 { return &v }
func str(v string) *string { return &v }

func TestExtractCatalog_OneSongAndArtistPerRecord(t *testing.T) {
	t.Parallel()

	recs := []records.Catalog{
		{SongID: "S1", Title: "Intro", ArtistID: "A1", ArtistName: "Casual", Duration: 218.93179, ArtistLocation: str("LA")},
		{SongID: "S2", Title: "Outro", ArtistID: "A1", ArtistName: "Casual", Duration: 100, Year: 2004, ArtistLatitude: f64(35.1), ArtistLongitude: f64(-90.0)},
	}

	got := ExtractCatalog(recs)
	require.Len(t, got.Songs, 2)
	require.Len(t, got.Artists, 2, "duplicates are left to insert-if-absent")

	assert.Equal(t, warehouse.Song{SongID: "S1", Title: "Intro", ArtistID: "A1", Year: 0, Duration: 218.93179}, got.Songs[0])
	assert.Equal(t, int64(2004), got.Songs[1].Year)
	assert.Equal(t, "LA", *got.Artists[0].Location)
	assert.Nil(t, got.Artists[0].Latitude)
	assert.Equal(t, 35.1, *got.Artists[1].Latitude)
}

func TestExtractEvents_FiltersDedupesAndSkips(t *testing.T) {
	t.Parallel()

	const ts = int64(1541121934796)
	recs := []records.Event{
		{Page: "Home", TS: ts - 1000, UserID: i64(8), Level: "free"},
		{Page: "NextSong", TS: ts, UserID: i64(8), Level: "free", Song: "A", Artist: "X", Length: f64(1.5), SessionID: 139, FirstName: "Kaylee"},
		{Page: "NextSong", TS: ts + 1, UserID: i64(10), Level: "free", Song: "B", Artist: "Y"},
		{Page: "NextSong", TS: ts, UserID: i64(8), Level: "paid", Song: "C", Artist: "Z", Length: f64(2)},
		{Page: "NextSong", TS: ts + 2, UserID: nil, Level: "free", Song: "D"},
		{Page: "Logout", TS: ts + 3, UserID: i64(99)},
	}

	got := ExtractEvents(recs)

	assert.Equal(t, 4, got.Playbacks)
	assert.Equal(t, 1, got.Skipped)

	require.Len(t, got.Times, 2, "start_time is deduplicated within the file")
	assert.Equal(t, time.UnixMilli(ts).UTC(), got.Times[0].StartTime)
	assert.Equal(t, time.UnixMilli(ts+1).UTC(), got.Times[1].StartTime)

	require.Len(t, got.Users, 2)
	assert.Equal(t, int64(8), got.Users[0].UserID, "first appearance keeps its position")
	assert.Equal(t, warehouse.LevelPaid, got.Users[0].Level, "last occurrence wins")
	assert.Equal(t, int64(10), got.Users[1].UserID)

	require.Len(t, got.Plays, 3)
	p := got.Plays[0]
	assert.Equal(t, "A", p.Title)
	assert.Equal(t, "X", p.Artist)
	assert.Equal(t, 1.5, *p.Length)
	assert.Equal(t, warehouse.LevelFree, p.Play.Level, "level is the point-in-time value")
	assert.Equal(t, int64(139), p.Play.SessionID)
	assert.Nil(t, p.Play.SongID)
	assert.Nil(t, p.Play.ArtistID)
	assert.Equal(t, warehouse.LevelPaid, got.Plays[2].Play.Level)
}

func TestExtractEvents_NoPlaybacks(t *testing.T) {
	t.Parallel()

	got := ExtractEvents([]records.Event{{Page: "Home", TS: 1}, {Page: "Settings", TS: 2}})
	assert.Zero(t, got.Playbacks)
	assert.Empty(t, got.Times)
	assert.Empty(t, got.Users)
	assert.Empty(t, got.Plays)

	assert.Empty(t, ExtractEvents(nil).Plays)
}

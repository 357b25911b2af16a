package sqlite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	t.Parallel()

	golden := time.UnixMilli(1541121934796).UTC()

	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{name: "loader text", in: "2018-11-02T01:25:34.796Z", want: golden},
		{name: "offset is normalised", in: "2018-11-02T02:25:34.796+01:00", want: golden},
		{name: "sqlite datetime with millis", in: "2018-11-02 01:25:34.796", want: golden},
		{name: "sqlite datetime", in: " 2018-11-02 01:25:34 ", want: golden.Truncate(time.Second)},
		{name: "garbage", in: "not-a-time", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseTime(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestFormatSQLiteTime_RoundTripKeepsMillis(t *testing.T) {
	t.Parallel()

	// The same instant must render to the same key whatever its zone.
	in := time.UnixMilli(1541121934796).In(time.FixedZone("X", 3600))
	s := formatSQLiteTime(in)
	assert.Equal(t, "2018-11-02T01:25:34.796Z", s)

	got, err := ParseTime(s)
	require.NoError(t, err)
	assert.True(t, got.Equal(in))
}

func TestBindArgs_ConvertsTimes(t *testing.T) {
	t.Parallel()

	ts := time.UnixMilli(0)
	var nilTime *time.Time
	got := bindArgs([]any{ts, &ts, nilTime, "x", int64(3)})

	if got[0] != "1970-01-01T00:00:00Z" || got[1] != "1970-01-01T00:00:00Z" {
		t.Fatalf("times not formatted: %#v", got)
	}
	if got[2] != nil {
		t.Fatalf("nil *time.Time must bind as NULL, got %#v", got[2])
	}
	if got[3] != "x" || got[4] != int64(3) {
		t.Fatalf("other args must pass through: %#v", got)
	}
}

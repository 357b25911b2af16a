package schema

import (
	"context"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource_EveryDialectHasUpAndDown(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{"postgres", "sqlite", "mssql"} {
		t.Run(kind, func(t *testing.T) {
			src, err := Source(kind)
			require.NoError(t, err)

			ups, err := fs.Glob(src, "*.up.sql")
			require.NoError(t, err)
			downs, err := fs.Glob(src, "*.down.sql")
			require.NoError(t, err)

			assert.NotEmpty(t, ups)
			assert.Len(t, downs, len(ups), "every up migration needs a down")
		})
	}

	_, err := Source("oracle")
	assert.Error(t, err)
}

func TestMigrator_SQLiteUpIsIdempotentAndResetEmpties(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "warehouse.db")

	mg, err := New(ctx, "sqlite", dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mg.Close() })

	require.NoError(t, mg.Up())
	// Second Up must be a no-op, not an error.
	require.NoError(t, mg.Up())

	v, dirty, err := mg.Version()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), v)

	db, err := sqlx.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var tables []string
	require.NoError(t, db.Select(&tables,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ('songs','artists','users','time','songplays') ORDER BY name`))
	assert.Equal(t, []string{"artists", "songplays", "songs", "time", "users"}, tables)

	_, err = db.Exec(`INSERT INTO users (user_id, first_name, last_name, gender, level) VALUES (1, 'a', 'b', 'F', 'free')`)
	require.NoError(t, err)

	require.NoError(t, mg.Reset())

	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM users`))
	assert.Equal(t, 0, n)
}

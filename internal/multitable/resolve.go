package multitable

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sparkify/internal/logging"
	"sparkify/internal/metrics"
	"sparkify/internal/storage"
	"sparkify/internal/warehouse"
)

// LookupStats counts song/artist lookup outcomes.
type LookupStats struct {
	Hits   int
	Misses int
	Errors int
}

func (s *LookupStats) add(o LookupStats) {
	s.Hits += o.Hits
	s.Misses += o.Misses
	s.Errors += o.Errors
}

// Resolver matches pending songplays to catalog songs.
//
// The match is exact: title, artist name and duration must all be equal to a
// catalog row. Plays without a match keep nil song and artist ids.
type Resolver struct {
	// Query is the backend's SelectSongArtist statement.
	Query  string
	Logger *zap.Logger
	// File is only used to annotate logs.
	File string
}

// Resolve looks up every pending play inside tx and returns the facts in
// input order.
//
// Errors:
//   - A *storage.ConnectionError aborts immediately; facts is nil.
//   - Otherwise err aggregates one *storage.WriteError per failed lookup. The
//     affected facts are still returned, unresolved.
func (r *Resolver) Resolve(ctx context.Context, tx storage.Tx, pending []PendingPlay) (facts []warehouse.Songplay, stats LookupStats, err error) {
	log := logging.OrNop(r.Logger)
	facts = make([]warehouse.Songplay, 0, len(pending))

	for _, p := range pending {
		if cerr := ctx.Err(); cerr != nil {
			return nil, stats, cerr
		}

		fact := p.Play
		// A play without a length cannot equal any catalog duration.
		if p.Length == nil {
			stats.Misses++
			metrics.IncCounter(metrics.LookupsTotal, 1, metrics.Labels{"result": "miss"})
			facts = append(facts, fact)
			continue
		}

		var songID, artistID string
		found, qerr := tx.QueryOne(ctx, r.Query, []any{p.Title, p.Artist, *p.Length}, &songID, &artistID)
		switch {
		case qerr != nil && storage.IsConnectionError(qerr):
			return nil, stats, qerr
		case qerr != nil:
			stats.Errors++
			metrics.IncCounter(metrics.LookupsTotal, 1, metrics.Labels{"result": "error"})
			we := &storage.WriteError{
				Table:     storage.TableSongs,
				Statement: "SelectSongArtist",
				Key:       fmt.Sprintf("%s/%s/%v", p.Title, p.Artist, *p.Length),
				Err:       qerr,
			}
			log.Warn("song lookup failed",
				zap.String("file", r.File),
				zap.String("statement", we.Statement),
				zap.String("song", p.Title),
				zap.String("artist", p.Artist),
				zap.Error(qerr))
			err = multierr.Append(err, we)
		case found:
			stats.Hits++
			metrics.IncCounter(metrics.LookupsTotal, 1, metrics.Labels{"result": "hit"})
			fact.SongID, fact.ArtistID = &songID, &artistID
		default:
			stats.Misses++
			metrics.IncCounter(metrics.LookupsTotal, 1, metrics.Labels{"result": "miss"})
		}
		facts = append(facts, fact)
	}
	return facts, stats, err
}

// Package probe profiles the source files of a run without touching the
// warehouse: it decodes a sample of each root, counts what the loader would
// write and reports per-field uniqueness of the raw records.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"sparkify/internal/multitable"
	"sparkify/internal/parser/jsonl"
	"sparkify/internal/records"
)

// distinctCapPerColumn bounds the memory used by uniqueness tracking.
const distinctCapPerColumn = 10000

// Source lists and reads files.
type Source interface {
	List(root string) ([]string, error)
	Read(path string) ([]byte, error)
}

// Options selects what to sample.
type Options struct {
	CatalogRoot string
	EventRoot   string
	// MaxFiles caps the files read per root. Zero reads every file.
	MaxFiles int
}

// FileIssue is a sampled file the loader would reject.
type FileIssue struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// RootReport summarises one root.
type RootReport struct {
	Root       string           `json:"root"`
	Files      int              `json:"files"`
	Sampled    int              `json:"sampled"`
	Records    int              `json:"records"`
	Rejected   []FileIssue      `json:"rejected,omitempty"`
	Uniqueness *FieldUniqueness `json:"uniqueness,omitempty"`
}

// Report is the profile of both roots.
type Report struct {
	Catalog RootReport `json:"catalog"`
	Events  RootReport `json:"events"`

	Songs   int `json:"distinct_songs"`
	Artists int `json:"distinct_artists"`

	Pages      map[string]int `json:"pages"`
	Levels     map[string]int `json:"levels"`
	Playbacks  int            `json:"playbacks"`
	Skipped    int            `json:"skipped_no_user"`
	Users      int            `json:"distinct_users"`
	StartTimes int            `json:"distinct_start_times"`
	// Matchable counts playbacks whose title, artist and length match a
	// sampled catalog song exactly, the same rule the loader's lookup uses.
	Matchable int `json:"matchable_in_sample"`

	FirstEvent time.Time `json:"first_event,omitempty"`
	LastEvent  time.Time `json:"last_event,omitempty"`
}

type songKey struct {
	title, artist string
	duration      float64
}

// Profile samples both roots and builds a Report.
//
// Errors:
//   - A root cannot be listed.
//   - ctx is cancelled.
//
// Malformed files are not errors; they are listed in RootReport.Rejected.
func Profile(ctx context.Context, src Source, opt Options) (Report, error) {
	rep := Report{
		Catalog: RootReport{Root: opt.CatalogRoot},
		Events:  RootReport{Root: opt.EventRoot},
		Pages:   map[string]int{},
		Levels:  map[string]int{},
	}

	catalogFiles, err := listSample(src, opt.CatalogRoot, opt.MaxFiles, &rep.Catalog)
	if err != nil {
		return rep, err
	}
	eventFiles, err := listSample(src, opt.EventRoot, opt.MaxFiles, &rep.Events)
	if err != nil {
		return rep, err
	}

	songs := map[string]struct{}{}
	artists := map[string]struct{}{}
	catalogIndex := map[songKey]struct{}{}
	catalogUniq := newUniqueness()

	for _, path := range catalogFiles {
		fields, catalog, err := decodeFile(ctx, src, path, records.CatalogFromFields)
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.Catalog.Rejected = append(rep.Catalog.Rejected, FileIssue{Path: path, Reason: err.Error()})
			continue
		}
		rep.Catalog.Records += len(catalog)
		catalogUniq.add(fields)

		rows := multitable.ExtractCatalog(catalog)
		for _, s := range rows.Songs {
			songs[s.SongID] = struct{}{}
		}
		for _, a := range rows.Artists {
			artists[a.ArtistID] = struct{}{}
		}
		for _, c := range catalog {
			catalogIndex[songKey{c.Title, c.ArtistName, c.Duration}] = struct{}{}
		}
	}
	rep.Songs, rep.Artists = len(songs), len(artists)
	rep.Catalog.Uniqueness = catalogUniq.finish()

	users := map[int64]struct{}{}
	times := map[time.Time]struct{}{}
	eventUniq := newUniqueness()

	for _, path := range eventFiles {
		fields, events, err := decodeFile(ctx, src, path, records.EventFromFields)
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.Events.Rejected = append(rep.Events.Rejected, FileIssue{Path: path, Reason: err.Error()})
			continue
		}
		rep.Events.Records += len(events)
		eventUniq.add(fields)

		for _, ev := range events {
			rep.Pages[ev.Page]++
		}

		rows := multitable.ExtractEvents(events)
		rep.Playbacks += rows.Playbacks
		rep.Skipped += rows.Skipped
		for _, u := range rows.Users {
			users[u.UserID] = struct{}{}
		}
		for _, t := range rows.Times {
			times[t.StartTime] = struct{}{}
			if rep.FirstEvent.IsZero() || t.StartTime.Before(rep.FirstEvent) {
				rep.FirstEvent = t.StartTime
			}
			if t.StartTime.After(rep.LastEvent) {
				rep.LastEvent = t.StartTime
			}
		}
		for _, p := range rows.Plays {
			rep.Levels[string(p.Play.Level)]++
			if p.Length == nil {
				continue
			}
			if _, ok := catalogIndex[songKey{p.Title, p.Artist, *p.Length}]; ok {
				rep.Matchable++
			}
		}
	}
	rep.Users, rep.StartTimes = len(users), len(times)
	rep.Events.Uniqueness = eventUniq.finish()

	return rep, nil
}

func listSample(src Source, root string, max int, rr *RootReport) ([]string, error) {
	files, err := src.List(root)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	rr.Files = len(files)
	if max > 0 && len(files) > max {
		files = files[:max]
	}
	rr.Sampled = len(files)
	return files, nil
}

// decodeFile reads path and converts every object with conv, keeping the raw
// objects for uniqueness tracking. Any malformed line rejects the file, as it
// would during a load.
func decodeFile[T any](ctx context.Context, src Source, path string, conv func(records.Fields) (T, error)) ([]records.Fields, []T, error) {
	raw, err := src.Read(path)
	if err != nil {
		return nil, nil, err
	}

	var (
		fields []records.Fields
		out    []T
	)
	err = jsonl.StreamObjects(ctx, bytes.NewReader(raw), func(line int, obj records.Fields) error {
		v, err := conv(obj)
		if err != nil {
			return &jsonl.MalformedRecordError{Line: line, Err: err}
		}
		fields = append(fields, obj)
		out = append(out, v)
		return nil
	})
	if err != nil {
		var me *jsonl.MalformedRecordError
		if errors.As(err, &me) {
			return nil, nil, fmt.Errorf("line %d: %w", me.Line, me.Err)
		}
		return nil, nil, err
	}
	return fields, out, nil
}

// FieldUniqueness holds bounded distinct-value counts per source field.
type FieldUniqueness struct {
	// Records is the number of objects examined.
	Records int `json:"records"`
	// Present counts, per field, the objects carrying a non-empty value.
	Present map[string]int `json:"present"`
	// Distinct counts distinct values per field, up to distinctCapPerColumn.
	Distinct map[string]int `json:"distinct"`
	// Capped marks fields whose distinct count hit the cap.
	Capped map[string]bool `json:"capped,omitempty"`
}

type uniqueness struct {
	out  FieldUniqueness
	sets map[string]map[string]struct{}
}

func newUniqueness() *uniqueness {
	return &uniqueness{
		out: FieldUniqueness{
			Present:  map[string]int{},
			Distinct: map[string]int{},
			Capped:   map[string]bool{},
		},
		sets: map[string]map[string]struct{}{},
	}
}

func (u *uniqueness) add(objs []records.Fields) {
	for _, obj := range objs {
		u.out.Records++
		for k, v := range obj {
			s, err := records.String(v)
			if err != nil || s == "" {
				continue
			}
			u.out.Present[k]++
			if u.out.Capped[k] {
				continue
			}
			set := u.sets[k]
			if set == nil {
				set = map[string]struct{}{}
				u.sets[k] = set
			}
			set[s] = struct{}{}
			if len(set) >= distinctCapPerColumn {
				u.out.Capped[k] = true
				delete(u.sets, k)
			}
		}
	}
}

func (u *uniqueness) finish() *FieldUniqueness {
	for k := range u.out.Present {
		if u.out.Capped[k] {
			u.out.Distinct[k] = distinctCapPerColumn
			continue
		}
		u.out.Distinct[k] = len(u.sets[k])
	}
	if len(u.out.Capped) == 0 {
		u.out.Capped = nil
	}
	return &u.out
}

// FormatUniqueness renders a per-field table sorted by uniqueness ratio,
// most repetitive fields first.
func FormatUniqueness(fu *FieldUniqueness) string {
	if fu == nil || fu.Records == 0 {
		return "uniqueness: no records sampled"
	}

	type row struct {
		field  string
		dist   int
		den    int
		ratio  float64
		capped bool
	}
	rows := make([]row, 0, len(fu.Present))
	for f, den := range fu.Present {
		d := fu.Distinct[f]
		rows = append(rows, row{field: f, dist: d, den: den, ratio: float64(d) / float64(den), capped: fu.Capped[f]})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ratio == rows[j].ratio {
			return rows[i].field < rows[j].field
		}
		return rows[i].ratio < rows[j].ratio
	})

	var b strings.Builder
	fmt.Fprintf(&b, "uniqueness report:\tsampled_records=%d\n", fu.Records)
	fmt.Fprintf(&b, "%-18s\t%-7s\t%-7s\tratio\tcapped\n", "field", "unique", "rows")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-18s\t%-7d\t%d\t%.1f%%\t%t\n", r.field, r.dist, r.den, r.ratio*100, r.capped)
	}
	return strings.TrimRight(b.String(), "\n")
}

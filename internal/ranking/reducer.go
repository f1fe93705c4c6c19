// Package ranking holds the pure reducer that merges one mutation event into
// an ordered finisher collection and recomputes every rank.
//
// Apply never mutates its input. Upserts re-sort by finish time with a stable
// sort, so dead heats keep their prior relative order and records without a
// finish time sink to the bottom. ReplaceAll is taken verbatim: it carries the
// authority's persisted order, which may be a manual one.
package ranking

import (
	"slices"

	"github.com/intermernet/finishline/internal/finisher"
)

// Event is one of Upsert, Delete or ReplaceAll.
type Event interface {
	isEvent()
}

// Upsert inserts or replaces a single record.
type Upsert struct {
	Record finisher.Record
}

// Delete removes the record with ID. Deleting an unknown id is a no-op.
type Delete struct {
	ID string
}

// ReplaceAll swaps the whole collection for Records, in the given order.
type ReplaceAll struct {
	Records []finisher.Record
}

func (Upsert) isEvent()     {}
func (Delete) isEvent()     {}
func (ReplaceAll) isEvent() {}

// Collection is an immutable, ranked snapshot. The zero value is empty.
type Collection struct {
	records []finisher.Record
	version uint64
}

// NewCollection ranks records in the given order.
func NewCollection(records []finisher.Record) Collection {
	return Apply(Collection{}, ReplaceAll{Records: records})
}

// Len returns the number of records.
func (c Collection) Len() int { return len(c.records) }

// Version increases every time Apply produces a different collection.
func (c Collection) Version() uint64 { return c.version }

// At returns a copy of the i-th record.
func (c Collection) At(i int) finisher.Record { return c.records[i].Clone() }

// Records returns a deep copy of the ranked records.
func (c Collection) Records() []finisher.Record {
	out := make([]finisher.Record, len(c.records))
	for i, r := range c.records {
		out[i] = r.Clone()
	}
	return out
}

// Find looks a record up by id.
func (c Collection) Find(id string) (finisher.Record, bool) {
	if i := c.indexOf(id); i >= 0 {
		return c.records[i].Clone(), true
	}
	return finisher.Record{}, false
}

// IDs returns the record ids in rank order.
func (c Collection) IDs() []string {
	ids := make([]string, len(c.records))
	for i, r := range c.records {
		ids[i] = r.ID
	}
	return ids
}

func (c Collection) indexOf(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(c.records, func(r finisher.Record) bool { return r.ID == id })
}

func (c Collection) indexOfBib(bib string) int {
	if bib == "" {
		return -1
	}
	return slices.IndexFunc(c.records, func(r finisher.Record) bool { return r.BibNumber == bib })
}

// Apply merges e into c and returns the re-ranked result. When nothing
// changes c itself is returned, so applying the same event twice is
// indistinguishable from applying it once.
func Apply(c Collection, e Event) Collection {
	var next []finisher.Record

	switch ev := e.(type) {
	case Upsert:
		next = upsert(c.records, ev.Record)
		SortByTime(next)
	case Delete:
		i := c.indexOf(ev.ID)
		if i < 0 {
			return c
		}
		next = make([]finisher.Record, 0, len(c.records)-1)
		next = append(next, c.records[:i]...)
		next = append(next, c.records[i+1:]...)
	case ReplaceAll:
		next = dedupe(ev.Records)
	default:
		return c
	}

	rerank(next)
	if equalRecords(c.records, next) {
		return c
	}
	return Collection{records: next, version: c.version + 1}
}

// upsert looks the record up by id. Only a record without an id, from a
// producer that omits it, is matched by bib number instead; an unseen id is a
// new finisher even if it shares a bib. A match is replaced in place;
// otherwise the record is appended.
func upsert(current []finisher.Record, rec finisher.Record) []finisher.Record {
	next := make([]finisher.Record, len(current), len(current)+1)
	copy(next, current)

	c := Collection{records: current}
	i := c.indexOf(rec.ID)
	if rec.ID == "" {
		i = c.indexOfBib(rec.BibNumber)
	}
	if i < 0 {
		return append(next, rec.Clone())
	}

	replacement := rec.Clone()
	if replacement.ID == "" {
		replacement.ID = current[i].ID
	}
	next[i] = replacement
	return next
}

// dedupe copies records, keeping the first occurrence of each id.
func dedupe(records []finisher.Record) []finisher.Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]finisher.Record, 0, len(records))
	for _, r := range records {
		if r.ID != "" {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
		}
		out = append(out, r.Clone())
	}
	return out
}

// SortByTime stable-sorts records ascending by finish time, records without a
// time last.
func SortByTime(records []finisher.Record) {
	slices.SortStableFunc(records, func(a, b finisher.Record) int {
		at, aok := a.FinishTime()
		bt, bok := b.FinishTime()
		switch {
		case aok && bok:
			switch {
			case at < bt:
				return -1
			case at > bt:
				return 1
			}
			return 0
		case aok:
			return -1
		case bok:
			return 1
		}
		return 0
	})
}

func rerank(records []finisher.Record) {
	for i := range records {
		records[i].Rank = i + 1
	}
}

func equalRecords(a, b []finisher.Record) bool {
	return slices.EqualFunc(a, b, func(x, y finisher.Record) bool {
		xt, xok := x.FinishTime()
		yt, yok := y.FinishTime()
		return x.ID == y.ID && x.BibNumber == y.BibNumber && x.RacerName == y.RacerName &&
			x.Rank == y.Rank && x.Gender == y.Gender && x.Team == y.Team &&
			xok == yok && xt == yt
	})
}

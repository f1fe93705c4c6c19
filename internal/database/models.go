package database

import (
	"database/sql"

	"github.com/intermernet/finishline/internal/finisher"
)

// finisherRow mirrors the 'finishers' table. The nullable finish time maps
// to a missing FinishTimeMs on the domain record.
type finisherRow struct {
	ID           string
	BibNumber    string
	RacerName    string
	FinishTimeMs sql.NullInt64
	Gender       string
	Team         string
	Position     int
}

func (r finisherRow) record() finisher.Record {
	rec := finisher.Record{
		ID:        r.ID,
		BibNumber: r.BibNumber,
		RacerName: r.RacerName,
		Rank:      r.Position,
		Gender:    r.Gender,
		Team:      r.Team,
	}
	if r.FinishTimeMs.Valid {
		rec.FinishTimeMs = finisher.Millis(r.FinishTimeMs.Int64)
	}
	return rec
}

func nullMillis(ms *int64) sql.NullInt64 {
	if ms == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ms, Valid: true}
}

// clockRow mirrors the single-row 'race_clock' table.
type clockRow struct {
	RaceStartTime sql.NullFloat64
	Status        string
	OffsetMs      int64
}

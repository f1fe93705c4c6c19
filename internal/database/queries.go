package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/intermernet/finishline/internal/finisher"
	"github.com/intermernet/finishline/internal/raceclock"
	"github.com/intermernet/finishline/internal/roster"
)

// DBorTx lets query functions run either directly on the connection or inside
// a WriteTx transaction.
type DBorTx interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

// ErrNotFound is returned when a finisher id does not exist.
var ErrNotFound = errors.New("finisher not found")

const finisherColumns = `id, bib_number, racer_name, finish_time_ms, gender, team, position`

func scanFinisher(scan func(dest ...any) error) (finisher.Record, error) {
	var row finisherRow
	err := scan(&row.ID, &row.BibNumber, &row.RacerName, &row.FinishTimeMs, &row.Gender, &row.Team, &row.Position)
	if err != nil {
		return finisher.Record{}, err
	}
	return row.record(), nil
}

// --- Finisher Queries ---

// ListFinishers returns every finisher in persisted order. Rank carries the
// stored position.
func ListFinishers(db DBorTx) ([]finisher.Record, error) {
	rows, err := db.Query(`SELECT ` + finisherColumns + ` FROM finishers ORDER BY position, created_at;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []finisher.Record{}
	for rows.Next() {
		rec, err := scanFinisher(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetFinisher fetches one finisher by id.
func GetFinisher(db DBorTx, id string) (finisher.Record, error) {
	rec, err := scanFinisher(db.QueryRow(`SELECT `+finisherColumns+` FROM finishers WHERE id = ?;`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return finisher.Record{}, ErrNotFound
	}
	return rec, err
}

// FindByBib fetches the finisher holding bib, if any.
func FindByBib(db DBorTx, bib string) (finisher.Record, bool, error) {
	rec, err := scanFinisher(db.QueryRow(`SELECT `+finisherColumns+` FROM finishers WHERE bib_number = ? LIMIT 1;`, bib).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return finisher.Record{}, false, nil
	}
	if err != nil {
		return finisher.Record{}, false, err
	}
	return rec, true, nil
}

// SaveCollection makes the table match records exactly: rows absent from
// records are deleted, the rest are inserted or updated with position set to
// their rank.
func SaveCollection(tx DBorTx, records []finisher.Record) error {
	keep := make(map[string]struct{}, len(records))
	for _, rec := range records {
		keep[rec.ID] = struct{}{}
	}

	existing, err := ListFinishers(tx)
	if err != nil {
		return fmt.Errorf("failed to list finishers: %w", err)
	}
	for _, rec := range existing {
		if _, ok := keep[rec.ID]; ok {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM finishers WHERE id = ?;`, rec.ID); err != nil {
			return fmt.Errorf("failed to delete finisher %s: %w", rec.ID, err)
		}
	}

	const upsert = `
		INSERT INTO finishers (id, bib_number, racer_name, finish_time_ms, gender, team, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bib_number = excluded.bib_number,
			racer_name = excluded.racer_name,
			finish_time_ms = excluded.finish_time_ms,
			gender = excluded.gender,
			team = excluded.team,
			position = excluded.position;`
	for _, rec := range records {
		_, err := tx.Exec(upsert, rec.ID, rec.BibNumber, rec.RacerName, nullMillis(rec.FinishTimeMs), rec.Gender, rec.Team, rec.Rank)
		if err != nil {
			return fmt.Errorf("failed to save finisher %s: %w", rec.ID, err)
		}
	}
	return nil
}

// --- Roster Queries ---

// SaveRoster stores start-list entries, replacing any earlier entry for the
// same bib. The roster is never changed by finisher edits.
func SaveRoster(tx DBorTx, entries []roster.Entry) error {
	for _, e := range entries {
		_, err := tx.Exec(`
			INSERT INTO roster (bib_number, racer_name, gender, team) VALUES (?, ?, ?, ?)
			ON CONFLICT(bib_number) DO UPDATE SET
				racer_name = excluded.racer_name,
				gender = excluded.gender,
				team = excluded.team;`,
			e.BibNumber, e.RacerName, finisher.NormalizeGender(e.Gender), e.Team)
		if err != nil {
			return fmt.Errorf("failed to save roster entry %s: %w", e.BibNumber, err)
		}
	}
	return nil
}

// RosterEntry looks a bib up in the stored start list.
func RosterEntry(db DBorTx, bib string) (roster.Entry, bool, error) {
	var e roster.Entry
	err := db.QueryRow(`SELECT bib_number, racer_name, gender, team FROM roster WHERE bib_number = ?;`, bib).
		Scan(&e.BibNumber, &e.RacerName, &e.Gender, &e.Team)
	if errors.Is(err, sql.ErrNoRows) {
		return roster.Entry{}, false, nil
	}
	if err != nil {
		return roster.Entry{}, false, err
	}
	return e, true, nil
}

// --- Race Clock Queries ---

// LoadClock reads the persisted race clock, returning a stopped clock when
// none has been saved.
func LoadClock(db DBorTx) (raceclock.State, error) {
	var row clockRow
	err := db.QueryRow(`SELECT race_start_time, status, offset_ms FROM race_clock WHERE id = 1;`).
		Scan(&row.RaceStartTime, &row.Status, &row.OffsetMs)
	if errors.Is(err, sql.ErrNoRows) {
		return raceclock.State{Status: raceclock.StatusStopped}, nil
	}
	if err != nil {
		return raceclock.State{}, err
	}
	st := raceclock.State{Status: row.Status, OffsetMs: row.OffsetMs}
	if row.RaceStartTime.Valid {
		start := row.RaceStartTime.Float64
		st.RaceStartTime = &start
	}
	return st, nil
}

// SaveClock persists the race clock.
func SaveClock(tx DBorTx, st raceclock.State) error {
	var start sql.NullFloat64
	if st.RaceStartTime != nil {
		start = sql.NullFloat64{Float64: *st.RaceStartTime, Valid: true}
	}
	_, err := tx.Exec(`
		INSERT INTO race_clock (id, race_start_time, status, offset_ms) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			race_start_time = excluded.race_start_time,
			status = excluded.status,
			offset_ms = excluded.offset_ms;`, start, st.Status, st.OffsetMs)
	return err
}

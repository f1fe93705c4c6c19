// Package roster reads the pre-race start list (CSV) and merges it into the
// finisher collection by bib number.
package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/intermernet/finishline/internal/finisher"
)

// Entry is one racer from the start list.
type Entry struct {
	BibNumber string
	RacerName string
	Gender    string
	Team      string
}

// RowError reports a rejected CSV row. Row numbers are 1-based and count the
// header line.
type RowError struct {
	Row    int
	Reason string
}

func (e RowError) String() string {
	return fmt.Sprintf("Row %d: %s", e.Row, e.Reason)
}

// ErrMissingHeaders is returned when the CSV lacks bibNumber or racerName.
var ErrMissingHeaders = errors.New("CSV must contain headers: bibNumber, racerName")

// Parse reads a start list. Rows with missing fields or a bib already seen in
// the same file are skipped and reported.
func Parse(r io.Reader) ([]Entry, []RowError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, ErrMissingHeaders
		}
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	if _, ok := cols["bibNumber"]; !ok {
		return nil, nil, ErrMissingHeaders
	}
	if _, ok := cols["racerName"]; !ok {
		return nil, nil, ErrMissingHeaders
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var (
		entries []Entry
		rowErrs []RowError
		seen    = make(map[string]struct{})
	)
	for rowNum := 2; ; rowNum++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: rowNum, Reason: err.Error()})
			continue
		}

		e := Entry{
			BibNumber: field(row, "bibNumber"),
			RacerName: field(row, "racerName"),
			Gender:    field(row, "gender"),
			Team:      field(row, "team"),
		}
		if e.BibNumber == "" || e.RacerName == "" {
			rowErrs = append(rowErrs, RowError{Row: rowNum, Reason: "Missing bibNumber or racerName"})
			continue
		}
		if _, dup := seen[e.BibNumber]; dup {
			rowErrs = append(rowErrs, RowError{Row: rowNum, Reason: fmt.Sprintf("Duplicate bib number %s in CSV file", e.BibNumber)})
			continue
		}
		seen[e.BibNumber] = struct{}{}
		entries = append(entries, e)
	}
	return entries, rowErrs, nil
}

// Result summarises a merge.
type Result struct {
	Records []finisher.Record
	Added   int
	Updated int
}

// Merge folds entries into existing. Racers already present (by bib) get
// their name and classification refreshed while keeping id and finish time;
// new racers are appended without a finish time under ids from newID.
func Merge(existing []finisher.Record, entries []Entry, newID func() string) Result {
	out := make([]finisher.Record, len(existing))
	byBib := make(map[string]int, len(existing))
	for i, r := range existing {
		out[i] = r.Clone()
		byBib[r.BibNumber] = i
	}

	var res Result
	for _, e := range entries {
		if i, ok := byBib[e.BibNumber]; ok {
			out[i].RacerName = e.RacerName
			if e.Gender != "" {
				out[i].Gender = finisher.NormalizeGender(e.Gender)
			}
			if e.Team != "" {
				out[i].Team = e.Team
			}
			res.Updated++
			continue
		}
		out = append(out, finisher.Record{
			ID:        newID(),
			BibNumber: e.BibNumber,
			RacerName: e.RacerName,
			Gender:    finisher.NormalizeGender(e.Gender),
			Team:      e.Team,
		})
		byBib[e.BibNumber] = len(out) - 1
		res.Added++
	}
	res.Records = out
	return res
}

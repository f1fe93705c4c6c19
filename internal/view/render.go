package view

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/intermernet/finishline/internal/finisher"
	"github.com/intermernet/finishline/internal/timecodec"
)

// Render writes the status line, the leaderboard and any live notices.
func (p *Projection) Render(w io.Writer) error {
	if _, err := fmt.Fprintln(w, p.StatusLine()); err != nil {
		return err
	}
	if err := RenderRows(w, p.Rows()); err != nil {
		return err
	}
	for _, t := range p.Toasts() {
		prefix := "!"
		if t.Level < slog.LevelWarn {
			prefix = "i"
		}
		if _, err := fmt.Fprintf(w, "[%s] %s\n", prefix, t.Text); err != nil {
			return err
		}
	}
	return nil
}

// StatusLine shows connectivity, the race clock and the finisher count.
func (p *Projection) StatusLine() string {
	parts := []string{p.Connectivity().String()}
	if st, elapsed, ok := p.Clock(); ok {
		parts = append(parts, fmt.Sprintf("Clock %s (%s)", timecodec.Format(elapsed), st.Status))
	}
	p.mu.Lock()
	n := p.current.Len()
	p.mu.Unlock()
	parts = append(parts, fmt.Sprintf("%d finishers", n))
	return strings.Join(parts, " | ")
}

// RenderRows writes rows as a table.
func RenderRows(w io.Writer, rows []Row) error {
	table := tablewriter.NewWriter(w)
	table.Header("Rank", "Bib", "Name", "Time", "Gender", "Team", "")
	for _, row := range rows {
		cells := []string{
			strconv.Itoa(row.Rank),
			cell(row, FieldBib, row.BibNumber),
			cell(row, FieldName, row.RacerName),
			cell(row, FieldTime, timeOrDash(row.Record)),
			cell(row, FieldGender, row.Gender),
			cell(row, FieldTeam, row.Team),
			row.Pending,
		}
		if err := table.Append(cells); err != nil {
			return err
		}
	}
	return table.Render()
}

// RenderGroups writes one table per category group.
func RenderGroups(w io.Writer, groups []Group) error {
	for _, g := range groups {
		if _, err := fmt.Fprintf(w, "%s (%d)\n", g.Name, len(g.Records)); err != nil {
			return err
		}
		table := tablewriter.NewWriter(w)
		table.Header("#", "Overall", "Bib", "Name", "Time")
		for i, rec := range g.Records {
			if err := table.Append([]string{
				strconv.Itoa(g.CategoryRank(i)),
				strconv.Itoa(rec.Rank),
				rec.BibNumber,
				rec.RacerName,
				timeOrDash(rec),
			}); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}
	return nil
}

func cell(row Row, field, value string) string {
	if row.Editing == field {
		return "[" + row.Draft + "]"
	}
	return value
}

func timeOrDash(rec finisher.Record) string {
	if t := rec.FormattedTime(); t != "" {
		return t
	}
	return "-"
}

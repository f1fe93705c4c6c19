package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/intermernet/finishline/internal/database"
	"github.com/intermernet/finishline/internal/ranking"
	"github.com/intermernet/finishline/internal/realtime"
	"github.com/intermernet/finishline/internal/roster"
)

// maxRosterBytes bounds the uploaded CSV.
const maxRosterBytes = 10 << 20

// handleRosterUpload merges a CSV start list into the finishers by bib and
// asks every viewer to reload.
func (s *Server) handleRosterUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRosterBytes)
	if err := r.ParseMultipartForm(maxRosterBytes); err != nil {
		s.errorJSON(w, newHTTPError(http.StatusBadRequest, "file is too large (max 10MB)"))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		s.errorJSON(w, newHTTPError(http.StatusBadRequest, "invalid file upload"))
		return
	}
	defer file.Close()

	entries, rowErrs, err := roster.Parse(file)
	if err != nil {
		if errors.Is(err, roster.ErrMissingHeaders) {
			s.errorJSON(w, newHTTPError(http.StatusBadRequest, "%s", err.Error()))
			return
		}
		s.errorJSON(w, newHTTPError(http.StatusBadRequest, "could not read CSV: %v", err))
		return
	}

	result := rosterResult{}
	for _, re := range rowErrs {
		result.Errors = append(result.Errors, re.String())
	}
	if len(entries) == 0 {
		s.writeJSON(w, http.StatusBadRequest, response{Success: false, Data: result, Message: "no valid rows in CSV"})
		return
	}

	_, err = s.mutate("roster", func(tx *sql.Tx, current ranking.Collection) (ranking.Collection, realtime.Message, error) {
		if err := database.SaveRoster(tx, entries); err != nil {
			return current, realtime.Message{}, err
		}
		merged := roster.Merge(current.Records(), entries, s.newID)
		result.Added, result.Updated = merged.Added, merged.Updated
		return ranking.Apply(current, ranking.ReplaceAll{Records: merged.Records}), realtime.Reload(), nil
	})
	if err != nil {
		s.errorJSON(w, err)
		return
	}

	slog.Info("Roster uploaded", "added", result.Added, "updated", result.Updated, "rejected", len(rowErrs))
	s.ok(w, http.StatusOK, result, "Roster uploaded")
}

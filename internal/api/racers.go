package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/intermernet/finishline/internal/database"
	"github.com/intermernet/finishline/internal/finisher"
	"github.com/intermernet/finishline/internal/ranking"
	"github.com/intermernet/finishline/internal/realtime"
	"github.com/intermernet/finishline/internal/roster"
)

// handleGetResults serves the full fetch: every finisher in persisted order.
func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	list, err := database.ListFinishers(s.db.DB())
	if err != nil {
		s.errorJSON(w, err)
		return
	}
	s.ok(w, http.StatusOK, ranking.NewCollection(list).Records(), "")
}

// handleReportFinish records a finish. A racer already known by bib gets the
// finish time; an unknown bib creates a new finisher.
func (s *Server) handleReportFinish(w http.ResponseWriter, r *http.Request) {
	var draft finisher.Draft
	if err := s.readJSON(w, r, &draft); err != nil {
		s.errorJSON(w, err)
		return
	}

	// A detection from the video pipeline arrives as wall-clock time and is
	// converted with the race clock.
	if draft.WallClockTime != nil && draft.FinishTimeMs == nil && draft.FinishTime == "" {
		ms, err := s.clock.FinishTime(*draft.WallClockTime)
		if err != nil {
			s.errorJSON(w, err)
			return
		}
		draft.FinishTimeMs = &ms
	}
	if err := draft.Validate(); err != nil {
		s.errorJSON(w, err)
		return
	}
	if draft.FinishTimeMs == nil {
		s.errorJSON(w, &finisher.ValidationError{Field: "finishTime", Reason: "either wallClockTime or finishTime is required"})
		return
	}

	var (
		result  finisher.Record
		created bool
	)
	_, err := s.mutate("report", func(tx *sql.Tx, current ranking.Collection) (ranking.Collection, realtime.Message, error) {
		bib := strings.TrimSpace(draft.BibNumber)
		rec, found, err := database.FindByBib(tx, bib)
		if err != nil {
			return current, realtime.Message{}, err
		}
		if found {
			rec.FinishTimeMs = finisher.Millis(*draft.FinishTimeMs)
		} else {
			created = true
			rec = draft.Record(s.newID())
			if rec.RacerName == "" {
				rec.RacerName = "Racer #" + bib
			}
		}

		next := ranking.Apply(current, ranking.Upsert{Record: rec})
		result, _ = next.Find(rec.ID)
		if created {
			return next, realtime.Added(result), nil
		}
		return next, realtime.Updated(result), nil
	})
	if err != nil {
		s.errorJSON(w, err)
		return
	}

	slog.Info("Finish recorded", "bib", result.BibNumber, "time", result.FormattedTime(), "rank", result.Rank, "created", created)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.ok(w, status, result, "")
}

// handleUpdateFinisher applies a partial edit. Moving a finisher to a bib held
// by another finisher is a conflict. Moving it to a bib on the start list
// takes the racer details from the roster unless the edit supplies them, and
// replaces the start-list entry if that racer has no finish time yet.
func (s *Server) handleUpdateFinisher(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "finisherID")

	var patch finisher.Patch
	if err := s.readJSON(w, r, &patch); err != nil {
		s.errorJSON(w, err)
		return
	}
	if patch.IsEmpty() {
		s.errorJSON(w, &finisher.ValidationError{Field: "body", Reason: "no fields to update"})
		return
	}
	if err := patch.Validate(); err != nil {
		s.errorJSON(w, err)
		return
	}

	var result finisher.Record
	_, err := s.mutate("update", func(tx *sql.Tx, current ranking.Collection) (ranking.Collection, realtime.Message, error) {
		rec, found := current.Find(id)
		if !found {
			return current, realtime.Message{}, database.ErrNotFound
		}
		updated := patch.Apply(rec)

		bibChanged := updated.BibNumber != rec.BibNumber
		if bibChanged {
			other, taken, err := database.FindByBib(tx, updated.BibNumber)
			if err != nil {
				return current, realtime.Message{}, err
			}
			var placeholder *finisher.Record
			if taken && other.ID != id {
				// A start-list racer who has not finished yet gives way to the
				// finisher claiming the bib; a finished one is a conflict.
				if _, finished := other.FinishTime(); finished {
					return current, realtime.Message{}, newHTTPError(http.StatusConflict, "bib number %s is already assigned", updated.BibNumber)
				}
				placeholder = &other
				current = ranking.Apply(current, ranking.Delete{ID: other.ID})
			}

			entry, listed, err := database.RosterEntry(tx, updated.BibNumber)
			if err != nil {
				return current, realtime.Message{}, err
			}
			if !listed && placeholder != nil {
				entry = roster.Entry{BibNumber: placeholder.BibNumber, RacerName: placeholder.RacerName, Gender: placeholder.Gender, Team: placeholder.Team}
				listed = placeholder.RacerName != ""
			}
			if listed {
				if patch.RacerName == nil || strings.TrimSpace(*patch.RacerName) == "" {
					updated.RacerName = entry.RacerName
				}
				if patch.Gender == nil && entry.Gender != "" {
					updated.Gender = entry.Gender
				}
				if patch.Team == nil && entry.Team != "" {
					updated.Team = entry.Team
				}
			}
		}

		next := ranking.Apply(current, ranking.Upsert{Record: updated})
		result, _ = next.Find(id)
		if bibChanged {
			return next, realtime.Reload(), nil
		}
		return next, realtime.Updated(result), nil
	})
	if err != nil {
		s.errorJSON(w, err)
		return
	}

	slog.Info("Finisher updated", "id", id, "bib", result.BibNumber, "by", subjectFromContext(r.Context()))
	s.ok(w, http.StatusOK, result, "")
}

// handleDeleteFinisher removes a finisher. The remaining order is kept.
func (s *Server) handleDeleteFinisher(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "finisherID")

	_, err := s.mutate("delete", func(tx *sql.Tx, current ranking.Collection) (ranking.Collection, realtime.Message, error) {
		if _, found := current.Find(id); !found {
			return current, realtime.Message{}, database.ErrNotFound
		}
		return ranking.Apply(current, ranking.Delete{ID: id}), realtime.Deleted(id), nil
	})
	if err != nil {
		s.errorJSON(w, err)
		return
	}

	slog.Info("Finisher deleted", "id", id, "by", subjectFromContext(r.Context()))
	s.ok(w, http.StatusOK, nil, "Finisher deleted")
}

// handleReorder persists a manual order. The order must name every current
// finisher exactly once.
func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := s.readJSON(w, r, &req); err != nil {
		s.errorJSON(w, err)
		return
	}
	ids, err := req.ids()
	if err != nil {
		s.errorJSON(w, err)
		return
	}

	next, err := s.mutate("reorder", func(tx *sql.Tx, current ranking.Collection) (ranking.Collection, realtime.Message, error) {
		if !isPermutation(current.IDs(), ids) {
			return current, realtime.Message{}, newHTTPError(http.StatusBadRequest, "order must list every finisher exactly once")
		}
		records := make([]finisher.Record, len(ids))
		for i, id := range ids {
			records[i], _ = current.Find(id)
		}
		next := ranking.Apply(current, ranking.ReplaceAll{Records: records})
		return next, realtime.Reordered(next.Records()), nil
	})
	if err != nil {
		s.errorJSON(w, err)
		return
	}

	slog.Info("Finishers reordered", "count", next.Len(), "by", subjectFromContext(r.Context()))
	s.ok(w, http.StatusOK, next.Records(), "Finishers reordered successfully")
}

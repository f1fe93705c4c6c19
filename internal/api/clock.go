package api

import (
	"log/slog"
	"net/http"

	"github.com/intermernet/finishline/internal/raceclock"
	"github.com/intermernet/finishline/internal/timecodec"
)

func (s *Server) handleClockStatus(w http.ResponseWriter, r *http.Request) {
	s.ok(w, http.StatusOK, s.clock.State(), "")
}

func (s *Server) handleClockStart(w http.ResponseWriter, r *http.Request) {
	s.clockCommand(w, "clock_start", s.clock.Start)
}

func (s *Server) handleClockStop(w http.ResponseWriter, r *http.Request) {
	s.clockCommand(w, "clock_stop", s.clock.Stop)
}

func (s *Server) handleClockReset(w http.ResponseWriter, r *http.Request) {
	s.clockCommand(w, "clock_reset", s.clock.Reset)
}

// handleClockEdit corrects the race clock so that it reads the given time now.
func (s *Server) handleClockEdit(w http.ResponseWriter, r *http.Request) {
	var req clockEditRequest
	if err := s.readJSON(w, r, &req); err != nil {
		s.errorJSON(w, err)
		return
	}
	ms, err := req.millis()
	if err != nil {
		s.errorJSON(w, err)
		return
	}
	s.clockCommand(w, "clock_edit", func() raceclock.State { return s.clock.Edit(ms) })
}

func (s *Server) clockCommand(w http.ResponseWriter, op string, change func() raceclock.State) {
	state, err := s.commitClock(op, change)
	if err != nil {
		s.errorJSON(w, err)
		return
	}
	slog.Info("Race clock changed", "op", op, "status", state.Status, "elapsed", timecodec.Format(s.clock.Elapsed()))
	s.ok(w, http.StatusOK, state, "")
}

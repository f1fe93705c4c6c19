package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/intermernet/finishline/internal/config"
	"github.com/intermernet/finishline/internal/database"
	"github.com/intermernet/finishline/internal/finisher"
	"github.com/intermernet/finishline/internal/metrics"
	"github.com/intermernet/finishline/internal/raceclock"
	"github.com/intermernet/finishline/internal/ranking"
	"github.com/intermernet/finishline/internal/realtime"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Server holds every dependency the HTTP handlers need.
type Server struct {
	config   *config.Config
	db       *database.Service
	broker   *realtime.Broker
	clock    *raceclock.Clock
	metrics  *metrics.Authority
	gatherer prometheus.Gatherer

	// commitMu makes "commit then broadcast" atomic, so viewers receive
	// broadcasts in the order the mutations were persisted.
	commitMu sync.Mutex

	newID func() string
}

// NewServer wires the handlers to their dependencies. gatherer backs the
// /metrics endpoint and may be nil to disable it.
func NewServer(cfg *config.Config, db *database.Service, broker *realtime.Broker, clock *raceclock.Clock, m *metrics.Authority, gatherer prometheus.Gatherer) *Server {
	return &Server{
		config:   cfg,
		db:       db,
		broker:   broker,
		clock:    clock,
		metrics:  m,
		gatherer: gatherer,
		newID:    uuid.NewString,
	}
}

// response is the envelope every JSON endpoint answers with.
type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// httpError carries a status code alongside a client-facing message.
type httpError struct {
	Status  int
	Message string
}

func (e *httpError) Error() string { return e.Message }

func newHTTPError(status int, format string, args ...any) *httpError {
	return &httpError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// writeJSON marshals data and writes it with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}, headers ...http.Header) {
	js, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Internal Server Error: Failed to marshal JSON", http.StatusInternalServerError)
		return
	}

	if len(headers) > 0 {
		for key, value := range headers[0] {
			w.Header()[key] = value
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(js)
}

// ok writes a successful envelope.
func (s *Server) ok(w http.ResponseWriter, status int, data any, message string) {
	s.writeJSON(w, status, response{Success: true, Data: data, Message: message})
}

// errorJSON writes a failure envelope. The status defaults to the one implied
// by err: validation problems are 400, unknown finishers 404, conflicts 409.
func (s *Server) errorJSON(w http.ResponseWriter, err error, status ...int) {
	statusCode, message := classify(err)
	if len(status) > 0 {
		statusCode = status[0]
	}
	if statusCode >= http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	s.writeJSON(w, statusCode, response{Success: false, Message: message})
}

func classify(err error) (int, string) {
	var httpErr *httpError
	var validation *finisher.ValidationError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Status, httpErr.Message
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Error()
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, "Finisher not found"
	case errors.Is(err, raceclock.ErrNotRunning):
		return http.StatusConflict, "Race clock is not running. Please start the race clock first."
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// readJSON decodes a bounded request body into dst.
func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return newHTTPError(http.StatusBadRequest, "request body must not be empty")
		}
		return newHTTPError(http.StatusBadRequest, "invalid request body: %v", err)
	}
	return nil
}

// mutation computes the next collection from the persisted one and names the
// broadcast announcing it.
type mutation func(tx *sql.Tx, current ranking.Collection) (ranking.Collection, realtime.Message, error)

// mutate runs fn in a write transaction, persists its result and, once the
// transaction has committed, broadcasts its message. op labels the command
// metric.
func (s *Server) mutate(op string, fn mutation) (ranking.Collection, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	var (
		next ranking.Collection
		msg  realtime.Message
	)
	err := s.db.WriteTx(func(tx *sql.Tx) error {
		list, err := database.ListFinishers(tx)
		if err != nil {
			return fmt.Errorf("failed to load finishers: %w", err)
		}
		next, msg, err = fn(tx, ranking.NewCollection(list))
		if err != nil {
			return err
		}
		return database.SaveCollection(tx, next.Records())
	})
	s.countCommand(op, err)
	if err != nil {
		return ranking.Collection{}, err
	}

	s.broker.Broadcast(msg)
	return next, nil
}

// commitClock persists the clock state and broadcasts it.
func (s *Server) commitClock(op string, change func() raceclock.State) (raceclock.State, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	prev := s.clock.State()
	state := change()
	err := s.db.WriteTx(func(tx *sql.Tx) error {
		return database.SaveClock(tx, state)
	})
	s.countCommand(op, err)
	if err != nil {
		s.clock.Restore(prev)
		return raceclock.State{}, err
	}

	s.broker.Broadcast(realtime.ClockUpdate(state))
	return state, nil
}

func (s *Server) countCommand(op string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.Commands.WithLabelValues(op, outcome).Inc()
}

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"slices"

	"github.com/intermernet/finishline/internal/timecodec"
)

// reorderRequest is the body of POST /api/reorder. Order is either a list of
// ids or a list of {id, rank} objects.
type reorderRequest struct {
	Order json.RawMessage `json:"order"`
}

type rankedID struct {
	ID   string `json:"id"`
	Rank int    `json:"rank"`
}

// ids returns the requested order as a list of finisher ids.
func (req reorderRequest) ids() ([]string, error) {
	raw := bytes.TrimSpace(req.Order)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, newHTTPError(http.StatusBadRequest, "order is required")
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err == nil {
		return ids, nil
	}

	var ranked []rankedID
	if err := json.Unmarshal(raw, &ranked); err != nil {
		return nil, newHTTPError(http.StatusBadRequest, "order must be a list of ids or {id, rank} objects")
	}
	slices.SortStableFunc(ranked, func(a, b rankedID) int { return a.Rank - b.Rank })
	ids = make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.ID
	}
	return ids, nil
}

// isPermutation reports whether order names every id in current exactly once.
func isPermutation(current, order []string) bool {
	if len(current) != len(order) {
		return false
	}
	want := make(map[string]int, len(current))
	for _, id := range current {
		want[id]++
	}
	for _, id := range order {
		if want[id] == 0 {
			return false
		}
		want[id]--
	}
	return true
}

// clockEditRequest is the body of POST /api/clock/edit. Time is "MM:SS.cc"
// or a number of milliseconds.
type clockEditRequest struct {
	Time json.RawMessage `json:"time"`
}

func (req clockEditRequest) millis() (int64, error) {
	raw := bytes.TrimSpace(req.Time)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, newHTTPError(http.StatusBadRequest, "Time is required")
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		ms, err := timecodec.Parse(text)
		if err != nil {
			return 0, newHTTPError(http.StatusBadRequest, "Invalid time format. Use MM:SS.ms")
		}
		return ms, nil
	}

	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil || ms < 0 {
		return 0, newHTTPError(http.StatusBadRequest, "Invalid time format. Use MM:SS.ms")
	}
	return int64(ms), nil
}

// loginRequest is the body of POST /api/admin/login.
type loginRequest struct {
	Password string `json:"password"`
}

// loginResponse carries the issued admin token.
type loginResponse struct {
	Token string `json:"token"`
}

// rosterResult summarises a roster upload.
type rosterResult struct {
	Added   int      `json:"added"`
	Updated int      `json:"updated"`
	Errors  []string `json:"errors,omitempty"`
}

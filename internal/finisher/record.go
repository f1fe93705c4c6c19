// Package finisher defines the canonical finisher record shared by the
// authority and every viewer, along with the draft and patch shapes used to
// request mutations and the validation rules applied to them.
package finisher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/intermernet/finishline/internal/timecodec"
)

// ProvisionalBibPrefix marks a bib assigned as a placeholder before the
// racer has been identified.
const ProvisionalBibPrefix = "Unknown-"

// Record is one entry in the ranked finisher collection. ID is assigned by
// the authority and never reused. Rank is derived and recomputed whenever the
// collection changes.
type Record struct {
	ID           string `json:"id"`
	BibNumber    string `json:"bibNumber"`
	RacerName    string `json:"racerName"`
	FinishTimeMs *int64 `json:"finishTimeMs,omitempty"`
	Rank         int    `json:"rank"`
	Gender       string `json:"gender,omitempty"`
	Team         string `json:"team,omitempty"`
}

// FinishTime returns the finish time and whether the racer has finished.
func (r Record) FinishTime() (int64, bool) {
	if r.FinishTimeMs == nil {
		return 0, false
	}
	return *r.FinishTimeMs, true
}

// FormattedTime renders the finish time as MM:SS.cc, or "" when absent.
func (r Record) FormattedTime() string {
	ms, ok := r.FinishTime()
	if !ok {
		return ""
	}
	return timecodec.Format(ms)
}

// IsProvisional reports whether the record still carries a placeholder bib
// or has no name yet.
func (r Record) IsProvisional() bool {
	return strings.HasPrefix(r.BibNumber, ProvisionalBibPrefix) || strings.TrimSpace(r.RacerName) == ""
}

// Clone returns a copy that shares no memory with r.
func (r Record) Clone() Record {
	if r.FinishTimeMs != nil {
		ms := *r.FinishTimeMs
		r.FinishTimeMs = &ms
	}
	return r
}

// Millis is a convenience for building records with a finish time.
func Millis(ms int64) *int64 {
	return &ms
}

// UnmarshalJSON accepts the legacy "finishTime" field, either as a number of
// milliseconds or as a MM:SS.cc string, when "finishTimeMs" is absent.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var aux struct {
		plain
		FinishTime json.RawMessage `json:"finishTime"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Record(aux.plain)
	if r.FinishTimeMs != nil && *r.FinishTimeMs < 0 {
		return &ValidationError{Field: "finishTimeMs", Reason: "must not be negative"}
	}
	if r.FinishTimeMs == nil {
		ms, err := decodeLegacyTime(aux.FinishTime)
		if err != nil {
			return err
		}
		r.FinishTimeMs = ms
	}
	return nil
}

// decodeLegacyTime reads a finishTime value that may be null, a number of
// milliseconds (possibly fractional) or a clock string.
func decodeLegacyTime(raw json.RawMessage) (*int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}
		ms, err := timecodec.Parse(text)
		if err != nil {
			return nil, err
		}
		return &ms, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("finishTime: %w", err)
	}
	if f < 0 {
		return nil, &ValidationError{Field: "finishTime", Reason: "must not be negative"}
	}
	if f >= math.MaxInt64 {
		return nil, &ValidationError{Field: "finishTime", Reason: "out of range"}
	}
	ms := int64(f)
	return &ms, nil
}

// NormalizeGender folds the common spellings onto "M" and "W". Anything else
// is upper-cased and kept.
func NormalizeGender(g string) string {
	g = strings.ToUpper(strings.TrimSpace(g))
	switch g {
	case "M", "MALE", "MAN":
		return "M"
	case "W", "F", "FEMALE", "WOMAN":
		return "W"
	default:
		return g
	}
}

package finisher

import (
	"fmt"
	"strings"

	"github.com/intermernet/finishline/internal/timecodec"
)

// minNameLength is measured after trimming surrounding whitespace.
const minNameLength = 2

// ValidationError describes bad user input on a single field. It is reported
// to the viewer that produced the input and never broadcast.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Draft is the payload of a create command. FinishTime is the clock string an
// official typed; FinishTimeMs is used by producers that already hold a
// duration. WallClockTime (unix seconds) asks the authority to derive the
// finish time from its race clock.
type Draft struct {
	BibNumber     string   `json:"bibNumber"`
	RacerName     string   `json:"racerName,omitempty"`
	FinishTime    string   `json:"finishTime,omitempty"`
	FinishTimeMs  *int64   `json:"finishTimeMs,omitempty"`
	WallClockTime *float64 `json:"wallClockTime,omitempty"`
	Gender        string   `json:"gender,omitempty"`
	Team          string   `json:"team,omitempty"`
}

// Validate checks the draft and resolves FinishTime text into FinishTimeMs.
func (d *Draft) Validate() error {
	if strings.TrimSpace(d.BibNumber) == "" {
		return &ValidationError{Field: "bibNumber", Reason: "is required"}
	}
	if err := validateName(d.RacerName); err != nil {
		return err
	}
	ms, err := resolveTime(d.FinishTime, d.FinishTimeMs)
	if err != nil {
		return err
	}
	d.FinishTimeMs = ms
	d.FinishTime = ""
	return nil
}

// Record builds the provisional record the authority stores for a draft.
func (d Draft) Record(id string) Record {
	rec := Record{
		ID:        id,
		BibNumber: strings.TrimSpace(d.BibNumber),
		RacerName: strings.TrimSpace(d.RacerName),
		Gender:    NormalizeGender(d.Gender),
		Team:      strings.TrimSpace(d.Team),
	}
	if d.FinishTimeMs != nil {
		rec.FinishTimeMs = Millis(*d.FinishTimeMs)
	}
	return rec
}

// Patch carries the fields of an update command. Nil fields are left alone.
type Patch struct {
	BibNumber       *string `json:"bibNumber,omitempty"`
	RacerName       *string `json:"racerName,omitempty"`
	FinishTime      *string `json:"finishTime,omitempty"`
	FinishTimeMs    *int64  `json:"finishTimeMs,omitempty"`
	ClearFinishTime bool    `json:"clearFinishTime,omitempty"`
	Gender          *string `json:"gender,omitempty"`
	Team            *string `json:"team,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.BibNumber == nil && p.RacerName == nil && p.FinishTime == nil &&
		p.FinishTimeMs == nil && !p.ClearFinishTime && p.Gender == nil && p.Team == nil
}

// Validate checks the patch and resolves FinishTime text into FinishTimeMs.
func (p *Patch) Validate() error {
	if p.BibNumber != nil && strings.TrimSpace(*p.BibNumber) == "" {
		return &ValidationError{Field: "bibNumber", Reason: "must not be empty"}
	}
	if p.RacerName != nil {
		if err := validateName(*p.RacerName); err != nil {
			return err
		}
	}
	var text string
	if p.FinishTime != nil {
		text = *p.FinishTime
		if text == "" {
			return &ValidationError{Field: "finishTime", Reason: "must not be empty"}
		}
	}
	ms, err := resolveTime(text, p.FinishTimeMs)
	if err != nil {
		return err
	}
	if ms != nil && p.ClearFinishTime {
		return &ValidationError{Field: "finishTime", Reason: "cannot both set and clear"}
	}
	p.FinishTimeMs = ms
	p.FinishTime = nil
	return nil
}

// Apply returns rec with the patch fields written over it. The patch must
// have been validated.
func (p Patch) Apply(rec Record) Record {
	out := rec.Clone()
	if p.BibNumber != nil {
		out.BibNumber = strings.TrimSpace(*p.BibNumber)
	}
	if p.RacerName != nil {
		out.RacerName = strings.TrimSpace(*p.RacerName)
	}
	if p.FinishTimeMs != nil {
		out.FinishTimeMs = Millis(*p.FinishTimeMs)
	}
	if p.ClearFinishTime {
		out.FinishTimeMs = nil
	}
	if p.Gender != nil {
		out.Gender = NormalizeGender(*p.Gender)
	}
	if p.Team != nil {
		out.Team = strings.TrimSpace(*p.Team)
	}
	return out
}

// ChangesTime reports whether applying the patch alters the finish time.
func (p Patch) ChangesTime() bool {
	return p.FinishTimeMs != nil || p.ClearFinishTime
}

func validateName(name string) error {
	if name == "" {
		return nil
	}
	if len([]rune(strings.TrimSpace(name))) < minNameLength {
		return &ValidationError{Field: "racerName", Reason: fmt.Sprintf("must be at least %d characters", minNameLength)}
	}
	return nil
}

func resolveTime(text string, ms *int64) (*int64, error) {
	if text != "" {
		parsed, err := timecodec.Parse(text)
		if err != nil {
			return nil, &ValidationError{Field: "finishTime", Reason: err.Error()}
		}
		return &parsed, nil
	}
	if ms != nil && *ms < 0 {
		return nil, &ValidationError{Field: "finishTimeMs", Reason: "must not be negative"}
	}
	return ms, nil
}

// String is a helper for building patches.
func String(s string) *string {
	return &s
}

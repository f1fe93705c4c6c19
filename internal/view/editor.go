package view

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/intermernet/finishline/internal/finisher"
)

// Editable fields.
const (
	FieldBib    = "bib"
	FieldName   = "name"
	FieldTime   = "time"
	FieldGender = "gender"
	FieldTeam   = "team"
)

// edit is the single cell under inline edit.
type edit struct {
	id       string
	field    string
	original string
	draft    string
}

// Begin puts one cell into editing mode. The draft starts as the displayed
// value. Beginning a new edit abandons any other.
func (p *Projection) Begin(id, field string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.current.Find(id)
	if !ok {
		return &finisher.ValidationError{Field: "id", Reason: "no finisher " + id}
	}
	value, err := fieldValue(rec, field)
	if err != nil {
		return err
	}
	p.editing = &edit{id: id, field: field, original: value, draft: value}
	return nil
}

// Input replaces the candidate value of the cell under edit.
func (p *Projection) Input(value string) {
	p.mu.Lock()
	if p.editing != nil {
		p.editing.draft = value
	}
	p.mu.Unlock()
}

// Cancel leaves editing mode without sending anything.
func (p *Projection) Cancel() {
	p.mu.Lock()
	p.editing = nil
	p.mu.Unlock()
	p.notify()
}

// Editing reports the cell under edit, if any.
func (p *Projection) Editing() (id, field, draft string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.editing == nil {
		return "", "", "", false
	}
	return p.editing.id, p.editing.field, p.editing.draft, true
}

// Commit sends the edited cell to the authority. Editing mode ends
// whatever the outcome; on any failure the cell shows the replica's value
// again and a notice explains why. An unchanged draft sends nothing.
func (p *Projection) Commit(ctx context.Context) error {
	if p.cmd == nil {
		return errReadOnly
	}

	p.mu.Lock()
	e := p.editing
	p.editing = nil
	p.mu.Unlock()
	p.notify()

	if e == nil {
		return nil
	}
	if e.draft == e.original {
		return nil
	}

	patch, err := patchFor(e.field, e.draft)
	if err == nil {
		err = patch.Validate()
	}
	if err != nil {
		p.toast(slog.LevelWarn, "Not saved: "+describe(err))
		return err
	}

	if !p.setPending(e.id, PendingSave) {
		return errBusy
	}
	_, err = p.cmd.Update(ctx, e.id, patch)
	p.clearPending(e.id)
	if err != nil {
		p.toast(slog.LevelWarn, "Not saved: "+describe(err))
		return err
	}
	return nil
}

func fieldValue(rec finisher.Record, field string) (string, error) {
	switch field {
	case FieldBib:
		return rec.BibNumber, nil
	case FieldName:
		return rec.RacerName, nil
	case FieldTime:
		return rec.FormattedTime(), nil
	case FieldGender:
		return rec.Gender, nil
	case FieldTeam:
		return rec.Team, nil
	default:
		return "", &finisher.ValidationError{Field: "field", Reason: fmt.Sprintf("%q is not editable", field)}
	}
}

// patchFor builds the single-field patch for a committed draft. An empty
// time clears the finish time.
func patchFor(field, draft string) (finisher.Patch, error) {
	var patch finisher.Patch
	switch field {
	case FieldBib:
		patch.BibNumber = finisher.String(draft)
	case FieldName:
		patch.RacerName = finisher.String(draft)
	case FieldTime:
		if draft == "" {
			patch.ClearFinishTime = true
		} else {
			patch.FinishTime = finisher.String(draft)
		}
	case FieldGender:
		patch.Gender = finisher.String(draft)
	case FieldTeam:
		patch.Team = finisher.String(draft)
	default:
		return patch, &finisher.ValidationError{Field: "field", Reason: fmt.Sprintf("%q is not editable", field)}
	}
	return patch, nil
}

// Package view projects a viewer's replica onto something a person can read
// and edit. It never holds ranked state of its own: rows are derived from the
// newest published collection, and anything in flight is kept in a separate
// overlay that disappears once the command is acknowledged.
package view

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/intermernet/finishline/internal/finisher"
	"github.com/intermernet/finishline/internal/gateway"
	"github.com/intermernet/finishline/internal/raceclock"
	"github.com/intermernet/finishline/internal/ranking"
	"github.com/intermernet/finishline/internal/reconcile"
)

// DefaultToastTTL is how long a notice stays visible.
const DefaultToastTTL = 5 * time.Second

// Commander is the part of the mutation gateway the projection drives.
// *gateway.Client satisfies it.
type Commander interface {
	Update(ctx context.Context, id string, patch finisher.Patch) (finisher.Record, error)
	Delete(ctx context.Context, id string) error
	Reorder(ctx context.Context, ids []string) error
}

// Pending labels shown next to a row while a command on it is outstanding.
const (
	PendingSave   = "saving"
	PendingMove   = "moving"
	PendingDelete = "deleting"
)

// Row is one rendered line.
type Row struct {
	finisher.Record
	// Pending is non-empty while a command touching this row is outstanding.
	Pending string
	// Editing names the field under inline edit, with its candidate value.
	Editing string
	Draft   string
}

// Toast is a transient notice for the person at this viewer only.
type Toast struct {
	Level slog.Level
	Text  string
	At    time.Time
}

// Option configures a Projection.
type Option func(*Projection)

// WithNow replaces the clock used for toasts and the race clock indicator.
func WithNow(now func() time.Time) Option { return func(p *Projection) { p.now = now } }

// WithToastTTL sets how long notices stay visible.
func WithToastTTL(d time.Duration) Option { return func(p *Projection) { p.toastTTL = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Projection) { p.logger = l } }

// Projection turns replica snapshots into rows. It is safe for concurrent use.
type Projection struct {
	replica  *ranking.Replica
	cmd      Commander
	now      func() time.Time
	toastTTL time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	current ranking.Collection
	pending map[string]string
	order   []string
	editing *edit
	toasts  []Toast
	conn    reconcile.State
	clock   *raceclock.State

	changed chan struct{}
}

// New creates a projection of replica. cmd may be nil for a read-only view.
func New(replica *ranking.Replica, cmd Commander, opts ...Option) *Projection {
	p := &Projection{
		replica:  replica,
		cmd:      cmd,
		now:      time.Now,
		toastTTL: DefaultToastTTL,
		logger:   slog.Default(),
		current:  replica.Snapshot(),
		pending:  make(map[string]string),
		changed:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run follows the replica until ctx is done.
func (p *Projection) Run(ctx context.Context) error {
	snapshots, cancel := p.replica.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-snapshots:
			if !ok {
				return nil
			}
			p.show(c)
		}
	}
}

func (p *Projection) show(c ranking.Collection) {
	p.mu.Lock()
	p.current = c
	// An edit of a row that has since been deleted has nothing to commit to.
	if p.editing != nil {
		if _, ok := c.Find(p.editing.id); !ok {
			p.editing = nil
		}
	}
	p.mu.Unlock()
	p.notify()
}

// Changed signals, coalesced, whenever the rendered output may differ.
func (p *Projection) Changed() <-chan struct{} {
	return p.changed
}

func (p *Projection) notify() {
	select {
	case p.changed <- struct{}{}:
	default:
	}
}

// Version is the version of the collection currently shown.
func (p *Projection) Version() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.Version()
}

// Rows returns the current rows in display order. While a drag is
// outstanding the rows follow the dragged order; ranks still come from the
// collection.
func (p *Projection) Rows() []Row {
	p.mu.Lock()
	defer p.mu.Unlock()

	records := p.current.Records()
	if p.order != nil {
		pos := make(map[string]int, len(p.order))
		for i, id := range p.order {
			pos[id] = i
		}
		slices.SortStableFunc(records, func(a, b finisher.Record) int {
			ai, aok := pos[a.ID]
			bi, bok := pos[b.ID]
			switch {
			case aok && bok:
				return ai - bi
			case aok:
				return -1
			case bok:
				return 1
			}
			return 0
		})
	}

	rows := make([]Row, len(records))
	for i, rec := range records {
		rows[i] = Row{Record: rec, Pending: p.pending[rec.ID]}
		if p.editing != nil && p.editing.id == rec.ID {
			rows[i].Editing = p.editing.field
			rows[i].Draft = p.editing.draft
		}
	}
	return rows
}

// Connectivity is the push channel state last reported.
func (p *Projection) Connectivity() reconcile.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// SetConnectivity records the push channel state. It matches
// reconcile.Options.OnState.
func (p *Projection) SetConnectivity(s reconcile.State) {
	p.mu.Lock()
	p.conn = s
	p.mu.Unlock()
	p.notify()
}

// SetClock records a race clock broadcast. It matches
// reconcile.Options.OnClock.
func (p *Projection) SetClock(st raceclock.State) {
	p.mu.Lock()
	p.clock = &st
	p.mu.Unlock()
	p.notify()
}

// Clock returns the last race clock state and the race time it reads now.
// ok is false until a clock state has been received.
func (p *Projection) Clock() (st raceclock.State, elapsedMs int64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clock == nil {
		return raceclock.State{}, 0, false
	}
	st = *p.clock
	return st, max(st.ElapsedAt(p.now()), 0), true
}

// Toasts returns the notices that have not expired.
func (p *Projection) Toasts() []Toast {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := p.now().Add(-p.toastTTL)
	p.toasts = slices.DeleteFunc(p.toasts, func(t Toast) bool { return t.At.Before(cutoff) })
	return slices.Clone(p.toasts)
}

func (p *Projection) toast(level slog.Level, text string) {
	p.mu.Lock()
	p.toasts = append(p.toasts, Toast{Level: level, Text: text, At: p.now()})
	p.mu.Unlock()
	p.logger.Log(context.Background(), level, text)
	p.notify()
}

// Move drags the row id to index to (0-based, clamped) and asks the
// authority to persist the resulting order. The dragged order is shown as
// an overlay until the authority answers; the confirmed order arrives as a
// broadcast.
func (p *Projection) Move(ctx context.Context, id string, to int) error {
	if p.cmd == nil {
		return errReadOnly
	}

	p.mu.Lock()
	ids := p.current.IDs()
	if p.order != nil {
		p.mu.Unlock()
		return errBusy
	}
	from := slices.Index(ids, id)
	if from < 0 {
		p.mu.Unlock()
		return &finisher.ValidationError{Field: "id", Reason: "no finisher " + id}
	}
	to = min(max(to, 0), len(ids)-1)
	if from == to {
		p.mu.Unlock()
		return nil
	}
	ids = slices.Delete(ids, from, from+1)
	ids = slices.Insert(ids, to, id)
	p.order = ids
	p.pending[id] = PendingMove
	p.mu.Unlock()
	p.notify()

	err := p.cmd.Reorder(ctx, ids)

	p.mu.Lock()
	p.order = nil
	delete(p.pending, id)
	p.mu.Unlock()
	p.notify()

	if err != nil {
		p.toast(slog.LevelWarn, "Reorder failed: "+describe(err))
	}
	return err
}

// Delete removes the row id through the authority.
func (p *Projection) Delete(ctx context.Context, id string) error {
	if p.cmd == nil {
		return errReadOnly
	}
	if !p.setPending(id, PendingDelete) {
		return errBusy
	}
	err := p.cmd.Delete(ctx, id)
	p.clearPending(id)
	if err != nil {
		p.toast(slog.LevelWarn, "Delete failed: "+describe(err))
	}
	return err
}

func (p *Projection) setPending(id, label string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.pending[id]; busy {
		return false
	}
	p.pending[id] = label
	return true
}

func (p *Projection) clearPending(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
	p.notify()
}

var (
	errReadOnly = errors.New("view is read-only")
	errBusy     = errors.New("a command on this row is still outstanding")
)

// describe renders err as a one-line notice.
func describe(err error) string {
	var (
		validation *finisher.ValidationError
		rejected   *gateway.RejectedError
	)
	switch {
	case errors.As(err, &validation):
		return validation.Error()
	case errors.As(err, &rejected):
		return rejected.Message
	case errors.Is(err, gateway.ErrTimeout):
		return "the server did not answer in time"
	case errors.Is(err, gateway.ErrUnreachable):
		return "the server is unreachable"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return err.Error()
	}
}

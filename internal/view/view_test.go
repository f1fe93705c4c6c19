package view

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intermernet/finishline/internal/finisher"
	"github.com/intermernet/finishline/internal/gateway"
	"github.com/intermernet/finishline/internal/raceclock"
	"github.com/intermernet/finishline/internal/ranking"
	"github.com/intermernet/finishline/internal/reconcile"
)

type update struct {
	id    string
	patch finisher.Patch
}

type fakeCommander struct {
	mu       sync.Mutex
	updates  []update
	deletes  []string
	reorders [][]string
	err      error

	// When gate is set every call signals entered and then waits on gate.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeCommander) wait() error {
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeCommander) Update(ctx context.Context, id string, patch finisher.Patch) (finisher.Record, error) {
	f.mu.Lock()
	f.updates = append(f.updates, update{id: id, patch: patch})
	f.mu.Unlock()
	return finisher.Record{ID: id}, f.wait()
}

func (f *fakeCommander) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	f.deletes = append(f.deletes, id)
	f.mu.Unlock()
	return f.wait()
}

func (f *fakeCommander) Reorder(ctx context.Context, ids []string) error {
	f.mu.Lock()
	f.reorders = append(f.reorders, ids)
	f.mu.Unlock()
	return f.wait()
}

func gated() *fakeCommander {
	return &fakeCommander{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
}

func seeded(t *testing.T, cmd Commander, opts ...Option) (*Projection, *ranking.Replica) {
	t.Helper()
	replica := ranking.NewReplica()
	replica.Apply(ranking.ReplaceAll{Records: []finisher.Record{
		{ID: "a", BibNumber: "1", RacerName: "Ada", FinishTimeMs: finisher.Millis(60_000), Gender: "W", Team: "Red"},
		{ID: "b", BibNumber: "2", RacerName: "Alan", FinishTimeMs: finisher.Millis(61_000), Gender: "M", Team: "Blue"},
		{ID: "c", BibNumber: "3", RacerName: "Grace", FinishTimeMs: finisher.Millis(62_000), Gender: "F", Team: "Red"},
	}})
	return New(replica, cmd, opts...), replica
}

func ids(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestProjectionFollowsReplica(t *testing.T) {
	t.Parallel()

	p, replica := seeded(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	next := replica.Apply(ranking.Upsert{Record: finisher.Record{ID: "d", BibNumber: "4", FinishTimeMs: finisher.Millis(1000)}})
	require.Eventually(t, func() bool { return p.Version() == next.Version() }, time.Second, 5*time.Millisecond)

	rows := p.Rows()
	assert.Equal(t, []string{"d", "a", "b", "c"}, ids(rows))
	assert.Equal(t, 1, rows[0].Rank)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestCommitSendsPatchWithoutTouchingRows(t *testing.T) {
	t.Parallel()

	cmd := &fakeCommander{}
	p, _ := seeded(t, cmd)

	require.NoError(t, p.Begin("b", FieldTime))
	_, _, draft, ok := p.Editing()
	require.True(t, ok)
	assert.Equal(t, "01:01.00", draft)

	p.Input("00:59.00")
	assert.Equal(t, "[00:59.00]", cell(p.Rows()[1], FieldTime, ""))

	require.NoError(t, p.Commit(context.Background()))
	require.Len(t, cmd.updates, 1)
	assert.Equal(t, "b", cmd.updates[0].id)
	assert.Equal(t, int64(59_000), *cmd.updates[0].patch.FinishTimeMs)

	// The acknowledgement alone never reorders anything.
	rows := p.Rows()
	assert.Equal(t, []string{"a", "b", "c"}, ids(rows))
	assert.Equal(t, "01:01.00", rows[1].FormattedTime())
	assert.Empty(t, rows[1].Editing)
	assert.Empty(t, p.Toasts())
}

func TestCommitInvalidDraftReverts(t *testing.T) {
	t.Parallel()

	cmd := &fakeCommander{}
	p, _ := seeded(t, cmd)

	require.NoError(t, p.Begin("a", FieldTime))
	p.Input("1:00")
	err := p.Commit(context.Background())

	var validation *finisher.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Empty(t, cmd.updates, "invalid input never leaves the viewer")
	_, _, _, editing := p.Editing()
	assert.False(t, editing)
	assert.Equal(t, "01:00.00", p.Rows()[0].FormattedTime())

	toasts := p.Toasts()
	require.Len(t, toasts, 1)
	assert.Contains(t, toasts[0].Text, "finishTime")
}

func TestCommitRejectedReverts(t *testing.T) {
	t.Parallel()

	cmd := &fakeCommander{err: &gateway.RejectedError{Status: 409, Message: "bib number 2 is already assigned"}}
	p, _ := seeded(t, cmd)

	require.NoError(t, p.Begin("a", FieldBib))
	p.Input("2")
	err := p.Commit(context.Background())
	require.ErrorIs(t, err, gateway.ErrRejected)

	rows := p.Rows()
	assert.Equal(t, "1", rows[0].BibNumber)
	assert.Empty(t, rows[0].Pending)
	toasts := p.Toasts()
	require.Len(t, toasts, 1)
	assert.Equal(t, "Not saved: bib number 2 is already assigned", toasts[0].Text)
}

func TestCommitUnchangedSendsNothing(t *testing.T) {
	t.Parallel()

	cmd := &fakeCommander{}
	p, _ := seeded(t, cmd)

	require.NoError(t, p.Begin("a", FieldName))
	require.NoError(t, p.Commit(context.Background()))
	assert.Empty(t, cmd.updates)

	assert.Error(t, p.Begin("zzz", FieldName))
	assert.Error(t, p.Begin("a", "rank"))
}

func TestPendingOverlay(t *testing.T) {
	t.Parallel()

	cmd := gated()
	p, _ := seeded(t, cmd)

	require.NoError(t, p.Begin("c", FieldName))
	p.Input("Grace Hopper")
	done := make(chan error, 1)
	go func() { done <- p.Commit(context.Background()) }()

	<-cmd.entered
	rows := p.Rows()
	assert.Equal(t, PendingSave, rows[2].Pending)
	assert.Equal(t, "Grace", rows[2].RacerName, "the overlay never rewrites the record")
	assert.ErrorIs(t, p.Delete(context.Background(), "c"), errBusy)

	close(cmd.gate)
	require.NoError(t, <-done)
	assert.Empty(t, p.Rows()[2].Pending)
}

func TestMove(t *testing.T) {
	t.Parallel()

	cmd := gated()
	p, replica := seeded(t, cmd)

	done := make(chan error, 1)
	go func() { done <- p.Move(context.Background(), "c", 0) }()

	<-cmd.entered
	rows := p.Rows()
	assert.Equal(t, []string{"c", "a", "b"}, ids(rows), "dragged order shown while outstanding")
	assert.Equal(t, 3, rows[0].Rank, "ranks still come from the collection")
	assert.Equal(t, PendingMove, rows[0].Pending)

	close(cmd.gate)
	require.NoError(t, <-done)
	require.Len(t, cmd.reorders, 1)
	assert.Equal(t, []string{"c", "a", "b"}, cmd.reorders[0])

	// Until the broadcast arrives the collection order stands.
	assert.Equal(t, []string{"a", "b", "c"}, ids(p.Rows()))

	confirmed := replica.Apply(ranking.ReplaceAll{Records: []finisher.Record{
		{ID: "c", BibNumber: "3", FinishTimeMs: finisher.Millis(62_000)},
		{ID: "a", BibNumber: "1", FinishTimeMs: finisher.Millis(60_000)},
		{ID: "b", BibNumber: "2", FinishTimeMs: finisher.Millis(61_000)},
	}})
	p.show(confirmed)
	rows = p.Rows()
	assert.Equal(t, []string{"c", "a", "b"}, ids(rows))
	assert.Equal(t, 1, rows[0].Rank)
}

func TestMoveEdges(t *testing.T) {
	t.Parallel()

	cmd := &fakeCommander{err: gateway.ErrTimeout}
	p, _ := seeded(t, cmd)
	ctx := context.Background()

	require.NoError(t, p.Move(ctx, "a", 0), "no-op move sends nothing")
	assert.Empty(t, cmd.reorders)

	var validation *finisher.ValidationError
	assert.ErrorAs(t, p.Move(ctx, "zzz", 1), &validation)

	err := p.Move(ctx, "a", 99)
	assert.ErrorIs(t, err, gateway.ErrTimeout)
	require.Len(t, cmd.reorders, 1)
	assert.Equal(t, []string{"b", "c", "a"}, cmd.reorders[0], "index is clamped")
	assert.Equal(t, []string{"a", "b", "c"}, ids(p.Rows()), "failed move leaves no overlay")

	toasts := p.Toasts()
	require.Len(t, toasts, 1)
	assert.Equal(t, "Reorder failed: the server did not answer in time", toasts[0].Text)

	readOnly, _ := seeded(t, nil)
	assert.ErrorIs(t, readOnly.Move(ctx, "a", 1), errReadOnly)
}

func TestEditOfDeletedRowIsDropped(t *testing.T) {
	t.Parallel()

	p, replica := seeded(t, &fakeCommander{})
	require.NoError(t, p.Begin("b", FieldName))

	p.show(replica.Apply(ranking.Delete{ID: "b"}))
	_, _, _, ok := p.Editing()
	assert.False(t, ok)
}

func TestToastsExpire(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	p, _ := seeded(t, &fakeCommander{err: gateway.ErrUnreachable}, WithNow(clock), WithToastTTL(time.Second))

	assert.Error(t, p.Delete(context.Background(), "a"))
	require.Len(t, p.Toasts(), 1)

	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()
	assert.Empty(t, p.Toasts())
}

func TestIndicators(t *testing.T) {
	t.Parallel()

	start := 1700000000.0
	now := time.Unix(1700000090, 0)
	p, _ := seeded(t, nil, WithNow(func() time.Time { return now }))

	assert.Equal(t, "Disconnected | 3 finishers", p.StatusLine())

	p.SetConnectivity(reconcile.Synced)
	p.SetClock(raceclock.State{RaceStartTime: &start, Status: raceclock.StatusRunning, OffsetMs: 500})
	_, elapsed, ok := p.Clock()
	require.True(t, ok)
	assert.Equal(t, int64(90_500), elapsed)
	assert.Equal(t, "Synced | Clock 01:30.50 (running) | 3 finishers", p.StatusLine())

	select {
	case <-p.Changed():
	default:
		t.Fatal("indicator change was not signalled")
	}
}

func TestStoppedClockIsFrozen(t *testing.T) {
	t.Parallel()

	start := 1700000000.0
	var mu sync.Mutex
	now := time.Unix(1700000100, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	p, _ := seeded(t, nil, WithNow(clock))

	p.SetClock(raceclock.State{RaceStartTime: &start, Status: raceclock.StatusStopped, OffsetMs: 100_000})
	assert.Contains(t, p.StatusLine(), "Clock 01:40.00 (stopped)")

	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()
	assert.Contains(t, p.StatusLine(), "Clock 01:40.00 (stopped)")
}

func TestCategories(t *testing.T) {
	t.Parallel()

	p, _ := seeded(t, nil)
	records := make([]finisher.Record, 0, 4)
	for _, r := range p.Rows() {
		records = append(records, r.Record)
	}
	records = append(records, finisher.Record{ID: "d", BibNumber: "4", Rank: 4})

	genders := ByGender(records)
	require.Len(t, genders, 2)
	assert.Equal(t, "M", genders[0].Name)
	assert.Equal(t, "W", genders[1].Name)
	require.Len(t, genders[1].Records, 2)
	assert.Equal(t, "a", genders[1].Records[0].ID)
	assert.Equal(t, "c", genders[1].Records[1].ID)
	assert.Equal(t, 2, genders[1].CategoryRank(1))
	assert.Equal(t, 3, genders[1].Records[1].Rank)

	teams := ByTeam(records)
	require.Len(t, teams, 2)
	assert.Equal(t, "Blue", teams[0].Name)
	assert.Equal(t, "Red", teams[1].Name)
}

func TestRender(t *testing.T) {
	t.Parallel()

	p, _ := seeded(t, &fakeCommander{})
	require.NoError(t, p.Begin("a", FieldName))
	p.Input("Ada L")

	var buf bytes.Buffer
	require.NoError(t, p.Render(&buf))
	out := buf.String()
	assert.Contains(t, out, "Disconnected | 3 finishers")
	assert.Contains(t, out, "[Ada L]")
	assert.Contains(t, out, "01:02.00")
	assert.Contains(t, out, "Grace")

	buf.Reset()
	require.NoError(t, RenderGroups(&buf, ByTeam(p.current.Records())))
	assert.Contains(t, buf.String(), "Red (2)")
	assert.Contains(t, buf.String(), "Blue (1)")
}

// Package reconcile keeps a viewer's replica in step with the authority: it
// subscribes to the push channel, seeds the replica with a full fetch, applies
// incremental broadcasts in receipt order and reconnects after a loss.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/intermernet/finishline/internal/finisher"
	"github.com/intermernet/finishline/internal/metrics"
	"github.com/intermernet/finishline/internal/raceclock"
	"github.com/intermernet/finishline/internal/ranking"
)

// ErrChannelLost wraps every failure of an established or attempted push
// channel. It always leads to a reconnect.
var ErrChannelLost = errors.New("push channel lost")

// State is the connectivity shown to the user.
type State int32

const (
	Disconnected State = iota
	Connecting
	Synced
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Synced:
		return "Synced"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Fetcher performs the full fetch.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]finisher.Record, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(ctx context.Context) ([]finisher.Record, error)

// FetchAll implements Fetcher.
func (f FetchFunc) FetchAll(ctx context.Context) ([]finisher.Record, error) { return f(ctx) }

// Options tunes a Channel. The zero value is usable.
type Options struct {
	// ReconnectMin and ReconnectMax bound the delay between attempts.
	// Defaults are 1s and 5s.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// OnState is called on every state change.
	OnState func(State)
	// OnClock receives race clock broadcasts.
	OnClock func(raceclock.State)

	Metrics *metrics.Viewer
	Logger  *slog.Logger
}

// Channel drives one replica. Run must be called at most once at a time.
type Channel struct {
	dialer  Dialer
	fetcher Fetcher
	replica *ranking.Replica
	opts    Options
	logger  *slog.Logger

	state   atomic.Int32
	stateMu sync.Mutex
}

// New creates a channel feeding replica.
func New(d Dialer, f Fetcher, replica *ranking.Replica, opts Options) *Channel {
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = time.Second
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = max(5*time.Second, opts.ReconnectMin)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		dialer:  d,
		fetcher: f,
		replica: replica,
		opts:    opts,
		logger:  logger.With("component", "reconcile"),
	}
}

// State returns the current connectivity.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Run connects and keeps the replica synced until ctx is cancelled, which is
// the only way it returns.
func (c *Channel) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.ReconnectMin
	bo.MaxInterval = c.opts.ReconnectMax
	bo.RandomizationFactor = 0.2
	bo.Reset()

	for {
		c.setState(Connecting)
		synced, err := c.session(ctx)
		c.setState(Disconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if synced {
			bo.Reset()
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop || wait > c.opts.ReconnectMax {
			wait = c.opts.ReconnectMax
		}
		c.logger.Warn("Push channel lost, reconnecting", "error", err, "retry_in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if c.opts.Metrics != nil {
			c.opts.Metrics.Reconnects.Inc()
		}
	}
}

// Resync replaces the replica with a full fetch.
func (c *Channel) Resync(ctx context.Context) error {
	records, err := c.fetcher.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("full fetch: %w", err)
	}
	next := c.replica.Apply(ranking.ReplaceAll{Records: records})
	if c.opts.Metrics != nil {
		c.opts.Metrics.Resyncs.Inc()
	}
	c.logger.Debug("Replica resynced", "finishers", next.Len(), "version", next.Version())
	return nil
}

// session runs one connection. synced reports whether the initial full
// fetch was applied.
func (c *Channel) session(ctx context.Context) (synced bool, err error) {
	stream, err := c.dialer.Dial(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChannelLost, err)
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	// Subscribed first, fetched second: anything broadcast during the fetch
	// is queued on the stream and applied afterwards.
	if err := c.Resync(ctx); err != nil {
		return false, err
	}
	c.setState(Synced)
	c.logger.Info("Push channel synced", "finishers", c.replica.Snapshot().Len())

	for {
		payload, err := stream.Next()
		if err != nil {
			return true, fmt.Errorf("%w: %v", ErrChannelLost, err)
		}
		if err := c.handle(ctx, payload); err != nil {
			return true, err
		}
	}
}

// handle applies one broadcast. Only a failed reload resync is returned as
// an error; unknown shapes are dropped.
func (c *Channel) handle(ctx context.Context, payload []byte) error {
	msg, err := Decode(payload)
	if err != nil {
		c.logger.Warn("Ignoring broadcast", "error", err)
		if c.opts.Metrics != nil {
			c.opts.Metrics.UnknownEvents.Inc()
		}
		return nil
	}

	switch {
	case msg.Reload:
		if err := c.Resync(ctx); err != nil {
			return err
		}
	case msg.Clock != nil:
		if c.opts.OnClock != nil {
			c.opts.OnClock(*msg.Clock)
		}
	default:
		c.replica.Apply(msg.Event)
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.EventsApplied.WithLabelValues(msg.Kind).Inc()
	}
	return nil
}

func (c *Channel) setState(s State) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

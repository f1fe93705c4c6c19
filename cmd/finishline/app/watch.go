package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/intermernet/finishline/internal/finisher"
	"github.com/intermernet/finishline/internal/gateway"
	"github.com/intermernet/finishline/internal/metrics"
	"github.com/intermernet/finishline/internal/ranking"
	"github.com/intermernet/finishline/internal/reconcile"
	"github.com/intermernet/finishline/internal/view"
)

// streamIdleTimeout is three missed heartbeats of a default authority.
const streamIdleTimeout = 45 * time.Second

const clearScreen = "\033[H\033[2J"

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the live leaderboard",
	Long: `Follow the live leaderboard. The table is redrawn on every change pushed by
the authority, and the status line shows whether this viewer is in sync.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("category", "", "Also show per-category rankings: gender or team")
	watchCmd.Flags().Duration("refresh", time.Second, "Redraw interval for the race clock")
	watchCmd.Flags().String("metrics-addr", "", "Serve viewer metrics on this address, e.g. :9091")

	for _, name := range []string{"category", "refresh", "metrics-addr"} {
		if err := viper.BindPFlag(name, watchCmd.Flags().Lookup(name)); err != nil {
			slog.Error("Error binding flag", "flag", name, "error", err)
		}
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	category := viper.GetString("category")
	if category != "" && category != "gender" && category != "team" {
		return fmt.Errorf("--category must be gender or team, got %q", category)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.NewViewer(reg)
	client, err := newClient(gateway.WithMetrics(m))
	if err != nil {
		return err
	}

	replica := ranking.NewReplica()
	proj := view.New(replica, client)
	channel := reconcile.New(
		reconcile.SSEDialer{URL: streamURL(client), IdleTimeout: streamIdleTimeout},
		client,
		replica,
		reconcile.Options{
			ReconnectMin: viper.GetDuration("reconnect-min"),
			ReconnectMax: viper.GetDuration("reconnect-max"),
			OnState:      proj.SetConnectivity,
			OnClock:      proj.SetClock,
			Metrics:      m,
		},
	)

	// The clock is only pushed when it changes, so read it once up front.
	if st, err := client.ClockStatus(ctx); err == nil {
		proj.SetClock(st)
	} else {
		slog.Warn("Race clock unavailable", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return channel.Run(gctx) })
	g.Go(func() error { return proj.Run(gctx) })
	g.Go(func() error {
		return redraw(gctx, cmd.OutOrStdout(), proj, category, viper.GetDuration("refresh"))
	})
	if addr := viper.GetString("metrics-addr"); addr != "" {
		g.Go(func() error { return serveMetrics(gctx, addr, reg) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// redraw repaints the screen on every change and on every tick of the clock.
func redraw(ctx context.Context, w io.Writer, proj *view.Projection, category string, every time.Duration) error {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var buf bytes.Buffer
	for {
		buf.Reset()
		buf.WriteString(clearScreen)
		if err := proj.Render(&buf); err != nil {
			return err
		}
		if category != "" {
			buf.WriteString("\n")
			if err := view.RenderGroups(&buf, groups(proj.Rows(), category)); err != nil {
				return err
			}
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-proj.Changed():
		case <-ticker.C:
		}
	}
}

func groups(rows []view.Row, category string) []view.Group {
	records := make([]finisher.Record, len(rows))
	for i, r := range rows {
		records[i] = r.Record
	}
	if category == "team" {
		return view.ByTeam(records)
	}
	return view.ByGender(records)
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Serving viewer metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intermernet/finishline/internal/finisher"
	"github.com/intermernet/finishline/internal/metrics"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) (*Client, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, opts...)
	require.NoError(t, err)
	return c, &hits
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": success, "data": data, "message": message})
}

func TestNewRejectsBadURL(t *testing.T) {
	t.Parallel()

	for _, u := range []string{"", "localhost:8080", "ftp://example.com", "://"} {
		_, err := New(u)
		assert.Error(t, err, u)
	}
}

func TestCreate(t *testing.T) {
	t.Parallel()

	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/results", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var d finisher.Draft
		require.NoError(t, json.NewDecoder(r.Body).Decode(&d))
		assert.Equal(t, int64(321350), *d.FinishTimeMs)
		assert.Empty(t, d.FinishTime, "text is resolved before sending")

		writeEnvelope(w, http.StatusCreated, true, finisher.Record{ID: "1", BibNumber: d.BibNumber, FinishTimeMs: d.FinishTimeMs, Rank: 1}, "")
	}, WithToken("tok"))

	rec, err := c.Create(context.Background(), finisher.Draft{BibNumber: "42", FinishTime: "05:21.35"})
	require.NoError(t, err)
	assert.Equal(t, "1", rec.ID)
	assert.Equal(t, "05:21.35", rec.FormattedTime())
	assert.Equal(t, int32(1), hits.Load())
}

func TestValidationStaysLocal(t *testing.T) {
	t.Parallel()

	m := metrics.NewViewer(prometheus.NewRegistry())
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}, WithMetrics(m))
	ctx := context.Background()

	var validation *finisher.ValidationError
	_, err := c.Create(ctx, finisher.Draft{BibNumber: "1", FinishTime: "5:21.35"})
	assert.ErrorAs(t, err, &validation)
	_, err = c.Create(ctx, finisher.Draft{FinishTime: "05:21.35"})
	assert.ErrorAs(t, err, &validation)
	_, err = c.Update(ctx, "1", finisher.Patch{})
	assert.ErrorAs(t, err, &validation)
	_, err = c.Update(ctx, "1", finisher.Patch{RacerName: finisher.String("x")})
	assert.ErrorAs(t, err, &validation)
	assert.ErrorAs(t, c.Delete(ctx, ""), &validation)
	assert.ErrorAs(t, c.Reorder(ctx, []string{"a", "b", "a"}), &validation)
	_, err = c.EditClock(ctx, "soon")
	assert.ErrorAs(t, err, &validation)
	_, err = c.Clock(ctx, "pause")
	assert.ErrorAs(t, err, &validation)

	assert.Zero(t, hits.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Commands.WithLabelValues("create", "invalid")))
}

func TestRejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		handler     http.HandlerFunc
		wantStatus  int
		wantMessage string
	}{
		{
			name: "conflict with message",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, http.StatusConflict, false, nil, "bib number 7 is already assigned")
			},
			wantStatus:  http.StatusConflict,
			wantMessage: "bib number 7 is already assigned",
		},
		{
			name: "non-2xx with unparseable body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				io.WriteString(w, "<html>upstream down</html>")
			},
			wantStatus:  http.StatusBadGateway,
			wantMessage: "Bad Gateway",
		},
		{
			name: "non-2xx claiming success",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, http.StatusInternalServerError, true, nil, "")
			},
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "Internal Server Error",
		},
		{
			name: "2xx with success false",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, http.StatusOK, false, nil, "Finisher not found")
			},
			wantStatus:  http.StatusOK,
			wantMessage: "Finisher not found",
		},
		{
			name: "2xx with garbage",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "ok")
			},
			wantStatus:  http.StatusOK,
			wantMessage: "malformed response",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, _ := newTestClient(t, tt.handler)

			err := c.Delete(context.Background(), "abc")
			require.ErrorIs(t, err, ErrRejected)
			var rejected *RejectedError
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, tt.wantStatus, rejected.Status)
			assert.Equal(t, tt.wantMessage, rejected.Message)
			assert.NotErrorIs(t, err, ErrTimeout)
		})
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	m := metrics.NewViewer(prometheus.NewRegistry())
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}, WithTimeout(50*time.Millisecond), WithMetrics(m))

	start := time.Now()
	err := c.Delete(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrRejected)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("delete", "timeout")))
}

func TestCallerCancellation(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := c.Delete(ctx, "abc")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url)
	require.NoError(t, err)
	_, err = c.FetchAll(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestReorderAndFetch(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/reorder":
			var body struct {
				Order []string `json:"order"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, []string{"c", "a", "b"}, body.Order)
			writeEnvelope(w, http.StatusOK, true, nil, "Finishers reordered successfully")
		case "/api/results":
			writeEnvelope(w, http.StatusOK, true, []map[string]any{
				{"id": "c", "bibNumber": "3", "finishTime": "00:59.00", "rank": 1},
				{"id": "a", "bibNumber": "1", "rank": 2},
			}, "")
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	require.NoError(t, c.Reorder(ctx, []string{"c", "a", "b"}))

	records, err := c.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(59000), *records[0].FinishTimeMs)
	assert.Nil(t, records[1].FinishTimeMs)
}

func TestLoginKeepsToken(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/admin/login":
			writeEnvelope(w, http.StatusOK, true, map[string]string{"token": "fresh"}, "")
		case "/api/clock/start":
			if r.Header.Get("Authorization") != "Bearer fresh" {
				writeEnvelope(w, http.StatusUnauthorized, false, nil, "authorization token is required")
				return
			}
			writeEnvelope(w, http.StatusOK, true, map[string]any{"raceStartTime": 1700000000.0, "status": "running", "offset": 0}, "")
		}
	})
	ctx := context.Background()

	_, err := c.Clock(ctx, "start")
	require.ErrorIs(t, err, ErrRejected)

	token, err := c.Login(ctx, "pw")
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)

	st, err := c.Clock(ctx, "start")
	require.NoError(t, err)
	assert.Equal(t, "running", st.Status)
}

func TestUploadRoster(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "start.csv", header.Filename)
		data, _ := io.ReadAll(file)
		assert.True(t, strings.HasPrefix(string(data), "bibNumber,racerName"))
		writeEnvelope(w, http.StatusOK, true, map[string]any{"added": 2, "updated": 0}, "Roster uploaded")
	})

	summary, err := c.UploadRoster(context.Background(), "start.csv", strings.NewReader("bibNumber,racerName\n1,Ada\n2,Alan\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Added)
}

func TestStreamURL(t *testing.T) {
	t.Parallel()

	c, err := New("http://race.local:8080/")
	require.NoError(t, err)
	assert.Equal(t, "http://race.local:8080/api/stream", c.StreamURL())
}

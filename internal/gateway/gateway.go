// Package gateway sends mutation commands to the authority and reports its
// acknowledgement. An acknowledgement only says whether the command was
// accepted; ranked state changes arrive through the push channel.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/intermernet/finishline/internal/finisher"
	"github.com/intermernet/finishline/internal/metrics"
	"github.com/intermernet/finishline/internal/raceclock"
	"github.com/intermernet/finishline/internal/timecodec"
)

// DefaultTimeout bounds every command.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes bounds how much of a response is read.
const maxResponseBytes = 8 << 20

var (
	// ErrTimeout means the authority did not answer within the command timeout.
	ErrTimeout = errors.New("gateway timeout")
	// ErrUnreachable means the command could not be delivered.
	ErrUnreachable = errors.New("gateway unreachable")
	// ErrRejected means the authority refused the command. Use errors.As
	// with *RejectedError for the status and message.
	ErrRejected = errors.New("gateway rejected")
)

// RejectedError carries the authority's refusal.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected (%d): %s", e.Status, e.Message)
}

// Is makes errors.Is(err, ErrRejected) hold.
func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// Client talks to one authority. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	timeout    time.Duration
	metrics    *metrics.Viewer
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithTimeout sets the per-command timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithToken sets the admin bearer token.
func WithToken(token string) Option { return func(c *Client) { c.token = token } }

// WithMetrics records command outcomes.
func WithMetrics(m *metrics.Viewer) Option { return func(c *Client) { c.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// New creates a client for the authority at baseURL, e.g. http://host:8080.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid authority URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid authority URL %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetToken replaces the bearer token, e.g. after Login.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// StreamURL is the push channel endpoint of this authority.
func (c *Client) StreamURL() string {
	return c.baseURL.JoinPath("api", "stream").String()
}

// --- Commands ---

// Create reports a finish. The draft is validated locally first; a
// *finisher.ValidationError never reaches the authority.
func (c *Client) Create(ctx context.Context, draft finisher.Draft) (finisher.Record, error) {
	if err := draft.Validate(); err != nil {
		return finisher.Record{}, c.invalid("create", err)
	}
	var rec finisher.Record
	err := c.do(ctx, "create", http.MethodPost, jsonBody(draft), &rec, "api", "results")
	return rec, err
}

// Update edits a finisher.
func (c *Client) Update(ctx context.Context, id string, patch finisher.Patch) (finisher.Record, error) {
	if id == "" {
		return finisher.Record{}, c.invalid("update", &finisher.ValidationError{Field: "id", Reason: "is required"})
	}
	if patch.IsEmpty() {
		return finisher.Record{}, c.invalid("update", &finisher.ValidationError{Field: "body", Reason: "no fields to update"})
	}
	if err := patch.Validate(); err != nil {
		return finisher.Record{}, c.invalid("update", err)
	}
	var rec finisher.Record
	err := c.do(ctx, "update", http.MethodPut, jsonBody(patch), &rec, "api", "results", id)
	return rec, err
}

// Delete removes a finisher.
func (c *Client) Delete(ctx context.Context, id string) error {
	if id == "" {
		return c.invalid("delete", &finisher.ValidationError{Field: "id", Reason: "is required"})
	}
	return c.do(ctx, "delete", http.MethodDelete, nil, nil, "api", "results", id)
}

// Reorder asks the authority to persist ids as the manual order.
func (c *Client) Reorder(ctx context.Context, ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return c.invalid("reorder", &finisher.ValidationError{Field: "order", Reason: "contains an empty id"})
		}
		if _, dup := seen[id]; dup {
			return c.invalid("reorder", &finisher.ValidationError{Field: "order", Reason: fmt.Sprintf("id %s appears twice", id)})
		}
		seen[id] = struct{}{}
	}
	body := map[string][]string{"order": ids}
	return c.do(ctx, "reorder", http.MethodPost, jsonBody(body), nil, "api", "reorder")
}

// FetchAll performs the full fetch.
func (c *Client) FetchAll(ctx context.Context) ([]finisher.Record, error) {
	var records []finisher.Record
	if err := c.do(ctx, "fetch", http.MethodGet, nil, &records, "api", "results"); err != nil {
		return nil, err
	}
	if records == nil {
		records = []finisher.Record{}
	}
	return records, nil
}

// Login exchanges the admin password for a token and keeps it for later
// commands.
func (c *Client) Login(ctx context.Context, password string) (string, error) {
	if password == "" {
		return "", &finisher.ValidationError{Field: "password", Reason: "is required"}
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, "login", http.MethodPost, jsonBody(map[string]string{"password": password}), &out, "api", "admin", "login"); err != nil {
		return "", err
	}
	c.SetToken(out.Token)
	return out.Token, nil
}

// ClockStatus reads the race clock.
func (c *Client) ClockStatus(ctx context.Context) (raceclock.State, error) {
	var st raceclock.State
	err := c.do(ctx, "clock_status", http.MethodGet, nil, &st, "api", "clock", "status")
	return st, err
}

// Clock runs a clock action: start, stop or reset.
func (c *Client) Clock(ctx context.Context, action string) (raceclock.State, error) {
	switch action {
	case "start", "stop", "reset":
	default:
		return raceclock.State{}, &finisher.ValidationError{Field: "action", Reason: "must be start, stop or reset"}
	}
	var st raceclock.State
	err := c.do(ctx, "clock_"+action, http.MethodPost, nil, &st, "api", "clock", action)
	return st, err
}

// EditClock sets the race clock to read text (MM:SS.cc) now.
func (c *Client) EditClock(ctx context.Context, text string) (raceclock.State, error) {
	if _, err := timecodec.Parse(text); err != nil {
		return raceclock.State{}, c.invalid("clock_edit", &finisher.ValidationError{Field: "time", Reason: err.Error()})
	}
	var st raceclock.State
	err := c.do(ctx, "clock_edit", http.MethodPost, jsonBody(map[string]string{"time": text}), &st, "api", "clock", "edit")
	return st, err
}

// RosterSummary is the authority's report of a roster upload.
type RosterSummary struct {
	Added   int      `json:"added"`
	Updated int      `json:"updated"`
	Errors  []string `json:"errors"`
}

// UploadRoster sends a CSV start list.
func (c *Client) UploadRoster(ctx context.Context, filename string, csvData io.Reader) (RosterSummary, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return RosterSummary{}, err
	}
	if _, err := io.Copy(part, csvData); err != nil {
		return RosterSummary{}, fmt.Errorf("read roster: %w", err)
	}
	if err := mw.Close(); err != nil {
		return RosterSummary{}, err
	}

	var summary RosterSummary
	err = c.do(ctx, "roster", http.MethodPost, &requestBody{r: &buf, contentType: mw.FormDataContentType()}, &summary, "api", "roster", "upload")
	return summary, err
}

// --- Transport ---

type requestBody struct {
	r           io.Reader
	contentType string
	err         error
}

func jsonBody(v any) *requestBody {
	b, err := json.Marshal(v)
	return &requestBody{r: bytes.NewReader(b), contentType: "application/json", err: err}
}

// do sends one command and decodes the "data" field of a successful
// envelope into out.
func (c *Client) do(ctx context.Context, op, method string, body *requestBody, out any, path ...string) (err error) {
	start := time.Now()
	defer func() { c.observe(op, err, time.Since(start)) }()

	var reader io.Reader
	if body != nil {
		if body.err != nil {
			return fmt.Errorf("encode %s: %w", op, body.err)
		}
		reader = body.r
	}

	cmdCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cmdCtx, method, c.baseURL.JoinPath(path...).String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", body.contentType)
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(ctx, cmdCtx, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.transportError(ctx, cmdCtx, err)
	}

	// A non-2xx status is a refusal whatever the body says.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		if gjson.ValidBytes(payload) {
			msg = gjson.GetBytes(payload, "message").String()
		}
		if msg == "" {
			msg = strings.TrimSpace(http.StatusText(resp.StatusCode))
		}
		return &RejectedError{Status: resp.StatusCode, Message: msg}
	}

	if !gjson.ValidBytes(payload) {
		return &RejectedError{Status: resp.StatusCode, Message: "malformed response"}
	}
	env := gjson.ParseBytes(payload)
	if !env.Get("success").Bool() {
		msg := env.Get("message").String()
		if msg == "" {
			msg = "command not accepted"
		}
		return &RejectedError{Status: resp.StatusCode, Message: msg}
	}
	if out != nil {
		if data := env.Get("data"); data.Exists() {
			if err := json.Unmarshal([]byte(data.Raw), out); err != nil {
				return &RejectedError{Status: resp.StatusCode, Message: "malformed response data: " + err.Error()}
			}
		}
	}
	return nil
}

// transportError classifies a failure to complete the exchange. A cancelled
// caller context is returned as is.
func (c *Client) transportError(parent, cmdCtx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// invalid records a command refused locally and returns err.
func (c *Client) invalid(op string, err error) error {
	c.observe(op, err, 0)
	return err
}

func (c *Client) observe(op string, err error, elapsed time.Duration) {
	outcome := outcomeOf(err)
	if c.metrics != nil {
		c.metrics.Commands.WithLabelValues(op, outcome).Inc()
	}
	if err != nil {
		c.logger.Debug("Command failed", "op", op, "outcome", outcome, "elapsed", elapsed, "error", err)
	}
}

func outcomeOf(err error) string {
	var validation *finisher.ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &validation):
		return "invalid"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	default:
		return "error"
	}
}

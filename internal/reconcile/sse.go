package reconcile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Stream yields broadcast payloads in receipt order.
type Stream interface {
	// Next blocks until the next payload arrives or the stream fails.
	Next() ([]byte, error)
	Close() error
}

// Dialer opens the push channel. Dial returns once the subscription is live,
// so that a full fetch taken afterwards cannot miss a broadcast.
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

// SSEDialer subscribes to the authority's Server-Sent Events stream.
type SSEDialer struct {
	URL    string
	Client *http.Client

	// IdleTimeout closes a stream that has been silent for this long. The
	// authority sends a heartbeat comment well within it. Zero disables it.
	IdleTimeout time.Duration
}

// Dial implements Dialer.
func (d SSEDialer) Dial(ctx context.Context) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream responded %s", resp.Status)
	}

	body := resp.Body
	if d.IdleTimeout > 0 {
		body = newIdleReader(body, d.IdleTimeout)
	}
	return NewSSEStream(body), nil
}

type sseStream struct {
	r      *bufio.Reader
	closer io.Closer
}

// NewSSEStream parses an event stream from rc. Comment lines are skipped;
// multi-line data fields are joined with newlines.
func NewSSEStream(rc io.ReadCloser) Stream {
	return &sseStream{r: bufio.NewReader(rc), closer: rc}
}

func (s *sseStream) Next() ([]byte, error) {
	var (
		data []byte
		have bool
	)
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if have {
				return data, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		value = strings.TrimPrefix(value, " ")
		if have {
			data = append(data, '\n')
		}
		data = append(data, value...)
		have = true
	}
}

func (s *sseStream) Close() error {
	return s.closer.Close()
}

// idleReader closes the underlying body when no bytes arrive within d, which
// unblocks a pending Read with an error.
type idleReader struct {
	rc    io.ReadCloser
	d     time.Duration
	timer *time.Timer
	once  sync.Once
}

func newIdleReader(rc io.ReadCloser, d time.Duration) *idleReader {
	ir := &idleReader{rc: rc, d: d}
	ir.timer = time.AfterFunc(d, func() { ir.rc.Close() })
	return ir
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.rc.Read(p)
	if n > 0 {
		ir.timer.Reset(ir.d)
	}
	return n, err
}

func (ir *idleReader) Close() error {
	var err error
	ir.once.Do(func() {
		ir.timer.Stop()
		err = ir.rc.Close()
	})
	return err
}

// Package upload posts encoded clips to the identification endpoint and
// classifies the response.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rbright/resound/internal/recorder"
	"github.com/rbright/resound/internal/version"
)

const maxResponseBytes = 1 << 20

// ErrResponseTooLarge is attached to an HTTPError when the body exceeds the
// read cap.
var ErrResponseTooLarge = errors.New("response body exceeds 1 MiB")

// Kind classifies an upload attempt.
type Kind string

const (
	KindSuccess    Kind = "success"
	KindHTTPError  Kind = "http_error"
	KindTimeout    Kind = "timeout"
	KindParseError Kind = "parse_error"
)

// MatchRecord is the identification service's answer for a clip.
type MatchRecord struct {
	Artist string `json:"artist"`
	Title  string `json:"title"`
	Year   string `json:"year"`
}

// UnmarshalJSON accepts the year as either a string or a number.
func (m *MatchRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		Artist string          `json:"artist"`
		Title  string          `json:"title"`
		Year   json.RawMessage `json:"year"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Artist = raw.Artist
	m.Title = raw.Title
	m.Year = ""

	year := bytes.TrimSpace(raw.Year)
	if len(year) == 0 || bytes.Equal(year, []byte("null")) {
		return nil
	}
	if year[0] == '"' {
		return json.Unmarshal(year, &m.Year)
	}
	var n json.Number
	if err := json.Unmarshal(year, &n); err != nil {
		return fmt.Errorf("year: %w", err)
	}
	m.Year = n.String()
	return nil
}

// Outcome is the classified result of one upload attempt.
type Outcome struct {
	Kind    Kind
	Match   MatchRecord
	Status  int
	Body    string
	Err     error
	Latency time.Duration
}

// Success wraps a parsed match.
func Success(match MatchRecord) Outcome {
	return Outcome{Kind: KindSuccess, Match: match, Status: http.StatusOK}
}

// HTTPError records a non-200 response. Status 0 means the request never
// produced a response.
func HTTPError(status int, body string, err error) Outcome {
	return Outcome{Kind: KindHTTPError, Status: status, Body: body, Err: err}
}

// Timeout records an abandoned request.
func Timeout() Outcome {
	return Outcome{Kind: KindTimeout}
}

// ParseError records a 200 response whose body is not a match record.
func ParseError(body string) Outcome {
	return Outcome{Kind: KindParseError, Status: http.StatusOK, Body: body}
}

// Doer is the HTTP transport subset used by Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client uploads clips to a fixed endpoint URL.
type Client struct {
	url    string
	doer   Doer
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithDoer replaces the default http.Client.
func WithDoer(doer Doer) Option {
	return func(c *Client) {
		if doer != nil {
			c.doer = doer
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient constructs a Client posting to url.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:  url,
		doer: &http.Client{},
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload makes a single POST attempt. The request is abandoned when timeout
// elapses first; a non-positive timeout disables the deadline.
func (c *Client) Upload(ctx context.Context, clip recorder.Clip, timeout time.Duration) Outcome {
	started := c.now()
	outcome := c.upload(ctx, clip, timeout)
	outcome.Latency = c.now().Sub(started)

	if c.logger != nil {
		attrs := []any{
			"clip_id", clip.ID,
			"outcome", string(outcome.Kind),
			"status", outcome.Status,
			"latency_ms", outcome.Latency.Milliseconds(),
		}
		if outcome.Err != nil {
			attrs = append(attrs, "error", outcome.Err.Error())
		}
		c.logger.Info("upload finished", attrs...)
	}
	return outcome
}

func (c *Client) upload(ctx context.Context, clip recorder.Clip, timeout time.Duration) Outcome {
	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url, bytes.NewReader(clip.Data))
	if err != nil {
		return HTTPError(0, "", fmt.Errorf("build request: %w", err))
	}
	contentType := clip.ContentType
	if contentType == "" {
		contentType = recorder.ContentTypeWAV
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.doer.Do(req)
	if err != nil {
		if timedOut(ctx, reqCtx, err) {
			return Timeout()
		}
		return HTTPError(0, "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		if timedOut(ctx, reqCtx, err) {
			return Timeout()
		}
		return HTTPError(resp.StatusCode, string(raw), fmt.Errorf("read response: %w", err))
	}
	if len(raw) > maxResponseBytes {
		return HTTPError(resp.StatusCode, string(raw[:maxResponseBytes]), ErrResponseTooLarge)
	}
	body := string(raw)

	if resp.StatusCode != http.StatusOK {
		return HTTPError(resp.StatusCode, body, nil)
	}

	match, ok := parseMatch(raw)
	if !ok {
		return ParseError(body)
	}
	return Success(match)
}

// timedOut reports whether err came from the upload deadline rather than the
// caller's own cancellation.
func timedOut(parent context.Context, reqCtx context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	return errors.Is(reqCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
}

func parseMatch(raw []byte) (MatchRecord, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return MatchRecord{}, false
	}
	var match MatchRecord
	if err := json.Unmarshal(trimmed, &match); err != nil {
		return MatchRecord{}, false
	}
	match.Artist = strings.TrimSpace(match.Artist)
	match.Title = strings.TrimSpace(match.Title)
	match.Year = strings.TrimSpace(match.Year)
	if match.Artist == "" || match.Title == "" {
		return MatchRecord{}, false
	}
	return match, true
}

// StatusText renders a status code for logs; 0 means no response.
func StatusText(status int) string {
	if status == 0 {
		return "no response"
	}
	return strconv.Itoa(status) + " " + http.StatusText(status)
}

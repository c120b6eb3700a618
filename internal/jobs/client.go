package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"
)

const maxErrorBody = 4 << 10

// Client talks to the cloud synthesis server.
type Client struct {
	base    *url.URL
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithRequestsPerMinute limits outbound requests. Zero or less disables
// the limit.
func WithRequestsPerMinute(rpm int) ClientOption {
	return func(cl *Client) {
		if rpm <= 0 {
			cl.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		cl.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(l *log.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// NewClient returns a client for the server at baseURL. apiKey may be empty
// when the server does not require one.
func NewClient(baseURL, apiKey string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrNotConfigured
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, baseURL)
	}

	c := &Client{
		base:    u,
		apiKey:  apiKey,
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit creates an asynchronous render job and returns its id.
func (c *Client) Submit(ctx context.Context, req Request) (string, error) {
	req, err := normalize(req)
	if err != nil {
		return "", err
	}

	var resp struct {
		JobID string `json:"jobId"`
	}
	if err := c.do(ctx, http.MethodPost, c.endpoint("jobs"), req, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("%w: missing jobId", ErrDecoding)
	}
	c.logger.Debug("Submitted job", "job", resp.JobID, "file", req.FileID, "chars", len(req.Text))
	return resp.JobID, nil
}

// Status fetches the current state of a job.
func (c *Client) Status(ctx context.Context, jobID string) (Job, error) {
	if jobID == "" || strings.ContainsAny(jobID, "/?#") {
		return Job{}, fmt.Errorf("%w: job id %q", ErrInvalidURL, jobID)
	}

	var job Job
	if err := c.do(ctx, http.MethodGet, c.endpoint("jobs", jobID), nil, &job); err != nil {
		return Job{}, err
	}
	if !job.Status.Known() {
		return Job{}, fmt.Errorf("%w: unknown status %q", ErrDecoding, job.Status)
	}
	if job.ID == "" {
		job.ID = jobID
	}
	return job, nil
}

// Voices lists the voices available for locale, or all voices when locale
// is empty.
func (c *Client) Voices(ctx context.Context, locale string) ([]Voice, error) {
	u := c.endpoint("getVoices")
	if locale != "" {
		tag, err := ParseLocale(locale)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("language", tag)
		u.RawQuery = q.Encode()
	}

	var resp struct {
		Success bool    `json:"success"`
		Voices  []Voice `json:"voices"`
	}
	if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Voices, nil
}

// Generate renders text synchronously and returns where the audio lives.
func (c *Client) Generate(ctx context.Context, req Request) (Generated, error) {
	req, err := normalize(req)
	if err != nil {
		return Generated{}, err
	}

	var resp struct {
		Success bool `json:"success"`
		Generated
	}
	if err := c.do(ctx, http.MethodPost, c.endpoint("generateAudioWithTTS"), req, &resp); err != nil {
		return Generated{}, err
	}
	if !resp.Success || resp.AudioURL == "" {
		return Generated{}, fmt.Errorf("%w: %s", ErrNoAudio, resp.Message)
	}
	return resp.Generated, nil
}

// ParseLocale validates a BCP 47 locale and returns its canonical form.
func ParseLocale(locale string) (string, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocale, locale)
	}
	return tag.String(), nil
}

func normalize(req Request) (Request, error) {
	if strings.TrimSpace(req.Text) == "" {
		return req, ErrEmptyText
	}
	if req.Locale != "" {
		tag, err := ParseLocale(req.Locale)
		if err != nil {
			return req, err
		}
		req.Locale = tag
	}
	return req, nil
}

func (c *Client) endpoint(elem ...string) *url.URL {
	return c.base.JoinPath(elem...)
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &ServerError{Code: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	return nil
}

// errorMessage pulls the "error" field out of a JSON error body, falling
// back to the raw text.
func errorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		if body.Message != "" {
			return body.Error + ": " + body.Message
		}
		return body.Error
	}
	return strings.TrimSpace(string(data))
}

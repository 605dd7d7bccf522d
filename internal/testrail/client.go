// Package testrail is a thin client for the TestRail REST API v2, limited to
// the run-lifecycle and result-submission endpoints this module needs.
package testrail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"pkt.systems/pslog"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxAttempts = 5
)

// Client talks to a single TestRail installation. It is safe for concurrent
// use; all state mutated per call is local.
type Client struct {
	baseURL     string
	username    string
	apiKey      string
	httpClient  *http.Client
	logger      pslog.Base
	timeout     time.Duration
	maxAttempts uint64
}

// ClientOption tweaks Client construction.
type ClientOption func(*Client)

// WithHTTPClient injects a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger overrides the default logger.
func WithLogger(logger pslog.Base) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithMaxAttempts caps how many times a transient failure is tried.
func WithMaxAttempts(n uint64) ClientOption {
	return func(c *Client) { c.maxAttempts = n }
}

// NewClient builds a Client for baseURL using basic auth with username and
// API key, the scheme TestRail documents for its v2 API.
func NewClient(baseURL, username, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     trimTrailingSlash(baseURL),
		username:    username,
		apiKey:      apiKey,
		timeout:     defaultTimeout,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.logger == nil {
		c.logger = pslog.New(os.Stdout)
	}
	if c.maxAttempts == 0 {
		c.maxAttempts = 1
	}
	return c
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// AddRun creates a new run in the project. include_all is always false; the
// run carries exactly the mapped cases.
func (c *Client) AddRun(ctx context.Context, projectID, suiteID int, name string, caseIDs []int) (Run, error) {
	endpoint := fmt.Sprintf("add_run/%d", projectID)
	req := addRunRequest{Name: name, SuiteID: suiteID, IncludeAll: false, CaseIDs: caseIDs}
	if req.CaseIDs == nil {
		req.CaseIDs = []int{}
	}
	var run Run
	if err := c.send(ctx, endpoint, req, &run); err != nil {
		return Run{}, err
	}
	c.logger.Debug("run created", "run_id", run.ID, "name", name, "cases", len(caseIDs))
	return run, nil
}

// UpdateRun replaces the run's case list. TestRail semantics: the supplied
// list is the complete set, not a delta.
func (c *Client) UpdateRun(ctx context.Context, runID int, caseIDs []int) (Run, error) {
	endpoint := fmt.Sprintf("update_run/%d", runID)
	var run Run
	if err := c.send(ctx, endpoint, updateRunRequest{CaseIDs: caseIDs}, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// GetRun fetches an existing run, used to validate run reuse.
func (c *Client) GetRun(ctx context.Context, runID int) (Run, error) {
	endpoint := fmt.Sprintf("get_run/%d", runID)
	var run Run
	if err := c.get(ctx, endpoint, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// AddResultForCase submits one result for a case within a run.
func (c *Client) AddResultForCase(ctx context.Context, runID, caseID int, res Result) (CreatedResult, error) {
	endpoint := fmt.Sprintf("add_result_for_case/%d/%d", runID, caseID)
	var created CreatedResult
	if err := c.send(ctx, endpoint, res, &created); err != nil {
		return CreatedResult{}, err
	}
	return created, nil
}

// AddResultsForCases submits a batch of results in one call.
func (c *Client) AddResultsForCases(ctx context.Context, runID int, results []CaseResult) error {
	if len(results) == 0 {
		return nil
	}
	endpoint := fmt.Sprintf("add_results_for_cases/%d", runID)
	return c.send(ctx, endpoint, addResultsRequest{Results: results}, nil)
}

// CloseRun closes the run; closed runs reject further submissions.
func (c *Client) CloseRun(ctx context.Context, runID int) error {
	endpoint := fmt.Sprintf("close_run/%d", runID)
	return c.send(ctx, endpoint, struct{}{}, nil)
}

// AddAttachment uploads a file against a previously created result.
func (c *Client) AddAttachment(ctx context.Context, resultID int, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("attachment", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("add_attachment_to_result/%d", resultID)
	return c.do(ctx, endpoint, buf.Bytes(), w.FormDataContentType(), nil)
}

func (c *Client) send(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", endpoint, err)
	}
	return c.do(ctx, endpoint, body, "application/json", out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	return c.do(ctx, endpoint, nil, "", out)
}

// do runs one API call with exponential backoff on transient failures.
// 429 and 5xx retry, everything else in the 4xx range is permanent, and a
// Retry-After header overrides the next backoff interval.
func (c *Client) do(ctx context.Context, endpoint string, body []byte, contentType string, out any) error {
	var serverHint time.Duration

	op := func() error {
		err := c.doOnce(ctx, endpoint, body, contentType, out, &serverHint)
		if err == nil {
			return nil
		}
		if apiErr, ok := err.(*APIError); ok && !transientStatus(apiErr.StatusCode) {
			return backoff.Permanent(err)
		}
		c.logger.Warn("testrail call failed, retrying", "endpoint", endpoint, "err", err)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0 // attempt count bounds the retry loop

	var policy backoff.BackOff = &hintedBackoff{BackOff: bo, hint: &serverHint}
	policy = backoff.WithMaxRetries(policy, c.maxAttempts-1)
	policy = backoff.WithContext(policy, ctx)

	return backoff.Retry(op, policy)
}

func (c *Client) doOnce(ctx context.Context, endpoint string, body []byte, contentType string, out any, serverHint *time.Duration) error {
	// TestRail routes everything through index.php with the API path in the
	// query string.
	url := fmt.Sprintf("%s/index.php?/api/v2/%s", c.baseURL, endpoint)
	method := http.MethodPost
	var reader io.Reader
	if body == nil {
		method = http.MethodGet
	} else {
		reader = bytes.NewReader(body)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("testrail %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusTooManyRequests {
			*serverHint = retryAfter(resp)
		}
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(excerpt))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// hintedBackoff prefers a server-provided Retry-After interval over the
// computed exponential one. The hint is consumed once.
type hintedBackoff struct {
	backoff.BackOff
	hint *time.Duration
}

func (b *hintedBackoff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if *b.hint > 0 {
		next = *b.hint
		*b.hint = 0
	}
	return next
}

// FormatElapsed renders a duration in TestRail's span notation ("1m 30s").
// Sub-second durations round up to 1s because TestRail rejects zero spans.
func FormatElapsed(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}

// Package connectors is the shared HTTP client for third-party APIs. Calls
// are bounded by a timeout, retried with exponential backoff on transient
// failures and counted per connector.
package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"reaction-commerce/metrics"
)

// Outcomes recorded for each call.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Some APIs (Authorize.Net) prefix JSON bodies with a byte order mark.
var utf8BOM = []byte("\xef\xbb\xbf")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the call may succeed when retried.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Options struct {
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Metrics    *metrics.Registry
	Logger     logrus.FieldLogger
	// BackOff overrides the retry schedule; mainly for tests.
	BackOff func() backoff.BackOff
}

// Client talks JSON to one third-party service.
type Client struct {
	name    string
	opts    Options
	logger  logrus.FieldLogger
	backOff func() backoff.BackOff
}

func New(name string, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	c := &Client{name: name, opts: opts, logger: opts.Logger.WithField("connector", name), backOff: opts.BackOff}
	if c.backOff == nil {
		c.backOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 0
			return b
		}
	}
	return c
}

// Name returns the connector name used in logs and metrics.
func (c *Client) Name() string { return c.name }

type request struct {
	header   http.Header
	user     string
	password string
	basic    bool
	once     bool
}

// RequestOption customizes one call.
type RequestOption func(*request)

func WithBasicAuth(user, password string) RequestOption {
	return func(r *request) {
		r.user, r.password, r.basic = user, password, true
	}
}

func WithHeader(key, value string) RequestOption {
	return func(r *request) { r.header.Set(key, value) }
}

// WithoutRetry sends the request once. Calls that create something on the
// far side (charges, exported orders) must not be repeated after a lost
// response.
func WithoutRetry() RequestOption {
	return func(r *request) { r.once = true }
}

// PostJSON sends body as JSON and decodes the response into out (when non-nil).
func (c *Client) PostJSON(ctx context.Context, url string, body, out interface{}, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPost, url, body, out, opts...)
}

// GetJSON decodes the response of a GET into out.
func (c *Client) GetJSON(ctx context.Context, url string, out interface{}, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodGet, url, nil, out, opts...)
}

// Do performs one logical call, retrying transient failures.
func (c *Client) Do(ctx context.Context, method, url string, body, out interface{}, opts ...RequestOption) error {
	req := &request{header: http.Header{}}
	for _, opt := range opts {
		opt(req)
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return errors.Wrap(err, "encode request")
		}
	}

	attempt := 0
	op := func() error {
		attempt++
		err := c.once(ctx, method, url, payload, req, out)
		if err == nil {
			return nil
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		c.logger.WithError(err).WithField("attempt", attempt).Warn("connector call failed")
		return err
	}

	retries := c.opts.MaxRetries
	if req.once {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(c.backOff(), uint64(retries)), ctx)
	err := backoff.Retry(op, policy)
	if err != nil {
		c.opts.Metrics.ObserveConnector(c.name, OutcomeFailure)
		c.logger.WithError(err).WithFields(logrus.Fields{"method": method, "url": url}).Error("connector call gave up")
		return errors.Wrapf(err, "%s %s", c.name, method)
	}
	c.opts.Metrics.ObserveConnector(c.name, OutcomeSuccess)
	return nil
}

func (c *Client) once(ctx context.Context, method, url string, payload []byte, r *request, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return backoff.Permanent(errors.Wrap(err, "build request"))
	}
	for k, v := range r.header {
		httpReq.Header[k] = v
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if r.basic {
		httpReq.SetBasicAuth(r.user, r.password)
	}

	resp, err := c.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return backoff.Permanent(errors.Wrap(err, "decode response"))
	}
	return nil
}

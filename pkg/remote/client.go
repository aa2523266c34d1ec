package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/observability"
	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Client talks to one remote over HTTP
type Client struct {
	log         logrus.FieldLogger
	httpClient  *http.Client
	baseURL     string
	host        string
	debug       bool
	timeout     time.Duration
	pushTimeout time.Duration
	retry       RetryConfig
	limiter     *rate.Limiter
}

var (
	_ Sink      = (*Client)(nil)
	_ Changelog = (*Client)(nil)
)

// NewClient creates a client. When creds is set every request is
// authenticated with an OAuth2 client credentials token.
func NewClient(ctx context.Context, log logrus.FieldLogger, cfg *Config, creds *Credentials) (*Client, error) {
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote URL: %w", err)
	}

	var transport http.RoundTripper = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     cfg.KeepAlive,
	}

	baseURL := strings.TrimRight(cfg.URL, "/")

	if creds != nil {
		transport = creds.Transport(ctx, baseURL, transport)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		log:         log.WithFields(logrus.Fields{"component": "remote", "remote": u.Host}),
		httpClient:  &http.Client{Transport: transport},
		baseURL:     baseURL,
		host:        u.Host,
		debug:       cfg.Debug,
		timeout:     cfg.Timeout,
		pushTimeout: cfg.PushTimeout,
		retry:       cfg.Retry,
		limiter:     rate.NewLimiter(limit, burst),
	}, nil
}

// URL returns the base URL of the remote
func (c *Client) URL() string {
	return c.baseURL
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()

	return nil
}

// Push sends a batch as POST /<model> with body {"_data": [...]}
func (c *Client) Push(ctx context.Context, model string, rows []Payload) ([]Result, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(envelope[Payload]{Data: rows})
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch of %s: %w", model, err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/"+model, body, c.pushTimeout)
	if err != nil {
		return nil, fmt.Errorf("push %s: %w", model, err)
	}

	var out envelope[Result]
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("failed to parse push response of %s: %w", model, err)
	}

	if len(out.Data) != len(rows) {
		return nil, fmt.Errorf("%w: sent %d, got %d", ErrResultMismatch, len(rows), len(out.Data))
	}

	return out.Data, nil
}

// Get returns one row as GET /<model>/<id>
func (c *Client) Get(ctx context.Context, model, id string) (map[string]any, error) {
	resp, err := c.do(ctx, http.MethodGet, "/"+model+"/"+url.PathEscape(id), nil, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", model, id, err)
	}

	var row map[string]any
	if err := decode(resp, &row); err != nil {
		return nil, fmt.Errorf("failed to parse %s/%s: %w", model, id, err)
	}

	return row, nil
}

// Changes reads the changelog as GET /<model>/:changes/<cid>?limit=N
func (c *Client) Changes(ctx context.Context, model string, cid int64, limit int) ([]Change, error) {
	path := fmt.Sprintf("/%s/:changes/%d", model, cid)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("changes of %s: %w", model, err)
	}

	var out envelope[Change]
	if err := decode(resp, &out); err != nil {
		return nil, fmt.Errorf("failed to parse changes of %s: %w", model, err)
	}

	return out.Data, nil
}

// Wipe removes every row of a model as DELETE /<model>/:wipe
func (c *Client) Wipe(ctx context.Context, model string) error {
	if _, err := c.do(ctx, http.MethodDelete, "/"+model+"/:wipe", nil, c.timeout); err != nil {
		return fmt.Errorf("wipe %s: %w", model, err)
	}

	return nil
}

// do sends a request, retrying transient failures with exponential backoff
func (c *Client) do(ctx context.Context, method, path string, body []byte, timeout time.Duration) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialInterval
	b.MaxInterval = c.retry.MaxInterval

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.retry.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			reason := string(errcode.Of(err))
			observability.RecordRetry(c.host, reason)
			c.log.WithError(err).WithFields(logrus.Fields{
				"method": method,
				"path":   path,
				"next":   next,
			}).Warn("Retrying remote request")
		}),
	}

	if c.retry.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(c.retry.MaxElapsed))
	}

	return backoff.Retry(ctx, func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := c.send(ctx, method, path, body, timeout)
		if err == nil {
			return resp, nil
		}

		if !Transient(err) {
			return nil, backoff.Permanent(err)
		}

		var se *StatusError
		if errors.As(err, &se) && se.RetryAfter > 0 {
			return nil, fmt.Errorf("%w: %w", backoff.RetryAfter(int(se.RetryAfter.Seconds())), err)
		}

		return nil, err
	}, opts...)
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, timeout time.Duration) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.debug {
		logBody := string(body)
		if len(logBody) > 1000 {
			logBody = logBody[:1000] + "... (truncated)"
		}

		c.log.WithFields(logrus.Fields{"method": method, "path": path, "body": logBody}).Debug("Sending remote request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, errcode.New(errcode.InvalidToken, fmt.Errorf("token request failed: %w", err))
		}

		return nil, errcode.New(errcode.ServiceNotAvailable, fmt.Errorf("request failed: %w", err))
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.WithError(closeErr).Debug("Failed to close response body")
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errcode.New(errcode.ServiceNotAvailable, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp, data)
	}

	return data, nil
}

func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	return dec.Decode(v)
}

package platform

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultImportTimeout  = 60 * time.Second
	DefaultRateLimit      = 2.0 // requests per second

	DefaultIndexPollAttempts = 10
	DefaultIndexPollDelay    = time.Second
)

// ClientOptions tunes a Client. Zero values pick the defaults above.
type ClientOptions struct {
	RequestTimeout time.Duration
	ImportTimeout  time.Duration
	RateLimit      float64 // requests per second, <0 disables limiting
	Insecure       bool
	HTTPClient     *http.Client // overrides the transport, used by tests

	// Waiting for a new document's first segment to be indexed.
	IndexPollAttempts int
	IndexPollDelay    time.Duration
}

// Client is a shared HTTP client used by the knowledge and console APIs.
// Every call waits on the rate limiter and carries its own timeout.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	importTO   time.Duration

	mu    sync.RWMutex
	token string
}

// NewClient creates a Client for baseURL authenticated with a bearer token.
// The token may be empty and set later with SetToken.
func NewClient(baseURL, token string, opts ClientOptions) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.ImportTimeout <= 0 {
		opts.ImportTimeout = DefaultImportTimeout
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = DefaultRateLimit
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	hc := opts.HTTPClient
	if hc == nil {
		transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
		if opts.Insecure {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		hc = &http.Client{Transport: transport}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: hc,
		limiter:    limiter,
		timeout:    opts.RequestTimeout,
		importTO:   opts.ImportTimeout,
		token:      token,
	}
}

// SetToken replaces the bearer token used for subsequent calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Get performs an authenticated GET request and returns the response body.
func (c *Client) Get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	body, _, err := c.do(ctx, http.MethodGet, path, params, nil, c.timeout)
	return body, err
}

// GetJSON performs an authenticated GET and unmarshals the response into dest.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, dest interface{}) error {
	body, err := c.Get(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return payloadError("GET "+path, fmt.Errorf("parsing response: %w", err))
	}
	return nil
}

// Post performs an authenticated POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, payload interface{}) ([]byte, int, error) {
	return c.do(ctx, http.MethodPost, path, nil, payload, c.timeout)
}

// PostJSON posts payload and unmarshals the response into dest when dest is non-nil.
func (c *Client) PostJSON(ctx context.Context, path string, payload, dest interface{}) error {
	body, _, err := c.Post(ctx, path, payload)
	if err != nil {
		return err
	}
	return decodeInto("POST "+path, body, dest)
}

// PostLong is Post with the longer import timeout.
func (c *Client) PostLong(ctx context.Context, path string, payload, dest interface{}) error {
	body, _, err := c.do(ctx, http.MethodPost, path, nil, payload, c.importTO)
	if err != nil {
		return err
	}
	return decodeInto("POST "+path, body, dest)
}

func decodeInto(op string, body []byte, dest interface{}) error {
	if dest == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return payloadError(op, fmt.Errorf("parsing response: %w", err))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, payload interface{}, timeout time.Duration) ([]byte, int, error) {
	op := method + " " + path

	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return nil, 0, payloadError(op, fmt.Errorf("marshaling body: %w", err))
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, transportError(op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	var bodyReader io.Reader
	if data != nil {
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, 0, payloadError(op, fmt.Errorf("creating request: %w", err))
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, transportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, transportError(op, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, resp.StatusCode, statusError(op, resp.StatusCode, body)
	}
	return body, resp.StatusCode, nil
}

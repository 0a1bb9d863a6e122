package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/akazakov/vpnmanager/internal/common"
	"github.com/sethvargo/go-retry"
)

const apiKeyHeader = "X-API-Key"

// Options tune the client's retry and timeout behavior.
type Options struct {
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

func defaultOptions() Options {
	return Options{
		Timeout: 20 * time.Second,
		Retries: 3,
		Backoff: 1 * time.Second,
	}
}

// Client talks HTTP to one server's control plane. Transient failures
// (transport errors and 5xx responses) are retried with linear backoff; the
// transport is rebuilt before each retry because a failed request may have
// left a connection in an unusable state. 4xx responses fail immediately.
type Client struct {
	baseURL string
	apiKey  string
	opts    Options

	mu   sync.Mutex
	http *http.Client
}

// NewClient builds a session for the control plane at ip:port.
func NewClient(ip string, port int, apiKey string, opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = defaultOptions().Timeout
	}
	if opts.Retries == 0 {
		opts.Retries = defaultOptions().Retries
	}
	if opts.Backoff == 0 {
		opts.Backoff = defaultOptions().Backoff
	}
	c := &Client{
		baseURL: fmt.Sprintf("http://%s:%d", ip, port),
		apiKey:  apiKey,
		opts:    opts,
	}
	c.rebuildSession()
	return c
}

// NewFactory adapts NewClient to the Factory signature with fixed options.
func NewFactory(opts Options) Factory {
	return func(ip string, port int, apiKey string) API {
		return NewClient(ip, port, apiKey, opts)
	}
}

func (c *Client) rebuildSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.http != nil {
		c.http.CloseIdleConnections()
	}
	c.http = &http.Client{Timeout: c.opts.Timeout}
}

func (c *Client) session() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.http
}

// Close releases the transport. The client must not be used afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.http != nil {
		c.http.CloseIdleConnections()
		c.http = nil
	}
}

// linearBackoff waits attempt × base before each retry.
func linearBackoff(base time.Duration) retry.Backoff {
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * base, false
	})
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// request performs one logical call with the retry budget applied. The
// response body is returned for 2xx statuses.
func (c *Client) request(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var payload []byte
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return nil, err
		}
	}

	var respBody []byte
	b := retry.WithMaxRetries(uint64(c.opts.Retries), linearBackoff(c.opts.Backoff))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set(apiKeyHeader, c.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.session().Do(req)
		if err != nil {
			c.rebuildSession()
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			c.rebuildSession()
			return retry.RetryableError(err)
		}

		switch {
		case resp.StatusCode >= 500:
			c.rebuildSession()
			return retry.RetryableError(&statusError{code: resp.StatusCode, body: string(body)})
		case resp.StatusCode >= 400:
			return &statusError{code: resp.StatusCode, body: string(body)}
		}

		respBody = body
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", common.ErrProvisioningFailure, method, path, err)
	}
	return respBody, nil
}

func (c *Client) CreateClient(ctx context.Context, name string, usePassword bool) (string, error) {
	body, err := c.request(ctx, http.MethodPost, "/clients", map[string]any{
		"name":         name,
		"use_password": usePassword,
	})
	if err != nil {
		return "", err
	}

	var out struct {
		ConfigPath string `json:"config_path"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: decoding create response: %v", common.ErrProvisioningFailure, err)
	}
	return out.ConfigPath, nil
}

func (c *Client) DownloadConfig(ctx context.Context, name string) ([]byte, error) {
	return c.request(ctx, http.MethodGet, "/clients/"+url.PathEscape(name)+"/config", nil)
}

func (c *Client) RevokeClient(ctx context.Context, name string) error {
	_, err := c.request(ctx, http.MethodDelete, "/clients/"+url.PathEscape(name), nil)
	return err
}

func (c *Client) SuspendClient(ctx context.Context, name string) error {
	_, err := c.request(ctx, http.MethodPost, "/clients/"+url.PathEscape(name)+"/suspend", nil)
	return err
}

func (c *Client) UnsuspendClient(ctx context.Context, name string) error {
	_, err := c.request(ctx, http.MethodPost, "/clients/"+url.PathEscape(name)+"/unsuspend", nil)
	return err
}

func (c *Client) ListBlocked(ctx context.Context) ([]string, error) {
	body, err := c.request(ctx, http.MethodGet, "/clients/blocked", nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		BlockedClients []string `json:"blocked_clients"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decoding blocked list: %v", common.ErrProvisioningFailure, err)
	}
	return out.BlockedClients, nil
}

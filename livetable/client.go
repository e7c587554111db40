/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package livetable keeps a local copy of the shared ledger in step with a
// remote live table store.
package livetable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Seednode/tierbox/ledger"
)

const (
	TokenHeader = "x-admin-token"

	// maxResponse bounds how much of a store response is read.
	maxResponse = 1 << 20
)

var ErrUnauthorized = errors.New("livetable: missing or invalid admin token")

// NetworkError reports a failed or rejected request to the store.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Status != 0 && e.Op == http.MethodPut:
		return fmt.Sprintf("Unable to save live table (%d)", e.Status)
	case e.Status != 0:
		return fmt.Sprintf("Live table request failed (%d)", e.Status)
	default:
		return fmt.Sprintf("live table %s: %v", e.Op, e.Err)
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// Client talks to a live table store over HTTP.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	log      *zap.Logger
	now      func() time.Time

	fetches singleflight.Group
}

// NewClient returns a client for the store at endpoint. The token is sent
// only when non-empty. A nil httpClient uses http.DefaultClient.
func NewClient(endpoint, token string, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		endpoint: endpoint,
		token:    token,
		http:     httpClient,
		log:      log,
		now:      time.Now,
	}
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) newRequest(ctx context.Context, method string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint, body)
	if err != nil {
		return nil, &NetworkError{Op: method, Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set(TokenHeader, c.token)
	}

	return req, nil
}

// FetchRemote reads the shared ledger. Concurrent calls share one request,
// which is bounded by the HTTP client timeout rather than by any one caller,
// so a caller giving up early does not fail the others.
func (c *Client) FetchRemote(ctx context.Context) (ledger.LiveTable, error) {
	results := c.fetches.DoChan("fetch", func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return ledger.Default(), &NetworkError{Op: http.MethodGet, Err: ctx.Err()}
	case res := <-results:
		if res.Err != nil {
			return ledger.Default(), res.Err
		}

		if res.Shared {
			c.log.Debug("shared live table fetch", zap.String("endpoint", c.endpoint))
		}

		return res.Val.(ledger.LiveTable), nil
	}
}

func (c *Client) fetch(ctx context.Context) (ledger.LiveTable, error) {
	req, err := c.newRequest(ctx, http.MethodGet, nil)
	if err != nil {
		return ledger.Default(), err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ledger.Default(), &NetworkError{Op: http.MethodGet, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ledger.Default(), &NetworkError{Op: http.MethodGet, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return ledger.Default(), &NetworkError{Op: http.MethodGet, Err: err}
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return ledger.Default(), &NetworkError{Op: http.MethodGet, Err: fmt.Errorf("invalid response: %w", err)}
	}

	return ledger.Sanitize(raw, c.now()), nil
}

// SaveRemote replaces the shared ledger with a sanitized copy of t and
// returns what the store kept.
func (c *Client) SaveRemote(ctx context.Context, t ledger.LiveTable) (ledger.LiveTable, error) {
	sanitized := ledger.Sanitize(t, c.now())

	body, err := json.Marshal(sanitized)
	if err != nil {
		return sanitized, &NetworkError{Op: http.MethodPut, Err: err}
	}

	req, err := c.newRequest(ctx, http.MethodPut, bytes.NewReader(body))
	if err != nil {
		return sanitized, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return sanitized, &NetworkError{Op: http.MethodPut, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return sanitized, &NetworkError{Op: http.MethodPut, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return sanitized, nil
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return sanitized, nil
	}

	return ledger.Sanitize(raw, c.now()), nil
}

// watchURL maps the store endpoint onto its websocket feed.
func (c *Client) watchURL() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	return u.String(), nil
}

// Watch calls fn with every ledger the store broadcasts until ctx is done or
// the connection drops.
func (c *Client) Watch(ctx context.Context, fn func(ledger.LiveTable)) error {
	target, err := c.watchURL()
	if err != nil {
		return &NetworkError{Op: "watch", Err: err}
	}

	header := http.Header{}
	if c.token != "" {
		header.Set(TokenHeader, c.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return &NetworkError{Op: "watch", Status: resp.StatusCode, Err: err}
		}
		return &NetworkError{Op: "watch", Err: err}
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	conn.SetReadLimit(maxResponse)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &NetworkError{Op: "watch", Err: err}
		}

		fn(ledger.SanitizeJSON(data, c.now()))
	}
}

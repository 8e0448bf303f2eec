package generichttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

// ErrStatus is wrapped by errors for non-2xx responses
var ErrStatus = errors.New("unexpected HTTP status")

// Client talks to a remote route table.  Requests which fail in transport
// or with a 5xx status are retried with exponential backoff; 4xx responses
// are returned immediately.
type Client struct {
	// Addr is the base URL, e.g. http://192.168.100.41:8000/omc/dac
	Addr string

	// HTTP is the client used, http.DefaultClient if nil
	HTTP *http.Client

	// MaxElapsed bounds the total retry time.  Zero uses 3 seconds.
	MaxElapsed time.Duration
}

// NewClient returns a Client for the given base URL
func NewClient(addr string) *Client {
	return &Client{Addr: strings.TrimSuffix(addr, "/")}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

func (c *Client) backoff(ctx context.Context) backoff.BackOff {
	maxElapsed := c.MaxElapsed
	if maxElapsed == 0 {
		maxElapsed = 3 * time.Second
	}
	return backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      maxElapsed,
		Clock:               backoff.SystemClock}, ctx)
}

// Do sends one request to Addr+path and returns the response body
func (c *Client) Do(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	var out []byte
	op := func() error {
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.Addr+path, rdr)
		if err != nil {
			return backoff.Permanent(err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := c.httpClient().Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		out, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode/100 != 2 {
			err = fmt.Errorf("%s %s: %d %s: %w", method, path, resp.StatusCode,
				strings.TrimSpace(string(out)), ErrStatus)
			if resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}
	err := backoff.Retry(op, c.backoff(ctx))
	return out, err
}

// PostJSON encodes v and posts it to path
func (c *Client) PostJSON(ctx context.Context, path string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = c.Do(ctx, http.MethodPost, path, "application/json", b)
	return err
}

// GetJSON decodes the response of a GET to path into v
func (c *Client) GetJSON(ctx context.Context, path string, v interface{}) error {
	b, err := c.Do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

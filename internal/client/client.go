// Package client is a typed HTTP client for the jsondb server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound matches responses with status 404.
	ErrNotFound = errors.New("key not found")
	// ErrConflict matches responses with status 409.
	ErrConflict = errors.New("version conflict")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jsondb: %d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

// Is lets errors.Is match APIErrors against ErrNotFound and ErrConflict.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	}
	return false
}

// Entry is a value read from the server with its version metadata.
type Entry struct {
	Value     json.RawMessage
	Version   uint64
	Timestamp int64
}

// SetOptions carries the optional conflict hints of a write.
type SetOptions struct {
	Version   *int64
	Timestamp *int64
}

// Client talks to one server.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the server at base, e.g. "http://localhost:2000".
func New(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// Get reads key.
func (c *Client) Get(ctx context.Context, key string) (Entry, error) {
	resp, body, err := c.do(ctx, http.MethodGet, "/get", key, nil)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Value: body}
	if v := resp.Header.Get("X-Entry-Version"); v != "" {
		e.Version, _ = strconv.ParseUint(v, 10, 64)
	}
	if ts := resp.Header.Get("X-Entry-Timestamp"); ts != "" {
		e.Timestamp, _ = strconv.ParseInt(ts, 10, 64)
	}
	return e, nil
}

// Set writes value under key. The value is always sent wrapped so that
// objects with their own "value" member round-trip unchanged.
func (c *Client) Set(ctx context.Context, key string, value json.RawMessage, opts SetOptions) error {
	payload := struct {
		Value     json.RawMessage `json:"value"`
		Version   *int64          `json:"version,omitempty"`
		Timestamp *int64          `json:"timestamp,omitempty"`
	}{value, opts.Version, opts.Timestamp}
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encode value")
	}
	_, _, err = c.do(ctx, http.MethodPost, "/set", key, data)
	return err
}

// Delete removes key. It returns an error matching ErrNotFound when the
// key did not exist.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, _, err := c.do(ctx, http.MethodDelete, "/delete", key, nil)
	return err
}

// Keys lists every key known to the server.
func (c *Client) Keys(ctx context.Context) ([]string, error) {
	_, body, err := c.do(ctx, http.MethodGet, "/keys", "", nil)
	if err != nil {
		return nil, err
	}
	var keys []string
	if err := json.Unmarshal(body, &keys); err != nil {
		return nil, errors.Wrap(err, "decode keys")
	}
	return keys, nil
}

func (c *Client) do(ctx context.Context, method, path, key string, body []byte) (*http.Response, []byte, error) {
	target := c.base + path
	if key != "" {
		target += "?key=" + url.QueryEscape(key)
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read %s response", path)
	}
	if resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return resp, nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return resp, data, nil
}

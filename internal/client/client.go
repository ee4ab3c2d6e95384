// Package client talks to an nxcache server.
package client

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
)

var (
	ErrNotFound     = errors.New("nxcache: not found")
	ErrConflict     = errors.New("nxcache: already exists")
	ErrUnauthorized = errors.New("nxcache: unauthorized")
)

// StatusError is returned for any other unexpected status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("nxcache: unexpected status %d: %s", e.Status, e.Body)
}

type Run struct {
	Task      string    `json:"task"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	resp, body, err := c.do(ctx, http.MethodGet, cachePath(key), nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(resp.StatusCode, body)
	}
	return body, nil
}

func (c *Client) Put(ctx context.Context, key string, data []byte) error {
	resp, body, err := c.do(ctx, http.MethodPut, cachePath(key), data, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusAccepted {
		return statusErr(resp.StatusCode, body)
	}
	return nil
}

func (c *Client) StartRun(ctx context.Context, task string) (Run, error) {
	resp, body, err := c.do(ctx, http.MethodPost, runPath(task), nil, nil)
	if err != nil {
		return Run{}, err
	}
	if resp.StatusCode != http.StatusCreated {
		return Run{}, statusErr(resp.StatusCode, body)
	}
	var r Run
	if err := json.Unmarshal(body, &r); err != nil {
		return Run{}, err
	}
	return r, nil
}

func (c *Client) StopRun(ctx context.Context, r Run) error {
	headers := http.Header{}
	headers.Set("X-Run-Token", r.Token)
	resp, body, err := c.do(ctx, http.MethodDelete, runPath(r.Task), nil, headers)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent {
		return statusErr(resp.StatusCode, body)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, data []byte, headers http.Header) (*http.Response, []byte, error) {
	var reader io.Reader
	if data != nil {
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, err
	}
	copyHeaders(req.Header, headers)
	req.Header.Set("Authorization", "Bearer "+c.token)
	if method == http.MethodPut {
		req.ContentLength = int64(len(data))
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func cachePath(key string) string {
	return "/v1/cache/" + url.PathEscape(key)
}

func runPath(task string) string {
	return "/v1/stats/run/" + url.PathEscape(task)
}

func statusErr(status int, body []byte) error {
	switch status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnauthorized:
		return ErrUnauthorized
	}
	return &StatusError{Status: status, Body: strings.TrimSpace(string(body))}
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

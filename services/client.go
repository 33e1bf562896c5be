package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/cast"

	"github.com/warriorguo/stemflow/types"
)

const apiKeyHeader = "Authorization"

// StatusError is returned for a non-2xx collaborator response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	// RetryAfter is read from the Retry-After header, in seconds.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

/**
 * Client is the shared JSON transport of the collaborator clients.
 * It is safe for concurrent use.
 */
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(config *types.ServiceConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// HTTPClient exposes the underlying client for raw transfers.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *Client) URL(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// NewRequest builds a request against the base URL with the api key set.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return nil, errors.Annotate(err, "create request")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, "Bearer "+c.apiKey)
	}
	return req, nil
}

// Do sends the request and fails on a non-2xx status.
// The caller closes the body of the returned response.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Annotatef(err, "%s %s", req.Method, req.URL.Path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{
			Method:     req.Method,
			URL:        req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: time.Duration(cast.ToInt(resp.Header.Get("Retry-After"))) * time.Second,
		}
	}
	return resp, nil
}

// DoJSON sends in as a JSON body and decodes the response into out.
// A nil in sends no body, a nil out discards the response.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Annotate(err, "marshal request")
		}
		body = bytes.NewReader(b)
	}

	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Annotatef(err, "decode response of %s %s", method, path)
	}
	return nil
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == code
	}
	return false
}

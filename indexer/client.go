// Package indexer is the client of the backend indexer api: dApp
// registrations, bonds and covenant params.
package indexer

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

	logger "github.com/sirupsen/logrus"
)

const defaultTimeout = 15 * time.Second

var ErrNoBaseURL = errors.New("indexer api url is not set")

// APIError is the single error shape of every failed indexer call.
// Message is taken from the response body when the backend sent one.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Client is created per request scope, there is no shared instance.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrNoBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}, nil
}

// envelope is how the backend wraps every reply.
type envelope struct {
	Data       json.RawMessage `json:"data"`
	Pagination *Pagination     `json:"pagination,omitempty"`
	Message    string          `json:"message,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Request performs one call. params go to the query string for GET and
// to the JSON body otherwise. When out is not nil the reply is decoded
// into it. Any status but 200 or 202 becomes an *APIError.
func (c *Client) Request(ctx context.Context, method, path, errorMessage string, params interface{}, out interface{}) (int, error) {
	endpoint := c.baseURL + path

	var body io.Reader
	if method == http.MethodGet {
		if q, ok := params.(url.Values); ok && len(q) > 0 {
			endpoint += "?" + q.Encode()
		}
	} else if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return 0, &APIError{Message: errorMessage}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, &APIError{Message: errorMessage}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		logger.WithFields(logger.Fields{"method": method, "path": path}).Warnf("indexer request failed: %v", err)
		return 0, &APIError{Message: errorMessage}
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, &APIError{Status: resp.StatusCode, Message: errorMessage}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		msg := errorMessage
		var env envelope
		if json.Unmarshal(content, &env) == nil {
			if env.Message != "" {
				msg = env.Message
			} else if env.Error != "" {
				msg = env.Error
			}
		}
		logger.WithFields(logger.Fields{"method": method, "path": path, "status": resp.StatusCode}).Debug(msg)
		return resp.StatusCode, &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out != nil && len(content) > 0 {
		if err := json.Unmarshal(content, out); err != nil {
			return resp.StatusCode, &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("%s: %v", errorMessage, err)}
		}
	}
	return resp.StatusCode, nil
}

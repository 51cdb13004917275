// Package broker reads states and history from an ioBroker simple-api
// adapter.
package broker

import (
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
)

const (
	DefaultTimeout = 2 * time.Second

	// history queries ask for everything in the window
	historyCount = 200000
	dateLayout   = "2006-01-02T15:04:05Z"

	// plain values and state objects are small
	maxPlainBody = 64 * 1024
)

var (
	// ErrNotFound is returned for states the broker does not know.
	ErrNotFound = errors.New("state not found")
	// ErrNoTimestamp is returned when a state object carries no "ts".
	ErrNoTimestamp = errors.New("state has no timestamp")
)

// Client talks to one simple-api instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for baseURL, e.g. http://iobroker:8087. A
// timeout of zero uses DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// PlainValue returns the raw state value with surrounding quotes removed.
func (c *Client) PlainValue(ctx context.Context, topic string) (string, error) {
	body, err := c.get(ctx, "/getPlainValue/"+topic, nil)
	if err != nil {
		return "", err
	}
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, maxPlainBody))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", topic, err)
	}

	return strings.Trim(strings.TrimSpace(string(raw)), "\""), nil
}

// PlainFloat returns the state value as a number.
func (c *Client) PlainFloat(ctx context.Context, topic string) (float64, error) {
	value, err := c.PlainValue(ctx, topic)
	if err != nil {
		return 0, err
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", topic, err)
	}
	return f, nil
}

// LastChange returns the time the state was last written, from the
// "ts" field of the state object.
func (c *Client) LastChange(ctx context.Context, topic string) (time.Time, error) {
	body, err := c.get(ctx, "/get/"+topic, nil)
	if err != nil {
		return time.Time{}, err
	}
	defer body.Close()

	var state struct {
		Ts int64 `json:"ts"`
	}
	if err := json.NewDecoder(io.LimitReader(body, maxPlainBody)).Decode(&state); err != nil {
		return time.Time{}, fmt.Errorf("decode %s: %w", topic, err)
	}
	if state.Ts == 0 {
		return time.Time{}, fmt.Errorf("%s: %w", topic, ErrNoTimestamp)
	}

	// ms, the sub-second part is dropped
	return time.Unix(state.Ts/1000, 0).UTC(), nil
}

// History starts a history query for [from, to] and returns the
// response body. The body is a stream of [value, ms] pairs and can be
// large; the caller reads it with a history.SampleScanner and closes it.
func (c *Client) History(ctx context.Context, topic string, from, to time.Time) (io.ReadCloser, error) {
	q := url.Values{}
	q.Set("dateFrom", from.UTC().Format(dateLayout))
	q.Set("dateTo", to.UTC().Format(dateLayout))
	q.Set("count", strconv.Itoa(historyCount))

	return c.get(ctx, "/query/"+topic, q)
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (io.ReadCloser, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}

	return resp.Body, nil
}

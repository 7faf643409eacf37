package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	Logger = logger.GetLogger("admin")
)

// Client is a client of the admin API of a single node. It implements
// lockmgr.ILockManager and gives access to the node's store by user key.
type Client struct {
	config common.ClientConfig
	http   *http.Client
}

// NewClient creates a client for the admin server at config.Endpoint
//
// Usage:
//
//	c, err := client.NewClient(common.ClientConfig{Endpoint: "http://localhost:8080"})
//	if err != nil {
//		return err
//	}
//	value, found, err := c.Get(ctx, "greeting")
func NewClient(config common.ClientConfig) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("no admin endpoint configured")
	}
	if !strings.Contains(config.Endpoint, "://") {
		config.Endpoint = "http://" + config.Endpoint
	}
	if _, err := url.Parse(config.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid admin endpoint %q: %w", config.Endpoint, err)
	}
	config.Endpoint = strings.TrimRight(config.Endpoint, "/")
	if config.Timeout <= 0 {
		config.Timeout = common.DefaultClientTimeout
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}, nil
}

// Endpoint returns the base URL of the admin server
func (c *Client) Endpoint() string {
	return c.config.Endpoint
}

// response is a fully read response
type response struct {
	status int
	header http.Header
	body   []byte
}

// invoke sends a request and reads the response. Reads are repeated up to
// config.Retries times if the server could not be reached.
func (c *Client) invoke(ctx context.Context, method, path string, body []byte, header map[string]string) (*response, error) {
	attempts := 1
	if method == http.MethodGet {
		attempts += c.config.Retries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			Logger.Debugf("Retrying %s %s (%v)", method, path, lastErr)
			select {
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.config.Endpoint+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		for k, v := range header {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
	}
	return nil, fmt.Errorf("%s %s: %w", method, path, lastErr)
}

// errorOf converts an unexpected status to an error
func errorOf(resp *response) error {
	var e common.ErrorResponse
	if err := json.Unmarshal(resp.body, &e); err == nil && e.Err != "" {
		return fmt.Errorf("admin API (status %d): %s", resp.status, e.Err)
	}
	return fmt.Errorf("admin API: unexpected status %d", resp.status)
}

// getJSON reads a JSON document from path into v
func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.invoke(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return errorOf(resp)
	}
	return json.Unmarshal(resp.body, v)
}

// --------------------------------------------------------------------------
// Node Information
// --------------------------------------------------------------------------

// Health returns nil if the node answers its health check
func (c *Client) Health(ctx context.Context) error {
	var health map[string]string
	if err := c.getJSON(ctx, common.AdminRouteHealth, &health); err != nil {
		return err
	}
	if health["status"] != "ok" {
		return fmt.Errorf("node reports status %q", health["status"])
	}
	return nil
}

// Cloud returns the cloud as seen by the node
func (c *Client) Cloud(ctx context.Context) (*common.CloudInfo, error) {
	var info common.CloudInfo
	if err := c.getJSON(ctx, common.AdminRouteCloud, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Stats returns the store counters and timers of the node
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	var stats map[string]any
	if err := c.getJSON(ctx, common.AdminRouteStats, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

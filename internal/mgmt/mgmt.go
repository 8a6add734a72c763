// Package mgmt is a thin client for the RabbitMQ management HTTP API,
// covering the handful of administrative calls the functional tests and the
// grid runner need: virtual host lifecycle, permission grants and queue
// inspection.
package mgmt

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"
)

// Config locates the management endpoint. The zero value is unusable; URL
// must be set.
type Config struct {
	// URL is the API root, e.g. "http://localhost:15672".
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// Client talks to one RabbitMQ management endpoint.
type Client struct {
	http *resty.Client
}

// apiError is the JSON error body the management API returns on failures.
type apiError struct {
	ErrorName string `json:"error"`
	Reason    string `json:"reason"`
}

// New returns a client for the endpoint described by cfg.
func New(cfg Config) *Client {
	if cfg.Username == "" {
		cfg.Username = "guest"
	}
	if cfg.Password == "" {
		cfg.Password = "guest"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	http := resty.New().
		SetBaseURL(cfg.URL).
		SetBasicAuth(cfg.Username, cfg.Password).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{http: http}
}

// Close releases the underlying HTTP client.
func (c *Client) Close() error {
	return c.http.Close()
}

// EnsureVHost creates the virtual host if it does not exist.
func (c *Client) EnsureVHost(ctx context.Context, name string) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetPathParam("name", name).
		SetError(&apiError{}).
		Put("/api/vhosts/{name}")
	if err != nil {
		return fmt.Errorf("creating vhost %q: %w", name, err)
	}
	if res.IsError() {
		return fmt.Errorf("creating vhost %q: %s", name, errReason(res))
	}
	return nil
}

// DeleteVHost removes the virtual host and everything in it. Deleting a
// vhost that does not exist is not an error.
func (c *Client) DeleteVHost(ctx context.Context, name string) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetPathParam("name", name).
		SetError(&apiError{}).
		Delete("/api/vhosts/{name}")
	if err != nil {
		return fmt.Errorf("deleting vhost %q: %w", name, err)
	}
	if res.IsError() && res.StatusCode() != 404 {
		return fmt.Errorf("deleting vhost %q: %s", name, errReason(res))
	}
	return nil
}

// GrantAll gives the user full configure, write and read permissions on the
// virtual host.
func (c *Client) GrantAll(ctx context.Context, vhost, user string) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetPathParam("vhost", vhost).
		SetPathParam("user", user).
		SetBody(map[string]string{"configure": ".*", "write": ".*", "read": ".*"}).
		SetError(&apiError{}).
		Put("/api/permissions/{vhost}/{user}")
	if err != nil {
		return fmt.Errorf("granting %q on vhost %q: %w", user, vhost, err)
	}
	if res.IsError() {
		return fmt.Errorf("granting %q on vhost %q: %s", user, vhost, errReason(res))
	}
	return nil
}

// QueueInfo is the subset of queue state the management API reports that
// callers here care about.
type QueueInfo struct {
	Name      string `json:"name"`
	VHost     string `json:"vhost"`
	Messages  int    `json:"messages"`
	Consumers int    `json:"consumers"`
}

// Queue reports the state of one queue in the virtual host.
func (c *Client) Queue(ctx context.Context, vhost, name string) (*QueueInfo, error) {
	var info QueueInfo
	res, err := c.http.R().
		SetContext(ctx).
		SetPathParam("vhost", vhost).
		SetPathParam("name", name).
		SetResult(&info).
		SetError(&apiError{}).
		Get("/api/queues/{vhost}/{name}")
	if err != nil {
		return nil, fmt.Errorf("inspecting queue %q in vhost %q: %w", name, vhost, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("inspecting queue %q in vhost %q: %s", name, vhost, errReason(res))
	}
	return &info, nil
}

func errReason(res *resty.Response) string {
	if apiErr, ok := res.Error().(*apiError); ok && apiErr.Reason != "" {
		return fmt.Sprintf("%s (HTTP %d)", apiErr.Reason, res.StatusCode())
	}
	return fmt.Sprintf("HTTP %d", res.StatusCode())
}

// Package submit delivers capture artifacts to the downstream handoff
// endpoint.
package submit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/scandesk/capture-agent/internal/capture"
	"github.com/scandesk/capture-agent/internal/config"
	"github.com/scandesk/capture-agent/internal/util"
)

const httpTimeout = 30 * time.Second

// Client posts artifacts to the configured submission endpoint. It satisfies
// capture.Submitter and is safe for concurrent use.
type Client struct {
	mu         sync.RWMutex
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a submission client from the given settings.
func NewClient(cfg config.SubmissionConfig) *Client {
	c := &Client{}
	c.ApplyConfig(cfg)
	return c
}

// ApplyConfig swaps in new submission settings, rebuilding the HTTP client
// and token source.
func (c *Client) ApplyConfig(cfg config.SubmissionConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endpoint = cfg.Endpoint

	timeout := httpTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	baseClient := &http.Client{Timeout: timeout}

	if cfg.TokenURL == "" || cfg.ClientID == "" {
		c.httpClient = baseClient
		return
	}

	conf := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, baseClient)
	c.httpClient = conf.Client(ctx)
	c.httpClient.Timeout = timeout
}

// Submit posts the task's artifact. A non-2xx response is an error; the
// queue decides what to do with it.
func (c *Client) Submit(ctx context.Context, t *capture.Task) error {
	c.mu.RLock()
	endpoint := c.endpoint
	client := c.httpClient
	c.mu.RUnlock()

	if endpoint == "" {
		return fmt.Errorf("no submission endpoint configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(t.Payload.Data))
	if err != nil {
		return util.WrapError("create submit request", err)
	}

	req.Header.Set("Content-Type", t.Payload.ContentType)
	req.Header.Set("X-Capture-ID", t.ID)
	req.Header.Set("X-Capture-Kind", string(t.Payload.Kind))
	req.Header.Set("X-Capture-Timestamp", t.SubmittedAt.UTC().Format(time.RFC3339))
	if t.Payload.Duration > 0 {
		req.Header.Set("X-Capture-Duration-Ms", strconv.FormatInt(t.Payload.Duration.Milliseconds(), 10))
	}

	resp, err := client.Do(req)
	if err != nil {
		return util.WrapError("submit artifact", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("submission rejected with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

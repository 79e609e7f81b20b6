package control

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

	"go.uber.org/zap"
)

var ErrJobNotFound = errors.New("job not found")

// Client is a client for the job API of the control server
type Client struct {
	endpointUrl *url.URL
	log         *zap.Logger
	client      *http.Client
}

// NewClient creates a new control server client
func NewClient(endpoint string, log *zap.Logger) (*Client, error) {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = fmt.Sprintf("http://%s", endpoint)
	}

	endpointUrl, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}

	return &Client{
		endpointUrl: endpointUrl,
		log:         log,
		client:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// SubmitJob creates a job and returns its id
func (c *Client) SubmitJob(ctx context.Context, req SubmitRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal submit request: %w", err)
	}

	var resp SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/bgp-historic-job", bytes.NewReader(data), &resp); err != nil {
		return "", err
	}

	c.log.Debug("submitted job", zap.String("job_id", resp.JobID))
	return resp.JobID, nil
}

func (c *Client) JobStatus(ctx context.Context, id string) (JobResponse, error) {
	var resp JobResponse
	err := c.do(ctx, http.MethodGet, "/api/bgp-historic-job/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) CancelJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/bgp-historic-job/"+url.PathEscape(id), nil, nil)
}

// WaitJob polls the job every interval until it is terminal. onProgress, if
// set, is called whenever the status string changes.
func (c *Client) WaitJob(ctx context.Context, id string, interval time.Duration, onProgress func(JobResponse)) (JobResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ""
	for {
		resp, err := c.JobStatus(ctx, id)
		if err != nil {
			return JobResponse{}, err
		}

		if resp.Status != last {
			last = resp.Status
			if onProgress != nil {
				onProgress(resp)
			}
		}
		if resp.Terminal() {
			return resp, nil
		}

		select {
		case <-ctx.Done():
			return resp, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpointUrl.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrJobNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Detail != "" {
			return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, e.Detail)
		}
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/SandrickPro/packsched/pkg/models"
	"github.com/SandrickPro/packsched/pkg/retry"
)

// Client is the typed HTTP client used by the CLI.
type Client struct {
	baseURL string
	http    *http.Client
	retry   retry.Config
}

// NewClient creates a client for the given server URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		retry:   retry.DefaultConfig(),
	}
}

// SubmitJob submits a job and returns the created record.
func (c *Client) SubmitJob(ctx context.Context, req *models.JobRequest) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodPost, "/jobs", req, &job, false); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches one job.
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &job, true); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs lists jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	path := "/jobs"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var jobs []*models.Job
	if err := c.do(ctx, http.MethodGet, path, nil, &jobs, true); err != nil {
		return nil, err
	}
	return jobs, nil
}

// CancelJob cancels a pending or scheduled job.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(id), nil, nil, false)
}

// ListDecisions fetches recent placement decisions.
func (c *Client) ListDecisions(ctx context.Context, limit int) ([]*models.SchedulingDecision, error) {
	path := fmt.Sprintf("/decisions?limit=%d", limit)
	var decisions []*models.SchedulingDecision
	if err := c.do(ctx, http.MethodGet, path, nil, &decisions, true); err != nil {
		return nil, err
	}
	return decisions, nil
}

// RegisterNode adds a node to the cluster.
func (c *Client) RegisterNode(ctx context.Context, reg *models.NodeRegistration) (*models.Node, error) {
	var node models.Node
	if err := c.do(ctx, http.MethodPost, "/nodes", reg, &node, false); err != nil {
		return nil, err
	}
	return &node, nil
}

// ListNodes lists every registered node.
func (c *Client) ListNodes(ctx context.Context) ([]*models.Node, error) {
	var nodes []*models.Node
	if err := c.do(ctx, http.MethodGet, "/nodes", nil, &nodes, true); err != nil {
		return nil, err
	}
	return nodes, nil
}

// DrainNode cordons (or with undo, uncordons) a node.
func (c *Client) DrainNode(ctx context.Context, id string, undo bool) error {
	path := "/nodes/" + url.PathEscape(id) + "/drain"
	if undo {
		path += "?undo=true"
	}
	return c.do(ctx, http.MethodPost, path, nil, nil, false)
}

// RemoveNode cordons a node permanently.
func (c *Client) RemoveNode(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/nodes/"+url.PathEscape(id), nil, nil, false)
}

// FetchMetrics returns the raw Prometheus exposition from the server.
func (c *Client) FetchMetrics(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/metrics", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch metrics: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch metrics: unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// do performs one request. Idempotent requests are retried with backoff;
// mutations are attempted once.
func (c *Client) do(ctx context.Context, method, path string, body, out any, idempotent bool) error {
	attempt := func() error {
		var reader io.Reader
		if body != nil {
			encoded, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("encode request: %w", err)
			}
			reader = bytes.NewReader(encoded)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			var apiErr struct {
				Error string `json:"error"`
			}
			if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
				return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
			}
			return fmt.Errorf("%s %s: unexpected status %s", method, path, resp.Status)
		}
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	if !idempotent {
		return attempt()
	}
	return retry.Do(ctx, c.retry, attempt)
}

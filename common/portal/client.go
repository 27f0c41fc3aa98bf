package portal

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

	"github.com/opendata-etl/publisher/common/cache"
	"github.com/opendata-etl/publisher/common/config"
	"github.com/opendata-etl/publisher/common/logger"
	"github.com/tidwall/gjson"
)

// Status is the portal-side state of a dataset. Only StatusIdle admits a
// new management command.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "error"
)

// Common errors returned by the portal driver
var (
	// ErrDatasetUnknown is returned when a public id does not resolve
	ErrDatasetUnknown = errors.New("dataset unknown to portal")
	// ErrWaitTimeout is returned when a dataset does not return to idle
	// within the configured budget
	ErrWaitTimeout = errors.New("timed out waiting for dataset to become idle")
)

// StatusError is a non-2xx response from the management API, carried with
// its body for diagnosis. A 401/403 means the API key was rejected.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("portal returned %d for %s: %s", e.StatusCode, e.URL, e.Body)
}

// Client drives the portal's management HTTP API for one dataset at a time.
// Public-id-to-handle resolutions are cached for the duration of the run.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	handles *cache.Cache
	poll    time.Duration
	timeout time.Duration
	log     *logger.Logger
}

// New creates a new portal client
func New(cfg config.PortalConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		handles: cache.New(),
		poll:    cfg.PollInterval,
		timeout: cfg.WaitTimeout,
		log:     log,
	}
}

// Resolve maps a public dataset id to the portal's internal handle.
// Returns ErrDatasetUnknown if the catalog has no such dataset.
func (c *Client) Resolve(ctx context.Context, publicID string) (string, error) {
	if uid, ok := c.handles.Get(publicID); ok {
		return uid, nil
	}

	where := url.QueryEscape(fmt.Sprintf("datasetid='%s'", publicID))
	body, err := c.request(ctx, http.MethodGet, "/api/management/v2/datasets?where="+where, nil)
	if err != nil {
		return "", fmt.Errorf("catalog lookup for %s: %w", publicID, err)
	}

	uid := gjson.GetBytes(body, "datasets.0.uid").String()
	if uid == "" {
		return "", fmt.Errorf("%w: %s", ErrDatasetUnknown, publicID)
	}

	c.log.Debug("resolved dataset handle", "dataset_id", publicID, "uid", uid)
	c.handles.Set(publicID, uid, time.Hour)

	return uid, nil
}

// DatasetStatus reads the portal-side status of a dataset handle
func (c *Client) DatasetStatus(ctx context.Context, uid string) (Status, error) {
	body, err := c.request(ctx, http.MethodGet, "/api/management/v2/datasets/"+uid+"/status", nil)
	if err != nil {
		return "", fmt.Errorf("read status of %s: %w", uid, err)
	}

	var status struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return "", fmt.Errorf("decode status response: %w", err)
	}

	return Status(status.Status), nil
}

// WaitIdle polls the dataset's status at a fixed interval until it is idle
// again. A dataset observed in the error state returns without failing:
// the portal owns that state and the next command will surface its own
// error. Exceeding the budget returns ErrWaitTimeout.
func (c *Client) WaitIdle(ctx context.Context, uid string) error {
	deadline := time.Now().Add(c.timeout)

	for {
		status, err := c.DatasetStatus(ctx, uid)
		if err != nil {
			return err
		}

		switch status {
		case StatusIdle:
			return nil
		case StatusFailed:
			c.log.Warn("dataset is in error state, leaving it to the portal",
				"uid", uid,
			)
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s after %s (last status %q)", ErrWaitTimeout, uid, c.timeout, status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.poll):
		}
	}
}

// Publish resolves the public id and issues the publish command, waiting
// for the dataset to return to idle. With unpublishFirst the dataset is
// unpublished (and waited on) before publishing, for portal operations that
// require a forced republish path.
func (c *Client) Publish(ctx context.Context, publicID string, unpublishFirst bool) error {
	uid, err := c.Resolve(ctx, publicID)
	if err != nil {
		return err
	}

	if unpublishFirst {
		c.log.Info("unpublishing dataset before republish", "dataset_id", publicID)
		if err := c.command(ctx, uid, "unpublish"); err != nil {
			return err
		}
		if err := c.WaitIdle(ctx, uid); err != nil {
			return err
		}
	}

	c.log.Info("publishing dataset", "dataset_id", publicID, "uid", uid)
	if err := c.command(ctx, uid, "publish"); err != nil {
		return err
	}

	if err := c.WaitIdle(ctx, uid); err != nil {
		return err
	}

	c.log.Info("dataset published", "dataset_id", publicID)
	return nil
}

// Unpublish resolves the public id and takes the dataset offline
func (c *Client) Unpublish(ctx context.Context, publicID string) error {
	uid, err := c.Resolve(ctx, publicID)
	if err != nil {
		return err
	}

	c.log.Info("unpublishing dataset", "dataset_id", publicID, "uid", uid)
	if err := c.command(ctx, uid, "unpublish"); err != nil {
		return err
	}

	return c.WaitIdle(ctx, uid)
}

// AccessPolicy reads the dataset's is_restricted flag
func (c *Client) AccessPolicy(ctx context.Context, publicID string) (bool, error) {
	uid, err := c.Resolve(ctx, publicID)
	if err != nil {
		return false, err
	}

	body, err := c.request(ctx, http.MethodGet, "/api/management/v2/datasets/"+uid+"/security", nil)
	if err != nil {
		return false, fmt.Errorf("read access policy of %s: %w", publicID, err)
	}

	var policy struct {
		IsRestricted bool `json:"is_restricted"`
	}
	if err := json.Unmarshal(body, &policy); err != nil {
		return false, fmt.Errorf("decode access policy: %w", err)
	}

	return policy.IsRestricted, nil
}

// SetAccessPolicy writes the is_restricted flag if it differs from what the
// portal already reports, optionally publishing afterwards. The portal
// treats any policy write as a mutation that forces a republish, so no-op
// writes are suppressed. Returns whether anything was written.
func (c *Client) SetAccessPolicy(ctx context.Context, publicID string, restricted, thenPublish bool) (bool, error) {
	current, err := c.AccessPolicy(ctx, publicID)
	if err != nil {
		return false, err
	}

	if current == restricted {
		c.log.Info("access policy already set, no change",
			"dataset_id", publicID,
			"restricted", restricted,
		)
		return false, nil
	}

	uid, err := c.Resolve(ctx, publicID)
	if err != nil {
		return false, err
	}

	payload := map[string]bool{"is_restricted": restricted}
	if _, err := c.request(ctx, http.MethodPut, "/api/management/v2/datasets/"+uid+"/security", payload); err != nil {
		return false, fmt.Errorf("write access policy of %s: %w", publicID, err)
	}

	c.log.Info("access policy updated",
		"dataset_id", publicID,
		"restricted", restricted,
	)

	if thenPublish {
		if err := c.Publish(ctx, publicID, false); err != nil {
			return true, err
		}
	}

	return true, nil
}

func (c *Client) command(ctx context.Context, uid, verb string) error {
	_, err := c.request(ctx, http.MethodPut, "/api/management/v2/datasets/"+uid+"/"+verb, nil)
	if err != nil {
		return fmt.Errorf("%s %s: %w", verb, uid, err)
	}
	return nil
}

// request executes one management API call. Non-2xx responses become a
// *StatusError with the body attached.
func (c *Client) request(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Apikey "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("portal request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read portal response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			URL:        req.URL.String(),
			Body:       string(body),
		}
	}

	return body, nil
}

/**
 * @description
 * This package provides a client for the cloud compute provisioning API. It
 * encapsulates the logic for making authenticated HTTP requests to the compute
 * endpoints, parsing responses, and polling long-running operations to
 * completion.
 *
 * Instance start/stop/delete are slow remote operations (seconds to tens of
 * seconds); each returns an Operation handle that callers pass to
 * WaitForOperation. A timed-out operation is reported as ErrOperationTimeout
 * and must be treated as retryable, not fatal.
 */
package computeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrOperationTimeout is returned by WaitForOperation when an operation is
// still in flight past the caller's deadline.
var ErrOperationTimeout = errors.New("compute operation still in flight")

// Client is a client for the compute provisioning API.
type Client struct {
	BaseURL      string
	APIKey       string
	HTTPClient   *http.Client
	PollInterval time.Duration
}

// NewClient creates a new compute API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		PollInterval: 2 * time.Second,
	}
}

// Operation is the handle for a long-running compute operation.
type Operation struct {
	ID     string `json:"id"`
	Status string `json:"status"` // 'PENDING', 'RUNNING', 'DONE'
	Error  string `json:"error,omitempty"`
}

// Done reports whether the operation reached a terminal state.
func (o *Operation) Done() bool { return o.Status == "DONE" }

// AttachedDisk describes a disk attached to an instance.
type AttachedDisk struct {
	DeviceName string `json:"device_name"`
	Source     string `json:"source"`
	Boot       bool   `json:"boot"`
}

// Instance is the live state of a compute instance.
type Instance struct {
	Name   string         `json:"name"`
	Zone   string         `json:"zone"`
	Status string         `json:"status"`
	Disks  []AttachedDisk `json:"disks"`
}

// APIError represents an error response from the compute API.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("compute api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a compute API 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute compute api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if decodeErr := json.NewDecoder(resp.Body).Decode(apiErr); decodeErr != nil {
			apiErr.Message = resp.Status
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode compute api response: %w", err)
		}
	}
	return nil
}

// StartInstance begins starting a stopped instance.
func (c *Client) StartInstance(ctx context.Context, project, zone, instance string) (*Operation, error) {
	var op Operation
	path := fmt.Sprintf("/projects/%s/zones/%s/instances/%s/start", project, zone, instance)
	if err := c.do(ctx, http.MethodPost, path, nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// StopInstance begins stopping a running instance.
func (c *Client) StopInstance(ctx context.Context, project, zone, instance string) (*Operation, error) {
	var op Operation
	path := fmt.Sprintf("/projects/%s/zones/%s/instances/%s/stop", project, zone, instance)
	if err := c.do(ctx, http.MethodPost, path, nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// DeleteInstance begins deleting an instance. The boot disk is not deleted
// with it and must be removed separately via DeleteDisk.
func (c *Client) DeleteInstance(ctx context.Context, project, zone, instance string) (*Operation, error) {
	var op Operation
	path := fmt.Sprintf("/projects/%s/zones/%s/instances/%s", project, zone, instance)
	if err := c.do(ctx, http.MethodDelete, path, nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// DeleteDisk begins deleting a standalone disk.
func (c *Client) DeleteDisk(ctx context.Context, project, zone, disk string) (*Operation, error) {
	var op Operation
	path := fmt.Sprintf("/projects/%s/zones/%s/disks/%s", project, zone, disk)
	if err := c.do(ctx, http.MethodDelete, path, nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// GetInstance reads the live state of an instance, including attached disks.
func (c *Client) GetInstance(ctx context.Context, project, zone, instance string) (*Instance, error) {
	var inst Instance
	path := fmt.Sprintf("/projects/%s/zones/%s/instances/%s", project, zone, instance)
	if err := c.do(ctx, http.MethodGet, path, nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// WaitForOperation polls an operation until it is done, the operation fails, or
// ctx expires. Callers bound ctx with their provisioning timeout; expiry maps
// to ErrOperationTimeout so the sweep can retry on its next tick.
func (c *Client) WaitForOperation(ctx context.Context, project, zone string, op *Operation) error {
	if op.Done() {
		if op.Error != "" {
			return &APIError{StatusCode: http.StatusInternalServerError, Message: op.Error}
		}
		return nil
	}

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	path := fmt.Sprintf("/projects/%s/zones/%s/operations/%s", project, zone, op.ID)
	for {
		select {
		case <-ctx.Done():
			return ErrOperationTimeout
		case <-ticker.C:
			var current Operation
			if err := c.do(ctx, http.MethodGet, path, nil, &current); err != nil {
				if ctx.Err() != nil {
					return ErrOperationTimeout
				}
				return err
			}
			if current.Done() {
				if current.Error != "" {
					return &APIError{StatusCode: http.StatusInternalServerError, Message: current.Error}
				}
				return nil
			}
		}
	}
}

// Package remote implements the transfer client for the authoritative
// property service.
//
// The client speaks the service's wire representation — a `{data: ...}`
// JSON envelope around property objects with ISO-8601 timestamps — and
// translates it to the local shape before anything else sees it: epoch
// milliseconds for timestamps, local enum values with explicit fallbacks
// when the wire omits a status.
//
// Create is NOT idempotent on the server side: a create retried after a
// lost response may produce a duplicate remote entity. Callers own that
// trade-off (see the orchestrator's push phase).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/annk/fieldsync/internal/record"
)

// TransferError is a failed exchange with the remote service. StatusCode is
// zero for transport-level failures that never produced a response.
type TransferError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransferError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: remote service returned status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Client performs list/create/update calls against the remote service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a transfer client for the given base URL
// (e.g. https://product.annk.info/api/realestate/v1). apiKey may be empty
// for deployments without key auth.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ListRemote fetches the full remote property list.
func (c *Client) ListRemote(ctx context.Context) ([]*record.RemoteProperty, error) {
	var envelope struct {
		Data []apiProperty `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/properties", nil, &envelope); err != nil {
		return nil, err
	}

	result := make([]*record.RemoteProperty, 0, len(envelope.Data))
	for i := range envelope.Data {
		result = append(result, envelope.Data[i].toRemoteProperty())
	}
	return result, nil
}

// Create submits a new record and returns the server's representation,
// including the server-assigned id and timestamps.
//
// The body carries only the fields the remote schema knows about; frontage
// and local photo payloads never leave the device this way. New records
// always enter the remote pipeline as New.
func (c *Client) Create(ctx context.Context, rec *record.PropertyRecord) (*record.RemoteProperty, error) {
	body := bodyFromRecord(rec)
	body.PipelineStatus = string(record.PipelineNew)

	var envelope struct {
		Data apiProperty `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/properties", body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data.toRemoteProperty(), nil
}

// Update submits the shared fields of an already-confirmed record and
// returns the server's updated representation.
func (c *Client) Update(ctx context.Context, remoteID string, rec *record.PropertyRecord) (*record.RemoteProperty, error) {
	body := bodyFromRecord(rec)
	body.PipelineStatus = string(rec.PipelineStatus)
	if body.PipelineStatus == "" {
		body.PipelineStatus = string(record.PipelineNew)
	}

	var envelope struct {
		Data apiProperty `json:"data"`
	}
	if err := c.do(ctx, http.MethodPatch, "/properties/"+remoteID, body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data.toRemoteProperty(), nil
}

// do performs one request/response exchange and decodes the envelope.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &TransferError{Op: op, Err: fmt.Errorf("failed to encode request body: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &TransferError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransferError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &TransferError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransferError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return nil
}

// Package posclient is the HTTP client for the POS backend. Every error it
// returns carries one of the faults classes.
package posclient

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

	"github.com/marcus/posync/internal/faults"
	"github.com/marcus/posync/internal/models"
)

// Sentinel errors for HTTP statuses callers may want to tell apart
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// Request headers
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderTerminalID     = "X-Terminal-ID"
)

// Client talks to the POS backend
type Client struct {
	BaseURL    string
	APIKey     string
	TerminalID string
	HTTP       *http.Client
}

// New creates a client. timeout bounds each request; callers may set a
// tighter deadline through the context.
func New(baseURL, apiKey, terminalID string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		TerminalID: terminalID,
		HTTP:       &http.Client{Timeout: timeout},
	}
}

// HealthResponse is the response from GET /healthz
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthCheck hits /healthz to verify the backend is reachable
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Probe reports whether the backend answered its health check
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.HealthCheck(ctx)
	return err
}

// --- Reads ---

// FetchCollection downloads the full server copy of key as records
func (c *Client) FetchCollection(ctx context.Context, key models.CollectionKey) ([]models.Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	switch key.Entity {
	case models.EntityProducts:
		if err := c.do(ctx, http.MethodGet, "/products", "", nil, &raw); err != nil {
			return nil, err
		}
	case models.EntityClients:
		if err := c.do(ctx, http.MethodGet, "/clients", "", nil, &raw); err != nil {
			return nil, err
		}
	case models.EntityCategories:
		if err := c.do(ctx, http.MethodGet, "/categories", "", nil, &raw); err != nil {
			return nil, err
		}
	case models.EntityInventorySessions:
		var session json.RawMessage
		if err := c.do(ctx, http.MethodGet, "/inventory-sessions/"+url.PathEscape(key.Scope), "", nil, &session); err != nil {
			return nil, err
		}
		raw = json.RawMessage("[" + string(session) + "]")
	}

	return splitRecords(key, raw)
}

// splitRecords turns a JSON array into records keyed by each element's id
func splitRecords(key models.CollectionKey, raw json.RawMessage) ([]models.Record, error) {
	var elems []json.RawMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %w", faults.ErrServerUnavailable, key, err)
		}
	}

	records := make([]models.Record, 0, len(elems))
	for i, elem := range elems {
		var head struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(elem, &head); err != nil {
			return nil, fmt.Errorf("%w: decode %s[%d]: %w", faults.ErrServerUnavailable, key, i, err)
		}
		records = append(records, models.Record{ID: head.ID, Data: elem})
	}
	return records, nil
}

// --- Writes ---

// SaleRequest is the body of POST /sales
type SaleRequest struct {
	Token string `json:"token"`
	models.Sale
}

// InventoryLineRequest is the body of POST /inventory-sessions/{id}/items
type InventoryLineRequest struct {
	Token string `json:"token"`
	models.InventoryCountLine
}

// CreateSale posts a sale. token is the idempotency key; posting the same
// token again returns the original receipt with Replayed set.
func (c *Client) CreateSale(ctx context.Context, token string, sale models.Sale) (*models.SaleReceipt, error) {
	var receipt models.SaleReceipt
	body := SaleRequest{Token: token, Sale: sale}
	if err := c.do(ctx, http.MethodPost, "/sales", token, body, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// AddInventoryLine posts one count line to an inventory session under token
func (c *Client) AddInventoryLine(ctx context.Context, sessionID, token string, line models.InventoryCountLine) (*models.InventoryLineResult, error) {
	var result models.InventoryLineResult
	body := InventoryLineRequest{Token: token, InventoryCountLine: line}
	path := "/inventory-sessions/" + url.PathEscape(sessionID) + "/items"
	if err := c.do(ctx, http.MethodPost, path, token, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Submit sends a queued operation with its own token
func (c *Client) Submit(ctx context.Context, op models.PendingOperation) error {
	payload, err := op.Decode()
	if err != nil {
		// A payload that cannot be decoded will never be accepted.
		return fmt.Errorf("%w: %w", faults.ErrServerRejected, err)
	}
	switch p := payload.(type) {
	case *models.SalePayload:
		_, err = c.CreateSale(ctx, op.Token, p.Sale)
	case *models.InventoryLinePayload:
		_, err = c.AddInventoryLine(ctx, p.SessionID, op.Token, p.Line)
	default:
		err = fmt.Errorf("%w: no submitter for %T", faults.ErrServerRejected, payload)
	}
	return err
}

// --- HTTP helpers ---

// APIError is an error response from the backend
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d %s", e.Status, e.Code)
}

// Unwrap exposes the failure class and status sentinel so errors.Is works
// with both faults and this package's sentinels.
func (e *APIError) Unwrap() []error {
	errs := []error{classOf(e.Status)}
	switch e.Status {
	case http.StatusUnauthorized:
		errs = append(errs, ErrUnauthorized)
	case http.StatusForbidden:
		errs = append(errs, ErrForbidden)
	case http.StatusNotFound:
		errs = append(errs, ErrNotFound)
	}
	return errs
}

// classOf maps an HTTP status to a failure class. Auth failures and
// throttling are treated as temporary: the payload itself was not judged.
func classOf(status int) error {
	switch {
	case status >= 500:
		return faults.ErrServerUnavailable
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests:
		return faults.ErrServerUnavailable
	default:
		return faults.ErrServerRejected
	}
}

type errorEnvelope struct {
	Error APIError `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path, token string, body, result any) error {
	op := method + " " + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if c.TerminalID != "" {
		req.Header.Set(HeaderTerminalID, c.TerminalID)
	}
	if token != "" {
		req.Header.Set(HeaderIdempotencyKey, token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: %w", op, err)
		}
		return faults.Network(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return faults.Network(op+": read response", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var env errorEnvelope
		if json.Unmarshal(respBody, &env) == nil && env.Error.Code != "" {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		} else {
			apiErr.Code = strings.ReplaceAll(strings.ToLower(http.StatusText(resp.StatusCode)), " ", "_")
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return fmt.Errorf("%s: %w", op, apiErr)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%s: %w: unmarshal response: %w", op, faults.ErrServerUnavailable, err)
		}
	}
	return nil
}

// Package transport issues authenticated calls against the marketplace REST API
// and unwraps its {success, data, message} envelopes.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/metrics"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 4 << 20

// TokenSource supplies the bearer token for the current session.
// An empty token means there is no session.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource with a fixed token.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// Config holds the transport configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client wraps the marketplace REST API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *zap.Logger
}

// Envelope is the response body shape used by every endpoint.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// NewClient creates a new marketplace API client.
func NewClient(cfg Config, tokens TokenSource, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("API base URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}, nil
}

// Get issues a GET and decodes the envelope's data into out (may be nil).
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST with an optional JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Patch issues a PATCH with an optional JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPatch, path, body, out)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

// Do performs the request and unwraps the envelope.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) (err error) {
	ctx, span := otel.Tracer("rxsync/transport").Start(ctx, method+" "+path)
	defer func() {
		metrics.RecordTransportCall(method, Class(err))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, Class(err))
		}
		span.End()
	}()

	token := ""
	if c.tokens != nil {
		token = c.tokens.Token()
	}
	if token == "" {
		return &Error{Method: method, Path: path, Kind: ErrUnauthenticated, Message: "no session token"}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	span.SetAttributes(attribute.String("request_id", requestID))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Includes context cancellation; see IsCanceled.
		return &Error{Method: method, Path: path, Kind: ErrTransient, Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Error{Method: method, Path: path, Status: resp.StatusCode, Kind: ErrTransient, Err: err}
	}

	var env Envelope
	decodeErr := json.Unmarshal(raw, &env)

	if kind := classify(resp.StatusCode); kind != nil {
		e := &Error{Method: method, Path: path, Status: resp.StatusCode, Kind: kind}
		if decodeErr == nil {
			e.Message = env.Message
		}
		return e
	}

	if decodeErr != nil {
		return &Error{Method: method, Path: path, Status: resp.StatusCode, Kind: ErrMalformed, Err: decodeErr}
	}

	if !env.Success {
		return &Error{Method: method, Path: path, Status: resp.StatusCode, Kind: ErrRejected, Message: env.Message}
	}

	if out != nil && len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &Error{Method: method, Path: path, Status: resp.StatusCode, Kind: ErrMalformed, Err: err}
		}
	}

	c.logger.Debug("api call completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", requestID),
	)

	return nil
}

// IsCanceled reports whether err stems from context cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// API service for making raw HTTP requests
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/desertthunder/tsundoku/internal/shared"
)

// APIService performs raw JSON requests against one base URL.
//
// It is the transport underneath [AniListService].
type APIService struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIService creates a new API service instance. An empty baseURL targets the AniList GraphQL endpoint.
func NewAPIService(baseURL string, client *http.Client) *APIService {
	if baseURL == "" {
		baseURL = defaultAniListURL
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &APIService{
		baseURL:    baseURL,
		httpClient: client,
	}
}

// BaseURL returns the base every request path is appended to.
func (a *APIService) BaseURL() string {
	return a.baseURL
}

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	IsJSON     bool
	JSONData   any
}

// OK reports whether the response carries a 2xx status.
func (r *APIResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Err classifies a non-2xx response.
//
// 408, 429 and 5xx are transient and wrap [shared.ErrServiceUnavailable]. 401, and 400 with a token error
// (AniList answers "Invalid token" that way), wrap [shared.ErrAuthFailed]. Every other 4xx can never succeed
// on retry and wraps [shared.ErrPermanent].
func (r *APIResponse) Err() error {
	if r.OK() {
		return nil
	}

	msg := fmt.Sprintf("status %d", r.StatusCode)
	detail := errorDetail(r.Body)
	if detail != "" {
		msg += ": " + detail
	}

	switch {
	case r.StatusCode == http.StatusUnauthorized,
		r.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(detail), "token"):
		return fmt.Errorf("%w: %w: %s", shared.ErrAPIRequest, shared.ErrAuthFailed, msg)
	case r.StatusCode == http.StatusRequestTimeout, r.StatusCode == http.StatusTooManyRequests, r.StatusCode >= 500:
		return fmt.Errorf("%w: %w: %s", shared.ErrAPIRequest, shared.ErrServiceUnavailable, msg)
	case r.StatusCode >= 400:
		return fmt.Errorf("%w: %w: %s", shared.ErrAPIRequest, shared.ErrPermanent, msg)
	default:
		return fmt.Errorf("%w: %s", shared.ErrAPIRequest, msg)
	}
}

// Post performs a POST request with the given JSON data and returns the raw response.
func (a *APIService) Post(ctx context.Context, path string, data []byte) (*APIResponse, error) {
	return a.do(ctx, path, data)
}

// PostJSON encodes payload and posts it.
func (a *APIService) PostJSON(ctx context.Context, path string, payload any) (*APIResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return a.Post(ctx, path, data)
}

func (a *APIService) do(ctx context.Context, path string, data []byte) (*APIResponse, error) {
	fullURL := a.baseURL + path

	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	apiResp := &APIResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       raw,
	}

	var jsonData any
	if err := json.Unmarshal(raw, &jsonData); err == nil {
		apiResp.IsJSON = true
		apiResp.JSONData = jsonData
	}

	return apiResp, nil
}

// errorDetail extracts a human readable message from GraphQL or plain JSON error bodies.
func errorDetail(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Errors  []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}

	switch {
	case len(parsed.Errors) > 0:
		return parsed.Errors[0].Message
	case parsed.Message != "":
		return parsed.Message
	default:
		return parsed.Error
	}
}

package engine

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

	"github.com/vantagehq/vantage/backend/internal/perspective"
)

// ErrEndpointMissing is the documented "feature not installed" signal: the
// perspectives API answered 404. It is a mode switch, not an error condition
// the user should see as a failure.
var ErrEndpointMissing = errors.New("engine: perspectives endpoint not installed")

var (
	errMissingBaseURL = errors.New("engine: base url is required")
)

// APIClient is the transport contract the coordinator depends on. The HTTP
// implementation below is the production client; tests substitute fakes.
type APIClient interface {
	FetchSource(ctx context.Context, tableID string) (perspective.Source, error)
	SavePerspective(ctx context.Context, tableID string, request perspective.SaveRequest) (perspective.Perspective, error)
	DeletePerspective(ctx context.Context, tableID, perspectiveID string) error
	ClearRoleDefault(ctx context.Context, tableID, roleID string) error
	CheckFeatures(ctx context.Context, features []string) ([]string, error)
}

// HTTPClientConfig configures the JSON API client.
type HTTPClientConfig struct {
	BaseURL string
	// HTTPClient defaults to http.DefaultClient; timeouts are its concern,
	// the engine imposes none of its own.
	HTTPClient *http.Client
	// Authorization, when set, supplies the Authorization header per request.
	Authorization func() string
}

// HTTPClient talks to the perspectives API over best-effort HTTP JSON.
type HTTPClient struct {
	baseURL       string
	httpClient    *http.Client
	authorization func() string
}

// NewHTTPClient constructs the production API client.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{baseURL: base, httpClient: httpClient, authorization: cfg.Authorization}, nil
}

// FetchSource loads the full perspective source for one table.
func (c *HTTPClient) FetchSource(ctx context.Context, tableID string) (perspective.Source, error) {
	var source perspective.Source
	path := "/perspectives/" + url.PathEscape(tableID)
	if err := c.do(ctx, http.MethodGet, path, nil, &source); err != nil {
		return perspective.Source{}, err
	}
	return source, nil
}

type savePerspectiveResponse struct {
	Perspective perspective.Perspective `json:"perspective"`
}

// SavePerspective stores one perspective and returns the server's copy.
func (c *HTTPClient) SavePerspective(ctx context.Context, tableID string, request perspective.SaveRequest) (perspective.Perspective, error) {
	var response savePerspectiveResponse
	path := "/perspectives/" + url.PathEscape(tableID)
	if err := c.do(ctx, http.MethodPost, path, request, &response); err != nil {
		return perspective.Perspective{}, err
	}
	return response.Perspective, nil
}

// DeletePerspective removes one personal perspective.
func (c *HTTPClient) DeletePerspective(ctx context.Context, tableID, perspectiveID string) error {
	path := "/perspectives/" + url.PathEscape(tableID) + "/" + url.PathEscape(perspectiveID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ClearRoleDefault removes the role-default perspective for one role.
func (c *HTTPClient) ClearRoleDefault(ctx context.Context, tableID, roleID string) error {
	path := "/perspectives/" + url.PathEscape(tableID) + "/roles/" + url.PathEscape(roleID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

type featureCheckRequest struct {
	Features []string `json:"features"`
}

type featureCheckResponse struct {
	Granted []string `json:"granted"`
}

// CheckFeatures returns the granted feature patterns for the session.
func (c *HTTPClient) CheckFeatures(ctx context.Context, features []string) ([]string, error) {
	var response featureCheckResponse
	if err := c.do(ctx, http.MethodPost, "/auth/feature-check", featureCheckRequest{Features: features}, &response); err != nil {
		return nil, err
	}
	return response.Granted, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("engine: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("engine: build %s %s: %w", method, path, err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.authorization != nil {
		if header := c.authorization(); header != "" {
			request.Header.Set("Authorization", header)
		}
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("engine: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return ErrEndpointMissing
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return fmt.Errorf("engine: %s %s: status %d: %s", method, path, response.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(result); err != nil {
		return fmt.Errorf("engine: decode %s %s: %w", method, path, err)
	}
	return nil
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	relay "github.com/thegreataxios/eip3009-relay"
)

// ============================================================================
// HTTP Relay Client
// ============================================================================

// RelayClient talks to a remote relay service
type RelayClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
}

// AuthProvider generates authentication headers for relay requests
type AuthProvider interface {
	GetAuthHeaders(ctx context.Context) (map[string]string, error)
}

// ClientConfig configures the relay client
type ClientConfig struct {
	// URL is the base URL of the relay service
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional)
	AuthProvider AuthProvider

	// Timeout for requests (optional, defaults to 60s)
	Timeout time.Duration
}

// getRetries is the number of attempts for GET endpoints on 429 rate limit errors
const getRetries = 3

// getRetryBaseDelay is the base delay for exponential backoff on retries
const getRetryBaseDelay = 1 * time.Second

// NewRelayClient creates a new relay client
func NewRelayClient(config ClientConfig) *RelayClient {
	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	return &RelayClient{
		url:          strings.TrimSuffix(config.URL, "/"),
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
	}
}

// Domain fetches the signing domain the service relays for
func (c *RelayClient) Domain(ctx context.Context) (*relay.DomainInfo, error) {
	var domain relay.DomainInfo
	if err := c.get(ctx, "/domain", &domain); err != nil {
		return nil, err
	}
	return &domain, nil
}

// AuthorizationState asks the service whether nonce was consumed for authorizer
func (c *RelayClient) AuthorizationState(ctx context.Context, authorizer, nonce string) (bool, error) {
	query := url.Values{}
	query.Set("authorizer", authorizer)
	query.Set("nonce", nonce)

	var state struct {
		Used bool `json:"used"`
	}
	if err := c.get(ctx, "/authorization-state?"+query.Encode(), &state); err != nil {
		return false, err
	}
	return state.Used, nil
}

// Relay submits a signed authorization. A decoded failure is returned both in
// the response and as its *relay.RelayError.
func (c *RelayClient) Relay(ctx context.Context, request relay.RelayRequest) (*relay.RelayResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/relay", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.addAuthHeaders(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var relayResponse relay.RelayResponse
	if err := json.Unmarshal(responseBody, &relayResponse); err != nil {
		return nil, fmt.Errorf("relay failed (%d): %s", resp.StatusCode, string(responseBody))
	}

	// For non-200 responses, return an error with the details from the response
	if resp.StatusCode != http.StatusOK || relayResponse.Error != nil {
		if relayResponse.Error != nil {
			return &relayResponse, relayResponse.Error
		}
		return nil, fmt.Errorf("relay failed (%d): %s", resp.StatusCode, string(responseBody))
	}

	return &relayResponse, nil
}

// get performs a GET and decodes the JSON body into out.
// Retries with exponential backoff on 429 rate limit errors.
func (c *RelayClient) get(ctx context.Context, path string, out interface{}) error {
	var lastErr error

	for attempt := range getRetries {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+path, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if err := c.addAuthHeaders(ctx, req); err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request to %s failed: %w", path, err)
		}

		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			if err := json.Unmarshal(responseBody, out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		}

		var failure relay.RelayResponse
		if json.Unmarshal(responseBody, &failure) == nil && failure.Error != nil {
			lastErr = failure.Error
		} else {
			lastErr = fmt.Errorf("relay service %s failed (%d): %s", path, resp.StatusCode, string(responseBody))
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < getRetries-1 {
			delay := getRetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return lastErr
	}

	return lastErr
}

func (c *RelayClient) addAuthHeaders(ctx context.Context, req *http.Request) error {
	if c.authProvider == nil {
		return nil
	}
	headers, err := c.authProvider.GetAuthHeaders(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth headers: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return nil
}

package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relay "github.com/thegreataxios/eip3009-relay"
	"github.com/thegreataxios/eip3009-relay/mechanisms/evm"
)

type staticAuth map[string]string

func (a staticAuth) GetAuthHeaders(ctx context.Context) (map[string]string, error) {
	return a, nil
}

func TestRelayClient_AgainstServer(t *testing.T) {
	s := newTestService(t, relay.RelayHooks{})
	ts := httptest.NewServer(s.server.Handler())
	defer ts.Close()

	client := NewRelayClient(ClientConfig{URL: ts.URL + "/"})
	ctx := context.Background()

	domain, err := client.Domain(ctx)
	require.NoError(t, err)
	assert.Equal(t, relay.Network("eip155:1444673419"), domain.Network)
	assert.Equal(t, evm.PrimaryTypeTransferWithAuthorization, domain.PrimaryType)

	request := s.signedRequest(t, 10_000)

	used, err := client.AuthorizationState(ctx, request.Authorization.From, request.Authorization.Nonce)
	require.NoError(t, err)
	assert.False(t, used)

	resp, err := client.Relay(ctx, request)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Transaction)

	used, err = client.AuthorizationState(ctx, request.Authorization.From, request.Authorization.Nonce)
	require.NoError(t, err)
	assert.True(t, used)
}

func TestRelayClient_RelayFailureCarriesRelayError(t *testing.T) {
	s := newTestService(t, relay.RelayHooks{})
	ts := httptest.NewServer(s.server.Handler())
	defer ts.Close()

	request := s.signedRequest(t, 10_000)
	nonce, err := evm.HexToBytes32(request.Authorization.Nonce)
	require.NoError(t, err)
	s.chain.MarkUsed(s.holder.Address(), nonce)

	resp, err := NewRelayClient(ClientConfig{URL: ts.URL}).Relay(context.Background(), request)
	require.Error(t, err)
	assert.ErrorIs(t, err, relay.ErrRelayExecutionFailure)
	require.NotNil(t, resp)
	assert.False(t, resp.Success)
	assert.Equal(t, "0x94fb5c8a", resp.Error.Selector)
}

func TestRelayClient_InvalidQueryIsRelayError(t *testing.T) {
	s := newTestService(t, relay.RelayHooks{})
	ts := httptest.NewServer(s.server.Handler())
	defer ts.Close()

	_, err := NewRelayClient(ClientConfig{URL: ts.URL}).AuthorizationState(context.Background(), "nope", "0x01")
	assert.ErrorIs(t, err, relay.ErrInvalidAuthorizationParameters)
}

func TestRelayClient_SendsAuthHeaders(t *testing.T) {
	var got atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"network":"eip155:1444673419","chainId":"1444673419"}`))
	}))
	defer ts.Close()

	client := NewRelayClient(ClientConfig{URL: ts.URL, AuthProvider: staticAuth{"Authorization": "Bearer token"}})
	domain, err := client.Domain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1444673419", domain.ChainID)
	assert.Equal(t, "Bearer token", got.Load())
}

func TestRelayClient_NonJSONFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	client := NewRelayClient(ClientConfig{URL: ts.URL})
	_, err := client.Domain(context.Background())
	assert.ErrorContains(t, err, "503")

	_, err = client.Relay(context.Background(), relay.RelayRequest{})
	assert.ErrorContains(t, err, "503")
}

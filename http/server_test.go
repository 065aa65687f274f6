package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relay "github.com/thegreataxios/eip3009-relay"
	"github.com/thegreataxios/eip3009-relay/mechanisms/evm"
	signersevm "github.com/thegreataxios/eip3009-relay/signers/evm"
	"github.com/thegreataxios/eip3009-relay/test/mocks/forwarder"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	testToken     = common.HexToAddress("0x9eAb55199f4481eCD7659540A17Af618766b07C4")
	testRecipient = common.HexToAddress("0xD1A64e20e93E088979631061CACa74E08B3c0f55")
)

func testChain() evm.ChainContext {
	return evm.ChainContext{
		ChainID:          big.NewInt(1444673419),
		ForwarderAddress: common.HexToAddress("0x7779B0d1766e6305E5f8081E3C0CDF58FcA24330"),
		ForwarderName:    "USDC Forwarder",
		ForwarderVersion: "1",
	}
}

type testService struct {
	chain  *forwarder.Chain
	holder *signersevm.ClientSigner
	server *RelayServer
}

func newTestService(t *testing.T, hooks relay.RelayHooks) *testService {
	t.Helper()

	holderKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	relayerKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	chain := forwarder.New(testChain(), testToken)
	holder := signersevm.NewClientSigner(holderKey)
	chain.SetBalance(holder.Address(), big.NewInt(1_000_000))
	chain.SetAllowance(holder.Address(), testChain().ForwarderAddress, big.NewInt(1_000_000))

	relayer, err := evm.NewRelayer(evm.RelayerConfig{
		Chain: testChain(),
		Token: evm.TokenContext{Address: testToken, Decimals: 6},
	}, chain.Account(crypto.PubkeyToAddress(relayerKey.PublicKey)))
	require.NoError(t, err)

	return &testService{
		chain:  chain,
		holder: holder,
		server: NewRelayServer(relayer, ServerConfig{Hooks: hooks}),
	}
}

func (s *testService) signedRequest(t *testing.T, value int64) relay.RelayRequest {
	t.Helper()
	auth, _, err := evm.NewAuthorizationBuilder(testChain()).Build(s.holder.Address(), testRecipient, big.NewInt(value), time.Hour)
	require.NoError(t, err)
	sig, err := evm.NewAuthorizationSigner(testChain()).Sign(context.Background(), auth, s.holder)
	require.NoError(t, err)
	return relay.RelayRequest{Authorization: auth.ToWire(), Signature: sig.Hex()}
}

func (s *testService) post(t *testing.T, body []byte) (*httptest.ResponseRecorder, relay.RelayResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/relay", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)

	var resp relay.RelayResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestRelayServer_HealthAndDomain(t *testing.T) {
	s := newTestService(t, relay.RelayHooks{})

	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","network":"eip155:1444673419"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/domain", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var domain relay.DomainInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &domain))
	assert.Equal(t, "1444673419", domain.ChainID)
	assert.Equal(t, "USDC Forwarder", domain.Name)
	assert.Equal(t, testChain().ForwarderAddress.Hex(), domain.VerifyingContract)
}

func TestRelayServer_RequestIDIsEchoed(t *testing.T) {
	s := newTestService(t, relay.RelayHooks{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
}

func TestRelayServer_Relay(t *testing.T) {
	s := newTestService(t, relay.RelayHooks{})
	request := s.signedRequest(t, 10_000)

	rec, resp := s.post(t, mustJSON(t, request))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Transaction)
	assert.Equal(t, forwarder.RelayGas, resp.GasUsed)
	assert.Equal(t, s.holder.Address().Hex(), resp.Payer)
	assert.Equal(t, relay.Network("eip155:1444673419"), resp.Network)
	assert.Equal(t, "10000", s.chain.Balance(testRecipient).String())
}

func TestRelayServer_DuplicateRelayIsServedFromCache(t *testing.T) {
	s := newTestService(t, relay.RelayHooks{})
	body := mustJSON(t, s.signedRequest(t, 10_000))

	_, first := s.post(t, body)
	require.True(t, first.Success)

	rec, second := s.post(t, body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.Transaction, second.Transaction)
	assert.Equal(t, 1, s.chain.Submitted(evm.FunctionTransferWithAuthorization))
}

func TestRelayServer_ConcurrentDuplicatesSubmitOnce(t *testing.T) {
	s := newTestService(t, relay.RelayHooks{})
	body := mustJSON(t, s.signedRequest(t, 10_000))

	var wg sync.WaitGroup
	transactions := make([]string, 8)
	for i := range transactions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/relay", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			s.server.Handler().ServeHTTP(rec, req)

			var resp relay.RelayResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err == nil {
				transactions[i] = resp.Transaction
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, s.chain.Submitted(evm.FunctionTransferWithAuthorization))
	for _, tx := range transactions {
		assert.Equal(t, transactions[0], tx)
	}
	assert.NotEmpty(t, transactions[0])
}

func TestRelayServer_RevertIsDecodedAndCached(t *testing.T) {
	s := newTestService(t, relay.RelayHooks{})
	request := s.signedRequest(t, 10_000)

	nonce, err := evm.HexToBytes32(request.Authorization.Nonce)
	require.NoError(t, err)
	s.chain.MarkUsed(s.holder.Address(), nonce)

	body := mustJSON(t, request)
	rec, resp := s.post(t, body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Transaction)
	require.NotNil(t, resp.Error)
	assert.Equal(t, relay.ErrCodeRelayExecutionFailure, resp.Error.Code)
	assert.Equal(t, "0x94fb5c8a", resp.Error.Selector)
	assert.Equal(t, "AuthorizationAlreadyUsed", resp.Error.Reason)
	assert.NotEmpty(t, resp.Error.Hint)
	assert.Len(t, resp.Warnings, 1)

	_, again := s.post(t, body)
	assert.Equal(t, resp.Transaction, again.Transaction)
	assert.Equal(t, 1, s.chain.Submitted(evm.FunctionTransferWithAuthorization))
}

func TestRelayServer_RetriesRevertAfterCauseIsFixed(t *testing.T) {
	s := newTestService(t, relay.RelayHooks{})
	body := mustJSON(t, s.signedRequest(t, 10_000))

	// the chain clock lags, so the window has not opened on-chain yet
	s.chain.Now = func() time.Time { return time.Now().Add(-time.Hour) }

	rec, resp := s.post(t, body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotEmpty(t, resp.Transaction)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "AuthorizationNotYetValid", resp.Error.Reason)

	s.chain.Now = time.Now

	rec, resp = s.post(t, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, resp.Success)
	assert.Equal(t, 2, s.chain.Submitted(evm.FunctionTransferWithAuthorization))
	assert.Equal(t, "10000", s.chain.Balance(testRecipient).String())

	_, again := s.post(t, body)
	assert.Equal(t, resp.Transaction, again.Transaction)
	assert.Equal(t, 2, s.chain.Submitted(evm.FunctionTransferWithAuthorization))
}

func TestRelayServer_RetriesAfterApproval(t *testing.T) {
	s := newTestService(t, relay.RelayHooks{})
	body := mustJSON(t, s.signedRequest(t, 10_000))
	s.chain.SetAllowance(s.holder.Address(), testChain().ForwarderAddress, big.NewInt(0))

	rec, resp := s.post(t, body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "InsufficientAllowance", resp.Error.Reason)

	s.chain.SetAllowance(s.holder.Address(), testChain().ForwarderAddress, big.NewInt(1_000_000))

	rec, resp = s.post(t, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, resp.Success)
	assert.Equal(t, 2, s.chain.Submitted(evm.FunctionTransferWithAuthorization))
}

func TestRelayServer_RetriesAfterFunding(t *testing.T) {
	s := newTestService(t, relay.RelayHooks{})
	body := mustJSON(t, s.signedRequest(t, 10_000))
	s.chain.SetBalance(s.holder.Address(), big.NewInt(0))

	rec, resp := s.post(t, body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, relay.ErrCodeInsufficientBalance, resp.Error.Code)
	assert.Empty(t, resp.Transaction)
	assert.Equal(t, 0, s.chain.Submitted(evm.FunctionTransferWithAuthorization))

	s.chain.SetBalance(s.holder.Address(), big.NewInt(1_000_000))

	rec, resp = s.post(t, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, resp.Success)
	assert.Equal(t, 1, s.chain.Submitted(evm.FunctionTransferWithAuthorization))
}

func TestRelayServer_RejectsInvalidRequests(t *testing.T) {
	s := newTestService(t, relay.RelayHooks{})
	valid := s.signedRequest(t, 10_000)

	tampered := valid
	tampered.Authorization.Value = "20000"

	badNonce := valid
	badNonce.Authorization.Nonce = "0x1234"

	tests := []struct {
		name string
		body []byte
	}{
		{"empty body", nil},
		{"not json", []byte("relay please")},
		{"missing signature", mustJSON(t, map[string]interface{}{"authorization": valid.Authorization})},
		{"short nonce", mustJSON(t, badNonce)},
		{"signature for other terms", mustJSON(t, tampered)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := s.post(t, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, relay.ErrCodeInvalidAuthorizationParameters, resp.Error.Code)
		})
	}
	assert.Equal(t, 0, s.chain.Submitted(evm.FunctionTransferWithAuthorization))
}

func TestRelayServer_Hooks(t *testing.T) {
	var (
		mu       sync.Mutex
		after    []relay.RelayResultContext
		failures []relay.RelayFailureContext
	)
	blocked := common.HexToAddress("0x000000000000000000000000000000000000dEaD").Hex()

	hooks := relay.RelayHooks{
		BeforeRelay: []relay.BeforeRelayHook{func(ctx relay.RelayContext) (*relay.BeforeRelayHookResult, error) {
			if ctx.Authorization.To == blocked {
				return &relay.BeforeRelayHookResult{Abort: true, Reason: "recipient is blocked"}, nil
			}
			return nil, nil
		}},
		AfterRelay: []relay.AfterRelayHook{func(ctx relay.RelayResultContext) error {
			mu.Lock()
			defer mu.Unlock()
			after = append(after, ctx)
			return errors.New("ignored")
		}},
		OnRelayFailure: []relay.OnRelayFailureHook{func(ctx relay.RelayFailureContext) error {
			mu.Lock()
			defer mu.Unlock()
			failures = append(failures, ctx)
			return nil
		}},
	}
	s := newTestService(t, hooks)

	rec, resp := s.post(t, mustJSON(t, s.signedRequest(t, 10_000)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, after, 1)
	assert.Equal(t, resp.Transaction, after[0].Result.Transaction)
	assert.NotEmpty(t, after[0].RequestMetadata["requestId"])

	auth, _, err := evm.NewAuthorizationBuilder(testChain()).Build(s.holder.Address(), common.HexToAddress(blocked), big.NewInt(1), time.Hour)
	require.NoError(t, err)
	sig, err := evm.NewAuthorizationSigner(testChain()).Sign(context.Background(), auth, s.holder)
	require.NoError(t, err)

	rec, resp = s.post(t, mustJSON(t, relay.RelayRequest{Authorization: auth.ToWire(), Signature: sig.Hex()}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "recipient is blocked", resp.Error.Message)
	require.Len(t, failures, 1)
	assert.Equal(t, 1, s.chain.Submitted(evm.FunctionTransferWithAuthorization))
}

func TestRelayServer_AuthorizationState(t *testing.T) {
	s := newTestService(t, relay.RelayHooks{})
	request := s.signedRequest(t, 10_000)

	query := func(authorizer, nonce string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/authorization-state?authorizer="+authorizer+"&nonce="+nonce, nil)
		s.server.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := query(strings.ToLower(request.Authorization.From), request.Authorization.Nonce)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"used":false`)
	assert.Contains(t, rec.Body.String(), `"authorizer":"`+s.holder.Address().Hex()+`"`)

	_, resp := s.post(t, mustJSON(t, request))
	require.True(t, resp.Success)

	rec = query(request.Authorization.From, request.Authorization.Nonce)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"used":true`)

	assert.Equal(t, http.StatusBadRequest, query("0x1234", request.Authorization.Nonce).Code)
	assert.Equal(t, http.StatusBadRequest, query(request.Authorization.From, "0x01").Code)

	s.chain.ReadErrors[evm.FunctionAuthorizationState] = errors.New("rpc unavailable")
	assert.Equal(t, http.StatusBadGateway, query(request.Authorization.From, request.Authorization.Nonce).Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		resp   relay.RelayResponse
		status int
	}{
		{relay.RelayResponse{Success: true}, http.StatusOK},
		{relay.RelayResponse{Error: relay.ErrInvalidAuthorizationParameters}, http.StatusBadRequest},
		{relay.RelayResponse{Error: relay.ErrInsufficientAllowance}, http.StatusUnprocessableEntity},
		{relay.RelayResponse{Error: relay.ErrUnknownRelayFailure, Transaction: "0x01"}, http.StatusUnprocessableEntity},
		{relay.RelayResponse{Error: relay.ErrUnknownRelayFailure}, http.StatusBadGateway},
		{relay.RelayResponse{Error: relay.ErrConfiguration}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		resp := tt.resp
		assert.Equal(t, tt.status, statusFor(&resp))
	}
}

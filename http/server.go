package http

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	relay "github.com/thegreataxios/eip3009-relay"
	"github.com/thegreataxios/eip3009-relay/mechanisms/evm"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// DefaultCacheTTL is how long a final relay response is served to retries
const DefaultCacheTTL = 10 * time.Minute

// maxBodyBytes bounds a relay request body
const maxBodyBytes = 16 << 10

// Relayer is the relay flow behind the HTTP service
type Relayer interface {
	Domain() relay.DomainInfo
	AuthorizationState(ctx context.Context, authorizer common.Address, nonce [32]byte) (bool, error)
	Relay(ctx context.Context, auth evm.Authorization, sig evm.Signature) (*evm.TransferResult, error)
}

// ServerConfig configures a RelayServer
type ServerConfig struct {
	// CacheTTL bounds how long relay responses are cached; zero selects DefaultCacheTTL
	CacheTTL time.Duration

	Hooks  relay.RelayHooks
	Logger *zap.Logger
}

// RelayServer accepts externally signed authorizations over HTTP and relays
// them, paying gas from the relayer's account
type RelayServer struct {
	relayer Relayer
	domain  relay.DomainInfo
	cache   *relay.RelayCache
	hooks   relay.RelayHooks
	logger  *zap.Logger
	engine  *gin.Engine
}

// NewRelayServer creates the service and registers its routes
func NewRelayServer(relayer Relayer, config ServerConfig) *RelayServer {
	ttl := config.CacheTTL
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &RelayServer{
		relayer: relayer,
		domain:  relayer.Domain(),
		cache:   relay.NewRelayCache(ttl),
		hooks:   config.Hooks,
		logger:  logger,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestID(), s.accessLog())
	engine.GET("/health", s.handleHealth)
	engine.GET("/domain", s.handleDomain)
	engine.GET("/authorization-state", s.handleAuthorizationState)
	engine.POST("/relay", s.handleRelay)
	s.engine = engine

	return s
}

// Handler returns the HTTP handler serving all routes
func (s *RelayServer) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *RelayServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay service listening", zap.String("addr", addr), zap.String("network", string(s.domain.Network)))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down relay service")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *RelayServer) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(RequestIDHeader, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func (s *RelayServer) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("requestId", c.GetString(RequestIDHeader)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *RelayServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"network": s.domain.Network,
	})
}

func (s *RelayServer) handleDomain(c *gin.Context) {
	c.JSON(http.StatusOK, s.domain)
}

func (s *RelayServer) handleAuthorizationState(c *gin.Context) {
	authorizer := c.Query("authorizer")
	if !evm.IsValidAddress(authorizer) {
		s.abortWithError(c, http.StatusBadRequest, relay.NewRelayError(relay.ErrCodeInvalidAuthorizationParameters,
			"authorizer must be a 0x-prefixed address", nil))
		return
	}
	nonce, err := evm.HexToBytes32(c.Query("nonce"))
	if err != nil {
		s.abortWithError(c, http.StatusBadRequest, relay.WrapRelayError(relay.ErrCodeInvalidAuthorizationParameters,
			"nonce must be 32 bytes of hex", err))
		return
	}

	used, err := s.relayer.AuthorizationState(c.Request.Context(), common.HexToAddress(authorizer), nonce)
	if err != nil {
		s.abortWithError(c, http.StatusBadGateway, relay.WrapRelayError(relay.ErrCodeStaleNonceWarning,
			"could not query authorization state", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authorizer": evm.NormalizeAddress(authorizer),
		"nonce":      evm.BytesToHex(nonce[:]),
		"used":       used,
	})
}

func (s *RelayServer) handleRelay(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		s.abortWithError(c, http.StatusBadRequest, relay.WrapRelayError(relay.ErrCodeInvalidAuthorizationParameters,
			"could not read request body", err))
		return
	}

	req, err := DecodeRelayRequest(body)
	if err != nil {
		s.abortWithError(c, http.StatusBadRequest, err)
		return
	}
	auth, err := evm.AuthorizationFromWire(req.Authorization)
	if err != nil {
		s.abortWithError(c, http.StatusBadRequest, err)
		return
	}
	sig, err := evm.ParseSignature(req.Signature)
	if err != nil {
		s.abortWithError(c, http.StatusBadRequest, err)
		return
	}

	resp := s.relayOnce(c, auth, sig)
	c.JSON(statusFor(resp), resp)
}

// relayOnce relays auth unless the same authorization already has a final
// cached outcome or a relay in flight
func (s *RelayServer) relayOnce(c *gin.Context, auth evm.Authorization, sig evm.Signature) *relay.RelayResponse {
	key := relay.GenerateRelayKey(auth.From.Hex(), evm.BytesToHex(auth.Nonce[:]))

	cached, claim, err := s.cache.Acquire(c.Request.Context(), key)
	if err != nil {
		return &relay.RelayResponse{
			Network: s.domain.Network,
			Payer:   auth.From.Hex(),
			Error:   relay.WrapRelayError(relay.ErrCodeUnknownRelayFailure, "request cancelled while waiting for relay", err),
		}
	}
	if claim == nil {
		s.logger.Debug("serving cached relay", zap.String("requestId", c.GetString(RequestIDHeader)))
		return cached
	}
	defer claim.Release()

	resp := s.relay(c, auth, sig)
	if !claim.Settle(resp) {
		s.logger.Debug("relay outcome not cached, authorization can be retried",
			zap.String("requestId", c.GetString(RequestIDHeader)))
	}
	return resp
}

// relay runs the hooks and the relay flow
func (s *RelayServer) relay(c *gin.Context, auth evm.Authorization, sig evm.Signature) *relay.RelayResponse {
	hookCtx := relay.RelayContext{
		Ctx:           c.Request.Context(),
		Authorization: auth.ToWire(),
		Network:       s.domain.Network,
		Timestamp:     time.Now(),
		RequestMetadata: map[string]interface{}{
			"requestId": c.GetString(RequestIDHeader),
			"clientIP":  c.ClientIP(),
		},
	}

	for _, hook := range s.hooks.BeforeRelay {
		result, err := hook(hookCtx)
		if err != nil {
			return s.failed(hookCtx, nil, relay.WrapRelayError(relay.ErrCodeUnknownRelayFailure, "before relay hook failed", err))
		}
		if result != nil && result.Abort {
			return s.failed(hookCtx, nil, relay.NewRelayError(relay.ErrCodeInvalidAuthorizationParameters, result.Reason, nil))
		}
	}

	result, err := s.relayer.Relay(hookCtx.Ctx, auth, sig)
	if err != nil {
		return s.failed(hookCtx, result, err)
	}
	resp := evm.Response(s.domain.Network, result, nil)

	for _, hook := range s.hooks.AfterRelay {
		if hookErr := hook(relay.RelayResultContext{RelayContext: hookCtx, Result: *resp, Duration: time.Since(hookCtx.Timestamp)}); hookErr != nil {
			s.logger.Warn("after relay hook failed", zap.Error(hookErr))
		}
	}
	return resp
}

func (s *RelayServer) failed(hookCtx relay.RelayContext, result *evm.TransferResult, err error) *relay.RelayResponse {
	resp := evm.Response(s.domain.Network, result, err)
	if resp.Payer == "" {
		resp.Payer = hookCtx.Authorization.From
	}

	s.logger.Warn("relay failed",
		zap.Any("requestId", hookCtx.RequestMetadata["requestId"]),
		zap.String("payer", resp.Payer),
		zap.String("code", resp.Error.Code),
		zap.String("reason", resp.Error.Reason))

	for _, hook := range s.hooks.OnRelayFailure {
		if hookErr := hook(relay.RelayFailureContext{RelayContext: hookCtx, Error: err, Result: resp, Duration: time.Since(hookCtx.Timestamp)}); hookErr != nil {
			s.logger.Warn("relay failure hook failed", zap.Error(hookErr))
		}
	}
	return resp
}

func (s *RelayServer) abortWithError(c *gin.Context, status int, err error) {
	resp := evm.Response(s.domain.Network, nil, err)
	c.AbortWithStatusJSON(status, resp)
}

// statusFor maps a relay response to its HTTP status
func statusFor(resp *relay.RelayResponse) int {
	if resp.Error == nil {
		return http.StatusOK
	}
	if resp.Transaction != "" {
		// mined and reverted
		return http.StatusUnprocessableEntity
	}
	switch resp.Error.Code {
	case relay.ErrCodeInvalidAuthorizationParameters:
		return http.StatusBadRequest
	case relay.ErrCodeInsufficientAllowance, relay.ErrCodeInsufficientBalance, relay.ErrCodeRelayExecutionFailure:
		return http.StatusUnprocessableEntity
	case relay.ErrCodeConfiguration:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

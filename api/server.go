package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	faucet "go-faucet"
	"go-faucet/logger"
	"go-faucet/ratelimit"
	"go-faucet/tokens"
)

const adminKeyHeader = "X-Admin-Key"

// Issuer is the core the faucet endpoint delegates to. *faucet.Issuer implements it.
type Issuer interface {
	Issue(ctx context.Context, wallet, tokenSymbol string) (*faucet.Disbursement, error)
}

// Limiter is the rate limiter view used by the status and admin endpoints.
type Limiter interface {
	Status(ctx context.Context, key string) (ratelimit.Status, error)
	Clear(ctx context.Context, key string) (bool, error)
}

type Registry interface {
	Resolve(symbol string) (tokens.TokenDescriptor, error)
	All() []tokens.TokenDescriptor
}

var (
	_ Issuer   = (*faucet.Issuer)(nil)
	_ Limiter  = (*ratelimit.Limiter)(nil)
	_ Registry = (*tokens.Registry)(nil)
)

// Server is the HTTP shell around the Issuer.
type Server struct {
	issuer   Issuer
	limiter  Limiter
	registry Registry
	lggr     logger.Logger
	amount   uint64
	adminKey string
	metrics  *metrics
}

type Option func(*Server)

func WithLogger(lggr logger.Logger) Option {
	return func(s *Server) { s.lggr = lggr }
}

// WithAdminKey enables DELETE /api/ratelimit for callers presenting key.
func WithAdminKey(key string) Option {
	return func(s *Server) { s.adminKey = key }
}

// WithAmount sets the whole-token amount advertised by GET /api/tokens.
func WithAmount(whole uint64) Option {
	return func(s *Server) { s.amount = whole }
}

func New(issuer Issuer, limiter Limiter, registry Registry, opts ...Option) *Server {
	s := &Server{
		issuer:   issuer,
		limiter:  limiter,
		registry: registry,
		lggr:     logger.Nop(),
		amount:   faucet.DefaultAmount,
		metrics:  newMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine serving every faucet route.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), cors(), s.metrics.instrument(), s.requestLog())

	r.GET("/api/status", s.status)
	r.GET("/api/tokens", s.listTokens)
	r.POST("/api/faucet", s.requestTokens)
	r.GET("/api/ratelimit", s.rateLimitStatus)
	r.DELETE("/api/ratelimit", s.clearRateLimit)
	r.GET("/metrics", s.metrics.handler())
	return r
}

// NewHTTPServer wraps Router in an http.Server with conservative timeouts.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, "+adminKeyHeader)
		h.Set("Access-Control-Expose-Headers", "Retry-After")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.lggr.Debugw("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"clientIP", c.ClientIP(),
		)
	}
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "Faucet backend running"})
}

type tokenInfo struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Amount   uint64 `json:"amount"`
}

func (s *Server) listTokens(c *gin.Context) {
	all := s.registry.All()
	out := make([]tokenInfo, 0, len(all))
	for _, t := range all {
		out = append(out, tokenInfo{
			Symbol:   t.Symbol,
			Address:  t.ContractAddress.Hex(),
			Decimals: t.Decimals,
			Amount:   s.amount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tokens": out})
}

type faucetRequest struct {
	Wallet string `json:"wallet"`
	Token  string `json:"token"`
}

func (s *Server) requestTokens(c *gin.Context) {
	var req faucetRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Wallet) == "" || strings.TrimSpace(req.Token) == "" {
		s.metrics.disbursements.WithLabelValues("none", string(faucet.InvalidInput)).Inc()
		s.writeResult(c, faucet.Report(nil, &faucet.Error{Kind: faucet.InvalidInput, Message: "Missing wallet or token"}))
		return
	}

	d, err := s.issuer.Issue(c.Request.Context(), req.Wallet, req.Token)
	res := faucet.Report(d, err)
	s.metrics.disbursements.WithLabelValues(tokenLabel(req.Token, res), outcomeLabel(res)).Inc()
	if err != nil {
		s.lggr.Infow("Faucet request failed", "wallet", req.Wallet, "token", req.Token, "kind", res.ErrorKind, "err", err)
	}
	s.writeResult(c, res)
}

func (s *Server) writeResult(c *gin.Context, res faucet.DisbursementResult) {
	if res.Success {
		c.JSON(http.StatusOK, res)
		return
	}
	if res.RetryAfterSeconds > 0 {
		c.Header("Retry-After", strconv.FormatInt(res.RetryAfterSeconds, 10))
	}
	c.JSON(faucet.HTTPStatus(res.ErrorKind), res)
}

func tokenLabel(requested string, res faucet.DisbursementResult) string {
	switch {
	case res.Token != "":
		return res.Token
	case res.ErrorKind == faucet.UnknownToken:
		return "unknown"
	default:
		return strings.ToUpper(strings.TrimSpace(requested))
	}
}

func outcomeLabel(res faucet.DisbursementResult) string {
	if res.Success {
		return "success"
	}
	return string(res.ErrorKind)
}

type rateLimitView struct {
	Wallet            string `json:"wallet"`
	Token             string `json:"token"`
	Limited           bool   `json:"limited"`
	RetryAfterSeconds uint64 `json:"retry_after_seconds"`
	Cleared           *bool  `json:"cleared,omitempty"`
}

// rateLimitKey validates the wallet and token query parameters and derives
// the limiter key. It writes the error response itself when they are invalid.
func (s *Server) rateLimitKey(c *gin.Context) (string, rateLimitView, bool) {
	addr, err := faucet.ParseWallet(c.Query("wallet"))
	if err != nil {
		s.writeResult(c, faucet.Report(nil, &faucet.Error{Kind: faucet.InvalidInput, Message: err.Error()}))
		return "", rateLimitView{}, false
	}
	token, err := s.registry.Resolve(c.Query("token"))
	if err != nil {
		s.writeResult(c, faucet.Report(nil, &faucet.Error{Kind: faucet.UnknownToken, Message: "token is not supported"}))
		return "", rateLimitView{}, false
	}
	return ratelimit.Key(addr.Hex(), token.Symbol), rateLimitView{Wallet: addr.Hex(), Token: token.Symbol}, true
}

func (s *Server) rateLimitStatus(c *gin.Context) {
	key, view, ok := s.rateLimitKey(c)
	if !ok {
		return
	}
	st, err := s.limiter.Status(c.Request.Context(), key)
	if err != nil {
		s.lggr.Errorw("Rate limit status failed", "key", key, "err", err)
		s.writeResult(c, faucet.Report(nil, &faucet.Error{Kind: faucet.ChainError, Message: "rate limit store unavailable"}))
		return
	}
	view.Limited = st.Limited
	view.RetryAfterSeconds = st.RemainingSeconds()
	c.JSON(http.StatusOK, view)
}

func (s *Server) clearRateLimit(c *gin.Context) {
	if s.adminKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "admin endpoints are disabled"})
		return
	}
	given := c.GetHeader(adminKeyHeader)
	if subtle.ConstantTimeCompare([]byte(given), []byte(s.adminKey)) != 1 {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid admin key"})
		return
	}
	key, view, ok := s.rateLimitKey(c)
	if !ok {
		return
	}
	removed, err := s.limiter.Clear(c.Request.Context(), key)
	if err != nil {
		s.lggr.Errorw("Rate limit clear failed", "key", key, "err", err)
		s.writeResult(c, faucet.Report(nil, &faucet.Error{Kind: faucet.ChainError, Message: "rate limit store unavailable"}))
		return
	}
	s.lggr.Infow("Rate limit cleared by admin", "key", key, "removed", removed, "clientIP", c.ClientIP())
	view.Cleared = &removed
	c.JSON(http.StatusOK, view)
}

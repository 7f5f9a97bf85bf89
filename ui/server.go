package ui

import (
	"context"
	"embed"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/vitwit/coffee/logger"
	"github.com/vitwit/coffee/storage"
	"github.com/vitwit/coffee/types"
)

//go:embed static/index.html
var static embed.FS

// Actions are the user-triggerable operations behind the page.
type Actions interface {
	Connect(ctx context.Context) error
	SelectTier(id types.TierID) error
	Increase() error
	Decrease() error
	Purchase(ctx context.Context, memo types.Memo) error
	QueryBalance(ctx context.Context) (decimal.Decimal, error)
	Withdraw(ctx context.Context) (common.Hash, error)
	History(ctx context.Context, limit int) ([]storage.Entry, error)
}

type ServerOptions struct {
	Logger         logger.Logger
	Metrics        http.Handler
	RequestTimeout time.Duration
}

// Server exposes the panel and the actions over HTTP.
type Server struct {
	engine   *gin.Engine
	panel    *Panel
	actions  Actions
	logger   logger.Logger
	timeout  time.Duration
	upgrader websocket.Upgrader

	// background purchases outlive the request that started them
	jobs   sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	httpServer *http.Server
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type response struct {
	View   View       `json:"view"`
	Error  *errorBody `json:"error,omitempty"`
	TxHash string     `json:"txHash,omitempty"`
}

func NewServer(panel *Panel, actions Actions, opts ServerOptions) *Server {
	gin.SetMode(gin.ReleaseMode)
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:  gin.New(),
		panel:   panel,
		actions: actions,
		logger:  logger.OrNoop(opts.Logger),
		timeout: opts.RequestTimeout,
		ctx:     ctx,
		cancel:  cancel,
	}

	s.engine.Use(gin.Recovery(), GinLogger(s.logger))
	s.routes(opts.Metrics)
	return s
}

func (s *Server) routes(metricsHandler http.Handler) {
	s.engine.GET("/", s.index)

	api := s.engine.Group("/api")
	api.GET("/view", s.view)
	api.POST("/connect", s.connect)
	api.POST("/tiers/:id", s.selectTier)
	api.POST("/quantity/increase", s.increase)
	api.POST("/quantity/decrease", s.decrease)
	api.POST("/purchase", s.purchase)
	api.POST("/balance", s.balance)
	api.POST("/withdraw", s.withdraw)
	api.GET("/history", s.history)
	api.GET("/ws", s.stream)

	if metricsHandler != nil {
		s.engine.GET("/metrics", gin.WrapH(metricsHandler))
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe blocks until the server stops. http.ErrServerClosed is not an error.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", map[string]any{"addr": addr})
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for background purchases until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
	}
	return err
}

func (s *Server) index(c *gin.Context) {
	page, err := static.ReadFile("static/index.html")
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

func (s *Server) view(c *gin.Context) {
	c.JSON(http.StatusOK, response{View: s.panel.View()})
}

func (s *Server) connect(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()
	s.reply(c, s.actions.Connect(ctx), "")
}

func (s *Server) selectTier(c *gin.Context) {
	s.reply(c, s.actions.SelectTier(types.TierID(c.Param("id"))), "")
}

func (s *Server) increase(c *gin.Context) {
	s.reply(c, s.actions.Increase(), "")
}

func (s *Server) decrease(c *gin.Context) {
	s.reply(c, s.actions.Decrease(), "")
}

// purchase starts the purchase in the background and answers immediately;
// progress is visible through the status line.
func (s *Server) purchase(c *gin.Context) {
	var memo types.Memo
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&memo); err != nil {
			c.JSON(http.StatusBadRequest, response{
				View:  s.panel.View(),
				Error: &errorBody{Code: "BAD_REQUEST", Message: "Invalid request body"},
			})
			return
		}
	}

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		if err := s.actions.Purchase(s.ctx, memo); err != nil {
			s.logger.Debug("purchase ended with error", map[string]any{"error": err})
		}
	}()
	c.JSON(http.StatusAccepted, response{View: s.panel.View()})
}

func (s *Server) balance(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()
	_, err := s.actions.QueryBalance(ctx)
	s.reply(c, err, "")
}

func (s *Server) withdraw(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()
	hash, err := s.actions.Withdraw(ctx)
	if err != nil {
		s.reply(c, err, "")
		return
	}
	s.reply(c, nil, hash.Hex())
}

func (s *Server) history(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{Code: "BAD_REQUEST", Message: "limit must be between 1 and 200"}})
		return
	}
	entries, err := s.actions.History(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("history query failed", map[string]any{"error": err})
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorBody{Code: "INTERNAL", Message: "Internal server error"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// stream pushes every new View to a websocket client until it disconnects.
func (s *Server) stream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]any{"error": err})
		return
	}
	defer conn.Close()

	views, unsubscribe := s.panel.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-s.ctx.Done():
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case v := <-views:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(v); err != nil {
				s.logger.Debug("websocket write failed", map[string]any{"error": err})
				return
			}
		}
	}
}

func (s *Server) reply(c *gin.Context, err error, txHash string) {
	if err == nil {
		c.JSON(http.StatusOK, response{View: s.panel.View(), TxHash: txHash})
		return
	}

	var ce *types.CoffeeError
	if !errors.As(err, &ce) {
		s.logger.Error("unexpected action error", map[string]any{"error": err})
		c.JSON(http.StatusInternalServerError, response{
			View:  s.panel.View(),
			Error: &errorBody{Code: "INTERNAL", Message: "Internal server error"},
		})
		return
	}
	c.JSON(statusFor(ce.Code), response{
		View:  s.panel.View(),
		Error: &errorBody{Code: ce.Code, Message: ce.Message},
	})
}

func statusFor(code string) int {
	switch code {
	case types.ErrCodeNoSelection:
		return http.StatusBadRequest
	case types.ErrCodeNotPrivileged:
		return http.StatusForbidden
	case types.ErrCodeProviderUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrCodeNotConnected, types.ErrCodeWrongNetwork, types.ErrCodeNoAccounts,
		types.ErrCodeInFlight, types.ErrCodeControlDisabled, types.ErrCodeTxRejected:
		return http.StatusConflict
	case types.ErrCodeTxError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

package negotiationhttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"negotiator/internal/agent"
	"negotiator/internal/forecast"
	"negotiator/internal/logger"
	"negotiator/internal/store/decisionlog"

	"github.com/gin-gonic/gin"
)

// Deciders 按 profile 名称提供决策器；空名称表示默认 profile。
type Deciders interface {
	Decider(profile string) (*agent.Decider, string, error)
}

// Journal 是决策日志的最小依赖面。
type Journal interface {
	InsertAsync(e decisionlog.Entry)
	List(ctx context.Context, q decisionlog.Query) ([]decisionlog.Entry, error)
	Count(ctx context.Context, q decisionlog.Query) (int, error)
}

// Server 提供 /api/negotiation 等 HTTP 接口，供宿主在每一步调用。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述 HTTP 服务依赖。
type ServerConfig struct {
	Addr     string
	Deciders Deciders
	Journal  Journal
	Table    *forecast.Table
}

// NewServer 构建 negotiation HTTP server。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Deciders == nil {
		return nil, errors.New("negotiation http server requires deciders")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9992"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	h := &handlers{deciders: cfg.Deciders, journal: cfg.Journal, table: cfg.Table}
	h.register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	if s == nil {
		return nil
	}
	return s.router
}

// requestLogger 记录每个请求的耗时与状态码。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", c.Request.Method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("negotiation http listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

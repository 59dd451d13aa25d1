package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"docqa/internal/app/runner"
	applog "docqa/internal/platform/log"
)

// ServiceName 服务名，GET / 返回
const ServiceName = "docqa"

const healthTimeout = 5 * time.Second

// ServerConfig 服务配置
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Auth         AuthConfig
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // 大文档问答耗时较长
	}
}

// Server HTTP 服务器
type Server struct {
	config  *ServerConfig
	runner  *runner.Runner
	httpSrv *http.Server
}

// NewServer 创建服务器
func NewServer(config *ServerConfig, r *runner.Runner) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &Server{
		config: config,
		runner: r,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	r, err := s.buildRouter()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	applog.Infof("🚀 Document QA server starting on %s", addr)
	return s.httpSrv.ListenAndServe()
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler 返回 HTTP Handler（用于测试）
func (s *Server) Handler() http.Handler {
	r, err := s.buildRouter()
	if err != nil {
		panic(err)
	}
	return r
}

func (s *Server) buildRouter() (http.Handler, error) {
	if !s.config.Auth.enabled() {
		return nil, fmt.Errorf("AUTH_TOKEN or JWT_SECRET is required")
	}
	if s.runner == nil {
		return nil, fmt.Errorf("runner is required")
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"service": ServiceName,
			"run":     "POST /hackrx/run",
		})
	})
	r.Get("/health", s.health)

	authMW := authMiddleware(&s.config.Auth)
	r.Group(func(r chi.Router) {
		r.Use(authMW)
		NewQAHandler(s.runner).RegisterRoutes(r)
		NewDocumentHandler(s.runner.Pipeline(), s.runner.Ledger()).RegisterRoutes(r)
	})
	return r, nil
}

// health 存活检查，同时探测向量库
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	pipeline := s.runner.Pipeline()
	if err := pipeline.Ping(ctx); err != nil {
		applog.Warn("[API] Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":       "unavailable",
			"vector_store": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                  "ok",
		"vector_store":            "ok",
		"embedding_cache_entries": pipeline.Cache().Len(),
	})
}

func requestID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}

// corsMiddleware CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LENAX/relay-agent/pkg/core/engine"
)

// ServerConfig API服务器配置
type ServerConfig struct {
	Host         string        // 监听地址
	Port         int           // 监听端口
	ReadTimeout  time.Duration // 读取超时
	WriteTimeout time.Duration // 写入超时
}

// DefaultServerConfig 默认服务器配置
// 写超时需覆盖桥接调用的最长等待时间
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1",
		Port:         8719,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
	}
}

// APIServer HTTP API服务器
type APIServer struct {
	engine     *engine.Engine
	httpServer *http.Server
	config     ServerConfig
	version    string
	log        *zap.SugaredLogger

	mu       sync.Mutex
	listener net.Listener
}

// NewAPIServer 创建API服务器
func NewAPIServer(eng *engine.Engine, config ServerConfig, version string, log *zap.SugaredLogger) *APIServer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &APIServer{
		engine:  eng,
		config:  config,
		version: version,
		log:     log,
	}
}

// Handler 构建路由（测试可直接使用）
func (s *APIServer) Handler() http.Handler {
	ingress := s.engine.Config().Ingress
	return SetupRouter(s.engine, RouterOptions{
		Version:       s.version,
		OriginAllowed: ingress.OriginAllowed,
		AgentHandler:  s.engine.AgentHandler(),
		Logger:        s.log,
	})
}

// Start 启动服务器，阻塞直到服务器关闭
func (s *APIServer) Start() error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server listen failed: %w", err)
	}
	return s.Serve(ln)
}

// Serve 在指定监听器上提供服务
func (s *APIServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Infof("🚀 Relay Agent API Server starting on %s", ln.Addr())

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server listen failed: %w", err)
	}
	return nil
}

// Shutdown 优雅关闭服务器
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.log.Info("🛑 Shutting down API Server...")

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("✅ API Server stopped")
	return nil
}

// Addr 获取服务器地址
func (s *APIServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
}

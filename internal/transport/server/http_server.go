package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/charging-platform/central-system/internal/logger"
)

// Config HTTP服务器配置
type Config struct {
	ListenAddr      string        `json:"listen_addr"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	MaxHeaderBytes  int           `json:"max_header_bytes"`
	KeepAlivePeriod time.Duration `json:"keep_alive_period"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      "0.0.0.0:8080",
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		KeepAlivePeriod: 30 * time.Second,
	}
}

// Server 承载WebSocket升级与HTTP接口的服务器
// WebSocket长连接由各自的读写协程管理，ReadTimeout/WriteTimeout只约束普通HTTP请求
type Server struct {
	config   *Config
	server   *http.Server
	listener net.Listener
	logger   *logger.Logger
}

// NewServer 创建HTTP服务器
func NewServer(config *Config, handler http.Handler, log *logger.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	return &Server{
		config: config,
		server: &http.Server{
			Addr:           config.ListenAddr,
			Handler:        handler,
			IdleTimeout:    config.IdleTimeout,
			MaxHeaderBytes: config.MaxHeaderBytes,
		},
		logger: log,
	}
}

// createListener 创建调优过的TCP监听器
func (s *Server) createListener() (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				// 重启时允许立即复用地址
				syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
		KeepAlive: s.config.KeepAlivePeriod,
	}

	listener, err := lc.Listen(context.Background(), "tcp", s.config.ListenAddr)
	if err != nil {
		return nil, err
	}

	if tcpListener, ok := listener.(*net.TCPListener); ok {
		return &tunedListener{TCPListener: tcpListener, keepAlivePeriod: s.config.KeepAlivePeriod}, nil
	}
	return listener, nil
}

// tunedListener 在Accept时为每条连接设置TCP参数
type tunedListener struct {
	*net.TCPListener
	keepAlivePeriod time.Duration
}

func (l *tunedListener) Accept() (net.Conn, error) {
	conn, err := l.TCPListener.AcceptTCP()
	if err != nil {
		return nil, err
	}

	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(l.keepAlivePeriod)
	// WebSocket帧多为小包，禁用Nagle降低延迟
	conn.SetNoDelay(true)
	conn.SetReadBuffer(64 * 1024)
	conn.SetWriteBuffer(64 * 1024)
	return conn, nil
}

// Start 启动服务器并阻塞直到关闭
func (s *Server) Start() error {
	listener, err := s.createListener()
	if err != nil {
		return err
	}
	s.listener = listener
	s.logger.Infof("HTTP server listening on %s", listener.Addr().String())

	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 优雅关闭服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server...")
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Errorf("Error during server shutdown: %v", err)
		return s.server.Close()
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Addr 实际监听地址，未启动时为nil
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// Package server 提供识别服务的 HTTP 接口
//
// 路由:
//
//	GET /ws/session/{catalog}       WebSocket 识别会话
//	GET /catalogs/{catalog}/export  导出目录二进制
//	GET /health                     健康检查
//	GET /metrics                    Prometheus 指标
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zoeyai/zoeysight/internal/logger"
	"github.com/zoeyai/zoeysight/pkg/catalog"
	"github.com/zoeyai/zoeysight/pkg/metrics"
	"github.com/zoeyai/zoeysight/pkg/process"
	"github.com/zoeyai/zoeysight/pkg/session"
)

// ErrShuttingDown 服务正在关闭，不再接受新会话
var ErrShuttingDown = errors.New("server: shutting down")

// Options 服务依赖
type Options struct {
	Source        catalog.Source
	NewRecognizer session.RecognizerFactory
	Session       session.Options
	Logger        *logger.Logger
	Version       string
	// CheckOrigin 为空时接受所有来源
	CheckOrigin func(r *http.Request) bool
}

// Server HTTP 服务，同时为 gRPC 提供会话工厂
type Server struct {
	opts     Options
	log      *logger.Logger
	router   chi.Router
	upgrader websocket.Upgrader
	started  time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup
	active   atomic.Int64
}

// New 创建服务
func New(opts Options) (*Server, error) {
	if opts.Source == nil || opts.NewRecognizer == nil {
		return nil, errors.New("server: source 和 recognizer 工厂不能为空")
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:    opts,
		log:     opts.Logger,
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      checkOrigin,
		},
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.log.Zap()))
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLogger(s.log.Zap()))
	r.Use(metrics.Middleware())

	r.Get("/ws/session/{catalog}", s.handleSession)
	r.Get("/catalogs/{catalog}/export", s.handleExport)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Handler 返回路由
func (s *Server) Handler() http.Handler {
	return s.router
}

// Context 会话的基础 context，Shutdown 时取消
func (s *Server) Context() context.Context {
	return s.ctx
}

// ActiveSessions 当前打开的会话数（WebSocket 与 gRPC）
func (s *Server) ActiveSessions() int64 {
	return s.active.Load()
}

// NewSession 为一条连接创建会话，WebSocket 与 gRPC 共用
func (s *Server) NewSession(conn session.Conn, name string) (*session.Session, error) {
	return session.New(conn, session.Config{
		Catalog:       name,
		Source:        s.opts.Source,
		NewRecognizer: s.opts.NewRecognizer,
		Options:       s.opts.Session,
		Logger:        s.log,
		Observer:      &sessionObserver{active: &s.active},
	})
}

// track 登记一个 WebSocket 会话，关闭中返回 false
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions.Add(1)
	return true
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "catalog")
	if err := catalog.ValidateName(name); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_catalog", err.Error())
		return
	}
	if !s.track() {
		writeError(w, http.StatusServiceUnavailable, "shutting_down", ErrShuttingDown.Error())
		return
	}
	defer s.sessions.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已写入错误响应
		s.log.Warn("WebSocket 升级失败: %v", err)
		return
	}

	sess, err := s.NewSession(session.NewWSConn(ws, s.opts.Session), name)
	if err != nil {
		s.log.Error("创建会话失败: %v", err)
		ws.Close()
		return
	}
	// 被劫持的连接不受 http.Server.Shutdown 管理，使用服务自己的 context
	if err := sess.Run(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Debug("会话 %s 结束: %v", sess.ID(), err)
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "catalog")
	if err := catalog.ValidateName(name); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_catalog", err.Error())
		return
	}

	records, err := s.opts.Source.Load(r.Context(), name)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "catalog not found")
		return
	case err != nil:
		s.log.Error("加载目录 %s 失败: %v", name, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load catalog")
		return
	}

	var buf bytes.Buffer
	if err := catalog.Encode(&buf, records); err != nil {
		s.log.Error("编码目录 %s 失败: %v", name, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to encode catalog")
		return
	}

	display := r.URL.Query().Get("name")
	if display == "" {
		display = name
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment",
		map[string]string{"filename": catalog.ExportFilename(display)}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status         string               `json:"status"`
	Version        string               `json:"version"`
	UptimeSec      int64                `json:"uptimeSec"`
	ActiveSessions int64                `json:"activeSessions"`
	Process        *process.ProcessInfo `json:"process,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:         "ok",
		Version:        s.opts.Version,
		UptimeSec:      int64(time.Since(s.started).Seconds()),
		ActiveSessions: s.active.Load(),
	}
	s.mu.Lock()
	if s.closing {
		resp.Status = "shutting_down"
	}
	s.mu.Unlock()

	if info, err := process.Self(r.Context()); err == nil {
		resp.Process = info
	} else {
		s.log.Debug("读取进程信息失败: %v", err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Shutdown 取消所有 WebSocket 会话（以 1001 关闭）并等待其结束
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sessionObserver 在指标之外维护活跃会话数
type sessionObserver struct {
	metrics.SessionObserver
	active *atomic.Int64
}

func (o *sessionObserver) SessionStarted() {
	o.active.Add(1)
	o.SessionObserver.SessionStarted()
}

func (o *sessionObserver) SessionEnded(outcome string) {
	o.active.Add(-1)
	o.SessionObserver.SessionEnded(outcome)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// jsonRecoverer 捕获 panic 并返回 JSON 错误
func jsonRecoverer(log *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						panic(rvr)
					}
					log.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger 每个请求输出一行日志，并回写 X-Request-ID
func requestLogger(log *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Info("http_request",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}

// Package session 实现识别会话协议
//
// 一个会话对应一条持久连接：连接建立时加载目录快照，之后顺序处理
// 查询帧，每个请求恰好返回一个响应，最后回显关闭帧。
//
// 线上格式（WebSocket 与 gRPC 相同）：每个传输消息是一个分片，
// 首字节为标志位（bit0 表示最后一片），其后是至多 ChunkSize 字节负载。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zoeyai/zoeysight/internal/logger"
	"github.com/zoeyai/zoeysight/pkg/catalog"
	"github.com/zoeyai/zoeysight/pkg/vision"
)

// State 会话状态
type State int32

const (
	StateConnecting State = iota
	StateInitializing
	StateServing
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateInitializing:
		return "initializing"
	case StateServing:
		return "serving"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// 会话结束原因，用于指标标签
const (
	OutcomeClosed         = "closed"
	OutcomeCatalogError   = "catalog_error"
	OutcomeEnvelopeError  = "envelope_error"
	OutcomeInternalError  = "internal_error"
	OutcomeTransportError = "transport_error"
	OutcomeCanceled       = "canceled"
)

// 单帧处理状态，用于指标标签
const (
	FrameOK          = "ok"
	FrameDecodeError = "decode_error"
	FrameEnvelope    = "envelope_error"
	FrameError       = "error"
)

// Options 会话参数
type Options struct {
	ChunkSize       int           `yaml:"chunk_size"`
	MaxMessageBytes int           `yaml:"max_message_bytes"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
}

// DefaultOptions 默认会话参数
func DefaultOptions() Options {
	return Options{
		ChunkSize:       DefaultChunkSize,
		MaxMessageBytes: DefaultMaxMessageBytes,
		WriteTimeout:    10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = DefaultMaxMessageBytes
	}
	return o
}

// Recognizer 单帧识别，每个会话独占一个实例
type Recognizer interface {
	Recognize(q vision.Query, targets []vision.TargetRecord) (vision.MatchReport, error)
	Close() error
}

// RecognizerFactory 为每个会话创建识别器
type RecognizerFactory func() (Recognizer, error)

// Observer 会话事件观察者
type Observer interface {
	SessionStarted()
	SessionEnded(outcome string)
	CatalogLoaded(elapsed time.Duration, targets int, err error)
	FrameProcessed(status string, elapsed time.Duration, matches int)
}

type nopObserver struct{}

func (nopObserver) SessionStarted() {}
func (nopObserver) SessionEnded(string) {}
func (nopObserver) CatalogLoaded(time.Duration, int, error) {}
func (nopObserver) FrameProcessed(string, time.Duration, int) {}

// Config 会话依赖
type Config struct {
	// ID 会话标识，为空时自动生成
	ID            string
	Catalog       string
	Source        catalog.Source
	NewRecognizer RecognizerFactory
	Options       Options
	Logger        *logger.Logger
	Observer      Observer
	// OnStateChange 状态变化回调，在会话 goroutine 中同步调用
	OnStateChange func(State)
}

// Session 一条连接上的识别会话，只由一个 goroutine 驱动
type Session struct {
	id    string
	cfg   Config
	opts  Options
	conn  Conn
	log   *logger.Logger
	obs   Observer
	state atomic.Int32

	reasm *Reassembler
	snap  *catalog.Snapshot
	rec   Recognizer

	mu          sync.Mutex
	closeCode   int
	closeReason string
	requests    atomic.Int64
}

// New 创建会话
func New(conn Conn, cfg Config) (*Session, error) {
	if conn == nil || cfg.Source == nil || cfg.NewRecognizer == nil {
		return nil, vision.NewError("session.New", vision.ErrConfiguration, errors.New("conn、source 和 recognizer 工厂不能为空"))
	}
	if err := catalog.ValidateName(cfg.Catalog); err != nil {
		return nil, vision.NewError("session.New", vision.ErrConfiguration, err)
	}

	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	base := cfg.Logger
	if base == nil {
		base = logger.Default()
	}
	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	opts := cfg.Options.withDefaults()

	return &Session{
		id:    id,
		cfg:   cfg,
		opts:  opts,
		conn:  conn,
		log:   base.With("session", id, "catalog", cfg.Catalog),
		obs:   obs,
		reasm: NewReassembler(opts.ChunkSize, opts.MaxMessageBytes),
	}, nil
}

// ID 会话标识
func (s *Session) ID() string { return s.id }

// State 当前状态
func (s *Session) State() State { return State(s.state.Load()) }

// CloseStatus 会话发送的关闭码和原因，Closed 之后有效
func (s *Session) CloseStatus() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode, s.closeReason
}

// Requests 已响应的请求数，可在其他 goroutine 中读取
func (s *Session) Requests() int { return int(s.requests.Load()) }

func (s *Session) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	s.log.Debug("状态 -> %s", st)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(st)
	}
}

// Run 驱动会话直到关闭，正常关闭返回 nil
//
// ctx 取消时以 1001 关闭连接。
func (s *Session) Run(ctx context.Context) error {
	s.obs.SessionStarted()
	outcome := OutcomeClosed
	defer func() { s.obs.SessionEnded(outcome) }()

	s.setState(StateInitializing)
	if err := s.initialize(ctx); err != nil {
		outcome = OutcomeCatalogError
		s.log.Error("会话初始化失败: %v", err)
		s.shutdown(CloseInternalError, "catalog unavailable")
		return err
	}

	s.setState(StateServing)
	s.log.Info("会话就绪，%d 个目标", s.snap.Len())

	stop := context.AfterFunc(ctx, func() {
		s.conn.Close(CloseGoingAway, "server shutting down")
	})
	defer stop()

	code, reason, err := s.serve(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrEnvelope):
		outcome = OutcomeEnvelopeError
	case ctx.Err() != nil:
		outcome = OutcomeCanceled
		err = ctx.Err()
	case errors.Is(err, errTransport):
		outcome = OutcomeTransportError
	default:
		outcome = OutcomeInternalError
	}
	if err != nil && outcome != OutcomeCanceled {
		s.log.Error("会话异常结束: %v", err)
	}

	s.shutdown(code, reason)
	s.log.Info("会话关闭: %d %s，共处理 %d 个请求", code, reason, s.requests.Load())
	return err
}

// initialize 加载目录快照并创建识别器
func (s *Session) initialize(ctx context.Context) error {
	start := time.Now()
	snap, err := catalog.Open(ctx, s.cfg.Source, s.cfg.Catalog)
	if err != nil {
		s.obs.CatalogLoaded(time.Since(start), 0, err)
		return err
	}
	s.obs.CatalogLoaded(time.Since(start), snap.Len(), nil)
	s.snap = snap

	rec, err := s.cfg.NewRecognizer()
	if err != nil {
		return fmt.Errorf("创建识别器失败: %w", err)
	}
	s.rec = rec
	return nil
}

// errTransport 连接读写失败
var errTransport = errors.New("session: transport failure")

// serve 接收 -> 处理 -> 发送，返回要发送的关闭码
func (s *Session) serve(ctx context.Context) (int, string, error) {
	for {
		msg, err := s.receive(ctx)
		if err != nil {
			var ce *CloseError
			switch {
			case errors.As(err, &ce):
				if ce.Code == CloseNoStatus {
					return CloseNormal, "", nil
				}
				return ce.Code, ce.Reason, nil
			case errors.Is(err, ErrEnvelope):
				return CloseInvalidPayload, err.Error(), err
			case ctx.Err() != nil:
				return CloseGoingAway, "server shutting down", err
			default:
				return CloseInternalError, "transport error", fmt.Errorf("%w: %v", errTransport, err)
			}
		}

		resp, err := s.handle(msg)
		if err != nil {
			if errors.Is(err, ErrEnvelope) {
				return CloseInvalidPayload, err.Error(), err
			}
			return CloseInternalError, "internal error", err
		}

		if err := s.send(ctx, resp); err != nil {
			if ctx.Err() != nil {
				return CloseGoingAway, "server shutting down", err
			}
			return CloseInternalError, "transport error", fmt.Errorf("%w: %v", errTransport, err)
		}
		s.requests.Add(1)
	}
}

// receive 读取分片直到得到一条完整消息
func (s *Session) receive(ctx context.Context) ([]byte, error) {
	for {
		chunk, err := s.conn.ReadChunk(ctx)
		if err != nil {
			return nil, err
		}
		msg, done, err := s.reasm.Feed(chunk)
		if err != nil {
			return nil, err
		}
		if done {
			return msg, nil
		}
	}
}

// handle 处理一条请求；图像解码失败只影响该请求
func (s *Session) handle(msg []byte) (*Response, error) {
	start := time.Now()
	req, err := DecodeRequest(msg)
	if err != nil {
		s.obs.FrameProcessed(FrameEnvelope, time.Since(start), 0)
		return nil, err
	}

	report, err := s.rec.Recognize(req.Query(), s.snap.Targets())
	elapsed := time.Since(start)
	ms := float64(elapsed.Microseconds()) / 1000

	switch {
	case err == nil:
		resp := NewResponse(req.ID, report)
		s.obs.FrameProcessed(FrameOK, elapsed, len(resp.Matches))
		s.log.LogEvent("FRM", true, ms, fmt.Sprintf("%s matches=%d", req.ID, len(resp.Matches)))
		return resp, nil
	case errors.Is(err, vision.ErrDecode):
		s.obs.FrameProcessed(FrameDecodeError, elapsed, 0)
		s.log.LogEvent("FRM", false, ms, fmt.Sprintf("%s %v", req.ID, err))
		return ErrorResponse(req.ID, err), nil
	default:
		s.obs.FrameProcessed(FrameError, elapsed, 0)
		return nil, fmt.Errorf("处理请求 %s 失败: %w", req.ID, err)
	}
}

// send 编码响应并按分片发送
func (s *Session) send(ctx context.Context, resp *Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	for _, chunk := range Split(data, s.opts.ChunkSize) {
		if err := s.conn.WriteChunk(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

// shutdown 回显关闭帧并释放会话资源
func (s *Session) shutdown(code int, reason string) {
	s.setState(StateClosing)
	reason = truncateReason(reason)
	s.mu.Lock()
	s.closeCode, s.closeReason = code, reason
	s.mu.Unlock()

	if err := s.conn.Close(code, reason); err != nil {
		s.log.Debug("关闭连接: %v", err)
	}
	if s.rec != nil {
		if err := s.rec.Close(); err != nil {
			s.log.Warn("释放识别器失败: %v", err)
		}
		s.rec = nil
	}
	if s.snap != nil {
		s.snap.Release()
		s.snap = nil
	}
	s.setState(StateClosed)
}

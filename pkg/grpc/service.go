package grpc

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/zoeyai/zoeysight/internal/logger"
	"github.com/zoeyai/zoeysight/pkg/session"
)

// SessionFactory 为一条连接创建会话，WebSocket 与 gRPC 共用
type SessionFactory func(conn session.Conn, catalog string) (*session.Session, error)

// Service gRPC 识别服务
type Service struct {
	newSession SessionFactory
	log        *logger.Logger
	base       context.Context
}

// NewService 创建服务
func NewService(factory SessionFactory, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{newSession: factory, log: log, base: context.Background()}
}

// WithBaseContext base 取消时所有会话以 1001 关闭
func (s *Service) WithBaseContext(base context.Context) *Service {
	s.base = base
	return s
}

// Register 注册到 gRPC server
func (s *Service) Register(srv *gogrpc.Server) {
	srv.RegisterService(&serviceDesc, s)
}

func (s *Service) session(stream gogrpc.ServerStream) error {
	md, _ := metadata.FromIncomingContext(stream.Context())
	names := md.Get(CatalogMetadataKey)
	if len(names) != 1 || names[0] == "" {
		return status.Errorf(codes.InvalidArgument, "metadata %s is required", CatalogMetadataKey)
	}

	conn := newStreamConn(stream)
	sess, err := s.newSession(conn, names[0])
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	runErr := sess.Run(ctx)
	code, reason := sess.CloseStatus()
	stream.SetTrailer(metadata.Pairs(
		CloseCodeTrailer, strconv.Itoa(code),
		CloseReasonTrailer, reason,
	))

	if runErr != nil && stream.Context().Err() != nil {
		return status.FromContextError(stream.Context().Err()).Err()
	}
	if runErr != nil {
		s.log.Debug("gRPC 会话 %s 结束: %v", sess.ID(), runErr)
	}
	return nil
}

// streamConn 将服务端流适配为 session.Conn
//
// RecvMsg 无法被中断，因此由单独的 goroutine 读取，Close 后 ReadChunk 立即返回。
type streamConn struct {
	stream gogrpc.ServerStream
	recv   chan recvResult

	closeOnce sync.Once
	closed    chan struct{}
}

type recvResult struct {
	chunk []byte
	err   error
}

func newStreamConn(stream gogrpc.ServerStream) *streamConn {
	c := &streamConn{
		stream: stream,
		recv:   make(chan recvResult, 1),
		closed: make(chan struct{}),
	}
	go c.recvLoop()
	return c
}

// recvLoop 在 handler 返回、流被取消后退出
func (c *streamConn) recvLoop() {
	for {
		msg := new(wrapperspb.BytesValue)
		err := c.stream.RecvMsg(msg)
		select {
		case c.recv <- recvResult{chunk: msg.GetValue(), err: err}:
		case <-c.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

// ReadChunk 客户端 CloseSend 视为正常关闭帧
func (c *streamConn) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case r := <-c.recv:
		if errors.Is(r.err, io.EOF) {
			return nil, &session.CloseError{Code: session.CloseNormal}
		}
		return r.chunk, r.err
	case <-c.closed:
		return nil, errStreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var errStreamClosed = errors.New("grpc: stream closed")

func (c *streamConn) WriteChunk(ctx context.Context, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.closed:
		return errStreamClosed
	default:
	}
	return c.stream.SendMsg(wrapperspb.Bytes(chunk))
}

// Close 关闭码由 handler 在会话结束后写入 trailer
func (c *streamConn) Close(int, string) error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

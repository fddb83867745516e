package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/zoeyai/zoeysight/pkg/session"
)

var sessionStreamDesc = &gogrpc.StreamDesc{
	StreamName:    "Session",
	ServerStreams: true,
	ClientStreams: true,
}

// Client gRPC 识别客户端
type Client struct {
	conn *gogrpc.ClientConn
}

// Dial 创建客户端，未指定选项时使用明文连接
func Dial(target string, opts ...gogrpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []gogrpc.DialOption{gogrpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := gogrpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("创建 gRPC 连接失败: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close 关闭底层连接
func (c *Client) Close() error {
	return c.conn.Close()
}

// OpenSession 打开一个识别会话，chunkSize <= 0 时使用默认分片大小
func (c *Client) OpenSession(ctx context.Context, catalog string, chunkSize int) (*Session, error) {
	if chunkSize <= 0 {
		chunkSize = session.DefaultChunkSize
	}
	ctx = metadata.AppendToOutgoingContext(ctx, CatalogMetadataKey, catalog)
	stream, err := c.conn.NewStream(ctx, sessionStreamDesc, SessionMethod)
	if err != nil {
		return nil, fmt.Errorf("打开会话失败: %w", err)
	}
	return &Session{
		stream:    stream,
		chunkSize: chunkSize,
		reasm:     session.NewReassembler(chunkSize, 0),
	}, nil
}

// Session 客户端侧的 gRPC 会话，请求按顺序发送
type Session struct {
	stream    gogrpc.ClientStream
	chunkSize int
	reasm     *session.Reassembler

	mu     sync.Mutex
	closed bool
	code   int
	reason string
}

// Recognize 发送一条请求并等待对应响应
func (s *Session) Recognize(req *session.Request) (*session.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("会话已关闭")
	}

	data, err := session.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	for _, chunk := range session.Split(data, s.chunkSize) {
		if err := s.stream.SendMsg(wrapperspb.Bytes(chunk)); err != nil {
			return nil, s.streamErr(err)
		}
	}

	for {
		msg := new(wrapperspb.BytesValue)
		if err := s.stream.RecvMsg(msg); err != nil {
			return nil, s.streamErr(err)
		}
		payload, done, err := s.reasm.Feed(msg.GetValue())
		if err != nil {
			return nil, err
		}
		if done {
			return session.DecodeResponse(payload)
		}
	}
}

// streamErr 服务端主动结束流时转换为 CloseError
func (s *Session) streamErr(err error) error {
	if !errors.Is(err, io.EOF) {
		return err
	}
	// SendMsg 返回 EOF 时真实状态需由 RecvMsg 取得
	for {
		if rerr := s.stream.RecvMsg(new(wrapperspb.BytesValue)); rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				return rerr
			}
			break
		}
	}
	s.closed = true
	s.readTrailer()
	return &session.CloseError{Code: s.code, Reason: s.reason}
}

// Close 半关闭发送方向，等待服务端回显的关闭状态
func (s *Session) Close() (int, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.code, s.reason, nil
	}
	s.closed = true

	if err := s.stream.CloseSend(); err != nil {
		return 0, "", err
	}
	for {
		if err := s.stream.RecvMsg(new(wrapperspb.BytesValue)); err != nil {
			if !errors.Is(err, io.EOF) {
				return 0, "", err
			}
			break
		}
	}
	s.readTrailer()
	return s.code, s.reason, nil
}

func (s *Session) readTrailer() {
	tr := s.stream.Trailer()
	if v := tr.Get(CloseCodeTrailer); len(v) > 0 {
		s.code, _ = strconv.Atoi(v[0])
	}
	if v := tr.Get(CloseReasonTrailer); len(v) > 0 {
		s.reason = v[0]
	}
}

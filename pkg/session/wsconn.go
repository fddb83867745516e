package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// defaultCloseTimeout 发送关闭帧的超时
const defaultCloseTimeout = 5 * time.Second

// WSConn 基于 gorilla/websocket 的会话传输，一个二进制消息对应一个分片
type WSConn struct {
	conn         *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWSConn 包装已升级的 websocket 连接
//
// 默认的关闭帧自动回显被替换，由会话在 Closing 阶段显式回显。
func NewWSConn(conn *websocket.Conn, opts Options) *WSConn {
	opts = opts.withDefaults()
	c := &WSConn{
		conn:         conn,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
	}
	// 单个消息最多是标志字节加一个分片
	conn.SetReadLimit(int64(opts.ChunkSize) + 1)
	conn.SetCloseHandler(func(code int, text string) error {
		return nil
	})
	return c
}

// ReadChunk 读取一个分片
func (c *WSConn) ReadChunk(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.readTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			switch ce.Code {
			case websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure:
				return nil, &CloseError{Code: CloseNoStatus}
			default:
				return nil, &CloseError{Code: ce.Code, Reason: ce.Text}
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, envelopeError("ReadChunk", err)
		}
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, envelopeError("ReadChunk", errors.New("分片必须是二进制消息"))
	}
	return data, nil
}

// WriteChunk 写入一个分片
func (c *WSConn) WriteChunk(ctx context.Context, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

// Close 发送关闭帧并关闭底层连接
func (c *WSConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		timeout := c.writeTimeout
		if timeout <= 0 {
			timeout = defaultCloseTimeout
		}
		msg := websocket.FormatCloseMessage(code, truncateReason(reason))
		err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			err = nil
		}
		c.closeErr = errors.Join(err, c.conn.Close())
	})
	return c.closeErr
}

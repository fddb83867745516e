// Package client 提供识别会话的 WebSocket 客户端
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zoeyai/zoeysight/internal/logger"
	"github.com/zoeyai/zoeysight/pkg/session"
)

// ErrNotConnected 未连接
var ErrNotConnected = errors.New("client: not connected")

type result struct {
	resp *session.Response
	err  error
}

// Client WebSocket 会话客户端
//
// 一个 Client 同一时间只持有一个会话；断线后不会自动重连，
// 重新 Connect 会得到新的目录快照。
type Client struct {
	config *ClientConfig
	conn   *websocket.Conn
	log    *logger.Logger

	isConnected bool
	catalog     string

	responses chan result
	done      chan struct{}
	wg        sync.WaitGroup

	closeCode   int
	closeReason string

	reqMu   sync.Mutex // Recognize 顺序执行
	writeMu sync.Mutex

	onStatusChange StatusCallback

	logs   []LogEntry
	logsMu sync.Mutex

	mu sync.RWMutex
}

// NewClient 创建新的 WebSocket 客户端
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	d := DefaultConfig()
	if config.ChunkSize <= 0 {
		config.ChunkSize = d.ChunkSize
	}
	if config.MaxMessageBytes <= 0 {
		config.MaxMessageBytes = d.MaxMessageBytes
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = d.HandshakeTimeout
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = d.CloseTimeout
	}
	return &Client{
		config: config,
		log:    logger.Default().With("component", "client"),
		logs:   make([]LogEntry, 0, maxLogEntries),
	}
}

// SetLogger 替换内部 logger
func (c *Client) SetLogger(l *logger.Logger) {
	c.mu.Lock()
	c.log = l
	c.mu.Unlock()
}

// Connect 连接到服务端并打开 catalog 对应的会话
func (c *Client) Connect(serverURL, catalog string) error {
	c.mu.Lock()
	if c.isConnected {
		c.mu.Unlock()
		return errors.New("client: already connected")
	}
	c.config.ServerURL = serverURL
	c.config.Catalog = catalog
	c.mu.Unlock()

	return c.doConnect()
}

// buildWsURL 根据 serverURL 构建会话 URL
// 支持多种输入格式：
//   - localhost:8080 → ws://localhost:8080/ws/session/{catalog}
//   - http://localhost:8080 → ws://localhost:8080/ws/session/{catalog}
//   - https://example.com → wss://example.com/ws/session/{catalog}
//   - wss://example.com/custom → 保留原路径
//   - example.com → wss://example.com/ws/session/{catalog}（域名默认 wss）
func buildWsURL(serverURL, catalog string) string {
	path := "/ws/session/" + url.PathEscape(catalog)

	if strings.HasPrefix(serverURL, "ws://") || strings.HasPrefix(serverURL, "wss://") {
		u, err := url.Parse(serverURL)
		if err == nil {
			if u.Path == "" || u.Path == "/" {
				u.Path = "/ws/session/" + catalog
				u.RawPath = path
			}
			return u.String()
		}
		return serverURL
	}

	// http:// → ws://，https:// → wss://
	if rest, ok := strings.CutPrefix(serverURL, "http://"); ok {
		return "ws://" + strings.TrimSuffix(rest, "/") + path
	}
	if rest, ok := strings.CutPrefix(serverURL, "https://"); ok {
		return "wss://" + strings.TrimSuffix(rest, "/") + path
	}

	if isLocalAddress(serverURL) {
		return "ws://" + serverURL + path
	}
	return "wss://" + serverURL + path
}

// isLocalAddress 判断是否为本地地址
func isLocalAddress(addr string) bool {
	host := addr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	host = strings.Trim(host, "[]")
	return host == "localhost" || host == "127.0.0.1" || host == "0.0.0.0" || host == "::1"
}

// doConnect 执行连接
func (c *Client) doConnect() error {
	c.mu.RLock()
	serverURL := c.config.ServerURL
	catalog := c.config.Catalog
	handshake := c.config.HandshakeTimeout
	maxBytes := c.config.MaxMessageBytes
	c.mu.RUnlock()

	wsURL := buildWsURL(serverURL, catalog)
	c.Log("INFO", fmt.Sprintf("Connecting to %s...", wsURL))
	c.setStatus(StatusConnecting)

	dialer := websocket.Dialer{
		HandshakeTimeout: handshake,
	}
	header := http.Header{}
	header.Set("User-Agent", "zoeysight-client/"+Version)

	conn, _, err := dialer.Dial(wsURL, header)
	if err != nil {
		c.Log("ERROR", fmt.Sprintf("WebSocket connection failed: %v", err))
		c.setStatus(StatusDisconnected)
		return fmt.Errorf("连接失败: %w", err)
	}
	conn.SetReadLimit(int64(maxBytes) + 1)

	c.mu.Lock()
	c.conn = conn
	c.catalog = catalog
	c.isConnected = true
	c.closeCode, c.closeReason = 0, ""
	c.responses = make(chan result, 16)
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.Log("INFO", fmt.Sprintf("Session opened on catalog %s", catalog))
	c.setStatus(StatusConnected)

	c.wg.Add(1)
	go c.receiveLoop(conn, c.responses, c.done)
	return nil
}

// receiveLoop 接收分片并重组为响应
func (c *Client) receiveLoop(conn *websocket.Conn, out chan<- result, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)

	c.mu.RLock()
	reasm := session.NewReassembler(c.config.ChunkSize, c.config.MaxMessageBytes)
	c.mu.RUnlock()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if mt != websocket.BinaryMessage {
			c.Log("WARN", "Ignoring non-binary message")
			continue
		}

		msg, complete, err := reasm.Feed(data)
		if err != nil {
			c.Log("ERROR", fmt.Sprintf("Malformed response chunk: %v", err))
			c.deliver(out, result{err: err})
			continue
		}
		if !complete {
			continue
		}
		resp, err := session.DecodeResponse(msg)
		c.deliver(out, result{resp: resp, err: err})
	}
}

// deliver 没有等待者时丢弃多余的响应
func (c *Client) deliver(out chan<- result, r result) {
	select {
	case out <- r:
	default:
		c.Log("WARN", "Response queue full, dropping response")
	}
}

// handleReadError 记录关闭状态，不自动重连
func (c *Client) handleReadError(err error) {
	var ce *websocket.CloseError
	c.mu.Lock()
	if errors.As(err, &ce) {
		c.closeCode, c.closeReason = ce.Code, ce.Text
	} else if c.closeCode == 0 {
		c.closeCode = websocket.CloseAbnormalClosure
	}
	code, reason := c.closeCode, c.closeReason
	c.isConnected = false
	c.mu.Unlock()

	if code == websocket.CloseNormalClosure {
		c.Log("INFO", "Session closed")
	} else {
		c.Log("WARN", fmt.Sprintf("Session closed: %d %s", code, reason))
	}
	c.setStatus(StatusDisconnected)
}

// Recognize 发送一条请求并等待对应响应，请求按调用顺序串行处理
func (c *Client) Recognize(ctx context.Context, req *session.Request) (*session.Response, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.mu.RLock()
	conn, responses, done := c.conn, c.responses, c.done
	connected := c.isConnected
	chunkSize := c.config.ChunkSize
	c.mu.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}
	if !connected {
		return nil, c.closeErr()
	}

	data, err := session.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	for _, chunk := range session.Split(data, chunkSize) {
		if err := c.writeChunk(ctx, conn, chunk); err != nil {
			// 服务端已关闭时优先返回关闭状态
			select {
			case <-done:
				return nil, c.closeErr()
			case <-time.After(time.Second):
				return nil, fmt.Errorf("发送请求失败: %w", err)
			}
		}
	}

	// 之前被取消的请求，其响应可能仍在队列中，按 id 丢弃
	for {
		select {
		case r := <-responses:
			if c.stale(req, r) {
				continue
			}
			if r.err == nil {
				c.Log("DEBUG", fmt.Sprintf("Request %s answered in %s", req.ID, time.Since(start)))
			}
			return r.resp, r.err
		case <-done:
			// 关闭前已到达的响应仍然有效
			for {
				select {
				case r := <-responses:
					if c.stale(req, r) {
						continue
					}
					return r.resp, r.err
				default:
				}
				return nil, c.closeErr()
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// stale 响应属于更早的请求
func (c *Client) stale(req *session.Request, r result) bool {
	if r.err != nil || r.resp == nil || r.resp.RequestID == req.ID {
		return false
	}
	c.Log("WARN", fmt.Sprintf("Dropping stale response %s while waiting for %s", r.resp.RequestID, req.ID))
	return true
}

func (c *Client) writeChunk(ctx context.Context, conn *websocket.Conn, chunk []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}
	return conn.WriteMessage(websocket.BinaryMessage, chunk)
}

func (c *Client) closeErr() error {
	code, reason := c.CloseStatus()
	return &session.CloseError{Code: code, Reason: reason}
}

// Disconnect 发送 1000 关闭帧并等待服务端回显
func (c *Client) Disconnect() error {
	return c.DisconnectWithCode(websocket.CloseNormalClosure, "")
}

// DisconnectWithCode 以指定关闭码断开
func (c *Client) DisconnectWithCode(code int, reason string) error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	timeout := c.config.CloseTimeout
	c.mu.Unlock()

	c.setStatus(StatusClosing)

	msg := websocket.FormatCloseMessage(code, reason)
	err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.Log("WARN", fmt.Sprintf("Failed to send close frame: %v", err))
	}

	select {
	case <-done:
	case <-time.After(timeout):
		c.Log("WARN", "Timed out waiting for close echo")
	}

	conn.Close()
	c.wg.Wait()

	c.mu.Lock()
	c.conn = nil
	c.isConnected = false
	c.mu.Unlock()

	c.Log("INFO", "Disconnected")
	c.setStatus(StatusDisconnected)
	return nil
}

// CloseStatus 服务端发送的关闭码和原因，连接期间为 0
func (c *Client) CloseStatus() (int, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closeCode, c.closeReason
}

// GetStatus 获取当前状态和目录名
func (c *Client) GetStatus() (ClientStatus, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := StatusDisconnected
	if c.isConnected {
		status = StatusConnected
	}
	return status, c.catalog
}

// IsConnected 检查是否已连接
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// SetStatusCallback 设置状态变更回调
func (c *Client) SetStatusCallback(callback StatusCallback) {
	c.mu.Lock()
	c.onStatusChange = callback
	c.mu.Unlock()
}

// setStatus 设置状态并触发回调
func (c *Client) setStatus(status ClientStatus) {
	c.mu.RLock()
	callback := c.onStatusChange
	c.mu.RUnlock()

	if callback != nil {
		callback(status)
	}
}

// Log 记录日志
func (c *Client) Log(level, message string) {
	entry := LogEntry{
		Timestamp: time.Now().Format("2006-01-02 15:04:05"),
		Level:     level,
		Message:   message,
	}

	c.logsMu.Lock()
	c.logs = append(c.logs, entry)
	if len(c.logs) > maxLogEntries {
		c.logs = c.logs[len(c.logs)-maxLogEntries:]
	}
	c.logsMu.Unlock()

	c.mu.RLock()
	l := c.log
	c.mu.RUnlock()
	switch logger.ParseLevel(level) {
	case logger.DEBUG:
		l.Debug("%s", message)
	case logger.WARN:
		l.Warn("%s", message)
	case logger.ERROR:
		l.Error("%s", message)
	default:
		l.Info("%s", message)
	}
}

// GetLogs 获取最近 limit 条日志
func (c *Client) GetLogs(limit int) []LogEntry {
	c.logsMu.Lock()
	defer c.logsMu.Unlock()

	if limit <= 0 || limit > len(c.logs) {
		limit = len(c.logs)
	}

	result := make([]LogEntry, limit)
	copy(result, c.logs[len(c.logs)-limit:])
	return result
}

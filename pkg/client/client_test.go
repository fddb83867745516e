package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zoeyai/zoeysight/internal/logger"
	"github.com/zoeyai/zoeysight/pkg/catalog"
	"github.com/zoeyai/zoeysight/pkg/session"
	"github.com/zoeyai/zoeysight/pkg/vision"
)

func quietLogger() *logger.Logger {
	l := logger.New()
	l.SetEnabled(false)
	return l
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.ChunkSize != session.DefaultChunkSize {
		t.Errorf("ChunkSize 应为 %d, 实际为 %d", session.DefaultChunkSize, config.ChunkSize)
	}
	if config.HandshakeTimeout != 10*time.Second {
		t.Errorf("HandshakeTimeout 应为 10s, 实际为 %v", config.HandshakeTimeout)
	}

	t.Logf("默认配置: %+v", config)
}

func TestNewClient(t *testing.T) {
	client := NewClient(nil)

	if client == nil {
		t.Fatal("NewClient 返回 nil")
	}
	if client.config == nil {
		t.Error("client.config 不应为 nil")
	}
	if client.IsConnected() {
		t.Error("新建的客户端不应处于连接状态")
	}

	status, catalogName := client.GetStatus()
	if status != StatusDisconnected {
		t.Errorf("新建客户端状态应为 disconnected, 实际为 %s", status)
	}
	if catalogName != "" {
		t.Error("新建客户端目录名应为空")
	}

	if _, err := client.Recognize(context.Background(), &session.Request{ID: "x"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("未连接时应返回 ErrNotConnected, got %v", err)
	}
	if err := client.Disconnect(); err != nil {
		t.Errorf("未连接时断开不应报错: %v", err)
	}
}

func TestBuildWsURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"localhost:8080", "ws://localhost:8080/ws/session/posters"},
		{"127.0.0.1:8080", "ws://127.0.0.1:8080/ws/session/posters"},
		{"http://localhost:8080", "ws://localhost:8080/ws/session/posters"},
		{"http://localhost:8080/", "ws://localhost:8080/ws/session/posters"},
		{"https://example.com", "wss://example.com/ws/session/posters"},
		{"wss://example.com", "wss://example.com/ws/session/posters"},
		{"wss://example.com/custom/path", "wss://example.com/custom/path"},
		{"example.com", "wss://example.com/ws/session/posters"},
	}
	for _, tt := range tests {
		if got := buildWsURL(tt.in, "posters"); got != tt.want {
			t.Errorf("buildWsURL(%q) = %q, 期望 %q", tt.in, got, tt.want)
		}
	}

	if got := buildWsURL("localhost:8080", "summer sale"); got != "ws://localhost:8080/ws/session/summer%20sale" {
		t.Errorf("目录名应被转义: %s", got)
	}
}

func TestIsLocalAddress(t *testing.T) {
	for _, addr := range []string{"localhost:1", "127.0.0.1:80", "0.0.0.0:9", "[::1]:8080"} {
		if !isLocalAddress(addr) {
			t.Errorf("%s 应为本地地址", addr)
		}
	}
	for _, addr := range []string{"example.com", "10.0.0.2:80"} {
		if isLocalAddress(addr) {
			t.Errorf("%s 不应为本地地址", addr)
		}
	}
}

func TestClientCallbacks(t *testing.T) {
	client := NewClient(nil)

	var receivedStatus ClientStatus
	client.SetStatusCallback(func(status ClientStatus) {
		receivedStatus = status
	})

	client.setStatus(StatusConnecting)
	if receivedStatus != StatusConnecting {
		t.Errorf("状态回调未正确触发: 期望 %s, 实际 %s", StatusConnecting, receivedStatus)
	}
}

func TestClientLogs(t *testing.T) {
	client := NewClient(nil)
	client.SetLogger(quietLogger())

	client.Log("INFO", "Test message 1")
	client.Log("WARN", "Test message 2")
	client.Log("ERROR", "Test message 3")

	logs := client.GetLogs(10)
	if len(logs) != 3 {
		t.Errorf("日志数量应为 3, 实际为 %d", len(logs))
	}
	if logs[0].Level != "INFO" || logs[0].Message != "Test message 1" {
		t.Error("第一条日志内容不正确")
	}

	for i := 0; i < maxLogEntries+20; i++ {
		client.Log("DEBUG", fmt.Sprintf("m%d", i))
	}
	all := client.GetLogs(0)
	if len(all) != maxLogEntries {
		t.Errorf("日志应保留 %d 条, 实际为 %d", maxLogEntries, len(all))
	}
	if last := all[len(all)-1].Message; last != fmt.Sprintf("m%d", maxLogEntries+19) {
		t.Errorf("最后一条日志错误: %s", last)
	}
}

// stubRecognizer 每个目标返回一个固定结果，delay 中的请求延迟处理
type stubRecognizer struct {
	delay map[string]time.Duration
}

func (s stubRecognizer) Recognize(q vision.Query, targets []vision.TargetRecord) (vision.MatchReport, error) {
	if d := s.delay[q.ID]; d > 0 {
		time.Sleep(d)
	}
	var results []vision.MatchResult
	for _, tgt := range targets {
		results = append(results, vision.MatchResult{
			TargetID:  tgt.ID,
			Corners:   [4]vision.Point{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 4}, {X: 0, Y: 4}},
			Center:    vision.Point{X: 2, Y: 2},
			Size:      vision.Size{Width: 4, Height: 4},
			Transform: vision.Identity(),
		})
	}
	return vision.NewMatchReport(results), nil
}

func (stubRecognizer) Close() error { return nil }

// newSessionServer 启动一个只提供 /ws/session/{catalog} 的测试服务
func newSessionServer(t *testing.T, chunkSize int) *httptest.Server {
	t.Helper()
	return newSessionServerWith(t, chunkSize, stubRecognizer{})
}

func newSessionServerWith(t *testing.T, chunkSize int, rec stubRecognizer) *httptest.Server {
	t.Helper()
	src := catalog.NewMemorySource()
	records := []vision.TargetRecord{{
		ID:          "cover",
		FrameWidth:  32,
		FrameHeight: 32,
		Fingerprint: vision.FingerprintSet{
			Keypoints:   []vision.Keypoint{{X: 3, Y: 4}},
			Descriptors: vision.Descriptors{Rows: 1, Cols: 2, Data: []float32{1, 2}},
		},
	}}
	if err := src.Put(context.Background(), "posters", records); err != nil {
		t.Fatalf("Put 失败: %v", err)
	}

	var wg sync.WaitGroup
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/ws/session/")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		opts := session.Options{ChunkSize: chunkSize}
		sess, err := session.New(session.NewWSConn(ws, opts), session.Config{
			Catalog:       name,
			Source:        src,
			NewRecognizer: func() (session.Recognizer, error) { return rec, nil },
			Options:       opts,
			Logger:        quietLogger(),
		})
		if err != nil {
			ws.Close()
			return
		}
		wg.Add(1)
		defer wg.Done()
		sess.Run(context.Background())
	}))
	t.Cleanup(func() {
		srv.Close()
		wg.Wait()
	})
	return srv
}

func TestClientSession(t *testing.T) {
	srv := newSessionServer(t, 48)

	client := NewClient(&ClientConfig{ChunkSize: 48})
	client.SetLogger(quietLogger())

	var mu sync.Mutex
	var statuses []ClientStatus
	client.SetStatusCallback(func(s ClientStatus) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	})

	if err := client.Connect(srv.URL, "posters"); err != nil {
		t.Fatalf("Connect 失败: %v", err)
	}
	if !client.IsConnected() {
		t.Fatal("连接后应处于连接状态")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("frame-%d", i)
		resp, err := client.Recognize(ctx, &session.Request{ID: id, Image: []byte(strings.Repeat("p", 120))})
		if err != nil {
			t.Fatalf("Recognize %s 失败: %v", id, err)
		}
		if resp.RequestID != id {
			t.Errorf("响应 id 错误: 期望 %s, 实际 %s", id, resp.RequestID)
		}
		if !resp.HasMatches || resp.Matches[0].TargetID != "cover" {
			t.Errorf("匹配结果错误: %+v", resp)
		}
	}

	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect 失败: %v", err)
	}
	if code, reason := client.CloseStatus(); code != websocket.CloseNormalClosure || reason != "" {
		t.Errorf("服务端应回显 1000, got %d %q", code, reason)
	}
	if client.IsConnected() {
		t.Error("断开后不应处于连接状态")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) < 3 || statuses[0] != StatusConnecting || statuses[1] != StatusConnected {
		t.Errorf("状态序列错误: %v", statuses)
	}
	if statuses[len(statuses)-1] != StatusDisconnected {
		t.Errorf("最终状态应为 disconnected: %v", statuses)
	}
}

func TestClientUnknownCatalog(t *testing.T) {
	srv := newSessionServer(t, 0)

	client := NewClient(nil)
	client.SetLogger(quietLogger())
	if err := client.Connect(srv.URL, "missing"); err != nil {
		t.Fatalf("Connect 失败: %v", err)
	}
	defer client.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Recognize(ctx, &session.Request{ID: "f1", Image: []byte("x")})

	var ce *session.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("应返回 CloseError, got %v", err)
	}
	if ce.Code != session.CloseInternalError || ce.Reason != "catalog unavailable" {
		t.Errorf("关闭状态错误: %d %q", ce.Code, ce.Reason)
	}
}

func TestClientDropsResponseOfCanceledRequest(t *testing.T) {
	srv := newSessionServerWith(t, 48, stubRecognizer{delay: map[string]time.Duration{"slow": 300 * time.Millisecond}})

	client := NewClient(&ClientConfig{ChunkSize: 48})
	client.SetLogger(quietLogger())
	if err := client.Connect(srv.URL, "posters"); err != nil {
		t.Fatalf("Connect 失败: %v", err)
	}
	defer client.Disconnect()

	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	if _, err := client.Recognize(short, &session.Request{ID: "slow", Image: []byte("s")}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("应超时, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Recognize(ctx, &session.Request{ID: "fast", Image: []byte("f")})
	if err != nil {
		t.Fatalf("Recognize 失败: %v", err)
	}
	if resp.RequestID != "fast" {
		t.Errorf("取消请求的响应不应被当作后续请求的响应: %s", resp.RequestID)
	}
}

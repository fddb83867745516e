package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zoeyai/zoeysight/internal/logger"
	"github.com/zoeyai/zoeysight/pkg/catalog"
	"github.com/zoeyai/zoeysight/pkg/vision"
)

func TestWSConnSession(t *testing.T) {
	src := catalog.NewMemorySource()
	if err := src.Put(context.Background(), "posters", testRecords("a")); err != nil {
		t.Fatalf("Put 失败: %v", err)
	}
	quiet := logger.New()
	quiet.SetEnabled(false)

	result := make(chan error, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			result <- err
			return
		}
		opts := Options{ChunkSize: 64}
		sess, err := New(NewWSConn(ws, opts), Config{
			Catalog:       "posters",
			Source:        src,
			NewRecognizer: func() (Recognizer, error) { return &fakeRecognizer{fn: matchEveryTarget}, nil },
			Options:       opts,
			Logger:        quiet,
		})
		if err != nil {
			result <- err
			return
		}
		result <- sess.Run(r.Context())
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	defer client.Close()

	for _, id := range []string{"r1", "r2"} {
		data, _ := EncodeRequest(&Request{ID: id, Image: []byte(strings.Repeat("x", 200))})
		for _, chunk := range Split(data, 64) {
			if err := client.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				t.Fatalf("发送失败: %v", err)
			}
		}
	}

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	reasm := NewReassembler(64, 0)
	var got []*Response
	for len(got) < 2 {
		mt, chunk, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("读取失败: %v", err)
		}
		if mt != websocket.BinaryMessage {
			t.Fatalf("响应应为二进制消息: %d", mt)
		}
		msg, done, err := reasm.Feed(chunk)
		if err != nil {
			t.Fatalf("重组失败: %v", err)
		}
		if done {
			resp, err := DecodeResponse(msg)
			if err != nil {
				t.Fatalf("解析失败: %v", err)
			}
			got = append(got, resp)
		}
	}
	if got[0].RequestID != "r1" || got[1].RequestID != "r2" {
		t.Errorf("响应顺序错误: %s %s", got[0].RequestID, got[1].RequestID)
	}

	// 发送关闭帧，服务端应回显相同的关闭码和原因
	closeMsg := websocket.FormatCloseMessage(4000, "client done")
	if err := client.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("发送关闭帧失败: %v", err)
	}
	_, _, err = client.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != 4000 || ce.Text != "client done" {
		t.Errorf("应收到回显的关闭帧, got %v", err)
	}

	select {
	case err := <-result:
		if err != nil {
			t.Errorf("会话应正常结束: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("会话未结束")
	}
}

func TestWSConnRejectsTextMessage(t *testing.T) {
	result := make(chan error, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			result <- err
			return
		}
		conn := NewWSConn(ws, DefaultOptions())
		_, err = conn.ReadChunk(r.Context())
		conn.Close(CloseInvalidPayload, "binary only")
		result <- err
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	defer client.Close()

	if err := client.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	select {
	case err := <-result:
		if !errors.Is(err, ErrEnvelope) || !errors.Is(err, vision.ErrDecode) {
			t.Errorf("文本消息应返回信封错误, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("超时")
	}
}

func TestWSConnRejectsOversizedFrame(t *testing.T) {
	result := make(chan error, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			result <- err
			return
		}
		conn := NewWSConn(ws, Options{ChunkSize: 32})
		defer conn.Close(CloseInvalidPayload, "")
		_, err = conn.ReadChunk(r.Context())
		result <- err
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	defer client.Close()

	// 标志字节 + 33 字节负载，超过一个分片
	if err := client.WriteMessage(websocket.BinaryMessage, make([]byte, 34)); err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	select {
	case err := <-result:
		if !errors.Is(err, ErrEnvelope) {
			t.Errorf("超长分片应返回 ErrEnvelope, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("等待读取结果超时")
	}
}

package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	l := New()
	var buf bytes.Buffer
	l.SetOutput(&buf)
	return l, &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"ERROR", ERROR},
		{"unknown", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelFilter(t *testing.T) {
	l, buf := newBufferLogger(t)
	l.SetLevel(WARN)

	l.Info("不应输出 %d", 1)
	l.Warn("应该输出 %d", 2)

	out := buf.String()
	if strings.Contains(out, "不应输出") {
		t.Errorf("INFO 日志不应输出: %q", out)
	}
	if !strings.Contains(out, "应该输出 2") || !strings.Contains(out, "WARN") {
		t.Errorf("WARN 日志缺失: %q", out)
	}
	if l.GetLevel() != WARN {
		t.Errorf("GetLevel = %v", l.GetLevel())
	}
}

func TestSetEnabled(t *testing.T) {
	l, buf := newBufferLogger(t)
	l.SetEnabled(false)
	l.Error("静默")
	if buf.Len() != 0 {
		t.Errorf("禁用后不应输出: %q", buf.String())
	}
}

func TestWithFields(t *testing.T) {
	l, buf := newBufferLogger(t)
	child := l.With("session", "s-42", "catalog", "posters")
	child.Info("会话开始")

	out := buf.String()
	for _, want := range []string{"会话开始", "s-42", "posters"} {
		if !strings.Contains(out, want) {
			t.Errorf("输出缺少 %q: %q", want, out)
		}
	}

	// 子 logger 共享级别
	buf.Reset()
	l.SetLevel(ERROR)
	child.Info("被过滤")
	if buf.Len() != 0 {
		t.Errorf("子 logger 应共享级别: %q", buf.String())
	}
}

func TestLogEvent(t *testing.T) {
	l, buf := newBufferLogger(t)
	l.LogEvent("FRM", false, 12.5, "decode failed")
	out := buf.String()
	if !strings.Contains(out, "NG") || !strings.Contains(out, "ERROR") || !strings.Contains(out, "12.5ms") {
		t.Errorf("事件日志格式错误: %q", out)
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zoeysight.log")
	l, _ := newBufferLogger(t)
	if err := l.SetFile(true, path); err != nil {
		t.Fatalf("SetFile 失败: %v", err)
	}
	l.With("requestId", "r1").Info("写入文件")
	if err := l.Close(); err != nil {
		t.Fatalf("Close 失败: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("文件日志应为 JSON: %v (%q)", err, data)
	}
	if entry["msg"] != "写入文件" || entry["requestId"] != "r1" {
		t.Errorf("文件日志内容错误: %v", entry)
	}
}

func TestNewWithEnv(t *testing.T) {
	if _, err := NewWithEnv("staging"); err == nil {
		t.Error("未知环境应报错")
	}
	l, err := NewWithEnv("prod")
	if err != nil {
		t.Fatalf("NewWithEnv(prod) 失败: %v", err)
	}
	var buf bytes.Buffer
	l.SetOutput(&buf)
	l.Info("json")
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("prod 环境应输出 JSON: %q", buf.String())
	}
}

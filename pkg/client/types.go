package client

import (
	"time"

	"github.com/zoeyai/zoeysight/pkg/session"
)

// ClientStatus 客户端状态
type ClientStatus string

const (
	StatusDisconnected ClientStatus = "disconnected"
	StatusConnecting   ClientStatus = "connecting"
	StatusConnected    ClientStatus = "connected"
	StatusClosing      ClientStatus = "closing"
)

// ClientConfig 客户端配置
type ClientConfig struct {
	// ServerURL 服务端地址 (host:port 或完整 URL)
	ServerURL string
	// Catalog 会话使用的目录名
	Catalog string
	// ChunkSize 请求分片大小，需与服务端一致
	ChunkSize int
	// MaxMessageBytes 单条响应上限
	MaxMessageBytes int
	// HandshakeTimeout 握手超时
	HandshakeTimeout time.Duration
	// CloseTimeout 等待服务端回显关闭帧的时间
	CloseTimeout time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		ChunkSize:        session.DefaultChunkSize,
		MaxMessageBytes:  session.DefaultMaxMessageBytes,
		HandshakeTimeout: 10 * time.Second,
		CloseTimeout:     5 * time.Second,
	}
}

// StatusCallback 状态变更回调函数
type StatusCallback func(status ClientStatus)

// LogEntry 日志条目
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// Version 版本号
const Version = "1.0.0"

// maxLogEntries 保留的日志条数
const maxLogEntries = 500

package session

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// 关闭码，与 WebSocket 定义一致
const (
	CloseNormal         = 1000
	CloseGoingAway      = 1001
	CloseNoStatus       = 1005
	CloseInvalidPayload = 1007
	CloseInternalError  = 1011
)

// CloseError 对端发送了关闭控制帧
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("session closed: %d %s", e.Code, e.Reason)
}

// Conn 会话传输层，一次读写一个分片
//
// ReadChunk 在收到关闭控制帧时返回 *CloseError。
// Close 发送关闭帧并释放传输，可重复调用。
type Conn interface {
	ReadChunk(ctx context.Context) ([]byte, error)
	WriteChunk(ctx context.Context, chunk []byte) error
	Close(code int, reason string) error
}

// maxReasonBytes 关闭帧负载上限 125 字节，减去 2 字节关闭码
const maxReasonBytes = 123

// truncateReason 按 UTF-8 边界截断关闭原因
func truncateReason(reason string) string {
	if len(reason) <= maxReasonBytes {
		return reason
	}
	cut := maxReasonBytes
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

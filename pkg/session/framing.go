package session

import (
	"errors"
	"fmt"

	"github.com/zoeyai/zoeysight/pkg/vision"
)

const (
	// DefaultChunkSize 每个分片的最大负载字节数
	DefaultChunkSize = 4096
	// DefaultMaxMessageBytes 重组后单条消息的上限
	DefaultMaxMessageBytes = 16 << 20

	// flagFinal 分片标志位：消息的最后一片
	flagFinal byte = 1 << 0
	// flagReserved 保留位，必须为 0
	flagReserved byte = ^flagFinal
)

// Split 将消息切分为线上分片，每片为 1 字节标志 + 至多 chunkSize 字节负载
//
// 空消息编码为一个只有标志字节的最终分片。
func Split(payload []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	n := (len(payload) + chunkSize - 1) / chunkSize
	if n == 0 {
		n = 1
	}
	chunks := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		var flags byte
		if i == n-1 {
			flags |= flagFinal
		}
		chunk := make([]byte, 0, 1+end-start)
		chunk = append(chunk, flags)
		chunk = append(chunk, payload[start:end]...)
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Reassembler 按到达顺序重组分片
type Reassembler struct {
	chunkSize int
	maxBytes  int
	buf       []byte
}

// NewReassembler 创建重组器，参数非正时使用默认值
func NewReassembler(chunkSize, maxBytes int) *Reassembler {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessageBytes
	}
	return &Reassembler{chunkSize: chunkSize, maxBytes: maxBytes}
}

// Feed 追加一个分片；收到最终分片时返回完整消息和 true
//
// 分片格式错误或消息超限返回 ErrDecode 类错误，之后重组器状态被清空。
func (r *Reassembler) Feed(chunk []byte) ([]byte, bool, error) {
	if len(chunk) == 0 {
		r.Reset()
		return nil, false, envelopeError("Feed", errors.New("空分片"))
	}
	flags, payload := chunk[0], chunk[1:]
	if flags&flagReserved != 0 {
		r.Reset()
		return nil, false, envelopeError("Feed", fmt.Errorf("未知分片标志 0x%02x", flags))
	}
	if len(payload) > r.chunkSize {
		r.Reset()
		return nil, false, envelopeError("Feed", fmt.Errorf("分片负载 %d 字节超过上限 %d", len(payload), r.chunkSize))
	}
	if len(r.buf)+len(payload) > r.maxBytes {
		r.Reset()
		return nil, false, envelopeError("Feed", fmt.Errorf("消息超过上限 %d 字节", r.maxBytes))
	}

	r.buf = append(r.buf, payload...)
	if flags&flagFinal == 0 {
		return nil, false, nil
	}
	msg := r.buf
	r.buf = nil
	if msg == nil {
		msg = []byte{}
	}
	return msg, true, nil
}

// Pending 已缓存但尚未完成的字节数
func (r *Reassembler) Pending() int {
	return len(r.buf)
}

// Reset 丢弃未完成的消息
func (r *Reassembler) Reset() {
	r.buf = nil
}

// ErrEnvelope 消息信封无法解析，会话级错误
var ErrEnvelope = errors.New("session: malformed envelope")

// envelopeError 同时满足 errors.Is(err, ErrEnvelope) 和 errors.Is(err, vision.ErrDecode)
func envelopeError(op string, err error) error {
	return vision.NewError(op, vision.ErrDecode, fmt.Errorf("%w: %v", ErrEnvelope, err))
}

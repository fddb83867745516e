package session

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/zoeyai/zoeysight/pkg/vision"
)

func TestSplitReassemble(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for _, size := range []int{0, 1, 15, 16, 17, 4095, 4096, 4097, 3*4096 + 5} {
		payload := make([]byte, size)
		r.Read(payload)

		for _, chunkSize := range []int{1, 16, DefaultChunkSize} {
			chunks := Split(payload, chunkSize)
			want := (size + chunkSize - 1) / chunkSize
			if want == 0 {
				want = 1
			}
			if len(chunks) != want {
				t.Fatalf("size=%d chunk=%d: 分片数 %d, want %d", size, chunkSize, len(chunks), want)
			}
			for i, c := range chunks {
				if len(c) > chunkSize+1 {
					t.Fatalf("分片 %d 超长: %d", i, len(c))
				}
				final := c[0]&flagFinal != 0
				if final != (i == len(chunks)-1) {
					t.Fatalf("分片 %d 最终标志错误", i)
				}
			}

			reasm := NewReassembler(chunkSize, 0)
			var got []byte
			for i, c := range chunks {
				msg, done, err := reasm.Feed(c)
				if err != nil {
					t.Fatalf("Feed 失败: %v", err)
				}
				if done != (i == len(chunks)-1) {
					t.Fatalf("分片 %d 完成状态错误", i)
				}
				if done {
					got = msg
				}
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("size=%d chunk=%d: 重组结果不一致", size, chunkSize)
			}
			if reasm.Pending() != 0 {
				t.Errorf("完成后不应有缓存: %d", reasm.Pending())
			}
		}
	}
}

func TestReassembleConsecutiveMessages(t *testing.T) {
	reasm := NewReassembler(4, 0)
	var out [][]byte
	for _, msg := range [][]byte{[]byte("first message"), []byte("second"), {}} {
		for _, c := range Split(msg, 4) {
			got, done, err := reasm.Feed(c)
			if err != nil {
				t.Fatalf("Feed 失败: %v", err)
			}
			if done {
				out = append(out, got)
			}
		}
	}
	if len(out) != 3 || string(out[0]) != "first message" || string(out[1]) != "second" || len(out[2]) != 0 {
		t.Errorf("消息边界错误: %q", out)
	}
}

func TestReassembleErrors(t *testing.T) {
	tests := []struct {
		name   string
		chunks [][]byte
	}{
		{"空分片", [][]byte{{}}},
		{"保留位", [][]byte{{0x02, 'a'}}},
		{"分片超长", [][]byte{append([]byte{0}, make([]byte, 9)...)}},
		{"消息超限", [][]byte{append([]byte{0}, make([]byte, 8)...), append([]byte{0}, make([]byte, 8)...), append([]byte{1}, make([]byte, 8)...)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reasm := NewReassembler(8, 20)
			var err error
			for _, c := range tt.chunks {
				if _, _, err = reasm.Feed(c); err != nil {
					break
				}
			}
			if !errors.Is(err, ErrEnvelope) || !errors.Is(err, vision.ErrDecode) {
				t.Fatalf("应返回信封错误, got %v", err)
			}
			if reasm.Pending() != 0 {
				t.Error("出错后应清空缓存")
			}
		})
	}
}

func TestTruncateReason(t *testing.T) {
	long := bytes.Repeat([]byte("目"), 60)
	got := truncateReason(string(long))
	if len(got) > maxReasonBytes {
		t.Fatalf("截断后过长: %d", len(got))
	}
	if len(got)%3 != 0 {
		t.Errorf("应在字符边界截断: %d", len(got))
	}
	if truncateReason("bye") != "bye" {
		t.Error("短原因不应被修改")
	}
}

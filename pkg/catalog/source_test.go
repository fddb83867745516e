package catalog

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/zoeyai/zoeysight/pkg/vision"
)

func TestMemorySource(t *testing.T) {
	ctx := context.Background()
	src := NewMemorySource()
	records := genRecords(3, 10)

	if err := src.Put(ctx, "posters", records); err != nil {
		t.Fatalf("Put 失败: %v", err)
	}
	got, err := src.Load(ctx, "posters")
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	assertRecordsEqual(t, got, records)

	// 修改返回的切片不影响来源
	got[0].ID = "changed"
	again, _ := src.Load(ctx, "posters")
	if again[0].ID != records[0].ID {
		t.Error("Load 应返回副本")
	}

	if _, err := src.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("不存在的目录应返回 ErrNotFound, got %v", err)
	}
}

func TestFileSource(t *testing.T) {
	ctx := context.Background()
	src := NewFileSource(t.TempDir())
	records := genRecords(2, 11)

	if err := src.Put(ctx, "posters", records); err != nil {
		t.Fatalf("Put 失败: %v", err)
	}
	got, err := src.Load(ctx, "posters")
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	assertRecordsEqual(t, got, records)

	names, err := src.List()
	if err != nil || len(names) != 1 || names[0] != "posters" {
		t.Errorf("List 结果错误: %v %v", names, err)
	}

	if _, err := src.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("不存在的目录应返回 ErrNotFound, got %v", err)
	}
	if _, err := src.Load(ctx, "../secret"); err == nil {
		t.Error("包含路径分隔符的目录名应报错")
	}
}

func TestRedisSourceLoad(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	records := genRecords(2, 12)
	var buf bytes.Buffer
	if err := Encode(&buf, records); err != nil {
		t.Fatalf("Encode 失败: %v", err)
	}

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "zs:catalog:posters")).
		Return(mock.Result(mock.RedisString(buf.String())))

	src := NewRedisSourceWithClient(c, "zs:catalog:")
	got, err := src.Load(context.Background(), "posters")
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	assertRecordsEqual(t, got, records)
}

func TestRedisSourceNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "zs:catalog:missing")).
		Return(mock.Result(mock.RedisNil()))

	src := NewRedisSourceWithClient(c, "zs:catalog:")
	if _, err := src.Load(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("不存在的键应返回 ErrNotFound, got %v", err)
	}
}

func TestRedisSourceCorrupted(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "zs:catalog:bad")).
		Return(mock.Result(mock.RedisString("garbage")))

	src := NewRedisSourceWithClient(c, "zs:catalog:")
	if _, err := src.Load(context.Background(), "bad"); !errors.Is(err, vision.ErrCodecIntegrity) {
		t.Errorf("损坏的目录应返回 ErrCodecIntegrity, got %v", err)
	}
}

func TestRedisSourcePut(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	records := genRecords(1, 13)
	var want bytes.Buffer
	if err := Encode(&want, records); err != nil {
		t.Fatalf("Encode 失败: %v", err)
	}

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return len(cmd) == 3 && cmd[0] == "SET" && cmd[1] == "zs:catalog:posters" && cmd[2] == want.String()
		})).
		Return(mock.Result(mock.RedisString("OK")))

	src := NewRedisSourceWithClient(c, "zs:catalog:")
	if err := src.Put(context.Background(), "posters", records); err != nil {
		t.Fatalf("Put 失败: %v", err)
	}
}

func TestRedisSourceError(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "posters")).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	src := NewRedisSourceWithClient(c, "")
	_, err := src.Load(context.Background(), "posters")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("应透传底层错误, got %v", err)
	}
}

package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/redis/rueidis"

	"github.com/zoeyai/zoeysight/pkg/vision"
)

// ErrNotFound 目录不存在
var ErrNotFound = errors.New("catalog: not found")

// Source 目录来源，由外部目录管理方提供
type Source interface {
	Load(ctx context.Context, name string) ([]vision.TargetRecord, error)
}

// Publisher 可写入目录的来源
type Publisher interface {
	Put(ctx context.Context, name string, records []vision.TargetRecord) error
}

// ValidateName 目录名不能为空，也不能包含路径分隔符
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("非法目录名: %q", name)
	}
	return nil
}

// ============ 内存 ============

// MemorySource 内存目录来源
type MemorySource struct {
	mu       sync.RWMutex
	catalogs map[string][]vision.TargetRecord
}

// NewMemorySource 创建内存来源
func NewMemorySource() *MemorySource {
	return &MemorySource{catalogs: make(map[string][]vision.TargetRecord)}
}

// Put 保存目录，替换整个目录而不是原地修改
func (m *MemorySource) Put(_ context.Context, name string, records []vision.TargetRecord) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	cp := make([]vision.TargetRecord, len(records))
	copy(cp, records)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalogs[name] = cp
	return nil
}

// Load 读取目录
func (m *MemorySource) Load(_ context.Context, name string) ([]vision.TargetRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records, ok := m.catalogs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	cp := make([]vision.TargetRecord, len(records))
	copy(cp, records)
	return cp, nil
}

// ============ 文件 ============

// FileSource 目录文件夹来源，每个目录一个 .zsc 文件
type FileSource struct {
	Dir string
}

// NewFileSource 创建文件来源
func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

// Path 目录文件路径
func (f *FileSource) Path(name string) string {
	return filepath.Join(f.Dir, name+Extension)
}

// Load 读取目录文件
func (f *FileSource) Load(_ context.Context, name string) ([]vision.TargetRecord, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	records, err := Deserialize(f.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return records, err
}

// Put 写入目录文件
func (f *FileSource) Put(_ context.Context, name string, records []vision.TargetRecord) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	return Serialize(f.Path(name), records)
}

// List 列出目录名
func (f *FileSource) List() ([]string, error) {
	entries, err := os.ReadDir(f.Dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Extension) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), Extension))
	}
	return names, nil
}

// ============ Redis ============

// RedisConfig Redis 连接参数
type RedisConfig struct {
	Addrs     []string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisSource 目录以编码后的二进制存放在 <prefix><name> 键下
type RedisSource struct {
	client rueidis.Client
	prefix string
}

// NewRedisSource 通过 rueidis 创建 Redis 来源
func NewRedisSource(cfg RedisConfig) (*RedisSource, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return NewRedisSourceWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisSourceWithClient 使用已有客户端（测试中传入 mock）
func NewRedisSourceWithClient(client rueidis.Client, prefix string) *RedisSource {
	return &RedisSource{client: client, prefix: prefix}
}

// Key 目录对应的键
func (r *RedisSource) Key(name string) string {
	return r.prefix + name
}

// Load 读取并解码目录
func (r *RedisSource) Load(ctx context.Context, name string) ([]vision.TargetRecord, error) {
	cmd := r.client.B().Get().Key(r.Key(name)).Build()
	data, err := r.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("redis get %s: %w", r.Key(name), err)
	}
	return Decode(bytes.NewReader(data))
}

// Put 编码并写入目录
func (r *RedisSource) Put(ctx context.Context, name string, records []vision.TargetRecord) error {
	var buf bytes.Buffer
	if err := Encode(&buf, records); err != nil {
		return err
	}
	cmd := r.client.B().Set().Key(r.Key(name)).Value(rueidis.BinaryString(buf.Bytes())).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.Key(name), err)
	}
	return nil
}

// Ping 检查连接
func (r *RedisSource) Ping(ctx context.Context) error {
	if err := r.client.Do(ctx, r.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close 关闭客户端
func (r *RedisSource) Close() {
	r.client.Close()
}

package catalog

import (
	"context"
	"fmt"

	"github.com/zoeyai/zoeysight/pkg/vision"
)

// Snapshot 会话级只读目录快照
//
// 会话开始时加载一次，生命周期内不会刷新；目录在会话期间的修改对该会话不可见。
// 需要实时更新时应在请求之间替换整个快照，而不是原地修改。
type Snapshot struct {
	name    string
	targets []vision.TargetRecord
	index   map[string]int
}

// NewSnapshot 由记录构建快照，记录切片会被复制
func NewSnapshot(name string, records []vision.TargetRecord) (*Snapshot, error) {
	s := &Snapshot{
		name:    name,
		targets: make([]vision.TargetRecord, len(records)),
		index:   make(map[string]int, len(records)),
	}
	copy(s.targets, records)
	for i := range s.targets {
		t := &s.targets[i]
		if _, dup := s.index[t.ID]; dup {
			return nil, vision.NewError("NewSnapshot", vision.ErrCodecIntegrity, fmt.Errorf("重复的目标 id: %s", t.ID))
		}
		if err := t.Fingerprint.Validate(); err != nil {
			return nil, vision.NewError("NewSnapshot", vision.ErrCodecIntegrity, fmt.Errorf("目标 %s: %w", t.ID, err))
		}
		s.index[t.ID] = i
	}
	return s, nil
}

// Open 从来源加载目录并构建快照，加载失败时不返回部分结果
func Open(ctx context.Context, src Source, name string) (*Snapshot, error) {
	records, err := src.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("加载目录 %s 失败: %w", name, err)
	}
	return NewSnapshot(name, records)
}

// Name 目录名
func (s *Snapshot) Name() string { return s.name }

// Len 目标数量
func (s *Snapshot) Len() int { return len(s.targets) }

// Targets 全部目标，调用方不得修改
func (s *Snapshot) Targets() []vision.TargetRecord { return s.targets }

// Get 按 id 查找目标
func (s *Snapshot) Get(id string) (*vision.TargetRecord, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return &s.targets[i], true
}

// Release 释放快照持有的记录
func (s *Snapshot) Release() {
	s.targets = nil
	s.index = nil
}

package vision

import (
	"errors"
	"fmt"
)

// WorkingFrame 预处理后的工作帧，创建后不可变
type WorkingFrame interface {
	// Size 工作帧尺寸
	Size() Size
	// OriginalSize 变换前的原始帧尺寸
	OriginalSize() Size
	// Flags 已应用的变换（含客户端已应用的）
	Flags() FrameFlags
	// Geometry 工作帧到原始帧的坐标映射
	Geometry() FrameGeometry
	// Close 释放底层图像缓冲
	Close() error
}

// Preprocessor 帧预处理器
type Preprocessor interface {
	Prepare(q Query) (WorkingFrame, error)
}

// Extractor 特征提取器，对同一帧和配置结果确定
type Extractor interface {
	Extract(frame WorkingFrame) (FingerprintSet, error)
	Close() error
}

// Matcher 指纹匹配器，每个查询特征点至多一个对应
type Matcher interface {
	Match(query, target FingerprintSet) ([]Correspondence, error)
	Close() error
}

// Estimator 鲁棒位姿估计器
type Estimator interface {
	Estimate(query, target []Keypoint, corrs []Correspondence) PoseEstimate
}

// TargetErrorFunc 单个目标处理失败时的回调，失败不影响报告
type TargetErrorFunc func(targetID string, err error)

// Pipeline 预处理 -> 提取 -> (匹配 -> 投票 -> 位姿 -> 汇总) x 目标
//
// 一个 Pipeline 只被一个会话顺序使用，不是并发安全的。
type Pipeline struct {
	pre       Preprocessor
	extractor Extractor
	matcher   Matcher
	estimator Estimator
	vote      VoteConfig

	// OnTargetError 可选
	OnTargetError TargetErrorFunc
}

// NewPipeline 组装识别流水线
func NewPipeline(vote VoteConfig, pre Preprocessor, ext Extractor, m Matcher, est Estimator) (*Pipeline, error) {
	if pre == nil || ext == nil || m == nil || est == nil {
		return nil, NewError("NewPipeline", ErrConfiguration, errors.New("流水线组件不能为空"))
	}
	return &Pipeline{
		pre:       pre,
		extractor: ext,
		matcher:   m,
		estimator: est,
		vote:      vote,
	}, nil
}

// Recognize 对一帧查询全部目标，返回聚合报告
//
// 解码失败返回 ErrDecode；未找到位姿或单个目标出错的目标不进入报告。
func (p *Pipeline) Recognize(q Query, targets []TargetRecord) (MatchReport, error) {
	frame, err := p.pre.Prepare(q)
	if err != nil {
		return NewMatchReport(nil), err
	}
	defer frame.Close()

	if len(targets) == 0 {
		return NewMatchReport(nil), nil
	}

	query, err := p.extractor.Extract(frame)
	if err != nil {
		return NewMatchReport(nil), fmt.Errorf("提取查询指纹失败: %w", err)
	}
	if query.Len() == 0 {
		return NewMatchReport(nil), nil
	}

	geom := frame.Geometry()
	var results []MatchResult
	for i := range targets {
		res, ok, err := p.matchTarget(query, &targets[i], geom)
		if err != nil {
			if p.OnTargetError != nil {
				p.OnTargetError(targets[i].ID, err)
			}
			continue
		}
		if ok {
			results = append(results, res)
		}
	}
	return NewMatchReport(results), nil
}

func (p *Pipeline) matchTarget(query FingerprintSet, target *TargetRecord, geom FrameGeometry) (MatchResult, bool, error) {
	if target.Fingerprint.Len() == 0 {
		return MatchResult{}, false, nil
	}

	corrs, err := p.matcher.Match(query, target.Fingerprint)
	if err != nil {
		return MatchResult{}, false, err
	}
	corrs = ConsistencyVote(query.Keypoints, target.Fingerprint.Keypoints, corrs, p.vote)
	if CountValid(corrs) < MinCorrespondences {
		return MatchResult{}, false, nil
	}

	pose := p.estimator.Estimate(query.Keypoints, target.Fingerprint.Keypoints, corrs)
	if !pose.Found {
		return MatchResult{}, false, nil
	}

	res, err := Summarize(pose, target.FrameSize(), geom)
	if err != nil {
		return MatchResult{}, false, err
	}
	res.TargetID = target.ID
	return res, true, nil
}

// Close 释放提取器和匹配器
func (p *Pipeline) Close() error {
	return errors.Join(p.extractor.Close(), p.matcher.Close())
}

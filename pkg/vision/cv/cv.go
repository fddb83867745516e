// Package cv 基于 gocv 实现识别流水线各阶段
//
// 包含:
//   - Preprocessor: 解码、裁剪、灰度、缩放、模糊
//   - Extractor: SIFT / ORB / AKAZE / BRISK 特征提取
//   - Matcher: BFMatcher knn 匹配 + 比率测试
//   - Estimator: RANSAC 单应矩阵估计与退化检查
//
// 基本用法:
//
//	p, err := cv.NewPipeline(vision.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//	report, err := p.Recognize(query, targets)
package cv

import (
	"errors"

	"github.com/zoeyai/zoeysight/pkg/vision"
)

// NewPipeline 按配置组装识别流水线，每个会话调用一次
func NewPipeline(cfg vision.Config) (*vision.Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pre, err := NewPreprocessor(cfg.Preprocess)
	if err != nil {
		return nil, err
	}
	est, err := NewEstimator(cfg.Estimator)
	if err != nil {
		return nil, err
	}
	ext, err := NewExtractor(cfg.Extractor)
	if err != nil {
		return nil, err
	}
	m, err := NewMatcher(cfg.Extractor.Algorithm, cfg.Matcher)
	if err != nil {
		return nil, errors.Join(err, ext.Close())
	}

	p, err := vision.NewPipeline(cfg.Matcher.Vote, pre, ext, m, est)
	if err != nil {
		return nil, errors.Join(err, ext.Close(), m.Close())
	}
	return p, nil
}

// Fingerprinter 用与查询相同的预处理和提取器为参考图生成指纹
type Fingerprinter struct {
	pre *Preprocessor
	ext *Extractor
}

// NewFingerprinter 创建指纹生成器
func NewFingerprinter(cfg vision.Config) (*Fingerprinter, error) {
	pre, err := NewPreprocessor(cfg.Preprocess)
	if err != nil {
		return nil, err
	}
	ext, err := NewExtractor(cfg.Extractor)
	if err != nil {
		return nil, err
	}
	return &Fingerprinter{pre: pre, ext: ext}, nil
}

// Fingerprint 返回指纹以及参考工作帧尺寸
func (f *Fingerprinter) Fingerprint(image []byte) (vision.FingerprintSet, vision.Size, error) {
	frame, err := f.pre.Prepare(vision.Query{Image: image})
	if err != nil {
		return vision.FingerprintSet{}, vision.Size{}, err
	}
	defer frame.Close()

	fp, err := f.ext.Extract(frame)
	if err != nil {
		return vision.FingerprintSet{}, vision.Size{}, err
	}
	return fp, frame.Size(), nil
}

// Close 释放提取器
func (f *Fingerprinter) Close() error {
	return f.ext.Close()
}

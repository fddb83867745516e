package cv

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/zoeyai/zoeysight/pkg/vision"
)

// Matcher 暴力最近邻匹配 + Lowe 比率测试
type Matcher struct {
	cfg    vision.MatcherConfig
	binary bool
	bf     gocv.BFMatcher
}

// NewMatcher 创建匹配器，二进制描述子使用 Hamming 距离
func NewMatcher(algo vision.Algorithm, cfg vision.MatcherConfig) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	algo, err := vision.ParseAlgorithm(string(algo))
	if err != nil {
		return nil, err
	}
	norm := gocv.NormL2
	if algo.Binary() {
		norm = gocv.NormHamming
	}
	return &Matcher{
		cfg:    cfg,
		binary: algo.Binary(),
		bf:     gocv.NewBFMatcherWithParams(norm, false),
	}, nil
}

// Match 为每个查询特征点找到最佳目标特征点，比率测试未通过的丢弃
func (m *Matcher) Match(query, target vision.FingerprintSet) ([]vision.Correspondence, error) {
	if query.Descriptors.Empty() || target.Descriptors.Empty() {
		return nil, nil
	}
	if query.Descriptors.Cols != target.Descriptors.Cols {
		return nil, fmt.Errorf("描述子宽度不一致: %d vs %d", query.Descriptors.Cols, target.Descriptors.Cols)
	}

	qMat := m.toMat(query.Descriptors)
	defer qMat.Close()
	tMat := m.toMat(target.Descriptors)
	defer tMat.Close()

	matches := m.bf.KnnMatch(qMat, tMat, 2)
	return filterGoodMatches(matches, m.cfg.RatioThreshold), nil
}

// Close 释放匹配器
func (m *Matcher) Close() error {
	return m.bf.Close()
}

func (m *Matcher) toMat(d vision.Descriptors) gocv.Mat {
	if m.binary {
		mat := gocv.NewMatWithSize(d.Rows, d.Cols, gocv.MatTypeCV8U)
		for r := 0; r < d.Rows; r++ {
			for c, v := range d.Row(r) {
				mat.SetUCharAt(r, c, uint8(v))
			}
		}
		return mat
	}
	mat := gocv.NewMatWithSize(d.Rows, d.Cols, gocv.MatTypeCV32F)
	for r := 0; r < d.Rows; r++ {
		for c, v := range d.Row(r) {
			mat.SetFloatAt(r, c, v)
		}
	}
	return mat
}

// filterGoodMatches 比率测试，ratio 为 0 时只取最近邻
func filterGoodMatches(matches [][]gocv.DMatch, ratio float64) []vision.Correspondence {
	var good []vision.Correspondence
	for _, m := range matches {
		if len(m) == 0 {
			continue
		}
		if ratio > 0 && (len(m) < 2 || float64(m[0].Distance) >= ratio*float64(m[1].Distance)) {
			continue
		}
		good = append(good, vision.Correspondence{
			QueryIndex:  m[0].QueryIdx,
			TargetIndex: m[0].TrainIdx,
			Distance:    float32(m[0].Distance),
			Valid:       true,
		})
	}
	return good
}

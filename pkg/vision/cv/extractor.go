package cv

import (
	"fmt"
	"sort"

	"gocv.io/x/gocv"

	"github.com/zoeyai/zoeysight/pkg/vision"
)

const orbPatchSize = 31

// detector gocv 特征检测器
type detector interface {
	DetectAndCompute(src gocv.Mat, mask gocv.Mat) ([]gocv.KeyPoint, gocv.Mat)
	Close() error
}

// Extractor 基于 gocv 的特征提取器，每个会话独占一个实例
type Extractor struct {
	cfg      vision.ExtractorConfig
	detector detector
}

// NewExtractor 按配置创建提取器，参数非法时返回 ErrConfiguration
func NewExtractor(cfg vision.ExtractorConfig) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	algo, err := vision.ParseAlgorithm(string(cfg.Algorithm))
	if err != nil {
		return nil, err
	}
	cfg.Algorithm = algo

	var det detector
	switch algo {
	case vision.AlgorithmSIFT:
		features, layers := cfg.MaxFeatures, cfg.OctaveLayers
		contrast, edge, sigma := cfg.ContrastThreshold, cfg.EdgeThreshold, cfg.Sigma
		s := gocv.NewSIFTWithParams(&features, &layers, &contrast, &edge, &sigma)
		det = &s
	case vision.AlgorithmORB:
		// 边缘阈值不小于 patch 大小
		edge := int(cfg.EdgeThreshold)
		if edge < orbPatchSize {
			edge = orbPatchSize
		}
		o := gocv.NewORBWithParams(cfg.MaxFeatures, float32(cfg.ScaleFactor), cfg.Levels, edge, 0, 2,
			gocv.ORBScoreTypeHarris, orbPatchSize, cfg.FastThreshold)
		det = &o
	case vision.AlgorithmAKAZE:
		a := gocv.NewAKAZE()
		det = &a
	case vision.AlgorithmBRISK:
		b := gocv.NewBRISK()
		det = &b
	}

	return &Extractor{cfg: cfg, detector: det}, nil
}

// Algorithm 提取算法
func (e *Extractor) Algorithm() vision.Algorithm { return e.cfg.Algorithm }

// Extract 提取工作帧的指纹，没有特征点时返回空集合
func (e *Extractor) Extract(frame vision.WorkingFrame) (vision.FingerprintSet, error) {
	f, ok := frame.(*Frame)
	if !ok {
		return vision.FingerprintSet{}, fmt.Errorf("不支持的工作帧类型: %T", frame)
	}
	return e.ExtractMat(f.Mat())
}

// ExtractMat 直接从 Mat 提取指纹
func (e *Extractor) ExtractMat(img gocv.Mat) (vision.FingerprintSet, error) {
	if img.Empty() {
		return vision.FingerprintSet{}, fmt.Errorf("图像为空")
	}
	mask := gocv.NewMat()
	defer mask.Close()

	kps, desc := e.detector.DetectAndCompute(img, mask)
	defer desc.Close()

	return toFingerprint(kps, desc, e.cfg.MaxFeatures)
}

// Close 释放检测器
func (e *Extractor) Close() error {
	return e.detector.Close()
}

// toFingerprint 转换为 FingerprintSet，二进制描述子按字节扩展为 float32
func toFingerprint(kps []gocv.KeyPoint, desc gocv.Mat, maxFeatures int) (vision.FingerprintSet, error) {
	if len(kps) == 0 || desc.Empty() {
		return vision.FingerprintSet{}, nil
	}
	if desc.Rows() != len(kps) {
		return vision.FingerprintSet{}, fmt.Errorf("描述子行数 %d 与特征点数 %d 不一致", desc.Rows(), len(kps))
	}

	idx := make([]int, len(kps))
	for i := range idx {
		idx[i] = i
	}
	if maxFeatures > 0 && len(idx) > maxFeatures {
		sort.SliceStable(idx, func(a, b int) bool {
			return kps[idx[a]].Response > kps[idx[b]].Response
		})
		idx = idx[:maxFeatures]
		sort.Ints(idx)
	}

	cols := desc.Cols()
	binary := desc.Type() == gocv.MatTypeCV8U
	if !binary && desc.Type() != gocv.MatTypeCV32F {
		return vision.FingerprintSet{}, fmt.Errorf("不支持的描述子类型: %v", desc.Type())
	}

	fp := vision.FingerprintSet{
		Keypoints:   make([]vision.Keypoint, len(idx)),
		Descriptors: vision.Descriptors{Rows: len(idx), Cols: cols, Data: make([]float32, len(idx)*cols)},
	}
	for row, i := range idx {
		kp := kps[i]
		fp.Keypoints[row] = vision.Keypoint{
			X:           float32(kp.X),
			Y:           float32(kp.Y),
			Scale:       float32(kp.Size),
			Orientation: float32(kp.Angle),
			Strength:    float32(kp.Response),
		}
		out := fp.Descriptors.Data[row*cols : (row+1)*cols]
		for c := 0; c < cols; c++ {
			if binary {
				out[c] = float32(desc.GetUCharAt(i, c))
			} else {
				out[c] = desc.GetFloatAt(i, c)
			}
		}
	}
	return fp, nil
}

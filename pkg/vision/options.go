package vision

import (
	"errors"
	"fmt"
	"strings"
)

// Algorithm 特征提取算法
type Algorithm string

const (
	AlgorithmSIFT  Algorithm = "sift"  // SIFT 浮点描述子（更稳但更慢）
	AlgorithmORB   Algorithm = "orb"   // ORB 二进制描述子
	AlgorithmAKAZE Algorithm = "akaze" // AKAZE 二进制描述子
	AlgorithmBRISK Algorithm = "brisk" // BRISK 二进制描述子
)

// Binary 是否为二进制描述子（使用 Hamming 距离）
func (a Algorithm) Binary() bool {
	return a == AlgorithmORB || a == AlgorithmAKAZE || a == AlgorithmBRISK
}

// ParseAlgorithm 解析算法名称
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case AlgorithmSIFT, AlgorithmORB, AlgorithmAKAZE, AlgorithmBRISK:
		return a, nil
	default:
		return "", NewError("ParseAlgorithm", ErrConfiguration, fmt.Errorf("未知算法: %q", s))
	}
}

// PreprocessOptions 帧预处理选项（不可变值对象）
type PreprocessOptions struct {
	// Grayscale 是否转换为灰度图
	Grayscale bool `yaml:"grayscale"`
	// MaxDimension 工作帧最大边长，0 表示不缩放
	MaxDimension int `yaml:"max_dimension"`
	// BlurKernel 高斯模糊核大小（奇数），0 表示不模糊
	BlurKernel int `yaml:"blur_kernel"`
	// BlurSigma 高斯模糊 sigma
	BlurSigma float64 `yaml:"blur_sigma"`
	// Crop 裁剪区域（缓冲区像素坐标），nil 表示不裁剪
	Crop *Rect `yaml:"crop,omitempty"`
}

// DefaultPreprocessOptions 默认预处理选项
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		Grayscale:    true,
		MaxDimension: 640,
	}
}

// ForRequest 跳过客户端已经应用过的变换，返回新的选项
func (o PreprocessOptions) ForRequest(applied FrameFlags) PreprocessOptions {
	out := o
	if applied.Grayscale {
		out.Grayscale = false
	}
	if applied.Downscaled {
		out.MaxDimension = 0
	}
	if applied.Blurred {
		out.BlurKernel = 0
	}
	if o.Crop != nil {
		c := *o.Crop
		out.Crop = &c
	}
	return out
}

// Validate 校验预处理选项
func (o PreprocessOptions) Validate() error {
	var errs []error
	if o.MaxDimension < 0 {
		errs = append(errs, fmt.Errorf("max_dimension 不能为负: %d", o.MaxDimension))
	}
	if o.BlurKernel < 0 || (o.BlurKernel > 0 && o.BlurKernel%2 == 0) {
		errs = append(errs, fmt.Errorf("blur_kernel 必须为 0 或正奇数: %d", o.BlurKernel))
	}
	if o.BlurSigma < 0 {
		errs = append(errs, fmt.Errorf("blur_sigma 不能为负: %v", o.BlurSigma))
	}
	if o.Crop != nil && o.Crop.Empty() {
		errs = append(errs, fmt.Errorf("crop 宽高必须为正: %+v", *o.Crop))
	}
	return configError("PreprocessOptions", errs)
}

// ExtractorConfig 特征提取器参数
type ExtractorConfig struct {
	Algorithm Algorithm `yaml:"algorithm"`
	// MaxFeatures 最大特征点数，0 表示不限制（ORB 必须为正）
	MaxFeatures int `yaml:"max_features"`
	// OctaveLayers SIFT 每组层数
	OctaveLayers int `yaml:"octave_layers"`
	// ContrastThreshold SIFT 对比度阈值
	ContrastThreshold float64 `yaml:"contrast_threshold"`
	// EdgeThreshold 边缘阈值
	EdgeThreshold float64 `yaml:"edge_threshold"`
	// Sigma SIFT 高斯 sigma
	Sigma float64 `yaml:"sigma"`
	// ScaleFactor ORB 金字塔缩放系数
	ScaleFactor float64 `yaml:"scale_factor"`
	// Levels ORB 金字塔层数
	Levels int `yaml:"levels"`
	// FastThreshold ORB FAST 阈值
	FastThreshold int `yaml:"fast_threshold"`
}

// DefaultORBMaxFeatures ORB 未指定 max_features 时的特征点数
const DefaultORBMaxFeatures = 500

// DefaultExtractorConfig 默认提取器参数（SIFT）
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		Algorithm:         AlgorithmSIFT,
		MaxFeatures:       0,
		OctaveLayers:      3,
		ContrastThreshold: 0.04,
		EdgeThreshold:     10,
		Sigma:             1.6,
		ScaleFactor:       1.2,
		Levels:            8,
		FastThreshold:     20,
	}
}

// WithAlgorithm 切换算法，ORB 未设置 MaxFeatures 时补默认值
func (c ExtractorConfig) WithAlgorithm(a Algorithm) ExtractorConfig {
	c.Algorithm = a
	if a == AlgorithmORB && c.MaxFeatures == 0 {
		c.MaxFeatures = DefaultORBMaxFeatures
	}
	return c
}

// Validate 校验提取器参数
func (c ExtractorConfig) Validate() error {
	var errs []error
	if _, err := ParseAlgorithm(string(c.Algorithm)); err != nil {
		errs = append(errs, err)
	}
	if c.MaxFeatures < 0 {
		errs = append(errs, fmt.Errorf("max_features 不能为负: %d", c.MaxFeatures))
	}
	if c.EdgeThreshold < 0 {
		errs = append(errs, fmt.Errorf("edge_threshold 不能为负: %v", c.EdgeThreshold))
	}
	switch c.Algorithm {
	case AlgorithmSIFT:
		if c.OctaveLayers <= 0 {
			errs = append(errs, fmt.Errorf("octave_layers 必须为正: %d", c.OctaveLayers))
		}
		if c.ContrastThreshold < 0 {
			errs = append(errs, fmt.Errorf("contrast_threshold 不能为负: %v", c.ContrastThreshold))
		}
		if c.Sigma <= 0 {
			errs = append(errs, fmt.Errorf("sigma 必须为正: %v", c.Sigma))
		}
	case AlgorithmORB:
		if c.MaxFeatures == 0 {
			errs = append(errs, errors.New("orb 需要正的 max_features"))
		}
		if c.ScaleFactor <= 1 {
			errs = append(errs, fmt.Errorf("scale_factor 必须大于 1: %v", c.ScaleFactor))
		}
		if c.Levels <= 0 {
			errs = append(errs, fmt.Errorf("levels 必须为正: %d", c.Levels))
		}
		if c.FastThreshold < 0 {
			errs = append(errs, fmt.Errorf("fast_threshold 不能为负: %d", c.FastThreshold))
		}
	}
	return configError("ExtractorConfig", errs)
}

// VoteConfig 尺度/方向一致性投票参数
type VoteConfig struct {
	Enabled bool `yaml:"enabled"`
	// Bins 方向直方图分箱数，覆盖 0-360 度
	Bins int `yaml:"bins"`
	// ScaleTolerance 与平均尺度比的相对容差
	ScaleTolerance float64 `yaml:"scale_tolerance"`
}

// MatcherConfig 匹配器参数
type MatcherConfig struct {
	// RatioThreshold Lowe 比率测试阈值，0 表示关闭
	RatioThreshold float64    `yaml:"ratio_threshold"`
	Vote           VoteConfig `yaml:"vote"`
}

// DefaultMatcherConfig 默认匹配器参数
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		RatioThreshold: 0.75,
		Vote: VoteConfig{
			Enabled:        true,
			Bins:           36,
			ScaleTolerance: 0.5,
		},
	}
}

// Validate 校验匹配器参数
func (c MatcherConfig) Validate() error {
	var errs []error
	if c.RatioThreshold < 0 || c.RatioThreshold > 1 {
		errs = append(errs, fmt.Errorf("ratio_threshold 必须在 [0,1] 内: %v", c.RatioThreshold))
	}
	if c.Vote.Enabled {
		if c.Vote.Bins <= 0 {
			errs = append(errs, fmt.Errorf("vote.bins 必须为正: %d", c.Vote.Bins))
		}
		if c.Vote.ScaleTolerance < 0 {
			errs = append(errs, fmt.Errorf("vote.scale_tolerance 不能为负: %v", c.Vote.ScaleTolerance))
		}
	}
	return configError("MatcherConfig", errs)
}

// MinCorrespondences 拟合单应矩阵所需的最少对应数
const MinCorrespondences = 4

// EstimatorConfig 位姿估计参数
type EstimatorConfig struct {
	// ReprojThreshold RANSAC 重投影误差阈值（像素）
	ReprojThreshold float64 `yaml:"reproj_threshold"`
	MaxIters        int     `yaml:"max_iters"`
	Confidence      float64 `yaml:"confidence"`
	// MinInliers 最少内点数
	MinInliers int `yaml:"min_inliers"`
}

// DefaultEstimatorConfig 默认位姿估计参数
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		ReprojThreshold: 2.0,
		MaxIters:        2000,
		Confidence:      0.995,
		MinInliers:      MinCorrespondences,
	}
}

// Validate 校验位姿估计参数
func (c EstimatorConfig) Validate() error {
	var errs []error
	if c.ReprojThreshold <= 0 {
		errs = append(errs, fmt.Errorf("reproj_threshold 必须为正: %v", c.ReprojThreshold))
	}
	if c.MaxIters <= 0 {
		errs = append(errs, fmt.Errorf("max_iters 必须为正: %d", c.MaxIters))
	}
	if c.Confidence <= 0 || c.Confidence >= 1 {
		errs = append(errs, fmt.Errorf("confidence 必须在 (0,1) 内: %v", c.Confidence))
	}
	if c.MinInliers < 0 {
		errs = append(errs, fmt.Errorf("min_inliers 不能为负: %d", c.MinInliers))
	}
	return configError("EstimatorConfig", errs)
}

// Config 识别引擎配置，构造后只读，可在会话间共享
type Config struct {
	Preprocess PreprocessOptions `yaml:"preprocess"`
	Extractor  ExtractorConfig   `yaml:"extractor"`
	Matcher    MatcherConfig     `yaml:"matcher"`
	Estimator  EstimatorConfig   `yaml:"estimator"`
}

// DefaultConfig 默认引擎配置
func DefaultConfig() Config {
	return Config{
		Preprocess: DefaultPreprocessOptions(),
		Extractor:  DefaultExtractorConfig(),
		Matcher:    DefaultMatcherConfig(),
		Estimator:  DefaultEstimatorConfig(),
	}
}

// Validate 校验全部配置
func (c Config) Validate() error {
	return errors.Join(
		c.Preprocess.Validate(),
		c.Extractor.Validate(),
		c.Matcher.Validate(),
		c.Estimator.Validate(),
	)
}

func configError(op string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return NewError(op, ErrConfiguration, errors.Join(errs...))
}

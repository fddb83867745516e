package vision

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestVersion(t *testing.T) {
	if Version == "" {
		t.Error("Version 不应为空")
	}
	t.Logf("Version: %s", Version)
}

func TestPointDistance(t *testing.T) {
	p := NewPoint(0, 0)
	if d := p.Distance(NewPoint(3, 4)); d != 5 {
		t.Errorf("Distance 错误: got %v, want 5", d)
	}
}

func TestRectClampTo(t *testing.T) {
	tests := []struct {
		name string
		in   Rect
		want Rect
	}{
		{"内部不变", NewRect(10, 10, 20, 20), NewRect(10, 10, 20, 20)},
		{"右下越界缩减", NewRect(90, 80, 50, 50), NewRect(90, 80, 10, 20)},
		{"负原点夹到0", NewRect(-5, -5, 20, 20), NewRect(0, 0, 20, 20)},
		{"完全在外", NewRect(200, 200, 10, 10), NewRect(100, 100, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.ClampTo(100, 100)
			if got != tt.want {
				t.Errorf("ClampTo 错误: got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFingerprintValidate(t *testing.T) {
	ok := FingerprintSet{
		Keypoints:   make([]Keypoint, 2),
		Descriptors: Descriptors{Rows: 2, Cols: 3, Data: make([]float32, 6)},
	}
	if err := ok.Validate(); err != nil {
		t.Errorf("合法指纹校验失败: %v", err)
	}
	if got := ok.Descriptors.Row(1); len(got) != 3 {
		t.Errorf("Row 长度错误: got %d", len(got))
	}

	badRows := ok
	badRows.Keypoints = make([]Keypoint, 3)
	if err := badRows.Validate(); err == nil {
		t.Error("行数与特征点数不一致应报错")
	}

	badData := ok
	badData.Descriptors.Data = make([]float32, 5)
	if err := badData.Validate(); err == nil {
		t.Error("数据长度不一致应报错")
	}

	// 4 * 2^62 在 int64 上回绕为 0
	overflow := FingerprintSet{
		Keypoints:   make([]Keypoint, 4),
		Descriptors: Descriptors{Rows: 4, Cols: math.MaxInt/2 + 1},
	}
	if err := overflow.Validate(); err == nil {
		t.Error("行列乘积溢出应报错")
	}
}

func TestNewMatchReport(t *testing.T) {
	empty := NewMatchReport(nil)
	if empty.HasMatches {
		t.Error("空结果 HasMatches 应为 false")
	}
	if empty.Results == nil {
		t.Error("空结果 Results 不应为 nil")
	}

	r := NewMatchReport([]MatchResult{{TargetID: "a"}})
	if !r.HasMatches {
		t.Error("非空结果 HasMatches 应为 true")
	}
}

func TestParseAlgorithm(t *testing.T) {
	for _, s := range []string{"sift", "ORB", " akaze ", "Brisk"} {
		if _, err := ParseAlgorithm(s); err != nil {
			t.Errorf("ParseAlgorithm(%q) 失败: %v", s, err)
		}
	}
	_, err := ParseAlgorithm("surf")
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("未知算法应返回 ErrConfiguration, got %v", err)
	}
	if !AlgorithmORB.Binary() || AlgorithmSIFT.Binary() {
		t.Error("Binary 判断错误")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("默认配置校验失败: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"负 max_features", func(c *Config) { c.Extractor.MaxFeatures = -1 }, "max_features"},
		{"偶数模糊核", func(c *Config) { c.Preprocess.BlurKernel = 4 }, "blur_kernel"},
		{"比率越界", func(c *Config) { c.Matcher.RatioThreshold = 1.5 }, "ratio_threshold"},
		{"置信度越界", func(c *Config) { c.Estimator.Confidence = 1 }, "confidence"},
		{"orb 无 max_features", func(c *Config) { c.Extractor.Algorithm = AlgorithmORB }, "orb"},
		{"投票分箱为0", func(c *Config) { c.Matcher.Vote.Bins = 0 }, "vote.bins"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("应返回 ErrConfiguration, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("错误信息应包含 %q: %v", tt.field, err)
			}
		})
	}
}

func TestExtractorWithAlgorithm(t *testing.T) {
	orb := DefaultExtractorConfig().WithAlgorithm(AlgorithmORB)
	if orb.MaxFeatures != DefaultORBMaxFeatures {
		t.Errorf("ORB 默认 MaxFeatures = %d", orb.MaxFeatures)
	}
	if err := orb.Validate(); err != nil {
		t.Errorf("切换到 ORB 后应通过校验: %v", err)
	}

	custom := DefaultExtractorConfig()
	custom.MaxFeatures = 120
	if got := custom.WithAlgorithm(AlgorithmORB).MaxFeatures; got != 120 {
		t.Errorf("已设置的 MaxFeatures 不应被覆盖: %d", got)
	}
	if got := DefaultExtractorConfig().WithAlgorithm(AlgorithmSIFT).MaxFeatures; got != 0 {
		t.Errorf("SIFT 的 MaxFeatures 不应改变: %d", got)
	}
}

func TestForRequest(t *testing.T) {
	base := PreprocessOptions{Grayscale: true, MaxDimension: 640, BlurKernel: 5, BlurSigma: 1}
	got := base.ForRequest(FrameFlags{Grayscale: true, Downscaled: true})
	if got.Grayscale || got.MaxDimension != 0 {
		t.Errorf("客户端已应用的变换应跳过: %+v", got)
	}
	if got.BlurKernel != 5 {
		t.Errorf("未应用的模糊应保留: %+v", got)
	}
	if !base.Grayscale || base.MaxDimension != 640 {
		t.Error("ForRequest 不应修改原选项")
	}
}

func TestErrorIs(t *testing.T) {
	cause := errors.New("bad bytes")
	err := NewError("Prepare", ErrDecode, cause)
	if !errors.Is(err, ErrDecode) {
		t.Error("errors.Is(err, ErrDecode) 应为 true")
	}
	if errors.Is(err, ErrConfiguration) {
		t.Error("errors.Is(err, ErrConfiguration) 应为 false")
	}
	if !errors.Is(err, cause) {
		t.Error("应能解包到原始错误")
	}
	t.Logf("错误信息: %v", err)
}

package vision

import (
	"math"
	"testing"
)

func TestHomographyApply(t *testing.T) {
	h := Identity()
	p, ok := h.Apply(NewPoint(3, 4))
	if !ok || p.X != 3 || p.Y != 4 {
		t.Errorf("单位矩阵变换错误: got %+v ok=%v", p, ok)
	}

	shift := Homography{{1, 0, 10}, {0, 1, -5}, {0, 0, 1}}
	p, _ = shift.Apply(NewPoint(1, 1))
	if p.X != 11 || p.Y != -4 {
		t.Errorf("平移变换错误: got %+v", p)
	}

	inf := Homography{{1, 0, 0}, {0, 1, 0}, {1, 0, 0}}
	if _, ok := inf.Apply(NewPoint(0, 5)); ok {
		t.Error("齐次分量为 0 应返回 false")
	}
}

func TestHomographyIsDegenerate(t *testing.T) {
	tests := []struct {
		name string
		h    Homography
		want bool
	}{
		{"单位矩阵", Identity(), false},
		{"零矩阵", Homography{}, true},
		{"含 NaN", Homography{{1, 0, 0}, {0, math.NaN(), 0}, {0, 0, 1}}, true},
		{"含 Inf", Homography{{1, 0, 0}, {0, 1, math.Inf(1)}, {0, 0, 1}}, true},
		{"h22 为 0", Homography{{1, 0, 0}, {0, 1, 0}, {0, 0, 0}}, true},
		{"奇异矩阵", Homography{{1, 2, 0}, {2, 4, 0}, {0, 0, 1}}, true},
		{"透视矩阵", Homography{{1.1, 0.2, 3}, {-0.1, 0.9, 4}, {0.001, 0.0005, 1}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.h.IsDegenerate(); got != tt.want {
				t.Errorf("IsDegenerate 错误: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHomographyRotationDegrees(t *testing.T) {
	rad := 30 * math.Pi / 180
	h := Homography{
		{math.Cos(rad), -math.Sin(rad), 0},
		{math.Sin(rad), math.Cos(rad), 0},
		{0, 0, 1},
	}
	if got := h.RotationDegrees(); math.Abs(got-30) > 1e-9 {
		t.Errorf("RotationDegrees 错误: got %v, want 30", got)
	}
}

func TestHomographyFromSlice(t *testing.T) {
	h, err := HomographyFromSlice([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	if err != nil {
		t.Fatalf("HomographyFromSlice 失败: %v", err)
	}
	if h[1][2] != 6 || h.Flatten()[7] != 8 {
		t.Errorf("行主序错误: %+v", h)
	}
	if _, err := HomographyFromSlice([]float64{1, 2}); err == nil {
		t.Error("元素数错误应报错")
	}
}

func TestFitHomography(t *testing.T) {
	want := Homography{
		{1.2, 0.1, 5},
		{-0.05, 0.9, 3},
		{0.0005, 0.0002, 1},
	}
	src := []Point{{0, 0}, {100, 0}, {100, 80}, {0, 80}, {50, 40}, {20, 70}}
	dst := make([]Point, len(src))
	for i, p := range src {
		q, ok := want.Apply(p)
		if !ok {
			t.Fatalf("构造测试数据失败")
		}
		dst[i] = q
	}

	got, err := FitHomography(src, dst)
	if err != nil {
		t.Fatalf("FitHomography 失败: %v", err)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(got[i][j]-want[i][j]) > 1e-6 {
				t.Errorf("H[%d][%d] = %v, want %v", i, j, got[i][j], want[i][j])
			}
		}
	}

	if _, err := FitHomography(src[:3], dst[:3]); err == nil {
		t.Error("少于 4 个点应报错")
	}
	if _, err := FitHomography(src, dst[:5]); err == nil {
		t.Error("点数不一致应报错")
	}
}

package vision

import (
	"math"
	"testing"
)

const geomTol = 1e-6

func approx(a, b float64) bool {
	return math.Abs(a-b) <= geomTol
}

func TestConvexHull(t *testing.T) {
	pts := []Point{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {5, 5}, {5, 0}}
	hull := ConvexHull(pts)
	if len(hull) != 4 {
		t.Fatalf("凸包点数错误: got %d (%v), want 4", len(hull), hull)
	}
	for _, p := range hull {
		if p == (Point{5, 5}) || p == (Point{5, 0}) {
			t.Errorf("内部点或共线点不应出现在凸包中: %+v", p)
		}
	}
}

func TestMinAreaRectAxisAligned(t *testing.T) {
	r := MinAreaRect([]Point{{0, 0}, {10, 0}, {10, 4}, {0, 4}})
	if !approx(r.Center.X, 5) || !approx(r.Center.Y, 2) {
		t.Errorf("中心错误: got %+v", r.Center)
	}
	if !approx(r.Size.Width, 10) || !approx(r.Size.Height, 4) {
		t.Errorf("尺寸错误: got %+v", r.Size)
	}
	if r.Angle != 0 {
		t.Errorf("角度错误: got %v, want 0", r.Angle)
	}
}

func TestMinAreaRectRotated(t *testing.T) {
	tests := []struct {
		name  string
		in    RotatedRect
		angle float64
		w, h  float64
	}{
		{"20度", RotatedRect{Center: Point{50, 40}, Size: Size{30, 10}, Angle: 20}, 20, 30, 10},
		{"-30度", RotatedRect{Center: Point{0, 0}, Size: Size{12, 8}, Angle: -30}, -30, 12, 8},
		{"-50度归一化为40度并交换宽高", RotatedRect{Center: Point{7, 9}, Size: Size{30, 10}, Angle: -50}, 40, 10, 30},
		{"70度归一化为-20度并交换宽高", RotatedRect{Center: Point{7, 9}, Size: Size{30, 10}, Angle: 70}, -20, 10, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			corners := tt.in.Corners()
			got := MinAreaRect(corners[:])
			if !approx(got.Center.X, tt.in.Center.X) || !approx(got.Center.Y, tt.in.Center.Y) {
				t.Errorf("中心错误: got %+v, want %+v", got.Center, tt.in.Center)
			}
			if !approx(got.Angle, tt.angle) {
				t.Errorf("角度错误: got %v, want %v", got.Angle, tt.angle)
			}
			if !approx(got.Size.Width, tt.w) || !approx(got.Size.Height, tt.h) {
				t.Errorf("尺寸错误: got %+v, want %vx%v", got.Size, tt.w, tt.h)
			}
			if got.Angle <= -45 || got.Angle > 45 {
				t.Errorf("角度超出 (-45, 45]: %v", got.Angle)
			}
		})
	}
}

func TestMinAreaRectQuadrilateral(t *testing.T) {
	// 梯形: 最小外接矩形包含全部点
	pts := []Point{{0, 0}, {10, 0}, {8, 5}, {2, 5}}
	r := MinAreaRect(pts)
	if !approx(r.Size.Width*r.Size.Height, 50) {
		t.Errorf("面积错误: got %v, want 50", r.Size.Width*r.Size.Height)
	}
}

func TestMinAreaRectDegenerate(t *testing.T) {
	if r := MinAreaRect(nil); r != (RotatedRect{}) {
		t.Errorf("空输入应返回零值: %+v", r)
	}

	single := MinAreaRect([]Point{{3, 4}})
	if single.Center != (Point{3, 4}) || single.Size.Width != 0 {
		t.Errorf("单点结果错误: %+v", single)
	}

	same := MinAreaRect([]Point{{3, 4}, {3, 4}, {3, 4}})
	if same.Center != (Point{3, 4}) {
		t.Errorf("重复点中心错误: %+v", same)
	}

	line := MinAreaRect([]Point{{0, 0}, {5, 0}, {10, 0}})
	if !approx(line.Size.Width, 10) || !approx(line.Size.Height, 0) {
		t.Errorf("共线点尺寸错误: %+v", line.Size)
	}
	if !approx(line.Center.X, 5) || !approx(line.Center.Y, 0) {
		t.Errorf("共线点中心错误: %+v", line.Center)
	}
}

package vision

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// degenerateDetEpsilon 归一化后行列式低于该值视为奇异
const degenerateDetEpsilon = 1e-9

// Homography 3x3 投影变换矩阵，行主序
type Homography [3][3]float64

// Identity 单位矩阵
func Identity() Homography {
	return Homography{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// HomographyFromSlice 由 9 个元素（行主序）构建
func HomographyFromSlice(v []float64) (Homography, error) {
	var h Homography
	if len(v) != 9 {
		return h, fmt.Errorf("单应矩阵需要 9 个元素, 实际 %d", len(v))
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i][j] = v[i*3+j]
		}
	}
	return h, nil
}

// Flatten 行主序展开
func (h Homography) Flatten() [9]float64 {
	var out [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*3+j] = h[i][j]
		}
	}
	return out
}

// Dense 转换为 gonum 矩阵
func (h Homography) Dense() *mat.Dense {
	flat := h.Flatten()
	return mat.NewDense(3, 3, flat[:])
}

// Apply 对点做透视变换，齐次分量接近 0 时返回 false
func (h Homography) Apply(p Point) (Point, bool) {
	w := h[2][0]*p.X + h[2][1]*p.Y + h[2][2]
	if math.Abs(w) < 1e-12 {
		return Point{}, false
	}
	return Point{
		X: (h[0][0]*p.X + h[0][1]*p.Y + h[0][2]) / w,
		Y: (h[1][0]*p.X + h[1][1]*p.Y + h[1][2]) / w,
	}, true
}

// RotationDegrees 由左上 2x2 块估计的旋转角
func (h Homography) RotationDegrees() float64 {
	return math.Atan2(h[1][0], h[0][0]) * 180 / math.Pi
}

// Normalized 除以 h22
func (h Homography) Normalized() (Homography, bool) {
	if h[2][2] == 0 || math.IsNaN(h[2][2]) {
		return h, false
	}
	s := h[2][2]
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i][j] /= s
		}
	}
	return h, true
}

// IsDegenerate 矩阵为零、含 NaN/Inf、h22 为 0 或奇异时返回 true
func (h Homography) IsDegenerate() bool {
	allZero := true
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v := h[i][j]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
			if v != 0 {
				allZero = false
			}
		}
	}
	if allZero {
		return true
	}
	n, ok := h.Normalized()
	if !ok {
		return true
	}
	return math.Abs(mat.Det(n.Dense())) < degenerateDetEpsilon
}

// FitHomography 使用归一化 DLT 最小二乘拟合 src -> dst 的单应矩阵
func FitHomography(src, dst []Point) (Homography, error) {
	if len(src) != len(dst) {
		return Homography{}, fmt.Errorf("点数不一致: %d vs %d", len(src), len(dst))
	}
	if len(src) < MinCorrespondences {
		return Homography{}, fmt.Errorf("至少需要 %d 个点, 实际 %d", MinCorrespondences, len(src))
	}

	ts, srcN := normalizePoints(src)
	td, dstN := normalizePoints(dst)

	n := len(src)
	a := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return Homography{}, errors.New("SVD 分解失败")
	}
	var vt mat.Dense
	svd.VTo(&vt)
	h := make([]float64, 9)
	for i := 0; i < 9; i++ {
		h[i] = vt.At(i, 8)
	}
	hn := mat.NewDense(3, 3, h)

	// H = Td^-1 * Hn * Ts
	var tdInv mat.Dense
	if err := tdInv.Inverse(td); err != nil {
		return Homography{}, fmt.Errorf("归一化矩阵不可逆: %w", err)
	}
	var tmp, full mat.Dense
	tmp.Mul(&tdInv, hn)
	full.Mul(&tmp, ts)

	var out Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = full.At(i, j)
		}
	}
	norm, ok := out.Normalized()
	if !ok {
		return Homography{}, errors.New("拟合结果退化")
	}
	return norm, nil
}

// normalizePoints 平移到质心并缩放使平均距离为 sqrt(2)
func normalizePoints(pts []Point) (*mat.Dense, []Point) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(pts))
	cy /= float64(len(pts))

	var meanDist float64
	for _, p := range pts {
		meanDist += math.Hypot(p.X-cx, p.Y-cy)
	}
	meanDist /= float64(len(pts))
	s := 1.0
	if meanDist > 0 {
		s = math.Sqrt2 / meanDist
	}

	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{X: (p.X - cx) * s, Y: (p.Y - cy) * s}
	}
	t := mat.NewDense(3, 3, []float64{
		s, 0, -s * cx,
		0, s, -s * cy,
		0, 0, 1,
	})
	return t, out
}

package vision

import (
	"math"
	"sort"
)

// RotatedRect 有向矩形
type RotatedRect struct {
	Center Point
	Size   Size
	// Angle 角度制，范围 (-45, 45]
	Angle float64
}

// Corners 返回矩形四个顶点
func (r RotatedRect) Corners() [4]Point {
	rad := r.Angle * math.Pi / 180
	ux, uy := math.Cos(rad), math.Sin(rad)
	vx, vy := -uy, ux
	hw, hh := r.Size.Width/2, r.Size.Height/2
	var out [4]Point
	signs := [4][2]float64{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}
	for i, s := range signs {
		out[i] = Point{
			X: r.Center.X + s[0]*hw*ux + s[1]*hh*vx,
			Y: r.Center.Y + s[0]*hw*uy + s[1]*hh*vy,
		}
	}
	return out
}

// ConvexHull 单调链算法求凸包，逆时针（数学坐标系）顺序，去除共线点
func ConvexHull(pts []Point) []Point {
	if len(pts) < 3 {
		out := make([]Point, len(pts))
		copy(out, pts)
		return out
	}

	sorted := make([]Point, len(pts))
	copy(sorted, pts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})

	cross := func(o, a, b Point) float64 {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}

	hull := make([]Point, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// MinAreaRect 旋转卡壳求最小面积外接矩形
//
// 宽度沿 Angle 方向，高度与之垂直。角度归一化到 (-45, 45]，
// 每调整 90 度交换一次宽高。
func MinAreaRect(pts []Point) RotatedRect {
	hull := ConvexHull(pts)
	switch len(hull) {
	case 0:
		return RotatedRect{}
	case 1:
		return RotatedRect{Center: hull[0]}
	}

	best := RotatedRect{}
	bestArea := math.Inf(1)
	for i := range hull {
		a, b := hull[i], hull[(i+1)%len(hull)]
		dx, dy := b.X-a.X, b.Y-a.Y
		if dx == 0 && dy == 0 {
			continue
		}
		theta := math.Atan2(dy, dx)
		ux, uy := math.Cos(theta), math.Sin(theta)
		vx, vy := -uy, ux

		minU, maxU := math.Inf(1), math.Inf(-1)
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, p := range hull {
			u := p.X*ux + p.Y*uy
			v := p.X*vx + p.Y*vy
			minU, maxU = math.Min(minU, u), math.Max(maxU, u)
			minV, maxV = math.Min(minV, v), math.Max(maxV, v)
		}
		w, h := maxU-minU, maxV-minV
		area := w * h
		if area < bestArea-1e-9 {
			bestArea = area
			cu, cv := (minU+maxU)/2, (minV+maxV)/2
			best = RotatedRect{
				Center: Point{X: cu*ux + cv*vx, Y: cu*uy + cv*vy},
				Size:   Size{Width: w, Height: h},
				Angle:  theta * 180 / math.Pi,
			}
		}
	}
	if math.IsInf(bestArea, 1) {
		return RotatedRect{Center: hull[0]}
	}
	return normalizeRect(best)
}

func normalizeRect(r RotatedRect) RotatedRect {
	for r.Angle > 45 {
		r.Angle -= 90
		r.Size.Width, r.Size.Height = r.Size.Height, r.Size.Width
	}
	for r.Angle <= -45 {
		r.Angle += 90
		r.Size.Width, r.Size.Height = r.Size.Height, r.Size.Width
	}
	// 消除 -0 以及极小的浮点残差
	if math.Abs(r.Angle) < 1e-9 {
		r.Angle = 0
	}
	return r
}

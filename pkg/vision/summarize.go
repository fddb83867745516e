package vision

import (
	"errors"
	"fmt"
)

// FrameGeometry 工作帧坐标到原始帧坐标的映射: x' = OffsetX + x*ScaleX
type FrameGeometry struct {
	ScaleX  float64
	ScaleY  float64
	OffsetX float64
	OffsetY float64
}

// IdentityGeometry 不做任何变换
func IdentityGeometry() FrameGeometry {
	return FrameGeometry{ScaleX: 1, ScaleY: 1}
}

// NewFrameGeometry 纯线性缩放映射
func NewFrameGeometry(working, original Size) FrameGeometry {
	g := IdentityGeometry()
	if working.Width > 0 {
		g.ScaleX = original.Width / working.Width
	}
	if working.Height > 0 {
		g.ScaleY = original.Height / working.Height
	}
	return g
}

// Map 将工作帧坐标映射到原始帧
func (g FrameGeometry) Map(p Point) Point {
	return Point{X: g.OffsetX + p.X*g.ScaleX, Y: g.OffsetY + p.Y*g.ScaleY}
}

// Upscale 将工作帧坐标线性放大到原始帧
func Upscale(p Point, working, original Size) Point {
	return NewFrameGeometry(working, original).Map(p)
}

// Summarize 投影参考矩形、放大到原始帧并求最小外接矩形
//
// pose.Found 必须为 true，否则返回 ErrPoseNotFound。
func Summarize(pose PoseEstimate, targetDims Size, geom FrameGeometry) (MatchResult, error) {
	if !pose.Found || pose.Transform == nil {
		return MatchResult{}, NewError("Summarize", ErrPoseNotFound, errors.New("调用前必须过滤未找到位姿的目标"))
	}
	h := *pose.Transform

	ref := [4]Point{
		{X: 0, Y: 0},
		{X: targetDims.Width, Y: 0},
		{X: targetDims.Width, Y: targetDims.Height},
		{X: 0, Y: targetDims.Height},
	}

	var corners [4]Point
	for i, p := range ref {
		projected, ok := h.Apply(p)
		if !ok {
			return MatchResult{}, NewError("Summarize", ErrPoseNotFound, fmt.Errorf("角点 %d 投影到无穷远", i))
		}
		corners[i] = geom.Map(projected)
	}

	rect := MinAreaRect(corners[:])
	return MatchResult{
		Corners:        corners,
		Center:         rect.Center,
		Angle:          rect.Angle,
		Size:           rect.Size,
		Transform:      h,
		TransformAngle: h.RotationDegrees(),
		Inliers:        pose.Inliers,
	}, nil
}

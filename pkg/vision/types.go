package vision

import (
	"fmt"
	"image"
	"math"
)

// Version 版本号
const Version = "1.0.0"

// Point 表示二维坐标点（浮点）
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPoint 创建新的 Point
func NewPoint(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Distance 返回到另一点的欧氏距离
func (p Point) Distance(other Point) float64 {
	return math.Hypot(p.X-other.X, p.Y-other.Y)
}

// Size 宽高
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NewSize 创建新的 Size
func NewSize(width, height float64) Size {
	return Size{Width: width, Height: height}
}

// Empty 宽或高不为正
func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Rect 表示轴对齐矩形区域（像素坐标）
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewRect 创建新的 Rect
func NewRect(x, y, w, h int) Rect {
	return Rect{X: x, Y: y, Width: w, Height: h}
}

// Empty 宽或高不为正
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// ToImageRect 转换为 image.Rectangle
func (r Rect) ToImageRect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// ClampTo 将矩形限制在 width x height 的缓冲区内
// 原点先被夹到缓冲区内，再缩减超出边界的宽高
func (r Rect) ClampTo(width, height int) Rect {
	if r.X < 0 {
		r.X = 0
	}
	if r.Y < 0 {
		r.Y = 0
	}
	if r.X > width {
		r.X = width
	}
	if r.Y > height {
		r.Y = height
	}
	if r.X+r.Width > width {
		r.Width = width - r.X
	}
	if r.Y+r.Height > height {
		r.Height = height - r.Y
	}
	if r.Width < 0 {
		r.Width = 0
	}
	if r.Height < 0 {
		r.Height = 0
	}
	return r
}

// ============ 指纹 ============

// Keypoint 特征点
type Keypoint struct {
	X           float32 `json:"x"`
	Y           float32 `json:"y"`
	Scale       float32 `json:"scale"`
	Orientation float32 `json:"orientation"` // 角度制，[0,360)，检测器不提供时为 -1
	Strength    float32 `json:"strength"`
}

// Point 返回特征点坐标
func (k Keypoint) Point() Point {
	return Point{X: float64(k.X), Y: float64(k.Y)}
}

// Descriptors 行主序描述子矩阵，每行对应一个特征点
type Descriptors struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float32 `json:"data"`
}

// Row 返回第 i 行
func (d Descriptors) Row(i int) []float32 {
	return d.Data[i*d.Cols : (i+1)*d.Cols]
}

// Empty 矩阵是否为空
func (d Descriptors) Empty() bool {
	return d.Rows == 0 || d.Cols == 0
}

// FingerprintSet 特征点集合与描述子矩阵
type FingerprintSet struct {
	Keypoints   []Keypoint  `json:"keypoints"`
	Descriptors Descriptors `json:"descriptors"`
}

// Len 特征点数量
func (f FingerprintSet) Len() int {
	return len(f.Keypoints)
}

// Validate 校验 rows(descriptors) == len(keypoints) 以及数据长度
func (f FingerprintSet) Validate() error {
	if f.Descriptors.Rows != len(f.Keypoints) {
		return fmt.Errorf("描述子行数 %d 与特征点数 %d 不一致", f.Descriptors.Rows, len(f.Keypoints))
	}
	if f.Descriptors.Rows < 0 || f.Descriptors.Cols < 0 {
		return fmt.Errorf("描述子维度非法: %dx%d", f.Descriptors.Rows, f.Descriptors.Cols)
	}
	if f.Descriptors.Cols != 0 && f.Descriptors.Rows > math.MaxInt/f.Descriptors.Cols {
		return fmt.Errorf("描述子维度溢出: %dx%d", f.Descriptors.Rows, f.Descriptors.Cols)
	}
	if len(f.Descriptors.Data) != f.Descriptors.Rows*f.Descriptors.Cols {
		return fmt.Errorf("描述子数据长度 %d 与 %dx%d 不一致",
			len(f.Descriptors.Data), f.Descriptors.Rows, f.Descriptors.Cols)
	}
	return nil
}

// TargetRecord 目标记录，由外部目录管理方创建，核心只读
type TargetRecord struct {
	ID                   string         `json:"id"`
	ReferenceWidthUnits  float64        `json:"referenceWidthUnits"`
	ReferenceHeightUnits float64        `json:"referenceHeightUnits"`
	Fingerprint          FingerprintSet `json:"fingerprint"`
	// FrameWidth/FrameHeight 提取指纹时参考图的工作帧尺寸
	FrameWidth  int `json:"frameWidth"`
	FrameHeight int `json:"frameHeight"`
	// ReferenceImage 参考图原始字节（可选）
	ReferenceImage []byte `json:"-"`
}

// FrameSize 参考帧尺寸
func (t TargetRecord) FrameSize() Size {
	return Size{Width: float64(t.FrameWidth), Height: float64(t.FrameHeight)}
}

// ============ 匹配结果 ============

// Correspondence 查询特征点与目标特征点的对应关系
type Correspondence struct {
	QueryIndex  int
	TargetIndex int
	Distance    float32
	// Valid 一致性投票后是否保留
	Valid bool
}

// CountValid 统计有效对应数
func CountValid(corrs []Correspondence) int {
	n := 0
	for _, c := range corrs {
		if c.Valid {
			n++
		}
	}
	return n
}

// PoseEstimate 位姿估计结果
type PoseEstimate struct {
	Transform *Homography
	Found     bool
	Inliers   int
}

// NotFound 未找到位姿
func NotFound() PoseEstimate {
	return PoseEstimate{}
}

// MatchResult 单个目标的识别结果（原始帧坐标）
type MatchResult struct {
	TargetID string `json:"targetId"`
	// Corners 参考矩形投影后的四个角点，顺序为 TL, TR, BR, BL
	Corners [4]Point `json:"projectedCorners"`
	Center  Point    `json:"center"`
	// Angle 最小外接矩形角度（度），范围 (-45, 45]
	Angle float64 `json:"angle"`
	Size  Size    `json:"size"`
	// Transform 工作帧坐标下的单应矩阵
	Transform Homography `json:"transform"`
	// TransformAngle 由单应矩阵左上 2x2 块估计的旋转角（度）
	TransformAngle float64 `json:"transformAngle"`
	Inliers        int     `json:"inliers"`
}

// MatchReport 一帧的识别报告
type MatchReport struct {
	HasMatches bool          `json:"hasMatches"`
	Results    []MatchResult `json:"results"`
}

// NewMatchReport 由结果构建报告，保证 HasMatches == len(results) > 0
func NewMatchReport(results []MatchResult) MatchReport {
	if results == nil {
		results = []MatchResult{}
	}
	return MatchReport{HasMatches: len(results) > 0, Results: results}
}

// ============ 查询 ============

// FrameFlags 已应用到帧上的变换
type FrameFlags struct {
	Grayscale  bool `json:"isGrayscale"`
	Downscaled bool `json:"isDownscaled"`
	Cropped    bool `json:"hasCrop"`
	Blurred    bool `json:"hasBlur"`
}

// Query 一次识别请求
type Query struct {
	ID    string
	Image []byte
	// Original 原始帧尺寸，为空时取解码后的缓冲区尺寸
	Original Size
	// Applied 客户端已经应用过的变换
	Applied FrameFlags
	// ROI 客户端裁剪区域在原始帧中的位置（Applied.Cropped 时有效）
	ROI *Rect
}

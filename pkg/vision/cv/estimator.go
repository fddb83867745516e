package cv

import (
	"gocv.io/x/gocv"

	"github.com/zoeyai/zoeysight/pkg/vision"
)

// Estimator RANSAC 单应矩阵估计，目标坐标 -> 查询坐标
type Estimator struct {
	cfg vision.EstimatorConfig
}

// NewEstimator 创建位姿估计器
func NewEstimator(cfg vision.EstimatorConfig) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{cfg: cfg}, nil
}

// Estimate 只使用有效对应；少于 4 个时直接返回未找到，不调用 RANSAC
func (e *Estimator) Estimate(query, target []vision.Keypoint, corrs []vision.Correspondence) vision.PoseEstimate {
	src := make([]vision.Point, 0, len(corrs))
	dst := make([]vision.Point, 0, len(corrs))
	for _, c := range corrs {
		if !c.Valid {
			continue
		}
		if c.QueryIndex < 0 || c.QueryIndex >= len(query) || c.TargetIndex < 0 || c.TargetIndex >= len(target) {
			continue
		}
		src = append(src, target[c.TargetIndex].Point())
		dst = append(dst, query[c.QueryIndex].Point())
	}
	if len(src) < vision.MinCorrespondences {
		return vision.NotFound()
	}
	return e.fit(src, dst)
}

func (e *Estimator) fit(src, dst []vision.Point) vision.PoseEstimate {
	srcMat := pointsToMat(src)
	defer srcMat.Close()
	dstMat := pointsToMat(dst)
	defer dstMat.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	H := gocv.FindHomography(srcMat, dstMat, gocv.HomographyMethodRANSAC, e.cfg.ReprojThreshold, &mask, e.cfg.MaxIters, e.cfg.Confidence)
	defer H.Close()

	if H.Empty() || H.Rows() != 3 || H.Cols() != 3 {
		return vision.NotFound()
	}

	var h vision.Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i][j] = H.GetDoubleAt(i, j)
		}
	}
	if h.IsDegenerate() {
		return vision.NotFound()
	}

	inliers := countInliers(mask)
	if inliers < e.cfg.MinInliers {
		return vision.NotFound()
	}
	return vision.PoseEstimate{Transform: &h, Found: true, Inliers: inliers}
}

func pointsToMat(pts []vision.Point) gocv.Mat {
	mat := gocv.NewMatWithSize(len(pts), 2, gocv.MatTypeCV32F)
	for i, p := range pts {
		mat.SetFloatAt(i, 0, float32(p.X))
		mat.SetFloatAt(i, 1, float32(p.Y))
	}
	return mat
}

func countInliers(mask gocv.Mat) int {
	if mask.Empty() {
		return 0
	}
	inliers := 0
	for i := 0; i < mask.Rows(); i++ {
		if mask.GetUCharAt(i, 0) > 0 {
			inliers++
		}
	}
	return inliers
}

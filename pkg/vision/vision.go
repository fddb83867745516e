// Package vision 提供目标识别的核心数据类型与纯 Go 算法
//
// 主要功能:
//   - 指纹/目标/匹配结果等数据模型
//   - 单应矩阵工具与最小外接矩形
//   - 尺度/方向一致性投票
//   - 位姿汇总（工作帧坐标到原始帧坐标）
//   - 识别流水线编排 (Pipeline)
//
// 具体的图像处理实现位于 pkg/vision/cv（基于 gocv）。
//
// 基本用法:
//
//	p, err := cv.NewPipeline(vision.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//
//	report, err := p.Recognize(vision.Query{ID: "1", Image: data}, targets)
//	for _, r := range report.Results {
//	    fmt.Printf("目标 %s: 中心 (%.1f, %.1f) 角度 %.1f\n", r.TargetID, r.Center.X, r.Center.Y, r.Angle)
//	}
package vision

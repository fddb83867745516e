package cv

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/zoeyai/zoeysight/pkg/vision"
)

// Frame 工作帧，持有 gocv.Mat
type Frame struct {
	mat      gocv.Mat
	original vision.Size
	flags    vision.FrameFlags
	geom     vision.FrameGeometry
}

// Mat 底层图像，只读
func (f *Frame) Mat() gocv.Mat { return f.mat }

// Size 工作帧尺寸
func (f *Frame) Size() vision.Size {
	return vision.NewSize(float64(f.mat.Cols()), float64(f.mat.Rows()))
}

// OriginalSize 原始帧尺寸
func (f *Frame) OriginalSize() vision.Size { return f.original }

// Flags 已应用的变换
func (f *Frame) Flags() vision.FrameFlags { return f.flags }

// Geometry 工作帧到原始帧的映射
func (f *Frame) Geometry() vision.FrameGeometry { return f.geom }

// Close 释放 Mat
func (f *Frame) Close() error {
	return f.mat.Close()
}

// Preprocessor 帧预处理器，按 裁剪 -> 灰度 -> 缩放 -> 模糊 的顺序处理
type Preprocessor struct {
	opts vision.PreprocessOptions
}

// NewPreprocessor 创建预处理器
func NewPreprocessor(opts vision.PreprocessOptions) (*Preprocessor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Preprocessor{opts: opts}, nil
}

// Options 预处理选项
func (p *Preprocessor) Options() vision.PreprocessOptions { return p.opts }

// Prepare 解码并规范化查询帧
func (p *Preprocessor) Prepare(q vision.Query) (vision.WorkingFrame, error) {
	opts := p.opts.ForRequest(q.Applied)
	gray := opts.Grayscale || q.Applied.Grayscale

	mat, err := DecodeImage(q.Image, gray)
	if err != nil {
		mat.Close()
		return nil, err
	}

	bufW, bufH := mat.Cols(), mat.Rows()
	original := q.Original
	if original.Empty() {
		original = vision.NewSize(float64(bufW), float64(bufH))
	}

	// 缓冲区在原始帧中的位置与比例
	geom := vision.NewFrameGeometry(vision.NewSize(float64(bufW), float64(bufH)), original)
	if q.Applied.Cropped && q.ROI != nil && !q.ROI.Empty() {
		geom = vision.FrameGeometry{
			ScaleX:  float64(q.ROI.Width) / float64(bufW),
			ScaleY:  float64(q.ROI.Height) / float64(bufH),
			OffsetX: float64(q.ROI.X),
			OffsetY: float64(q.ROI.Y),
		}
	}

	flags := q.Applied
	flags.Grayscale = gray

	if opts.Crop != nil {
		crop := opts.Crop.ClampTo(bufW, bufH)
		if crop.Empty() {
			mat.Close()
			return nil, vision.NewError("Prepare", vision.ErrDecode,
				fmt.Errorf("裁剪区域 %+v 不在 %dx%d 图像内", *opts.Crop, bufW, bufH))
		}
		cropped := CropImage(mat, crop)
		mat.Close()
		mat = cropped
		geom.OffsetX += float64(crop.X) * geom.ScaleX
		geom.OffsetY += float64(crop.Y) * geom.ScaleY
		flags.Cropped = true
	}

	if opts.Grayscale && mat.Channels() != 1 {
		g, err := ToGray(mat)
		mat.Close()
		if err != nil {
			return nil, err
		}
		mat = g
	}

	if w, h, ok := downscaleSize(mat.Cols(), mat.Rows(), opts.MaxDimension); ok {
		geom.ScaleX *= float64(mat.Cols()) / float64(w)
		geom.ScaleY *= float64(mat.Rows()) / float64(h)
		resized, err := ResizeImage(mat, w, h)
		mat.Close()
		if err != nil {
			return nil, err
		}
		mat = resized
		flags.Downscaled = true
	}

	if opts.BlurKernel > 0 {
		blurred, err := BlurImage(mat, opts.BlurKernel, opts.BlurSigma)
		mat.Close()
		if err != nil {
			return nil, err
		}
		mat = blurred
		flags.Blurred = true
	}

	return &Frame{mat: mat, original: original, flags: flags, geom: geom}, nil
}

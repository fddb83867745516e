package cv

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/zoeyai/zoeysight/pkg/vision"
)

// DecodeImage 解码图像字节
func DecodeImage(data []byte, gray bool) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), vision.NewError("DecodeImage", vision.ErrDecode, fmt.Errorf("图像数据为空"))
	}
	flags := gocv.IMReadColor
	if gray {
		flags = gocv.IMReadGrayScale
	}
	mat, err := gocv.IMDecode(data, flags)
	if err != nil {
		return mat, vision.NewError("DecodeImage", vision.ErrDecode, err)
	}
	if mat.Empty() {
		return mat, vision.NewError("DecodeImage", vision.ErrDecode, fmt.Errorf("无法解码 %d 字节的图像", len(data)))
	}
	return mat, nil
}

// EncodePNG 将 Mat 编码为 PNG
func EncodePNG(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("PNG 编码失败: %w", err)
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// ToGray 转换为灰度图
func ToGray(src gocv.Mat) (gocv.Mat, error) {
	if src.Channels() == 1 {
		return src.Clone(), nil
	}
	dst := gocv.NewMat()
	code := gocv.ColorBGRToGray
	if src.Channels() == 4 {
		code = gocv.ColorBGRAToGray
	}
	if err := gocv.CvtColor(src, &dst, code); err != nil {
		return failed(dst, "ToGray", err)
	}
	return checked(dst, "ToGray")
}

// CropImage 裁剪图像，区域已由调用方限制在图像范围内
func CropImage(img gocv.Mat, rect vision.Rect) gocv.Mat {
	region := img.Region(rect.ToImageRect())
	defer region.Close()
	return region.Clone()
}

// ResizeImage 调整图像大小
func ResizeImage(img gocv.Mat, width, height int) (gocv.Mat, error) {
	dst := gocv.NewMat()
	if err := gocv.Resize(img, &dst, image.Point{X: width, Y: height}, 0, 0, gocv.InterpolationArea); err != nil {
		return failed(dst, "ResizeImage", err)
	}
	return checked(dst, "ResizeImage")
}

// BlurImage 高斯模糊，kernel 为奇数
func BlurImage(img gocv.Mat, kernel int, sigma float64) (gocv.Mat, error) {
	dst := gocv.NewMat()
	if err := gocv.GaussianBlur(img, &dst, image.Point{X: kernel, Y: kernel}, sigma, sigma, gocv.BorderDefault); err != nil {
		return failed(dst, "BlurImage", err)
	}
	return checked(dst, "BlurImage")
}

// failed 释放 dst 并返回预处理错误
func failed(dst gocv.Mat, op string, err error) (gocv.Mat, error) {
	dst.Close()
	return gocv.NewMat(), vision.NewError(op, vision.ErrPreprocess, err)
}

func checked(dst gocv.Mat, op string) (gocv.Mat, error) {
	if dst.Empty() {
		return failed(dst, op, fmt.Errorf("结果为空"))
	}
	return dst, nil
}

// downscaleSize 最长边超过 maxDim 时等比缩放后的尺寸
func downscaleSize(width, height, maxDim int) (int, int, bool) {
	longest := width
	if height > longest {
		longest = height
	}
	if maxDim <= 0 || longest <= maxDim {
		return width, height, false
	}
	scale := float64(maxDim) / float64(longest)
	w := int(math.Round(float64(width) * scale))
	h := int(math.Round(float64(height) * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h, true
}

package catalog

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/zoeyai/zoeysight/pkg/vision"
	"github.com/zoeyai/zoeysight/pkg/vision/cv"
)

// supportedExts 参考图扩展名
var supportedExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// Builder 由参考图生成目标记录，使用与查询相同的预处理和提取配置
type Builder struct {
	fp *cv.Fingerprinter
}

// NewBuilder 创建构建器
func NewBuilder(cfg vision.Config) (*Builder, error) {
	fp, err := cv.NewFingerprinter(cfg)
	if err != nil {
		return nil, err
	}
	return &Builder{fp: fp}, nil
}

// Build 生成单个目标记录
func (b *Builder) Build(id string, data []byte, widthUnits, heightUnits float64) (vision.TargetRecord, error) {
	if id == "" {
		return vision.TargetRecord{}, fmt.Errorf("目标 id 不能为空")
	}
	img, err := NormalizeImage(data)
	if err != nil {
		return vision.TargetRecord{}, err
	}
	fp, size, err := b.fp.Fingerprint(img)
	if err != nil {
		return vision.TargetRecord{}, fmt.Errorf("目标 %s 提取指纹失败: %w", id, err)
	}
	return vision.TargetRecord{
		ID:                   id,
		ReferenceWidthUnits:  widthUnits,
		ReferenceHeightUnits: heightUnits,
		Fingerprint:          fp,
		FrameWidth:           int(size.Width),
		FrameHeight:          int(size.Height),
		ReferenceImage:       img,
	}, nil
}

// BuildDir 目录下每张参考图生成一个目标，id 为文件名（不含扩展名）
func (b *Builder) BuildDir(dir string, widthUnits, heightUnits float64) ([]vision.TargetRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !supportedExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	records := make([]vision.TargetRecord, 0, len(files))
	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		rec, err := b.Build(id, data, widthUnits, heightUnits)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close 释放提取器
func (b *Builder) Close() error {
	return b.fp.Close()
}

// NormalizeImage jpeg/png 原样返回，bmp/tiff/webp 转为 png
func NormalizeImage(data []byte) ([]byte, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, vision.NewError("NormalizeImage", vision.ErrDecode, err)
	}
	if format == "jpeg" || format == "png" {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, vision.NewError("NormalizeImage", vision.ErrDecode, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("转换 %s 为 png 失败: %w", format, err)
	}
	return buf.Bytes(), nil
}

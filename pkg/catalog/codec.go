// Package catalog 管理目标目录：二进制编解码、会话快照以及目录来源
package catalog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/zoeyai/zoeysight/pkg/vision"
)

const (
	// Magic 文件头魔数
	Magic = "ZSCT"
	// FormatVersion 当前格式版本
	FormatVersion uint16 = 1
	// Extension 导出文件扩展名
	Extension = ".zsc"

	headerSize       = 8
	keypointByteSize = 5 * 4
)

// 记录字段编号
const (
	fieldID             protowire.Number = 1
	fieldImage          protowire.Number = 2
	fieldKeypoints      protowire.Number = 3
	fieldDescriptors    protowire.Number = 4
	fieldRows           protowire.Number = 5
	fieldCols           protowire.Number = 6
	fieldWidthUnits     protowire.Number = 7
	fieldHeightUnits    protowire.Number = 8
	fieldFrameWidth     protowire.Number = 9
	fieldFrameHeight    protowire.Number = 10
	fieldKeypointCount  protowire.Number = 11
	fieldDescriptorsCRC protowire.Number = 15
)

func integrityError(op string, format string, args ...any) error {
	return vision.NewError(op, vision.ErrCodecIntegrity, fmt.Errorf(format, args...))
}

// Encode 将目录写入 w，任一记录不合法时不写入任何数据
func Encode(w io.Writer, records []vision.TargetRecord) error {
	buf := make([]byte, 0, headerSize)
	buf = append(buf, Magic...)
	buf = binary.LittleEndian.AppendUint16(buf, FormatVersion)
	buf = binary.LittleEndian.AppendUint16(buf, 0)

	seen := make(map[string]struct{}, len(records))
	for i := range records {
		rec := &records[i]
		if rec.ID == "" {
			return integrityError("Encode", "第 %d 条记录缺少 id", i)
		}
		if _, dup := seen[rec.ID]; dup {
			return integrityError("Encode", "重复的目标 id: %s", rec.ID)
		}
		seen[rec.ID] = struct{}{}
		if err := rec.Fingerprint.Validate(); err != nil {
			return vision.NewError("Encode", vision.ErrCodecIntegrity, fmt.Errorf("目标 %s: %w", rec.ID, err))
		}
		buf = protowire.AppendBytes(buf, appendRecord(nil, rec))
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("写入目录失败: %w", err)
	}
	return nil
}

func appendRecord(b []byte, rec *vision.TargetRecord) []byte {
	kp := encodeKeypoints(rec.Fingerprint.Keypoints)
	desc := encodeFloats(rec.Fingerprint.Descriptors.Data)

	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendString(b, rec.ID)
	if len(rec.ReferenceImage) > 0 {
		b = protowire.AppendTag(b, fieldImage, protowire.BytesType)
		b = protowire.AppendBytes(b, rec.ReferenceImage)
	}
	b = protowire.AppendTag(b, fieldKeypoints, protowire.BytesType)
	b = protowire.AppendBytes(b, kp)
	b = protowire.AppendTag(b, fieldDescriptors, protowire.BytesType)
	b = protowire.AppendBytes(b, desc)
	b = appendVarint(b, fieldRows, uint64(rec.Fingerprint.Descriptors.Rows))
	b = appendVarint(b, fieldCols, uint64(rec.Fingerprint.Descriptors.Cols))
	b = protowire.AppendTag(b, fieldWidthUnits, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(rec.ReferenceWidthUnits))
	b = protowire.AppendTag(b, fieldHeightUnits, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(rec.ReferenceHeightUnits))
	b = appendVarint(b, fieldFrameWidth, uint64(rec.FrameWidth))
	b = appendVarint(b, fieldFrameHeight, uint64(rec.FrameHeight))
	b = appendVarint(b, fieldKeypointCount, uint64(len(rec.Fingerprint.Keypoints)))
	b = protowire.AppendTag(b, fieldDescriptorsCRC, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, crc32.ChecksumIEEE(desc))
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Decode 读取整个目录，任何一致性错误都会放弃整个目录
func Decode(r io.Reader) ([]vision.TargetRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}
	return decodeBytes(data)
}

func decodeBytes(data []byte) ([]vision.TargetRecord, error) {
	if len(data) < headerSize {
		return nil, integrityError("Decode", "文件头不完整: %d 字节", len(data))
	}
	if string(data[:4]) != Magic {
		return nil, integrityError("Decode", "魔数错误: %q", data[:4])
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != FormatVersion {
		return nil, integrityError("Decode", "不支持的格式版本: %d", v)
	}

	body := data[headerSize:]
	records := []vision.TargetRecord{}
	seen := make(map[string]struct{})
	for len(body) > 0 {
		raw, n := protowire.ConsumeBytes(body)
		if n < 0 {
			return nil, integrityError("Decode", "第 %d 条记录被截断: %v", len(records), protowire.ParseError(n))
		}
		body = body[n:]

		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, vision.NewError("Decode", vision.ErrCodecIntegrity, fmt.Errorf("第 %d 条记录: %w", len(records), err))
		}
		if _, dup := seen[rec.ID]; dup {
			return nil, integrityError("Decode", "重复的目标 id: %s", rec.ID)
		}
		seen[rec.ID] = struct{}{}
		records = append(records, rec)
	}
	return records, nil
}

// rawRecord 解析过程中的原始字段
type rawRecord struct {
	id                      string
	image, kp, desc         []byte
	rows, cols, kpCount     uint64
	frameW, frameH          uint64
	widthUnits, heightUnits float64
	crc                     uint32
	hasCRC, hasRows         bool
	hasCols, hasKpCount     bool
}

func decodeRecord(b []byte) (vision.TargetRecord, error) {
	var raw rawRecord
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return vision.TargetRecord{}, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType && (num == fieldID || num == fieldImage || num == fieldKeypoints || num == fieldDescriptors):
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return vision.TargetRecord{}, protowire.ParseError(m)
			}
			switch num {
			case fieldID:
				raw.id = string(v)
			case fieldImage:
				raw.image = bytes.Clone(v)
			case fieldKeypoints:
				raw.kp = v
			case fieldDescriptors:
				raw.desc = v
			}
			n = m
		case typ == protowire.VarintType && num >= fieldRows && num <= fieldKeypointCount && num != fieldWidthUnits && num != fieldHeightUnits:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return vision.TargetRecord{}, protowire.ParseError(m)
			}
			switch num {
			case fieldRows:
				raw.rows, raw.hasRows = v, true
			case fieldCols:
				raw.cols, raw.hasCols = v, true
			case fieldFrameWidth:
				raw.frameW = v
			case fieldFrameHeight:
				raw.frameH = v
			case fieldKeypointCount:
				raw.kpCount, raw.hasKpCount = v, true
			}
			n = m
		case typ == protowire.Fixed64Type && (num == fieldWidthUnits || num == fieldHeightUnits):
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return vision.TargetRecord{}, protowire.ParseError(m)
			}
			if num == fieldWidthUnits {
				raw.widthUnits = math.Float64frombits(v)
			} else {
				raw.heightUnits = math.Float64frombits(v)
			}
			n = m
		case typ == protowire.Fixed32Type && num == fieldDescriptorsCRC:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return vision.TargetRecord{}, protowire.ParseError(m)
			}
			raw.crc, raw.hasCRC = v, true
			n = m
		default:
			// 未知字段，跳过
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return vision.TargetRecord{}, protowire.ParseError(n)
			}
		}
		b = b[n:]
	}
	return raw.build()
}

func (raw *rawRecord) build() (vision.TargetRecord, error) {
	if raw.id == "" {
		return vision.TargetRecord{}, errors.New("缺少 id")
	}
	if !raw.hasRows || !raw.hasCols || !raw.hasKpCount || !raw.hasCRC {
		return vision.TargetRecord{}, fmt.Errorf("目标 %s 缺少必需字段", raw.id)
	}
	if len(raw.desc)%4 != 0 {
		return vision.TargetRecord{}, fmt.Errorf("目标 %s 描述子字节数 %d 不是 4 的倍数", raw.id, len(raw.desc))
	}
	if raw.rows > math.MaxInt32 || raw.cols > math.MaxInt32 || raw.frameW > math.MaxInt32 || raw.frameH > math.MaxInt32 {
		return vision.TargetRecord{}, fmt.Errorf("目标 %s 维度超出范围: %dx%d 帧 %dx%d", raw.id, raw.rows, raw.cols, raw.frameW, raw.frameH)
	}
	// 行列均不超过 int32，乘积不会溢出
	if uint64(len(raw.desc)) != raw.rows*raw.cols*4 {
		return vision.TargetRecord{}, fmt.Errorf("目标 %s 描述子字节数 %d 与 %dx%d 不一致", raw.id, len(raw.desc), raw.rows, raw.cols)
	}
	if len(raw.kp)%keypointByteSize != 0 {
		return vision.TargetRecord{}, fmt.Errorf("目标 %s 特征点字节数 %d 不是 %d 的倍数", raw.id, len(raw.kp), keypointByteSize)
	}
	if n := uint64(len(raw.kp) / keypointByteSize); n != raw.kpCount || n != raw.rows {
		return vision.TargetRecord{}, fmt.Errorf("目标 %s 特征点数 %d 与记录数 %d / 描述子行数 %d 不一致", raw.id, n, raw.kpCount, raw.rows)
	}
	if crc := crc32.ChecksumIEEE(raw.desc); crc != raw.crc {
		return vision.TargetRecord{}, fmt.Errorf("目标 %s 描述子校验和不匹配: %08x != %08x", raw.id, crc, raw.crc)
	}

	return vision.TargetRecord{
		ID:                   raw.id,
		ReferenceWidthUnits:  raw.widthUnits,
		ReferenceHeightUnits: raw.heightUnits,
		FrameWidth:           int(raw.frameW),
		FrameHeight:          int(raw.frameH),
		ReferenceImage:       raw.image,
		Fingerprint: vision.FingerprintSet{
			Keypoints: decodeKeypoints(raw.kp),
			Descriptors: vision.Descriptors{
				Rows: int(raw.rows),
				Cols: int(raw.cols),
				Data: decodeFloats(raw.desc),
			},
		},
	}, nil
}

func encodeFloats(v []float32) []byte {
	out := make([]byte, 0, len(v)*4)
	for _, f := range v {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	return out
}

func decodeFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func encodeKeypoints(kps []vision.Keypoint) []byte {
	v := make([]float32, 0, len(kps)*5)
	for _, k := range kps {
		v = append(v, k.X, k.Y, k.Scale, k.Orientation, k.Strength)
	}
	return encodeFloats(v)
}

func decodeKeypoints(b []byte) []vision.Keypoint {
	v := decodeFloats(b)
	out := make([]vision.Keypoint, len(v)/5)
	for i := range out {
		f := v[i*5 : i*5+5]
		out[i] = vision.Keypoint{X: f[0], Y: f[1], Scale: f[2], Orientation: f[3], Strength: f[4]}
	}
	return out
}

// Serialize 原子地写入目录文件（临时文件 + 重命名）
func Serialize(path string, records []vision.TargetRecord) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".catalog-*"+Extension)
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	if err := Encode(w, records); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("写入目录失败: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("同步目录文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("关闭目录文件失败: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("保存目录文件失败: %w", err)
	}
	return nil
}

// Deserialize 读取目录文件
func Deserialize(path string) ([]vision.TargetRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(bufio.NewReader(f))
}

// ExportFilename 由目录显示名生成导出文件名
func ExportFilename(displayName string) string {
	name := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			return r
		}
		return '_'
	}, strings.TrimSpace(displayName))
	name = strings.Trim(name, "._")
	if name == "" {
		name = "catalog"
	}
	return name + Extension
}

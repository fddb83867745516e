package vision

import "errors"

// 错误分类
var (
	// ErrDecode 图像或消息无法解码
	ErrDecode = errors.New("vision: decode failed")
	// ErrConfiguration 提取器/匹配器参数非法，只在构造时出现
	ErrConfiguration = errors.New("vision: invalid configuration")
	// ErrPreprocess 帧变换（灰度/缩放/模糊）失败
	ErrPreprocess = errors.New("vision: preprocess failed")
	// ErrPoseNotFound 未找到位姿，属于正常结果，不是故障
	ErrPoseNotFound = errors.New("vision: pose not found")
	// ErrCodecIntegrity 目录反序列化后一致性校验失败
	ErrCodecIntegrity = errors.New("vision: catalog integrity check failed")
)

// Error 带操作名和分类的错误
type Error struct {
	Op   string
	Kind error
	Err  error
}

// NewError 创建分类错误
func NewError(op string, kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is 使 errors.Is(err, ErrDecode) 等判断生效
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

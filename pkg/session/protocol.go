package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zoeyai/zoeysight/pkg/vision"
)

// Request 客户端识别请求（JSON 信封）
type Request struct {
	ID string `json:"id"`
	// Image 编码后的图像字节，JSON 中为 base64
	Image           []byte `json:"image"`
	OriginalWidth   int    `json:"originalWidth"`
	OriginalHeight  int    `json:"originalHeight"`
	IsGrayscale     bool   `json:"isGrayscale"`
	IsLowResolution bool   `json:"isLowResolution"`
	HasRoi          bool   `json:"hasRoi"`
	HasGaussianBlur bool   `json:"hasGaussianBlur"`
	// Roi 客户端裁剪区域在原始帧中的位置
	Roi *vision.Rect `json:"roi,omitempty"`
}

// DecodeRequest 解析请求信封，失败返回 ErrEnvelope
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, envelopeError("DecodeRequest", err)
	}
	if req.ID == "" {
		return nil, envelopeError("DecodeRequest", errors.New("缺少请求 id"))
	}
	if req.OriginalWidth < 0 || req.OriginalHeight < 0 {
		return nil, envelopeError("DecodeRequest", fmt.Errorf("原始尺寸非法: %dx%d", req.OriginalWidth, req.OriginalHeight))
	}
	if req.HasRoi && req.Roi != nil && (req.Roi.Empty() || req.Roi.X < 0 || req.Roi.Y < 0) {
		return nil, envelopeError("DecodeRequest", fmt.Errorf("roi 非法: %+v", *req.Roi))
	}
	return &req, nil
}

// EncodeRequest 序列化请求
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// Query 转换为识别查询
func (r *Request) Query() vision.Query {
	q := vision.Query{
		ID:       r.ID,
		Image:    r.Image,
		Original: vision.Size{Width: float64(r.OriginalWidth), Height: float64(r.OriginalHeight)},
		Applied: vision.FrameFlags{
			Grayscale:  r.IsGrayscale,
			Downscaled: r.IsLowResolution,
			Cropped:    r.HasRoi,
			Blurred:    r.HasGaussianBlur,
		},
	}
	if r.HasRoi && r.Roi != nil {
		roi := *r.Roi
		q.ROI = &roi
	}
	return q
}

// Match 单个目标的线上格式
type Match struct {
	TargetID         string          `json:"targetId"`
	ProjectedCorners [4]vision.Point `json:"projectedCorners"`
	Size             vision.Size     `json:"size"`
	CenterX          float64         `json:"centerX"`
	CenterY          float64         `json:"centerY"`
	Angle            float64         `json:"angle"`
	TransformAngle   float64         `json:"transformAngle"`
	Transform        [9]float64      `json:"transform"`
	Inliers          int             `json:"inliers"`
}

// Response 每个请求恰好一个响应
type Response struct {
	RequestID  string  `json:"requestId"`
	HasMatches bool    `json:"hasMatches"`
	Matches    []Match `json:"matches"`
	Error      string  `json:"error,omitempty"`
}

// NewResponse 由识别报告构建响应
func NewResponse(requestID string, report vision.MatchReport) *Response {
	resp := &Response{
		RequestID: requestID,
		Matches:   make([]Match, 0, len(report.Results)),
	}
	for _, r := range report.Results {
		resp.Matches = append(resp.Matches, Match{
			TargetID:         r.TargetID,
			ProjectedCorners: r.Corners,
			Size:             r.Size,
			CenterX:          r.Center.X,
			CenterY:          r.Center.Y,
			Angle:            r.Angle,
			TransformAngle:   r.TransformAngle,
			Transform:        r.Transform.Flatten(),
			Inliers:          r.Inliers,
		})
	}
	resp.HasMatches = len(resp.Matches) > 0
	return resp
}

// ErrorResponse 请求级失败的响应，没有匹配结果
func ErrorResponse(requestID string, err error) *Response {
	return &Response{
		RequestID: requestID,
		Matches:   []Match{},
		Error:     err.Error(),
	}
}

// EncodeResponse 序列化响应
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse 解析响应
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, envelopeError("DecodeResponse", err)
	}
	return &resp, nil
}

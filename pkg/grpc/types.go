// Package grpc 提供识别会话的 gRPC 传输
//
// 服务 zoeysight.v1.Recognition 只有一个双向流方法 Session，
// 消息为 google.protobuf.BytesValue，内容与 WebSocket 传输的分片完全相同。
// 目录名通过 metadata x-catalog 传递；客户端 CloseSend 等同于关闭帧，
// 服务端回显的关闭码和原因放在 trailer 中。
package grpc

import (
	gogrpc "google.golang.org/grpc"
)

const (
	// ServiceName gRPC 服务名
	ServiceName = "zoeysight.v1.Recognition"
	// SessionMethod 完整方法名
	SessionMethod = "/" + ServiceName + "/Session"

	// CatalogMetadataKey 目录名
	CatalogMetadataKey = "x-catalog"
	// CloseCodeTrailer 关闭码
	CloseCodeTrailer = "x-close-code"
	// CloseReasonTrailer 关闭原因，二进制 metadata 以容纳任意文本
	CloseReasonTrailer = "x-close-reason-bin"
)

// recognitionServer 服务实现需要满足的接口
type recognitionServer interface {
	session(stream gogrpc.ServerStream) error
}

func sessionHandler(srv interface{}, stream gogrpc.ServerStream) error {
	return srv.(recognitionServer).session(stream)
}

// serviceDesc 手写的服务描述，等价于 protoc 生成的代码
var serviceDesc = gogrpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*recognitionServer)(nil),
	Streams: []gogrpc.StreamDesc{
		{
			StreamName:    "Session",
			Handler:       sessionHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "zoeysight/v1/recognition.proto",
}

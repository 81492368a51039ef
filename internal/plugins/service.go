package plugins

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// 插件进程协议
const (
	ServiceName = "corpus.plugin.v1.Provider"
	EnvSocket   = "CORPUS_PLUGIN_SOCKET"
	ReadyLine   = "READY"
)

const (
	methodDescribe = "/" + ServiceName + "/Describe"
	methodEmbed    = "/" + ServiceName + "/Embed"
	methodGenerate = "/" + ServiceName + "/Generate"
)

// ProviderServer 插件进程实现的服务，消息均为structpb.Struct
//
//	Describe: {} -> {name, exports, dimensions}
//	Embed:    {texts} -> {vectors}
//	Generate: {prompt, context, memory:[{question, answer}]} -> {text}
type ProviderServer interface {
	Describe(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Embed(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Generate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterProviderServer 注册到gRPC服务器
func RegisterProviderServer(s grpc.ServiceRegistrar, srv ProviderServer) {
	s.RegisterService(&providerServiceDesc, srv)
}

func unaryHandler(method string, call func(ProviderServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ProviderServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ProviderServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var providerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ProviderServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Describe",
			Handler: unaryHandler(methodDescribe, func(s ProviderServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.Describe(ctx, in)
			}),
		},
		{
			MethodName: "Embed",
			Handler: unaryHandler(methodEmbed, func(s ProviderServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.Embed(ctx, in)
			}),
		},
		{
			MethodName: "Generate",
			Handler: unaryHandler(methodGenerate, func(s ProviderServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.Generate(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "corpus/plugin/v1/provider.proto",
}

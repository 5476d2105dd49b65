// Package ocrgrpc carries OCR requests to a remote recognizer over gRPC. The
// service uses protobuf well-known wrapper types, so no generated stubs are
// needed: the request is a BytesValue holding a PNG, the reply a StringValue
// holding the recognized text. Language hints travel as metadata.
package ocrgrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "attendance.ocr.v1.Recognizer"

	recognizeMethod = "/" + ServiceName + "/Recognize"
	languagesKey    = "x-ocr-languages"
	inputIDKey      = "x-ocr-input-id"
)

// RecognizerServer is the server side contract of the service.
type RecognizerServer interface {
	Recognize(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error)
}

func recognizeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecognizerServer).Recognize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: recognizeMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RecognizerServer).Recognize(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var recognizerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RecognizerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Recognize",
			Handler:    recognizeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "attendance/ocr/v1/recognizer.proto",
}

// RegisterRecognizerServer attaches srv to a gRPC server.
func RegisterRecognizerServer(s grpc.ServiceRegistrar, srv RecognizerServer) {
	s.RegisterService(&recognizerServiceDesc, srv)
}

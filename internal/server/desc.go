package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "soa.v1.Extraction"

const (
	MethodExtractDocument = "/" + ServiceName + "/ExtractDocument"
	MethodGetDocument     = "/" + ServiceName + "/GetDocument"
	MethodListEvents      = "/" + ServiceName + "/ListEvents"
)

// ExtractionServer is the server API. Requests and responses are free-form
// structs so the service needs no generated message types.
type ExtractionServer interface {
	ExtractDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListEvents(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterExtractionServer(s grpc.ServiceRegistrar, srv ExtractionServer) {
	s.RegisterService(&extractionServiceDesc, srv)
}

type unaryMethod func(ExtractionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(full string, call unaryMethod) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ExtractionServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ExtractionServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var extractionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExtractionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ExtractDocument", Handler: unaryHandler(MethodExtractDocument, ExtractionServer.ExtractDocument)},
		{MethodName: "GetDocument", Handler: unaryHandler(MethodGetDocument, ExtractionServer.GetDocument)},
		{MethodName: "ListEvents", Handler: unaryHandler(MethodListEvents, ExtractionServer.ListEvents)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "soa/v1/extraction.proto",
}

// Client is a thin caller for the service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func (c *Client) call(ctx context.Context, method string, req map[string]any, opts ...grpc.CallOption) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *Client) ExtractDocument(ctx context.Context, req map[string]any, opts ...grpc.CallOption) (map[string]any, error) {
	return c.call(ctx, MethodExtractDocument, req, opts...)
}

func (c *Client) GetDocument(ctx context.Context, docID string, opts ...grpc.CallOption) (map[string]any, error) {
	return c.call(ctx, MethodGetDocument, map[string]any{"doc_id": docID}, opts...)
}

func (c *Client) ListEvents(ctx context.Context, docID string, opts ...grpc.CallOption) (map[string]any, error) {
	return c.call(ctx, MethodListEvents, map[string]any{"doc_id": docID}, opts...)
}

package server

import (
	"context"

	"google.golang.org/grpc/metadata"
)

const requestIDHeader = "x-request-id"

func requestIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(requestIDHeader); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

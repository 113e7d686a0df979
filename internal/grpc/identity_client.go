package grpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ResolveTokenMethod is the identity service RPC. Request and response are
// google.protobuf.StringValue carrying the token and the user id.
const ResolveTokenMethod = "/identity.v1.IdentityService/ResolveToken"

var ErrUnresolved = errors.New("credential not resolved")

// IdentityClient wraps the identity-service gRPC connection.
type IdentityClient struct {
	conn grpc.ClientConnInterface
}

// NewIdentityClient constructs the wrapper.
func NewIdentityClient(conn grpc.ClientConnInterface) *IdentityClient {
	return &IdentityClient{conn: conn}
}

// Resolve verifies the bearer token and returns the authenticated user id.
func (c *IdentityClient) Resolve(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrUnresolved
	}

	resp := &wrapperspb.StringValue{}
	if err := c.conn.Invoke(ctx, ResolveTokenMethod, wrapperspb.String(token), resp); err != nil {
		return "", fmt.Errorf("resolve token: %w", err)
	}
	if resp.GetValue() == "" {
		return "", ErrUnresolved
	}
	return resp.GetValue(), nil
}

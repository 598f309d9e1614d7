// Package auth checks the host page token against the SSO service.
package auth

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	ssov1 "github.com/YagorX/protos/gen/go/sso"
	grpclog "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	grpcretry "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/retry"
	"golang.org/x/exp/slog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

var ErrInvalidToken = errors.New("invalid token")

type Client struct {
	log     *slog.Logger
	api     ssov1.AuthClient
	cc      *grpc.ClientConn
	timeout time.Duration
}

func New(
	log *slog.Logger,
	addr string,
	timeout time.Duration,
	retriesCount int,
	plaintext bool,
) (*Client, error) {
	const op = "auth.New"

	retryOpts := []grpcretry.CallOption{
		grpcretry.WithCodes(codes.Unavailable, codes.Aborted, codes.DeadlineExceeded),
		grpcretry.WithMax(uint(retriesCount)),
		grpcretry.WithPerRetryTimeout(timeout),
	}

	logOpts := []grpclog.Option{
		grpclog.WithLogOnEvents(grpclog.StartCall, grpclog.FinishCall),
	}

	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if plaintext {
		creds = insecure.NewCredentials()
	}

	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithChainUnaryInterceptor(
			grpclog.UnaryClientInterceptor(InterceptorLogger(log), logOpts...),
			grpcretry.UnaryClientInterceptor(retryOpts...),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c := NewWithAPI(log, ssov1.NewAuthClient(cc), timeout*time.Duration(retriesCount+1))
	c.cc = cc

	return c, nil
}

// NewWithAPI wraps an existing sso client.
func NewWithAPI(log *slog.Logger, api ssov1.AuthClient, timeout time.Duration) *Client {
	return &Client{log: log, api: api, timeout: timeout}
}

// ValidateToken returns the SSO user id the token belongs to.
func (c *Client) ValidateToken(ctx context.Context, token string) (int64, error) {
	const op = "auth.ValidateToken"

	if token == "" {
		return 0, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.api.ValidateToken(ctx, &ssov1.ValidateTokenRequest{
		Token: token,
	})
	if err != nil {
		switch status.Code(err) {
		case codes.Unauthenticated, codes.InvalidArgument, codes.NotFound, codes.PermissionDenied:
			return 0, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return resp.GetUserId(), nil
}

func (c *Client) Close() error {
	if c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func InterceptorLogger(log *slog.Logger) grpclog.Logger {
	return grpclog.LoggerFunc(func(ctx context.Context, lvl grpclog.Level, msg string, fields ...any) {
		log.Log(ctx, slog.Level(lvl), msg, fields...)
	})
}

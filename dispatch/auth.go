// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/z5labs/otlpstdout/internal/logging"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// Defaults used when signing requests with SigV4.
const (
	DefaultSigningService = "xray"
	DefaultRegion         = "us-east-1"
)

// ErrMissingCredentials is returned when a destination requires SigV4 but
// no credentials were configured.
var ErrMissingCredentials = errors.New("sigv4 requires aws credentials")

// Authenticator authenticates an outbound request. body is the exact
// request body.
type Authenticator interface {
	Authenticate(ctx context.Context, req *http.Request, body []byte) error
}

// NoAuth sends requests unauthenticated.
type NoAuth struct{}

// Authenticate implements the [Authenticator] interface.
func (NoAuth) Authenticate(_ context.Context, _ *http.Request, _ []byte) error {
	return nil
}

// HeaderAuth sets a single static header.
type HeaderAuth struct {
	Key   string
	Value string
}

// Authenticate implements the [Authenticator] interface.
func (a HeaderAuth) Authenticate(_ context.Context, req *http.Request, _ []byte) error {
	req.Header.Set(a.Key, a.Value)
	return nil
}

// SigV4 signs requests with AWS Signature Version 4 using the forwarder's
// own credentials.
type SigV4 struct {
	Credentials aws.CredentialsProvider
	Service     string
	Region      string

	signer *v4.Signer
	now    func() time.Time
}

// Authenticate implements the [Authenticator] interface.
func (a SigV4) Authenticate(ctx context.Context, req *http.Request, body []byte) error {
	if a.Credentials == nil {
		return ErrMissingCredentials
	}
	creds, err := a.Credentials.Retrieve(ctx)
	if err != nil {
		return err
	}

	signer := a.signer
	if signer == nil {
		signer = v4.NewSigner()
	}
	now := a.now
	if now == nil {
		now = time.Now
	}

	sum := sha256.Sum256(body)
	req.ContentLength = int64(len(body))
	return signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), a.Service, a.Region, now())
}

type authOptions struct {
	logHandler  slog.Handler
	credentials aws.CredentialsProvider
	service     string
	region      string
	now         func() time.Time
}

// AuthOption configures how [ParseAuth] builds authenticators.
type AuthOption func(*authOptions)

// Credentials sets the credentials used for SigV4.
func Credentials(p aws.CredentialsProvider) AuthOption {
	return func(o *authOptions) {
		o.credentials = p
	}
}

// SigningService overrides [DefaultSigningService].
func SigningService(s string) AuthOption {
	return func(o *authOptions) {
		if s == "" {
			return
		}
		o.service = s
	}
}

// Region overrides [DefaultRegion].
func Region(s string) AuthOption {
	return func(o *authOptions) {
		if s == "" {
			return
		}
		o.region = s
	}
}

// AuthLogHandler configures where unknown auth values are reported.
func AuthLogHandler(h slog.Handler) AuthOption {
	return func(o *authOptions) {
		o.logHandler = h
	}
}

func signingTime(now func() time.Time) AuthOption {
	return func(o *authOptions) {
		o.now = now
	}
}

// ParseAuth maps the auth value of a destination to an [Authenticator]:
//
//   - "sigv4" or "iam", in any case, signs with SigV4
//   - "key=value" sets the header key to value
//   - "" or "none" sends requests unauthenticated
//
// Any other value is logged and treated as "none".
func ParseAuth(s string, opts ...AuthOption) Authenticator {
	o := &authOptions{
		logHandler: logging.NoopHandler{},
		service:    DefaultSigningService,
		region:     DefaultRegion,
	}
	for _, opt := range opts {
		opt(o)
	}

	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "sigv4", "iam":
		return SigV4{
			Credentials: o.credentials,
			Service:     o.service,
			Region:      o.region,
			now:         o.now,
		}
	case "", "none":
		return NoAuth{}
	}

	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if ok && key != "" {
		return HeaderAuth{Key: key, Value: strings.TrimSpace(value)}
	}

	logging.New(o.logHandler).Warn("unknown auth type, sending unauthenticated", slog.String("auth", s))
	return NoAuth{}
}

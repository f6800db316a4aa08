// Package grpclimit gates gRPC services behind the admission engine. The
// interceptor maps methods onto rate-limit actions, reads the caller's
// identity from the context (falling back to the peer address as an
// anonymous subject) and turns denials into ResourceExhausted status codes
// with a retry-after hint.
package grpclimit

import (
	"context"
	"net"
	"strconv"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/toolink/admit/admission"
	"github.com/toolink/admit/identity"
)

// RetryAfterKey is the trailer metadata key carrying the retry-after hint
// in milliseconds on denied calls.
const RetryAfterKey = "retry-after-ms"

// UnaryServerInterceptor builds a unary interceptor over the engine.
// actions maps full method names (e.g. "/pastes.v1.Pastes/CreatePaste") to
// rate-limit actions; methods not in the map pass through unmetered.
func UnaryServerInterceptor(engine *admission.Engine, actions map[string]string) grpc.UnaryServerInterceptor {
	if engine == nil {
		panic("grpclimit: engine cannot be nil")
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		action, metered := actions[info.FullMethod]
		if !metered {
			return handler(ctx, req)
		}

		id, ok := identity.FromContext(ctx)
		if !ok {
			id = identity.Anonymous(peerAddr(ctx))
		}
		if id.Subject == "" {
			// no identity and no usable peer address: let it through
			// rather than meter every such caller as one subject
			log.Warn().Str("method", info.FullMethod).Msg("no subject for request, skipping rate limit")
			return handler(ctx, req)
		}

		decision, err := engine.Check(ctx, id.Tier, id.Subject, action)
		if err != nil {
			// unknown action means the actions map is wrong; deny loudly
			log.Error().Err(err).Str("method", info.FullMethod).Str("action", action).Msg("rate limit misconfiguration")
			return nil, status.Error(codes.Internal, "rate limiter misconfigured")
		}

		if !decision.Admitted {
			if decision.Reason == admission.ReasonStoreUnavailable {
				return nil, status.Error(codes.Unavailable, "rate limiter unavailable")
			}

			retryMs := decision.RetryAfter.Milliseconds()
			if err := grpc.SetTrailer(ctx, metadata.Pairs(RetryAfterKey, strconv.FormatInt(retryMs, 10))); err != nil {
				log.Debug().Err(err).Msg("failed to set retry-after trailer")
			}
			return nil, status.Errorf(codes.ResourceExhausted,
				"rate limit exceeded on %s, retry in %dms", decision.Scope, retryMs)
		}

		return handler(ctx, req)
	}
}

// peerAddr extracts the caller's host address, without the port so one
// client is one subject regardless of its ephemeral ports.
func peerAddr(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}

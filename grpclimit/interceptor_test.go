package grpclimit

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/toolink/admit/admission"
	"github.com/toolink/admit/identity"
	"github.com/toolink/admit/rules"
	"github.com/toolink/admit/store"
)

const getMethod = "/pastes.v1.Pastes/GetPaste"

func testEngine(t *testing.T) *admission.Engine {
	t.Helper()

	table, err := rules.NewTable(map[string]string{
		"global_limit":         "100/minute",
		"authed_global_limit":  "100/minute",
		"premium_global_limit": "100/minute",
		"getpaste":             "2/minute",
	})
	require.NoError(t, err)

	resolver, err := admission.NewResolver(table, admission.ActionGetPaste)
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ms := store.NewMemoryStore(store.WithClock(func() time.Time { return base }))
	return admission.NewEngine(resolver, ms)
}

func callInfo(method string) *grpc.UnaryServerInfo {
	return &grpc.UnaryServerInfo{FullMethod: method}
}

func okHandler(called *int) grpc.UnaryHandler {
	return func(ctx context.Context, req any) (any, error) {
		*called++
		return "ok", nil
	}
}

func TestInterceptorAdmitsAndThenDenies(t *testing.T) {
	ic := UnaryServerInterceptor(testEngine(t), map[string]string{
		getMethod: admission.ActionGetPaste,
	})

	ctx := identity.Authenticated("user-1").WithContext(context.Background())
	var called int

	for i := 0; i < 2; i++ {
		resp, err := ic(ctx, nil, callInfo(getMethod), okHandler(&called))
		require.NoError(t, err)
		assert.Equal(t, "ok", resp)
	}
	require.Equal(t, 2, called)

	_, err := ic(ctx, nil, callInfo(getMethod), okHandler(&called))
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.ResourceExhausted, st.Code())
	assert.Contains(t, st.Message(), "getpaste")
	assert.Equal(t, 2, called, "handler must not run on a denied call")
}

func TestInterceptorUnmeteredMethodPassesThrough(t *testing.T) {
	ic := UnaryServerInterceptor(testEngine(t), map[string]string{
		getMethod: admission.ActionGetPaste,
	})

	var called int
	resp, err := ic(context.Background(), nil, callInfo("/grpc.health.v1.Health/Check"), okHandler(&called))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, 1, called)
}

func TestInterceptorFallsBackToPeerAddress(t *testing.T) {
	ic := UnaryServerInterceptor(testEngine(t), map[string]string{
		getMethod: admission.ActionGetPaste,
	})

	// no identity in context: the peer address is the anonymous subject
	ctx := peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP("203.0.113.7"), Port: 54321},
	})

	var called int
	for i := 0; i < 2; i++ {
		_, err := ic(ctx, nil, callInfo(getMethod), okHandler(&called))
		require.NoError(t, err)
	}

	_, err := ic(ctx, nil, callInfo(getMethod), okHandler(&called))
	require.Error(t, err)
	st, _ := status.FromError(err)
	assert.Equal(t, codes.ResourceExhausted, st.Code())

	// a different peer has its own budget
	other := peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP("198.51.100.2"), Port: 1234},
	})
	_, err = ic(other, nil, callInfo(getMethod), okHandler(&called))
	assert.NoError(t, err)
}

func TestInterceptorNoSubjectSkipsMetering(t *testing.T) {
	ic := UnaryServerInterceptor(testEngine(t), map[string]string{
		getMethod: admission.ActionGetPaste,
	})

	// neither identity nor peer: pass through rather than pool everyone
	// under one empty subject
	var called int
	for i := 0; i < 5; i++ {
		_, err := ic(context.Background(), nil, callInfo(getMethod), okHandler(&called))
		require.NoError(t, err)
	}
	assert.Equal(t, 5, called)
}

func TestInterceptorStoreOutageIsUnavailable(t *testing.T) {
	table, err := rules.NewTable(map[string]string{
		"global_limit":         "100/minute",
		"authed_global_limit":  "100/minute",
		"premium_global_limit": "100/minute",
		"getpaste":             "2/minute",
	})
	require.NoError(t, err)
	resolver, err := admission.NewResolver(table, admission.ActionGetPaste)
	require.NoError(t, err)

	engine := admission.NewEngine(resolver, failingStore{})
	ic := UnaryServerInterceptor(engine, map[string]string{
		getMethod: admission.ActionGetPaste,
	})

	ctx := identity.Authenticated("user-1").WithContext(context.Background())
	_, err = ic(ctx, nil, callInfo(getMethod), okHandler(new(int)))
	require.Error(t, err)
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Unavailable, st.Code())
}

type failingStore struct{}

func (failingStore) IncrementAndCheck(ctx context.Context, key string, limit rules.Limit) (store.Result, error) {
	return store.Result{}, store.ErrStoreUnavailable
}

func (failingStore) Evict(ctx context.Context, key string) error {
	return store.ErrStoreUnavailable
}

package ratelimit

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequest(ip, ua string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.RemoteAddr = ip + ":54321"
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	return req
}

func newTestLimiter(t *testing.T, cfg Config, clock *fakeClock, opts ...Option) *Limiter {
	t.Helper()
	opts = append([]Option{withClock(clock.Now), WithCleanupInterval(-1)}, opts...)
	l, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero requests", Config{Requests: 0, Window: time.Second}},
		{"negative requests", Config{Requests: -5, Window: time.Second}},
		{"zero window", Config{Requests: 3}},
		{"negative window", Config{Requests: 3, Window: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Nil(t, l)
		})
	}
}

func TestLimiter_ExhaustThenDeny(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{Requests: 3, Window: time.Second}, clock)
	req := newTestRequest("10.0.0.1", "curl/8.0")

	for _, want := range []int{2, 1, 0} {
		res := l.Limit(req)
		assert.True(t, res.Success)
		assert.Equal(t, 3, res.Limit)
		assert.Equal(t, want, res.Remaining)
		assert.Zero(t, res.RetryAfter)
		assert.Equal(t, clock.Now().Add(time.Second).UnixMilli(), res.Reset)
	}

	res := l.Limit(req)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, int64(334), res.RetryAfter)
}

func TestLimiter_RecoversAfterRetryAfter(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{Requests: 3, Window: time.Second}, clock)
	req := newTestRequest("10.0.0.1", "curl/8.0")

	for i := 0; i < 3; i++ {
		require.True(t, l.Limit(req).Success)
	}
	denied := l.Limit(req)
	require.False(t, denied.Success)

	clock.Advance(time.Duration(denied.RetryAfter) * time.Millisecond)
	res := l.Limit(req)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.Remaining)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{Requests: 3, Window: time.Second}, clock)
	a := newTestRequest("10.0.0.1", "client-a")
	b := newTestRequest("10.0.0.2", "client-b")

	for i := 0; i < 4; i++ {
		l.Limit(a)
	}
	assert.False(t, l.Limit(a).Success)

	res := l.Limit(b)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Remaining)
}

func TestLimiter_CheckDoesNotConsume(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{Requests: 3, Window: time.Second}, clock)
	req := newTestRequest("10.0.0.1", "curl/8.0")

	for i := 0; i < 5; i++ {
		info := l.Check(req)
		assert.Equal(t, 3, info.Remaining)
		assert.Equal(t, 3, info.Limit)
	}
	assert.Zero(t, l.Stats().ActiveBuckets, "Check does not create buckets")

	require.True(t, l.Limit(req).Success)
	for i := 0; i < 5; i++ {
		info := l.Check(req)
		assert.Equal(t, 2, info.Remaining)
		assert.Zero(t, info.RetryAfter)
	}

	l.Limit(req)
	l.Limit(req)
	info := l.Check(req)
	assert.Equal(t, 0, info.Remaining)
	assert.Equal(t, int64(334), info.RetryAfter)
}

func TestLimiter_NoDoubleSpend(t *testing.T) {
	l, err := New(Config{Requests: 50, Window: time.Hour}, WithCleanupInterval(-1))
	require.NoError(t, err)
	defer l.Close()

	const callers = 200
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Limit(newTestRequest("10.0.0.1", "burst")).Success {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed.Load())
}

func TestLimiter_NoDoubleSpendDuringCleanup(t *testing.T) {
	l, err := New(Config{Requests: 20, Window: time.Hour}, WithCleanupInterval(-1))
	require.NoError(t, err)
	defer l.Close()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	stop := make(chan struct{})

	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				l.Cleanup()
			}
		}
	}()

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Limit(newTestRequest("10.0.0.1", "burst")).Success {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	close(stop)

	// Only untouched buckets are evicted, so re-resolving never mints quota.
	assert.Equal(t, int64(20), allowed.Load())
}

func TestLimiter_FailOpenOnKeyGeneratorError(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	obs := &recordingObserver{}

	clock := newFakeClock()
	l := newTestLimiter(t, Config{
		Requests: 3,
		Window:   time.Second,
		KeyGenerator: func(*http.Request) (string, error) {
			return "", errors.New("backend unavailable")
		},
	}, clock, WithLogger(logger), WithObserver(obs), WithName("api"))

	for i := 0; i < 10; i++ {
		res := l.Limit(newTestRequest("10.0.0.1", "x"))
		assert.True(t, res.Success)
		assert.Equal(t, 3, res.Remaining)
		assert.Equal(t, 3, res.Limit)
	}

	assert.Contains(t, logs.String(), "backend unavailable")
	assert.Contains(t, logs.String(), `"level":"ERROR"`)
	assert.Equal(t, 10, obs.failOpen())
}

func TestLimiter_FailOpenOnPanic(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{
		Requests: 3,
		Window:   time.Second,
		KeyGenerator: func(*http.Request) (string, error) {
			panic("boom")
		},
	}, clock, WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))

	res := l.Limit(newTestRequest("10.0.0.1", "x"))
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Remaining)

	info := l.Check(newTestRequest("10.0.0.1", "x"))
	assert.Equal(t, 3, info.Remaining)
}

func TestLimiter_FailOpenOnEmptyKeyAndNilRequest(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{
		Requests:     1,
		Window:       time.Second,
		KeyGenerator: func(*http.Request) (string, error) { return "", nil },
	}, clock, WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))

	for i := 0; i < 3; i++ {
		assert.True(t, l.Limit(newTestRequest("10.0.0.1", "x")).Success)
	}
	assert.True(t, l.Limit(nil).Success)
}

func TestLimiter_OnRateLimit(t *testing.T) {
	var calls []Info
	clock := newFakeClock()
	l := newTestLimiter(t, Config{
		Requests: 1,
		Window:   time.Second,
		OnRateLimit: func(r *http.Request, info Info) {
			calls = append(calls, info)
		},
	}, clock)
	req := newTestRequest("10.0.0.1", "curl/8.0")

	require.True(t, l.Limit(req).Success)
	assert.Empty(t, calls, "allowed requests do not notify")

	require.False(t, l.Limit(req).Success)
	require.Len(t, calls, 1)
	assert.Equal(t, 1, calls[0].Limit)
	assert.Equal(t, 0, calls[0].Remaining)
	assert.Equal(t, int64(1000), calls[0].RetryAfter)
	assert.NotEmpty(t, calls[0].Key)
}

func TestLimiter_OnRateLimitPanicKeepsDenial(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{
		Requests:    1,
		Window:      time.Second,
		OnRateLimit: func(*http.Request, Info) { panic("callback failed") },
	}, clock, WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	req := newTestRequest("10.0.0.1", "curl/8.0")

	require.True(t, l.Limit(req).Success)
	res := l.Limit(req)
	assert.False(t, res.Success)
	assert.Positive(t, res.RetryAfter)
}

func TestLimiter_CleanupEvictsIdleBuckets(t *testing.T) {
	clock := newFakeClock()
	obs := &recordingObserver{}
	l := newTestLimiter(t, Config{Requests: 2, Window: time.Second}, clock, WithObserver(obs))

	l.Limit(newTestRequest("10.0.0.1", "a"))
	l.Limit(newTestRequest("10.0.0.2", "b"))
	assert.Equal(t, 2, l.Stats().ActiveBuckets)

	assert.Zero(t, l.Cleanup())

	clock.Advance(time.Second)
	assert.Equal(t, 2, l.Cleanup())
	assert.Zero(t, l.Stats().ActiveBuckets)
	assert.Equal(t, 2, obs.evictions())
	assert.Equal(t, 2, obs.allowed())
}

func TestLimiter_BackgroundCleanup(t *testing.T) {
	l, err := New(Config{Requests: 2, Window: time.Second}, WithCleanupInterval(5*time.Millisecond))
	require.NoError(t, err)
	defer l.Close()

	// A fresh bucket that is never consumed from stays full.
	l.store.Get("idle")

	assert.Eventually(t, func() bool {
		return l.Stats().ActiveBuckets == 0
	}, time.Second, 5*time.Millisecond)
}

func TestLimiter_CloseIsIdempotent(t *testing.T) {
	l, err := New(Config{Requests: 2, Window: time.Second})
	require.NoError(t, err)

	l.Close()
	l.Close()
}

func TestLimiter_Defaults(t *testing.T) {
	l, err := New(Config{Requests: 2, Window: time.Second, SkipFailedRequests: true})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, "default", l.Name())
	assert.NotNil(t, l.Config().KeyGenerator)
	assert.True(t, l.Config().SkipFailedRequests)
}

type recordingObserver struct {
	mu       sync.Mutex
	decision map[bool]int
	fail     int
	evicted  int
}

func (o *recordingObserver) ObserveDecision(_ string, allowed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.decision == nil {
		o.decision = make(map[bool]int)
	}
	o.decision[allowed]++
}

func (o *recordingObserver) ObserveFailOpen(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail++
}

func (o *recordingObserver) ObserveEviction(_ string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evicted += n
}

func (o *recordingObserver) failOpen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fail
}

func (o *recordingObserver) evictions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.evicted
}

func (o *recordingObserver) allowed() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.decision[true]
}

type panickingObserver struct {
	recordingObserver
}

func (o *panickingObserver) ObserveDecision(string, bool) {
	panic("metrics backend gone")
}

func TestLimiter_ObserverPanicKeepsDecision(t *testing.T) {
	clock := newFakeClock()
	var logs bytes.Buffer
	obs := &panickingObserver{}
	l := newTestLimiter(t, Config{Requests: 1, Window: time.Second}, clock,
		WithObserver(obs), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	req := newTestRequest("10.0.0.1", "curl/8.0")

	first := l.Limit(req)
	assert.True(t, first.Success)
	assert.Equal(t, 0, first.Remaining, "the token is spent even though the observer panicked")

	second := l.Limit(req)
	assert.False(t, second.Success)
	assert.Positive(t, second.RetryAfter)

	assert.Zero(t, obs.failOpen())
	assert.Contains(t, logs.String(), "Rate limit observer panicked")
}

func TestLimiter_QuotaComesFromConfig(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{Requests: 3, Window: time.Second}, clock)
	req := newTestRequest("10.0.0.1", "curl/8.0")

	allowed := 0
	for i := 0; i < 10; i++ {
		res := l.Limit(req)
		assert.Equal(t, 3, res.Limit)
		if res.Success {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)
	assert.Equal(t, 3, l.Check(req).Limit)
}

func TestLimiter_DenialLogHidesKey(t *testing.T) {
	clock := newFakeClock()
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := newTestLimiter(t, Config{Requests: 1, Window: time.Second}, clock, WithLogger(logger))
	req := newTestRequest("203.0.113.77", "curl/8")

	l.Limit(req)
	res := l.Limit(req)
	require.False(t, res.Success)

	key, err := DefaultKeyGenerator(req)
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "Rate limit exceeded")
	assert.Contains(t, logs.String(), keyHash(key))
	assert.NotContains(t, logs.String(), key)
	assert.NotContains(t, logs.String(), "203.0.113.77")
}

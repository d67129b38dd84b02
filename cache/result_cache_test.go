package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

// mockStore is an in-memory Store that records calls and can simulate outages.
type mockStore struct {
	mu      sync.Mutex
	calls   []string
	data    map[string][]byte
	ttls    map[string]time.Duration
	getErr  error
	setErr  error
	deleted []string
}

func newMockStore() *mockStore {
	return &mockStore{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Duration),
	}
}

func (m *mockStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "Get")
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mockStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "Set")
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "Delete")
	delete(m.data, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *mockStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "DeleteByPrefix")
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			delete(m.data, key)
		}
	}
	return nil
}

func (m *mockStore) countCalls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == method {
			n++
		}
	}
	return n
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() logrus.FieldLogger {
	logger, _ := logtest.NewNullLogger()
	return logger
}

type sumCounter struct {
	mu    sync.Mutex
	calls int
}

func (s *sumCounter) compute(a, b int) ComputeFn[int] {
	return func(ctx context.Context) (int, error) {
		s.mu.Lock()
		s.calls++
		s.mu.Unlock()
		return a + b, nil
	}
}

func (s *sumCounter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestGetOrCompute_HitWithinTTL(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	clock := newFakeClock()
	rc := NewResultCache(store, WithClock(clock.Now), WithLogger(quietLogger()))
	f := &sumCounter{}

	for i := 0; i < 2; i++ {
		got, err := GetOrCompute(ctx, rc, "f", time.Second, f.compute(1, 2), 1, 2)
		if err != nil {
			t.Fatalf("GetOrCompute() failed: %v", err)
		}
		if got != 3 {
			t.Errorf("expected 3, got %d", got)
		}
		clock.Advance(400 * time.Millisecond)
	}

	if f.count() != 1 {
		t.Errorf("expected one invocation within TTL, got %d", f.count())
	}
	if store.countCalls("Set") != 1 {
		t.Errorf("expected exactly one write, got %d", store.countCalls("Set"))
	}
	if stats := rc.Stats(); stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestGetOrCompute_RecomputesAfterExpiry(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	clock := newFakeClock()
	rc := NewResultCache(store, WithClock(clock.Now), WithLogger(quietLogger()))
	f := &sumCounter{}

	if _, err := GetOrCompute(ctx, rc, "f", time.Second, f.compute(1, 2), 1, 2); err != nil {
		t.Fatalf("GetOrCompute() failed: %v", err)
	}
	// The backend still holds the entry, expiry is enforced by the envelope.
	clock.Advance(1500 * time.Millisecond)
	if _, err := GetOrCompute(ctx, rc, "f", time.Second, f.compute(1, 2), 1, 2); err != nil {
		t.Fatalf("GetOrCompute() failed: %v", err)
	}

	if f.count() != 2 {
		t.Errorf("expected second invocation after TTL, got %d", f.count())
	}
}

func TestGetOrCompute_ExpiresExactlyAtDeadline(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	rc := NewResultCache(newMockStore(), WithClock(clock.Now), WithLogger(quietLogger()))
	f := &sumCounter{}

	_, _ = GetOrCompute(ctx, rc, "f", time.Second, f.compute(1, 2), 1, 2)
	clock.Advance(time.Second)
	_, _ = GetOrCompute(ctx, rc, "f", time.Second, f.compute(1, 2), 1, 2)

	if f.count() != 2 {
		t.Errorf("entry must not be served at expires_at, got %d invocations", f.count())
	}
}

func TestGetOrCompute_KeyDiscrimination(t *testing.T) {
	ctx := context.Background()
	rc := NewResultCache(newMockStore(), WithLogger(quietLogger()))
	f := &sumCounter{}

	a, _ := GetOrCompute(ctx, rc, "f", time.Minute, f.compute(1, 2), 1, 2)
	b, _ := GetOrCompute(ctx, rc, "f", time.Minute, f.compute(3, 4), 3, 4)

	if a != 3 || b != 7 {
		t.Errorf("expected 3 and 7, got %d and %d", a, b)
	}
	if f.count() != 2 {
		t.Errorf("expected two invocations, got %d", f.count())
	}
}

func TestGetOrCompute_DefaultTTL(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	rc := NewResultCache(store, WithTTL(3*time.Minute), WithLogger(quietLogger()))
	f := &sumCounter{}

	_, _ = GetOrCompute(ctx, rc, "f", 0, f.compute(1, 1), 1, 1)

	for _, ttl := range store.ttls {
		if ttl != 3*time.Minute {
			t.Errorf("expected default TTL 3m, got %v", ttl)
		}
	}
	if rc.TTL() != 3*time.Minute {
		t.Errorf("TTL() = %v", rc.TTL())
	}
}

func TestGetOrCompute_StoreUnavailable(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	store.getErr = errors.New("connection refused")
	store.setErr = errors.New("connection refused")
	logger, hook := logtest.NewNullLogger()
	rc := NewResultCache(store, WithLogger(logger))
	f := &sumCounter{}

	for i := 0; i < 3; i++ {
		got, err := GetOrCompute(ctx, rc, "f", time.Minute, f.compute(2, 2), 2, 2)
		if err != nil {
			t.Fatalf("backend outage must not surface: %v", err)
		}
		if got != 4 {
			t.Errorf("expected 4, got %d", got)
		}
	}

	if f.count() != 3 {
		t.Errorf("expected compute on every call, got %d", f.count())
	}
	if rc.Stats().StoreErrors != 6 {
		t.Errorf("expected 6 store errors, got %d", rc.Stats().StoreErrors)
	}
	if len(hook.AllEntries()) == 0 || hook.LastEntry().Level != logrus.WarnLevel {
		t.Error("expected backend failures to be logged as warnings")
	}
}

func TestGetOrCompute_NilStore(t *testing.T) {
	rc := NewResultCache(nil)
	f := &sumCounter{}

	for i := 0; i < 2; i++ {
		if _, err := GetOrCompute(context.Background(), rc, "f", time.Minute, f.compute(1, 2), 1, 2); err != nil {
			t.Fatalf("GetOrCompute() failed: %v", err)
		}
	}
	if f.count() != 2 {
		t.Errorf("nil store should always compute, got %d", f.count())
	}
}

func TestNilResultCache(t *testing.T) {
	ctx := context.Background()
	var rc *ResultCache

	calls := 0
	memo := NewMemo(rc, "sum", time.Minute, func(ctx context.Context, args ...any) (int, error) {
		calls++
		return args[0].(int) + args[1].(int), nil
	})
	for i := 0; i < 2; i++ {
		if got, err := memo.Get(ctx, 1, 2); err != nil || got != 3 {
			t.Fatalf("Get() = %d, %v", got, err)
		}
	}
	if calls != 2 {
		t.Errorf("nil cache should always compute, got %d calls", calls)
	}

	if err := memo.Forget(ctx, 1, 2); err != nil {
		t.Errorf("Forget() on a nil cache = %v", err)
	}
	if err := rc.InvalidateIdentity(ctx, "sum"); err != nil {
		t.Errorf("InvalidateIdentity() on a nil cache = %v", err)
	}
	if rc.TTL() != DefaultTTL {
		t.Errorf("TTL() = %s, want %s", rc.TTL(), DefaultTTL)
	}
	if rc.Stats() != (Stats{}) {
		t.Errorf("Stats() = %+v, want zero", rc.Stats())
	}
}

func TestGetOrCompute_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	rc := NewResultCache(store, WithLogger(quietLogger()))
	f := &sumCounter{}

	_, _ = GetOrCompute(ctx, rc, "f", time.Minute, f.compute(1, 2), 1, 2)
	for key := range store.data {
		store.data[key] = []byte{0xc1, 0x00, 0xff}
	}

	got, err := GetOrCompute(ctx, rc, "f", time.Minute, f.compute(1, 2), 1, 2)
	if err != nil || got != 3 {
		t.Fatalf("expected recompute on corrupt entry, got %d, %v", got, err)
	}
	if f.count() != 2 {
		t.Errorf("expected 2 invocations, got %d", f.count())
	}
}

func TestGetOrCompute_ValueTypeMismatch(t *testing.T) {
	ctx := context.Background()
	rc := NewResultCache(newMockStore(), WithLogger(quietLogger()))

	_, err := GetOrCompute(ctx, rc, "f", time.Minute, func(ctx context.Context) (string, error) {
		return "not-a-number", nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute() failed: %v", err)
	}

	calls := 0
	got, err := GetOrCompute(ctx, rc, "f", time.Minute, func(ctx context.Context) (int, error) {
		calls++
		return 9, nil
	})
	if err != nil || got != 9 || calls != 1 {
		t.Errorf("expected fallback compute, got %d, %v, calls=%d", got, err, calls)
	}
}

// collidingSerializer maps every argument list to the same store key.
type collidingSerializer struct{ KeySerializer }

func (c collidingSerializer) SerializeKey(identity string, args ...any) (Fingerprint, error) {
	fp, err := c.KeySerializer.SerializeKey(identity, args...)
	fp.Key = "collide"
	return fp, err
}

func TestGetOrCompute_DigestCollisionIsMiss(t *testing.T) {
	ctx := context.Background()
	rc := NewResultCache(newMockStore(),
		WithKeySerializer(collidingSerializer{NewDefaultKeySerializer("")}),
		WithLogger(quietLogger()),
	)
	f := &sumCounter{}

	a, _ := GetOrCompute(ctx, rc, "f", time.Minute, f.compute(1, 2), 1, 2)
	b, _ := GetOrCompute(ctx, rc, "f", time.Minute, f.compute(3, 4), 3, 4)

	if a != 3 || b != 7 {
		t.Errorf("collision must not leak values: got %d and %d", a, b)
	}
}

func TestGetOrCompute_ComputeErrorNotCached(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	rc := NewResultCache(store, WithLogger(quietLogger()))
	boom := errors.New("sentiment model unavailable")

	calls := 0
	compute := func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, boom
		}
		return 5, nil
	}

	if _, err := GetOrCompute(ctx, rc, "f", time.Minute, compute); !errors.Is(err, boom) {
		t.Fatalf("expected compute error, got %v", err)
	}
	if store.countCalls("Set") != 0 {
		t.Error("failed computations must not be written")
	}
	got, err := GetOrCompute(ctx, rc, "f", time.Minute, compute)
	if err != nil || got != 5 {
		t.Errorf("expected retry to compute 5, got %d, %v", got, err)
	}
}

func TestGetOrCompute_UnsupportedArgumentsBypassCache(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	rc := NewResultCache(store, WithLogger(quietLogger()))

	got, err := GetOrCompute(ctx, rc, "f", time.Minute, func(ctx context.Context) (int, error) {
		return 1, nil
	}, func() {})
	if err != nil || got != 1 {
		t.Fatalf("expected computed value, got %d, %v", got, err)
	}

	cyclic := &listNode{Name: "a"}
	cyclic.Next = cyclic
	got, err = GetOrCompute(ctx, rc, "f", time.Minute, func(ctx context.Context) (int, error) {
		return 2, nil
	}, cyclic)
	if err != nil || got != 2 {
		t.Fatalf("expected computed value for a cyclic argument, got %d, %v", got, err)
	}
	if len(store.calls) != 0 {
		t.Errorf("expected no store traffic, got %v", store.calls)
	}
}

func TestGetOrCompute_StructValues(t *testing.T) {
	type summary struct {
		ProductID string
		Count     int
		Average   float64
		Keywords  []string
	}
	ctx := context.Background()
	rc := NewResultCache(newMockStore(), WithLogger(quietLogger()))
	want := summary{ProductID: "p-1", Count: 3, Average: 4.5, Keywords: []string{"battery", "screen"}}

	calls := 0
	compute := func(ctx context.Context) (summary, error) {
		calls++
		return want, nil
	}
	_, _ = GetOrCompute(ctx, rc, "summary", time.Minute, compute, "p-1")
	got, err := GetOrCompute(ctx, rc, "summary", time.Minute, compute, "p-1")
	if err != nil {
		t.Fatalf("GetOrCompute() failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected cached struct, compute ran %d times", calls)
	}
	if got.ProductID != want.ProductID || got.Count != want.Count || got.Average != want.Average || len(got.Keywords) != 2 {
		t.Errorf("unexpected cached value: %+v", got)
	}
}

func TestResultCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	rc := NewResultCache(store, WithLogger(quietLogger()))
	f := &sumCounter{}

	_, _ = GetOrCompute(ctx, rc, "f", time.Minute, f.compute(1, 2), 1, 2)
	if err := rc.Invalidate(ctx, "f", 1, 2); err != nil {
		t.Fatalf("Invalidate() failed: %v", err)
	}
	_, _ = GetOrCompute(ctx, rc, "f", time.Minute, f.compute(1, 2), 1, 2)

	if f.count() != 2 {
		t.Errorf("expected recompute after invalidation, got %d", f.count())
	}
}

func TestResultCache_InvalidateIdentity(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	rc := NewResultCache(store, WithKeySerializer(NewDefaultKeySerializer("ns")), WithLogger(quietLogger()))
	f := &sumCounter{}

	_, _ = GetOrCompute(ctx, rc, "stats", time.Minute, f.compute(1, 2), 1, 2)
	_, _ = GetOrCompute(ctx, rc, "stats", time.Minute, f.compute(3, 4), 3, 4)
	_, _ = GetOrCompute(ctx, rc, "other", time.Minute, f.compute(5, 6), 5, 6)

	if err := rc.InvalidateIdentity(ctx, "stats"); err != nil {
		t.Fatalf("InvalidateIdentity() failed: %v", err)
	}
	if len(store.data) != 1 {
		t.Errorf("expected only the other identity to remain, got %d entries", len(store.data))
	}
}

func TestMemo_Get(t *testing.T) {
	ctx := context.Background()
	rc := NewResultCache(newMockStore(), WithLogger(quietLogger()))

	calls := 0
	memo := NewMemo(rc, "sum", time.Minute, func(ctx context.Context, args ...any) (int, error) {
		calls++
		return args[0].(int) + args[1].(int), nil
	})

	for i := 0; i < 3; i++ {
		got, err := memo.Get(ctx, 2, 5)
		if err != nil || got != 7 {
			t.Fatalf("Get() = %d, %v", got, err)
		}
	}
	if calls != 1 {
		t.Errorf("expected one call, got %d", calls)
	}

	if err := memo.Forget(ctx, 2, 5); err != nil {
		t.Fatalf("Forget() failed: %v", err)
	}
	_, _ = memo.Get(ctx, 2, 5)
	if calls != 2 {
		t.Errorf("expected recompute after Forget, got %d", calls)
	}
	if memo.Identity() != "sum" {
		t.Errorf("Identity() = %q", memo.Identity())
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg.TTL = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero TTL")
	}

	cfg = DefaultConfig()
	cfg.Local.MaxTTL = time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when MaxTTL is shorter than TTL")
	}
}

func TestNew_UsesLocalStore(t *testing.T) {
	rc, err := New(DefaultConfig(), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	f := &sumCounter{}
	ctx := context.Background()

	_, _ = GetOrCompute(ctx, rc, "f", time.Minute, f.compute(1, 2), 1, 2)
	_, _ = GetOrCompute(ctx, rc, "f", time.Minute, f.compute(1, 2), 1, 2)
	if f.count() != 1 {
		t.Errorf("expected sturdyc backed hit, got %d invocations", f.count())
	}

	if err := rc.InvalidateIdentity(ctx, "f"); err != nil {
		t.Fatalf("InvalidateIdentity() failed: %v", err)
	}
	_, _ = GetOrCompute(ctx, rc, "f", time.Minute, f.compute(1, 2), 1, 2)
	if f.count() != 2 {
		t.Errorf("expected recompute after prefix invalidation, got %d", f.count())
	}
}

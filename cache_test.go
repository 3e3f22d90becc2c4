package stampede

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	c "github.com/unkn0wn-root/stampede/codec"
	"github.com/unkn0wn-root/stampede/internal/wire"
	"github.com/unkn0wn-root/stampede/lock"
	"github.com/unkn0wn-root/stampede/pool"
	pr "github.com/unkn0wn-root/stampede/provider"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type memProvider struct {
	mu     sync.Mutex
	m      map[string]memEntry
	now    func() time.Time
	getErr error
	delErr error
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider(now func() time.Time) *memProvider {
	return &memProvider{m: make(map[string]memEntry), now: now}
}

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, false, p.getErr
	}
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && !p.now().Before(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = p.now().Add(ttl)
	}
	p.m[key] = memEntry{v: append([]byte(nil), value...), exp: exp}
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.delErr != nil {
		return p.delErr
	}
	delete(p.m, key)
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) raw(key string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	return e.v, ok
}

func (p *memProvider) put(key string, b []byte) {
	p.mu.Lock()
	p.m[key] = memEntry{v: b}
	p.mu.Unlock()
}

// ttlBlind keeps every entry until deleted, like a store with one lifetime
// for all keys.
type ttlBlind struct{ *memProvider }

func (p ttlBlind) Set(ctx context.Context, key string, value []byte, cost int64, _ time.Duration) (bool, error) {
	return p.memProvider.Set(ctx, key, value, cost, 0)
}

func (ttlBlind) IgnoresTTL() bool { return true }

type shop struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// db is a counting loader over a map.
type db struct {
	mu    sync.Mutex
	rows  map[string]shop
	loads atomic.Int32
	delay time.Duration
	gate  chan struct{} // if set, loads block until closed
}

func (d *db) load(ctx context.Context, key string) (shop, bool, error) {
	d.loads.Add(1)
	if d.gate != nil {
		<-d.gate
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.rows[key]
	return s, ok, nil
}

func (d *db) put(key string, s shop) {
	d.mu.Lock()
	d.rows[key] = s
	d.mu.Unlock()
}

type recHooks struct {
	NopHooks
	mu      sync.Mutex
	lookups map[string]int
	healed  []string
	sched   atomic.Int32
	dropped atomic.Int32
	invFail atomic.Int32
}

func (h *recHooks) Lookup(_, outcome string) {
	h.mu.Lock()
	if h.lookups == nil {
		h.lookups = map[string]int{}
	}
	h.lookups[outcome]++
	h.mu.Unlock()
}

func (h *recHooks) SelfHeal(_, reason string) {
	h.mu.Lock()
	h.healed = append(h.healed, reason)
	h.mu.Unlock()
}

func (h *recHooks) RebuildScheduled(string)        { h.sched.Add(1) }
func (h *recHooks) RebuildDropped(string)          { h.dropped.Add(1) }
func (h *recHooks) InvalidateFailed(string, error) { h.invFail.Add(1) }

func (h *recHooks) count(outcome string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lookups[outcome]
}

type fixture struct {
	clk   *clock
	mp    *memProvider
	db    *db
	hooks *recHooks
	lk    lock.Locker
}

func newFixture() *fixture {
	clk := newClock()
	return &fixture{
		clk:   clk,
		mp:    newMemProvider(clk.Now),
		db:    &db{rows: map[string]shop{"1": {ID: 1, Name: "noodles"}}},
		hooks: &recHooks{},
		lk:    lock.NewLocal(),
	}
}

func (f *fixture) cache(t *testing.T, optsOpt func(*Options[shop])) *cache[shop] {
	t.Helper()
	opts := Options[shop]{
		Namespace:  "shop",
		Provider:   f.mp,
		Codec:      c.JSON[shop]{},
		Load:       f.db.load,
		Locker:     f.lk,
		Hooks:      f.hooks,
		Now:        f.clk.Now,
		RetryDelay: 5 * time.Millisecond,
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	cc, err := newCache[shop](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close(context.Background()) })
	return cc
}

func TestNewValidatesOptions(t *testing.T) {
	base := Options[shop]{
		Namespace: "shop",
		Provider:  newMemProvider(time.Now),
		Codec:     c.JSON[shop]{},
		Load:      func(context.Context, string) (shop, bool, error) { return shop{}, false, nil },
	}
	cases := map[string]func(*Options[shop]){
		"namespace": func(o *Options[shop]) { o.Namespace = "" },
		"provider":  func(o *Options[shop]) { o.Provider = nil },
		"codec":     func(o *Options[shop]) { o.Codec = nil },
		"load":      func(o *Options[shop]) { o.Load = nil },
		"strategy":  func(o *Options[shop]) { o.Strategy = Strategy(9) },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			o := base
			mut(&o)
			if _, err := New[shop](o); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{"": PassThrough, "Mutex": Mutex, "logical": LogicalExpire} {
		got, err := ParseStrategy(in)
		if err != nil || got != want {
			t.Fatalf("ParseStrategy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseStrategy("bogus"); err == nil {
		t.Fatal("expected error")
	}
}

func TestPassThroughHitAfterLoad(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	cc := f.cache(t, nil)

	for i := 0; i < 3; i++ {
		got, err := cc.Get(ctx, "1")
		if err != nil || got.Name != "noodles" {
			t.Fatalf("Get: %v %v", got, err)
		}
	}
	if n := f.db.loads.Load(); n != 1 {
		t.Fatalf("loads = %d, want 1", n)
	}
	if f.hooks.count(OutcomeHit) != 2 || f.hooks.count(OutcomeMiss) != 1 {
		t.Fatalf("lookups = %v", f.hooks.lookups)
	}

	f.clk.Advance(defaultTTL)
	if _, err := cc.Get(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	if n := f.db.loads.Load(); n != 2 {
		t.Fatalf("expected reload after TTL, loads = %d", n)
	}
}

func TestPassThroughCachesAbsence(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	cc := f.cache(t, nil)

	for i := 0; i < 5; i++ {
		if _, err := cc.GetPassThrough(ctx, "404"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	}
	if n := f.db.loads.Load(); n != 1 {
		t.Fatalf("null marker should absorb lookups, loads = %d", n)
	}
	raw, ok := f.mp.raw("cache:shop:404")
	if !ok {
		t.Fatal("null marker not written")
	}
	if e, err := wire.Decode(raw); err != nil || e.Kind != wire.KindNull {
		t.Fatalf("unexpected frame: %+v %v", e, err)
	}

	// the marker is short-lived; once it lapses a new row becomes visible
	f.db.put("404", shop{ID: 404, Name: "late"})
	f.clk.Advance(defaultNullTTL)
	got, err := cc.GetPassThrough(ctx, "404")
	if err != nil || got.Name != "late" {
		t.Fatalf("after null TTL: %v %v", got, err)
	}
}

func TestDeadlineInFrameWhenProviderIgnoresTTL(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	cc := f.cache(t, func(o *Options[shop]) { o.Provider = ttlBlind{f.mp} })

	if _, err := cc.Get(ctx, "404"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	raw, _ := f.mp.raw("cache:shop:404")
	e, err := wire.Decode(raw)
	if err != nil || e.Kind != wire.KindNull {
		t.Fatalf("unexpected frame: %+v %v", e, err)
	}
	if want := f.clk.Now().Add(defaultNullTTL); !e.ExpireAt.Equal(want) {
		t.Fatalf("null expireAt = %v, want %v", e.ExpireAt, want)
	}

	// the store still holds the marker, the frame deadline retires it
	f.db.put("404", shop{ID: 404, Name: "late"})
	f.clk.Advance(defaultNullTTL)
	got, err := cc.Get(ctx, "404")
	if err != nil || got.Name != "late" {
		t.Fatalf("after null deadline: %v %v", got, err)
	}

	f.db.put("404", shop{ID: 404, Name: "later"})
	f.clk.Advance(defaultTTL)
	got, err = cc.Get(ctx, "404")
	if err != nil || got.Name != "later" {
		t.Fatalf("after value deadline: %v %v", got, err)
	}
	if n := f.db.loads.Load(); n != 3 {
		t.Fatalf("loads = %d, want 3", n)
	}
}

func TestFramesCarryNoDeadlineWhenProviderHonoursTTL(t *testing.T) {
	f := newFixture()
	cc := f.cache(t, nil)
	if _, err := cc.Get(context.Background(), "1"); err != nil {
		t.Fatal(err)
	}
	raw, _ := f.mp.raw("cache:shop:1")
	if e, err := wire.Decode(raw); err != nil || !e.ExpireAt.IsZero() {
		t.Fatalf("unexpected frame: %+v %v", e, err)
	}
}

func TestNewRejectsLogicalOnTTLIgnoringProvider(t *testing.T) {
	_, err := New[shop](Options[shop]{
		Namespace: "shop",
		Provider:  ttlBlind{newMemProvider(time.Now)},
		Codec:     c.JSON[shop]{},
		Load:      func(context.Context, string) (shop, bool, error) { return shop{}, false, nil },
		Strategy:  LogicalExpire,
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestSelfHealOnCorrupt(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	cc := f.cache(t, nil)

	f.mp.put("cache:shop:1", []byte("garbage"))
	got, err := cc.Get(ctx, "1")
	if err != nil || got.ID != 1 {
		t.Fatalf("Get: %v %v", got, err)
	}

	// well framed but the payload is not a shop
	f.mp.put("cache:shop:1", wire.EncodeValue(time.Time{}, []byte("{not json")))
	if _, err := cc.Get(ctx, "1"); err != nil {
		t.Fatal(err)
	}

	f.hooks.mu.Lock()
	healed := append([]string(nil), f.hooks.healed...)
	f.hooks.mu.Unlock()
	if len(healed) != 2 || healed[0] != "corrupt" || healed[1] != "value_decode" {
		t.Fatalf("healed = %v", healed)
	}
	if raw, _ := f.mp.raw("cache:shop:1"); !isValueFrame(raw) {
		t.Fatal("entry should be rewritten after self-heal")
	}
}

func isValueFrame(b []byte) bool {
	e, err := wire.Decode(b)
	return err == nil && e.Kind == wire.KindValue
}

func TestPassThroughProviderErrorIsMiss(t *testing.T) {
	f := newFixture()
	cc := f.cache(t, nil)
	f.mp.getErr = pr.Unavailable(errors.New("connection refused"))

	got, err := cc.Get(context.Background(), "1")
	if err != nil || got.ID != 1 {
		t.Fatalf("Get: %v %v", got, err)
	}
}

func TestMutexSingleLoadAcrossInstances(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.db.delay = 30 * time.Millisecond

	// two caches sharing provider and locker stand in for two replicas
	a := f.cache(t, func(o *Options[shop]) { o.Strategy = Mutex })
	b := f.cache(t, func(o *Options[shop]) { o.Strategy = Mutex })

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(cc *cache[shop]) {
			defer wg.Done()
			s, err := cc.Get(ctx, "1")
			if err == nil && s.ID != 1 {
				err = errors.New("wrong value")
			}
			errs <- err
		}([]*cache[shop]{a, b}[i%2])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if n := f.db.loads.Load(); n != 1 {
		t.Fatalf("loads = %d, want exactly 1", n)
	}
}

func TestMutexCachesAbsenceUnderLock(t *testing.T) {
	f := newFixture()
	cc := f.cache(t, func(o *Options[shop]) { o.Strategy = Mutex })
	for i := 0; i < 3; i++ {
		if _, err := cc.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	}
	if n := f.db.loads.Load(); n != 1 {
		t.Fatalf("loads = %d", n)
	}
}

func TestMutexGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	cc := f.cache(t, func(o *Options[shop]) {
		o.Strategy = Mutex
		o.MaxAttempts = 3
		o.RetryDelay = time.Millisecond
	})

	held, err := f.lk.Acquire(ctx, "shop:1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release(ctx)

	if _, err := cc.Get(ctx, "1"); !errors.Is(err, ErrLockBusy) {
		t.Fatalf("want ErrLockBusy, got %v", err)
	}
	if f.db.loads.Load() != 0 {
		t.Fatal("must not load without the lease")
	}
}

func TestMutexHonoursContext(t *testing.T) {
	f := newFixture()
	cc := f.cache(t, func(o *Options[shop]) {
		o.Strategy = Mutex
		o.RetryDelay = time.Hour
	})
	held, _ := f.lk.Acquire(context.Background(), "shop:1", time.Minute)
	defer held.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := cc.Get(ctx, "1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

func TestMutexCancelledLeaderDoesNotFailFollowers(t *testing.T) {
	f := newFixture()
	gate := make(chan struct{})
	var loads atomic.Int32
	cc := f.cache(t, func(o *Options[shop]) {
		o.Strategy = Mutex
		o.Load = func(ctx context.Context, key string) (shop, bool, error) {
			loads.Add(1)
			select {
			case <-gate:
			case <-ctx.Done():
				return shop{}, false, ctx.Err()
			}
			return shop{ID: 1, Name: "noodles"}, true, nil
		}
	})

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := cc.Get(leaderCtx, "1")
		leaderErr <- err
	}()
	waitFor(t, func() bool { return loads.Load() == 1 })

	type result struct {
		s   shop
		err error
	}
	follower := make(chan result, 1)
	go func() {
		s, err := cc.Get(context.Background(), "1")
		follower <- result{s, err}
	}()
	time.Sleep(20 * time.Millisecond) // let the follower join the flight

	cancel()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("leader: want context.Canceled, got %v", err)
	}
	close(gate)

	r := <-follower
	if r.err != nil || r.s.Name != "noodles" {
		t.Fatalf("follower: %v %v", r.s, r.err)
	}
	if n := loads.Load(); n != 1 {
		t.Fatalf("loads = %d, want 1", n)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

type downLocker struct{}

func (downLocker) Acquire(context.Context, string, time.Duration) (*lock.Lease, error) {
	return nil, pr.Unavailable(errors.New("dial tcp: i/o timeout"))
}

func TestMutexFailsClosedWhenLockStoreDown(t *testing.T) {
	f := newFixture()
	cc := f.cache(t, func(o *Options[shop]) {
		o.Strategy = Mutex
		o.Locker = downLocker{}
	})
	if _, err := cc.Get(context.Background(), "1"); !errors.Is(err, pr.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	if f.db.loads.Load() != 0 {
		t.Fatal("must not load without the lease")
	}
}

func TestLogicalAbsentIsNotFoundWithoutLoad(t *testing.T) {
	f := newFixture()
	cc := f.cache(t, func(o *Options[shop]) { o.Strategy = LogicalExpire })
	if _, err := cc.Get(context.Background(), "1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if f.db.loads.Load() != 0 {
		t.Fatal("logical strategy serves pre-warmed keys only")
	}
}

func TestLogicalStoreDownIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	cc := f.cache(t, func(o *Options[shop]) { o.Strategy = LogicalExpire })
	if err := cc.SetLogical(ctx, "1", shop{ID: 1}, time.Minute); err != nil {
		t.Fatal(err)
	}

	f.mp.getErr = pr.Unavailable(errors.New("connection refused"))
	if _, err := cc.Get(ctx, "1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if f.hooks.count(OutcomeMiss) != 1 {
		t.Fatalf("lookups = %v", f.hooks.lookups)
	}
	if f.db.loads.Load() != 0 {
		t.Fatal("logical strategy must not load on a read")
	}
}

func TestLogicalServesLiveValueFrameOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	cc := f.cache(t, func(o *Options[shop]) { o.Strategy = LogicalExpire })

	f.mp.put("cache:shop:1", wire.EncodeValue(f.clk.Now().Add(time.Minute), []byte(`{"id":1}`)))
	if got, err := cc.Get(ctx, "1"); err != nil || got.ID != 1 {
		t.Fatalf("live value frame: %v %v", got, err)
	}
	f.clk.Advance(time.Minute)
	if _, err := cc.Get(ctx, "1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("dead value frame: want ErrNotFound, got %v", err)
	}
	if f.hooks.sched.Load() != 0 {
		t.Fatal("value frames are not rebuilt logically")
	}
}

func TestLogicalStaleServesAndRebuildsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	rebuilds := pool.New(4, 16)
	cc := f.cache(t, func(o *Options[shop]) {
		o.Strategy = LogicalExpire
		o.Pool = rebuilds
	})

	if err := cc.SetLogical(ctx, "1", shop{ID: 1, Name: "old"}, time.Minute); err != nil {
		t.Fatal(err)
	}
	got, err := cc.Get(ctx, "1")
	if err != nil || got.Name != "old" {
		t.Fatalf("fresh read: %v %v", got, err)
	}

	f.db.put("1", shop{ID: 1, Name: "new"})
	f.db.gate = make(chan struct{})
	f.clk.Advance(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := cc.Get(ctx, "1")
			if err != nil || s.Name != "old" {
				t.Errorf("stale read: %v %v", s, err)
			}
		}()
	}
	wg.Wait() // every reader returned while the rebuild is still blocked
	close(f.db.gate)
	rebuilds.Close()

	if n := f.db.loads.Load(); n != 1 {
		t.Fatalf("loads = %d, want 1", n)
	}
	if n := f.hooks.sched.Load(); n != 1 {
		t.Fatalf("scheduled = %d, want 1", n)
	}
	got, err = cc.Get(ctx, "1")
	if err != nil || got.Name != "new" {
		t.Fatalf("after rebuild: %v %v", got, err)
	}
	raw, _ := f.mp.raw("cache:shop:1")
	e, _ := wire.Decode(raw)
	if want := f.clk.Now().Add(defaultLogicalTTL); !e.ExpireAt.Equal(want) {
		t.Fatalf("expireAt = %v, want %v", e.ExpireAt, want)
	}
}

func TestLogicalRebuildDropsWhenPoolFull(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	rebuilds := pool.New(1, 1)
	block := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	rebuilds.Submit(func() { started.Done(); <-block })
	started.Wait()
	rebuilds.Submit(func() {}) // fill the queue

	cc := f.cache(t, func(o *Options[shop]) {
		o.Strategy = LogicalExpire
		o.Pool = rebuilds
	})
	_ = cc.SetLogical(ctx, "1", shop{ID: 1, Name: "old"}, time.Second)
	f.clk.Advance(time.Second)

	got, err := cc.Get(ctx, "1")
	if err != nil || got.Name != "old" {
		t.Fatalf("stale read: %v %v", got, err)
	}
	if f.hooks.dropped.Load() != 1 {
		t.Fatal("expected a dropped rebuild")
	}
	// the lease was handed back
	lease, err := f.lk.Acquire(ctx, "shop:1", time.Second)
	if err != nil {
		t.Fatalf("lease leaked: %v", err)
	}
	_ = lease.Release(ctx)

	close(block)
	rebuilds.Close()
}

func TestLogicalRebuildDeletesVanishedRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	rebuilds := pool.New(1, 4)
	cc := f.cache(t, func(o *Options[shop]) {
		o.Strategy = LogicalExpire
		o.Pool = rebuilds
	})
	_ = cc.SetLogical(ctx, "9", shop{ID: 9}, time.Second)
	f.clk.Advance(time.Second)

	if _, err := cc.Get(ctx, "9"); err != nil {
		t.Fatal(err)
	}
	rebuilds.Close()
	if _, ok := f.mp.raw("cache:shop:9"); ok {
		t.Fatal("entry for a deleted row should be removed")
	}
}

func TestUpdateWritesThenInvalidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	cc := f.cache(t, nil)

	if _, err := cc.Get(ctx, "1"); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("constraint violation")
	if err := cc.Update(ctx, "1", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("want write error, got %v", err)
	}
	if _, ok := f.mp.raw("cache:shop:1"); !ok {
		t.Fatal("failed write must not invalidate")
	}

	err := cc.Update(ctx, "1", func(context.Context) error {
		f.db.put("1", shop{ID: 1, Name: "ramen"})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := f.mp.raw("cache:shop:1"); ok {
		t.Fatal("key should be deleted after write")
	}
	got, _ := cc.Get(ctx, "1")
	if got.Name != "ramen" {
		t.Fatalf("got %v", got)
	}
}

func TestUpdateSwallowsInvalidateFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	cc := f.cache(t, nil)
	f.mp.delErr = errors.New("READONLY")

	if err := cc.Update(ctx, "1", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Update should not surface delete failure: %v", err)
	}
	if f.hooks.invFail.Load() != 1 {
		t.Fatal("expected InvalidateFailed hook")
	}

	var ie *InvalidateError
	if err := cc.Invalidate(ctx, "1"); !errors.As(err, &ie) || ie.Key != "1" {
		t.Fatalf("want InvalidateError, got %v", err)
	}
}

func TestDisabledGoesToLoader(t *testing.T) {
	f := newFixture()
	cc := f.cache(t, func(o *Options[shop]) { o.Disabled = true })
	for i := 0; i < 2; i++ {
		if _, err := cc.Get(context.Background(), "1"); err != nil {
			t.Fatal(err)
		}
	}
	if f.db.loads.Load() != 2 {
		t.Fatalf("loads = %d", f.db.loads.Load())
	}
	if _, ok := f.mp.raw("cache:shop:1"); ok {
		t.Fatal("disabled cache must not write")
	}
}

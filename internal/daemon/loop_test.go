package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomasv/fedipost/internal/catalog"
	"github.com/tomasv/fedipost/internal/domain"
	"github.com/tomasv/fedipost/internal/mastodon"
	"github.com/tomasv/fedipost/internal/pool"
	"github.com/tomasv/fedipost/internal/publish"
	"github.com/tomasv/fedipost/internal/schedule"
)

// testClock is a settable clock shared between the test and the loop
// goroutine.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{t: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// countingAPI publishes successfully and counts status creations.
type countingAPI struct {
	statuses atomic.Int32
	failNext atomic.Bool
}

func (a *countingAPI) UploadMedia(ctx context.Context, data []byte, altText string) (string, error) {
	return "media-1", nil
}

func (a *countingAPI) CreateStatus(ctx context.Context, status mastodon.Status) error {
	if a.failNext.Swap(false) {
		return errors.New("HTTP 503")
	}
	a.statuses.Add(1)
	return nil
}

type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, img domain.Image) ([]byte, error) {
	return []byte("bytes"), nil
}

func writeLoopCatalog(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

type loopFixture struct {
	loop      *Loop
	pool      *pool.Pool
	api       *countingAPI
	clock     *testClock
	catalog   string
	statePath string
	gen       *catalog.Generation
}

func newLoopFixture(t *testing.T, start time.Time, slots []schedule.Slot) *loopFixture {
	t.Helper()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "images.json")
	writeLoopCatalog(t, catalogPath, `[{"location": "file:a.jpg"}, {"location": "file:b.jpg"}]`)

	loader := catalog.NewLoader(nil)
	gen, err := loader.Load(context.Background(), catalogPath)
	require.NoError(t, err)

	p := pool.New(nil)
	p.Reconcile(gen.Order, gen.Catalog, nil)

	api := &countingAPI{}
	pipeline := publish.New(p, stubFetcher{}, api, nil, publish.Options{}, nil)

	statePath := filepath.Join(dir, "pool.json")
	loop := New(p, pool.NewFileStore(statePath), loader, pipeline, Options{
		CatalogSource:   catalogPath,
		RefreshInterval: time.Hour,
		RetryInterval:   time.Minute,
		WakeInterval:    2 * time.Millisecond,
		Slots:           slots,
	}, nil)

	clock := newTestClock(start)
	loop.SetClock(clock.Now)

	return &loopFixture{
		loop:      loop,
		pool:      p,
		api:       api,
		clock:     clock,
		catalog:   catalogPath,
		statePath: statePath,
		gen:       gen,
	}
}

func TestRunPublishesWhenFireTimePasses(t *testing.T) {
	start := time.Date(2024, 6, 10, 11, 59, 0, 0, time.UTC)
	fx := newLoopFixture(t, start, []schedule.Slot{{Hour: 12, Minute: 0}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fx.loop.Run(ctx, fx.gen)
	}()

	waitFor(t, func() bool {
		return fx.loop.Status().NextFire.Equal(time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC))
	}, "loop never published the initial status")
	assert.Equal(t, int32(0), fx.api.statuses.Load(), "nothing should post before the fire time")

	fx.clock.Set(time.Date(2024, 6, 10, 12, 0, 1, 0, time.UTC))

	waitFor(t, func() bool { return fx.api.statuses.Load() == 1 }, "loop never posted after the fire time passed")
	waitFor(t, func() bool {
		return fx.loop.Status().NextFire.Equal(time.Date(2024, 6, 11, 12, 0, 0, 0, time.UTC))
	}, "fire time was not advanced to the next day")

	// Exactly one post per elapsed fire time, no catch-up storm.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), fx.api.statuses.Load())

	// The snapshot was persisted after the commit.
	data, err := os.ReadFile(fx.statePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "used")

	cancel()
	<-done
}

func TestRunRetriesAfterTransientFailure(t *testing.T) {
	start := time.Date(2024, 6, 10, 11, 59, 0, 0, time.UTC)
	fx := newLoopFixture(t, start, []schedule.Slot{{Hour: 12, Minute: 0}})
	fx.api.failNext.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fx.loop.Run(ctx, fx.gen)
	}()

	waitFor(t, func() bool {
		return fx.loop.Status().NextFire.Equal(time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC))
	}, "loop never computed the initial fire time")

	fx.clock.Set(time.Date(2024, 6, 10, 12, 0, 1, 0, time.UTC))
	waitFor(t, func() bool { return fx.loop.Status().Retrying }, "loop never entered the retry state")
	assert.Equal(t, int32(0), fx.api.statuses.Load())

	// Pool untouched by the failed attempt.
	unused, used, _ := fx.pool.Counts()
	assert.Equal(t, 2, unused)
	assert.Equal(t, 0, used)

	// Advance past the retry interval; the next attempt succeeds.
	fx.clock.Set(time.Date(2024, 6, 10, 12, 2, 0, 0, time.UTC))
	waitFor(t, func() bool { return fx.api.statuses.Load() == 1 }, "loop never retried the failed publish")
	waitFor(t, func() bool { return !fx.loop.Status().Retrying }, "retry state was not cleared after success")

	cancel()
	<-done
}

func TestRunReloadRequestReconcilesCatalog(t *testing.T) {
	start := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	fx := newLoopFixture(t, start, []schedule.Slot{{Hour: 23, Minute: 0}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fx.loop.Run(ctx, fx.gen)
	}()

	waitFor(t, func() bool { return fx.loop.Status().CatalogSize == 2 }, "initial status never published")

	writeLoopCatalog(t, fx.catalog, `[{"location": "file:a.jpg"}, {"location": "file:b.jpg"}, {"location": "file:c.jpg"}]`)
	fx.loop.RequestReload()

	waitFor(t, func() bool { return fx.loop.Status().CatalogSize == 3 }, "reload request never reconciled the new catalog")
	unused, used, _ := fx.pool.Counts()
	assert.Equal(t, 3, unused+used)

	cancel()
	<-done
}

func TestRunKeepsPreviousGenerationOnBrokenReload(t *testing.T) {
	start := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	fx := newLoopFixture(t, start, []schedule.Slot{{Hour: 23, Minute: 0}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fx.loop.Run(ctx, fx.gen)
	}()

	waitFor(t, func() bool { return fx.loop.Status().CatalogSize == 2 }, "initial status never published")
	reloadedAt := fx.loop.Status().LastReload

	writeLoopCatalog(t, fx.catalog, `{broken json`)
	fx.loop.RequestReload()

	// The reload fails; give the loop a few wakes and confirm nothing
	// changed.
	time.Sleep(20 * time.Millisecond)
	status := fx.loop.Status()
	assert.Equal(t, 2, status.CatalogSize)
	assert.True(t, status.LastReload.Equal(reloadedAt))

	cancel()
	<-done
}

func TestPostNowPublishesImmediately(t *testing.T) {
	start := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	fx := newLoopFixture(t, start, []schedule.Slot{{Hour: 23, Minute: 0}})

	fx.loop.PostNow(context.Background(), fx.gen)

	assert.Equal(t, int32(1), fx.api.statuses.Load())
	unused, used, _ := fx.pool.Counts()
	assert.Equal(t, 1, unused)
	assert.Equal(t, 1, used)

	_, err := os.Stat(fx.statePath)
	assert.NoError(t, err, "snapshot must be persisted after an immediate post")
}

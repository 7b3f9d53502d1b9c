// Package daemon runs the single-threaded driver loop: wake on a fixed
// interval, refresh the catalog when due or requested, publish when a
// fire time or retry backoff elapses. All shared state (pool, catalog,
// retry timer) is owned by the loop goroutine; the admin server only
// reads a copied status snapshot and flips the reload flag.
package daemon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomasv/fedipost/internal/catalog"
	"github.com/tomasv/fedipost/internal/logger"
	"github.com/tomasv/fedipost/internal/pool"
	"github.com/tomasv/fedipost/internal/publish"
	"github.com/tomasv/fedipost/internal/schedule"
)

// Options holds the loop timings and catalog source.
type Options struct {
	CatalogSource   string
	RefreshInterval time.Duration
	RetryInterval   time.Duration
	WakeInterval    time.Duration
	Slots           []schedule.Slot
}

// Status is the read-only view exposed to the admin server.
type Status struct {
	NextFire    time.Time `json:"next_fire"`
	Retrying    bool      `json:"retrying"`
	RetrySince  time.Time `json:"retry_since,omitempty"`
	Unused      int       `json:"unused"`
	Used        int       `json:"used"`
	RandomDeck  int       `json:"random_deck"`
	CatalogSize int       `json:"catalog_size"`
	LastReload  time.Time `json:"last_reload"`
}

// Loop drives the bot.
type Loop struct {
	opts     Options
	pool     *pool.Pool
	store    pool.Store
	loader   *catalog.Loader
	pipeline *publish.Pipeline
	log      *logger.Logger
	now      schedule.Clock

	reload atomic.Bool

	statusMu sync.RWMutex
	status   Status
}

// New creates the driver loop.
// Parameters:
//   - p: image pool.
//   - store: pool snapshot store.
//   - loader: catalog loader.
//   - pipeline: publish pipeline.
//   - opts: loop timings and catalog source.
//   - log: sink for loop diagnostics; nil uses the default logger.
// Returns:
//   - *Loop: loop instance, not yet running.
func New(p *pool.Pool, store pool.Store, loader *catalog.Loader, pipeline *publish.Pipeline, opts Options, log *logger.Logger) *Loop {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Loop{
		opts:     opts,
		pool:     p,
		store:    store,
		loader:   loader,
		pipeline: pipeline,
		log:      log,
		now:      time.Now,
	}
}

// SetClock replaces the live clock, used by tests.
func (l *Loop) SetClock(now schedule.Clock) {
	l.now = now
}

// RequestReload asks the loop to refresh the catalog on its next wake.
// Safe to call from any goroutine; multiple requests before a wake
// coalesce into one reconciliation.
// Parameters: none.
// Returns: none.
func (l *Loop) RequestReload() {
	l.reload.Store(true)
}

// Status returns a copy of the current loop status.
// Parameters: none.
// Returns:
//   - Status: snapshot for the admin server.
func (l *Loop) Status() Status {
	l.statusMu.RLock()
	defer l.statusMu.RUnlock()
	return l.status
}

func (l *Loop) setStatus(nextFire time.Time, retry schedule.RetryState, catalogSize int, lastReload time.Time) {
	unused, used, deck := l.pool.Counts()
	l.statusMu.Lock()
	l.status = Status{
		NextFire:    nextFire,
		Retrying:    retry.Failing,
		RetrySince:  retry.Since,
		Unused:      unused,
		Used:        used,
		RandomDeck:  deck,
		CatalogSize: catalogSize,
		LastReload:  lastReload,
	}
	l.statusMu.Unlock()
}

// persist writes the pool snapshot, best-effort: a failure is logged
// and the in-memory state stands.
func (l *Loop) persist() {
	if err := l.store.Save(l.pool.Snapshot()); err != nil {
		l.log.WithError(err).Error("Failed to persist pool snapshot")
	}
}

// PostNow runs one publish attempt outside the schedule, used by the
// -now flag. A failure is logged but not retried; the regular schedule
// takes over afterwards.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - gen: current catalog generation.
// Returns: none.
func (l *Loop) PostNow(ctx context.Context, gen *catalog.Generation) {
	if l.pool.Empty() {
		l.log.Fatal("No image to post contained in catalog")
	}

	result := l.pipeline.Publish(ctx, gen.Catalog)
	switch result.Outcome {
	case publish.Published:
		l.logPosted(result, time.Time{})
		l.persist()
	case publish.PermanentFailure:
		l.persist()
	}
}

// Run executes the loop until the context is canceled. The initial
// catalog generation must already be loaded and reconciled.
// Parameters:
//   - ctx: context whose cancellation stops the loop.
//   - gen: initial catalog generation.
// Returns: none.
func (l *Loop) Run(ctx context.Context, gen *catalog.Generation) {
	nextFire := schedule.NextFireTime(l.now(), l.opts.Slots, l.now, l.log)
	refreshAt := l.now().Add(l.opts.RefreshInterval)
	lastReload := l.now()
	var retry schedule.RetryState

	unused, used, _ := l.pool.Counts()
	l.log.WithField("next_fire", nextFire.Format(time.RFC3339)).Infof("Next image will be posted at %s", nextFire)
	l.log.Infof("%d/%d images left", unused, unused+used)
	l.setStatus(nextFire, retry, len(gen.Catalog), lastReload)

	ticker := time.NewTicker(l.opts.WakeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("Driver loop stopping")
			return
		case <-ticker.C:
		}

		now := l.now()

		// Catalog refresh: due by time, or requested via signal/admin.
		// Multiple requests coalesce into one reconciliation per wake.
		if now.After(refreshAt) || l.reload.Swap(false) {
			refreshAt = now.Add(l.opts.RefreshInterval)
			if next := l.refresh(ctx, gen); next != nil {
				gen = next
				lastReload = now
			}
			l.persist()
		}

		// Publish when the fire time passed or a retry backoff elapsed.
		if nextFire.Before(now) || retry.Due(now, l.opts.RetryInterval) {
			if l.pool.Empty() {
				l.log.Fatal("No image to post contained in catalog")
			}

			result := l.pipeline.Publish(ctx, gen.Catalog)
			nextFire = schedule.NextFireTime(nextFire, l.opts.Slots, l.now, l.log)

			switch result.Outcome {
			case publish.Published:
				l.logPosted(result, nextFire)
				retry = retry.Clear()
				l.persist()
			case publish.PermanentFailure:
				// The evicted key is consumed; schedule a retry so a
				// different image goes out after the backoff instead
				// of waiting for the next fire time.
				retry = retry.MarkFailed(now)
				l.persist()
			case publish.RetryableFailure:
				retry = retry.MarkFailed(now)
			}
		}

		l.setStatus(nextFire, retry, len(gen.Catalog), lastReload)
	}
}

// refresh reloads the catalog and reconciles the pool against it.
// Returns nil when loading fails; the previous generation stays in
// force until the next attempt succeeds.
func (l *Loop) refresh(ctx context.Context, prev *catalog.Generation) *catalog.Generation {
	ctx = logger.WithField(ctx, logger.FieldComponent, "catalog")
	gen, err := l.loader.Load(ctx, l.opts.CatalogSource)
	if err != nil {
		l.log.WithError(err).Error("Failed to reload catalog, continuing with previous generation")
		return nil
	}

	report := l.pool.Reconcile(gen.Order, gen.Catalog, prev.Catalog)
	LogReconcile(l.log, report)

	return gen
}

// LogReconcile emits the standard diagnostics for a reconciliation
// report, skipping zero counts.
// Parameters:
//   - log: sink for the messages.
//   - report: reconciliation counts.
// Returns: none.
func LogReconcile(log *logger.Logger, report pool.ReconcileReport) {
	if report.Added > 0 {
		log.WithField(logger.FieldCount, report.Added).Infof("Added %d new images", report.Added)
	}
	if report.Removed > 0 {
		log.WithField(logger.FieldCount, report.Removed).Infof("Removed %d images not found in catalog", report.Removed)
	}
	if report.MessageChanged > 0 {
		log.Infof("Text changed for %d images", report.MessageChanged)
	}
	if report.AltTextChanged > 0 {
		log.Infof("Alt text changed for %d images", report.AltTextChanged)
	}
	if report.ContentWarningChanged > 0 {
		log.Infof("Content warning changed for %d images", report.ContentWarningChanged)
	}
}

// logPosted emits the post-success diagnostics.
func (l *Loop) logPosted(result publish.Result, nextFire time.Time) {
	unused, used, _ := l.pool.Counts()

	log := l.log.WithFields(logger.Fields{
		logger.FieldImageKey: string(result.Key),
		logger.FieldLocation: result.Image.Location,
	})
	if nextFire.IsZero() {
		log.Info("Image posted")
	} else {
		log.Infof("Image posted, next at %s", nextFire)
	}
	l.log.Infof("Image text: %s", result.Image.Message)
	l.log.Infof("Image alt text: %s", result.Image.AltText)
	l.log.Infof("%d/%d images left", unused, unused+used)
}

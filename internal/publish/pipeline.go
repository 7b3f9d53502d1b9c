// Package publish orchestrates one publish attempt: select an image
// from the pool, fetch its bytes, upload them as media, create the
// status, and resolve the pool selection as committed or evicted.
//
// The pool is mutated only on a fully successful publish (commit) or a
// permanent fetch failure (evict). Any transient failure leaves the
// pool untouched so the same selection odds apply on the retry.
package publish

import (
	"context"
	"time"

	"github.com/tomasv/fedipost/internal/domain"
	"github.com/tomasv/fedipost/internal/fetch"
	"github.com/tomasv/fedipost/internal/logger"
	"github.com/tomasv/fedipost/internal/mastodon"
	"github.com/tomasv/fedipost/internal/pool"
)

// Outcome classifies how a publish attempt ended.
type Outcome int

const (
	// Published: both remote calls succeeded and the pool committed.
	Published Outcome = iota

	// RetryableFailure: transient failure, pool untouched, the driver
	// schedules a retry after the configured interval.
	RetryableFailure

	// PermanentFailure: the image can never be fetched and its key was
	// evicted from selection.
	PermanentFailure
)

// Result is the outcome of one publish attempt plus the image it
// concerned when one was resolved.
type Result struct {
	Outcome Outcome
	Key     domain.ImageKey
	Image   domain.Image
}

// API is the slice of the server client the pipeline needs.
type API interface {
	UploadMedia(ctx context.Context, data []byte, altText string) (string, error)
	CreateStatus(ctx context.Context, status mastodon.Status) error
}

// Fetcher retrieves image bytes with classified failures.
type Fetcher interface {
	Fetch(ctx context.Context, img domain.Image) ([]byte, error)
}

// Recorder appends publish history rows. Best-effort; failures are
// logged and ignored.
type Recorder interface {
	Record(ctx context.Context, record *domain.PublishRecord) error
}

// Options tunes status content.
type Options struct {
	// Tags appended to the status text after the image message.
	Tags string

	// Visibility is the static status visibility, used when Rotation
	// is empty. Empty leaves the server default.
	Visibility string

	// Rotation of visibility values advanced on every committed
	// publish via the pool's visibility cursor.
	Rotation []string
}

// Pipeline runs publish attempts against one server.
type Pipeline struct {
	pool    *pool.Pool
	fetcher Fetcher
	api     API
	history Recorder
	opts    Options
	log     *logger.Logger
}

// New creates a publish pipeline.
// Parameters:
//   - p: image pool, owned by the driver loop.
//   - fetcher: image byte fetcher.
//   - api: server client.
//   - history: publish history recorder; nil disables history.
//   - opts: status content options.
//   - log: sink for pipeline diagnostics; nil uses the default logger.
// Returns:
//   - *Pipeline: pipeline instance.
func New(p *pool.Pool, fetcher Fetcher, api API, history Recorder, opts Options, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Pipeline{
		pool:    p,
		fetcher: fetcher,
		api:     api,
		history: history,
		opts:    opts,
		log:     log,
	}
}

// Publish runs one attempt against the given catalog generation.
//
// Precondition: the pool is not empty; the driver checks this before
// calling and treats a violation as a fatal configuration error.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - catalog: current catalog generation.
// Returns:
//   - Result: outcome plus the selected image where known.
func (p *Pipeline) Publish(ctx context.Context, catalog domain.Catalog) Result {
	key := p.pool.Select()

	img, ok := catalog[key]
	if !ok {
		// Pool and catalog are reconciled on every reload, so a miss
		// here means the selection raced a reload. Retry next cycle.
		p.log.WithField(logger.FieldImageKey, string(key)).Error("Selected key not present in catalog")
		return Result{Outcome: RetryableFailure, Key: key}
	}

	log := p.log.WithFields(logger.Fields{
		logger.FieldImageKey: string(key),
		logger.FieldLocation: img.Location,
	})
	ctx = log.WithContext(ctx)

	data, err := p.fetcher.Fetch(ctx, img)
	if err != nil {
		if fetch.IsCritical(err) {
			log.WithError(err).Error("Image is permanently unfetchable, evicting")
			p.pool.Evict(key)
			p.record(ctx, key, img, domain.RecordEvicted, err.Error())
			return Result{Outcome: PermanentFailure, Key: key, Image: img}
		}
		log.WithError(err).Error("Failed to fetch image")
		return Result{Outcome: RetryableFailure, Key: key, Image: img}
	}

	mediaID, err := p.api.UploadMedia(ctx, data, img.AltText)
	if err != nil {
		log.WithError(err).Error("Failed to upload media")
		return Result{Outcome: RetryableFailure, Key: key, Image: img}
	}

	visibility, nextCursor := p.visibility()

	status := mastodon.Status{
		MediaID:     mediaID,
		Text:        p.statusText(img),
		SpoilerText: img.ContentWarning,
		Visibility:  visibility,
	}
	if err := p.api.CreateStatus(ctx, status); err != nil {
		// The uploaded media is abandoned server-side; there is no
		// cleanup call. The pool stays untouched so the same image is
		// retried next cycle.
		log.WithError(err).Error("Failed to create status")
		return Result{Outcome: RetryableFailure, Key: key, Image: img}
	}

	p.pool.Commit(key)
	p.pool.SetVisibilityCursor(nextCursor)
	p.record(ctx, key, img, domain.RecordPublished, "")

	return Result{Outcome: Published, Key: key, Image: img}
}

// statusText builds the status body: the image message, with the
// configured tag block appended after a newline when both are present.
func (p *Pipeline) statusText(img domain.Image) string {
	text := img.Message
	if p.opts.Tags != "" {
		if text != "" {
			text += "\n"
		}
		text += p.opts.Tags
	}
	return text
}

// visibility resolves the visibility for this post and the cursor
// value to store if it commits. The cursor only moves when a rotation
// is configured.
func (p *Pipeline) visibility() (string, int) {
	cursor := p.pool.VisibilityCursor()
	if len(p.opts.Rotation) == 0 {
		return p.opts.Visibility, cursor
	}
	visibility := p.opts.Rotation[cursor%len(p.opts.Rotation)]
	return visibility, (cursor + 1) % len(p.opts.Rotation)
}

// record appends a history row when history is enabled.
func (p *Pipeline) record(ctx context.Context, key domain.ImageKey, img domain.Image, outcome domain.RecordOutcome, detail string) {
	if p.history == nil {
		return
	}
	rec := &domain.PublishRecord{
		ImageKey:  string(key),
		Location:  img.Location,
		Outcome:   outcome,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
	if err := p.history.Record(ctx, rec); err != nil {
		p.log.WithError(err).Warn("Failed to record publish history")
	}
}

// Package pool owns the persisted selection state: which catalog
// entries have been posted, which are still fresh, and the shuffle bag
// used to avoid immediate repeats once everything has been shown.
//
// Selection is a two-phase protocol: Select returns a key without
// mutating anything, and the caller applies the mutation with Commit
// (publish succeeded) or Evict (image is permanently broken). A failed
// attempt therefore leaves the pool exactly as it was.
package pool

import (
	"math/rand"

	"github.com/tomasv/fedipost/internal/domain"
	"github.com/tomasv/fedipost/internal/logger"
)

// Pool tracks used, unused and deck keys. Owned by the single driver
// goroutine; not safe for concurrent use.
type Pool struct {
	used             []domain.ImageKey
	unused           []domain.ImageKey
	randomDeck       []domain.ImageKey
	visibilityCursor int

	rng *rand.Rand
	log *logger.Logger
}

// New creates an empty pool.
// Parameters:
//   - log: sink for pool diagnostics; nil uses the default logger.
// Returns:
//   - *Pool: empty pool.
func New(log *logger.Logger) *Pool {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Pool{
		rng: rand.New(rand.NewSource(rand.Int63())),
		log: log,
	}
}

// SetRandSource replaces the random source, used by tests for
// deterministic selection.
func (p *Pool) SetRandSource(src rand.Source) {
	p.rng = rand.New(src)
}

// contains reports whether the key is tracked in used or unused.
func (p *Pool) contains(key domain.ImageKey) bool {
	for _, k := range p.unused {
		if k == key {
			return true
		}
	}
	for _, k := range p.used {
		if k == key {
			return true
		}
	}
	return false
}

// Counts returns the number of unused, used and deck keys.
// Parameters: none.
// Returns:
//   - int: unused count.
//   - int: used count.
//   - int: random deck count.
func (p *Pool) Counts() (unused, used, deck int) {
	return len(p.unused), len(p.used), len(p.randomDeck)
}

// VisibilityCursor returns the current index into the configured
// visibility rotation.
func (p *Pool) VisibilityCursor() int {
	return p.visibilityCursor
}

// SetVisibilityCursor stores the rotation index after a committed
// publish advanced it.
func (p *Pool) SetVisibilityCursor(cursor int) {
	p.visibilityCursor = cursor
}

// Empty reports whether the pool tracks no keys at all. The caller
// treats an empty pool at publish time as a fatal configuration error.
func (p *Pool) Empty() bool {
	return len(p.unused) == 0 && len(p.used) == 0
}

// ReconcileReport summarizes the effect of one catalog reconciliation.
type ReconcileReport struct {
	Added   int
	Removed int

	// Descriptor changes for keys that stayed across generations.
	// Diagnostic only; no pool state depends on them.
	MessageChanged        int
	AltTextChanged        int
	ContentWarningChanged int
}

// Reconcile aligns the pool with a freshly loaded catalog: keys never
// seen before are appended to unused in discovery order, and keys no
// longer present in the catalog are dropped from all three sequences,
// preserving the relative order of everything else. With a previous
// catalog generation supplied it also counts descriptor text changes.
// Cannot fail given well-formed inputs, and is idempotent.
// Parameters:
//   - order: catalog keys in discovery order (parser order of the source file).
//   - catalog: current catalog generation.
//   - prev: previous generation for change diagnostics; nil skips them.
// Returns:
//   - ReconcileReport: added/removed/changed counts.
func (p *Pool) Reconcile(order []domain.ImageKey, catalog domain.Catalog, prev domain.Catalog) ReconcileReport {
	var report ReconcileReport

	for _, key := range order {
		if !p.contains(key) {
			p.unused = append(p.unused, key)
			report.Added++
		}
	}

	before := len(p.unused) + len(p.used)
	p.unused = retainKnown(p.unused, catalog)
	p.used = retainKnown(p.used, catalog)
	report.Removed = before - len(p.unused) - len(p.used)

	p.randomDeck = retainKnown(p.randomDeck, catalog)

	if prev != nil {
		for key, image := range catalog {
			old, ok := prev[key]
			if !ok {
				continue
			}
			if old.Message != image.Message {
				report.MessageChanged++
			}
			if old.AltText != image.AltText {
				report.AltTextChanged++
			}
			if old.ContentWarning != image.ContentWarning {
				report.ContentWarningChanged++
			}
		}
	}

	return report
}

// retainKnown filters keys down to those present in the catalog,
// keeping order.
func retainKnown(keys []domain.ImageKey, catalog domain.Catalog) []domain.ImageKey {
	kept := keys[:0]
	for _, k := range keys {
		if _, ok := catalog[k]; ok {
			kept = append(kept, k)
		}
	}
	return kept
}

// Select picks the key for the next publish attempt without mutating
// any state; the caller resolves the pick later with Commit or Evict.
// Fresh images are drawn uniformly from unused so every image is shown
// once before any repeat. Once unused is exhausted the random deck is
// drawn from instead, refilled from the whole used list whenever it
// runs dry, giving uniform without-replacement rounds over the full
// catalog.
//
// Precondition: the pool is not Empty(); the caller checks this before
// starting a publish cycle.
// Parameters: none.
// Returns:
//   - domain.ImageKey: the selected key.
func (p *Pool) Select() domain.ImageKey {
	if len(p.unused) > 0 {
		return p.unused[p.rng.Intn(len(p.unused))]
	}

	if len(p.randomDeck) == 0 {
		p.randomDeck = append(p.randomDeck, p.used...)
		p.log.WithField(logger.FieldCount, len(p.randomDeck)).Debug("Random deck was refilled")
	}

	return p.randomDeck[p.rng.Intn(len(p.randomDeck))]
}

// Commit marks a selected key as successfully published. A key drawn
// from unused moves to the end of used; a key drawn from the deck
// (unused was empty at selection time) is removed from the deck only
// and stays in used. Called exactly once per successful publish.
// Parameters:
//   - key: key returned by the matching Select call.
// Returns: none.
func (p *Pool) Commit(key domain.ImageKey) {
	p.consume(key)
}

// Evict permanently consumes a key whose image can never be fetched.
// The mutation is the same as a commit: the broken image counts as
// shown so it does not block selection forever. Only a catalog reload
// that drops the entry purges it from used entirely.
// Parameters:
//   - key: key returned by the matching Select call.
// Returns: none.
func (p *Pool) Evict(key domain.ImageKey) {
	p.consume(key)
}

// consume applies the deferred mutation for a selected key. The branch
// mirrors Select: a non-empty unused list means the key was drawn from
// it, otherwise it came from the deck.
func (p *Pool) consume(key domain.ImageKey) {
	if len(p.unused) == 0 {
		p.randomDeck = removeKey(p.randomDeck, key)
		return
	}
	p.unused = removeKey(p.unused, key)
	p.used = append(p.used, key)
}

// removeKey deletes the first occurrence of key, preserving order.
func removeKey(keys []domain.ImageKey, key domain.ImageKey) []domain.ImageKey {
	for i, k := range keys {
		if k == key {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}

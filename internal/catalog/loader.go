// Package catalog loads the image catalog from a local file or a
// remote URL and turns it into the keyed generation the pool
// reconciles against.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tomasv/fedipost/internal/domain"
	"github.com/tomasv/fedipost/internal/logger"
	"github.com/tomasv/fedipost/internal/version"
)

// Generation is one loaded catalog: the keyed descriptors, the
// discovery order of keys, and the raw source text kept around for
// duplicate-location line diagnostics.
type Generation struct {
	Catalog domain.Catalog
	Order   []domain.ImageKey
	Raw     string
}

// Loader fetches and parses the catalog source.
type Loader struct {
	client *resty.Client
	log    *logger.Logger
}

// NewLoader creates a catalog loader.
// Parameters:
//   - log: sink for duplicate diagnostics; nil uses the default logger.
// Returns:
//   - *Loader: loader with its own HTTP client.
func NewLoader(log *logger.Logger) *Loader {
	if log == nil {
		log = logger.GetDefault()
	}

	client := resty.New()
	client.SetHeader("User-Agent", version.UserAgent())
	client.SetTimeout(60 * time.Second)

	return &Loader{client: client, log: log}
}

// Load reads the catalog from the configured source. The source is
// treated as a local filesystem path when a file with that name exists
// on disk (a "file:" prefix is allowed), otherwise as a URL fetched
// with an unauthenticated GET.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - source: local path or URL of the catalog JSON.
// Returns:
//   - *Generation: parsed catalog generation.
//   - error: non-nil if the source cannot be read or parsed.
func (l *Loader) Load(ctx context.Context, source string) (*Generation, error) {
	raw, err := l.fetch(ctx, source)
	if err != nil {
		return nil, err
	}

	var images []domain.Image
	if err := json.Unmarshal([]byte(raw), &images); err != nil {
		return nil, fmt.Errorf("failed to parse catalog json: %w", err)
	}
	for i, img := range images {
		if img.Location == "" {
			return nil, fmt.Errorf("catalog entry %d has no location", i)
		}
	}

	l.reportDuplicateLocations(raw, images)

	logger.With(logger.Fields{logger.FieldSize: len(raw)}).
		WithCount(len(images)).
		Debug(ctx, "Catalog parsed")

	gen := &Generation{
		Catalog: make(domain.Catalog, len(images)),
		Order:   make([]domain.ImageKey, 0, len(images)),
		Raw:     raw,
	}
	for _, img := range images {
		key := img.Key()
		if _, seen := gen.Catalog[key]; !seen {
			gen.Order = append(gen.Order, key)
		}
		// Last entry wins on collision, matching parse order.
		gen.Catalog[key] = img
	}

	return gen, nil
}

// fetch resolves the source to raw text, local path first.
func (l *Loader) fetch(ctx context.Context, source string) (string, error) {
	path := strings.TrimPrefix(source, domain.LocalPrefix)
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read catalog file %s: %w", path, err)
		}
		return string(data), nil
	}

	resp, err := l.client.R().SetContext(ctx).Get(source)
	if err != nil {
		return "", fmt.Errorf("failed to fetch catalog from %s: %w", source, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", fmt.Errorf("catalog fetch from %s returned HTTP %d", source, resp.StatusCode())
	}
	return string(resp.Body()), nil
}

// reportDuplicateLocations warns about catalog entries sharing a
// location. Such entries collide to one pool key; that is accepted
// behaviour, so this is a warning with line numbers, never an error.
func (l *Loader) reportDuplicateLocations(raw string, images []domain.Image) {
	lines := strings.Split(raw, "\n")

	locationLine := func(location string, nth int) int {
		seen := 0
		for i, line := range lines {
			if strings.Contains(line, location) {
				if seen == nth {
					return i + 1
				}
				seen++
			}
		}
		return 0
	}

	firstIndex := make(map[string]int)
	occurrence := make(map[string]int)
	for i, img := range images {
		if _, ok := firstIndex[img.Location]; !ok {
			firstIndex[img.Location] = i
			occurrence[img.Location] = 0
			continue
		}

		occurrence[img.Location]++
		l.log.WithFields(logger.Fields{
			logger.FieldLocation: img.Location,
			"line":               locationLine(img.Location, occurrence[img.Location]),
			"first_seen_line":    locationLine(img.Location, 0),
		}).Warn("Catalog entry is a duplicate location")
	}
}

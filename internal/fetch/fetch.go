// Package fetch retrieves image bytes for the publish pipeline, from a
// sandboxed local root or a remote URL, and classifies failures so the
// pipeline knows whether to retry the image or evict it.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tomasv/fedipost/internal/domain"
	"github.com/tomasv/fedipost/internal/version"
)

// Class separates failures the pipeline retries from failures that
// mean the image will never become fetchable.
type Class int

const (
	// Normal failures are transient: the same key is retried on the
	// next cycle.
	Normal Class = iota

	// Critical failures are permanent for this image: the pipeline
	// evicts the key instead of retrying forever.
	Critical
)

// Error wraps a fetch failure with its classification.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCritical reports whether err carries the Critical classification.
// Parameters:
//   - err: error returned by Fetcher.Fetch.
// Returns:
//   - bool: true for permanent per-image failures.
func IsCritical(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Class == Critical
}

func critical(err error) error {
	return &Error{Class: Critical, Err: err}
}

func normal(err error) error {
	return &Error{Class: Normal, Err: err}
}

// Fetcher retrieves image bytes.
type Fetcher struct {
	client    *resty.Client
	localRoot string
}

// New creates a fetcher.
// Parameters:
//   - localRoot: sandbox root for "file:" locations; empty disables local images.
// Returns:
//   - *Fetcher: fetcher with its own unauthenticated HTTP client.
func New(localRoot string) *Fetcher {
	client := resty.New()
	client.SetHeader("User-Agent", version.UserAgent())
	client.SetTimeout(60 * time.Second)

	return &Fetcher{client: client, localRoot: localRoot}
}

// Fetch retrieves the bytes for an image. Failures come back as *Error
// carrying the Critical/Normal class.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - img: catalog descriptor of the image.
// Returns:
//   - []byte: image content.
//   - error: classified fetch failure.
func (f *Fetcher) Fetch(ctx context.Context, img domain.Image) ([]byte, error) {
	if img.IsLocal() {
		return f.fetchLocal(img.LocalPath())
	}
	return f.fetchRemote(ctx, img.Location)
}

// fetchLocal reads an image from under the sandbox root. The resolved
// path must stay inside the root after canonicalization; anything that
// escapes, or does not exist, is permanently unfetchable.
func (f *Fetcher) fetchLocal(rel string) ([]byte, error) {
	if f.localRoot == "" {
		return nil, critical(fmt.Errorf("local image %s referenced but post.local_root is not configured", rel))
	}

	path := filepath.Join(f.localRoot, rel)
	if _, err := os.Stat(path); err != nil {
		return nil, critical(fmt.Errorf("local image %s does not exist: %w", path, err))
	}

	// Directory traversal mitigation: canonicalize both sides and
	// require the image to remain under the root.
	canonPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, critical(fmt.Errorf("failed to canonicalize image path %s: %w", path, err))
	}
	canonRoot, err := filepath.EvalSymlinks(f.localRoot)
	if err != nil {
		return nil, critical(fmt.Errorf("failed to canonicalize local root %s: %w", f.localRoot, err))
	}
	if canonPath != canonRoot && !strings.HasPrefix(canonPath, canonRoot+string(filepath.Separator)) {
		return nil, critical(fmt.Errorf("directory traversal is not permitted for local image %s", rel))
	}

	data, err := os.ReadFile(canonPath)
	if err != nil {
		return nil, normal(fmt.Errorf("failed to read local image %s: %w", rel, err))
	}
	return data, nil
}

// fetchRemote downloads an image over HTTP. 401/403/404 mean the image
// will never become fetchable; everything else is transient.
func (f *Fetcher) fetchRemote(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, normal(fmt.Errorf("failed to fetch remote image %s: %w", url, err))
	}

	switch resp.StatusCode() {
	case 401, 403, 404:
		return nil, critical(fmt.Errorf("remote image %s returned HTTP %d", url, resp.StatusCode()))
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, normal(fmt.Errorf("remote image %s returned HTTP %d", url, resp.StatusCode()))
	}

	return resp.Body(), nil
}

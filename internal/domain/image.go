package domain

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// LocalPrefix marks an image location that is resolved under the
// configured local root instead of being fetched over HTTP.
const LocalPrefix = "file:"

// ImageKey is the content address of a catalog entry, derived from its
// location alone. Two entries sharing a location collide to the same
// key; this is reported as a duplicate, not treated as an error.
type ImageKey string

// Image describes one postable image as declared in the catalog file.
// Immutable for a given catalog generation.
type Image struct {
	Message        string `json:"msg,omitempty"`
	AltText        string `json:"alt,omitempty"`
	ContentWarning string `json:"content_warning,omitempty"`
	Location       string `json:"location"`
}

// Key computes the pool key for this image. The key depends only on
// Location so that edits to message, alt text or content warning keep
// the image's publish history intact across catalog reloads.
// Parameters: none.
// Returns:
//   - ImageKey: hex-encoded MD5 of the location string.
func (i Image) Key() ImageKey {
	sum := md5.Sum([]byte(i.Location))
	return ImageKey(hex.EncodeToString(sum[:]))
}

// IsLocal reports whether the image location points into the local
// sandbox root rather than a remote URL.
// Parameters: none.
// Returns:
//   - bool: true if the location carries the "file:" prefix.
func (i Image) IsLocal() bool {
	return strings.HasPrefix(i.Location, LocalPrefix)
}

// LocalPath returns the location with the "file:" prefix stripped.
// Only meaningful when IsLocal is true.
// Parameters: none.
// Returns:
//   - string: relative path under the local root.
func (i Image) LocalPath() string {
	return strings.TrimPrefix(i.Location, LocalPrefix)
}

// Catalog maps pool keys to image descriptors for one catalog
// generation. Replaced wholesale on each reload, never mutated.
type Catalog map[ImageKey]Image

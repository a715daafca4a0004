// Package blob is the document store adapter: opaque put/delete of named
// binary blobs plus public URL resolution for a stored locator.
package blob

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Blob is a self-describing binary payload.
type Blob struct {
	Name        string
	ContentType string
	Data        []byte
}

type Store interface {
	// Put stores b under a fresh locator scoped to ownerID and returns it.
	Put(ctx context.Context, b Blob, ownerID string) (string, error)
	// Delete removes the blob at locator. Failures are logged, never returned.
	Delete(ctx context.Context, locator string)
	// PublicURL resolves a locator to a URL a browser can download from.
	PublicURL(locator string) string
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9\-._]`)

// SanitizeFileName replaces every character outside [A-Za-z0-9-._] with an
// underscore so the name can be embedded in a locator or URL path.
func SanitizeFileName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// NewLocator builds "<owner>/<unix-millis>-<random>-<sanitized name>". The
// random segment keeps same-name uploads in one millisecond apart.
func NewLocator(ownerID, name string, now time.Time) string {
	return fmt.Sprintf("%s/%d-%s-%s", SanitizeFileName(ownerID), now.UnixMilli(), uuid.NewString()[:8], SanitizeFileName(name))
}

func cleanLocator(locator string) string {
	return strings.TrimLeft(strings.TrimSpace(locator), "/")
}

package metadatacache

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
)

// DefaultCachePath returns the platform-appropriate per-user cache file for
// environmentBaseURL: os.UserCacheDir()/d365fo-client/<env-host>/metadata.db.
// The directory is created if it does not yet exist.
func DefaultCachePath(environmentBaseURL string) (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeCacheUnavailable, "could not resolve user cache directory")
	}

	dir := filepath.Join(base, "d365fo-client", hostOf(environmentBaseURL))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.Wrapf(err, apperrors.ErrorTypeCacheUnavailable, "could not create cache directory %s", dir)
	}
	return filepath.Join(dir, "metadata.db"), nil
}

// hostOf extracts a filesystem-safe host component from a base URL,
// falling back to the raw string (sanitized) if it does not parse as a URL.
func hostOf(environmentBaseURL string) string {
	if u, err := url.Parse(environmentBaseURL); err == nil && u.Host != "" {
		return sanitizeHost(u.Host)
	}
	return sanitizeHost(environmentBaseURL)
}

func sanitizeHost(s string) string {
	replacer := strings.NewReplacer("/", "_", ":", "_", "\\", "_")
	return replacer.Replace(s)
}

package raster

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// CacheKey derives the page cache document id from a source locator: the last path
// segment without query, fragment or extension, restricted to [A-Za-z0-9_-]. When
// nothing usable is left the key is "doc-" plus the first 12 hex digits of the
// locator's SHA-256, so distinct sources never share the empty key.
func CacheKey(locator string) string {
	s := locator
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndexAny(s, "/\\"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(s, path.Ext(s))

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	key := strings.Trim(b.String(), "_")
	if key == "" {
		sum := sha256.Sum256([]byte(locator))
		return "doc-" + hex.EncodeToString(sum[:])[:12]
	}
	return key
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// IsImageLocator reports whether the locator names a raster image by extension.
func IsImageLocator(locator string) bool {
	s := locator
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	return imageExtensions[strings.ToLower(path.Ext(s))]
}

// IsImageContent reports whether a fetched content type is a raster image.
func IsImageContent(contentType string) bool {
	return strings.HasPrefix(contentType, "image/") && contentType != "image/svg+xml"
}

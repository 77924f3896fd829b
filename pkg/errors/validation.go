package errors

import (
	"regexp"
	"strings"
	"unicode"
)

// ValidateURL validates a URL string for safety.
// It ensures the URL has a safe scheme (http or https).
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return New(ErrCodeInvalidInput, "URL cannot be empty")
	}

	// Simple scheme validation without full URL parsing
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return New(ErrCodeInvalidInput, "URL must use http or https scheme")
	}

	return nil
}

// fieldPathRegex matches dot-paths such as "id", "media.cover.url" or "tags.0".
var fieldPathRegex = regexp.MustCompile(`^[A-Za-z0-9_$-]+(\.[A-Za-z0-9_$-]+)*$`)

// ValidateFieldPath validates a dot-path used by a field mapping.
//
// An empty path is valid and means "not mapped". Otherwise the path must be a
// sequence of non-empty segments separated by single dots; numeric segments
// index into arrays.
func ValidateFieldPath(path string) error {
	if path == "" {
		return nil
	}

	const maxPathLength = 256
	if len(path) > maxPathLength {
		return New(ErrCodeInvalidConfig, "field path too long (max %d characters)", maxPathLength)
	}

	for _, r := range path {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidConfig, "field path contains invalid control characters")
		}
	}

	if !fieldPathRegex.MatchString(path) {
		return New(ErrCodeInvalidConfig, "invalid field path: %q", path)
	}
	return nil
}

// filterKeyRegex matches query parameter names accepted as upstream filters.
var filterKeyRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.\[\]-]*$`)

// reservedFilterKeys are owned by the pagination layer and cannot be
// overridden by filters.
var reservedFilterKeys = map[string]bool{
	"page":  true,
	"limit": true,
}

// ValidateFilterKey validates the name of an upstream filter parameter.
func ValidateFilterKey(key string) error {
	if key == "" {
		return New(ErrCodeInvalidInput, "filter key cannot be empty")
	}
	if reservedFilterKeys[strings.ToLower(key)] {
		return New(ErrCodeInvalidInput, "filter key %q is reserved for pagination", key)
	}
	if !filterKeyRegex.MatchString(key) {
		return New(ErrCodeInvalidInput, "invalid filter key: %q", key)
	}
	return nil
}

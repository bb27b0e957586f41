// Package validator holds the pure URL checks and normalizers used by the strategies.
package validator

import (
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/aluiziolira/go-fetch-images/models"
)

// AllowedFormats lists the image file extensions accepted for direct URLs.
var AllowedFormats = []string{"jpg", "jpeg", "png", "gif", "webp"}

// IsAllowedImageFormat reports whether the URL path ends in an allowed image extension.
// The query string and fragment are ignored, so ".jpg?size=large" passes.
func IsAllowedImageFormat(rawURL string) bool {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return false
	}

	p := rawURL
	if parsed, err := url.Parse(rawURL); err == nil {
		p = parsed.Path
	} else if idx := strings.IndexAny(p, "?#"); idx >= 0 {
		p = p[:idx]
	}

	ext := strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
	return ext != "" && slices.Contains(AllowedFormats, ext)
}

// ValidateImageURL fails fast on blank, malformed or non-image URLs.
func ValidateImageURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return &models.InvalidURLError{URL: rawURL, Reason: "image url cannot be empty"}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &models.InvalidURLError{URL: rawURL, Reason: "malformed url", Err: err}
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return &models.InvalidURLError{URL: rawURL, Reason: "url must be absolute"}
	}

	if !IsAllowedImageFormat(rawURL) {
		return &models.InvalidURLError{
			URL:    rawURL,
			Reason: "unsupported image format, allowed: " + strings.Join(AllowedFormats, ", "),
		}
	}
	return nil
}

// ValidateSalesURL requires an http or https sales page URL.
func ValidateSalesURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return &models.InvalidURLError{URL: rawURL, Reason: "sales url cannot be empty"}
	}
	lower := strings.ToLower(rawURL)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return &models.InvalidURLError{URL: rawURL, Reason: "sales url must start with http:// or https://"}
	}
	return nil
}

// NormalizeImageURL rewrites protocol-relative URLs to https.
func NormalizeImageURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if strings.HasPrefix(rawURL, "//") {
		return "https:" + rawURL
	}
	return rawURL
}

// BuildSearchQuery joins the item and option names with a single space.
func BuildSearchQuery(itemName, optionName string) string {
	query := strings.TrimSpace(itemName)
	if option := strings.TrimSpace(optionName); option != "" {
		query += " " + option
	}
	return strings.TrimSpace(query)
}

// ResolveImageURL normalizes raw and resolves it against the page it was found on.
// Unparseable input is returned normalized but unresolved.
func ResolveImageURL(pageURL, raw string) string {
	normalized := NormalizeImageURL(raw)
	ref, err := url.Parse(normalized)
	if err != nil || ref.IsAbs() {
		return normalized
	}
	base, err := url.Parse(pageURL)
	if err != nil || !base.IsAbs() {
		return normalized
	}
	return base.ResolveReference(ref).String()
}

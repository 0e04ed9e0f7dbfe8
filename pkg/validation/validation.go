package validation

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ValidateURL ensures a non-empty valid http(s) URL.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("url cannot be empty")
	}
	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return errors.New("url must be valid")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("url must use http or https")
	}
	return nil
}

// ValidateMediaURLs checks a comma-separated attachment list. Every entry
// must be a valid URL; an empty list is allowed.
func ValidateMediaURLs(commaList string) error {
	commaList = strings.TrimSpace(commaList)
	if commaList == "" {
		return nil
	}
	for _, part := range strings.Split(commaList, ",") {
		if err := ValidateURL(part); err != nil {
			return fmt.Errorf("media url %q: %w", strings.TrimSpace(part), err)
		}
	}
	return nil
}

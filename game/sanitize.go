package game

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var policy = bluemonday.StrictPolicy()

// SanitizeName removes any HTML and trims whitespace from a display name.
func SanitizeName(name string) string {
	cleaned := policy.Sanitize(name)
	return strings.TrimSpace(cleaned)
}

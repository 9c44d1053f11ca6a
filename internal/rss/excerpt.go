package rss

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ExcerptLength is the maximum excerpt length in characters.
const ExcerptLength = 300

var textPolicy = bluemonday.StrictPolicy().AddSpaceWhenStrippingTag(true)

// Excerpt strips markup from content and returns at most max characters of
// whitespace-collapsed plain text.
func Excerpt(content string, max int) string {
	text := html.UnescapeString(textPolicy.Sanitize(content))
	text = strings.Join(strings.Fields(text), " ")
	return truncate(text, max)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max]))
}

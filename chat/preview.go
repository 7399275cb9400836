package chat

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const previewLength = 100

var stripPolicy = bluemonday.StrictPolicy()

// Preview renders s as short plain text: markup is stripped, whitespace is
// collapsed and the result is cut to previewLength runes.
func Preview(s string) string {
	s = plainText(s)
	if utf8.RuneCountInString(s) <= previewLength {
		return s
	}
	r := []rune(s)
	return string(r[:previewLength-1]) + "…"
}

// plainText strips markup and collapses whitespace.
func plainText(s string) string {
	s = html.UnescapeString(stripPolicy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

// PreviewOf returns the display preview of a message.
func PreviewOf(m Message) string {
	if m.Deleted {
		return Tombstone
	}
	if m.Type == TypeText || m.Type == "" {
		return Preview(m.Content)
	}
	label := "[" + string(m.Type) + "]"
	if m.Attachment != nil && m.Attachment.Name != "" {
		label += " " + m.Attachment.Name
	}
	if c := Preview(m.Content); c != "" {
		label += " " + c
	}
	return Preview(label)
}

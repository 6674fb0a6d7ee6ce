package sanitize

import "strings"

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// EscapeHTML escapes the five characters that matter for safe interpolation
// into an HTML text or attribute context. Used by component builders when
// splicing user-provided strings (labels, cell values) into generated markup
// that never goes through the full Sanitize pipeline.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

package htmltext

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	scriptRe   = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	styleRe    = regexp.MustCompile(`(?is)<style\b.*?</style>`)
	blockEndRe = regexp.MustCompile(`(?i)</(p|div|li|ul|ol|h[1-6]|tr|table|blockquote)>`)
	brRe       = regexp.MustCompile(`(?i)<br\s*/?>`)
	tagRe      = regexp.MustCompile(`<[^>]*>`)
	blankRe    = regexp.MustCompile(`\n{3,}`)
)

var entities = strings.NewReplacer(
	"&nbsp;", " ",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", "\"",
	"&#39;", "'",
	"&apos;", "'",
	"&amp;", "&", // last so freshly produced & is not re-expanded
)

// ToText converts HTML to plain text suitable for an AI prompt: script and
// style blocks are removed entirely, block-level closing tags and <br>
// become newlines, remaining tags are stripped, common entities decoded and
// whitespace collapsed.
func ToText(html string) string {
	if html == "" {
		return ""
	}
	text := scriptRe.ReplaceAllString(html, " ")
	text = styleRe.ReplaceAllString(text, " ")
	text = brRe.ReplaceAllString(text, "\n")
	text = blockEndRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, " ")
	text = entities.Replace(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text = strings.Join(lines, "\n")
	text = blankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Preview returns a single-line preview of at most max bytes of text.
func Preview(html string, max int) string {
	text := strings.Join(strings.Fields(ToText(html)), " ")
	if len(text) > max {
		return Truncate(text, max) + "..."
	}
	return text
}

// Truncate cuts s to at most max bytes without splitting a rune.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

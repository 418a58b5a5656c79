package avatar

import (
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// Palette for generated placeholders. The color for a given email never
// changes between runs, so contact lists stay visually stable.
var palette = []string{
	"#F44336", "#E91E63", "#9C27B0", "#673AB7", "#3F51B5",
	"#2196F3", "#00BCD4", "#009688", "#4CAF50", "#FF9800",
	"#795548", "#607D8B",
}

// Placeholder builds a deterministic inline-SVG avatar for a contact that
// has no fetched picture: background color selected by hashing the email,
// initials taken from the display name (or the email's local part).
func Placeholder(email, name string) string {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	color := palette[h.Sum32()%uint32(len(palette))]

	svg := fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="64" height="64"><rect width="64" height="64" fill="%s"/><text x="32" y="40" font-family="sans-serif" font-size="26" fill="#fff" text-anchor="middle">%s</text></svg>`,
		color, Initials(name, email))

	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg))
}

// Initials returns up to two uppercase initials from the name, falling back
// to the first letter of the email's local part.
func Initials(name, email string) string {
	fields := strings.Fields(name)
	switch {
	case len(fields) >= 2:
		return upperFirst(fields[0]) + upperFirst(fields[len(fields)-1])
	case len(fields) == 1:
		return upperFirst(fields[0])
	}
	local := email
	if idx := strings.Index(email, "@"); idx >= 0 {
		local = email[:idx]
	}
	return upperFirst(local)
}

func upperFirst(s string) string {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return string(unicode.ToUpper(r))
		}
	}
	return "?"
}

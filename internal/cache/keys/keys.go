// Package keys builds Redis keys for serialized coverage sets.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const prefix = "moc"

// CoverageKey returns the cache key for a dataset at a requested order
// (order < 0 means the provider's native resolution). Dataset identifiers
// such as "CDS/P/2MASS/H" are sanitized for readability; the xxhash suffix
// over the raw identifier keeps sanitized collisions apart.
func CoverageKey(dataset string, order int) string {
	raw, safe := name(dataset)

	o := "native"
	if order >= 0 {
		o = fmt.Sprintf("o%d", order)
	}
	return fmt.Sprintf("%s:%s:%s:h=%016x", prefix, safe, o, xxhash.Sum64String(raw))
}

// DatasetPattern matches every key of a dataset regardless of order.
func DatasetPattern(dataset string) string {
	raw, safe := name(dataset)
	return fmt.Sprintf("%s:%s:*:h=%016x", prefix, escapeGlob(safe), xxhash.Sum64String(raw))
}

const maxNameLen = 120

// name returns the trimmed identifier and its key-safe form, cut to
// maxNameLen. Every key and pattern for a dataset goes through here.
func name(dataset string) (raw, safe string) {
	raw = strings.TrimSpace(dataset)
	safe = sanitize(raw)
	if len(safe) > maxNameLen {
		safe = safe[:maxNameLen]
	}
	return raw, safe
}

// ETag is a strong validator for a serialized payload.
func ETag(payload []byte) string {
	return fmt.Sprintf(`"%016x"`, xxhash.Sum64(payload))
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// '/', ':' and any non-ASCII rune become '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}

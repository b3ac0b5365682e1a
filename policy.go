package blobcache

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"
)

// SanitizeName replaces any character outside {Unicode letter, Unicode digit,
// '.', '_', '-'} with '_', collapses runs of '_', and trims leading/trailing
// '_'. An empty result yields "file".
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	lastUnderscore := false
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}

	sanitized := strings.Trim(b.String(), "_")
	if sanitized == "" {
		return "file"
	}
	return sanitized
}

// SafeStoredName truncates the sanitized base (without extension) to 20
// chars, appends "_<first-8-hex-of-hash>", and re-appends the lowercased
// extension. Total length is always <= 255.
func SafeStoredName(originalName, hash string) string {
	ext := strings.ToLower(path.Ext(originalName))
	base := strings.TrimSuffix(originalName, path.Ext(originalName))
	base = SanitizeName(base)

	if len(base) > 20 {
		base = base[:20]
	}

	suffix := hash
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}

	return fmt.Sprintf("%s_%s%s", base, suffix, ext)
}

// DatePrefix returns the "YYYY-MM" partition for a UTC timestamp.
func DatePrefix(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// JoinKey normalizes separators and produces a canonical backend key from
// parts, discarding empty segments.
func JoinKey(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return path.Join(nonEmpty...)
}

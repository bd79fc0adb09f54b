package chunkstore

import "strings"

// Sanitize maps a file name onto a safe on-disk stem: every rune that is
// not alphanumeric, '.', or '-' becomes '_'. Spec §3 leaves collisions
// between distinct names that sanitize identically unhandled; this
// implementation's policy (the Open Question decision from SPEC_FULL.md
// §5) is to reject the second ingest rather than silently overwrite it —
// see Store.checkSanitizedCollision.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

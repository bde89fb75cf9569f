// Package pathlayout normalizes variant ids and extensions and maps a
// FileID to its on-disk directory layout.
//
// Normalization NFKC-normalizes first so that visually-equivalent Unicode
// forms collapse to one representation, then lowercases and filters to an
// allowed character set.
package pathlayout

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// VariantID is a non-empty, normalized variant identifier: ASCII letters,
// digits, '-' and '_' only, lowercase. The on-disk filename separator
// between a FileID and a VariantID is a space, so VariantID may not
// itself contain one — the allowed character set already excludes it.
type VariantID string

// ErrInvalidVariantID is returned when a candidate variant id is empty or
// contains characters outside the allowed set after normalization.
type ErrInvalidVariantID struct {
	Input string
	Cause string
}

func (e *ErrInvalidVariantID) Error() string {
	return fmt.Sprintf("invalid variant id %q: %s", e.Input, e.Cause)
}

func isVariantChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	default:
		return false
	}
}

// NormalizeVariantID normalizes a candidate variant id: NFKC-normalize,
// lowercase, and require every rune to be in the allowed set. Unlike
// extension normalization, invalid characters are rejected rather than
// stripped, since a variant id silently losing characters could collide
// with a different variant.
func NormalizeVariantID(s string) (VariantID, error) {
	if s == "" {
		return "", &ErrInvalidVariantID{Input: s, Cause: "must not be empty"}
	}
	normalized := strings.ToLower(norm.NFKC.String(s))
	for _, r := range normalized {
		if !isVariantChar(r) {
			return "", &ErrInvalidVariantID{Input: s, Cause: "contains characters outside [a-z0-9-_]"}
		}
	}
	return VariantID(normalized), nil
}

// Normalize is idempotent: normalizing an already-normalized id returns it
// unchanged.
func (v VariantID) Normalize() (VariantID, error) {
	return NormalizeVariantID(string(v))
}

func (v VariantID) String() string { return string(v) }

// Extension is either empty (the main file / variant has no declared
// extension) or begins with '.', all lowercase.
type Extension string

// NormalizeExtension normalizes a candidate extension: NFKC-normalize,
// lowercase, strip every character other than ASCII letters and digits
// (a leading '.' is kept; later dots are stripped too), and ensure a
// leading '.'. An empty input normalizes to the empty extension.
func NormalizeExtension(s string) Extension {
	if s == "" {
		return ""
	}
	normalized := strings.ToLower(norm.NFKC.String(s))
	var b strings.Builder
	for i, r := range normalized {
		if i == 0 && r == '.' {
			b.WriteRune(r)
			continue
		}
		if isExtChar(r) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return ""
	}
	if out[0] != '.' {
		out = "." + out
	}
	if out == "." {
		return ""
	}
	return Extension(out)
}

func isExtChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	default:
		return false
	}
}

// Normalize is idempotent.
func (e Extension) Normalize() Extension {
	return NormalizeExtension(string(e))
}

func (e Extension) String() string { return string(e) }

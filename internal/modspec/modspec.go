// Package modspec encodes and resolves app:// module specifiers.
//
// The canonical form is app://<blueprintId>@<version>/<relPath>. Specifiers are
// content-stable: bumping a blueprint's version yields fresh specifiers, which
// is what invalidates every downstream module cache.
package modspec

import (
	"strconv"
	"strings"
)

const Scheme = "app://"

// SharedPrefix is the canonical prefix for same-blueprint shared imports.
// "shared/" (without the @) is accepted as an alias.
const SharedPrefix = "@shared/"

// Ref is a parsed module specifier.
type Ref struct {
	BlueprintID string
	Version     int
	RelPath     string
}

// Build returns the canonical specifier for a file in a blueprint version.
func Build(blueprintID string, version int, relPath string) string {
	return Scheme + blueprintID + "@" + strconv.Itoa(version) + "/" + relPath
}

// Parse splits a canonical specifier into its parts. The blueprint id may
// itself contain '@'; the version is whatever follows the last '@' in the
// prefix before the first '/'.
func Parse(spec string) (Ref, bool) {
	if !strings.HasPrefix(spec, Scheme) {
		return Ref{}, false
	}
	rest := spec[len(Scheme):]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return Ref{}, false
	}
	prefix := rest[:slash]
	relPath := rest[slash+1:]
	at := strings.LastIndex(prefix, "@")
	if at <= 0 {
		return Ref{}, false
	}
	id := prefix[:at]
	ver := prefix[at+1:]
	if id == "" || ver == "" || relPath == "" {
		return Ref{}, false
	}
	n, err := strconv.Atoi(ver)
	if err != nil {
		return Ref{}, false
	}
	return Ref{BlueprintID: id, Version: n, RelPath: relPath}, true
}

// IsRelative reports whether an import specifier is ./ or ../ relative.
func IsRelative(s string) bool {
	return strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../")
}

// ResolveRelative resolves a ./ or ../ import against the referrer's
// specifier. The referrer's last path segment is dropped, then the import's
// segments are applied; walking above the blueprint root fails.
func ResolveRelative(importSpec, referrer string) (string, bool) {
	if strings.Contains(importSpec, "\\") {
		return "", false
	}
	ref, ok := Parse(referrer)
	if !ok {
		return "", false
	}
	base := strings.Split(ref.RelPath, "/")
	base = base[:len(base)-1]

	for _, seg := range strings.Split(importSpec, "/") {
		switch seg {
		case "", ".":
			// empty segments come from trailing or doubled slashes; skip
		case "..":
			if len(base) == 0 {
				return "", false
			}
			base = base[:len(base)-1]
		default:
			base = append(base, seg)
		}
	}
	relPath := strings.Join(base, "/")
	if !ValidRelPath(relPath) {
		return "", false
	}
	return Build(ref.BlueprintID, ref.Version, relPath), true
}

// NormalizeSharedRelPath canonicalizes @shared/... imports. The bare
// "shared/..." alias maps to the same @shared/... relPath.
func NormalizeSharedRelPath(s string) (string, bool) {
	var rest string
	switch {
	case strings.HasPrefix(s, SharedPrefix):
		rest = s[len(SharedPrefix):]
	case strings.HasPrefix(s, "shared/"):
		rest = s[len("shared/"):]
	default:
		return "", false
	}
	if rest == "" || !ValidRelPath(rest) {
		return "", false
	}
	return SharedPrefix + rest, true
}

// ValidRelPath reports whether p is an acceptable scriptFiles key: a
// POSIX-style relative path with no backslashes, no leading slash, and no
// ".", ".." or empty segments.
func ValidRelPath(p string) bool {
	if p == "" || strings.Contains(p, "\\") || strings.HasPrefix(p, "/") {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

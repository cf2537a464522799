// Package assets addresses immutable content by asset:// URL and stores it.
//
// An asset URL is asset://<hash>.<ext> where <hash> is the hex SHA-256 of the
// content and <ext> is the original extension lowercased. The URL is a pure
// function of the content, so re-importing a bundle rewrites URLs
// deterministically.
package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
)

const Scheme = "asset://"

var ErrNotFound = errors.New("asset not found")

// Hash returns the hex SHA-256 of content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// URL builds the asset URL for content with the given file name or extension.
func URL(content []byte, name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if ext == "" {
		ext = strings.ToLower(strings.TrimPrefix(name, "."))
	}
	return Scheme + Hash(content) + "." + ext
}

// ParseURL splits an asset URL into its hash and extension.
func ParseURL(u string) (hash, ext string, err error) {
	if !strings.HasPrefix(u, Scheme) {
		return "", "", fmt.Errorf("not an asset url: %q", u)
	}
	rest := u[len(Scheme):]
	dot := strings.LastIndex(rest, ".")
	if dot <= 0 || dot == len(rest)-1 {
		return "", "", fmt.Errorf("asset url missing suffix: %q", u)
	}
	hash = rest[:dot]
	ext = rest[dot+1:]
	if !isHex(hash) {
		return "", "", fmt.Errorf("asset url hash is not hex: %q", u)
	}
	return hash, ext, nil
}

// ValidURL reports whether u is a well-formed asset URL.
func ValidURL(u string) bool {
	_, _, err := ParseURL(u)
	return err == nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// Store persists assets by their content-addressed URL.
type Store interface {
	// Upload stores content under its computed asset URL and returns it.
	Upload(ctx context.Context, name string, content []byte) (string, error)
	// Fetch returns the content for an asset URL, or ErrNotFound.
	Fetch(ctx context.Context, url string) ([]byte, error)
}

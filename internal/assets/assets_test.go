package assets

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestURLIsContentAddressed(t *testing.T) {
	a := URL([]byte("hello"), "index.js")
	b := URL([]byte("hello"), "other.JS")
	if a != b {
		t.Fatalf("same content should hash to the same url: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "asset://") || !strings.HasSuffix(a, ".js") {
		t.Fatalf("unexpected url shape: %q", a)
	}
	c := URL([]byte("world"), "index.js")
	if a == c {
		t.Fatalf("different content must produce different urls")
	}
}

func TestParseURL(t *testing.T) {
	url := URL([]byte("hello"), "model.glb")
	hash, ext, err := ParseURL(url)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if hash != Hash([]byte("hello")) {
		t.Fatalf("hash mismatch: %q", hash)
	}
	if ext != "glb" {
		t.Fatalf("ext mismatch: %q", ext)
	}

	bad := []string{"", "asset://", "asset://abc", "asset://abc.", "asset://zzzz.js", "http://abc.js"}
	for _, u := range bad {
		if _, _, err := ParseURL(u); err == nil {
			t.Fatalf("expected parse to reject %q", u)
		}
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	url, err := store.Upload(ctx, "index.js", []byte("export default () => {}"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	got, err := store.Fetch(ctx, url)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(got) != "export default () => {}" {
		t.Fatalf("unexpected content: %q", got)
	}

	if _, err := store.Fetch(ctx, "asset://"+Hash([]byte("missing"))+".js"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

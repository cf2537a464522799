package blueprint

import (
	"os"
	"path/filepath"
	"testing"

	"veldt/internal/assets"
)

func scriptURL(content string) string {
	return assets.URL([]byte(content), "index.js")
}

func validBlueprint(id string) *Blueprint {
	return &Blueprint{
		ID:      id,
		Version: 1,
		ScriptFiles: map[string]string{
			"index.js": scriptURL("export default () => {}"),
		},
		ScriptEntry:  "index.js",
		ScriptFormat: FormatModule,
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(validBlueprint("tree")); err != nil {
		t.Fatalf("valid blueprint rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Blueprint)
	}{
		{"empty id", func(b *Blueprint) { b.ID = "" }},
		{"scene id", func(b *Blueprint) { b.ID = SceneID }},
		{"bad relPath", func(b *Blueprint) { b.ScriptFiles["../evil.js"] = b.ScriptFiles["index.js"] }},
		{"bad asset url", func(b *Blueprint) { b.ScriptFiles["index.js"] = "http://x.js" }},
		{"missing entry", func(b *Blueprint) { b.ScriptEntry = "other.js" }},
		{"empty entry", func(b *Blueprint) { b.ScriptEntry = "" }},
		{"unknown format", func(b *Blueprint) { b.ScriptFormat = "wasm" }},
	}
	for _, c := range cases {
		b := validBlueprint("tree")
		c.mutate(b)
		if err := Validate(b); err == nil {
			t.Fatalf("%s: expected validation error", c.name)
		}
	}
}

func TestFormatDefaultsToLegacyBody(t *testing.T) {
	b := &Blueprint{ID: "x"}
	if b.Format() != FormatLegacyBody {
		t.Fatalf("absent format should mean legacy-body, got %q", b.Format())
	}
}

func TestScriptRefBlanksScriptFields(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "blueprints.json"))

	b := validBlueprint("chair")
	b.ScriptRef = "Root"
	if err := store.Add(b); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := store.Get("chair")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ScriptRef != "Root" {
		t.Fatalf("scriptRef lost: %q", got.ScriptRef)
	}
	if got.ScriptFiles != nil || got.ScriptEntry != "" || got.ScriptFormat != "" {
		t.Fatalf("script fields must be blanked under scriptRef: %+v", got)
	}

	// Re-introducing the fields through Modify must not stick either.
	mod, err := store.Modify("chair", func(b *Blueprint) {
		b.ScriptFiles = map[string]string{"index.js": scriptURL("x")}
		b.ScriptEntry = "index.js"
		b.ScriptFormat = FormatModule
	})
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if mod.ScriptFiles != nil || mod.ScriptEntry != "" || mod.ScriptFormat != "" {
		t.Fatalf("modify re-introduced script fields: %+v", mod)
	}
	if mod.Version != 2 {
		t.Fatalf("modify must bump version, got %d", mod.Version)
	}
}

func TestStoreFilePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blueprints.json")

	store := New(path)
	if err := store.Add(validBlueprint("tree")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.Add(validBlueprint("tree")); err != ErrExists {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	reopened := New(path)
	got, err := reopened.Get("tree")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.ScriptEntry != "index.js" {
		t.Fatalf("unexpected record after reopen: %+v", got)
	}

	if err := reopened.Remove("tree"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := reopened.Get("tree"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestStorePersistFailureLeavesNoPhantom(t *testing.T) {
	// the registry path's parent is a regular file, so every save fails
	blocker := filepath.Join(t.TempDir(), "reg")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	store := New(filepath.Join(blocker, "blueprints.json"))

	if err := store.Add(validBlueprint("tree")); err == nil {
		t.Fatal("add succeeded with an unwritable registry")
	}
	if store.Lookup("tree") != nil {
		t.Fatal("failed add left a phantom record")
	}

	// a failed modify keeps the previous record intact
	good := New(filepath.Join(t.TempDir(), "blueprints.json"))
	if err := good.Add(validBlueprint("tree")); err != nil {
		t.Fatalf("add: %v", err)
	}
	good.path = filepath.Join(blocker, "blueprints.json")
	if _, err := good.Modify("tree", func(b *Blueprint) { b.Name = "oak" }); err == nil {
		t.Fatal("modify succeeded with an unwritable registry")
	}
	got, err := good.Get("tree")
	if err != nil {
		t.Fatalf("get after failed modify: %v", err)
	}
	if got.Name != "" || got.Version != 1 {
		t.Fatalf("record after failed modify = %+v, want the original", got)
	}

	if err := good.Remove("tree"); err == nil {
		t.Fatal("remove succeeded with an unwritable registry")
	}
	if good.Lookup("tree") == nil {
		t.Fatal("failed remove dropped the record anyway")
	}
}

func TestResolveScriptRoot(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "blueprints.json"))
	root := validBlueprint("Root")
	if err := store.Add(root); err != nil {
		t.Fatalf("add root: %v", err)
	}
	base := validBlueprint("tower")
	if err := store.Add(base); err != nil {
		t.Fatalf("add base: %v", err)
	}

	// Own script wins.
	got, err := ResolveScriptRoot(root, store.Lookup)
	if err != nil || got.ID != "Root" {
		t.Fatalf("own script: got %v err %v", got, err)
	}

	// scriptRef target.
	ref := &Blueprint{ID: "chair", Version: 1, ScriptRef: "Root"}
	got, err = ResolveScriptRoot(ref, store.Lookup)
	if err != nil || got.ID != "Root" {
		t.Fatalf("scriptRef: got %v err %v", got, err)
	}

	// "__" suffix stripping.
	derived := &Blueprint{ID: "tower__3", Version: 1}
	got, err = ResolveScriptRoot(derived, store.Lookup)
	if err != nil || got.ID != "tower" {
		t.Fatalf("suffix base: got %v err %v", got, err)
	}

	// Nothing resolvable.
	if _, err := ResolveScriptRoot(&Blueprint{ID: "empty", Version: 1}, store.Lookup); err == nil {
		t.Fatalf("expected resolution failure")
	}
}

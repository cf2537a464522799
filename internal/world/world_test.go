package world

import (
	"context"
	"errors"
	"strings"
	"testing"

	"veldt/internal/assets"
	"veldt/internal/blueprint"
	"veldt/internal/deploylock"
)

func TestEntitiesRegistry(t *testing.T) {
	reg := NewEntities()

	ent, err := reg.Add(&Entity{BlueprintID: "crate"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if ent.ID == "" {
		t.Fatal("no id allocated")
	}
	if _, err := reg.Add(&Entity{ID: ent.ID, BlueprintID: "crate"}); err == nil {
		t.Fatal("duplicate id accepted")
	}
	if _, err := reg.Add(&Entity{}); err == nil {
		t.Fatal("entity without blueprint accepted")
	}

	if !reg.SetScriptError(ent.ID, map[string]any{"message": "boom"}) {
		t.Fatal("SetScriptError on live entity failed")
	}
	got, ok := reg.Get(ent.ID)
	if !ok || got.ScriptError == nil {
		t.Fatalf("entity = %+v, want scriptError set", got)
	}

	// snapshots are copies
	got.ScriptError = nil
	again, _ := reg.Get(ent.ID)
	if again.ScriptError == nil {
		t.Fatal("mutating a snapshot leaked into the registry")
	}

	reg.Remove(ent.ID)
	if _, ok := reg.Get(ent.ID); ok {
		t.Fatal("entity survived removal")
	}
	reg.Remove(ent.ID)
}

func TestSanitizeID(t *testing.T) {
	cases := map[string]string{
		"My Cool App":    "my-cool-app",
		"  spaces  ":     "spaces",
		"Crate_2":        "crate_2",
		"!!!":            "",
		"a b":            "a-b",
		"Ünïcode Name":   "n-code-name",
		"already-clean":  "already-clean",
	}
	for in, want := range cases {
		if got := sanitizeID(in); got != want {
			t.Fatalf("sanitizeID(%q) = %q, want %q", in, got, want)
		}
	}
}

func newDrafts(t *testing.T, store assets.Store) (*Drafts, *blueprint.Store, *Entities, *deploylock.Manager, *[]Packet) {
	t.Helper()
	blueprints := blueprint.New(t.TempDir() + "/blueprints.json")
	entities := NewEntities()
	locks := deploylock.New(0)
	var sent []Packet
	drafts := NewDrafts(blueprints, store, entities, locks, func(p Packet) { sent = append(sent, p) }, nil)
	return drafts, blueprints, entities, locks, &sent
}

func TestDraftCreate(t *testing.T) {
	drafts, blueprints, entities, locks, sent := newDrafts(t, assets.NewMemoryStore())

	result, err := drafts.Create(context.Background(), "My Cool App", "alice", Transform{}, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	bp := result.Blueprint
	if bp.ID != "my-cool-app" || bp.ScriptEntry != "index.js" || bp.ScriptFormat != blueprint.FormatModule {
		t.Fatalf("blueprint = %+v", bp)
	}
	if bp.Model != placeholderModel {
		t.Fatalf("model = %q", bp.Model)
	}
	if !strings.HasPrefix(bp.ScriptFiles["index.js"], assets.Scheme) {
		t.Fatalf("script url = %q", bp.ScriptFiles["index.js"])
	}
	if blueprints.Lookup(bp.ID) == nil {
		t.Fatal("blueprint not registered")
	}
	if _, ok := entities.Get(result.Entity.ID); !ok {
		t.Fatal("entity not registered")
	}
	if len(*sent) != 2 || (*sent)[0].Type != PacketBlueprintAdded || (*sent)[1].Type != PacketEntityAdded {
		t.Fatalf("broadcasts = %+v", *sent)
	}
	// the deploy lock must be released on success
	if _, ok := locks.Holder(bp.ID); ok {
		t.Fatal("deploy lock still held")
	}
}

func TestDraftCreateUniqueSuffix(t *testing.T) {
	drafts, _, _, _, _ := newDrafts(t, assets.NewMemoryStore())

	first, err := drafts.Create(context.Background(), "crate", "alice", Transform{}, true)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := drafts.Create(context.Background(), "crate", "alice", Transform{}, true)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.Blueprint.ID != "crate" || second.Blueprint.ID != "crate_2" {
		t.Fatalf("ids = %q, %q", first.Blueprint.ID, second.Blueprint.ID)
	}
}

func TestDraftCreateRequiresBuild(t *testing.T) {
	drafts, _, _, _, _ := newDrafts(t, assets.NewMemoryStore())
	if _, err := drafts.Create(context.Background(), "crate", "alice", Transform{}, false); err == nil {
		t.Fatal("create without build capability succeeded")
	}
}

func TestDraftCreateRespectsLock(t *testing.T) {
	drafts, _, _, locks, _ := newDrafts(t, assets.NewMemoryStore())
	if _, err := locks.Acquire("crate", "bob"); err != nil {
		t.Fatalf("pre-lock: %v", err)
	}
	_, err := drafts.Create(context.Background(), "crate", "alice", Transform{}, true)
	var locked *deploylock.ErrLocked
	if !errors.As(err, &locked) || locked.Holder != "bob" {
		t.Fatalf("err = %v, want ErrLocked by bob", err)
	}
}

// failingStore breaks Upload to exercise rollback.
type failingStore struct{ assets.Store }

func (failingStore) Upload(context.Context, string, []byte) (string, error) {
	return "", errors.New("upload broken")
}

func TestDraftCreateRollsBackOnUploadFailure(t *testing.T) {
	drafts, blueprints, entities, locks, sent := newDrafts(t, failingStore{assets.NewMemoryStore()})

	_, err := drafts.Create(context.Background(), "crate", "alice", Transform{}, true)
	if err == nil {
		t.Fatal("create with broken upload succeeded")
	}
	if blueprints.Lookup("crate") != nil {
		t.Fatal("blueprint residue after failure")
	}
	if len(entities.List()) != 0 {
		t.Fatal("entity residue after failure")
	}
	if len(*sent) != 0 {
		t.Fatalf("broadcast residue after failure: %+v", *sent)
	}
	if _, ok := locks.Holder("crate"); ok {
		t.Fatal("deploy lock still held after failure")
	}
}

func TestLongNamesStayUnderCeiling(t *testing.T) {
	drafts, _, _, _, _ := newDrafts(t, assets.NewMemoryStore())
	name := strings.Repeat("a", 200)

	first, err := drafts.Create(context.Background(), name, "alice", Transform{}, true)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := drafts.Create(context.Background(), name, "alice", Transform{}, true)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	for _, id := range []string{first.Blueprint.ID, second.Blueprint.ID} {
		if len(id) > maxBlueprintIDLen {
			t.Fatalf("id %q exceeds %d chars", id, maxBlueprintIDLen)
		}
	}
	if first.Blueprint.ID == second.Blueprint.ID {
		t.Fatal("long-name ids collided")
	}
}

func TestSceneIDNeverAllocated(t *testing.T) {
	drafts, _, _, _, _ := newDrafts(t, assets.NewMemoryStore())
	result, err := drafts.Create(context.Background(), blueprint.SceneID, "alice", Transform{}, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if result.Blueprint.ID == blueprint.SceneID {
		t.Fatal("allocated the reserved scene id")
	}
}

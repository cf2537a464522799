// Package blueprint models the content-addressed description of a scripted
// world object kind and the authoritative store that owns those records.
package blueprint

import (
	"encoding/json"
	"fmt"
	"strings"

	"veldt/internal/assets"
	"veldt/internal/modspec"
)

// Script formats accepted by the runtime. An absent format means legacy-body.
const (
	FormatModule     = "module"
	FormatLegacyBody = "legacy-body"
)

// SceneID is reserved for the world scene and can never name a blueprint
// created through the normal channels.
const SceneID = "$scene"

// Blueprint is one immutable version of a world object kind. Any field
// change bumps Version; apps reference a blueprint by id and load whatever
// version the world currently holds.
type Blueprint struct {
	ID       string `json:"id"`
	Version  int    `json:"version"`
	Name     string `json:"name,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Model    string `json:"model,omitempty"`
	Image    string `json:"image,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
	Frozen   bool   `json:"frozen,omitempty"`
	Unique   bool   `json:"unique,omitempty"`

	Props json.RawMessage `json:"props,omitempty"`

	// ScriptFiles maps relPath to an asset URL. ScriptEntry names the file
	// whose default export is the per-app execution function.
	ScriptFiles  map[string]string `json:"scriptFiles,omitempty"`
	ScriptEntry  string            `json:"scriptEntry,omitempty"`
	ScriptFormat string            `json:"scriptFormat,omitempty"`

	// ScriptRef borrows scripts from another blueprint (the "script root").
	// When set, this blueprint's own script fields are blanked at persist
	// time so the two can never drift apart.
	ScriptRef string `json:"scriptRef,omitempty"`
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate the authoritative record.
func (b *Blueprint) Clone() *Blueprint {
	if b == nil {
		return nil
	}
	cp := *b
	if b.ScriptFiles != nil {
		cp.ScriptFiles = make(map[string]string, len(b.ScriptFiles))
		for k, v := range b.ScriptFiles {
			cp.ScriptFiles[k] = v
		}
	}
	if b.Props != nil {
		cp.Props = append(json.RawMessage(nil), b.Props...)
	}
	return &cp
}

// HasScript reports whether the blueprint carries its own script files.
func (b *Blueprint) HasScript() bool {
	return b != nil && len(b.ScriptFiles) > 0 && strings.TrimSpace(b.ScriptEntry) != ""
}

// Format returns the effective script format; absent means legacy-body.
func (b *Blueprint) Format() string {
	if b == nil || strings.TrimSpace(b.ScriptFormat) == "" {
		return FormatLegacyBody
	}
	return b.ScriptFormat
}

// Validate checks the invariants of the script surface: every relPath is a
// valid POSIX relative path, every asset URL is well formed, the entry is
// one of the files, and the format is a known one.
func Validate(b *Blueprint) error {
	if b == nil {
		return fmt.Errorf("blueprint is nil")
	}
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("blueprint id is required")
	}
	if b.ID == SceneID {
		return fmt.Errorf("blueprint id %q is reserved", SceneID)
	}
	for relPath, url := range b.ScriptFiles {
		if !modspec.ValidRelPath(relPath) {
			return fmt.Errorf("invalid script path %q", relPath)
		}
		if !assets.ValidURL(url) {
			return fmt.Errorf("invalid asset url %q for %q", url, relPath)
		}
	}
	if len(b.ScriptFiles) > 0 {
		entry := strings.TrimSpace(b.ScriptEntry)
		if entry == "" {
			return fmt.Errorf("module_script_entry_missing")
		}
		if _, ok := b.ScriptFiles[entry]; !ok {
			return fmt.Errorf("module_script_entry_missing")
		}
	}
	switch b.Format() {
	case FormatModule, FormatLegacyBody:
	default:
		return fmt.Errorf("invalid_script_format:%s", b.ScriptFormat)
	}
	return nil
}

// ResolveScriptRoot finds the blueprint whose scriptFiles back the given
// blueprint: itself when it carries scripts, the scriptRef target when set,
// or a base blueprint derived by stripping a "__" suffix from the id.
func ResolveScriptRoot(b *Blueprint, lookup func(id string) *Blueprint) (*Blueprint, error) {
	if b == nil {
		return nil, fmt.Errorf("blueprint is nil")
	}
	if b.HasScript() {
		return b, nil
	}
	if ref := strings.TrimSpace(b.ScriptRef); ref != "" {
		root := lookup(ref)
		if root == nil {
			return nil, fmt.Errorf("script root %q not found", ref)
		}
		return root, nil
	}
	if i := strings.Index(b.ID, "__"); i > 0 {
		root := lookup(b.ID[:i])
		if root != nil && root.HasScript() {
			return root, nil
		}
	}
	return nil, fmt.Errorf("blueprint %q has no script root", b.ID)
}

// normalize trims identity fields and enforces the scriptRef persistence
// invariant: a referencing blueprint never stores its own script fields.
func normalize(b Blueprint) Blueprint {
	b.ID = strings.TrimSpace(b.ID)
	b.Name = strings.TrimSpace(b.Name)
	b.ScriptRef = strings.TrimSpace(b.ScriptRef)
	if b.ScriptRef != "" {
		b.ScriptFiles = nil
		b.ScriptEntry = ""
		b.ScriptFormat = ""
	}
	if b.Version < 1 {
		b.Version = 1
	}
	return b
}

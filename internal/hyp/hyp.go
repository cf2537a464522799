// Package hyp reads and writes .hyp app bundles: a 4-byte little-endian
// header length, a UTF-8 JSON header describing the blueprint and its
// assets, then the asset bytes concatenated in header order.
package hyp

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"path"
	"sort"
	"strings"

	"veldt/internal/assets"
	"veldt/internal/blueprint"
)

// maxHeaderSize guards against absurd length prefixes on import.
const maxHeaderSize = 16 << 20

// AssetInfo describes one asset in the header, in payload order.
type AssetInfo struct {
	URL  string `json:"url"`
	Mime string `json:"mime,omitempty"`
	Size int64  `json:"size"`
}

// Header is the JSON block at the front of a bundle.
type Header struct {
	Blueprint *blueprint.Blueprint `json:"blueprint"`
	Assets    []AssetInfo          `json:"assets"`
}

// Bundle is a decoded .hyp: the header plus each asset's bytes, parallel to
// Header.Assets.
type Bundle struct {
	Header Header
	Data   [][]byte
}

// Export collects a blueprint and every asset it references into a bundle.
// A scriptRef is resolved through lookup first so the export carries the
// root's script fields inline.
func Export(ctx context.Context, bp *blueprint.Blueprint, store assets.Store, lookup func(id string) *blueprint.Blueprint) (*Bundle, error) {
	if bp == nil {
		return nil, fmt.Errorf("hyp export: blueprint is nil")
	}
	bp = bp.Clone()
	if bp.ScriptRef != "" {
		root, err := blueprint.ResolveScriptRoot(bp, lookup)
		if err != nil {
			return nil, fmt.Errorf("hyp export: %w", err)
		}
		bp.ScriptFiles = map[string]string{}
		for relPath, url := range root.ScriptFiles {
			bp.ScriptFiles[relPath] = url
		}
		bp.ScriptEntry = root.ScriptEntry
		bp.ScriptFormat = root.ScriptFormat
		bp.ScriptRef = ""
	}

	bundle := &Bundle{Header: Header{Blueprint: bp}}
	seen := map[string]bool{}
	add := func(url string) error {
		if !assets.ValidURL(url) || seen[url] {
			return nil
		}
		content, err := store.Fetch(ctx, url)
		if err != nil {
			return fmt.Errorf("hyp export: fetch %s: %w", url, err)
		}
		seen[url] = true
		bundle.Header.Assets = append(bundle.Header.Assets, AssetInfo{
			URL:  url,
			Mime: mimeFor(url),
			Size: int64(len(content)),
		})
		bundle.Data = append(bundle.Data, content)
		return nil
	}

	if err := add(bp.Model); err != nil {
		return nil, err
	}
	if err := add(bp.Image); err != nil {
		return nil, err
	}
	// stable asset order: scriptFiles sorted by relPath
	for _, relPath := range sortedKeys(bp.ScriptFiles) {
		if err := add(bp.ScriptFiles[relPath]); err != nil {
			return nil, err
		}
	}
	return bundle, nil
}

// Write serializes the bundle to w.
func Write(w io.Writer, bundle *Bundle) error {
	if len(bundle.Header.Assets) != len(bundle.Data) {
		return fmt.Errorf("hyp write: %d assets in header, %d payloads", len(bundle.Header.Assets), len(bundle.Data))
	}
	header, err := json.Marshal(bundle.Header)
	if err != nil {
		return fmt.Errorf("hyp write: %w", err)
	}
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(header)))
	if _, err := w.Write(size[:]); err != nil {
		return err
	}
	if _, err := w.Write(header); err != nil {
		return err
	}
	for i, data := range bundle.Data {
		if int64(len(data)) != bundle.Header.Assets[i].Size {
			return fmt.Errorf("hyp write: asset %s size mismatch", bundle.Header.Assets[i].URL)
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// Read parses a bundle from r.
func Read(r io.Reader) (*Bundle, error) {
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return nil, fmt.Errorf("hyp read: header size: %w", err)
	}
	n := binary.LittleEndian.Uint32(size[:])
	if n == 0 || n > maxHeaderSize {
		return nil, fmt.Errorf("hyp read: header size %d out of range", n)
	}
	header := make([]byte, n)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("hyp read: header: %w", err)
	}

	bundle := &Bundle{}
	if err := json.Unmarshal(header, &bundle.Header); err != nil {
		return nil, fmt.Errorf("hyp read: header: %w", err)
	}
	if bundle.Header.Blueprint == nil {
		return nil, fmt.Errorf("hyp read: header has no blueprint")
	}
	for _, info := range bundle.Header.Assets {
		if info.Size < 0 {
			return nil, fmt.Errorf("hyp read: asset %s has negative size", info.URL)
		}
		data := make([]byte, info.Size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("hyp read: asset %s: %w", info.URL, err)
		}
		bundle.Data = append(bundle.Data, data)
	}
	return bundle, nil
}

// Import uploads a bundle's assets and returns its blueprint with every
// asset URL rewritten to the re-hashed content address. scriptRef never
// survives an import; the bundle's script fields are authoritative.
func Import(ctx context.Context, bundle *Bundle, store assets.Store) (*blueprint.Blueprint, error) {
	if len(bundle.Header.Assets) != len(bundle.Data) {
		return nil, fmt.Errorf("hyp import: %d assets in header, %d payloads", len(bundle.Header.Assets), len(bundle.Data))
	}
	rewrite := map[string]string{}
	for i, info := range bundle.Header.Assets {
		name := path.Base(strings.TrimPrefix(info.URL, assets.Scheme))
		url, err := store.Upload(ctx, name, bundle.Data[i])
		if err != nil {
			return nil, fmt.Errorf("hyp import: upload %s: %w", info.URL, err)
		}
		rewrite[info.URL] = url
	}

	bp := bundle.Header.Blueprint.Clone()
	bp.ScriptRef = ""
	if v, ok := rewrite[bp.Model]; ok {
		bp.Model = v
	}
	if v, ok := rewrite[bp.Image]; ok {
		bp.Image = v
	}
	for relPath, url := range bp.ScriptFiles {
		if v, ok := rewrite[url]; ok {
			bp.ScriptFiles[relPath] = v
		}
	}
	if err := blueprint.Validate(bp); err != nil {
		return nil, fmt.Errorf("hyp import: %w", err)
	}
	return bp, nil
}

func mimeFor(url string) string {
	if t := mime.TypeByExtension(path.Ext(url)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

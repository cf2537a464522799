package app

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"veldt/internal/assets"
	"veldt/internal/blueprint"
	"veldt/internal/deploylock"
	"veldt/internal/hyp"
	"veldt/internal/server"
	"veldt/internal/world"
)

func newMux(
	hub *world.Hub,
	drafts *world.Drafts,
	blueprints *blueprint.Store,
	store assets.Store,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", hub.HandleWorldWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/blueprints/", handleBlueprintExport(blueprints, store))
	mux.HandleFunc("/api/import", handleBundleImport(hub, blueprints, store))
	mux.HandleFunc("/api/drafts", handleDraftCreate(drafts))
	mux.HandleFunc("/assets/", handleAssetFetch(store))

	return server.CORS(mux)
}

// handleBlueprintExport serves GET /api/blueprints/<id>/export as a .hyp
// bundle stream.
func handleBlueprintExport(blueprints *blueprint.Store, store assets.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/api/blueprints/")
		id, op, ok := strings.Cut(rest, "/")
		if !ok || op != "export" || id == "" {
			httpError(w, http.StatusNotFound, "not found")
			return
		}
		bp := blueprints.Lookup(id)
		if bp == nil {
			httpError(w, http.StatusNotFound, "unknown blueprint: "+id)
			return
		}
		bundle, err := hyp.Export(r.Context(), bp, store, blueprints.Lookup)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.hyp"`)
		if err := hyp.Write(w, bundle); err != nil {
			log.Printf("export %s: write bundle: %v", id, err)
		}
	}
}

// handleBundleImport accepts POST /api/import with a .hyp body, re-uploads
// its assets, installs the blueprint, and announces it on the world channel.
func handleBundleImport(hub *world.Hub, blueprints *blueprint.Store, store assets.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		bundle, err := hyp.Read(http.MaxBytesReader(w, r.Body, 256<<20))
		if err != nil {
			httpError(w, http.StatusBadRequest, err.Error())
			return
		}
		bp, err := hyp.Import(r.Context(), bundle, store)
		if err != nil {
			httpError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := blueprints.Add(bp); err != nil {
			httpError(w, http.StatusConflict, err.Error())
			return
		}
		installed := blueprints.Lookup(bp.ID)
		hub.Broadcast(world.NewPacket(world.PacketBlueprintAdded, installed))
		writeJSON(w, http.StatusCreated, installed)
	}
}

func handleDraftCreate(drafts *world.Drafts) http.HandlerFunc {
	type draftRequest struct {
		Name      string          `json:"name"`
		Holder    string          `json:"holder"`
		Transform world.Transform `json:"transform"`
		CanBuild  bool            `json:"canBuild"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req draftRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, err.Error())
			return
		}
		result, err := drafts.Create(r.Context(), req.Name, req.Holder, req.Transform, req.CanBuild)
		if err != nil {
			status := http.StatusInternalServerError
			var locked *deploylock.ErrLocked
			if errors.As(err, &locked) {
				status = http.StatusConflict
			}
			httpError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, struct {
			Blueprint *blueprint.Blueprint `json:"blueprint"`
			Entity    *world.Entity        `json:"entity"`
		}{result.Blueprint, result.Entity})
	}
}

// handleAssetFetch serves GET /assets/<hash>.<ext> from the asset store.
func handleAssetFetch(store assets.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		name := strings.TrimPrefix(r.URL.Path, "/assets/")
		url := assets.Scheme + name
		if !assets.ValidURL(url) {
			httpError(w, http.StatusBadRequest, "invalid asset url")
			return
		}
		content, err := store.Fetch(r.Context(), url)
		if err != nil {
			if errors.Is(err, assets.ErrNotFound) {
				httpError(w, http.StatusNotFound, "asset not found")
				return
			}
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// content-addressed, so cacheable forever
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Write(content)
	}
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json response: %v", err)
	}
}

// Package world holds the server-side world state surface: live app
// entities, the world websocket channel, and the draft blueprint
// orchestrator.
package world

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Transform is an entity's placement.
type Transform struct {
	Position   [3]float64 `json:"position"`
	Quaternion [4]float64 `json:"quaternion"`
	Scale      [3]float64 `json:"scale,omitempty"`
}

// Entity is one live app instance of a blueprint.
type Entity struct {
	ID          string    `json:"id"`
	BlueprintID string    `json:"blueprint"`
	Owner       string    `json:"owner,omitempty"`
	Transform   Transform `json:"transform"`

	// ScriptError records the last uncontained throw from this app's
	// script; the AI fix flow reads it back.
	ScriptError any `json:"scriptError,omitempty"`
}

// Entities is the registry of live apps.
type Entities struct {
	mu   sync.RWMutex
	byID map[string]*Entity
}

func NewEntities() *Entities {
	return &Entities{byID: map[string]*Entity{}}
}

// Add registers an entity, allocating an id when absent.
func (e *Entities) Add(ent *Entity) (*Entity, error) {
	if ent == nil || ent.BlueprintID == "" {
		return nil, fmt.Errorf("entity needs a blueprint id")
	}
	cp := *ent
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byID[cp.ID]; ok {
		return nil, fmt.Errorf("entity %q already exists", cp.ID)
	}
	e.byID[cp.ID] = &cp
	return snapshot(&cp), nil
}

// Remove drops an entity; removing an unknown id is a no-op.
func (e *Entities) Remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.byID, id)
}

func (e *Entities) Get(id string) (*Entity, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.byID[id]
	if !ok {
		return nil, false
	}
	return snapshot(ent), true
}

func (e *Entities) List() []*Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Entity, 0, len(e.byID))
	for _, ent := range e.byID {
		out = append(out, snapshot(ent))
	}
	return out
}

// SetScriptError attaches (or clears, with nil) an app's last script error.
func (e *Entities) SetScriptError(id string, scriptErr any) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.byID[id]
	if !ok {
		return false
	}
	ent.ScriptError = scriptErr
	return true
}

func snapshot(ent *Entity) *Entity {
	cp := *ent
	return &cp
}

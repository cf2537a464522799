package world

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"veldt/internal/assets"
	"veldt/internal/blueprint"
	"veldt/internal/deploylock"
)

// maxBlueprintIDLen caps generated blueprint ids.
const maxBlueprintIDLen = 80

// placeholderScript is the seed script for draft apps; the AI pipeline
// edits it from here.
const placeholderScript = `export default (world, app, fetch, props, setTimeout) => {
  app.on('update', (delta) => {
    // draft app: ask the AI to build something here
  })
}
`

const placeholderModel = "asset://empty.glb"

// Drafts creates new blueprint + app pairs with a safe placeholder script.
type Drafts struct {
	blueprints *blueprint.Store
	assets     assets.Store
	entities   *Entities
	locks      *deploylock.Manager
	broadcast  func(Packet)
	log        *log.Logger
}

func NewDrafts(blueprints *blueprint.Store, store assets.Store, entities *Entities, locks *deploylock.Manager, broadcast func(Packet), logger *log.Logger) *Drafts {
	if broadcast == nil {
		broadcast = func(Packet) {}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Drafts{
		blueprints: blueprints,
		assets:     store,
		entities:   entities,
		locks:      locks,
		broadcast:  broadcast,
		log:        logger,
	}
}

// DraftResult is the created pair.
type DraftResult struct {
	Blueprint *blueprint.Blueprint
	Entity    *Entity
}

// Create builds a draft blueprint named after name and spawns its app at the
// given transform. The flow is atomic-looking: any failure rolls back in
// reverse order, and the deploy lock is always released.
func (d *Drafts) Create(ctx context.Context, name, holder string, at Transform, canBuild bool) (result *DraftResult, err error) {
	if !canBuild {
		return nil, fmt.Errorf("draft: build capability required")
	}

	id := d.allocateID(name)
	token, err := d.locks.Acquire(id, holder)
	if err != nil {
		return nil, fmt.Errorf("draft: %w", err)
	}
	defer d.locks.Release(id, token)

	url, err := d.assets.Upload(ctx, "index.js", []byte(placeholderScript))
	if err != nil {
		return nil, fmt.Errorf("draft: upload placeholder: %w", err)
	}

	bp := &blueprint.Blueprint{
		ID:           id,
		Version:      1,
		Name:         name,
		Model:        placeholderModel,
		ScriptFiles:  map[string]string{"index.js": url},
		ScriptEntry:  "index.js",
		ScriptFormat: blueprint.FormatModule,
	}
	if err := d.blueprints.Add(bp); err != nil {
		return nil, fmt.Errorf("draft: add blueprint: %w", err)
	}
	defer func() {
		if err != nil {
			if rmErr := d.blueprints.Remove(id); rmErr != nil {
				d.log.Printf("draft rollback: remove blueprint %s: %v", id, rmErr)
			}
			d.broadcast(NewPacket(PacketBlueprintRemoved, blueprintRemoveRequest{ID: id}))
		}
	}()
	d.broadcast(NewPacket(PacketBlueprintAdded, d.blueprints.Lookup(id)))

	entity, err := d.entities.Add(&Entity{BlueprintID: id, Owner: holder, Transform: at})
	if err != nil {
		return nil, fmt.Errorf("draft: spawn entity: %w", err)
	}
	d.broadcast(NewPacket(PacketEntityAdded, entity))

	d.log.Printf("draft created: blueprint %s entity %s", id, entity.ID)
	return &DraftResult{Blueprint: d.blueprints.Lookup(id), Entity: entity}, nil
}

// allocateID derives a unique blueprint id from the requested name: a
// sanitized base, then _2, _3, ... suffixes under the length ceiling, then a
// UUID as the last resort.
func (d *Drafts) allocateID(name string) string {
	base := sanitizeID(name)
	if base == "" || base == blueprint.SceneID {
		base = "app"
	}
	if len(base) > maxBlueprintIDLen {
		base = base[:maxBlueprintIDLen]
	}
	if d.blueprints.Lookup(base) == nil {
		return base
	}
	for n := 2; n < 1000; n++ {
		suffix := "_" + strconv.Itoa(n)
		candidate := base
		if len(candidate)+len(suffix) > maxBlueprintIDLen {
			candidate = candidate[:maxBlueprintIDLen-len(suffix)]
		}
		candidate += suffix
		if d.blueprints.Lookup(candidate) == nil {
			return candidate
		}
	}
	return uuid.NewString()
}

// sanitizeID keeps letters, digits, '-' and '_', mapping runs of anything
// else to single hyphens.
func sanitizeID(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

package world

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/dop251/goja"

	"veldt/internal/blueprint"
	"veldt/internal/script/runtime"
)

// Scripts drives the script runtime for live entities: loading blueprint
// module graphs, invoking each app's exec, and dispatching lifecycle events
// into the handlers scripts registered.
//
// All engine access is serialized on mu; scripts observe a single-threaded
// world.
type Scripts struct {
	rt         *runtime.Runtime
	blueprints *blueprint.Store
	entities   *Entities
	httpc      *http.Client
	log        *log.Logger

	mu     sync.Mutex
	loaded map[string]*runtime.Loaded // blueprint id -> evaluated graph
	apps   map[string]*appBinding     // entity id -> handlers
}

// appBinding holds one entity's registered lifecycle handlers.
type appBinding struct {
	entityID string
	loaded   *runtime.Loaded
	handlers map[string][]goja.Callable
}

func NewScripts(rt *runtime.Runtime, blueprints *blueprint.Store, entities *Entities, logger *log.Logger) *Scripts {
	if logger == nil {
		logger = log.Default()
	}
	return &Scripts{
		rt:         rt,
		blueprints: blueprints,
		entities:   entities,
		httpc:      &http.Client{Timeout: 10 * time.Second},
		log:        logger,
		loaded:     map[string]*runtime.Loaded{},
		apps:       map[string]*appBinding{},
	}
}

// Reload (re)loads a blueprint's module graph and re-runs every entity of
// that blueprint. Load failures record a scriptError on each affected
// entity; the blueprint itself stays installed.
func (s *Scripts) Reload(ctx context.Context, blueprintID string) error {
	bp := s.blueprints.Lookup(blueprintID)
	if bp == nil {
		return fmt.Errorf("blueprint %q not found", blueprintID)
	}
	root, err := blueprint.ResolveScriptRoot(bp, s.blueprints.Lookup)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loaded, err := s.rt.LoadBlueprint(ctx, root)
	if err != nil {
		s.markEntities(blueprintID, map[string]any{"message": err.Error()})
		delete(s.loaded, blueprintID)
		return err
	}
	s.loaded[blueprintID] = loaded

	var firstErr error
	for _, ent := range s.entities.List() {
		if ent.BlueprintID != blueprintID {
			continue
		}
		if err := s.runEntityLocked(loaded, ent); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Spawn runs the already-loaded blueprint script for one new entity.
func (s *Scripts) Spawn(ctx context.Context, ent *Entity) error {
	if ent == nil {
		return fmt.Errorf("entity is nil")
	}
	s.mu.Lock()
	if loaded, ok := s.loaded[ent.BlueprintID]; ok {
		defer s.mu.Unlock()
		return s.runEntityLocked(loaded, ent)
	}
	s.mu.Unlock()
	// first entity of this blueprint; Reload runs it along with the load
	return s.Reload(ctx, ent.BlueprintID)
}

// Despawn forgets an entity's handlers.
func (s *Scripts) Despawn(entityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.apps, entityID)
}

// Emit dispatches one lifecycle event to an entity's handlers. A handler
// throw is recorded as the entity's scriptError; remaining handlers still
// run.
func (s *Scripts) Emit(entityID, event string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(entityID, event, args...)
}

// Update emits the per-frame update event to every live app.
func (s *Scripts) Update(delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for entityID := range s.apps {
		s.emitLocked(entityID, "update", delta)
	}
}

func (s *Scripts) emitLocked(entityID, event string, args ...any) {
	binding, ok := s.apps[entityID]
	if !ok {
		return
	}
	vm := binding.loaded.VM()
	vals := make([]goja.Value, len(args))
	for i, a := range args {
		vals[i] = vm.ToValue(a)
	}
	pop := s.rt.PushApp(entityID)
	defer pop()
	for _, fn := range binding.handlers[event] {
		if _, err := fn(goja.Undefined(), vals...); err != nil {
			s.entities.SetScriptError(entityID, map[string]any{"message": err.Error(), "event": event})
			s.log.Printf("script error in %s handler for %s: %v", event, entityID, err)
		}
	}
}

// runEntityLocked invokes the blueprint's exec for one entity; callers hold
// mu.
func (s *Scripts) runEntityLocked(loaded *runtime.Loaded, ent *Entity) error {
	if !loaded.HasExec() {
		err := fmt.Errorf("%s: entry module has no default export", loaded.Specifier)
		s.entities.SetScriptError(ent.ID, map[string]any{"message": err.Error()})
		return err
	}

	binding := &appBinding{
		entityID: ent.ID,
		loaded:   loaded,
		handlers: map[string][]goja.Callable{},
	}
	vm := loaded.VM()

	worldObj := vm.NewObject()
	appObj := s.newAppObject(vm, binding, ent)
	props := s.propsValue(vm, ent)

	err := loaded.Invoke(ent.ID, worldObj, appObj, s.newFetch(vm), props, s.newSetTimeout(vm, ent.ID))
	if err != nil {
		s.entities.SetScriptError(ent.ID, map[string]any{"message": err.Error()})
		return err
	}
	s.entities.SetScriptError(ent.ID, nil)
	s.apps[ent.ID] = binding
	return nil
}

func (s *Scripts) newAppObject(vm *goja.Runtime, binding *appBinding, ent *Entity) *goja.Object {
	app := vm.NewObject()
	app.Set("id", ent.ID)
	app.Set("blueprint", ent.BlueprintID)
	app.Set("on", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			panic(vm.NewTypeError("app.on requires a function handler"))
		}
		binding.handlers[name] = append(binding.handlers[name], fn)
		return goja.Undefined()
	})
	app.Set("off", func(call goja.FunctionCall) goja.Value {
		delete(binding.handlers, call.Argument(0).String())
		return goja.Undefined()
	})
	app.Set("emit", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		for _, fn := range binding.handlers[name] {
			if _, err := fn(goja.Undefined(), call.Arguments[1:]...); err != nil {
				panic(vm.ToValue(err.Error()))
			}
		}
		return goja.Undefined()
	})
	return app
}

func (s *Scripts) propsValue(vm *goja.Runtime, ent *Entity) goja.Value {
	bp := s.blueprints.Lookup(ent.BlueprintID)
	if bp == nil || len(bp.Props) == 0 {
		return vm.NewObject()
	}
	var props any
	if err := json.Unmarshal(bp.Props, &props); err != nil {
		return vm.NewObject()
	}
	return vm.ToValue(props)
}

// newFetch exposes an HTTP fetch returning a promise. The request runs
// synchronously on the script thread, so the promise is settled before
// fetch returns; scripts awaiting it proceed immediately.
func (s *Scripts) newFetch(vm *goja.Runtime) goja.Value {
	return vm.ToValue(func(call goja.FunctionCall) goja.Value {
		url := call.Argument(0).String()
		promise, resolve, reject := vm.NewPromise()

		resp, err := s.httpc.Get(url)
		if err != nil {
			reject(vm.ToValue(err.Error()))
			return vm.ToValue(promise)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if err != nil {
			reject(vm.ToValue(err.Error()))
			return vm.ToValue(promise)
		}

		result := vm.NewObject()
		result.Set("status", resp.StatusCode)
		result.Set("ok", resp.StatusCode >= 200 && resp.StatusCode < 300)
		text := string(body)
		result.Set("text", func() goja.Value {
			p, res, _ := vm.NewPromise()
			res(vm.ToValue(text))
			return vm.ToValue(p)
		})
		result.Set("json", func() goja.Value {
			p, res, rej := vm.NewPromise()
			var decoded any
			if err := json.Unmarshal(body, &decoded); err != nil {
				rej(vm.ToValue(err.Error()))
			} else {
				res(vm.ToValue(decoded))
			}
			return vm.ToValue(p)
		})
		resolve(result)
		return vm.ToValue(promise)
	})
}

// newSetTimeout schedules a callback on the script thread after a delay.
// The callback runs under the owning app's context so its console output is
// attributed correctly.
func (s *Scripts) newSetTimeout(vm *goja.Runtime, entityID string) goja.Value {
	return vm.ToValue(func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("setTimeout requires a function"))
		}
		delay := call.Argument(1).ToInteger()
		if delay < 0 {
			delay = 0
		}
		time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, alive := s.apps[entityID]; !alive {
				return
			}
			pop := s.rt.PushApp(entityID)
			defer pop()
			if _, err := fn(goja.Undefined()); err != nil {
				s.entities.SetScriptError(entityID, map[string]any{"message": err.Error()})
				s.log.Printf("script error in timer for %s: %v", entityID, err)
			}
		})
		return goja.Undefined()
	})
}

// markEntities records a scriptError on every entity of a blueprint;
// callers hold mu.
func (s *Scripts) markEntities(blueprintID string, scriptErr any) {
	for _, ent := range s.entities.List() {
		if ent.BlueprintID == blueprintID {
			s.entities.SetScriptError(ent.ID, scriptErr)
		}
	}
}

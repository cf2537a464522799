// Package runtime hosts user scripts in sandboxed goja compartments.
//
// A Runtime owns the shared pieces: the compiled module source cache, the
// per-app log buffers, and the app-context stack that attributes console
// output. Each blueprint version loads into its own compartment so that
// bumping the version invalidates everything downstream for free.
package runtime

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"

	"veldt/internal/applog"
	"veldt/internal/assets"
	"veldt/internal/blueprint"
	"veldt/internal/modspec"
	"veldt/internal/script/compiler"
)

const sourceCacheSize = 512

// Options configure a Runtime. Assets is required; Logs defaults to a
// server-profile buffer when nil.
type Options struct {
	Assets assets.Store
	Logs   *applog.Buffer

	// HostConsole mirrors captured console output to the process log.
	HostConsole bool
}

type Runtime struct {
	mu      sync.Mutex
	assets  assets.Store
	logs    *applog.Buffer
	sources *lru.Cache[string, *compiler.ModuleSource]
	appCtx  []string
	hostOut bool
}

func New(opts Options) (*Runtime, error) {
	if opts.Assets == nil {
		return nil, fmt.Errorf("script runtime: asset store is required")
	}
	logs := opts.Logs
	if logs == nil {
		logs = applog.NewServer()
	}
	cache, err := lru.New[string, *compiler.ModuleSource](sourceCacheSize)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		assets:  opts.Assets,
		logs:    logs,
		sources: cache,
		hostOut: opts.HostConsole,
	}, nil
}

// Logs exposes the runtime's per-app log buffer.
func (r *Runtime) Logs() *applog.Buffer { return r.logs }

// PushApp enters an app context and returns the paired pop. Callers must
// invoke the pop on every exit path; defer is the usual shape.
func (r *Runtime) PushApp(appID string) func() {
	r.mu.Lock()
	r.appCtx = append(r.appCtx, appID)
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		if n := len(r.appCtx); n > 0 {
			r.appCtx = r.appCtx[:n-1]
		}
		r.mu.Unlock()
	}
}

func (r *Runtime) currentApp() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.appCtx); n > 0 {
		return r.appCtx[n-1]
	}
	return ""
}

// Loaded is one blueprint version's evaluated module graph inside its own
// compartment.
type Loaded struct {
	rt        *Runtime
	vm        *goja.Runtime
	Specifier string
	Namespace *goja.Object
	exec      goja.Callable
}

// VM returns the compartment's engine, for building argument values.
func (l *Loaded) VM() *goja.Runtime { return l.vm }

// HasExec reports whether the entry module exported a default function.
func (l *Loaded) HasExec() bool { return l.exec != nil }

// Invoke runs the entry module's default export under appID's context. Args
// are converted into the compartment; goja values pass through unchanged.
func (l *Loaded) Invoke(appID string, args ...any) error {
	if l.exec == nil {
		return fmt.Errorf("%s: entry module has no default export", l.Specifier)
	}
	vals := make([]goja.Value, len(args))
	for i, a := range args {
		if v, ok := a.(goja.Value); ok {
			vals[i] = v
		} else {
			vals[i] = l.vm.ToValue(a)
		}
	}
	pop := l.rt.PushApp(appID)
	defer pop()
	if _, err := l.exec(goja.Undefined(), vals...); err != nil {
		return err
	}
	return nil
}

// LoadBlueprint compiles and evaluates a blueprint's module graph in a fresh
// compartment and returns its entry namespace. The blueprint must carry its
// own script fields; resolve script refs with blueprint.ResolveScriptRoot
// first.
func (r *Runtime) LoadBlueprint(ctx context.Context, bp *blueprint.Blueprint) (*Loaded, error) {
	if bp == nil || !bp.HasScript() {
		return nil, fmt.Errorf("module_script_entry_missing")
	}
	if _, ok := bp.ScriptFiles[bp.ScriptEntry]; !ok {
		return nil, fmt.Errorf("module_script_entry_missing")
	}
	format := bp.Format()
	if format != blueprint.FormatModule && format != blueprint.FormatLegacyBody {
		return nil, fmt.Errorf("invalid_script_format:%s", format)
	}

	vm := goja.New()
	if err := r.installEndowments(vm); err != nil {
		return nil, err
	}

	ld := &loadState{
		rt:         r,
		ctx:        ctx,
		vm:         vm,
		bp:         bp,
		format:     format,
		namespaces: map[string]*goja.Object{},
	}
	entry := modspec.Build(bp.ID, bp.Version, bp.ScriptEntry)
	ns, err := ld.importModule(entry)
	if err != nil {
		return nil, err
	}

	loaded := &Loaded{rt: r, vm: vm, Specifier: entry, Namespace: ns}
	if def := ns.Get("default"); def != nil {
		if fn, ok := goja.AssertFunction(def); ok {
			loaded.exec = fn
		}
	}
	return loaded, nil
}

// loadState tracks one blueprint load: the target compartment and the
// namespaces already evaluated in it. Inserting the namespace before
// execution keeps accidental import cycles from recursing forever.
type loadState struct {
	rt         *Runtime
	ctx        context.Context
	vm         *goja.Runtime
	bp         *blueprint.Blueprint
	format     string
	namespaces map[string]*goja.Object
}

func (ld *loadState) importModule(spec string) (*goja.Object, error) {
	if ns, ok := ld.namespaces[spec]; ok {
		return ns, nil
	}
	ref, ok := modspec.Parse(spec)
	if !ok {
		return nil, fmt.Errorf("invalid_module_specifier:%s", spec)
	}
	src, err := ld.rt.moduleSource(ld.ctx, spec, ref, ld.bp, ld.format)
	if err != nil {
		return nil, err
	}

	// resolve every import eagerly so cross-app violations surface at load
	// time, before any user code runs
	resolved := make(map[string]string, len(src.Imports))
	for _, raw := range src.Imports {
		canonical, err := resolveImport(raw, spec, ld.bp)
		if err != nil {
			return nil, err
		}
		resolved[raw] = canonical
	}

	exports := ld.vm.NewObject()
	ld.namespaces[spec] = exports
	err = src.Execute(ld.vm, exports, resolved, func(canonical string) (goja.Value, error) {
		return ld.importModule(canonical)
	})
	if err != nil {
		delete(ld.namespaces, spec)
		return nil, err
	}
	return exports, nil
}

// moduleSource fetches, adapts and compiles one file, memoized by specifier.
func (r *Runtime) moduleSource(ctx context.Context, spec string, ref modspec.Ref, bp *blueprint.Blueprint, format string) (*compiler.ModuleSource, error) {
	if src, ok := r.sources.Get(spec); ok {
		return src, nil
	}
	url, ok := bp.ScriptFiles[ref.RelPath]
	if !ok {
		// some blueprints key shared files without the @; consult the bare
		// form before giving up
		if alt, aliased := strings.CutPrefix(ref.RelPath, "@shared/"); aliased {
			url, ok = bp.ScriptFiles["shared/"+alt]
		}
	}
	if !ok {
		return nil, fmt.Errorf("module_not_found:%s", spec)
	}
	raw, err := r.assets.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("module_not_found:%s: %w", spec, err)
	}
	text := string(raw)
	if ref.RelPath == bp.ScriptEntry && format == blueprint.FormatLegacyBody {
		text, err = compiler.WrapLegacyBody(text, spec)
		if err != nil {
			return nil, err
		}
	}
	src, err := compiler.Compile(text, spec)
	if err != nil {
		return nil, err
	}
	r.sources.Add(spec, src)
	return src, nil
}

// resolveImport maps a raw import specifier to its canonical form relative
// to the referrer. Only same-blueprint app:// specifiers, @shared/ paths
// (with the bare shared/ alias) and ./ ../ relatives are admitted.
func resolveImport(raw, referrer string, bp *blueprint.Blueprint) (string, error) {
	switch {
	case modspec.IsRelative(raw):
		canonical, ok := modspec.ResolveRelative(raw, referrer)
		if !ok {
			return "", fmt.Errorf("invalid_module_specifier:%s", raw)
		}
		return canonical, nil

	case len(raw) >= len(modspec.Scheme) && raw[:len(modspec.Scheme)] == modspec.Scheme:
		ref, ok := modspec.Parse(raw)
		if !ok {
			return "", fmt.Errorf("invalid_module_specifier:%s", raw)
		}
		if ref.BlueprintID != bp.ID || ref.Version != bp.Version {
			return "", fmt.Errorf("cross_app_import_not_allowed:%s", raw)
		}
		return modspec.Build(ref.BlueprintID, ref.Version, ref.RelPath), nil

	default:
		if relPath, ok := modspec.NormalizeSharedRelPath(raw); ok {
			return modspec.Build(bp.ID, bp.Version, relPath), nil
		}
		return "", fmt.Errorf("unsupported_import:%s", raw)
	}
}

func (r *Runtime) hostLog(level, msg string) {
	if !r.hostOut {
		return
	}
	log.Printf("[script:%s] %s", level, msg)
}

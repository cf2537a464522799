package compiler

import (
	"strings"
	"testing"

	"github.com/dop251/goja"
)

func runModule(t *testing.T, src, specifier string, resolved map[string]string, load func(string) (goja.Value, error)) *goja.Object {
	t.Helper()
	m, err := Compile(src, specifier)
	if err != nil {
		t.Fatalf("compile %s: %v", specifier, err)
	}
	vm := goja.New()
	exports := vm.NewObject()
	if load == nil {
		load = func(string) (goja.Value, error) { return nil, nil }
	}
	if err := m.Execute(vm, exports, resolved, load); err != nil {
		t.Fatalf("execute %s: %v", specifier, err)
	}
	return exports
}

func TestCompileNamedAndDefaultExports(t *testing.T) {
	src := `
const base = 2
export const twice = base * 2
export function add(a, b) { return a + b }
export default class Thing {}
export { base as origin }
`
	m, err := Compile(src, "app://bp@1/index.js")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	want := map[string]bool{"twice": true, "add": true, "default": true, "origin": true}
	if len(m.Exports) != len(want) {
		t.Fatalf("exports = %v, want %d names", m.Exports, len(want))
	}
	for _, name := range m.Exports {
		if !want[name] {
			t.Fatalf("unexpected export %q in %v", name, m.Exports)
		}
	}

	vm := goja.New()
	exports := vm.NewObject()
	if err := m.Execute(vm, exports, nil, func(string) (goja.Value, error) { return nil, nil }); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := exports.Get("twice").ToInteger(); got != 4 {
		t.Fatalf("twice = %d, want 4", got)
	}
	if got := exports.Get("origin").ToInteger(); got != 2 {
		t.Fatalf("origin = %d, want 2", got)
	}
}

func TestCompileImportForms(t *testing.T) {
	src := `
import def, { add as plus } from './math.js'
import * as ns from './math.js'
import './side.js'
export const total = plus(def, ns.add(1, 1))
`
	m, err := Compile(src, "app://bp@1/index.js")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(m.Imports) != 2 {
		t.Fatalf("imports = %v, want [./math.js ./side.js]", m.Imports)
	}

	vm := goja.New()
	sideRan := false
	load := func(canonical string) (goja.Value, error) {
		switch canonical {
		case "app://bp@1/math.js":
			ns := vm.NewObject()
			ns.Set("default", vm.ToValue(10))
			ns.Set("add", vm.ToValue(func(a, b int64) int64 { return a + b }))
			return ns, nil
		case "app://bp@1/side.js":
			sideRan = true
			return vm.NewObject(), nil
		}
		t.Fatalf("unexpected load %q", canonical)
		return nil, nil
	}
	resolved := map[string]string{
		"./math.js": "app://bp@1/math.js",
		"./side.js": "app://bp@1/side.js",
	}
	exports := vm.NewObject()
	if err := m.Execute(vm, exports, resolved, load); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !sideRan {
		t.Fatal("bare import did not run")
	}
	if got := exports.Get("total").ToInteger(); got != 12 {
		t.Fatalf("total = %d, want 12", got)
	}
}

func TestCompileReexports(t *testing.T) {
	src := `
export { add, mul as times } from './math.js'
export * as math from './math.js'
`
	vm := goja.New()
	mathNS := vm.NewObject()
	mathNS.Set("add", vm.ToValue(1))
	mathNS.Set("mul", vm.ToValue(2))

	m, err := Compile(src, "app://bp@1/index.js")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	exports := vm.NewObject()
	err = m.Execute(vm, exports, map[string]string{"./math.js": "app://bp@1/math.js"},
		func(string) (goja.Value, error) { return mathNS, nil })
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := exports.Get("times").ToInteger(); got != 2 {
		t.Fatalf("times = %d, want 2", got)
	}
	if ns, ok := exports.Get("math").(*goja.Object); !ok || ns.Get("add").ToInteger() != 1 {
		t.Fatalf("math namespace re-export missing")
	}
}

func TestCompileExportStarRejected(t *testing.T) {
	_, err := Compile(`export * from './math.js'`, "app://bp@1/index.js")
	if err == nil || !strings.Contains(err.Error(), "export_star_not_supported") {
		t.Fatalf("err = %v, want export_star_not_supported", err)
	}
}

func TestCompileAnonymousDefault(t *testing.T) {
	exports := runModule(t, `export default (a, b) => a * b`, "app://bp@1/index.js", nil, nil)
	fn, ok := goja.AssertFunction(exports.Get("default"))
	if !ok {
		t.Fatal("default export is not callable")
	}
	vm := goja.New()
	got, err := fn(goja.Undefined(), vm.ToValue(6), vm.ToValue(7))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got.ToInteger() != 42 {
		t.Fatalf("default(6,7) = %v, want 42", got)
	}
}

func TestExecuteUnresolvedImport(t *testing.T) {
	m, err := Compile(`import { x } from './gone.js'`, "app://bp@1/index.js")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	vm := goja.New()
	err = m.Execute(vm, vm.NewObject(), map[string]string{}, func(string) (goja.Value, error) { return nil, nil })
	if err == nil || !strings.Contains(err.Error(), "module_import_unresolved:./gone.js") {
		t.Fatalf("err = %v, want module_import_unresolved", err)
	}
}

func TestWrapLegacyBody(t *testing.T) {
	src := "import { add } from './math.js'\nconst total = add(1, 2)\nworld.total = total"
	wrapped, err := WrapLegacyBody(src, "app://bp@1/index.js")
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	m, err := Compile(wrapped, "app://bp@1/index.js")
	if err != nil {
		t.Fatalf("compile wrapped: %v", err)
	}
	if len(m.Imports) != 1 || m.Imports[0] != "./math.js" {
		t.Fatalf("imports = %v, want [./math.js]", m.Imports)
	}
	if len(m.Exports) != 1 || m.Exports[0] != "default" {
		t.Fatalf("exports = %v, want [default]", m.Exports)
	}

	vm := goja.New()
	mathNS := vm.NewObject()
	mathNS.Set("add", vm.ToValue(func(a, b int64) int64 { return a + b }))
	exports := vm.NewObject()
	err = m.Execute(vm, exports, map[string]string{"./math.js": "app://bp@1/math.js"},
		func(string) (goja.Value, error) { return mathNS, nil })
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	exec, ok := goja.AssertFunction(exports.Get("default"))
	if !ok {
		t.Fatal("wrapped body has no default export")
	}
	world := vm.NewObject()
	noop := vm.ToValue(func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	if _, err := exec(goja.Undefined(), world, vm.NewObject(), noop, vm.NewObject(), noop); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if got := world.Get("total").ToInteger(); got != 3 {
		t.Fatalf("world.total = %d, want 3", got)
	}
}

func TestWrapLegacyBodyConfigAlias(t *testing.T) {
	wrapped, err := WrapLegacyBody("world.speed = config.speed", "app://bp@1/index.js")
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	exports := runModule(t, wrapped, "app://bp@1/index.js", nil, nil)
	exec, _ := goja.AssertFunction(exports.Get("default"))

	vm := goja.New()
	world := vm.NewObject()
	props := vm.NewObject()
	props.Set("speed", 9)
	noop := vm.ToValue(func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	if _, err := exec(goja.Undefined(), world, vm.NewObject(), noop, props, noop); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if got := world.Get("speed").ToInteger(); got != 9 {
		t.Fatalf("world.speed = %d, want 9", got)
	}
}

func TestWrapLegacyBodyRejections(t *testing.T) {
	if _, err := WrapLegacyBody("export const x = 1", "s"); err != ErrLegacyExports {
		t.Fatalf("export err = %v, want ErrLegacyExports", err)
	}
	if _, err := WrapLegacyBody("const a = 1\nimport './b.js'", "s"); err != ErrLegacyImportPlacement {
		t.Fatalf("late import err = %v, want ErrLegacyImportPlacement", err)
	}
	_, err := WrapLegacyBody("const a = 'oops", "app://bp@1/index.js")
	if err == nil || !strings.HasPrefix(err.Error(), "legacy_body_parse_error:app://bp@1/index.js:") {
		t.Fatalf("parse err = %v, want legacy_body_parse_error prefix", err)
	}
}

func TestCompileRecompileStable(t *testing.T) {
	src := "import { a } from './x.js'\nexport const b = a + 1"
	m1, err := Compile(src, "app://bp@1/i.js")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	m2, err := Compile(src, "app://bp@1/i.js")
	if err != nil {
		t.Fatalf("recompile: %v", err)
	}
	if m1.Wrapper() != m2.Wrapper() {
		t.Fatal("wrapper emission is not deterministic")
	}
}

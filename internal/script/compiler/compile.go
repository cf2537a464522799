// Package compiler lowers ES module source to a plain wrapper function the
// script compartment can evaluate.
//
// Rather than lean on a host module system (which would leak ambient
// globals), each file becomes `(exports, importNow) => { ... }`: imports turn
// into importNow calls, exports into assignments on the exports object, and
// the body passes through verbatim. The wrapper's only interface with the
// outside world is those two parameters.
package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// ModuleSource is the compiled artifact for one file: its raw import
// specifiers, its export names, and the compiled wrapper.
type ModuleSource struct {
	Specifier string
	Imports   []string
	Exports   []string

	wrapper string
	prog    *goja.Program
}

// Compile parses src as an ES module (hashbang tolerated) and lowers it.
func Compile(src, specifier string) (*ModuleSource, error) {
	chunks, err := scanModule(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", specifier, err)
	}

	m := &ModuleSource{Specifier: specifier}

	var imports, body, exports []string
	defaults := 0

	// one import variable per distinct specifier; binding it eagerly also
	// covers export-from sources and bare imports
	impVar := map[string]string{}
	ensureImp := func(spec string) string {
		if v, ok := impVar[spec]; ok {
			return v
		}
		v := "__imp_" + strconv.Itoa(len(impVar))
		impVar[spec] = v
		m.Imports = append(m.Imports, spec)
		imports = append(imports, "const "+v+" = importNow("+strconv.Quote(spec)+");")
		return v
	}

	for _, c := range chunks {
		switch c.kind {
		case chunkVerbatim:
			body = append(body, c.text)

		case chunkImport:
			d := c.imp
			v := ensureImp(d.Specifier)
			if d.Bare {
				continue
			}
			if d.Default != "" {
				imports = append(imports, "const "+d.Default+" = "+v+".default;")
			}
			if d.Namespace != "" {
				imports = append(imports, "const "+d.Namespace+" = "+v+";")
			}
			for _, p := range d.Named {
				imports = append(imports, "const "+p.To+" = "+v+"."+p.From+";")
			}

		case chunkExport:
			e := c.exp
			switch e.Kind {
			case exportDecl:
				body = append(body, e.Decl)
				for _, p := range e.Names {
					exports = append(exports, "exports."+p.To+" = "+p.From+";")
					m.Exports = append(m.Exports, p.To)
				}
			case exportDefaultDecl:
				body = append(body, e.Decl)
				exports = append(exports, "exports.default = "+e.Names[0].From+";")
				m.Exports = append(m.Exports, "default")
			case exportDefaultExpr:
				local := "__default_" + strconv.Itoa(defaults)
				defaults++
				body = append(body, "const "+local+" = "+e.Decl+";")
				exports = append(exports, "exports.default = "+local+";")
				m.Exports = append(m.Exports, "default")
			case exportNamed:
				if e.From != "" {
					v := ensureImp(e.From)
					for _, p := range e.Names {
						exports = append(exports, "exports."+p.To+" = "+v+"."+p.From+";")
						m.Exports = append(m.Exports, p.To)
					}
				} else {
					for _, p := range e.Names {
						exports = append(exports, "exports."+p.To+" = "+p.From+";")
						m.Exports = append(m.Exports, p.To)
					}
				}
			case exportNamespaceFrom:
				v := ensureImp(e.From)
				exports = append(exports, "exports."+e.Namespace+" = "+v+";")
				m.Exports = append(m.Exports, e.Namespace)
			}
		}
	}

	var b strings.Builder
	b.WriteString("(exports, importNow) => {\n\"use strict\";\n")
	for _, line := range imports {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for _, line := range body {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for _, line := range exports {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("}")
	m.wrapper = "(" + b.String() + ")"

	// Compiling now surfaces any parse error in the body with the file's
	// specifier attached; the program is shared by every compartment.
	prog, err := goja.Compile(specifier, m.wrapper, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", specifier, err)
	}
	m.prog = prog
	return m, nil
}

// Wrapper exposes the lowered source, mainly for tests and diagnostics.
func (m *ModuleSource) Wrapper() string { return m.wrapper }

// Execute evaluates the wrapper in vm and invokes it. resolved maps each raw
// import specifier to its canonical form; load returns the namespace object
// for a canonical specifier. Imports missing from resolved throw
// module_import_unresolved inside the compartment.
func (m *ModuleSource) Execute(vm *goja.Runtime, exports *goja.Object, resolved map[string]string, load func(canonical string) (goja.Value, error)) error {
	fnVal, err := vm.RunProgram(m.prog)
	if err != nil {
		return fmt.Errorf("%s: %w", m.Specifier, err)
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return fmt.Errorf("%s: wrapper did not evaluate to a function", m.Specifier)
	}

	cache := map[string]goja.Value{}
	importNow := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		spec := call.Argument(0).String()
		if ns, ok := cache[spec]; ok {
			return ns
		}
		canonical, ok := resolved[spec]
		if !ok {
			panic(vm.ToValue("module_import_unresolved:" + spec))
		}
		ns, err := load(canonical)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		cache[spec] = ns
		return ns
	})

	if _, err := fn(goja.Undefined(), vm.ToValue(exports), importNow); err != nil {
		return fmt.Errorf("%s: %w", m.Specifier, err)
	}
	return nil
}

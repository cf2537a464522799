package runtime

import (
	"net/url"
	"strings"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"veldt/internal/applog"
)

// installEndowments populates a fresh compartment with the curated global
// surface. Anything that would let a script reach outside the compartment
// (eval, Function, the lockdown shims) is shadowed to undefined.
func (r *Runtime) installEndowments(vm *goja.Runtime) error {
	if err := r.installConsole(vm); err != nil {
		return err
	}
	if err := installURL(vm); err != nil {
		return err
	}
	if err := vm.Set("uuid", func() string { return uuid.NewString() }); err != nil {
		return err
	}
	if _, err := vm.RunProgram(preludeProgram); err != nil {
		return err
	}
	for _, name := range []string{"eval", "Function", "harden", "lockdown"} {
		if err := vm.GlobalObject().Set(name, goja.Undefined()); err != nil {
			return err
		}
	}
	return nil
}

// installConsole wires console.log/warn/error/time/timeEnd into the per-app
// log pipeline. Capture happens only when an app context is active; the host
// console is written either way.
func (r *Runtime) installConsole(vm *goja.Runtime) error {
	console := vm.NewObject()

	capture := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]any, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = exportConsoleArg(vm, a)
			}
			if appID := r.currentApp(); appID != "" {
				r.logs.Capture(appID, level, args...)
			}
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = applog.Serialize(a)
			}
			r.hostLog(level, strings.Join(parts, " "))
			return goja.Undefined()
		}
	}
	timer := func(end bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			label := ""
			if arg := call.Argument(0); !goja.IsUndefined(arg) {
				label = arg.String()
			}
			appID := r.currentApp()
			if appID == "" {
				return goja.Undefined()
			}
			if end {
				r.logs.EndTimer(appID, label)
			} else {
				r.logs.StartTimer(appID, label)
			}
			return goja.Undefined()
		}
	}

	for level, fn := range map[string]func(goja.FunctionCall) goja.Value{
		applog.LevelLog:   capture(applog.LevelLog),
		applog.LevelWarn:  capture(applog.LevelWarn),
		applog.LevelError: capture(applog.LevelError),
		"info":            capture(applog.LevelLog),
		"debug":           capture(applog.LevelLog),
		"time":            timer(false),
		"timeEnd":         timer(true),
	} {
		if err := console.Set(level, fn); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

// exportConsoleArg renders function arguments with their JS-side name; a
// plain Export loses it (the Go func type carries no name), so the string is
// built here while the value is still a goja object.
func exportConsoleArg(vm *goja.Runtime, v goja.Value) any {
	if _, ok := goja.AssertFunction(v); ok {
		name := ""
		if obj := v.ToObject(vm); obj != nil {
			if n := obj.Get("name"); n != nil && !goja.IsUndefined(n) {
				name = n.String()
			}
		}
		if name == "" {
			name = "anonymous"
		}
		return "[Function " + name + "]"
	}
	return v.Export()
}

// installURL provides a minimal URL constructor backed by net/url. Scripts
// use it for parsing asset and HTTP addresses, not for navigation.
func installURL(vm *goja.Runtime) error {
	ctor := func(call goja.ConstructorCall) *goja.Object {
		raw := call.Argument(0).String()
		if base := call.Argument(1); !goja.IsUndefined(base) {
			b, err := url.Parse(base.String())
			if err != nil {
				panic(vm.NewTypeError("invalid base URL: %s", base.String()))
			}
			rel, err := url.Parse(raw)
			if err != nil {
				panic(vm.NewTypeError("invalid URL: %s", raw))
			}
			return urlObject(vm, call.This, b.ResolveReference(rel))
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" {
			panic(vm.NewTypeError("invalid URL: %s", raw))
		}
		return urlObject(vm, call.This, u)
	}
	return vm.Set("URL", ctor)
}

func urlObject(vm *goja.Runtime, this *goja.Object, u *url.URL) *goja.Object {
	search := ""
	if u.RawQuery != "" {
		search = "?" + u.RawQuery
	}
	hash := ""
	if u.Fragment != "" {
		hash = "#" + u.Fragment
	}
	this.Set("href", u.String())
	this.Set("protocol", u.Scheme+":")
	this.Set("host", u.Host)
	this.Set("hostname", u.Hostname())
	this.Set("port", u.Port())
	this.Set("pathname", u.Path)
	this.Set("search", search)
	this.Set("hash", hash)
	this.Set("toString", func() string { return u.String() })
	return this
}

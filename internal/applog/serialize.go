package applog

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
)

// Serialize renders one console argument as text. Strings pass through
// (truncation happens at capture), scalars stringify, errors keep their
// message, and everything else becomes JSON with a cycle guard.
func Serialize(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	case *big.Int:
		if x == nil {
			return "null"
		}
		return x.String() + "n"
	case error:
		return x.Error()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func:
		name := rv.Type().Name()
		if name == "" {
			name = "anonymous"
		}
		return "[Function " + name + "]"
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Ptr, reflect.Interface:
		seen := make(map[uintptr]bool)
		out, ok := jsonify(rv, seen, 0)
		if !ok {
			return "[unserializable]"
		}
		return out
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

const maxSerializeDepth = 16

// jsonify walks reference values by hand so that cycles render as
// "[Circular]" instead of failing the whole argument.
func jsonify(rv reflect.Value, seen map[uintptr]bool, depth int) (string, bool) {
	if depth > maxSerializeDepth {
		return `"[Circular]"`, true
	}
	switch rv.Kind() {
	case reflect.Invalid:
		return "null", true
	case reflect.Interface, reflect.Ptr:
		if rv.IsNil() {
			return "null", true
		}
		if rv.Kind() == reflect.Ptr {
			ptr := rv.Pointer()
			if seen[ptr] {
				return `"[Circular]"`, true
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}
		return jsonify(rv.Elem(), seen, depth+1)
	case reflect.Map:
		if rv.IsNil() {
			return "null", true
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return `"[Circular]"`, true
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		out := "{"
		first := true
		for _, key := range rv.MapKeys() {
			if !first {
				out += ","
			}
			first = false
			k := fmt.Sprint(key.Interface())
			val, ok := jsonify(rv.MapIndex(key), seen, depth+1)
			if !ok {
				return "", false
			}
			out += strconv.Quote(k) + ":" + val
		}
		return out + "}", true
	case reflect.Slice:
		if rv.IsNil() {
			return "null", true
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return `"[Circular]"`, true
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		return jsonifyList(rv, seen, depth)
	case reflect.Array:
		return jsonifyList(rv, seen, depth)
	case reflect.Func:
		return `"[Function anonymous]"`, true
	default:
		raw, err := json.Marshal(rv.Interface())
		if err != nil {
			return "", false
		}
		return string(raw), true
	}
}

func jsonifyList(rv reflect.Value, seen map[uintptr]bool, depth int) (string, bool) {
	out := "["
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			out += ","
		}
		val, ok := jsonify(rv.Index(i), seen, depth+1)
		if !ok {
			return "", false
		}
		out += val
	}
	return out + "]", true
}

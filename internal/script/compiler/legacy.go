package compiler

import (
	"errors"
	"strings"
)

var (
	// ErrLegacyExports is returned when a legacy body contains any export
	// declaration; those scripts are already modules and must not be wrapped.
	ErrLegacyExports = errors.New("legacy_body_exports_not_allowed")

	// ErrLegacyImportPlacement is returned when an import declaration
	// appears after the first non-import statement.
	ErrLegacyImportPlacement = errors.New("legacy_body_imports_must_be_at_top")
)

// WrapLegacyBody rewrites a free-standing script body into module form: the
// top-run of import declarations stays verbatim, a module-scope `shared`
// object is introduced, and the remaining statements become the body of an
// exported default function taking (world, app, fetch, props, setTimeout).
func WrapLegacyBody(src, specifier string) (string, error) {
	chunks, err := scanModule(src)
	if err != nil {
		return "", errors.New("legacy_body_parse_error:" + specifier + ":" + err.Error())
	}

	var imports, body []string
	seenBody := false
	for _, c := range chunks {
		switch c.kind {
		case chunkImport:
			if seenBody {
				return "", ErrLegacyImportPlacement
			}
			imports = append(imports, c.text)
		case chunkExport:
			return "", ErrLegacyExports
		case chunkVerbatim:
			if strings.TrimSpace(c.text) != "" {
				seenBody = true
			}
			body = append(body, c.text)
		}
	}

	var b strings.Builder
	for _, line := range imports {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("const shared = {}\n")
	b.WriteString("export default (world, app, fetch, props, setTimeout) => {\n")
	b.WriteString("const config = props\n")
	for _, line := range body {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("}\n")
	return b.String(), nil
}

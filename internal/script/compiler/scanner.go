package compiler

import (
	"fmt"
	"strings"
)

// importDecl is one top-level import declaration.
type importDecl struct {
	Specifier string
	Default   string
	Namespace string
	Named     []aliasPair
	Bare      bool
}

// aliasPair maps an imported/local (or local/exported) name pair.
type aliasPair struct {
	From string
	To   string
}

type exportKind int

const (
	exportDecl exportKind = iota // export const/let/var/function/class
	exportDefaultDecl            // export default function f / class C
	exportDefaultExpr            // export default <expression>
	exportNamed                  // export { a, b as c } [from 'spec']
	exportNamespaceFrom          // export * as ns from 'spec'
)

type exportStmt struct {
	Kind exportKind
	// Decl is the declaration text to emit into the body (exportDecl and
	// exportDefaultDecl), or the default expression (exportDefaultExpr).
	Decl string
	// Names are the exported bindings: declaration names, the named default,
	// or alias pairs for named exports.
	Names []aliasPair
	// From is the re-export source specifier, empty for local exports.
	From string
	// Namespace is the binding name of an `* as ns` re-export.
	Namespace string
}

type chunkKind int

const (
	chunkVerbatim chunkKind = iota
	chunkImport
	chunkExport
)

// chunk is one top-level unit of the module in source order.
type chunk struct {
	kind chunkKind
	text string
	imp  *importDecl
	exp  *exportStmt
}

// scanModule splits src into top-level chunks. import/export are reserved
// words, so any occurrence at bracket depth zero that is not `import(`,
// `import.meta` or a property access starts a declaration.
func scanModule(src string) ([]chunk, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}

	var chunks []chunk
	depth := 0
	runStart := -1 // source offset of the current verbatim run

	flush := func(until int) {
		if runStart >= 0 {
			text := strings.TrimSpace(src[runStart:until])
			if text != "" {
				chunks = append(chunks, chunk{kind: chunkVerbatim, text: text})
			}
			runStart = -1
		}
	}

	i := 0
	for i < len(toks) {
		t := toks[i]
		if t.typ == tokPunct {
			switch t.raw {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
			}
		}
		if depth == 0 && t.typ == tokIdent && (t.raw == "import" || t.raw == "export") {
			afterDot := i > 0 && toks[i-1].is(".")
			callOrMeta := t.raw == "import" && i+1 < len(toks) && (toks[i+1].is("(") || toks[i+1].is("."))
			if !afterDot && !callOrMeta {
				flush(t.pos)
				var next int
				var err error
				if t.raw == "import" {
					next, err = parseImport(src, toks, i, &chunks)
				} else {
					next, err = parseExport(src, toks, i, &chunks)
				}
				if err != nil {
					return nil, err
				}
				i = next
				continue
			}
		}
		if runStart < 0 {
			runStart = t.pos
		}
		i++
	}
	flush(len(src))
	return chunks, nil
}

// parseImport consumes an import declaration starting at toks[i] and returns
// the index of the first token after it.
func parseImport(src string, toks []token, i int, chunks *[]chunk) (int, error) {
	d := &importDecl{}
	j := i + 1
	if j < len(toks) && toks[j].typ == tokString {
		// import 'spec'
		d.Bare = true
		d.Specifier = toks[j].str
		j++
		return appendImport(src, toks, i, j, chunks, d)
	}

	// default binding
	if j < len(toks) && toks[j].typ == tokIdent && toks[j].raw != "from" {
		d.Default = toks[j].raw
		j++
		if j < len(toks) && toks[j].is(",") {
			j++
		}
	}

	switch {
	case j < len(toks) && toks[j].is("*"):
		j++
		if j >= len(toks) || !toks[j].is("as") {
			return 0, fmt.Errorf("invalid import namespace clause at %d", toks[i].pos)
		}
		j++
		if j >= len(toks) || toks[j].typ != tokIdent {
			return 0, fmt.Errorf("invalid import namespace clause at %d", toks[i].pos)
		}
		d.Namespace = toks[j].raw
		j++
	case j < len(toks) && toks[j].is("{"):
		var err error
		d.Named, j, err = parseAliasList(toks, j)
		if err != nil {
			return 0, err
		}
	}

	if j >= len(toks) || !toks[j].is("from") {
		return 0, fmt.Errorf("import missing from clause at %d", toks[i].pos)
	}
	j++
	if j >= len(toks) || toks[j].typ != tokString {
		return 0, fmt.Errorf("import missing specifier at %d", toks[i].pos)
	}
	d.Specifier = toks[j].str
	j++
	return appendImport(src, toks, i, j, chunks, d)
}

func appendImport(src string, toks []token, i, j int, chunks *[]chunk, d *importDecl) (int, error) {
	if j < len(toks) && toks[j].is(";") {
		j++
	}
	// keep the raw text so the legacy adapter can carry imports verbatim
	*chunks = append(*chunks, chunk{kind: chunkImport, text: src[toks[i].pos:toks[j-1].end], imp: d})
	return j, nil
}

// parseAliasList consumes `{ a, b as c, default as d }` starting at the
// opening brace and returns the pairs plus the index after the brace.
func parseAliasList(toks []token, i int) ([]aliasPair, int, error) {
	pairs := []aliasPair{}
	j := i + 1
	for j < len(toks) && !toks[j].is("}") {
		if toks[j].is(",") {
			j++
			continue
		}
		if toks[j].typ != tokIdent && toks[j].typ != tokString {
			return nil, 0, fmt.Errorf("invalid name in import/export list at %d", toks[j].pos)
		}
		name := toks[j].raw
		if toks[j].typ == tokString {
			name = toks[j].str
		}
		local := name
		j++
		if j < len(toks) && toks[j].is("as") {
			j++
			if j >= len(toks) || (toks[j].typ != tokIdent && toks[j].typ != tokString) {
				return nil, 0, fmt.Errorf("invalid alias in import/export list at %d", toks[j-1].pos)
			}
			local = toks[j].raw
			if toks[j].typ == tokString {
				local = toks[j].str
			}
			j++
		}
		pairs = append(pairs, aliasPair{From: name, To: local})
	}
	if j >= len(toks) {
		return nil, 0, fmt.Errorf("unterminated import/export list at %d", toks[i].pos)
	}
	return pairs, j + 1, nil
}

// parseExport consumes an export declaration starting at toks[i].
func parseExport(src string, toks []token, i int, chunks *[]chunk) (int, error) {
	j := i + 1
	if j >= len(toks) {
		return 0, fmt.Errorf("dangling export at %d", toks[i].pos)
	}
	t := toks[j]

	switch {
	case t.is("*"):
		// Only `* as ns from 'spec'` is supported.
		if j+1 < len(toks) && toks[j+1].is("as") {
			if j+2 >= len(toks) || toks[j+2].typ != tokIdent {
				return 0, fmt.Errorf("invalid export namespace clause at %d", t.pos)
			}
			ns := toks[j+2].raw
			j += 3
			if j+1 >= len(toks) || !toks[j].is("from") || toks[j+1].typ != tokString {
				return 0, fmt.Errorf("export namespace missing from clause at %d", t.pos)
			}
			spec := toks[j+1].str
			j += 2
			if j < len(toks) && toks[j].is(";") {
				j++
			}
			*chunks = append(*chunks, chunk{kind: chunkExport, exp: &exportStmt{
				Kind:      exportNamespaceFrom,
				Namespace: ns,
				From:      spec,
			}})
			return j, nil
		}
		return 0, fmt.Errorf("export_star_not_supported")

	case t.is("{"):
		pairs, next, err := parseAliasList(toks, j)
		if err != nil {
			return 0, err
		}
		j = next
		from := ""
		if j+1 < len(toks) && toks[j].is("from") && toks[j+1].typ == tokString {
			from = toks[j+1].str
			j += 2
		}
		if j < len(toks) && toks[j].is(";") {
			j++
		}
		*chunks = append(*chunks, chunk{kind: chunkExport, exp: &exportStmt{
			Kind:  exportNamed,
			Names: pairs,
			From:  from,
		}})
		return j, nil

	case t.is("default"):
		return parseExportDefault(src, toks, i, j+1, chunks)

	case t.is("function"), t.is("class"), t.is("async"):
		start := j
		declStart := toks[start].pos
		if toks[j].is("async") {
			j++
			if j >= len(toks) || !toks[j].is("function") {
				return 0, fmt.Errorf("invalid export declaration at %d", t.pos)
			}
		}
		kw := toks[j].raw
		j++
		if j < len(toks) && toks[j].is("*") { // generator
			j++
		}
		if j >= len(toks) || toks[j].typ != tokIdent {
			return 0, fmt.Errorf("exported %s must be named at %d", kw, t.pos)
		}
		name := toks[j].raw
		end, err := skipThroughBraceBlock(toks, j)
		if err != nil {
			return 0, err
		}
		*chunks = append(*chunks, chunk{kind: chunkExport, exp: &exportStmt{
			Kind:  exportDecl,
			Decl:  src[declStart:toks[end-1].end],
			Names: []aliasPair{{From: name, To: name}},
		}})
		return end, nil

	case t.is("const"), t.is("let"), t.is("var"):
		names, end, err := parseBindingNames(toks, j)
		if err != nil {
			return 0, err
		}
		pairs := make([]aliasPair, 0, len(names))
		for _, n := range names {
			pairs = append(pairs, aliasPair{From: n, To: n})
		}
		declEnd := toks[end-1].end
		*chunks = append(*chunks, chunk{kind: chunkExport, exp: &exportStmt{
			Kind:  exportDecl,
			Decl:  strings.TrimSuffix(strings.TrimSpace(src[t.pos:declEnd]), ";"),
			Names: pairs,
		}})
		return end, nil
	}
	return 0, fmt.Errorf("unsupported export form at %d", t.pos)
}

func parseExportDefault(src string, toks []token, start, j int, chunks *[]chunk) (int, error) {
	if j >= len(toks) {
		return 0, fmt.Errorf("dangling export default at %d", toks[start].pos)
	}
	declStart := toks[j].pos

	k := j
	if toks[k].is("async") && k+1 < len(toks) && toks[k+1].is("function") {
		k++
	}
	if toks[k].is("function") || toks[k].is("class") {
		n := k + 1
		if n < len(toks) && toks[n].is("*") {
			n++
		}
		if n < len(toks) && toks[n].typ == tokIdent && !toks[n].is("(") && !toks[n].is("extends") {
			// named declaration form
			name := toks[n].raw
			end, err := skipThroughBraceBlock(toks, n)
			if err != nil {
				return 0, err
			}
			*chunks = append(*chunks, chunk{kind: chunkExport, exp: &exportStmt{
				Kind:  exportDefaultDecl,
				Decl:  src[declStart:toks[end-1].end],
				Names: []aliasPair{{From: name, To: "default"}},
			}})
			return end, nil
		}
	}

	end, err := exprEnd(toks, j)
	if err != nil {
		return 0, err
	}
	text := strings.TrimSuffix(strings.TrimSpace(src[declStart:toks[end-1].end]), ";")
	*chunks = append(*chunks, chunk{kind: chunkExport, exp: &exportStmt{
		Kind: exportDefaultExpr,
		Decl: text,
	}})
	return end, nil
}

// skipThroughBraceBlock advances from toks[i] to just past the matching
// close of the next top-relative `{`, skipping balanced ()/[] on the way.
func skipThroughBraceBlock(toks []token, i int) (int, error) {
	depth := 0
	for j := i; j < len(toks); j++ {
		if toks[j].typ != tokPunct {
			continue
		}
		switch toks[j].raw {
		case "(", "[":
			depth++
		case ")", "]":
			depth--
		case "{":
			if depth == 0 {
				end, err := matchBrace(toks, j)
				if err != nil {
					return 0, err
				}
				return end, nil
			}
			depth++
		case "}":
			depth--
		}
	}
	return 0, fmt.Errorf("missing body block after %d", toks[i].pos)
}

func matchBrace(toks []token, open int) (int, error) {
	depth := 0
	for j := open; j < len(toks); j++ {
		if toks[j].typ != tokPunct {
			continue
		}
		switch toks[j].raw {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
			if depth == 0 {
				return j + 1, nil
			}
		}
	}
	return 0, fmt.Errorf("unbalanced braces from %d", toks[open].pos)
}

// exprEnd finds the token index just past an expression or declaration that
// begins at toks[i]: a semicolon at depth zero ends it, as does a newline
// before a token that cannot continue the expression.
func exprEnd(toks []token, i int) (int, error) {
	depth := 0
	for j := i; j < len(toks); j++ {
		t := toks[j]
		if t.typ == tokPunct {
			switch t.raw {
			case "(", "[", "{":
				depth++
				continue
			case ")", "]", "}":
				depth--
				continue
			case ";":
				if depth == 0 {
					return j + 1, nil
				}
				continue
			}
		}
		if depth == 0 && j > i && t.nlBefore && terminates(toks[j-1]) && !continues(t) {
			return j, nil
		}
	}
	if depth != 0 {
		return 0, fmt.Errorf("unbalanced expression from %d", toks[i].pos)
	}
	return len(toks), nil
}

// terminates reports whether a token can be the last of an expression.
func terminates(t token) bool {
	switch t.typ {
	case tokIdent, tokNumber, tokString, tokTemplate, tokRegex:
		return true
	case tokPunct:
		switch t.raw {
		case ")", "]", "}":
			return true
		}
	}
	return false
}

// continues reports whether a token on a new line keeps the previous
// expression going (the classic ASI hazards included).
func continues(t token) bool {
	switch t.typ {
	case tokTemplate:
		return true
	case tokIdent:
		return t.raw == "instanceof" || t.raw == "in"
	case tokPunct:
		switch t.raw {
		case ".", "(", "[", "+", "-", "*", "/", "%", "=", "<", ">", "&", "|", "^", "?", ":", ",":
			return true
		}
	}
	return false
}

// parseBindingNames collects every name bound by a const/let/var declaration
// starting at the keyword token, walking nested object, array, rest and
// default patterns. It returns the names and the index past the declaration.
func parseBindingNames(toks []token, kw int) ([]string, int, error) {
	end, err := exprEnd(toks, kw)
	if err != nil {
		return nil, 0, err
	}
	var names []string
	j := kw + 1
	for j < end {
		j, err = parseBindingTarget(toks, j, end, &names)
		if err != nil {
			return nil, 0, err
		}
		j = skipInitializer(toks, j, end)
	}
	return names, end, nil
}

// skipInitializer skips past an optional `= expr` up to and including the
// comma that separates declarators, or to the end of the declaration.
func skipInitializer(toks []token, j, end int) int {
	depth := 0
	for j < end {
		t := toks[j]
		if t.typ == tokPunct {
			switch t.raw {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
			case ",":
				if depth == 0 {
					return j + 1
				}
			case ";":
				if depth == 0 {
					return end
				}
			}
		}
		j++
	}
	return end
}

func parseBindingTarget(toks []token, j, end int, names *[]string) (int, error) {
	if j >= end {
		return j, nil
	}
	t := toks[j]
	switch {
	case t.typ == tokIdent:
		*names = append(*names, t.raw)
		return j + 1, nil
	case t.is("{"):
		closeTok, err := matchBrace(toks, j)
		if err != nil {
			return 0, err
		}
		k := j + 1
		for k < closeTok-1 {
			t := toks[k]
			switch {
			case t.is(","):
				k++
			case t.is("."): // rest: three dot tokens then a target
				for k < closeTok-1 && toks[k].is(".") {
					k++
				}
				k, err = parseBindingTarget(toks, k, closeTok-1, names)
				if err != nil {
					return 0, err
				}
			case t.typ == tokIdent || t.typ == tokString || t.typ == tokNumber || t.is("["):
				// property key; computed keys skip their brackets
				keyEnd := k + 1
				if t.is("[") {
					keyEnd, err = matchBrace(toks, k)
					if err != nil {
						return 0, err
					}
				}
				if keyEnd < closeTok-1 && toks[keyEnd].is(":") {
					k, err = parseBindingTarget(toks, keyEnd+1, closeTok-1, names)
					if err != nil {
						return 0, err
					}
				} else {
					// shorthand binds the key itself
					if t.typ == tokIdent {
						*names = append(*names, t.raw)
					}
					k = keyEnd
				}
				k = skipDefault(toks, k, closeTok-1)
			default:
				k++
			}
		}
		return closeTok, nil
	case t.is("["):
		closeTok, err := matchBrace(toks, j)
		if err != nil {
			return 0, err
		}
		k := j + 1
		for k < closeTok-1 {
			t := toks[k]
			switch {
			case t.is(","):
				k++
			case t.is("."):
				for k < closeTok-1 && toks[k].is(".") {
					k++
				}
				k, err = parseBindingTarget(toks, k, closeTok-1, names)
				if err != nil {
					return 0, err
				}
			default:
				k, err = parseBindingTarget(toks, k, closeTok-1, names)
				if err != nil {
					return 0, err
				}
				k = skipDefault(toks, k, closeTok-1)
			}
		}
		return closeTok, nil
	}
	return j + 1, nil
}

// skipDefault skips a `= expr` initializer inside a pattern, up to the next
// comma at this pattern's depth.
func skipDefault(toks []token, j, end int) int {
	if j >= end || !toks[j].is("=") {
		return j
	}
	depth := 0
	for j < end {
		t := toks[j]
		if t.typ == tokPunct {
			switch t.raw {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
			case ",":
				if depth == 0 {
					return j
				}
			}
		}
		j++
	}
	return j
}

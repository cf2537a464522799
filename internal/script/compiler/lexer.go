package compiler

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// tokenType classifies the small token surface the compiler needs: enough to
// find top-level import/export declarations and statement extents without
// interpreting the body, which is passed through verbatim.
type tokenType int

const (
	tokIdent tokenType = iota
	tokString
	tokTemplate
	tokNumber
	tokRegex
	tokPunct
)

type token struct {
	typ tokenType
	// raw is the exact source slice, str the decoded value for strings.
	raw string
	str string
	pos int
	end int
	// nlBefore marks a line terminator between this token and the previous
	// one; it drives the ASI heuristic for expression extents.
	nlBefore bool
}

func (t token) is(raw string) bool { return t.raw == raw }

// lex tokenizes src. A leading hashbang line is skipped. Comments vanish but
// propagate their newlines.
func lex(src string) ([]token, error) {
	toks := make([]token, 0, 64)
	i := 0
	nl := false

	if strings.HasPrefix(src, "#!") {
		for i < len(src) && src[i] != '\n' {
			i++
		}
	}

	for i < len(src) {
		c := src[i]
		switch {
		case c == '\n':
			nl = true
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated block comment at %d", i)
			}
			if strings.Contains(src[i:i+2+end+2], "\n") {
				nl = true
			}
			i += end + 4
		case c == '\'' || c == '"':
			start := i
			j, val, err := scanString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{typ: tokString, raw: src[start:j], str: val, pos: start, end: j, nlBefore: nl})
			nl = false
			i = j
		case c == '`':
			start := i
			j, err := scanTemplate(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{typ: tokTemplate, raw: src[start:j], pos: start, end: j, nlBefore: nl})
			nl = false
			i = j
		case c >= '0' && c <= '9', c == '.' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9':
			start := i
			i = scanNumber(src, i)
			toks = append(toks, token{typ: tokNumber, raw: src[start:i], pos: start, end: i, nlBefore: nl})
			nl = false
		case c == '/' && regexAllowed(toks):
			start := i
			j, err := scanRegex(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{typ: tokRegex, raw: src[start:j], pos: start, end: j, nlBefore: nl})
			nl = false
			i = j
		case isIdentStart(src, i):
			start := i
			i = scanIdent(src, i)
			toks = append(toks, token{typ: tokIdent, raw: src[start:i], pos: start, end: i, nlBefore: nl})
			nl = false
		default:
			toks = append(toks, token{typ: tokPunct, raw: src[i : i+1], pos: i, end: i + 1, nlBefore: nl})
			nl = false
			i++
		}
	}
	return toks, nil
}

func scanString(src string, i int) (int, string, error) {
	quote := src[i]
	var b strings.Builder
	j := i + 1
	for j < len(src) {
		c := src[j]
		switch c {
		case '\\':
			if j+1 >= len(src) {
				return 0, "", fmt.Errorf("unterminated string at %d", i)
			}
			esc := src[j+1]
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(esc)
			}
			j += 2
		case quote:
			return j + 1, b.String(), nil
		case '\n':
			return 0, "", fmt.Errorf("unterminated string at %d", i)
		default:
			b.WriteByte(c)
			j++
		}
	}
	return 0, "", fmt.Errorf("unterminated string at %d", i)
}

// scanTemplate consumes a template literal including nested ${} expressions,
// which may themselves contain strings and templates.
func scanTemplate(src string, i int) (int, error) {
	j := i + 1
	for j < len(src) {
		switch src[j] {
		case '\\':
			j += 2
		case '`':
			return j + 1, nil
		case '$':
			if j+1 < len(src) && src[j+1] == '{' {
				depth := 1
				j += 2
				for j < len(src) && depth > 0 {
					switch src[j] {
					case '{':
						depth++
						j++
					case '}':
						depth--
						j++
					case '\'', '"':
						var err error
						j, _, err = scanString(src, j)
						if err != nil {
							return 0, err
						}
					case '`':
						var err error
						j, err = scanTemplate(src, j)
						if err != nil {
							return 0, err
						}
					default:
						j++
					}
				}
				if depth > 0 {
					return 0, fmt.Errorf("unterminated template substitution at %d", i)
				}
				continue
			}
			j++
		default:
			j++
		}
	}
	return 0, fmt.Errorf("unterminated template at %d", i)
}

func scanNumber(src string, i int) int {
	j := i
	for j < len(src) {
		c := src[j]
		if c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '.' || c == '_' {
			j++
			continue
		}
		// exponent sign
		if (c == '+' || c == '-') && j > i && (src[j-1] == 'e' || src[j-1] == 'E') {
			j++
			continue
		}
		break
	}
	return j
}

func scanRegex(src string, i int) (int, error) {
	j := i + 1
	inClass := false
	for j < len(src) {
		switch src[j] {
		case '\\':
			j += 2
			continue
		case '[':
			inClass = true
		case ']':
			inClass = false
		case '/':
			if !inClass {
				j++
				for j < len(src) && isIdentPart(src[j]) {
					j++
				}
				return j, nil
			}
		case '\n':
			return 0, fmt.Errorf("unterminated regex at %d", i)
		}
		j++
	}
	return 0, fmt.Errorf("unterminated regex at %d", i)
}

// regexAllowed applies the usual slash disambiguation: a regex may follow an
// operator, an opening bracket, a keyword, or the start of input; a division
// follows a value.
func regexAllowed(toks []token) bool {
	if len(toks) == 0 {
		return true
	}
	prev := toks[len(toks)-1]
	switch prev.typ {
	case tokNumber, tokString, tokTemplate, tokRegex:
		return false
	case tokIdent:
		switch prev.raw {
		case "return", "typeof", "instanceof", "in", "of", "new", "delete", "void", "do", "else", "case", "yield", "await", "throw":
			return true
		}
		return false
	case tokPunct:
		switch prev.raw {
		case ")", "]", "}":
			return false
		}
		return true
	}
	return true
}

func isIdentStart(src string, i int) bool {
	c := src[i]
	if c == '_' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
		return true
	}
	if c < utf8.RuneSelf {
		return false
	}
	r, _ := utf8.DecodeRuneInString(src[i:])
	return unicode.IsLetter(r)
}

func isIdentPart(c byte) bool {
	return c == '_' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c >= utf8.RuneSelf
}

func scanIdent(src string, i int) int {
	j := i
	for j < len(src) {
		c := src[j]
		if c < utf8.RuneSelf {
			if !isIdentPart(c) {
				break
			}
			j++
			continue
		}
		r, size := utf8.DecodeRuneInString(src[j:])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		j += size
	}
	return j
}

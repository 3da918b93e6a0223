package filter

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/poiesic/sift/core"
)

// maxParseDepth bounds parenthesis and NOT nesting while parsing.
const maxParseDepth = 256

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokWord
	tokString
	tokOp
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) keyword(kw string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, kw)
}

func (t token) describe() string {
	if t.kind == tokEOF {
		return "end of input"
	}
	return strconv.Quote(t.text)
}

func isDelimiter(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(`()[],=!<>"'`, r)
}

func lex(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		r, size := utf8.DecodeRuneInString(input[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case r == '[':
			toks = append(toks, token{tokLBracket, "[", i})
			i++
		case r == ']':
			toks = append(toks, token{tokRBracket, "]", i})
			i++
		case r == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case r == '=':
			toks = append(toks, token{tokOp, "=", i})
			i++
		case r == '!' || r == '<' || r == '>':
			op := string(r)
			if i+1 < len(input) && input[i+1] == '=' {
				op += "="
			}
			if op == "!" {
				return nil, &SyntaxError{Pos: i, Msg: `expected "!="`}
			}
			toks = append(toks, token{tokOp, op, i})
			i += len(op)
		case r == '"' || r == '\'':
			text, n, err := lexString(input[i:], byte(r))
			if err != nil {
				return nil, &SyntaxError{Pos: i, Msg: err.Error()}
			}
			toks = append(toks, token{tokString, text, i})
			i += n
		default:
			start := i
			for i < len(input) {
				r, size := utf8.DecodeRuneInString(input[i:])
				if isDelimiter(r) {
					break
				}
				i += size
			}
			toks = append(toks, token{tokWord, input[start:i], start})
		}
	}
	return append(toks, token{tokEOF, "", len(input)}), nil
}

func lexString(s string, quote byte) (string, int, error) {
	var sb strings.Builder
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				i++
				sb.WriteByte(s[i])
			}
		case quote:
			return sb.String(), i + 1, nil
		default:
			sb.WriteByte(s[i])
		}
	}
	return "", 0, fmt.Errorf("unterminated string")
}

type parser struct {
	toks  []token
	i     int
	depth int
}

// Parse parses a filter expression such as
//
//	genre = horror AND (year >= 2000 OR rating 7 TO 9) AND NOT tags IN [gore, slasher]
//
// Keywords are case-insensitive. Errors are *SyntaxError values carrying
// the byte offset of the offending token.
func Parse(input string) (Node, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, &SyntaxError{Pos: 0, Msg: "empty filter"}
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorf(tok, "unexpected %s", tok.describe())
	}
	return node, nil
}

func (p *parser) peek() token {
	return p.toks[p.i]
}

func (p *parser) next() token {
	tok := p.toks[p.i]
	if tok.kind != tokEOF {
		p.i++
	}
	return tok
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, p.errorf(tok, "expected %s, found %s", what, tok.describe())
	}
	return tok, nil
}

func (p *parser) enter(tok token) error {
	p.depth++
	if p.depth > maxParseDepth {
		return p.errorf(tok, "expression nested too deeply")
	}
	return nil
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []Node{left}
	for p.peek().keyword("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return Or{Children: children}, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	children := []Node{left}
	for p.peek().keyword("AND") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return And{Children: children}, nil
}

func (p *parser) parseNot() (Node, error) {
	tok := p.peek()
	if !tok.keyword("NOT") {
		return p.parsePrimary()
	}
	p.next()
	if err := p.enter(tok); err != nil {
		return nil, err
	}
	defer func() { p.depth-- }()
	child, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	return Not{Child: child}, nil
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.peek()
	switch {
	case tok.kind == tokLParen:
		p.next()
		if err := p.enter(tok); err != nil {
			return nil, err
		}
		defer func() { p.depth-- }()
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, `")"`); err != nil {
			return nil, err
		}
		return node, nil
	case tok.kind == tokWord && tok.text == "_geoRadius":
		return p.parseGeoRadius()
	case tok.kind == tokWord && tok.text == "_geoBoundingBox":
		return p.parseGeoBoundingBox()
	default:
		return p.parseCondition()
	}
}

func isKeyword(tok token) bool {
	for _, kw := range []string{"AND", "OR", "NOT", "TO", "IN", "EXISTS"} {
		if tok.keyword(kw) {
			return true
		}
	}
	return false
}

func (p *parser) parseValue() (Literal, error) {
	tok := p.next()
	switch {
	case tok.kind == tokString:
		return Literal{Raw: tok.text, Quoted: true, Pos: tok.pos}, nil
	case tok.kind == tokWord && !isKeyword(tok):
		return Literal{Raw: tok.text, Pos: tok.pos}, nil
	default:
		return Literal{}, p.errorf(tok, "expected a value, found %s", tok.describe())
	}
}

func (p *parser) parseCondition() (Node, error) {
	fieldTok := p.peek()
	field, err := p.parseValue()
	if err != nil {
		return nil, p.errorf(fieldTok, "expected a field name, found %s", fieldTok.describe())
	}
	name := field.Raw

	tok := p.peek()
	switch {
	case tok.kind == tokOp:
		p.next()
		value, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		switch tok.text {
		case "=":
			return Equal{Field: name, Value: value}, nil
		case "!=":
			return NotEqual{Field: name, Value: value}, nil
		case ">":
			return Range{Field: name, Op: OpGreater, Low: value}, nil
		case ">=":
			return Range{Field: name, Op: OpGreaterEqual, Low: value}, nil
		case "<":
			return Range{Field: name, Op: OpLess, Low: value}, nil
		default:
			return Range{Field: name, Op: OpLessEqual, Low: value}, nil
		}
	case tok.keyword("EXISTS"):
		p.next()
		return Exists{Field: name}, nil
	case tok.keyword("IN"):
		p.next()
		return p.parseIn(name)
	case tok.keyword("NOT"):
		p.next()
		switch next := p.next(); {
		case next.keyword("EXISTS"):
			return Not{Child: Exists{Field: name}}, nil
		case next.keyword("IN"):
			in, err := p.parseIn(name)
			if err != nil {
				return nil, err
			}
			return Not{Child: in}, nil
		default:
			return nil, p.errorf(next, "expected EXISTS or IN after NOT, found %s", next.describe())
		}
	case tok.kind == tokWord || tok.kind == tokString:
		low, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		if to := p.next(); !to.keyword("TO") {
			return nil, p.errorf(to, "expected TO, found %s", to.describe())
		}
		high, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return Range{Field: name, Op: OpBetween, Low: low, High: high}, nil
	default:
		return nil, p.errorf(tok, "expected an operator after %q, found %s", name, tok.describe())
	}
}

func (p *parser) parseIn(field string) (Node, error) {
	if _, err := p.expect(tokLBracket, `"["`); err != nil {
		return nil, err
	}
	in := In{Field: field}
	if p.peek().kind == tokRBracket {
		p.next()
		return in, nil
	}
	for {
		value, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		in.Values = append(in.Values, value)
		tok := p.next()
		if tok.kind == tokRBracket {
			return in, nil
		}
		if tok.kind != tokComma {
			return nil, p.errorf(tok, `expected "," or "]", found %s`, tok.describe())
		}
	}
}

func (p *parser) parseNumber() (float64, error) {
	tok := p.next()
	if tok.kind != tokWord {
		return 0, p.errorf(tok, "expected a number, found %s", tok.describe())
	}
	f, err := strconv.ParseFloat(tok.text, 64)
	if err != nil {
		return 0, p.errorf(tok, "expected a number, found %s", tok.describe())
	}
	return f, nil
}

// parseNumbers reads count comma separated numbers.
func (p *parser) parseNumbers(count int) ([]float64, error) {
	out := make([]float64, 0, count)
	for i := 0; i < count; i++ {
		if i > 0 {
			if _, err := p.expect(tokComma, `","`); err != nil {
				return nil, err
			}
		}
		f, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (p *parser) parseGeoRadius() (Node, error) {
	start := p.next()
	if _, err := p.expect(tokLParen, `"("`); err != nil {
		return nil, err
	}
	args, err := p.parseNumbers(3)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, `")"`); err != nil {
		return nil, err
	}
	center := core.GeoPoint{Lat: args[0], Lng: args[1]}
	if !center.Valid() {
		return nil, p.errorf(start, "invalid _geoRadius center (%v, %v)", args[0], args[1])
	}
	if args[2] < 0 {
		return nil, p.errorf(start, "negative _geoRadius distance %v", args[2])
	}
	return GeoRadius{Center: center, Meters: args[2]}, nil
}

func (p *parser) parsePoint() (core.GeoPoint, error) {
	open, err := p.expect(tokLBracket, `"["`)
	if err != nil {
		return core.GeoPoint{}, err
	}
	args, err := p.parseNumbers(2)
	if err != nil {
		return core.GeoPoint{}, err
	}
	if _, err := p.expect(tokRBracket, `"]"`); err != nil {
		return core.GeoPoint{}, err
	}
	pt := core.GeoPoint{Lat: args[0], Lng: args[1]}
	if !pt.Valid() {
		return core.GeoPoint{}, p.errorf(open, "invalid point [%v, %v]", args[0], args[1])
	}
	return pt, nil
}

func (p *parser) parseGeoBoundingBox() (Node, error) {
	start := p.next()
	if _, err := p.expect(tokLParen, `"("`); err != nil {
		return nil, err
	}
	topLeft, err := p.parsePoint()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokComma, `","`); err != nil {
		return nil, err
	}
	bottomRight, err := p.parsePoint()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, `")"`); err != nil {
		return nil, err
	}
	if topLeft.Lat < bottomRight.Lat {
		return nil, p.errorf(start, "_geoBoundingBox top latitude %v is below bottom latitude %v", topLeft.Lat, bottomRight.Lat)
	}
	return GeoBoundingBox{TopLeft: topLeft, BottomRight: bottomRight}, nil
}

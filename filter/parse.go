/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package filter

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Parse reads the OData filter subset produced by ToOData: comparisons with
// eq/ne/gt/ge/lt/le, and/or/not, parentheses and typed literals. It lets raw
// filter strings run against backends that do not speak OData natively.
func Parse(text string) (Expr, error) {
	toks, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, nil
	}
	p := &parser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, fmt.Errorf("filter: unexpected %q at offset %d", p.peek().text, p.peek().pos)
	}
	return e, nil
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokLiteral
	tokLParen
	tokRParen
)

type token struct {
	kind  tokenKind
	text  string
	value any
	pos   int
}

func tokenize(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '\'':
			str, next, err := readQuoted(s, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokLiteral, text: s[i:next], value: str, pos: i})
			i = next
		case c == '-' || c == '.' || unicode.IsDigit(c):
			j := i + 1
			for j < len(s) && strings.ContainsRune("0123456789.eE+-L", rune(s[j])) {
				j++
			}
			v, err := parseNumber(s[i:j])
			if err != nil {
				return nil, fmt.Errorf("filter: bad number %q at offset %d: %w", s[i:j], i, err)
			}
			toks = append(toks, token{kind: tokLiteral, text: s[i:j], value: v, pos: i})
			i = j
		case c == '_' || unicode.IsLetter(c):
			j := i + 1
			for j < len(s) && (s[j] == '_' || unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j]))) {
				j++
			}
			word := s[i:j]
			// typed literal prefixes: datetime'..', guid'..', X'..', binary'..'
			if j < len(s) && s[j] == '\'' {
				str, next, err := readQuoted(s, j)
				if err != nil {
					return nil, err
				}
				v, err := typedLiteral(word, str)
				if err != nil {
					return nil, fmt.Errorf("filter: bad literal at offset %d: %w", i, err)
				}
				toks = append(toks, token{kind: tokLiteral, text: s[i:next], value: v, pos: i})
				i = next
				continue
			}
			switch word {
			case "true":
				toks = append(toks, token{kind: tokLiteral, text: word, value: true, pos: i})
			case "false":
				toks = append(toks, token{kind: tokLiteral, text: word, value: false, pos: i})
			default:
				toks = append(toks, token{kind: tokIdent, text: word, pos: i})
			}
			i = j
		default:
			return nil, fmt.Errorf("filter: unexpected character %q at offset %d", c, i)
		}
	}
	return toks, nil
}

// readQuoted reads a single-quoted string starting at s[start] == '\''.
// A doubled quote is an escaped quote.
func readQuoted(s string, start int) (string, int, error) {
	var b strings.Builder
	i := start + 1
	for i < len(s) {
		if s[i] == '\'' {
			if i+1 < len(s) && s[i+1] == '\'' {
				b.WriteByte('\'')
				i += 2
				continue
			}
			return b.String(), i + 1, nil
		}
		b.WriteByte(s[i])
		i++
	}
	return "", 0, fmt.Errorf("filter: unterminated string at offset %d", start)
}

func parseNumber(text string) (any, error) {
	if strings.HasSuffix(text, "L") {
		return strconv.ParseInt(strings.TrimSuffix(text, "L"), 10, 64)
	}
	if strings.ContainsAny(text, ".eE") {
		return strconv.ParseFloat(text, 64)
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, err
	}
	if n >= -1<<31 && n < 1<<31 {
		return int32(n), nil
	}
	return n, nil
}

func typedLiteral(prefix, body string) (any, error) {
	switch strings.ToLower(prefix) {
	case "datetime":
		t, err := time.Parse(time.RFC3339Nano, body)
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil
	case "guid":
		return uuid.Parse(body)
	case "x", "binary":
		return hex.DecodeString(body)
	}
	return nil, fmt.Errorf("unknown literal prefix %q", prefix)
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) keyword(word string) bool {
	if p.done() {
		return false
	}
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	exprs := []Expr{left}
	for p.keyword("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, right)
	}
	return Or(exprs...), nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	exprs := []Expr{left}
	for p.keyword("and") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, right)
	}
	return And(exprs...), nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.keyword("not") {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Negation{Expr: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	if p.done() {
		return nil, fmt.Errorf("filter: unexpected end of input")
	}
	t := p.peek()
	switch t.kind {
	case tokLParen:
		p.pos++
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.done() || p.peek().kind != tokRParen {
			return nil, fmt.Errorf("filter: missing closing parenthesis for offset %d", t.pos)
		}
		p.pos++
		return e, nil
	case tokIdent:
		p.pos++
		if p.done() || p.peek().kind != tokIdent {
			return nil, fmt.Errorf("filter: expected operator after %q", t.text)
		}
		op := Op(strings.ToLower(p.peek().text))
		if !op.Valid() {
			return nil, fmt.Errorf("filter: unknown operator %q at offset %d", p.peek().text, p.peek().pos)
		}
		p.pos++
		if p.done() || p.peek().kind != tokLiteral {
			return nil, fmt.Errorf("filter: expected literal after %s %s", t.text, op)
		}
		lit := p.peek()
		p.pos++
		return Comparison{Property: t.text, Op: op, Value: lit.value}, nil
	}
	return nil, fmt.Errorf("filter: unexpected %q at offset %d", t.text, t.pos)
}

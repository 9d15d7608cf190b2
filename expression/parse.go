//
// Copyright 2023 Bytedance Ltd. and/or its affiliates
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package expression

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var ErrSyntax = fmt.Errorf("invalid predicate syntax")

const (
	andToken = "&"
	orToken  = "|"
	notToken = "!"
)

type tokenKind int8

const (
	tokEOF tokenKind = iota
	tokLBracket
	tokRBracket
	tokLParen
	tokRParen
	tokComma
	tokString
	tokNumber
	tokIdent
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	src []rune
	pos int
}

func (l *lexer) errorf(pos int, format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d", ErrSyntax, fmt.Sprintf(format, args...), pos)
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && unicode.IsSpace(l.src[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	r := l.src[l.pos]
	switch {
	case r == '[':
		l.pos++
		return token{kind: tokLBracket, text: "[", pos: start}, nil
	case r == ']':
		l.pos++
		return token{kind: tokRBracket, text: "]", pos: start}, nil
	case r == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case r == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case r == ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil
	case r == '\'' || r == '"':
		return l.readString(r)
	case r == '-' || r == '+' || r == '.' || unicode.IsDigit(r):
		return l.readNumber()
	case unicode.IsLetter(r) || r == '_':
		for l.pos < len(l.src) && (unicode.IsLetter(l.src[l.pos]) || unicode.IsDigit(l.src[l.pos]) || l.src[l.pos] == '_') {
			l.pos++
		}
		return token{kind: tokIdent, text: string(l.src[start:l.pos]), pos: start}, nil
	}
	return token{}, l.errorf(start, "unexpected character %q", r)
}

func (l *lexer) readString(quote rune) (token, error) {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.src) {
		r := l.src[l.pos]
		switch r {
		case quote:
			l.pos++
			return token{kind: tokString, text: sb.String(), pos: start}, nil
		case '\\':
			if l.pos+1 >= len(l.src) {
				return token{}, l.errorf(l.pos, "unterminated escape")
			}
			l.pos++
			switch esc := l.src[l.pos]; esc {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case 'r':
				sb.WriteRune('\r')
			case '\\', '\'', '"':
				sb.WriteRune(esc)
			default:
				sb.WriteRune('\\')
				sb.WriteRune(esc)
			}
		case '\n':
			return token{}, l.errorf(l.pos, "newline in string")
		default:
			sb.WriteRune(r)
		}
		l.pos++
	}
	return token{}, l.errorf(start, "unterminated string")
}

func (l *lexer) readNumber() (token, error) {
	start := l.pos
	if l.src[l.pos] == '-' || l.src[l.pos] == '+' {
		l.pos++
	}
	for l.pos < len(l.src) {
		r := l.src[l.pos]
		if unicode.IsDigit(r) || r == '.' || r == 'e' || r == 'E' || r == '_' {
			l.pos++
			continue
		}
		if (r == '-' || r == '+') && (l.src[l.pos-1] == 'e' || l.src[l.pos-1] == 'E') {
			l.pos++
			continue
		}
		break
	}
	text := string(l.src[start:l.pos])
	if text == "-" || text == "+" || text == "." {
		return token{}, l.errorf(start, "invalid number %q", text)
	}
	return token{kind: tokNumber, text: text, pos: start}, nil
}

// literal values produced by the parser
type tuple []any

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) literal() (any, error) {
	tok := p.tok
	switch tok.kind {
	case tokLBracket:
		items, err := p.sequence(tokRBracket)
		if err != nil {
			return nil, err
		}
		return items, nil
	case tokLParen:
		items, err := p.sequence(tokRParen)
		if err != nil {
			return nil, err
		}
		return tuple(items), nil
	case tokString:
		return tok.text, p.advance()
	case tokNumber:
		v, err := parseNumber(tok.text)
		if err != nil {
			return nil, p.lex.errorf(tok.pos, "invalid number %q", tok.text)
		}
		return v, p.advance()
	case tokIdent:
		var v any
		switch tok.text {
		case "True":
			v = true
		case "False":
			v = false
		case "None":
			v = nil
		default:
			return nil, p.lex.errorf(tok.pos, "unexpected name %q", tok.text)
		}
		return v, p.advance()
	case tokEOF:
		return nil, p.lex.errorf(tok.pos, "unexpected end of input")
	}
	return nil, p.lex.errorf(tok.pos, "unexpected %q", tok.text)
}

// sequence parses comma separated literals up to the closing token, the
// opening token being the current one. A trailing comma is accepted.
func (p *parser) sequence(closing tokenKind) ([]any, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	items := make([]any, 0)
	for p.tok.kind != closing {
		item, err := p.literal()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		if p.tok.kind != closing {
			return nil, p.lex.errorf(p.tok.pos, "expected ',' or closing bracket, got %q", p.tok.text)
		}
	}
	return items, p.advance()
}

func parseNumber(text string) (any, error) {
	text = strings.ReplaceAll(text, "_", "")
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return i, nil
	}
	return strconv.ParseFloat(text, 64)
}

// ParseLiteral parses a literal value (list, tuple, string, number, boolean or
// None). Tuples and lists are both returned as []any.
func ParseLiteral(text string) (any, error) {
	p := &parser{lex: &lexer{src: []rune(text)}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	v, err := p.literal()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.lex.errorf(p.tok.pos, "unexpected %q after value", p.tok.text)
	}
	return plain(v), nil
}

func plain(v any) any {
	switch t := v.(type) {
	case tuple:
		return plain([]any(t))
	case []any:
		res := make([]any, len(t))
		for i, item := range t {
			res[i] = plain(item)
		}
		return res
	}
	return v
}

// Parse turns predicate text into a tree. Blank text and "[]" both give the
// empty predicate.
func Parse(text string) (Node, error) {
	if strings.TrimSpace(text) == "" {
		return True, nil
	}
	v, err := ParseLiteral(text)
	if err != nil {
		return nil, err
	}
	terms, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: predicate must be a list, got %T", ErrSyntax, v)
	}
	return build(terms)
}

// build folds the prefix notation list into a tree. Terms are consumed from
// the end so each operator finds its operands on the stack; whatever remains
// is joined with an implicit and.
func build(terms []any) (Node, error) {
	stack := make([]Node, 0, len(terms))
	pop := func() Node {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return n
	}

	for i := len(terms) - 1; i >= 0; i-- {
		switch t := terms[i].(type) {
		case string:
			switch t {
			case notToken:
				if len(stack) < 1 {
					return nil, fmt.Errorf("%w: operator %q at term %d has no operand", ErrSyntax, t, i)
				}
				x := pop()
				stack = append(stack, Not{X: x})
			case andToken, orToken:
				if len(stack) < 2 {
					return nil, fmt.Errorf("%w: operator %q at term %d needs two operands", ErrSyntax, t, i)
				}
				a, b := pop(), pop()
				if t == andToken {
					stack = append(stack, And{a, b})
				} else {
					stack = append(stack, Or{a, b})
				}
			default:
				return nil, fmt.Errorf("%w: unknown logical operator %q at term %d", ErrSyntax, t, i)
			}
		case []any:
			leaf, err := buildLeaf(t)
			if err != nil {
				return nil, fmt.Errorf("term %d: %w", i, err)
			}
			stack = append(stack, leaf)
		default:
			return nil, fmt.Errorf("%w: term %d must be a tuple or a logical operator, got %T", ErrSyntax, i, t)
		}
	}

	if len(stack) == 1 {
		return stack[0], nil
	}
	res := make(And, 0, len(stack))
	for len(stack) > 0 {
		n := pop()
		res = append(res, n)
	}
	return res, nil
}

func buildLeaf(items []any) (Node, error) {
	if len(items) != 3 {
		return nil, fmt.Errorf("%w: a condition needs 3 elements, got %d", ErrSyntax, len(items))
	}
	op, ok := items[1].(string)
	if !ok {
		return nil, fmt.Errorf("%w: operator must be a string, got %T", ErrSyntax, items[1])
	}
	// (1, '=', 1) and (0, '=', 1)
	if left, ok := items[0].(int64); ok {
		right, ok := items[2].(int64)
		if ok && op == string(OpEqual) && right == 1 && (left == 0 || left == 1) {
			return Const(left == 1), nil
		}
		return nil, fmt.Errorf("%w: invalid constant leaf", ErrSyntax)
	}
	field, ok := items[0].(string)
	if !ok || field == "" {
		return nil, fmt.Errorf("%w: field must be a non empty string, got %v", ErrSyntax, items[0])
	}
	return Condition{Field: field, Operator: Operator(strings.ToLower(op)), Value: items[2]}, nil
}

// MustParse is like Parse but panics on error, for predicates built in code
func MustParse(text string) Node {
	n, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return n
}

// IsSyntaxError reports whether err comes from the parser
func IsSyntaxError(err error) bool {
	return errors.Is(err, ErrSyntax)
}

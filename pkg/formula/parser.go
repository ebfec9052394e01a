package formula

import (
	"fmt"
	"strings"
)

const (
	// MaxSourceLength bounds the size of a formula or transform script.
	MaxSourceLength = 10000
	maxDepth        = 256
)

type parser struct {
	tokens []token
	pos    int
	depth  int
}

// Parse turns a formula source into a syntax tree.
func Parse(source string) (Node, error) {
	if len(source) > MaxSourceLength {
		return nil, &SyntaxError{Message: fmt.Sprintf("formula exceeds %d characters", MaxSourceLength), Pos: MaxSourceLength}
	}
	if strings.TrimSpace(source) == "" {
		return nil, &SyntaxError{Message: "formula is empty", Pos: 0}
	}

	tokens, err := tokenize(source)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	node, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		if tok.is(")") {
			return nil, &SyntaxError{Message: "unbalanced parentheses: unexpected ')'", Pos: tok.pos}
		}
		return nil, &SyntaxError{Message: "unexpected token " + tok.describe(), Pos: tok.pos}
	}
	return node, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) advance() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(op string) (token, error) {
	tok := p.peek()
	if !tok.is(op) {
		if op == ")" && tok.kind == tokEOF {
			return tok, &SyntaxError{Message: "unbalanced parentheses: missing ')'", Pos: tok.pos}
		}
		return tok, &SyntaxError{Message: fmt.Sprintf("expected '%s' but found %s", op, tok.describe()), Pos: tok.pos}
	}
	return p.advance(), nil
}

func (p *parser) enter(pos int) error {
	p.depth++
	if p.depth > maxDepth {
		return &SyntaxError{Message: "formula is nested too deeply", Pos: pos}
	}
	return nil
}

func (p *parser) leave() {
	p.depth--
}

func (p *parser) parseExpression() (Node, error) {
	return p.parseConditional()
}

func (p *parser) parseConditional() (Node, error) {
	if err := p.enter(p.peek().pos); err != nil {
		return nil, err
	}
	defer p.leave()

	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.peek().is("?") {
		return cond, nil
	}
	q := p.advance()

	then, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(":"); err != nil {
		return nil, err
	}
	els, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	return &Conditional{Cond: cond, Then: then, Else: els, Pos: q.pos}, nil
}

// parseBinary handles one left-associative precedence level.
func (p *parser) parseBinary(next func() (Node, error), ops ...string) (Node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		matched := false
		for _, op := range ops {
			if tok.is(op) {
				matched = true
				break
			}
		}
		if !matched {
			return left, nil
		}
		p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: tok.text, Left: left, Right: right, Pos: tok.pos}
	}
}

func (p *parser) parseOr() (Node, error) {
	return p.parseBinary(p.parseAnd, "||")
}

func (p *parser) parseAnd() (Node, error) {
	return p.parseBinary(p.parseEquality, "&&")
}

func (p *parser) parseEquality() (Node, error) {
	return p.parseBinary(p.parseComparison, "==", "!=")
}

func (p *parser) parseComparison() (Node, error) {
	return p.parseBinary(p.parseAdditive, "<", "<=", ">", ">=")
}

func (p *parser) parseAdditive() (Node, error) {
	return p.parseBinary(p.parseMultiplicative, "+", "-")
}

func (p *parser) parseMultiplicative() (Node, error) {
	return p.parseBinary(p.parseUnary, "*", "/")
}

func (p *parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.is("!") || tok.is("-") {
		if err := p.enter(tok.pos); err != nil {
			return nil, err
		}
		defer p.leave()
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: tok.text, Operand: operand, Pos: tok.pos}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.advance()
	switch tok.kind {
	case tokNumber:
		return &Literal{Value: tok.num, Pos: tok.pos}, nil
	case tokString:
		return &Literal{Value: tok.text, Pos: tok.pos}, nil
	case tokTrue:
		return &Literal{Value: true, Pos: tok.pos}, nil
	case tokFalse:
		return &Literal{Value: false, Pos: tok.pos}, nil
	case tokNull:
		return &Literal{Value: nil, Pos: tok.pos}, nil
	case tokIdent:
		if p.peek().is("(") {
			return p.parseCall(tok)
		}
		return &Identifier{Name: tok.text, Path: strings.Split(tok.text, "."), Pos: tok.pos}, nil
	case tokEOF:
		return nil, &SyntaxError{Message: "unexpected end of formula", Pos: tok.pos}
	}

	switch tok.text {
	case "(":
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
		return inner, nil
	case "[":
		return p.parseArray(tok)
	case "{":
		return p.parseObject(tok)
	case ")":
		return nil, &SyntaxError{Message: "unbalanced parentheses: unexpected ')'", Pos: tok.pos}
	}
	return nil, &SyntaxError{Message: "unexpected token " + tok.describe(), Pos: tok.pos}
}

func (p *parser) parseCall(name token) (Node, error) {
	if strings.Contains(name.text, ".") {
		return nil, &SyntaxError{Message: fmt.Sprintf("%q is not a valid function name", name.text), Pos: name.pos}
	}
	p.advance() // (
	args, err := p.parseList(")")
	if err != nil {
		return nil, err
	}
	return &FunctionCall{Name: name.text, Args: args, Pos: name.pos}, nil
}

func (p *parser) parseArray(open token) (Node, error) {
	elems, err := p.parseList("]")
	if err != nil {
		return nil, err
	}
	return &ArrayLiteral{Elements: elems, Pos: open.pos}, nil
}

// parseList reads comma separated expressions up to and including the closing token.
func (p *parser) parseList(closing string) ([]Node, error) {
	var nodes []Node
	if p.peek().is(closing) {
		p.advance()
		return nodes, nil
	}
	for {
		n, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
		if p.peek().is(",") {
			p.advance()
			continue
		}
		if _, err := p.expect(closing); err != nil {
			return nil, err
		}
		return nodes, nil
	}
}

func (p *parser) parseObject(open token) (Node, error) {
	obj := &ObjectLiteral{Pos: open.pos}
	if p.peek().is("}") {
		p.advance()
		return obj, nil
	}
	seen := make(map[string]bool)
	for {
		keyTok := p.advance()
		var key string
		switch {
		case keyTok.kind == tokString:
			key = keyTok.text
		case keyTok.kind == tokIdent && !strings.Contains(keyTok.text, "."):
			key = keyTok.text
		default:
			return nil, &SyntaxError{Message: "expected object key but found " + keyTok.describe(), Pos: keyTok.pos}
		}
		if seen[key] {
			return nil, &SyntaxError{Message: fmt.Sprintf("duplicate object key %q", key), Pos: keyTok.pos}
		}
		seen[key] = true

		if _, err := p.expect(":"); err != nil {
			return nil, err
		}
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		obj.Keys = append(obj.Keys, key)
		obj.Values = append(obj.Values, value)

		if p.peek().is(",") {
			p.advance()
			continue
		}
		if _, err := p.expect("}"); err != nil {
			return nil, err
		}
		return obj, nil
	}
}

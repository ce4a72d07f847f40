package lang

import (
	"refinedb/codec"
	"refinedb/vm"
)

// parseExpr is the entry point, the lowest-precedence tier (spec §6:
// `&&`/`||`, left-associative).
func (p *Parser) parseExpr() (*vm.Expr, error) {
	left, err := p.parseEqLevel()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.lx.peek()
		var kind vm.ExprKind
		switch tok.text {
		case "&&":
			kind = vm.ExprAnd
		case "||":
			kind = vm.ExprOr
		default:
			return left, nil
		}
		p.lx.next()
		right, err := p.parseEqLevel()
		if err != nil {
			return nil, err
		}
		left = &vm.Expr{Kind: kind, Loc: tok.loc(p.file), A: left, B: right}
	}
}

// `==`/`!=`, left-associative.
func (p *Parser) parseEqLevel() (*vm.Expr, error) {
	left, err := p.parseAddLevel()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.lx.peek()
		var kind vm.ExprKind
		switch tok.text {
		case "==":
			kind = vm.ExprEq
		case "!=":
			kind = vm.ExprNe
		default:
			return left, nil
		}
		p.lx.next()
		right, err := p.parseAddLevel()
		if err != nil {
			return nil, err
		}
		left = &vm.Expr{Kind: kind, Loc: tok.loc(p.file), A: left, B: right}
	}
}

// `+`/`-`/`??`, left-associative.
func (p *Parser) parseAddLevel() (*vm.Expr, error) {
	left, err := p.parseConsLevel()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.lx.peek()
		var kind vm.ExprKind
		switch tok.text {
		case "+":
			kind = vm.ExprAdd
		case "-":
			kind = vm.ExprSub
		case "??":
			kind = vm.ExprOrElse
		default:
			return left, nil
		}
		p.lx.next()
		right, err := p.parseConsLevel()
		if err != nil {
			return nil, err
		}
		left = &vm.Expr{Kind: kind, Loc: tok.loc(p.file), A: left, B: right}
	}
}

// `:` (cons/prepend), right-associative.
func (p *Parser) parseConsLevel() (*vm.Expr, error) {
	left, err := p.parsePrefixExpr()
	if err != nil {
		return nil, err
	}
	if p.lx.peek().text == ":" {
		tok := p.lx.next()
		right, err := p.parseConsLevel()
		if err != nil {
			return nil, err
		}
		return &vm.Expr{Kind: vm.ExprPrepend, Loc: tok.loc(p.file), A: left, B: right}, nil
	}
	return left, nil
}

// opSpec describes one keyword operator's static argument and expression
// arity, used by parsePrefixExpr to drive a single generic parsing routine
// instead of one hand-written function per keyword.
type opSpec struct {
	kind      vm.ExprKind
	hasStatic bool // '(' ident ')' immediately after the keyword
	arity     int  // number of expression arguments taken by juxtaposition/'$'
	bracketed bool // args appear as '[' expr, expr, ... ']' (call only)
}

var opTable = map[string]opSpec{
	"create_map":      {kind: vm.ExprCreateMap, arity: 0},
	"create_list":     {kind: vm.ExprCreateList, hasStatic: true, arity: 0},
	"m_insert":        {kind: vm.ExprMInsert, hasStatic: true, arity: 2},
	"s_insert":        {kind: vm.ExprSInsert, arity: 2},
	"s_delete":        {kind: vm.ExprSDelete, arity: 2},
	"m_delete":        {kind: vm.ExprMDelete, hasStatic: true, arity: 1},
	"t_insert":        {kind: vm.ExprTInsert, hasStatic: true, arity: 2},
	"build_table":     {kind: vm.ExprBuildTable, hasStatic: true, arity: 1},
	"build_set":       {kind: vm.ExprBuildSet, arity: 1},
	"point_get":       {kind: vm.ExprPointGet, arity: 2},
	"select":          {kind: vm.ExprSelect, arity: 2},
	"is_present":      {kind: vm.ExprIsPresent, arity: 1},
	"is_null":         {kind: vm.ExprIsNull, arity: 1},
	"pop":             {kind: vm.ExprPop, arity: 1},
	"head":            {kind: vm.ExprHead, arity: 1},
	"unwrap_optional": {kind: vm.ExprUnwrapOptional, arity: 1},
	"call":            {kind: vm.ExprCall, hasStatic: true, bracketed: true},
	"reduce":          {kind: vm.ExprReduce, hasStatic: true, arity: 2},
	"range_reduce":    {kind: vm.ExprRangeReduce, hasStatic: true, arity: 3},
}

// parsePrefixExpr handles the spec's "prefix" precedence tier: unary `!`
// and every keyword operator (spec §6: "builders, call, reduce, head, pop,
// point_get, s_*, m_*, t_*, build_*, select"). A multi-argument operator's
// trailing argument slot is filled by parseArgSlot, which recognises a
// leading `$` as "the rest of the expression, at full precedence" (spec §6:
// "`$` introduces a right-associated sub-expression").
func (p *Parser) parsePrefixExpr() (*vm.Expr, error) {
	tok := p.lx.peek()
	if tok.text == "!" {
		p.lx.next()
		a, err := p.parseArgSlot()
		if err != nil {
			return nil, err
		}
		return &vm.Expr{Kind: vm.ExprNot, Loc: tok.loc(p.file), A: a}, nil
	}
	if tok.kind == tokIdent {
		if spec, ok := opTable[tok.text]; ok {
			return p.parseOperator(tok, spec)
		}
	}
	return p.parsePrimaryPostfix()
}

func (p *Parser) parseOperator(tok token, spec opSpec) (*vm.Expr, error) {
	p.lx.next() // keyword

	e := &vm.Expr{Kind: spec.kind, Loc: tok.loc(p.file)}
	if spec.hasStatic {
		if err := p.expect("("); err != nil {
			return nil, err
		}
		name := p.lx.next()
		e.Name = p.pool.intern(name.text)
		if err := p.expect(")"); err != nil {
			return nil, err
		}
	}

	if spec.bracketed {
		if err := p.expect("["); err != nil {
			return nil, err
		}
		for p.lx.peek().text != "]" {
			a, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			e.Args = append(e.Args, a)
			if p.lx.peek().text == "," {
				p.lx.next()
				continue
			}
			break
		}
		if err := p.expect("]"); err != nil {
			return nil, err
		}
		return e, nil
	}

	slots := make([]**vm.Expr, 0, spec.arity)
	switch spec.arity {
	case 0:
	case 1:
		slots = append(slots, &e.A)
	case 2:
		slots = append(slots, &e.A, &e.B)
	case 3:
		slots = append(slots, &e.A, &e.B, &e.C)
	}
	for i, slot := range slots {
		var arg *vm.Expr
		var err error
		if i == len(slots)-1 {
			arg, err = p.parseArgSlot()
		} else {
			arg, err = p.parsePrefixExpr()
		}
		if err != nil {
			return nil, err
		}
		*slot = arg
	}
	return e, nil
}

// parseArgSlot parses the final argument of a keyword operator: either the
// whole rest of the expression after a `$`, or a single tight (prefix-level)
// expression otherwise.
func (p *Parser) parseArgSlot() (*vm.Expr, error) {
	if p.lx.peek().text == "$" {
		p.lx.next()
		return p.parseExpr()
	}
	return p.parsePrefixExpr()
}

func (p *Parser) parsePrimaryPostfix() (*vm.Expr, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.lx.peek().text == "." {
		dot := p.lx.next()
		field := p.lx.next()
		base = &vm.Expr{Kind: vm.ExprField, Loc: dot.loc(p.file), A: base, Name: p.pool.intern(field.text)}
	}
	return base, nil
}

func (p *Parser) parsePrimary() (*vm.Expr, error) {
	tok := p.lx.peek()
	switch {
	case tok.text == "(":
		p.lx.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return e, nil
	case tok.kind == tokInt:
		p.lx.next()
		return &vm.Expr{Kind: vm.ExprConst, Loc: tok.loc(p.file), Lit: codec.Int64(tok.ival)}, nil
	case tok.kind == tokString:
		p.lx.next()
		return &vm.Expr{Kind: vm.ExprConst, Loc: tok.loc(p.file), Lit: codec.String(tok.text)}, nil
	case tok.kind == tokHexBytes:
		p.lx.next()
		b, err := decodeHexBytes(tok.text)
		if err != nil {
			return nil, p.errorf(tok, "%v", err)
		}
		return &vm.Expr{Kind: vm.ExprConst, Loc: tok.loc(p.file), Lit: codec.Bytes(b)}, nil
	case tok.kind == tokIdent && tok.text == "true":
		p.lx.next()
		return &vm.Expr{Kind: vm.ExprConst, Loc: tok.loc(p.file), Lit: codec.Bool_(true)}, nil
	case tok.kind == tokIdent && tok.text == "false":
		p.lx.next()
		return &vm.Expr{Kind: vm.ExprConst, Loc: tok.loc(p.file), Lit: codec.Bool_(false)}, nil
	case tok.kind == tokIdent && tok.text == "null":
		p.lx.next()
		if err := p.expect("<"); err != nil {
			return nil, err
		}
		ty := p.lx.next()
		if err := p.expect(">"); err != nil {
			return nil, err
		}
		return &vm.Expr{Kind: vm.ExprConst, Loc: tok.loc(p.file), Lit: codec.Null(ty.text)}, nil
	case tok.kind == tokIdent && tok.text == "root" && p.lx.peekAt(1).text == ".":
		p.lx.next()
		p.lx.next()
		name := p.lx.next()
		return &vm.Expr{Kind: vm.ExprNodeRef, Loc: tok.loc(p.file), Name: p.pool.intern(name.text)}, nil
	case tok.kind == tokIdent:
		p.lx.next()
		return &vm.Expr{Kind: vm.ExprNodeRef, Loc: tok.loc(p.file), Name: p.pool.intern(tok.text)}, nil
	default:
		return nil, p.errorf(tok, "unexpected token %q", tok.text)
	}
}

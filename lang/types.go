package lang

import "refinedb/schema"

var primitiveNames = map[string]schema.Primitive{
	"int64":  schema.Int64,
	"double": schema.Double,
	"string": schema.String,
	"bytes":  schema.Bytes,
	"bool":   schema.Bool,
}

// parseTypeExpr parses a type expression and any trailing '?' optional
// markers (spec §6 grammar: TypeExpr, applied left to right so `T??` would
// double-wrap, matching how schema.Optional composes).
func (p *Parser) parseTypeExpr() (*schema.Type, error) {
	t, err := p.parseTypeAtom()
	if err != nil {
		return nil, err
	}
	for p.lx.peek().text == "?" {
		p.lx.next()
		t = schema.Optional(t)
	}
	return t, nil
}

func (p *Parser) parseTypeAtom() (*schema.Type, error) {
	tok := p.lx.peek()
	if tok.kind == tokIdent && tok.text == "set" && p.lx.peekAt(1).text == "<" {
		p.lx.next()
		p.lx.next()
		elem, err := p.parseTypeExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(">"); err != nil {
			return nil, err
		}
		return schema.SetOf(elem), nil
	}

	name := p.lx.next()
	if name.kind != tokIdent {
		return nil, p.errorf(name, "expected a type, got %q", name.text)
	}
	if p.params != nil && p.params[name.text] {
		return schema.GenericParam(name.text), nil
	}
	if prim, ok := primitiveNames[name.text]; ok {
		return schema.Primitive_(prim), nil
	}
	if alias, ok := p.aliases[name.text]; ok {
		return alias, nil
	}
	def, ok := p.defs[name.text]
	if !ok {
		return nil, p.errorf(name, "undefined type %q", name.text)
	}
	if p.lx.peek().text == "<" {
		p.lx.next()
		var args []*schema.Type
		for {
			a, err := p.parseTypeExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.lx.peek().text == "," {
				p.lx.next()
				continue
			}
			break
		}
		if err := p.expect(">"); err != nil {
			return nil, err
		}
		return schema.GenericTableRef(def, args), nil
	}
	return schema.TableRef(def), nil
}

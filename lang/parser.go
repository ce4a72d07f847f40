package lang

import (
	"refinedb/errs"
	"refinedb/schema"
	"refinedb/vm"
)

// Parser turns one source file into a *schema.Schema (pre-check) and a
// *vm.Program (pre-check). Callers still run schema/check.Check and
// vm.NewChecker(...).Check before executing anything — this package only
// builds the raw graphs, matching how the teacher's own parser packages
// hand a freshly-built core.Database to a separate Validate step.
type Parser struct {
	file    string
	lx      *lexer
	defs    map[string]*schema.TableDef
	aliases map[string]*schema.Type
	params  map[string]bool // generic parameters in scope while parsing one type's fields
	pool    *internPool
}

// ParseProgram parses src (one compilation unit mixing schema type
// declarations, an export list, and assembly graphs) into their unchecked
// IR forms.
func ParseProgram(file, src string) (*schema.Schema, *vm.Program, error) {
	p := &Parser{file: file, defs: map[string]*schema.TableDef{}, aliases: map[string]*schema.Type{}, pool: newInternPool()}
	p.registerDecls(src)

	p.lx = newLexer(src)
	sch := &schema.Schema{}
	prog := &vm.Program{Graphs: map[string]*vm.Graph{}}

	for p.lx.peek().kind != tokEOF {
		if err := p.parseTopLevel(sch, prog); err != nil {
			return nil, nil, err
		}
	}
	for _, d := range p.defs {
		sch.Defs = append(sch.Defs, d)
	}
	return sch, prog, nil
}

// registerDecls runs a pre-pass over src, registering a stub *schema.TableDef
// for every `type Name ... { ... }` declaration (by name, before any field
// is parsed) so that self- and mutually-recursive field types resolve to the
// same TableDef pointer the checker expects, without a second parser pass
// over already-parsed fields.
func (p *Parser) registerDecls(src string) {
	lx := newLexer(src)
	for {
		t := lx.next()
		if t.kind == tokEOF {
			break
		}
		if t.kind != tokIdent || t.text != "type" {
			continue
		}
		name := lx.next()
		params := p.skipGenericParamList(lx)
		if lx.peek().text == "=" {
			// alias declaration; no TableDef to register.
			for lx.peek().text != ";" && lx.peek().kind != tokEOF {
				lx.next()
			}
			continue
		}
		p.defs[name.text] = &schema.TableDef{Name: p.pool.intern(name.text), Params: params}
		if lx.peek().text == "{" {
			depth := 0
			for {
				tt := lx.next()
				if tt.kind == tokEOF {
					break
				}
				if tt.text == "{" {
					depth++
				}
				if tt.text == "}" {
					depth--
					if depth == 0 {
						break
					}
				}
			}
		}
	}
}

// skipGenericParamList reads `<A, B, ...>` if present, returning the param
// names; it leaves lx positioned just past the closing '>', or does nothing
// if no '<' follows.
func (p *Parser) skipGenericParamList(lx *lexer) []string {
	if lx.peek().text != "<" {
		return nil
	}
	lx.next()
	var names []string
	for {
		names = append(names, p.pool.intern(lx.next().text))
		if lx.peek().text == "," {
			lx.next()
			continue
		}
		break
	}
	lx.next() // '>'
	return names
}

func (p *Parser) parseTopLevel(sch *schema.Schema, prog *vm.Program) error {
	tok := p.lx.peek()
	switch {
	case tok.kind == tokIdent && tok.text == "type":
		return p.parseTypeDecl()
	case tok.kind == tokIdent && tok.text == "export" && p.lx.peekAt(1).text == "graph":
		p.lx.next()
		return p.parseGraphDecl(prog, true)
	case tok.kind == tokIdent && tok.text == "export":
		return p.parseExportDecl(sch)
	case tok.kind == tokIdent && tok.text == "graph":
		return p.parseGraphDecl(prog, false)
	default:
		return p.errorf(tok, "unexpected token %q at top level", tok.text)
	}
}

func (p *Parser) parseTypeDecl() error {
	p.lx.next() // 'type'
	name := p.lx.next()
	savedParams := p.params
	if params := p.skipGenericParamList(p.lx); params != nil {
		p.params = map[string]bool{}
		for _, n := range params {
			p.params[n] = true
		}
	} else {
		p.params = nil
	}
	defer func() { p.params = savedParams }()

	if p.lx.peek().text == "=" {
		p.lx.next()
		t, err := p.parseTypeExpr()
		if err != nil {
			return err
		}
		if err := p.expect(";"); err != nil {
			return err
		}
		p.aliases[name.text] = t
		return nil
	}

	def := p.defs[name.text]
	if def == nil {
		return p.errorf(name, "internal: type %q was not pre-registered", name.text)
	}
	if err := p.expect("{"); err != nil {
		return err
	}
	var fields []*schema.Field
	for p.lx.peek().text != "}" {
		var anns []schema.Annotation
		for p.lx.peek().kind == tokIdent && len(p.lx.peek().text) > 0 && p.lx.peek().text[0] == '@' {
			anns = append(anns, schema.Annotation(p.lx.next().text[1:]))
		}
		fname := p.lx.next()
		if err := p.expect(":"); err != nil {
			return err
		}
		ft, err := p.parseTypeExpr()
		if err != nil {
			return err
		}
		fields = append(fields, &schema.Field{Name: p.pool.intern(fname.text), Type: ft, Annotations: anns})
		if p.lx.peek().text == "," {
			p.lx.next()
			continue
		}
		break
	}
	if err := p.expect("}"); err != nil {
		return err
	}
	def.Fields = fields
	for _, f := range fields {
		if f.HasAnnotation(schema.AnnotationPrimary) {
			def.PrimaryKey = f
		}
	}
	return nil
}

func (p *Parser) parseExportDecl(sch *schema.Schema) error {
	p.lx.next() // 'export'
	t, err := p.parseTypeExpr()
	if err != nil {
		return err
	}
	name := p.lx.next()
	if err := p.expect(";"); err != nil {
		return err
	}
	sch.Exports = append(sch.Exports, &schema.Export{Name: p.pool.intern(name.text), Type: t})
	return nil
}

func (p *Parser) parseGraphDecl(prog *vm.Program, exported bool) error {
	p.lx.next() // 'graph'
	name := p.lx.next()
	if err := p.expect("("); err != nil {
		return err
	}
	var params []vm.Param
	for p.lx.peek().text != ")" {
		pname := p.lx.next()
		if err := p.expect(":"); err != nil {
			return err
		}
		pt, err := p.parseTypeExpr()
		if err != nil {
			return err
		}
		params = append(params, vm.Param{Name: p.pool.intern(pname.text), Type: pt})
		if p.lx.peek().text == "," {
			p.lx.next()
			continue
		}
		break
	}
	if err := p.expect(")"); err != nil {
		return err
	}
	var ret *schema.Type
	if p.lx.peek().text == ":" {
		p.lx.next()
		rt, err := p.parseTypeExpr()
		if err != nil {
			return err
		}
		ret = rt
	}
	body, err := p.parseBlock()
	if err != nil {
		return err
	}
	g := &vm.Graph{Name: p.pool.intern(name.text), Exported: exported, Params: params, Return: ret, Body: body}
	prog.Graphs[g.Name] = g
	prog.Order = append(prog.Order, g.Name)
	return nil
}

func (p *Parser) parseBlock() ([]*vm.Stmt, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	var stmts []*vm.Stmt
	for p.lx.peek().text != "}" {
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	if err := p.expect("}"); err != nil {
		return nil, err
	}
	return stmts, nil
}

func (p *Parser) parseStmt() (*vm.Stmt, error) {
	tok := p.lx.peek()
	switch {
	case tok.kind == tokIdent && tok.text == "if":
		return p.parseIfStmt()
	case tok.kind == tokIdent && tok.text == "return":
		p.lx.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(";"); err != nil {
			return nil, err
		}
		return &vm.Stmt{Kind: vm.StmtReturn, Loc: tok.loc(p.file), Expr: e}, nil
	case tok.kind == tokIdent && tok.text == "throw":
		p.lx.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(";"); err != nil {
			return nil, err
		}
		return &vm.Stmt{Kind: vm.StmtThrow, Loc: tok.loc(p.file), Expr: e}, nil
	case tok.kind == tokIdent && p.lx.peekAt(1).text == "=":
		p.lx.next()
		p.lx.next() // '='
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(";"); err != nil {
			return nil, err
		}
		return &vm.Stmt{Kind: vm.StmtNodeDef, Loc: tok.loc(p.file), NodeName: p.pool.intern(tok.text), Expr: e}, nil
	default:
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(";"); err != nil {
			return nil, err
		}
		return &vm.Stmt{Kind: vm.StmtExpr, Loc: tok.loc(p.file), Expr: e}, nil
	}
}

func (p *Parser) parseIfStmt() (*vm.Stmt, error) {
	tok := p.lx.next() // 'if'
	if err := p.expect("("); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	var els []*vm.Stmt
	if p.lx.peek().kind == tokIdent && p.lx.peek().text == "else" {
		p.lx.next()
		els, err = p.parseBlock()
		if err != nil {
			return nil, err
		}
	}
	return &vm.Stmt{Kind: vm.StmtIf, Loc: tok.loc(p.file), Cond: cond, Then: then, Else: els}, nil
}

func (p *Parser) expect(text string) error {
	t := p.lx.next()
	if t.text != text {
		return p.errorf(t, "expected %q, got %q", text, t.text)
	}
	return nil
}

func (p *Parser) errorf(t token, format string, args ...any) error {
	return errs.At(errs.ParseError, t.loc(p.file), format, args...)
}

// Package schema is RefineDB's type graph (C3): named types, generics,
// annotations, and exports, as resolved after parsing and before storage
// planning. Schema values are immutable once built by schema/check.
package schema

// Primitive enumerates the scalar leaf types (spec §3.1).
type Primitive string

const (
	Int64  Primitive = "int64"
	Double Primitive = "double"
	String Primitive = "string"
	Bytes  Primitive = "bytes"
	Bool   Primitive = "bool"
)

// KeyEncodable reports whether values of this primitive can serve as a
// @primary field (spec §4.3: int64, string, bytes).
func (p Primitive) KeyEncodable() bool {
	switch p {
	case Int64, String, Bytes:
		return true
	default:
		return false
	}
}

// TypeKind discriminates the Type variant.
type TypeKind int

const (
	KindPrimitive TypeKind = iota
	KindOptional
	KindSet
	KindTable
	KindGenericParam // an unresolved reference to a table's own type parameter
)

// Type is a node in the schema's type graph, produced after generic
// specialisation. Tables and Sets hold a pointer to their referenced
// TableDef/element Type so that recursive structures are represented as a
// graph (shared nodes), never unfolded infinitely.
type Type struct {
	Kind      TypeKind
	Primitive Primitive // valid iff Kind == KindPrimitive
	Elem      *Type     // valid iff Kind == KindOptional or KindSet (element/table type)
	Table     *TableDef // valid iff Kind == KindTable
	ParamName string    // valid iff Kind == KindGenericParam

	// Args holds instantiation arguments for an unresolved reference to a
	// generic TableDef (len(Table.Params) == len(Args)). Once resolved by
	// schema/check, a Type's Table points at the specialised (argument-free)
	// definition and Args is nil.
	Args []*Type
}

func (t *Type) String() string {
	if t == nil {
		return "<nil type>"
	}
	switch t.Kind {
	case KindPrimitive:
		return string(t.Primitive)
	case KindOptional:
		return t.Elem.String() + "?"
	case KindSet:
		return "set<" + t.Elem.String() + ">"
	case KindTable:
		return t.Table.Name
	case KindGenericParam:
		return t.ParamName
	default:
		return "?"
	}
}

// IsOptional reports whether t is `T?` for some T.
func (t *Type) IsOptional() bool { return t.Kind == KindOptional }

// Unfold strips a single layer of optional, returning the element type and
// whether one was stripped. Used when checking recursive back-edges, which
// unfold through optionals but not through sets.
func (t *Type) Unfold() (*Type, bool) {
	if t.Kind == KindOptional {
		return t.Elem, true
	}
	return t, false
}

func Primitive_(p Primitive) *Type    { return &Type{Kind: KindPrimitive, Primitive: p} }
func Optional(elem *Type) *Type       { return &Type{Kind: KindOptional, Elem: elem} }
func SetOf(elem *Type) *Type          { return &Type{Kind: KindSet, Elem: elem} }
func TableRef(def *TableDef) *Type { return &Type{Kind: KindTable, Table: def} }

// GenericTableRef builds an unresolved reference to a generic table
// definition with the given instantiation arguments, as produced by a
// schema builder before schema/check.Check specialises it.
func GenericTableRef(def *TableDef, args []*Type) *Type {
	return &Type{Kind: KindTable, Table: def, Args: args}
}
func GenericParam(name string) *Type  { return &Type{Kind: KindGenericParam, ParamName: name} }

// Annotation is a field-level marker. Only `@primary` is defined by spec
// §3.1/§4.3; the set exists to leave room for future annotations without
// changing the Field shape.
type Annotation string

const (
	AnnotationPrimary Annotation = "primary"
)

// Field is an ordered named member of a table, carrying at most one
// annotation in the surveyed surface.
type Field struct {
	Name        string
	Type        *Type
	Annotations []Annotation
}

// HasAnnotation reports whether f carries ann.
func (f *Field) HasAnnotation(ann Annotation) bool {
	for _, a := range f.Annotations {
		if a == ann {
			return true
		}
	}
	return false
}

// TableDef is a named record type, possibly generic. An unspecialised
// TableDef (len(Params) > 0) is never directly usable as a field or export
// type; schema/check.Check specialises it into concrete TableDefs with
// Params resolved to arguments.
type TableDef struct {
	Name       string
	Params     []string // generic parameter names, empty for non-generic tables
	Fields     []*Field
	PrimaryKey *Field // nil if no field carries @primary

	// origin/args identify which (unspecialised def, argument types) this
	// table was specialised from. schema/check does not populate them; it
	// memoises specialisations by a "Name<args>" string key of its own.
	origin *TableDef
	args   []*Type
}

// FieldByName returns the field named n, or nil.
func (t *TableDef) FieldByName(n string) *Field {
	for _, f := range t.Fields {
		if f.Name == n {
			return f
		}
	}
	return nil
}

// Export is a top-level named field of the schema root (spec §3.2).
type Export struct {
	Name string
	Type *Type
}

// Schema is an ordered list of type definitions plus exports; the schema
// root is a virtual record whose fields are the exports.
type Schema struct {
	Defs    []*TableDef // as declared (generic defs included); in a schema returned by schema/check.Check, the specialised defs
	Exports []*Export
}

// ExportByName returns the export named n, or nil.
func (s *Schema) ExportByName(n string) *Export {
	for _, e := range s.Exports {
		if e.Name == n {
			return e
		}
	}
	return nil
}

// DefByName returns the declared (possibly generic) TableDef named n.
func (s *Schema) DefByName(n string) *TableDef {
	for _, d := range s.Defs {
		if d.Name == n {
			return d
		}
	}
	return nil
}

// ArgKey is a stable memoisation key for a specialisation argument tuple.
func ArgKey(args []*Type) string {
	key := ""
	for i, a := range args {
		if i > 0 {
			key += ","
		}
		key += a.String()
	}
	return key
}

// SpecialisedName renders the display name for def<args...>, e.g. "Box<int64>".
func SpecialisedName(defName string, args []*Type) string {
	if len(args) == 0 {
		return defName
	}
	s := defName + "<"
	for i, a := range args {
		if i > 0 {
			s += ", "
		}
		s += a.String()
	}
	return s + ">"
}

package check_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"refinedb/schema"
	"refinedb/schema/check"
)

// buildSimpleSchema mirrors spec §8 scenario 1:
//   type T { @primary id: string, n: int64 } export set<T> s;
func buildSimpleSchema() *schema.Schema {
	t := &schema.TableDef{
		Name: "T",
		Fields: []*schema.Field{
			{Name: "id", Type: schema.Primitive_(schema.String), Annotations: []schema.Annotation{schema.AnnotationPrimary}},
			{Name: "n", Type: schema.Primitive_(schema.Int64)},
		},
	}
	return &schema.Schema{
		Defs:    []*schema.TableDef{t},
		Exports: []*schema.Export{{Name: "s", Type: schema.SetOf(schema.TableRef(t))}},
	}
}

func TestCheckSimpleSchema(t *testing.T) {
	out, err := check.Check(buildSimpleSchema())
	require.NoError(t, err)
	exp := out.ExportByName("s")
	require.NotNil(t, exp)
	require.Equal(t, schema.KindSet, exp.Type.Kind)
	require.NotNil(t, exp.Type.Elem.Table.PrimaryKey)
	require.Equal(t, "id", exp.Type.Elem.Table.PrimaryKey.Name)
}

func TestCheckRejectsDuplicatePrimary(t *testing.T) {
	tbl := &schema.TableDef{
		Name: "Bad",
		Fields: []*schema.Field{
			{Name: "a", Type: schema.Primitive_(schema.Int64), Annotations: []schema.Annotation{schema.AnnotationPrimary}},
			{Name: "b", Type: schema.Primitive_(schema.Int64), Annotations: []schema.Annotation{schema.AnnotationPrimary}},
		},
	}
	s := &schema.Schema{Defs: []*schema.TableDef{tbl}, Exports: []*schema.Export{{Name: "x", Type: schema.TableRef(tbl)}}}
	_, err := check.Check(s)
	require.Error(t, err)
}

func TestCheckRejectsNonKeyEncodablePrimary(t *testing.T) {
	tbl := &schema.TableDef{
		Name: "Bad",
		Fields: []*schema.Field{
			{Name: "a", Type: schema.Primitive_(schema.Double), Annotations: []schema.Annotation{schema.AnnotationPrimary}},
		},
	}
	s := &schema.Schema{Defs: []*schema.TableDef{tbl}, Exports: []*schema.Export{{Name: "x", Type: schema.TableRef(tbl)}}}
	_, err := check.Check(s)
	require.Error(t, err)
}

func TestCheckRejectsIllegalRecursion(t *testing.T) {
	// type A { self: A }  -- direct cycle, no optional/set indirection.
	a := &schema.TableDef{Name: "A"}
	a.Fields = []*schema.Field{{Name: "self", Type: schema.TableRef(a)}}
	s := &schema.Schema{Defs: []*schema.TableDef{a}, Exports: []*schema.Export{{Name: "root", Type: schema.TableRef(a)}}}

	_, err := check.Check(s)
	require.Error(t, err)
}

func TestCheckAllowsRecursionThroughOptional(t *testing.T) {
	// type Node { next: Node? }
	n := &schema.TableDef{Name: "Node"}
	n.Fields = []*schema.Field{{Name: "next", Type: schema.Optional(schema.TableRef(n))}}
	s := &schema.Schema{Defs: []*schema.TableDef{n}, Exports: []*schema.Export{{Name: "root", Type: schema.TableRef(n)}}}

	_, err := check.Check(s)
	require.NoError(t, err)
}

func TestCheckSpecialisesGenericsByArgumentTuple(t *testing.T) {
	// type Box<T> { @primary id: string, value: T }
	box := &schema.TableDef{
		Name:   "Box",
		Params: []string{"T"},
		Fields: []*schema.Field{
			{Name: "id", Type: schema.Primitive_(schema.String), Annotations: []schema.Annotation{schema.AnnotationPrimary}},
			{Name: "value", Type: schema.GenericParam("T")},
		},
	}
	s := &schema.Schema{
		Defs: []*schema.TableDef{box},
		Exports: []*schema.Export{
			{Name: "ints", Type: schema.SetOf(schema.GenericTableRef(box, []*schema.Type{schema.Primitive_(schema.Int64)}))},
			{Name: "strs", Type: schema.SetOf(schema.GenericTableRef(box, []*schema.Type{schema.Primitive_(schema.String)}))},
		},
	}

	out, err := check.Check(s)
	require.NoError(t, err)
	ints := out.ExportByName("ints").Type.Elem.Table
	strs := out.ExportByName("strs").Type.Elem.Table
	require.NotSame(t, ints, strs)
	require.Equal(t, schema.Int64, ints.FieldByName("value").Type.Primitive)
	require.Equal(t, schema.String, strs.FieldByName("value").Type.Primitive)
}

package plan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"refinedb/plan"
	"refinedb/schema"
	"refinedb/schema/check"
)

// sequentialKeys hands out deterministic, distinguishable 16-byte keys so
// plan-shape tests don't depend on UUID randomness.
type sequentialKeys struct{ n byte }

func (s *sequentialKeys) NextKey() (plan.Key, error) {
	s.n++
	var k plan.Key
	k[15] = s.n
	return k, nil
}

func simpleSchema(t *testing.T) *schema.Schema {
	t.Helper()
	tbl := &schema.TableDef{
		Name: "T",
		Fields: []*schema.Field{
			{Name: "id", Type: schema.Primitive_(schema.String), Annotations: []schema.Annotation{schema.AnnotationPrimary}},
			{Name: "n", Type: schema.Primitive_(schema.Int64)},
		},
	}
	s := &schema.Schema{Defs: []*schema.TableDef{tbl}, Exports: []*schema.Export{{Name: "s", Type: schema.SetOf(schema.TableRef(tbl))}}}
	out, err := check.Check(s)
	require.NoError(t, err)
	return out
}

func TestBuildPlanDeterministic(t *testing.T) {
	s := simpleSchema(t)
	p1, err := plan.NewBuilder(&sequentialKeys{}).Build(s)
	require.NoError(t, err)
	p2, err := plan.NewBuilder(&sequentialKeys{}).Build(s)
	require.NoError(t, err)

	b1, err := plan.MarshalTOML(p1)
	require.NoError(t, err)
	b2, err := plan.MarshalTOML(p2)
	require.NoError(t, err)
	require.Equal(t, string(b1), string(b2), "same schema + fixed key source must yield the same plan shape")
}

func TestBuildPlanSetElementFlattened(t *testing.T) {
	s := simpleSchema(t)
	p, err := plan.NewBuilder(&sequentialKeys{}).Build(s)
	require.NoError(t, err)
	root := p.Exports["s"]
	require.NotNil(t, root.Set)
	require.True(t, root.Set.Flattened)
}

func TestBuildPlanRecursiveBackEdge(t *testing.T) {
	node := &schema.TableDef{Name: "Node"}
	node.Fields = []*schema.Field{
		{Name: "id", Type: schema.Primitive_(schema.String), Annotations: []schema.Annotation{schema.AnnotationPrimary}},
		{Name: "next", Type: schema.Optional(schema.TableRef(node))},
	}
	s := &schema.Schema{Defs: []*schema.TableDef{node}, Exports: []*schema.Export{{Name: "root", Type: schema.TableRef(node)}}}
	checked, err := check.Check(s)
	require.NoError(t, err)

	p, err := plan.NewBuilder(&sequentialKeys{}).Build(checked)
	require.NoError(t, err)
	root := p.Exports["root"]
	next := root.Children["next"]
	require.NotNil(t, next)
	require.False(t, next.SubspaceReference.IsZero())
	require.Equal(t, root.Key, next.SubspaceReference)
}

func TestPlanTOMLRoundTrip(t *testing.T) {
	s := simpleSchema(t)
	p, err := plan.NewBuilder(&sequentialKeys{}).Build(s)
	require.NoError(t, err)

	data, err := plan.MarshalTOML(p)
	require.NoError(t, err)
	back, err := plan.UnmarshalTOML(data)
	require.NoError(t, err)

	data2, err := plan.MarshalTOML(back)
	require.NoError(t, err)
	require.Equal(t, string(data), string(data2))
}

func TestMigrationPreservesKeys(t *testing.T) {
	tbl := &schema.TableDef{
		Name: "T",
		Fields: []*schema.Field{
			{Name: "id", Type: schema.Primitive_(schema.String), Annotations: []schema.Annotation{schema.AnnotationPrimary}},
			{Name: "n", Type: schema.Primitive_(schema.Int64)},
		},
	}
	oldSchema := &schema.Schema{Defs: []*schema.TableDef{tbl}, Exports: []*schema.Export{{Name: "s", Type: schema.SetOf(schema.TableRef(tbl))}}}
	oldChecked, err := check.Check(oldSchema)
	require.NoError(t, err)
	oldPlan, err := plan.NewBuilder(&sequentialKeys{}).Build(oldChecked)
	require.NoError(t, err)

	// Migrating schema: add field "m: int64" to T (spec §8 scenario 5).
	tbl2 := &schema.TableDef{
		Name: "T",
		Fields: []*schema.Field{
			{Name: "id", Type: schema.Primitive_(schema.String), Annotations: []schema.Annotation{schema.AnnotationPrimary}},
			{Name: "n", Type: schema.Primitive_(schema.Int64)},
			{Name: "m", Type: schema.Primitive_(schema.Int64)},
		},
	}
	newSchema := &schema.Schema{Defs: []*schema.TableDef{tbl2}, Exports: []*schema.Export{{Name: "s", Type: schema.SetOf(schema.TableRef(tbl2))}}}
	newChecked, err := check.Check(newSchema)
	require.NoError(t, err)

	result, err := plan.Migrate(oldPlan, newChecked, &sequentialKeys{n: 100})
	require.NoError(t, err)

	oldElem := oldPlan.Exports["s"].Set
	newElem := result.Root.Exports["s"].Set
	require.Equal(t, oldElem.Key, newElem.Key)
	require.Equal(t, oldElem.Children["id"].Key, newElem.Children["id"].Key)
	require.Equal(t, oldElem.Children["n"].Key, newElem.Children["n"].Key)
	require.NotNil(t, newElem.Children["m"])
	require.Empty(t, result.RemovedNotes)
}

func TestMigrationConflictOnStructuralChange(t *testing.T) {
	tbl := &schema.TableDef{
		Name: "T",
		Fields: []*schema.Field{
			{Name: "id", Type: schema.Primitive_(schema.String), Annotations: []schema.Annotation{schema.AnnotationPrimary}},
			{Name: "child", Type: schema.Primitive_(schema.Int64)},
		},
	}
	oldSchema := &schema.Schema{Defs: []*schema.TableDef{tbl}, Exports: []*schema.Export{{Name: "root", Type: schema.TableRef(tbl)}}}
	oldChecked, err := check.Check(oldSchema)
	require.NoError(t, err)
	oldPlan, err := plan.NewBuilder(&sequentialKeys{}).Build(oldChecked)
	require.NoError(t, err)

	inner := &schema.TableDef{
		Name: "Inner",
		Fields: []*schema.Field{
			{Name: "v", Type: schema.Primitive_(schema.Int64), Annotations: []schema.Annotation{schema.AnnotationPrimary}},
		},
	}
	tbl2 := &schema.TableDef{
		Name: "T",
		Fields: []*schema.Field{
			{Name: "id", Type: schema.Primitive_(schema.String), Annotations: []schema.Annotation{schema.AnnotationPrimary}},
			{Name: "child", Type: schema.SetOf(schema.TableRef(inner))},
		},
	}
	newSchema := &schema.Schema{Defs: []*schema.TableDef{tbl2, inner}, Exports: []*schema.Export{{Name: "root", Type: schema.TableRef(tbl2)}}}
	newChecked, err := check.Check(newSchema)
	require.NoError(t, err)

	_, err = plan.Migrate(oldPlan, newChecked, &sequentialKeys{n: 100})
	require.Error(t, err)
}

func TestMigrationReportsRemovedExports(t *testing.T) {
	tbl := &schema.TableDef{
		Name:   "T",
		Fields: []*schema.Field{{Name: "id", Type: schema.Primitive_(schema.String), Annotations: []schema.Annotation{schema.AnnotationPrimary}}},
	}
	oldSchema := &schema.Schema{Defs: []*schema.TableDef{tbl}, Exports: []*schema.Export{{Name: "a", Type: schema.TableRef(tbl)}, {Name: "b", Type: schema.TableRef(tbl)}}}
	oldChecked, err := check.Check(oldSchema)
	require.NoError(t, err)
	oldPlan, err := plan.NewBuilder(&sequentialKeys{}).Build(oldChecked)
	require.NoError(t, err)

	newSchema := &schema.Schema{Defs: []*schema.TableDef{tbl}, Exports: []*schema.Export{{Name: "a", Type: schema.TableRef(tbl)}}}
	newChecked, err := check.Check(newSchema)
	require.NoError(t, err)

	result, err := plan.Migrate(oldPlan, newChecked, &sequentialKeys{n: 100})
	require.NoError(t, err)
	require.Len(t, result.RemovedNotes, 1)
	require.Contains(t, result.RemovedNotes[0], `"b"`)
}

package vm

import (
	"refinedb/codec"
	"refinedb/schema"
)

// literalType derives the static type of a const literal from its tagged
// runtime representation.
func literalType(v *codec.Value) *schema.Type {
	switch v.Kind {
	case codec.KindBool:
		return schema.Primitive_(schema.Bool)
	case codec.KindInt64:
		return schema.Primitive_(schema.Int64)
	case codec.KindDouble:
		return schema.Primitive_(schema.Double)
	case codec.KindString:
		return schema.Primitive_(schema.String)
	case codec.KindBytes:
		return schema.Primitive_(schema.Bytes)
	case codec.KindNull:
		return schema.Optional(primitiveByName(v.StaticType))
	default:
		return schema.Primitive_(schema.String)
	}
}

func primitiveByName(name string) *schema.Type {
	switch schema.Primitive(name) {
	case schema.Int64, schema.Double, schema.String, schema.Bytes, schema.Bool:
		return schema.Primitive_(schema.Primitive(name))
	default:
		return schema.Primitive_(schema.String)
	}
}

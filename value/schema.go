package value

// FieldType names a field's declared value kind in a collection schema.
// It mirrors Kind but is kept distinct because a schema may declare a
// field as FieldTypeAny before any document has exercised it.
type FieldType uint8

const (
	FieldTypeAny FieldType = iota
	FieldTypeBool
	FieldTypeInt
	FieldTypeFloat
	FieldTypeString
	FieldTypeBytes
	FieldTypeVector
	FieldTypeArray
	FieldTypeMap
)

func (t FieldType) String() string {
	switch t {
	case FieldTypeBool:
		return "Bool"
	case FieldTypeInt:
		return "Int"
	case FieldTypeFloat:
		return "Float"
	case FieldTypeString:
		return "String"
	case FieldTypeBytes:
		return "Bytes"
	case FieldTypeVector:
		return "Vector"
	case FieldTypeArray:
		return "Array"
	case FieldTypeMap:
		return "Map"
	default:
		return "Any"
	}
}

// IndexKind names which per-field index a Collection routes a field's
// values into (spec §4.4): "vector" -> HNSW, "text" -> TFS, "" -> BTI for
// any scalar-typed field explicitly marked IndexScalar.
type IndexKind uint8

const (
	IndexNone IndexKind = iota
	IndexScalar
	IndexVector
	IndexText
)

// FieldSpec describes one attribute of a concept/proposition type's
// advisory instance schema (spec §4.6, §9 Open Question: required
// attributes SHOULD be present but are not hard-enforced).
type FieldSpec struct {
	Name      string
	Type      FieldType
	Index     IndexKind
	Required  bool
	Unique    bool
	Dimension int // only meaningful when Index == IndexVector
}

// Schema is the ordered set of field specs declared for a concept type.
// It is advisory: Collection.Insert logs a warning for missing required
// fields rather than rejecting the document (spec §9).
type Schema struct {
	Fields []FieldSpec
}

// Field looks up a field spec by name.
func (s Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// MissingRequired returns the names of required fields absent from doc.
func (s Schema) MissingRequired(doc Document) []string {
	var missing []string
	for _, f := range s.Fields {
		if !f.Required {
			continue
		}
		if _, ok := doc.Fields[f.Name]; !ok {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

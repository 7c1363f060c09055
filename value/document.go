package value

import "github.com/ldclabs/anda-db/core"

// Document is the unit persisted in a collection (spec §3). Fields carry
// the closed Value types; DocID is assigned by the collection manager on
// insert and is zero for a document not yet committed.
type Document struct {
	ID     core.DocID
	Fields map[string]Value
}

// New creates an empty, uncommitted document.
func New() Document {
	return Document{Fields: make(map[string]Value)}
}

// Get returns the field named key, or Null and false if absent.
func (d Document) Get(key string) (Value, bool) {
	v, ok := d.Fields[key]
	return v, ok
}

// Set assigns a field, creating the field map if necessary.
func (d *Document) Set(key string, v Value) {
	if d.Fields == nil {
		d.Fields = make(map[string]Value)
	}
	d.Fields[key] = v
}

// Clone returns a deep-enough copy for safe concurrent mutation; nested
// Array/Map values are shared structurally but never mutated in place by
// the engine, so a shallow field-map copy is sufficient.
func (d Document) Clone() Document {
	out := Document{ID: d.ID, Fields: make(map[string]Value, len(d.Fields))}
	for k, v := range d.Fields {
		out.Fields[k] = v
	}
	return out
}

// Merge overlays patch's fields onto d, overwriting existing keys and
// adding new ones (the attribute-merge rule of spec §4.6's UPSERT
// semantics: "new keys added, existing keys overwritten").
func (d Document) Merge(patch Document) Document {
	out := d.Clone()
	for k, v := range patch.Fields {
		out.Fields[k] = v
	}
	return out
}

package kip

import "github.com/ldclabs/anda-db/value"

// Command is the parsed result of one KIP request: a KQL FIND, a KML
// UPSERT/DELETE, or a META DESCRIBE.
type Command interface{ isCommand() }

// Projection names one bound field to return, e.g. ?drug.name.
type Projection struct {
	Var   string
	Field string
}

// Term is either a bound variable or an inline concept reference literal
// (the `{name:"Headache"}` shorthand in a triple pattern's object
// position).
type Term struct {
	Var    string // non-empty if this term is a variable reference
	Fields map[string]value.Value
}

func (t Term) IsVar() bool { return t.Var != "" }

// Pattern is either a ConceptPattern or a TriplePattern.
type Pattern interface{ isPattern() }

// ConceptPattern binds Var to a concept matching Fields (e.g.
// `?t {type:"$ConceptType"}`).
type ConceptPattern struct {
	Var    string
	Fields map[string]value.Value
}

func (ConceptPattern) isPattern() {}

// TriplePattern matches a proposition `(subj, "predicate", obj)`.
type TriplePattern struct {
	Subj Term
	Pred string
	Obj  Term
}

func (TriplePattern) isPattern() {}

// OrderTerm is one ORDER BY clause element.
type OrderTerm struct {
	Var   string
	Field string
	Desc  bool
}

// FindQuery is a parsed KQL read command.
type FindQuery struct {
	Projections []Projection
	Patterns    []Pattern
	OrderBy     []OrderTerm
	Limit       *int
	Offset      *int
}

func (*FindQuery) isCommand() {}

// PropPair is one (predicate, target) pair inside a concept block's SET
// PROPOSITIONS clause.
type PropPair struct {
	Pred   string
	Target Term
}

// ConceptBlock is one `CONCEPT ?x {...}` capsule entry.
type ConceptBlock struct {
	Var          string
	Head         map[string]value.Value // type, name
	Attributes   map[string]value.Value
	Propositions []PropPair
}

// UpsertCommand is a parsed KML UPSERT command: one or more concept
// blocks sharing a single metadata record (spec §4.6: "all writes within
// one UPSERT ... WITH METADATA share one transaction and one metadata
// record").
type UpsertCommand struct {
	Blocks   []ConceptBlock
	Metadata map[string]value.Value
}

func (*UpsertCommand) isCommand() {}

// DeleteConceptCommand is a parsed `DELETE CONCEPT ?x [DETACH] WHERE {...}`.
type DeleteConceptCommand struct {
	Var      string
	Detach   bool
	Patterns []Pattern
}

func (*DeleteConceptCommand) isCommand() {}

// DeletePropositionCommand is a parsed `DELETE PROPOSITION (...) WHERE {...}`.
type DeletePropositionCommand struct {
	Triple   TriplePattern
	Patterns []Pattern
}

func (*DeletePropositionCommand) isCommand() {}

// DescribeKind discriminates the META DESCRIBE variants.
type DescribeKind uint8

const (
	DescribeConceptTypes DescribeKind = iota
	DescribePrimerKind
	DescribeConceptType
	DescribePropositionTypes
)

// DescribeCommand is a parsed META DESCRIBE command.
type DescribeCommand struct {
	Kind     DescribeKind
	TypeName string // set for DescribeConceptType
}

func (*DescribeCommand) isCommand() {}

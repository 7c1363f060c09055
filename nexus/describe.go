package nexus

import (
	"context"

	"github.com/ldclabs/anda-db/collection"
	"github.com/ldclabs/anda-db/value"
)

// TypeSummary names one concept or proposition type.
type TypeSummary struct {
	Name string
}

// Primer summarizes the meta-schema for agent bootstrapping (spec §4.5
// supplemented feature, from original_source/rs/anda_kip/src/response.rs:
// a primer response shape covering concept type count, proposition type
// count, and domain count).
type Primer struct {
	ConceptTypeCount     int
	PropositionTypeCount int
	DomainCount          int
}

// DescribeConceptTypes lists every concept whose type is $ConceptType.
func (e *Executor) DescribeConceptTypes(ctx context.Context) ([]TypeSummary, error) {
	return e.describeByType(ctx, TypeConceptType)
}

// DescribePropositionTypes lists every concept whose type is
// $PropositionType.
func (e *Executor) DescribePropositionTypes(ctx context.Context) ([]TypeSummary, error) {
	return e.describeByType(ctx, TypePropositionType)
}

func (e *Executor) describeByType(ctx context.Context, typ string) ([]TypeSummary, error) {
	ids, err := e.concepts.Query(ctx, collection.AttrEqual{Field: "type", Value: value.String(typ)})
	if err != nil {
		return nil, err
	}
	out := make([]TypeSummary, 0, len(ids))
	for _, id := range ids {
		doc, ok := e.concepts.Get(id)
		if !ok {
			continue
		}
		name, _ := doc.Get("name")
		out = append(out, TypeSummary{Name: name.Str})
	}
	return out, nil
}

// DescribeConceptType returns the attribute schema recorded on the
// $ConceptType concept named typeName, if any.
func (e *Executor) DescribeConceptType(ctx context.Context, typeName string) (map[string]value.Value, error) {
	_, doc, found, err := e.findConceptByKey(ctx, TypeConceptType, typeName)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &ErrUnknownConceptType{Name: typeName}
	}
	return conceptAttributes(doc), nil
}

// ErrUnknownConceptType is returned when a command references a concept
// type not present in the meta-schema.
type ErrUnknownConceptType struct{ Name string }

func (e *ErrUnknownConceptType) Error() string {
	return "nexus: unknown concept type " + e.Name
}

// DescribePrimer returns the whole-schema summary.
func (e *Executor) DescribePrimer(ctx context.Context) (*Primer, error) {
	conceptTypes, err := e.describeByType(ctx, TypeConceptType)
	if err != nil {
		return nil, err
	}
	propTypes, err := e.describeByType(ctx, TypePropositionType)
	if err != nil {
		return nil, err
	}
	domains, err := e.concepts.Query(ctx, collection.AttrEqual{Field: "type", Value: value.String(TypeDomain)})
	if err != nil {
		return nil, err
	}
	return &Primer{
		ConceptTypeCount:     len(conceptTypes),
		PropositionTypeCount: len(propTypes),
		DomainCount:          len(domains),
	}, nil
}

package nexus

import (
	"context"

	"github.com/ldclabs/anda-db/core"
)

// Genesis bootstraps the meta-schema capsule if $ConceptType is absent
// (spec §4.6, §8 S1/S7): $ConceptType (self-typed), $PropositionType,
// Domain, belongs_to_domain, and a Domain("CoreSchema") instance, each of
// the four type-defining concepts bound to CoreSchema via
// belongs_to_domain. Genesis is convergent: calling it again once the
// capsule exists is a no-op, since upsertConcept/upsertProposition are
// both idempotent on their natural keys.
func (e *Executor) Genesis(ctx context.Context) error {
	_, _, found, err := e.findConceptByKey(ctx, TypeConceptType, TypeConceptType)
	if err != nil {
		return err
	}
	created := 0
	if !found {
		created = 5
	}

	conceptTypeID, err := e.upsertConcept(ctx, TypeConceptType, TypeConceptType, nil)
	if err != nil {
		return err
	}
	propTypeID, err := e.upsertConcept(ctx, TypeConceptType, TypePropositionType, nil)
	if err != nil {
		return err
	}
	domainTypeID, err := e.upsertConcept(ctx, TypeConceptType, TypeDomain, nil)
	if err != nil {
		return err
	}
	belongsToDomainID, err := e.upsertConcept(ctx, TypePropositionType, PredBelongsToDomain, nil)
	if err != nil {
		return err
	}
	coreSchemaID, err := e.upsertConcept(ctx, TypeDomain, CoreSchemaDomain, nil)
	if err != nil {
		return err
	}

	for _, id := range []core.DocID{conceptTypeID, propTypeID, domainTypeID, belongsToDomainID} {
		if _, err := e.upsertProposition(ctx, id, PredBelongsToDomain, coreSchemaID); err != nil {
			return err
		}
	}

	e.logger.LogGenesis(ctx, created, nil)
	return nil
}

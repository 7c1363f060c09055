package nexus

import (
	"context"

	"github.com/ldclabs/anda-db/kip"
)

// Validate resolves every concept/proposition type a command references
// against the meta-schema, mutating nothing (spec §4.5: "the planner
// validates grammar, resolves all referenced concept/proposition types
// against the meta-schema, and returns either {ok} or a structured list
// of errors"). Grammar validity is assumed already established by a
// successful kip.Parse before Validate is called.
func (e *Executor) Validate(ctx context.Context, cmd kip.Command) []*kip.ValidationError {
	var errs []*kip.ValidationError

	checkType := func(typ string) {
		if typ == "" {
			return
		}
		if _, _, found, err := e.findConceptByKey(ctx, TypeConceptType, typ); err != nil {
			errs = append(errs, &kip.ValidationError{Kind: "Validation", Path: "type", Msg: err.Error()})
		} else if !found {
			errs = append(errs, &kip.ValidationError{Kind: "Validation", Path: "type", Msg: "unknown concept type " + typ})
		}
	}

	switch c := cmd.(type) {
	case *kip.FindQuery:
		for _, p := range c.Patterns {
			if cp, ok := p.(kip.ConceptPattern); ok {
				if t, ok := cp.Fields["type"]; ok {
					checkType(t.Str)
				}
			}
		}
	case *kip.UpsertCommand:
		for _, block := range c.Blocks {
			if t, ok := block.Head["type"]; ok {
				checkType(t.Str)
			}
		}
	case *kip.DeleteConceptCommand:
		for _, p := range c.Patterns {
			if cp, ok := p.(kip.ConceptPattern); ok {
				if t, ok := cp.Fields["type"]; ok {
					checkType(t.Str)
				}
			}
		}
	case *kip.DeletePropositionCommand:
		for _, p := range c.Patterns {
			if cp, ok := p.(kip.ConceptPattern); ok {
				if t, ok := cp.Fields["type"]; ok {
					checkType(t.Str)
				}
			}
		}
	case *kip.DescribeCommand:
		if c.Kind == kip.DescribeConceptType {
			if _, _, found, err := e.findConceptByKey(ctx, TypeConceptType, c.TypeName); err != nil {
				errs = append(errs, &kip.ValidationError{Kind: "Validation", Path: "type", Msg: err.Error()})
			} else if !found {
				errs = append(errs, &kip.ValidationError{Kind: "Validation", Path: "type", Msg: "unknown concept type " + c.TypeName})
			}
		}
	}
	return errs
}

package formula

import (
	"context"
	"fmt"

	"github.com/tse-report-engine/internal/domain"
)

// BoolEvaluator evaluates column predicates.
type BoolEvaluator interface {
	EvalBool(ctx context.Context, rec domain.Record, expr string) (bool, error)
}

// SchemaService serves column schemas from the definitions.
type SchemaService struct {
	defs *Definitions
	eval BoolEvaluator
}

// NewSchemaService creates a schema service. eval may be nil when no
// column predicate needs evaluating.
func NewSchemaService(defs *Definitions, eval BoolEvaluator) *SchemaService {
	return &SchemaService{defs: defs, eval: eval}
}

// GetByKind returns the schema of a record kind.
func (s *SchemaService) GetByKind(kind domain.Kind) (*domain.Schema, error) {
	if _, ok := s.defs.Schemas[kind.String()]; !ok {
		return nil, fmt.Errorf("schema %s: %w", kind, domain.ErrNotFound)
	}
	return s.defs.Schema(kind), nil
}

// IsEditable reports whether the column can be edited on rec.
func (s *SchemaService) IsEditable(ctx context.Context, rec domain.Record, col domain.Column) (bool, error) {
	return s.check(ctx, rec, col.Editable, col.EditableFormula)
}

// IsMandatory reports whether the column must be filled on rec.
func (s *SchemaService) IsMandatory(ctx context.Context, rec domain.Record, col domain.Column) (bool, error) {
	return s.check(ctx, rec, col.Mandatory, col.MandatoryFormula)
}

// a formula, when present, overrides the static flag
func (s *SchemaService) check(ctx context.Context, rec domain.Record, static bool, expr string) (bool, error) {
	if expr == "" || s.eval == nil {
		return static, nil
	}
	ok, err := s.eval.EvalBool(ctx, rec, expr)
	if err != nil {
		return false, err
	}
	return ok, nil
}

var _ domain.SchemaService = (*SchemaService)(nil)

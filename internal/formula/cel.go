package formula

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
	"github.com/sirupsen/logrus"

	"github.com/tse-report-engine/internal/domain"
)

// Variables visible to formulas.
const (
	VarRow         = "row"
	VarReport      = "report"
	VarSummary     = "summary"
	VarCase        = "caseReport"
	VarSettings    = "settings"
	VarPreferences = "preferences"
)

var parentVars = map[domain.Kind]string{
	domain.KindReport:  VarReport,
	domain.KindSummary: VarSummary,
	domain.KindCase:    VarCase,
}

// CELService solves formulas written in CEL. Parents are fetched from the
// store through the ids injected in the record.
type CELService struct {
	env     *cel.Env
	defs    *Definitions
	store   domain.Store
	globals *domain.Globals
	logger  *logrus.Logger

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewCELService creates a formula service.
func NewCELService(defs *Definitions, store domain.Store, globals *domain.Globals, logger *logrus.Logger) (*CELService, error) {
	strMap := cel.MapType(cel.StringType, cel.StringType)
	env, err := cel.NewEnv(
		cel.Variable(VarRow, strMap),
		cel.Variable(VarReport, strMap),
		cel.Variable(VarSummary, strMap),
		cel.Variable(VarCase, strMap),
		cel.Variable(VarSettings, strMap),
		cel.Variable(VarPreferences, strMap),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating formula environment: %w", err)
	}
	if globals == nil {
		globals = &domain.Globals{}
	}
	return &CELService{
		env:      env,
		defs:     defs,
		store:    store,
		globals:  globals,
		logger:   logger,
		programs: make(map[string]cel.Program),
	}, nil
}

// Definitions returns the loaded definitions.
func (s *CELService) Definitions() *Definitions {
	return s.defs
}

// Solve evaluates the formula of the given kind attached to col.
func (s *CELService) Solve(ctx context.Context, rec domain.Record, col string, kind domain.FormulaKind) (string, error) {
	column, ok := s.defs.Schema(rec.Kind()).Column(col)
	if !ok {
		return "", fmt.Errorf("solving %s.%s: %w", rec.Kind(), col, domain.ErrNotFound)
	}
	expr := expression(column, kind)
	if expr == "" {
		return rec.Get(col).Value(), nil
	}

	vars, err := s.activation(ctx, rec)
	if err != nil {
		return "", err
	}
	return s.evalString(ctx, expr, vars)
}

// Initialise fills the empty columns that have a default formula.
func (s *CELService) Initialise(ctx context.Context, rec domain.Record) error {
	return s.apply(ctx, rec, domain.FormulaDefault, true)
}

// UpdateFormulas recomputes every column that has a label formula.
func (s *CELService) UpdateFormulas(ctx context.Context, rec domain.Record) error {
	return s.apply(ctx, rec, domain.FormulaLabel, false)
}

func (s *CELService) apply(ctx context.Context, rec domain.Record, kind domain.FormulaKind, onlyEmpty bool) error {
	vars, err := s.activation(ctx, rec)
	if err != nil {
		return err
	}
	row := vars[VarRow].(map[string]string)
	self := parentVars[rec.Kind()]

	for _, column := range s.defs.Schema(rec.Kind()).Columns {
		expr := expression(column, kind)
		if expr == "" || (onlyEmpty && !rec.Get(column.ID).IsEmpty()) {
			continue
		}
		value, err := s.evalString(ctx, expr, vars)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"kind":    rec.Kind().String(),
				"column":  column.ID,
				"formula": expr,
			}).WithError(err).Warn("Cannot solve formula")
			continue
		}
		rec.Set(column.ID, domain.Text(value))
		// later formulas see the new value
		row[column.ID] = value
		if self != "" {
			vars[self].(map[string]string)[column.ID] = value
		}
	}
	return nil
}

// EvalBool evaluates a boolean predicate against the record. An empty
// expression is false.
func (s *CELService) EvalBool(ctx context.Context, rec domain.Record, expr string) (bool, error) {
	if expr == "" {
		return false, nil
	}
	vars, err := s.activation(ctx, rec)
	if err != nil {
		return false, err
	}
	prg, err := s.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("evaluating %q: %w", expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("evaluating %q: result is %T, not bool", expr, out.Value())
	}
	return b, nil
}

func (s *CELService) evalString(ctx context.Context, expr string, vars map[string]any) (string, error) {
	prg, err := s.program(expr)
	if err != nil {
		return "", err
	}
	out, _, err := prg.ContextEval(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("evaluating %q: %w", expr, err)
	}
	switch v := out.Value().(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return fmt.Sprint(v), nil
	}
}

func (s *CELService) program(expr string) (cel.Program, error) {
	s.mu.RLock()
	prg, ok := s.programs[expr]
	s.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, iss := s.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compiling %q: %w", expr, iss.Err())
	}
	prg, err := s.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("planning %q: %w", expr, err)
	}

	s.mu.Lock()
	s.programs[expr] = prg
	s.mu.Unlock()
	return prg, nil
}

// activation builds the formula variables of rec. Every schema column is
// present so that formulas never hit a missing key.
func (s *CELService) activation(ctx context.Context, rec domain.Record) (map[string]any, error) {
	vars := map[string]any{
		VarRow:         s.values(rec.Kind(), rec.Cells()),
		VarSettings:    s.globals.Settings.Codes(),
		VarPreferences: s.globals.Preferences.Codes(),
	}

	for _, parent := range []domain.Kind{domain.KindReport, domain.KindSummary, domain.KindCase} {
		name := parentVars[parent]
		if parent == rec.Kind() {
			vars[name] = vars[VarRow]
			continue
		}
		if parent > rec.Kind() {
			vars[name] = s.values(parent, nil)
			continue
		}
		id := domain.ParentID(rec, parent)
		if id == domain.UnsavedID || s.store == nil {
			vars[name] = s.values(parent, nil)
			continue
		}
		p, err := s.store.GetByID(ctx, parent, id)
		if err != nil {
			return nil, fmt.Errorf("loading %s %d for formulas: %w", parent, id, err)
		}
		vars[name] = s.values(parent, p.Cells())
	}
	return vars, nil
}

func (s *CELService) values(kind domain.Kind, cells domain.Cells) map[string]string {
	out := make(map[string]string)
	for _, col := range domain.TypedColumns(kind) {
		out[col] = ""
	}
	for _, c := range s.defs.Schema(kind).Columns {
		out[c.ID] = ""
	}
	out[domain.ColID] = strconv.FormatInt(domain.UnsavedID, 10)
	for k, v := range cells.Codes() {
		out[k] = v
	}
	return out
}

func expression(c domain.Column, kind domain.FormulaKind) string {
	switch kind {
	case domain.FormulaDefault:
		return c.DefaultFormula
	case domain.FormulaLabel:
		return c.LabelFormula
	default:
		return ""
	}
}

var _ domain.FormulaService = (*CELService)(nil)

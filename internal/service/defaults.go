package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tse-report-engine/internal/domain"
	"github.com/tse-report-engine/internal/metrics"
	"github.com/tse-report-engine/internal/rules"
)

// codes written as "null" in the reference sheet mean "no code"
const nullCode = "null"

// resultAims lists the tests a default result can be created for, in creation order.
var resultAims = []domain.TestAim{
	domain.AimScreening,
	domain.AimConfirmatory,
	domain.AimDiscriminatory,
	domain.AimGenotyping,
}

var preferenceColumns = map[domain.TestAim]map[domain.SummaryType]string{
	domain.AimScreening: {
		domain.SummaryBSE:     domain.PrefScreeningBSE,
		domain.SummaryScrapie: domain.PrefScreeningScrapie,
		domain.SummaryCWD:     domain.PrefScreeningCWD,
		domain.SummaryBSEOS:   domain.PrefScreeningBSEOS,
	},
	domain.AimConfirmatory: {
		domain.SummaryBSE:     domain.PrefConfirmatoryBSE,
		domain.SummaryScrapie: domain.PrefConfirmatoryScrapie,
		domain.SummaryCWD:     domain.PrefConfirmatoryCWD,
		domain.SummaryBSEOS:   domain.PrefConfirmatoryBSEOS,
	},
	domain.AimDiscriminatory: {
		domain.SummaryBSE:     domain.PrefDiscriminatoryBSE,
		domain.SummaryScrapie: domain.PrefDiscriminatoryScrapie,
		domain.SummaryCWD:     domain.PrefDiscriminatoryCWD,
		domain.SummaryBSEOS:   domain.PrefDiscriminatoryBSEOS,
	},
}

// DefaultResultService creates the cases and analytical results a user would
// otherwise type by hand, using the reference rule table and the preferences.
type DefaultResultService struct {
	logger   *logrus.Logger
	store    domain.Store
	formulas domain.FormulaService
	resolver *rules.Resolver
	globals  *domain.Globals
	metrics  *metrics.Metrics
}

// NewDefaultResultService creates a new default result service
func NewDefaultResultService(
	logger *logrus.Logger,
	store domain.Store,
	formulas domain.FormulaService,
	resolver *rules.Resolver,
	globals *domain.Globals,
	m *metrics.Metrics,
) *DefaultResultService {
	if globals == nil {
		globals = &domain.Globals{}
	}
	return &DefaultResultService{
		logger:   logger,
		store:    store,
		formulas: formulas,
		resolver: resolver,
		globals:  globals,
		metrics:  m,
	}
}

// IsConfirmatoryTested reports whether a confirmatory test is preferred for
// the summary type.
func (s *DefaultResultService) IsConfirmatoryTested(recordType domain.SummaryType) bool {
	col, ok := preferenceColumns[domain.AimConfirmatory][recordType]
	if !ok {
		return false
	}
	return s.globals.Preference(col) != ""
}

// PreferredTestType returns the preferred analytical method code for the
// summary type and test aim. Genotyping always uses the same method.
func (s *DefaultResultService) PreferredTestType(recordType domain.SummaryType, aim domain.TestAim) string {
	if aim == domain.AimGenotyping {
		return domain.AnMethCodeGenotyping
	}
	col, ok := preferenceColumns[aim][recordType]
	if !ok {
		return ""
	}
	return s.globals.Preference(col)
}

// ResolveDefault finds the reference rule that applies to the case.
func (s *DefaultResultService) ResolveDefault(summary *domain.SummarizedInfo, caseReport *domain.CaseReport) (*rules.Rule, error) {
	rule, err := s.resolver.Resolve(
		string(summary.Type),
		summary.Source,
		s.IsConfirmatoryTested(summary.Type),
		caseReport.SampEventAsses,
	)
	s.metrics.Resolved(err == nil)
	return rule, err
}

// CreateDefaultResults creates and persists one result per test aim the
// resolved rule has a code for. A rule miss creates nothing and is not an error.
func (s *DefaultResultService) CreateDefaultResults(ctx context.Context, report *domain.Report, summary *domain.SummarizedInfo, caseReport *domain.CaseReport) ([]*domain.AnalyticalResult, error) {
	rule, err := s.ResolveDefault(summary, caseReport)
	if err != nil {
		if domain.IsSoftMiss(err) {
			s.logger.WithFields(logrus.Fields{
				"case_id": caseReport.RecordID(),
				"type":    summary.Type,
				"source":  summary.Source,
			}).Warn("No default results created for case")
			return nil, nil
		}
		return nil, err
	}

	var results []*domain.AnalyticalResult
	for _, aim := range resultAims {
		// discriminatory tests do not apply to CWD
		if aim == domain.AimDiscriminatory && summary.IsCWD() {
			continue
		}
		result, err := s.createDefaultResult(ctx, report, summary, caseReport, rule, aim)
		if err != nil {
			return results, err
		}
		if result != nil {
			results = append(results, result)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"case_id": caseReport.RecordID(),
		"results": len(results),
	}).Info("Default results created")
	return results, nil
}

func (s *DefaultResultService) createDefaultResult(ctx context.Context, report *domain.Report, summary *domain.SummarizedInfo, caseReport *domain.CaseReport, rule *rules.Rule, aim domain.TestAim) (*domain.AnalyticalResult, error) {
	if code := rule.Code(aim); code == "" || code == nullCode {
		s.logger.WithFields(logrus.Fields{
			"case_id": caseReport.RecordID(),
			"aim":     aim,
		}).Debug("No default code for test aim")
		return nil, nil
	}

	result := domain.NewAnalyticalResult()
	domain.InjectParent(report, result)
	domain.InjectParent(summary, result)
	domain.InjectParent(caseReport, result)

	// the row id must exist before the defaults run, resId derives from it
	if err := s.store.Add(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to add default %s result: %w", aim, err)
	}
	if err := s.formulas.Initialise(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to initialise default %s result: %w", aim, err)
	}

	result.AnMethType = aim.TestTypeCode()
	if pref := s.PreferredTestType(summary.Type, aim); pref != "" {
		result.AnMethCode = pref
	} else {
		s.logger.WithField("an_meth_type", result.AnMethType).Warn("No preferred anMethCode found for test type")
	}
	applyRuleCode(result, rule, aim)

	if err := s.formulas.UpdateFormulas(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to update default %s result: %w", aim, err)
	}
	if err := s.store.Update(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to save default %s result: %w", aim, err)
	}
	return result, nil
}

// applyRuleCode writes the test aim, the param base term and the optional
// result value of the rule code into the result.
func applyRuleCode(result *domain.AnalyticalResult, rule *rules.Rule, aim domain.TestAim) {
	base, value, ok := rules.ExtractCode(rule, aim)
	if !ok {
		return
	}
	if aim != domain.AimGenotyping {
		result.TestAim = rule.Code(aim)
	}
	result.ParamBaseTerm = base
	if value != "" {
		result.ResQualValue = value
	}
}

// caseRepeats is the number of cases created per counted animal. CWD needs
// both the obex and the retropharyngeal lymph node.
func caseRepeats(summary *domain.SummarizedInfo) int {
	if summary.IsCWD() {
		return 2
	}
	return 1
}

func casePart(summary *domain.SummarizedInfo, repeat int) string {
	if summary.IsCWD() && repeat == 1 {
		return domain.PartRetropharyngeal
	}
	return domain.PartObex
}

// CreateDefaultCases creates one case per inconclusive and per positive
// animal of the summary, inconclusive first.
func (s *DefaultResultService) CreateDefaultCases(ctx context.Context, report *domain.Report, summary *domain.SummarizedInfo) ([]*domain.CaseReport, error) {
	var cases []*domain.CaseReport

	for i := 0; i < summary.TotalInconclusive; i++ {
		for r := 0; r < caseRepeats(summary); r++ {
			c, err := s.createCase(ctx, report, summary, func(c *domain.CaseReport) {
				c.Set(domain.ColSampEventAsses, domain.Cell{
					Code:  domain.AssessInconclusiveCode,
					Label: domain.AssessInconclusiveLabel,
				})
				c.Part = casePart(summary, r)
			})
			if err != nil {
				return cases, err
			}
			cases = append(cases, c)
		}
	}

	for i := 0; i < summary.TotalPositive; i++ {
		for r := 0; r < caseRepeats(summary); r++ {
			c, err := s.createCase(ctx, report, summary, func(c *domain.CaseReport) {
				c.Part = casePart(summary, r)
			})
			if err != nil {
				return cases, err
			}
			cases = append(cases, c)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"summary_id": summary.RecordID(),
		"cases":      len(cases),
	}).Info("Default cases created")
	return cases, nil
}

// CreateDefaultRGTCase creates the single blood sample case of a random
// genotyping summary.
func (s *DefaultResultService) CreateDefaultRGTCase(ctx context.Context, report *domain.Report, summary *domain.SummarizedInfo) (*domain.CaseReport, error) {
	c, err := s.createCase(ctx, report, summary, func(c *domain.CaseReport) {
		c.Part = domain.PartBlood
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithField("summary_id", summary.RecordID()).Info("Default RGT case created")
	return c, nil
}

func (s *DefaultResultService) createCase(ctx context.Context, report *domain.Report, summary *domain.SummarizedInfo, fill func(*domain.CaseReport)) (*domain.CaseReport, error) {
	c := domain.NewCaseReport()
	domain.InjectParent(report, c)
	domain.InjectParent(summary, c)

	if err := s.formulas.Initialise(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to initialise case: %w", err)
	}
	if err := s.store.Add(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to add case: %w", err)
	}
	// again, now that the id is known
	if err := s.formulas.Initialise(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to initialise case: %w", err)
	}

	fill(c)

	if err := s.store.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save case: %w", err)
	}
	return c, nil
}

// ResolveForRecord loads the case and its summary and resolves the rule
// that applies to them.
func (s *DefaultResultService) ResolveForRecord(ctx context.Context, caseID int64) (*rules.Rule, error) {
	_, summary, caseReport, err := s.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return s.ResolveDefault(summary, caseReport)
}

// CreateForCase loads the lineage of the case and creates its default results.
func (s *DefaultResultService) CreateForCase(ctx context.Context, caseID int64) ([]*domain.AnalyticalResult, error) {
	report, summary, caseReport, err := s.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return s.CreateDefaultResults(ctx, report, summary, caseReport)
}

func (s *DefaultResultService) loadCase(ctx context.Context, caseID int64) (*domain.Report, *domain.SummarizedInfo, *domain.CaseReport, error) {
	rec, err := s.store.GetByID(ctx, domain.KindCase, caseID)
	if err != nil {
		return nil, nil, nil, err
	}
	caseReport, ok := rec.(*domain.CaseReport)
	if !ok {
		return nil, nil, nil, fmt.Errorf("case %d: %w", caseID, domain.ErrInvalidKind)
	}
	srec, err := s.store.GetByID(ctx, domain.KindSummary, caseReport.SummaryID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load summary of case %d: %w", caseID, err)
	}
	rrec, err := s.store.GetByID(ctx, domain.KindReport, caseReport.ReportID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load report of case %d: %w", caseID, err)
	}
	return rrec.(*domain.Report), srec.(*domain.SummarizedInfo), caseReport, nil
}

// CreateForSummary loads the report of the summary and creates its default
// cases: the single blood sample case for random genotyping, one case per
// inconclusive and positive count otherwise.
func (s *DefaultResultService) CreateForSummary(ctx context.Context, summaryID int64) ([]*domain.CaseReport, error) {
	rec, err := s.store.GetByID(ctx, domain.KindSummary, summaryID)
	if err != nil {
		return nil, err
	}
	summary, ok := rec.(*domain.SummarizedInfo)
	if !ok {
		return nil, fmt.Errorf("summary %d: %w", summaryID, domain.ErrInvalidKind)
	}
	rrec, err := s.store.GetByID(ctx, domain.KindReport, summary.ReportID)
	if err != nil {
		return nil, fmt.Errorf("failed to load report of summary %d: %w", summaryID, err)
	}
	report := rrec.(*domain.Report)

	if summary.IsRGT() {
		c, err := s.CreateDefaultRGTCase(ctx, report, summary)
		if err != nil {
			return nil, err
		}
		return []*domain.CaseReport{c}, nil
	}
	return s.CreateDefaultCases(ctx, report, summary)
}

// ReportOf returns the id of the report owning a summary or a case.
func (s *DefaultResultService) ReportOf(ctx context.Context, kind domain.Kind, id int64) (int64, error) {
	rec, err := s.store.GetByID(ctx, kind, id)
	if err != nil {
		return 0, err
	}
	switch r := rec.(type) {
	case *domain.SummarizedInfo:
		return r.ReportID, nil
	case *domain.CaseReport:
		return r.ReportID, nil
	default:
		return 0, fmt.Errorf("%s %d: %w", kind, id, domain.ErrInvalidKind)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tse-report-engine/internal/domain"
	"github.com/tse-report-engine/internal/metrics"
)

// CloneMode selects how child records are copied between reports.
type CloneMode string

const (
	// CloneVerbatim copies every column of the source record.
	CloneVerbatim CloneMode = "verbatim"
	// CloneRegenerate copies the editable columns and the type, then
	// recomputes every formula of the new record.
	CloneRegenerate CloneMode = "regenerate"
)

// ParseCloneMode converts a mode name, defaulting to CloneRegenerate.
func ParseCloneMode(name string) (CloneMode, error) {
	switch CloneMode(name) {
	case "", CloneRegenerate:
		return CloneRegenerate, nil
	case CloneVerbatim:
		return CloneVerbatim, nil
	default:
		return "", domain.NewValidationError("mode", "unknown clone mode", name)
	}
}

// ErrSelfCopy is returned when a report is copied onto itself.
var ErrSelfCopy = errors.New("cannot copy a report onto itself")

// CloneStats counts the records created by a clone.
type CloneStats struct {
	Summaries int `json:"summaries"`
	Cases     int `json:"cases"`
	Results   int `json:"results"`
}

// Total returns the number of cloned records.
func (c CloneStats) Total() int {
	return c.Summaries + c.Cases + c.Results
}

func (c *CloneStats) add(kind domain.Kind) {
	switch kind {
	case domain.KindSummary:
		c.Summaries++
	case domain.KindCase:
		c.Cases++
	case domain.KindResult:
		c.Results++
	}
}

// ReportService manages report versions: amendments, report to report
// copies and the deep clone of their record trees.
type ReportService struct {
	logger    *logrus.Logger
	store     domain.Store
	formulas  domain.FormulaService
	schemas   domain.SchemaService
	validator *Validator
	metrics   *metrics.Metrics
}

// NewReportService creates a new report service
func NewReportService(
	logger *logrus.Logger,
	store domain.Store,
	formulas domain.FormulaService,
	schemas domain.SchemaService,
	m *metrics.Metrics,
) *ReportService {
	return &ReportService{
		logger:    logger,
		store:     store,
		formulas:  formulas,
		schemas:   schemas,
		validator: NewValidator(logger),
		metrics:   m,
	}
}

// GetReport loads a report by id.
func (s *ReportService) GetReport(ctx context.Context, id int64) (*domain.Report, error) {
	rec, err := s.store.GetByID(ctx, domain.KindReport, id)
	if err != nil {
		return nil, err
	}
	report, ok := rec.(*domain.Report)
	if !ok {
		return nil, fmt.Errorf("record %d: %w", id, domain.ErrInvalidKind)
	}
	return report, nil
}

// Amend creates the next version of the report as a new DRAFT and clones
// the whole record tree into it, regenerating the derived columns. The
// source version is left untouched.
func (s *ReportService) Amend(ctx context.Context, report *domain.Report) (*domain.Report, CloneStats, error) {
	start := time.Now()
	defer s.metrics.Observe("amend", start)

	amended := domain.NewReport()
	domain.CopyValues(amended, report)
	amended.Version = domain.NextVersion(report.Version)
	amended.Status = domain.StatusDraft
	amended.DatasetID = ""
	amended.MessageID = ""
	amended.LastMessageID = ""
	amended.LastModifyingMessageID = ""
	amended.LastValidationMessageID = ""
	amended.AggregatorID = nil
	amended.Type = domain.ReportTypeNormal

	if err := s.store.Add(ctx, amended); err != nil {
		return nil, CloneStats{}, fmt.Errorf("failed to add amended report: %w", err)
	}

	stats, err := s.Clone(ctx, report, amended, CloneRegenerate)
	if err != nil {
		return amended, stats, fmt.Errorf("failed to clone report %d into amendment: %w", report.RecordID(), err)
	}

	s.logger.WithFields(logrus.Fields{
		"source_id":    report.RecordID(),
		"amended_id":   amended.RecordID(),
		"version":      amended.Version,
		"cloned_nodes": stats.Total(),
	}).Info("Report amended")
	return amended, stats, nil
}

// CopyReport replaces the content of target with a clone of the content of
// source. The target keeps its identity; its status goes back to DRAFT.
func (s *ReportService) CopyReport(ctx context.Context, source, target *domain.Report, mode CloneMode) (CloneStats, error) {
	start := time.Now()
	defer s.metrics.Observe("copy", start)

	if source.RecordID() == target.RecordID() {
		return CloneStats{}, ErrSelfCopy
	}

	if err := s.store.DeleteByParentID(ctx, domain.KindSummary, domain.KindReport, target.RecordID()); err != nil {
		return CloneStats{}, fmt.Errorf("failed to clear report %d: %w", target.RecordID(), err)
	}

	target.Status = domain.StatusDraft
	target.MessageID = ""
	if err := s.store.Update(ctx, target); err != nil {
		return CloneStats{}, fmt.Errorf("failed to reset report %d: %w", target.RecordID(), err)
	}

	stats, err := s.Clone(ctx, source, target, mode)
	if err != nil {
		return stats, err
	}

	s.logger.WithFields(logrus.Fields{
		"source_id":    source.RecordID(),
		"target_id":    target.RecordID(),
		"mode":         mode,
		"cloned_nodes": stats.Total(),
	}).Info("Report copied")
	return stats, nil
}

// cloneItem is a source record waiting to be cloned with the clones of its
// ancestors, report first.
type cloneItem struct {
	src     domain.Record
	lineage []domain.Record
}

// Clone copies the record tree below source under target. The walk uses an
// explicit stack; the children of a record are fetched before the record is
// cloned and each clone is injected with its already cloned ancestors.
func (s *ReportService) Clone(ctx context.Context, source, target *domain.Report, mode CloneMode) (CloneStats, error) {
	var stats CloneStats
	stack := []cloneItem{{src: source}}

	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		kind := item.src.Kind()
		var children []domain.Record
		if childKind, ok := kind.Child(); ok {
			var err error
			children, err = s.store.GetByParentID(ctx, childKind, kind, item.src.RecordID(), domain.OrderAsc)
			if err != nil {
				return stats, fmt.Errorf("failed to load children of %s %d: %w", kind, item.src.RecordID(), err)
			}
		}

		var clone domain.Record
		switch kind {
		case domain.KindReport:
			clone = target
		case domain.KindSummary, domain.KindCase, domain.KindResult:
			var err error
			clone, err = s.cloneRecord(ctx, item.src, item.lineage, mode)
			if err != nil {
				return stats, err
			}
			stats.add(kind)
			s.metrics.Cloned(kind.String(), string(mode))
		default:
			return stats, fmt.Errorf("cloning %s: %w", kind, domain.ErrInvalidKind)
		}

		lineage := append(slices.Clone(item.lineage), clone)
		// reversed so that children are cloned in store order
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, cloneItem{src: children[i], lineage: lineage})
		}
	}
	return stats, nil
}

func (s *ReportService) cloneRecord(ctx context.Context, src domain.Record, lineage []domain.Record, mode CloneMode) (domain.Record, error) {
	clone, err := domain.NewRecord(src.Kind())
	if err != nil {
		return nil, err
	}

	switch mode {
	case CloneVerbatim:
		domain.CopyValues(clone, src)
		for _, parent := range lineage {
			domain.InjectParent(parent, clone)
		}
		if err := s.store.Add(ctx, clone); err != nil {
			return nil, fmt.Errorf("failed to add cloned %s: %w", src.Kind(), err)
		}
		return clone, nil

	case CloneRegenerate:
		for _, parent := range lineage {
			domain.InjectParent(parent, clone)
		}
		if err := s.store.Add(ctx, clone); err != nil {
			return nil, fmt.Errorf("failed to add cloned %s: %w", src.Kind(), err)
		}
		if err := s.formulas.Initialise(ctx, clone); err != nil {
			return nil, fmt.Errorf("failed to initialise cloned %s: %w", src.Kind(), err)
		}
		if err := s.copyEditable(ctx, clone, src); err != nil {
			return nil, err
		}
		if err := s.formulas.UpdateFormulas(ctx, clone); err != nil {
			return nil, fmt.Errorf("failed to update cloned %s: %w", src.Kind(), err)
		}
		if err := s.store.Update(ctx, clone); err != nil {
			return nil, fmt.Errorf("failed to save cloned %s: %w", src.Kind(), err)
		}
		return clone, nil

	default:
		return nil, domain.NewValidationError("mode", "unknown clone mode", mode)
	}
}

// copyEditable copies from src the columns editable on dst, plus the
// record type. Editability is judged on the clone, which already carries
// its new parents; columns with a static flag are copied first so that
// editable formulas see the copied row. The result id is always
// regenerated.
func (s *ReportService) copyEditable(ctx context.Context, dst, src domain.Record) error {
	schema, err := s.schemas.GetByKind(dst.Kind())
	if err != nil {
		return err
	}
	var conditional []domain.Column
	for _, col := range schema.Columns {
		if col.ID == domain.ColResID {
			continue
		}
		if col.EditableFormula != "" {
			conditional = append(conditional, col)
			continue
		}
		if col.Editable {
			dst.Set(col.ID, src.Get(col.ID))
		}
	}
	for _, col := range conditional {
		editable, err := s.schemas.IsEditable(ctx, dst, col)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"kind":   dst.Kind().String(),
				"column": col.ID,
			}).WithError(err).Warn("Cannot evaluate editable formula")
			continue
		}
		if editable {
			dst.Set(col.ID, src.Get(col.ID))
		}
	}
	if typ := src.Get(domain.ColType); !typ.IsEmpty() {
		dst.Set(domain.ColType, typ)
	}
	return nil
}

// Tree is the content of a report.
type Tree struct {
	Report    *domain.Report  `json:"report"`
	Summaries []domain.Record `json:"summaries"`
	Cases     []domain.Record `json:"cases"`
	Results   []domain.Record `json:"results"`
	Counts    map[string]int  `json:"counts"`
}

// GetTree loads every record of the report.
func (s *ReportService) GetTree(ctx context.Context, report *domain.Report) (*Tree, error) {
	tree := &Tree{Report: report, Counts: map[string]int{}}
	for _, kind := range []domain.Kind{domain.KindSummary, domain.KindCase, domain.KindResult} {
		recs, err := s.store.GetByParentID(ctx, kind, domain.KindReport, report.RecordID(), domain.OrderAsc)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s of report %d: %w", kind, report.RecordID(), err)
		}
		switch kind {
		case domain.KindSummary:
			tree.Summaries = recs
		case domain.KindCase:
			tree.Cases = recs
		case domain.KindResult:
			tree.Results = recs
		}
		tree.Counts[kind.String()] = len(recs)
	}
	return tree, nil
}

// UpdateChildrenErrors validates the report and stores the children error
// flag of its summaries and cases. The issues found are returned.
func (s *ReportService) UpdateChildrenErrors(ctx context.Context, report *domain.Report) ([]ReportIssue, error) {
	tree, err := s.GetTree(ctx, report)
	if err != nil {
		return nil, err
	}
	issues := s.validator.ValidateTree(tree)

	caseErrors := map[int64]bool{}
	summaryErrors := map[int64]bool{}
	for _, issue := range issues {
		if issue.CaseID != 0 {
			caseErrors[issue.CaseID] = true
		}
		if issue.SummaryID != 0 {
			summaryErrors[issue.SummaryID] = true
		}
	}

	for _, rec := range tree.Cases {
		c := rec.(*domain.CaseReport)
		if caseErrors[c.RecordID()] {
			summaryErrors[c.SummaryID] = true
		}
		if c.ChildrenError == caseErrors[c.RecordID()] {
			continue
		}
		c.ChildrenError = caseErrors[c.RecordID()]
		if err := s.store.Update(ctx, c); err != nil {
			return issues, fmt.Errorf("failed to update case %d: %w", c.RecordID(), err)
		}
	}
	for _, rec := range tree.Summaries {
		sum := rec.(*domain.SummarizedInfo)
		if sum.ChildrenError == summaryErrors[sum.RecordID()] {
			continue
		}
		sum.ChildrenError = summaryErrors[sum.RecordID()]
		if err := s.store.Update(ctx, sum); err != nil {
			return issues, fmt.Errorf("failed to update summary %d: %w", sum.RecordID(), err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"report_id": report.RecordID(),
		"issues":    len(issues),
	}).Info("Report validated")
	return issues, nil
}

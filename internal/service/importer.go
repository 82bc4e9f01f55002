package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tse-report-engine/internal/domain"
	"github.com/tse-report-engine/internal/metrics"
)

// SpeciesTyper maps a species code to the summarized information type.
type SpeciesTyper interface {
	TypeBySpecies(species string) domain.SummaryType
}

// composite columns of a case row
var caseCompositeColumns = []string{
	domain.ColEvalInfo,
	domain.ColSampUnitIDs,
	domain.ColSampEventInfo,
	domain.ColSampMatInfo,
	domain.ColSampMatCode,
}

// Importer rebuilds the record tree of a report from the flat rows of a
// dataset downloaded from the collection system.
type Importer struct {
	logger     *logrus.Logger
	store      domain.Store
	formulas   domain.FormulaService
	decomposer domain.Decomposer
	species    SpeciesTyper
	metrics    *metrics.Metrics
}

// NewImporter creates a new dataset importer
func NewImporter(
	logger *logrus.Logger,
	store domain.Store,
	formulas domain.FormulaService,
	decomposer domain.Decomposer,
	species SpeciesTyper,
	m *metrics.Metrics,
) *Importer {
	return &Importer{
		logger:     logger,
		store:      store,
		formulas:   formulas,
		decomposer: decomposer,
		species:    species,
		metrics:    m,
	}
}

// cachedSummary is a summary imported in the first pass with its computed sample id.
type cachedSummary struct {
	summary  *domain.SummarizedInfo
	sampleID string
}

// importRun holds the working sets of one import.
type importRun struct {
	report    *domain.Report
	summaries []cachedSummary
	rgt       *domain.SummarizedInfo
	cases     map[string]*domain.CaseReport

	summaryCount int
	caseCount    int
	resultCount  int
}

// ImportResult counts the records created by an import.
type ImportResult struct {
	Report    *domain.Report `json:"report"`
	Summaries int            `json:"summaries"`
	Cases     int            `json:"cases"`
	Results   int            `json:"results"`
}

// ImportDataset creates the report described by the dataset metadata and
// imports its rows. A reconciliation failure is logged and returned; the
// records already imported are kept.
func (i *Importer) ImportDataset(ctx context.Context, dataset *domain.Dataset) (*ImportResult, error) {
	report := ReportFromDataset(dataset, i.logger)
	if err := i.store.Add(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to add imported report: %w", err)
	}
	i.logger.WithFields(logrus.Fields{
		"report_id":         report.RecordID(),
		"sender_dataset_id": dataset.SenderDatasetID,
		"status":            report.Status,
	}).Info("Imported dataset metadata")

	res, err := i.Import(ctx, report, dataset.Rows)
	if err != nil && domain.IsReconciliation(err) {
		i.logger.WithError(err).WithField("report_id", report.RecordID()).Error("Error upon importing cases and results")
	}
	return res, err
}

// Import runs both passes over rows: summarized information first, then
// cases and analytical results.
func (i *Importer) Import(ctx context.Context, report *domain.Report, rows []domain.Cells) (res *ImportResult, err error) {
	start := time.Now()
	defer func() {
		i.metrics.ImportFinished(err)
		i.metrics.Observe("import", start)
	}()

	run := &importRun{
		report: report,
		cases:  make(map[string]*domain.CaseReport),
	}
	res = &ImportResult{Report: report}

	i.logger.WithFields(logrus.Fields{
		"report_id": report.RecordID(),
		"rows":      len(rows),
	}).Info("Importing the summarized information")

	if err := i.importSummaries(ctx, run, rows); err != nil {
		run.fill(res)
		return res, err
	}
	if err := i.importCasesAndResults(ctx, run, rows); err != nil {
		run.fill(res)
		return res, err
	}
	run.fill(res)

	i.logger.WithFields(logrus.Fields{
		"report_id": report.RecordID(),
		"summaries": res.Summaries,
		"cases":     res.Cases,
		"results":   res.Results,
	}).Info("Dataset imported")
	return res, nil
}

func (r *importRun) fill(res *ImportResult) {
	res.Summaries = r.summaryCount
	res.Cases = r.caseCount
	res.Results = r.resultCount
}

func isSummarizedInfo(row domain.Cells) bool {
	return row[domain.ColParamType].Value() == domain.ParamTypeSummarizedInfo
}

func (i *Importer) isRGT(row domain.Cells) bool {
	return i.decomposer.BaseTerm(row[domain.ColParamCode].Value()) == domain.RGTParamCode
}

func (i *Importer) importSummaries(ctx context.Context, run *importRun, rows []domain.Cells) error {
	for _, row := range rows {
		if !isSummarizedInfo(row) {
			continue
		}
		rgt := i.isRGT(row)
		summary := i.extractSummary(run.report, row, rgt)

		// the computed sample id is what results point back to
		sampleID, err := i.formulas.Solve(ctx, summary, domain.ColSampleID, domain.FormulaLabel)
		if err != nil {
			i.logger.WithError(err).Warn("Cannot compute sample id of summarized information")
		} else {
			summary.Set(domain.ColSampleID, domain.Text(sampleID))
		}

		if err := i.store.Add(ctx, summary); err != nil {
			return fmt.Errorf("failed to add summarized information: %w", err)
		}
		run.summaryCount++
		i.metrics.Imported(domain.KindSummary.String())

		if rgt {
			if run.rgt == nil {
				run.rgt = summary
			}
			i.logger.WithField("summary_id", summary.RecordID()).Info("Created RGT summarized information")
		} else {
			i.logger.WithFields(logrus.Fields{
				"summary_id": summary.RecordID(),
				"samp_id":    sampleID,
			}).Info("Imported summarized information")
		}
		run.summaries = append(run.summaries, cachedSummary{summary: summary, sampleID: sampleID})
	}
	return nil
}

func (i *Importer) extractSummary(report *domain.Report, row domain.Cells, rgt bool) *domain.SummarizedInfo {
	values := domain.Cells{}
	i.decomposeInto(values, domain.ColSampMatCode, row)
	i.decomposeInto(values, domain.ColSampUnitIDs, row)
	i.decomposeInto(values, domain.ColProgInfo, row)
	if rgt {
		i.decomposeInto(values, domain.ColParamCode, row)
	}

	summary := domain.NewSummarizedInfo()
	i.copyRow(summary, row)
	for col, c := range values {
		i.setCell(summary, col, c)
	}
	domain.InjectParent(report, summary)

	if rgt {
		summary.Type = domain.SummaryRGT
	} else {
		summary.Type = i.species.TypeBySpecies(summary.Source)
	}
	return summary
}

func (i *Importer) importCasesAndResults(ctx context.Context, run *importRun, rows []domain.Cells) error {
	for _, row := range rows {
		if isSummarizedInfo(row) {
			continue
		}

		var summary *domain.SummarizedInfo
		if i.isRGT(row) {
			s, err := i.rgtSummary(ctx, run)
			if err != nil {
				return err
			}
			summary = s
		} else {
			origSampID := i.origSampID(row)
			summary = run.findSummary(origSampID)
			if summary == nil {
				return run.reconciliationError(origSampID, row)
			}
			i.logger.WithFields(logrus.Fields{
				"orig_samp_id": origSampID,
				"summary_id":   summary.RecordID(),
			}).Debug("Related summarized information found")
		}

		caseReport, err := i.importCase(ctx, run, summary, row)
		if err != nil {
			return err
		}

		result := i.extractResult(run.report, summary, caseReport, row)
		if err := i.store.Add(ctx, result); err != nil {
			return fmt.Errorf("failed to add analytical result: %w", err)
		}
		run.resultCount++
		i.metrics.Imported(domain.KindResult.String())
		i.logger.WithField("result_id", result.RecordID()).Info("Imported analytical result")
	}
	return nil
}

// rgtSummary returns the random genotyping summary of the report, creating
// one when the dataset did not carry it.
func (i *Importer) rgtSummary(ctx context.Context, run *importRun) (*domain.SummarizedInfo, error) {
	if run.rgt != nil {
		return run.rgt, nil
	}
	summary := domain.NewSummarizedInfo()
	summary.Type = domain.SummaryRGT
	summary.ParamCode = domain.RGTParamCode
	domain.InjectParent(run.report, summary)
	if err := i.store.Add(ctx, summary); err != nil {
		return nil, fmt.Errorf("failed to add RGT summarized information: %w", err)
	}
	run.rgt = summary
	run.summaryCount++
	i.metrics.Imported(domain.KindSummary.String())
	i.logger.WithField("summary_id", summary.RecordID()).Info("Created fake RGT summarized information")
	return summary, nil
}

// origSampID reads the sample id of the owning summary from the row. Old
// reports lack it in sampInfo; their resId starts with it instead.
func (i *Importer) origSampID(row domain.Cells) string {
	values, err := i.decomposer.Decompose(domain.ColSampInfo, row[domain.ColSampInfo].Value())
	if err != nil {
		i.logger.WithError(err).Warn("Cannot decompose sampInfo")
	}
	if c, ok := values[domain.ColOrigSampID]; ok && !c.IsEmpty() {
		return c.Value()
	}
	resID := row[domain.ColResID].Value()
	if idx := strings.Index(resID, "."); idx >= 0 {
		return resID[:idx]
	}
	return resID
}

func (r *importRun) findSummary(origSampID string) *domain.SummarizedInfo {
	if origSampID == "" {
		return nil
	}
	for _, c := range r.summaries {
		if c.sampleID == origSampID {
			return c.summary
		}
	}
	return nil
}

func (r *importRun) reconciliationError(origSampID string, row domain.Cells) error {
	candidates := make([]domain.Candidate, 0, len(r.summaries))
	for _, c := range r.summaries {
		candidates = append(candidates, domain.Candidate{
			SummaryID: c.summary.RecordID(),
			SampleID:  c.sampleID,
		})
	}
	return &domain.ReconciliationError{
		OrigSampID: origSampID,
		Row:        row.Codes(),
		Candidates: candidates,
	}
}

// importCase returns the case of the row, persisting it on its first occurrence.
func (i *Importer) importCase(ctx context.Context, run *importRun, summary *domain.SummarizedInfo, row domain.Cells) (*domain.CaseReport, error) {
	sampID, ok := row[domain.ColSampleID]
	if !ok || sampID.IsEmpty() {
		i.logger.WithField("row", row.Codes()).Error("Missing sampId to extract from case row")
		return nil, fmt.Errorf("importing case: missing %s: %w", domain.ColSampleID, domain.ErrNotFound)
	}
	key := sampID.Label
	if key == "" {
		key = sampID.Code
	}
	if c, ok := run.cases[key]; ok {
		return c, nil
	}

	caseReport := i.extractCase(run.report, summary, row)
	if err := i.store.Add(ctx, caseReport); err != nil {
		return nil, fmt.Errorf("failed to add case: %w", err)
	}
	run.cases[key] = caseReport
	run.caseCount++
	i.metrics.Imported(domain.KindCase.String())

	i.logger.WithFields(logrus.Fields{
		"case_id": caseReport.RecordID(),
		"samp_id": caseReport.SampleID,
	}).Info("Imported case")
	return caseReport, nil
}

func (i *Importer) extractCase(report *domain.Report, summary *domain.SummarizedInfo, row domain.Cells) *domain.CaseReport {
	values := domain.Cells{}
	for _, col := range caseCompositeColumns {
		i.decomposeInto(values, col, row)
	}

	// the "com" attribute means a comment in evalInfo and a breed in sampMatInfo
	evalInfo, _ := i.decomposer.Decompose(domain.ColEvalInfo, row[domain.ColEvalInfo].Value())
	values[domain.ColEvalComment] = evalInfo[domain.AttrCommentBreed]
	matInfo, _ := i.decomposer.Decompose(domain.ColSampMatInfo, row[domain.ColSampMatInfo].Value())
	values[domain.ColBreed] = matInfo[domain.AttrCommentBreed]
	delete(values, domain.AttrCommentBreed)

	values[domain.ColSampleID] = row[domain.ColSampleID]
	values[domain.ColSampArea] = row[domain.ColSampArea]
	values[domain.ColSampDay] = row[domain.ColSampDay]

	caseReport := domain.NewCaseReport()
	for col, c := range values {
		i.setCell(caseReport, col, c)
	}
	domain.InjectParent(report, caseReport)
	domain.InjectParent(summary, caseReport)
	return caseReport
}

func (i *Importer) extractResult(report *domain.Report, summary *domain.SummarizedInfo, caseReport *domain.CaseReport, row domain.Cells) *domain.AnalyticalResult {
	values := domain.Cells{}
	i.decomposeInto(values, domain.ColParamCode, row)
	i.decomposeInto(values, domain.ColSampInfo, row)

	result := domain.NewAnalyticalResult()
	i.copyRow(result, row)

	paramCode := row[domain.ColParamCode].Value()
	result.ParamBaseTerm = i.decomposer.BaseTerm(paramCode)
	// the test aim is only known when the row carries a result
	if resQual := row[domain.ColResQualValue].Value(); resQual != "" {
		result.TestAim = result.ParamBaseTerm + "$" + resQual
	}
	for col, c := range values {
		i.setCell(result, col, c)
	}

	domain.InjectParent(report, result)
	domain.InjectParent(summary, result)
	domain.InjectParent(caseReport, result)
	return result
}

// decomposeInto merges the sub-values of a composite column into values.
// Malformed composites are logged and skipped.
func (i *Importer) decomposeInto(values domain.Cells, col string, row domain.Cells) {
	raw := row[col].Value()
	if raw == "" {
		return
	}
	parts, err := i.decomposer.Decompose(col, raw)
	if err != nil {
		i.logger.WithFields(logrus.Fields{
			"column": col,
			"value":  raw,
		}).WithError(err).Warn("Cannot decompose composite field")
	}
	for k, v := range parts {
		values[k] = v
	}
}

// copyRow copies the dataset row into a fresh record. Ids are never taken
// from the row.
func (i *Importer) copyRow(rec domain.Record, row domain.Cells) {
	for col, c := range row {
		switch col {
		case domain.ColID, domain.ColReportID, domain.ColSummaryID, domain.ColCaseID:
			continue
		}
		i.setCell(rec, col, c)
	}
}

// setCell sets the column, logging values the record degrades to zero.
func (i *Importer) setCell(rec domain.Record, col string, c domain.Cell) {
	if err := domain.ParseCell(rec.Kind(), col, c.Value()); err != nil {
		i.logger.WithFields(logrus.Fields{
			"kind":  rec.Kind().String(),
			"field": col,
			"value": c.Value(),
		}).WithError(err).Warn("Malformed value, using the default")
	}
	rec.Set(col, c)
}

// ReportFromDataset builds an unsaved report from the dataset metadata.
// Country, year and month come from the sender id, e.g. FR1705 is France,
// May 2017.
func ReportFromDataset(dataset *domain.Dataset, logger *logrus.Logger) *domain.Report {
	report := domain.NewReport()
	report.DatasetID = dataset.ID
	report.DcCode = dataset.DcCode

	senderID, version, ok := domain.SplitSenderID(dataset.SenderDatasetID)
	report.SenderID = senderID
	if ok {
		report.Version = version
	} else {
		report.Version = domain.FirstVersion
	}

	status, err := domain.ParseStatus(string(dataset.Status))
	if err != nil {
		logger.WithFields(logrus.Fields{
			"sender_dataset_id": dataset.SenderDatasetID,
			"status":            dataset.Status,
		}).WithError(err).Warn("Unknown dataset status, using DRAFT")
	}
	report.Status = status

	if len(senderID) < 6 {
		logger.WithField("sender_id", senderID).Error("Cannot parse country, year and month of sender id")
	} else {
		report.Country = senderID[0:2]
		report.Year = "20" + senderID[2:4]
		report.Month = strings.TrimPrefix(senderID[4:6], "0")
	}

	report.MessageID = dataset.LastMessageID
	report.LastMessageID = dataset.LastMessageID
	report.LastModifyingMessageID = dataset.LastModifyingMessageID
	report.LastValidationMessageID = dataset.LastValidationMessageID
	return report
}

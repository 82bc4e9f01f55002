package service

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/tse-report-engine/internal/domain"
)

// Issue codes reported by the validator.
const (
	IssueInvalidDate                 = "INVALID_DATE"
	IssueMissingSampleData           = "MISSING_SAMPLE_DATA"
	IssueMissingResultData           = "MISSING_RESULT_DATA"
	IssueMissingGenotypingForScrapie = "MISSING_GENOTYPING_FOR_SCRAPIE"
)

// ReportIssue is one problem found in the content of a report.
type ReportIssue struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
	RowIDs     []string `json:"row_ids,omitempty"`
	Values     []string `json:"values,omitempty"`
	SummaryID  int64    `json:"summary_id,omitempty"`
	CaseID     int64    `json:"case_id,omitempty"`
}

// Validator checks the consistency of a report tree before it is sent.
type Validator struct {
	logger *logrus.Logger
}

// NewValidator creates a new report validator
func NewValidator(logger *logrus.Logger) *Validator {
	return &Validator{logger: logger}
}

// ValidDate reports whether day exists in the month of year. Unknown months
// are not rejected here; the month column has its own catalogue.
func ValidDate(day, month, year int) bool {
	if day < 1 {
		return false
	}
	switch month {
	case 4, 6, 9, 11:
		return day <= 30
	case 2:
		if day == 29 {
			return isLeapYear(year)
		}
		return day <= 28
	default:
		return day <= 31
	}
}

func isLeapYear(year int) bool {
	return (year%4 == 0 && year%100 != 0) || year%400 == 0
}

// ValidateTree runs every check over an already loaded tree.
func (v *Validator) ValidateTree(tree *Tree) []ReportIssue {
	var issues []ReportIssue

	casesBySummary := map[int64][]*domain.CaseReport{}
	for _, rec := range tree.Cases {
		c := rec.(*domain.CaseReport)
		casesBySummary[c.SummaryID] = append(casesBySummary[c.SummaryID], c)
	}
	resultsByCase := map[int64][]*domain.AnalyticalResult{}
	for _, rec := range tree.Results {
		r := rec.(*domain.AnalyticalResult)
		resultsByCase[r.CaseID] = append(resultsByCase[r.CaseID], r)
	}

	for _, rec := range tree.Summaries {
		summary := rec.(*domain.SummarizedInfo)
		expected := summary.TotalPositive + summary.TotalInconclusive
		if summary.IsRGT() {
			expected = 1
		}
		if expected > 0 && len(casesBySummary[summary.RecordID()]) == 0 {
			issues = append(issues, ReportIssue{
				Code:       IssueMissingSampleData,
				Message:    fmt.Sprintf("sample data missing for summarized information %d", summary.RecordID()),
				Suggestion: "fill the sample data of the positive and inconclusive animals",
				RowIDs:     []string{rowID(summary)},
				SummaryID:  summary.RecordID(),
			})
		}

		for _, c := range casesBySummary[summary.RecordID()] {
			issues = append(issues, v.validateCase(tree.Report, summary, c, resultsByCase[c.RecordID()])...)
		}
	}

	if len(issues) > 0 {
		v.logger.WithFields(logrus.Fields{
			"report_id": tree.Report.RecordID(),
			"issues":    len(issues),
		}).Warn("Report has validation issues")
	}
	return issues
}

func (v *Validator) validateCase(report *domain.Report, summary *domain.SummarizedInfo, c *domain.CaseReport, results []*domain.AnalyticalResult) []ReportIssue {
	var issues []ReportIssue

	if c.SampDay != "" {
		day, derr := strconv.Atoi(c.SampDay)
		month, merr := strconv.Atoi(report.Month)
		year, yerr := strconv.Atoi(report.Year)
		if derr != nil || (merr == nil && yerr == nil && !ValidDate(day, month, year)) {
			issues = append(issues, ReportIssue{
				Code:       IssueInvalidDate,
				Message:    "invalid sampling date",
				Suggestion: "type correct values",
				Values:     []string{c.SampDay + "/" + report.Month + "/" + report.Year},
				SummaryID:  summary.RecordID(),
				CaseID:     c.RecordID(),
			})
		}
	}

	if len(results) == 0 {
		issues = append(issues, ReportIssue{
			Code:       IssueMissingResultData,
			Message:    fmt.Sprintf("analytical results missing for case %s", rowID(c)),
			Suggestion: "fill the analytical results",
			RowIDs:     []string{rowID(c)},
			SummaryID:  summary.RecordID(),
			CaseID:     c.RecordID(),
		})
		return issues
	}

	// positive scrapie cases must be genotyped
	if summary.Type == domain.SummaryScrapie && c.SampEventAsses != "" && c.SampEventAsses != domain.AssessInconclusiveCode {
		genotyped := false
		for _, r := range results {
			if r.AnMethType == domain.TestTypeMolecular {
				genotyped = true
				break
			}
		}
		if !genotyped {
			issues = append(issues, ReportIssue{
				Code:       IssueMissingGenotypingForScrapie,
				Message:    "genotyping is mandatory for scrapie cases",
				Suggestion: "add a genotyping result to the case",
				RowIDs:     []string{rowID(c)},
				SummaryID:  summary.RecordID(),
				CaseID:     c.RecordID(),
			})
		}
	}
	return issues
}

func rowID(rec domain.Record) string {
	return strconv.FormatInt(rec.RecordID(), 10)
}

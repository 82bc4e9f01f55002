package domain

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// UnsavedID is the id of a record that has not been persisted yet.
const UnsavedID int64 = -1

// Cell holds both the machine code and the human label of a column value.
type Cell struct {
	Code  string `json:"code"`
	Label string `json:"label,omitempty"`
}

// Text builds a cell whose code and label are the same string.
func Text(v string) Cell {
	return Cell{Code: v, Label: v}
}

// Value returns the code, or the label when no code is set.
func (c Cell) Value() string {
	if c.Code != "" {
		return c.Code
	}
	return c.Label
}

// IsEmpty reports whether neither code nor label are set.
func (c Cell) IsEmpty() bool {
	return c.Code == "" && c.Label == ""
}

// Cells maps column ids to cells.
type Cells map[string]Cell

// Codes flattens the cells to their values.
func (c Cells) Codes() map[string]string {
	out := make(map[string]string, len(c))
	for k, v := range c {
		out[k] = v.Value()
	}
	return out
}

// Keys returns the column ids in lexical order.
func (c Cells) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Record is the row abstraction shared by every node of the report tree.
// Known columns are backed by typed fields; anything else lands in an open
// map of schema-defined extra columns.
type Record interface {
	Kind() Kind
	RecordID() int64
	SetRecordID(id int64)
	Get(col string) Cell
	Set(col string, c Cell)
	Cells() Cells
}

// Header carries the identity and the extra columns of a record.
type Header struct {
	ID    int64 `json:"id"`
	Extra Cells `json:"extra,omitempty"`
}

func newHeader() Header {
	return Header{ID: UnsavedID, Extra: Cells{}}
}

// RecordID returns the database id, UnsavedID before the first persist.
func (h *Header) RecordID() int64 { return h.ID }

// SetRecordID assigns the database id.
func (h *Header) SetRecordID(id int64) { h.ID = id }

// IsSaved reports whether the record has been persisted.
func (h *Header) IsSaved() bool { return h.ID != UnsavedID }

func (h *Header) extra(col string) Cell {
	if h.Extra == nil {
		return Cell{}
	}
	return h.Extra[col]
}

func (h *Header) setExtra(col string, c Cell) {
	if h.Extra == nil {
		h.Extra = Cells{}
	}
	h.Extra[col] = c
}

func (h *Header) fill(out Cells) Cells {
	for k, v := range h.Extra {
		if _, typed := out[k]; !typed {
			out[k] = v
		}
	}
	out[ColID] = Text(formatID(h.ID))
	return out
}

// Report is the root of the tree: one monthly dataset version.
type Report struct {
	Header
	SenderID                string
	DatasetID               string
	Version                 string
	Status                  Status
	MessageID               string
	LastMessageID           string
	LastModifyingMessageID  string
	LastValidationMessageID string
	AggregatorID            *int64
	DcCode                  string
	Type                    ReportType
	Country                 string
	Year                    string
	Month                   string
}

// NewReport returns an unsaved draft report at the first version.
func NewReport() *Report {
	return &Report{
		Header:  newHeader(),
		Version: FirstVersion,
		Status:  StatusDraft,
		Type:    ReportTypeNormal,
	}
}

func (r *Report) Kind() Kind { return KindReport }

// IsAggregated reports whether the report is currently grouped under an aggregator.
func (r *Report) IsAggregated() bool { return r.AggregatorID != nil }

// IsAggregator reports whether the report is a collection aggregator.
func (r *Report) IsAggregator() bool { return r.Type == ReportTypeCollectionAggregation }

func (r *Report) Get(col string) Cell {
	switch col {
	case ColID:
		return Text(formatID(r.ID))
	case ColSenderID:
		return Text(r.SenderID)
	case ColDatasetID:
		return Text(r.DatasetID)
	case ColVersion:
		return Text(r.Version)
	case ColStatus:
		return Text(string(r.Status))
	case ColMessageID:
		return Text(r.MessageID)
	case ColLastMessageID:
		return Text(r.LastMessageID)
	case ColLastModifyingMessageID:
		return Text(r.LastModifyingMessageID)
	case ColLastValidationMessageID:
		return Text(r.LastValidationMessageID)
	case ColAggregatorID:
		if r.AggregatorID == nil {
			return Cell{}
		}
		return Text(formatID(*r.AggregatorID))
	case ColDcCode:
		return Text(r.DcCode)
	case ColType:
		return Text(string(r.Type))
	case ColCountry:
		return Text(r.Country)
	case ColYear:
		return Text(r.Year)
	case ColMonth:
		return Text(r.Month)
	default:
		return r.extra(col)
	}
}

func (r *Report) Set(col string, c Cell) {
	v := c.Value()
	switch col {
	case ColID:
		r.ID = parseID(v)
	case ColSenderID:
		r.SenderID = v
	case ColDatasetID:
		r.DatasetID = v
	case ColVersion:
		r.Version = v
	case ColStatus:
		r.Status, _ = ParseStatus(v)
	case ColMessageID:
		r.MessageID = v
	case ColLastMessageID:
		r.LastMessageID = v
	case ColLastModifyingMessageID:
		r.LastModifyingMessageID = v
	case ColLastValidationMessageID:
		r.LastValidationMessageID = v
	case ColAggregatorID:
		if v == "" {
			r.AggregatorID = nil
			return
		}
		id := parseID(v)
		r.AggregatorID = &id
	case ColDcCode:
		r.DcCode = v
	case ColType:
		if v == "" {
			r.Type = ReportTypeNormal
			return
		}
		r.Type = ReportType(v)
	case ColCountry:
		r.Country = v
	case ColYear:
		r.Year = v
	case ColMonth:
		r.Month = v
	default:
		r.setExtra(col, c)
	}
}

var reportColumns = []string{
	ColSenderID, ColDatasetID, ColVersion, ColStatus, ColMessageID, ColLastMessageID,
	ColLastModifyingMessageID, ColLastValidationMessageID, ColAggregatorID, ColDcCode,
	ColType, ColCountry, ColYear, ColMonth,
}

func (r *Report) Cells() Cells {
	return r.fill(typedCells(r, reportColumns))
}

// SummarizedInfo aggregates the sampling counts of one programme, species
// and sampled matrix within a report.
type SummarizedInfo struct {
	Header
	ReportID          int64
	Type              SummaryType
	Source            string
	ProgID            string
	SampMatCode       string
	ParamCode         string
	TotalPositive     int
	TotalInconclusive int
	TotalTested       int
	TotalNegative     int
	ChildrenError     bool
}

// NewSummarizedInfo returns an unsaved summarized information record.
func NewSummarizedInfo() *SummarizedInfo {
	return &SummarizedInfo{Header: newHeader(), ReportID: UnsavedID}
}

func (s *SummarizedInfo) Kind() Kind { return KindSummary }

// IsRGT reports whether the summary is a synthetic random genotyping record.
func (s *SummarizedInfo) IsRGT() bool { return s.Type == SummaryRGT }

// IsCWD reports whether the summary is about chronic wasting disease.
func (s *SummarizedInfo) IsCWD() bool { return s.Type == SummaryCWD }

func (s *SummarizedInfo) Get(col string) Cell {
	switch col {
	case ColID:
		return Text(formatID(s.ID))
	case ColReportID:
		return Text(formatID(s.ReportID))
	case ColType:
		return Text(string(s.Type))
	case ColSource:
		return Text(s.Source)
	case ColProgID:
		return Text(s.ProgID)
	case ColSampMatCode:
		return Text(s.SampMatCode)
	case ColParamCode:
		return Text(s.ParamCode)
	case ColTotPositive:
		return Text(strconv.Itoa(s.TotalPositive))
	case ColTotInconclusive:
		return Text(strconv.Itoa(s.TotalInconclusive))
	case ColTotTested:
		return Text(strconv.Itoa(s.TotalTested))
	case ColTotNegative:
		return Text(strconv.Itoa(s.TotalNegative))
	case ColChildrenError:
		return Text(strconv.FormatBool(s.ChildrenError))
	default:
		return s.extra(col)
	}
}

func (s *SummarizedInfo) Set(col string, c Cell) {
	v := c.Value()
	switch col {
	case ColID:
		s.ID = parseID(v)
	case ColReportID:
		s.ReportID = parseID(v)
	case ColType:
		s.Type = SummaryType(v)
	case ColSource:
		s.Source = v
	case ColProgID:
		s.ProgID = v
	case ColSampMatCode:
		s.SampMatCode = v
	case ColParamCode:
		s.ParamCode = v
	case ColTotPositive:
		s.TotalPositive, _ = ParseCount(v)
	case ColTotInconclusive:
		s.TotalInconclusive, _ = ParseCount(v)
	case ColTotTested:
		s.TotalTested, _ = ParseCount(v)
	case ColTotNegative:
		s.TotalNegative, _ = ParseCount(v)
	case ColChildrenError:
		s.ChildrenError, _ = strconv.ParseBool(v)
	default:
		s.setExtra(col, c)
	}
}

var summaryColumns = []string{
	ColReportID, ColType, ColSource, ColProgID, ColSampMatCode, ColParamCode,
	ColTotPositive, ColTotInconclusive, ColTotTested, ColTotNegative, ColChildrenError,
}

func (s *SummarizedInfo) Cells() Cells {
	return s.fill(typedCells(s, summaryColumns))
}

// CaseReport is one sampled animal within a summarized information record.
type CaseReport struct {
	Header
	ReportID       int64
	SummaryID      int64
	SampleID       string
	SampEventAsses string
	Part           string
	EvalComment    string
	Breed          string
	SampArea       string
	SampDay        string
	ChildrenError  bool
}

// NewCaseReport returns an unsaved case report.
func NewCaseReport() *CaseReport {
	return &CaseReport{Header: newHeader(), ReportID: UnsavedID, SummaryID: UnsavedID}
}

func (c *CaseReport) Kind() Kind { return KindCase }

func (c *CaseReport) Get(col string) Cell {
	switch col {
	case ColID:
		return Text(formatID(c.ID))
	case ColReportID:
		return Text(formatID(c.ReportID))
	case ColSummaryID:
		return Text(formatID(c.SummaryID))
	case ColSampleID:
		return Text(c.SampleID)
	case ColSampEventAsses:
		return Text(c.SampEventAsses)
	case ColPart:
		return Text(c.Part)
	case ColEvalComment:
		return Text(c.EvalComment)
	case ColBreed:
		return Text(c.Breed)
	case ColSampArea:
		return Text(c.SampArea)
	case ColSampDay:
		return Text(c.SampDay)
	case ColChildrenError:
		return Text(strconv.FormatBool(c.ChildrenError))
	default:
		return c.extra(col)
	}
}

func (c *CaseReport) Set(col string, cell Cell) {
	v := cell.Value()
	switch col {
	case ColID:
		c.ID = parseID(v)
	case ColReportID:
		c.ReportID = parseID(v)
	case ColSummaryID:
		c.SummaryID = parseID(v)
	case ColSampleID:
		// the sample id is identified by its label during import
		if cell.Label != "" {
			c.SampleID = cell.Label
		} else {
			c.SampleID = v
		}
	case ColSampEventAsses:
		c.SampEventAsses = v
	case ColPart:
		c.Part = v
	case ColEvalComment:
		c.EvalComment = v
	case ColBreed:
		c.Breed = v
	case ColSampArea:
		c.SampArea = v
	case ColSampDay:
		c.SampDay = v
	case ColChildrenError:
		c.ChildrenError, _ = strconv.ParseBool(v)
	default:
		c.setExtra(col, cell)
	}
}

var caseColumns = []string{
	ColReportID, ColSummaryID, ColSampleID, ColSampEventAsses, ColPart, ColEvalComment,
	ColBreed, ColSampArea, ColSampDay, ColChildrenError,
}

func (c *CaseReport) Cells() Cells {
	return c.fill(typedCells(c, caseColumns))
}

// AnalyticalResult is one test performed on a case.
type AnalyticalResult struct {
	Header
	ReportID      int64
	SummaryID     int64
	CaseID        int64
	ParamCode     string
	SampInfo      string
	ParamBaseTerm string
	ResQualValue  string
	TestAim       string
	AnMethType    string
	AnMethCode    string
	ResID         string
}

// NewAnalyticalResult returns an unsaved analytical result.
func NewAnalyticalResult() *AnalyticalResult {
	return &AnalyticalResult{Header: newHeader(), ReportID: UnsavedID, SummaryID: UnsavedID, CaseID: UnsavedID}
}

func (a *AnalyticalResult) Kind() Kind { return KindResult }

func (a *AnalyticalResult) Get(col string) Cell {
	switch col {
	case ColID:
		return Text(formatID(a.ID))
	case ColReportID:
		return Text(formatID(a.ReportID))
	case ColSummaryID:
		return Text(formatID(a.SummaryID))
	case ColCaseID:
		return Text(formatID(a.CaseID))
	case ColParamCode:
		return Text(a.ParamCode)
	case ColSampInfo:
		return Text(a.SampInfo)
	case ColParamBaseTerm:
		return Text(a.ParamBaseTerm)
	case ColResQualValue:
		return Text(a.ResQualValue)
	case ColTestAim:
		return Text(a.TestAim)
	case ColAnMethType:
		return Text(a.AnMethType)
	case ColAnMethCode:
		return Text(a.AnMethCode)
	case ColResID:
		return Text(a.ResID)
	default:
		return a.extra(col)
	}
}

func (a *AnalyticalResult) Set(col string, c Cell) {
	v := c.Value()
	switch col {
	case ColID:
		a.ID = parseID(v)
	case ColReportID:
		a.ReportID = parseID(v)
	case ColSummaryID:
		a.SummaryID = parseID(v)
	case ColCaseID:
		a.CaseID = parseID(v)
	case ColParamCode:
		a.ParamCode = v
	case ColSampInfo:
		a.SampInfo = v
	case ColParamBaseTerm:
		a.ParamBaseTerm = v
	case ColResQualValue:
		a.ResQualValue = v
	case ColTestAim:
		a.TestAim = v
	case ColAnMethType:
		a.AnMethType = v
	case ColAnMethCode:
		a.AnMethCode = v
	case ColResID:
		a.ResID = v
	default:
		a.setExtra(col, c)
	}
}

var resultColumns = []string{
	ColReportID, ColSummaryID, ColCaseID, ColParamCode, ColSampInfo, ColParamBaseTerm,
	ColResQualValue, ColTestAim, ColAnMethType, ColAnMethCode, ColResID,
}

func (a *AnalyticalResult) Cells() Cells {
	return a.fill(typedCells(a, resultColumns))
}

// NewRecord returns an empty unsaved record of the given kind.
func NewRecord(kind Kind) (Record, error) {
	switch kind {
	case KindReport:
		return NewReport(), nil
	case KindSummary:
		return NewSummarizedInfo(), nil
	case KindCase:
		return NewCaseReport(), nil
	case KindResult:
		return NewAnalyticalResult(), nil
	default:
		return nil, ErrInvalidKind
	}
}

// TypedColumns lists the columns backed by typed fields for a kind.
func TypedColumns(kind Kind) []string {
	switch kind {
	case KindReport:
		return reportColumns
	case KindSummary:
		return summaryColumns
	case KindCase:
		return caseColumns
	case KindResult:
		return resultColumns
	default:
		return nil
	}
}

// InjectParent copies the identity of parent into child. Only ids are
// copied; children never hold a pointer back to their parents.
func InjectParent(parent, child Record) {
	col := parent.Kind().ParentColumn()
	if col == "" {
		return
	}
	child.Set(col, Text(formatID(parent.RecordID())))
}

// CopyValues copies every column except the id from src into dst.
func CopyValues(dst, src Record) {
	for col, c := range src.Cells() {
		if col == ColID {
			continue
		}
		dst.Set(col, c)
	}
}

// ParentID reads the id of the ancestor of the given kind.
func ParentID(rec Record, parent Kind) int64 {
	col := parent.ParentColumn()
	if col == "" {
		return UnsavedID
	}
	return parseID(rec.Get(col).Value())
}

// ParseCount parses a numeric counter. Integral decimals such as "3.0", as
// written by spreadsheets, are accepted. Malformed values degrade to zero.
func ParseCount(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err == nil {
		return n, nil
	}
	f, ferr := strconv.ParseFloat(v, 64)
	if ferr != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid count %q: %w", v, err)
	}
	return int(f), nil
}

// ParseCell checks a raw value destined for a typed column of kind. Set
// never fails: it degrades the values rejected here to their zero value.
func ParseCell(kind Kind, col, v string) error {
	var err error
	switch kind {
	case KindReport:
		if col == ColStatus {
			_, err = ParseStatus(v)
		}
	case KindSummary:
		switch col {
		case ColTotPositive, ColTotInconclusive, ColTotTested, ColTotNegative:
			_, err = ParseCount(v)
		}
	}
	return err
}

func typedCells(r Record, cols []string) Cells {
	out := make(Cells, len(cols)+1)
	for _, col := range cols {
		out[col] = r.Get(col)
	}
	return out
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseID(v string) int64 {
	if v == "" {
		return UnsavedID
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return UnsavedID
	}
	return id
}

// Package domain contains the core entities of the TSE surveillance reporting
// engine: the report tree (report, summarized information, case, analytical
// result), the dataset lifecycle status and the contracts of the collaborators
// the engine depends on.
package domain

import (
	"errors"
	"fmt"
)

// Status is the lifecycle status of a report dataset as tracked by the
// central collection system.
type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusLocallyValidated  Status = "LOCALLY_VALIDATED"
	StatusUploaded          Status = "UPLOADED"
	StatusUploadFailed      Status = "UPLOAD_FAILED"
	StatusProcessing        Status = "PROCESSING"
	StatusValid             Status = "VALID"
	StatusValidWithWarnings Status = "VALID_WITH_WARNINGS"
	StatusRejectedEditable  Status = "REJECTED_EDITABLE"
	StatusRejected          Status = "REJECTED"
	StatusSubmitted         Status = "SUBMITTED"
	StatusAcceptedDWH       Status = "ACCEPTED_DWH"
	StatusDeleted           Status = "DELETED"
	StatusError             Status = "ERROR"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidStatus = errors.New("invalid dataset status")
	ErrInvalidKind   = errors.New("invalid record kind")
)

// ParseStatus converts a stored status code, falling back to DRAFT for empty values.
func ParseStatus(code string) (Status, error) {
	if code == "" {
		return StatusDraft, nil
	}
	s := Status(code)
	if !s.IsKnown() {
		return StatusDraft, fmt.Errorf("%w: %q", ErrInvalidStatus, code)
	}
	return s, nil
}

// IsKnown reports whether the status belongs to the closed status set.
func (s Status) IsKnown() bool {
	switch s {
	case StatusDraft, StatusLocallyValidated, StatusUploaded, StatusUploadFailed,
		StatusProcessing, StatusValid, StatusValidWithWarnings, StatusRejectedEditable,
		StatusRejected, StatusSubmitted, StatusAcceptedDWH, StatusDeleted, StatusError:
		return true
	default:
		return false
	}
}

// String returns the status code.
func (s Status) String() string {
	return string(s)
}

// IsEditable reports whether the report content may still be changed locally.
func (s Status) IsEditable() bool {
	switch s {
	case StatusDraft, StatusUploadFailed, StatusRejectedEditable:
		return true
	default:
		return false
	}
}

// IsFinalized reports whether the dataset reached a terminal state on the
// collection system. Aggregations are dissolved once their status is final.
func (s Status) IsFinalized() bool {
	switch s {
	case StatusAcceptedDWH, StatusRejected, StatusDeleted:
		return true
	default:
		return false
	}
}

// IsValid reports whether the collection system validated the dataset.
func (s Status) IsValid() bool {
	return s == StatusValid || s == StatusValidWithWarnings
}

// CanBeSent reports whether the report can be uploaded.
func (s Status) CanBeSent() bool {
	return s == StatusLocallyValidated
}

// CanBeSubmitted reports whether a sent report can be submitted.
func (s Status) CanBeSubmitted() bool {
	return s.IsValid()
}

// CanBeAmended reports whether a new version of the report can be created.
func (s Status) CanBeAmended() bool {
	switch s {
	case StatusValid, StatusValidWithWarnings, StatusRejectedEditable, StatusAcceptedDWH, StatusSubmitted:
		return true
	default:
		return false
	}
}

// CanBeRefreshed reports whether the remote status may have changed since the last check.
func (s Status) CanBeRefreshed() bool {
	switch s {
	case StatusDraft, StatusLocallyValidated, StatusDeleted:
		return false
	default:
		return true
	}
}

// ReportType distinguishes ordinary reports from collection aggregators.
type ReportType string

const (
	ReportTypeNormal                ReportType = "NORMAL"
	ReportTypeCollectionAggregation ReportType = "COLLECTION_AGGREGATION"
)

// Kind identifies the level of a record in the report tree.
type Kind int

const (
	KindReport Kind = iota
	KindSummary
	KindCase
	KindResult
)

// String returns the sheet name used for the kind.
func (k Kind) String() string {
	switch k {
	case KindReport:
		return "Report"
	case KindSummary:
		return "SummarizedInformation"
	case KindCase:
		return "CaseReport"
	case KindResult:
		return "AnalyticalResult"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind resolves a sheet name back to its kind.
func ParseKind(name string) (Kind, error) {
	for _, k := range []Kind{KindReport, KindSummary, KindCase, KindResult} {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidKind, name)
}

// ParentColumn is the column children use to reference a record of this kind.
func (k Kind) ParentColumn() string {
	switch k {
	case KindReport:
		return ColReportID
	case KindSummary:
		return ColSummaryID
	case KindCase:
		return ColCaseID
	default:
		return ""
	}
}

// Child returns the direct child kind, if any. Results are leaves.
func (k Kind) Child() (Kind, bool) {
	switch k {
	case KindReport:
		return KindSummary, true
	case KindSummary:
		return KindCase, true
	case KindCase:
		return KindResult, true
	default:
		return 0, false
	}
}

// SummaryType is the disease category of a summarized information record.
type SummaryType string

const (
	SummaryBSE     SummaryType = "BSE"
	SummaryScrapie SummaryType = "SCRAPIE"
	SummaryCWD     SummaryType = "CWD"
	SummaryBSEOS   SummaryType = "BSEOS"
	SummaryRGT     SummaryType = "RGT"
)

// TestAim is the purpose of an analytical test, used to select the default
// code of a reference rule.
type TestAim string

const (
	AimScreening      TestAim = "screening"
	AimConfirmatory   TestAim = "confirmatory"
	AimDiscriminatory TestAim = "discriminatory"
	AimGenotyping     TestAim = "genotypingBaseTerm"
)

// TestTypeCode returns the analytical method type code for the aim.
func (a TestAim) TestTypeCode() string {
	switch a {
	case AimScreening:
		return TestTypeScreening
	case AimConfirmatory:
		return TestTypeConfirmatory
	case AimDiscriminatory:
		return TestTypeDiscriminatory
	case AimGenotyping:
		return TestTypeMolecular
	default:
		return ""
	}
}

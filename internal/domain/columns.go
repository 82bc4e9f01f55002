package domain

// Column identifiers shared by the record schemas, the formula definitions and
// the flat dataset rows exchanged with the collection system.
const (
	ColID        = "id"
	ColReportID  = "reportId"
	ColSummaryID = "summInfoId"
	ColCaseID    = "caseId"
	ColType      = "type"

	// report
	ColSenderID                = "senderId"
	ColDatasetID               = "datasetId"
	ColVersion                 = "version"
	ColStatus                  = "status"
	ColMessageID               = "messageId"
	ColLastMessageID           = "lastMessageId"
	ColLastModifyingMessageID  = "lastModifyingMessageId"
	ColLastValidationMessageID = "lastValidationMessageId"
	ColAggregatorID            = "aggregatorId"
	ColDcCode                  = "dcCode"
	ColCountry                 = "country"
	ColYear                    = "year"
	ColMonth                   = "month"

	// summarized information
	ColSource          = "source"
	ColProgID          = "progId"
	ColSampMatCode     = "sampMatCode"
	ColParamCode       = "paramCode"
	ColSampUnitIDs     = "sampUnitIds"
	ColProgInfo        = "progInfo"
	ColTotPositive     = "totSamplePositive"
	ColTotInconclusive = "totSampleInconclusive"
	ColTotTested       = "totSampleTested"
	ColTotNegative     = "totSampleNegative"
	ColChildrenError   = "childrenError"

	// case report
	ColSampleID       = "sampId"
	ColSampEventAsses = "sampEventAsses"
	ColPart           = "part"
	ColEvalComment    = "evalCom"
	ColBreed          = "breed"
	ColSampArea       = "sampArea"
	ColSampDay        = "sampDay"
	ColEvalInfo       = "evalInfo"
	ColSampEventInfo  = "sampEventInfo"
	ColSampMatInfo    = "sampMatInfo"

	// analytical result
	ColSampInfo      = "sampInfo"
	ColParamBaseTerm = "paramCodeBaseTerm"
	ColResQualValue  = "resQualValue"
	ColTestAim       = "testAim"
	ColAnMethType    = "anMethType"
	ColAnMethCode    = "anMethCode"
	ColResID         = "resId"
	ColParamType     = "paramType"
	ColOrigSampID    = "origSampId"
)

// Attribute of the evalInfo and sampMatInfo composites that carries the
// evaluation comment and the breed respectively.
const AttrCommentBreed = "com"

// Catalogue codes used when building default records.
const (
	ParamTypeSummarizedInfo = "P002A"
	RGTParamCode            = "RF-00004629-PAR"

	TestTypeScreening      = "AT06A"
	TestTypeConfirmatory   = "AT12A"
	TestTypeDiscriminatory = "AT13A"
	TestTypeMolecular      = "AT08A"

	AnMethCodeGenotyping = "F089A"

	PartObex            = "F02.A06AM"
	PartRetropharyngeal = "F02.A0CNK"
	PartBlood           = "F02.A06AE"

	AssessInconclusiveCode  = "G025A"
	AssessInconclusiveLabel = "Inconclusive"
)

// Preference columns holding the preferred test method per disease and aim.
const (
	PrefScreeningBSE          = "prefScreeningBSE"
	PrefScreeningScrapie      = "prefScreeningScrapie"
	PrefScreeningCWD          = "prefScreeningCWD"
	PrefScreeningBSEOS        = "prefScreeningBSEOS"
	PrefConfirmatoryBSE       = "prefConfirmatoryBSE"
	PrefConfirmatoryScrapie   = "prefConfirmatoryScrapie"
	PrefConfirmatoryCWD       = "prefConfirmatoryCWD"
	PrefConfirmatoryBSEOS     = "prefConfirmatoryBSEOS"
	PrefDiscriminatoryBSE     = "prefDiscriminatoryBSE"
	PrefDiscriminatoryScrapie = "prefDiscriminatoryScrapie"
	PrefDiscriminatoryCWD     = "prefDiscriminatoryCWD"
	PrefDiscriminatoryBSEOS   = "prefDiscriminatoryBSEOS"
)

// Setting columns of the user settings record.
const (
	SettingCountry  = "country"
	SettingDcCode   = "dcCode"
	SettingSampArea = "sampArea"
	SettingUsername = "username"
)

// globalColumns lists the known settings and preference columns.
var globalColumns = []string{
	SettingCountry, SettingDcCode, SettingSampArea, SettingUsername,
	PrefScreeningBSE, PrefScreeningScrapie, PrefScreeningCWD, PrefScreeningBSEOS,
	PrefConfirmatoryBSE, PrefConfirmatoryScrapie, PrefConfirmatoryCWD, PrefConfirmatoryBSEOS,
	PrefDiscriminatoryBSE, PrefDiscriminatoryScrapie, PrefDiscriminatoryCWD, PrefDiscriminatoryBSEOS,
}

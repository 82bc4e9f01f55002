package formula

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tse-report-engine/internal/domain"
	"github.com/tse-report-engine/internal/repository"
)

type fixture struct {
	store   *repository.MemoryStore
	svc     *CELService
	report  *domain.Report
	summary *domain.SummarizedInfo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	defs, err := DefaultDefinitions()
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	store := repository.NewMemoryStore()
	globals := &domain.Globals{
		Settings:    domain.Cells{"country": domain.Text("FR"), "dcCode": domain.Text("TSE.TEST"), "sampArea": domain.Text("FR1")},
		Preferences: domain.Cells{},
	}
	svc, err := NewCELService(defs, store, globals, logger)
	require.NoError(t, err)
	return &fixture{store: store, svc: svc}
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	f.report = domain.NewReport()
	f.report.Year = "2017"
	f.report.Month = "5"
	require.NoError(t, f.svc.Initialise(ctx, f.report))
	require.NoError(t, f.store.Add(ctx, f.report))

	f.summary = domain.NewSummarizedInfo()
	domain.InjectParent(f.report, f.summary)
	f.summary.Source = "A057G"
	f.summary.ProgID = "PRG1"
	f.summary.TotalTested = 10
	f.summary.TotalPositive = 2
	f.summary.TotalInconclusive = 1
	require.NoError(t, f.svc.UpdateFormulas(ctx, f.summary))
	require.NoError(t, f.store.Add(ctx, f.summary))
}

func TestCELService_InitialiseReport(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	assert.Equal(t, "FR", f.report.Country)
	assert.Equal(t, "FR1705", f.report.SenderID)
	assert.Equal(t, "TSE.TEST", f.report.DcCode)
	assert.Equal(t, domain.FirstVersion, f.report.Version, "columns without formulas are untouched")
}

func TestCELService_InitialiseKeepsFilledColumns(t *testing.T) {
	f := newFixture(t)
	report := domain.NewReport()
	report.Country = "IT"
	report.SenderID = "CUSTOM"

	require.NoError(t, f.svc.Initialise(context.Background(), report))
	assert.Equal(t, "IT", report.Country)
	assert.Equal(t, "CUSTOM", report.SenderID)
}

func TestCELService_UpdateFormulasUsesParents(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	assert.Equal(t, 7, f.summary.TotalNegative)
	assert.Equal(t, "FR1705.PRG1.A057G", f.summary.Get(domain.ColSampleID).Value())

	c := domain.NewCaseReport()
	domain.InjectParent(f.report, c)
	domain.InjectParent(f.summary, c)
	c.SampleID = "S-001"
	require.NoError(t, f.svc.Initialise(ctx, c))
	require.NoError(t, f.store.Add(ctx, c))
	assert.Equal(t, domain.PartObex, c.Part)
	assert.Equal(t, "FR1", c.SampArea)

	r := domain.NewAnalyticalResult()
	domain.InjectParent(f.report, r)
	domain.InjectParent(f.summary, r)
	domain.InjectParent(c, r)
	require.NoError(t, f.store.Add(ctx, r))
	require.NoError(t, f.svc.UpdateFormulas(ctx, r))

	assert.Equal(t, "origSampId=FR1705.PRG1.A057G", r.SampInfo)
	assert.Equal(t, "S-001."+r.Get(domain.ColID).Value(), r.ResID)
}

func TestCELService_FormulaErrorsAreLogged(t *testing.T) {
	defs, err := ParseDefinitions(strings.NewReader(`
schemas:
  CaseReport:
    - id: sampArea
      default: settings.missing
    - id: part
      default: '"F02.A0CNK"'
`))
	require.NoError(t, err)
	logger, hook := test.NewNullLogger()
	svc, err := NewCELService(defs, nil, nil, logger)
	require.NoError(t, err)

	c := domain.NewCaseReport()
	require.NoError(t, svc.Initialise(context.Background(), c))

	assert.Equal(t, "", c.SampArea)
	assert.Equal(t, domain.PartRetropharyngeal, c.Part, "later formulas still run")
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, domain.ColSampArea, hook.LastEntry().Data["column"])
}

func TestCELService_MissingParentFails(t *testing.T) {
	f := newFixture(t)
	s := domain.NewSummarizedInfo()
	s.ReportID = 777

	err := f.svc.UpdateFormulas(context.Background(), s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCELService_Solve(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	v, err := f.svc.Solve(ctx, f.summary, domain.ColSampleID, domain.FormulaLabel)
	require.NoError(t, err)
	assert.Equal(t, "FR1705.PRG1.A057G", v)

	v, err = f.svc.Solve(ctx, f.summary, domain.ColProgID, domain.FormulaLabel)
	require.NoError(t, err)
	assert.Equal(t, "PRG1", v, "columns without formula solve to their value")

	_, err = f.svc.Solve(ctx, f.summary, "unknown", domain.FormulaLabel)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	v, err = f.svc.Solve(ctx, f.summary, domain.ColTotNegative, domain.FormulaLabel)
	require.NoError(t, err)
	assert.Equal(t, "7", v)
}

func TestCELService_EvalBool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := domain.NewAnalyticalResult()
	r.AnMethType = domain.TestTypeMolecular

	ok, err := f.svc.EvalBool(ctx, r, `row.anMethType == "AT08A"`)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.EvalBool(ctx, r, "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.EvalBool(ctx, r, `row.anMethType`)
	assert.Error(t, err, "non boolean result")

	_, err = f.svc.EvalBool(ctx, r, `row.(`)
	assert.Error(t, err, "syntax error")
}

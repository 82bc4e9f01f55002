package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/tse-report-engine/internal/domain"
	"github.com/tse-report-engine/internal/formula"
	"github.com/tse-report-engine/internal/repository"
	"github.com/tse-report-engine/internal/rules"
	"github.com/tse-report-engine/pkg/composite"
)

var testRules = rules.Table{
	{
		RecordType:           "BSE",
		ConfirmatoryExecuted: "true",
		Codes: map[domain.TestAim]string{
			domain.AimScreening:      "A01XX$POS",
			domain.AimConfirmatory:   "A02XX$POS",
			domain.AimDiscriminatory: "null",
		},
	},
	{
		RecordType:           "CWD",
		ConfirmatoryExecuted: "false",
		Codes: map[domain.TestAim]string{
			domain.AimScreening:      "C01XX$NEG",
			domain.AimDiscriminatory: "C03XX$NEG",
			domain.AimGenotyping:     "G01XX",
		},
	},
}

type fixture struct {
	ctx       context.Context
	logger    *logrus.Logger
	hook      *test.Hook
	store     *repository.MemoryStore
	formulas  *formula.CELService
	globals   *domain.Globals
	gateway   *fakeGateway
	defaults  *DefaultResultService
	importer  *Importer
	reports   *ReportService
	lifecycle *LifecycleService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	defs, err := formula.DefaultDefinitions()
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	globals := &domain.Globals{
		Settings: domain.Cells{
			"country":  domain.Text("FR"),
			"dcCode":   domain.Text("TSE.TEST"),
			"sampArea": domain.Text("FR1"),
		},
		Preferences: domain.Cells{
			domain.PrefScreeningBSE:    domain.Text("F015A"),
			domain.PrefConfirmatoryBSE: domain.Text("F016A"),
		},
	}

	formulas, err := formula.NewCELService(defs, store, globals, logger)
	require.NoError(t, err)
	schemas := formula.NewSchemaService(defs, formulas)

	resolver, err := rules.NewResolver(rules.StaticCache(testRules), 16, logger)
	require.NoError(t, err)

	gateway := newFakeGateway()
	return &fixture{
		ctx:       context.Background(),
		logger:    logger,
		hook:      hook,
		store:     store,
		formulas:  formulas,
		globals:   globals,
		gateway:   gateway,
		defaults:  NewDefaultResultService(logger, store, formulas, resolver, globals, nil),
		importer:  NewImporter(logger, store, formulas, composite.NewDecomposer(nil), defs, nil),
		reports:   NewReportService(logger, store, formulas, schemas, nil),
		lifecycle: NewLifecycleService(logger, store, gateway, nil),
	}
}

// newReport persists an initialised report for May 2017.
func (f *fixture) newReport(t *testing.T) *domain.Report {
	t.Helper()
	report := domain.NewReport()
	report.Year = "2017"
	report.Month = "5"
	require.NoError(t, f.formulas.Initialise(f.ctx, report))
	require.NoError(t, f.store.Add(f.ctx, report))
	return report
}

// newSummary persists a summary of the given type below report.
func (f *fixture) newSummary(t *testing.T, report *domain.Report, typ domain.SummaryType, source string) *domain.SummarizedInfo {
	t.Helper()
	summary := domain.NewSummarizedInfo()
	domain.InjectParent(report, summary)
	summary.Type = typ
	summary.Source = source
	summary.ProgID = "PRG1"
	summary.TotalTested = 10
	require.NoError(t, f.formulas.UpdateFormulas(f.ctx, summary))
	require.NoError(t, f.store.Add(f.ctx, summary))
	return summary
}

func (f *fixture) newCase(t *testing.T, report *domain.Report, summary *domain.SummarizedInfo, sampleID, assessment string) *domain.CaseReport {
	t.Helper()
	c := domain.NewCaseReport()
	domain.InjectParent(report, c)
	domain.InjectParent(summary, c)
	c.SampleID = sampleID
	c.SampEventAsses = assessment
	require.NoError(t, f.store.Add(f.ctx, c))
	return c
}

const sampleDatasetSender = "FR1705.01"

// datasetRows is a dataset with one BSE summary, two cases and three results.
func datasetRows() []domain.Cells {
	return []domain.Cells{
		{
			domain.ColParamType:   domain.Text(domain.ParamTypeSummarizedInfo),
			domain.ColProgID:      domain.Text("PRG1"),
			domain.ColSampMatCode: domain.Text("A04MQ#F01.A057G$F21.A07RV"),
			domain.ColTotTested:   domain.Text("10"),
			domain.ColTotPositive: domain.Text("2"),
		},
		resultRow("S1", "RF-00003042-PAR", "POS", "S1.1"),
		resultRow("S1", "RF-00003043-PAR", "POS", "S1.2"),
		resultRow("S2", "RF-00003042-PAR", "", "S2.1"),
	}
}

func resultRow(sampleID, paramCode, resQual, resID string) domain.Cells {
	return domain.Cells{
		domain.ColParamType:    domain.Text("P001A"),
		domain.ColSampleID:     domain.Text(sampleID),
		domain.ColParamCode:    domain.Text(paramCode),
		domain.ColResQualValue: domain.Text(resQual),
		domain.ColSampInfo:     domain.Text("origSampId=FR1705.PRG1.A057G"),
		domain.ColResID:        domain.Text(resID),
		domain.ColSampDay:      domain.Text("12"),
		domain.ColEvalInfo:     domain.Text("com=note"),
		domain.ColSampMatInfo:  domain.Text("com=Holstein"),
	}
}

func sampleDataset() *domain.Dataset {
	return &domain.Dataset{
		ID:              "DS-1",
		SenderDatasetID: sampleDatasetSender,
		Status:          domain.StatusValid,
		DcCode:          "TSE.TEST",
		LastMessageID:   "MSG-9",
		Rows:            datasetRows(),
	}
}

type sentMessage struct {
	senderDatasetID string
	op              domain.Operation
}

// fakeGateway is an in-memory collection system keyed by sender dataset id.
type fakeGateway struct {
	mu       sync.Mutex
	datasets map[string]*domain.Dataset
	sent     []sentMessage
	sendErr  error
	nextID   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{datasets: make(map[string]*domain.Dataset)}
}

func (g *fakeGateway) Send(_ context.Context, report *domain.Report, op domain.Operation) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return "", g.sendErr
	}
	g.nextID++
	messageID := fmt.Sprintf("MSG-%d", g.nextID)
	g.sent = append(g.sent, sentMessage{senderDatasetID: report.SenderDatasetID(), op: op})

	ds, ok := g.datasets[report.SenderDatasetID()]
	if !ok {
		ds = &domain.Dataset{
			ID:              fmt.Sprintf("DS-%d", g.nextID),
			SenderDatasetID: report.SenderDatasetID(),
			DcCode:          report.DcCode,
		}
		g.datasets[report.SenderDatasetID()] = ds
	}
	ds.LastMessageID = messageID
	if op == domain.OpSubmit {
		ds.Status = domain.StatusSubmitted
	} else {
		ds.Status = domain.StatusProcessing
	}
	return messageID, nil
}

func (g *fakeGateway) GetDataset(_ context.Context, datasetID string) (*domain.Dataset, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ds := range g.datasets {
		if ds.ID == datasetID {
			cp := *ds
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (g *fakeGateway) ListDatasets(_ context.Context, dcCode string) ([]domain.Dataset, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Dataset
	for _, ds := range g.datasets {
		if ds.DcCode == dcCode {
			out = append(out, *ds)
		}
	}
	return out, nil
}

func (g *fakeGateway) setStatus(senderDatasetID string, status domain.Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.datasets[senderDatasetID].Status = status
}

var _ domain.Gateway = (*fakeGateway)(nil)

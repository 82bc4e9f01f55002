package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tse-report-engine/internal/config"
	"github.com/tse-report-engine/internal/domain"
	"github.com/tse-report-engine/internal/rules"
)

func testDataset() domain.Dataset {
	return domain.Dataset{
		SenderDatasetID: "FR1705.01",
		Status:          domain.StatusValid,
		DcCode:          "TSE.TEST",
		Rows: []domain.Cells{
			{
				domain.ColParamType:   domain.Text(domain.ParamTypeSummarizedInfo),
				domain.ColProgID:      domain.Text("PRG1"),
				domain.ColSampMatCode: domain.Text("A04MQ#F01.A057G"),
				domain.ColTotTested:   domain.Text("5"),
				domain.ColTotPositive: domain.Text("1"),
			},
			{
				domain.ColParamType: domain.Text("P001A"),
				domain.ColSampleID:  domain.Text("S1"),
				domain.ColParamCode: domain.Text("RF-00003042-PAR"),
				domain.ColSampInfo:  domain.Text("origSampId=FR1705.PRG1.A057G"),
			},
		},
	}
}

func memoryConfig() *domain.Config {
	return &domain.Config{
		Server:   domain.ServerConfig{Port: 8080},
		Database: domain.DatabaseConfig{Driver: "memory"},
		Logging:  domain.LoggingConfig{Level: "error"},
		Globals: domain.GlobalsConfig{
			Settings: map[string]string{"country": "FR", "dcCode": "TSE.TEST"},
		},
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(domain.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	logger, err = newLogger(domain.LoggingConfig{Level: "nonsense"})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	path := filepath.Join(t.TempDir(), "engine.log")
	logger, err = newLogger(domain.LoggingConfig{Level: "info", Output: path})
	require.NoError(t, err)
	logger.Info("written")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written")
}

func TestBuildApp_Memory(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx := context.Background()

	a, err := buildApp(ctx, &config.Static{Config: memoryConfig()}, logger)
	require.NoError(t, err)
	defer a.Close()

	dataset := testDataset()
	res, err := a.services.Importer.ImportDataset(ctx, &dataset)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summaries)
	assert.Equal(t, 1, res.Cases)

	_, err = a.services.Lifecycle.RefreshStatus(ctx, res.Report)
	assert.ErrorIs(t, err, domain.ErrNotFound, "the offline gateway knows no dataset")

	families, err := a.registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
	assert.Nil(t, a.services.Database, "the memory store has no health check")
}

func TestBuildApp_SQLiteHealth(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := memoryConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "engine.db")

	a, err := buildApp(context.Background(), &config.Static{Config: cfg}, logger)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.services.Database)
	assert.NoError(t, a.services.Database.Health(context.Background()))
}

func TestBuildApp_UnknownDriver(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := memoryConfig()
	cfg.Database.Driver = "mysql"

	_, err := buildApp(context.Background(), &config.Static{Config: cfg}, logger)
	assert.ErrorContains(t, err, "unknown database driver")
}

func TestImportCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := `
database:
  driver: memory
logging:
  level: error
  output: stderr
globals:
  settings:
    country: FR
    dcCode: TSE.TEST
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(cfg), 0644))

	data, err := json.Marshal(testDataset())
	require.NoError(t, err)
	path := filepath.Join(dir, "dataset.json")
	require.NoError(t, os.WriteFile(path, data, 0644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", dir, "import", path})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootFlags.configDir = ""
	})
	require.NoError(t, rootCmd.Execute())

	var res struct {
		Summaries int `json:"summaries"`
		Cases     int `json:"cases"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, 1, res.Summaries)
	assert.Equal(t, 1, res.Cases)
}

func TestRulesExportCommand(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "rules.yaml")
	doc := `
rules:
  - recordType: BSE
    confirmatoryExecuted: "false"
    codes:
      screening: A01XX$POS
`
	require.NoError(t, os.WriteFile(src, []byte(doc), 0644))
	dst := filepath.Join(dir, "rules.xlsx")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"rules", "export", src, dst})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "1 rules written")

	table, err := rules.LoadFile(dst, "Rules")
	require.NoError(t, err)
	require.Len(t, table, 1)
	assert.Equal(t, "BSE", table[0].RecordType)
	assert.Equal(t, "A01XX$POS", table[0].Code(domain.AimScreening))
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-3", "x"} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}

package cli

import (
	"bytes"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insights-pipeline/models"
	"insights-pipeline/services"
)

func TestParseFeatures(t *testing.T) {
	row, err := parseFeatures([]string{"cases=1200", " deaths = 30.5", "rate=-1e-3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"cases": 1200, "deaths": 30.5, "rate": -0.001}, row)

	empty, err := parseFeatures(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, bad := range [][]string{
		{"cases"},
		{"=3"},
		{"cases=abc"},
		{"cases=Inf"},
		{"cases=1", "cases=2"},
	} {
		_, err := parseFeatures(bad)
		assert.Error(t, err, "%v", bad)
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range []models.RunMode{models.ModeFull, models.ModeCollect, models.ModeTrain} {
		got, err := parseMode(string(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := parseMode("everything")
	assert.Error(t, err)
}

func TestParseDomains(t *testing.T) {
	got, err := parseDomains([]string{"Stock", " population ", ""})
	require.NoError(t, err)
	assert.Equal(t, []models.Domain{models.DomainStock, models.DomainPopulation}, got)

	_, err = parseDomains([]string{"crypto"})
	assert.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, services.RegistrySummary{})
	assert.Contains(t, buf.String(), "No models registered")

	buf.Reset()
	printSummary(&buf, services.RegistrySummary{
		TotalModels: 1,
		Models: []services.ModelSummary{{
			Name:          "stock_price_predictor",
			Task:          services.TaskRegression,
			BestModel:     "random_forest",
			FeaturesCount: 9,
			TrainedAt:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			Performance: []models.CandidateMetrics{
				{Name: "linear_regression", Status: models.CandidateOK, R2: 0.5},
				{Name: "random_forest", Status: models.CandidateOK, R2: 0.875},
			},
		}},
	})
	out := buf.String()
	assert.Contains(t, out, "Models (1 total)")
	assert.Contains(t, out, "stock_price_predictor")
	assert.Contains(t, out, "r2 0.875")
	assert.Contains(t, out, "2024-03-01 12:00")
}

func TestBestScoreClassification(t *testing.T) {
	m := services.ModelSummary{
		Task:      services.TaskClassification,
		BestModel: "forest",
		Performance: []models.CandidateMetrics{
			{Name: "forest", Status: models.CandidateOK, Accuracy: 0.75},
		},
	}
	assert.Equal(t, "acc 0.750", bestScore(m))

	m.Performance[0].Status = models.CandidateFailed
	assert.Equal(t, "-", bestScore(m))
}

// setupEnv points every path at a temp dir and disables external services.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("MODEL_DIR", filepath.Join(dir, "models"))
	t.Setenv("RESULTS_DIR", filepath.Join(dir, "results"))
	t.Setenv("STATE_DB_PATH", filepath.Join(dir, "state", "pipeline.db"))
	t.Setenv("METRICS_FILE", "")
	t.Setenv("POSTGRES_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DOMAINS", "")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return buf.String(), err
}

func TestTrainModeWithoutStoredData(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "run", "--mode", "train", "--domains", "covid,stock")
	require.NoError(t, err)
	assert.Contains(t, out, "Pipeline run")
	assert.Contains(t, out, "no stored processed data")

	out, err = execute(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "train")
	assert.Contains(t, out, "COMPLETED")
}

func TestRunRejectsBadFlags(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "run", "--mode", "sometimes")
	assert.Error(t, err)

	_, err = execute(t, "run", "--domains", "crypto")
	assert.Error(t, err)

	_, err = execute(t, "run", "--concurrency", "0")
	assert.Error(t, err)
}

func TestModelsAndPredictWithEmptyRegistry(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "models")
	require.NoError(t, err)
	assert.Contains(t, out, "No models registered")

	_, err = execute(t, "predict", "--model", "covid_forecast", "--feature", "deaths=10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(services.KindNotFound))

	_, err = execute(t, "predict", "--feature", "deaths=10")
	assert.Error(t, err, "--model is required")
}

func TestHistoryUnknownRun(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "history", "does-not-exist")
	assert.Error(t, err)
}

func TestPredictExampleNamesRegisteredModel(t *testing.T) {
	var jobs []string
	for _, d := range models.AllDomains {
		if spec, ok := services.LookupDomain(d); ok && spec.Job != nil {
			jobs = append(jobs, spec.Job.Name)
		}
	}
	names := regexp.MustCompile(`--model (\S+)`).FindAllStringSubmatch(newPredictCommand().Example, -1)
	require.NotEmpty(t, names)
	for _, m := range names {
		assert.Contains(t, jobs, m[1])
	}
}

func TestRunHelpDescribesCollectMode(t *testing.T) {
	long := newRunCommand().Long
	assert.Contains(t, long, "raw CSV copy only")
	assert.NotContains(t, long, "collect, clean and persist only")
}

package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTextfile(t *testing.T) {
	DomainRuns.WithLabelValues("covid", "trained").Inc()
	RegisteredModels.Set(2)

	path := filepath.Join(t.TempDir(), "pipeline.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `pipeline_domain_runs_total{domain="covid",status="trained"}`)
	assert.Contains(t, string(data), "pipeline_registered_models 2")
}

func TestCandidateFitsCounter(t *testing.T) {
	c := CandidateFits.WithLabelValues("svm_test", "failed")
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every pipeline collector. It is separate from the default
// registry so a textfile export only contains pipeline series.
var Registry = prometheus.NewRegistry()

// DomainRuns counts processed domains by outcome (trained, processed, skipped, failed).
var DomainRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_domain_runs_total",
		Help: "Domains processed by the pipeline, by final status",
	},
	[]string{"domain", "status"},
)

// CandidateFits counts candidate estimator fits by outcome.
var CandidateFits = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_candidate_fits_total",
		Help: "Candidate estimator fits, by candidate name and outcome",
	},
	[]string{"candidate", "outcome"},
)

// TrainingDuration records how long each candidate took to fit and evaluate.
var TrainingDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pipeline_candidate_training_seconds",
		Help:    "Time spent fitting and evaluating one candidate",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	},
	[]string{"job"},
)

var (
	Predictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_predictions_total",
			Help: "Registry predictions, by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	RegisteredModels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_registered_models",
			Help: "Number of models currently held by the registry",
		},
	)
)

func init() {
	Registry.MustRegister(DomainRuns, CandidateFits, TrainingDuration)
	Registry.MustRegister(Predictions, RegisteredModels)
}

// WriteTextfile writes the current values in the Prometheus text format,
// suitable for the node exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

package services

import (
	"insights-pipeline/ml"
	"insights-pipeline/models"
)

// Task is the kind of supervised problem a training job solves.
type Task string

const (
	TaskRegression     Task = "regression"
	TaskClassification Task = "classification"
)

// Framing says how the target is built from the target column.
type Framing string

const (
	// FramingNextSample predicts the following row's value.
	FramingNextSample Framing = "next_sample"
	// FramingBucket classifies the current row's value into bins.
	FramingBucket Framing = "bucket"
)

// Bucket maps a numeric value to a label through right-closed bins.
// Labels has one more entry than Edges.
type Bucket struct {
	Edges  []float64
	Labels []string
}

// Candidate is one estimator family tried by a training job.
type Candidate struct {
	Name string
	Kind ml.Kind
}

// TrainingJob describes how one domain table is turned into a model.
type TrainingJob struct {
	Name        string
	Target      string
	Features    []string
	Task        Task
	Framing     Framing
	Bucket      Bucket
	MinRows     int
	MinFeatures int
	Candidates  []Candidate
}

// DomainSpec is one row of the fixed domain table.
type DomainSpec struct {
	Domain     models.Domain
	TimeColumn string
	// Job is nil for domains that are cleaned and summarized but not trained.
	Job *TrainingJob
}

var domainTable = []DomainSpec{
	{
		Domain:     models.DomainCovid,
		TimeColumn: "date",
		Job: &TrainingJob{
			Name:   "covid_forecast",
			Target: "cases",
			Features: []string{
				"cases", "deaths", "recovered", "new_cases", "new_deaths",
				"case_fatality_rate", "recovery_rate", "cases_7d_avg",
				"deaths_7d_avg", "cases_growth_rate", "deaths_growth_rate",
				"day_of_year", "week_of_year", "month",
			},
			Task:        TaskRegression,
			Framing:     FramingNextSample,
			MinRows:     10,
			MinFeatures: 3,
			Candidates: []Candidate{
				{Name: "linear_regression", Kind: ml.KindLinearRegression},
				{Name: "random_forest", Kind: ml.KindForestRegressor},
				{Name: "gradient_boosting", Kind: ml.KindBoostingRegressor},
			},
		},
	},
	{
		Domain:     models.DomainWeather,
		TimeColumn: "datetime",
		Job: &TrainingJob{
			Name:   "weather_classification",
			Target: "temperature",
			Features: []string{
				"temperature", "humidity", "pressure", "wind_speed",
				"temp_fahrenheit", "hour", "day_of_week", "month",
				"is_summer", "is_winter", "is_weekend",
			},
			Task:    TaskClassification,
			Framing: FramingBucket,
			Bucket: Bucket{
				Edges:  []float64{0, 15, 25},
				Labels: []string{"Cold", "Cool", "Warm", "Hot"},
			},
			MinRows:     10,
			MinFeatures: 3,
			Candidates: []Candidate{
				{Name: "random_forest", Kind: ml.KindForestClassifier},
				{Name: "logistic_regression", Kind: ml.KindLogisticRegression},
				{Name: "kernel_classifier", Kind: ml.KindKernelClassifier},
			},
		},
	},
	{
		Domain:     models.DomainStock,
		TimeColumn: "date",
		Job: &TrainingJob{
			Name:   "stock_prediction",
			Target: "close",
			Features: []string{
				"open", "high", "low", "volume", "daily_return", "volatility",
				"sma_5", "sma_20", "ema_12", "ema_26", "macd", "macd_signal",
				"rsi", "bb_middle", "bb_upper", "bb_lower", "momentum_5",
				"momentum_10", "volume_sma", "volume_ratio", "price_change",
				"price_change_pct", "high_low_ratio", "close_open_ratio",
				"day_of_week", "month", "quarter",
			},
			Task:        TaskRegression,
			Framing:     FramingNextSample,
			MinRows:     20,
			MinFeatures: 5,
			Candidates: []Candidate{
				{Name: "random_forest", Kind: ml.KindForestRegressor},
				{Name: "gradient_boosting", Kind: ml.KindBoostingRegressor},
				{Name: "kernel_ridge", Kind: ml.KindKernelRidge},
			},
		},
	},
	{
		Domain:     models.DomainPopulation,
		TimeColumn: "date",
	},
}

// Domains returns the fixed domain table in processing order.
func Domains() []DomainSpec {
	return append([]DomainSpec(nil), domainTable...)
}

// LookupDomain returns the table row for d.
func LookupDomain(d models.Domain) (DomainSpec, bool) {
	for _, s := range domainTable {
		if s.Domain == d {
			return s, true
		}
	}
	return DomainSpec{}, false
}

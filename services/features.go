package services

import (
	"fmt"

	"insights-pipeline/ml"
	"insights-pipeline/models"
	"insights-pipeline/utils"
)

// FeatureResult is the cleaned, enriched table of one domain together with the
// categorical encoders fitted while producing it.
type FeatureResult struct {
	Table    *models.Table
	Encoders map[string]*ml.LabelEncoder
	// Degraded names the rules skipped because their inputs were absent.
	Degraded []string
}

// FeatureEngine turns raw domain tables into feature tables. It keeps no
// state between calls.
type FeatureEngine struct {
	logger *utils.Logger
}

func NewFeatureEngine(logger *utils.Logger) *FeatureEngine {
	return &FeatureEngine{logger: logger}
}

// CleanAndFeaturize cleans raw and derives the domain's feature columns. The
// input table is not modified. An empty input yields an empty result.
func (e *FeatureEngine) CleanAndFeaturize(raw *models.Table, domain models.Domain) (*FeatureResult, error) {
	return e.featurize(raw, domain, nil)
}

// Transform is CleanAndFeaturize reusing previously fitted encoders, so that
// new rows get the codes the model was trained with. Categories the encoders
// have never seen fail with ml.ErrUnseenCategory.
func (e *FeatureEngine) Transform(raw *models.Table, domain models.Domain, encoders map[string]*ml.LabelEncoder) (*FeatureResult, error) {
	return e.featurize(raw, domain, encoders)
}

func (e *FeatureEngine) featurize(raw *models.Table, domain models.Domain, encoders map[string]*ml.LabelEncoder) (*FeatureResult, error) {
	spec, ok := LookupDomain(domain)
	if !ok {
		return nil, fmt.Errorf("featurize: unknown domain %q", domain)
	}
	res := &FeatureResult{Encoders: map[string]*ml.LabelEncoder{}}
	if raw == nil || raw.Empty() {
		timeCol := spec.TimeColumn
		if raw != nil {
			timeCol = raw.TimeColumn
		}
		res.Table = models.NewTable(timeCol)
		return res, nil
	}

	t := dropWhere(raw.Clone(), func(i int) bool { return raw.Times[i].IsZero() })
	if dropped := raw.Len() - t.Len(); dropped > 0 {
		e.logger.Warn("[features] %s: dropped %d rows without a timestamp", domain, dropped)
	}

	c := newCleaner(e.logger, domain)
	switch domain {
	case models.DomainCovid:
		t = c.cleanCounts(t)
	case models.DomainWeather:
		var err error
		var enc *ml.LabelEncoder
		if prior, ok := encoders["description"]; ok {
			enc = prior
		}
		t, enc, err = c.cleanWeather(t, enc)
		if err != nil {
			return nil, err
		}
		if enc != nil {
			res.Encoders["description"] = enc
		}
	case models.DomainStock:
		t = c.cleanMarket(t)
	case models.DomainPopulation:
		t = c.cleanPopulation(t)
	}

	res.Table = t
	res.Degraded = c.degraded
	e.logger.Info("[features] %s: %d raw rows → %d rows, %d columns",
		domain, raw.Len(), t.Len(), len(t.Columns()))
	return res, nil
}

package models

import "time"

// ColumnSummary holds descriptive statistics of one numeric column.
type ColumnSummary struct {
	Mean   Value `json:"mean"`
	Std    Value `json:"std"`
	Min    Value `json:"min"`
	Max    Value `json:"max"`
	Median Value `json:"median"`
}

// MissingSummary counts undefined cells of one column.
type MissingSummary struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// DateRange is the span covered by a table's timestamps.
type DateRange struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

// InsightReport summarizes one processed domain table.
type InsightReport struct {
	Domain         Domain                    `json:"domain"`
	TotalRecords   int                       `json:"total_records"`
	Columns        []string                  `json:"columns"`
	DateRange      DateRange                 `json:"date_range"`
	NumericSummary map[string]ColumnSummary  `json:"numeric_summary"`
	MissingValues  map[string]MissingSummary `json:"missing_values"`
	LatestStats    map[string]Value          `json:"latest_stats,omitempty"`
}

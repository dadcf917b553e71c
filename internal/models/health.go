package models

import (
	"time"
)

// HealthLevel is the overall verdict of a storage health check.
type HealthLevel string

const (
	HealthHealthy  HealthLevel = "healthy"
	HealthDegraded HealthLevel = "degraded"
	HealthCritical HealthLevel = "critical"
)

// Severity orders health levels so the worst alert wins.
func (l HealthLevel) Severity() int {
	switch l {
	case HealthCritical:
		return 2
	case HealthDegraded:
		return 1
	}
	return 0
}

// Alert is a single threshold violation.
type Alert struct {
	Level     HealthLevel `json:"level"`
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Value     float64     `json:"value"`
	Threshold float64     `json:"threshold"`
}

// HealthStatus is the result of a storage health check.
type HealthStatus struct {
	Status           HealthLevel `json:"status"`
	Alerts           []Alert     `json:"alerts"`
	TotalEvents      int64       `json:"total_events"`
	ActiveEvents     int64       `json:"active_events"`
	MissingRetention int64       `json:"missing_delete_after"`
	MissingPct       float64     `json:"missing_delete_after_pct"`
	OverdueEvents    int64       `json:"overdue_events"`
	CheckedAt        time.Time   `json:"checked_at"`
}

// CostEstimate approximates storage footprint and monthly cost. It is derived
// from average document size and is not a billing figure.
type CostEstimate struct {
	Documents        int64     `json:"documents"`
	AvgDocumentBytes float64   `json:"avg_document_bytes"`
	EstimatedBytes   int64     `json:"estimated_bytes"`
	EstimatedGB      float64   `json:"estimated_gb"`
	CostPerGBMonth   float64   `json:"cost_per_gb_month"`
	MonthlyCost      float64   `json:"estimated_monthly_cost"`
	Currency         string    `json:"currency"`
	Note             string    `json:"note"`
	CalculatedAt     time.Time `json:"calculated_at"`
}

// CleanupEfficiency reports how well the sweep keeps up with retention windows.
type CleanupEfficiency struct {
	CleanupCounts
	Efficiency   float64       `json:"efficiency"` // cleaned / (cleaned + overdue)
	PerSource    []SourceStats `json:"per_source,omitempty"`
	CalculatedAt time.Time     `json:"calculated_at"`
}

// WeeklyReport composes every health view into one snapshot.
type WeeklyReport struct {
	ID              string            `json:"id"`
	GeneratedAt     time.Time         `json:"generated_at"`
	PeriodStart     time.Time         `json:"period_start"`
	PeriodEnd       time.Time         `json:"period_end"`
	Health          HealthStatus      `json:"health"`
	Cost            CostEstimate      `json:"cost"`
	Retention       RetentionStats    `json:"retention"`
	Sources         []SourceStats     `json:"sources"`
	Cleanup         CleanupEfficiency `json:"cleanup"`
	Recommendations []string          `json:"recommendations,omitempty"`
}

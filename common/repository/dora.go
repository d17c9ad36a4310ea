package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opsrelay/opsrelay/common/db"
)

// DORARepository is a thin pass-through over the analytics views created by
// the migrations. It never computes metrics itself.
type DORARepository struct {
	db *db.DB
}

// NewDORARepository creates a new DORA repository
func NewDORARepository(db *db.DB) *DORARepository {
	return &DORARepository{db: db}
}

// DeploymentFrequencyRow is one day of deployments
type DeploymentFrequencyRow struct {
	Day         time.Time `json:"day"`
	Deployments int64     `json:"deployments"`
}

// DeploymentFrequency reads the dora_deployment_frequency view
func (r *DORARepository) DeploymentFrequency(ctx context.Context, limit int) ([]DeploymentFrequencyRow, error) {
	if limit <= 0 {
		limit = 90
	}

	rows, err := r.db.Query(ctx,
		`SELECT day, deployments FROM dora_deployment_frequency ORDER BY day DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployment frequency: %w", err)
	}
	defer rows.Close()

	var out []DeploymentFrequencyRow
	for rows.Next() {
		var row DeploymentFrequencyRow
		if err := rows.Scan(&row.Day, &row.Deployments); err != nil {
			return nil, fmt.Errorf("failed to scan deployment frequency: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// LeadTimeRow is lead time for one merged pull request
type LeadTimeRow struct {
	PRNumber        string    `json:"pr_number"`
	OpenedAt        time.Time `json:"opened_at"`
	MergedAt        time.Time `json:"merged_at"`
	LeadTimeSeconds float64   `json:"lead_time_seconds"`
}

// LeadTime reads the dora_lead_time view
func (r *DORARepository) LeadTime(ctx context.Context, limit int) ([]LeadTimeRow, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`SELECT pr_number, opened_at, merged_at, lead_time_seconds FROM dora_lead_time ORDER BY merged_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query lead time: %w", err)
	}
	defer rows.Close()

	var out []LeadTimeRow
	for rows.Next() {
		var row LeadTimeRow
		if err := rows.Scan(&row.PRNumber, &row.OpenedAt, &row.MergedAt, &row.LeadTimeSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan lead time: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ChangeFailRateRow is one week of failures against deployments
type ChangeFailRateRow struct {
	Week        time.Time `json:"week"`
	Failures    int64     `json:"failures"`
	Deployments int64     `json:"deployments"`
}

// ChangeFailRate reads the dora_change_fail_rate view
func (r *DORARepository) ChangeFailRate(ctx context.Context, limit int) ([]ChangeFailRateRow, error) {
	if limit <= 0 {
		limit = 26
	}

	rows, err := r.db.Query(ctx,
		`SELECT week, failures, deployments FROM dora_change_fail_rate ORDER BY week DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query change fail rate: %w", err)
	}
	defer rows.Close()

	var out []ChangeFailRateRow
	for rows.Next() {
		var row ChangeFailRateRow
		if err := rows.Scan(&row.Week, &row.Failures, &row.Deployments); err != nil {
			return nil, fmt.Errorf("failed to scan change fail rate: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// MTTRRow is time-to-restore for one incident
type MTTRRow struct {
	IncidentID  string    `json:"incident_id"`
	TriggeredAt time.Time `json:"triggered_at"`
	ResolvedAt  time.Time `json:"resolved_at"`
	MTTRSeconds float64   `json:"mttr_seconds"`
}

// MTTR reads the dora_mttr view
func (r *DORARepository) MTTR(ctx context.Context, limit int) ([]MTTRRow, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`SELECT incident_id, triggered_at, resolved_at, mttr_seconds FROM dora_mttr ORDER BY resolved_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query mttr: %w", err)
	}
	defer rows.Close()

	var out []MTTRRow
	for rows.Next() {
		var row MTTRRow
		if err := rows.Scan(&row.IncidentID, &row.TriggeredAt, &row.ResolvedAt, &row.MTTRSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan mttr: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

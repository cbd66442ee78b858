package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/railzway-alerts/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) ListTotals(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, metricID *snowflake.ID) ([]usagedomain.Totals, error) {
	query := `SELECT id, org_id, subscription_id, billable_metric_id, current_amount, lifetime_amount, current_units, updated_at
		 FROM usage_totals
		 WHERE org_id = ? AND subscription_id = ?`
	args := []any{orgID, subscriptionID}
	if metricID != nil {
		query += ` AND billable_metric_id = ?`
		args = append(args, *metricID)
	}
	query += ` ORDER BY billable_metric_id ASC`

	var rows []usagedomain.Totals
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) UpsertTotals(ctx context.Context, db *gorm.DB, totals *usagedomain.Totals) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_totals (id, org_id, subscription_id, billable_metric_id, current_amount, lifetime_amount, current_units, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (subscription_id, billable_metric_id) DO UPDATE
		 SET current_amount = excluded.current_amount,
		     lifetime_amount = excluded.lifetime_amount,
		     current_units = excluded.current_units,
		     updated_at = excluded.updated_at`,
		totals.ID,
		totals.OrgID,
		totals.SubscriptionID,
		totals.BillableMetricID,
		totals.CurrentAmount,
		totals.LifetimeAmount,
		totals.CurrentUnits,
		totals.UpdatedAt,
	).Error
}

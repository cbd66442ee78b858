package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	alertdomain "github.com/smallbiznis/railzway-alerts/internal/alert/domain"
	"gorm.io/gorm"
)

const alertColumns = `id, org_id, subscription_external_id, wallet_id, billable_metric_id, alert_type, name, code,
	direction, previous_value, last_processed_at, deleted_at, created_at, updated_at`

const thresholdColumns = `id, org_id, alert_id, position, code, value, recurring, fired_at, last_fired_value,
	deleted_at, created_at, updated_at`

const triggeredColumns = `id, org_id, alert_id, subscription_id, subscription_external_id, wallet_id,
	current_value, previous_value, crossed_thresholds, triggered_at`

type repo struct{}

func Provide() alertdomain.Repository {
	return &repo{}
}

func (r *repo) InsertAlert(ctx context.Context, db *gorm.DB, a *alertdomain.Alert) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO alerts (`+alertColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.OrgID,
		a.SubscriptionExternalID,
		a.WalletID,
		a.BillableMetricID,
		a.Kind,
		a.Name,
		a.Code,
		a.Direction,
		a.PreviousValue,
		a.LastProcessedAt,
		a.DeletedAt,
		a.CreatedAt,
		a.UpdatedAt,
	).Error
}

func (r *repo) InsertThresholds(ctx context.Context, db *gorm.DB, thresholds []alertdomain.Threshold) error {
	for i := range thresholds {
		t := &thresholds[i]
		err := db.WithContext(ctx).Exec(
			`INSERT INTO alert_thresholds (`+thresholdColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID,
			t.OrgID,
			t.AlertID,
			t.Position,
			t.Code,
			t.Value,
			t.Recurring,
			t.FiredAt,
			t.LastFiredValue,
			t.DeletedAt,
			t.CreatedAt,
			t.UpdatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*alertdomain.Alert, error) {
	var alert alertdomain.Alert
	err := db.WithContext(ctx).Raw(
		`SELECT `+alertColumns+`
		 FROM alerts
		 WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&alert).Error
	if err != nil {
		return nil, err
	}
	if alert.ID == 0 {
		return nil, nil
	}
	return &alert, nil
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, orgID snowflake.ID, subscriptionExternalID, code string) (*alertdomain.Alert, error) {
	var alert alertdomain.Alert
	err := db.WithContext(ctx).Raw(
		`SELECT `+alertColumns+`
		 FROM alerts
		 WHERE org_id = ? AND subscription_external_id = ? AND code = ? AND deleted_at IS NULL`,
		orgID,
		subscriptionExternalID,
		code,
	).Scan(&alert).Error
	if err != nil {
		return nil, err
	}
	if alert.ID == 0 {
		return nil, nil
	}
	return &alert, nil
}

func (r *repo) FindWalletAlertByCode(ctx context.Context, db *gorm.DB, orgID, walletID snowflake.ID, code string) (*alertdomain.Alert, error) {
	var alert alertdomain.Alert
	err := db.WithContext(ctx).Raw(
		`SELECT `+alertColumns+`
		 FROM alerts
		 WHERE org_id = ? AND wallet_id = ? AND code = ? AND deleted_at IS NULL`,
		orgID,
		walletID,
		code,
	).Scan(&alert).Error
	if err != nil {
		return nil, err
	}
	if alert.ID == 0 {
		return nil, nil
	}
	return &alert, nil
}

func (r *repo) ListBySubscription(ctx context.Context, db *gorm.DB, orgID snowflake.ID, subscriptionExternalID string) ([]alertdomain.Alert, error) {
	var alerts []alertdomain.Alert
	err := db.WithContext(ctx).Raw(
		`SELECT `+alertColumns+`
		 FROM alerts
		 WHERE org_id = ? AND subscription_external_id = ? AND deleted_at IS NULL
		 ORDER BY id ASC`,
		orgID,
		subscriptionExternalID,
	).Scan(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *repo) ListByWallet(ctx context.Context, db *gorm.DB, orgID, walletID snowflake.ID) ([]alertdomain.Alert, error) {
	var alerts []alertdomain.Alert
	err := db.WithContext(ctx).Raw(
		`SELECT `+alertColumns+`
		 FROM alerts
		 WHERE org_id = ? AND wallet_id = ? AND deleted_at IS NULL
		 ORDER BY id ASC`,
		orgID,
		walletID,
	).Scan(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *repo) ListThresholds(ctx context.Context, db *gorm.DB, alertIDs []snowflake.ID) ([]alertdomain.Threshold, error) {
	if len(alertIDs) == 0 {
		return nil, nil
	}
	var thresholds []alertdomain.Threshold
	err := db.WithContext(ctx).Raw(
		`SELECT `+thresholdColumns+`
		 FROM alert_thresholds
		 WHERE alert_id IN ? AND deleted_at IS NULL
		 ORDER BY alert_id ASC, position ASC`,
		alertIDs,
	).Scan(&thresholds).Error
	if err != nil {
		return nil, err
	}
	return thresholds, nil
}

func (r *repo) SoftDeleteBySubscription(ctx context.Context, db *gorm.DB, orgID snowflake.ID, subscriptionExternalID string, at time.Time) (int64, error) {
	err := db.WithContext(ctx).Exec(
		`UPDATE alert_thresholds
		 SET deleted_at = ?, updated_at = ?
		 WHERE deleted_at IS NULL AND alert_id IN (
			SELECT id FROM alerts
			WHERE org_id = ? AND subscription_external_id = ? AND deleted_at IS NULL
		 )`,
		at,
		at,
		orgID,
		subscriptionExternalID,
	).Error
	if err != nil {
		return 0, err
	}

	res := db.WithContext(ctx).Exec(
		`UPDATE alerts
		 SET deleted_at = ?, updated_at = ?
		 WHERE org_id = ? AND subscription_external_id = ? AND deleted_at IS NULL`,
		at,
		at,
		orgID,
		subscriptionExternalID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) UpdateEvaluation(ctx context.Context, db *gorm.DB, a *alertdomain.Alert, expected decimal.NullDecimal) (bool, error) {
	query := `UPDATE alerts
		 SET previous_value = ?, last_processed_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND deleted_at IS NULL`
	args := []any{a.PreviousValue, a.LastProcessedAt, a.UpdatedAt, a.OrgID, a.ID}
	if expected.Valid {
		query += ` AND previous_value = ?`
		args = append(args, expected.Decimal)
	} else {
		query += ` AND previous_value IS NULL`
	}

	res := db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) UpdateThresholdFired(ctx context.Context, db *gorm.DB, t *alertdomain.Threshold) error {
	return db.WithContext(ctx).Exec(
		`UPDATE alert_thresholds
		 SET fired_at = ?, last_fired_value = ?, updated_at = ?
		 WHERE id = ?`,
		t.FiredAt,
		t.LastFiredValue,
		t.UpdatedAt,
		t.ID,
	).Error
}

func (r *repo) InsertTriggered(ctx context.Context, db *gorm.DB, t *alertdomain.TriggeredAlert) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO triggered_alerts (`+triggeredColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.OrgID,
		t.AlertID,
		t.SubscriptionID,
		t.SubscriptionExternalID,
		t.WalletID,
		t.CurrentValue,
		t.PreviousValue,
		t.CrossedThresholds,
		t.TriggeredAt,
	).Error
}

func (r *repo) ListTriggered(ctx context.Context, db *gorm.DB, orgID, alertID snowflake.ID, beforeID snowflake.ID, limit int) ([]alertdomain.TriggeredAlert, error) {
	query := `SELECT ` + triggeredColumns + `
		 FROM triggered_alerts
		 WHERE org_id = ? AND alert_id = ?`
	args := []any{orgID, alertID}
	if beforeID != 0 {
		query += ` AND id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var rows []alertdomain.TriggeredAlert
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

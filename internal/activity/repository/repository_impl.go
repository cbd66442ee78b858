package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	activitydomain "github.com/smallbiznis/railzway-alerts/internal/activity/domain"
	"github.com/smallbiznis/railzway-alerts/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() activitydomain.Repository {
	return &repo{}
}

func table(queue activitydomain.Queue) (activitydomain.Table, error) {
	t, ok := queue.Table()
	if !ok {
		return t, fmt.Errorf("%w: %q", activitydomain.ErrUnknownQueue, queue)
	}
	return t, nil
}

func bindTarget(t activitydomain.Table, target string) (any, error) {
	if !t.NumericTarget {
		return target, nil
	}
	id, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return nil, activitydomain.ErrInvalidTarget
	}
	return id, nil
}

func selectColumns(t activitydomain.Table) string {
	return `id, org_id, CAST(` + t.Column + ` AS TEXT) AS target_id, inserted_at, enqueued, enqueued_at`
}

func (r *repo) Record(ctx context.Context, db *gorm.DB, queue activitydomain.Queue, id, orgID snowflake.ID, targetID string, at time.Time) (bool, error) {
	t, err := table(queue)
	if err != nil {
		return false, err
	}
	target, err := bindTarget(t, targetID)
	if err != nil {
		return false, err
	}

	// The partial unique index only covers unclaimed rows, so a claimed row
	// being evaluated does not swallow new activity.
	res := db.WithContext(ctx).Exec(
		`INSERT INTO `+t.Name+` (id, org_id, `+t.Column+`, inserted_at, enqueued)
		 VALUES (?, ?, ?, ?, false)
		 ON CONFLICT (org_id, `+t.Column+`) WHERE enqueued = false DO NOTHING`,
		id,
		orgID,
		target,
		at,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, queue activitydomain.Queue, id snowflake.ID) (*activitydomain.Activity, error) {
	t, err := table(queue)
	if err != nil {
		return nil, err
	}
	var row activitydomain.Activity
	err = db.WithContext(ctx).Raw(
		`SELECT `+selectColumns(t)+` FROM `+t.Name+` WHERE id = ?`,
		id,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	row.Queue = queue
	return &row, nil
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, queue activitydomain.Queue, orgID snowflake.ID, insertedBefore time.Time, limit int) ([]activitydomain.Activity, error) {
	t, err := table(queue)
	if err != nil {
		return nil, err
	}
	var rows []activitydomain.Activity
	err = db.WithContext(ctx).Raw(
		`SELECT `+selectColumns(t)+`
		 FROM `+t.Name+`
		 WHERE org_id = ? AND enqueued = false AND inserted_at <= ?
		 ORDER BY inserted_at ASC, id ASC
		 LIMIT ?`,
		orgID,
		insertedBefore,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return withQueue(rows, queue), nil
}

func (r *repo) ListDueOrganizations(ctx context.Context, db *gorm.DB, queue activitydomain.Queue, insertedBefore time.Time, limit int) ([]snowflake.ID, error) {
	t, err := table(queue)
	if err != nil {
		return nil, err
	}
	var orgIDs []snowflake.ID
	err = db.WithContext(ctx).Raw(
		`SELECT org_id
		 FROM `+t.Name+`
		 WHERE enqueued = false AND inserted_at <= ?
		 GROUP BY org_id
		 ORDER BY MIN(inserted_at) ASC
		 LIMIT ?`,
		insertedBefore,
		limit,
	).Scan(&orgIDs).Error
	if err != nil {
		return nil, err
	}
	return orgIDs, nil
}

func (r *repo) ListStale(ctx context.Context, db *gorm.DB, queue activitydomain.Queue, claimedBefore time.Time, limit int) ([]activitydomain.Activity, error) {
	t, err := table(queue)
	if err != nil {
		return nil, err
	}
	var rows []activitydomain.Activity
	err = db.WithContext(ctx).Raw(
		`SELECT `+selectColumns(t)+`
		 FROM `+t.Name+`
		 WHERE enqueued = true AND enqueued_at <= ?
		 ORDER BY enqueued_at ASC, id ASC
		 LIMIT ?`,
		claimedBefore,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return withQueue(rows, queue), nil
}

func (r *repo) Claim(ctx context.Context, db *gorm.DB, queue activitydomain.Queue, id snowflake.ID, at time.Time) (bool, error) {
	t, err := table(queue)
	if err != nil {
		return false, err
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE `+t.Name+`
		 SET enqueued = true, enqueued_at = ?
		 WHERE id = ? AND enqueued = false`,
		at,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Release(ctx context.Context, gdb *gorm.DB, queue activitydomain.Queue, id snowflake.ID, claimedBefore *time.Time) (bool, error) {
	t, err := table(queue)
	if err != nil {
		return false, err
	}

	query := `UPDATE ` + t.Name + `
		 SET enqueued = false, enqueued_at = NULL
		 WHERE id = ? AND enqueued = true`
	args := []any{id}
	if claimedBefore != nil {
		query += ` AND enqueued_at <= ?`
		args = append(args, *claimedBefore)
	}

	res := gdb.WithContext(ctx).Exec(query, args...)
	if res.Error == nil {
		return res.RowsAffected == 1, nil
	}
	if !db.IsDuplicateKeyErr(res.Error) {
		return false, res.Error
	}

	// Newer activity already queued a pending row for the same target; that
	// row owes the same evaluation, so the stale claim is dropped instead.
	if err := r.Delete(ctx, gdb, queue, id); err != nil {
		return false, err
	}
	return true, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, queue activitydomain.Queue, id snowflake.ID) error {
	t, err := table(queue)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(`DELETE FROM `+t.Name+` WHERE id = ?`, id).Error
}

func withQueue(rows []activitydomain.Activity, queue activitydomain.Queue) []activitydomain.Activity {
	for i := range rows {
		rows[i].Queue = queue
	}
	return rows
}

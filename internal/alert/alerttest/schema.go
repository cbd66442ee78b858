// Package alerttest builds in-memory databases carrying the alerting schema.
package alerttest

import (
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlite mirror of the postgres migrations; decimals are TEXT to keep them exact.
var schema = []string{
	`CREATE TABLE alerts (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		subscription_external_id TEXT,
		wallet_id INTEGER,
		billable_metric_id INTEGER,
		alert_type TEXT NOT NULL,
		name TEXT,
		code TEXT NOT NULL,
		direction TEXT NOT NULL,
		previous_value TEXT,
		last_processed_at DATETIME,
		deleted_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_alerts_subscription_code ON alerts (org_id, subscription_external_id, code)
		WHERE deleted_at IS NULL AND subscription_external_id IS NOT NULL`,
	`CREATE UNIQUE INDEX ux_alerts_wallet_code ON alerts (org_id, wallet_id, code)
		WHERE deleted_at IS NULL AND wallet_id IS NOT NULL`,
	`CREATE TABLE alert_thresholds (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		alert_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		value TEXT NOT NULL,
		recurring BOOLEAN NOT NULL DEFAULT false,
		fired_at DATETIME,
		last_fired_value TEXT,
		deleted_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_alert_thresholds_code ON alert_thresholds (alert_id, code)
		WHERE code <> '' AND deleted_at IS NULL`,
	`CREATE TABLE triggered_alerts (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		alert_id INTEGER NOT NULL,
		subscription_id INTEGER,
		subscription_external_id TEXT,
		wallet_id INTEGER,
		current_value TEXT NOT NULL,
		previous_value TEXT,
		crossed_thresholds TEXT NOT NULL,
		triggered_at DATETIME NOT NULL
	)`,
	`CREATE TABLE subscription_activities (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		subscription_external_id TEXT NOT NULL,
		inserted_at DATETIME NOT NULL,
		enqueued BOOLEAN NOT NULL DEFAULT false,
		enqueued_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_subscription_activities_pending ON subscription_activities (org_id, subscription_external_id)
		WHERE enqueued = false`,
	`CREATE TABLE wallet_activities (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		wallet_id INTEGER NOT NULL,
		inserted_at DATETIME NOT NULL,
		enqueued BOOLEAN NOT NULL DEFAULT false,
		enqueued_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_wallet_activities_pending ON wallet_activities (org_id, wallet_id)
		WHERE enqueued = false`,
	`CREATE TABLE subscriptions (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		external_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_subscriptions_external_id ON subscriptions (org_id, external_id)`,
	`CREATE TABLE usage_totals (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		subscription_id INTEGER NOT NULL,
		billable_metric_id INTEGER NOT NULL,
		current_amount TEXT NOT NULL DEFAULT '0',
		lifetime_amount TEXT NOT NULL DEFAULT '0',
		current_units TEXT NOT NULL DEFAULT '0',
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_usage_totals_metric ON usage_totals (subscription_id, billable_metric_id)`,
	`CREATE TABLE wallets (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		ongoing_balance TEXT NOT NULL DEFAULT '0',
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE notification_events (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		available_at DATETIME NOT NULL,
		published_at DATETIME,
		created_at DATETIME NOT NULL
	)`,
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// NewDB opens a private in-memory database with the alerting schema.
// The pool is pinned to one connection so every goroutine sees the same data.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", nonAlnum.ReplaceAllString(t.Name(), "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v\n%s", err, stmt)
		}
	}
	return db
}

func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func SeedSubscription(t testing.TB, db *gorm.DB, orgID, id snowflake.ID, externalID string) {
	t.Helper()
	now := time.Now().UTC()
	err := db.Exec(
		`INSERT INTO subscriptions (id, org_id, external_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, orgID, externalID, "ACTIVE", now, now,
	).Error
	if err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
}

// SetUsage upserts the totals of one metric of a subscription.
func SetUsage(t testing.TB, db *gorm.DB, orgID, subscriptionID, metricID snowflake.ID, current, lifetime, units string) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO usage_totals (id, org_id, subscription_id, billable_metric_id, current_amount, lifetime_amount, current_units, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (subscription_id, billable_metric_id)
		 DO UPDATE SET current_amount = excluded.current_amount, lifetime_amount = excluded.lifetime_amount,
			current_units = excluded.current_units, updated_at = excluded.updated_at`,
		int64(subscriptionID)*1000+int64(metricID), orgID, subscriptionID, metricID,
		decimal.RequireFromString(current), decimal.RequireFromString(lifetime), decimal.RequireFromString(units),
		time.Now().UTC(),
	).Error
	if err != nil {
		t.Fatalf("set usage: %v", err)
	}
}

func SeedWallet(t testing.TB, db *gorm.DB, orgID, id snowflake.ID, balance string) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO wallets (id, org_id, status, ongoing_balance, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, orgID, "active", decimal.RequireFromString(balance), time.Now().UTC(),
	).Error
	if err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
}

func SetWalletBalance(t testing.TB, db *gorm.DB, id snowflake.ID, balance string) {
	t.Helper()
	err := db.Exec(
		`UPDATE wallets SET ongoing_balance = ?, updated_at = ? WHERE id = ?`,
		decimal.RequireFromString(balance), time.Now().UTC(), id,
	).Error
	if err != nil {
		t.Fatalf("set wallet balance: %v", err)
	}
}

package db

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupportedType = errors.New("unsupported_database_type")

// Config describes one database connection and its pool.
type Config struct {
	Type            string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime int
	ConnMaxIdleTime int
}

func (c Config) normalizedType() string {
	return strings.ToLower(strings.TrimSpace(c.Type))
}

// Validate rejects engines the alerting queries cannot run on. The activity
// queues rely on partial unique indexes and ON CONFLICT upserts.
func (c Config) Validate() error {
	switch c.normalizedType() {
	case "postgres":
		if strings.TrimSpace(c.Host) == "" || strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("postgres host and name are required")
		}
		return nil
	case "sqlite":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedType, c.Type)
	}
}

func (c Config) postgresDSN() string {
	sslMode := strings.TrimSpace(c.SSLMode)
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host,
		c.User,
		c.Password,
		c.Name,
		c.Port,
		sslMode,
	)
}

func (c Config) sqlitePath() string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	return "alerts.db"
}

// metricsName labels the pool gauges; it never carries credentials.
func (c Config) metricsName() string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	return "alerts"
}

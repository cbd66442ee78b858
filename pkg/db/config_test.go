package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsUnsupportedEngines(t *testing.T) {
	_, err := Dialect(Config{Type: "mysql", Host: "db", Name: "alerts"})
	require.ErrorIs(t, err, ErrUnsupportedType)

	err = Config{Type: "postgres"}.Validate()
	require.Error(t, err)

	require.NoError(t, Config{Type: " Postgres ", Host: "db", Name: "alerts"}.Validate())
	require.NoError(t, Config{Type: "sqlite"}.Validate())
}

func TestPostgresDSNDefaultsSSLMode(t *testing.T) {
	dsn := Config{Host: "db", User: "u", Password: "p", Name: "alerts", Port: "5432"}.postgresDSN()
	assert.Contains(t, dsn, "sslmode=disable")
	assert.Contains(t, dsn, "TimeZone=UTC")

	dsn = Config{Host: "db", SSLMode: "require"}.postgresDSN()
	assert.Contains(t, dsn, "sslmode=require")
}

func TestDialectNames(t *testing.T) {
	d, err := Dialect(Config{Type: "postgres", Host: "db", Name: "alerts"})
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	d, err = Dialect(Config{Type: "sqlite"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())
	assert.Equal(t, "alerts.db", Config{}.sqlitePath())
}

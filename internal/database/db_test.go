package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/cinema-seat-hold/internal/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DBConfig{User: "app", Pass: "s3cret", Host: "db", Port: "3306", Name: "cinema"})
	assert.Contains(t, dsn, "app:s3cret@tcp(db:3306)/cinema?")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMySQLConnection_BadDSN(t *testing.T) {
	_, err := NewMySQLConnection("", MySQLOpts{})
	assert.ErrorContains(t, err, "empty MySQL DSN")

	_, err = NewMySQLConnection("not-a-dsn", MySQLOpts{})
	assert.ErrorContains(t, err, "parse MySQL DSN")
}

func TestNewClickHouseConnection_EmptyDSN(t *testing.T) {
	_, err := NewClickHouseConnection(ClickHouseOpts{})
	assert.ErrorContains(t, err, "empty ClickHouse DSN")
}

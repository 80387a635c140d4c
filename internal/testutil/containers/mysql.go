//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/jmehdipour/ops-messaging/internal/db"
	"github.com/jmehdipour/ops-messaging/migrations"
	"github.com/jmoiron/sqlx"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
)

type MySQLContainer struct {
	Container testcontainers.Container
	DB        *sqlx.DB
}

// NewMySQL starts mysql:8.0 with the embedded schema applied.
func NewMySQL(t *testing.T) *MySQLContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("opsmsg"),
		tcmysql.WithUsername("opsmsg"),
		tcmysql.WithPassword("opsmsg"),
	)
	if err != nil {
		t.Fatalf("start mysql container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("mysql connection string: %v", err)
	}
	dbx, err := db.NewMySQLConnection(dsn, db.MySQLOpts{MaxOpenConns: 20})
	if err != nil {
		t.Fatalf("open mysql: %v", err)
	}
	t.Cleanup(func() { _ = dbx.Close() })

	stmts, err := migrations.Statements(migrations.MySQL)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	for _, s := range stmts {
		if _, err := dbx.ExecContext(ctx, s); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}
	return &MySQLContainer{Container: container, DB: dbx}
}

// Truncate empties the given tables between tests.
func (m *MySQLContainer) Truncate(ctx context.Context, tables ...string) error {
	for _, tbl := range tables {
		if _, err := m.DB.ExecContext(ctx, "TRUNCATE TABLE "+tbl); err != nil {
			return err
		}
	}
	return nil
}

package cmd

import (
	"context"
	"fmt"

	"github.com/jmehdipour/ops-messaging/internal/app"
	"github.com/jmehdipour/ops-messaging/migrations"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var withClickHouse bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the MySQL tables (and the ClickHouse report table with --clickhouse)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Bootstrap(cfgPath)
		if err != nil {
			return err
		}

		sqlDB, err := app.OpenMySQL(cfg)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		n, err := apply(ctx, sqlDB, migrations.MySQL)
		if err != nil {
			return err
		}
		log.Info("mysql migrated", zap.Int("statements", n))

		if withClickHouse {
			chDB, err := app.OpenClickHouse(cfg)
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer func() { _ = chDB.Close() }()
			n, err := apply(ctx, chDB, migrations.ClickHouse)
			if err != nil {
				return err
			}
			log.Info("clickhouse migrated", zap.Int("statements", n))
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&withClickHouse, "clickhouse", false, "also create the ClickHouse report table")
}

func apply(ctx context.Context, dbx *sqlx.DB, dialect string) (int, error) {
	stmts, err := migrations.Statements(dialect)
	if err != nil {
		return 0, fmt.Errorf("read %s migrations: %w", dialect, err)
	}
	for i, s := range stmts {
		if _, err := dbx.ExecContext(ctx, s); err != nil {
			return i, fmt.Errorf("exec %s statement %d: %w", dialect, i+1, err)
		}
	}
	return len(stmts), nil
}

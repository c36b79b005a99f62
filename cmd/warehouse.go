package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/return-etl/internal/warehouse"
)

// openWarehouse connects to the configured warehouse. Callers must Close it.
func openWarehouse(ctx context.Context) (warehouse.Warehouse, error) {
	if err := cfg.ValidateWarehouse(); err != nil {
		return nil, err
	}

	w := cfg.Warehouse
	switch w.Driver {
	case "sqlite":
		return warehouse.OpenSQLite(ctx, w.DSN)
	case "postgres":
		return warehouse.NewPostgres(ctx, w.PostgresURL(), w.MaxConns)
	default:
		dsn := w.DSN
		if dsn == "" {
			dsn = warehouse.MySQLDSN(w.Host, w.Port, w.Database, w.Username, w.Password)
		}
		return warehouse.OpenMySQL(ctx, dsn)
	}
}

// closeWarehouse closes wh and keeps the first error.
func closeWarehouse(wh warehouse.Warehouse, errp *error) {
	if cerr := wh.Close(); cerr != nil {
		if *errp == nil {
			*errp = cerr
			return
		}
		logger.Warn("warehouse close failed", zap.Error(cerr))
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"inkwell/app/config"
	"inkwell/app/repositories"
	"inkwell/app/repositories/sqlstore"
)

// Version is stamped at build time with -ldflags "-X inkwell/service.Version=...".
var Version = "dev"

var errNoBadger = errors.New("this command needs the badger storage driver")

// backend is the opened store plus the driver specific handle behind it.
type backend struct {
	repositories.Store
	badger *repositories.BadgerStore
	sql    *sqlstore.Store
}

// openStore opens the store selected by cfg.Storage.Driver.
func openStore(cfg config.StorageConfig, logger *slog.Logger) (*backend, error) {
	switch cfg.Driver {
	case config.DriverBadger:
		bs, err := repositories.OpenBadger(repositories.BadgerConfig{
			Path:       cfg.Path,
			SyncWrites: true,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return &backend{Store: bs, badger: bs}, nil
	case config.DriverSQLite:
		ss, err := sqlstore.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &backend{Store: ss, sql: ss}, nil
	case config.DriverPostgres:
		ss, err := sqlstore.OpenPostgres(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &backend{Store: ss, sql: ss}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// ready reports whether the store still answers.
func (b *backend) ready() error {
	switch {
	case b.badger != nil:
		if b.badger.DB().IsClosed() {
			return errors.New("badger is closed")
		}
	case b.sql != nil:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return b.sql.DB().PingContext(ctx)
	}
	return nil
}

// storeExists reports whether the on-disk store for cfg is already there.
// Postgres databases always count as existing.
func storeExists(cfg config.StorageConfig) bool {
	if cfg.Driver == config.DriverPostgres {
		return true
	}
	_, err := os.Stat(cfg.Path)
	return err == nil
}

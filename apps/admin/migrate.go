package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/storage"
	"github.com/trezcool/enrol/storage/database"
)

var errNotPostgres = errors.New("migrations only apply to the postgres engine")

// migrateFunc applies the pending migrations and returns their versions.
type migrateFunc func(ctx context.Context) ([]string, error)

func postgresMigrations(conf *core.Config) migrateFunc {
	return func(ctx context.Context) ([]string, error) {
		if conf.Database.Engine != storage.EnginePostgres {
			return nil, errNotPostgres
		}
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}
		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}
		defer func() { _ = db.Close() }()
		return database.Migrate(ctx, db)
	}
}

func (cli *commandLine) runMigrations() error {
	ran, err := cli.migrate(context.Background())
	if err != nil {
		return err
	}
	if len(ran) == 0 {
		fmt.Fprintln(cli.out, "no pending migrations")
		return nil
	}
	for _, version := range ran {
		fmt.Fprintln(cli.out, "applied", version)
	}
	return nil
}

// Package storage opens the configured collaborators behind the document store and the file uploads.
package storage

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/submission"
	"github.com/trezcool/enrol/storage/database"
	dummydb "github.com/trezcool/enrol/storage/database/dummy"
	firestoredb "github.com/trezcool/enrol/storage/database/firestore"
	sqlxdb "github.com/trezcool/enrol/storage/database/sqlx"
	"github.com/trezcool/enrol/storage/files"
)

const (
	EnginePostgres  = "postgres"
	EngineFirestore = "firestore"
	EngineMemory    = "memory"

	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenDocumentStore opens the store selected by conf.Database.Engine.
// Postgres databases are created and migrated first; log receives the applied migrations.
func OpenDocumentStore(ctx context.Context, conf *core.Config, log core.Logger) (submission.StoreReader, io.Closer, error) {
	switch conf.Database.Engine {
	case EngineMemory, "":
		db, err := dummydb.Open()
		if err != nil {
			return nil, nil, err
		}
		return dummydb.NewDocumentStore(db), nopCloser{}, nil

	case EnginePostgres:
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, nil, err
		}
		db, err := database.Open(conf)
		if err != nil {
			return nil, nil, err
		}
		ran, err := database.Migrate(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		for _, version := range ran {
			log.Info("applied migration " + version)
		}
		return sqlxdb.NewDocumentStore(db), db, nil

	case EngineFirestore:
		client, err := firestoredb.Open(ctx, conf.Database.FirestoreProject)
		if err != nil {
			return nil, nil, err
		}
		store := firestoredb.NewDocumentStore(client, firestoredb.WithCollectionPrefix(conf.Database.CollectionPrefix))
		return store, client, nil
	}
	return nil, nil, errors.Errorf("unknown database engine %q", conf.Database.Engine)
}

// OpenUploader opens the uploader selected by conf.Storage.Backend.
func OpenUploader(ctx context.Context, conf *core.Config) (files.Uploader, io.Closer, error) {
	switch conf.Storage.Backend {
	case BackendMemory, "":
		return files.NewMemoryUploader(), nopCloser{}, nil
	case BackendGCS:
		if conf.Storage.Bucket == "" {
			return nil, nil, errors.New("a storage bucket is required")
		}
		u, err := files.NewGCSUploader(ctx, conf.Storage.Bucket, conf.Storage.Prefix, conf.Storage.BaseURL)
		if err != nil {
			return nil, nil, err
		}
		return u, u, nil
	}
	return nil, nil, errors.Errorf("unknown storage backend %q", conf.Storage.Backend)
}

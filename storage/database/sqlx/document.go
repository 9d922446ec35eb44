// Package sqlxdb keeps submission documents in the postgres documents table.
package sqlxdb

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/submission"
)

var NowFunc = time.Now // mockable

const (
	insertDocument  = `INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`
	updateDocument  = `UPDATE documents SET data = data || $3::jsonb, updated_at = $4 WHERE collection = $1 AND id = $2 RETURNING id, data, created_at, updated_at`
	selectDocument  = `SELECT id, data, created_at, updated_at FROM documents WHERE collection = $1 AND id = $2`
	selectDocuments = `SELECT id, data, created_at, updated_at FROM documents WHERE collection = $1 ORDER BY created_at, id`
)

type row struct {
	ID        string    `db:"id"`
	Data      []byte    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r row) document() (submission.Document, error) {
	doc := submission.Document{ID: r.ID, CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC()}
	fields, err := decode(r.Data)
	if err != nil {
		return submission.Document{}, errors.Wrapf(err, "decoding document %s", r.ID)
	}
	doc.Fields = fields
	return doc, nil
}

func decode(data []byte) (map[string]interface{}, error) {
	fields := make(map[string]interface{})
	if len(data) == 0 {
		return fields, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// pgOperatorIntervention is the class of admin_shutdown, crash_shutdown and cannot_connect_now.
const pgOperatorIntervention = "57"

// storeError wraps err, turning a server going away into a core shutdown error.
func storeError(err error, format string, args ...interface{}) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == pgOperatorIntervention {
		return core.NewShutdownError(errors.Wrapf(err, format, args...).Error())
	}
	return errors.Wrapf(err, format, args...)
}

// validID reports whether id can name a row; ids are UUIDs.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

type documentStore struct {
	db *sqlx.DB
}

var _ submission.StoreReader = (*documentStore)(nil) // interface compliance check

func NewDocumentStore(db *sqlx.DB) submission.StoreReader {
	return &documentStore{db: db}
}

func (store *documentStore) Create(ctx context.Context, collection string, payload submission.Payload) (submission.Document, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return submission.Document{}, errors.Wrap(err, "encoding payload")
	}
	now := NowFunc().UTC()
	id := uuid.New().String()
	if _, err := store.db.ExecContext(ctx, insertDocument, collection, id, data, now, now); err != nil {
		return submission.Document{}, storeError(err, "inserting into %s", collection)
	}
	return row{ID: id, Data: data, CreatedAt: now, UpdatedAt: now}.document()
}

func (store *documentStore) Update(ctx context.Context, collection, id string, payload submission.Payload) (submission.Document, error) {
	if !validID(id) {
		return submission.Document{}, errors.Wrapf(submission.ErrNotFound, "%s/%s", collection, id)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return submission.Document{}, errors.Wrap(err, "encoding payload")
	}
	var r row
	err = store.db.QueryRowxContext(ctx, updateDocument, collection, id, data, NowFunc().UTC()).StructScan(&r)
	if errors.Is(err, sql.ErrNoRows) {
		return submission.Document{}, errors.Wrapf(submission.ErrNotFound, "%s/%s", collection, id)
	}
	if err != nil {
		return submission.Document{}, storeError(err, "updating %s/%s", collection, id)
	}
	return r.document()
}

func (store *documentStore) Get(ctx context.Context, collection, id string) (submission.Document, error) {
	if !validID(id) {
		return submission.Document{}, errors.Wrapf(submission.ErrNotFound, "%s/%s", collection, id)
	}
	var r row
	err := store.db.GetContext(ctx, &r, selectDocument, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return submission.Document{}, errors.Wrapf(submission.ErrNotFound, "%s/%s", collection, id)
	}
	if err != nil {
		return submission.Document{}, storeError(err, "getting %s/%s", collection, id)
	}
	return r.document()
}

// List returns the documents of a collection, oldest first.
func (store *documentStore) List(ctx context.Context, collection string) ([]submission.Document, error) {
	var rows []row
	if err := store.db.SelectContext(ctx, &rows, selectDocuments, collection); err != nil {
		return nil, storeError(err, "listing %s", collection)
	}
	docs := make([]submission.Document, 0, len(rows))
	for _, r := range rows {
		doc, err := r.document()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core/submission"
)

var NowFunc = time.Now // mockable

type documentStore struct {
	db *DB
}

var _ submission.StoreReader = (*documentStore)(nil) // interface compliance check

func NewDocumentStore(db *DB) submission.StoreReader {
	return &documentStore{db: db}
}

func copyDoc(doc *submission.Document) submission.Document {
	c := *doc
	c.Fields = make(map[string]interface{}, len(doc.Fields))
	for k, v := range doc.Fields {
		c.Fields[k] = v
	}
	return c
}

func (store *documentStore) Create(_ context.Context, collection string, payload submission.Payload) (submission.Document, error) {
	store.db.Lock()
	defer store.db.Unlock()

	now := NowFunc().UTC()
	doc := &submission.Document{
		ID:        uuid.New().String(),
		Fields:    make(map[string]interface{}, len(payload)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for k, v := range payload {
		doc.Fields[k] = v
	}
	store.db.table(collection)[doc.ID] = doc
	return copyDoc(doc), nil
}

func (store *documentStore) Update(_ context.Context, collection, id string, payload submission.Payload) (submission.Document, error) {
	store.db.Lock()
	defer store.db.Unlock()

	doc, ok := store.db.table(collection)[id]
	if !ok {
		return submission.Document{}, errors.Wrapf(submission.ErrNotFound, "%s/%s", collection, id)
	}
	for k, v := range payload {
		doc.Fields[k] = v
	}
	doc.UpdatedAt = NowFunc().UTC()
	return copyDoc(doc), nil
}

func (store *documentStore) Get(_ context.Context, collection, id string) (submission.Document, error) {
	store.db.RLock()
	defer store.db.RUnlock()

	if doc, ok := store.db.collections[collection][id]; ok {
		return copyDoc(doc), nil
	}
	return submission.Document{}, errors.Wrapf(submission.ErrNotFound, "%s/%s", collection, id)
}

// List returns the documents of a collection, oldest first.
func (store *documentStore) List(_ context.Context, collection string) ([]submission.Document, error) {
	store.db.RLock()
	defer store.db.RUnlock()

	docs := make([]submission.Document, 0, len(store.db.collections[collection]))
	for _, doc := range store.db.collections[collection] {
		docs = append(docs, copyDoc(doc))
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs, nil
}

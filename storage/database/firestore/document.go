// Package firestoredb keeps submission documents in Cloud Firestore, one collection per submission collection.
package firestoredb

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/trezcool/enrol/core/submission"
)

var NowFunc = time.Now // mockable

type (
	document struct {
		Fields    map[string]interface{} `firestore:"fields"`
		CreatedAt time.Time              `firestore:"created_at"`
		UpdatedAt time.Time              `firestore:"updated_at"`
	}

	Option func(s *documentStore)

	documentStore struct {
		client           *firestore.Client
		collectionPrefix string
	}
)

var _ submission.StoreReader = (*documentStore)(nil)

// WithCollectionPrefix namespaces every collection, eg "staging" stores admissions in "staging_admissions".
func WithCollectionPrefix(prefix string) Option {
	return func(s *documentStore) { s.collectionPrefix = prefix }
}

// Open connects to the firestore database of projectID.
// FIRESTORE_EMULATOR_HOST is honored by the client.
func Open(ctx context.Context, projectID string) (*firestore.Client, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, errors.Wrapf(err, "creating firestore client for %s", projectID)
	}
	return client, nil
}

func NewDocumentStore(client *firestore.Client, opts ...Option) submission.StoreReader {
	s := &documentStore{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *documentStore) collection(name string) *firestore.CollectionRef {
	if s.collectionPrefix != "" {
		name = s.collectionPrefix + "_" + name
	}
	return s.client.Collection(name)
}

func toDocument(id string, d document) submission.Document {
	fields := d.Fields
	if fields == nil {
		fields = make(map[string]interface{})
	}
	return submission.Document{ID: id, Fields: fields, CreatedAt: d.CreatedAt.UTC(), UpdatedAt: d.UpdatedAt.UTC()}
}

func (s *documentStore) Create(ctx context.Context, collection string, payload submission.Payload) (submission.Document, error) {
	now := NowFunc().UTC()
	id := uuid.New().String()
	d := document{Fields: map[string]interface{}(payload), CreatedAt: now, UpdatedAt: now}
	if _, err := s.collection(collection).Doc(id).Create(ctx, d); err != nil {
		return submission.Document{}, errors.Wrapf(err, "creating %s document", collection)
	}
	return s.Get(ctx, collection, id)
}

// Update merges payload into the fields of the document.
func (s *documentStore) Update(ctx context.Context, collection, id string, payload submission.Payload) (submission.Document, error) {
	updates := make([]firestore.Update, 0, len(payload)+1)
	for k, v := range payload {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{"fields", k}, Value: v})
	}
	updates = append(updates, firestore.Update{Path: "updated_at", Value: NowFunc().UTC()})

	if _, err := s.collection(collection).Doc(id).Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return submission.Document{}, errors.Wrapf(submission.ErrNotFound, "%s/%s", collection, id)
		}
		return submission.Document{}, errors.Wrapf(err, "updating %s/%s", collection, id)
	}
	return s.Get(ctx, collection, id)
}

func (s *documentStore) Get(ctx context.Context, collection, id string) (submission.Document, error) {
	snap, err := s.collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return submission.Document{}, errors.Wrapf(submission.ErrNotFound, "%s/%s", collection, id)
		}
		return submission.Document{}, errors.Wrapf(err, "getting %s/%s", collection, id)
	}
	var d document
	if err := snap.DataTo(&d); err != nil {
		return submission.Document{}, errors.Wrapf(err, "decoding %s/%s", collection, id)
	}
	return toDocument(snap.Ref.ID, d), nil
}

// List returns the documents of a collection, oldest first.
func (s *documentStore) List(ctx context.Context, collection string) ([]submission.Document, error) {
	iter := s.collection(collection).OrderBy("created_at", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var docs []submission.Document
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "listing %s", collection)
		}
		var d document
		if err := snap.DataTo(&d); err != nil {
			return nil, errors.Wrapf(err, "decoding %s/%s", collection, snap.Ref.ID)
		}
		docs = append(docs, toDocument(snap.Ref.ID, d))
	}
	return docs, nil
}

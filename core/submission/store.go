// Package submission hands complete wizard records to the document store.
package submission

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("document not found")

type (
	// Payload is the shape a record takes in the document store.
	Payload map[string]interface{}

	Document struct {
		ID        string                 `json:"id"`
		Fields    map[string]interface{} `json:"fields"`
		CreatedAt time.Time              `json:"created_at"` // UTC
		UpdatedAt time.Time              `json:"updated_at"` // UTC
	}

	// Store is the persistence collaborator. Errors carry a human readable message.
	Store interface {
		Create(ctx context.Context, collection string, payload Payload) (Document, error)
		// Update merges payload into the fields of an existing document.
		Update(ctx context.Context, collection, id string, payload Payload) (Document, error)
	}

	// Reader is implemented by stores which can also read documents back.
	Reader interface {
		Get(ctx context.Context, collection, id string) (Document, error)
		List(ctx context.Context, collection string) ([]Document, error)
	}

	StoreReader interface {
		Store
		Reader
	}
)

func (d Document) String(field string) string {
	s, _ := d.Fields[field].(string)
	return s
}

package dummydb

import (
	"sync"

	"github.com/trezcool/enrol/core/submission"
)

type (
	// DB keeps documents in memory, per collection.
	DB struct {
		sync.RWMutex
		collections map[string]map[string]*submission.Document
	}
)

func Open() (*DB, error) {
	db := &DB{
		collections: make(map[string]map[string]*submission.Document),
	}
	return db, nil
}

// table returns the documents of a collection, creating it when missing. db must be locked.
func (db *DB) table(collection string) map[string]*submission.Document {
	t, ok := db.collections[collection]
	if !ok {
		t = make(map[string]*submission.Document)
		db.collections[collection] = t
	}
	return t
}

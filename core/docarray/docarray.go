// Package docarray manages the variable-length document lists embedded in wizard records.
package docarray

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

const (
	FieldName = "name"
	FieldURL  = "url"
)

var (
	ErrIndexOutOfRange = errors.New("document index out of range")
	ErrUnknownField    = errors.New("unknown document field")
)

// Entry is one uploaded file reference. Name is the document type tag,
// URL is set once the upload completes.
type Entry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (e Entry) record() map[string]interface{} {
	return map[string]interface{}{FieldName: e.Name, FieldURL: e.URL}
}

// List is a resizable list of entries which never holds less than one entry.
// Lists must be created with New.
type List struct {
	mu      sync.RWMutex
	entries []Entry
}

// New returns a List holding the given entries, or a single blank entry when none is given.
func New(entries ...Entry) *List {
	l := &List{entries: make([]Entry, 0, len(entries))}
	l.entries = append(l.entries, entries...)
	if len(l.entries) == 0 {
		l.entries = append(l.entries, Entry{})
	}
	return l
}

// Append adds an entry at the end of the list.
func (l *List) Append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

// Remove deletes the entry at index i.
// It is a no-op returning false when i is out of range or the entry is the last one left.
func (l *List) Remove(i int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.entries) || len(l.entries) == 1 {
		return false
	}
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
	return true
}

// SetEntryField updates the "name" or "url" of the entry at index i.
func (l *List) SetEntryField(i int, field, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.entries) {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d (len %d)", i, len(l.entries))
	}
	switch field {
	case FieldName:
		l.entries[i].Name = value
	case FieldURL:
		l.entries[i].URL = value
	default:
		return errors.Wrapf(ErrUnknownField, "%q", field)
	}
	return nil
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of the entries.
func (l *List) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	return entries
}

func (l *List) Clone() *List {
	return New(l.Entries()...)
}

// Records exposes the entries as generic records for schema validation.
func (l *List) Records() []map[string]interface{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	recs := make([]map[string]interface{}, 0, len(l.entries))
	for _, e := range l.entries {
		recs = append(recs, e.record())
	}
	return recs
}

// MarshalJSON encodes the list as a plain array of entries.
func (l *List) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Entries())
}

// UnmarshalJSON keeps the one-entry floor when decoding an empty array.
func (l *List) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return errors.Wrap(err, "decoding documents")
	}
	if len(entries) == 0 {
		entries = append(entries, Entry{})
	}
	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()
	return nil
}

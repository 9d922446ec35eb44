package submission

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/docarray"
	"github.com/trezcool/enrol/core/form"
	"github.com/trezcool/enrol/core/user"
	"github.com/trezcool/enrol/core/wizard"
)

type (
	// Transform adjusts the payload of a new document before it is stored.
	Transform func(actor user.User, payload Payload) error

	Option func(a *Adapter)

	// Adapter maps wizard records to store payloads and creates one document per submission.
	Adapter struct {
		store        Store
		collection   string
		encodeArrays bool
		schoolField  string
		transforms   []Transform
		log          core.Logger
	}
)

// WithArrayEncoding toggles the per-element JSON encoding of document arrays (on by default).
// Stores able to keep structured sub-documents may turn it off.
func WithArrayEncoding(on bool) Option {
	return func(a *Adapter) { a.encodeArrays = on }
}

// WithActorSchool fills field of new documents with the actor's school when the record leaves it empty.
func WithActorSchool(field string) Option {
	return func(a *Adapter) { a.schoolField = field }
}

func WithTransform(fn Transform) Option {
	return func(a *Adapter) { a.transforms = append(a.transforms, fn) }
}

func WithLogger(log core.Logger) Option {
	return func(a *Adapter) { a.log = log }
}

var _ wizard.Submitter = (*Adapter)(nil)

var (
	errNoStore = core.NewArgumentError("the adapter has no store or collection")
	errNoID    = core.NewArgumentError("a document id is required")
)

func NewAdapter(store Store, collection string, opts ...Option) *Adapter {
	a := &Adapter{
		store:        store,
		collection:   collection,
		encodeArrays: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Collection() string { return a.collection }

// Payload converts record to the store shape. Document arrays become a list of
// independently JSON encoded entries unless array encoding is off.
func (a *Adapter) Payload(record form.Record) (Payload, error) {
	payload := make(Payload, len(record))
	for field, value := range record {
		entries, isArray := documentEntries(value)
		if !isArray {
			payload[field] = value
			continue
		}
		if !a.encodeArrays {
			payload[field] = entries
			continue
		}
		encoded, err := EncodeEntries(entries)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding %q", field)
		}
		payload[field] = encoded
	}
	return payload, nil
}

func (a *Adapter) prepare(actor user.User, record form.Record) (Payload, error) {
	payload, err := a.Payload(record)
	if err != nil {
		return nil, err
	}
	if a.schoolField != "" && actor.SchoolID != "" {
		if s, _ := payload[a.schoolField].(string); s == "" {
			payload[a.schoolField] = actor.SchoolID
		}
	}
	for _, fn := range a.transforms {
		if err := fn(actor, payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// Submit creates one document from record and returns its id.
func (a *Adapter) Submit(ctx context.Context, actor user.User, record form.Record) (string, error) {
	if a.store == nil || a.collection == "" {
		return "", errNoStore
	}
	payload, err := a.prepare(actor, record)
	if err != nil {
		return "", err
	}
	doc, err := a.store.Create(ctx, a.collection, payload)
	if err != nil {
		if a.log != nil {
			a.log.Error("creating "+a.collection+" document", err, actor)
		}
		return "", errors.WithStack(err)
	}
	return doc.ID, nil
}

// Update writes a partial record to an existing document.
func (a *Adapter) Update(ctx context.Context, actor user.User, id string, record form.Record) (Document, error) {
	switch {
	case a.store == nil || a.collection == "":
		return Document{}, errNoStore
	case id == "":
		return Document{}, errNoID
	}
	payload, err := a.Payload(record)
	if err != nil {
		return Document{}, err
	}
	doc, err := a.store.Update(ctx, a.collection, id, payload)
	if err != nil {
		if a.log != nil {
			a.log.Error("updating "+a.collection+" document", err, actor)
		}
		return Document{}, errors.WithStack(err)
	}
	return doc, nil
}

func documentEntries(v interface{}) ([]docarray.Entry, bool) {
	switch val := v.(type) {
	case *docarray.List:
		if val == nil {
			return nil, false
		}
		return val.Entries(), true
	case []docarray.Entry:
		return val, true
	}
	return nil, false
}

// EncodeEntries JSON encodes every entry on its own, without HTML escaping.
func EncodeEntries(entries []docarray.Entry) ([]string, error) {
	encoded := make([]string, 0, len(entries))
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, e := range entries {
		buf.Reset()
		if err := enc.Encode(e); err != nil {
			return nil, err
		}
		encoded = append(encoded, string(bytes.TrimRight(buf.Bytes(), "\n")))
	}
	return encoded, nil
}

// DecodeEntries is the inverse of EncodeEntries.
func DecodeEntries(encoded []string) ([]docarray.Entry, error) {
	entries := make([]docarray.Entry, 0, len(encoded))
	for i, s := range encoded {
		var e docarray.Entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, errors.Wrapf(err, "decoding entry %d", i)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

package admission

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/docarray"
	"github.com/trezcool/enrol/core/form"
	"github.com/trezcool/enrol/core/submission"
	"github.com/trezcool/enrol/core/user"
	"github.com/trezcool/enrol/core/wizard"
)

// Decisions are the statuses a review may settle an application with.
var Decisions = []string{StatusAccepted, StatusRejected}

// Review saves the application edited by a reviewer together with their decision.
// The whole record is validated first; fields outside the schema and the school are left untouched.
func Review(ctx context.Context, adapter *submission.Adapter, schema *form.Schema, actor user.User, id string, record form.Record, decision string) (submission.Document, error) {
	if id == "" {
		return submission.Document{}, errNoID
	}
	if !oneOf(decision, Decisions) {
		return submission.Document{}, invalidStatus()
	}

	rec := make(form.Record, len(record)+1)
	for _, f := range schema.Fields() {
		v, ok := record[f]
		if !ok || f == FieldSchool {
			continue
		}
		if schema.IsArray(f) {
			list, err := documentList(v)
			if err != nil {
				return submission.Document{}, core.NewValidationError(err, core.FieldError{Field: f, Error: "invalid list"})
			}
			v = list
		}
		rec[f] = v
	}
	rec[FieldStatus] = decision

	if errs := schema.ValidateRecord(rec); len(errs) > 0 {
		return submission.Document{}, core.NewFieldsError(wizard.ErrInvalidRecord, errs)
	}
	return adapter.Update(ctx, actor, id, rec)
}

// documentList reads a document array as edited by a client or as stored,
// where every entry is its own JSON string.
func documentList(v interface{}) (*docarray.List, error) {
	switch val := v.(type) {
	case nil:
		return docarray.New(), nil
	case *docarray.List:
		if val == nil {
			return docarray.New(), nil
		}
		return val.Clone(), nil
	case []docarray.Entry:
		return docarray.New(val...), nil
	case []string:
		entries, err := submission.DecodeEntries(val)
		if err != nil {
			return nil, err
		}
		return docarray.New(entries...), nil
	case []interface{}:
		entries := make([]docarray.Entry, 0, len(val))
		for i, el := range val {
			var e docarray.Entry
			switch item := el.(type) {
			case string:
				if err := json.Unmarshal([]byte(item), &e); err != nil {
					return nil, errors.Wrapf(err, "decoding entry %d", i)
				}
			case map[string]interface{}:
				e.Name, _ = item[docarray.FieldName].(string)
				e.URL, _ = item[docarray.FieldURL].(string)
			default:
				return nil, errors.Errorf("entry %d is neither an object nor a string", i)
			}
			entries = append(entries, e)
		}
		return docarray.New(entries...), nil
	}
	return nil, errors.Errorf("unexpected document list %T", v)
}

package form

import (
	"github.com/trezcool/enrol/core/docarray"
)

// Record is the value object built across the steps of a wizard, keyed like its Schema.
type Record map[string]interface{}

// Clone returns a copy of the record which shares no document list with the original.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = cloneValue(v)
	}
	return c
}

// With returns a copy of the record with field set to value.
func (r Record) With(field string, value interface{}) Record {
	c := make(Record, len(r)+1)
	for k, v := range r {
		c[k] = v
	}
	c[field] = value
	return c
}

func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case *docarray.List:
		if val == nil {
			return val
		}
		return val.Clone()
	case []docarray.Entry:
		c := make([]docarray.Entry, len(val))
		copy(c, val)
		return c
	case []string:
		c := make([]string, len(val))
		copy(c, val)
		return c
	default:
		return v
	}
}

// isAbsent reports whether an optional value counts as not provided.
func isAbsent(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case *docarray.List:
		return val == nil
	}
	return false
}

// elements converts a document-array value into its element records.
func elements(v interface{}) ([]Record, bool) {
	switch val := v.(type) {
	case *docarray.List:
		return toRecords(val.Records()), true
	case []docarray.Entry:
		recs := make([]Record, 0, len(val))
		for _, e := range val {
			recs = append(recs, Record{docarray.FieldName: e.Name, docarray.FieldURL: e.URL})
		}
		return recs, true
	case []map[string]interface{}:
		return toRecords(val), true
	case []Record:
		return val, true
	case []interface{}:
		recs := make([]Record, 0, len(val))
		for _, el := range val {
			switch m := el.(type) {
			case map[string]interface{}:
				recs = append(recs, m)
			case Record:
				recs = append(recs, m)
			default:
				return nil, false
			}
		}
		return recs, true
	}
	return nil, false
}

func toRecords(maps []map[string]interface{}) []Record {
	recs := make([]Record, 0, len(maps))
	for _, m := range maps {
		recs = append(recs, m)
	}
	return recs
}

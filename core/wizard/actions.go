package wizard

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core/docarray"
	"github.com/trezcool/enrol/core/form"
)

// Action is a state transition applied by Wizard.Dispatch.
type Action interface {
	// apply runs with w.mu held and reports whether the state changed.
	apply(w *Wizard) (bool, error)
}

type (
	SetField struct {
		Field string
		Value interface{}
	}
	Next     struct{}
	Previous struct{}
	JumpTo   struct {
		Step int
	}
	AppendDocument struct {
		Field string
		Entry docarray.Entry
	}
	RemoveDocument struct {
		Field string
		Index int
	}
	SetDocumentField struct {
		Field string
		Index int
		Key   string // docarray.FieldName or docarray.FieldURL
		Value string
	}
	DismissNotice struct{}
	// Reset discards the session and starts over from the first step.
	Reset struct{}
)

func (a SetField) apply(w *Wizard) (bool, error) {
	if w.state.Submitted {
		return false, ErrAlreadySubmitted
	}
	if !w.schema.Has(a.Field) {
		return false, errors.Wrapf(form.ErrUnknownField, "%q", a.Field)
	}
	value := a.Value
	if w.schema.IsArray(a.Field) {
		list, err := toList(a.Value)
		if err != nil {
			return false, errors.Wrapf(err, "%q", a.Field)
		}
		value = list
	}
	w.state.Record[a.Field] = value
	w.clearErrors(a.Field)
	return true, nil
}

func (Next) apply(w *Wizard) (bool, error) {
	_, changed, err := w.next()
	return changed, err
}

func (Previous) apply(w *Wizard) (bool, error) {
	if w.state.Submitted {
		return false, ErrAlreadySubmitted
	}
	if w.state.Step == 0 {
		return false, nil
	}
	w.state.Step--
	w.state.Errors = map[string]string{}
	return true, nil
}

func (a JumpTo) apply(w *Wizard) (bool, error) {
	if w.state.Submitted {
		return false, ErrAlreadySubmitted
	}
	_, changed := w.jump(a.Step)
	return changed, nil
}

func (a AppendDocument) apply(w *Wizard) (bool, error) {
	list, err := w.documents(a.Field)
	if err != nil {
		return false, err
	}
	list.Append(a.Entry)
	return true, nil
}

func (a RemoveDocument) apply(w *Wizard) (bool, error) {
	list, err := w.documents(a.Field)
	if err != nil {
		return false, err
	}
	if !list.Remove(a.Index) {
		return false, nil
	}
	w.clearErrors(a.Field)
	return true, nil
}

func (a SetDocumentField) apply(w *Wizard) (bool, error) {
	list, err := w.documents(a.Field)
	if err != nil {
		return false, err
	}
	if err := list.SetEntryField(a.Index, a.Key, a.Value); err != nil {
		return false, err
	}
	w.clearErrors(a.Field)
	return true, nil
}

func (DismissNotice) apply(w *Wizard) (bool, error) {
	if w.state.Notice == "" {
		return false, nil
	}
	w.state.Notice = ""
	return true, nil
}

func (Reset) apply(w *Wizard) (bool, error) {
	if w.state.InFlight {
		return false, ErrSubmitInFlight
	}
	w.state = State{Record: w.initialRecord(), Errors: map[string]string{}}
	return true, nil
}

// next validates the current step and advances when it is valid and not the last one.
func (w *Wizard) next() (advanced, changed bool, err error) {
	if w.state.Submitted {
		return false, false, ErrAlreadySubmitted
	}
	ok, changed := w.validateStep(w.state.Step)
	if !ok {
		return false, changed, nil
	}
	if w.state.Step < w.lastStep() {
		w.state.Step++
		return true, true, nil
	}
	return false, changed, nil
}

// jump moves to a visited step, or to the following one when the current step is valid.
// Other targets are rejected without any state change.
func (w *Wizard) jump(target int) (allowed, changed bool) {
	cur := w.state.Step
	switch {
	case w.state.Submitted || target < 0 || target > w.lastStep():
		return false, false
	case target == cur:
		return true, false
	case target < cur:
		w.state.Step = target
		w.state.Errors = map[string]string{}
		return true, true
	case target == cur+1:
		if ok, changed := w.validateStep(cur); !ok {
			return false, changed
		}
		w.state.Step = target
		return true, true
	}
	return false, false
}

// documents returns the list of a document array field, creating it when missing.
func (w *Wizard) documents(field string) (*docarray.List, error) {
	if w.state.Submitted {
		return nil, ErrAlreadySubmitted
	}
	if !w.schema.Has(field) {
		return nil, errors.Wrapf(form.ErrUnknownField, "%q", field)
	}
	if !w.schema.IsArray(field) {
		return nil, errors.Wrapf(ErrNotArray, "%q", field)
	}
	list, ok := w.state.Record[field].(*docarray.List)
	if !ok || list == nil {
		var err error
		if list, err = toList(w.state.Record[field]); err != nil {
			return nil, errors.Wrapf(err, "%q", field)
		}
		w.state.Record[field] = list
	}
	return list, nil
}

// clearErrors drops the errors of field and of its elements.
func (w *Wizard) clearErrors(field string) {
	prefix := field + "."
	for path := range w.state.Errors {
		if path == field || strings.HasPrefix(path, prefix) {
			delete(w.state.Errors, path)
		}
	}
}

func toList(v interface{}) (*docarray.List, error) {
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
	case []interface{}:
		entries := make([]docarray.Entry, 0, len(val))
		for _, el := range val {
			m, ok := el.(map[string]interface{})
			if !ok {
				return nil, ErrNotArray
			}
			name, _ := m[docarray.FieldName].(string)
			url, _ := m[docarray.FieldURL].(string)
			entries = append(entries, docarray.Entry{Name: name, URL: url})
		}
		return docarray.New(entries...), nil
	}
	return nil, ErrNotArray
}

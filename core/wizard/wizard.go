// Package wizard drives a multi-step form over a form.Schema.
package wizard

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/form"
	"github.com/trezcool/enrol/core/user"
)

var (
	// contract errors
	ErrNoSteps          = errors.New("wizard has no steps")
	ErrNotArray         = errors.New("field is not a document array")
	ErrNotLastStep      = errors.New("submission is only allowed from the last step")
	ErrSubmitInFlight   = errors.New("a submission is already in flight")
	ErrAlreadySubmitted = errors.New("wizard already submitted")

	// ErrInvalidRecord is the cause of the *core.ValidationError returned by Submit.
	ErrInvalidRecord = errors.New("please correct the highlighted fields")
)

type (
	// Step is one page of a wizard; a step without fields (eg review) is always valid.
	Step struct {
		ID          string   `json:"id"`
		Title       string   `json:"title"`
		Description string   `json:"description,omitempty"`
		Fields      []string `json:"fields"`
	}

	// State is a snapshot of a wizard session.
	State struct {
		Step      int               `json:"step"`
		Record    form.Record       `json:"record"`
		Errors    map[string]string `json:"errors"`
		InFlight  bool              `json:"in_flight"`
		Submitted bool              `json:"submitted"`
		CreatedID string            `json:"created_id,omitempty"`
		Notice    string            `json:"notice,omitempty"` // transient submission failure
	}

	// Submitter persists a complete record on behalf of actor and returns the created id.
	Submitter interface {
		Submit(ctx context.Context, actor user.User, record form.Record) (string, error)
	}

	SubmitterFunc func(ctx context.Context, actor user.User, record form.Record) (string, error)

	// SubmissionError wraps a failure of the Submitter.
	SubmissionError struct {
		Err error
	}

	Option func(w *Wizard)

	Wizard struct {
		schema    *form.Schema
		steps     []Step
		submitter Submitter
		actor     user.User
		defaults  func() form.Record
		log       core.Logger

		mu      sync.Mutex
		state   State
		subs    map[int]func(State)
		nextSub int
	}
)

func (f SubmitterFunc) Submit(ctx context.Context, actor user.User, record form.Record) (string, error) {
	return f(ctx, actor, record)
}

func (e *SubmissionError) Error() string { return e.Err.Error() }
func (e *SubmissionError) Cause() error  { return e.Err }
func (e *SubmissionError) Unwrap() error { return e.Err }

func WithLogger(log core.Logger) Option {
	return func(w *Wizard) { w.log = log }
}

// New builds a wizard session for actor. defaults returns a fresh initial record;
// it is called again whenever the record is reset.
// Every field of every step must be declared by schema.
func New(schema *form.Schema, steps []Step, submitter Submitter, actor user.User, defaults func() form.Record, opts ...Option) (*Wizard, error) {
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}
	for _, st := range steps {
		if err := schema.Check(st.Fields); err != nil {
			return nil, errors.Wrapf(err, "step %q", st.ID)
		}
	}
	if defaults == nil {
		defaults = func() form.Record { return form.Record{} }
	}

	w := &Wizard{
		schema:    schema,
		steps:     append([]Step(nil), steps...),
		submitter: submitter,
		actor:     actor,
		defaults:  defaults,
		subs:      make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.state = State{Record: w.initialRecord(), Errors: map[string]string{}}
	return w, nil
}

func (w *Wizard) initialRecord() form.Record {
	rec := w.defaults()
	if rec == nil {
		rec = form.Record{}
	}
	return rec
}

func (w *Wizard) Steps() []Step        { return append([]Step(nil), w.steps...) }
func (w *Wizard) Schema() *form.Schema { return w.schema }
func (w *Wizard) Actor() user.User     { return w.actor }

// State returns a deep copy of the current state.
func (w *Wizard) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshot()
}

func (w *Wizard) snapshot() State {
	s := w.state
	s.Record = w.state.Record.Clone()
	s.Errors = make(map[string]string, len(w.state.Errors))
	for k, v := range w.state.Errors {
		s.Errors[k] = v
	}
	return s
}

// Subscribe registers fn to be called with a snapshot after every state change.
func (w *Wizard) Subscribe(fn func(State)) (unsubscribe func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	return func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
}

func (w *Wizard) notify(s State) {
	w.mu.Lock()
	subs := make([]func(State), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

// Dispatch applies an action. The returned error is only set on contract errors
// (unknown field, bad index, submitted wizard...); validation failures are reported in State.Errors.
func (w *Wizard) Dispatch(a Action) error {
	_, err := w.dispatch(a)
	return err
}

func (w *Wizard) dispatch(a Action) (bool, error) {
	w.mu.Lock()
	changed, err := a.apply(w)
	var snap State
	if changed {
		snap = w.snapshot()
	}
	w.mu.Unlock()

	if changed {
		w.notify(snap)
	}
	return changed, err
}

func (w *Wizard) lastStep() int { return len(w.steps) - 1 }

// validateStep runs the schema over the fields of step i and replaces the session errors.
// changed reports whether the errors differ from the previous ones. w.mu must be held.
func (w *Wizard) validateStep(i int) (ok, changed bool) {
	if i < 0 || i > w.lastStep() {
		return false, false
	}
	errs := w.schema.ValidateFields(w.steps[i].Fields, w.state.Record)
	if errs == nil {
		errs = map[string]string{}
	}
	changed = !sameErrors(w.state.Errors, errs)
	w.state.Errors = errs
	return len(errs) == 0, changed
}

func sameErrors(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if msg, ok := b[k]; !ok || msg != v {
			return false
		}
	}
	return true
}

func (w *Wizard) allFields() []string {
	fields := make([]string, 0, len(w.schema.Fields()))
	seen := make(map[string]bool)
	for _, st := range w.steps {
		for _, f := range st.Fields {
			if !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}
	return fields
}

// Convenience wrappers

func (w *Wizard) SetField(field string, value interface{}) error {
	return w.Dispatch(SetField{Field: field, Value: value})
}

// Next validates the current step and moves forward; it returns whether the step index changed.
func (w *Wizard) Next() bool {
	w.mu.Lock()
	advanced, changed, _ := w.next()
	snap := w.snapshot()
	w.mu.Unlock()
	if changed {
		w.notify(snap)
	}
	return advanced
}

func (w *Wizard) Previous() bool {
	changed, _ := w.dispatch(Previous{})
	return changed
}

// JumpTo returns whether the jump was allowed.
func (w *Wizard) JumpTo(step int) bool {
	w.mu.Lock()
	allowed, changed := w.jump(step)
	snap := w.snapshot()
	w.mu.Unlock()
	if changed {
		w.notify(snap)
	}
	return allowed
}

// ValidateStep validates step i against the current record, recording its errors.
func (w *Wizard) ValidateStep(i int) bool {
	w.mu.Lock()
	ok, changed := w.validateStep(i)
	snap := w.snapshot()
	w.mu.Unlock()
	if changed {
		w.notify(snap)
	}
	return ok
}

// Submit validates the whole record and hands a copy of it to the Submitter.
// Only one submission may be in flight; a successful submission resets the record.
func (w *Wizard) Submit(ctx context.Context) (string, error) {
	w.mu.Lock()
	switch {
	case w.state.Submitted:
		w.mu.Unlock()
		return "", ErrAlreadySubmitted
	case w.state.InFlight:
		w.mu.Unlock()
		return "", ErrSubmitInFlight
	case w.state.Step != w.lastStep():
		w.mu.Unlock()
		return "", ErrNotLastStep
	}

	if errs := w.schema.ValidateFields(w.allFields(), w.state.Record); len(errs) > 0 {
		w.state.Errors = errs
		snap := w.snapshot()
		w.mu.Unlock()
		w.notify(snap)
		return "", core.NewFieldsError(ErrInvalidRecord, errs)
	}

	w.state.InFlight = true
	w.state.Notice = ""
	w.state.Errors = map[string]string{}
	record := w.state.Record.Clone()
	snap := w.snapshot()
	w.mu.Unlock()
	w.notify(snap)

	id, err := w.submitter.Submit(ctx, w.actor, record)

	w.mu.Lock()
	w.state.InFlight = false
	if err != nil {
		w.state.Notice = err.Error()
		var verr *core.ValidationError
		if errors.As(err, &verr) && len(verr.Fields) > 0 {
			w.state.Errors = verr.FieldMap()
		}
	} else {
		w.state.Submitted = true
		w.state.CreatedID = id
		w.state.Record = w.initialRecord()
	}
	snap = w.snapshot()
	w.mu.Unlock()
	w.notify(snap)

	if err != nil {
		if w.log != nil {
			w.log.Error("wizard submission failed", err, w.actor)
		}
		var subErr *SubmissionError
		if errors.As(err, &subErr) {
			return "", subErr
		}
		return "", &SubmissionError{Err: err}
	}
	if w.log != nil {
		w.log.Info("wizard submitted", map[string]interface{}{"id": id}, w.actor)
	}
	return id, nil
}

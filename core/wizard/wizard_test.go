package wizard

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/docarray"
	"github.com/trezcool/enrol/core/form"
	"github.com/trezcool/enrol/core/user"
)

var testActor = user.User{ID: "u1", Name: "Admin", SchoolID: "s1", Roles: []string{user.RoleAdmin}}

func signupSchema(t *testing.T) *form.Schema {
	t.Helper()
	tr := core.NewTranslator()
	v := core.NewValidate(tr)
	doc := form.MustNewSchema(v, tr, []form.Rule{
		{Name: docarray.FieldName, Required: true, Enum: []string{"PHOTOS", "PAN_CARD"}},
		{Name: docarray.FieldURL, Required: true},
	})
	return form.MustNewSchema(v, tr, []form.Rule{
		{Name: "email", Required: true, Tag: "email"},
		{Name: "otp", Required: true, Tag: "len=6," + core.DigitsTag},
		{Name: "docs", Required: true, Tag: "min=1", Item: doc},
	})
}

var signupSteps = []Step{
	{ID: "email", Fields: []string{"email"}},
	{ID: "otp", Fields: []string{"otp"}},
	{ID: "review"},
}

// recordingSubmitter counts calls and returns the configured id or error.
type recordingSubmitter struct {
	mu      sync.Mutex
	calls   int
	records []form.Record
	id      string
	err     error
}

func (s *recordingSubmitter) Submit(_ context.Context, _ user.User, rec form.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.records = append(s.records, rec)
	return s.id, s.err
}

func newWizard(t *testing.T, steps []Step, sub Submitter, defaults func() form.Record) *Wizard {
	t.Helper()
	if sub == nil {
		sub = &recordingSubmitter{id: "doc1"}
	}
	w, err := New(signupSchema(t), steps, sub, testActor, defaults)
	require.NoError(t, err)
	return w
}

func TestNew(t *testing.T) {
	schema := signupSchema(t)

	_, err := New(schema, nil, &recordingSubmitter{}, testActor, nil)
	assert.Equal(t, ErrNoSteps, err)

	_, err = New(schema, []Step{{ID: "a", Fields: []string{"email", "phone"}}}, &recordingSubmitter{}, testActor, nil)
	assert.Equal(t, form.ErrUnknownField, errors.Cause(err))

	w, err := New(schema, signupSteps, &recordingSubmitter{}, testActor, nil)
	require.NoError(t, err)
	st := w.State()
	assert.Equal(t, 0, st.Step)
	assert.Empty(t, st.Errors)
	assert.NotNil(t, st.Record)
}

// scenario: next() on an empty email stays with an error, then advances once the email is set.
func TestWizard_NextGatesOnCurrentStep(t *testing.T) {
	w := newWizard(t, signupSteps, nil, func() form.Record { return form.Record{"email": ""} })

	assert.False(t, w.Next())
	st := w.State()
	assert.Equal(t, 0, st.Step)
	assert.Contains(t, st.Errors, "email")

	require.NoError(t, w.SetField("email", "a@b.com"))
	assert.True(t, w.Next())
	st = w.State()
	assert.Equal(t, 1, st.Step)
	assert.Empty(t, st.Errors)
}

func TestWizard_NextIsIdempotentWhileInvalid(t *testing.T) {
	w := newWizard(t, signupSteps, nil, nil)
	require.NoError(t, w.SetField("email", "nope"))

	w.Next()
	first := w.State()
	for i := 0; i < 3; i++ {
		assert.False(t, w.Next())
		assert.Equal(t, first, w.State())
	}
}

func TestWizard_NextOnlyValidatesCurrentStep(t *testing.T) {
	w := newWizard(t, signupSteps, nil, nil)
	require.NoError(t, w.SetField("email", "a@b.com"))
	// invalid future-step value does not block step 0
	require.NoError(t, w.SetField("otp", "12"))

	assert.True(t, w.Next())
	assert.Empty(t, w.State().Errors)
	assert.False(t, w.Next())
	assert.Contains(t, w.State().Errors, "otp")
}

func TestWizard_PreviousRoundTrip(t *testing.T) {
	w := newWizard(t, signupSteps, nil, nil)
	assert.False(t, w.Previous())

	require.NoError(t, w.SetField("email", "a@b.com"))
	before := w.State()
	require.True(t, w.Next())
	// previous never validates
	require.NoError(t, w.SetField("otp", "x"))
	require.NoError(t, w.SetField("otp", nil))
	assert.True(t, w.Previous())

	after := w.State()
	assert.Equal(t, before.Step, after.Step)
	assert.Equal(t, before.Record.String("email"), after.Record.String("email"))
	assert.Nil(t, after.Record["otp"])
}

func TestWizard_JumpTo(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		from     int
		target   int
		want     bool
		wantStep int
	}{
		{name: "skip ahead rejected", email: "a@b.com", from: 0, target: 2, want: false, wantStep: 0},
		{name: "negative rejected", email: "a@b.com", from: 0, target: -1, want: false, wantStep: 0},
		{name: "out of range rejected", email: "a@b.com", from: 1, target: 3, want: false, wantStep: 1},
		{name: "current step", email: "a@b.com", from: 1, target: 1, want: true, wantStep: 1},
		{name: "visited step", email: "a@b.com", from: 1, target: 0, want: true, wantStep: 0},
		{name: "next step when valid", email: "a@b.com", from: 0, target: 1, want: true, wantStep: 1},
		{name: "next step when invalid", email: "", from: 0, target: 1, want: false, wantStep: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWizard(t, signupSteps, nil, nil)
			require.NoError(t, w.SetField("email", "a@b.com"))
			for w.State().Step < tt.from {
				require.True(t, w.Next())
			}
			require.NoError(t, w.SetField("email", tt.email))

			if got := w.JumpTo(tt.target); got != tt.want {
				t.Errorf("JumpTo() = %v, want %v", got, tt.want)
			}
			assert.Equal(t, tt.wantStep, w.State().Step)
		})
	}
}

// scenario: jumpTo(2) from step 0 leaves the state untouched.
func TestWizard_JumpToRejectedHasNoStateChange(t *testing.T) {
	w := newWizard(t, signupSteps, nil, nil)
	require.NoError(t, w.SetField("email", "a@b.com"))
	before := w.State()

	var notified int
	unsubscribe := w.Subscribe(func(State) { notified++ })
	defer unsubscribe()

	assert.False(t, w.JumpTo(2))
	assert.Equal(t, before, w.State())
	assert.Zero(t, notified)
}

func TestWizard_ValidateStep(t *testing.T) {
	w := newWizard(t, signupSteps, nil, nil)

	assert.False(t, w.ValidateStep(0))
	assert.False(t, w.ValidateStep(1))
	assert.True(t, w.ValidateStep(2), "empty step is always valid")
	assert.False(t, w.ValidateStep(7))

	require.NoError(t, w.SetField("email", "a@b.com"))
	assert.True(t, w.ValidateStep(0))
	require.NoError(t, w.SetField("otp", "123456"))
	assert.True(t, w.ValidateStep(1))
	require.NoError(t, w.SetField("otp", "12345a"))
	assert.False(t, w.ValidateStep(1))
	assert.Equal(t, []string{"otp"}, keys(w.State().Errors))
}

func TestWizard_SetFieldErrors(t *testing.T) {
	w := newWizard(t, signupSteps, nil, nil)
	assert.Equal(t, form.ErrUnknownField, errors.Cause(w.SetField("phone", "1")))
	assert.Equal(t, ErrNotArray, errors.Cause(w.SetField("docs", 12)))

	// editing a field clears its error
	w.Next()
	require.Contains(t, w.State().Errors, "email")
	require.NoError(t, w.SetField("email", "x"))
	assert.NotContains(t, w.State().Errors, "email")
}

func TestWizard_Documents(t *testing.T) {
	docSteps := []Step{{ID: "documents", Fields: []string{"docs"}}, {ID: "review"}}
	w := newWizard(t, docSteps, nil, func() form.Record { return form.Record{"docs": docarray.New()} })

	// scenario: the last entry can not be removed
	require.NoError(t, w.Dispatch(RemoveDocument{Field: "docs", Index: 0}))
	assert.Equal(t, 1, w.State().Record["docs"].(*docarray.List).Len())

	assert.False(t, w.Next())
	assert.Contains(t, w.State().Errors, "docs.0.name")

	require.NoError(t, w.Dispatch(SetDocumentField{Field: "docs", Index: 0, Key: docarray.FieldName, Value: "PHOTOS"}))
	assert.Empty(t, w.State().Errors)
	assert.False(t, w.Next())
	assert.Contains(t, w.State().Errors, "docs.0.url")

	require.NoError(t, w.Dispatch(SetDocumentField{Field: "docs", Index: 0, Key: docarray.FieldURL, Value: "https://files/p.jpg"}))
	require.NoError(t, w.Dispatch(AppendDocument{Field: "docs"}))
	assert.False(t, w.Next(), "blank appended entry is incomplete")
	assert.Contains(t, w.State().Errors, "docs.1.name")

	require.NoError(t, w.Dispatch(RemoveDocument{Field: "docs", Index: 1}))
	assert.True(t, w.Next())

	docs := w.State().Record["docs"].(*docarray.List).Entries()
	assert.Equal(t, []docarray.Entry{{Name: "PHOTOS", URL: "https://files/p.jpg"}}, docs)

	assert.Equal(t, ErrNotArray, errors.Cause(w.Dispatch(AppendDocument{Field: "email"})))
	assert.Equal(t, docarray.ErrIndexOutOfRange, errors.Cause(w.Dispatch(SetDocumentField{Field: "docs", Index: 3, Key: docarray.FieldURL})))
}

func TestWizard_StateIsACopy(t *testing.T) {
	w := newWizard(t, signupSteps, nil, func() form.Record { return form.Record{"docs": docarray.New()} })
	st := w.State()
	st.Record["email"] = "x@y.z"
	st.Record["docs"].(*docarray.List).Append(docarray.Entry{})
	st.Errors["email"] = "lol"

	fresh := w.State()
	assert.Nil(t, fresh.Record["email"])
	assert.Equal(t, 1, fresh.Record["docs"].(*docarray.List).Len())
	assert.Empty(t, fresh.Errors)
}

func TestWizard_Subscribe(t *testing.T) {
	w := newWizard(t, signupSteps, nil, nil)

	var got []State
	unsubscribe := w.Subscribe(func(s State) { got = append(got, s) })
	require.NoError(t, w.SetField("email", "a@b.com"))
	w.Next()
	unsubscribe()
	w.Previous()

	require.Len(t, got, 2)
	assert.Equal(t, "a@b.com", got[0].Record.String("email"))
	assert.Equal(t, 1, got[1].Step)
}

func TestWizard_SubscribeOnlyOnChange(t *testing.T) {
	w := newWizard(t, signupSteps, nil, nil)
	require.NoError(t, w.SetField("email", "nope"))

	var notified int
	unsubscribe := w.Subscribe(func(State) { notified++ })
	defer unsubscribe()

	assert.False(t, w.Next())
	assert.Equal(t, 1, notified, "errors surfaced")
	assert.False(t, w.Next())
	assert.False(t, w.ValidateStep(0))
	require.NoError(t, w.Dispatch(Next{}))
	assert.Equal(t, 1, notified, "same errors again")

	assert.True(t, w.ValidateStep(2))
	assert.Equal(t, 2, notified, "errors cleared")
	assert.True(t, w.ValidateStep(2))
	assert.Equal(t, 2, notified)

	require.NoError(t, w.SetField("email", "a@b.com"))
	assert.True(t, w.Next())
	assert.Equal(t, 4, notified)
}

func completeSignup(t *testing.T, w *Wizard) {
	t.Helper()
	require.NoError(t, w.SetField("email", "a@b.com"))
	require.NoError(t, w.SetField("otp", "123456"))
	require.True(t, w.Next())
	require.True(t, w.Next())
}

func TestWizard_Submit(t *testing.T) {
	sub := &recordingSubmitter{id: "doc1"}
	w := newWizard(t, signupSteps, sub, nil)

	_, err := w.Submit(context.Background())
	assert.Equal(t, ErrNotLastStep, err)

	completeSignup(t, w)
	id, err := w.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "doc1", id)
	assert.Equal(t, 1, sub.calls)
	assert.Equal(t, "a@b.com", sub.records[0].String("email"))

	st := w.State()
	assert.True(t, st.Submitted)
	assert.False(t, st.InFlight)
	assert.Equal(t, "doc1", st.CreatedID)
	assert.Empty(t, st.Record, "record reset after success")

	_, err = w.Submit(context.Background())
	assert.Equal(t, ErrAlreadySubmitted, err)
	assert.Equal(t, ErrAlreadySubmitted, w.SetField("email", "b@c.d"))
	assert.Equal(t, 1, sub.calls)

	require.NoError(t, w.Dispatch(Reset{}))
	st = w.State()
	assert.False(t, st.Submitted)
	assert.Equal(t, 0, st.Step)
}

func TestWizard_SubmitValidatesWholeRecord(t *testing.T) {
	sub := &recordingSubmitter{id: "doc1"}
	w := newWizard(t, signupSteps, sub, nil)
	completeSignup(t, w)
	require.NoError(t, w.SetField("email", "broken"))

	_, err := w.Submit(context.Background())
	verr, ok := err.(*core.ValidationError)
	require.True(t, ok, "got %T", err)
	assert.Equal(t, ErrInvalidRecord, verr.Err)
	assert.Contains(t, verr.FieldMap(), "email")
	assert.Contains(t, w.State().Errors, "email")
	assert.Equal(t, 2, w.State().Step)
	assert.Zero(t, sub.calls)
}

func TestWizard_SubmitFailureKeepsRecord(t *testing.T) {
	sub := &recordingSubmitter{err: errors.New("backend unavailable")}
	w := newWizard(t, signupSteps, sub, nil)
	completeSignup(t, w)

	_, err := w.Submit(context.Background())
	var subErr *SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, "backend unavailable", subErr.Error())

	st := w.State()
	assert.Equal(t, "backend unavailable", st.Notice)
	assert.Equal(t, 2, st.Step)
	assert.Equal(t, "a@b.com", st.Record.String("email"))
	assert.False(t, st.InFlight)
	assert.False(t, st.Submitted)

	require.NoError(t, w.Dispatch(DismissNotice{}))
	assert.Empty(t, w.State().Notice)

	// retry without re-entering data
	sub.err = nil
	sub.id = "doc2"
	id, err := w.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "doc2", id)
	assert.Equal(t, 2, sub.calls)
}

func TestWizard_SubmitRejectedField(t *testing.T) {
	taken := errors.New("email already registered")
	sub := &recordingSubmitter{err: core.NewValidationError(taken, core.FieldError{Field: "email", Error: taken.Error()})}
	w := newWizard(t, signupSteps, sub, nil)
	completeSignup(t, w)

	_, err := w.Submit(context.Background())
	var subErr *SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.True(t, errors.Is(err, taken))

	st := w.State()
	assert.Equal(t, map[string]string{"email": taken.Error()}, st.Errors)
	assert.Equal(t, taken.Error(), st.Notice)
	assert.Equal(t, "a@b.com", st.Record.String("email"))
}

// blockingSubmitter holds the submission until release is closed.
type blockingSubmitter struct {
	started chan struct{}
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func (s *blockingSubmitter) Submit(ctx context.Context, _ user.User, _ form.Record) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	close(s.started)
	<-s.release
	return "doc1", nil
}

// scenario: a second submit while the first is in flight is rejected.
func TestWizard_SubmitInFlight(t *testing.T) {
	sub := &blockingSubmitter{started: make(chan struct{}), release: make(chan struct{})}
	w := newWizard(t, signupSteps, sub, nil)
	completeSignup(t, w)

	done := make(chan error, 1)
	go func() {
		_, err := w.Submit(context.Background())
		done <- err
	}()
	<-sub.started

	assert.True(t, w.State().InFlight)
	_, err := w.Submit(context.Background())
	assert.Equal(t, ErrSubmitInFlight, err)
	assert.Equal(t, ErrSubmitInFlight, w.Dispatch(Reset{}))

	close(sub.release)
	require.NoError(t, <-done)
	assert.False(t, w.State().InFlight)
	assert.Equal(t, 1, sub.calls)
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

package onboarding

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/otp"
	"github.com/trezcool/enrol/core/submission"
	"github.com/trezcool/enrol/core/user"
	"github.com/trezcool/enrol/core/wizard"
	"github.com/trezcool/enrol/storage/database/dummy"
)

const strongPassword = "Str0ng!Pass#2024"

type env struct {
	flow  *Flow
	store submission.StoreReader
	codes *otp.MemoryStore
}

func setup(t *testing.T) env {
	t.Helper()
	db, err := dummydb.Open()
	require.NoError(t, err)
	store := dummydb.NewDocumentStore(db)

	codes := otp.NewMemoryStore()
	svc, err := otp.NewService(codes, nil, core.OTPConfig{Length: 6, TTL: time.Minute})
	require.NoError(t, err)

	tr := core.NewTranslator()
	flow, err := NewFlow(core.NewValidate(tr), tr, store, svc, nil)
	require.NoError(t, err)
	return env{flow: flow, store: store, codes: codes}
}

func (e env) pendingCode(t *testing.T, email string) string {
	t.Helper()
	code, err := e.codes.Get(context.Background(), email)
	require.NoError(t, err)
	return code.Code
}

func fillProfileAndSchool(t *testing.T, w *wizard.Wizard) {
	t.Helper()
	for k, v := range map[string]interface{}{
		FieldFirstName: "Asha", FieldLastName: "Verma",
		FieldPassword: strongPassword, FieldConfirmPassword: strongPassword,
	} {
		require.NoError(t, w.SetField(k, v))
	}
	require.True(t, w.Next())
	for k, v := range map[string]interface{}{
		FieldSchoolName: "Green Valley", FieldPincode: "560001", FieldState: "Karnataka", FieldCity: "Bengaluru",
	} {
		require.NoError(t, w.SetField(k, v))
	}
	require.True(t, w.Next())
}

func TestSchema_StepsMatchSchema(t *testing.T) {
	tr := core.NewTranslator()
	schema := Schema(core.NewValidate(tr), tr)
	for _, st := range append(Steps, OperatorSteps...) {
		assert.NoError(t, schema.Check(st.Fields), st.ID)
	}
}

func TestSchema_PasswordRefinements(t *testing.T) {
	tr := core.NewTranslator()
	schema := Schema(core.NewValidate(tr), tr)
	rec := Defaults().With(FieldFirstName, "Asha").With(FieldEmail, "asha@example.com")

	tests := []struct {
		name    string
		pwd     string
		confirm string
		field   string
		want    string
	}{
		{"too short", "Ab1!", "Ab1!", FieldPassword, "password must contain at least 8 characters"},
		{"no complexity", "password", "password", FieldPassword, "password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character"},
		{"similar to email", "Asha@example.c0m", "Asha@example.c0m", FieldPassword, "password cannot be similar to user attributes"},
		{"mismatch", strongPassword, strongPassword + "x", FieldConfirmPassword, "Passwords do not match"},
		{"ok", strongPassword, strongPassword, FieldPassword, ""},
		{"ok confirmation", strongPassword, strongPassword, FieldConfirmPassword, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rec.With(FieldPassword, tt.pwd).With(FieldConfirmPassword, tt.confirm)
			res := schema.Validate(tt.field, r[tt.field], r)
			if tt.want == "" {
				assert.True(t, res.OK, res.Message)
				return
			}
			assert.Equal(t, tt.want, res.Message)
		})
	}
}

func TestFlow_Signup(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	f := e.flow

	// email step
	err := f.SendCode(ctx)
	_, isValidationErr := err.(*core.ValidationError)
	assert.True(t, isValidationErr)
	require.NoError(t, f.SetField(FieldEmail, "asha@example.com"))
	require.NoError(t, f.SendCode(ctx))
	ok, err := f.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// otp step
	ok, err = f.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "please enter a valid otp.", f.State().Errors[FieldOTP])

	code := e.pendingCode(t, "asha@example.com")
	wrong := "999999"
	if code == wrong {
		wrong = "888888"
	}
	require.NoError(t, f.SetField(FieldOTP, wrong))
	ok, err = f.Next(ctx)
	assert.False(t, ok)
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, map[string]string{FieldOTP: otp.ErrInvalidCode.Error()}, verr.FieldMap())

	require.NoError(t, f.SetField(FieldOTP, code))
	ok, err = f.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	fillProfileAndSchool(t, f.Wizard)
	userID, err := f.Submit(ctx)
	require.NoError(t, err)

	userDoc, err := e.store.Get(ctx, UsersCollection, userID)
	require.NoError(t, err)
	assert.NotContains(t, userDoc.Fields, FieldPassword)
	usr := UserFromDocument(userDoc)
	assert.Equal(t, "Asha Verma", usr.Name)
	assert.Equal(t, []string{user.RoleAdmin}, usr.Roles)
	assert.NoError(t, bcrypt.CompareHashAndPassword(usr.PasswordHash, []byte(strongPassword)))

	schoolDoc, err := e.store.Get(ctx, SchoolsCollection, usr.SchoolID)
	require.NoError(t, err)
	assert.Equal(t, userID, schoolDoc.String("user"))
	assert.Equal(t, "Green Valley", schoolDoc.String(FieldSchoolName))
	assert.Equal(t, SchoolStatusPending, schoolDoc.String("status"))
}

func TestFlow_EmailChangedAfterVerification(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	f := e.flow

	require.NoError(t, f.SetField(FieldEmail, "asha@example.com"))
	require.NoError(t, f.SendCode(ctx))
	_, _ = f.Next(ctx)
	require.NoError(t, f.SetField(FieldOTP, e.pendingCode(t, "asha@example.com")))
	ok, err := f.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	fillProfileAndSchool(t, f.Wizard)

	require.True(t, f.JumpTo(0))
	require.NoError(t, f.SetField(FieldEmail, "mallory@example.com"))
	assert.False(t, f.JumpTo(4))
	require.True(t, f.JumpTo(1))
	// the code already used is still in the record, so the step validates without a new one
	require.NoError(t, f.Dispatch(wizard.JumpTo{Step: 2}))
	require.Equal(t, 2, f.State().Step)
	require.True(t, f.JumpTo(3))
	require.True(t, f.JumpTo(4))

	_, err = f.Submit(ctx)
	var subErr *wizard.SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.True(t, errors.Is(subErr.Err, ErrEmailNotVerified))
	assert.Equal(t, ErrEmailNotVerified.Error(), f.State().Notice)

	users, err := e.store.List(ctx, UsersCollection)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestOperatorWizard(t *testing.T) {
	db, err := dummydb.Open()
	require.NoError(t, err)
	store := dummydb.NewDocumentStore(db)
	ctx := context.Background()

	_, err = store.Create(ctx, UsersCollection, submission.Payload{"email": "taken@example.com"})
	require.NoError(t, err)

	tr := core.NewTranslator()
	operator := user.User{ID: "op", Name: "Operator", Roles: []string{user.RoleAdmin}}
	w, err := NewOperatorWizard(core.NewValidate(tr), tr, store, operator, nil)
	require.NoError(t, err)

	require.NoError(t, w.SetField(FieldEmail, "Taken@Example.com"))
	fillProfileAndSchool(t, w)
	_, err = w.Submit(ctx)
	var subErr *wizard.SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.True(t, errors.Is(subErr.Err, ErrEmailTaken))

	require.True(t, w.JumpTo(0))
	require.NoError(t, w.SetField(FieldEmail, "new@example.com"))
	require.True(t, w.JumpTo(1))
	require.True(t, w.JumpTo(2))
	id, err := w.Submit(ctx)
	require.NoError(t, err)

	doc, err := store.Get(ctx, UsersCollection, id)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", doc.String("email"))
	assert.NotEmpty(t, doc.String("school_id"))
}

func TestRedact(t *testing.T) {
	rec := Defaults().With(FieldEmail, "a@b.co").With(FieldPassword, "x").With(FieldOTP, "123456")
	assert.Equal(t, Defaults().With(FieldEmail, "a@b.co"), Redact(rec))
	assert.Equal(t, "x", rec.String(FieldPassword))
}

// flakyStore fails the first calls made on a collection.
type flakyStore struct {
	submission.StoreReader
	failCreate map[string]int
	failUpdate map[string]int
}

var errBackend = errors.New("backend unavailable")

func (s *flakyStore) Create(ctx context.Context, collection string, payload submission.Payload) (submission.Document, error) {
	if s.failCreate[collection] > 0 {
		s.failCreate[collection]--
		return submission.Document{}, errBackend
	}
	return s.StoreReader.Create(ctx, collection, payload)
}

func (s *flakyStore) Update(ctx context.Context, collection, id string, payload submission.Payload) (submission.Document, error) {
	if s.failUpdate[collection] > 0 {
		s.failUpdate[collection]--
		return submission.Document{}, errBackend
	}
	return s.StoreReader.Update(ctx, collection, id, payload)
}

func TestSubmitter_RetryAfterPartialFailure(t *testing.T) {
	tests := []struct {
		name       string
		failCreate map[string]int
		failUpdate map[string]int
		wantErr    string
	}{
		{"school not created", map[string]int{SchoolsCollection: 1}, nil, "creating school: backend unavailable"},
		{"user not linked", nil, map[string]int{UsersCollection: 1}, "linking user to school: backend unavailable"},
		{"user not created", map[string]int{UsersCollection: 1}, nil, "creating user: backend unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := dummydb.Open()
			require.NoError(t, err)
			store := &flakyStore{StoreReader: dummydb.NewDocumentStore(db), failCreate: tt.failCreate, failUpdate: tt.failUpdate}
			ctx := context.Background()

			tr := core.NewTranslator()
			operator := user.User{ID: "op", Name: "Operator", Roles: []string{user.RoleAdmin}}
			w, err := NewOperatorWizard(core.NewValidate(tr), tr, store, operator, nil)
			require.NoError(t, err)
			require.NoError(t, w.SetField(FieldEmail, "asha@example.com"))
			fillProfileAndSchool(t, w)

			_, err = w.Submit(ctx)
			var subErr *wizard.SubmissionError
			require.True(t, errors.As(err, &subErr))
			assert.Equal(t, tt.wantErr, err.Error())
			assert.True(t, errors.Is(err, errBackend))

			id, err := w.Submit(ctx)
			require.NoError(t, err)

			users, err := store.List(ctx, UsersCollection)
			require.NoError(t, err)
			require.Len(t, users, 1)
			assert.Equal(t, id, users[0].ID)
			schools, err := store.List(ctx, SchoolsCollection)
			require.NoError(t, err)
			require.Len(t, schools, 1)
			assert.Equal(t, schools[0].ID, users[0].String("school_id"))
			assert.Equal(t, id, schools[0].String("user"))

			usr := UserFromDocument(users[0])
			assert.NoError(t, usr.CheckPassword(strongPassword))
			assert.Equal(t, []string{user.RoleAdmin}, usr.Roles)
		})
	}
}

func TestFlow_SendCodeEmailTaken(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.store.Create(ctx, UsersCollection, submission.Payload{
		"email": "asha@example.com", "roles": []string{user.RoleAdmin}, "school_id": "school-1",
	})
	require.NoError(t, err)
	// an administrator whose onboarding never completed may start over
	_, err = e.store.Create(ctx, UsersCollection, submission.Payload{
		"email": "ravi@example.com", "roles": []string{user.RoleAdmin},
	})
	require.NoError(t, err)

	require.NoError(t, e.flow.SetField(FieldEmail, "ASHA@example.com"))
	err = e.flow.SendCode(ctx)
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, map[string]string{FieldEmail: ErrEmailTaken.Error()}, verr.FieldMap())
	_, err = e.codes.Get(ctx, "asha@example.com")
	assert.Error(t, err)

	require.NoError(t, e.flow.SetField(FieldEmail, "ravi@example.com"))
	require.NoError(t, e.flow.SendCode(ctx))
	assert.NotEmpty(t, e.pendingCode(t, "ravi@example.com"))
}

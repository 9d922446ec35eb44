package admission

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/docarray"
	"github.com/trezcool/enrol/core/form"
	"github.com/trezcool/enrol/core/submission"
	"github.com/trezcool/enrol/core/user"
	"github.com/trezcool/enrol/core/wizard"
	"github.com/trezcool/enrol/storage/database/dummy"
)

var actor = user.User{ID: "u1", Name: "Admin", SchoolID: "school-1", Roles: []string{user.RoleAdmin}}

func setup(t *testing.T) (*wizard.Wizard, submission.StoreReader) {
	t.Helper()
	db, err := dummydb.Open()
	require.NoError(t, err)
	store := dummydb.NewDocumentStore(db)

	tr := core.NewTranslator()
	w, err := NewWizard(core.NewValidate(tr), tr, store, actor, nil)
	require.NoError(t, err)
	return w, store
}

func fill(t *testing.T, w *wizard.Wizard, fields map[string]interface{}) {
	t.Helper()
	for k, v := range fields {
		require.NoError(t, w.SetField(k, v))
	}
}

var (
	studentFields = map[string]interface{}{
		"fname": "Asha", "lname": "Verma", "dob": "2015-06-01", "gender": "FEMALE",
		"cast": "General", "religion": "Bahá'í", "bloodgroup": "AB+", "preferred_class": "5",
	}
	guardianFields = map[string]interface{}{
		"guardian_first_name": "Ravi", "guardian_last_name": "Verma",
		"guardian_phone": "+91 98765 43210", "guardian_email": "ravi@example.com",
	}
	addressFields = map[string]interface{}{
		"address_line1": "12 MG Road", "pincode": "560001", "state": "Karnataka", "city": "Bengaluru",
	}
)

func TestSchema_StepsMatchSchema(t *testing.T) {
	tr := core.NewTranslator()
	schema := Schema(core.NewValidate(tr), tr)
	for _, st := range Steps {
		assert.NoError(t, schema.Check(st.Fields), st.ID)
	}
	assert.Empty(t, Steps[len(Steps)-1].Fields)
}

func TestWizard_StudentStep(t *testing.T) {
	w, _ := setup(t)

	assert.False(t, w.Next())
	errs := w.State().Errors
	assert.Equal(t, core.RequiredText, errs["fname"])
	assert.Contains(t, errs, "bloodgroup")
	assert.NotContains(t, errs, "guardian_email", "only the current step is validated")

	fill(t, w, studentFields)
	require.NoError(t, w.SetField("bloodgroup", "Z+"))
	assert.False(t, w.Next())
	assert.Equal(t, []string{"bloodgroup"}, keys(w.State().Errors))

	require.NoError(t, w.SetField("bloodgroup", "O-"))
	assert.True(t, w.Next())
}

func TestWizard_FullApplication(t *testing.T) {
	w, store := setup(t)
	ctx := context.Background()

	fill(t, w, studentFields)
	require.True(t, w.Next())
	fill(t, w, guardianFields)
	require.True(t, w.Next())
	fill(t, w, addressFields)
	require.NoError(t, w.SetField("pincode", "060001"))
	require.False(t, w.Next())
	assert.Equal(t, "invalid pincode", w.State().Errors["pincode"])
	require.NoError(t, w.SetField("pincode", "560001"))
	require.True(t, w.Next())

	// documents
	assert.False(t, w.Next())
	assert.Equal(t, "select a document type", w.State().Errors["guardian_document.0.name"])
	require.NoError(t, w.Dispatch(wizard.SetDocumentField{Field: FieldGuardianDocument, Index: 0, Key: docarray.FieldName, Value: "PAN_CARD"}))
	require.NoError(t, w.Dispatch(wizard.SetDocumentField{Field: FieldGuardianDocument, Index: 0, Key: docarray.FieldURL, Value: "https://files/pan.pdf"}))
	require.NoError(t, w.Dispatch(wizard.SetDocumentField{Field: FieldStudentDocument, Index: 0, Key: docarray.FieldName, Value: "PAN_CARD"}))
	assert.False(t, w.Next())
	assert.Equal(t, "invalid document type", w.State().Errors["student_document.0.name"])
	require.NoError(t, w.Dispatch(wizard.SetDocumentField{Field: FieldStudentDocument, Index: 0, Key: docarray.FieldName, Value: "BIRTH_CERTIFICATE"}))
	require.NoError(t, w.Dispatch(wizard.SetDocumentField{Field: FieldStudentDocument, Index: 0, Key: docarray.FieldURL, Value: "https://files/bc.pdf"}))
	require.NoError(t, w.Dispatch(wizard.AppendDocument{Field: FieldStudentDocument, Entry: docarray.Entry{Name: "PHOTOS", URL: "https://files/p.jpg"}}))
	require.True(t, w.Next())

	id, err := w.Submit(ctx)
	require.NoError(t, err)

	doc, err := store.Get(ctx, Collection, id)
	require.NoError(t, err)
	assert.Equal(t, "school-1", doc.String(FieldSchool))
	assert.Equal(t, StatusPending, doc.String(FieldStatus))
	assert.Equal(t, "Asha", doc.String("fname"))
	assert.Equal(t, []string{
		`{"name":"BIRTH_CERTIFICATE","url":"https://files/bc.pdf"}`,
		`{"name":"PHOTOS","url":"https://files/p.jpg"}`,
	}, doc.Fields[FieldStudentDocument])

	entries, err := submission.DecodeEntries(doc.Fields[FieldGuardianDocument].([]string))
	require.NoError(t, err)
	assert.Equal(t, []docarray.Entry{{Name: "PAN_CARD", URL: "https://files/pan.pdf"}}, entries)

	// fresh record after submission
	st := w.State()
	assert.True(t, st.Submitted)
	assert.Equal(t, 1, st.Record[FieldStudentDocument].(*docarray.List).Len())
	assert.Nil(t, st.Record["fname"])
}

func storedApplication() submission.Payload {
	p := submission.Payload{
		FieldStatus: StatusPending, FieldSchool: "school-1",
		FieldStudentDocument:  []string{`{"name":"BIRTH_CERTIFICATE","url":"https://files/bc.pdf"}`},
		FieldGuardianDocument: []string{`{"name":"PAN_CARD","url":"https://files/pan.pdf"}`},
	}
	for _, fields := range []map[string]interface{}{studentFields, guardianFields, addressFields} {
		for k, v := range fields {
			p[k] = v
		}
	}
	return p
}

func TestReview(t *testing.T) {
	_, store := setup(t)
	ctx := context.Background()
	tr := core.NewTranslator()
	schema := Schema(core.NewValidate(tr), tr)
	adapter := NewAdapter(store, nil)

	doc, err := store.Create(ctx, Collection, storedApplication())
	require.NoError(t, err)

	// the reviewer edits the application as shown, documents decoded to objects
	edited := form.Record(doc.Fields).Clone()
	edited["city"] = "Mysuru"
	edited[FieldSchool] = "school-2"
	edited["reviewed_by"] = "someone"
	edited[FieldStudentDocument] = []interface{}{
		map[string]interface{}{"name": "BIRTH_CERTIFICATE", "url": "https://files/bc-v2.pdf"},
		`{"name":"PHOTOS","url":"https://files/p.jpg"}`,
	}

	var argErr *core.ArgumentError
	_, err = Review(ctx, adapter, schema, actor, "", edited, StatusAccepted)
	assert.True(t, errors.As(err, &argErr))

	_, err = Review(ctx, adapter, schema, actor, doc.ID, edited, StatusPending)
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, map[string]string{FieldStatus: ErrInvalidStatus.Error()}, verr.FieldMap())

	bad := edited.With("pincode", "060001").With(FieldGuardianDocument, []interface{}{map[string]interface{}{"name": "BIRTH_CERTIFICATE", "url": "u"}})
	_, err = Review(ctx, adapter, schema, actor, doc.ID, bad, StatusAccepted)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, map[string]string{
		"pincode":                  "invalid pincode",
		"guardian_document.0.name": "invalid document type",
	}, verr.FieldMap())

	updated, err := Review(ctx, adapter, schema, actor, doc.ID, edited, StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, updated.String(FieldStatus))
	assert.Equal(t, "Mysuru", updated.String("city"))
	assert.Equal(t, "school-1", updated.String(FieldSchool))
	assert.NotContains(t, updated.Fields, "reviewed_by")
	assert.Equal(t, []string{
		`{"name":"BIRTH_CERTIFICATE","url":"https://files/bc-v2.pdf"}`,
		`{"name":"PHOTOS","url":"https://files/p.jpg"}`,
	}, updated.Fields[FieldStudentDocument])
	assert.Equal(t, []string{`{"name":"PAN_CARD","url":"https://files/pan.pdf"}`}, updated.Fields[FieldGuardianDocument])
}

func TestUpdateStatus(t *testing.T) {
	_, store := setup(t)
	ctx := context.Background()
	adapter := NewAdapter(store, nil)

	doc, err := store.Create(ctx, Collection, submission.Payload{"fname": "Asha", FieldStatus: StatusPending, FieldSchool: "school-1"})
	require.NoError(t, err)

	_, err = UpdateStatus(ctx, adapter, actor, "", StatusAccepted)
	var argErr *core.ArgumentError
	assert.True(t, errors.As(err, &argErr))

	_, err = UpdateStatus(ctx, adapter, actor, doc.ID, "MAYBE")
	_, isValidationErr := err.(*core.ValidationError)
	assert.True(t, isValidationErr)

	updated, err := UpdateStatus(ctx, adapter, user.User{ID: "u2", SchoolID: "school-2"}, doc.ID, StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, updated.String(FieldStatus))
	assert.Equal(t, "school-1", updated.String(FieldSchool), "school is only stamped on creation")
}

func TestStatusWidgets(t *testing.T) {
	now := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)
	doc := func(status string, age time.Duration) submission.Document {
		return submission.Document{Fields: map[string]interface{}{FieldStatus: status}, CreatedAt: now.Add(-age)}
	}
	docs := []submission.Document{
		doc(StatusPending, time.Hour),
		doc(StatusPending, 10*24*time.Hour),
		doc(StatusAccepted, 2*24*time.Hour),
		doc(StatusRejected, 30*24*time.Hour),
		doc(StatusSubmitted, 8*24*time.Hour),
		doc(StatusAccepted, 7*24*time.Hour),
	}

	got := StatusWidgets(docs, now)
	want := map[string][2]string{
		"total":    {"6", "100.00%"},
		"new":      {"2", "33.33%"},
		"accepted": {"2", "33.33%"},
		"pending":  {"2", "33.33%"},
		"rejected": {"1", "16.67%"},
	}
	require.Len(t, got, len(want))
	for _, w := range got {
		assert.Equal(t, want[w.Key][0], w.Value, w.Key)
		assert.Equal(t, want[w.Key][1], w.Percentage, w.Key)
	}

	for _, w := range StatusWidgets(nil, now) {
		assert.Equal(t, "0", w.Value)
		assert.Equal(t, "0.00%", w.Percentage)
		assert.False(t, w.IsUp)
	}
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

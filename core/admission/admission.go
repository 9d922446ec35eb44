// Package admission defines the admission application wizard.
package admission

import (
	"context"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/docarray"
	"github.com/trezcool/enrol/core/form"
	"github.com/trezcool/enrol/core/submission"
	"github.com/trezcool/enrol/core/user"
	"github.com/trezcool/enrol/core/wizard"
)

const (
	Collection = "admissions"

	FieldStatus           = "status"
	FieldSchool           = "school"
	FieldStudentDocument  = "student_document"
	FieldGuardianDocument = "guardian_document"
)

// Statuses
const (
	StatusSubmitted = "SUBMITTED"
	StatusPending   = "PENDING"
	StatusAccepted  = "ACCEPTED"
	StatusRejected  = "REJECTED"
)

var (
	Genders   = []string{"MALE", "FEMALE", "OTHER"}
	Statuses  = []string{StatusSubmitted, StatusPending, StatusAccepted, StatusRejected}
	Casts     = []string{"Brahmin", "Kshatriya", "Vaishya", "Shudra", "Scheduled Caste (SC)", "Scheduled Tribe (ST)", "Other Backward Class (OBC)", "General", "Other"}
	Religions = []string{"Hinduism", "Islam", "Christianity", "Sikhism", "Buddhism", "Jainism", "Zoroastrianism", "Judaism", "Bahá'í", "Other"}

	BloodGroups = []string{"A+", "A-", "B+", "B-", "O+", "O-", "AB+", "AB-"}

	StudentDocumentTypes = []string{
		"BIRTH_CERTIFICATE", "AADHAR_CARD", "TRANSFER_CERTIFICATE", "LAST_MARKSHEET", "PHOTOS",
		"DOMICILE_CERTIFICATE", "CASTE_CERTIFICATE", "INCOME_CERTIFICATE", "MEDICAL_CERTIFICATE",
		"VACCINATION_RECORD", "PARENTS_ID_PROOF", "ADDRESS_PROOF", "STUDENT_PASSPORT",
		"MIGRATION_CERTIFICATE", "EXTRACURRICULAR_CERTIFICATES", "SPECIAL_NEEDS_CERTIFICATE",
	}
	GuardianDocumentTypes = []string{
		"AADHAR_CARD", "PAN_CARD", "PASSPORT", "PHOTOS", "DOMICILE_CERTIFICATE", "CASTE_CERTIFICATE", "INCOME_CERTIFICATE",
	}

	ErrInvalidStatus = errors.New("invalid admission status")

	errNoID = core.NewArgumentError("an admission id is required")

	Steps = []wizard.Step{
		{
			ID:          "student",
			Title:       "Student Details",
			Description: "Basic information about the student",
			Fields:      []string{"fname", "lname", "dob", "gender", "cast", "religion", "bloodgroup", "preferred_class"},
		},
		{
			ID:          "guardian",
			Title:       "Guardian Details",
			Description: "Parent or guardian contact information",
			Fields:      []string{"guardian_first_name", "guardian_last_name", "guardian_phone", "guardian_email", "guardian_occupation", "guardian_relation"},
		},
		{
			ID:          "address",
			Title:       "Address",
			Description: "Residential address",
			Fields:      []string{"flat_no", "address_line1", "address_line2", "pincode", "state", "city"},
		},
		{
			ID:          "documents",
			Title:       "Documents",
			Description: "Upload the required documents",
			Fields:      []string{FieldGuardianDocument, FieldStudentDocument},
		},
		{ID: "review", Title: "Review", Description: "Check the application before submitting"},
	}
)

func documentSchema(validate *validator.Validate, translator ut.Translator, types []string) *form.Schema {
	return form.MustNewSchema(validate, translator, []form.Rule{
		{Name: docarray.FieldName, Label: "document type", Required: true, Enum: types,
			Messages: map[string]string{form.MsgRequired: "select a document type", form.MsgEnum: "invalid document type"}},
		{Name: docarray.FieldURL, Label: "file", Required: true,
			Messages: map[string]string{form.MsgRequired: "upload the document"}},
	})
}

// Schema returns the admission record schema.
func Schema(validate *validator.Validate, translator ut.Translator) *form.Schema {
	min2 := "min=2"
	return form.MustNewSchema(validate, translator, []form.Rule{
		// student
		{Name: "fname", Label: "first name", Required: true, Tag: min2},
		{Name: "lname", Label: "last name", Required: true, Tag: min2},
		{Name: "dob", Label: "date of birth", Required: true, Tag: "datetime=2006-01-02"},
		{Name: "gender", Required: true, Enum: Genders},
		{Name: "cast", Required: true, Enum: Casts},
		{Name: "religion", Required: true, Enum: Religions},
		{Name: "bloodgroup", Label: "blood group", Required: true, Enum: BloodGroups},
		{Name: "preferred_class", Label: "preferred class", Required: true},

		// guardian
		{Name: "guardian_first_name", Label: "first name", Required: true, Tag: min2},
		{Name: "guardian_last_name", Label: "last name", Required: true, Tag: min2},
		{Name: "guardian_phone", Label: "phone", Required: true, Tag: "min=10," + core.PhoneCharsTag},
		{Name: "guardian_email", Label: "email", Required: true, Tag: "email"},
		{Name: "guardian_occupation", Label: "occupation"},
		{Name: "guardian_relation", Label: "relation"},

		// address
		{Name: "flat_no", Label: "flat number"},
		{Name: "address_line1", Label: "address", Required: true, Tag: "min=3"},
		{Name: "address_line2", Label: "address"},
		{Name: "pincode", Required: true, Tag: core.PincodeTag},
		{Name: "state", Required: true, Tag: min2},
		{Name: "city", Required: true, Tag: min2},

		// documents
		{Name: FieldGuardianDocument, Label: "guardian documents", Required: true, Tag: "min=1", Item: documentSchema(validate, translator, GuardianDocumentTypes)},
		{Name: FieldStudentDocument, Label: "student documents", Required: true, Tag: "min=1", Item: documentSchema(validate, translator, StudentDocumentTypes)},

		{Name: FieldStatus, Enum: Statuses},
		{Name: FieldSchool},
	})
}

// Defaults returns the initial record of a new application.
func Defaults() form.Record {
	return form.Record{
		FieldStudentDocument:  docarray.New(),
		FieldGuardianDocument: docarray.New(),
		FieldStatus:           StatusPending,
	}
}

// NewAdapter returns the submitter of admission applications.
func NewAdapter(store submission.Store, log core.Logger) *submission.Adapter {
	return submission.NewAdapter(store, Collection,
		submission.WithActorSchool(FieldSchool),
		submission.WithLogger(log),
		submission.WithTransform(func(_ user.User, p submission.Payload) error {
			if s, _ := p[FieldStatus].(string); s == "" {
				p[FieldStatus] = StatusPending
			}
			return nil
		}),
	)
}

// NewWizard starts an admission application on behalf of actor.
func NewWizard(validate *validator.Validate, translator ut.Translator, store submission.Store, actor user.User, log core.Logger) (*wizard.Wizard, error) {
	return wizard.New(Schema(validate, translator), Steps, NewAdapter(store, log), actor, Defaults, wizard.WithLogger(log))
}

func oneOf(value string, values []string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func invalidStatus() error {
	return core.NewValidationError(ErrInvalidStatus, core.FieldError{Field: FieldStatus, Error: ErrInvalidStatus.Error()})
}

// UpdateStatus moves an application to another status.
func UpdateStatus(ctx context.Context, adapter *submission.Adapter, actor user.User, id, status string) (submission.Document, error) {
	if id == "" {
		return submission.Document{}, errNoID
	}
	if !oneOf(status, Statuses) {
		return submission.Document{}, invalidStatus()
	}
	return adapter.Update(ctx, actor, id, form.Record{FieldStatus: status})
}

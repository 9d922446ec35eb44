// Package student enrols a student: their login account and their school profile.
package student

import (
	"context"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/form"
	"github.com/trezcool/enrol/core/onboarding"
	"github.com/trezcool/enrol/core/submission"
	"github.com/trezcool/enrol/core/user"
	"github.com/trezcool/enrol/core/wizard"
)

const (
	Collection = "students"

	FieldName            = "name"
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldConfirmPassword = "confirmpassword"
	FieldSchool          = "school"
	FieldUser            = "user_id"
	FieldStatus          = "status"

	// FieldStudentID links the user document to its profile.
	FieldStudentID = "student_id"
)

// Statuses
const (
	StatusActive      = "ACTIVE"
	StatusInactive    = "INACTIVE"
	StatusGraduated   = "GRADUATED"
	StatusTransferred = "TRANSFERRED"
	StatusDropped     = "DROPPED"
)

var (
	Genders     = []string{"MALE", "FEMALE", "OTHER"}
	BloodGroups = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}
	Statuses    = []string{StatusActive, StatusInactive, StatusGraduated, StatusTransferred, StatusDropped}

	accountFields = []string{FieldName, FieldEmail, FieldPassword, FieldConfirmPassword}

	Steps = []wizard.Step{
		{ID: "account", Title: "Account", Description: "Login of the student", Fields: accountFields},
		{
			ID:     "student",
			Title:  "Student",
			Fields: []string{"admission_number", "roll_number", "dob", "gender", "bloodgroup", "current_class", "admission_date", "aadhar_number"},
		},
		{
			ID:     "family",
			Title:  "Family",
			Fields: []string{"parent_name", "parent_phone", "parent_email", "emergency_contact", "address"},
		},
		{ID: "review", Title: "Review"},
	}

	errNoSchool = core.NewArgumentError("students are enrolled by a member of their school")
)

func tenDigits(label string) map[string]string {
	msg := label + " must be 10 digits"
	return map[string]string{"len": msg, core.DigitsTag: msg}
}

// Schema returns the student record schema.
func Schema(validate *validator.Validate, translator ut.Translator) *form.Schema {
	date := "datetime=2006-01-02"
	dateMsg := map[string]string{"datetime": "Date must be in YYYY-MM-DD format"}
	return form.MustNewSchema(validate, translator,
		[]form.Rule{
			{Name: FieldName, Label: "student name", Required: true, Tag: "min=2"},
			{Name: FieldEmail, Required: true, Tag: "email", Messages: map[string]string{"email": "Please enter a valid email"}},
			{Name: FieldPassword, Required: true},
			{Name: FieldConfirmPassword, Label: "password confirmation", Required: true},

			{Name: "admission_number", Label: "admission number", Required: true,
				Messages: map[string]string{form.MsgRequired: "Admission number is required"}},
			{Name: "roll_number", Label: "roll number"},
			{Name: "dob", Label: "date of birth", Required: true, Tag: date, Messages: dateMsg},
			{Name: "gender", Required: true, Enum: Genders},
			{Name: "bloodgroup", Label: "blood group", Enum: BloodGroups},
			{Name: "current_class", Label: "class", Required: true},
			{Name: "admission_date", Label: "admission date", Required: true, Tag: date, Messages: dateMsg},
			{Name: "aadhar_number", Label: "aadhar", Tag: "len=12," + core.DigitsTag,
				Messages: map[string]string{"len": "Aadhar must be 12 digits", core.DigitsTag: "Aadhar must be 12 digits"}},

			{Name: "parent_name", Label: "parent name", Required: true, Tag: "min=2",
				Messages: map[string]string{form.MsgRequired: "Parent name is required", "min": "Parent name is required"}},
			{Name: "parent_phone", Label: "parent phone", Required: true, Tag: "len=10," + core.DigitsTag, Messages: tenDigits("Parent phone")},
			{Name: "parent_email", Label: "parent email", Tag: "email", Messages: map[string]string{"email": "Please enter a valid email"}},
			{Name: "emergency_contact", Label: "emergency contact", Required: true, Tag: "len=10," + core.DigitsTag, Messages: tenDigits("Emergency contact")},
			{Name: "address", Required: true, Tag: "min=10",
				Messages: map[string]string{"min": "Address must be at least 10 characters"}},

			{Name: FieldStatus, Enum: Statuses},
		},
		form.Refinement{
			Field:   FieldPassword,
			Check:   func(r form.Record) bool { return checkPassword(r) == nil },
			Message: "password does not meet the policy",
			Explain: func(r form.Record) string {
				if err := checkPassword(r); err != nil {
					return err.Error()
				}
				return ""
			},
		},
		form.Refinement{
			Field:   FieldConfirmPassword,
			Check:   func(r form.Record) bool { return r.String(FieldPassword) == r.String(FieldConfirmPassword) },
			Message: "Passwords do not match",
		},
	)
}

func checkPassword(r form.Record) error {
	return user.CheckPassword(r.String(FieldPassword), r.String(FieldName), r.String(FieldEmail))
}

func Defaults() form.Record {
	return form.Record{"gender": "MALE", FieldStatus: StatusActive}
}

// Submitter creates the account of the student, then their profile.
// Like the school onboarding, a submission that failed half way is resumed.
type Submitter struct {
	store submission.StoreReader
	log   core.Logger
}

var _ wizard.Submitter = (*Submitter)(nil)

func NewSubmitter(store submission.StoreReader, log core.Logger) *Submitter {
	return &Submitter{store: store, log: log}
}

// Submit enrols the student into the school of actor and returns the id of their profile.
func (s *Submitter) Submit(ctx context.Context, actor user.User, record form.Record) (string, error) {
	if actor.SchoolID == "" {
		return "", errNoSchool
	}
	email := strings.ToLower(strings.TrimSpace(record.String(FieldEmail)))
	existing, found, err := onboarding.FindUser(ctx, s.store, email)
	if err != nil {
		return "", err
	}
	if found && !resumable(existing, actor.SchoolID) {
		return "", onboarding.EmailTakenError()
	}

	usr := user.User{
		Name:     strings.TrimSpace(record.String(FieldName)),
		Email:    email,
		SchoolID: actor.SchoolID,
		Roles:    []string{user.RoleStudent},
	}
	if err := usr.SetPassword(record.String(FieldPassword)); err != nil {
		return "", errors.Wrap(err, "hashing password")
	}
	account := submission.Payload{
		"name":          usr.Name,
		"email":         usr.Email,
		"roles":         usr.Roles,
		"school_id":     usr.SchoolID,
		"password_hash": string(usr.PasswordHash),
	}

	var userDoc submission.Document
	if found {
		userDoc, err = s.store.Update(ctx, onboarding.UsersCollection, existing.ID, account)
	} else {
		userDoc, err = s.store.Create(ctx, onboarding.UsersCollection, account)
	}
	if err != nil {
		return "", errors.Wrap(err, "saving student account")
	}

	studentID, err := s.saveProfile(ctx, actor, userDoc.ID, record)
	if err != nil {
		return "", err
	}
	if _, err := s.store.Update(ctx, onboarding.UsersCollection, userDoc.ID, submission.Payload{FieldStudentID: studentID}); err != nil {
		return "", errors.Wrap(err, "linking account to student")
	}

	if s.log != nil {
		s.log.Info("student enrolled", map[string]interface{}{"user": userDoc.ID, "student": studentID}, actor)
	}
	return studentID, nil
}

func (s *Submitter) saveProfile(ctx context.Context, actor user.User, userID string, record form.Record) (string, error) {
	payload := submission.Payload{
		FieldUser:    userID,
		FieldSchool:  actor.SchoolID,
		"created_by": actor.ID,
	}
	for _, st := range Steps[1:] {
		for _, f := range st.Fields {
			if v, ok := record[f]; ok {
				payload[f] = v
			}
		}
	}
	payload[FieldStatus] = StatusActive
	if st := record.String(FieldStatus); st != "" {
		payload[FieldStatus] = st
	}

	profiles, err := s.store.List(ctx, Collection)
	if err != nil {
		return "", errors.Wrap(err, "listing students")
	}
	for _, doc := range profiles {
		if doc.String(FieldUser) == userID {
			if _, err := s.store.Update(ctx, Collection, doc.ID, payload); err != nil {
				return "", errors.Wrap(err, "updating student")
			}
			return doc.ID, nil
		}
	}
	doc, err := s.store.Create(ctx, Collection, payload)
	if err != nil {
		return "", errors.Wrap(err, "creating student")
	}
	return doc.ID, nil
}

// resumable reports whether doc is a student account of school left without a profile.
func resumable(doc submission.Document, school string) bool {
	usr := onboarding.UserFromDocument(doc)
	return usr.HasRole(user.RoleStudent) && usr.SchoolID == school && doc.String(FieldStudentID) == ""
}

// NewWizard starts the enrolment of a student on behalf of actor.
func NewWizard(validate *validator.Validate, translator ut.Translator, store submission.StoreReader, actor user.User, log core.Logger) (*wizard.Wizard, error) {
	return wizard.New(Schema(validate, translator), Steps, NewSubmitter(store, log), actor, Defaults, wizard.WithLogger(log))
}

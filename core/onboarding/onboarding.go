// Package onboarding signs up a school administrator and their school.
package onboarding

import (
	"context"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/form"
	"github.com/trezcool/enrol/core/submission"
	"github.com/trezcool/enrol/core/user"
	"github.com/trezcool/enrol/core/wizard"
)

const (
	UsersCollection   = "users"
	SchoolsCollection = "schools"

	FieldEmail           = "email"
	FieldOTP             = "otp"
	FieldFirstName       = "fname"
	FieldLastName        = "lname"
	FieldPassword        = "password"
	FieldConfirmPassword = "confirmpassword"
	FieldSchoolName      = "school_name"
	FieldPincode         = "pincode"
	FieldState           = "state"
	FieldCity            = "city"

	SchoolStatusPending = "PENDING"

	StepOTP = "otp"
)

var (
	ErrEmailTaken = errors.New("a user with this email already exists")

	// SecretFields are never echoed back to clients.
	SecretFields = []string{FieldPassword, FieldConfirmPassword, FieldOTP}

	profileStep = wizard.Step{
		ID:          "profile",
		Title:       "Your profile",
		Description: "Let's setup your profile, tell us a bit about yourself.",
		Fields:      []string{FieldFirstName, FieldLastName, FieldPassword, FieldConfirmPassword},
	}
	schoolStep = wizard.Step{
		ID:          "school",
		Title:       "Your school",
		Description: "To start using the back office, you need to create your school profile.",
		Fields:      []string{FieldSchoolName, FieldPincode, FieldState, FieldCity},
	}
	reviewStep = wizard.Step{ID: "review", Title: "Review"}

	// Steps is the self-service signup: the email is proven with a one-time code first.
	Steps = []wizard.Step{
		{ID: "email", Title: "Your email", Fields: []string{FieldEmail}},
		{ID: StepOTP, Title: "Verify your email", Fields: []string{FieldOTP}},
		profileStep,
		schoolStep,
		reviewStep,
	}

	// OperatorSteps onboard a school on behalf of its administrator, without email verification.
	OperatorSteps = []wizard.Step{
		{ID: "account", Title: "Administrator", Fields: append([]string{FieldEmail}, profileStep.Fields...)},
		schoolStep,
		reviewStep,
	}
)

func messages(kv ...string) map[string]string {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}

// Schema returns the signup record schema.
func Schema(validate *validator.Validate, translator ut.Translator) *form.Schema {
	return form.MustNewSchema(validate, translator,
		[]form.Rule{
			{Name: FieldEmail, Required: true, Tag: "email", Messages: messages(
				form.MsgRequired, "please enter a valid email", "email", "please enter a valid email")},
			{Name: FieldOTP, Label: "code", Required: true, Tag: "len=6," + core.DigitsTag, Messages: messages(
				form.MsgRequired, "please enter a valid otp.", "len", "please enter a valid otp.", core.DigitsTag, "please enter a valid otp.")},
			{Name: FieldFirstName, Required: true, Tag: "min=2", Messages: messages(
				form.MsgRequired, "first name is required", "min", "first name is required")},
			{Name: FieldLastName, Required: true, Tag: "min=2", Messages: messages(
				form.MsgRequired, "last name is required", "min", "last name is required")},
			{Name: FieldPassword, Required: true},
			{Name: FieldConfirmPassword, Label: "password confirmation", Required: true},
			{Name: FieldSchoolName, Required: true, Tag: "min=2", Messages: messages(
				form.MsgRequired, "school name is required", "min", "school name is required")},
			{Name: FieldPincode, Required: true, Tag: "len=6," + core.DigitsTag, Messages: messages(
				form.MsgRequired, "pincode is required", "len", "pincode must be 6 digits", core.DigitsTag, "pincode must contain only digits")},
			{Name: FieldState, Required: true, Tag: "min=2", Messages: messages(
				form.MsgRequired, "State is required", "min", "State is required")},
			{Name: FieldCity, Required: true, Tag: "min=2", Messages: messages(
				form.MsgRequired, "City is required", "min", "City is required")},
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
	return user.CheckPassword(r.String(FieldPassword), r.String(FieldFirstName), r.String(FieldLastName), r.String(FieldEmail))
}

// Redact returns a copy of record without its secret fields.
func Redact(record form.Record) form.Record {
	out := record.Clone()
	for _, f := range SecretFields {
		delete(out, f)
	}
	return out
}

func Defaults() form.Record { return form.Record{} }

// Submitter creates the administrator account, then their school.
// A submission that failed half way is resumed by the next one: the administrator
// left without a school and the school already created for them are reused.
type Submitter struct {
	store submission.StoreReader
	log   core.Logger
}

var _ wizard.Submitter = (*Submitter)(nil)

func NewSubmitter(store submission.StoreReader, log core.Logger) *Submitter {
	return &Submitter{store: store, log: log}
}

// EmailTakenError is the field error reported for an email already in use.
func EmailTakenError() error {
	return core.NewValidationError(ErrEmailTaken, core.FieldError{Field: FieldEmail, Error: ErrEmailTaken.Error()})
}

// Submit returns the id of the new user.
func (s *Submitter) Submit(ctx context.Context, _ user.User, record form.Record) (string, error) {
	email := strings.ToLower(strings.TrimSpace(record.String(FieldEmail)))
	existing, found, err := FindUser(ctx, s.store, email)
	if err != nil {
		return "", err
	}
	if found && !resumable(existing) {
		return "", EmailTakenError()
	}

	usr := user.User{
		Name:  strings.TrimSpace(record.String(FieldFirstName) + " " + record.String(FieldLastName)),
		Email: email,
		Roles: []string{user.RoleAdmin},
	}
	if err := usr.SetPassword(record.String(FieldPassword)); err != nil {
		return "", errors.Wrap(err, "hashing password")
	}

	var userDoc submission.Document
	if found {
		userDoc, err = s.store.Update(ctx, UsersCollection, existing.ID, UserPayload(usr, record))
		if err != nil {
			return "", errors.Wrap(err, "updating user")
		}
	} else {
		userDoc, err = s.store.Create(ctx, UsersCollection, UserPayload(usr, record))
		if err != nil {
			return "", errors.Wrap(err, "creating user")
		}
	}

	schoolID, err := s.saveSchool(ctx, userDoc.ID, record)
	if err != nil {
		return "", err
	}
	if _, err := s.store.Update(ctx, UsersCollection, userDoc.ID, submission.Payload{"school_id": schoolID}); err != nil {
		return "", errors.Wrap(err, "linking user to school")
	}

	if s.log != nil {
		s.log.Info("school onboarded", map[string]interface{}{"user": userDoc.ID, "school": schoolID, "resumed": found})
	}
	return userDoc.ID, nil
}

// saveSchool creates the school of userID, or refreshes the one a failed submission left behind.
func (s *Submitter) saveSchool(ctx context.Context, userID string, record form.Record) (string, error) {
	payload := submission.Payload{
		FieldSchoolName: record.String(FieldSchoolName),
		FieldPincode:    record.String(FieldPincode),
		FieldState:      record.String(FieldState),
		FieldCity:       record.String(FieldCity),
		"status":        SchoolStatusPending,
		"user":          userID,
	}

	schools, err := s.store.List(ctx, SchoolsCollection)
	if err != nil {
		return "", errors.Wrap(err, "listing schools")
	}
	for _, doc := range schools {
		if doc.String("user") != userID {
			continue
		}
		if _, err := s.store.Update(ctx, SchoolsCollection, doc.ID, payload); err != nil {
			return "", errors.Wrap(err, "updating school")
		}
		return doc.ID, nil
	}

	doc, err := s.store.Create(ctx, SchoolsCollection, payload)
	if err != nil {
		return "", errors.Wrap(err, "creating school")
	}
	return doc.ID, nil
}

// resumable reports whether a stored user is an administrator whose onboarding never completed.
func resumable(doc submission.Document) bool {
	usr := UserFromDocument(doc)
	return usr.SchoolID == "" && usr.IsAdmin()
}

func FindUser(ctx context.Context, reader submission.Reader, email string) (submission.Document, bool, error) {
	users, err := reader.List(ctx, UsersCollection)
	if err != nil {
		return submission.Document{}, false, errors.Wrap(err, "listing users")
	}
	for _, doc := range users {
		if strings.EqualFold(doc.String("email"), email) {
			return doc, true, nil
		}
	}
	return submission.Document{}, false, nil
}

// EmailTaken reports whether email belongs to an account that can no longer be onboarded.
func EmailTaken(ctx context.Context, reader submission.Reader, email string) (bool, error) {
	doc, found, err := FindUser(ctx, reader, strings.ToLower(strings.TrimSpace(email)))
	if err != nil || !found {
		return false, err
	}
	return !resumable(doc), nil
}

// UserPayload is the stored shape of a user; the plain password is never part of it.
func UserPayload(usr user.User, record form.Record) submission.Payload {
	return submission.Payload{
		"name":          usr.Name,
		FieldFirstName:  record.String(FieldFirstName),
		FieldLastName:   record.String(FieldLastName),
		"email":         usr.Email,
		"roles":         usr.Roles,
		"password_hash": string(usr.PasswordHash),
	}
}

// UserFromDocument rebuilds the actor stored by UserPayload.
func UserFromDocument(doc submission.Document) user.User {
	usr := user.User{
		ID:           doc.ID,
		Name:         doc.String("name"),
		Email:        doc.String("email"),
		SchoolID:     doc.String("school_id"),
		PasswordHash: []byte(doc.String("password_hash")),
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
	switch roles := doc.Fields["roles"].(type) {
	case []string:
		usr.Roles = append(usr.Roles, roles...)
	case []interface{}:
		for _, r := range roles {
			if s, ok := r.(string); ok {
				usr.Roles = append(usr.Roles, s)
			}
		}
	}
	return usr
}

// NewOperatorWizard onboards a school from the admin console.
func NewOperatorWizard(validate *validator.Validate, translator ut.Translator, store submission.StoreReader, operator user.User, log core.Logger) (*wizard.Wizard, error) {
	return wizard.New(Schema(validate, translator), OperatorSteps, NewSubmitter(store, log), operator, Defaults, wizard.WithLogger(log))
}

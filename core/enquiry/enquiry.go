// Package enquiry defines the admission enquiry wizard and its follow-ups.
package enquiry

import (
	"context"
	"time"

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
	Collection = "enquiries"

	FieldStatus    = "status"
	FieldPriority  = "priority"
	FieldSource    = "source"
	FieldSchool    = "school"
	FieldFollowUps = "follow_ups"
)

// Statuses
const (
	StatusNew           = "NEW"
	StatusContacted     = "CONTACTED"
	StatusFollowUp      = "FOLLOW_UP"
	StatusInterested    = "INTERESTED"
	StatusNotInterested = "NOT_INTERESTED"
	StatusConverted     = "CONVERTED"
	StatusClosed        = "CLOSED"
)

var (
	Genders    = []string{"MALE", "FEMALE", "OTHER"}
	Relations  = []string{"FATHER", "MOTHER", "GUARDIAN", "GRANDPARENT", "OTHER"}
	Sources    = []string{"WEBSITE", "WALK_IN", "PHONE_CALL", "REFERRAL", "ADVERTISEMENT", "SOCIAL_MEDIA", "OTHER"}
	Statuses   = []string{StatusNew, StatusContacted, StatusFollowUp, StatusInterested, StatusNotInterested, StatusConverted, StatusClosed}
	Priorities = []string{"LOW", "MEDIUM", "HIGH", "URGENT"}

	ErrEmptyFollowUp = errors.New("follow-up notes are required")

	NowFunc = time.Now // mockable

	Steps = []wizard.Step{
		{
			ID:     "student",
			Title:  "Student Information",
			Fields: []string{"student_fname", "student_lname", "student_dob", "student_gender", "interested_class", "previous_school"},
		},
		{
			ID:     "guardian",
			Title:  "Guardian Information",
			Fields: []string{"guardian_name", "guardian_relation", "guardian_phone", "guardian_email", "guardian_occupation"},
		},
		{
			ID:     "contact",
			Title:  "Contact Information",
			Fields: []string{"address", "city", "state", "pincode", "preferred_contact_time"},
		},
		{
			ID:     "details",
			Title:  "Enquiry Details",
			Fields: []string{FieldSource, "message", FieldStatus, FieldPriority, "follow_up_date", "assigned_to", "internal_notes"},
		},
		{ID: "review", Title: "Review"},
	}
)

func required(msg string) map[string]string {
	return map[string]string{form.MsgRequired: msg}
}

// Schema returns the enquiry record schema.
// follow_up_date is only shown (and required) when the status is FOLLOW_UP.
func Schema(validate *validator.Validate, translator ut.Translator) *form.Schema {
	return form.MustNewSchema(validate, translator, []form.Rule{
		{Name: "student_fname", Required: true, Messages: required("Student first name is required")},
		{Name: "student_lname", Required: true, Messages: required("Student last name is required")},
		{Name: "student_dob", Required: true, Tag: "datetime=2006-01-02", Messages: required("Date of birth is required")},
		{Name: "student_gender", Label: "gender", Required: true, Enum: Genders},
		{Name: "interested_class", Required: true, Messages: required("Interested class is required")},
		{Name: "previous_school"},

		{Name: "guardian_name", Required: true, Messages: required("Guardian name is required")},
		{Name: "guardian_relation", Label: "relation", Required: true, Enum: Relations},
		{Name: "guardian_phone", Required: true, Tag: "min=10," + core.PhoneCharsTag, Messages: map[string]string{
			form.MsgRequired:   "Phone number is required",
			"min":              "Phone number must be at least 10 digits",
			core.PhoneCharsTag: "Invalid phone number format",
		}},
		{Name: "guardian_email", Required: true, Tag: "email", Messages: map[string]string{
			form.MsgRequired: "Email is required",
			"email":          "Invalid email format",
		}},
		{Name: "guardian_occupation"},

		{Name: "address", Required: true, Messages: required("Address is required")},
		{Name: "city", Required: true, Messages: required("City is required")},
		{Name: "state", Required: true, Messages: required("State is required")},
		{Name: "pincode", Required: true, Tag: "len=6," + core.DigitsTag, Messages: map[string]string{
			form.MsgRequired: "Pincode is required",
			"len":            "Pincode must be 6 digits",
			core.DigitsTag:   "Pincode must contain only numbers",
		}},
		{Name: "preferred_contact_time"},

		{Name: FieldSource, Required: true, Enum: Sources},
		{Name: "message"},
		{Name: FieldStatus, Required: true, Enum: Statuses},
		{Name: FieldPriority, Required: true, Enum: Priorities},
		{
			Name:     "follow_up_date",
			Label:    "follow-up date",
			Required: true,
			Tag:      "datetime=2006-01-02",
			When:     func(r form.Record) bool { return r.String(FieldStatus) == StatusFollowUp },
			Messages: required("Pick a follow-up date"),
		},
		{Name: "assigned_to"},
		{Name: "internal_notes"},
		{Name: FieldSchool},
	})
}

// Defaults returns the initial record of a new enquiry.
func Defaults() form.Record {
	return form.Record{
		"student_gender":    "MALE",
		"guardian_relation": "FATHER",
		FieldSource:         "WEBSITE",
		FieldStatus:         StatusNew,
		FieldPriority:       "MEDIUM",
	}
}

// NewAdapter returns the submitter of enquiries. Hidden fields are not stored.
func NewAdapter(store submission.Store, schema *form.Schema, log core.Logger) *submission.Adapter {
	return submission.NewAdapter(store, Collection,
		submission.WithActorSchool(FieldSchool),
		submission.WithLogger(log),
		submission.WithTransform(func(_ user.User, p submission.Payload) error {
			for field := range p {
				if schema.Has(field) && !schema.Visible(field, form.Record(p)) {
					delete(p, field)
				}
			}
			p[FieldFollowUps] = []string{}
			return nil
		}),
	)
}

// NewWizard starts an enquiry on behalf of actor.
func NewWizard(validate *validator.Validate, translator ut.Translator, store submission.Store, actor user.User, log core.Logger) (*wizard.Wizard, error) {
	schema := Schema(validate, translator)
	return wizard.New(schema, Steps, NewAdapter(store, schema, log), actor, Defaults, wizard.WithLogger(log))
}

// FollowUp is one contact made with the family of an enquiry.
type FollowUp struct {
	Date       string `json:"date"`
	Notes      string `json:"notes"`
	By         string `json:"by"`
	NextAction string `json:"next_action,omitempty"`
	CreatedAt  string `json:"created_at"`
}

var errNoID = core.NewArgumentError("an enquiry id is required")

// AddFollowUp appends a follow-up made by actor. A NEW enquiry becomes CONTACTED;
// any other status is kept.
func AddFollowUp(ctx context.Context, store submission.StoreReader, actor user.User, id, notes, nextAction string) (submission.Document, error) {
	if id == "" {
		return submission.Document{}, errNoID
	}
	if notes == "" {
		return submission.Document{}, core.NewValidationError(ErrEmptyFollowUp, core.FieldError{Field: "notes", Error: ErrEmptyFollowUp.Error()})
	}
	doc, err := store.Get(ctx, Collection, id)
	if err != nil {
		return submission.Document{}, errors.Wrap(err, "getting enquiry")
	}
	followUps, err := decodeFollowUps(doc.Fields[FieldFollowUps])
	if err != nil {
		return submission.Document{}, err
	}

	now := NowFunc().UTC().Format(time.RFC3339)
	followUps = append(followUps, FollowUp{Date: now, Notes: notes, By: actor.Name, NextAction: nextAction, CreatedAt: now})
	encoded, err := encodeFollowUps(followUps)
	if err != nil {
		return submission.Document{}, err
	}
	payload := submission.Payload{FieldFollowUps: encoded}
	if st := doc.String(FieldStatus); st == StatusNew || st == "" {
		payload[FieldStatus] = StatusContacted
	}
	return store.Update(ctx, Collection, id, payload)
}

// Convert marks an enquiry as converted into an admission application.
func Convert(ctx context.Context, store submission.Store, id string) (submission.Document, error) {
	if id == "" {
		return submission.Document{}, errNoID
	}
	return store.Update(ctx, Collection, id, submission.Payload{FieldStatus: StatusConverted})
}

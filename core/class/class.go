// Package class defines the wizard creating the classes of a school.
package class

import (
	"strconv"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/form"
	"github.com/trezcool/enrol/core/submission"
	"github.com/trezcool/enrol/core/user"
	"github.com/trezcool/enrol/core/wizard"
)

const (
	Collection = "classes"

	FieldName        = "name"
	FieldGrade       = "grade"
	FieldMaxStrength = "max_strength"
	FieldStatus      = "status"
	FieldSchool      = "school"
)

// Statuses
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
	StatusArchived = "ARCHIVED"
)

var (
	Statuses = []string{StatusActive, StatusInactive, StatusArchived}

	Steps = []wizard.Step{
		{
			ID:     "class",
			Title:  "Class",
			Fields: []string{FieldName, FieldGrade, "section", "room_number", FieldMaxStrength, FieldStatus},
		},
		{ID: "review", Title: "Review"},
	}
)

// integer reads a whole number typed in a form or decoded from JSON.
func integer(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), n == float64(int(n))
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

// Schema returns the class record schema.
func Schema(validate *validator.Validate, translator ut.Translator) *form.Schema {
	return form.MustNewSchema(validate, translator,
		[]form.Rule{
			{Name: FieldName, Label: "class name", Required: true,
				Messages: map[string]string{form.MsgRequired: "Class name is required"}},
			{Name: FieldGrade, Required: true,
				Messages: map[string]string{form.MsgRequired: "Grade is required"}},
			{Name: "section"},
			{Name: "room_number", Label: "room number"},
			{Name: FieldMaxStrength, Label: "maximum strength"},
			{Name: FieldStatus, Required: true, Enum: Statuses},
			{Name: FieldSchool},
		},
		form.Refinement{
			Field: FieldGrade,
			Check: func(r form.Record) bool {
				g, ok := integer(r[FieldGrade])
				return ok && g >= 1 && g <= 12
			},
			Message: "Grade must be between 1 and 12",
		},
		form.Refinement{
			Field: FieldMaxStrength,
			Check: func(r form.Record) bool {
				v := r[FieldMaxStrength]
				if v == nil || v == "" {
					return true
				}
				n, ok := integer(v)
				return ok && n > 0
			},
			Message: "Maximum strength must be positive",
		},
	)
}

func Defaults() form.Record {
	return form.Record{FieldGrade: 1, FieldMaxStrength: 40, FieldStatus: StatusActive}
}

// NewAdapter returns the submitter of classes. A new class starts empty.
func NewAdapter(store submission.Store, log core.Logger) *submission.Adapter {
	return submission.NewAdapter(store, Collection,
		submission.WithActorSchool(FieldSchool),
		submission.WithLogger(log),
		submission.WithTransform(func(actor user.User, p submission.Payload) error {
			if s, _ := p[FieldSchool].(string); s == "" {
				return core.NewArgumentError("classes belong to a school")
			}
			if g, ok := integer(p[FieldGrade]); ok {
				p[FieldGrade] = g
			}
			if n, ok := integer(p[FieldMaxStrength]); ok {
				p[FieldMaxStrength] = n
			}
			p["current_strength"] = 0
			p["subjects"] = []string{}
			p["created_by"] = actor.ID
			return nil
		}),
	)
}

// NewWizard starts the creation of a class on behalf of actor.
func NewWizard(validate *validator.Validate, translator ut.Translator, store submission.Store, actor user.User, log core.Logger) (*wizard.Wizard, error) {
	return wizard.New(Schema(validate, translator), Steps, NewAdapter(store, log), actor, Defaults, wizard.WithLogger(log))
}

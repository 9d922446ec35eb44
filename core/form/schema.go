// Package form describes the fields of a record and validates them.
package form

import (
	"fmt"
	"sort"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core"
)

const (
	// message keys which are not validator tags
	MsgRequired = "required"
	MsgEnum     = "enum"
	MsgType     = "type"
)

var (
	ErrUnknownField   = errors.New("unknown field")
	ErrDuplicateField = errors.New("duplicate field")
)

type (
	// Rule is the validation rule of one field.
	Rule struct {
		Name  string
		Label string // used in messages; defaults to Name

		Required bool
		// Tag is a validator tag list (eg "min=2,max=50", "email", "pincode"),
		// run only when a value is present. On document arrays it applies to the element count.
		Tag  string
		Enum []string
		// Messages overrides the message of a failing check, keyed by validator tag or Msg* key.
		Messages map[string]string

		// Item makes the field a document array whose elements are validated against it.
		Item *Schema
		// When hides the field (and skips its validation) when it returns false.
		When func(Record) bool
	}

	// Refinement is a cross-field rule over the whole record, reported on Field.
	Refinement struct {
		Field   string
		Check   func(Record) bool
		Message string
		// Explain, when set, replaces Message with a record specific one.
		Explain func(Record) string
	}

	Result struct {
		OK      bool
		Message string
		Path    string // field, or "field.<index>.<key>" for document array elements
	}

	// Schema is immutable once built.
	Schema struct {
		validate    *validator.Validate
		translator  ut.Translator
		rules       []Rule
		enums       [][]string // sorted copies of the rules' Enum
		index       map[string]int
		refinements []Refinement
	}
)

var valid = Result{OK: true}

func (r Rule) label() string {
	if r.Label != "" {
		return r.Label
	}
	return r.Name
}

func (r Rule) message(key, fallback string) string {
	if msg, ok := r.Messages[key]; ok {
		return msg
	}
	return fallback
}

func (r Refinement) message(rec Record) string {
	if r.Explain != nil {
		if msg := r.Explain(rec); msg != "" {
			return msg
		}
	}
	return r.Message
}

// NewSchema builds a Schema. Duplicate or unnamed fields and refinements on unknown fields are rejected.
func NewSchema(validate *validator.Validate, translator ut.Translator, rules []Rule, refinements ...Refinement) (*Schema, error) {
	s := &Schema{
		validate:    validate,
		translator:  translator,
		rules:       make([]Rule, 0, len(rules)),
		enums:       make([][]string, 0, len(rules)),
		index:       make(map[string]int, len(rules)),
		refinements: refinements,
	}
	for _, r := range rules {
		if r.Name == "" {
			return nil, errors.Wrap(ErrUnknownField, "unnamed rule")
		}
		if _, dup := s.index[r.Name]; dup {
			return nil, errors.Wrapf(ErrDuplicateField, "%q", r.Name)
		}
		enum := make([]string, len(r.Enum))
		copy(enum, r.Enum)
		sort.Strings(enum)

		s.index[r.Name] = len(s.rules)
		s.rules = append(s.rules, r)
		s.enums = append(s.enums, enum)
	}
	for _, ref := range refinements {
		if !s.Has(ref.Field) {
			return nil, errors.Wrapf(ErrUnknownField, "refinement on %q", ref.Field)
		}
	}
	return s, nil
}

// MustNewSchema is like NewSchema but panics on a malformed schema.
func MustNewSchema(validate *validator.Validate, translator ut.Translator, rules []Rule, refinements ...Refinement) *Schema {
	s, err := NewSchema(validate, translator, rules, refinements...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Has(field string) bool {
	_, ok := s.index[field]
	return ok
}

// Fields returns the field names in declaration order.
func (s *Schema) Fields() []string {
	names := make([]string, 0, len(s.rules))
	for _, r := range s.rules {
		names = append(names, r.Name)
	}
	return names
}

// Rule returns the rule of a field.
func (s *Schema) Rule(field string) (Rule, bool) {
	i, ok := s.index[field]
	if !ok {
		return Rule{}, false
	}
	return s.rules[i], true
}

// IsArray reports whether field is a document array.
func (s *Schema) IsArray(field string) bool {
	r, ok := s.Rule(field)
	return ok && r.Item != nil
}

// Visible reports whether field is shown given the record.
func (s *Schema) Visible(field string, rec Record) bool {
	r, ok := s.Rule(field)
	return ok && (r.When == nil || r.When(rec))
}

// Check returns ErrUnknownField for the first field the schema does not declare.
func (s *Schema) Check(fields []string) error {
	for _, f := range fields {
		if !s.Has(f) {
			return errors.Wrapf(ErrUnknownField, "%q", f)
		}
	}
	return nil
}

// Validate checks one candidate value of field; siblings provides the rest of the record
// to conditional fields and refinements. It has no side effects.
func (s *Schema) Validate(field string, value interface{}, siblings Record) Result {
	i, ok := s.index[field]
	if !ok {
		return Result{Message: ErrUnknownField.Error(), Path: field}
	}
	rule := s.rules[i]
	rec := siblings.With(field, value)

	if rule.When != nil && !rule.When(rec) {
		return valid
	}
	if res := s.check(i, value, field); !res.OK {
		return res
	}
	for _, ref := range s.refinements {
		if ref.Field == field && !ref.Check(rec) {
			return Result{Message: ref.message(rec), Path: field}
		}
	}
	return valid
}

// ValidateFields validates the given fields of record and returns the failures keyed by path.
// The returned map is empty when every field is valid.
func (s *Schema) ValidateFields(fields []string, record Record) map[string]string {
	errs := make(map[string]string)
	for _, f := range fields {
		if res := s.Validate(f, record[f], record); !res.OK {
			errs[res.Path] = res.Message
		}
	}
	return errs
}

// ValidateRecord validates every field of the schema.
func (s *Schema) ValidateRecord(record Record) map[string]string {
	return s.ValidateFields(s.Fields(), record)
}

func (s *Schema) check(i int, value interface{}, path string) Result {
	rule := s.rules[i]
	fail := func(key, fallback string) Result {
		return Result{Message: rule.message(key, fallback), Path: path}
	}

	if isAbsent(value) {
		if rule.Required {
			return fail(MsgRequired, core.RequiredText)
		}
		return valid
	}

	if rule.Item != nil {
		return s.checkArray(rule, value, path)
	}

	if rule.Tag != "" {
		if err := s.validate.Var(value, rule.Tag); err != nil {
			verrs, ok := err.(validator.ValidationErrors)
			if !ok || len(verrs) == 0 {
				return fail(MsgType, "invalid value")
			}
			return fail(verrs[0].Tag(), s.translate(rule, verrs[0]))
		}
	}

	if enum := s.enums[i]; len(enum) > 0 {
		str, ok := value.(string)
		if !ok {
			return fail(MsgType, "invalid value")
		}
		if idx := sort.SearchStrings(enum, str); idx == len(enum) || enum[idx] != str {
			return fail(MsgEnum, fmt.Sprintf("%s must be one of: %s", rule.label(), strings.Join(rule.Enum, ", ")))
		}
	}
	return valid
}

func (s *Schema) checkArray(rule Rule, value interface{}, path string) Result {
	fail := func(key, fallback string) Result {
		return Result{Message: rule.message(key, fallback), Path: path}
	}

	elems, ok := elements(value)
	if !ok {
		return fail(MsgType, "invalid list")
	}
	if rule.Tag != "" {
		// length checks apply to the element count
		if err := s.validate.Var(make([]struct{}, len(elems)), rule.Tag); err != nil {
			if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
				return fail(verrs[0].Tag(), s.translate(rule, verrs[0]))
			}
			return fail(MsgType, "invalid list")
		}
	}
	for idx, el := range elems {
		for j, itemRule := range rule.Item.rules {
			if itemRule.When != nil && !itemRule.When(el) {
				continue
			}
			elPath := fmt.Sprintf("%s.%d.%s", path, idx, itemRule.Name)
			if res := rule.Item.check(j, el[itemRule.Name], elPath); !res.OK {
				return res
			}
		}
		for _, ref := range rule.Item.refinements {
			if !ref.Check(el) {
				return Result{Message: ref.message(el), Path: fmt.Sprintf("%s.%d.%s", path, idx, ref.Field)}
			}
		}
	}
	return valid
}

// translate renders a validator error without the (empty) field name Var reports,
// prefixing the rule label when the translation starts with it.
func (s *Schema) translate(rule Rule, fe validator.FieldError) string {
	msg := fe.Translate(s.translator)
	if strings.HasPrefix(msg, " ") {
		return rule.label() + msg
	}
	return msg
}

package core

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	// custom validation tags & texts
	alphaNumUnderTag   = "alphanum_"
	alphaNumUnderText  = "only alphanumeric characters and underscores are allowed"
	alphaNumUnderRegex = regexp.MustCompile(`^[\w\s]+$`)

	PhoneTag   = "phone"
	phoneText  = "invalid phone number"
	phoneRegex = regexp.MustCompile(`^[6-9]\d{9}$`)

	PhoneCharsTag   = "phonechars"
	phoneCharsText  = "phone number may only contain digits, spaces, +, - and parentheses"
	phoneCharsRegex = regexp.MustCompile(`^[0-9+\-\s()]+$`)

	PincodeTag   = "pincode"
	pincodeText  = "invalid pincode"
	pincodeRegex = regexp.MustCompile(`^[1-9][0-9]{5}$`)

	DigitsTag   = "digits"
	digitsText  = "only digits are allowed"
	digitsRegex = regexp.MustCompile(`^\d+$`)

	requiredTag     = "required"
	requiredWithTag = "required_with"
	RequiredText    = "this field is required"
)

// NewValidate returns a validator with the custom validators and english translations registered.
func NewValidate(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	InitValidators(validate, translator)
	return validate
}

// NewTranslator returns the english translator.
func NewTranslator() ut.Translator {
	enLocale := en.New()
	translator, _ := ut.New(enLocale, enLocale).GetTranslator("en")
	return translator
}

// InitValidators instantiates the validator for use.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// register custom validators
	registerRegexValidation(validate, translator, alphaNumUnderTag, alphaNumUnderText, alphaNumUnderRegex)
	registerRegexValidation(validate, translator, PhoneTag, phoneText, phoneRegex)
	registerRegexValidation(validate, translator, PhoneCharsTag, phoneCharsText, phoneCharsRegex)
	registerRegexValidation(validate, translator, PincodeTag, pincodeText, pincodeRegex)
	registerRegexValidation(validate, translator, DigitsTag, digitsText, digitsRegex)

	RegisterCustomTranslation(validate, translator, requiredTag, RequiredText, true)
	RegisterCustomTranslation(validate, translator, requiredWithTag, RequiredText, true)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// Custom Global Validators

func registerRegexValidation(validate *validator.Validate, translator ut.Translator, tag, text string, rgx *regexp.Regexp) {
	_ = validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return rgx.MatchString(fl.Field().String())
	})
	RegisterCustomTranslation(validate, translator, tag, text)
}

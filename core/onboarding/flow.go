package onboarding

import (
	"context"
	"strings"
	"sync"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/form"
	"github.com/trezcool/enrol/core/otp"
	"github.com/trezcool/enrol/core/submission"
	"github.com/trezcool/enrol/core/user"
	"github.com/trezcool/enrol/core/wizard"
)

var ErrEmailNotVerified = errors.New("email has not been verified")

// CodeSender is the part of otp.Service a Flow needs.
type CodeSender interface {
	Send(ctx context.Context, email string) error
	Verify(ctx context.Context, email, code string) error
}

var _ CodeSender = (*otp.Service)(nil)

// Flow is the self-service signup wizard. Leaving the otp step requires a valid code,
// and only the email the code was sent to can be submitted.
type Flow struct {
	*wizard.Wizard
	codes CodeSender
	users submission.Reader

	mu       sync.Mutex
	verified string
}

func NewFlow(validate *validator.Validate, translator ut.Translator, store submission.StoreReader, codes CodeSender, log core.Logger) (*Flow, error) {
	f := &Flow{codes: codes, users: store}
	submitter := NewSubmitter(store, log)
	guarded := wizard.SubmitterFunc(func(ctx context.Context, actor user.User, record form.Record) (string, error) {
		if !f.isVerified(record.String(FieldEmail)) {
			return "", core.NewValidationError(ErrEmailNotVerified, core.FieldError{Field: FieldEmail, Error: ErrEmailNotVerified.Error()})
		}
		return submitter.Submit(ctx, actor, record)
	})

	w, err := wizard.New(Schema(validate, translator), Steps, guarded, user.User{}, Defaults, wizard.WithLogger(log))
	if err != nil {
		return nil, err
	}
	f.Wizard = w
	return f, nil
}

func (f *Flow) isVerified(email string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verified != "" && strings.EqualFold(f.verified, strings.TrimSpace(email))
}

func (f *Flow) currentStep() wizard.Step {
	return f.Steps()[f.State().Step]
}

// SendCode emails a verification code to the email of the record.
// No code is sent to an email already in use.
func (f *Flow) SendCode(ctx context.Context) error {
	st := f.State()
	email := st.Record.String(FieldEmail)
	if res := f.Schema().Validate(FieldEmail, email, st.Record); !res.OK {
		return core.NewValidationError(errors.New(res.Message), core.FieldError{Field: FieldEmail, Error: res.Message})
	}
	taken, err := EmailTaken(ctx, f.users, email)
	if err != nil {
		return err
	}
	if taken {
		return EmailTakenError()
	}
	return f.codes.Send(ctx, email)
}

// Next moves to the next step. From the otp step the code is verified first;
// a wrong or expired code is returned as a *core.ValidationError on the otp field.
func (f *Flow) Next(ctx context.Context) (bool, error) {
	if f.currentStep().ID != StepOTP {
		return f.Wizard.Next(), nil
	}
	cur := f.State().Step
	if !f.ValidateStep(cur) {
		return false, nil
	}

	rec := f.State().Record
	email := strings.TrimSpace(rec.String(FieldEmail))
	if err := f.codes.Verify(ctx, email, rec.String(FieldOTP)); err != nil {
		switch errors.Cause(err) {
		case otp.ErrInvalidCode, otp.ErrExpired, otp.ErrNotFound:
			return false, core.NewValidationError(err, core.FieldError{Field: FieldOTP, Error: err.Error()})
		}
		return false, errors.Wrap(err, "verifying code")
	}

	f.mu.Lock()
	f.verified = email
	f.mu.Unlock()
	return f.Wizard.Next(), nil
}

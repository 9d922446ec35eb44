// Package otp sends and verifies one-time email verification codes.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core"
)

const TemplateName = "otp"

var (
	ErrNotFound    = errors.New("otp not found")
	ErrInvalidCode = errors.New("otp is not valid")
	ErrExpired     = errors.New("otp has expired")

	NowFunc = time.Now // mockable

	registerOnce sync.Once
	registerErr  error
)

const (
	textTemplate = `Hello,

Use the code below to verify your email and complete your registration for {{.AppName}}.

{{.Data.Code}}

This code is valid for the next {{.Data.Minutes}} minutes. Do not share it with anyone.
If you did not request this, please ignore this email.
`
	htmlTemplate = `<!doctype html>
<html>
  <body>
    <h1>{{.AppName}}.</h1>
    <p>Hello,<br/>Use the code below to verify your email and complete your registration for {{.AppName}}.</p>
    <div class="otp">{{.Data.Code}}</div>
    <p>This code is valid for the next <b>{{.Data.Minutes}} minutes</b>. Do not share it with anyone.</p>
    <p>If you didn't request this, please ignore this email or contact our support team.</p>
  </body>
</html>
`
)

type (
	// Code is a pending verification code.
	Code struct {
		Email     string    `json:"email"`
		Code      string    `json:"code"`
		ExpiresAt time.Time `json:"expires_at"`
	}

	// Store keeps at most one pending code per email.
	Store interface {
		Save(ctx context.Context, code Code) error
		// Get returns ErrNotFound when no code is pending for email.
		Get(ctx context.Context, email string) (Code, error)
		Delete(ctx context.Context, email string) error
	}

	Service struct {
		store  Store
		mail   core.EmailService
		length int
		ttl    time.Duration
	}
)

// NewService registers the otp email template on first use.
func NewService(store Store, mailSvc core.EmailService, conf core.OTPConfig) (*Service, error) {
	registerOnce.Do(func() {
		registerErr = core.RegisterEmailTemplate(TemplateName, textTemplate, htmlTemplate)
	})
	if registerErr != nil {
		return nil, registerErr
	}
	if conf.Length <= 0 {
		conf.Length = 6
	}
	if conf.TTL <= 0 {
		conf.TTL = 10 * time.Minute
	}
	return &Service{store: store, mail: mailSvc, length: conf.Length, ttl: conf.TTL}, nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Generate returns a random numeric code of n digits which does not start with 0.
func Generate(n int) (string, error) {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		limit, offset := int64(10), int64(0)
		if i == 0 {
			limit, offset = 9, 1
		}
		d, err := rand.Int(rand.Reader, big.NewInt(limit))
		if err != nil {
			return "", errors.Wrap(err, "generating otp")
		}
		sb.WriteByte(byte('0' + d.Int64() + offset))
	}
	return sb.String(), nil
}

// Send replaces any pending code of email with a new one and mails it.
func (svc *Service) Send(ctx context.Context, email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return core.NewValidationError(errors.New("invalid email"), core.FieldError{Field: "email", Error: "invalid email"})
	}
	code, err := Generate(svc.length)
	if err != nil {
		return err
	}
	entry := Code{Email: normalize(addr.Address), Code: code, ExpiresAt: NowFunc().UTC().Add(svc.ttl)}
	if err := svc.store.Save(ctx, entry); err != nil {
		return errors.Wrap(err, "saving otp")
	}

	if svc.mail != nil {
		svc.mail.SendMessages(&core.EmailMessage{
			To:           []mail.Address{*addr},
			Subject:      "Verify your email",
			TemplateName: TemplateName,
			TemplateData: map[string]interface{}{"Code": code, "Minutes": int(svc.ttl.Minutes())},
		})
	}
	return nil
}

// Verify consumes the pending code of email when it matches.
func (svc *Service) Verify(ctx context.Context, email, code string) error {
	email = normalize(email)
	entry, err := svc.store.Get(ctx, email)
	if err != nil {
		return err
	}
	if NowFunc().UTC().After(entry.ExpiresAt) {
		_ = svc.store.Delete(ctx, email)
		return ErrExpired
	}
	if subtle.ConstantTimeCompare([]byte(entry.Code), []byte(strings.TrimSpace(code))) != 1 {
		return ErrInvalidCode
	}
	return svc.store.Delete(ctx, email)
}

// MemoryStore is a Store for tests and single instance deployments.
type MemoryStore struct {
	mu    sync.Mutex
	codes map[string]Code
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{codes: make(map[string]Code)}
}

func (s *MemoryStore) Save(_ context.Context, code Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.Email] = code
	return nil
}

func (s *MemoryStore) Get(_ context.Context, email string) (Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.codes[email]
	if !ok {
		return Code{}, ErrNotFound
	}
	return code, nil
}

func (s *MemoryStore) Delete(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, email)
	return nil
}

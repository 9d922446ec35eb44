package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/onboarding"
	"github.com/trezcool/enrol/core/submission"
	dummydb "github.com/trezcool/enrol/storage/database/dummy"
)

const strongPassword = "Str0ng!Pass#2024"

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	db, err := dummydb.Open()
	require.NoError(t, err)

	var out bytes.Buffer
	translator := core.NewTranslator()
	return &commandLine{
		out:        &out,
		store:      dummydb.NewDocumentStore(db),
		validate:   core.NewValidate(translator),
		translator: translator,
		migrate: func(context.Context) ([]string, error) {
			return []string{"0001_documents.sql"}, nil
		},
	}, &out
}

// withPasswords answers the password prompts in order.
func withPasswords(t *testing.T, pwds ...string) {
	orig := readPasswordFunc
	t.Cleanup(func() { readPasswordFunc = orig })
	readPasswordFunc = func(fd int) ([]byte, error) {
		if len(pwds) == 0 {
			return nil, nil
		}
		pwd := pwds[0]
		pwds = pwds[1:]
		return []byte(pwd), nil
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	pwds       []string
	wantErr    error
	wantErrStr string
}

func (tt cliTest) check(t *testing.T, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, errors.Cause(err))
	case tt.wantErrStr != "":
		assert.EqualError(t, err, tt.wantErrStr)
	default:
		assert.NoError(t, err)
	}
}

var onboardArgsOK = []string{
	"onboard", "-email", "Asha@Example.com", "-fname", "Asha", "-lname", "Verma",
	"-school", "Green Valley", "-pincode", "560001", "-state", "Karnataka", "-city", "Bengaluru",
}

func Test_commandLine_usage(t *testing.T) {
	cli, out := setup(t)
	for _, args := range [][]string{{"admin"}, {"admin", "lol"}} {
		assert.Equal(t, errHelp, cli.run(args))
	}
	assert.Contains(t, out.String(), "resetpassword -email EMAIL")
}

func Test_commandLine_migrate(t *testing.T) {
	cli, out := setup(t)
	require.NoError(t, cli.run([]string{"admin", "migrate"}))
	assert.Contains(t, out.String(), "applied 0001_documents.sql")

	cli.migrate = func(context.Context) ([]string, error) { return nil, nil }
	require.NoError(t, cli.run([]string{"admin", "migrate"}))
	assert.Contains(t, out.String(), "no pending migrations")

	cli.migrate = postgresMigrations(&core.Config{Database: core.DatabaseConfig{Engine: "memory"}})
	assert.Equal(t, errNotPostgres, cli.run([]string{"admin", "migrate"}))
}

func Test_commandLine_onboard(t *testing.T) {
	tests := []cliTest{
		{name: "no args", args: []string{"onboard"}, wantErr: errHelp},
		{name: "no password", args: onboardArgsOK, wantErr: errHelp},
		{name: "passwords differ", args: onboardArgsOK, pwds: []string{strongPassword, "nope"}, wantErrStr: "confirmpassword: Passwords do not match"},
		{
			name: "bad school", args: []string{"onboard", "-email", "ravi@example.com", "-fname", "Ravi", "-lname", "Rao", "-school", "X", "-pincode", "56", "-state", "KA", "-city", "Mysuru"},
			pwds: []string{strongPassword, strongPassword}, wantErrStr: "pincode: pincode must be 6 digits; school_name: school name is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli, _ := setup(t)
			withPasswords(t, tt.pwds...)
			tt.check(t, cli.run(append([]string{"admin"}, tt.args...)))
		})
	}

	t.Run("onboarded", func(t *testing.T) {
		cli, out := setup(t)
		ctx := context.Background()
		withPasswords(t, strongPassword, strongPassword)
		require.NoError(t, cli.run(append([]string{"admin"}, onboardArgsOK...)))
		assert.Contains(t, out.String(), `school "Green Valley" onboarded`)

		usr, err := findUser(ctx, cli.store, "asha@example.com")
		require.NoError(t, err)
		assert.Equal(t, "Asha Verma", usr.String("name"))
		schools, err := cli.store.List(ctx, onboarding.SchoolsCollection)
		require.NoError(t, err)
		require.Len(t, schools, 1)
		assert.Equal(t, schools[0].ID, usr.String("school_id"))

		// the email is taken now
		withPasswords(t, strongPassword, strongPassword)
		err = cli.run(append([]string{"admin"}, onboardArgsOK...))
		assert.True(t, errors.Is(err, onboarding.ErrEmailTaken))
	})
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, _ := setup(t)
	withPasswords(t, strongPassword, strongPassword)
	require.NoError(t, cli.run(append([]string{"admin"}, onboardArgsOK...)))
	before, err := findUser(context.Background(), cli.store, "asha@example.com")
	require.NoError(t, err)

	tests := []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "email but no password", args: []string{"resetpassword", "-email", "asha@example.com"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-email", "lol@example.com"}, pwds: []string{"lol"}, wantErr: submission.ErrNotFound},
		{name: "weak password", args: []string{"resetpassword", "-email", "asha@example.com"}, pwds: []string{"P@ssw0rd1"}, wantErrStr: "password is too common"},
		{name: "reset", args: []string{"resetpassword", "-email", "ASHA@example.com"}, pwds: []string{"N3w!Secret#Pass"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withPasswords(t, tt.pwds...)
			tt.check(t, cli.run(append([]string{"admin"}, tt.args...)))
		})
	}

	after, err := findUser(context.Background(), cli.store, "asha@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, before.String("password_hash"), after.String("password_hash"))
	usr := onboarding.UserFromDocument(after)
	assert.NoError(t, usr.CheckPassword("N3w!Secret#Pass"))
}

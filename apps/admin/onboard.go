package main

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core/onboarding"
	"github.com/trezcool/enrol/core/user"
)

// operator is the actor behind wizards run from the console.
var operator = user.User{ID: "admin-cli", Name: "Admin console", Roles: []string{user.RoleAdmin, user.RoleOperator}}

type onboardArgs map[string]*string

func onboardFlags(fs *flag.FlagSet) onboardArgs {
	return onboardArgs{
		onboarding.FieldEmail:      fs.String("email", "", "The administrator's email."),
		onboarding.FieldFirstName:  fs.String("fname", "", "The administrator's first name."),
		onboarding.FieldLastName:   fs.String("lname", "", "The administrator's last name."),
		onboarding.FieldSchoolName: fs.String("school", "", "The school name."),
		onboarding.FieldPincode:    fs.String("pincode", "", "The school pincode (6 digits)."),
		onboarding.FieldState:      fs.String("state", "", "The school state."),
		onboarding.FieldCity:       fs.String("city", "", "The school city."),
	}
}

// record returns nil unless the email and the school name were given.
func (a onboardArgs) record() map[string]string {
	if *a[onboarding.FieldEmail] == "" || *a[onboarding.FieldSchoolName] == "" {
		return nil
	}
	fields := make(map[string]string, len(a))
	for name, val := range a {
		fields[name] = strings.TrimSpace(*val)
	}
	return fields
}

// onboard walks the operator wizard to its review step and submits it.
func (cli *commandLine) onboard(fields map[string]string, pwd, confirm string) error {
	wiz, err := onboarding.NewOperatorWizard(cli.validate, cli.translator, cli.store, operator, cli.log)
	if err != nil {
		return err
	}
	fields[onboarding.FieldPassword] = pwd
	fields[onboarding.FieldConfirmPassword] = confirm
	for name, val := range fields {
		if err := wiz.SetField(name, val); err != nil {
			return err
		}
	}

	for steps := len(wiz.Steps()) - 1; steps > 0; steps-- {
		if !wiz.Next() {
			return stepError(wiz.State().Errors)
		}
	}

	id, err := wiz.Submit(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "school %q onboarded, administrator id %s\n", fields[onboarding.FieldSchoolName], id)
	return nil
}

func stepError(errs map[string]string) error {
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	msgs := make([]string, 0, len(fields))
	for _, f := range fields {
		msgs = append(msgs, f+": "+errs[f])
	}
	return errors.New(strings.Join(msgs, "; "))
}

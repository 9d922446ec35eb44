package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/trezcool/enrol/core/onboarding"
	"github.com/trezcool/enrol/core/submission"
	"github.com/trezcool/enrol/core/user"
)

func (cli *commandLine) resetPassword(email, pwd string) error {
	ctx := context.Background()
	doc, err := findUser(ctx, cli.store, email)
	if err != nil {
		return err
	}
	usr := onboarding.UserFromDocument(doc)
	if err := user.CheckPassword(pwd, doc.String(onboarding.FieldFirstName), doc.String(onboarding.FieldLastName), usr.Email); err != nil {
		return err
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	if _, err := cli.store.Update(ctx, onboarding.UsersCollection, usr.ID, submission.Payload{"password_hash": string(usr.PasswordHash)}); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "password of %s updated\n", usr.Email)
	return nil
}

func findUser(ctx context.Context, store submission.Reader, email string) (submission.Document, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	users, err := store.List(ctx, onboarding.UsersCollection)
	if err != nil {
		return submission.Document{}, err
	}
	for _, doc := range users {
		if strings.EqualFold(doc.String("email"), email) {
			return doc, nil
		}
	}
	return submission.Document{}, submission.ErrNotFound
}

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"golang.org/x/term"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/submission"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	out        io.Writer
	store      submission.StoreReader
	validate   *validator.Validate
	translator ut.Translator
	log        core.Logger
	migrate    migrateFunc
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate - apply the pending postgres migrations")
	fmt.Fprintln(cli.out, "  onboard -email EMAIL -fname FIRST -lname LAST -school NAME -pincode PIN -state STATE -city CITY - create a school and its administrator")
	fmt.Fprintln(cli.out, "  resetpassword -email EMAIL - reset user's password")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	onboardCmd := flag.NewFlagSet("onboard", flag.ExitOnError)
	onboardCmd.SetOutput(cli.out)
	onboardFields := onboardFlags(onboardCmd)

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	resetPasswordCmd.SetOutput(cli.out)
	resetPasswordEmail := resetPasswordCmd.String("email", "", "The user's email. The password will be prompted next.")

	switch args[1] {
	case "migrate":
		return cli.runMigrations()

	case "onboard":
		if err := onboardCmd.Parse(args[2:]); err != nil {
			return err
		}
		fields := onboardFields.record()
		if fields == nil {
			onboardCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword("Enter password:")
		if err != nil {
			return err
		}
		confirm, err := cli.promptPassword("Confirm password:")
		if err != nil {
			return err
		}
		if pwd == "" {
			onboardCmd.Usage()
			return errHelp
		}
		return cli.onboard(fields, pwd, confirm)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordEmail == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword("Enter password:")
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordEmail, pwd)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) promptPassword(prompt string) (string, error) {
	fmt.Fprint(cli.out, prompt)
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

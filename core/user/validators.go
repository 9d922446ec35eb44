package user

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/enrol/core"
)

var (
	// password policy
	pwdMinLen     = 8
	pwdMaxLen     = 50
	pwdMinLenText = fmt.Sprintf("password must contain at least %d characters", pwdMinLen)
	pwdMaxLenText = fmt.Sprintf("password must contain at most %d characters", pwdMaxLen)

	pwdNoSpaceText = "password must not contain whitespace"

	pwdNotAllNumText = "password cannot be entirely numeric"

	pwdComplexityText = "password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character"
	specialRegex      = regexp.MustCompile("[^A-Za-z0-9]")

	pwdMaxSim      = .7
	pwdAttrSimText = "password cannot be similar to user attributes"

	pwdNoCommonText = "password is too common"

	commonPasswords     []string
	commonPasswordsOnce sync.Once
	// always rejected, on top of assets/common-passwords.txt.gz
	builtinCommonPasswords = []string{
		"p@ssw0rd", "p@ssw0rd1", "p@ssword1", "passw0rd!", "password1!", "password@123",
		"qwerty@123", "qwerty123!", "welcome@123", "welcome1!", "admin@123", "india@123",
	}
)

// PasswordError is returned by CheckPassword when a password breaks the policy.
type PasswordError struct {
	Message string
}

func (e *PasswordError) Error() string { return e.Message }

func loadCommonPasswords() {
	commonPasswords = make([]string, 0, len(builtinCommonPasswords))
	commonPasswords = append(commonPasswords, builtinCommonPasswords...)

	pwdAssetPath := filepath.Join(core.Getwd(), "assets", "common-passwords.txt.gz")
	if file, err := os.Open(pwdAssetPath); err == nil {
		//goland:noinspection GoUnhandledErrorResult
		defer file.Close()
		if gzRdr, err := gzip.NewReader(file); err == nil {
			scanner := bufio.NewScanner(gzRdr)
			for scanner.Scan() {
				commonPasswords = append(commonPasswords, strings.ToLower(strings.TrimSpace(scanner.Text())))
			}
		}
	}
	sort.Strings(commonPasswords)
}

// CheckPassword applies the password policy to pwd. attrs are user attributes
// (name, email...) the password must not resemble:
// - length: 8 to 50
// - no whitespace
// - not all numeric
// - complexity: 1 upper, 1 lower, 1 digit, 1 special
// - no user attrs similarity
// - no common password
func CheckPassword(pwd string, attrs ...string) error {
	commonPasswordsOnce.Do(loadCommonPasswords)

	reportErr := func(msg string) error {
		return &PasswordError{Message: msg}
	}

	var (
		digitCount                             int
		hasUpper, hasLower, hasDig, hasSpecial bool
	)

	chars := []rune(pwd)
	pwdLen := len(chars)
	if pwdLen < pwdMinLen {
		return reportErr(pwdMinLenText)
	}
	if pwdLen > pwdMaxLen {
		return reportErr(pwdMaxLenText)
	}
	for _, char := range chars {
		if unicode.IsSpace(char) {
			return reportErr(pwdNoSpaceText)
		}
		if unicode.IsDigit(char) {
			digitCount++
		}
		if !hasUpper && unicode.IsUpper(char) {
			hasUpper = true
		}
		if !hasLower && unicode.IsLower(char) {
			hasLower = true
		}
	}

	if digitCount == pwdLen {
		return reportErr(pwdNotAllNumText)
	}

	hasDig = digitCount > 0
	hasSpecial = specialRegex.MatchString(pwd)
	if !(hasUpper && hasLower && hasDig && hasSpecial) {
		return reportErr(pwdComplexityText)
	}

	getRatio := func(pass, usrAttr string) float64 {
		if usrAttr == "" {
			return 0
		}
		return difflib.NewMatcher(strings.Split(pass, ""), strings.Split(usrAttr, "")).QuickRatio()
	}
	lpwd := strings.ToLower(pwd)
	for _, attr := range attrs {
		if getRatio(lpwd, strings.ToLower(attr)) >= pwdMaxSim {
			return reportErr(pwdAttrSimText)
		}
	}

	if idx := sort.SearchStrings(commonPasswords, lpwd); idx < len(commonPasswords) {
		if match := commonPasswords[idx]; lpwd == match {
			return reportErr(pwdNoCommonText)
		}
	}
	return nil
}

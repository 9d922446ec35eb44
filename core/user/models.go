package user

import (
	"sort"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Roles
const (
	RoleAdmin   = "ADMIN"
	RoleTeacher = "TEACHER"
	RoleStudent = "STUDENT"
	RoleParent  = "PARENT"

	// RoleOperator runs the platform; its holders see the documents of every school.
	RoleOperator = "OPERATOR"
)

var (
	AllRoles = sortedRoles(RoleAdmin, RoleTeacher, RoleStudent, RoleParent, RoleOperator)

	rolePriorities = map[string]int{
		RoleOperator: 40,
		RoleAdmin:   30,
		RoleTeacher: 20,
		RoleParent:  10,
		RoleStudent: 1,
	}
)

func sortedRoles(roles ...string) []string {
	sort.Strings(roles)
	return roles
}

func RolePriority(role string) int {
	return rolePriorities[role]
}

func MaxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

// ValidRoles checks that the given roles are all in AllRoles.
func ValidRoles(roles []string) bool {
	for _, role := range roles {
		if idx := sort.SearchStrings(AllRoles, role); idx == len(AllRoles) || AllRoles[idx] != role {
			return false
		}
	}
	return true
}

// User is the authenticated actor of a session.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	SchoolID     string    `json:"school_id,omitempty"`
	Roles        []string  `json:"roles"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (u User) IsAdmin() bool   { return u.HasRole(RoleAdmin) }
func (u User) IsTeacher() bool { return u.HasRole(RoleTeacher) }
func (u User) IsOperator() bool { return u.HasRole(RoleOperator) }

// IsAnonymous reports whether u is the zero actor of an unauthenticated session (eg signup).
func (u User) IsAnonymous() bool { return u.ID == "" }

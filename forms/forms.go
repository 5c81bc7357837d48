// Package forms validates user input before it reaches the backend. A form
// that fails validation never causes a request or a session change.
package forms

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ggoodman/paddock/api"
	"github.com/ggoodman/paddock/auth"
)

// MinPasswordLength is the shortest password the register form accepts.
const MinPasswordLength = 6

// ShortPassword reports whether pw has fewer than MinPasswordLength
// characters.
func ShortPassword(pw string) bool {
	return utf8.RuneCountInString(pw) < MinPasswordLength
}

// ErrInvalid matches any Errors value with errors.Is.
var ErrInvalid = errors.New("forms: invalid input")

// FieldError is one problem with one field.
type FieldError struct {
	Field   string
	Message string
}

// Errors collects field problems in the order they were found.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrInvalid) hold.
func (e Errors) Is(target error) bool { return target == ErrInvalid }

// Field returns the first message recorded for name.
func (e Errors) Field(name string) string {
	for _, fe := range e {
		if fe.Field == name {
			return fe.Message
		}
	}
	return ""
}

func (e *Errors) add(field, msg string) {
	*e = append(*e, FieldError{Field: field, Message: msg})
}

func (e Errors) err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Register is the self-service sign-up form.
type Register struct {
	Username string
	Email    string
	Password string
	Confirm  string
}

// Validate trims the text fields and checks the form.
func (f *Register) Validate() error {
	f.Username = strings.TrimSpace(f.Username)
	f.Email = strings.TrimSpace(f.Email)

	var errs Errors
	if f.Username == "" {
		errs.add("username", "username is required")
	}
	switch {
	case f.Password == "":
		errs.add("password", "password is required")
	case ShortPassword(f.Password):
		errs.add("password", "password must be at least "+strconv.Itoa(MinPasswordLength)+" characters")
	case f.Password != f.Confirm:
		errs.add("confirm", "passwords do not match")
	}
	if f.Email != "" && !strings.Contains(f.Email, "@") {
		errs.add("email", "email must contain @")
	}
	return errs.err()
}

// Request builds the POST /register body. Self-service accounts are always
// plain users.
func (f Register) Request() api.Registration {
	return api.Registration{Username: f.Username, Email: f.Email, Password: f.Password, Role: auth.RoleUser}
}

// Login is the sign-in form.
type Login struct {
	Username string
	Password string
}

// Validate trims the username and checks that both fields are present.
func (f *Login) Validate() error {
	f.Username = strings.TrimSpace(f.Username)
	var errs Errors
	if f.Username == "" {
		errs.add("username", "username is required")
	}
	if f.Password == "" {
		errs.add("password", "password is required")
	}
	return errs.err()
}

// Team is the create-team form.
type Team struct {
	Name        string
	BaseCountry string
}

// Validate trims the fields and requires a name.
func (f *Team) Validate() error {
	f.Name = strings.TrimSpace(f.Name)
	f.BaseCountry = strings.TrimSpace(f.BaseCountry)
	var errs Errors
	if f.Name == "" {
		errs.add("name", "team name is required")
	}
	return errs.err()
}

// Request builds the POST /teams body.
func (f Team) Request() api.NewTeam {
	return api.NewTeam{Name: f.Name, BaseCountry: f.BaseCountry}
}

// Pilot is the create-pilot form.
type Pilot struct {
	Name      string
	Team      string
	CarNumber string
}

// Validate trims the fields, requires a name and checks that a car number,
// when given, is a positive integer.
func (f *Pilot) Validate() error {
	f.Name = strings.TrimSpace(f.Name)
	f.Team = strings.TrimSpace(f.Team)
	f.CarNumber = strings.TrimSpace(f.CarNumber)

	var errs Errors
	if f.Name == "" {
		errs.add("name", "pilot name is required")
	}
	if f.CarNumber != "" {
		if n, err := strconv.Atoi(f.CarNumber); err != nil || n <= 0 {
			errs.add("car_number", "car number must be a positive integer")
		}
	}
	return errs.err()
}

// Request builds the POST /pilots body.
func (f Pilot) Request() api.NewPilot {
	return api.NewPilot{Name: f.Name, Team: f.Team, CarNumber: api.CarNumber(f.CarNumber)}
}

// User is the admin create-user form. Unlike Register it picks a role and
// has no confirmation field.
type User struct {
	Username string
	Email    string
	Password string
	Role     string
}

// Validate trims the text fields, defaults the role to user and checks the
// form.
func (f *User) Validate() error {
	f.Username = strings.TrimSpace(f.Username)
	f.Email = strings.TrimSpace(f.Email)
	f.Role = strings.TrimSpace(f.Role)
	if f.Role == "" {
		f.Role = auth.RoleUser
	}

	var errs Errors
	if f.Username == "" {
		errs.add("username", "username is required")
	}
	switch {
	case f.Password == "":
		errs.add("password", "password is required")
	case ShortPassword(f.Password):
		errs.add("password", "password must be at least "+strconv.Itoa(MinPasswordLength)+" characters")
	}
	if f.Email != "" && !strings.Contains(f.Email, "@") {
		errs.add("email", "email must contain @")
	}
	if !ValidRole(f.Role) {
		errs.add("role", "role must be one of admin, user, visitor")
	}
	return errs.err()
}

// Request builds the POST /admin/users body.
func (f User) Request() api.Registration {
	return api.Registration{Username: f.Username, Email: f.Email, Password: f.Password, Role: f.Role}
}

// ValidRole reports whether role is one the backend seeds.
func ValidRole(role string) bool {
	switch role {
	case auth.RoleAdmin, auth.RoleUser, auth.RoleVisitor:
		return true
	}
	return false
}

package emailpassword

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/samber/oops"

	"github.com/panyam/authrecipes/delivery"
	"github.com/panyam/authrecipes/override"
	"github.com/panyam/authrecipes/recipe"
)

// Form field ids every sign up form has.
const (
	FormFieldEmail    = "email"
	FormFieldPassword = "password"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 100
)

// Validator returns a message for the user when value is not acceptable,
// and "" when it is.
type Validator func(ctx context.Context, value any, tenantID string) (string, error)

// FormField is one field of the sign up form.
type FormField struct {
	ID       string
	Optional bool
	// Validate defaults to the email or password check for those fields and
	// to accepting anything otherwise.
	Validate Validator
}

// Config configures the recipe.
type Config struct {
	// SignUpFormFields adds to or replaces the email and password fields.
	SignUpFormFields []FormField

	EmailDelivery delivery.Config[delivery.EmailInput]
	Override      struct {
		Functions override.Func[RecipeInterface]
		APIs      override.Func[APIInterface]
	}
	// DisabledAPIs lists API ids that are not registered.
	DisabledAPIs []string
	Logger       *slog.Logger

	signUpFields []FormField
	signInFields []FormField
}

func (c *Config) normalise() error {
	seen := map[string]bool{}
	var fields []FormField
	var email, password *FormField
	for _, f := range c.SignUpFormFields {
		if f.ID == "" {
			return oops.Code("CONFIG_INVALID").Errorf("emailpassword: form field without an id")
		}
		if seen[f.ID] {
			return oops.Code("CONFIG_INVALID").With("field", f.ID).Errorf("emailpassword: duplicate form field %s", f.ID)
		}
		seen[f.ID] = true
		switch f.ID {
		case FormFieldEmail:
			if f.Validate == nil {
				f.Validate = DefaultValidateEmail
			}
			f.Optional = false
			email = &f
		case FormFieldPassword:
			if f.Validate == nil {
				f.Validate = DefaultValidatePassword
			}
			f.Optional = false
			password = &f
		default:
			if f.Validate == nil {
				f.Validate = func(context.Context, any, string) (string, error) { return "", nil }
			}
		}
		fields = append(fields, f)
	}
	if email == nil {
		email = &FormField{ID: FormFieldEmail, Validate: DefaultValidateEmail}
		fields = append([]FormField{*email}, fields...)
	}
	if password == nil {
		password = &FormField{ID: FormFieldPassword, Validate: DefaultValidatePassword}
		fields = append(fields, *password)
	}
	c.signUpFields = fields
	// Sign in only rejects empty passwords so that rules added later do not
	// lock out existing users.
	c.signInFields = []FormField{
		*email,
		{ID: FormFieldPassword, Validate: func(context.Context, any, string) (string, error) { return "", nil }},
	}
	return nil
}

// DefaultValidateEmail checks the address format.
func DefaultValidateEmail(_ context.Context, value any, _ string) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "Development bug: Please make sure the email field yields a string", nil
	}
	if !recipe.IsValidEmail(s) {
		return "Email is invalid", nil
	}
	return "", nil
}

// DefaultValidatePassword requires 8 to 100 characters with at least one
// letter and one digit.
func DefaultValidatePassword(_ context.Context, value any, _ string) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "Development bug: Please make sure the password field yields a string", nil
	}
	if len(s) < minPasswordLength {
		return "Password must contain at least 8 characters, including a number", nil
	}
	if len(s) >= maxPasswordLength {
		return "Password's length must be lesser than 100 characters", nil
	}
	if !strings.ContainsFunc(s, unicode.IsLetter) {
		return "Password must contain at least one alphabet", nil
	}
	if !strings.ContainsFunc(s, unicode.IsDigit) {
		return "Password must contain at least one number", nil
	}
	return "", nil
}

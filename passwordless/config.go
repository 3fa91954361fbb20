package passwordless

import (
	"context"
	"log/slog"
	"strings"

	"github.com/samber/oops"

	"github.com/panyam/authrecipes/delivery"
	"github.com/panyam/authrecipes/override"
	"github.com/panyam/authrecipes/recipe"
)

// ContactMethod says which contacts users sign in with.
type ContactMethod string

const (
	ContactMethodEmail        ContactMethod = "EMAIL"
	ContactMethodPhone        ContactMethod = "PHONE"
	ContactMethodEmailOrPhone ContactMethod = "EMAIL_OR_PHONE"
)

func (m ContactMethod) allowsEmail() bool {
	return m == ContactMethodEmail || m == ContactMethodEmailOrPhone
}

func (m ContactMethod) allowsPhone() bool {
	return m == ContactMethodPhone || m == ContactMethodEmailOrPhone
}

// FlowType says what a login message carries.
type FlowType string

const (
	FlowTypeUserInputCode             FlowType = "USER_INPUT_CODE"
	FlowTypeMagicLink                 FlowType = "MAGIC_LINK"
	FlowTypeUserInputCodeAndMagicLink FlowType = "USER_INPUT_CODE_AND_MAGIC_LINK"
)

func (f FlowType) sendsCode() bool { return f != FlowTypeMagicLink }
func (f FlowType) sendsLink() bool { return f != FlowTypeUserInputCode }

// Validator returns a message for the user when value is not acceptable,
// and "" when it is.
type Validator func(ctx context.Context, value, tenantID string) (string, error)

// Config configures the recipe. ContactMethod and FlowType are required.
type Config struct {
	ContactMethod ContactMethod
	FlowType      FlowType

	// ValidateEmailAddress defaults to a format check.
	ValidateEmailAddress Validator
	// ValidatePhoneNumber defaults to checking the number is a valid
	// international number.
	ValidatePhoneNumber Validator
	// GetCustomUserInputCode supplies the code instead of the core.
	GetCustomUserInputCode func(ctx context.Context, tenantID string) (string, error)

	EmailDelivery delivery.Config[delivery.EmailInput]
	SMSDelivery   delivery.Config[delivery.SMSInput]
	Override      struct {
		Functions override.Func[RecipeInterface]
		APIs      override.Func[APIInterface]
	}
	// DisabledAPIs lists API ids that are not registered.
	DisabledAPIs []string
	Logger       *slog.Logger
}

func (c *Config) normalise() error {
	switch c.ContactMethod {
	case ContactMethodEmail, ContactMethodPhone, ContactMethodEmailOrPhone:
	default:
		return oops.Code("CONFIG_INVALID").
			Errorf("passwordless: please pass one of PHONE, EMAIL or EMAIL_OR_PHONE as the contactMethod, got %q", c.ContactMethod)
	}
	switch c.FlowType {
	case FlowTypeUserInputCode, FlowTypeMagicLink, FlowTypeUserInputCodeAndMagicLink:
	default:
		return oops.Code("CONFIG_INVALID").
			Errorf("passwordless: please pass one of USER_INPUT_CODE, MAGIC_LINK or USER_INPUT_CODE_AND_MAGIC_LINK as the flowType, got %q", c.FlowType)
	}
	if c.ValidateEmailAddress == nil {
		c.ValidateEmailAddress = DefaultValidateEmail
	}
	if c.ValidatePhoneNumber == nil {
		c.ValidatePhoneNumber = DefaultValidatePhoneNumber
	}
	return nil
}

// DefaultValidateEmail checks the address format.
func DefaultValidateEmail(_ context.Context, value, _ string) (string, error) {
	if !recipe.IsValidEmail(value) {
		return "Email is invalid", nil
	}
	return "", nil
}

// DefaultValidatePhoneNumber accepts numbers that parse as valid
// international numbers.
func DefaultValidatePhoneNumber(_ context.Context, value, _ string) (string, error) {
	if !isValidPhoneNumber(strings.TrimSpace(value)) {
		return "Phone number is invalid", nil
	}
	return "", nil
}

// enabledFactors lists the factors the config can serve.
func (c *Config) enabledFactors() []string {
	var out []string
	if c.ContactMethod.allowsEmail() {
		if c.FlowType.sendsCode() {
			out = append(out, recipe.FactorOTPEmail)
		}
		if c.FlowType.sendsLink() {
			out = append(out, recipe.FactorLinkEmail)
		}
	}
	if c.ContactMethod.allowsPhone() {
		if c.FlowType.sendsCode() {
			out = append(out, recipe.FactorOTPPhone)
		}
		if c.FlowType.sendsLink() {
			out = append(out, recipe.FactorLinkPhone)
		}
	}
	return out
}

// factorsFor returns the factors a code sent to contact may complete. A
// secondary factor uses exactly one variant, preferring the code.
func (c *Config) factorsFor(contact Contact, secondary bool) []string {
	_, isPhone := contact.PhoneNumber()
	otp, link := recipe.FactorOTPEmail, recipe.FactorLinkEmail
	if isPhone {
		otp, link = recipe.FactorOTPPhone, recipe.FactorLinkPhone
	}
	if secondary {
		if c.FlowType == FlowTypeMagicLink {
			return []string{link}
		}
		return []string{otp}
	}
	var out []string
	for _, f := range c.enabledFactors() {
		if f == otp || f == link {
			out = append(out, f)
		}
	}
	return out
}

// flowTypeFor narrows the configured flow type to what the valid factors
// allow.
func flowTypeFor(factors []string) FlowType {
	codes, links := 0, 0
	for _, f := range factors {
		if strings.HasPrefix(f, "link") {
			links++
		} else if strings.HasPrefix(f, "otp") {
			codes++
		}
	}
	switch {
	case codes == 0:
		return FlowTypeMagicLink
	case links == 0:
		return FlowTypeUserInputCode
	}
	return FlowTypeUserInputCodeAndMagicLink
}

func factorForCredentials(creds Credentials, device Device) string {
	_, isPhone := device.Contact().PhoneNumber()
	switch {
	case isPhone && creds.UsesLinkCode():
		return recipe.FactorLinkPhone
	case isPhone:
		return recipe.FactorOTPPhone
	case creds.UsesLinkCode():
		return recipe.FactorLinkEmail
	}
	return recipe.FactorOTPEmail
}

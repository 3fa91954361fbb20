package passwordless

import (
	"github.com/panyam/authrecipes/recipe"
)

// Statuses returned by the core and the APIs besides OK.
const (
	StatusOK                          = "OK"
	StatusRestartFlow                 = "RESTART_FLOW_ERROR"
	StatusIncorrectCode               = "INCORRECT_USER_INPUT_CODE_ERROR"
	StatusExpiredCode                 = "EXPIRED_USER_INPUT_CODE_ERROR"
	StatusCodeAlreadyUsed             = "USER_INPUT_CODE_ALREADY_USED_ERROR"
	StatusGeneralError                = "GENERAL_ERROR"
	StatusUnknownUserID               = "UNKNOWN_USER_ID_ERROR"
	StatusEmailAlreadyExists          = "EMAIL_ALREADY_EXISTS_ERROR"
	StatusPhoneNumberAlreadyExists    = "PHONE_NUMBER_ALREADY_EXISTS_ERROR"
	StatusEmailChangeNotAllowed       = "EMAIL_CHANGE_NOT_ALLOWED_ERROR"
	StatusPhoneNumberChangeNotAllowed = "PHONE_NUMBER_CHANGE_NOT_ALLOWED_ERROR"
)

// Contact is the email address or the phone number a device sends codes
// to. Build it with EmailContact or PhoneContact.
type Contact struct {
	email string
	phone string
}

// EmailContact returns an email contact.
func EmailContact(email string) Contact { return Contact{email: email} }

// PhoneContact returns a phone contact.
func PhoneContact(phoneNumber string) Contact { return Contact{phone: phoneNumber} }

// Email returns the address and whether c is an email contact.
func (c Contact) Email() (string, bool) { return c.email, c.email != "" }

// PhoneNumber returns the number and whether c is a phone contact.
func (c Contact) PhoneNumber() (string, bool) { return c.phone, c.phone != "" }

// IsZero reports whether c carries neither an email nor a phone number.
func (c Contact) IsZero() bool { return c.email == "" && c.phone == "" }

// AccountInfo returns c as account info.
func (c Contact) AccountInfo() recipe.AccountInfo {
	return recipe.AccountInfo{Email: c.email, PhoneNumber: c.phone}
}

func (c Contact) withRecipeID() recipe.AccountInfoWithRecipeID {
	return recipe.AccountInfoWithRecipeID{RecipeID: RecipeID, AccountInfo: c.AccountInfo()}
}

func (c Contact) body() map[string]any {
	if c.phone != "" {
		return map[string]any{"phoneNumber": c.phone}
	}
	return map[string]any{"email": c.email}
}

// matches reports whether lm is a passwordless login method for c.
func (c Contact) matches(lm recipe.LoginMethod) bool {
	if lm.RecipeID != RecipeID {
		return false
	}
	if c.phone != "" {
		return lm.HasSamePhoneNumberAs(c.phone)
	}
	return lm.HasSameEmailAs(c.email)
}

// CodeResult is a freshly created code.
type CodeResult struct {
	Status           string `json:"status"`
	PreAuthSessionID string `json:"preAuthSessionId,omitempty"`
	CodeID           string `json:"codeId,omitempty"`
	DeviceID         string `json:"deviceId,omitempty"`
	UserInputCode    string `json:"userInputCode,omitempty"`
	LinkCode         string `json:"linkCode,omitempty"`
	CodeLifetime     int64  `json:"codeLifetime,omitempty"`
	TimeCreated      int64  `json:"timeCreated,omitempty"`
}

// Credentials identify the code a user is consuming: either a link code or
// a device id and user input code, always with the pre-auth session id.
type Credentials struct {
	PreAuthSessionID string
	LinkCode         string
	DeviceID         string
	UserInputCode    string
}

// Validate checks that exactly one of the two shapes is set.
func (c Credentials) Validate() error {
	if c.PreAuthSessionID == "" {
		return recipe.NewBadInputError("Please provide preAuthSessionId")
	}
	if c.DeviceID != "" || c.UserInputCode != "" {
		if c.LinkCode != "" {
			return recipe.NewBadInputError("Please provide one of (linkCode) or (deviceId+userInputCode) and not both")
		}
		if c.DeviceID == "" || c.UserInputCode == "" {
			return recipe.NewBadInputError("Please provide both deviceId and userInputCode")
		}
		return nil
	}
	if c.LinkCode == "" {
		return recipe.NewBadInputError("Please provide one of (linkCode) or (deviceId+userInputCode) and not both")
	}
	return nil
}

// UsesLinkCode reports whether c is the magic link shape.
func (c Credentials) UsesLinkCode() bool { return c.LinkCode != "" }

func (c Credentials) body() map[string]any {
	if c.UsesLinkCode() {
		return map[string]any{"preAuthSessionId": c.PreAuthSessionID, "linkCode": c.LinkCode}
	}
	return map[string]any{
		"preAuthSessionId": c.PreAuthSessionID,
		"deviceId":         c.DeviceID,
		"userInputCode":    c.UserInputCode,
	}
}

// ConsumedDevice is the device a checked or consumed code belonged to.
type ConsumedDevice struct {
	PreAuthSessionID            string `json:"preAuthSessionId"`
	FailedCodeInputAttemptCount int    `json:"failedCodeInputAttemptCount"`
	Email                       string `json:"email,omitempty"`
	PhoneNumber                 string `json:"phoneNumber,omitempty"`
}

// CheckCodeResult is the outcome of checking credentials without consuming
// them.
type CheckCodeResult struct {
	Status                      string          `json:"status"`
	ConsumedDevice              *ConsumedDevice `json:"consumedDevice,omitempty"`
	FailedCodeInputAttemptCount int             `json:"failedCodeInputAttemptCount,omitempty"`
	MaximumCodeInputAttempts    int             `json:"maximumCodeInputAttempts,omitempty"`
}

// ConsumeCodeResult is the outcome of consuming a code. Reason is set with
// a linking denial.
type ConsumeCodeResult struct {
	Status                      string
	Reason                      string
	CreatedNewRecipeUser        bool
	User                        *recipe.User
	RecipeUserID                recipe.RecipeUserID
	ConsumedDevice              *ConsumedDevice
	FailedCodeInputAttemptCount int
	MaximumCodeInputAttempts    int
}

// DeviceCode is one code of a device. The code values are never listed.
type DeviceCode struct {
	CodeID       string `json:"codeId"`
	TimeCreated  int64  `json:"timeCreated"`
	CodeLifetime int64  `json:"codeLifetime"`
}

// Device is a pending login attempt.
type Device struct {
	PreAuthSessionID            string       `json:"preAuthSessionId"`
	FailedCodeInputAttemptCount int          `json:"failedCodeInputAttemptCount"`
	Email                       string       `json:"email,omitempty"`
	PhoneNumber                 string       `json:"phoneNumber,omitempty"`
	DeviceIDHash                string       `json:"deviceIdHash"`
	Codes                       []DeviceCode `json:"codes"`
}

// Contact returns the device's contact.
func (d Device) Contact() Contact {
	if d.PhoneNumber != "" {
		return PhoneContact(d.PhoneNumber)
	}
	return EmailContact(d.Email)
}

// RevokeCodeInput names either one code or a whole device.
type RevokeCodeInput struct {
	CodeID           string
	PreAuthSessionID string
}

// UpdateUserInput changes the contact of a passwordless login method. A nil
// field is left alone; a pointer to "" removes the value.
type UpdateUserInput struct {
	RecipeUserID recipe.RecipeUserID
	Email        *string
	PhoneNumber  *string
}

// UpdateUserResult is OK or one of the update statuses. Reason explains
// StatusEmailChangeNotAllowed.
type UpdateUserResult struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

package delivery

// Message types.
const (
	TypePasswordlessLogin = "PASSWORDLESS_LOGIN"
	TypeEmailVerification = "EMAIL_VERIFICATION"
	TypePasswordReset     = "PASSWORD_RESET"
)

// PasswordlessLogin carries a one-time code and/or magic link. At least one
// of UserInputCode and URLWithLinkCode is set, depending on the flow type.
type PasswordlessLogin struct {
	UserInputCode    string
	URLWithLinkCode  string
	CodeLifetime     int64 // milliseconds
	PreAuthSessionID string
	TenantID         string
	IsFirstFactor    bool
}

// EmailUser identifies the recipient of an account email.
type EmailUser struct {
	ID           string
	RecipeUserID string
	Email        string
}

// EmailVerification carries a link to verify Email.
type EmailVerification struct {
	User            EmailUser
	EmailVerifyLink string
	TenantID        string
}

// PasswordReset carries a link to reset a password.
type PasswordReset struct {
	User              EmailUser
	PasswordResetLink string
	TenantID          string
}

// EmailInput is one email. Type says which of the payloads is set.
type EmailInput struct {
	Type              string
	Email             string
	PasswordlessLogin *PasswordlessLogin
	EmailVerification *EmailVerification
	PasswordReset     *PasswordReset
}

// SMSInput is one text message.
type SMSInput struct {
	Type              string
	PhoneNumber       string
	PasswordlessLogin *PasswordlessLogin
}

// NewPasswordlessLoginEmail builds a login email.
func NewPasswordlessLoginEmail(email string, login PasswordlessLogin) EmailInput {
	return EmailInput{Type: TypePasswordlessLogin, Email: email, PasswordlessLogin: &login}
}

// NewPasswordlessLoginSMS builds a login SMS.
func NewPasswordlessLoginSMS(phoneNumber string, login PasswordlessLogin) SMSInput {
	return SMSInput{Type: TypePasswordlessLogin, PhoneNumber: phoneNumber, PasswordlessLogin: &login}
}

// NewEmailVerificationEmail builds a verification email.
func NewEmailVerificationEmail(ev EmailVerification) EmailInput {
	return EmailInput{Type: TypeEmailVerification, Email: ev.User.Email, EmailVerification: &ev}
}

// NewPasswordResetEmail builds a password reset email.
func NewPasswordResetEmail(pr PasswordReset) EmailInput {
	return EmailInput{Type: TypePasswordReset, Email: pr.User.Email, PasswordReset: &pr}
}

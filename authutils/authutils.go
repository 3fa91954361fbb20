// Package authutils holds the sign in and sign up checks shared by the
// passwordless, thirdparty and emailpassword recipes: loading the session a
// sign in may link to, deciding whether the sign in is allowed, creating or
// updating the session afterwards, and turning denials into user facing
// messages.
package authutils

import (
	"log/slog"

	"github.com/samber/oops"

	"github.com/panyam/authrecipes/accountlinking"
	"github.com/panyam/authrecipes/delivery"
	"github.com/panyam/authrecipes/emailverification"
	"github.com/panyam/authrecipes/internal/logging"
	"github.com/panyam/authrecipes/multitenancy"
	"github.com/panyam/authrecipes/querier"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
)

// Deps are the collaborators the app builds once and hands to every recipe
// builder.
type Deps struct {
	Querier        *querier.Querier
	AppInfo        recipe.AppInfo
	Session        *session.Recipe
	Multitenancy   *multitenancy.Recipe
	AccountLinking *accountlinking.Recipe
	// EmailVerification is nil when the app does not verify emails.
	EmailVerification *emailverification.Recipe
	// AvailableFirstFactors lists the first factors of all configured
	// recipes. The app sets it once every recipe is built.
	AvailableFirstFactors func() []string

	DefaultEmailService delivery.Service[delivery.EmailInput]
	DefaultSMSService   delivery.Service[delivery.SMSInput]
	Logger              *slog.Logger
}

func (d *Deps) logger() *slog.Logger { return logging.OrDefault(d.Logger) }

func (d *Deps) availableFirstFactors() []string {
	if d.AvailableFirstFactors == nil {
		return nil
	}
	return d.AvailableFirstFactors()
}

// Statuses produced by the checks.
const (
	StatusOK                 = "OK"
	StatusSignUpNotAllowed   = "SIGN_UP_NOT_ALLOWED"
	StatusSignInNotAllowed   = "SIGN_IN_NOT_ALLOWED"
	StatusLinkingFailed      = "LINKING_TO_SESSION_USER_FAILED"
	StatusSignInUpNotAllowed = "SIGN_IN_UP_NOT_ALLOWED"
)

// Reasons attached to StatusLinkingFailed.
const (
	ReasonEmailVerificationRequired               = "EMAIL_VERIFICATION_REQUIRED"
	ReasonRecipeUserIDAlreadyLinked               = accountlinking.StatusRecipeUserIDAlreadyLinked
	ReasonAccountInfoAlreadyAssociated            = accountlinking.StatusAccountInfoAlreadyAssociated
	ReasonSessionUserAccountInfoAlreadyAssociated = "SESSION_USER_ACCOUNT_INFO_ALREADY_ASSOCIATED_WITH_ANOTHER_PRIMARY_USER_ID_ERROR"
	ReasonInputUserIsNotAPrimaryUser              = accountlinking.StatusInputUserIsNotAPrimaryUser
)

// TryLinking says whether a sign in should link the new login method to the
// user of the current session.
type TryLinking int

const (
	// TryLinkingIfPossible links when a session exists and the app's linking
	// decision allows it.
	TryLinkingIfPossible TryLinking = iota
	// TryLinkingRequired fails the request when no session exists or linking
	// is not allowed.
	TryLinkingRequired
	// TryLinkingNever ignores any session.
	TryLinkingNever
)

// TryLinkingFrom reads the optional shouldTryLinkingWithSessionUser body field.
func TryLinkingFrom(v *bool) TryLinking {
	switch {
	case v == nil:
		return TryLinkingIfPossible
	case *v:
		return TryLinkingRequired
	}
	return TryLinkingNever
}

// Denial identifies a non OK check result. Reason is only set for
// StatusLinkingFailed.
type Denial struct {
	Status string
	Reason string
}

// ErrorCodeMap holds the message shown for each denial a recipe can produce.
// A key with an empty Reason matches any reason of that status.
type ErrorCodeMap map[Denial]string

// StatusWithReason is the response body for a mapped denial.
type StatusWithReason struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// ErrorStatusResponseWithReason maps d through m and returns it under
// errorStatus. An unmapped denial is a programming error.
func ErrorStatusResponseWithReason(d Denial, m ErrorCodeMap, errorStatus string) (StatusWithReason, error) {
	if msg, ok := m[d]; ok {
		return StatusWithReason{Status: errorStatus, Reason: msg}, nil
	}
	if msg, ok := m[Denial{Status: d.Status}]; ok {
		return StatusWithReason{Status: errorStatus, Reason: msg}, nil
	}
	return StatusWithReason{}, oops.Code("UNMAPPED_ERROR_STATUS").
		With("status", d.Status).
		With("reason", d.Reason).
		Errorf("unmapped error status %s", d.Status)
}

// LinkingErrorCodes adds the three session linking messages to m, numbered
// with the given support codes.
func LinkingErrorCodes(m ErrorCodeMap, recipeUserLinked, accountInfoAssociated, sessionUserAssociated string) ErrorCodeMap {
	msg := func(code string) string {
		return "Cannot sign in / up due to security reasons. Please contact support. (" + code + ")"
	}
	m[Denial{StatusLinkingFailed, ReasonRecipeUserIDAlreadyLinked}] = msg(recipeUserLinked)
	m[Denial{StatusLinkingFailed, ReasonAccountInfoAlreadyAssociated}] = msg(accountInfoAssociated)
	m[Denial{StatusLinkingFailed, ReasonSessionUserAccountInfoAlreadyAssociated}] = msg(sessionUserAssociated)
	return m
}

// SignInUpDeniedMessage is the message for sign up and sign in denials that
// suggests another login method.
func SignInUpDeniedMessage(code string) string {
	return "Cannot sign in / up due to security reasons. Please try a different login method or contact support. (" + code + ")"
}

func findLoginMethod(user *recipe.User, recipeID string, info recipe.AccountInfo) *recipe.LoginMethod {
	if user == nil {
		return nil
	}
	for i := range user.LoginMethods {
		lm := &user.LoginMethods[i]
		if lm.RecipeID != recipeID {
			continue
		}
		if info.ThirdParty != nil {
			if lm.HasSameThirdPartyInfoAs(info.ThirdParty) {
				return lm
			}
			continue
		}
		if lm.Matches(info) {
			return lm
		}
	}
	return nil
}

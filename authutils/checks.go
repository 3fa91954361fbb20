package authutils

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/samber/oops"

	"github.com/panyam/authrecipes/emailverification"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
)

// LoadSessionInAuthAPIIfNeeded returns the session a sign in may link to.
// With TryLinkingRequired a missing session is an UnauthorisedError.
func (d *Deps) LoadSessionInAuthAPIIfNeeded(w http.ResponseWriter, req *http.Request, try TryLinking) (session.Session, error) {
	if try == TryLinkingNever {
		return nil, nil
	}
	return d.Session.GetSession(w, req, session.Options{SessionRequired: try == TryLinkingRequired})
}

// AuthTypeInfo says whether a sign in is a first factor or will be linked to
// the session user.
type AuthTypeInfo struct {
	Status string
	Reason string

	IsFirstFactor                            bool
	InputUserAlreadyLinkedToSessionUser      bool
	SessionUser                              *recipe.User
	LinkingToSessionUserRequiresVerification bool
}

var firstFactor = AuthTypeInfo{Status: StatusOK, IsFirstFactor: true}

// CheckAuthTypeAndLinkingStatus decides how a sign in with accountInfo
// relates to s. inputUser is the existing user being signed in, if any.
func (d *Deps) CheckAuthTypeAndLinkingStatus(ctx context.Context, s session.Session, try TryLinking, accountInfo recipe.AccountInfoWithRecipeID, inputUser *recipe.User, skipSessionUserUpdateInCore bool) (AuthTypeInfo, error) {
	if s == nil {
		if try == TryLinkingRequired {
			return AuthTypeInfo{}, recipe.NewUnauthorisedError("a session is required to link the login method")
		}
		return firstFactor, nil
	}
	if try == TryLinkingNever {
		return firstFactor, nil
	}
	if inputUser != nil && inputUser.ID == s.UserID() {
		return AuthTypeInfo{Status: StatusOK, InputUserAlreadyLinkedToSessionUser: true, SessionUser: inputUser}, nil
	}

	status, sessionUser, err := d.tryAndMakeSessionUserIntoAPrimaryUser(ctx, s, skipSessionUserUpdateInCore)
	if err != nil {
		return AuthTypeInfo{}, err
	}
	switch status {
	case statusShouldNotLink:
		if try == TryLinkingRequired {
			return AuthTypeInfo{}, recipe.NewBadInputError("Session user not allowed to become primary user")
		}
		return firstFactor, nil
	case ReasonAccountInfoAlreadyAssociated:
		return AuthTypeInfo{Status: StatusLinkingFailed, Reason: ReasonSessionUserAccountInfoAlreadyAssociated}, nil
	}

	should, err := d.AccountLinking.ShouldDoAutomaticAccountLinking(ctx, accountInfo, sessionUser, s, s.TenantID())
	if err != nil {
		return AuthTypeInfo{}, err
	}
	if !should.ShouldAutomaticallyLink {
		if try == TryLinkingRequired {
			return AuthTypeInfo{}, recipe.NewBadInputError("Account linking not allowed")
		}
		return firstFactor, nil
	}
	return AuthTypeInfo{
		Status:                                   StatusOK,
		SessionUser:                              sessionUser,
		LinkingToSessionUserRequiresVerification: should.ShouldRequireVerification,
	}, nil
}

const statusShouldNotLink = "SHOULD_AUTOMATICALLY_LINK_FALSE"

func (d *Deps) tryAndMakeSessionUserIntoAPrimaryUser(ctx context.Context, s session.Session, skipUpdate bool) (string, *recipe.User, error) {
	user, err := d.AccountLinking.Impl.GetUser(ctx, s.UserID())
	if err != nil {
		return "", nil, err
	}
	if user == nil || len(user.LoginMethods) == 0 {
		return "", nil, recipe.NewUnauthorisedError("session user not found")
	}
	if user.IsPrimaryUser {
		return StatusOK, user, nil
	}

	lm := user.LoginMethods[0]
	info := lm.AccountInfo()
	info.RecipeUserID = lm.RecipeUserID
	should, err := d.AccountLinking.ShouldDoAutomaticAccountLinking(ctx, info, nil, s, s.TenantID())
	if err != nil {
		return "", nil, err
	}
	if !should.ShouldAutomaticallyLink {
		return statusShouldNotLink, nil, nil
	}
	if skipUpdate {
		res, err := d.AccountLinking.Impl.CanCreatePrimaryUser(ctx, lm.RecipeUserID)
		if err != nil {
			return "", nil, err
		}
		switch res.Status {
		case ReasonAccountInfoAlreadyAssociated, ReasonRecipeUserIDAlreadyLinked:
			return ReasonAccountInfoAlreadyAssociated, nil, nil
		}
		return StatusOK, user, nil
	}
	if should.ShouldRequireVerification && !lm.Verified {
		if d.EmailVerification != nil {
			if _, err := d.EmailVerification.FetchAndSetClaim(ctx, s); err != nil {
				return "", nil, err
			}
		}
		return "", nil, &recipe.InvalidClaimError{ClaimID: emailverification.ClaimKey, Message: "session user email is not verified"}
	}

	res, err := d.AccountLinking.Impl.CreatePrimaryUser(ctx, lm.RecipeUserID)
	if err != nil {
		return "", nil, err
	}
	switch res.Status {
	case ReasonAccountInfoAlreadyAssociated, ReasonRecipeUserIDAlreadyLinked:
		return ReasonAccountInfoAlreadyAssociated, nil, nil
	}
	if res.User == nil {
		return "", nil, oops.With("status", res.Status).Errorf("create primary user returned no user")
	}
	return StatusOK, res.User, nil
}

// PreAuthInput describes a sign in or sign up about to happen.
type PreAuthInput struct {
	AuthenticatingAccountInfo recipe.AccountInfoWithRecipeID
	// AuthenticatingUser is the existing user for a sign in.
	AuthenticatingUser *recipe.User
	TenantID           string
	FactorIDs          []string
	IsSignUp           bool
	IsVerified         bool
	// SignInVerifiesLoginMethod is set when completing the sign in proves
	// control of the email or phone number.
	SignInVerifiesLoginMethod   bool
	SkipSessionUserUpdateInCore bool
	Session                     session.Session
	TryLinking                  TryLinking
}

// PreAuthResult is OK with the factors that may be used, or a denial.
type PreAuthResult struct {
	Status         string
	Reason         string
	ValidFactorIDs []string
	IsFirstFactor  bool
}

// Denial returns the result as a Denial.
func (r PreAuthResult) Denial() Denial { return Denial{Status: r.Status, Reason: r.Reason} }

// PreAuthChecks runs before any core call that creates or signs in a user.
func (d *Deps) PreAuthChecks(ctx context.Context, in PreAuthInput) (PreAuthResult, error) {
	if len(in.FactorIDs) == 0 {
		return PreAuthResult{}, oops.Errorf("pre auth checks need at least one factor id")
	}
	authType, err := d.CheckAuthTypeAndLinkingStatus(ctx, in.Session, in.TryLinking,
		in.AuthenticatingAccountInfo, in.AuthenticatingUser, in.SkipSessionUserUpdateInCore)
	if err != nil {
		return PreAuthResult{}, err
	}
	if authType.Status != StatusOK {
		return PreAuthResult{Status: authType.Status, Reason: authType.Reason}, nil
	}

	var valid []string
	if authType.IsFirstFactor {
		available := d.availableFirstFactors()
		for _, f := range in.FactorIDs {
			ok, err := d.Multitenancy.IsFirstFactorEnabled(ctx, in.TenantID, f, available)
			if err != nil {
				return PreAuthResult{}, err
			}
			if ok {
				valid = append(valid, f)
			}
		}
		if len(valid) == 0 {
			return PreAuthResult{}, recipe.NewBadInputError("A valid session is required to authenticate with secondary factors")
		}
	} else {
		valid = in.FactorIDs
		if in.IsSignUp && !authType.InputUserAlreadyLinkedToSessionUser {
			if err := d.assertAllowedToSetupFactor(ctx, in.Session, in.TenantID, valid); err != nil {
				return PreAuthResult{}, err
			}
		}
	}

	if in.IsSignUp {
		verifiedInSessionUser := false
		if !authType.IsFirstFactor {
			for _, lm := range authType.SessionUser.LoginMethods {
				if lm.Verified && (lm.HasSameEmailAs(in.AuthenticatingAccountInfo.Email) ||
					lm.HasSamePhoneNumberAs(in.AuthenticatingAccountInfo.PhoneNumber)) {
					verifiedInSessionUser = true
					break
				}
			}
		}
		allowed, err := d.AccountLinking.IsSignUpAllowed(ctx, in.TenantID, in.AuthenticatingAccountInfo,
			in.IsVerified || in.SignInVerifiesLoginMethod || verifiedInSessionUser, in.Session)
		if err != nil {
			return PreAuthResult{}, err
		}
		if !allowed {
			d.logger().DebugContext(ctx, "sign up denied", "tenant_id", in.TenantID)
			return PreAuthResult{Status: StatusSignUpNotAllowed}, nil
		}
	} else if in.AuthenticatingUser != nil {
		lm := findLoginMethod(in.AuthenticatingUser, in.AuthenticatingAccountInfo.RecipeID, in.AuthenticatingAccountInfo.AccountInfo)
		if lm == nil {
			return PreAuthResult{}, oops.With("user_id", in.AuthenticatingUser.ID).Errorf("authenticating user has no matching login method")
		}
		allowed, err := d.AccountLinking.IsSignInAllowed(ctx, in.TenantID, in.AuthenticatingUser, lm.RecipeUserID,
			in.SignInVerifiesLoginMethod, in.Session)
		if err != nil {
			return PreAuthResult{}, err
		}
		if !allowed {
			d.logger().DebugContext(ctx, "sign in denied", "tenant_id", in.TenantID, "user_id", in.AuthenticatingUser.ID)
			return PreAuthResult{Status: StatusSignInNotAllowed}, nil
		}
	}

	return PreAuthResult{Status: StatusOK, ValidFactorIDs: valid, IsFirstFactor: authType.IsFirstFactor}, nil
}

// assertAllowedToSetupFactor lets a session add a new secondary factor once
// the tenant's requirements are met, or when the factor is itself required.
func (d *Deps) assertAllowedToSetupFactor(ctx context.Context, s session.Session, tenantID string, factorIDs []string) error {
	claim := session.ReadMFAClaim(s)
	if claim.V {
		return nil
	}
	required, err := d.Multitenancy.RequiredSecondaryFactors(ctx, tenantID)
	if err != nil {
		return err
	}
	for _, f := range factorIDs {
		if slices.Contains(required, f) {
			return nil
		}
	}
	return &recipe.InvalidClaimError{ClaimID: session.MFAClaimKey, Message: "factor setup not allowed"}
}

// PostAuthInput describes a completed sign in or sign up.
type PostAuthInput struct {
	AuthenticatedUser *recipe.User
	RecipeUserID      recipe.RecipeUserID
	TenantID          string
	FactorID          string
	IsSignUp          bool
	Session           session.Session
	W                 http.ResponseWriter
	Req               *http.Request
}

// PostAuthResult carries the session the response should use.
type PostAuthResult struct {
	Status  string
	Session session.Session
	User    *recipe.User
}

// PostAuthChecks creates a new session, or keeps the existing one when the
// authenticated login method was linked to its user, and marks FactorID as
// completed on it.
func (d *Deps) PostAuthChecks(ctx context.Context, in PostAuthInput) (PostAuthResult, error) {
	lm := in.AuthenticatedUser.LoginMethod(in.RecipeUserID)
	if lm == nil || !lm.InTenant(in.TenantID) {
		return PostAuthResult{Status: StatusSignInNotAllowed}, nil
	}

	s := in.Session
	linked := false
	if s != nil {
		linked = in.AuthenticatedUser.LoginMethod(s.RecipeUserID()) != nil
	}
	if !linked {
		var err error
		s, err = d.Session.CreateNewSession(ctx, in.W, in.Req, in.TenantID, in.RecipeUserID, in.AuthenticatedUser.ID, nil)
		if err != nil {
			return PostAuthResult{}, err
		}
	}

	required, err := d.Multitenancy.RequiredSecondaryFactors(ctx, in.TenantID)
	if err != nil {
		return PostAuthResult{}, err
	}
	if err := session.MarkFactorCompleted(ctx, s, in.FactorID, time.Now().Unix(), required); err != nil {
		return PostAuthResult{}, err
	}
	return PostAuthResult{Status: StatusOK, Session: s, User: in.AuthenticatedUser}, nil
}

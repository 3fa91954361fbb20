package authutils

import (
	"context"

	"github.com/samber/oops"

	"github.com/panyam/authrecipes/accountlinking"
	"github.com/panyam/authrecipes/multitenancy"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
)

// maxLinkingRetries bounds the retry loops that re-read users after a
// concurrent change in the core.
const maxLinkingRetries = 10

// AuthenticatingUser is an existing user and the login method a sign in
// matched.
type AuthenticatingUser struct {
	User        *recipe.User
	LoginMethod *recipe.LoginMethod
}

// AuthenticatingUserInput describes the account a sign in is for.
type AuthenticatingUserInput struct {
	RecipeID    string
	AccountInfo recipe.AccountInfo
	TenantID    string
	Session     session.Session
	// CheckCredentialsOnTenant verifies the credentials against a tenant the
	// login method already belongs to, before it is added to TenantID.
	CheckCredentialsOnTenant func(ctx context.Context, tenantID string) (bool, error)
}

// GetAuthenticatingUserAndAddToCurrentTenantIfRequired finds the user a sign
// in with the given account info would authenticate. The session user is
// preferred. A login method found on another tenant is associated with
// TenantID once its credentials check out there. It returns nil when no
// such user exists.
func (d *Deps) GetAuthenticatingUserAndAddToCurrentTenantIfRequired(ctx context.Context, in AuthenticatingUserInput) (*AuthenticatingUser, error) {
	for range maxLinkingRetries {
		var user *recipe.User
		var lm *recipe.LoginMethod

		if in.Session != nil {
			sessionUser, err := d.AccountLinking.Impl.GetUser(ctx, in.Session.UserID())
			if err != nil {
				return nil, err
			}
			if found := findLoginMethod(sessionUser, in.RecipeID, in.AccountInfo); found != nil {
				user, lm = sessionUser, found
			}
		}

		if user == nil {
			users, err := d.AccountLinking.Impl.ListUsersByAccountInfo(ctx, in.TenantID, in.AccountInfo, true)
			if err != nil {
				return nil, err
			}
			for i := range users {
				found := findLoginMethod(&users[i], in.RecipeID, in.AccountInfo)
				if found == nil {
					continue
				}
				if user != nil {
					return nil, oops.Code(accountlinking.CodeMultipleUsers).
						With("recipe_id", in.RecipeID).
						Errorf("more than one user has a matching login method")
				}
				user, lm = &users[i], found
			}
		}
		if user == nil {
			return nil, nil
		}
		if lm.InTenant(in.TenantID) {
			return &AuthenticatingUser{User: user, LoginMethod: lm}, nil
		}

		if in.CheckCredentialsOnTenant == nil || len(lm.TenantIDs) == 0 {
			return nil, nil
		}
		ok, err := in.CheckCredentialsOnTenant(ctx, lm.TenantIDs[0])
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		res, err := d.Multitenancy.AssociateUserToTenant(ctx, in.TenantID, lm.RecipeUserID)
		if err != nil {
			return nil, err
		}
		switch res.Status {
		case StatusOK, multitenancy.StatusUnknownUserID:
			d.logger().DebugContext(ctx, "re-reading user after tenant association",
				"tenant_id", in.TenantID, "status", res.Status)
			continue
		case multitenancy.StatusEmailAlreadyExists, multitenancy.StatusPhoneNumberAlreadyExists,
			multitenancy.StatusThirdPartyAlreadyExists:
			return nil, nil
		}
		return nil, oops.With("status", res.Status).With("tenant_id", in.TenantID).
			Errorf("could not associate user with tenant")
	}
	return nil, oops.Errorf("authenticating user kept changing, giving up after %d attempts", maxLinkingRetries)
}

// LinkResult is OK with the resulting user, or a linking denial.
type LinkResult struct {
	Status string
	Reason string
	User   *recipe.User
}

// Denial returns the result as a Denial.
func (r LinkResult) Denial() Denial { return Denial{Status: r.Status, Reason: r.Reason} }

// LinkToSessionIfProvidedElseCreatePrimaryUserIDOrLinkByAccountInfo links
// the login method of inputUser to the session user when the sign in is a
// secondary factor. Otherwise it falls back to linking by account info.
func (d *Deps) LinkToSessionIfProvidedElseCreatePrimaryUserIDOrLinkByAccountInfo(ctx context.Context, tenantID string, inputUser *recipe.User, recipeUserID recipe.RecipeUserID, s session.Session, try TryLinking) (LinkResult, error) {
	for range maxLinkingRetries {
		lm := inputUser.LoginMethod(recipeUserID)
		if lm == nil {
			return LinkResult{}, oops.With("recipe_user_id", recipeUserID).Errorf("login method not found on input user")
		}

		if s == nil || try == TryLinkingNever {
			return d.linkByAccountInfo(ctx, tenantID, recipeUserID, s)
		}

		info := lm.AccountInfo()
		info.RecipeUserID = recipeUserID
		authType, err := d.CheckAuthTypeAndLinkingStatus(ctx, s, try, info, inputUser, false)
		if err != nil {
			return LinkResult{}, err
		}
		if authType.Status != StatusOK {
			return LinkResult{Status: authType.Status, Reason: authType.Reason}, nil
		}
		if authType.IsFirstFactor {
			return d.linkByAccountInfo(ctx, tenantID, recipeUserID, s)
		}
		if authType.InputUserAlreadyLinkedToSessionUser {
			return LinkResult{Status: StatusOK, User: authType.SessionUser}, nil
		}

		if authType.LinkingToSessionUserRequiresVerification && !accountlinking.IsVerifiedForLinking(*lm) {
			return LinkResult{Status: StatusLinkingFailed, Reason: ReasonEmailVerificationRequired}, nil
		}
		res, err := d.AccountLinking.Impl.LinkAccounts(ctx, recipeUserID, authType.SessionUser.ID)
		if err != nil {
			return LinkResult{}, err
		}
		switch res.Status {
		case accountlinking.StatusOK:
			user := res.User
			if user == nil {
				if user, err = d.AccountLinking.Impl.GetUser(ctx, authType.SessionUser.ID); err != nil {
					return LinkResult{}, err
				}
			}
			d.logger().DebugContext(ctx, "linked login method to session user",
				"recipe_user_id", recipeUserID, "primary_user_id", authType.SessionUser.ID)
			return LinkResult{Status: StatusOK, User: user}, nil
		case accountlinking.StatusRecipeUserIDAlreadyLinked, accountlinking.StatusAccountInfoAlreadyAssociated:
			return LinkResult{Status: StatusLinkingFailed, Reason: res.Status}, nil
		case accountlinking.StatusInputUserIsNotAPrimaryUser:
			d.logger().DebugContext(ctx, "session user is no longer primary, retrying", "user_id", authType.SessionUser.ID)
			continue
		}
		return LinkResult{}, oops.With("status", res.Status).Errorf("unexpected link accounts status")
	}
	return LinkResult{}, oops.Errorf("linking to session user kept failing, giving up after %d attempts", maxLinkingRetries)
}

func (d *Deps) linkByAccountInfo(ctx context.Context, tenantID string, recipeUserID recipe.RecipeUserID, s session.Session) (LinkResult, error) {
	user, err := d.AccountLinking.CreatePrimaryUserIDOrLinkByAccountInfo(ctx, tenantID, recipeUserID, s)
	if err != nil {
		return LinkResult{}, err
	}
	return LinkResult{Status: StatusOK, User: user}, nil
}

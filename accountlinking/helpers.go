package accountlinking

import (
	"context"

	"github.com/samber/oops"

	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
)

// CodeMultipleUsers is attached when more than one primary user matches an
// account, which the core should never allow.
const CodeMultipleUsers = "MULTIPLE_USERS_FOR_ACCOUNT_INFO"

func onePrimary(users []recipe.User, info recipe.AccountInfo) (*recipe.User, error) {
	var primary *recipe.User
	for i := range users {
		if !users[i].IsPrimaryUser {
			continue
		}
		if primary != nil {
			return nil, oops.Code(CodeMultipleUsers).
				With("email", info.Email).
				With("phone_number", info.PhoneNumber).
				Errorf("found more than one primary user for the same account info")
		}
		primary = &users[i]
	}
	return primary, nil
}

// IsSignUpAllowed reports whether a new login method with newUser's account
// info may be created on tenantID. It is denied only when it would be linked
// to, or could later take over, an account whose matching email has not
// been verified.
func (r *Recipe) IsSignUpAllowed(ctx context.Context, tenantID string, newUser recipe.AccountInfoWithRecipeID, isVerified bool, s session.Session) (bool, error) {
	return r.isSignInUpAllowed(ctx, tenantID, newUser, isVerified, s, "")
}

// IsSignInAllowed is IsSignUpAllowed for an existing login method of user.
// Other login methods of user itself never block the sign in.
// signInVerifiesLoginMethod is set by recipes whose sign in proves control of
// the email, such as passwordless.
func (r *Recipe) IsSignInAllowed(ctx context.Context, tenantID string, user *recipe.User, recipeUserID recipe.RecipeUserID, signInVerifiesLoginMethod bool, s session.Session) (bool, error) {
	lm := user.LoginMethod(recipeUserID)
	if lm == nil {
		return false, oops.With("recipe_user_id", recipeUserID).Errorf("login method not found on user")
	}
	if user.IsPrimaryUser {
		return true, nil
	}
	info := lm.AccountInfo()
	info.RecipeUserID = recipeUserID
	return r.isSignInUpAllowed(ctx, tenantID, info, signInVerifiesLoginMethod || IsVerifiedForLinking(*lm), s, user.ID)
}

func (r *Recipe) isSignInUpAllowed(ctx context.Context, tenantID string, info recipe.AccountInfoWithRecipeID, isVerified bool, s session.Session, exceptUserID string) (bool, error) {
	users, err := r.Impl.ListUsersByAccountInfo(ctx, tenantID, info.AccountInfo, true)
	if err != nil {
		return false, err
	}
	others := users[:0:0]
	for _, u := range users {
		if u.ID != exceptUserID {
			others = append(others, u)
		}
	}
	if len(others) == 0 {
		return true, nil
	}

	primary, err := onePrimary(others, info.AccountInfo)
	if err != nil {
		return false, err
	}
	should, err := r.ShouldDoAutomaticAccountLinking(ctx, info, primary, s, tenantID)
	if err != nil {
		return false, err
	}
	if !should.ShouldAutomaticallyLink || !should.ShouldRequireVerification {
		return true, nil
	}

	if primary != nil {
		if !isVerified {
			r.logger.DebugContext(ctx, "sign in/up denied: unverified account would link to primary user",
				"tenant_id", tenantID, "primary_user_id", primary.ID)
		}
		return isVerified, nil
	}

	for _, u := range others {
		for _, lm := range u.LoginMethods {
			if lm.HasSameEmailAs(info.Email) && !lm.Verified {
				r.logger.DebugContext(ctx, "sign in/up denied: matching account has unverified email",
					"tenant_id", tenantID, "user_id", u.ID)
				return false, nil
			}
		}
	}
	return true, nil
}

// IsEmailChangeAllowed reports whether user's login method may change its
// email to newEmail.
func (r *Recipe) IsEmailChangeAllowed(ctx context.Context, tenantID string, user *recipe.User, newEmail string, isVerified bool, s session.Session) (bool, error) {
	users, err := r.Impl.ListUsersByAccountInfo(ctx, tenantID, recipe.AccountInfo{Email: newEmail}, false)
	if err != nil {
		return false, err
	}
	primary, err := onePrimary(users, recipe.AccountInfo{Email: newEmail})
	if err != nil {
		return false, err
	}

	if user.IsPrimaryUser {
		return primary == nil || primary.ID == user.ID, nil
	}
	if isVerified || primary == nil {
		return true, nil
	}
	should, err := r.ShouldDoAutomaticAccountLinking(ctx,
		recipe.AccountInfoWithRecipeID{AccountInfo: recipe.AccountInfo{Email: newEmail}}, primary, s, tenantID)
	if err != nil {
		return false, err
	}
	return !should.ShouldAutomaticallyLink || !should.ShouldRequireVerification, nil
}

// GetPrimaryUserThatCanBeLinkedToRecipeUserID returns the primary user on
// tenantID sharing account info with the login method, or nil.
func (r *Recipe) GetPrimaryUserThatCanBeLinkedToRecipeUserID(ctx context.Context, tenantID string, recipeUserID recipe.RecipeUserID) (*recipe.User, error) {
	user, err := r.Impl.GetUser(ctx, recipeUserID.String())
	if err != nil || user == nil {
		return nil, err
	}
	if user.IsPrimaryUser {
		return user, nil
	}
	lm := user.LoginMethod(recipeUserID)
	if lm == nil {
		return nil, nil
	}
	users, err := r.Impl.ListUsersByAccountInfo(ctx, tenantID, lm.AccountInfo().AccountInfo, true)
	if err != nil {
		return nil, err
	}
	return onePrimary(users, lm.AccountInfo().AccountInfo)
}

// CreatePrimaryUserIDOrLinkByAccountInfo makes the login method a primary
// user or links it to the matching primary user, when the app's linking
// decision allows it. It returns the resulting user, which is the login
// method's own user when nothing changed.
func (r *Recipe) CreatePrimaryUserIDOrLinkByAccountInfo(ctx context.Context, tenantID string, recipeUserID recipe.RecipeUserID, s session.Session) (*recipe.User, error) {
	user, err := r.Impl.GetUser(ctx, recipeUserID.String())
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, oops.With("recipe_user_id", recipeUserID).Errorf("user disappeared while linking")
	}
	lm := user.LoginMethod(recipeUserID)
	if lm == nil {
		return user, nil
	}
	info := lm.AccountInfo()
	info.RecipeUserID = recipeUserID

	primary, err := r.GetPrimaryUserThatCanBeLinkedToRecipeUserID(ctx, tenantID, recipeUserID)
	if err != nil {
		return nil, err
	}

	if primary == nil {
		should, err := r.ShouldDoAutomaticAccountLinking(ctx, info, nil, s, tenantID)
		if err != nil {
			return nil, err
		}
		if !should.ShouldAutomaticallyLink || (should.ShouldRequireVerification && !IsVerifiedForLinking(*lm)) {
			return user, nil
		}
		res, err := r.Impl.CreatePrimaryUser(ctx, recipeUserID)
		if err != nil {
			return nil, err
		}
		if res.Status == StatusOK && res.User != nil {
			return res.User, nil
		}
		r.logger.DebugContext(ctx, "could not create primary user", "status", res.Status, "recipe_user_id", recipeUserID)
		return user, nil
	}

	if primary.ID == user.ID {
		return user, nil
	}
	should, err := r.ShouldDoAutomaticAccountLinking(ctx, info, primary, s, tenantID)
	if err != nil {
		return nil, err
	}
	if !should.ShouldAutomaticallyLink || (should.ShouldRequireVerification && !IsVerifiedForLinking(*lm)) {
		return user, nil
	}
	res, err := r.Impl.LinkAccounts(ctx, recipeUserID, primary.ID)
	if err != nil {
		return nil, err
	}
	if res.Status == StatusOK && res.User != nil {
		return res.User, nil
	}
	r.logger.DebugContext(ctx, "could not link accounts", "status", res.Status,
		"recipe_user_id", recipeUserID, "primary_user_id", primary.ID)
	return user, nil
}

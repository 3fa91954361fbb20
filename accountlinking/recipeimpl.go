package accountlinking

import (
	"context"
	"net/url"

	"github.com/panyam/authrecipes/querier"
	"github.com/panyam/authrecipes/recipe"
)

// Statuses returned by the linking operations besides OK.
const (
	StatusOK                           = "OK"
	StatusRecipeUserIDAlreadyLinked    = "RECIPE_USER_ID_ALREADY_LINKED_WITH_ANOTHER_PRIMARY_USER_ID_ERROR"
	StatusAccountInfoAlreadyAssociated = "ACCOUNT_INFO_ALREADY_ASSOCIATED_WITH_ANOTHER_PRIMARY_USER_ID_ERROR"
	StatusInputUserIsNotAPrimaryUser   = "INPUT_USER_IS_NOT_A_PRIMARY_USER"
	StatusUnknownUserID                = "UNKNOWN_USER_ID_ERROR"
)

// Result is the outcome of a linking operation. Which fields are set depends
// on the operation and Status.
type Result struct {
	Status                 string       `json:"status"`
	PrimaryUserID          string       `json:"primaryUserId,omitempty"`
	Description            string       `json:"description,omitempty"`
	WasAlreadyAPrimaryUser bool         `json:"wasAlreadyAPrimaryUser,omitempty"`
	AccountsAlreadyLinked  bool         `json:"accountsAlreadyLinked,omitempty"`
	User                   *recipe.User `json:"user,omitempty"`
}

// RecipeInterface is the overridable set of linking operations.
type RecipeInterface struct {
	GetUser                func(ctx context.Context, userID string) (*recipe.User, error)
	ListUsersByAccountInfo func(ctx context.Context, tenantID string, info recipe.AccountInfo, doUnion bool) ([]recipe.User, error)
	CanCreatePrimaryUser   func(ctx context.Context, recipeUserID recipe.RecipeUserID) (Result, error)
	CreatePrimaryUser      func(ctx context.Context, recipeUserID recipe.RecipeUserID) (Result, error)
	CanLinkAccounts        func(ctx context.Context, recipeUserID recipe.RecipeUserID, primaryUserID string) (Result, error)
	LinkAccounts           func(ctx context.Context, recipeUserID recipe.RecipeUserID, primaryUserID string) (Result, error)
}

// NewRecipeImplementation returns the core backed implementation.
func NewRecipeImplementation(q *querier.Querier, cfg Config) RecipeInterface {
	checkStatus := func(path querier.Path, res Result, allowed ...string) (Result, error) {
		if res.Status == StatusOK {
			return res, nil
		}
		for _, s := range allowed {
			if res.Status == s {
				return res, nil
			}
		}
		return Result{}, querier.UnknownStatus(path, res.Status)
	}

	return RecipeInterface{
		GetUser: func(ctx context.Context, userID string) (*recipe.User, error) {
			path := querier.RootPath("/user/id")
			var resp struct {
				Status string       `json:"status"`
				User   *recipe.User `json:"user"`
			}
			if err := q.SendGetRequest(ctx, path, url.Values{"userId": {userID}}, &resp); err != nil {
				return nil, err
			}
			switch resp.Status {
			case StatusOK:
				return resp.User, nil
			case StatusUnknownUserID:
				return nil, nil
			}
			return nil, querier.UnknownStatus(path, resp.Status)
		},

		ListUsersByAccountInfo: func(ctx context.Context, tenantID string, info recipe.AccountInfo, doUnion bool) ([]recipe.User, error) {
			path := querier.TenantPath(tenantID, "/users/by-accountinfo")
			params := url.Values{}
			if info.Email != "" {
				params.Set("email", recipe.NormaliseEmail(info.Email))
			}
			if info.PhoneNumber != "" {
				params.Set("phoneNumber", info.PhoneNumber)
			}
			if info.ThirdParty != nil {
				params.Set("thirdPartyId", info.ThirdParty.ID)
				params.Set("thirdPartyUserId", info.ThirdParty.UserID)
			}
			if doUnion {
				params.Set("doUnionOfAccountInfo", "true")
			}
			var resp struct {
				Status string        `json:"status"`
				Users  []recipe.User `json:"users"`
			}
			if err := q.SendGetRequest(ctx, path, params, &resp); err != nil {
				return nil, err
			}
			if resp.Status != StatusOK {
				return nil, querier.UnknownStatus(path, resp.Status)
			}
			return resp.Users, nil
		},

		CanCreatePrimaryUser: func(ctx context.Context, recipeUserID recipe.RecipeUserID) (Result, error) {
			path := querier.RootPath("/recipe/accountlinking/user/primary/check")
			var res Result
			if err := q.SendGetRequest(ctx, path, url.Values{"recipeUserId": {recipeUserID.String()}}, &res); err != nil {
				return Result{}, err
			}
			return checkStatus(path, res, StatusRecipeUserIDAlreadyLinked, StatusAccountInfoAlreadyAssociated)
		},

		CreatePrimaryUser: func(ctx context.Context, recipeUserID recipe.RecipeUserID) (Result, error) {
			path := querier.RootPath("/recipe/accountlinking/user/primary")
			var res Result
			if err := q.SendPostRequest(ctx, path, map[string]any{"recipeUserId": recipeUserID}, &res); err != nil {
				return Result{}, err
			}
			return checkStatus(path, res, StatusRecipeUserIDAlreadyLinked, StatusAccountInfoAlreadyAssociated)
		},

		CanLinkAccounts: func(ctx context.Context, recipeUserID recipe.RecipeUserID, primaryUserID string) (Result, error) {
			path := querier.RootPath("/recipe/accountlinking/user/link/check")
			params := url.Values{"recipeUserId": {recipeUserID.String()}, "primaryUserId": {primaryUserID}}
			var res Result
			if err := q.SendGetRequest(ctx, path, params, &res); err != nil {
				return Result{}, err
			}
			return checkStatus(path, res, StatusRecipeUserIDAlreadyLinked,
				StatusAccountInfoAlreadyAssociated, StatusInputUserIsNotAPrimaryUser)
		},

		LinkAccounts: func(ctx context.Context, recipeUserID recipe.RecipeUserID, primaryUserID string) (Result, error) {
			path := querier.RootPath("/recipe/accountlinking/user/link")
			body := map[string]any{"recipeUserId": recipeUserID, "primaryUserId": primaryUserID}
			var res Result
			if err := q.SendPostRequest(ctx, path, body, &res); err != nil {
				return Result{}, err
			}
			res, err := checkStatus(path, res, StatusRecipeUserIDAlreadyLinked,
				StatusAccountInfoAlreadyAssociated, StatusInputUserIsNotAPrimaryUser)
			if err != nil {
				return Result{}, err
			}
			if res.Status == StatusOK && !res.AccountsAlreadyLinked && cfg.OnAccountLinked != nil && res.User != nil {
				if lm := res.User.LoginMethod(recipeUserID); lm != nil {
					cfg.OnAccountLinked(ctx, res.User, *lm)
				}
			}
			return res, nil
		},
	}
}

package accountlinking_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authrecipes/accountlinking"
	"github.com/panyam/authrecipes/internal/coretest"
	"github.com/panyam/authrecipes/internal/logging"
	"github.com/panyam/authrecipes/override"
	"github.com/panyam/authrecipes/querier"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
)

func alwaysLink(requireVerification bool) accountlinking.ShouldDoAutomaticAccountLinkingFunc {
	return func(context.Context, recipe.AccountInfoWithRecipeID, *recipe.User, session.Session, string) (accountlinking.ShouldLink, error) {
		return accountlinking.ShouldLink{ShouldAutomaticallyLink: true, ShouldRequireVerification: requireVerification}, nil
	}
}

func setup(t *testing.T, cfg accountlinking.Config) (*coretest.Server, *accountlinking.Recipe) {
	t.Helper()
	core := coretest.New(t)
	q, err := querier.New(querier.Config{ConnectionURI: core.URL})
	require.NoError(t, err)
	cfg.Logger = logging.Discard()
	al, err := accountlinking.New(q, cfg)
	require.NoError(t, err)
	return core, al
}

func emailInfo(recipeID, email string) recipe.AccountInfoWithRecipeID {
	return recipe.AccountInfoWithRecipeID{RecipeID: recipeID, AccountInfo: recipe.AccountInfo{Email: email}}
}

func TestNew_RejectsIncompleteOverride(t *testing.T) {
	core := coretest.New(t)
	q, err := querier.New(querier.Config{ConnectionURI: core.URL})
	require.NoError(t, err)

	_, err = accountlinking.New(q, accountlinking.Config{
		Override: func(original accountlinking.RecipeInterface, _ *override.Builder[accountlinking.RecipeInterface]) accountlinking.RecipeInterface {
			original.LinkAccounts = nil
			return original
		},
	})
	require.Error(t, err)
	assert.True(t, logging.HasCode(err, "CONFIG_INVALID"))
}

func TestGetUserAndList(t *testing.T) {
	core, al := setup(t, accountlinking.Config{})
	ctx := context.Background()
	id := core.AddUser(coretest.SeedUser{RecipeID: recipe.IDPasswordless, Email: "A@b.com"})

	u, err := al.Impl.GetUser(ctx, id.String())
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, []string{"A@b.com"}, u.Emails)

	missing, err := al.Impl.GetUser(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	users, err := al.Impl.ListUsersByAccountInfo(ctx, "public", recipe.AccountInfo{Email: "a@B.com "}, false)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, id.String(), users[0].ID)
}

func TestIsSignUpAllowed(t *testing.T) {
	ctx := context.Background()

	t.Run("no linking configured", func(t *testing.T) {
		core, al := setup(t, accountlinking.Config{})
		core.AddUser(coretest.SeedUser{RecipeID: recipe.IDEmailPassword, Email: "a@b.com"})
		ok, err := al.IsSignUpAllowed(ctx, "public", emailInfo(recipe.IDPasswordless, "a@b.com"), false, nil)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("no existing account", func(t *testing.T) {
		_, al := setup(t, accountlinking.Config{ShouldDoAutomaticAccountLinking: alwaysLink(true)})
		ok, err := al.IsSignUpAllowed(ctx, "public", emailInfo(recipe.IDPasswordless, "a@b.com"), false, nil)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("unverified matching account blocks", func(t *testing.T) {
		core, al := setup(t, accountlinking.Config{ShouldDoAutomaticAccountLinking: alwaysLink(true)})
		core.AddUser(coretest.SeedUser{RecipeID: recipe.IDEmailPassword, Email: "a@b.com"})
		ok, err := al.IsSignUpAllowed(ctx, "public", emailInfo(recipe.IDPasswordless, "a@b.com"), true, nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("verified matching account allows", func(t *testing.T) {
		core, al := setup(t, accountlinking.Config{ShouldDoAutomaticAccountLinking: alwaysLink(true)})
		core.AddUser(coretest.SeedUser{RecipeID: recipe.IDEmailPassword, Email: "a@b.com", Verified: true})
		ok, err := al.IsSignUpAllowed(ctx, "public", emailInfo(recipe.IDPasswordless, "a@b.com"), false, nil)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("primary user needs verified newcomer", func(t *testing.T) {
		core, al := setup(t, accountlinking.Config{ShouldDoAutomaticAccountLinking: alwaysLink(true)})
		id := core.AddUser(coretest.SeedUser{RecipeID: recipe.IDThirdParty, Email: "a@b.com", Verified: true,
			ThirdParty: &recipe.ThirdPartyInfo{ID: "google", UserID: "g1"}})
		core.MakePrimary(id)

		ok, err := al.IsSignUpAllowed(ctx, "public", emailInfo(recipe.IDEmailPassword, "a@b.com"), false, nil)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = al.IsSignUpAllowed(ctx, "public", emailInfo(recipe.IDPasswordless, "a@b.com"), true, nil)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestIsSignInAllowed_IgnoresOwnLoginMethods(t *testing.T) {
	core, al := setup(t, accountlinking.Config{ShouldDoAutomaticAccountLinking: alwaysLink(true)})
	ctx := context.Background()
	id := core.AddUser(coretest.SeedUser{RecipeID: recipe.IDEmailPassword, Email: "a@b.com"})

	ok, err := al.IsSignInAllowed(ctx, "public", core.User(id.String()), id, false, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	core.AddUser(coretest.SeedUser{RecipeID: recipe.IDPasswordless, Email: "a@b.com"})
	ok, err = al.IsSignInAllowed(ctx, "public", core.User(id.String()), id, false, nil)
	require.NoError(t, err)
	assert.False(t, ok, "another unverified account shares the email")
}

func TestIsEmailChangeAllowed(t *testing.T) {
	core, al := setup(t, accountlinking.Config{ShouldDoAutomaticAccountLinking: alwaysLink(true)})
	ctx := context.Background()
	primaryID := core.AddUser(coretest.SeedUser{RecipeID: recipe.IDEmailPassword, Email: "taken@b.com", Verified: true})
	core.MakePrimary(primaryID)
	otherID := core.AddUser(coretest.SeedUser{RecipeID: recipe.IDEmailPassword, Email: "me@b.com"})
	core.MakePrimary(otherID)
	plainID := core.AddUser(coretest.SeedUser{RecipeID: recipe.IDPasswordless, Email: "plain@b.com"})

	ok, err := al.IsEmailChangeAllowed(ctx, "public", core.User(otherID.String()), "taken@b.com", true, nil)
	require.NoError(t, err)
	assert.False(t, ok, "primary users cannot take another primary user's email")

	ok, err = al.IsEmailChangeAllowed(ctx, "public", core.User(plainID.String()), "taken@b.com", false, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = al.IsEmailChangeAllowed(ctx, "public", core.User(plainID.String()), "taken@b.com", true, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = al.IsEmailChangeAllowed(ctx, "public", core.User(plainID.String()), "free@b.com", false, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreatePrimaryUserIDOrLinkByAccountInfo(t *testing.T) {
	ctx := context.Background()

	t.Run("becomes primary", func(t *testing.T) {
		core, al := setup(t, accountlinking.Config{ShouldDoAutomaticAccountLinking: alwaysLink(false)})
		id := core.AddUser(coretest.SeedUser{RecipeID: recipe.IDPasswordless, PhoneNumber: "+14155550100"})
		u, err := al.CreatePrimaryUserIDOrLinkByAccountInfo(ctx, "public", id, nil)
		require.NoError(t, err)
		assert.True(t, u.IsPrimaryUser)
		assert.Equal(t, id.String(), u.ID)
	})

	t.Run("links to existing primary and notifies", func(t *testing.T) {
		var linked []recipe.RecipeUserID
		core, al := setup(t, accountlinking.Config{
			ShouldDoAutomaticAccountLinking: alwaysLink(true),
			OnAccountLinked: func(_ context.Context, _ *recipe.User, lm recipe.LoginMethod) {
				linked = append(linked, lm.RecipeUserID)
			},
		})
		primaryID := core.AddUser(coretest.SeedUser{RecipeID: recipe.IDEmailPassword, Email: "a@b.com", Verified: true})
		core.MakePrimary(primaryID)
		id := core.AddUser(coretest.SeedUser{RecipeID: recipe.IDPasswordless, Email: "a@b.com", Verified: true})

		u, err := al.CreatePrimaryUserIDOrLinkByAccountInfo(ctx, "public", id, nil)
		require.NoError(t, err)
		assert.Equal(t, primaryID.String(), u.ID)
		assert.Len(t, u.LoginMethods, 2)
		assert.Equal(t, []recipe.RecipeUserID{id}, linked)
	})

	t.Run("unverified stays separate", func(t *testing.T) {
		core, al := setup(t, accountlinking.Config{ShouldDoAutomaticAccountLinking: alwaysLink(true)})
		primaryID := core.AddUser(coretest.SeedUser{RecipeID: recipe.IDEmailPassword, Email: "a@b.com", Verified: true})
		core.MakePrimary(primaryID)
		id := core.AddUser(coretest.SeedUser{RecipeID: recipe.IDThirdParty, Email: "a@b.com",
			ThirdParty: &recipe.ThirdPartyInfo{ID: "github", UserID: "1"}})

		u, err := al.CreatePrimaryUserIDOrLinkByAccountInfo(ctx, "public", id, nil)
		require.NoError(t, err)
		assert.Equal(t, id.String(), u.ID)
		assert.False(t, u.IsPrimaryUser)
	})

	t.Run("linking disabled", func(t *testing.T) {
		core, al := setup(t, accountlinking.Config{})
		id := core.AddUser(coretest.SeedUser{RecipeID: recipe.IDPasswordless, Email: "a@b.com"})
		u, err := al.CreatePrimaryUserIDOrLinkByAccountInfo(ctx, "public", id, nil)
		require.NoError(t, err)
		assert.False(t, u.IsPrimaryUser)
	})
}

func TestGetPrimaryUserThatCanBeLinked_MultiplePrimariesIsFatal(t *testing.T) {
	core, al := setup(t, accountlinking.Config{})
	ctx := context.Background()
	a := core.AddUser(coretest.SeedUser{RecipeID: recipe.IDEmailPassword, Email: "a@b.com"})
	core.MakePrimary(a)
	b := core.AddUser(coretest.SeedUser{RecipeID: recipe.IDPasswordless, PhoneNumber: "+14155550100"})
	core.MakePrimary(b)
	c := core.AddUser(coretest.SeedUser{RecipeID: recipe.IDPasswordless, Email: "a@b.com"})

	p, err := al.GetPrimaryUserThatCanBeLinkedToRecipeUserID(ctx, "public", c)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, a.String(), p.ID)

	d := core.AddUser(coretest.SeedUser{RecipeID: recipe.IDThirdParty, Email: "a@b.com",
		ThirdParty: &recipe.ThirdPartyInfo{ID: "x", UserID: "1"}})
	core.Respond("GET", "/users/by-accountinfo", func(map[string]any, map[string][]string) (any, bool) {
		return map[string]any{"status": "OK", "users": []*recipe.User{core.User(a.String()), core.User(b.String())}}, true
	})
	_, err = al.GetPrimaryUserThatCanBeLinkedToRecipeUserID(ctx, "public", d)
	require.Error(t, err)
	assert.True(t, logging.HasCode(err, accountlinking.CodeMultipleUsers))
}
